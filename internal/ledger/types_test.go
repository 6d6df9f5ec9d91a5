package ledger

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestIsNotUnconditional(t *testing.T) {
	rejectAll := Predicate{Not: &Predicate{Unconditional: true}}
	assert.True(t, rejectAll.IsNotUnconditional())

	unconditional := Predicate{Unconditional: true}
	assert.False(t, unconditional.IsNotUnconditional())

	abs := time.Now().Add(time.Hour)
	notBeforeAbs := Predicate{Not: &Predicate{AbsBefore: &abs}}
	assert.False(t, notBeforeAbs.IsNotUnconditional())
}

func TestNotBeforeAbsoluteTime(t *testing.T) {
	deadline := time.Now().Add(24 * time.Hour).UTC()

	t.Run("matches not(before_absolute_time)", func(t *testing.T) {
		p := Predicate{Not: &Predicate{AbsBefore: &deadline}}
		got, ok := p.NotBeforeAbsoluteTime()
		assert.True(t, ok)
		assert.True(t, deadline.Equal(got))
	})

	t.Run("rejects other shapes", func(t *testing.T) {
		_, ok := Predicate{Unconditional: true}.NotBeforeAbsoluteTime()
		assert.False(t, ok)

		_, ok = Predicate{Not: &Predicate{Unconditional: true}}.NotBeforeAbsoluteTime()
		assert.False(t, ok)
	})
}
