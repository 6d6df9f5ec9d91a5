package ledger

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFirstFailureCode(t *testing.T) {
	t.Run("first non-success operation code", func(t *testing.T) {
		err := &ResultCodeError{Codes: ResultCodes{
			Transaction: "tx_failed",
			Operations:  []string{"op_success", "op_underfunded", "op_success"},
		}}
		assert.Equal(t, "op_underfunded", err.FirstFailureCode())
	})

	t.Run("falls back to transaction code with no operation codes", func(t *testing.T) {
		err := &ResultCodeError{Codes: ResultCodes{Transaction: "tx_bad_seq"}}
		assert.Equal(t, "tx_bad_seq", err.FirstFailureCode())
	})
}

func TestIsSafeToRetry(t *testing.T) {
	assert.True(t, IsSafeToRetry(&TimeoutPendingError{StatusCode: 504}))
	assert.True(t, IsSafeToRetry(&TimeoutPendingError{StatusCode: 522}))
	assert.False(t, IsSafeToRetry(&TimeoutPendingError{StatusCode: 500}))

	assert.True(t, IsSafeToRetry(&ResultCodeError{Codes: ResultCodes{Transaction: "tx_bad_seq"}}))
	assert.True(t, IsSafeToRetry(&ResultCodeError{Codes: ResultCodes{Transaction: "tx_bad_auth"}}))
	assert.False(t, IsSafeToRetry(&ResultCodeError{Codes: ResultCodes{Transaction: "tx_failed"}}))

	assert.False(t, IsSafeToRetry(&RateLimitedError{RetryAfterSeconds: 5}))
}
