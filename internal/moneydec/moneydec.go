// Package moneydec centralizes the fixed-point decimal rules the bribe
// and reward engines depend on: every monetary value carries 7
// fractional digits, and the rounding direction is always explicit.
package moneydec

import (
	"time"

	"github.com/shopspring/decimal"
)

// Scale is the number of fractional digits Stellar amounts carry.
const Scale = 7

// Zero is the canonical zero amount at the engine's scale.
var Zero = decimal.Zero

// RoundDown truncates d to Scale fractional digits toward zero. Used for
// payout amounts and daily bribe amounts.
func RoundDown(d decimal.Decimal) decimal.Decimal {
	return d.Truncate(Scale)
}

// RoundUp rounds d to Scale fractional digits away from zero. Used for
// the dust-voter threshold.
func RoundUp(d decimal.Decimal) decimal.Decimal {
	truncated := d.Truncate(Scale)
	if truncated.Equal(d) {
		return truncated
	}
	step := decimal.New(1, -Scale)
	if d.IsNegative() {
		return truncated.Sub(step)
	}
	return truncated.Add(step)
}

// EpochStart computes the Monday-00:00:00-UTC start of the epoch
// strictly following t, per the Epoch Rule: start_at = (t + (8 -
// isoweekday(t)) days).truncate(day).
func EpochStart(t time.Time) time.Time {
	t = t.UTC()
	isoWeekday := int(t.Weekday())
	if isoWeekday == 0 {
		isoWeekday = 7
	}
	shifted := t.AddDate(0, 0, 8-isoWeekday)
	return time.Date(shifted.Year(), shifted.Month(), shifted.Day(), 0, 0, 0, 0, time.UTC)
}

// EpochWindow returns the (start_at, stop_at) pair for the epoch
// strictly following t, with stop_at = start_at + duration.
func EpochWindow(t time.Time, duration time.Duration) (time.Time, time.Time) {
	start := EpochStart(t)
	return start, start.Add(duration)
}

// DefaultDuration is the 7-day epoch length.
const DefaultDuration = 7 * 24 * time.Hour
