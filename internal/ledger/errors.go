package ledger

import (
	"errors"
	"fmt"
)

// ResultCodes mirrors Horizon's extras.result_codes block on a failed
// submission: a transaction-level code and, when the transaction had
// multiple operations, one code per operation.
type ResultCodes struct {
	Transaction string
	Operations  []string
}

// TransientError wraps a transport-level failure (connection reset,
// DNS, context deadline). IsSafeToRetry does not treat it as safe to
// retry; only the timeout and sequence/auth cases listed there are.
type TransientError struct {
	Op  string
	Err error
}

func (e *TransientError) Error() string { return fmt.Sprintf("ledger: transient error in %s: %v", e.Op, e.Err) }
func (e *TransientError) Unwrap() error { return e.Err }

// RateLimitedError indicates the ledger API asked the caller to back
// off (HTTP 429).
type RateLimitedError struct {
	RetryAfterSeconds int
}

func (e *RateLimitedError) Error() string {
	return fmt.Sprintf("ledger: rate limited, retry after %ds", e.RetryAfterSeconds)
}

// TimeoutPendingError covers the 502/504/522 family: the submission may
// or may not have reached consensus and must be resolved later by
// hash lookup rather than resubmitted blindly.
type TimeoutPendingError struct {
	StatusCode int
}

func (e *TimeoutPendingError) Error() string {
	return fmt.Sprintf("ledger: timeout-pending response (http %d)", e.StatusCode)
}

// ResultCodeError wraps a submission that Horizon rejected with a
// concrete transaction/operation result code.
type ResultCodeError struct {
	StatusCode int
	Codes      ResultCodes
}

func (e *ResultCodeError) Error() string {
	if len(e.Codes.Operations) > 0 {
		return fmt.Sprintf("ledger: submission failed, operation codes=%v", e.Codes.Operations)
	}
	return fmt.Sprintf("ledger: submission failed, transaction code=%s", e.Codes.Transaction)
}

// FirstFailureCode returns the first operation result code that is not
// "op_success", falling back to the transaction-level code, matching
// spec.md §4.3's "categorize by the first non-success operation code".
func (e *ResultCodeError) FirstFailureCode() string {
	for _, code := range e.Codes.Operations {
		if code != "op_success" {
			return code
		}
	}
	return e.Codes.Transaction
}

// IsSafeToRetry reports whether a submission failure reason leaves the
// Bribe/Payout status untouched because the same attempt is expected to
// succeed on resubmission. Matches spec.md §4.3/§7: tx_bad_seq,
// tx_bad_auth, and HTTP 502/504/522.
func IsSafeToRetry(err error) bool {
	var timeout *TimeoutPendingError
	if errors.As(err, &timeout) {
		return timeout.StatusCode == 502 || timeout.StatusCode == 504 || timeout.StatusCode == 522
	}
	var rc *ResultCodeError
	if errors.As(err, &rc) {
		code := rc.FirstFailureCode()
		return code == "tx_bad_seq" || code == "tx_bad_auth"
	}
	return false
}
