package models

import (
	"errors"
	"fmt"
)

// Sentinel errors surfaced to callers. Validation and state errors are never
// retried internally; ErrVerifierUnavailable is transient and the caller's
// resubmission is naturally idempotent because the intent stays PENDING.
var (
	ErrInvalidInput        = errors.New("invalid input")
	ErrNotFound            = errors.New("intent not found")
	ErrInvalidState        = errors.New("operation not valid for current intent state")
	ErrInvalidProof        = errors.New("source settlement proof rejected by verifier")
	ErrVerifierUnavailable = errors.New("proof verifier unavailable")

	// ErrSettlementFailed is the class matched by errors.Is for any
	// SettlementError, regardless of sub-reason.
	ErrSettlementFailed = errors.New("target settlement failed")
)

// Machine-readable sub-reasons for settlement failures
const (
	ReasonInsufficientFunds   = "insufficient_funds"
	ReasonConfirmationTimeout = "confirmation_timeout"
	ReasonReverted            = "reverted"
	ReasonNetwork             = "network_error"
	ReasonCircuitOpen         = "circuit_open"
	ReasonUnknown             = "unknown"
)

// SettlementError wraps an executor failure with its classification.
type SettlementError struct {
	Reason string
	Err    error
}

func (e *SettlementError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("settlement failed (%s)", e.Reason)
	}
	return fmt.Sprintf("settlement failed (%s): %v", e.Reason, e.Err)
}

func (e *SettlementError) Unwrap() error {
	return e.Err
}

// Is lets errors.Is(err, ErrSettlementFailed) match every settlement error
func (e *SettlementError) Is(target error) bool {
	return target == ErrSettlementFailed
}

// NewSettlementError builds a settlement error with a sub-reason
func NewSettlementError(reason string, err error) *SettlementError {
	return &SettlementError{Reason: reason, Err: err}
}

// SettlementReason extracts the sub-reason from a settlement error chain,
// ReasonUnknown if the error is not a settlement error.
func SettlementReason(err error) string {
	var se *SettlementError
	if errors.As(err, &se) {
		return se.Reason
	}
	return ReasonUnknown
}

// RetriableSettlement reports whether a failed settlement attempt may be
// retried by the orchestrator. Insufficient funds only clears after the
// wallet is topped up, but the intent remains re-triggerable, so it counts
// as retriable for scheduling purposes; a confirmation timeout is an unknown
// outcome and must go through reconciliation instead of a blind retry.
func RetriableSettlement(err error) bool {
	switch SettlementReason(err) {
	case ReasonConfirmationTimeout:
		return false
	case ReasonReverted:
		return false
	default:
		return true
	}
}
