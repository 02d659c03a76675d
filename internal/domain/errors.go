package domain

import (
	"github.com/pkg/errors"
)

// Validation errors. Nothing is sent to the ledger when one of these is returned.
var (
	ErrInvalidAmount  = errors.New("invalid amount")
	ErrInvalidRate    = errors.New("invalid rate")
	ErrUnknownVenue   = errors.New("unknown venue")
	ErrUnknownSurface = errors.New("unknown surface")
)

// Rejections that happen before any submission.
var (
	ErrSurfaceBusy          = errors.New("surface has a transaction in flight")
	ErrHandleInFlight       = errors.New("transaction handle is not terminal")
	ErrNothingPending       = errors.New("no pending transaction on surface")
	ErrTestControlsDisabled = errors.New("test controls are disabled for this session")
	ErrContractsUnavailable = errors.New("no contracts configured for chain")
	ErrNoSigner             = errors.New("no signing key for account")
)

// Ledger outcomes.
var (
	ErrSubmission               = errors.New("transaction submission failed")
	ErrReverted                 = errors.New("transaction reverted")
	ErrInsufficientVaultBalance = errors.New("insufficient vault balance")
	ErrInsufficientAllowance    = errors.New("insufficient allowance")
	ErrInsufficientBalance      = errors.New("insufficient token balance")
)

// Retryable reports whether repeating the same read could succeed.
// Validation failures, missing deployments and reverts are deterministic.
func Retryable(err error) bool {
	for _, target := range []error{
		ErrInvalidAmount,
		ErrInvalidRate,
		ErrUnknownVenue,
		ErrContractsUnavailable,
		ErrTestControlsDisabled,
		ErrNoSigner,
		ErrReverted,
	} {
		if errors.Is(err, target) {
			return false
		}
	}
	return true
}

// SubmissionError is a write the ledger never accepted.
type SubmissionError struct {
	Kind  TxKind
	Cause error
}

func (e *SubmissionError) Error() string {
	if e.Cause == nil {
		return ErrSubmission.Error() + ": " + string(e.Kind)
	}
	return ErrSubmission.Error() + ": " + string(e.Kind) + ": " + e.Cause.Error()
}

// Is matches ErrSubmission.
func (e *SubmissionError) Is(target error) bool {
	return target == ErrSubmission
}

func (e *SubmissionError) Unwrap() error {
	return e.Cause
}

// RevertError is a confirmation failure. Reason is the ledger's message as received.
type RevertError struct {
	Reason string
	Cause  error
}

func (e *RevertError) Error() string {
	if e.Reason == "" {
		return ErrReverted.Error()
	}
	return ErrReverted.Error() + ": " + e.Reason
}

// Is matches ErrReverted.
func (e *RevertError) Is(target error) bool {
	return target == ErrReverted
}

func (e *RevertError) Unwrap() error {
	return e.Cause
}

// QueryErrorKind classifies an event log query failure.
type QueryErrorKind string

const (
	QueryAccessDenied  QueryErrorKind = "access_denied"
	QueryScopeTooLarge QueryErrorKind = "scope_too_large"
	QueryUnavailable   QueryErrorKind = "unavailable"
	QueryDecode        QueryErrorKind = "decode"
)

// QueryError is the inspectable failure of a history query.
type QueryError struct {
	Kind QueryErrorKind
	Err  error
}

func (e *QueryError) Error() string {
	if e.Err == nil {
		return "history query " + string(e.Kind)
	}
	return "history query " + string(e.Kind) + ": " + e.Err.Error()
}

func (e *QueryError) Unwrap() error {
	return e.Err
}
