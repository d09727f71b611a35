package types

import (
	"errors"
	"fmt"
)

var (
	// ErrProbeTimeout is recovered locally and counted as one unreachable sample
	ErrProbeTimeout = errors.New("probe timed out")

	// ErrNoInstancesFound fails one evaluation cycle
	ErrNoInstancesFound = errors.New("no instances found")

	// ErrNoStableRevision means no earlier revision was ever deployed
	ErrNoStableRevision = errors.New("no stable revision to roll back to")

	// ErrRollbackRejected means the release store refused the rollback
	ErrRollbackRejected = errors.New("rollback rejected")

	// ErrVerificationTimeout means the rollback applied but health never recovered
	ErrVerificationTimeout = errors.New("verification timed out")

	// ErrRevisionNotFound means a requested revision is absent from history
	ErrRevisionNotFound = errors.New("revision not found")
)

// TerminalError wraps the error that ended a decision loop with its reason code
type TerminalError struct {
	Reason ReasonCode
	Err    error
}

func (e *TerminalError) Error() string {
	return fmt.Sprintf("%s: %v", e.Reason, e.Err)
}

func (e *TerminalError) Unwrap() error {
	return e.Err
}

// ReasonFor maps an error onto the reason code reported for it
func ReasonFor(err error) ReasonCode {
	var te *TerminalError
	switch {
	case err == nil:
		return ReasonNone
	case errors.As(err, &te):
		return te.Reason
	case errors.Is(err, ErrNoInstancesFound):
		return ReasonNoInstances
	case errors.Is(err, ErrNoStableRevision):
		return ReasonNoStableRevision
	case errors.Is(err, ErrRollbackRejected):
		return ReasonRollbackRejected
	case errors.Is(err, ErrVerificationTimeout):
		return ReasonVerificationTimeout
	default:
		return ReasonRetriesExhausted
	}
}
