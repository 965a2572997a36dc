package api

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrDealNotFound is returned when a deal does not exist.
	ErrDealNotFound = errors.New("deal not found")

	// ErrTaskNotFound is returned when a task does not exist.
	ErrTaskNotFound = errors.New("task not found")

	// ErrVersionNotFound is returned when a workflow version does not exist.
	ErrVersionNotFound = errors.New("workflow version not found")

	// ErrVersionExists is returned when (workflowID, version) is already stored.
	ErrVersionExists = errors.New("workflow version already exists")

	// ErrNoActiveVersion is returned when a workflow has no active version.
	ErrNoActiveVersion = errors.New("no active workflow version")

	// ErrWorkflowMismatch is returned when a template or version belongs to
	// a different workflow than expected.
	ErrWorkflowMismatch = errors.New("workflow id mismatch")

	// ErrStatusConflict is returned when a compare-and-swap status update
	// finds the deal in a different status than expected.
	ErrStatusConflict = errors.New("deal status changed concurrently")

	// ErrTemplateInvalid wraps every template parse failure.
	ErrTemplateInvalid = errors.New("invalid workflow template")

	// ErrUnknownStatus is returned when a status code is not declared.
	ErrUnknownStatus = errors.New("unknown status")
)

// ValidationReason explains why a transition was rejected.
type ValidationReason string

const (
	ReasonUnknownTransition ValidationReason = "UNKNOWN_TRANSITION"
	ReasonRoleNotAllowed    ValidationReason = "ROLE_NOT_ALLOWED"
	ReasonGuardFailed       ValidationReason = "GUARD_FAILED"
)

// Validation is the outcome of checking a transition request.
type Validation struct {
	Allowed      bool
	Reason       ValidationReason
	FailedGuards []Condition
}

// TransitionError is returned when a transition is rejected by validation.
type TransitionError struct {
	From       string
	To         string
	Validation Validation
}

func (e *TransitionError) Error() string {
	msg := fmt.Sprintf("transition %s -> %s rejected: %s", e.From, e.To, e.Validation.Reason)
	if len(e.Validation.FailedGuards) > 0 {
		parts := make([]string, 0, len(e.Validation.FailedGuards))
		for _, g := range e.Validation.FailedGuards {
			parts = append(parts, g.Key+" "+g.Rule)
		}
		msg += " (" + strings.Join(parts, ", ") + ")"
	}
	return msg
}

// IsGuardFailure reports whether err is a TransitionError rejected by guards.
func IsGuardFailure(err error) bool {
	var te *TransitionError
	return errors.As(err, &te) && te.Validation.Reason == ReasonGuardFailed
}
