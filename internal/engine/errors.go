package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"cua/internal/async"
	"cua/internal/task"
)

// ObservationError means the page state could not be read at all.
type ObservationError struct {
	Diagnostics map[string]string
}

func (e *ObservationError) Error() string {
	raw, _ := json.Marshal(e.Diagnostics)
	return "Cannot observe page: " + string(raw)
}

// PlanningError wraps an oracle failure or an unusable plan.
type PlanningError struct {
	Err error
}

func (e *PlanningError) Error() string {
	return "Planning error: " + e.Err.Error()
}

func (e *PlanningError) Unwrap() error { return e.Err }

// ActionFailure is a non-success response from the extension.
type ActionFailure struct {
	Step    int
	Message string
}

func (e *ActionFailure) Error() string {
	return fmt.Sprintf("Step %d failed: %s", e.Step, e.Message)
}

// ActionTimeout means no response arrived within the action timeout.
type ActionTimeout struct {
	Step int
}

func (e *ActionTimeout) Error() string {
	return fmt.Sprintf("Timeout on step %d", e.Step)
}

// VerificationFailure is a negative verdict. Final marks the end-of-task check,
// whose message is reported verbatim.
type VerificationFailure struct {
	Step    int
	Final   bool
	Message string
}

func (e *VerificationFailure) Error() string {
	if e.Final {
		return e.Message
	}
	return fmt.Sprintf("Step %d verification failed: %s", e.Step, e.Message)
}

// FinalVerificationError means final evidence could not be gathered or judged.
type FinalVerificationError struct {
	Err error
}

func (e *FinalVerificationError) Error() string {
	return "Final verification error: " + e.Err.Error()
}

func (e *FinalVerificationError) Unwrap() error { return e.Err }

// StepLimitExceeded means MaxSteps actions ran without a completion signal.
type StepLimitExceeded struct {
	MaxSteps int
}

func (e *StepLimitExceeded) Error() string {
	return fmt.Sprintf("Maximum steps (%d) reached without completion", e.MaxSteps)
}

// NoConnectionError means no extension was attached when an action was due.
type NoConnectionError struct{}

func (e *NoConnectionError) Error() string {
	return "No browser extension connected"
}

// Failure reason labels.
const (
	ReasonObservation       = "observation"
	ReasonPlanning          = "planning"
	ReasonActionFailure     = "action_failure"
	ReasonActionTimeout     = "action_timeout"
	ReasonVerification      = "verification"
	ReasonFinalVerification = "final_verification"
	ReasonStepLimit         = "step_limit"
	ReasonNoConnection      = "no_connection"
	ReasonNotFound          = "not_found"
	ReasonCancelled         = "cancelled"
	ReasonPanic             = "panic"
	ReasonUnknown           = "unknown"
)

// FailureReason maps an attempt error to a stable label for metrics and logs.
func FailureReason(err error) string {
	var (
		observation *ObservationError
		planning    *PlanningError
		action      *ActionFailure
		timeout     *ActionTimeout
		verify      *VerificationFailure
		final       *FinalVerificationError
		limit       *StepLimitExceeded
		noConn      *NoConnectionError
		notFound    *task.NotFoundError
		panicked    *async.PanicError
	)
	switch {
	case err == nil:
		return ""
	case errors.As(err, &observation):
		return ReasonObservation
	case errors.As(err, &planning):
		return ReasonPlanning
	case errors.As(err, &action):
		return ReasonActionFailure
	case errors.As(err, &timeout):
		return ReasonActionTimeout
	case errors.As(err, &verify):
		if verify.Final {
			return ReasonFinalVerification
		}
		return ReasonVerification
	case errors.As(err, &final):
		return ReasonFinalVerification
	case errors.As(err, &limit):
		return ReasonStepLimit
	case errors.As(err, &noConn):
		return ReasonNoConnection
	case errors.As(err, &notFound):
		return ReasonNotFound
	case errors.As(err, &panicked):
		return ReasonPanic
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return ReasonCancelled
	default:
		return ReasonUnknown
	}
}
