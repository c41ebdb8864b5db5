package id

import (
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// NewTaskID generates a task identifier with a stable prefix for display.
func NewTaskID() string {
	return "task-" + uuid.NewString()
}

// NewRequestID generates an identifier for outbound LLM requests.
func NewRequestID() string {
	return "req-" + ShortHex()
}

// ShortHex returns the first eight hex digits of a random UUID. It keeps
// observation correlation ids short while staying unique per task.
func ShortHex() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")[:8]
}

// StepCorrelationID names the correlation id of step n in a given retry attempt.
func StepCorrelationID(taskID string, step, retry int) string {
	return fmt.Sprintf("%s_step_%d_%d", taskID, step, retry)
}

// ObservationCorrelationID names a one-off observation request such as
// "info", "elements", "content" or "screenshot".
func ObservationCorrelationID(taskID, kind string) string {
	return fmt.Sprintf("%s_%s_%s", taskID, kind, ShortHex())
}
