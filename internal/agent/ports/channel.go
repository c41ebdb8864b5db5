package ports

import (
	"context"
	"encoding/json"
	"errors"
	"time"
)

var (
	// ErrNoConnection is returned when no executor is attached.
	ErrNoConnection = errors.New("no browser extension connected")
	// ErrTimedOut is returned when a response does not arrive in time.
	ErrTimedOut = errors.New("timed out waiting for response")
)

// ActionStatusSuccess is the only response status treated as success.
const ActionStatusSuccess = "success"

// ActionResponse is the extension's reply to a dispatched action.
type ActionResponse struct {
	ID     string          `json:"id"`
	Status string          `json:"status"`
	Data   json.RawMessage `json:"data,omitempty"`
	Error  string          `json:"error,omitempty"`
}

// OK reports whether the action succeeded.
func (r ActionResponse) OK() bool {
	return r.Status == ActionStatusSuccess
}

// DecodeData unmarshals Data into v. Missing data leaves v untouched.
func (r ActionResponse) DecodeData(v any) error {
	if len(r.Data) == 0 || string(r.Data) == "null" {
		return nil
	}
	return json.Unmarshal(r.Data, v)
}

// ActionChannel dispatches actions to the remote executor and awaits the
// correlated response.
type ActionChannel interface {
	// HasConnection reports whether an executor is connected.
	HasConnection() bool

	// Call sends action under correlationID and waits up to timeout for its response.
	Call(ctx context.Context, correlationID, action string, payload map[string]any, timeout time.Duration) (ActionResponse, error)
}
