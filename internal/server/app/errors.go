package app

import (
	"errors"
	"fmt"

	"cua/internal/task"
)

// Domain error sentinels for the server application layer.
// These enable consistent HTTP status mapping via errors.Is().

var (
	// ErrNotFound indicates the requested task does not exist.
	ErrNotFound = errors.New("not found")

	// ErrValidation indicates invalid input from the caller.
	ErrValidation = errors.New("validation error")

	// ErrUnavailable indicates the service is shutting down or not configured.
	ErrUnavailable = errors.New("service unavailable")
)

// ValidationError wraps ErrValidation with a descriptive message.
func ValidationError(msg string) error {
	return fmt.Errorf("%s: %w", msg, ErrValidation)
}

// UnavailableError wraps ErrUnavailable with a descriptive message.
func UnavailableError(msg string) error {
	return fmt.Errorf("%s: %w", msg, ErrUnavailable)
}

// notFound maps a store miss onto ErrNotFound while keeping the typed error.
func notFound(err error) error {
	var nf *task.NotFoundError
	if errors.As(err, &nf) {
		return fmt.Errorf("%w: %w", ErrNotFound, nf)
	}
	return err
}
