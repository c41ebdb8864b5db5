package task

import "fmt"

// NotFoundError is returned when a task id is not (or no longer) registered.
type NotFoundError struct {
	ID string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("task %s not found", e.ID)
}
