package ports

import "cua/internal/task"

// TaskStore keeps submitted tasks for the lifetime of the process.
// Implementations must be safe for concurrent use.
type TaskStore interface {
	// Create registers a new task for description and returns it.
	Create(description string) (*task.Task, error)

	// Get returns the task or *task.NotFoundError.
	Get(taskID string) (*task.Task, error)

	// Exists reports whether taskID is registered.
	Exists(taskID string) bool

	// Delete removes the task, returning *task.NotFoundError when absent.
	Delete(taskID string) error

	// List returns every task, newest first.
	List() []*task.Task

	// CountActive counts tasks that are planning, processing or verifying.
	CountActive() int

	// Cleanup removes the oldest finished tasks so that at most keepLastN
	// finished tasks remain. It returns how many were removed.
	Cleanup(keepLastN int) int

	// Len returns the number of stored tasks.
	Len() int
}
