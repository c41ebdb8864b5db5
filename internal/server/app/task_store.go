package app

import (
	"slices"
	"sync"

	"cua/internal/server/ports"
	"cua/internal/task"
	"cua/internal/utils/id"
)

// InMemoryTaskStore implements TaskStore with in-memory storage. Insertion
// order is tracked explicitly because cleanup and listing depend on it.
type InMemoryTaskStore struct {
	mu    sync.RWMutex
	tasks map[string]*task.Task
	order []string
	newID func() string
}

var _ ports.TaskStore = (*InMemoryTaskStore)(nil)

// NewInMemoryTaskStore creates a new in-memory task store
func NewInMemoryTaskStore() *InMemoryTaskStore {
	return &InMemoryTaskStore{
		tasks: make(map[string]*task.Task),
		newID: id.NewTaskID,
	}
}

// Create registers a new task in the planning state
func (s *InMemoryTaskStore) Create(description string) (*task.Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	taskID := s.newID()
	t := task.New(taskID, description)
	s.tasks[taskID] = t
	s.order = append(s.order, taskID)
	return t, nil
}

// Get retrieves a task by ID
func (s *InMemoryTaskStore) Get(taskID string) (*task.Task, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	t, exists := s.tasks[taskID]
	if !exists {
		return nil, &task.NotFoundError{ID: taskID}
	}
	return t, nil
}

// Exists reports whether the task is registered
func (s *InMemoryTaskStore) Exists(taskID string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, exists := s.tasks[taskID]
	return exists
}

// Delete removes a task
func (s *InMemoryTaskStore) Delete(taskID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.tasks[taskID]; !exists {
		return &task.NotFoundError{ID: taskID}
	}
	s.removeLocked(taskID)
	return nil
}

// List returns all tasks, newest first
func (s *InMemoryTaskStore) List() []*task.Task {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*task.Task, 0, len(s.order))
	for i := len(s.order) - 1; i >= 0; i-- {
		out = append(out, s.tasks[s.order[i]])
	}
	return out
}

// CountActive counts tasks that have not reached a terminal status
func (s *InMemoryTaskStore) CountActive() int {
	s.mu.RLock()
	defer s.mu.RUnlock()

	count := 0
	for _, t := range s.tasks {
		if t.Status().IsActive() {
			count++
		}
	}
	return count
}

// Cleanup drops the oldest finished tasks beyond keepLastN
func (s *InMemoryTaskStore) Cleanup(keepLastN int) int {
	if keepLastN < 0 {
		keepLastN = 0
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	var finished []string
	for _, taskID := range s.order {
		if s.tasks[taskID].Status().IsTerminal() {
			finished = append(finished, taskID)
		}
	}
	if len(finished) <= keepLastN {
		return 0
	}

	toRemove := finished[:len(finished)-keepLastN]
	for _, taskID := range toRemove {
		s.removeLocked(taskID)
	}
	return len(toRemove)
}

// Len returns the number of stored tasks
func (s *InMemoryTaskStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.tasks)
}

func (s *InMemoryTaskStore) removeLocked(taskID string) {
	delete(s.tasks, taskID)
	if idx := slices.Index(s.order, taskID); idx >= 0 {
		s.order = slices.Delete(s.order, idx, idx+1)
	}
}
