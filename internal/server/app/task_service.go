package app

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"cua/internal/async"
	"cua/internal/logging"
	"cua/internal/server/ports"
	"cua/internal/task"
)

var errTaskDeleted = errors.New("task deleted")

// Runner executes a stored task to completion.
type Runner interface {
	Run(ctx context.Context, taskID string) error
}

// TaskService owns task submission and the goroutines running them. Every
// running task has its own cancellable context so deleting the task or
// shutting down stops it at the next suspension point.
type TaskService struct {
	store  ports.TaskStore
	runner Runner
	logger logging.Logger

	mu      sync.Mutex
	cancels map[string]context.CancelCauseFunc
	closed  bool
	wg      sync.WaitGroup
}

// NewTaskService creates a task service
func NewTaskService(store ports.TaskStore, runner Runner, logger logging.Logger) *TaskService {
	if logging.IsNil(logger) {
		logger = logging.NewComponentLogger("tasks")
	}
	return &TaskService{
		store:   store,
		runner:  runner,
		logger:  logger,
		cancels: make(map[string]context.CancelCauseFunc),
	}
}

// Submit registers description as a new task and starts running it in the
// background. It returns as soon as the task is stored.
func (s *TaskService) Submit(ctx context.Context, description string) (*task.Task, error) {
	description = strings.TrimSpace(description)
	if description == "" {
		return nil, ValidationError("task description is required")
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, UnavailableError("server is shutting down")
	}

	t, err := s.store.Create(description)
	if err != nil {
		return nil, err
	}
	taskID := t.ID()

	// The run outlives the request that submitted it.
	runCtx, cancel := context.WithCancelCause(context.WithoutCancel(ctx))
	s.cancels[taskID] = cancel
	s.wg.Add(1)

	async.Go(s.logger, "task.run", func() {
		defer s.wg.Done()
		defer s.release(taskID)
		if err := s.runner.Run(runCtx, taskID); err != nil {
			s.logger.Warn("Task %s stopped: %v", taskID, err)
		}
	})

	s.logger.Info("New task %s: %s", taskID, description)
	return t, nil
}

// Get returns a task by id.
func (s *TaskService) Get(taskID string) (*task.Task, error) {
	t, err := s.store.Get(taskID)
	if err != nil {
		return nil, notFound(err)
	}
	return t, nil
}

// List returns all tasks, newest first.
func (s *TaskService) List() []*task.Task {
	return s.store.List()
}

// Delete removes the task and cancels its run if one is in flight.
func (s *TaskService) Delete(taskID string) error {
	if err := s.store.Delete(taskID); err != nil {
		return notFound(err)
	}
	s.mu.Lock()
	cancel := s.cancels[taskID]
	s.mu.Unlock()
	if cancel != nil {
		cancel(errTaskDeleted)
	}
	s.logger.Info("Task %s deleted", taskID)
	return nil
}

// Cleanup drops old finished tasks, returning how many were removed and how
// many remain.
func (s *TaskService) Cleanup(keepLastN int) (removed, remaining int) {
	removed = s.store.Cleanup(keepLastN)
	if removed > 0 {
		s.logger.Info("Cleaned up %d old tasks", removed)
	}
	return removed, s.store.Len()
}

// CountActive counts tasks still being worked on.
func (s *TaskService) CountActive() int {
	return s.store.CountActive()
}

// Len returns the number of stored tasks.
func (s *TaskService) Len() int {
	return s.store.Len()
}

// Running returns the number of task goroutines in flight.
func (s *TaskService) Running() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.cancels)
}

// RunJanitor calls Cleanup every interval until ctx is done.
func (s *TaskService) RunJanitor(ctx context.Context, interval time.Duration, keepLastN int) {
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.Cleanup(keepLastN)
		}
	}
}

// Shutdown stops accepting tasks, cancels running ones and waits for them
// to exit or for ctx to expire.
func (s *TaskService) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	s.closed = true
	for _, cancel := range s.cancels {
		cancel(context.Canceled)
	}
	s.mu.Unlock()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *TaskService) release(taskID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if cancel, ok := s.cancels[taskID]; ok {
		cancel(nil)
		delete(s.cancels, taskID)
	}
}
