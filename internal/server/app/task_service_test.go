package app

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"cua/internal/logging"
	"cua/internal/task"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type blockingRunner struct {
	mu      sync.Mutex
	started map[string]chan struct{}
	causes  map[string]error
}

func newBlockingRunner() *blockingRunner {
	return &blockingRunner{started: make(map[string]chan struct{}), causes: make(map[string]error)}
}

func (r *blockingRunner) Run(ctx context.Context, taskID string) error {
	r.signal(taskID)
	<-ctx.Done()
	r.mu.Lock()
	r.causes[taskID] = context.Cause(ctx)
	r.mu.Unlock()
	return ctx.Err()
}

func (r *blockingRunner) signal(taskID string) {
	r.mu.Lock()
	ch, ok := r.started[taskID]
	if !ok {
		ch = make(chan struct{})
		r.started[taskID] = ch
	}
	r.mu.Unlock()
	close(ch)
}

func (r *blockingRunner) waitStarted(t *testing.T, taskID string) {
	t.Helper()
	require.Eventually(t, func() bool {
		r.mu.Lock()
		defer r.mu.Unlock()
		_, ok := r.started[taskID]
		return ok
	}, time.Second, time.Millisecond)
}

func (r *blockingRunner) cause(taskID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.causes[taskID]
}

type finishingRunner struct {
	store *InMemoryTaskStore
}

func (r finishingRunner) Run(_ context.Context, taskID string) error {
	t, err := r.store.Get(taskID)
	if err != nil {
		return err
	}
	t.Finish(task.StatusCompleted, nil)
	return nil
}

func TestSubmitValidatesDescription(t *testing.T) {
	svc := NewTaskService(NewInMemoryTaskStore(), newBlockingRunner(), logging.Nop())
	_, err := svc.Submit(context.Background(), "   ")
	require.ErrorIs(t, err, ErrValidation)
	assert.Equal(t, 0, svc.Len())
}

func TestSubmitRunsTaskInBackground(t *testing.T) {
	store := NewInMemoryTaskStore()
	svc := NewTaskService(store, finishingRunner{store: store}, logging.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	submitted, err := svc.Submit(ctx, "open example.com")
	require.NoError(t, err)
	// The request context ending must not stop the run.
	cancel()

	require.Eventually(t, func() bool { return submitted.Status() == task.StatusCompleted }, time.Second, time.Millisecond)
	require.Eventually(t, func() bool { return svc.Running() == 0 }, time.Second, time.Millisecond)

	got, err := svc.Get(submitted.ID())
	require.NoError(t, err)
	assert.Same(t, submitted, got)
	assert.Equal(t, 0, svc.CountActive())
}

func TestDeleteCancelsRunningTask(t *testing.T) {
	runner := newBlockingRunner()
	svc := NewTaskService(NewInMemoryTaskStore(), runner, logging.Nop())

	submitted, err := svc.Submit(context.Background(), "long task")
	require.NoError(t, err)
	runner.waitStarted(t, submitted.ID())
	assert.Equal(t, 1, svc.Running())

	require.NoError(t, svc.Delete(submitted.ID()))
	require.Eventually(t, func() bool { return svc.Running() == 0 }, time.Second, time.Millisecond)
	assert.ErrorIs(t, runner.cause(submitted.ID()), errTaskDeleted)

	_, err = svc.Get(submitted.ID())
	require.ErrorIs(t, err, ErrNotFound)
	var nf *task.NotFoundError
	assert.True(t, errors.As(err, &nf))

	assert.ErrorIs(t, svc.Delete(submitted.ID()), ErrNotFound)
}

func TestShutdownCancelsAndRejects(t *testing.T) {
	runner := newBlockingRunner()
	svc := NewTaskService(NewInMemoryTaskStore(), runner, logging.Nop())

	a, err := svc.Submit(context.Background(), "a")
	require.NoError(t, err)
	b, err := svc.Submit(context.Background(), "b")
	require.NoError(t, err)
	runner.waitStarted(t, a.ID())
	runner.waitStarted(t, b.ID())

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, svc.Shutdown(ctx))
	assert.Equal(t, 0, svc.Running())

	_, err = svc.Submit(context.Background(), "c")
	assert.ErrorIs(t, err, ErrUnavailable)
}

func TestCleanupAndJanitor(t *testing.T) {
	store := NewInMemoryTaskStore()
	svc := NewTaskService(store, finishingRunner{store: store}, logging.Nop())

	for i := 0; i < 4; i++ {
		_, err := svc.Submit(context.Background(), "task")
		require.NoError(t, err)
	}
	require.Eventually(t, func() bool { return svc.CountActive() == 0 && svc.Running() == 0 }, time.Second, time.Millisecond)

	removed, remaining := svc.Cleanup(3)
	assert.Equal(t, 1, removed)
	assert.Equal(t, 3, remaining)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		svc.RunJanitor(ctx, 5*time.Millisecond, 1)
		close(done)
	}()
	require.Eventually(t, func() bool { return svc.Len() == 1 }, time.Second, time.Millisecond)
	cancel()
	<-done
}
