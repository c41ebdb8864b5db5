package engine

import (
	"context"
	"fmt"

	"cua/internal/agent/ports"
	"cua/internal/async"
	"cua/internal/logging"
	"cua/internal/observability"
	"cua/internal/task"
	"cua/internal/utils/id"

	"go.opentelemetry.io/otel/attribute"
)

// TaskLookup resolves a task id. Missing tasks yield *task.NotFoundError.
type TaskLookup interface {
	Get(id string) (*task.Task, error)
}

// Orchestrator drives a task through bounded attempts with exponential
// backoff, resetting per-attempt progress before each one.
type Orchestrator struct {
	tasks   TaskLookup
	loop    *StepLoop
	cfg     Config
	sleeper Sleeper
	metrics *Metrics
	tracer  *observability.TracerProvider
	logger  logging.Logger
}

// NewOrchestrator wires a step loop over channel and oracle.
func NewOrchestrator(tasks TaskLookup, channel ports.ActionChannel, oracle ports.Oracle, cfg Config, opts ...Option) *Orchestrator {
	o := applyOptions(opts)
	loop := NewStepLoop(channel, oracle, cfg, opts...)
	return &Orchestrator{
		tasks:   tasks,
		loop:    loop,
		cfg:     loop.cfg,
		sleeper: o.sleeper,
		metrics: o.metrics,
		tracer:  o.tracer,
		logger:  o.logger,
	}
}

// Run executes the task to a terminal status. Attempt failures are recorded
// on the task and never returned; the only errors are a missing task and
// cancellation of ctx.
func (o *Orchestrator) Run(ctx context.Context, taskID string) (err error) {
	t, err := o.tasks.Get(taskID)
	if err != nil {
		o.logger.Error("Task %s not found", taskID)
		return err
	}

	ctx = id.WithTaskID(ctx, taskID)
	ctx, span := o.tracer.StartSpan(ctx, observability.SpanTaskRun)
	defer func() {
		span.SetAttributes(attribute.String(observability.AttrStatus, string(t.Status())))
		observability.EndSpan(span, err)
	}()

	o.metrics.TaskStarted()
	o.logger.Info("Starting task %s: %s", taskID, t.Description())

	maxRetries := o.cfg.MaxRetries
	for attempt := 0; attempt < maxRetries; attempt++ {
		if attempt > 0 {
			delay := o.cfg.Backoff(attempt)
			t.AppendLog(task.LogWarning, fmt.Sprintf("Retry %d/%d", attempt+1, maxRetries),
				"Previous attempt failed: "+t.Snapshot().VerificationResult)
			o.logger.Info("Retry attempt %d for %s in %s", attempt+1, taskID, delay)
			o.metrics.ObserveBackoff(delay)
			if err := o.sleeper.Sleep(ctx, delay); err != nil {
				o.cancelled(t, err)
				return err
			}
		}

		if _, err := o.tasks.Get(taskID); err != nil {
			o.logger.Warn("Task %s disappeared, aborting", taskID)
			o.metrics.TaskFinished(ReasonNotFound)
			return err
		}
		t.BeginAttempt(attempt)

		attemptErr := o.runAttempt(ctx, t, attempt)
		o.metrics.ObserveAttempt(FailureReason(attemptErr))
		if attemptErr == nil {
			t.Finish(task.StatusCompleted, nil)
			o.metrics.TaskFinished(string(task.StatusCompleted))
			o.logger.Info("Task %s completed", taskID)
			return nil
		}
		if ctx.Err() != nil {
			o.cancelled(t, ctx.Err())
			return ctx.Err()
		}

		o.logger.Warn("Attempt %d of %s failed (%s): %v", attempt+1, taskID, FailureReason(attemptErr), attemptErr)
		t.Fail(fmt.Sprintf("Attempt %d failed", attempt+1), attemptErr.Error())
	}

	t.Finish(task.StatusFailed, &task.LogEntry{
		Kind:   task.LogError,
		Title:  "All attempts exhausted",
		Detail: fmt.Sprintf("Failed after %d attempts", maxRetries),
	})
	o.metrics.TaskFinished(string(task.StatusFailed))
	o.logger.Warn("Task %s failed: all attempts exhausted", taskID)
	return nil
}

// runAttempt runs the step loop, converting a panic into an ordinary failure.
func (o *Orchestrator) runAttempt(ctx context.Context, t *task.Task, attempt int) (err error) {
	ctx, span := o.tracer.StartSpan(ctx, observability.SpanTaskAttempt, attribute.Int(observability.AttrAttempt, attempt))
	defer func() { observability.EndSpan(span, err) }()

	return async.Safe(o.logger, "task-attempt", func() error {
		return o.loop.Run(ctx, t)
	})
}

func (o *Orchestrator) cancelled(t *task.Task, cause error) {
	t.Finish(task.StatusFailed, &task.LogEntry{
		Kind:   task.LogError,
		Title:  "Task cancelled",
		Detail: cause.Error(),
	})
	o.metrics.TaskFinished(ReasonCancelled)
	o.logger.Info("Task %s cancelled: %v", t.ID(), cause)
}
