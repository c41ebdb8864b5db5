package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"cua/internal/agent/ports"
	"cua/internal/logging"
	"cua/internal/observability"
	"cua/internal/task"
	"cua/internal/utils/id"

	"go.opentelemetry.io/otel/attribute"
)

// StepLoop runs one attempt of observe, plan, act and verify until the oracle
// reports completion, a step fails or MaxSteps is reached.
type StepLoop struct {
	channel ports.ActionChannel
	oracle  ports.Oracle
	cfg     Config
	sleeper Sleeper
	metrics *Metrics
	tracer  *observability.TracerProvider
	logger  logging.Logger
}

// NewStepLoop builds a step loop. Options shared with the orchestrator apply.
func NewStepLoop(channel ports.ActionChannel, oracle ports.Oracle, cfg Config, opts ...Option) *StepLoop {
	o := applyOptions(opts)
	return &StepLoop{
		channel: channel,
		oracle:  oracle,
		cfg:     cfg.withDefaults(),
		sleeper: o.sleeper,
		metrics: o.metrics,
		tracer:  o.tracer,
		logger:  o.logger,
	}
}

// Run executes one attempt on t. A nil error means the final verification passed.
func (l *StepLoop) Run(ctx context.Context, t *task.Task) error {
	for step := 1; step <= l.cfg.MaxSteps; step++ {
		done, err := l.runStep(ctx, t, step)
		if err != nil || done {
			return err
		}
	}
	l.logger.Warn("Maximum steps reached: stopped at %d steps", l.cfg.MaxSteps)
	return &StepLimitExceeded{MaxSteps: l.cfg.MaxSteps}
}

func (l *StepLoop) runStep(ctx context.Context, t *task.Task, step int) (done bool, err error) {
	ctx, span := l.tracer.StartSpan(ctx, observability.SpanTaskStep, attribute.Int(observability.AttrStep, step))
	defer func() { observability.EndSpan(span, err) }()

	l.logger.Info("Reactive step %d: observing page state", step)
	state := l.observe(ctx, t.ID())
	if _, failed := state.Diagnostics[diagnosticErrorKey]; failed {
		if ctx.Err() != nil {
			return false, ctx.Err()
		}
		return false, &ObservationError{Diagnostics: state.Diagnostics}
	}
	l.logger.Debug("Page state: url=%s title=%s elements=%d", state.URL, state.Title, len(state.Elements))

	t.SetStatus(task.StatusPlanning)
	plan, err := l.planNext(ctx, t, state)
	if err != nil {
		if ctx.Err() != nil {
			return false, ctx.Err()
		}
		return false, &PlanningError{Err: err}
	}

	if plan.TaskComplete {
		l.logger.Info("Oracle reports task complete: %s", plan.Reasoning)
		return true, l.verifyFinal(ctx, t)
	}
	if plan.Action == "" {
		return false, &PlanningError{Err: errors.New("invalid action plan: missing 'action' field")}
	}
	span.SetAttributes(attribute.String(observability.AttrAction, plan.Action))

	t.SetStatus(task.StatusProcessing)
	rec := task.NewActionRecord(plan.Action, plan.Payload)
	if err := l.act(ctx, t, rec, step); err != nil {
		return false, err
	}
	t.RecordStep(rec)

	if err := l.verifyStep(ctx, t, rec, plan.ExpectedOutcome, step); err != nil {
		return false, err
	}
	return false, nil
}

func (l *StepLoop) planNext(ctx context.Context, t *task.Task, state ports.PageState) (ports.Plan, error) {
	ctx, cancel := context.WithTimeout(ctx, l.cfg.OracleTimeout)
	defer cancel()
	return l.oracle.PlanNext(ctx, t.Description(), state, t.Snapshot().Plan)
}

// act dispatches rec and waits for the extension to report back, then lets
// the page settle.
func (l *StepLoop) act(ctx context.Context, t *task.Task, rec task.ActionRecord, step int) error {
	if !l.channel.HasConnection() {
		l.logger.Warn("No browser connection for step %d", step)
		return &NoConnectionError{}
	}

	snap := t.Snapshot()
	t.SetCurrentStep(&task.StepDescriptor{
		Index:       step,
		Total:       task.DynamicTotal,
		Action:      rec.Action,
		Payload:     rec.Payload,
		Description: rec.Description(),
	})
	t.AppendLog(task.LogStep, fmt.Sprintf("Step %d: %s", step, rec.Action), rec.Description())
	l.logger.Info("Executing step %d: %s", step, rec.Action)

	correlationID := id.StepCorrelationID(snap.ID, step, snap.RetryCount)
	resp, err := l.call(ctx, correlationID, rec.Action, rec.Payload, l.cfg.ActionTimeout)
	switch {
	case errors.Is(err, ports.ErrTimedOut):
		t.AppendLog(task.LogError, fmt.Sprintf("Step %d timeout", step), "Action: "+rec.Action)
		return &ActionTimeout{Step: step}
	case errors.Is(err, ports.ErrNoConnection):
		return &NoConnectionError{}
	case err != nil:
		if ctx.Err() != nil {
			return ctx.Err()
		}
		t.AppendLog(task.LogError, fmt.Sprintf("Step %d failed", step), err.Error())
		return &ActionFailure{Step: step, Message: err.Error()}
	case !resp.OK():
		msg := resp.Error
		if msg == "" {
			msg = unknownError
		}
		t.AppendLog(task.LogError, fmt.Sprintf("Step %d failed", step), msg)
		return &ActionFailure{Step: step, Message: msg}
	}

	return l.sleeper.Sleep(ctx, l.cfg.SettleDelay(rec.Action))
}

// verifyStep re-observes the page and asks the oracle whether rec had the
// expected effect. A negative verdict ends the attempt.
func (l *StepLoop) verifyStep(ctx context.Context, t *task.Task, rec task.ActionRecord, expected string, step int) error {
	if err := l.sleeper.Sleep(ctx, l.cfg.VerificationDelay); err != nil {
		return err
	}
	state := l.observe(ctx, t.ID())

	verdict, err := l.verify(ctx, rec, expected, state)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		verdict = ports.Verdict{Message: "Verification error: " + err.Error()}
	}
	t.SetVerificationResult(verdict.Message)
	l.metrics.ObserveStep(rec.Action, verdict.Success)

	if !verdict.Success {
		l.logger.Warn("Step %d verification failed: %s", step, verdict.Message)
		return &VerificationFailure{Step: step, Message: verdict.Message}
	}
	l.logger.Info("Step %d verified (confidence %.2f)", step, verdict.Confidence)
	t.AppendLog(task.LogSuccess, fmt.Sprintf("Step %d completed", step), verdict.Message)
	return l.sleeper.Sleep(ctx, l.cfg.StepPause)
}

func (l *StepLoop) verify(ctx context.Context, rec task.ActionRecord, expected string, state ports.PageState) (ports.Verdict, error) {
	ctx, cancel := context.WithTimeout(ctx, l.cfg.OracleTimeout)
	defer cancel()
	return l.oracle.Verify(ctx, rec, expected, state)
}

func (l *StepLoop) call(ctx context.Context, correlationID, action string, payload map[string]any, timeout time.Duration) (ports.ActionResponse, error) {
	started := time.Now()
	resp, err := l.channel.Call(ctx, correlationID, action, payload, timeout)
	status := resp.Status
	switch {
	case errors.Is(err, ports.ErrTimedOut):
		status = "timeout"
	case err != nil:
		status = "error"
	}
	l.metrics.ObserveAction(action, status, time.Since(started))
	return resp, err
}
