package engine

import (
	"context"
	"time"

	cuaerrors "cua/internal/errors"
	"cua/internal/logging"
	"cua/internal/observability"
)

// Sleeper waits between phases. Tests substitute a recorder.
type Sleeper interface {
	Sleep(ctx context.Context, d time.Duration) error
}

// SleeperFunc adapts a function to Sleeper.
type SleeperFunc func(ctx context.Context, d time.Duration) error

func (f SleeperFunc) Sleep(ctx context.Context, d time.Duration) error { return f(ctx, d) }

// RealSleeper waits on the wall clock and honours ctx.
var RealSleeper Sleeper = SleeperFunc(cuaerrors.Sleep)

type options struct {
	sleeper Sleeper
	metrics *Metrics
	tracer  *observability.TracerProvider
	logger  logging.Logger
}

// Option customises a StepLoop or Orchestrator.
type Option func(*options)

// WithSleeper replaces the wall-clock sleeper.
func WithSleeper(s Sleeper) Option {
	return func(o *options) { o.sleeper = s }
}

// WithMetrics records Prometheus metrics.
func WithMetrics(m *Metrics) Option {
	return func(o *options) { o.metrics = m }
}

// WithTracer emits spans for runs, attempts and steps.
func WithTracer(tp *observability.TracerProvider) Option {
	return func(o *options) { o.tracer = tp }
}

// WithLogger overrides the component logger.
func WithLogger(l logging.Logger) Option {
	return func(o *options) { o.logger = l }
}

func applyOptions(opts []Option) options {
	o := options{sleeper: RealSleeper}
	for _, opt := range opts {
		opt(&o)
	}
	if o.sleeper == nil {
		o.sleeper = RealSleeper
	}
	if logging.IsNil(o.logger) {
		o.logger = logging.NewComponentLogger("engine")
	}
	return o
}
