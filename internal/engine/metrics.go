package engine

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics exposes Prometheus collectors that report task execution.
type Metrics struct {
	attempts       *prometheus.CounterVec
	actionDuration *prometheus.HistogramVec
	steps          *prometheus.CounterVec
	backoff        prometheus.Counter
	tasks          *prometheus.CounterVec
	tasksRunning   prometheus.Gauge
}

// MustNewMetrics constructs Metrics on reg. Collectors that are already
// registered are reused, so several engines can share one registry. Any
// other registration error panics.
func MustNewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	m := &Metrics{
		attempts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "cua",
			Subsystem: "engine",
			Name:      "attempts_total",
			Help:      "Task attempts by outcome reason (empty reason means success).",
		}, []string{"reason"}),
		actionDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "cua",
			Subsystem: "engine",
			Name:      "action_duration_seconds",
			Help:      "Round trip of an action through the extension.",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 20},
		}, []string{"action", "status"}),
		steps: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "cua",
			Subsystem: "engine",
			Name:      "steps_total",
			Help:      "Executed steps by action and verification outcome.",
		}, []string{"action", "verified"}),
		backoff: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "cua",
			Subsystem: "engine",
			Name:      "backoff_seconds_total",
			Help:      "Time spent waiting between attempts.",
		}),
		tasks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "cua",
			Subsystem: "engine",
			Name:      "tasks_total",
			Help:      "Tasks that reached a terminal status.",
		}, []string{"status"}),
		tasksRunning: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "cua",
			Subsystem: "engine",
			Name:      "tasks_running",
			Help:      "Tasks currently being executed.",
		}),
	}

	m.attempts = register(reg, m.attempts)
	m.actionDuration = register(reg, m.actionDuration)
	m.steps = register(reg, m.steps)
	m.backoff = register(reg, m.backoff)
	m.tasks = register(reg, m.tasks)
	m.tasksRunning = register(reg, m.tasksRunning)
	return m
}

func register[C prometheus.Collector](reg prometheus.Registerer, c C) C {
	if err := reg.Register(c); err != nil {
		if already, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := already.ExistingCollector.(C); ok {
				return existing
			}
		}
		panic(err)
	}
	return c
}

// ObserveAttempt counts one finished attempt.
func (m *Metrics) ObserveAttempt(reason string) {
	if m == nil {
		return
	}
	if reason == "" {
		reason = "success"
	}
	m.attempts.WithLabelValues(reason).Inc()
}

// ObserveAction records the round trip of one dispatched action.
func (m *Metrics) ObserveAction(action, status string, d time.Duration) {
	if m == nil {
		return
	}
	m.actionDuration.WithLabelValues(action, status).Observe(d.Seconds())
}

// ObserveStep counts a verified or rejected step.
func (m *Metrics) ObserveStep(action string, verified bool) {
	if m == nil {
		return
	}
	label := "false"
	if verified {
		label = "true"
	}
	m.steps.WithLabelValues(action, label).Inc()
}

// ObserveBackoff adds a retry wait.
func (m *Metrics) ObserveBackoff(d time.Duration) {
	if m == nil {
		return
	}
	m.backoff.Add(d.Seconds())
}

// TaskStarted marks a task as running.
func (m *Metrics) TaskStarted() {
	if m == nil {
		return
	}
	m.tasksRunning.Inc()
}

// TaskFinished marks a task as done with its terminal status.
func (m *Metrics) TaskFinished(status string) {
	if m == nil {
		return
	}
	m.tasksRunning.Dec()
	m.tasks.WithLabelValues(status).Inc()
}
