package task

import (
	"sync"
	"sync/atomic"
	"time"
)

// Status is the lifecycle state of a task.
type Status string

const (
	StatusPlanning   Status = "planning"
	StatusProcessing Status = "processing"
	StatusVerifying  Status = "verifying"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
)

// IsTerminal reports whether no further mutation can happen.
func (s Status) IsTerminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// IsActive reports whether the task is still being worked on.
func (s Status) IsActive() bool {
	return s == StatusPlanning || s == StatusProcessing || s == StatusVerifying
}

// LogKind classifies a task log entry.
type LogKind string

const (
	LogInfo    LogKind = "info"
	LogStep    LogKind = "step"
	LogSuccess LogKind = "success"
	LogWarning LogKind = "warning"
	LogError   LogKind = "error"
)

// LogEntry is one line of the task's user-visible execution log.
type LogEntry struct {
	Timestamp time.Time `json:"timestamp"`
	Kind      LogKind   `json:"type"`
	Title     string    `json:"title"`
	Detail    string    `json:"details"`
}

// DynamicTotal is reported as the step total because plans are built one step at a time.
const DynamicTotal = "dynamic"

// StepDescriptor describes the action currently in flight.
type StepDescriptor struct {
	Index       int            `json:"index"`
	Total       string         `json:"total"`
	Action      string         `json:"action"`
	Payload     map[string]any `json:"payload"`
	Description string         `json:"description"`
}

// State is an immutable snapshot of a task. Slices and maps reachable from a
// State are shared with later snapshots and must be treated as read-only.
type State struct {
	ID                 string
	Description        string
	Status             Status
	Plan               []ActionRecord
	StepsExecuted      int
	RetryCount         int
	VerificationResult string
	CurrentStep        *StepDescriptor
	Log                []LogEntry
	CreatedAt          time.Time
	UpdatedAt          time.Time
}

// Task holds the mutable execution state of one submitted goal.
//
// A single orchestrator goroutine writes; any number of goroutines read.
// Writers serialise on mu and publish a fresh State through an atomic pointer,
// so Snapshot never blocks behind a running attempt. Once the status is
// terminal every mutator is a no-op.
type Task struct {
	mu    sync.Mutex
	state atomic.Pointer[State]
	now   func() time.Time
}

// New creates a task in the planning state.
func New(id, description string) *Task {
	return newWithClock(id, description, time.Now)
}

func newWithClock(id, description string, now func() time.Time) *Task {
	t := &Task{now: now}
	ts := now()
	t.state.Store(&State{
		ID:          id,
		Description: description,
		Status:      StatusPlanning,
		CreatedAt:   ts,
		UpdatedAt:   ts,
	})
	return t
}

// ID returns the immutable task identifier.
func (t *Task) ID() string { return t.state.Load().ID }

// Description returns the immutable task goal.
func (t *Task) Description() string { return t.state.Load().Description }

// Snapshot returns the latest published state.
func (t *Task) Snapshot() State { return *t.state.Load() }

// Status returns the current status.
func (t *Task) Status() Status { return t.state.Load().Status }

// update applies fn to a copy of the current state and publishes it. It
// returns false, without calling fn, when the task is already terminal.
func (t *Task) update(fn func(s *State)) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	cur := t.state.Load()
	if cur.Status.IsTerminal() {
		return false
	}
	next := *cur
	fn(&next)
	next.UpdatedAt = t.now()
	t.state.Store(&next)
	return true
}

// SetStatus moves the task to a non-terminal status. Use Finish for terminal ones.
func (t *Task) SetStatus(status Status) bool {
	if status.IsTerminal() {
		return false
	}
	return t.update(func(s *State) { s.Status = status })
}

// BeginAttempt records the attempt index and clears per-attempt progress.
func (t *Task) BeginAttempt(retry int) bool {
	return t.update(func(s *State) {
		s.Status = StatusPlanning
		s.RetryCount = retry
		s.Plan = nil
		s.StepsExecuted = 0
		s.CurrentStep = nil
	})
}

// SetCurrentStep publishes the action in flight; nil clears it.
func (t *Task) SetCurrentStep(step *StepDescriptor) bool {
	return t.update(func(s *State) { s.CurrentStep = step })
}

// RecordStep appends a confirmed action and bumps StepsExecuted in one
// transition, keeping StepsExecuted == len(Plan) for every reader.
func (t *Task) RecordStep(rec ActionRecord) bool {
	return t.update(func(s *State) {
		plan := make([]ActionRecord, len(s.Plan), len(s.Plan)+1)
		copy(plan, s.Plan)
		s.Plan = append(plan, rec)
		s.StepsExecuted = len(s.Plan)
	})
}

// SetVerificationResult overwrites the last verdict or failure message.
func (t *Task) SetVerificationResult(msg string) bool {
	return t.update(func(s *State) { s.VerificationResult = msg })
}

// AppendLog adds an entry to the execution log.
func (t *Task) AppendLog(kind LogKind, title, detail string) bool {
	return t.update(func(s *State) {
		s.Log = appendLog(s.Log, LogEntry{Timestamp: t.now(), Kind: kind, Title: title, Detail: detail})
	})
}

// Fail records a failure message both as verification result and as an
// error log entry without ending the task.
func (t *Task) Fail(title, msg string) bool {
	return t.update(func(s *State) {
		s.VerificationResult = msg
		s.CurrentStep = nil
		s.Log = appendLog(s.Log, LogEntry{Timestamp: t.now(), Kind: LogError, Title: title, Detail: msg})
	})
}

// Finish moves the task to a terminal status, optionally adding a final log entry.
func (t *Task) Finish(status Status, entry *LogEntry) bool {
	if !status.IsTerminal() {
		return false
	}
	return t.update(func(s *State) {
		s.Status = status
		s.CurrentStep = nil
		if entry != nil {
			e := *entry
			if e.Timestamp.IsZero() {
				e.Timestamp = t.now()
			}
			s.Log = appendLog(s.Log, e)
		}
	})
}

// appendLog copies before appending so previously published snapshots never
// observe a shared backing array growing underneath them.
func appendLog(log []LogEntry, e LogEntry) []LogEntry {
	next := make([]LogEntry, len(log), len(log)+1)
	copy(next, log)
	return append(next, e)
}
