package task

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fixedClock() func() time.Time {
	ts := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	return func() time.Time { return ts }
}

func TestNewTaskStartsPlanning(t *testing.T) {
	tk := newWithClock("task-1", "find the weather", fixedClock())
	snap := tk.Snapshot()

	assert.Equal(t, "task-1", snap.ID)
	assert.Equal(t, "find the weather", snap.Description)
	assert.Equal(t, StatusPlanning, snap.Status)
	assert.Zero(t, snap.StepsExecuted)
	assert.Empty(t, snap.Plan)
}

func TestRecordStepKeepsCountInSyncWithPlan(t *testing.T) {
	tk := New("task-1", "goal")
	require.True(t, tk.RecordStep(NewActionRecord("navigate", map[string]any{"url": "https://a"})))
	require.True(t, tk.RecordStep(NewActionRecord("press", map[string]any{"key": "Enter"})))

	snap := tk.Snapshot()
	assert.Equal(t, 2, snap.StepsExecuted)
	assert.Len(t, snap.Plan, 2)
}

func TestSnapshotsAreIsolatedFromLaterWrites(t *testing.T) {
	tk := New("task-1", "goal")
	tk.AppendLog(LogInfo, "first", "")
	tk.RecordStep(NewActionRecord("navigate", nil))
	before := tk.Snapshot()

	tk.AppendLog(LogInfo, "second", "")
	tk.RecordStep(NewActionRecord("press", nil))

	assert.Len(t, before.Log, 1)
	assert.Len(t, before.Plan, 1)
	assert.Len(t, tk.Snapshot().Log, 2)
}

func TestBeginAttemptResetsProgress(t *testing.T) {
	tk := New("task-1", "goal")
	tk.SetStatus(StatusProcessing)
	tk.RecordStep(NewActionRecord("navigate", nil))
	tk.SetCurrentStep(&StepDescriptor{Index: 1, Total: DynamicTotal, Action: "navigate"})

	require.True(t, tk.BeginAttempt(1))
	snap := tk.Snapshot()
	assert.Equal(t, StatusPlanning, snap.Status)
	assert.Equal(t, 1, snap.RetryCount)
	assert.Zero(t, snap.StepsExecuted)
	assert.Empty(t, snap.Plan)
	assert.Nil(t, snap.CurrentStep)
}

func TestTerminalTaskIgnoresMutations(t *testing.T) {
	tk := New("task-1", "goal")
	require.True(t, tk.Finish(StatusCompleted, &LogEntry{Kind: LogSuccess, Title: "Task completed"}))

	assert.False(t, tk.SetStatus(StatusPlanning))
	assert.False(t, tk.RecordStep(NewActionRecord("navigate", nil)))
	assert.False(t, tk.AppendLog(LogInfo, "late", ""))
	assert.False(t, tk.SetVerificationResult("late"))
	assert.False(t, tk.Finish(StatusFailed, nil))

	snap := tk.Snapshot()
	assert.Equal(t, StatusCompleted, snap.Status)
	assert.Len(t, snap.Log, 1)
	assert.False(t, snap.Log[0].Timestamp.IsZero())
}

func TestSetStatusRejectsTerminalValues(t *testing.T) {
	tk := New("task-1", "goal")
	assert.False(t, tk.SetStatus(StatusFailed))
	assert.Equal(t, StatusPlanning, tk.Status())
}

func TestFailRecordsVerdictAndLog(t *testing.T) {
	tk := New("task-1", "goal")
	tk.Fail("Attempt 1 failed", "Timeout on step 2")

	snap := tk.Snapshot()
	assert.Equal(t, "Timeout on step 2", snap.VerificationResult)
	require.Len(t, snap.Log, 1)
	assert.Equal(t, LogError, snap.Log[0].Kind)
}

func TestConcurrentReadersSeeConsistentState(t *testing.T) {
	tk := New("task-1", "goal")
	var wg sync.WaitGroup
	stop := make(chan struct{})

	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-stop:
					return
				default:
				}
				snap := tk.Snapshot()
				if snap.StepsExecuted != len(snap.Plan) {
					t.Errorf("steps %d != plan %d", snap.StepsExecuted, len(snap.Plan))
					return
				}
			}
		}()
	}

	for i := 0; i < 200; i++ {
		tk.RecordStep(NewActionRecord("press", map[string]any{"key": "Tab"}))
		if i%50 == 49 {
			tk.BeginAttempt(i / 50)
		}
	}
	close(stop)
	wg.Wait()
}

func TestActionRecordDescriptions(t *testing.T) {
	cases := []struct {
		rec         ActionRecord
		description string
		summary     string
	}{
		{NewActionRecord("navigate", map[string]any{"url": "https://x.test"}), "Going to https://x.test", "Navigate to https://x.test"},
		{NewActionRecord("smartClick", map[string]any{"text": "Login"}), "Clicking Login", "Click element with text 'Login'"},
		{NewActionRecord("smartClick", map[string]any{"selector": "#go"}), "Clicking element", "Click element matching '#go'"},
		{NewActionRecord("smartType", map[string]any{"text": "hello"}), "Typing 'hello'", "Type 'hello' into input field"},
		{NewActionRecord("press", map[string]any{"key": "Enter"}), "Pressing Enter", "Press Enter"},
		{NewActionRecord("download", map[string]any{"url": "https://x.test/a.pdf"}), "Downloading https://x.test/a.pdf", "Download file from https://x.test/a.pdf"},
		{NewActionRecord("uploadFile", map[string]any{"filename": "cv.pdf"}), "Uploading file", "Upload file: cv.pdf"},
		{NewActionRecord("scroll", map[string]any{"y": 100}), "scroll", `scroll: {"y":100}`},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.description, tc.rec.Description())
		assert.Equal(t, tc.summary, tc.rec.Summary())
	}
}

func TestNewActionRecordCopiesPayload(t *testing.T) {
	payload := map[string]any{"url": "https://a"}
	rec := NewActionRecord("navigate", payload)
	payload["url"] = "https://b"
	assert.Equal(t, "https://a", rec.Payload["url"])
}
