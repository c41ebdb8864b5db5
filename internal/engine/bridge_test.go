package engine

import (
	"context"
	"sync"
	"testing"
	"time"

	"cua/internal/bridge"
	"cua/internal/logging"
	"cua/internal/task"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// concurrentPartner pairs the actions the engine issues together.
var concurrentPartner = map[string]string{
	actionPageInfo:   actionElements,
	actionElements:   actionPageInfo,
	actionQuery:      actionScreenshot,
	actionScreenshot: actionQuery,
}

// extensionConn answers requests from inside Send, before the caller has
// started waiting. With reorder set it holds the first request of a
// concurrent pair and answers the pair newest first.
type extensionConn struct {
	channel *bridge.Channel
	reorder bool

	mu        sync.Mutex
	held      map[string]bridge.Request
	reordered int
}

func (c *extensionConn) ID() string   { return "ext-1" }
func (c *extensionConn) Closed() bool { return false }

func (c *extensionConn) Send(_ context.Context, msg any) error {
	req := msg.(bridge.Request)
	partner, paired := concurrentPartner[req.Action]
	if !c.reorder || !paired {
		c.answer(req)
		return nil
	}

	c.mu.Lock()
	earlier, ok := c.held[partner]
	if !ok {
		c.held[req.Action] = req
		c.mu.Unlock()
		return nil
	}
	delete(c.held, partner)
	c.reordered++
	c.mu.Unlock()

	c.answer(req)
	c.answer(earlier)
	return nil
}

func (c *extensionConn) answer(req bridge.Request) {
	resp, _ := pageResponder(req.ID, req.Action, req.Payload)
	c.channel.Resolve(req.ID, resp)
}

func runOverBridge(t *testing.T, reorder bool) (*task.Task, *bridge.Channel, *extensionConn, *scriptedOracle) {
	t.Helper()
	channel := bridge.NewChannel(bridge.Options{Logger: logging.Nop()})
	conn := &extensionConn{channel: channel, reorder: reorder, held: map[string]bridge.Request{}}
	channel.Register(conn)

	tk := task.New("task-1", "search for the example page")
	oracle := &scriptedOracle{task: tk, plan: completeAfter(2)}
	cfg := testConfig()
	cfg.ActionTimeout = 2 * time.Second
	cfg.ObserveTimeout = 2 * time.Second
	cfg.ScreenshotTimeout = 2 * time.Second
	orch := NewOrchestrator(&mapLookup{tasks: map[string]*task.Task{tk.ID(): tk}}, channel, oracle, cfg,
		WithSleeper(&recordingSleeper{}),
		WithMetrics(MustNewMetrics(prometheus.NewRegistry())),
		WithLogger(logging.Nop()))

	start := time.Now()
	require.NoError(t, orch.Run(context.Background(), tk.ID()))
	assert.Less(t, time.Since(start), time.Second, "no call should wait for its timeout")
	return tk, channel, conn, oracle
}

func TestRunOverBridgeWithImmediateResponses(t *testing.T) {
	tk, channel, _, oracle := runOverBridge(t, false)

	snap := tk.Snapshot()
	assert.Equal(t, task.StatusCompleted, snap.Status)
	assert.Equal(t, 0, snap.RetryCount)
	assert.Equal(t, 2, snap.StepsExecuted)
	require.Len(t, snap.Plan, 2)

	assert.Equal(t, 0, channel.Pending())
	assert.Equal(t, uint64(0), channel.LateResponses())
	assert.Equal(t, uint64(0), channel.UnknownResponses())

	require.Len(t, oracle.evidence, 1)
	assert.Equal(t, "https://example.test", oracle.evidence[0].URL)
	assert.Equal(t, "Example page body", oracle.evidence[0].Content)
}

func TestRunOverBridgeWithOutOfOrderResponses(t *testing.T) {
	tk, channel, conn, oracle := runOverBridge(t, true)

	snap := tk.Snapshot()
	assert.Equal(t, task.StatusCompleted, snap.Status)
	assert.Equal(t, 0, snap.RetryCount)
	assert.Equal(t, 2, snap.StepsExecuted)

	conn.mu.Lock()
	reordered := conn.reordered
	conn.mu.Unlock()
	// Three observations plus the final evidence pair.
	assert.GreaterOrEqual(t, reordered, 4)

	assert.Equal(t, 0, channel.Pending())
	assert.Equal(t, uint64(0), channel.LateResponses())
	assert.Equal(t, uint64(0), channel.UnknownResponses())

	require.Len(t, oracle.evidence, 1)
	ev := oracle.evidence[0]
	assert.Equal(t, "https://example.test", ev.URL)
	assert.Equal(t, "Example", ev.Title)
	assert.Equal(t, "Example page body", ev.Content)
	assert.Equal(t, "AAAA", ev.Screenshot)
}
