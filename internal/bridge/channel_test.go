package bridge

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"cua/internal/agent/ports"
	"cua/internal/logging"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeConn struct {
	id string

	mu      sync.Mutex
	sent    []Request
	sendErr error
	closed  bool
	onSend  func(Request)
}

func (f *fakeConn) ID() string { return f.id }

func (f *fakeConn) Closed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

func (f *fakeConn) Send(_ context.Context, msg any) error {
	f.mu.Lock()
	if f.sendErr != nil {
		f.mu.Unlock()
		return f.sendErr
	}
	req := msg.(Request)
	f.sent = append(f.sent, req)
	hook := f.onSend
	f.mu.Unlock()
	if hook != nil {
		hook(req)
	}
	return nil
}

func (f *fakeConn) requests() []Request {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]Request(nil), f.sent...)
}

func newTestChannel(policy SelectionPolicy) *Channel {
	return NewChannel(Options{Policy: policy, Logger: logging.Nop()})
}

func TestSelectFollowsPolicy(t *testing.T) {
	a, b := &fakeConn{id: "a"}, &fakeConn{id: "b"}

	first := newTestChannel(FirstRegistered)
	_, err := first.Select()
	require.ErrorIs(t, err, ErrNoConnection)
	assert.False(t, first.HasConnection())

	first.Register(a)
	first.Register(b)
	first.Register(a)
	assert.Equal(t, 2, first.Connections())
	conn, err := first.Select()
	require.NoError(t, err)
	assert.Equal(t, "a", conn.ID())

	last := newTestChannel(LastRegistered)
	last.Register(a)
	last.Register(b)
	conn, err = last.Select()
	require.NoError(t, err)
	assert.Equal(t, "b", conn.ID())

	last.Unregister(b)
	conn, err = last.Select()
	require.NoError(t, err)
	assert.Equal(t, "a", conn.ID())
}

func TestParseSelectionPolicy(t *testing.T) {
	p, err := ParseSelectionPolicy("")
	require.NoError(t, err)
	assert.Equal(t, FirstRegistered, p)
	p, err = ParseSelectionPolicy("LAST")
	require.NoError(t, err)
	assert.Equal(t, LastRegistered, p)
	_, err = ParseSelectionPolicy("random")
	assert.Error(t, err)
}

func TestCallResolvesFastResponse(t *testing.T) {
	ch := newTestChannel(FirstRegistered)
	conn := &fakeConn{id: "a"}
	// Respond synchronously inside Send: the slot must already exist.
	conn.onSend = func(req Request) {
		assert.True(t, ch.Resolve(req.ID, ports.ActionResponse{ID: req.ID, Status: "success"}))
	}
	ch.Register(conn)

	resp, err := ch.Call(context.Background(), "t_step_1_0", "navigate", map[string]any{"url": "https://a.test"}, time.Second)
	require.NoError(t, err)
	assert.True(t, resp.OK())
	assert.Equal(t, 0, ch.Pending())

	sent := conn.requests()
	require.Len(t, sent, 1)
	assert.Equal(t, Request{ID: "t_step_1_0", Action: "navigate", Payload: map[string]any{"url": "https://a.test"}}, sent[0])
}

func TestAwaitTimesOutAndDiscardsLateResponse(t *testing.T) {
	ch := newTestChannel(FirstRegistered)
	ch.Expect("slow")

	_, err := ch.AwaitResponse(context.Background(), "slow", 10*time.Millisecond)
	require.ErrorIs(t, err, ErrTimedOut)
	assert.Equal(t, 0, ch.Pending())

	assert.False(t, ch.Resolve("slow", ports.ActionResponse{ID: "slow", Status: "success"}))
	assert.Equal(t, uint64(1), ch.LateResponses())
	assert.Equal(t, uint64(0), ch.UnknownResponses())
}

func TestResolveAtMostOnce(t *testing.T) {
	ch := newTestChannel(FirstRegistered)
	ch.Expect("x")

	assert.True(t, ch.Resolve("x", ports.ActionResponse{ID: "x", Status: "success"}))
	assert.False(t, ch.Resolve("x", ports.ActionResponse{ID: "x", Status: "error"}))
	assert.False(t, ch.Resolve("never", ports.ActionResponse{ID: "never"}))
	assert.Equal(t, uint64(1), ch.UnknownResponses())

	resp, err := ch.AwaitResponse(context.Background(), "x", time.Second)
	require.NoError(t, err)
	assert.Equal(t, "success", resp.Status)
}

func TestAwaitHonoursCancellation(t *testing.T) {
	ch := newTestChannel(FirstRegistered)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := ch.AwaitResponse(ctx, "c", time.Minute)
	require.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 0, ch.Pending())
}

func TestDispatchFailures(t *testing.T) {
	ch := newTestChannel(FirstRegistered)

	_, err := ch.Call(context.Background(), "id", "press", nil, time.Second)
	require.ErrorIs(t, err, ErrNoConnection)

	broken := &fakeConn{id: "broken", sendErr: errors.New("write: broken pipe")}
	ch.Register(broken)
	_, err = ch.Call(context.Background(), "id", "press", nil, time.Second)
	var chErr *ChannelError
	require.ErrorAs(t, err, &chErr)
	assert.Equal(t, "broken", chErr.ConnID)
	assert.Equal(t, 0, ch.Pending())

	closed := &fakeConn{id: "closed", closed: true}
	err = ch.Dispatch(context.Background(), closed, "id2", "press", nil)
	require.ErrorAs(t, err, &chErr)
}

func TestConcurrentCallsInterleave(t *testing.T) {
	ch := newTestChannel(FirstRegistered)
	conn := &fakeConn{id: "a"}
	conn.onSend = func(req Request) {
		go ch.Resolve(req.ID, ports.ActionResponse{ID: req.ID, Status: "success", Error: req.ID})
	}
	ch.Register(conn)

	var wg sync.WaitGroup
	for _, cid := range []string{"t1_step_1_0", "t2_step_1_0", "t3_step_1_0", "t4_step_1_0"} {
		wg.Add(1)
		go func(cid string) {
			defer wg.Done()
			resp, err := ch.Call(context.Background(), cid, "press", nil, time.Second)
			assert.NoError(t, err)
			assert.Equal(t, cid, resp.Error)
		}(cid)
	}
	wg.Wait()
	assert.Equal(t, 0, ch.Pending())
}

func TestUnregisterLeavesPendingToTimeOut(t *testing.T) {
	ch := newTestChannel(FirstRegistered)
	conn := &fakeConn{id: "a"}
	ch.Register(conn)
	conn.onSend = func(Request) { ch.Unregister(conn) }

	_, err := ch.Call(context.Background(), "orphan", "press", nil, 20*time.Millisecond)
	require.ErrorIs(t, err, ErrTimedOut)
	assert.False(t, ch.HasConnection())
}

func TestOutOfOrderResponsesReachTheirWaiters(t *testing.T) {
	ch := newTestChannel(FirstRegistered)
	conn := &fakeConn{id: "a"}
	ch.Register(conn)

	type result struct {
		resp ports.ActionResponse
		err  error
	}
	first, second := make(chan result, 1), make(chan result, 1)
	go func() {
		resp, err := ch.Call(context.Background(), "t_step_1_0", "navigate", nil, time.Second)
		first <- result{resp, err}
	}()
	go func() {
		resp, err := ch.Call(context.Background(), "u_step_1_0", "press", nil, time.Second)
		second <- result{resp, err}
	}()
	require.Eventually(t, func() bool { return len(conn.requests()) == 2 }, time.Second, time.Millisecond)

	require.True(t, ch.Resolve("u_step_1_0", ports.ActionResponse{ID: "u_step_1_0", Status: "success", Error: "second"}))
	require.True(t, ch.Resolve("t_step_1_0", ports.ActionResponse{ID: "t_step_1_0", Status: "success", Error: "first"}))

	r1, r2 := <-first, <-second
	require.NoError(t, r1.err)
	require.NoError(t, r2.err)
	assert.Equal(t, "first", r1.resp.Error)
	assert.Equal(t, "second", r2.resp.Error)
}

func TestResolveBeforeAwaitIsDelivered(t *testing.T) {
	ch := newTestChannel(FirstRegistered)
	conn := &fakeConn{id: "a"}
	ch.Register(conn)
	conn.onSend = func(req Request) {
		assert.True(t, ch.Resolve(req.ID, ports.ActionResponse{ID: req.ID, Status: "success"}))
		assert.False(t, ch.Resolve(req.ID, ports.ActionResponse{ID: req.ID, Status: "error"}))
	}

	ch.Expect("early")
	require.NoError(t, ch.Dispatch(context.Background(), conn, "early", "press", nil))
	assert.Equal(t, 1, ch.Pending())

	start := time.Now()
	resp, err := ch.AwaitResponse(context.Background(), "early", 200*time.Millisecond)
	require.NoError(t, err)
	assert.Equal(t, "success", resp.Status)
	assert.Less(t, time.Since(start), 100*time.Millisecond)
	assert.Equal(t, 0, ch.Pending())
	assert.Equal(t, uint64(1), ch.LateResponses())
}
