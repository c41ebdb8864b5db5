// Package bridge multiplexes action requests from running tasks over the
// browser extension connection, pairing each response with its waiter by
// correlation id.
package bridge

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"cua/internal/agent/ports"
	"cua/internal/logging"
	"cua/internal/observability"

	lru "github.com/hashicorp/golang-lru/v2"
)

const defaultTombstones = 1024

var (
	ErrNoConnection = ports.ErrNoConnection
	ErrTimedOut     = ports.ErrTimedOut
)

// ChannelError reports a failed send on a specific connection.
type ChannelError struct {
	ConnID string
	Err    error
}

func (e *ChannelError) Error() string {
	return fmt.Sprintf("send on connection %s: %v", e.ConnID, e.Err)
}

func (e *ChannelError) Unwrap() error {
	return e.Err
}

// Conn is a live duplex handle to a remote executor.
type Conn interface {
	ID() string
	Send(ctx context.Context, msg any) error
	Closed() bool
}

// SelectionPolicy picks the connection a dispatch goes to.
type SelectionPolicy int

const (
	FirstRegistered SelectionPolicy = iota
	LastRegistered
)

// ParseSelectionPolicy maps "first" and "last" to a policy.
func ParseSelectionPolicy(s string) (SelectionPolicy, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "first":
		return FirstRegistered, nil
	case "last":
		return LastRegistered, nil
	default:
		return FirstRegistered, fmt.Errorf("unknown selection policy %q", s)
	}
}

func (p SelectionPolicy) String() string {
	if p == LastRegistered {
		return "last"
	}
	return "first"
}

// Request is the wire form of a dispatched action.
type Request struct {
	ID      string         `json:"id"`
	Action  string         `json:"action"`
	Payload map[string]any `json:"payload"`
}

// Options configures a Channel.
type Options struct {
	Policy SelectionPolicy
	// Tombstones bounds how many concluded ids are remembered for late
	// response detection.
	Tombstones int
	Metrics    *observability.MetricsCollector
	Logger     logging.Logger
}

// Channel is the correlation layer between tasks and the extension.
type Channel struct {
	policy  SelectionPolicy
	metrics *observability.MetricsCollector
	logger  logging.Logger

	connMu sync.RWMutex
	conns  []Conn

	pendingMu sync.Mutex
	pending   map[string]*slot
	concluded *lru.Cache[string, struct{}]

	lateResponses    atomic.Uint64
	unknownResponses atomic.Uint64
}

var _ ports.ActionChannel = (*Channel)(nil)

// slot holds one expected response. A resolved slot stays in the pending
// map until its waiter collects it.
type slot struct {
	ch       chan ports.ActionResponse
	resolved bool
}

func newSlot() *slot {
	return &slot{ch: make(chan ports.ActionResponse, 1)}
}

// NewChannel creates an empty channel.
func NewChannel(opts Options) *Channel {
	size := opts.Tombstones
	if size <= 0 {
		size = defaultTombstones
	}
	concluded, _ := lru.New[string, struct{}](size)
	logger := opts.Logger
	if logging.IsNil(logger) {
		logger = logging.NewComponentLogger("bridge")
	}
	return &Channel{
		policy:    opts.Policy,
		metrics:   opts.Metrics,
		logger:    logger,
		pending:   make(map[string]*slot),
		concluded: concluded,
	}
}

// Register adds conn to the live set. Registering twice is a no-op.
func (c *Channel) Register(conn Conn) {
	c.connMu.Lock()
	if slices.Contains(c.conns, conn) {
		c.connMu.Unlock()
		return
	}
	c.conns = append(c.conns, conn)
	total := len(c.conns)
	c.connMu.Unlock()

	c.metrics.ConnectionOpened(context.Background())
	c.logger.Info("Extension connected: %s (total: %d)", conn.ID(), total)
}

// Unregister removes conn. Requests already dispatched on it are left to
// time out on their own.
func (c *Channel) Unregister(conn Conn) {
	c.connMu.Lock()
	idx := slices.Index(c.conns, conn)
	if idx < 0 {
		c.connMu.Unlock()
		return
	}
	c.conns = slices.Delete(c.conns, idx, idx+1)
	total := len(c.conns)
	c.connMu.Unlock()

	c.metrics.ConnectionClosed(context.Background())
	c.logger.Info("Extension disconnected: %s (remaining: %d)", conn.ID(), total)
}

// HasConnection reports whether any extension is connected.
func (c *Channel) HasConnection() bool {
	c.connMu.RLock()
	defer c.connMu.RUnlock()
	return len(c.conns) > 0
}

// Connections returns the number of live connections.
func (c *Channel) Connections() int {
	c.connMu.RLock()
	defer c.connMu.RUnlock()
	return len(c.conns)
}

// Select returns the connection chosen by the channel's policy.
func (c *Channel) Select() (Conn, error) {
	c.connMu.RLock()
	defer c.connMu.RUnlock()
	if len(c.conns) == 0 {
		return nil, ErrNoConnection
	}
	if c.policy == LastRegistered {
		return c.conns[len(c.conns)-1], nil
	}
	return c.conns[0], nil
}

// Dispatch sends an action request on conn.
func (c *Channel) Dispatch(ctx context.Context, conn Conn, correlationID, action string, payload map[string]any) error {
	if conn == nil {
		return ErrNoConnection
	}
	if conn.Closed() {
		return &ChannelError{ConnID: conn.ID(), Err: errors.New("connection closed")}
	}
	if payload == nil {
		payload = map[string]any{}
	}
	if err := conn.Send(ctx, Request{ID: correlationID, Action: action, Payload: payload}); err != nil {
		return &ChannelError{ConnID: conn.ID(), Err: err}
	}
	c.logger.Debug("Dispatched %s [%s]", action, correlationID)
	return nil
}

// Expect reserves the response slot for correlationID. Call it before
// dispatching so a fast response is not lost.
func (c *Channel) Expect(correlationID string) {
	c.pendingMu.Lock()
	defer c.pendingMu.Unlock()
	if _, ok := c.pending[correlationID]; !ok {
		c.pending[correlationID] = newSlot()
	}
	c.concluded.Remove(correlationID)
}

// Forget drops the slot for correlationID without resolving it.
func (c *Channel) Forget(correlationID string) {
	c.pendingMu.Lock()
	defer c.pendingMu.Unlock()
	c.concludeLocked(correlationID)
}

// AwaitResponse waits for the response to correlationID until it arrives,
// timeout elapses or ctx is done. The slot is removed in every case. A
// response resolved before the call is returned immediately.
func (c *Channel) AwaitResponse(ctx context.Context, correlationID string, timeout time.Duration) (ports.ActionResponse, error) {
	c.pendingMu.Lock()
	s, ok := c.pending[correlationID]
	if !ok {
		s = newSlot()
		c.pending[correlationID] = s
	}
	c.pendingMu.Unlock()

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	var waitErr error
	select {
	case resp := <-s.ch:
		c.release(correlationID, s)
		return resp, nil
	case <-timer.C:
		waitErr = ErrTimedOut
	case <-ctx.Done():
		waitErr = ctx.Err()
	}

	c.pendingMu.Lock()
	resolved := s.resolved
	if c.pending[correlationID] == s {
		delete(c.pending, correlationID)
	}
	c.concluded.Add(correlationID, struct{}{})
	c.pendingMu.Unlock()

	if resolved {
		// Resolved between the deadline and taking the lock.
		return <-s.ch, nil
	}
	if errors.Is(waitErr, ErrTimedOut) {
		c.logger.Warn("Timeout waiting for response [%s] after %s", correlationID, timeout)
	}
	return ports.ActionResponse{}, waitErr
}

// release drops a consumed slot, leaving any newer slot for the same id alone.
func (c *Channel) release(correlationID string, s *slot) {
	c.pendingMu.Lock()
	defer c.pendingMu.Unlock()
	if c.pending[correlationID] == s {
		delete(c.pending, correlationID)
	}
}

// Resolve hands resp to the waiter on correlationID. It returns false for
// unknown, late or duplicate ids.
func (c *Channel) Resolve(correlationID string, resp ports.ActionResponse) bool {
	c.pendingMu.Lock()
	s, ok := c.pending[correlationID]
	if ok && !s.resolved {
		s.resolved = true
		s.ch <- resp
		c.concluded.Add(correlationID, struct{}{})
		c.pendingMu.Unlock()
		return true
	}
	late := ok || c.concluded.Contains(correlationID)
	c.pendingMu.Unlock()

	if late {
		c.lateResponses.Add(1)
		c.logger.Debug("Discarding late or duplicate response [%s]", correlationID)
	} else {
		c.unknownResponses.Add(1)
		c.logger.Warn("Received response for unknown request [%s]", correlationID)
	}
	return false
}

// Call selects a connection, dispatches the action and waits for its response.
func (c *Channel) Call(ctx context.Context, correlationID, action string, payload map[string]any, timeout time.Duration) (ports.ActionResponse, error) {
	conn, err := c.Select()
	if err != nil {
		return ports.ActionResponse{}, err
	}
	c.Expect(correlationID)
	if err := c.Dispatch(ctx, conn, correlationID, action, payload); err != nil {
		c.Forget(correlationID)
		return ports.ActionResponse{}, err
	}
	return c.AwaitResponse(ctx, correlationID, timeout)
}

// Pending returns the number of outstanding slots.
func (c *Channel) Pending() int {
	c.pendingMu.Lock()
	defer c.pendingMu.Unlock()
	return len(c.pending)
}

// LateResponses counts responses that arrived after their waiter concluded.
func (c *Channel) LateResponses() uint64 {
	return c.lateResponses.Load()
}

// UnknownResponses counts responses whose id was never expected.
func (c *Channel) UnknownResponses() uint64 {
	return c.unknownResponses.Load()
}

func (c *Channel) concludeLocked(correlationID string) {
	delete(c.pending, correlationID)
	c.concluded.Add(correlationID, struct{}{})
}
