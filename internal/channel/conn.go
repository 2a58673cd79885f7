// ABOUTME: Conn is one long-lived socket connection with its own reconnect state machine.
// ABOUTME: Exponential backoff with capped attempts, FIFO queue drain on (re)connect.

package channel

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// ErrReconnectExhausted indicates the connection gave up after the configured
// number of attempts. The connection stays down until an explicit Retry.
var ErrReconnectExhausted = errors.New("reconnect attempts exhausted")

// State describes where a connection is in its lifecycle.
type State int

const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
	StateExhausted
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateExhausted:
		return "exhausted"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// DisconnectReason translates a transport failure into a specific description
// rather than surfacing an opaque error event.
type DisconnectReason int

const (
	// ReasonNeverConnected: the connection could not be established at all.
	ReasonNeverConnected DisconnectReason = iota
	// ReasonDroppedMidSession: an established connection failed without a close frame.
	ReasonDroppedMidSession
	// ReasonClosing: the client initiated the close.
	ReasonClosing
	// ReasonClosedUnexpectedly: the peer sent a close frame the client did not ask for.
	ReasonClosedUnexpectedly
)

func (r DisconnectReason) String() string {
	switch r {
	case ReasonNeverConnected:
		return "never-connected"
	case ReasonDroppedMidSession:
		return "dropped-mid-session"
	case ReasonClosing:
		return "closing"
	case ReasonClosedUnexpectedly:
		return "closed-unexpectedly"
	default:
		return "unknown"
	}
}

// ReconnectPolicy configures the backoff between reconnect attempts.
type ReconnectPolicy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
}

// Backoff returns the delay before the next attempt after the given number of
// consecutive failures: base doubled per failure, capped at MaxDelay.
func (p ReconnectPolicy) Backoff(failures int) time.Duration {
	d := p.BaseDelay << failures
	if d <= 0 || d > p.MaxDelay {
		return p.MaxDelay
	}
	return d
}

// Status is a point-in-time snapshot of one connection.
type Status struct {
	Open       bool
	Connecting bool
	Exhausted  bool
	Attempts   int
	QueueLen   int
}

// Callbacks are invoked by the connection as its state changes. All fields are
// optional. Callbacks run on the connection's goroutine; they must not block.
type Callbacks struct {
	// OnFrame receives every inbound frame in arrival order.
	OnFrame func(data []byte)
	// OnConnect fires after the socket opens, before the queue drains.
	OnConnect func()
	// OnDisconnect fires with the translated reason whenever the socket drops.
	OnDisconnect func(reason DisconnectReason)
	// OnExhausted fires once when reconnect attempts run out.
	OnExhausted func()
}

// Conn is one long-lived socket connection. It reconnects transparently with
// exponential backoff and queues outbound frames while disconnected.
type Conn struct {
	name      string
	url       string
	dialer    Dialer
	policy    ReconnectPolicy
	callbacks Callbacks
	logger    *slog.Logger

	mu            sync.Mutex
	sock          Socket
	state         State
	attempts      int
	everConnected bool
	closing       bool
	queue         [][]byte
	gen           int // connection generation, fences stale read loops
}

// NewConn creates a connection for the given endpoint. The connection does
// not dial until Connect is called.
func NewConn(name, url string, dialer Dialer, policy ReconnectPolicy, cb Callbacks, logger *slog.Logger) *Conn {
	if logger == nil {
		logger = slog.Default()
	}
	return &Conn{
		name:      name,
		url:       url,
		dialer:    dialer,
		policy:    policy,
		callbacks: cb,
		logger:    logger.With("component", "channel", "channel", name),
		state:     StateDisconnected,
	}
}

// Connect starts the connection. It is idempotent while the connection is
// already open or connecting, and a no-op after exhaustion (use Retry) or Close.
func (c *Conn) Connect(ctx context.Context) {
	c.mu.Lock()
	if c.closing || c.state == StateConnected || c.state == StateConnecting || c.state == StateExhausted {
		c.mu.Unlock()
		return
	}
	c.state = StateConnecting
	c.mu.Unlock()

	go c.connectLoop(ctx)
}

// Retry resets the attempt counter after exhaustion and reconnects.
// It is the explicit external retry; nothing reconnects automatically once
// attempts are exhausted.
func (c *Conn) Retry(ctx context.Context) {
	c.mu.Lock()
	if c.closing || c.state == StateConnected || c.state == StateConnecting {
		c.mu.Unlock()
		return
	}
	c.attempts = 0
	c.state = StateConnecting
	c.mu.Unlock()

	go c.connectLoop(ctx)
}

// connectLoop dials until connected, attempts are exhausted, or ctx ends.
func (c *Conn) connectLoop(ctx context.Context) {
	for {
		c.mu.Lock()
		if c.closing {
			c.state = StateClosed
			c.mu.Unlock()
			return
		}
		c.mu.Unlock()

		sock, err := c.dialer.Dial(ctx, c.url)
		if err == nil {
			c.handleConnected(ctx, sock)
			return
		}

		c.mu.Lock()
		c.attempts++
		failures := c.attempts
		everConnected := c.everConnected
		if failures >= c.policy.MaxAttempts {
			c.state = StateExhausted
			c.mu.Unlock()
			c.logger.Warn("reconnect attempts exhausted", "attempts", failures, "error", err)
			if !everConnected && c.callbacks.OnDisconnect != nil {
				c.callbacks.OnDisconnect(ReasonNeverConnected)
			}
			if c.callbacks.OnExhausted != nil {
				c.callbacks.OnExhausted()
			}
			return
		}
		c.state = StateConnecting
		c.mu.Unlock()

		if !everConnected && c.callbacks.OnDisconnect != nil {
			c.callbacks.OnDisconnect(ReasonNeverConnected)
		}

		delay := c.policy.Backoff(failures)
		c.logger.Debug("reconnect scheduled", "attempt", failures, "delay", delay, "error", err)

		select {
		case <-ctx.Done():
			c.mu.Lock()
			c.state = StateDisconnected
			c.mu.Unlock()
			return
		case <-time.After(delay):
		}
	}
}

// handleConnected installs the new socket, resets the attempt counter,
// drains the queue, and starts the read loop.
func (c *Conn) handleConnected(ctx context.Context, sock Socket) {
	c.mu.Lock()
	if c.closing {
		c.mu.Unlock()
		_ = sock.Close()
		return
	}
	c.sock = sock
	c.state = StateConnected
	c.attempts = 0
	c.everConnected = true
	c.gen++
	gen := c.gen
	queued := len(c.queue)
	c.mu.Unlock()

	c.logger.Info("channel connected", "queued", queued)
	if c.callbacks.OnConnect != nil {
		c.callbacks.OnConnect()
	}

	c.flushQueue()
	go c.readLoop(ctx, sock, gen)
}

// readLoop delivers inbound frames in arrival order until the socket fails.
func (c *Conn) readLoop(ctx context.Context, sock Socket, gen int) {
	for {
		data, err := sock.ReadMessage()
		if err != nil {
			c.handleReadError(ctx, gen, err)
			return
		}
		if c.callbacks.OnFrame != nil {
			c.callbacks.OnFrame(data)
		}
	}
}

// handleReadError translates the transport error, notifies, and schedules a
// reconnect unless the client initiated the close.
func (c *Conn) handleReadError(ctx context.Context, gen int, err error) {
	c.mu.Lock()
	if gen != c.gen {
		// A stale read loop from a superseded connection; the successor owns state.
		c.mu.Unlock()
		return
	}
	c.sock = nil

	var reason DisconnectReason
	reconnect := false
	switch {
	case c.closing:
		reason = ReasonClosing
		c.state = StateClosed
	case isPeerClose(err):
		reason = ReasonClosedUnexpectedly
		c.state = StateConnecting
		reconnect = true
	default:
		reason = ReasonDroppedMidSession
		c.state = StateConnecting
		reconnect = true
	}
	c.mu.Unlock()

	c.logger.Info("channel disconnected", "reason", reason.String(), "error", err)
	if c.callbacks.OnDisconnect != nil {
		c.callbacks.OnDisconnect(reason)
	}

	if reconnect {
		c.connectLoop(ctx)
	}
}

// isPeerClose reports whether the error carries a websocket close frame from
// the peer, as opposed to the connection dropping without one.
func isPeerClose(err error) bool {
	var closeErr *websocket.CloseError
	return errors.As(err, &closeErr)
}

// Send transmits a frame if the socket is open, otherwise appends it to the
// ordered queue for delivery on (re)connect. Queued frames are never dropped
// by a disconnect, only their delivery is deferred.
func (c *Conn) Send(data []byte) {
	c.mu.Lock()
	sock := c.sock
	// Append instead of writing directly while a drain is pending so the
	// submission order is preserved end to end.
	if c.state != StateConnected || sock == nil || len(c.queue) > 0 {
		c.queue = append(c.queue, data)
		n := len(c.queue)
		c.mu.Unlock()
		c.logger.Debug("frame queued", "queue_len", n)
		return
	}
	c.mu.Unlock()

	if err := sock.WriteMessage(data); err != nil {
		c.logger.Debug("send failed, deferring frame", "error", err)
		c.mu.Lock()
		c.queue = append([][]byte{data}, c.queue...)
		c.mu.Unlock()
	}
}

// flushQueue drains the queue strictly FIFO, re-checking connectivity per
// item. A failed write puts the item back at the head and stops the drain.
func (c *Conn) flushQueue() {
	for {
		c.mu.Lock()
		if c.state != StateConnected || c.sock == nil || len(c.queue) == 0 {
			c.mu.Unlock()
			return
		}
		item := c.queue[0]
		c.queue = c.queue[1:]
		sock := c.sock
		c.mu.Unlock()

		if err := sock.WriteMessage(item); err != nil {
			c.logger.Debug("flush interrupted, deferring frame", "error", err)
			c.mu.Lock()
			c.queue = append([][]byte{item}, c.queue...)
			c.mu.Unlock()
			return
		}
	}
}

// Status returns a point-in-time snapshot of the connection.
func (c *Conn) Status() Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	return Status{
		Open:       c.state == StateConnected,
		Connecting: c.state == StateConnecting,
		Exhausted:  c.state == StateExhausted,
		Attempts:   c.attempts,
		QueueLen:   len(c.queue),
	}
}

// Close tears down the connection. Queued frames are retained in case the
// owner reconnects a fresh connection; Close only stops this one.
func (c *Conn) Close() error {
	c.mu.Lock()
	if c.closing {
		c.mu.Unlock()
		return nil
	}
	c.closing = true
	sock := c.sock
	c.sock = nil
	if sock == nil {
		c.state = StateClosed
	}
	c.mu.Unlock()

	if sock != nil {
		return sock.Close()
	}
	return nil
}
