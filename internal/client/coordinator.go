// ABOUTME: Coordinator owns both gateway connections, the handler registry, and caches.
// ABOUTME: Explicitly constructed with a Start/Stop lifecycle; no package-level state.

package client

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/2389/loom-client/internal/channel"
	"github.com/2389/loom-client/internal/config"
	"github.com/2389/loom-client/internal/metrics"
	"github.com/2389/loom-client/internal/protocol"
)

// ErrTooManyAgentListSubscribers indicates the fan-out slots for
// agent_list_update are all taken.
var ErrTooManyAgentListSubscribers = errors.New("too many agent list subscribers")

// maxAgentListSubscribers bounds the agent_list_update fan-out.
const maxAgentListSubscribers = 4

// HandlerFunc processes one inbound event envelope.
type HandlerFunc func(*protocol.EventEnvelope)

// Handlers maps event types to handler callbacks for registration.
type Handlers map[protocol.EventType]HandlerFunc

// Options configures a Coordinator beyond the config file values.
type Options struct {
	// Dialer used for both connections. Defaults to a WebsocketDialer.
	Dialer channel.Dialer
	// StatusInterval overrides the 1s status aggregation poll, for tests.
	StatusInterval time.Duration
	// Logger for all components. Defaults to slog.Default().
	Logger *slog.Logger
}

// Coordinator owns the command and event connections, aggregates their
// status, and dispatches inbound events through the merged handler registry.
type Coordinator struct {
	cfg            *config.Config
	logger         *slog.Logger
	statusInterval time.Duration

	command *channel.CommandChannel
	events  *channel.EventChannel

	mu            sync.RWMutex
	handlers      Handlers
	agentListSubs map[int]HandlerFunc
	nextSubID     int
	agents        []protocol.Agent
	models        []protocol.Model
	prompts       []protocol.Prompt
	tools         []protocol.Tool
	sessions      map[string]string // agent ID -> session ID

	subMu       sync.Mutex
	statusSubs  map[int]func(ConnectionStatus)
	lostSubs    map[int]func()
	restoreSubs map[int]func()
	nextNotify  int
	lastStatus  ConnectionStatus

	stopOnce sync.Once
	stop     chan struct{}
}

// New creates a Coordinator for the gateway endpoints in cfg.
// Call Start to connect.
func New(cfg *config.Config, opts Options) *Coordinator {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	dialer := opts.Dialer
	if dialer == nil {
		dialer = &channel.WebsocketDialer{}
	}
	interval := opts.StatusInterval
	if interval == 0 {
		interval = config.DefaultStatusInterval
	}

	c := &Coordinator{
		cfg:            cfg,
		logger:         logger.With("component", "coordinator"),
		statusInterval: interval,
		handlers:       make(Handlers),
		agentListSubs:  make(map[int]HandlerFunc),
		sessions:       make(map[string]string),
		statusSubs:     make(map[int]func(ConnectionStatus)),
		lostSubs:       make(map[int]func()),
		restoreSubs:    make(map[int]func()),
		stop:           make(chan struct{}),
	}

	policy := channel.ReconnectPolicy{
		MaxAttempts: cfg.Reconnect.MaxAttempts,
		BaseDelay:   cfg.Reconnect.BaseDelay,
		MaxDelay:    cfg.Reconnect.MaxDelay,
	}

	cmdConn := channel.NewConn("command", cfg.Gateway.CommandURL, dialer, policy, channel.Callbacks{
		OnDisconnect: func(channel.DisconnectReason) {
			metrics.ReconnectsTotal.WithLabelValues("command").Inc()
		},
	}, logger)
	c.command = channel.NewCommandChannel(cmdConn)

	evConn := channel.NewConn("event", cfg.Gateway.EventURL, dialer, policy, channel.Callbacks{
		OnDisconnect: func(channel.DisconnectReason) {
			metrics.ReconnectsTotal.WithLabelValues("event").Inc()
		},
	}, logger)
	c.events = channel.NewEventChannel(evConn, channel.EventChannelConfig{
		OnEvent: c.dispatch,
		OnError: c.handleProtocolError,
	}, logger)

	return c
}

// Start connects both channels and begins the status aggregation poll.
func (c *Coordinator) Start(ctx context.Context) {
	c.command.Conn().Connect(ctx)
	c.events.Conn().Connect(ctx)
	go c.pollStatus(ctx)
}

// Stop closes both connections and halts the status poll.
func (c *Coordinator) Stop() {
	c.stopOnce.Do(func() {
		close(c.stop)
		_ = c.command.Conn().Close()
		_ = c.events.Conn().Close()
	})
}

// Retry resets exhausted connections and reconnects. Reconnect exhaustion is
// terminal until this explicit external retry.
func (c *Coordinator) Retry(ctx context.Context) {
	c.command.Conn().Retry(ctx)
	c.events.Conn().Retry(ctx)
}

// RegisterHandlers merges the given handler set into the registry. Per event
// type the later registration wins; types absent from h keep their existing
// handlers.
func (c *Coordinator) RegisterHandlers(h Handlers) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for t, fn := range h {
		c.handlers[t] = fn
	}
}

// SubscribeAgentList adds an additional agent_list_update handler alongside
// the registry's. Up to four subscribers fan out per update. The returned
// function removes the subscription.
func (c *Coordinator) SubscribeAgentList(fn HandlerFunc) (func(), error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.agentListSubs) >= maxAgentListSubscribers {
		return nil, ErrTooManyAgentListSubscribers
	}
	id := c.nextSubID
	c.nextSubID++
	c.agentListSubs[id] = fn
	return func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		delete(c.agentListSubs, id)
	}, nil
}

// Agents returns a copy of the cached agent list.
func (c *Coordinator) Agents() []protocol.Agent {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]protocol.Agent, len(c.agents))
	copy(out, c.agents)
	return out
}

// Models returns a copy of the cached model list.
func (c *Coordinator) Models() []protocol.Model {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]protocol.Model, len(c.models))
	copy(out, c.models)
	return out
}

// Prompts returns a copy of the cached prompt list.
func (c *Coordinator) Prompts() []protocol.Prompt {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]protocol.Prompt, len(c.prompts))
	copy(out, c.prompts)
	return out
}

// Tools returns a copy of the cached tool list.
func (c *Coordinator) Tools() []protocol.Tool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]protocol.Tool, len(c.tools))
	copy(out, c.tools)
	return out
}

// SessionFor returns the session bound to an agent, if any. The affinity map
// survives UI remounts; it is cleared only by ClearSession.
func (c *Coordinator) SessionFor(agentID string) (string, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	id, ok := c.sessions[agentID]
	return id, ok
}

// ClearSession drops the session affinity for one agent.
func (c *Coordinator) ClearSession(agentID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.sessions, agentID)
}

// SubscribeStatus registers for aggregated status changes. The callback fires
// only when the status actually changes. Returns an unsubscribe function.
func (c *Coordinator) SubscribeStatus(fn func(ConnectionStatus)) func() {
	c.subMu.Lock()
	defer c.subMu.Unlock()
	id := c.nextNotify
	c.nextNotify++
	c.statusSubs[id] = fn
	return func() {
		c.subMu.Lock()
		defer c.subMu.Unlock()
		delete(c.statusSubs, id)
	}
}

// OnConnectionLost registers a callback for the "both open" -> "not both
// open" transition. Returns an unsubscribe function.
func (c *Coordinator) OnConnectionLost(fn func()) func() {
	c.subMu.Lock()
	defer c.subMu.Unlock()
	id := c.nextNotify
	c.nextNotify++
	c.lostSubs[id] = fn
	return func() {
		c.subMu.Lock()
		defer c.subMu.Unlock()
		delete(c.lostSubs, id)
	}
}

// OnConnectionRestored registers a callback for the "not both open" -> "both
// open" transition. Returns an unsubscribe function.
func (c *Coordinator) OnConnectionRestored(fn func()) func() {
	c.subMu.Lock()
	defer c.subMu.Unlock()
	id := c.nextNotify
	c.nextNotify++
	c.restoreSubs[id] = fn
	return func() {
		c.subMu.Lock()
		defer c.subMu.Unlock()
		delete(c.restoreSubs, id)
	}
}

// Status returns the current aggregated status.
func (c *Coordinator) Status() ConnectionStatus {
	return deriveStatus(c.command.Conn().Status(), c.events.Conn().Status())
}

// pollStatus aggregates both connections on a fixed interval, publishing only
// actual changes and raising lost/restored on the both-open edges.
func (c *Coordinator) pollStatus(ctx context.Context) {
	ticker := time.NewTicker(c.statusInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-c.stop:
			return
		case <-ticker.C:
			c.publishStatus()
		}
	}
}

// publishStatus computes the aggregate and notifies on change.
func (c *Coordinator) publishStatus() {
	cmdStatus := c.command.Conn().Status()
	evStatus := c.events.Conn().Status()
	status := deriveStatus(cmdStatus, evStatus)

	setGauge := func(g string, open bool) {
		v := 0.0
		if open {
			v = 1.0
		}
		metrics.ChannelConnected.WithLabelValues(g).Set(v)
	}
	setGauge("command", status.CommandOpen)
	setGauge("event", status.EventOpen)
	metrics.CommandsQueued.Set(float64(cmdStatus.QueueLen))

	// The zero lastStatus means "both closed", so the first poll that sees
	// both channels open raises restored, matching the initial disconnected
	// state at Start.
	c.subMu.Lock()
	prev := c.lastStatus
	changed := prev != status
	c.lastStatus = status

	var notify []func(ConnectionStatus)
	var edges []func()
	if changed {
		for _, fn := range c.statusSubs {
			notify = append(notify, fn)
		}
		if prev.BothOpen() && !status.BothOpen() {
			for _, fn := range c.lostSubs {
				edges = append(edges, fn)
			}
		}
		if !prev.BothOpen() && status.BothOpen() {
			for _, fn := range c.restoreSubs {
				edges = append(edges, fn)
			}
		}
	}
	c.subMu.Unlock()

	if !changed {
		return
	}
	c.logger.Debug("connection status changed",
		"command_open", status.CommandOpen,
		"event_open", status.EventOpen,
		"connecting", status.IsConnecting,
	)
	for _, fn := range notify {
		fn(status)
	}
	for _, fn := range edges {
		fn()
	}
}
