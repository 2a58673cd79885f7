// ABOUTME: Manager multiplexes bounded concurrent content streams with preemption.
// ABOUTME: Owns admission, pause/resume/cancel, the idle sweep, and visibility handling.

package stream

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/2389/loom-client/internal/config"
	"github.com/2389/loom-client/internal/metrics"
)

// Sentinel errors reported to stream callers.
var (
	// ErrTooManyStreams: the concurrency limit is reached and no preemption
	// candidate exists.
	ErrTooManyStreams = errors.New("too many concurrent streams")
	// ErrDuplicateStream: the content identifier is already active.
	ErrDuplicateStream = errors.New("stream already active")
	// ErrStreamNotFound: no active stream has the given identifier.
	ErrStreamNotFound = errors.New("stream not found")
	// ErrNotStreaming: pause requires the Streaming phase.
	ErrNotStreaming = errors.New("stream is not streaming")
	// ErrNotPaused: resume requires the Paused phase.
	ErrNotPaused = errors.New("stream is not paused")
	// ErrStreamTimeout: the idle sweep reaped the stream.
	ErrStreamTimeout = errors.New("stream idle timeout")
	// ErrStreamPreempted: a high-priority start cancelled this stream.
	ErrStreamPreempted = errors.New("stream preempted by high-priority stream")
	// ErrContentTruncated is non-fatal: the stream hit its memory cap and
	// further content is discarded, but the stream keeps running.
	ErrContentTruncated = errors.New("stream content truncated at memory cap")
)

// Callbacks deliver stream output to the caller. All fields are optional.
type Callbacks struct {
	// OnContent receives coalesced content deltas in order.
	OnContent func(delta string)
	// OnProgress fires for progress chunks.
	OnProgress func()
	// OnComplete fires once with the full accumulated content.
	OnComplete func(full string)
	// OnError receives terminal errors (timeout, transport, backend,
	// preemption) and the non-fatal ErrContentTruncated.
	OnError func(err error)
}

// StartRequest describes one content stream to open.
type StartRequest struct {
	ID        string
	AgentID   string
	SessionID string
	Priority  Priority
	Callbacks Callbacks
}

// stream is the manager-internal state for one transfer.
type stream struct {
	id          string
	agentID     string
	sessionID   string
	priority    Priority
	phase       Phase
	pauseReason PauseReason

	content       strings.Builder
	memBytes      int
	capped        bool
	truncReported bool

	startedAt    time.Time
	lastActivity time.Time

	buf    *chunkBuffer
	cancel context.CancelFunc
	cb     Callbacks
}

// Options configures a Manager beyond the config file values.
type Options struct {
	// HTTPClient used for stream and control requests. Defaults to a client
	// without an overall timeout; stream lifetimes are unbounded.
	HTTPClient *http.Client
	// Logger for the manager. Defaults to slog.Default().
	Logger *slog.Logger
	// Now overrides the clock, for tests driving the idle sweep.
	Now func() time.Time
}

// Manager opens and supervises content streams against one gateway.
// Managers are explicitly constructed with a Start/Stop lifecycle.
type Manager struct {
	cfg    config.StreamsConfig
	base   string
	httpc  *http.Client
	logger *slog.Logger
	now    func() time.Time

	mu      sync.Mutex
	streams map[string]*stream

	stop     chan struct{}
	stopOnce sync.Once
}

// NewManager creates a Manager for the gateway at baseURL.
func NewManager(cfg config.StreamsConfig, baseURL string, opts Options) *Manager {
	httpc := opts.HTTPClient
	if httpc == nil {
		httpc = &http.Client{}
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	return &Manager{
		cfg:     cfg,
		base:    strings.TrimRight(baseURL, "/"),
		httpc:   httpc,
		logger:  logger.With("component", "stream-manager"),
		now:     now,
		streams: make(map[string]*stream),
		stop:    make(chan struct{}),
	}
}

// Start launches the idle sweep. Streams can be opened before Start; only
// the sweep depends on it.
func (m *Manager) Start(ctx context.Context) {
	go m.sweepLoop(ctx)
}

// Stop halts the sweep and force-terminates every active stream.
func (m *Manager) Stop() {
	m.stopOnce.Do(func() { close(m.stop) })

	for _, s := range m.activeStreams() {
		m.terminate(s, PhaseCancelled)
	}
}

// StartStream opens a stream for the given content identifier.
//
// A duplicate identifier is rejected. At the concurrency limit a low-priority
// start is rejected outright; a high-priority start force-cancels the oldest
// low-priority stream to make room, or is rejected if none exists.
func (m *Manager) StartStream(ctx context.Context, req StartRequest) error {
	if req.ID == "" {
		return fmt.Errorf("stream id is required")
	}

	m.mu.Lock()
	if _, exists := m.streams[req.ID]; exists {
		m.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrDuplicateStream, req.ID)
	}

	var victim *stream
	if len(m.streams) >= m.cfg.MaxConcurrent {
		if req.Priority != PriorityHigh {
			m.mu.Unlock()
			return fmt.Errorf("%w: limit %d", ErrTooManyStreams, m.cfg.MaxConcurrent)
		}
		victim = m.preemptionCandidateLocked()
		if victim == nil {
			m.mu.Unlock()
			return fmt.Errorf("%w: limit %d, no low-priority stream to preempt", ErrTooManyStreams, m.cfg.MaxConcurrent)
		}
		victim.phase = PhaseCancelled
		delete(m.streams, victim.id)
	}

	now := m.now()
	sctx, cancel := context.WithCancel(ctx)
	s := &stream{
		id:           req.ID,
		agentID:      req.AgentID,
		sessionID:    req.SessionID,
		priority:     req.Priority,
		phase:        PhaseConnecting,
		startedAt:    now,
		lastActivity: now,
		cancel:       cancel,
		cb:           req.Callbacks,
	}
	s.buf = newChunkBuffer(m.cfg.FlushThreshold, m.cfg.FlushDebounce, m.cfg.MinDeliveryGap, m.now, func(out string) {
		metrics.StreamBytesTotal.Add(float64(len(out)))
		if s.cb.OnContent != nil {
			s.cb.OnContent(out)
		}
	})
	m.streams[req.ID] = s
	m.mu.Unlock()

	if victim != nil {
		m.releaseResources(victim)
		metrics.StreamPreemptionsTotal.Inc()
		m.logger.Info("stream preempted", "stream_id", victim.id, "by", req.ID)
		m.control(ctx, victim.id, "cancel")
		if victim.cb.OnError != nil {
			victim.cb.OnError(ErrStreamPreempted)
		}
	} else {
		metrics.ActiveStreams.Inc()
	}

	m.logger.Debug("stream started", "stream_id", req.ID, "agent_id", req.AgentID, "priority", req.Priority)
	go m.run(sctx, s)
	return nil
}

// preemptionCandidateLocked returns the oldest low-priority stream, or nil.
func (m *Manager) preemptionCandidateLocked() *stream {
	var oldest *stream
	for _, s := range m.streams {
		if s.priority != PriorityLow {
			continue
		}
		if oldest == nil || s.startedAt.Before(oldest.startedAt) {
			oldest = s
		}
	}
	return oldest
}

// Pause suspends a Streaming stream at the user's request.
func (m *Manager) Pause(ctx context.Context, id string) error {
	return m.pause(ctx, id, PauseUser)
}

func (m *Manager) pause(ctx context.Context, id string, reason PauseReason) error {
	m.mu.Lock()
	s, ok := m.streams[id]
	if !ok {
		m.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrStreamNotFound, id)
	}
	if s.phase != PhaseStreaming {
		m.mu.Unlock()
		return fmt.Errorf("%w: %s is %s", ErrNotStreaming, id, s.phase)
	}
	s.phase = PhasePaused
	s.pauseReason = reason
	s.lastActivity = m.now()
	m.mu.Unlock()

	// Out-of-band control request; the local phase holds regardless of its outcome.
	m.control(ctx, id, "pause")
	return nil
}

// Resume continues a Paused stream. Accumulated content is preserved.
func (m *Manager) Resume(ctx context.Context, id string) error {
	m.mu.Lock()
	s, ok := m.streams[id]
	if !ok {
		m.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrStreamNotFound, id)
	}
	if s.phase != PhasePaused {
		m.mu.Unlock()
		return fmt.Errorf("%w: %s is %s", ErrNotPaused, id, s.phase)
	}
	s.phase = PhaseStreaming
	s.pauseReason = PauseNone
	s.lastActivity = m.now()
	m.mu.Unlock()

	m.control(ctx, id, "resume")
	return nil
}

// Cancel terminates a stream. Cancelling an unknown or already-terminal
// stream is a no-op; resource release is idempotent.
func (m *Manager) Cancel(ctx context.Context, id string) {
	m.mu.Lock()
	s, ok := m.streams[id]
	m.mu.Unlock()
	if !ok {
		return
	}
	if m.terminate(s, PhaseCancelled) {
		m.logger.Debug("stream cancelled", "stream_id", id)
		m.control(ctx, id, "cancel")
	}
}

// SetVisibility reacts to the tab being hidden or shown. Hidden pauses every
// Streaming stream with the visibility reason; visible resumes exactly the
// streams that visibility paused, leaving user-paused and terminal streams
// untouched.
func (m *Manager) SetVisibility(ctx context.Context, visible bool) {
	m.mu.Lock()
	var affected []string
	for _, s := range m.streams {
		if !visible && s.phase == PhaseStreaming {
			s.phase = PhasePaused
			s.pauseReason = PauseVisibility
			s.lastActivity = m.now()
			affected = append(affected, s.id)
		}
		if visible && s.phase == PhasePaused && s.pauseReason == PauseVisibility {
			s.phase = PhaseStreaming
			s.pauseReason = PauseNone
			s.lastActivity = m.now()
			affected = append(affected, s.id)
		}
	}
	m.mu.Unlock()

	action := "resume"
	if !visible {
		action = "pause"
	}
	for _, id := range affected {
		m.control(ctx, id, action)
	}
	if len(affected) > 0 {
		m.logger.Debug("visibility change applied", "visible", visible, "streams", len(affected))
	}
}

// CleanupAgentStreams force-terminates and releases all of an agent's
// streams, used when the UI navigates away from the agent.
func (m *Manager) CleanupAgentStreams(ctx context.Context, agentID string) {
	for _, s := range m.activeStreams() {
		if s.agentID != agentID {
			continue
		}
		if m.terminate(s, PhaseCancelled) {
			m.control(ctx, s.id, "cancel")
		}
	}
	m.logger.Debug("agent streams cleaned up", "agent_id", agentID)
}

// State returns a snapshot of one active stream.
func (m *Manager) State(id string) (State, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.streams[id]
	if !ok {
		return State{}, false
	}
	return m.snapshotLocked(s), true
}

// States returns snapshots of every active stream.
func (m *Manager) States() []State {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]State, 0, len(m.streams))
	for _, s := range m.streams {
		out = append(out, m.snapshotLocked(s))
	}
	return out
}

func (m *Manager) snapshotLocked(s *stream) State {
	return State{
		ID:                 s.id,
		AgentID:            s.agentID,
		SessionID:          s.sessionID,
		Phase:              s.phase,
		PauseReason:        s.pauseReason,
		AccumulatedContent: s.content.String(),
		MemoryUsageBytes:   s.memBytes,
		StartedAt:          s.startedAt,
		LastActivityAt:     s.lastActivity,
	}
}

// activeStreams snapshots the registry values.
func (m *Manager) activeStreams() []*stream {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*stream, 0, len(m.streams))
	for _, s := range m.streams {
		out = append(out, s)
	}
	return out
}

// terminate flips a stream to a terminal phase and releases its resources.
// Returns false when the stream was already terminal; release is idempotent.
func (m *Manager) terminate(s *stream, phase Phase) bool {
	m.mu.Lock()
	if s.phase.Terminal() {
		m.mu.Unlock()
		return false
	}
	s.phase = phase
	delete(m.streams, s.id)
	m.mu.Unlock()

	m.releaseResources(s)
	metrics.ActiveStreams.Dec()
	return true
}

// releaseResources stops the buffer and the underlying request.
func (m *Manager) releaseResources(s *stream) {
	s.buf.stop()
	if s.cancel != nil {
		s.cancel()
	}
}

// sweepLoop reaps idle streams on a fixed interval.
func (m *Manager) sweepLoop(ctx context.Context) {
	ticker := time.NewTicker(m.cfg.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-m.stop:
			return
		case <-ticker.C:
			m.sweepOnce()
		}
	}
}

// sweepOnce reaps every stream inactive longer than the idle timeout,
// reporting a timeout error to its caller.
func (m *Manager) sweepOnce() {
	now := m.now()
	var victims []*stream
	m.mu.Lock()
	for _, s := range m.streams {
		if now.Sub(s.lastActivity) > m.cfg.IdleTimeout {
			victims = append(victims, s)
		}
	}
	m.mu.Unlock()

	for _, s := range victims {
		if m.terminate(s, PhaseError) {
			metrics.StreamTimeoutsTotal.Inc()
			m.logger.Warn("stream reaped after idle timeout", "stream_id", s.id)
			if s.cb.OnError != nil {
				s.cb.OnError(ErrStreamTimeout)
			}
		}
	}
}

// control issues an out-of-band POST for cancel/pause/resume. Failures are
// logged, not surfaced: local phase is authoritative for the client.
func (m *Manager) control(ctx context.Context, id, action string) {
	url := fmt.Sprintf("%s/api/message/%s/%s", m.base, id, action)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, nil)
	if err != nil {
		m.logger.Warn("building control request", "action", action, "stream_id", id, "error", err)
		return
	}
	resp, err := m.httpc.Do(req)
	if err != nil {
		m.logger.Warn("control request failed", "action", action, "stream_id", id, "error", err)
		return
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		m.logger.Warn("control request rejected", "action", action, "stream_id", id, "status", resp.StatusCode)
	}
}
