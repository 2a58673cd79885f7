// ABOUTME: Tests for the stream manager against a fake SSE gateway endpoint.
// ABOUTME: Covers admission, preemption, memory cap, pause/resume, and the idle sweep.

package stream

import (
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/loom-client/internal/config"
)

// sseGateway serves scripted chunk frames per stream and records control
// requests.
type sseGateway struct {
	srv *httptest.Server

	mu       sync.Mutex
	frames   map[string]chan string
	controls []string
}

func newSSEGateway(t *testing.T) *sseGateway {
	t.Helper()
	g := &sseGateway{frames: make(map[string]chan string)}
	g.srv = httptest.NewServer(http.HandlerFunc(g.handle))
	t.Cleanup(g.srv.Close)
	return g
}

func (g *sseGateway) handle(w http.ResponseWriter, r *http.Request) {
	parts := strings.Split(strings.Trim(r.URL.Path, "/"), "/")
	// Expected shapes: api/message/{id}/content and api/message/{id}/{action}.
	if len(parts) != 4 || parts[0] != "api" || parts[1] != "message" {
		http.NotFound(w, r)
		return
	}
	id, tail := parts[2], parts[3]

	if r.Method == http.MethodPost {
		g.mu.Lock()
		g.controls = append(g.controls, id+"/"+tail)
		g.mu.Unlock()
		w.WriteHeader(http.StatusOK)
		return
	}
	if tail != "content" {
		http.NotFound(w, r)
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/event-stream")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	for {
		select {
		case frame, open := <-g.stream(id):
			if !open {
				return
			}
			fmt.Fprintf(w, "data: %s\n\n", frame)
			flusher.Flush()
		case <-r.Context().Done():
			return
		}
	}
}

func (g *sseGateway) stream(id string) chan string {
	g.mu.Lock()
	defer g.mu.Unlock()
	ch, ok := g.frames[id]
	if !ok {
		ch = make(chan string, 32)
		g.frames[id] = ch
	}
	return ch
}

func (g *sseGateway) send(id, frame string) {
	g.stream(id) <- frame
}

func (g *sseGateway) sendContent(id, content string) {
	g.send(id, fmt.Sprintf(`{"type":"content","chunk":%q,"chunk_id":1}`, content))
}

func (g *sseGateway) controlLog() []string {
	g.mu.Lock()
	defer g.mu.Unlock()
	out := make([]string, len(g.controls))
	copy(out, g.controls)
	return out
}

// fakeClock is an injectable clock for the idle sweep.
type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{t: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

func streamsConfig() config.StreamsConfig {
	return config.StreamsConfig{
		MaxConcurrent:    2,
		FlushThreshold:   1,
		MemoryLimitBytes: config.DefaultMemoryLimit,
		FlushDebounce:    5 * time.Millisecond,
		MinDeliveryGap:   0,
		SweepInterval:    time.Hour,
		IdleTimeout:      10 * time.Second,
	}
}

func newTestManager(t *testing.T, g *sseGateway, cfg config.StreamsConfig, opt Options) *Manager {
	t.Helper()
	m := NewManager(cfg, g.srv.URL, opt)
	t.Cleanup(m.Stop)
	return m
}

// contentSink collects OnContent deltas.
type contentSink struct {
	mu     sync.Mutex
	pieces []string
}

func (s *contentSink) add(delta string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pieces = append(s.pieces, delta)
}

func (s *contentSink) joined() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return strings.Join(s.pieces, "")
}

func waitPhase(t *testing.T, m *Manager, id string, phase Phase) {
	t.Helper()
	require.Eventually(t, func() bool {
		st, ok := m.State(id)
		return ok && st.Phase == phase
	}, time.Second, 2*time.Millisecond)
}

func TestManager_ContentDeliveryAndComplete(t *testing.T) {
	g := newSSEGateway(t)
	m := newTestManager(t, g, streamsConfig(), Options{})

	sink := &contentSink{}
	done := make(chan string, 1)
	require.NoError(t, m.StartStream(testContext(t), StartRequest{
		ID: "msg-1",
		Callbacks: Callbacks{
			OnContent:  sink.add,
			OnComplete: func(full string) { done <- full },
		},
	}))
	waitPhase(t, m, "msg-1", PhaseStreaming)

	g.sendContent("msg-1", "Hello, ")
	g.sendContent("msg-1", "world!")
	g.send("msg-1", `{"type":"complete","chunk_id":3}`)

	select {
	case full := <-done:
		assert.Equal(t, "Hello, world!", full)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for completion")
	}
	assert.Equal(t, "Hello, world!", sink.joined())

	// Terminal streams leave the registry.
	_, ok := m.State("msg-1")
	assert.False(t, ok)
}

func TestManager_ProgressUpdatesActivity(t *testing.T) {
	g := newSSEGateway(t)
	clock := newFakeClock()
	m := newTestManager(t, g, streamsConfig(), Options{Now: clock.now})

	progress := make(chan struct{}, 4)
	require.NoError(t, m.StartStream(testContext(t), StartRequest{
		ID:        "msg-1",
		Callbacks: Callbacks{OnProgress: func() { progress <- struct{}{} }},
	}))
	waitPhase(t, m, "msg-1", PhaseStreaming)

	clock.advance(7 * time.Second)
	g.send("msg-1", `{"type":"progress","chunk_id":1}`)
	select {
	case <-progress:
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for progress callback")
	}

	// Activity was refreshed, so another 7s does not cross the 10s timeout.
	clock.advance(7 * time.Second)
	m.sweepOnce()
	_, ok := m.State("msg-1")
	assert.True(t, ok)
}

func TestManager_DuplicateStreamRejected(t *testing.T) {
	g := newSSEGateway(t)
	m := newTestManager(t, g, streamsConfig(), Options{})

	require.NoError(t, m.StartStream(testContext(t), StartRequest{ID: "msg-1"}))
	err := m.StartStream(testContext(t), StartRequest{ID: "msg-1"})
	assert.ErrorIs(t, err, ErrDuplicateStream)
}

func TestManager_LowPriorityRejectedAtLimit(t *testing.T) {
	g := newSSEGateway(t)
	m := newTestManager(t, g, streamsConfig(), Options{})

	require.NoError(t, m.StartStream(testContext(t), StartRequest{ID: "msg-1"}))
	require.NoError(t, m.StartStream(testContext(t), StartRequest{ID: "msg-2"}))

	err := m.StartStream(testContext(t), StartRequest{ID: "msg-3", Priority: PriorityLow})
	assert.ErrorIs(t, err, ErrTooManyStreams)
}

func TestManager_HighPriorityPreemptsOldestLow(t *testing.T) {
	g := newSSEGateway(t)
	clock := newFakeClock()
	m := newTestManager(t, g, streamsConfig(), Options{Now: clock.now})

	preempted := make(chan error, 1)
	require.NoError(t, m.StartStream(testContext(t), StartRequest{
		ID:        "msg-old",
		Callbacks: Callbacks{OnError: func(err error) { preempted <- err }},
	}))
	clock.advance(time.Second)
	require.NoError(t, m.StartStream(testContext(t), StartRequest{ID: "msg-new"}))

	require.NoError(t, m.StartStream(testContext(t), StartRequest{ID: "msg-urgent", Priority: PriorityHigh}))

	select {
	case err := <-preempted:
		assert.ErrorIs(t, err, ErrStreamPreempted)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for preemption error")
	}

	_, ok := m.State("msg-old")
	assert.False(t, ok)
	_, ok = m.State("msg-new")
	assert.True(t, ok)
	_, ok = m.State("msg-urgent")
	assert.True(t, ok)

	require.Eventually(t, func() bool {
		for _, c := range g.controlLog() {
			if c == "msg-old/cancel" {
				return true
			}
		}
		return false
	}, time.Second, 2*time.Millisecond)
}

func TestManager_HighPriorityRejectedWithoutLowVictim(t *testing.T) {
	g := newSSEGateway(t)
	cfg := streamsConfig()
	cfg.MaxConcurrent = 1
	m := newTestManager(t, g, cfg, Options{})

	require.NoError(t, m.StartStream(testContext(t), StartRequest{ID: "msg-1", Priority: PriorityHigh}))
	err := m.StartStream(testContext(t), StartRequest{ID: "msg-2", Priority: PriorityHigh})
	assert.ErrorIs(t, err, ErrTooManyStreams)
}

func TestManager_MemoryCapTruncatesExactly(t *testing.T) {
	g := newSSEGateway(t)
	cfg := streamsConfig()
	cfg.MemoryLimitBytes = 10 // five characters at two bytes each
	m := newTestManager(t, g, cfg, Options{})

	sink := &contentSink{}
	errs := make(chan error, 4)
	done := make(chan string, 1)
	require.NoError(t, m.StartStream(testContext(t), StartRequest{
		ID: "msg-1",
		Callbacks: Callbacks{
			OnContent:  sink.add,
			OnComplete: func(full string) { done <- full },
			OnError:    func(err error) { errs <- err },
		},
	}))
	waitPhase(t, m, "msg-1", PhaseStreaming)

	g.sendContent("msg-1", "abcd") // 8 of 10 bytes
	g.sendContent("msg-1", "efgh") // crosses the cap: only "e" fits
	g.sendContent("msg-1", "xyz")  // discarded entirely

	select {
	case err := <-errs:
		assert.ErrorIs(t, err, ErrContentTruncated)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for truncation error")
	}

	// The truncation error is reported exactly once, and the stream lives on.
	st, ok := m.State("msg-1")
	require.True(t, ok)
	assert.Equal(t, PhaseStreaming, st.Phase)
	assert.Equal(t, 10, st.MemoryUsageBytes)

	g.send("msg-1", `{"type":"complete","chunk_id":9}`)
	select {
	case full := <-done:
		assert.Equal(t, "abcde", full)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for completion")
	}
	select {
	case err := <-errs:
		t.Fatalf("unexpected second error: %v", err)
	default:
	}
}

func TestManager_PauseAndResume(t *testing.T) {
	g := newSSEGateway(t)
	m := newTestManager(t, g, streamsConfig(), Options{})

	require.NoError(t, m.StartStream(testContext(t), StartRequest{ID: "msg-1"}))
	waitPhase(t, m, "msg-1", PhaseStreaming)

	require.NoError(t, m.Pause(testContext(t), "msg-1"))
	st, _ := m.State("msg-1")
	assert.Equal(t, PhasePaused, st.Phase)
	assert.Equal(t, PauseUser, st.PauseReason)

	// Pausing a paused stream fails; so does resuming a streaming one.
	assert.ErrorIs(t, m.Pause(testContext(t), "msg-1"), ErrNotStreaming)

	require.NoError(t, m.Resume(testContext(t), "msg-1"))
	st, _ = m.State("msg-1")
	assert.Equal(t, PhaseStreaming, st.Phase)
	assert.Equal(t, PauseNone, st.PauseReason)
	assert.ErrorIs(t, m.Resume(testContext(t), "msg-1"), ErrNotPaused)

	assert.ErrorIs(t, m.Pause(testContext(t), "msg-404"), ErrStreamNotFound)

	require.Eventually(t, func() bool {
		log := g.controlLog()
		return len(log) >= 2 && log[0] == "msg-1/pause" && log[1] == "msg-1/resume"
	}, time.Second, 2*time.Millisecond)
}

func TestManager_VisibilityPausesAndResumesSelectively(t *testing.T) {
	g := newSSEGateway(t)
	m := newTestManager(t, g, streamsConfig(), Options{})

	require.NoError(t, m.StartStream(testContext(t), StartRequest{ID: "msg-user"}))
	require.NoError(t, m.StartStream(testContext(t), StartRequest{ID: "msg-auto"}))
	waitPhase(t, m, "msg-user", PhaseStreaming)
	waitPhase(t, m, "msg-auto", PhaseStreaming)

	require.NoError(t, m.Pause(testContext(t), "msg-user"))

	m.SetVisibility(testContext(t), false)
	st, _ := m.State("msg-auto")
	assert.Equal(t, PhasePaused, st.Phase)
	assert.Equal(t, PauseVisibility, st.PauseReason)

	m.SetVisibility(testContext(t), true)
	// Only the visibility-paused stream resumes; the user pause holds.
	st, _ = m.State("msg-auto")
	assert.Equal(t, PhaseStreaming, st.Phase)
	st, _ = m.State("msg-user")
	assert.Equal(t, PhasePaused, st.Phase)
	assert.Equal(t, PauseUser, st.PauseReason)
}

func TestManager_CancelIsIdempotent(t *testing.T) {
	g := newSSEGateway(t)
	m := newTestManager(t, g, streamsConfig(), Options{})

	// Unknown stream: no-op.
	m.Cancel(testContext(t), "msg-404")

	require.NoError(t, m.StartStream(testContext(t), StartRequest{ID: "msg-1"}))
	waitPhase(t, m, "msg-1", PhaseStreaming)

	m.Cancel(testContext(t), "msg-1")
	_, ok := m.State("msg-1")
	assert.False(t, ok)
	m.Cancel(testContext(t), "msg-1")

	require.Eventually(t, func() bool {
		count := 0
		for _, c := range g.controlLog() {
			if c == "msg-1/cancel" {
				count++
			}
		}
		return count == 1
	}, time.Second, 2*time.Millisecond)
}

func TestManager_IdleSweepReapsStaleStreams(t *testing.T) {
	g := newSSEGateway(t)
	clock := newFakeClock()
	m := newTestManager(t, g, streamsConfig(), Options{Now: clock.now})

	errs := make(chan error, 1)
	require.NoError(t, m.StartStream(testContext(t), StartRequest{
		ID:        "msg-stale",
		Callbacks: Callbacks{OnError: func(err error) { errs <- err }},
	}))
	waitPhase(t, m, "msg-stale", PhaseStreaming)

	// Inside the timeout nothing is reaped.
	clock.advance(9 * time.Second)
	m.sweepOnce()
	_, ok := m.State("msg-stale")
	require.True(t, ok)

	clock.advance(2 * time.Second)
	m.sweepOnce()

	select {
	case err := <-errs:
		assert.ErrorIs(t, err, ErrStreamTimeout)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for sweep error")
	}
	_, ok = m.State("msg-stale")
	assert.False(t, ok)
}

func TestManager_ErrorChunkFailsStream(t *testing.T) {
	g := newSSEGateway(t)
	m := newTestManager(t, g, streamsConfig(), Options{})

	errs := make(chan error, 1)
	require.NoError(t, m.StartStream(testContext(t), StartRequest{
		ID:        "msg-1",
		Callbacks: Callbacks{OnError: func(err error) { errs <- err }},
	}))
	waitPhase(t, m, "msg-1", PhaseStreaming)

	g.send("msg-1", `{"type":"error","chunk_id":2,"error":{"code":"generation_failed","message":"model unavailable"}}`)

	select {
	case err := <-errs:
		assert.ErrorContains(t, err, "generation_failed")
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for stream error")
	}
	_, ok := m.State("msg-1")
	assert.False(t, ok)
}

func TestManager_EndWithoutCompleteFailsStream(t *testing.T) {
	g := newSSEGateway(t)
	m := newTestManager(t, g, streamsConfig(), Options{})

	errs := make(chan error, 1)
	require.NoError(t, m.StartStream(testContext(t), StartRequest{
		ID:        "msg-1",
		Callbacks: Callbacks{OnError: func(err error) { errs <- err }},
	}))
	waitPhase(t, m, "msg-1", PhaseStreaming)

	// Server closes the body without a complete frame.
	close(g.stream("msg-1"))

	select {
	case err := <-errs:
		assert.ErrorContains(t, err, "without a complete frame")
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for stream error")
	}
}

func TestManager_CleanupAgentStreams(t *testing.T) {
	g := newSSEGateway(t)
	cfg := streamsConfig()
	cfg.MaxConcurrent = 3
	m := newTestManager(t, g, cfg, Options{})

	require.NoError(t, m.StartStream(testContext(t), StartRequest{ID: "msg-1", AgentID: "a1"}))
	require.NoError(t, m.StartStream(testContext(t), StartRequest{ID: "msg-2", AgentID: "a1"}))
	require.NoError(t, m.StartStream(testContext(t), StartRequest{ID: "msg-3", AgentID: "a2"}))

	m.CleanupAgentStreams(testContext(t), "a1")

	_, ok := m.State("msg-1")
	assert.False(t, ok)
	_, ok = m.State("msg-2")
	assert.False(t, ok)
	_, ok = m.State("msg-3")
	assert.True(t, ok)
}
