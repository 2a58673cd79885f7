// ABOUTME: Per-stream goroutine: the event-stream request, SSE parsing, chunk handling.
// ABOUTME: Chunks for one stream are processed strictly in arrival order.

package stream

import (
	"bufio"
	"context"
	"fmt"
	"net/http"
	"strings"
	"unicode/utf8"

	"github.com/2389/loom-client/internal/metrics"
	"github.com/2389/loom-client/internal/protocol"
)

// maxLineSize bounds one SSE line; a line is at most one chunk frame.
const maxLineSize = 1 << 20

// run drives one stream from request to terminal phase.
func (m *Manager) run(ctx context.Context, s *stream) {
	url := fmt.Sprintf("%s/api/message/%s/content", m.base, s.id)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		m.failStream(s, fmt.Errorf("building stream request: %w", err))
		return
	}
	req.Header.Set("Accept", "text/event-stream")

	resp, err := m.httpc.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			// Cancelled before the response arrived; the canceller owns the phase.
			return
		}
		m.failStream(s, fmt.Errorf("opening stream: %w", err))
		return
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		m.failStream(s, fmt.Errorf("opening stream: status %d", resp.StatusCode))
		return
	}

	m.mu.Lock()
	if s.phase == PhaseConnecting {
		s.phase = PhaseStreaming
		s.lastActivity = m.now()
	}
	terminal := s.phase.Terminal()
	m.mu.Unlock()
	if terminal {
		return
	}
	m.logger.Debug("stream connected", "stream_id", s.id)

	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineSize)

	for scanner.Scan() {
		payload, ok := ssePayload(scanner.Text())
		if !ok {
			continue
		}
		chunk, err := protocol.ParseChunk([]byte(payload))
		if err != nil {
			m.failStream(s, err)
			return
		}
		if m.handleChunk(s, chunk) {
			return
		}
	}

	if ctx.Err() != nil {
		// Cancelled mid-read; the canceller already set the terminal phase.
		return
	}
	err = scanner.Err()
	if err == nil {
		err = fmt.Errorf("stream ended without a complete frame")
	}
	m.failStream(s, err)
}

// ssePayload extracts the payload of a `data:` line, reporting false for
// comments, blank separators, and other SSE fields.
func ssePayload(line string) (string, bool) {
	if !strings.HasPrefix(line, "data:") {
		return "", false
	}
	return strings.TrimPrefix(strings.TrimPrefix(line, "data:"), " "), true
}

// handleChunk applies one chunk frame. Returns true when the stream reached
// a terminal phase.
func (m *Manager) handleChunk(s *stream, chunk *protocol.Chunk) bool {
	switch chunk.Type {
	case protocol.ChunkProgress:
		m.mu.Lock()
		if s.phase.Terminal() {
			m.mu.Unlock()
			return true
		}
		s.lastActivity = m.now()
		m.mu.Unlock()
		if s.cb.OnProgress != nil {
			s.cb.OnProgress()
		}
		return false

	case protocol.ChunkContent:
		m.mu.Lock()
		if s.phase.Terminal() {
			m.mu.Unlock()
			return true
		}
		s.lastActivity = m.now()
		delta, truncated := s.applyMemoryCap(chunk.Chunk, m.cfg.MemoryLimitBytes)
		if delta != "" {
			s.content.WriteString(delta)
		}
		report := truncated && !s.truncReported
		if report {
			s.truncReported = true
		}
		m.mu.Unlock()

		if delta != "" {
			s.buf.add(delta)
		}
		if report {
			m.reportTruncation(s)
		}
		return false

	case protocol.ChunkComplete:
		m.mu.Lock()
		if s.phase.Terminal() {
			m.mu.Unlock()
			return true
		}
		full := s.content.String()
		bytes := s.memBytes
		m.mu.Unlock()

		// Deliver the tail before releasing the buffer.
		s.buf.flushNow()
		if m.terminate(s, PhaseComplete) {
			m.logger.Debug("stream complete", "stream_id", s.id, "bytes", bytes)
			if s.cb.OnComplete != nil {
				s.cb.OnComplete(full)
			}
		}
		return true

	case protocol.ChunkError:
		err := error(chunk.Error)
		if chunk.Error == nil {
			err = fmt.Errorf("stream error frame without payload")
		}
		m.failStream(s, err)
		return true
	}
	return false
}

// applyMemoryCap accounts the chunk against the per-stream budget at two
// bytes per character. The chunk that would cross the cap is truncated to
// exactly the remaining budget and the cap becomes permanent. Must be called
// with m.mu held.
func (s *stream) applyMemoryCap(chunk string, limit int) (delta string, truncated bool) {
	if s.capped {
		return "", false
	}
	estimate := 2 * utf8.RuneCountInString(chunk)
	if s.memBytes+estimate <= limit {
		s.memBytes += estimate
		return chunk, false
	}

	remaining := (limit - s.memBytes) / 2
	s.capped = true
	s.memBytes = limit
	if remaining <= 0 {
		return "", true
	}
	runes := []rune(chunk)
	return string(runes[:remaining]), true
}

// reportTruncation surfaces the one non-fatal truncation error.
func (m *Manager) reportTruncation(s *stream) {
	m.logger.Warn("stream truncated at memory cap", "stream_id", s.id, "limit_bytes", m.cfg.MemoryLimitBytes)
	metrics.StreamTruncationsTotal.Inc()
	if s.cb.OnError != nil {
		s.cb.OnError(ErrContentTruncated)
	}
}

// failStream moves a stream to the Error phase and reports to its caller.
func (m *Manager) failStream(s *stream, err error) {
	if !m.terminate(s, PhaseError) {
		return
	}
	m.logger.Warn("stream failed", "stream_id", s.id, "error", err)
	if s.cb.OnError != nil {
		s.cb.OnError(err)
	}
}
