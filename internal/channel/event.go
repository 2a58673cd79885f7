// ABOUTME: EventChannel parses inbound frames into event envelopes for dispatch.
// ABOUTME: Unparseable frames surface as contract violations, never silent drops.

package channel

import (
	"log/slog"

	"github.com/2389/loom-client/internal/protocol"
)

// EventChannel is the inbound half of the client: it parses every frame
// arriving on its connection into a protocol.EventEnvelope and hands it to
// the dispatcher in arrival order.
type EventChannel struct {
	conn    *Conn
	onEvent func(*protocol.EventEnvelope)
	onError func(error)
	logger  *slog.Logger
}

// EventChannelConfig wires an EventChannel's callbacks.
type EventChannelConfig struct {
	// OnEvent receives every well-formed envelope in arrival order.
	OnEvent func(*protocol.EventEnvelope)
	// OnError receives parse failures as backend-contract violations.
	OnError func(error)
}

// NewEventChannel wraps the given connection. The channel installs itself as
// the connection's frame handler; set remaining Callbacks before calling this.
func NewEventChannel(conn *Conn, cfg EventChannelConfig, logger *slog.Logger) *EventChannel {
	if logger == nil {
		logger = slog.Default()
	}
	ec := &EventChannel{
		conn:    conn,
		onEvent: cfg.OnEvent,
		onError: cfg.OnError,
		logger:  logger.With("component", "event-channel"),
	}
	conn.callbacks.OnFrame = ec.handleFrame
	return ec
}

// handleFrame parses one raw frame and routes it.
func (e *EventChannel) handleFrame(data []byte) {
	ev, err := protocol.ParseEvent(data)
	if err != nil {
		e.logger.Warn("unparseable event frame", "error", err)
		if e.onError != nil {
			e.onError(err)
		}
		return
	}
	if e.onEvent != nil {
		e.onEvent(ev)
	}
}

// Conn exposes the underlying connection for lifecycle control.
func (e *EventChannel) Conn() *Conn {
	return e.conn
}
