// ABOUTME: Inbound event dispatch through the merged handler registry.
// ABOUTME: List-update events refresh the caches before any handler executes.

package client

import (
	"time"

	"github.com/2389/loom-client/internal/metrics"
	"github.com/2389/loom-client/internal/protocol"
)

// dispatch routes one inbound envelope: cache side effects first, then the
// registered handler, then any fan-out subscribers. Events for one channel
// are processed in arrival order; dispatch runs on the event channel's read
// goroutine.
func (c *Coordinator) dispatch(ev *protocol.EventEnvelope) {
	metrics.EventsTotal.WithLabelValues(string(ev.Type)).Inc()

	// Caches refresh unconditionally and before any handler, so a handler
	// registered after another always observes the same snapshot. A payload
	// that does not match its contract aborts dispatch for the envelope.
	var err error
	switch ev.Type {
	case protocol.EventAgentListUpdate:
		err = c.refreshAgents(ev)
	case protocol.EventModelUpdate:
		err = c.refreshModels(ev)
	case protocol.EventPromptUpdate:
		err = c.refreshPrompts(ev)
	case protocol.EventToolUpdate:
		err = c.refreshTools(ev)
	case protocol.EventSessionCreated:
		err = c.bindSession(ev)
	}
	if err != nil {
		c.handleProtocolError(err)
		return
	}

	c.mu.RLock()
	handler := c.handlers[ev.Type]
	var fanout []HandlerFunc
	if ev.Type == protocol.EventAgentListUpdate {
		fanout = make([]HandlerFunc, 0, len(c.agentListSubs))
		for _, fn := range c.agentListSubs {
			fanout = append(fanout, fn)
		}
	}
	c.mu.RUnlock()

	if handler != nil {
		handler(ev)
	}
	for _, fn := range fanout {
		fn(ev)
	}
	if handler == nil && len(fanout) == 0 {
		c.logger.Debug("event without handler", "type", ev.Type, "agent_id", ev.AgentID)
	}
}

// handleProtocolError routes an unparseable frame to the generic error
// handler as a backend-contract violation. Nothing is silently discarded.
func (c *Coordinator) handleProtocolError(err error) {
	metrics.ProtocolErrorsTotal.Inc()
	c.logger.Warn("backend contract violation", "error", err)

	c.mu.RLock()
	handler := c.handlers[protocol.EventError]
	c.mu.RUnlock()
	if handler == nil {
		return
	}
	handler(&protocol.EventEnvelope{
		Type:      protocol.EventError,
		Timestamp: time.Now().UTC(),
		Error: &protocol.ErrorPayload{
			Code:    "protocol_violation",
			Message: err.Error(),
		},
	})
}

// refreshAgents atomically replaces the agent snapshot.
func (c *Coordinator) refreshAgents(ev *protocol.EventEnvelope) error {
	var upd protocol.AgentListUpdate
	if err := ev.DecodeData(&upd); err != nil {
		return err
	}
	c.mu.Lock()
	c.agents = upd.Agents
	c.mu.Unlock()
	c.logger.Debug("agent cache refreshed", "count", len(upd.Agents))
	return nil
}

// refreshModels atomically replaces the model snapshot.
func (c *Coordinator) refreshModels(ev *protocol.EventEnvelope) error {
	var upd protocol.ModelListUpdate
	if err := ev.DecodeData(&upd); err != nil {
		return err
	}
	c.mu.Lock()
	c.models = upd.Models
	c.mu.Unlock()
	return nil
}

// refreshPrompts atomically replaces the prompt snapshot.
func (c *Coordinator) refreshPrompts(ev *protocol.EventEnvelope) error {
	var upd protocol.PromptListUpdate
	if err := ev.DecodeData(&upd); err != nil {
		return err
	}
	c.mu.Lock()
	c.prompts = upd.Prompts
	c.mu.Unlock()
	return nil
}

// refreshTools atomically replaces the tool snapshot.
func (c *Coordinator) refreshTools(ev *protocol.EventEnvelope) error {
	var upd protocol.ToolListUpdate
	if err := ev.DecodeData(&upd); err != nil {
		return err
	}
	c.mu.Lock()
	c.tools = upd.Tools
	c.mu.Unlock()
	return nil
}

// bindSession records the session affinity announced for an agent.
func (c *Coordinator) bindSession(ev *protocol.EventEnvelope) error {
	sessionID := ev.SessionID
	if sessionID == "" {
		var payload protocol.SessionCreated
		if err := ev.DecodeData(&payload); err != nil {
			return err
		}
		sessionID = payload.SessionID
	}
	if ev.AgentID == "" || sessionID == "" {
		return nil
	}
	c.mu.Lock()
	c.sessions[ev.AgentID] = sessionID
	c.mu.Unlock()
	c.logger.Debug("session bound", "agent_id", ev.AgentID, "session_id", sessionID)
	return nil
}
