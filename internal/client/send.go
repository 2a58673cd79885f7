// ABOUTME: Typed command surface; every send builds an envelope and funnels through one path.
// ABOUTME: Chat sends reuse the per-agent session affinity automatically.

package client

import (
	"fmt"

	"github.com/2389/loom-client/internal/metrics"
	"github.com/2389/loom-client/internal/protocol"
)

// send builds and submits one command envelope. Everything outbound funnels
// through here; queueing and FIFO delivery are the command channel's concern.
func (c *Coordinator) send(t protocol.CommandType, data any, opts ...protocol.CommandOption) error {
	cmd, err := protocol.NewCommand(t, data, opts...)
	if err != nil {
		return err
	}
	if err := c.command.SendEnvelope(cmd); err != nil {
		return fmt.Errorf("sending %s: %w", t, err)
	}
	metrics.CommandsSentTotal.WithLabelValues(string(t)).Inc()
	return nil
}

// SendChatMessage sends a chat message to an agent, pinned to the agent's
// bound session when one exists.
func (c *Coordinator) SendChatMessage(agentID, content string) error {
	opts := []protocol.CommandOption{protocol.WithAgent(agentID)}
	if sessionID, ok := c.SessionFor(agentID); ok {
		opts = append(opts, protocol.WithSession(sessionID))
	}
	return c.send(protocol.CmdChatMessage, protocol.ChatMessage{Content: content}, opts...)
}

// RefreshAgent asks the gateway to reload one agent.
func (c *Coordinator) RefreshAgent(agentID string) error {
	return c.send(protocol.CmdAgentRefresh, nil, protocol.WithAgent(agentID))
}

// RegisterAgent announces an agent definition to the gateway.
func (c *Coordinator) RegisterAgent(definition any) error {
	return c.send(protocol.CmdRegisterAgent, definition)
}

// RequestAgents asks for the current agent list; the reply arrives as an
// agent_list_update event and refreshes the cache.
func (c *Coordinator) RequestAgents() error {
	return c.send(protocol.CmdGetAgents, nil)
}

// CreateAgent creates an agent from the given definition.
func (c *Coordinator) CreateAgent(definition any) error {
	return c.send(protocol.CmdCreateAgent, definition)
}

// UpdateAgent updates an agent definition.
func (c *Coordinator) UpdateAgent(agentID string, definition any) error {
	return c.send(protocol.CmdUpdateAgent, definition, protocol.WithAgent(agentID))
}

// DeleteAgent removes an agent.
func (c *Coordinator) DeleteAgent(agentID string) error {
	return c.send(protocol.CmdDeleteAgent, nil, protocol.WithAgent(agentID))
}

// RequestTools asks for the tool list.
func (c *Coordinator) RequestTools() error { return c.send(protocol.CmdGetTools, nil) }

// RequestPrompts asks for the prompt list.
func (c *Coordinator) RequestPrompts() error { return c.send(protocol.CmdGetPrompts, nil) }

// RequestProviders asks for the provider list.
func (c *Coordinator) RequestProviders() error { return c.send(protocol.CmdGetProviders, nil) }

// RequestModels asks for the model list.
func (c *Coordinator) RequestModels() error { return c.send(protocol.CmdGetModels, nil) }

// RequestSchemas asks for the schema list.
func (c *Coordinator) RequestSchemas() error { return c.send(protocol.CmdGetSchemas, nil) }

// CreatePrompt creates a prompt.
func (c *Coordinator) CreatePrompt(p any) error { return c.send(protocol.CmdCreatePrompt, p) }

// UpdatePrompt updates a prompt.
func (c *Coordinator) UpdatePrompt(p any) error { return c.send(protocol.CmdUpdatePrompt, p) }

// DeletePrompt deletes a prompt.
func (c *Coordinator) DeletePrompt(p any) error { return c.send(protocol.CmdDeletePrompt, p) }

// CreateSchema creates a schema.
func (c *Coordinator) CreateSchema(s any) error { return c.send(protocol.CmdCreateSchema, s) }

// UpdateSchema updates a schema.
func (c *Coordinator) UpdateSchema(s any) error { return c.send(protocol.CmdUpdateSchema, s) }

// DeleteSchema deletes a schema.
func (c *Coordinator) DeleteSchema(s any) error { return c.send(protocol.CmdDeleteSchema, s) }

// CreateProvider creates a provider.
func (c *Coordinator) CreateProvider(p any) error { return c.send(protocol.CmdCreateProvider, p) }

// UpdateProvider updates a provider.
func (c *Coordinator) UpdateProvider(p any) error { return c.send(protocol.CmdUpdateProvider, p) }

// DeleteProvider deletes a provider.
func (c *Coordinator) DeleteProvider(p any) error { return c.send(protocol.CmdDeleteProvider, p) }

// CreateModel creates a model.
func (c *Coordinator) CreateModel(m any) error { return c.send(protocol.CmdCreateModel, m) }

// UpdateModel updates a model.
func (c *Coordinator) UpdateModel(m any) error { return c.send(protocol.CmdUpdateModel, m) }

// DeleteModel deletes a model.
func (c *Coordinator) DeleteModel(m any) error { return c.send(protocol.CmdDeleteModel, m) }

// RequestMonitoringHealth asks for gateway health.
func (c *Coordinator) RequestMonitoringHealth() error {
	return c.send(protocol.CmdGetMonitoringHealth, nil)
}

// RequestMonitoringMetrics asks for gateway metrics.
func (c *Coordinator) RequestMonitoringMetrics() error {
	return c.send(protocol.CmdGetMonitoringMetrics, nil)
}

// RequestMonitoringErrors asks for recent gateway errors.
func (c *Coordinator) RequestMonitoringErrors() error {
	return c.send(protocol.CmdGetMonitoringErrors, nil)
}

// SaveConversation asks the gateway to persist the agent's conversation.
func (c *Coordinator) SaveConversation(agentID string, snapshot any) error {
	return c.send(protocol.CmdSaveConversation, snapshot, protocol.WithAgent(agentID))
}

// ListConversations asks for the stored conversation index.
func (c *Coordinator) ListConversations() error {
	return c.send(protocol.CmdListConversation, nil)
}

// LoadConversation asks the gateway to load a stored conversation.
func (c *Coordinator) LoadConversation(agentID string, conversation any) error {
	return c.send(protocol.CmdLoadConversation, conversation, protocol.WithAgent(agentID))
}
