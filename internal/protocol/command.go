// ABOUTME: Outbound command envelope and the closed set of command types.
// ABOUTME: Commands are built once, serialized, and queued or transmitted as-is.

package protocol

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// CommandType identifies an outbound command.
type CommandType string

// Command types accepted by the gateway.
const (
	CmdChatMessage   CommandType = "chat_message"
	CmdAgentRefresh  CommandType = "agent_refresh"
	CmdRegisterAgent CommandType = "register_agent"

	CmdGetAgents   CommandType = "get_agents"
	CmdCreateAgent CommandType = "create_agent"
	CmdUpdateAgent CommandType = "update_agent"
	CmdDeleteAgent CommandType = "delete_agent"

	CmdGetTools     CommandType = "get_tools"
	CmdGetPrompts   CommandType = "get_prompts"
	CmdGetProviders CommandType = "get_providers"
	CmdGetModels    CommandType = "get_models"
	CmdGetSchemas   CommandType = "get_schemas"

	CmdCreatePrompt CommandType = "create_prompt"
	CmdUpdatePrompt CommandType = "update_prompt"
	CmdDeletePrompt CommandType = "delete_prompt"

	CmdCreateSchema CommandType = "create_schema"
	CmdUpdateSchema CommandType = "update_schema"
	CmdDeleteSchema CommandType = "delete_schema"

	CmdCreateProvider CommandType = "create_provider"
	CmdUpdateProvider CommandType = "update_provider"
	CmdDeleteProvider CommandType = "delete_provider"

	CmdCreateModel CommandType = "create_model"
	CmdUpdateModel CommandType = "update_model"
	CmdDeleteModel CommandType = "delete_model"

	CmdGetMonitoringHealth  CommandType = "get_monitoring_health"
	CmdGetMonitoringMetrics CommandType = "get_monitoring_metrics"
	CmdGetMonitoringErrors  CommandType = "get_monitoring_errors"

	CmdSaveConversation CommandType = "save_conversation"
	CmdListConversation CommandType = "list_conversation"
	CmdLoadConversation CommandType = "load_conversation"
)

// CommandEnvelope wraps a single outbound command. Envelopes are immutable
// once built: construct them with NewCommand and do not mutate afterwards.
type CommandEnvelope struct {
	Type      CommandType     `json:"type"`
	MessageID string          `json:"message_id"`
	Timestamp time.Time       `json:"timestamp"`
	AgentID   string          `json:"agent_id,omitempty"`
	SessionID string          `json:"session_id,omitempty"`
	Data      json.RawMessage `json:"data,omitempty"`
}

// CommandOption customizes a command envelope during construction.
type CommandOption func(*CommandEnvelope)

// WithAgent targets the command at a specific agent.
func WithAgent(agentID string) CommandOption {
	return func(c *CommandEnvelope) { c.AgentID = agentID }
}

// WithSession pins the command to an existing session.
func WithSession(sessionID string) CommandOption {
	return func(c *CommandEnvelope) { c.SessionID = sessionID }
}

// NewCommand builds a command envelope with a fresh message ID and the
// current timestamp. data may be nil for commands without a payload.
func NewCommand(t CommandType, data any, opts ...CommandOption) (*CommandEnvelope, error) {
	cmd := &CommandEnvelope{
		Type:      t,
		MessageID: uuid.New().String(),
		Timestamp: time.Now().UTC(),
	}
	if data != nil {
		raw, err := json.Marshal(data)
		if err != nil {
			return nil, fmt.Errorf("encoding %s payload: %w", t, err)
		}
		cmd.Data = raw
	}
	for _, opt := range opts {
		opt(cmd)
	}
	return cmd, nil
}

// Marshal serializes the envelope for the wire.
func (c *CommandEnvelope) Marshal() ([]byte, error) {
	data, err := json.Marshal(c)
	if err != nil {
		return nil, fmt.Errorf("encoding %s envelope: %w", c.Type, err)
	}
	return data, nil
}
