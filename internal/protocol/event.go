// ABOUTME: Inbound event envelope, the closed set of event types, and strict parsing.
// ABOUTME: Malformed frames are contract violations surfaced to the caller, never dropped.

package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// EventType identifies an inbound event push.
type EventType string

// Event types pushed by the gateway.
const (
	EventSystemMessage        EventType = "system_message"
	EventAgentResponse        EventType = "agent_response"
	EventAgentStreamStart     EventType = "agent_stream_start"
	EventAgentStream          EventType = "agent_stream"
	EventSeedMessage          EventType = "seed_message"
	EventError                EventType = "error"
	EventContextUpdate        EventType = "context_update"
	EventNotification         EventType = "notification"
	EventAgentCallAnnounce    EventType = "agent_call_announcement"
	EventAgentListUpdate      EventType = "agent_list_update"
	EventToolUpdate           EventType = "tool_update"
	EventPromptUpdate         EventType = "prompt_update"
	EventProviderUpdate       EventType = "provider_update"
	EventModelUpdate          EventType = "model_update"
	EventSchemaUpdate         EventType = "schema_update"
	EventSessionCreated       EventType = "session_created"
	EventConversationSnapshot EventType = "conversation_snapshot"
	EventConversationList     EventType = "conversation_list"
	EventMonitoringHealth     EventType = "monitoring_health"
	EventMonitoringMetrics    EventType = "monitoring_metrics"
	EventMonitoringErrors     EventType = "monitoring_errors"
)

var knownEventTypes = map[EventType]struct{}{
	EventSystemMessage: {}, EventAgentResponse: {}, EventAgentStreamStart: {},
	EventAgentStream: {}, EventSeedMessage: {}, EventError: {},
	EventContextUpdate: {}, EventNotification: {}, EventAgentCallAnnounce: {},
	EventAgentListUpdate: {}, EventToolUpdate: {}, EventPromptUpdate: {},
	EventProviderUpdate: {}, EventModelUpdate: {}, EventSchemaUpdate: {},
	EventSessionCreated: {}, EventConversationSnapshot: {}, EventConversationList: {},
	EventMonitoringHealth: {}, EventMonitoringMetrics: {}, EventMonitoringErrors: {},
}

// Known reports whether t is a recognized event type.
func (t EventType) Known() bool {
	_, ok := knownEventTypes[t]
	return ok
}

// ErrorPayload carries a structured backend error.
type ErrorPayload struct {
	Code    string          `json:"code"`
	Message string          `json:"message"`
	Details json.RawMessage `json:"details,omitempty"`
}

func (e *ErrorPayload) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// EventEnvelope wraps a single inbound event.
type EventEnvelope struct {
	Type      EventType       `json:"type"`
	MessageID string          `json:"message_id"`
	Timestamp time.Time       `json:"timestamp"`
	AgentID   string          `json:"agent_id,omitempty"`
	AgentName string          `json:"agent_name,omitempty"`
	SessionID string          `json:"session_id,omitempty"`
	Data      json.RawMessage `json:"data,omitempty"`
	Error     *ErrorPayload   `json:"error,omitempty"`
}

// Parse errors are backend-contract violations, not recoverable conditions.
var (
	ErrMalformedEvent   = errors.New("malformed event envelope")
	ErrUnknownEventType = errors.New("unknown event type")
)

// ParseEvent decodes a raw socket frame into an EventEnvelope, enforcing the
// wire contract: the frame must be valid JSON, carry a known type, and
// error-typed envelopes must carry an error payload.
func ParseEvent(raw []byte) (*EventEnvelope, error) {
	var ev EventEnvelope
	if err := json.Unmarshal(raw, &ev); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedEvent, err)
	}
	if ev.Type == "" {
		return nil, fmt.Errorf("%w: missing type", ErrMalformedEvent)
	}
	if !ev.Type.Known() {
		return nil, fmt.Errorf("%w: %q", ErrUnknownEventType, ev.Type)
	}
	if ev.Type == EventError && ev.Error == nil {
		return nil, fmt.Errorf("%w: error event without error payload", ErrMalformedEvent)
	}
	return &ev, nil
}

// DecodeData unmarshals the envelope payload into v, reporting a contract
// violation when the payload does not match the expected shape.
func (e *EventEnvelope) DecodeData(v any) error {
	if len(e.Data) == 0 {
		return fmt.Errorf("%w: %s event without payload", ErrMalformedEvent, e.Type)
	}
	if err := json.Unmarshal(e.Data, v); err != nil {
		return fmt.Errorf("%w: %s payload: %v", ErrMalformedEvent, e.Type, err)
	}
	return nil
}
