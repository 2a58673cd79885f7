// ABOUTME: Tests for envelope construction, strict event parsing, and chunk frames.
// ABOUTME: Covers command options, contract violations, and payload decoding.

package protocol

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewCommand_SetsIdentityFields(t *testing.T) {
	cmd, err := NewCommand(CmdGetAgents, nil)
	require.NoError(t, err)

	assert.Equal(t, CmdGetAgents, cmd.Type)
	assert.NotEmpty(t, cmd.MessageID)
	assert.False(t, cmd.Timestamp.IsZero())
	assert.Empty(t, cmd.AgentID)
	assert.Nil(t, cmd.Data)
}

func TestNewCommand_UniqueMessageIDs(t *testing.T) {
	a, err := NewCommand(CmdGetAgents, nil)
	require.NoError(t, err)
	b, err := NewCommand(CmdGetAgents, nil)
	require.NoError(t, err)

	assert.NotEqual(t, a.MessageID, b.MessageID)
}

func TestNewCommand_Options(t *testing.T) {
	cmd, err := NewCommand(CmdChatMessage, ChatMessage{Content: "hi"},
		WithAgent("agent-1"), WithSession("sess-9"))
	require.NoError(t, err)

	assert.Equal(t, "agent-1", cmd.AgentID)
	assert.Equal(t, "sess-9", cmd.SessionID)

	var payload ChatMessage
	require.NoError(t, json.Unmarshal(cmd.Data, &payload))
	assert.Equal(t, "hi", payload.Content)
}

func TestCommandEnvelope_MarshalRoundTrip(t *testing.T) {
	cmd, err := NewCommand(CmdGetTools, nil, WithAgent("agent-1"))
	require.NoError(t, err)

	data, err := cmd.Marshal()
	require.NoError(t, err)

	var decoded map[string]any
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.Equal(t, "get_tools", decoded["type"])
	assert.Equal(t, "agent-1", decoded["agent_id"])
	assert.Equal(t, cmd.MessageID, decoded["message_id"])
}

func TestParseEvent_Valid(t *testing.T) {
	raw := []byte(`{"type":"agent_list_update","message_id":"m1","timestamp":"2025-01-02T03:04:05Z","data":{"agents":[{"id":"a1","name":"planner"}]}}`)

	ev, err := ParseEvent(raw)
	require.NoError(t, err)
	assert.Equal(t, EventAgentListUpdate, ev.Type)
	assert.Equal(t, "m1", ev.MessageID)

	var upd AgentListUpdate
	require.NoError(t, ev.DecodeData(&upd))
	require.Len(t, upd.Agents, 1)
	assert.Equal(t, "planner", upd.Agents[0].Name)
}

func TestParseEvent_InvalidJSON(t *testing.T) {
	_, err := ParseEvent([]byte(`{not json`))
	assert.ErrorIs(t, err, ErrMalformedEvent)
}

func TestParseEvent_MissingType(t *testing.T) {
	_, err := ParseEvent([]byte(`{"message_id":"m1"}`))
	assert.ErrorIs(t, err, ErrMalformedEvent)
}

func TestParseEvent_UnknownType(t *testing.T) {
	_, err := ParseEvent([]byte(`{"type":"telepathy","message_id":"m1"}`))
	assert.ErrorIs(t, err, ErrUnknownEventType)
}

func TestParseEvent_ErrorEventRequiresPayload(t *testing.T) {
	_, err := ParseEvent([]byte(`{"type":"error","message_id":"m1"}`))
	assert.ErrorIs(t, err, ErrMalformedEvent)

	ev, err := ParseEvent([]byte(`{"type":"error","message_id":"m1","error":{"code":"agent_failed","message":"boom"}}`))
	require.NoError(t, err)
	require.NotNil(t, ev.Error)
	assert.Equal(t, "agent_failed", ev.Error.Code)
	assert.Equal(t, "agent_failed: boom", ev.Error.Error())
}

func TestDecodeData_ShapeMismatch(t *testing.T) {
	ev, err := ParseEvent([]byte(`{"type":"agent_list_update","message_id":"m1","data":{"agents":"not-a-list"}}`))
	require.NoError(t, err)

	var upd AgentListUpdate
	assert.ErrorIs(t, ev.DecodeData(&upd), ErrMalformedEvent)
}

func TestDecodeData_MissingPayload(t *testing.T) {
	ev, err := ParseEvent([]byte(`{"type":"tool_update","message_id":"m1"}`))
	require.NoError(t, err)

	var upd ToolListUpdate
	assert.ErrorIs(t, ev.DecodeData(&upd), ErrMalformedEvent)
}

func TestParseChunk_Types(t *testing.T) {
	chunk, err := ParseChunk([]byte(`{"chunk":"hello","type":"content","chunk_id":3}`))
	require.NoError(t, err)
	assert.Equal(t, ChunkContent, chunk.Type)
	assert.Equal(t, "hello", chunk.Chunk)
	assert.Equal(t, 3, chunk.ChunkID)

	chunk, err = ParseChunk([]byte(`{"type":"error","chunk_id":4,"error":{"code":"generation_failed","message":"bad"}}`))
	require.NoError(t, err)
	assert.Equal(t, ChunkError, chunk.Type)
	require.NotNil(t, chunk.Error)
}

func TestParseChunk_RejectsUnknownType(t *testing.T) {
	_, err := ParseChunk([]byte(`{"type":"interpretive-dance","chunk_id":1}`))
	assert.ErrorIs(t, err, ErrMalformedEvent)
}

func TestParseChunk_RejectsInvalidJSON(t *testing.T) {
	_, err := ParseChunk([]byte(`data: oops`))
	assert.ErrorIs(t, err, ErrMalformedEvent)
}
