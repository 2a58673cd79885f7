// ABOUTME: Payload shapes for the list-update events backing the coordinator caches.
// ABOUTME: Each list event carries a full-replacement snapshot, never a delta.

package protocol

// Agent describes one configured agent.
type Agent struct {
	ID           string   `json:"id"`
	Name         string   `json:"name"`
	Description  string   `json:"description,omitempty"`
	Model        string   `json:"model,omitempty"`
	Capabilities []string `json:"capabilities,omitempty"`
}

// Model describes one available model.
type Model struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	Provider string `json:"provider,omitempty"`
}

// Prompt describes one stored prompt.
type Prompt struct {
	ID      string `json:"id"`
	Name    string `json:"name"`
	Content string `json:"content,omitempty"`
}

// Tool describes one registered tool.
type Tool struct {
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
}

// AgentListUpdate is the payload of an agent_list_update event.
type AgentListUpdate struct {
	Agents []Agent `json:"agents"`
}

// ModelListUpdate is the payload of a model_update event.
type ModelListUpdate struct {
	Models []Model `json:"models"`
}

// PromptListUpdate is the payload of a prompt_update event.
type PromptListUpdate struct {
	Prompts []Prompt `json:"prompts"`
}

// ToolListUpdate is the payload of a tool_update event.
type ToolListUpdate struct {
	Tools []Tool `json:"tools"`
}

// StreamStart is the payload of an agent_stream_start event. The message ID
// names the content stream to open.
type StreamStart struct {
	MessageID string `json:"message_id"`
}

// SessionCreated is the payload of a session_created event.
type SessionCreated struct {
	SessionID string `json:"session_id"`
}

// ChatMessage is the payload of a chat_message command.
type ChatMessage struct {
	Content string `json:"content"`
}
