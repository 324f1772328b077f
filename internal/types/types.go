package types

// Inbound frame types.
const (
	FrameChat   = "chat"
	FrameCancel = "cancel"
)

// Outbound frame types.
const (
	FrameThinking  = "thinking"
	FrameChunk     = "chunk"
	FrameDone      = "done"
	FrameCancelled = "cancelled"
	FrameError     = "error"
)

// Message roles accepted by the backend.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// InboundFrame is the JSON envelope sent client->server.
type InboundFrame struct {
	Type string `json:"type"`

	// chat
	Model        string    `json:"model,omitempty"`
	Messages     []Message `json:"messages,omitempty"`
	SystemPrompt string    `json:"system_prompt,omitempty"`
}

// OutboundFrame is the JSON envelope sent server->client.
type OutboundFrame struct {
	Type    string `json:"type"`
	Content string `json:"content"`
}

type ErrorResponse struct {
	Error string `json:"error"`
}

type HealthResponse struct {
	Status         string `json:"status"`
	ActiveSessions int    `json:"activeSessions"`
	Backend        string `json:"backend"`
	BackendError   string `json:"backendError,omitempty"`
	LedgerError    string `json:"ledgerError,omitempty"`
}

// BuildMessages returns the message list sent to the backend: an optional
// leading system message followed by the client's messages in order.
func BuildMessages(systemPrompt string, messages []Message) []Message {
	out := make([]Message, 0, len(messages)+1)
	if systemPrompt != "" {
		out = append(out, Message{Role: RoleSystem, Content: systemPrompt})
	}
	return append(out, messages...)
}
