package llm

import "context"

// Conversation roles. RoleModel is the gateway's name for the assistant side.
const (
	RoleUser   = "user"
	RoleModel  = "model"
	RoleSystem = "system"
)

// Message is one entry of the conversation sent to a provider
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Parts returns the content fields of the message
func (m Message) Parts() []string {
	return []string{m.Content}
}

// ResponseUsage is the usage report a provider may attach to the end of a stream
type ResponseUsage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// StreamChunk is one item of a response stream. A chunk carries text, the final
// usage report, or an error; an error chunk is always the last one sent.
type StreamChunk struct {
	Content string
	Usage   *ResponseUsage
	Err     error
}

// TokenCounter counts tokens of a conversation the way the provider would bill them
type TokenCounter interface {
	CountTokens(ctx context.Context, messages []Message) (int, error)
}

// LLMProvider defines the generation capability used by the gateway
type LLMProvider interface {
	TokenCounter

	// ChatStream sends the conversation and streams the response. The channel is
	// closed when the stream ends, fails, or ctx is cancelled.
	ChatStream(ctx context.Context, messages []Message) (<-chan StreamChunk, error)

	// GetDefaultModel returns the model this provider generates with
	GetDefaultModel() string
}

// send delivers chunk unless ctx is done first
func send(ctx context.Context, chunks chan<- StreamChunk, chunk StreamChunk) bool {
	select {
	case chunks <- chunk:
		return true
	case <-ctx.Done():
		return false
	}
}
