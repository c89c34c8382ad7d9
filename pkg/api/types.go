package api

import "time"

// Role identifies the author of a chat message.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// FinishReason is the backend-supplied terminal status for a completion.
type FinishReason string

const (
	FinishReasonStop          FinishReason = "stop"
	FinishReasonLength        FinishReason = "length"
	FinishReasonContentFilter FinishReason = "content_filter"
	FinishReasonError         FinishReason = "error"
	FinishReasonUnknown       FinishReason = "unknown"
)

// ChatMessage is one turn of a conversation in the uniform shape.
//
// A request's message list is ordered. At most one message may carry
// RoleSystem; adapters either route it through the backend's dedicated
// system-prompt channel or fold it into the first user message when the
// backend has no such channel.
type ChatMessage struct {
	Role      Role           `json:"role"`
	Content   string         `json:"content"`
	Timestamp time.Time      `json:"timestamp,omitempty"`
	Metadata  map[string]any `json:"metadata,omitempty"`
}

// SystemMessage returns a ChatMessage with RoleSystem.
func SystemMessage(content string) ChatMessage {
	return ChatMessage{Role: RoleSystem, Content: content}
}

// UserMessage returns a ChatMessage with RoleUser.
func UserMessage(content string) ChatMessage {
	return ChatMessage{Role: RoleUser, Content: content}
}

// AssistantMessage returns a ChatMessage with RoleAssistant.
func AssistantMessage(content string) ChatMessage {
	return ChatMessage{Role: RoleAssistant, Content: content}
}

// SplitSystemPrompt extracts the system message (if any) from messages and
// returns it alongside the remaining messages. The relative order of the
// remaining messages is preserved.
func SplitSystemPrompt(messages []ChatMessage) (system string, rest []ChatMessage) {
	rest = make([]ChatMessage, 0, len(messages))
	for _, m := range messages {
		if m.Role == RoleSystem && system == "" {
			system = m.Content
			continue
		}
		rest = append(rest, m)
	}
	return system, rest
}

// FoldSystemPrompt prepends the system prompt to the first user message,
// for backends without a dedicated system-prompt channel. If there is no
// user message the system prompt becomes one.
func FoldSystemPrompt(system string, messages []ChatMessage) []ChatMessage {
	if system == "" {
		return messages
	}
	out := make([]ChatMessage, len(messages))
	copy(out, messages)
	for i := range out {
		if out[i].Role == RoleUser {
			out[i].Content = system + "\n\n" + out[i].Content
			return out
		}
	}
	return append([]ChatMessage{UserMessage(system)}, out...)
}

// ChatRequest is the uniform request shape targeting a single provider.
//
// Cancellation is carried by the context.Context passed alongside the
// request; the request itself holds no cancellation state.
type ChatRequest struct {
	// Provider is the registry identifier of the target backend.
	Provider string `json:"provider"`

	// Model selects a backend model. Empty means the provider default.
	Model string `json:"model,omitempty"`

	Messages []ChatMessage `json:"messages"`

	// Sampling parameters. Nil pointers mean "backend default".
	Temperature *float64 `json:"temperature,omitempty"`
	TopP        *float64 `json:"top_p,omitempty"`
	TopK        *int     `json:"top_k,omitempty"`
	MaxTokens   *int     `json:"max_tokens,omitempty"`
	Stop        []string `json:"stop,omitempty"`

	// Stream selects the streaming path.
	Stream bool `json:"stream,omitempty"`

	// UserID identifies the caller for credential lookup. Never forwarded
	// to the backend.
	UserID string `json:"-"`
}

// Clone returns a deep copy of the request.
func (r *ChatRequest) Clone() *ChatRequest {
	out := *r
	out.Messages = make([]ChatMessage, len(r.Messages))
	copy(out.Messages, r.Messages)
	if r.Stop != nil {
		out.Stop = append([]string(nil), r.Stop...)
	}
	return &out
}

// Usage holds token accounting for one completion.
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// ChatChunk is one increment of a streamed response.
//
// A chunk stream for one logical request is totally ordered and its last
// element always has Done=true, even on error. Content may be empty on the
// terminal chunk.
type ChatChunk struct {
	Content      string       `json:"content"`
	Done         bool         `json:"done"`
	FinishReason FinishReason `json:"finish_reason,omitempty"`
	Usage        *Usage       `json:"usage,omitempty"`

	// Err carries a stream-level failure. It is only set on a terminal
	// chunk and is never sent over the wire.
	Err error `json:"-"`
}

// TerminalChunk returns a terminal chunk with the given finish reason.
func TerminalChunk(reason FinishReason, usage *Usage) ChatChunk {
	return ChatChunk{Done: true, FinishReason: reason, Usage: usage}
}

// ErrorChunk returns a terminal chunk carrying a stream-level failure.
func ErrorChunk(err error) ChatChunk {
	return ChatChunk{Done: true, FinishReason: FinishReasonError, Err: err}
}

// ChatResponse is the complete result of a blocking chat call.
type ChatResponse struct {
	Content      string       `json:"content"`
	Model        string       `json:"model,omitempty"`
	FinishReason FinishReason `json:"finish_reason"`
	Usage        Usage        `json:"usage"`
	CreatedAt    time.Time    `json:"created_at,omitempty"`
}

// AssistantTurn converts a blocking response into the inbound wire shape:
// an assistant message annotated with provider metadata.
func (r *ChatResponse) AssistantTurn(provider string) ChatMessage {
	ts := r.CreatedAt
	if ts.IsZero() {
		ts = time.Now().UTC()
	}
	return ChatMessage{
		Role:      RoleAssistant,
		Content:   r.Content,
		Timestamp: ts,
		Metadata: map[string]any{
			"provider":      provider,
			"model":         r.Model,
			"finish_reason": string(r.FinishReason),
			"usage":         r.Usage,
		},
	}
}
