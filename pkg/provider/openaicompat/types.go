package openaicompat

// Wire types for the OpenAI Chat Completions dialect. Field names and
// JSON tags follow the published API; every adapter in this family
// speaks this shape, so they live here rather than per adapter.

// ChatCompletionRequest is the body POSTed to /v1/chat/completions.
type ChatCompletionRequest struct {
	Model         string             `json:"model"`
	Messages      []ChatMessage      `json:"messages"`
	Temperature   *float64           `json:"temperature,omitempty"`
	TopP          *float64           `json:"top_p,omitempty"`
	MaxTokens     *int               `json:"max_tokens,omitempty"`
	Stop          []string           `json:"stop,omitempty"`
	N             int                `json:"n"`
	Stream        bool               `json:"stream"`
	StreamOptions *ChatStreamOptions `json:"stream_options,omitempty"`
}

// ChatStreamOptions asks the backend to append a usage frame to the stream.
type ChatStreamOptions struct {
	IncludeUsage bool `json:"include_usage"`
}

// ChatMessage is one turn of the conversation on the wire.
type ChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// ChatCompletionResponse is the blocking reply from /v1/chat/completions.
type ChatCompletionResponse struct {
	ID      string       `json:"id"`
	Object  string       `json:"object"`
	Model   string       `json:"model"`
	Created int64        `json:"created"`
	Choices []ChatChoice `json:"choices"`
	Usage   *ChatUsage   `json:"usage,omitempty"`
}

// ChatChoice is one completion alternative in a blocking reply.
type ChatChoice struct {
	Index        int         `json:"index"`
	Message      ChatMessage `json:"message"`
	FinishReason string      `json:"finish_reason"`
}

// ChatUsage carries the backend's token accounting.
type ChatUsage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// ChatCompletionChunk is one SSE data frame of a streamed reply.
type ChatCompletionChunk struct {
	ID      string            `json:"id"`
	Object  string            `json:"object"`
	Model   string            `json:"model"`
	Choices []ChatChunkChoice `json:"choices"`
	Usage   *ChatUsage        `json:"usage,omitempty"`
}

// ChatChunkChoice wraps the delta for one streamed choice. FinishReason
// is a pointer because it is null until the final frame.
type ChatChunkChoice struct {
	Index        int            `json:"index"`
	Delta        ChatChunkDelta `json:"delta"`
	FinishReason *string        `json:"finish_reason"`
}

// ChatChunkDelta is the incremental payload of a streamed frame. A nil
// Content distinguishes "no content field" from an empty string.
type ChatChunkDelta struct {
	Role    string  `json:"role,omitempty"`
	Content *string `json:"content,omitempty"`
}

// ChatErrorDetail is the inner object of a backend error body.
type ChatErrorDetail struct {
	Message string `json:"message"`
	Type    string `json:"type"`
	Code    any    `json:"code"`
}

// ChatErrorResponse is the error envelope Chat Completions backends return.
type ChatErrorResponse struct {
	Error ChatErrorDetail `json:"error"`
}

// ChatModelsResponse is the reply from GET /v1/models.
type ChatModelsResponse struct {
	Object string      `json:"object"`
	Data   []ChatModel `json:"data"`
}

// ChatModel is one entry of a /v1/models listing.
type ChatModel struct {
	ID      string `json:"id"`
	Object  string `json:"object"`
	OwnedBy string `json:"owned_by"`
}
