package openaicompat

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/chorus-llm/chorus/pkg/api"
	"github.com/chorus-llm/chorus/pkg/debug"
	"github.com/chorus-llm/chorus/pkg/provider"
	"github.com/chorus-llm/chorus/pkg/streaming"
)

// Config holds the construction parameters for a Client.
type Config struct {
	// Name is the provider identifier used in errors and logs.
	Name string

	// BaseURL is the backend root (e.g. "https://api.openai.com").
	BaseURL string

	// APIKey is the already-resolved, decrypted credential. Empty means
	// no Authorization header (local backends).
	APIKey string

	// Metadata is the static capability description returned by the
	// adapter and used as the fallback model list.
	Metadata provider.Metadata

	// ChatTimeout bounds blocking calls (default provider.DefaultChatTimeout).
	ChatTimeout time.Duration

	// ProbeTimeout bounds TestConnection and live model fetches
	// (default provider.DefaultProbeTimeout).
	ProbeTimeout time.Duration

	// IdleTimeout bounds the wait between stream reads
	// (default provider.DefaultStreamIdleTimeout).
	IdleTimeout time.Duration

	// HTTPClient overrides the default transport. Its Timeout is ignored
	// for streaming calls; context cancellation governs stream lifetime.
	HTTPClient *http.Client

	Logger *slog.Logger
}

// Client implements provider.Adapter against any OpenAI-compatible Chat
// Completions backend. Thin provider packages (openai, deepseek) construct
// a Client with their own defaults.
type Client struct {
	cfg        Config
	httpClient *http.Client
	logger     *slog.Logger
}

var _ provider.Adapter = (*Client)(nil)

// New creates a Client. Construction performs no I/O.
func New(cfg Config) *Client {
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	if cfg.ChatTimeout == 0 {
		cfg.ChatTimeout = provider.DefaultChatTimeout
	}
	if cfg.ProbeTimeout == 0 {
		cfg.ProbeTimeout = provider.DefaultProbeTimeout
	}
	if cfg.IdleTimeout == 0 {
		cfg.IdleTimeout = provider.DefaultStreamIdleTimeout
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: cfg.ChatTimeout}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{cfg: cfg, httpClient: httpClient, logger: logger}
}

// Name returns the provider identifier.
func (c *Client) Name() string { return c.cfg.Name }

// Metadata returns the static capability description.
func (c *Client) Metadata() provider.Metadata { return c.cfg.Metadata }

// TranslateRequest converts a uniform request into the Chat Completions
// wire shape. System messages pass through unchanged: every OpenAI-
// compatible backend has a native system role.
func (c *Client) TranslateRequest(req *api.ChatRequest) ChatCompletionRequest {
	model := req.Model
	if model == "" {
		model = c.cfg.Metadata.DefaultModel
	}
	cr := ChatCompletionRequest{
		Model:       model,
		Temperature: req.Temperature,
		TopP:        req.TopP,
		MaxTokens:   req.MaxTokens,
		Stop:        req.Stop,
		N:           1,
		Stream:      req.Stream,
	}
	if req.Stream {
		cr.StreamOptions = &ChatStreamOptions{IncludeUsage: true}
	}
	for _, m := range req.Messages {
		cr.Messages = append(cr.Messages, ChatMessage{Role: string(m.Role), Content: m.Content})
	}
	return cr
}

// Chat performs a blocking completion.
func (c *Client) Chat(ctx context.Context, req *api.ChatRequest) (*api.ChatResponse, error) {
	ctx, cancel := context.WithTimeout(ctx, c.cfg.ChatTimeout)
	defer cancel()

	wreq := c.TranslateRequest(req)
	wreq.Stream = false
	wreq.StreamOptions = nil

	httpResp, err := c.post(ctx, "/v1/chat/completions", wreq, "")
	if err != nil {
		return nil, MapNetworkError(c.cfg.Name, err)
	}
	defer httpResp.Body.Close()

	if httpResp.StatusCode < 200 || httpResp.StatusCode >= 300 {
		return nil, MapHTTPError(c.cfg.Name, httpResp)
	}

	var wresp ChatCompletionResponse
	if err := json.NewDecoder(httpResp.Body).Decode(&wresp); err != nil {
		return nil, api.NewProviderUnavailableError(c.cfg.Name,
			fmt.Sprintf("failed to parse backend response: %s", err.Error()))
	}
	if len(wresp.Choices) == 0 {
		return nil, api.NewProviderUnavailableError(c.cfg.Name, "backend returned no choices")
	}

	choice := wresp.Choices[0]
	out := &api.ChatResponse{
		Content:      choice.Message.Content,
		Model:        wresp.Model,
		FinishReason: MapFinishReason(choice.FinishReason),
	}
	if wresp.Created > 0 {
		out.CreatedAt = time.Unix(wresp.Created, 0).UTC()
	}
	if wresp.Usage != nil {
		out.Usage = api.Usage{
			PromptTokens:     wresp.Usage.PromptTokens,
			CompletionTokens: wresp.Usage.CompletionTokens,
			TotalTokens:      wresp.Usage.TotalTokens,
		}
	}
	return out, nil
}

// StreamChat performs a streaming completion, returning a normalized chunk
// channel. No overall deadline applies; the context and the idle-read
// timeout govern the stream's lifetime.
func (c *Client) StreamChat(ctx context.Context, req *api.ChatRequest) (<-chan api.ChatChunk, error) {
	wreq := c.TranslateRequest(req)
	wreq.Stream = true
	wreq.StreamOptions = &ChatStreamOptions{IncludeUsage: true}

	// A client without Timeout: a stream can legitimately outlive any
	// fixed deadline.
	streamClient := &http.Client{Transport: c.httpClient.Transport}

	httpResp, err := c.postWith(ctx, streamClient, "/v1/chat/completions", wreq, "text/event-stream")
	if err != nil {
		return nil, MapNetworkError(c.cfg.Name, err)
	}
	if httpResp.StatusCode < 200 || httpResp.StatusCode >= 300 {
		defer httpResp.Body.Close()
		return nil, MapHTTPError(c.cfg.Name, httpResp)
	}

	return streaming.Normalize(ctx, httpResp.Body, chunkExtractor{}, streaming.Options{
		Provider:    c.cfg.Name,
		Framing:     streaming.FramingSSE,
		IdleTimeout: c.cfg.IdleTimeout,
		Logger:      c.logger,
	}), nil
}

// TestConnection probes the backend by listing models.
func (c *Client) TestConnection(ctx context.Context) provider.ConnectionResult {
	ctx, cancel := context.WithTimeout(ctx, c.cfg.ProbeTimeout)
	defer cancel()

	start := time.Now()
	_, err := c.fetchModels(ctx)
	latency := time.Since(start)
	if err != nil {
		return provider.ConnectionResult{Success: false, Latency: latency, Error: err.Error()}
	}
	return provider.ConnectionResult{Success: true, Latency: latency}
}

// Models attempts a live fetch and degrades to the static metadata list.
func (c *Client) Models(ctx context.Context) []provider.ModelInfo {
	ctx, cancel := context.WithTimeout(ctx, c.cfg.ProbeTimeout)
	defer cancel()

	live, err := c.fetchModels(ctx)
	if err != nil || len(live) == 0 {
		if err != nil {
			c.logger.Debug("live model fetch failed, using static list",
				"provider", c.cfg.Name, "error", err)
		}
		return c.cfg.Metadata.Models
	}
	return live
}

// Close releases idle connections.
func (c *Client) Close() error {
	c.httpClient.CloseIdleConnections()
	return nil
}

func (c *Client) fetchModels(ctx context.Context) ([]provider.ModelInfo, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, c.cfg.BaseURL+"/v1/models", nil)
	if err != nil {
		return nil, err
	}
	c.setAuth(httpReq)

	httpResp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, MapNetworkError(c.cfg.Name, err)
	}
	defer httpResp.Body.Close()

	if httpResp.StatusCode < 200 || httpResp.StatusCode >= 300 {
		return nil, MapHTTPError(c.cfg.Name, httpResp)
	}

	var modelsResp ChatModelsResponse
	if err := json.NewDecoder(httpResp.Body).Decode(&modelsResp); err != nil {
		return nil, err
	}

	var models []provider.ModelInfo
	for _, m := range modelsResp.Data {
		models = append(models, provider.ModelInfo{ID: m.ID})
	}
	return models, nil
}

func (c *Client) post(ctx context.Context, path string, body any, accept string) (*http.Response, error) {
	return c.postWith(ctx, c.httpClient, path, body, accept)
}

func (c *Client) postWith(ctx context.Context, client *http.Client, path string, body any, accept string) (*http.Response, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, err
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL+path, bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if accept != "" {
		httpReq.Header.Set("Accept", accept)
	}
	c.setAuth(httpReq)

	debug.Log("providers", "backend request",
		"provider", c.cfg.Name, "method", http.MethodPost, "url", c.cfg.BaseURL+path,
		"body", debug.Truncate(string(payload), 512))
	if debug.TraceIsEnabled("providers") {
		debug.Raw("providers", string(payload))
	}

	return client.Do(httpReq)
}

func (c *Client) setAuth(req *http.Request) {
	if c.cfg.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	}
}
