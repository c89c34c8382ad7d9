// Package anthropic adapts the Anthropic Messages API. Unlike the Chat
// Completions family it takes the system prompt as a dedicated request
// field, requires max_tokens, and streams typed SSE events.
package anthropic

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/chorus-llm/chorus/pkg/api"
	"github.com/chorus-llm/chorus/pkg/provider"
	"github.com/chorus-llm/chorus/pkg/streaming"
)

const (
	// ID is the registry identifier.
	ID = "anthropic"

	// DefaultBaseURL is the hosted API root.
	DefaultBaseURL = "https://api.anthropic.com"

	apiVersion = "2023-06-01"

	// The Messages API rejects requests without max_tokens.
	defaultMaxTokens = 4096
)

// Metadata describes Anthropic's static capabilities.
func Metadata() provider.Metadata {
	return provider.Metadata{
		ID:                   ID,
		DisplayName:          "Anthropic",
		DefaultModel:         "claude-sonnet-4-20250514",
		SupportsStreaming:    true,
		SupportsSystemPrompt: true,
		MaxContextLength:     200000,
		Models: []provider.ModelInfo{
			{ID: "claude-opus-4-20250514", ContextWindow: 200000, MaxOutputTokens: 32000},
			{ID: "claude-sonnet-4-20250514", ContextWindow: 200000, MaxOutputTokens: 64000},
			{ID: "claude-3-5-haiku-20241022", ContextWindow: 200000, MaxOutputTokens: 8192},
		},
	}
}

// Adapter implements provider.Adapter for the Messages API.
type Adapter struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
	logger     *slog.Logger
}

var _ provider.Adapter = (*Adapter)(nil)

// New creates an adapter against the hosted API.
func New(secret string) (provider.Adapter, error) {
	return NewWithBaseURL(secret, DefaultBaseURL)
}

// NewWithBaseURL creates an adapter against an alternate root.
func NewWithBaseURL(secret, baseURL string) (provider.Adapter, error) {
	if secret == "" {
		return nil, api.NewCredentialError(ID, "API key is required")
	}
	return &Adapter{
		baseURL:    strings.TrimRight(baseURL, "/"),
		apiKey:     secret,
		httpClient: &http.Client{Timeout: provider.DefaultChatTimeout},
		logger:     slog.Default(),
	}, nil
}

// Register installs the adapter factory into a registry.
func Register(r *provider.Registry) {
	r.Register(Metadata(), New)
}

func (a *Adapter) Name() string                { return ID }
func (a *Adapter) Metadata() provider.Metadata { return Metadata() }

func (a *Adapter) translate(req *api.ChatRequest) messagesRequest {
	model := req.Model
	if model == "" {
		model = Metadata().DefaultModel
	}
	system, rest := api.SplitSystemPrompt(req.Messages)
	wreq := messagesRequest{
		Model:         model,
		System:        system,
		MaxTokens:     defaultMaxTokens,
		Temperature:   req.Temperature,
		TopP:          req.TopP,
		TopK:          req.TopK,
		StopSequences: req.Stop,
		Stream:        req.Stream,
	}
	if req.MaxTokens != nil {
		wreq.MaxTokens = *req.MaxTokens
	}
	for _, m := range rest {
		wreq.Messages = append(wreq.Messages, wireMessage{Role: string(m.Role), Content: m.Content})
	}
	return wreq
}

// Chat performs a blocking completion.
func (a *Adapter) Chat(ctx context.Context, req *api.ChatRequest) (*api.ChatResponse, error) {
	ctx, cancel := context.WithTimeout(ctx, provider.DefaultChatTimeout)
	defer cancel()

	wreq := a.translate(req)
	wreq.Stream = false

	httpResp, err := a.post(ctx, a.httpClient, wreq)
	if err != nil {
		return nil, mapNetworkError(err)
	}
	defer httpResp.Body.Close()

	if httpResp.StatusCode < 200 || httpResp.StatusCode >= 300 {
		return nil, mapHTTPError(httpResp)
	}

	var wresp messagesResponse
	if err := json.NewDecoder(httpResp.Body).Decode(&wresp); err != nil {
		return nil, api.NewProviderUnavailableError(ID,
			fmt.Sprintf("failed to parse backend response: %s", err.Error()))
	}

	var content strings.Builder
	for _, block := range wresp.Content {
		if block.Type == "text" {
			content.WriteString(block.Text)
		}
	}
	return &api.ChatResponse{
		Content:      content.String(),
		Model:        wresp.Model,
		FinishReason: mapStopReason(wresp.StopReason),
		Usage: api.Usage{
			PromptTokens:     wresp.Usage.InputTokens,
			CompletionTokens: wresp.Usage.OutputTokens,
			TotalTokens:      wresp.Usage.InputTokens + wresp.Usage.OutputTokens,
		},
		CreatedAt: time.Now().UTC(),
	}, nil
}

// StreamChat performs a streaming completion.
func (a *Adapter) StreamChat(ctx context.Context, req *api.ChatRequest) (<-chan api.ChatChunk, error) {
	wreq := a.translate(req)
	wreq.Stream = true

	streamClient := &http.Client{Transport: a.httpClient.Transport}
	httpResp, err := a.post(ctx, streamClient, wreq)
	if err != nil {
		return nil, mapNetworkError(err)
	}
	if httpResp.StatusCode < 200 || httpResp.StatusCode >= 300 {
		defer httpResp.Body.Close()
		return nil, mapHTTPError(httpResp)
	}

	return streaming.Normalize(ctx, httpResp.Body, &eventExtractor{}, streaming.Options{
		Provider:    ID,
		Framing:     streaming.FramingSSE,
		IdleTimeout: provider.DefaultStreamIdleTimeout,
		Logger:      a.logger,
	}), nil
}

// TestConnection probes the backend by listing models.
func (a *Adapter) TestConnection(ctx context.Context) provider.ConnectionResult {
	ctx, cancel := context.WithTimeout(ctx, provider.DefaultProbeTimeout)
	defer cancel()

	start := time.Now()
	_, err := a.fetchModels(ctx)
	latency := time.Since(start)
	if err != nil {
		return provider.ConnectionResult{Success: false, Latency: latency, Error: err.Error()}
	}
	return provider.ConnectionResult{Success: true, Latency: latency}
}

// Models attempts a live fetch and degrades to the static metadata list.
func (a *Adapter) Models(ctx context.Context) []provider.ModelInfo {
	ctx, cancel := context.WithTimeout(ctx, provider.DefaultProbeTimeout)
	defer cancel()

	live, err := a.fetchModels(ctx)
	if err != nil || len(live) == 0 {
		if err != nil {
			a.logger.Debug("live model fetch failed, using static list",
				"provider", ID, "error", err)
		}
		return Metadata().Models
	}
	return live
}

// Close releases idle connections.
func (a *Adapter) Close() error {
	a.httpClient.CloseIdleConnections()
	return nil
}

func (a *Adapter) fetchModels(ctx context.Context) ([]provider.ModelInfo, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, a.baseURL+"/v1/models", nil)
	if err != nil {
		return nil, err
	}
	a.setHeaders(httpReq)

	httpResp, err := a.httpClient.Do(httpReq)
	if err != nil {
		return nil, mapNetworkError(err)
	}
	defer httpResp.Body.Close()

	if httpResp.StatusCode < 200 || httpResp.StatusCode >= 300 {
		return nil, mapHTTPError(httpResp)
	}

	var wresp modelsResponse
	if err := json.NewDecoder(httpResp.Body).Decode(&wresp); err != nil {
		return nil, err
	}
	var models []provider.ModelInfo
	for _, m := range wresp.Data {
		models = append(models, provider.ModelInfo{ID: m.ID})
	}
	return models, nil
}

func (a *Adapter) post(ctx context.Context, client *http.Client, body messagesRequest) (*http.Response, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, err
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, a.baseURL+"/v1/messages", bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	a.setHeaders(httpReq)
	return client.Do(httpReq)
}

func (a *Adapter) setHeaders(req *http.Request) {
	req.Header.Set("x-api-key", a.apiKey)
	req.Header.Set("anthropic-version", apiVersion)
}

func mapHTTPError(resp *http.Response) *api.Error {
	msg := extractErrorMessage(resp.Body)
	switch resp.StatusCode {
	case http.StatusUnauthorized, http.StatusForbidden:
		if msg == "" {
			msg = "authentication failed"
		}
		return api.NewCredentialError(ID, msg)
	case http.StatusTooManyRequests:
		if msg == "" {
			msg = "rate limit exceeded"
		}
		return api.NewRateLimitError(ID, msg)
	case http.StatusBadRequest, http.StatusNotFound:
		if msg == "" {
			msg = fmt.Sprintf("backend rejected request with status %d", resp.StatusCode)
		}
		err := api.NewValidationError(msg)
		err.Provider = ID
		err.HTTPStatus = resp.StatusCode
		return err
	default:
		if msg == "" {
			msg = fmt.Sprintf("backend returned status %d", resp.StatusCode)
		}
		return api.NewProviderUnavailableError(ID, msg)
	}
}

func mapNetworkError(err error) *api.Error {
	if errors.Is(err, context.Canceled) {
		return api.NewAbortedError(ID)
	}
	return api.NewProviderUnavailableError(ID, err.Error())
}

func extractErrorMessage(body io.Reader) string {
	data, err := io.ReadAll(io.LimitReader(body, 4096))
	if err != nil {
		return ""
	}
	var wresp errorResponse
	if err := json.Unmarshal(data, &wresp); err != nil || wresp.Error.Message == "" {
		return ""
	}
	return wresp.Error.Message
}

func mapStopReason(reason string) api.FinishReason {
	switch reason {
	case "end_turn", "stop_sequence":
		return api.FinishReasonStop
	case "max_tokens":
		return api.FinishReasonLength
	case "refusal":
		return api.FinishReasonContentFilter
	case "":
		return api.FinishReasonUnknown
	default:
		return api.FinishReasonUnknown
	}
}
