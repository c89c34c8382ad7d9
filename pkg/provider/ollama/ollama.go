// Package ollama adapts a local Ollama daemon. Its chat endpoint streams
// newline-delimited JSON rather than SSE, and no credential is required.
package ollama

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
	ID = "ollama"

	// DefaultBaseURL is the daemon's default listen address.
	DefaultBaseURL = "http://localhost:11434"
)

// Metadata describes the daemon's static capabilities. The model list is
// empty: whatever is pulled locally is discovered live via /api/tags.
func Metadata() provider.Metadata {
	return provider.Metadata{
		ID:                   ID,
		DisplayName:          "Ollama",
		DefaultModel:         "llama3.2",
		SupportsStreaming:    true,
		SupportsSystemPrompt: true,
		MaxContextLength:     131072,
	}
}

// Adapter implements provider.Adapter for the Ollama HTTP API.
type Adapter struct {
	baseURL    string
	httpClient *http.Client
	logger     *slog.Logger
}

var _ provider.Adapter = (*Adapter)(nil)

// New creates an adapter. The secret is ignored: local daemons are
// unauthenticated, and an empty credential is valid for this provider.
func New(secret string) (provider.Adapter, error) {
	return NewWithBaseURL(secret, DefaultBaseURL)
}

// NewWithBaseURL creates an adapter against an alternate daemon address.
func NewWithBaseURL(_ string, baseURL string) (provider.Adapter, error) {
	return &Adapter{
		baseURL:    strings.TrimRight(baseURL, "/"),
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

func (a *Adapter) translate(req *api.ChatRequest) chatRequest {
	model := req.Model
	if model == "" {
		model = Metadata().DefaultModel
	}
	wreq := chatRequest{Model: model, Stream: req.Stream}
	for _, m := range req.Messages {
		wreq.Messages = append(wreq.Messages, wireMessage{Role: string(m.Role), Content: m.Content})
	}
	if req.Temperature != nil || req.TopP != nil || req.TopK != nil || req.MaxTokens != nil || len(req.Stop) > 0 {
		wreq.Options = &chatOptions{
			Temperature: req.Temperature,
			TopP:        req.TopP,
			TopK:        req.TopK,
			NumPredict:  req.MaxTokens,
			Stop:        req.Stop,
		}
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

	var wresp chatResponse
	if err := json.NewDecoder(httpResp.Body).Decode(&wresp); err != nil {
		return nil, api.NewProviderUnavailableError(ID,
			fmt.Sprintf("failed to parse daemon response: %s", err.Error()))
	}

	return &api.ChatResponse{
		Content:      wresp.Message.Content,
		Model:        wresp.Model,
		FinishReason: mapDoneReason(wresp.DoneReason),
		Usage: api.Usage{
			PromptTokens:     wresp.PromptEvalCount,
			CompletionTokens: wresp.EvalCount,
			TotalTokens:      wresp.PromptEvalCount + wresp.EvalCount,
		},
		CreatedAt: time.Now().UTC(),
	}, nil
}

// StreamChat performs a streaming completion over newline-delimited JSON.
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

	return streaming.Normalize(ctx, httpResp.Body, lineExtractor{}, streaming.Options{
		Provider:    ID,
		Framing:     streaming.FramingNDJSON,
		IdleTimeout: provider.DefaultStreamIdleTimeout,
		Logger:      a.logger,
	}), nil
}

// TestConnection probes the daemon by listing installed models.
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

// Models lists what the daemon has pulled. There is no static fallback:
// an unreachable daemon has no usable models.
func (a *Adapter) Models(ctx context.Context) []provider.ModelInfo {
	ctx, cancel := context.WithTimeout(ctx, provider.DefaultProbeTimeout)
	defer cancel()

	models, err := a.fetchModels(ctx)
	if err != nil {
		a.logger.Debug("model list fetch failed", "provider", ID, "error", err)
		return nil
	}
	return models
}

// Close releases idle connections.
func (a *Adapter) Close() error {
	a.httpClient.CloseIdleConnections()
	return nil
}

func (a *Adapter) fetchModels(ctx context.Context) ([]provider.ModelInfo, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, a.baseURL+"/api/tags", nil)
	if err != nil {
		return nil, err
	}
	httpResp, err := a.httpClient.Do(httpReq)
	if err != nil {
		return nil, mapNetworkError(err)
	}
	defer httpResp.Body.Close()

	if httpResp.StatusCode < 200 || httpResp.StatusCode >= 300 {
		return nil, mapHTTPError(httpResp)
	}

	var wresp tagsResponse
	if err := json.NewDecoder(httpResp.Body).Decode(&wresp); err != nil {
		return nil, err
	}
	var models []provider.ModelInfo
	for _, m := range wresp.Models {
		models = append(models, provider.ModelInfo{ID: m.Name})
	}
	return models, nil
}

func (a *Adapter) post(ctx context.Context, client *http.Client, body chatRequest) (*http.Response, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, err
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, a.baseURL+"/api/chat", bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	return client.Do(httpReq)
}

func mapHTTPError(resp *http.Response) *api.Error {
	data, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	var wresp errorResponse
	msg := ""
	if err := json.Unmarshal(data, &wresp); err == nil {
		msg = wresp.Error
	}
	switch resp.StatusCode {
	case http.StatusBadRequest, http.StatusNotFound:
		if msg == "" {
			msg = fmt.Sprintf("daemon rejected request with status %d", resp.StatusCode)
		}
		err := api.NewValidationError(msg)
		err.Provider = ID
		err.HTTPStatus = resp.StatusCode
		return err
	default:
		if msg == "" {
			msg = fmt.Sprintf("daemon returned status %d", resp.StatusCode)
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

func mapDoneReason(reason string) api.FinishReason {
	switch reason {
	case "stop", "":
		return api.FinishReasonStop
	case "length":
		return api.FinishReasonLength
	default:
		return api.FinishReasonUnknown
	}
}
