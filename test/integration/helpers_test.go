// Package integration provides integration tests for the chorus gateway.
//
// Tests run against a real gateway HTTP handler backed by a mock provider
// backend, both started in-process using net/http/httptest.
package integration

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"
	"time"

	"context"

	"github.com/chorus-llm/chorus/pkg/cache"
	"github.com/chorus-llm/chorus/pkg/credential"
	credmemory "github.com/chorus-llm/chorus/pkg/credential/memory"
	"github.com/chorus-llm/chorus/pkg/dispatch"
	"github.com/chorus-llm/chorus/pkg/provider"
	"github.com/chorus-llm/chorus/pkg/provider/deepseek"
	"github.com/chorus-llm/chorus/pkg/provider/openai"
	"github.com/chorus-llm/chorus/pkg/transport"
	transporthttp "github.com/chorus-llm/chorus/pkg/transport/http"
)

// testEnv holds the shared servers for all integration tests.
var testEnv *TestEnvironment

// TestEnvironment holds the gateway server and mock backend for testing.
type TestEnvironment struct {
	GatewayServer *httptest.Server
	MockBackend   *httptest.Server
	Cache         *cache.Cache
}

// TestMain starts the mock backend and gateway before running tests.
func TestMain(m *testing.M) {
	testEnv = setupTestEnvironment()
	code := m.Run()
	testEnv.Teardown()
	os.Exit(code)
}

// setupTestEnvironment wires a full dispatch stack against a mock backend.
// The openai provider gets a stored credential; deepseek deliberately has
// none, for exercising the credential failure path.
func setupTestEnvironment() *TestEnvironment {
	mockBackend := startMockBackend()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	keychain, err := credential.NewKeychain([]credential.KeyConfig{
		{Version: 1, Passphrase: "integration-passphrase", Salt: "integration-salt", Iterations: credential.MinIterations},
	})
	if err != nil {
		panic(fmt.Sprintf("building keychain: %v", err))
	}

	store := credmemory.New()
	resolver := credential.NewResolver(store, keychain, logger)

	if err := resolver.Save(context.Background(), "anonymous", openai.ID, "sk-integration-test"); err != nil {
		panic(fmt.Sprintf("saving test credential: %v", err))
	}

	// Both adapters point at the mock backend.
	registry := provider.NewRegistry()
	registry.Register(openai.Metadata(), func(secret string) (provider.Adapter, error) {
		return openai.NewWithBaseURL(secret, mockBackend.URL)
	})
	registry.Register(deepseek.Metadata(), func(secret string) (provider.Adapter, error) {
		return deepseek.NewWithBaseURL(secret, mockBackend.URL)
	})

	responseCache := cache.New(cache.Options{Capacity: 64, TTL: time.Minute, Logger: logger})

	dispatcher := dispatch.New(registry, resolver, responseCache, logger)

	adapter := transporthttp.NewAdapter(dispatcher, resolver, registry, transporthttp.DefaultConfig(),
		transport.Recovery(),
		transport.RequestID(),
		transport.Logging(logger),
	)

	return &TestEnvironment{
		GatewayServer: httptest.NewServer(adapter.Handler()),
		MockBackend:   mockBackend,
		Cache:         responseCache,
	}
}

// Teardown stops both servers.
func (env *TestEnvironment) Teardown() {
	if env.GatewayServer != nil {
		env.GatewayServer.Close()
	}
	if env.MockBackend != nil {
		env.MockBackend.Close()
	}
	if env.Cache != nil {
		env.Cache.Close()
	}
}

// BaseURL returns the gateway base URL.
func (env *TestEnvironment) BaseURL() string {
	return env.GatewayServer.URL
}

// --- HTTP helpers ---

// postJSON sends a POST request with JSON body and returns the response.
func postJSON(t *testing.T, url string, body any) *http.Response {
	t.Helper()
	data, err := json.Marshal(body)
	if err != nil {
		t.Fatalf("marshaling request: %v", err)
	}
	resp, err := http.Post(url, "application/json", bytes.NewReader(data))
	if err != nil {
		t.Fatalf("POST %s: %v", url, err)
	}
	return resp
}

// putJSON sends a PUT request with JSON body and returns the response.
func putJSON(t *testing.T, url string, body any) *http.Response {
	t.Helper()
	data, err := json.Marshal(body)
	if err != nil {
		t.Fatalf("marshaling request: %v", err)
	}
	req, err := http.NewRequest(http.MethodPut, url, bytes.NewReader(data))
	if err != nil {
		t.Fatalf("creating PUT request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("PUT %s: %v", url, err)
	}
	return resp
}

// getURL sends a GET request and returns the response.
func getURL(t *testing.T, url string) *http.Response {
	t.Helper()
	resp, err := http.Get(url)
	if err != nil {
		t.Fatalf("GET %s: %v", url, err)
	}
	return resp
}

// deleteURL sends a DELETE request and returns the response.
func deleteURL(t *testing.T, url string) *http.Response {
	t.Helper()
	req, err := http.NewRequest(http.MethodDelete, url, nil)
	if err != nil {
		t.Fatalf("creating DELETE request: %v", err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("DELETE %s: %v", url, err)
	}
	return resp
}

// readBody reads and returns the response body as a string.
func readBody(t *testing.T, resp *http.Response) string {
	t.Helper()
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("reading response body: %v", err)
	}
	return string(body)
}

// decodeJSON reads the response body and decodes it into the target.
func decodeJSON(t *testing.T, resp *http.Response, target any) {
	t.Helper()
	defer resp.Body.Close()
	if err := json.NewDecoder(resp.Body).Decode(target); err != nil {
		t.Fatalf("decoding JSON: %v", err)
	}
}

// chatBody builds a minimal chat request body.
func chatBody(providerID, prompt string, stream bool) map[string]any {
	return map[string]any{
		"provider": providerID,
		"model":    "mock-model",
		"messages": []map[string]any{
			{"role": "user", "content": prompt},
		},
		"stream": stream,
	}
}

// --- SSE parsing ---

// sseEvent is one parsed server-sent event.
type sseEvent struct {
	Type string
	Data string
}

// readSSE consumes the whole body and returns the parsed events and
// whether the [DONE] sentinel was seen.
func readSSE(t *testing.T, body io.Reader) ([]sseEvent, bool) {
	t.Helper()
	raw, err := io.ReadAll(body)
	if err != nil {
		t.Fatalf("reading SSE body: %v", err)
	}
	return parseSSE(string(raw))
}

func parseSSE(raw string) ([]sseEvent, bool) {
	var events []sseEvent
	var current sseEvent
	sawDone := false
	for _, line := range strings.Split(raw, "\n") {
		line = strings.TrimRight(line, "\r")
		switch {
		case strings.HasPrefix(line, "event: "):
			current.Type = strings.TrimPrefix(line, "event: ")
		case strings.HasPrefix(line, "data: "):
			data := strings.TrimPrefix(line, "data: ")
			if data == "[DONE]" {
				sawDone = true
				continue
			}
			current.Data = data
			events = append(events, current)
			current = sseEvent{}
		}
	}
	return events, sawDone
}

// --- Mock backend ---

// startMockBackend creates an httptest server that mimics a Chat
// Completions backend. Trigger words in the last user message select the
// scenario:
//
//	"count"  - deterministic token sequence
//	"slow"   - a long stream with delays, for abort testing
//
// Special models simulate failures: mock-rate-limited responds 429,
// mock-unavailable responds 503.
func startMockBackend() *httptest.Server {
	mux := http.NewServeMux()

	mux.HandleFunc("POST /v1/chat/completions", handleMockChatCompletions)
	mux.HandleFunc("GET /v1/models", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{
			"object": "list",
			"data": []map[string]any{
				{"id": "mock-model", "object": "model", "owned_by": "test"},
			},
		})
	})

	return httptest.NewServer(mux)
}

func handleMockChatCompletions(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Model    string `json:"model"`
		Messages []struct {
			Role    string `json:"role"`
			Content string `json:"content"`
		} `json:"messages"`
		Stream bool `json:"stream"`
	}

	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, `{"error":{"message":"invalid request","type":"invalid_request_error"}}`, http.StatusBadRequest)
		return
	}

	switch req.Model {
	case "mock-rate-limited":
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusTooManyRequests)
		fmt.Fprint(w, `{"error":{"message":"simulated rate limit","type":"rate_limit_error"}}`)
		return
	case "mock-unavailable":
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusServiceUnavailable)
		fmt.Fprint(w, `{"error":{"message":"simulated outage","type":"server_error"}}`)
		return
	}

	lastUser := ""
	for i := len(req.Messages) - 1; i >= 0; i-- {
		if req.Messages[i].Role == "user" {
			lastUser = strings.ToLower(req.Messages[i].Content)
			break
		}
	}

	model := req.Model
	if model == "" {
		model = "mock-model"
	}

	if req.Stream {
		switch {
		case strings.Contains(lastUser, "slow"):
			handleMockStreamingSlow(w, r, model)
		case strings.Contains(lastUser, "count"):
			handleMockStreaming(w, model, []string{"1", ", ", "2", ", ", "3", ", ", "4", ", ", "5"})
		default:
			handleMockStreaming(w, model, []string{"Hello", " from", " mock", "!"})
		}
		return
	}

	text := "Hello from mock!"
	if strings.Contains(lastUser, "count") {
		text = "1, 2, 3, 4, 5"
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{
		"id":     "chatcmpl-mock",
		"object": "chat.completion",
		"model":  model,
		"choices": []map[string]any{
			{
				"index":         0,
				"message":       map[string]any{"role": "assistant", "content": text},
				"finish_reason": "stop",
			},
		},
		"usage": map[string]any{
			"prompt_tokens": 10, "completion_tokens": 5, "total_tokens": 15,
		},
	})
}

// handleMockStreaming sends SSE chunks for a streaming response.
func handleMockStreaming(w http.ResponseWriter, model string, tokens []string) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming not supported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	// Role chunk.
	writeChunk(w, model, "", true)
	flusher.Flush()

	for _, token := range tokens {
		writeChunk(w, model, token, false)
		flusher.Flush()
	}

	finishData, _ := json.Marshal(map[string]any{
		"id": "chatcmpl-mock-stream", "object": "chat.completion.chunk", "model": model,
		"choices": []map[string]any{
			{"index": 0, "delta": map[string]any{}, "finish_reason": "stop"},
		},
		"usage": map[string]any{
			"prompt_tokens": 10, "completion_tokens": len(tokens), "total_tokens": 10 + len(tokens),
		},
	})
	fmt.Fprintf(w, "data: %s\n\n", finishData)
	flusher.Flush()

	fmt.Fprintf(w, "data: [DONE]\n\n")
	flusher.Flush()
}

// handleMockStreamingSlow drips tokens until the client goes away. It
// never finishes on its own within a test's lifetime, so the consumer
// must abort it.
func handleMockStreamingSlow(w http.ResponseWriter, r *http.Request, model string) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming not supported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	writeChunk(w, model, "", true)
	flusher.Flush()

	for i := 0; i < 200; i++ {
		select {
		case <-r.Context().Done():
			return
		case <-time.After(50 * time.Millisecond):
		}
		writeChunk(w, model, fmt.Sprintf("token-%d ", i), false)
		flusher.Flush()
	}
}

func writeChunk(w http.ResponseWriter, model, content string, isRole bool) {
	delta := map[string]any{}
	if isRole {
		delta["role"] = "assistant"
	}
	if content != "" {
		delta["content"] = content
	}

	data, _ := json.Marshal(map[string]any{
		"id": "chatcmpl-mock-stream", "object": "chat.completion.chunk", "model": model,
		"choices": []map[string]any{
			{"index": 0, "delta": delta, "finish_reason": nil},
		},
	})
	fmt.Fprintf(w, "data: %s\n\n", data)
}
