// Command mock-backend runs a deterministic provider backend for manual
// and conformance testing. It speaks both wire protocols the gateway
// normalizes: OpenAI-style Chat Completions with SSE streaming, and the
// Ollama chat API with NDJSON streaming. Point an adapter at it with a
// base_url override.
//
// Special model names trigger failure paths:
//
//	mock-rate-limited  - always responds 429
//	mock-unavailable   - always responds 503
//
// Configuration:
//
//	MOCK_PORT - Listen port (default: 9090)
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"
)

func main() {
	port := os.Getenv("MOCK_PORT")
	if port == "" {
		port = "9090"
	}

	mux := http.NewServeMux()
	mux.HandleFunc("POST /v1/chat/completions", handleChatCompletions)
	mux.HandleFunc("GET /v1/models", handleModels)
	mux.HandleFunc("POST /api/chat", handleOllamaChat)
	mux.HandleFunc("GET /api/tags", handleOllamaTags)
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok\n"))
	})

	srv := &http.Server{Addr: ":" + port, Handler: mux}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go func() {
		slog.Info("mock backend starting", "port", port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("mock backend failed", "error", err)
			os.Exit(1)
		}
	}()

	<-ctx.Done()
	slog.Info("mock backend shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	srv.Shutdown(shutdownCtx)
}

// --- Request types ---

type chatRequest struct {
	Model    string        `json:"model"`
	Messages []chatMessage `json:"messages"`
	Stream   bool          `json:"stream"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// --- Response types ---

type chatResponse struct {
	ID      string       `json:"id"`
	Object  string       `json:"object"`
	Model   string       `json:"model"`
	Choices []chatChoice `json:"choices"`
	Usage   chatUsage    `json:"usage"`
}

type chatChoice struct {
	Index        int     `json:"index"`
	Message      chatMsg `json:"message"`
	FinishReason string  `json:"finish_reason"`
}

type chatMsg struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatUsage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// --- OpenAI-compatible handler ---

func handleChatCompletions(w http.ResponseWriter, r *http.Request) {
	var req chatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, `{"error":{"message":"invalid request","type":"invalid_request_error"}}`, http.StatusBadRequest)
		return
	}

	if failStatus := failureFor(req.Model); failStatus != 0 {
		writeProviderError(w, failStatus)
		return
	}

	if req.Stream {
		handleStreaming(w, &req)
		return
	}

	model := req.Model
	if model == "" {
		model = "mock-model"
	}

	text := replyFor(&req)
	resp := chatResponse{
		ID:     "chatcmpl-mock",
		Object: "chat.completion",
		Model:  model,
		Choices: []chatChoice{
			{
				Index:        0,
				Message:      chatMsg{Role: "assistant", Content: text},
				FinishReason: "stop",
			},
		},
		Usage: chatUsage{PromptTokens: 10, CompletionTokens: 5, TotalTokens: 15},
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(resp)
}

// failureFor maps the error-simulation model names to HTTP statuses.
func failureFor(model string) int {
	switch model {
	case "mock-rate-limited":
		return http.StatusTooManyRequests
	case "mock-unavailable":
		return http.StatusServiceUnavailable
	}
	return 0
}

func writeProviderError(w http.ResponseWriter, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	fmt.Fprintf(w, `{"error":{"message":"simulated failure","type":"mock_error","code":%d}}`, status)
}

// replyFor picks a deterministic answer so conformance tests can assert
// exact output.
func replyFor(req *chatRequest) string {
	last := lastUserMessage(req)
	if strings.Contains(strings.ToLower(last), "count from 1 to 5") {
		return "1, 2, 3, 4, 5"
	}
	return "Hello, nice day!"
}

func tokensFor(req *chatRequest) []string {
	last := lastUserMessage(req)
	if strings.Contains(strings.ToLower(last), "count from 1 to 5") {
		return []string{"1", ", ", "2", ", ", "3", ", ", "4", ", ", "5"}
	}
	return []string{"Hello", ", ", "nice", " ", "day", "!"}
}

func lastUserMessage(req *chatRequest) string {
	for i := len(req.Messages) - 1; i >= 0; i-- {
		if req.Messages[i].Role == "user" {
			return req.Messages[i].Content
		}
	}
	return ""
}

// --- SSE streaming ---

func handleStreaming(w http.ResponseWriter, req *chatRequest) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming not supported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	model := req.Model
	if model == "" {
		model = "mock-model"
	}

	tokens := tokensFor(req)

	// Role chunk first, then content deltas.
	writeSSEChunk(w, model, "", true)
	flusher.Flush()

	for _, token := range tokens {
		writeSSEChunk(w, model, token, false)
		flusher.Flush()
	}

	writeFinishChunk(w, model, len(tokens))
	flusher.Flush()

	fmt.Fprintf(w, "data: [DONE]\n\n")
	flusher.Flush()
}

func writeSSEChunk(w http.ResponseWriter, model, content string, isRole bool) {
	delta := map[string]any{}
	if isRole {
		delta["role"] = "assistant"
	}
	if content != "" {
		delta["content"] = content
	}

	chunk := map[string]any{
		"id":     "chatcmpl-mock-stream",
		"object": "chat.completion.chunk",
		"model":  model,
		"choices": []any{
			map[string]any{
				"index":         0,
				"delta":         delta,
				"finish_reason": nil,
			},
		},
	}

	data, _ := json.Marshal(chunk)
	fmt.Fprintf(w, "data: %s\n\n", data)
}

func writeFinishChunk(w http.ResponseWriter, model string, tokenCount int) {
	chunk := map[string]any{
		"id":     "chatcmpl-mock-stream",
		"object": "chat.completion.chunk",
		"model":  model,
		"choices": []any{
			map[string]any{
				"index":         0,
				"delta":         map[string]any{},
				"finish_reason": "stop",
			},
		},
		"usage": map[string]any{
			"prompt_tokens":     10,
			"completion_tokens": tokenCount,
			"total_tokens":      10 + tokenCount,
		},
	}

	data, _ := json.Marshal(chunk)
	fmt.Fprintf(w, "data: %s\n\n", data)
}

// --- Models endpoint ---

func handleModels(w http.ResponseWriter, r *http.Request) {
	resp := map[string]any{
		"object": "list",
		"data": []map[string]any{
			{"id": "mock-model", "object": "model", "owned_by": "chorus-mock"},
		},
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(resp)
}

// --- Ollama protocol ---

type ollamaChatRequest struct {
	Model    string        `json:"model"`
	Messages []chatMessage `json:"messages"`
	Stream   *bool         `json:"stream"`
}

func handleOllamaChat(w http.ResponseWriter, r *http.Request) {
	var req ollamaChatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, `{"error":"invalid request"}`, http.StatusBadRequest)
		return
	}

	if failStatus := failureFor(req.Model); failStatus != 0 {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(failStatus)
		fmt.Fprint(w, `{"error":"simulated failure"}`)
		return
	}

	model := req.Model
	if model == "" {
		model = "mock-model"
	}

	// Ollama streams unless stream is explicitly false.
	streaming := req.Stream == nil || *req.Stream

	inner := &chatRequest{Model: req.Model, Messages: req.Messages}

	if !streaming {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{
			"model":             model,
			"message":           chatMsg{Role: "assistant", Content: replyFor(inner)},
			"done":              true,
			"done_reason":       "stop",
			"prompt_eval_count": 10,
			"eval_count":        5,
		})
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming not supported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/x-ndjson")

	enc := json.NewEncoder(w)
	tokens := tokensFor(inner)
	for _, token := range tokens {
		enc.Encode(map[string]any{
			"model":   model,
			"message": chatMsg{Role: "assistant", Content: token},
			"done":    false,
		})
		flusher.Flush()
	}

	enc.Encode(map[string]any{
		"model":             model,
		"message":           chatMsg{Role: "assistant", Content: ""},
		"done":              true,
		"done_reason":       "stop",
		"prompt_eval_count": 10,
		"eval_count":        len(tokens),
	})
	flusher.Flush()
}

func handleOllamaTags(w http.ResponseWriter, r *http.Request) {
	resp := map[string]any{
		"models": []map[string]any{
			{"name": "mock-model", "model": "mock-model"},
		},
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(resp)
}
