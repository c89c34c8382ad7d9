// Command demo walks through the core request/response protocol and the
// fan-out orchestrator, using in-process fake streamers so it runs without
// any backend or credentials.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/chorus-llm/chorus/pkg/api"
	"github.com/chorus-llm/chorus/pkg/fanout"
)

func main() {
	fmt.Println("=== chorus core protocol demo ===")
	fmt.Println()

	// 1. Build and validate a request.
	req := &api.ChatRequest{
		Provider: "openai",
		Model:    "gpt-4o-mini",
		Messages: []api.ChatMessage{
			api.SystemMessage("You are terse."),
			api.UserMessage("What is the capital of France?"),
		},
		Temperature: float64Ptr(0.2),
		Stream:      true,
	}
	if err := api.ValidateRequest(req, api.DefaultValidationConfig()); err != nil {
		fmt.Printf("Validation FAILED: %v\n", err)
		return
	}
	fmt.Println("[1] Request validated successfully")

	data, _ := json.MarshalIndent(req, "", "  ")
	fmt.Printf("\n[2] Request JSON:\n%s\n", data)

	// 2. A normalized response, as an adapter would return it.
	resp := api.ChatResponse{
		Model:        "gpt-4o-mini",
		Content:      "The capital of France is Paris.",
		FinishReason: api.FinishReasonStop,
		Usage:        api.Usage{PromptTokens: 12, CompletionTokens: 8, TotalTokens: 20},
		CreatedAt:    time.Now().UTC(),
	}
	data, _ = json.MarshalIndent(resp, "", "  ")
	fmt.Printf("\n[3] Response JSON:\n%s\n", data)

	// 3. Error taxonomy.
	fmt.Println("\n[4] Error taxonomy:")
	for _, err := range []*api.Error{
		api.NewValidationError("messages must not be empty"),
		api.NewUnknownProviderError("cohere"),
		api.NewCredentialError("openai", "no credential stored"),
		api.NewRateLimitError("anthropic", "rate limit exceeded"),
		api.NewProviderUnavailableError("ollama", "connection refused"),
		api.NewAbortedError("deepseek"),
	} {
		fmt.Printf("    %-22s %s\n", err.Type, err.Message)
	}

	// 4. Stream event wire sample.
	fmt.Println("\n[5] Streaming event sample:")
	event := api.EventFromChunk(api.ChatChunk{Content: "Paris"})
	eventJSON, _ := json.MarshalIndent(event, "", "  ")
	fmt.Printf("%s\n", eventJSON)

	// 5. Fan out one prompt to two fake providers.
	fmt.Println("\n[6] Fan-out across two providers:")
	session := fanout.NewSession(fakeStreamer{}, "demo-user", "You are terse.", nil)

	updates, err := session.Ask(context.Background(), []fanout.Target{
		{Provider: "alpha", Model: "alpha-1"},
		{Provider: "beta", Model: "beta-1"},
	}, "Name a primary color.")
	if err != nil {
		fmt.Printf("fan-out failed: %v\n", err)
		return
	}

	partial := map[string]string{}
	for update := range updates {
		if update.Chunk.Done {
			fmt.Printf("    %-6s done: %q\n", update.Provider, partial[update.Provider])
			continue
		}
		partial[update.Provider] += update.Chunk.Content
	}

	// Histories stay independent per provider.
	fmt.Println("\n[7] Per-provider history lengths:")
	for _, p := range session.Providers() {
		fmt.Printf("    %-6s %d messages\n", p, len(session.History(p)))
	}

	fmt.Println("\n=== demo complete ===")
}

// fakeStreamer emits a canned token stream per provider, with a small
// delay so the interleaving is visible.
type fakeStreamer struct{}

func (fakeStreamer) DispatchStream(ctx context.Context, req *api.ChatRequest) (<-chan api.ChatChunk, error) {
	answers := map[string]string{
		"alpha": "Red is a primary color.",
		"beta":  "Blue.",
	}
	words := strings.Fields(answers[req.Provider])

	out := make(chan api.ChatChunk)
	go func() {
		defer close(out)
		for i, w := range words {
			select {
			case <-ctx.Done():
				out <- api.ErrorChunk(api.NewAbortedError(req.Provider))
				return
			case <-time.After(20 * time.Millisecond):
			}
			sep := " "
			if i == 0 {
				sep = ""
			}
			out <- api.ChatChunk{Content: sep + w}
		}
		out <- api.TerminalChunk(api.FinishReasonStop, &api.Usage{
			PromptTokens:     7,
			CompletionTokens: len(words),
			TotalTokens:      7 + len(words),
		})
	}()
	return out, nil
}

func float64Ptr(f float64) *float64 { return &f }
