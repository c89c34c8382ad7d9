package integration

import (
	"bytes"
	"encoding/json"
	"net/http"
	"testing"
)

func TestBlockingChat(t *testing.T) {
	resp := postJSON(t, testEnv.BaseURL()+"/v1/chat", chatBody("openai", "Say hello", false))

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200; body: %s", resp.StatusCode, readBody(t, resp))
	}
	if ct := resp.Header.Get("Content-Type"); ct != "application/json" {
		t.Errorf("Content-Type = %q, want application/json", ct)
	}

	var out struct {
		Content      string `json:"content"`
		Model        string `json:"model"`
		FinishReason string `json:"finish_reason"`
		Usage        struct {
			PromptTokens     int `json:"prompt_tokens"`
			CompletionTokens int `json:"completion_tokens"`
			TotalTokens      int `json:"total_tokens"`
		} `json:"usage"`
	}
	decodeJSON(t, resp, &out)

	if out.Content != "Hello from mock!" {
		t.Errorf("content = %q, want %q", out.Content, "Hello from mock!")
	}
	if out.FinishReason != "stop" {
		t.Errorf("finish_reason = %q, want %q", out.FinishReason, "stop")
	}
	if out.Usage.TotalTokens != 15 {
		t.Errorf("usage.total_tokens = %d, want 15", out.Usage.TotalTokens)
	}
}

func TestBlockingChatDeterministicPrompt(t *testing.T) {
	resp := postJSON(t, testEnv.BaseURL()+"/v1/chat", chatBody("openai", "Please count from 1 to 5", false))

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200; body: %s", resp.StatusCode, readBody(t, resp))
	}

	var out struct {
		Content string `json:"content"`
	}
	decodeJSON(t, resp, &out)

	if out.Content != "1, 2, 3, 4, 5" {
		t.Errorf("content = %q, want %q", out.Content, "1, 2, 3, 4, 5")
	}
}

func TestBlockingChatServedFromCache(t *testing.T) {
	body := chatBody("openai", "Cache this exact request", false)

	first := postJSON(t, testEnv.BaseURL()+"/v1/chat", body)
	if first.StatusCode != http.StatusOK {
		t.Fatalf("first request status = %d, want 200", first.StatusCode)
	}
	firstBody := readBody(t, first)

	before := testEnv.Cache.Stats().Hits

	second := postJSON(t, testEnv.BaseURL()+"/v1/chat", body)
	if second.StatusCode != http.StatusOK {
		t.Fatalf("second request status = %d, want 200", second.StatusCode)
	}
	secondBody := readBody(t, second)

	if firstBody != secondBody {
		t.Errorf("cached response differs:\nfirst:  %s\nsecond: %s", firstBody, secondBody)
	}
	if after := testEnv.Cache.Stats().Hits; after != before+1 {
		t.Errorf("cache hits = %d, want %d", after, before+1)
	}
}

func TestChatRequestIDHeaderPropagated(t *testing.T) {
	data, _ := json.Marshal(chatBody("openai", "Say hello", false))
	req, err := http.NewRequest(http.MethodPost, testEnv.BaseURL()+"/v1/chat", bytes.NewReader(data))
	if err != nil {
		t.Fatalf("creating request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Request-ID", "integration-req-1")

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("POST /v1/chat: %v", err)
	}
	defer resp.Body.Close()

	if got := resp.Header.Get("X-Request-ID"); got != "integration-req-1" {
		t.Errorf("X-Request-ID = %q, want %q", got, "integration-req-1")
	}
}
