package cache

import (
	"fmt"
	"testing"
	"time"

	"github.com/chorus-llm/chorus/pkg/api"
)

func testRequest(content string) *api.ChatRequest {
	return &api.ChatRequest{
		Provider: "openai",
		Model:    "gpt-4o-mini",
		Messages: []api.ChatMessage{api.UserMessage(content)},
	}
}

func testResponse(content string) *api.ChatResponse {
	return &api.ChatResponse{
		Content:      content,
		Model:        "gpt-4o-mini",
		FinishReason: api.FinishReasonStop,
	}
}

func TestGetPutRoundTrip(t *testing.T) {
	c := New(Options{})
	defer c.Close()

	req := testRequest("hi")
	if _, ok := c.Get(req); ok {
		t.Fatal("unexpected hit on empty cache")
	}

	c.Put(req, testResponse("hello"))
	got, ok := c.Get(req)
	if !ok {
		t.Fatal("expected hit")
	}
	if got.Content != "hello" {
		t.Errorf("content = %q", got.Content)
	}

	stats := c.Stats()
	if stats.Hits != 1 || stats.Misses != 1 || stats.Size != 1 {
		t.Errorf("stats = %+v", stats)
	}
}

func TestGetReturnsCopy(t *testing.T) {
	c := New(Options{})
	defer c.Close()

	req := testRequest("hi")
	c.Put(req, testResponse("hello"))

	first, _ := c.Get(req)
	first.Content = "mutated"

	second, _ := c.Get(req)
	if second.Content != "hello" {
		t.Error("callers must not be able to mutate cached entries")
	}
}

func TestStreamedResponsesNotCached(t *testing.T) {
	c := New(Options{})
	defer c.Close()

	req := testRequest("hi")
	req.Stream = true
	c.Put(req, testResponse("hello"))

	if c.Stats().Size != 0 {
		t.Error("streamed requests must not enter the cache")
	}
}

func TestTTLExpiry(t *testing.T) {
	c := New(Options{TTL: 30 * time.Millisecond})
	defer c.Close()

	req := testRequest("hi")
	c.Put(req, testResponse("hello"))

	if _, ok := c.Get(req); !ok {
		t.Fatal("fresh entry must hit")
	}

	time.Sleep(50 * time.Millisecond)
	if _, ok := c.Get(req); ok {
		t.Fatal("expired entry must miss")
	}
	if c.Stats().Expired == 0 {
		t.Error("expiry must be counted")
	}
}

func TestCapacityEviction(t *testing.T) {
	c := New(Options{Capacity: 3})
	defer c.Close()

	for i := 0; i < 4; i++ {
		req := testRequest(fmt.Sprintf("prompt-%d", i))
		c.Put(req, testResponse(fmt.Sprintf("answer-%d", i)))
	}

	if _, ok := c.Get(testRequest("prompt-0")); ok {
		t.Error("oldest entry must be evicted at capacity")
	}
	if _, ok := c.Get(testRequest("prompt-3")); !ok {
		t.Error("newest entry must survive")
	}
	stats := c.Stats()
	if stats.Size != 3 || stats.Evictions != 1 {
		t.Errorf("stats = %+v", stats)
	}
}

func TestLRUOrderRefreshedOnGet(t *testing.T) {
	c := New(Options{Capacity: 2})
	defer c.Close()

	a, b, d := testRequest("a"), testRequest("b"), testRequest("d")
	c.Put(a, testResponse("ra"))
	c.Put(b, testResponse("rb"))

	// Touch a so b becomes least recently used.
	c.Get(a)
	c.Put(d, testResponse("rd"))

	if _, ok := c.Get(a); !ok {
		t.Error("recently used entry must survive eviction")
	}
	if _, ok := c.Get(b); ok {
		t.Error("least recently used entry must be evicted")
	}
}

func TestBackgroundSweep(t *testing.T) {
	c := New(Options{TTL: 20 * time.Millisecond, SweepInterval: 10 * time.Millisecond})
	defer c.Close()

	c.Put(testRequest("hi"), testResponse("hello"))

	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if c.Stats().Size == 0 {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Error("sweeper did not remove the expired entry")
}

func TestKeyDistinguishesRequests(t *testing.T) {
	base := testRequest("hi")

	variants := []*api.ChatRequest{
		testRequest("hi!"),
		{Provider: "anthropic", Model: "gpt-4o-mini", Messages: base.Messages},
		{Provider: "openai", Model: "gpt-4o", Messages: base.Messages},
	}
	temp := 0.5
	withTemp := *base
	withTemp.Temperature = &temp
	variants = append(variants, &withTemp)

	seen := map[uint64]bool{Key(base): true}
	for i, v := range variants {
		k := Key(v)
		if seen[k] {
			t.Errorf("variant %d collides", i)
		}
		seen[k] = true
	}
}

func TestKeyIgnoresCallerIdentity(t *testing.T) {
	a := testRequest("hi")
	a.UserID = "alice"
	b := testRequest("hi")
	b.UserID = "bob"

	if Key(a) != Key(b) {
		t.Error("caller identity must not affect the fingerprint")
	}
}

func TestKeyFieldBoundaries(t *testing.T) {
	a := &api.ChatRequest{Provider: "open", Model: "aix"}
	b := &api.ChatRequest{Provider: "opena", Model: "ix"}
	if Key(a) == Key(b) {
		t.Error("field boundaries must not collide")
	}
}

func TestInvalidateAndPurge(t *testing.T) {
	c := New(Options{})
	defer c.Close()

	c.Put(testRequest("a"), testResponse("ra"))
	c.Put(testRequest("b"), testResponse("rb"))

	c.Invalidate(testRequest("a"))
	if _, ok := c.Get(testRequest("a")); ok {
		t.Error("invalidated entry must miss")
	}

	c.Purge()
	if c.Stats().Size != 0 {
		t.Error("purge must empty the cache")
	}
}
