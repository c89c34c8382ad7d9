package dispatch

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/chorus-llm/chorus/pkg/api"
	"github.com/chorus-llm/chorus/pkg/cache"
	"github.com/chorus-llm/chorus/pkg/credential"
	"github.com/chorus-llm/chorus/pkg/provider"
)

// fakeAdapter counts invocations so tests can assert that cache hits make
// zero provider calls.
type fakeAdapter struct {
	id          string
	secret      string
	chatCalls   *atomic.Int64
	streamCalls *atomic.Int64
	chatErr     error
}

func (f *fakeAdapter) Name() string { return f.id }
func (f *fakeAdapter) Metadata() provider.Metadata {
	return provider.Metadata{ID: f.id, DefaultModel: "fake-model"}
}

func (f *fakeAdapter) Chat(_ context.Context, req *api.ChatRequest) (*api.ChatResponse, error) {
	f.chatCalls.Add(1)
	if f.chatErr != nil {
		return nil, f.chatErr
	}
	return &api.ChatResponse{
		Content:      "echo: " + req.Messages[len(req.Messages)-1].Content,
		Model:        "fake-model",
		FinishReason: api.FinishReasonStop,
		Usage:        api.Usage{PromptTokens: 3, CompletionTokens: 2, TotalTokens: 5},
		CreatedAt:    time.Now().UTC(),
	}, nil
}

func (f *fakeAdapter) StreamChat(_ context.Context, _ *api.ChatRequest) (<-chan api.ChatChunk, error) {
	f.streamCalls.Add(1)
	ch := make(chan api.ChatChunk, 4)
	ch <- api.ChatChunk{Content: "Hello"}
	ch <- api.ChatChunk{Content: " world"}
	ch <- api.TerminalChunk(api.FinishReasonStop, &api.Usage{TotalTokens: 5})
	close(ch)
	return ch, nil
}

func (f *fakeAdapter) TestConnection(_ context.Context) provider.ConnectionResult {
	return provider.ConnectionResult{Success: true, Latency: time.Millisecond}
}
func (f *fakeAdapter) Models(_ context.Context) []provider.ModelInfo { return nil }
func (f *fakeAdapter) Close() error                                  { return nil }

type fakeResolver struct {
	secrets map[string]string // provider -> secret
	calls   atomic.Int64
	err     error
}

func (r *fakeResolver) Resolve(_ context.Context, _, providerID string) (string, error) {
	r.calls.Add(1)
	if r.err != nil {
		return "", r.err
	}
	secret, ok := r.secrets[providerID]
	if !ok {
		return "", credential.ErrAbsent
	}
	return secret, nil
}

type fixture struct {
	dispatcher *Dispatcher
	adapter    *fakeAdapter
	resolver   *fakeResolver
	cache      *cache.Cache
}

func newFixture(t *testing.T, withCache bool) *fixture {
	t.Helper()

	adapter := &fakeAdapter{
		id:          "fake",
		chatCalls:   &atomic.Int64{},
		streamCalls: &atomic.Int64{},
	}
	registry := provider.NewRegistry()
	registry.Register(adapter.Metadata(), func(secret string) (provider.Adapter, error) {
		a := *adapter
		a.secret = secret
		return &a, nil
	})

	resolver := &fakeResolver{secrets: map[string]string{"fake": "sk-fake"}}

	var c *cache.Cache
	if withCache {
		c = cache.New(cache.Options{})
		t.Cleanup(c.Close)
	}

	return &fixture{
		dispatcher: New(registry, resolver, c, nil),
		adapter:    adapter,
		resolver:   resolver,
		cache:      c,
	}
}

func testRequest() *api.ChatRequest {
	return &api.ChatRequest{
		Provider: "fake",
		Model:    "fake-model",
		Messages: []api.ChatMessage{api.UserMessage("hi")},
		UserID:   "alice",
	}
}

func TestDispatchBlocking(t *testing.T) {
	f := newFixture(t, false)

	resp, err := f.dispatcher.Dispatch(context.Background(), testRequest())
	if err != nil {
		t.Fatalf("Dispatch: %v", err)
	}
	if resp.Content != "echo: hi" {
		t.Errorf("content = %q", resp.Content)
	}
	if f.adapter.chatCalls.Load() != 1 {
		t.Errorf("chat calls = %d", f.adapter.chatCalls.Load())
	}
	if f.resolver.calls.Load() != 1 {
		t.Errorf("resolver calls = %d", f.resolver.calls.Load())
	}
}

func TestDispatchCacheHitMakesNoProviderCall(t *testing.T) {
	f := newFixture(t, true)
	ctx := context.Background()

	if _, err := f.dispatcher.Dispatch(ctx, testRequest()); err != nil {
		t.Fatalf("first Dispatch: %v", err)
	}
	resp, err := f.dispatcher.Dispatch(ctx, testRequest())
	if err != nil {
		t.Fatalf("second Dispatch: %v", err)
	}
	if resp.Content != "echo: hi" {
		t.Errorf("content = %q", resp.Content)
	}

	if calls := f.adapter.chatCalls.Load(); calls != 1 {
		t.Errorf("chat calls = %d, cache hit must not reach the provider", calls)
	}
	if calls := f.resolver.calls.Load(); calls != 1 {
		t.Errorf("resolver calls = %d, cache hit must not resolve credentials", calls)
	}
}

func TestDispatchDistinctRequestsMiss(t *testing.T) {
	f := newFixture(t, true)
	ctx := context.Background()

	f.dispatcher.Dispatch(ctx, testRequest())

	other := testRequest()
	other.Messages = []api.ChatMessage{api.UserMessage("different prompt")}
	f.dispatcher.Dispatch(ctx, other)

	if calls := f.adapter.chatCalls.Load(); calls != 2 {
		t.Errorf("chat calls = %d, distinct prompts must both reach the provider", calls)
	}
}

func TestDispatchUnknownProvider(t *testing.T) {
	f := newFixture(t, false)

	req := testRequest()
	req.Provider = "nope"
	_, err := f.dispatcher.Dispatch(context.Background(), req)
	apiErr := api.AsError(err)
	if apiErr.Type != api.ErrorTypeUnknownProvider {
		t.Errorf("type = %q, want unknown_provider", apiErr.Type)
	}
	if f.resolver.calls.Load() != 0 {
		t.Error("unknown provider must fail before credential resolution")
	}
}

func TestDispatchValidationFailure(t *testing.T) {
	f := newFixture(t, false)

	req := testRequest()
	req.Messages = nil
	_, err := f.dispatcher.Dispatch(context.Background(), req)
	if api.AsError(err).Type != api.ErrorTypeValidation {
		t.Errorf("err = %v, want validation", err)
	}
	if f.adapter.chatCalls.Load() != 0 {
		t.Error("invalid request must not reach the provider")
	}
}

func TestDispatchAbsentCredentialPassesEmptySecret(t *testing.T) {
	f := newFixture(t, false)
	f.resolver.secrets = map[string]string{} // nothing stored

	if _, err := f.dispatcher.Dispatch(context.Background(), testRequest()); err != nil {
		t.Fatalf("Dispatch: %v", err)
	}
	// The factory decides whether an empty secret is acceptable; the fake
	// accepts it the way a local backend adapter would.
	if f.adapter.chatCalls.Load() != 1 {
		t.Error("absent credential with a tolerant factory must still dispatch")
	}
}

func TestDispatchCredentialFailure(t *testing.T) {
	f := newFixture(t, false)
	f.resolver.err = api.NewCredentialError("fake", "stored credential could not be decrypted")

	_, err := f.dispatcher.Dispatch(context.Background(), testRequest())
	if api.AsError(err).Type != api.ErrorTypeCredential {
		t.Errorf("err = %v, want credential", err)
	}
	if f.adapter.chatCalls.Load() != 0 {
		t.Error("credential failure must not reach the provider")
	}
}

func TestDispatchProviderErrorClassified(t *testing.T) {
	f := newFixture(t, false)
	f.adapter.chatErr = errors.New("connection refused")

	_, err := f.dispatcher.Dispatch(context.Background(), testRequest())
	apiErr := api.AsError(err)
	if apiErr.Type != api.ErrorTypeInternal {
		t.Errorf("unclassified provider error must map to internal, got %q", apiErr.Type)
	}
}

func TestDispatchStream(t *testing.T) {
	f := newFixture(t, true)

	ch, err := f.dispatcher.DispatchStream(context.Background(), testRequest())
	if err != nil {
		t.Fatalf("DispatchStream: %v", err)
	}

	var chunks []api.ChatChunk
	for chunk := range ch {
		chunks = append(chunks, chunk)
	}
	if len(chunks) != 3 {
		t.Fatalf("chunks = %d", len(chunks))
	}
	last := chunks[len(chunks)-1]
	if !last.Done {
		t.Error("last chunk must be terminal")
	}
	for _, c := range chunks[:len(chunks)-1] {
		if c.Done {
			t.Error("terminal chunk must be last and unique")
		}
	}

	// Streamed output never lands in the cache.
	if f.cache.Stats().Size != 0 {
		t.Error("streamed responses must not be cached")
	}
}

func TestDispatchPreCancelledContext(t *testing.T) {
	f := newFixture(t, false)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := f.dispatcher.Dispatch(ctx, testRequest())
	if api.AsError(err).Type != api.ErrorTypeAborted {
		t.Errorf("err = %v, want aborted", err)
	}
	if f.adapter.chatCalls.Load() != 0 {
		t.Error("cancelled dispatch must not reach the provider")
	}
	if f.resolver.calls.Load() != 0 {
		t.Error("cancelled dispatch must not resolve credentials")
	}
}

func TestDispatchStreamPreCancelledContext(t *testing.T) {
	f := newFixture(t, false)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := f.dispatcher.DispatchStream(ctx, testRequest())
	if api.AsError(err).Type != api.ErrorTypeAborted {
		t.Errorf("err = %v, want aborted", err)
	}
	if f.adapter.streamCalls.Load() != 0 {
		t.Error("cancelled stream dispatch must not reach the provider")
	}
}

// gatedAdapter emits one chunk, then waits for release before emitting
// the rest. Tests use it to position chunks behind a cancellation.
type gatedAdapter struct {
	fakeAdapter
	release chan struct{}
}

func (g *gatedAdapter) StreamChat(_ context.Context, _ *api.ChatRequest) (<-chan api.ChatChunk, error) {
	ch := make(chan api.ChatChunk, 4)
	go func() {
		defer close(ch)
		ch <- api.ChatChunk{Content: "Hello"}
		<-g.release
		ch <- api.ChatChunk{Content: " world"}
		ch <- api.TerminalChunk(api.FinishReasonStop, &api.Usage{TotalTokens: 5})
	}()
	return ch, nil
}

func TestDispatchStreamCancelSuppressesBufferedChunks(t *testing.T) {
	gated := &gatedAdapter{
		fakeAdapter: fakeAdapter{
			id:          "fake",
			chatCalls:   &atomic.Int64{},
			streamCalls: &atomic.Int64{},
		},
		release: make(chan struct{}),
	}
	registry := provider.NewRegistry()
	registry.Register(gated.Metadata(), func(string) (provider.Adapter, error) {
		return gated, nil
	})
	d := New(registry, &fakeResolver{secrets: map[string]string{"fake": "sk-fake"}}, nil, nil)

	ctx, cancel := context.WithCancel(context.Background())
	ch, err := d.DispatchStream(ctx, testRequest())
	if err != nil {
		t.Fatalf("DispatchStream: %v", err)
	}

	first := <-ch
	if first.Content != "Hello" || first.Done {
		t.Fatalf("first chunk = %+v", first)
	}

	cancel()
	close(gated.release)

	var rest []api.ChatChunk
	for chunk := range ch {
		rest = append(rest, chunk)
	}
	if len(rest) != 1 {
		t.Fatalf("chunks after cancel = %d, want a single aborted terminal", len(rest))
	}
	last := rest[0]
	if !last.Done {
		t.Error("post-cancel chunk must be terminal")
	}
	if api.AsError(last.Err).Type != api.ErrorTypeAborted {
		t.Errorf("terminal err = %v, want aborted", last.Err)
	}
}

func TestTestProvider(t *testing.T) {
	f := newFixture(t, false)

	result, err := f.dispatcher.TestProvider(context.Background(), "alice", "fake")
	if err != nil {
		t.Fatalf("TestProvider: %v", err)
	}
	if !result.Success {
		t.Error("probe must succeed")
	}

	if _, err := f.dispatcher.TestProvider(context.Background(), "alice", "nope"); err == nil {
		t.Error("unknown provider must fail")
	}
}
