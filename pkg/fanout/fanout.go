// Package fanout runs one prompt against several providers concurrently.
//
// A Session keeps an independent conversation history per provider, so a
// follow-up prompt carries each provider its own prior answers, not a
// merged transcript. Each provider stream runs in its own cancel scope:
// stopping one provider never disturbs the others.
package fanout

import (
	"context"
	"log/slog"
	"strings"
	"sync"

	"github.com/chorus-llm/chorus/pkg/api"
	"github.com/chorus-llm/chorus/pkg/observability"
)

// Streamer starts a normalized chunk stream for a request. Satisfied by
// dispatch.Dispatcher.
type Streamer interface {
	DispatchStream(ctx context.Context, req *api.ChatRequest) (<-chan api.ChatChunk, error)
}

// Target names one provider/model pair to fan out to.
type Target struct {
	Provider string
	Model    string
}

// Update is one stream event tagged with its originating provider.
type Update struct {
	Provider string
	Chunk    api.ChatChunk
}

// Session is a multi-provider conversation. Safe for concurrent use.
type Session struct {
	dispatcher Streamer
	userID     string
	system     string
	logger     *slog.Logger

	mu        sync.Mutex
	histories map[string][]api.ChatMessage
	active    map[string]*streamHandle
}

type streamHandle struct {
	cancel context.CancelFunc
	done   chan struct{}
}

// NewSession creates a session for one user. The system prompt, when set,
// is prepended to every provider's request.
func NewSession(dispatcher Streamer, userID, systemPrompt string, logger *slog.Logger) *Session {
	if logger == nil {
		logger = slog.Default()
	}
	return &Session{
		dispatcher: dispatcher,
		userID:     userID,
		system:     systemPrompt,
		logger:     logger,
		histories:  make(map[string][]api.ChatMessage),
		active:     make(map[string]*streamHandle),
	}
}

// Ask sends a prompt to every target concurrently and returns a merged
// update stream. The channel closes when every provider stream has
// delivered its terminal chunk. A provider with a stream still running
// from a previous Ask has it cancelled first; one active stream per
// provider is the invariant.
//
// Each provider's history gains the user turn and a placeholder assistant
// turn immediately; the placeholder fills in as chunks arrive, so History
// observes partial output mid-stream.
func (s *Session) Ask(ctx context.Context, targets []Target, prompt string) (<-chan Update, error) {
	if len(targets) == 0 {
		return nil, api.NewValidationError("at least one target is required")
	}
	if prompt == "" {
		return nil, api.NewValidationError("prompt must not be empty")
	}

	updates := make(chan Update, 16*len(targets))
	var wg sync.WaitGroup

	for _, target := range targets {
		s.stopProvider(target.Provider)

		streamCtx, cancel := context.WithCancel(ctx)
		handle := &streamHandle{cancel: cancel, done: make(chan struct{})}

		s.mu.Lock()
		s.histories[target.Provider] = append(s.histories[target.Provider],
			api.UserMessage(prompt),
			api.AssistantMessage(""),
		)
		req := s.buildRequest(target)
		s.active[target.Provider] = handle
		s.mu.Unlock()

		wg.Add(1)
		go func(target Target, handle *streamHandle) {
			defer wg.Done()
			defer close(handle.done)
			defer cancel()
			defer s.release(target.Provider, handle)
			s.run(streamCtx, target, req, updates)
		}(target, handle)
	}

	go func() {
		wg.Wait()
		close(updates)
	}()
	return updates, nil
}

// run consumes one provider stream, forwarding chunks and folding content
// into the history placeholder.
func (s *Session) run(ctx context.Context, target Target, req *api.ChatRequest, updates chan<- Update) {
	observability.FanoutStreamsActive.Inc()
	defer observability.FanoutStreamsActive.Dec()

	// emit forwards one update; a cancelled scope stops forwarding so an
	// abandoned consumer cannot wedge the goroutine.
	emit := func(u Update) bool {
		// Buffered sends normally succeed immediately, so a terminal
		// chunk still reaches a live consumer after cancellation.
		select {
		case updates <- u:
			return true
		default:
		}
		select {
		case updates <- u:
			return true
		case <-ctx.Done():
			return false
		}
	}

	ch, err := s.dispatcher.DispatchStream(ctx, req)
	if err != nil {
		s.logger.Warn("fan-out stream failed to start", "provider", target.Provider, "error", err)
		s.finishTurn(target.Provider, "Error: "+api.AsError(err).Message)
		emit(Update{Provider: target.Provider, Chunk: api.ErrorChunk(api.AsError(err))})
		return
	}

	var content strings.Builder
	for chunk := range ch {
		if chunk.Done {
			if chunk.Err != nil {
				s.finishTurn(target.Provider, "Error: "+api.AsError(chunk.Err).Message)
			} else {
				s.finishTurn(target.Provider, content.String())
			}
		} else if chunk.Content != "" {
			content.WriteString(chunk.Content)
			s.updateTurn(target.Provider, content.String())
		}
		if !emit(Update{Provider: target.Provider, Chunk: chunk}) {
			// Drain the upstream so its producer can close.
			for range ch {
			}
			return
		}
	}
}

// release drops the active handle if it still belongs to this stream.
func (s *Session) release(provider string, handle *streamHandle) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.active[provider] == handle {
		delete(s.active, provider)
	}
}

// StopProvider cancels the active stream for one provider, if any, and
// waits for it to drain. Stopping an idle provider is a no-op.
func (s *Session) StopProvider(provider string) {
	s.stopProvider(provider)
}

// StopAll cancels every active stream. Idempotent: a second call finds no
// active streams and returns immediately.
func (s *Session) StopAll() {
	s.mu.Lock()
	providers := make([]string, 0, len(s.active))
	for p := range s.active {
		providers = append(providers, p)
	}
	s.mu.Unlock()

	for _, p := range providers {
		s.stopProvider(p)
	}
}

// History returns a copy of one provider's transcript.
func (s *Session) History(provider string) []api.ChatMessage {
	s.mu.Lock()
	defer s.mu.Unlock()
	history := s.histories[provider]
	out := make([]api.ChatMessage, len(history))
	copy(out, history)
	return out
}

// Providers lists providers with a non-empty history.
func (s *Session) Providers() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.histories))
	for p := range s.histories {
		out = append(out, p)
	}
	return out
}

// Reset clears one provider's history. An active stream is stopped first.
func (s *Session) Reset(provider string) {
	s.stopProvider(provider)
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.histories, provider)
}

func (s *Session) stopProvider(provider string) {
	s.mu.Lock()
	handle, ok := s.active[provider]
	if ok {
		delete(s.active, provider)
	}
	s.mu.Unlock()

	if ok {
		handle.cancel()
		<-handle.done
	}
}

func (s *Session) buildRequest(target Target) *api.ChatRequest {
	history := s.histories[target.Provider]
	// Exclude the empty placeholder from the outgoing request.
	messages := make([]api.ChatMessage, 0, len(history))
	for _, m := range history[:len(history)-1] {
		if m.Role == api.RoleAssistant && m.Content == "" {
			continue
		}
		messages = append(messages, m)
	}
	if s.system != "" {
		messages = append([]api.ChatMessage{api.SystemMessage(s.system)}, messages...)
	}
	return &api.ChatRequest{
		Provider: target.Provider,
		Model:    target.Model,
		Messages: messages,
		Stream:   true,
		UserID:   s.userID,
	}
}

// updateTurn replaces the in-progress assistant turn's content.
func (s *Session) updateTurn(provider, content string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	history := s.histories[provider]
	if len(history) == 0 {
		return
	}
	history[len(history)-1].Content = content
}

func (s *Session) finishTurn(provider, content string) {
	s.updateTurn(provider, content)
}
