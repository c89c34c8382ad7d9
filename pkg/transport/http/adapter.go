package http

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/google/uuid"

	"github.com/chorus-llm/chorus/pkg/api"
	"github.com/chorus-llm/chorus/pkg/auth"
	"github.com/chorus-llm/chorus/pkg/credential"
	"github.com/chorus-llm/chorus/pkg/observability"
	"github.com/chorus-llm/chorus/pkg/transport"
)

// StreamIDHeader carries the server-assigned stream ID on streaming
// responses. Clients use it to abort the stream via DELETE /v1/chat/{id}.
const StreamIDHeader = "X-Stream-ID"

// Adapter serves the chorus gateway API over HTTP.
// It routes requests to the dispatch engine and serializes responses as
// JSON or SSE depending on the request's stream flag.
type Adapter struct {
	chat       transport.ChatService
	dispatcher transport.Dispatcher // blocking path, wrapped in middleware
	creds      transport.CredentialService
	catalog    transport.ModelCatalog
	inflight   *transport.InFlightRegistry
	mux        *http.ServeMux
	config     Config
}

// Config holds configuration for the HTTP adapter.
type Config struct {
	Addr          string
	MaxBodySize   int64
	ModelsMaxAge  int // seconds, for the Cache-Control header on GET /v1/models
}

// DefaultConfig returns the default adapter configuration.
func DefaultConfig() Config {
	return Config{
		Addr:         ":8080",
		MaxBodySize:  10 << 20, // 10 MB
		ModelsMaxAge: 300,
	}
}

// NewAdapter creates an HTTP adapter over the dispatch engine. The
// credential service and model catalog back the /v1/credentials and
// /v1/models endpoints. Middleware wraps the blocking dispatch path in
// the given order; the streaming path carries the same request ID via
// the HTTP-level middleware.
func NewAdapter(chat transport.ChatService, creds transport.CredentialService, catalog transport.ModelCatalog, cfg Config, middlewares ...transport.Middleware) *Adapter {
	dispatcher := transport.Dispatcher(transport.DispatcherFunc(chat.Dispatch))
	if len(middlewares) > 0 {
		dispatcher = transport.Chain(middlewares...)(dispatcher)
	}

	a := &Adapter{
		chat:       chat,
		dispatcher: dispatcher,
		creds:      creds,
		catalog:    catalog,
		inflight:   transport.NewInFlightRegistry(),
		mux:        http.NewServeMux(),
		config:     cfg,
	}

	a.mux.HandleFunc("POST /v1/chat", a.handleChat)
	a.mux.HandleFunc("DELETE /v1/chat/{id}", a.handleAbortStream)
	a.mux.HandleFunc("GET /v1/models", a.handleListModels)
	a.mux.HandleFunc("GET /v1/credentials", a.handleListCredentials)
	a.mux.HandleFunc("PUT /v1/credentials/{provider}", a.handlePutCredential)
	a.mux.HandleFunc("DELETE /v1/credentials/{provider}", a.handleDeleteCredential)
	a.mux.HandleFunc("POST /v1/providers/{id}/test", a.handleTestProvider)
	a.mux.HandleFunc("GET /healthz", a.handleHealthz)

	return a
}

// Handler returns the http.Handler for this adapter. Use this to integrate
// with an http.Server or test with httptest. The returned handler includes
// HTTP-level middleware for request ID propagation.
func (a *Adapter) Handler() http.Handler {
	return httpRequestIDMiddleware(a.mux)
}

// httpRequestIDMiddleware is HTTP-level middleware that propagates the
// X-Request-ID header. If present in the request, it is forwarded to
// the response. After the handler runs, it checks the context for a
// request ID (set by the transport-level RequestID middleware) and adds
// it to the response headers if not already set.
func httpRequestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// If client sent X-Request-ID, propagate it into context.
		if id := r.Header.Get("X-Request-ID"); id != "" {
			ctx := transport.ContextWithRequestID(r.Context(), id)
			r = r.WithContext(ctx)
		}
		// Use a response writer wrapper to capture and set the request ID
		// header before the first write.
		rw := &requestIDResponseWriter{ResponseWriter: w, r: r}
		next.ServeHTTP(rw, r)
	})
}

// requestIDResponseWriter wraps http.ResponseWriter to inject the
// X-Request-ID header before the first write.
type requestIDResponseWriter struct {
	http.ResponseWriter
	r           *http.Request
	headersSent bool
}

func (w *requestIDResponseWriter) WriteHeader(statusCode int) {
	w.ensureRequestIDHeader()
	w.ResponseWriter.WriteHeader(statusCode)
}

func (w *requestIDResponseWriter) Write(b []byte) (int, error) {
	w.ensureRequestIDHeader()
	return w.ResponseWriter.Write(b)
}

func (w *requestIDResponseWriter) Flush() {
	if f, ok := w.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

// Unwrap returns the underlying ResponseWriter for http.NewResponseController.
func (w *requestIDResponseWriter) Unwrap() http.ResponseWriter {
	return w.ResponseWriter
}

func (w *requestIDResponseWriter) ensureRequestIDHeader() {
	if w.headersSent {
		return
	}
	w.headersSent = true
	if id := transport.RequestIDFromContext(w.r.Context()); id != "" {
		w.ResponseWriter.Header().Set("X-Request-ID", id)
	}
}

// userID extracts the authenticated caller's subject for credential
// scoping. Without an auth middleware the caller is "anonymous".
func userID(r *http.Request) string {
	if id := auth.IdentityFromContext(r.Context()); id != nil && id.Subject != "" {
		return id.Subject
	}
	return "anonymous"
}

// handleChat handles POST /v1/chat for both blocking and streaming calls.
func (a *Adapter) handleChat(w http.ResponseWriter, r *http.Request) {
	ct := r.Header.Get("Content-Type")
	if ct != "" && ct != "application/json" {
		transport.WriteErrorResponse(w,
			api.NewValidationError("Content-Type must be application/json"),
			http.StatusUnsupportedMediaType,
		)
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, a.config.MaxBodySize)

	var req api.ChatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		var maxBytesErr *http.MaxBytesError
		if errors.As(err, &maxBytesErr) {
			transport.WriteErrorResponse(w,
				api.NewValidationError(fmt.Sprintf("request body too large (max %d bytes)", a.config.MaxBodySize)),
				http.StatusRequestEntityTooLarge,
			)
			return
		}
		transport.WriteErrorResponse(w,
			api.NewValidationError("invalid JSON: "+err.Error()),
			http.StatusBadRequest,
		)
		return
	}

	req.UserID = userID(r)

	if req.Stream {
		a.handleStreamingChat(w, r, &req)
		return
	}

	resp, err := a.dispatcher.Dispatch(r.Context(), &req)
	if err != nil {
		transport.WriteError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(resp)
}

// handleStreamingChat handles streaming POST requests (stream: true).
// The server assigns a stream ID, exposes it via X-Stream-ID, and keeps
// the stream abortable through the in-flight registry until it ends.
func (a *Adapter) handleStreamingChat(w http.ResponseWriter, r *http.Request, req *api.ChatRequest) {
	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	chunks, err := a.chat.DispatchStream(ctx, req)
	if err != nil {
		transport.WriteError(w, err)
		return
	}

	streamID := uuid.NewString()
	a.inflight.Register(streamID, cancel)
	defer a.inflight.Remove(streamID)

	observability.StreamingConnections.Inc()
	defer observability.StreamingConnections.Dec()

	w.Header().Set(StreamIDHeader, streamID)

	sw := newSSEWriter(w)

	// Once cancellation is observed no buffered chunk may reach the
	// client; the stream ends with a single aborted event. The writer's
	// state machine keeps the terminal event unique if the producer's
	// own aborted chunk raced ahead.
	abort := func() {
		sw.WriteEvent(api.StreamEvent{Type: api.EventAborted})
		for range chunks {
		}
	}

	for {
		select {
		case <-ctx.Done():
			abort()
			return
		case chunk, ok := <-chunks:
			if !ok {
				return
			}
			if ctx.Err() != nil {
				abort()
				return
			}
			if werr := sw.WriteEvent(api.EventFromChunk(chunk)); werr != nil {
				// Client is gone. Cancel upstream and drain so the
				// producer can close its channel.
				cancel()
				for range chunks {
				}
				return
			}
		}
	}
}

// handleAbortStream handles DELETE /v1/chat/{id}.
func (a *Adapter) handleAbortStream(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if a.inflight.Cancel(id) {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	transport.WriteErrorResponse(w,
		api.NewValidationError("no active stream with ID "+id),
		http.StatusNotFound,
	)
}

// modelsResponse is the wire shape of GET /v1/models.
type modelsResponse struct {
	Providers []providerModels `json:"providers"`
}

type providerModels struct {
	ID           string             `json:"id"`
	DisplayName  string             `json:"display_name"`
	DefaultModel string             `json:"default_model,omitempty"`
	Models       []providerModelRef `json:"models"`
}

type providerModelRef struct {
	ID            string `json:"id"`
	ContextWindow int    `json:"context_window,omitempty"`
}

// handleListModels handles GET /v1/models. The result changes rarely, so
// clients are told to cache it.
func (a *Adapter) handleListModels(w http.ResponseWriter, r *http.Request) {
	out := modelsResponse{Providers: []providerModels{}}
	for _, meta := range a.catalog.List() {
		pm := providerModels{
			ID:           meta.ID,
			DisplayName:  meta.DisplayName,
			DefaultModel: meta.DefaultModel,
			Models:       make([]providerModelRef, 0, len(meta.Models)),
		}
		for _, m := range meta.Models {
			pm.Models = append(pm.Models, providerModelRef{ID: m.ID, ContextWindow: m.ContextWindow})
		}
		out.Providers = append(out.Providers, pm)
	}

	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", fmt.Sprintf("max-age=%d", a.config.ModelsMaxAge))
	json.NewEncoder(w).Encode(out)
}

// credentialRequest is the wire shape of PUT /v1/credentials/{provider}.
// The secret only ever travels in this direction.
type credentialRequest struct {
	Secret string `json:"secret"`
}

// handlePutCredential handles PUT /v1/credentials/{provider}.
func (a *Adapter) handlePutCredential(w http.ResponseWriter, r *http.Request) {
	providerID := r.PathValue("provider")

	r.Body = http.MaxBytesReader(w, r.Body, a.config.MaxBodySize)
	var req credentialRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		transport.WriteErrorResponse(w,
			api.NewValidationError("invalid JSON: "+err.Error()),
			http.StatusBadRequest,
		)
		return
	}

	if err := a.creds.Save(r.Context(), userID(r), providerID, req.Secret); err != nil {
		transport.WriteError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleDeleteCredential handles DELETE /v1/credentials/{provider}.
func (a *Adapter) handleDeleteCredential(w http.ResponseWriter, r *http.Request) {
	if err := a.creds.Delete(r.Context(), userID(r), r.PathValue("provider")); err != nil {
		if errors.Is(err, credential.ErrAbsent) {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		transport.WriteError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleListCredentials handles GET /v1/credentials. Only provider IDs are
// returned, never secrets.
func (a *Adapter) handleListCredentials(w http.ResponseWriter, r *http.Request) {
	providers, err := a.creds.Providers(r.Context(), userID(r))
	if err != nil {
		transport.WriteError(w, err)
		return
	}
	if providers == nil {
		providers = []string{}
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string][]string{"providers": providers})
}

// handleTestProvider handles POST /v1/providers/{id}/test.
func (a *Adapter) handleTestProvider(w http.ResponseWriter, r *http.Request) {
	result, err := a.chat.TestProvider(r.Context(), userID(r), r.PathValue("id"))
	if err != nil {
		transport.WriteError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(result)
}

// handleHealthz handles GET /healthz.
func (a *Adapter) handleHealthz(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.Write([]byte(`{"status":"ok"}`))
}
