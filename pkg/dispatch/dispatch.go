// Package dispatch routes validated chat requests to provider adapters.
//
// A dispatch moves through a fixed sequence: validation, cache lookup,
// credential resolution, adapter construction, invocation. A cache hit
// short-circuits before any credential is touched or any network call is
// made. Credential material exists only between resolution and adapter
// construction and is never attached to logs, chunks, or responses.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/chorus-llm/chorus/pkg/api"
	"github.com/chorus-llm/chorus/pkg/cache"
	"github.com/chorus-llm/chorus/pkg/credential"
	"github.com/chorus-llm/chorus/pkg/observability"
	"github.com/chorus-llm/chorus/pkg/provider"
)

// Resolver yields the plaintext secret for a user/provider pair.
// credential.Resolver satisfies this; tests substitute fakes.
type Resolver interface {
	Resolve(ctx context.Context, userID, providerID string) (string, error)
}

// Dispatcher validates, caches, and routes chat requests.
type Dispatcher struct {
	registry   *provider.Registry
	resolver   Resolver
	cache      *cache.Cache // nil disables caching
	validation api.ValidationConfig
	logger     *slog.Logger
}

// New creates a dispatcher. A nil cache disables response caching.
func New(registry *provider.Registry, resolver Resolver, responseCache *cache.Cache, logger *slog.Logger) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Dispatcher{
		registry:   registry,
		resolver:   resolver,
		cache:      responseCache,
		validation: api.DefaultValidationConfig(),
		logger:     logger,
	}
}

// Dispatch performs a blocking completion. On a cache hit the stored
// response is returned without resolving credentials or touching the
// network.
func (d *Dispatcher) Dispatch(ctx context.Context, req *api.ChatRequest) (*api.ChatResponse, error) {
	req = req.Clone()
	req.Stream = false

	dispatchID := uuid.NewString()
	logger := d.logger.With("dispatch_id", dispatchID, "provider", req.Provider, "model", req.Model)

	// A cancelled caller gets Aborted before any work is done.
	if ctx.Err() != nil {
		observability.DispatchesTotal.WithLabelValues(req.Provider, req.Model, "blocking", "aborted").Inc()
		return nil, api.NewAbortedError(req.Provider)
	}

	if err := api.ValidateRequest(req, d.validation); err != nil {
		observability.DispatchesTotal.WithLabelValues(req.Provider, req.Model, "blocking", "validation").Inc()
		return nil, err
	}

	if d.cache != nil {
		if resp, ok := d.cache.Get(req); ok {
			observability.CacheHitsTotal.WithLabelValues(req.Provider).Inc()
			observability.DispatchesTotal.WithLabelValues(req.Provider, resp.Model, "blocking", "cache_hit").Inc()
			logger.Debug("dispatch served from cache")
			return resp, nil
		}
		observability.CacheMissesTotal.WithLabelValues(req.Provider).Inc()
	}

	adapter, err := d.buildAdapter(ctx, req, logger)
	if err != nil {
		observability.DispatchesTotal.WithLabelValues(req.Provider, req.Model, "blocking", errStatus(err)).Inc()
		return nil, err
	}
	defer adapter.Close()

	start := time.Now()
	resp, err := adapter.Chat(ctx, req)
	latency := time.Since(start)
	if err != nil {
		observability.DispatchesTotal.WithLabelValues(req.Provider, req.Model, "blocking", errStatus(err)).Inc()
		logger.Warn("dispatch failed", "error", err, "latency", latency)
		return nil, api.AsError(err)
	}

	observability.DispatchesTotal.WithLabelValues(req.Provider, resp.Model, "blocking", "ok").Inc()
	observability.ProviderLatency.WithLabelValues(req.Provider, resp.Model).Observe(latency.Seconds())
	recordTokens(req.Provider, resp.Model, resp.Usage)
	logger.Info("dispatch complete",
		"latency", latency,
		"finish_reason", resp.FinishReason,
		"total_tokens", resp.Usage.TotalTokens,
	)

	if d.cache != nil {
		d.cache.Put(req, resp)
	}
	return resp, nil
}

// DispatchStream performs a streaming completion. Streamed output bypasses
// the cache in both directions. The returned channel follows the chunk
// contract: closed by the producer after exactly one terminal chunk.
func (d *Dispatcher) DispatchStream(ctx context.Context, req *api.ChatRequest) (<-chan api.ChatChunk, error) {
	req = req.Clone()
	req.Stream = true

	dispatchID := uuid.NewString()
	logger := d.logger.With("dispatch_id", dispatchID, "provider", req.Provider, "model", req.Model)

	if ctx.Err() != nil {
		observability.DispatchesTotal.WithLabelValues(req.Provider, req.Model, "streaming", "aborted").Inc()
		return nil, api.NewAbortedError(req.Provider)
	}

	if err := api.ValidateRequest(req, d.validation); err != nil {
		observability.DispatchesTotal.WithLabelValues(req.Provider, req.Model, "streaming", "validation").Inc()
		return nil, err
	}

	adapter, err := d.buildAdapter(ctx, req, logger)
	if err != nil {
		observability.DispatchesTotal.WithLabelValues(req.Provider, req.Model, "streaming", errStatus(err)).Inc()
		return nil, err
	}

	start := time.Now()
	upstream, err := adapter.StreamChat(ctx, req)
	if err != nil {
		adapter.Close()
		observability.DispatchesTotal.WithLabelValues(req.Provider, req.Model, "streaming", errStatus(err)).Inc()
		logger.Warn("stream dispatch failed", "error", err)
		return nil, api.AsError(err)
	}

	out := make(chan api.ChatChunk, 16)
	go func() {
		defer close(out)
		defer adapter.Close()

		// On observed cancellation the consumer gets a single aborted
		// terminal and nothing else, even if the adapter has chunks
		// buffered. The upstream channel is drained so the producer can
		// close it.
		abort := func() {
			latency := time.Since(start)
			observability.DispatchesTotal.WithLabelValues(req.Provider, req.Model, "streaming", "aborted").Inc()
			observability.ProviderLatency.WithLabelValues(req.Provider, req.Model).Observe(latency.Seconds())
			logger.Info("stream aborted", "latency", latency)
			out <- api.ErrorChunk(api.NewAbortedError(req.Provider))
			for range upstream {
			}
		}

		for {
			select {
			case <-ctx.Done():
				abort()
				return
			case chunk, ok := <-upstream:
				if !ok {
					return
				}
				if ctx.Err() != nil {
					abort()
					return
				}
				select {
				case out <- chunk:
				case <-ctx.Done():
					abort()
					return
				}
				if chunk.Done {
					status := "ok"
					if chunk.Err != nil {
						status = errStatus(chunk.Err)
					}
					latency := time.Since(start)
					observability.DispatchesTotal.WithLabelValues(req.Provider, req.Model, "streaming", status).Inc()
					observability.ProviderLatency.WithLabelValues(req.Provider, req.Model).Observe(latency.Seconds())
					recordTokens(req.Provider, req.Model, usageValue(chunk.Usage))
					logger.Info("stream complete",
						"latency", latency,
						"finish_reason", chunk.FinishReason,
						"status", status,
					)
					return
				}
			}
		}
	}()
	return out, nil
}

// TestProvider probes a provider using the caller's stored credential.
func (d *Dispatcher) TestProvider(ctx context.Context, userID, providerID string) (provider.ConnectionResult, error) {
	if _, err := d.registry.Get(providerID); err != nil {
		return provider.ConnectionResult{}, err
	}
	secret, err := d.resolveSecret(ctx, userID, providerID)
	if err != nil {
		return provider.ConnectionResult{}, err
	}
	adapter, err := d.registry.CreateAdapter(providerID, secret)
	if err != nil {
		return provider.ConnectionResult{}, api.AsError(err)
	}
	defer adapter.Close()
	return adapter.TestConnection(ctx), nil
}

func (d *Dispatcher) buildAdapter(ctx context.Context, req *api.ChatRequest, logger *slog.Logger) (provider.Adapter, error) {
	if _, err := d.registry.Get(req.Provider); err != nil {
		return nil, err
	}

	secret, err := d.resolveSecret(ctx, req.UserID, req.Provider)
	if err != nil {
		logger.Warn("credential resolution failed", "error", err)
		return nil, err
	}

	adapter, err := d.registry.CreateAdapter(req.Provider, secret)
	if err != nil {
		if apiErr := api.AsError(err); apiErr.Type == api.ErrorTypeCredential {
			observability.CredentialFailuresTotal.WithLabelValues(req.Provider).Inc()
		}
		return nil, api.AsError(err)
	}
	return adapter, nil
}

// resolveSecret loads the caller's credential. Absence maps to an empty
// secret: adapters for local backends accept it, adapters for hosted
// platforms reject it with a credential error at construction.
func (d *Dispatcher) resolveSecret(ctx context.Context, userID, providerID string) (string, error) {
	secret, err := d.resolver.Resolve(ctx, userID, providerID)
	if errors.Is(err, credential.ErrAbsent) {
		return "", nil
	}
	if err != nil {
		observability.CredentialFailuresTotal.WithLabelValues(providerID).Inc()
		var apiErr *api.Error
		if errors.As(err, &apiErr) {
			return "", apiErr
		}
		return "", api.NewCredentialError(providerID, fmt.Sprintf("resolving credential: %s", err.Error()))
	}
	return secret, nil
}

func errStatus(err error) string {
	return string(api.AsError(err).Type)
}

func recordTokens(providerID, model string, usage api.Usage) {
	if usage.PromptTokens > 0 {
		observability.ProviderTokensTotal.WithLabelValues(providerID, model, "input").Add(float64(usage.PromptTokens))
	}
	if usage.CompletionTokens > 0 {
		observability.ProviderTokensTotal.WithLabelValues(providerID, model, "output").Add(float64(usage.CompletionTokens))
	}
}

func usageValue(u *api.Usage) api.Usage {
	if u == nil {
		return api.Usage{}
	}
	return *u
}
