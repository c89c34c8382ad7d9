package provider

import (
	"context"
	"log/slog"
	"time"
)

// RefreshAllModels asks every registered provider for its live model
// list and folds the results into the registry. Adapters are built with
// an empty secret: local backends answer, credential-gated backends fail
// construction and keep their static catalogue. An empty live list also
// leaves the static catalogue in place.
func RefreshAllModels(ctx context.Context, r *Registry, logger *slog.Logger) {
	if logger == nil {
		logger = slog.Default()
	}
	for _, meta := range r.List() {
		adapter, err := r.CreateAdapter(meta.ID, "")
		if err != nil {
			logger.Debug("model refresh skipped", "provider", meta.ID, "reason", err)
			continue
		}
		models := adapter.Models(ctx)
		adapter.Close()
		if len(models) == 0 {
			continue
		}
		r.RefreshModels(meta.ID, models)
		logger.Debug("model catalogue refreshed", "provider", meta.ID, "models", len(models))
	}
}

// RefreshLoop refreshes the model catalogue once at startup and then on
// every interval tick until ctx is cancelled. A non-positive interval
// disables refreshing entirely.
func RefreshLoop(ctx context.Context, r *Registry, interval time.Duration, logger *slog.Logger) {
	if interval <= 0 {
		return
	}
	RefreshAllModels(ctx, r, logger)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			RefreshAllModels(ctx, r, logger)
		}
	}
}
