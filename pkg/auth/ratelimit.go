package auth

import (
	"context"
	"sync"
	"time"
)

// RateLimiter decides whether an authenticated caller may proceed.
type RateLimiter interface {
	Allow(ctx context.Context, identity *Identity) error
}

// TierConfig holds the limits for one service tier.
type TierConfig struct {
	RequestsPerMinute int
}

// InProcessLimiter counts requests per subject and tier in fixed
// one-minute windows, entirely in memory. A zero or negative RPM means
// the tier is unlimited.
type InProcessLimiter struct {
	tiers      map[string]TierConfig
	defaultRPM int

	mu      sync.Mutex
	windows map[string]*window
}

type window struct {
	count   int
	started time.Time
}

// NewInProcessLimiter creates a limiter. Tiers absent from the map fall
// back to defaultRPM.
func NewInProcessLimiter(tiers map[string]TierConfig, defaultRPM int) *InProcessLimiter {
	return &InProcessLimiter{
		tiers:      tiers,
		defaultRPM: defaultRPM,
		windows:    make(map[string]*window),
	}
}

// Allow returns ErrTooManyRequests once the caller exceeds its tier's
// per-minute budget.
func (l *InProcessLimiter) Allow(_ context.Context, identity *Identity) error {
	tier := identity.ServiceTier
	if tier == "" {
		tier = "default"
	}

	rpm := l.defaultRPM
	if tc, ok := l.tiers[tier]; ok {
		rpm = tc.RequestsPerMinute
	}
	if rpm <= 0 {
		return nil
	}

	key := identity.Subject + ":" + tier

	l.mu.Lock()
	defer l.mu.Unlock()

	now := time.Now()
	w, ok := l.windows[key]
	if !ok || now.Sub(w.started) >= time.Minute {
		l.windows[key] = &window{count: 1, started: now}
		return nil
	}

	w.count++
	if w.count > rpm {
		return ErrTooManyRequests
	}
	return nil
}
