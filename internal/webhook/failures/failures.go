package failures

import (
	"context"
	"sync"
	"time"

	"github.com/posbridge/posbridge/internal/clock"
	"go.uber.org/zap"
)

// CounterStore counts occurrences of a key within a rolling window.
type CounterStore interface {
	Incr(ctx context.Context, key string, window time.Duration) (int64, error)
}

// Tracker watches signature verification failures per provider and raises
// an alert once the count inside the window crosses the threshold. Alerts
// are rate limited to one per window per provider.
type Tracker struct {
	store     CounterStore
	clk       clock.Clock
	log       *zap.Logger
	threshold int64
	window    time.Duration

	mu        sync.Mutex
	lastAlert map[string]time.Time
}

func NewTracker(store CounterStore, clk clock.Clock, log *zap.Logger, threshold int, window time.Duration) *Tracker {
	if threshold < 1 {
		threshold = 1
	}
	if window <= 0 {
		window = 5 * time.Minute
	}
	return &Tracker{
		store:     store,
		clk:       clk,
		log:       log.Named("webhook.failures"),
		threshold: int64(threshold),
		window:    window,
		lastAlert: map[string]time.Time{},
	}
}

func (t *Tracker) Record(ctx context.Context, provider string) {
	count, err := t.store.Incr(ctx, "sigfail:"+provider, t.window)
	if err != nil {
		t.log.Warn("failure counter unavailable", zap.Error(err))
		return
	}
	if count < t.threshold {
		return
	}

	now := t.clk.Now()
	t.mu.Lock()
	last, seen := t.lastAlert[provider]
	if seen && now.Sub(last) < t.window {
		t.mu.Unlock()
		return
	}
	t.lastAlert[provider] = now
	t.mu.Unlock()

	t.log.Warn("signature failure threshold exceeded",
		zap.String("provider", provider),
		zap.Int64("count", count),
		zap.Duration("window", t.window),
	)
}

// MemoryCounterStore keeps per-key timestamps and prunes anything older
// than the window. Suitable for a single process.
type MemoryCounterStore struct {
	clk clock.Clock

	mu      sync.Mutex
	entries map[string][]time.Time
}

func NewMemoryCounterStore(clk clock.Clock) *MemoryCounterStore {
	return &MemoryCounterStore{
		clk:     clk,
		entries: map[string][]time.Time{},
	}
}

func (s *MemoryCounterStore) Incr(ctx context.Context, key string, window time.Duration) (int64, error) {
	now := s.clk.Now()
	cutoff := now.Add(-window)

	s.mu.Lock()
	defer s.mu.Unlock()

	kept := s.entries[key][:0]
	for _, ts := range s.entries[key] {
		if ts.After(cutoff) {
			kept = append(kept, ts)
		}
	}
	kept = append(kept, now)
	s.entries[key] = kept
	return int64(len(kept)), nil
}
