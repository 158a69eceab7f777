package failures

import (
	"context"
	"testing"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/posbridge/posbridge/internal/clock"
)

func newTestTracker(t *testing.T, threshold int, window time.Duration) (*Tracker, *clock.FakeClock, *observer.ObservedLogs) {
	t.Helper()

	clk := clock.NewFakeClock(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))
	core, logs := observer.New(zap.WarnLevel)
	tracker := NewTracker(NewMemoryCounterStore(clk), clk, zap.New(core), threshold, window)
	return tracker, clk, logs
}

func alertCount(logs *observer.ObservedLogs) int {
	return logs.FilterMessage("signature failure threshold exceeded").Len()
}

func TestTrackerAlertsAtThreshold(t *testing.T) {
	tracker, _, logs := newTestTracker(t, 3, 5*time.Minute)
	ctx := context.Background()

	tracker.Record(ctx, "square")
	tracker.Record(ctx, "square")
	if got := alertCount(logs); got != 0 {
		t.Fatalf("alerts below threshold = %d, want 0", got)
	}

	tracker.Record(ctx, "square")
	if got := alertCount(logs); got != 1 {
		t.Fatalf("alerts at threshold = %d, want 1", got)
	}

	entry := logs.FilterMessage("signature failure threshold exceeded").All()[0]
	if got := entry.ContextMap()["provider"]; got != "square" {
		t.Fatalf("alert provider = %v, want square", got)
	}
}

func TestTrackerRateLimitsAlertsPerWindow(t *testing.T) {
	tracker, clk, logs := newTestTracker(t, 2, 5*time.Minute)
	ctx := context.Background()

	for i := 0; i < 6; i++ {
		tracker.Record(ctx, "clover")
	}
	if got := alertCount(logs); got != 1 {
		t.Fatalf("alerts inside window = %d, want 1", got)
	}

	clk.Advance(5 * time.Minute)
	tracker.Record(ctx, "clover")
	tracker.Record(ctx, "clover")
	if got := alertCount(logs); got != 2 {
		t.Fatalf("alerts after window elapsed = %d, want 2", got)
	}
}

func TestTrackerAlertsPerProviderIndependently(t *testing.T) {
	tracker, _, logs := newTestTracker(t, 2, 5*time.Minute)
	ctx := context.Background()

	tracker.Record(ctx, "square")
	tracker.Record(ctx, "square")
	tracker.Record(ctx, "toast")
	tracker.Record(ctx, "toast")

	if got := alertCount(logs); got != 2 {
		t.Fatalf("alerts across providers = %d, want 2", got)
	}
}

func TestMemoryCounterStorePrunesOldEntries(t *testing.T) {
	clk := clock.NewFakeClock(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))
	store := NewMemoryCounterStore(clk)
	ctx := context.Background()
	window := time.Minute

	for i := 0; i < 4; i++ {
		if _, err := store.Incr(ctx, "sigfail:square", window); err != nil {
			t.Fatalf("incr: %v", err)
		}
		clk.Advance(20 * time.Second)
	}

	// 80 seconds have passed since the first increment, so only the
	// entries from the last minute remain plus the one being added.
	count, err := store.Incr(ctx, "sigfail:square", window)
	if err != nil {
		t.Fatalf("incr: %v", err)
	}
	if count != 3 {
		t.Fatalf("count after prune = %d, want 3", count)
	}
}
