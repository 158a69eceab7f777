package clock

import (
	"testing"
	"time"
)

func TestFakeClockAdvance(t *testing.T) {
	start := time.Date(2026, 3, 1, 12, 0, 0, 0, time.FixedZone("CET", 3600))
	clk := NewFakeClock(start)

	if got := clk.Now(); !got.Equal(start) {
		t.Fatalf("Now() = %v, want %v", got, start)
	}
	if got := clk.Now().Location(); got != time.UTC {
		t.Fatalf("Now() location = %v, want UTC", got)
	}

	clk.Advance(90 * time.Second)
	want := start.Add(90 * time.Second)
	if got := clk.Now(); !got.Equal(want) {
		t.Fatalf("after Advance Now() = %v, want %v", got, want)
	}
}
