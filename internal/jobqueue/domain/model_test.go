package domain

import (
	"testing"
	"time"
)

func TestBackoffForAttempt(t *testing.T) {
	tests := []struct {
		attempts int
		want     time.Duration
	}{
		{0, 5 * time.Second},
		{1, 5 * time.Second},
		{2, 30 * time.Second},
		{3, 2 * time.Minute},
		{4, 10 * time.Minute},
		{5, time.Hour},
		{6, time.Hour},
		{100, time.Hour},
	}

	for _, tt := range tests {
		if got := BackoffForAttempt(tt.attempts); got != tt.want {
			t.Errorf("BackoffForAttempt(%d) = %v, want %v", tt.attempts, got, tt.want)
		}
	}
}
