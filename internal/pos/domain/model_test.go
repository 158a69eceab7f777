package domain

import "testing"

func TestCanTransitionForwardOnly(t *testing.T) {
	cases := []struct {
		from OrderState
		to   OrderState
		want bool
	}{
		{OrderStatePlaced, OrderStatePreparing, true},
		{OrderStatePlaced, OrderStateCompleted, true},
		{OrderStatePreparing, OrderStatePlaced, false},
		{OrderStateReady, OrderStatePreparing, false},
		{OrderStateCompleted, OrderStateReady, false},
		{OrderStateCompleted, OrderStateCanceled, false},
		{OrderStateCanceled, OrderStatePlaced, false},
		{OrderStatePlaced, OrderStateCanceled, true},
		{OrderStateReady, OrderStateCanceled, true},
		{OrderStatePlaced, OrderStatePlaced, false},
	}

	for _, tc := range cases {
		if got := tc.from.CanTransition(tc.to); got != tc.want {
			t.Fatalf("%s -> %s: got %v, want %v", tc.from, tc.to, got, tc.want)
		}
	}
}

func TestTerminalStates(t *testing.T) {
	if !OrderStateCompleted.Terminal() || !OrderStateCanceled.Terminal() {
		t.Fatalf("completed and canceled must be terminal")
	}
	if OrderStatePlaced.Terminal() || OrderStateReady.Terminal() {
		t.Fatalf("placed and ready must not be terminal")
	}
}
