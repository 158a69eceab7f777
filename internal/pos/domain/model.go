package domain

import (
	"time"
)

const (
	ProviderSquare = "square"
	ProviderClover = "clover"
	ProviderToast  = "toast"
)

// OrderState is the canonical order lifecycle shared by every provider.
// Adapters translate provider-specific states into this set.
type OrderState string

const (
	OrderStatePlaced    OrderState = "placed"
	OrderStatePreparing OrderState = "preparing"
	OrderStateReady     OrderState = "ready"
	OrderStateCompleted OrderState = "completed"
	OrderStateCanceled  OrderState = "canceled"
)

var stateRanks = map[OrderState]int{
	OrderStatePlaced:    1,
	OrderStatePreparing: 2,
	OrderStateReady:     3,
	OrderStateCompleted: 4,
}

// Rank orders the forward lifecycle. Canceled has no rank; it is reachable
// from any non-terminal state and terminal once entered.
func (s OrderState) Rank() (int, bool) {
	rank, ok := stateRanks[s]
	return rank, ok
}

func (s OrderState) Terminal() bool {
	return s == OrderStateCompleted || s == OrderStateCanceled
}

// CanTransition reports whether moving from s to next respects the
// lifecycle: forward-only along the ranked states, cancel from anywhere
// non-terminal, never out of a terminal state.
func (s OrderState) CanTransition(next OrderState) bool {
	if s == next {
		return false
	}
	if s.Terminal() {
		return false
	}
	if next == OrderStateCanceled {
		return true
	}
	from, okFrom := s.Rank()
	to, okTo := next.Rank()
	if !okFrom || !okTo {
		return false
	}
	return to > from
}

// WebhookEnvelope is one normalized notification extracted from a provider
// webhook payload. A single delivery may fan out into several envelopes.
type WebhookEnvelope struct {
	ExternalEventID string
	EventKind       string
	ExternalOrderID string
	LocationID      string
	StatusHint      OrderState
	OccurredAt      time.Time
}

const (
	EventKindOrderCreated = "order.created"
	EventKindOrderUpdated = "order.updated"
)

// Order is the canonical order shape returned by adapter fetches.
type Order struct {
	ExternalID    string
	LocationID    string
	State         OrderState
	TotalCents    int64
	Currency      string
	CustomerName  string
	CustomerEmail string
	LineItems     []LineItem
	Metadata      map[string]string
	PlacedAt      time.Time
	UpdatedAt     time.Time
}

// MetaRedeemPoints is the order metadata key carrying a requested
// loyalty redemption, in points.
const MetaRedeemPoints = "redeem_points"

type LineItem struct {
	Name       string
	Quantity   int64
	UnitCents  int64
	TotalCents int64
	Note       string
}

// CheckoutRequest asks an adapter to create a hosted checkout session.
type CheckoutRequest struct {
	LocationID  string
	ReferenceID string
	AmountCents int64
	Currency    string
	Description string
	RedirectURL string
}

type CheckoutSession struct {
	ExternalID  string
	CheckoutURL string
	ExpiresAt   time.Time
}
