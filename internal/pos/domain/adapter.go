package domain

import (
	"context"
	"net/http"
	"time"
)

// Adapter is the provider boundary. One implementation exists per POS
// provider; everything past this interface deals only in canonical types.
type Adapter interface {
	Provider() string

	// VerifySignature checks the webhook signature headers against the
	// raw request body. Returns ErrMissingSecret when no secret is
	// configured so callers can decide the fail-open/fail-closed policy.
	VerifySignature(ctx context.Context, payload []byte, headers http.Header) error

	// Normalize extracts the order notifications carried by a webhook
	// payload. Payloads that parse but carry nothing actionable return
	// ErrEventIgnored.
	Normalize(ctx context.Context, payload []byte) ([]WebhookEnvelope, error)

	FetchOrder(ctx context.Context, locationID, externalOrderID string) (*Order, error)

	ListOrdersModifiedSince(ctx context.Context, locationID string, since time.Time) ([]Order, error)

	// CreateCheckout creates a hosted checkout session. Providers without
	// a checkout API return ErrNotSupported.
	CreateCheckout(ctx context.Context, req CheckoutRequest) (*CheckoutSession, error)
}
