package devkit

import (
	"context"
	"net/http"
	"sync"
	"time"

	posdomain "github.com/posbridge/posbridge/internal/pos/domain"
)

// FakeAdapter is an in-memory adapter for tests. Orders are keyed by
// external order ID; every method can be forced to fail.
type FakeAdapter struct {
	mu sync.Mutex

	Name       string
	VerifyErr  error
	Envelopes  []posdomain.WebhookEnvelope
	NormErr    error
	FetchErr   error
	ListErr    error
	Orders     map[string]*posdomain.Order
	FetchCalls int
	ListCalls  int
}

func NewFakeAdapter(name string) *FakeAdapter {
	return &FakeAdapter{
		Name:   name,
		Orders: map[string]*posdomain.Order{},
	}
}

func (f *FakeAdapter) Provider() string {
	return f.Name
}

func (f *FakeAdapter) VerifySignature(ctx context.Context, payload []byte, headers http.Header) error {
	return f.VerifyErr
}

func (f *FakeAdapter) Normalize(ctx context.Context, payload []byte) ([]posdomain.WebhookEnvelope, error) {
	if f.NormErr != nil {
		return nil, f.NormErr
	}
	if len(f.Envelopes) == 0 {
		return nil, posdomain.ErrEventIgnored
	}
	return f.Envelopes, nil
}

func (f *FakeAdapter) PutOrder(order *posdomain.Order) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Orders[order.ExternalID] = order
}

func (f *FakeAdapter) FetchOrder(ctx context.Context, locationID, externalOrderID string) (*posdomain.Order, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.FetchCalls++
	if f.FetchErr != nil {
		return nil, f.FetchErr
	}
	order, ok := f.Orders[externalOrderID]
	if !ok {
		return nil, posdomain.ErrOrderNotFound
	}
	copied := *order
	return &copied, nil
}

func (f *FakeAdapter) ListOrdersModifiedSince(ctx context.Context, locationID string, since time.Time) ([]posdomain.Order, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ListCalls++
	if f.ListErr != nil {
		return nil, f.ListErr
	}
	var orders []posdomain.Order
	for _, order := range f.Orders {
		if order.LocationID != locationID {
			continue
		}
		if !order.UpdatedAt.Before(since) {
			orders = append(orders, *order)
		}
	}
	return orders, nil
}

func (f *FakeAdapter) CreateCheckout(ctx context.Context, req posdomain.CheckoutRequest) (*posdomain.CheckoutSession, error) {
	return nil, posdomain.ErrNotSupported
}
