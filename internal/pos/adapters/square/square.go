package square

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	posdomain "github.com/posbridge/posbridge/internal/pos/domain"
)

const signatureHeader = "X-Square-Hmacsha256-Signature"

type Config struct {
	WebhookSecret   string
	NotificationURL string
	BaseURL         string
	AccessToken     string
}

type Adapter struct {
	cfg    Config
	client *http.Client
}

func New(cfg Config, client *http.Client) *Adapter {
	if client == nil {
		client = &http.Client{Timeout: 15 * time.Second}
	}
	cfg.BaseURL = strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://connect.squareup.com"
	}
	return &Adapter{cfg: cfg, client: client}
}

func (a *Adapter) Provider() string {
	return posdomain.ProviderSquare
}

// VerifySignature checks the HMAC-SHA256 of notification URL + body against
// the base64 signature header, per Square's webhook scheme.
func (a *Adapter) VerifySignature(ctx context.Context, payload []byte, headers http.Header) error {
	secret := strings.TrimSpace(a.cfg.WebhookSecret)
	if secret == "" {
		return posdomain.ErrMissingSecret
	}

	signature := strings.TrimSpace(headers.Get(signatureHeader))
	if signature == "" {
		return posdomain.ErrInvalidSignature
	}

	mac := hmac.New(sha256.New, []byte(secret))
	_, _ = mac.Write([]byte(a.cfg.NotificationURL))
	_, _ = mac.Write(payload)
	expected := base64.StdEncoding.EncodeToString(mac.Sum(nil))

	if !hmac.Equal([]byte(signature), []byte(expected)) {
		return posdomain.ErrInvalidSignature
	}
	return nil
}

type webhookBody struct {
	MerchantID string `json:"merchant_id"`
	Type       string `json:"type"`
	EventID    string `json:"event_id"`
	CreatedAt  string `json:"created_at"`
	Data       struct {
		Type   string `json:"type"`
		ID     string `json:"id"`
		Object struct {
			OrderCreated *orderNotification `json:"order_created"`
			OrderUpdated *orderNotification `json:"order_updated"`
		} `json:"object"`
	} `json:"data"`
}

type orderNotification struct {
	OrderID    string `json:"order_id"`
	LocationID string `json:"location_id"`
	State      string `json:"state"`
	UpdatedAt  string `json:"updated_at"`
}

func (a *Adapter) Normalize(ctx context.Context, payload []byte) ([]posdomain.WebhookEnvelope, error) {
	var body webhookBody
	if err := json.Unmarshal(payload, &body); err != nil {
		return nil, posdomain.ErrInvalidPayload
	}
	if strings.TrimSpace(body.EventID) == "" {
		return nil, posdomain.ErrInvalidPayload
	}

	var kind string
	var notification *orderNotification
	switch strings.TrimSpace(body.Type) {
	case "order.created":
		kind = posdomain.EventKindOrderCreated
		notification = body.Data.Object.OrderCreated
	case "order.updated", "order.fulfillment.updated":
		kind = posdomain.EventKindOrderUpdated
		notification = body.Data.Object.OrderUpdated
	default:
		return nil, posdomain.ErrEventIgnored
	}
	if notification == nil || strings.TrimSpace(notification.OrderID) == "" {
		return nil, posdomain.ErrInvalidPayload
	}

	occurredAt := parseRFC3339(body.CreatedAt)
	if ts := parseRFC3339(notification.UpdatedAt); !ts.IsZero() {
		occurredAt = ts
	}

	return []posdomain.WebhookEnvelope{{
		ExternalEventID: body.EventID,
		EventKind:       kind,
		ExternalOrderID: notification.OrderID,
		LocationID:      notification.LocationID,
		StatusHint:      mapOrderState(notification.State),
		OccurredAt:      occurredAt,
	}}, nil
}

type retrieveOrderResponse struct {
	Order squareOrder `json:"order"`
}

type searchOrdersResponse struct {
	Orders []squareOrder `json:"orders"`
}

type squareOrder struct {
	ID         string            `json:"id"`
	LocationID string            `json:"location_id"`
	State      string            `json:"state"`
	CreatedAt  string            `json:"created_at"`
	UpdatedAt  string            `json:"updated_at"`
	TotalMoney money             `json:"total_money"`
	Metadata   map[string]string `json:"metadata"`
	LineItems  []struct {
		Name           string `json:"name"`
		Quantity       string `json:"quantity"`
		Note           string `json:"note"`
		BasePriceMoney money  `json:"base_price_money"`
		TotalMoney     money  `json:"total_money"`
	} `json:"line_items"`
	Fulfillments []struct {
		State         string `json:"state"`
		PickupDetails struct {
			Recipient struct {
				DisplayName  string `json:"display_name"`
				EmailAddress string `json:"email_address"`
			} `json:"recipient"`
		} `json:"pickup_details"`
	} `json:"fulfillments"`
}

type money struct {
	Amount   int64  `json:"amount"`
	Currency string `json:"currency"`
}

func (a *Adapter) FetchOrder(ctx context.Context, locationID, externalOrderID string) (*posdomain.Order, error) {
	var resp retrieveOrderResponse
	path := "/v2/orders/" + strings.TrimSpace(externalOrderID)
	if err := a.do(ctx, http.MethodGet, path, nil, &resp); err != nil {
		return nil, err
	}
	order := a.toOrder(resp.Order)
	if order.ExternalID == "" {
		return nil, posdomain.ErrOrderNotFound
	}
	return &order, nil
}

func (a *Adapter) ListOrdersModifiedSince(ctx context.Context, locationID string, since time.Time) ([]posdomain.Order, error) {
	request := map[string]any{
		"location_ids": []string{locationID},
		"query": map[string]any{
			"filter": map[string]any{
				"date_time_filter": map[string]any{
					"updated_at": map[string]any{
						"start_at": since.UTC().Format(time.RFC3339),
					},
				},
			},
			"sort": map[string]any{
				"sort_field": "UPDATED_AT",
				"sort_order": "ASC",
			},
		},
	}

	var resp searchOrdersResponse
	if err := a.do(ctx, http.MethodPost, "/v2/orders/search", request, &resp); err != nil {
		return nil, err
	}

	orders := make([]posdomain.Order, 0, len(resp.Orders))
	for _, raw := range resp.Orders {
		order := a.toOrder(raw)
		if order.ExternalID == "" {
			continue
		}
		orders = append(orders, order)
	}
	return orders, nil
}

type paymentLinkResponse struct {
	PaymentLink struct {
		ID  string `json:"id"`
		URL string `json:"url"`
	} `json:"payment_link"`
}

func (a *Adapter) CreateCheckout(ctx context.Context, req posdomain.CheckoutRequest) (*posdomain.CheckoutSession, error) {
	request := map[string]any{
		"idempotency_key": req.ReferenceID,
		"quick_pay": map[string]any{
			"name":        req.Description,
			"location_id": req.LocationID,
			"price_money": map[string]any{
				"amount":   req.AmountCents,
				"currency": req.Currency,
			},
		},
	}
	if req.RedirectURL != "" {
		request["checkout_options"] = map[string]any{"redirect_url": req.RedirectURL}
	}

	var resp paymentLinkResponse
	if err := a.do(ctx, http.MethodPost, "/v2/online-checkout/payment-links", request, &resp); err != nil {
		return nil, err
	}
	if resp.PaymentLink.URL == "" {
		return nil, posdomain.ErrUpstream
	}
	return &posdomain.CheckoutSession{
		ExternalID:  resp.PaymentLink.ID,
		CheckoutURL: resp.PaymentLink.URL,
	}, nil
}

func (a *Adapter) do(ctx context.Context, method, path string, body any, out any) error {
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return err
		}
	}

	req, err := http.NewRequestWithContext(ctx, method, a.cfg.BaseURL+path, &buf)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+a.cfg.AccessToken)
	req.Header.Set("Content-Type", "application/json")

	resp, err := a.client.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", posdomain.ErrUpstream, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return posdomain.ErrOrderNotFound
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("%w: square returned %d", posdomain.ErrUpstream, resp.StatusCode)
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("%w: %v", posdomain.ErrUpstream, err)
	}
	return nil
}

func (a *Adapter) toOrder(raw squareOrder) posdomain.Order {
	order := posdomain.Order{
		ExternalID: strings.TrimSpace(raw.ID),
		LocationID: strings.TrimSpace(raw.LocationID),
		State:      mapOrderState(raw.State),
		TotalCents: raw.TotalMoney.Amount,
		Currency:   strings.ToUpper(strings.TrimSpace(raw.TotalMoney.Currency)),
		Metadata:   raw.Metadata,
		PlacedAt:   parseRFC3339(raw.CreatedAt),
		UpdatedAt:  parseRFC3339(raw.UpdatedAt),
	}

	for _, item := range raw.LineItems {
		quantity, err := strconv.ParseInt(strings.TrimSpace(item.Quantity), 10, 64)
		if err != nil || quantity <= 0 {
			quantity = 1
		}
		order.LineItems = append(order.LineItems, posdomain.LineItem{
			Name:       item.Name,
			Quantity:   quantity,
			UnitCents:  item.BasePriceMoney.Amount,
			TotalCents: item.TotalMoney.Amount,
			Note:       item.Note,
		})
	}

	// Fulfillment state is more granular than order state, so it wins
	// when present.
	for _, fulfillment := range raw.Fulfillments {
		if state, ok := mapFulfillmentState(fulfillment.State); ok {
			order.State = state
		}
		if name := strings.TrimSpace(fulfillment.PickupDetails.Recipient.DisplayName); name != "" {
			order.CustomerName = name
		}
		if email := strings.TrimSpace(fulfillment.PickupDetails.Recipient.EmailAddress); email != "" {
			order.CustomerEmail = email
		}
	}

	return order
}

func mapOrderState(state string) posdomain.OrderState {
	switch strings.ToUpper(strings.TrimSpace(state)) {
	case "COMPLETED":
		return posdomain.OrderStateCompleted
	case "CANCELED":
		return posdomain.OrderStateCanceled
	default:
		return posdomain.OrderStatePlaced
	}
}

func mapFulfillmentState(state string) (posdomain.OrderState, bool) {
	switch strings.ToUpper(strings.TrimSpace(state)) {
	case "PROPOSED":
		return posdomain.OrderStatePlaced, true
	case "RESERVED":
		return posdomain.OrderStatePreparing, true
	case "PREPARED":
		return posdomain.OrderStateReady, true
	case "COMPLETED":
		return posdomain.OrderStateCompleted, true
	case "CANCELED":
		return posdomain.OrderStateCanceled, true
	default:
		return "", false
	}
}

func parseRFC3339(value string) time.Time {
	value = strings.TrimSpace(value)
	if value == "" {
		return time.Time{}
	}
	ts, err := time.Parse(time.RFC3339, value)
	if err != nil {
		return time.Time{}
	}
	return ts.UTC()
}
