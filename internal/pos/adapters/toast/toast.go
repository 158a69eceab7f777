package toast

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	posdomain "github.com/posbridge/posbridge/internal/pos/domain"
)

const signatureHeader = "Toast-Signature"

type Config struct {
	WebhookSecret string
	BaseURL       string
	AccessToken   string
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
		cfg.BaseURL = "https://ws-api.toasttab.com"
	}
	return &Adapter{cfg: cfg, client: client}
}

func (a *Adapter) Provider() string {
	return posdomain.ProviderToast
}

// VerifySignature checks the base64 HMAC-SHA256 of the raw body.
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
	_, _ = mac.Write(payload)
	expected := base64.StdEncoding.EncodeToString(mac.Sum(nil))

	if !hmac.Equal([]byte(signature), []byte(expected)) {
		return posdomain.ErrInvalidSignature
	}
	return nil
}

type webhookBody struct {
	GUID          string `json:"guid"`
	EventCategory string `json:"eventCategory"`
	EventType     string `json:"eventType"`
	Timestamp     string `json:"timestamp"`
	Details       struct {
		OrderGUID      string `json:"orderGuid"`
		RestaurantGUID string `json:"restaurantGuid"`
		OrderState     string `json:"orderState"`
	} `json:"details"`
}

func (a *Adapter) Normalize(ctx context.Context, payload []byte) ([]posdomain.WebhookEnvelope, error) {
	var body webhookBody
	if err := json.Unmarshal(payload, &body); err != nil {
		return nil, posdomain.ErrInvalidPayload
	}
	if strings.TrimSpace(body.GUID) == "" {
		return nil, posdomain.ErrInvalidPayload
	}
	if !strings.EqualFold(strings.TrimSpace(body.EventCategory), "orders") {
		return nil, posdomain.ErrEventIgnored
	}
	if strings.TrimSpace(body.Details.OrderGUID) == "" {
		return nil, posdomain.ErrInvalidPayload
	}

	kind := posdomain.EventKindOrderUpdated
	if strings.EqualFold(strings.TrimSpace(body.EventType), "OrderCreated") {
		kind = posdomain.EventKindOrderCreated
	}

	envelope := posdomain.WebhookEnvelope{
		ExternalEventID: body.GUID,
		EventKind:       kind,
		ExternalOrderID: body.Details.OrderGUID,
		LocationID:      body.Details.RestaurantGUID,
		StatusHint:      mapState(body.Details.OrderState),
		OccurredAt:      parseTimestamp(body.Timestamp),
	}
	return []posdomain.WebhookEnvelope{envelope}, nil
}

type toastOrder struct {
	GUID         string `json:"guid"`
	State        string `json:"state"`
	Voided       bool   `json:"voided"`
	OpenedDate   string `json:"openedDate"`
	ModifiedDate string `json:"modifiedDate"`
	Checks       []struct {
		TotalAmount float64 `json:"totalAmount"`
		Customer    struct {
			FirstName string `json:"firstName"`
			LastName  string `json:"lastName"`
			Email     string `json:"email"`
		} `json:"customer"`
		Selections []struct {
			DisplayName  string  `json:"displayName"`
			Quantity     float64 `json:"quantity"`
			Price        float64 `json:"price"`
			ReceiptLine  string  `json:"receiptLine"`
		} `json:"selections"`
	} `json:"checks"`
}

func (a *Adapter) FetchOrder(ctx context.Context, locationID, externalOrderID string) (*posdomain.Order, error) {
	path := "/orders/v2/orders/" + strings.TrimSpace(externalOrderID)
	var raw toastOrder
	if err := a.do(ctx, locationID, path, &raw); err != nil {
		return nil, err
	}
	if strings.TrimSpace(raw.GUID) == "" {
		return nil, posdomain.ErrOrderNotFound
	}
	order := a.toOrder(locationID, raw)
	return &order, nil
}

func (a *Adapter) ListOrdersModifiedSince(ctx context.Context, locationID string, since time.Time) ([]posdomain.Order, error) {
	path := fmt.Sprintf("/orders/v2/ordersBulk?startDate=%s", since.UTC().Format(time.RFC3339))
	var raw []toastOrder
	if err := a.do(ctx, locationID, path, &raw); err != nil {
		return nil, err
	}

	orders := make([]posdomain.Order, 0, len(raw))
	for _, element := range raw {
		if strings.TrimSpace(element.GUID) == "" {
			continue
		}
		orders = append(orders, a.toOrder(locationID, element))
	}
	return orders, nil
}

func (a *Adapter) CreateCheckout(ctx context.Context, req posdomain.CheckoutRequest) (*posdomain.CheckoutSession, error) {
	return nil, posdomain.ErrNotSupported
}

func (a *Adapter) do(ctx context.Context, locationID, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, a.cfg.BaseURL+path, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+a.cfg.AccessToken)
	req.Header.Set("Toast-Restaurant-External-ID", locationID)
	req.Header.Set("Accept", "application/json")

	resp, err := a.client.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", posdomain.ErrUpstream, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return posdomain.ErrOrderNotFound
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("%w: toast returned %d", posdomain.ErrUpstream, resp.StatusCode)
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("%w: %v", posdomain.ErrUpstream, err)
	}
	return nil
}

func (a *Adapter) toOrder(locationID string, raw toastOrder) posdomain.Order {
	order := posdomain.Order{
		ExternalID: strings.TrimSpace(raw.GUID),
		LocationID: locationID,
		State:      mapState(raw.State),
		Currency:   "USD",
		PlacedAt:   parseTimestamp(raw.OpenedDate),
		UpdatedAt:  parseTimestamp(raw.ModifiedDate),
	}
	if raw.Voided {
		order.State = posdomain.OrderStateCanceled
	}

	for _, check := range raw.Checks {
		order.TotalCents += int64(check.TotalAmount * 100)
		if name := customerName(check.Customer.FirstName, check.Customer.LastName); name != "" {
			order.CustomerName = name
		}
		if email := strings.TrimSpace(check.Customer.Email); email != "" {
			order.CustomerEmail = email
		}
		for _, selection := range check.Selections {
			quantity := int64(selection.Quantity)
			if quantity <= 0 {
				quantity = 1
			}
			totalCents := int64(selection.Price * 100)
			order.LineItems = append(order.LineItems, posdomain.LineItem{
				Name:       selection.DisplayName,
				Quantity:   quantity,
				UnitCents:  totalCents / quantity,
				TotalCents: totalCents,
				Note:       selection.ReceiptLine,
			})
		}
	}
	return order
}

func mapState(state string) posdomain.OrderState {
	switch strings.ToUpper(strings.TrimSpace(state)) {
	case "APPROVED", "RECEIVED":
		return posdomain.OrderStatePreparing
	case "READY":
		return posdomain.OrderStateReady
	case "CLOSED", "COMPLETED":
		return posdomain.OrderStateCompleted
	case "VOIDED", "CANCELED":
		return posdomain.OrderStateCanceled
	default:
		return posdomain.OrderStatePlaced
	}
}

func customerName(first, last string) string {
	name := strings.TrimSpace(strings.TrimSpace(first) + " " + strings.TrimSpace(last))
	return name
}

func parseTimestamp(value string) time.Time {
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
