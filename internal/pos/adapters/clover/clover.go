package clover

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"strings"
	"time"

	posdomain "github.com/posbridge/posbridge/internal/pos/domain"
)

const signatureHeader = "Clover-Signature"

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
		cfg.BaseURL = "https://api.clover.com"
	}
	return &Adapter{cfg: cfg, client: client}
}

func (a *Adapter) Provider() string {
	return posdomain.ProviderClover
}

// VerifySignature checks the timestamped signature header. The signed
// payload is "<timestamp>.<body>" and the header carries one or more v1
// hex digests.
func (a *Adapter) VerifySignature(ctx context.Context, payload []byte, headers http.Header) error {
	secret := strings.TrimSpace(a.cfg.WebhookSecret)
	if secret == "" {
		return posdomain.ErrMissingSecret
	}

	sigHeader := strings.TrimSpace(headers.Get(signatureHeader))
	if sigHeader == "" {
		return posdomain.ErrInvalidSignature
	}

	timestamp, signatures, err := parseSignatureHeader(sigHeader)
	if err != nil {
		return posdomain.ErrInvalidSignature
	}

	mac := hmac.New(sha256.New, []byte(secret))
	_, _ = mac.Write([]byte(timestamp))
	_, _ = mac.Write([]byte("."))
	_, _ = mac.Write(payload)
	expected := hex.EncodeToString(mac.Sum(nil))

	for _, signature := range signatures {
		if hmac.Equal([]byte(signature), []byte(expected)) {
			return nil
		}
	}
	return posdomain.ErrInvalidSignature
}

// webhookBody is Clover's merchant-keyed event batch. A single delivery
// can carry updates for several merchants and several objects each.
type webhookBody struct {
	AppID     string                `json:"appId"`
	Merchants map[string][]merchantEvent `json:"merchants"`
}

type merchantEvent struct {
	ObjectID string `json:"objectId"`
	Type     string `json:"type"`
	TS       int64  `json:"ts"`
}

func (a *Adapter) Normalize(ctx context.Context, payload []byte) ([]posdomain.WebhookEnvelope, error) {
	var body webhookBody
	if err := json.Unmarshal(payload, &body); err != nil {
		return nil, posdomain.ErrInvalidPayload
	}
	if len(body.Merchants) == 0 {
		return nil, posdomain.ErrEventIgnored
	}

	merchantIDs := make([]string, 0, len(body.Merchants))
	for merchantID := range body.Merchants {
		merchantIDs = append(merchantIDs, merchantID)
	}
	sort.Strings(merchantIDs)

	var envelopes []posdomain.WebhookEnvelope
	for _, merchantID := range merchantIDs {
		for _, event := range body.Merchants[merchantID] {
			objectID := strings.TrimSpace(event.ObjectID)
			// Only order objects ("O:<id>") are actionable.
			if !strings.HasPrefix(objectID, "O:") {
				continue
			}
			orderID := strings.TrimPrefix(objectID, "O:")
			if orderID == "" {
				continue
			}

			kind := posdomain.EventKindOrderUpdated
			if strings.EqualFold(event.Type, "CREATE") {
				kind = posdomain.EventKindOrderCreated
			}

			var occurredAt time.Time
			if event.TS > 0 {
				occurredAt = time.UnixMilli(event.TS).UTC()
			}

			envelopes = append(envelopes, posdomain.WebhookEnvelope{
				ExternalEventID: fmt.Sprintf("%s:%s:%d", merchantID, objectID, event.TS),
				EventKind:       kind,
				ExternalOrderID: orderID,
				LocationID:      merchantID,
				OccurredAt:      occurredAt,
			})
		}
	}

	if len(envelopes) == 0 {
		return nil, posdomain.ErrEventIgnored
	}
	return envelopes, nil
}

type cloverOrder struct {
	ID           string `json:"id"`
	State        string `json:"state"`
	Total        int64  `json:"total"`
	Currency     string `json:"currency"`
	CreatedTime  int64  `json:"createdTime"`
	ModifiedTime int64  `json:"modifiedTime"`
	LineItems    struct {
		Elements []struct {
			Name     string `json:"name"`
			Price    int64  `json:"price"`
			UnitQty  int64  `json:"unitQty"`
			Note     string `json:"note"`
		} `json:"elements"`
	} `json:"lineItems"`
}

type cloverOrderList struct {
	Elements []cloverOrder `json:"elements"`
}

func (a *Adapter) FetchOrder(ctx context.Context, locationID, externalOrderID string) (*posdomain.Order, error) {
	path := fmt.Sprintf("/v3/merchants/%s/orders/%s?expand=lineItems", locationID, externalOrderID)
	var raw cloverOrder
	if err := a.do(ctx, path, &raw); err != nil {
		return nil, err
	}
	if strings.TrimSpace(raw.ID) == "" {
		return nil, posdomain.ErrOrderNotFound
	}
	order := a.toOrder(locationID, raw)
	return &order, nil
}

func (a *Adapter) ListOrdersModifiedSince(ctx context.Context, locationID string, since time.Time) ([]posdomain.Order, error) {
	path := fmt.Sprintf("/v3/merchants/%s/orders?filter=modifiedTime>=%d&expand=lineItems", locationID, since.UnixMilli())
	var raw cloverOrderList
	if err := a.do(ctx, path, &raw); err != nil {
		return nil, err
	}

	orders := make([]posdomain.Order, 0, len(raw.Elements))
	for _, element := range raw.Elements {
		if strings.TrimSpace(element.ID) == "" {
			continue
		}
		orders = append(orders, a.toOrder(locationID, element))
	}
	return orders, nil
}

func (a *Adapter) CreateCheckout(ctx context.Context, req posdomain.CheckoutRequest) (*posdomain.CheckoutSession, error) {
	return nil, posdomain.ErrNotSupported
}

func (a *Adapter) do(ctx context.Context, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, a.cfg.BaseURL+path, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+a.cfg.AccessToken)
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
		return fmt.Errorf("%w: clover returned %d", posdomain.ErrUpstream, resp.StatusCode)
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("%w: %v", posdomain.ErrUpstream, err)
	}
	return nil
}

func (a *Adapter) toOrder(locationID string, raw cloverOrder) posdomain.Order {
	order := posdomain.Order{
		ExternalID: strings.TrimSpace(raw.ID),
		LocationID: locationID,
		State:      mapState(raw.State),
		TotalCents: raw.Total,
		Currency:   strings.ToUpper(strings.TrimSpace(raw.Currency)),
	}
	if raw.CreatedTime > 0 {
		order.PlacedAt = time.UnixMilli(raw.CreatedTime).UTC()
	}
	if raw.ModifiedTime > 0 {
		order.UpdatedAt = time.UnixMilli(raw.ModifiedTime).UTC()
	}

	for _, item := range raw.LineItems.Elements {
		quantity := item.UnitQty
		if quantity <= 0 {
			quantity = 1
		}
		order.LineItems = append(order.LineItems, posdomain.LineItem{
			Name:       item.Name,
			Quantity:   quantity,
			UnitCents:  item.Price,
			TotalCents: item.Price * quantity,
			Note:       item.Note,
		})
	}
	return order
}

func mapState(state string) posdomain.OrderState {
	switch strings.ToLower(strings.TrimSpace(state)) {
	case "locked", "paid":
		return posdomain.OrderStateCompleted
	case "deleted":
		return posdomain.OrderStateCanceled
	default:
		return posdomain.OrderStatePlaced
	}
}

func parseSignatureHeader(header string) (string, []string, error) {
	parts := strings.Split(header, ",")
	var timestamp string
	signatures := []string{}
	for _, part := range parts {
		piece := strings.TrimSpace(part)
		if piece == "" {
			continue
		}
		keyValue := strings.SplitN(piece, "=", 2)
		if len(keyValue) != 2 {
			continue
		}
		key := strings.TrimSpace(keyValue[0])
		value := strings.TrimSpace(keyValue[1])
		if key == "t" {
			timestamp = value
		}
		if key == "v1" {
			signatures = append(signatures, value)
		}
	}
	if timestamp == "" || len(signatures) == 0 {
		return "", nil, errors.New("invalid_signature")
	}
	return timestamp, signatures, nil
}
