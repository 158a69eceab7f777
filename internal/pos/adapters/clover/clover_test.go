package clover

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"net/http"
	"testing"
	"time"

	posdomain "github.com/posbridge/posbridge/internal/pos/domain"
)

func buildSignatureHeader(secret string, payload []byte, timestamp int64) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(fmt.Sprintf("%d.", timestamp)))
	mac.Write(payload)
	return fmt.Sprintf("t=%d,v1=%s", timestamp, hex.EncodeToString(mac.Sum(nil)))
}

func TestVerifySignature(t *testing.T) {
	secret := "clover_secret"
	payload := []byte(`{"appId":"APP","merchants":{}}`)
	timestamp := time.Now().Unix()

	adapter := New(Config{WebhookSecret: secret}, nil)

	headers := http.Header{}
	headers.Set("Clover-Signature", buildSignatureHeader(secret, payload, timestamp))
	if err := adapter.VerifySignature(context.Background(), payload, headers); err != nil {
		t.Fatalf("expected valid signature, got error: %v", err)
	}

	headers.Set("Clover-Signature", buildSignatureHeader("wrong", payload, timestamp))
	if err := adapter.VerifySignature(context.Background(), payload, headers); !errors.Is(err, posdomain.ErrInvalidSignature) {
		t.Fatalf("expected ErrInvalidSignature, got %v", err)
	}

	headers.Set("Clover-Signature", "garbage")
	if err := adapter.VerifySignature(context.Background(), payload, headers); !errors.Is(err, posdomain.ErrInvalidSignature) {
		t.Fatalf("expected ErrInvalidSignature for malformed header, got %v", err)
	}
}

func TestNormalizeFansOutOrderEvents(t *testing.T) {
	payload := []byte(`{
		"appId": "APP",
		"merchants": {
			"M1": [
				{"objectId": "O:A1", "type": "CREATE", "ts": 1700000000000},
				{"objectId": "O:A2", "type": "UPDATE", "ts": 1700000001000},
				{"objectId": "P:PAY1", "type": "CREATE", "ts": 1700000002000}
			],
			"M2": [
				{"objectId": "O:B1", "type": "UPDATE", "ts": 1700000003000}
			]
		}
	}`)

	adapter := New(Config{}, nil)
	envelopes, err := adapter.Normalize(context.Background(), payload)
	if err != nil {
		t.Fatalf("normalize: %v", err)
	}
	if len(envelopes) != 3 {
		t.Fatalf("expected 3 order envelopes, got %d", len(envelopes))
	}

	if envelopes[0].ExternalOrderID != "A1" || envelopes[0].EventKind != posdomain.EventKindOrderCreated {
		t.Fatalf("unexpected first envelope: %+v", envelopes[0])
	}
	if envelopes[0].LocationID != "M1" {
		t.Fatalf("expected merchant id as location, got %q", envelopes[0].LocationID)
	}
	if envelopes[2].ExternalOrderID != "B1" || envelopes[2].LocationID != "M2" {
		t.Fatalf("unexpected last envelope: %+v", envelopes[2])
	}

	seen := map[string]bool{}
	for _, envelope := range envelopes {
		if seen[envelope.ExternalEventID] {
			t.Fatalf("duplicate event id %q", envelope.ExternalEventID)
		}
		seen[envelope.ExternalEventID] = true
	}
}

func TestNormalizeIgnoresNonOrderBatches(t *testing.T) {
	payload := []byte(`{"appId":"APP","merchants":{"M1":[{"objectId":"P:1","type":"CREATE","ts":1}]}}`)

	adapter := New(Config{}, nil)
	if _, err := adapter.Normalize(context.Background(), payload); !errors.Is(err, posdomain.ErrEventIgnored) {
		t.Fatalf("expected ErrEventIgnored, got %v", err)
	}
}
