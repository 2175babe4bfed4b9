package paystack

import (
	"crypto/hmac"
	"crypto/sha512"
	"encoding/hex"
	"encoding/json"
	"errors"
)

const SignatureHeader = "x-paystack-signature"

var ErrInvalidSignature = errors.New("invalid paystack signature")

// WebhookEvent is a Paystack event notification.
type WebhookEvent struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

// Sign returns the hex HMAC-SHA512 of body keyed by secret.
func Sign(body []byte, secret string) string {
	mac := hmac.New(sha512.New, []byte(secret))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

func VerifySignature(body []byte, secret, signature string) bool {
	if secret == "" || signature == "" {
		return false
	}
	return hmac.Equal([]byte(Sign(body, secret)), []byte(signature))
}

// ParseWebhook checks the signature and decodes the event envelope.
func ParseWebhook(body []byte, secret, signature string) (*WebhookEvent, error) {
	if !VerifySignature(body, secret, signature) {
		return nil, ErrInvalidSignature
	}
	var ev WebhookEvent
	if err := json.Unmarshal(body, &ev); err != nil {
		return nil, err
	}
	return &ev, nil
}

// Reference extracts data.reference from a charge event.
func (e *WebhookEvent) Reference() string {
	var d struct {
		Reference string `json:"reference"`
	}
	_ = json.Unmarshal(e.Data, &d)
	return d.Reference
}
