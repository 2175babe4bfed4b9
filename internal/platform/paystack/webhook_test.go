package paystack

import (
	"errors"
	"testing"
)

func TestVerifySignature(t *testing.T) {
	body := []byte(`{"event":"charge.success","data":{"reference":"BILL-1"}}`)
	sig := Sign(body, "sk_test")

	if !VerifySignature(body, "sk_test", sig) {
		t.Error("expected valid signature")
	}
	if VerifySignature(body, "other", sig) {
		t.Error("expected signature with wrong secret to fail")
	}
	if VerifySignature(body, "sk_test", "") {
		t.Error("expected empty signature to fail")
	}
	if VerifySignature(body, "", sig) {
		t.Error("expected empty secret to fail")
	}
}

func TestParseWebhook(t *testing.T) {
	body := []byte(`{"event":"charge.success","data":{"reference":"BILL-1","status":"success"}}`)

	ev, err := ParseWebhook(body, "sk_test", Sign(body, "sk_test"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ev.Event != "charge.success" || ev.Reference() != "BILL-1" {
		t.Errorf("unexpected event %+v", ev)
	}

	if _, err := ParseWebhook(body, "sk_test", "deadbeef"); !errors.Is(err, ErrInvalidSignature) {
		t.Errorf("expected ErrInvalidSignature, got %v", err)
	}
}
