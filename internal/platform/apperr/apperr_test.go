package apperr

import (
	"errors"
	"fmt"
	"net/http"
	"testing"
)

func TestStatus(t *testing.T) {
	cases := []struct {
		err  error
		want int
	}{
		{Invalid("name is required"), http.StatusBadRequest},
		{NotFound("bill"), http.StatusNotFound},
		{Conflict("bill already paid"), http.StatusConflict},
		{Unauthorized("bad signature"), http.StatusUnauthorized},
		{Forbidden("no group"), http.StatusForbidden},
		{Upstream("paystack", errors.New("boom")), http.StatusBadGateway},
		{errors.New("driver exploded"), http.StatusInternalServerError},
		{fmt.Errorf("wrapped: %w", NotFound("item")), http.StatusNotFound},
	}
	for _, tc := range cases {
		if got := Status(tc.err); got != tc.want {
			t.Errorf("Status(%v) = %d, want %d", tc.err, got, tc.want)
		}
	}
}

func TestNotFound_Message(t *testing.T) {
	if got := NotFound("queue entry").Error(); got != "queue entry not found" {
		t.Errorf("unexpected message %q", got)
	}
}

func TestSentinelIdentity(t *testing.T) {
	errBillPaid := Conflict("bill is already paid")
	wrapped := fmt.Errorf("add item: %w", errBillPaid)
	if !errors.Is(wrapped, errBillPaid) {
		t.Error("expected wrapped error to match sentinel")
	}
	if !errors.Is(wrapped, ErrConflict) {
		t.Error("expected wrapped error to match kind")
	}
}

func TestHTTP_HidesInternalErrors(t *testing.T) {
	he := HTTP(errors.New("pq: relation does not exist"))
	if he.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", he.Code)
	}
	if he.Message != "internal server error" {
		t.Errorf("expected generic message, got %v", he.Message)
	}
}

func TestHTTP_KeepsValidationMessage(t *testing.T) {
	he := HTTP(Invalid("quantity must be positive"))
	if he.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", he.Code)
	}
	if he.Message != "quantity must be positive" {
		t.Errorf("unexpected message %v", he.Message)
	}
}
