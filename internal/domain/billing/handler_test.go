package billing

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/clinicmanager/clinic/internal/platform/db"
	"github.com/clinicmanager/clinic/internal/platform/paystack"
)

func newClinicContext(e *echo.Echo, method, body string, clinicID uuid.UUID) (echo.Context, *httptest.ResponseRecorder) {
	req := httptest.NewRequest(method, "/", strings.NewReader(body))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	req = req.WithContext(db.WithClinic(req.Context(), clinicID))
	rec := httptest.NewRecorder()
	return e.NewContext(req, rec), rec
}

func TestHandler_CreateBill(t *testing.T) {
	f := newFixture()
	h, e := NewHandler(f.svc), echo.New()
	body := fmt.Sprintf(`{"patient_id":%q,"items":[{"description":"Consultation","quantity":2,"unit_price":"500"},{"description":"Scan","quantity":1,"unit_price":1500}]}`, f.patientID)
	c, rec := newClinicContext(e, http.MethodPost, body, f.clinicID)

	if err := h.CreateBill(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d", rec.Code)
	}
	var got Bill
	json.Unmarshal(rec.Body.Bytes(), &got)
	if !got.TotalAmount.Equal(dec("2500")) {
		t.Errorf("unexpected total %s", got.TotalAmount)
	}
}

func TestHandler_MarkPaidDefaultsToManual(t *testing.T) {
	f := newFixture()
	h, e := NewHandler(f.svc), echo.New()
	b := f.createBill(t, ItemInput{Description: "Consultation", Quantity: 1, UnitPrice: dec("10")})

	c, rec := newClinicContext(e, http.MethodPost, "", f.clinicID)
	c.SetParamNames("id")
	c.SetParamValues(b.ID.String())
	if err := h.MarkPaid(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	var p Payment
	json.Unmarshal(rec.Body.Bytes(), &p)
	if p.Status != PaymentManual {
		t.Errorf("expected manual payment, got %s", p.Status)
	}
}

func TestHandler_AddItemToPaidBillConflicts(t *testing.T) {
	f := newFixture()
	h, e := NewHandler(f.svc), echo.New()
	b := f.createBill(t, ItemInput{Description: "Consultation", Quantity: 1, UnitPrice: dec("10")})
	f.svc.MarkPaid(context.Background(), f.clinicID, b.ID, true, "")

	c, _ := newClinicContext(e, http.MethodPost, `{"description":"Extra","quantity":1,"unit_price":"5"}`, f.clinicID)
	c.SetParamNames("id")
	c.SetParamValues(b.ID.String())
	err := h.AddItem(c)
	httpErr, ok := err.(*echo.HTTPError)
	if !ok || httpErr.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %v", err)
	}
}

func TestHandler_ListBills_BadPaidFilter(t *testing.T) {
	f := newFixture()
	h, e := NewHandler(f.svc), echo.New()
	req := httptest.NewRequest(http.MethodGet, "/?paid=maybe", nil)
	req = req.WithContext(db.WithClinic(req.Context(), f.clinicID))
	c := e.NewContext(req, httptest.NewRecorder())

	err := h.ListBills(c)
	httpErr, ok := err.(*echo.HTTPError)
	if !ok || httpErr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %v", err)
	}
}

func TestHandler_CallbackVerifiesWithGateway(t *testing.T) {
	f := newFixture()
	_, ref := f.pendingPayment(t, "100")
	// The gateway reports failure; the redirect alone must not settle the bill.
	f.gateway.verify[ref] = &paystack.Transaction{Status: "failed", Reference: ref, Amount: 10000}

	e := echo.New()
	NewHandler(f.svc).RegisterPublicRoutes(e.Group(""))
	req := httptest.NewRequest(http.MethodGet, "/billing/paystack/callback?trxref="+ref+"&status=success", nil)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var got map[string]interface{}
	json.Unmarshal(rec.Body.Bytes(), &got)
	if got["status"] != PaymentFailed {
		t.Errorf("expected failed status, got %v", got["status"])
	}
}

func TestHandler_WebhookRejectsBadSignature(t *testing.T) {
	f := newFixture()
	e := echo.New()
	NewHandler(f.svc).RegisterPublicRoutes(e.Group(""))

	body := `{"event":"charge.success","data":{"reference":"x"}}`
	req := httptest.NewRequest(http.MethodPost, "/billing/paystack/webhook", strings.NewReader(body))
	req.Header.Set(paystack.SignatureHeader, "deadbeef")
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}
}

func TestHandler_WebhookAcceptsSignedEvent(t *testing.T) {
	f := newFixture()
	b, ref := f.pendingPayment(t, "100")
	f.gateway.verify[ref] = &paystack.Transaction{Status: "success", Reference: ref, Amount: 10000}
	e := echo.New()
	NewHandler(f.svc).RegisterPublicRoutes(e.Group(""))

	body := `{"event":"charge.success","data":{"reference":"` + ref + `"}}`
	req := httptest.NewRequest(http.MethodPost, "/billing/paystack/webhook", strings.NewReader(body))
	req.Header.Set(paystack.SignatureHeader, paystack.Sign([]byte(body), f.svc.WebhookSecret))
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	got, _ := f.svc.GetBill(context.Background(), f.clinicID, b.ID)
	if !got.IsPaid {
		t.Error("expected bill paid")
	}
}

func TestHandler_RevenueReportBadDate(t *testing.T) {
	f := newFixture()
	h, e := NewHandler(f.svc), echo.New()
	req := httptest.NewRequest(http.MethodGet, "/?start=yesterday", nil)
	req = req.WithContext(db.WithClinic(req.Context(), f.clinicID))
	c := e.NewContext(req, httptest.NewRecorder())

	err := h.RevenueReport(c)
	httpErr, ok := err.(*echo.HTTPError)
	if !ok || httpErr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %v", err)
	}
}

func TestHandler_RegisterRoutes(t *testing.T) {
	e := echo.New()
	h := NewHandler(newFixture().svc)
	h.RegisterRoutes(e.Group("/api/v1"))
	h.RegisterPublicRoutes(e.Group("/api/v1"))

	want := []string{
		"GET /api/v1/bills",
		"POST /api/v1/bills",
		"GET /api/v1/bills/:id",
		"POST /api/v1/bills/:id/items",
		"PUT /api/v1/bills/:id/items/:item",
		"DELETE /api/v1/bills/:id/items/:item",
		"POST /api/v1/bills/:id/mark-paid",
		"POST /api/v1/bills/:id/pay",
		"GET /api/v1/billing/revenue",
		"GET /api/v1/billing/transactions",
		"GET /api/v1/debt-cases",
		"PATCH /api/v1/debt-cases/:id",
		"POST /api/v1/debt-cases/:id/followups",
		"GET /api/v1/billing/paystack/callback",
		"POST /api/v1/billing/paystack/webhook",
	}
	registered := make(map[string]bool)
	for _, r := range e.Routes() {
		registered[r.Method+" "+r.Path] = true
	}
	for _, route := range want {
		if !registered[route] {
			t.Errorf("missing route %s", route)
		}
	}
}
