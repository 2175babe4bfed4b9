package inventory

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/clinicmanager/clinic/internal/platform/db"
)

func newClinicContext(e *echo.Echo, method, body string, clinicID uuid.UUID) (echo.Context, *httptest.ResponseRecorder) {
	req := httptest.NewRequest(method, "/", strings.NewReader(body))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	req = req.WithContext(db.WithClinic(req.Context(), clinicID))
	rec := httptest.NewRecorder()
	return e.NewContext(req, rec), rec
}

func TestHandler_CreateItem(t *testing.T) {
	f := newFixture()
	h, e := NewHandler(f.svc), echo.New()
	c, rec := newClinicContext(e, http.MethodPost, `{"name":"Paracetamol","sku":"PCM-500","reorder_level":"5","price":"1.50"}`, f.clinicID)

	if err := h.CreateItem(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d", rec.Code)
	}
	var got Item
	json.Unmarshal(rec.Body.Bytes(), &got)
	if got.ID == uuid.Nil || got.ClinicID != f.clinicID {
		t.Errorf("unexpected item %+v", got)
	}
}

func TestHandler_CreateItem_DuplicateSKU(t *testing.T) {
	f := newFixture()
	h, e := NewHandler(f.svc), echo.New()
	body := `{"name":"Paracetamol","sku":"PCM-500"}`
	c, _ := newClinicContext(e, http.MethodPost, body, f.clinicID)
	if err := h.CreateItem(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	c, _ = newClinicContext(e, http.MethodPost, body, f.clinicID)
	err := h.CreateItem(c)
	httpErr, ok := err.(*echo.HTTPError)
	if !ok || httpErr.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %v", err)
	}
}

func TestHandler_Consume_Insufficient(t *testing.T) {
	f := newFixture()
	h, e := NewHandler(f.svc), echo.New()
	loc := f.location(t, "Pharmacy")
	it := f.item(t, "Gloves", "0")

	body := fmt.Sprintf(`{"item_id":%q,"location_id":%q,"quantity":"1"}`, it.ID, loc.ID)
	c, _ := newClinicContext(e, http.MethodPost, body, f.clinicID)
	err := h.Consume(c)
	httpErr, ok := err.(*echo.HTTPError)
	if !ok || httpErr.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %v", err)
	}
}

func TestHandler_Move_InvalidType(t *testing.T) {
	f := newFixture()
	h, e := NewHandler(f.svc), echo.New()
	it := f.item(t, "Gloves", "0")
	body := fmt.Sprintf(`{"item_id":%q,"quantity":"1","movement_type":"GIFT"}`, it.ID)
	c, _ := newClinicContext(e, http.MethodPost, body, f.clinicID)
	err := h.Move(c)
	httpErr, ok := err.(*echo.HTTPError)
	if !ok || httpErr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %v", err)
	}
}

func TestHandler_GetItem_InvalidID(t *testing.T) {
	f := newFixture()
	h, e := NewHandler(f.svc), echo.New()
	c, _ := newClinicContext(e, http.MethodGet, "", f.clinicID)
	c.SetParamNames("id")
	c.SetParamValues("nope")
	err := h.GetItem(c)
	httpErr, ok := err.(*echo.HTTPError)
	if !ok || httpErr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %v", err)
	}
}

func TestHandler_ExportCSV(t *testing.T) {
	f := newFixture()
	h, e := NewHandler(f.svc), echo.New()
	f.item(t, "Bandage", "5")

	c, rec := newClinicContext(e, http.MethodGet, "", f.clinicID)
	if err := h.ExportCSV(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ct := rec.Header().Get(echo.HeaderContentType); ct != "text/csv" {
		t.Errorf("unexpected content type %q", ct)
	}
	if !strings.HasPrefix(rec.Body.String(), "sku,item,total_stock,reorder_level\n") {
		t.Errorf("unexpected body %q", rec.Body.String())
	}
}

func TestHandler_MissingClinic(t *testing.T) {
	h, e := NewHandler(newFixture().svc), echo.New()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	c := e.NewContext(req, httptest.NewRecorder())
	err := h.ListItems(c)
	httpErr, ok := err.(*echo.HTTPError)
	if !ok || httpErr.Code != http.StatusForbidden {
		t.Fatalf("expected 403, got %v", err)
	}
}

func TestHandler_RegisterRoutes(t *testing.T) {
	e := echo.New()
	NewHandler(newFixture().svc).RegisterRoutes(e.Group("/api/v1"))

	want := []string{
		"GET /api/v1/inventory/items",
		"POST /api/v1/inventory/items",
		"GET /api/v1/inventory/items/:id",
		"GET /api/v1/inventory/items/:id/stock",
		"GET /api/v1/inventory/low-stock",
		"POST /api/v1/inventory/consume",
		"POST /api/v1/inventory/movements",
		"GET /api/v1/inventory/movements",
		"POST /api/v1/inventory/purchase-orders",
		"POST /api/v1/inventory/purchase-orders/:id/receive",
		"POST /api/v1/inventory/purchase-orders/:id/cancel",
		"GET /api/v1/inventory/export.csv",
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
