package patient

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/clinicmanager/clinic/internal/platform/db"
)

func newTestHandler() (*Handler, *echo.Echo) {
	return NewHandler(newTestService()), echo.New()
}

func newClinicContext(e *echo.Echo, method, body string, clinicID uuid.UUID) (echo.Context, *httptest.ResponseRecorder) {
	req := httptest.NewRequest(method, "/", strings.NewReader(body))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	req = req.WithContext(db.WithClinic(req.Context(), clinicID))
	rec := httptest.NewRecorder()
	return e.NewContext(req, rec), rec
}

func TestHandler_CreatePatient(t *testing.T) {
	h, e := newTestHandler()
	c, rec := newClinicContext(e, http.MethodPost, `{"name":"Ama","gender":"F","phone":"024"}`, uuid.New())

	if err := h.CreatePatient(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.Code != http.StatusCreated {
		t.Errorf("expected 201, got %d", rec.Code)
	}
	var got Patient
	json.Unmarshal(rec.Body.Bytes(), &got)
	if got.Name != "Ama" {
		t.Errorf("unexpected body %s", rec.Body.String())
	}
}

func TestHandler_CreatePatient_Invalid(t *testing.T) {
	h, e := newTestHandler()
	c, _ := newClinicContext(e, http.MethodPost, `{"name":"","gender":"F"}`, uuid.New())

	err := h.CreatePatient(c)
	httpErr, ok := err.(*echo.HTTPError)
	if !ok || httpErr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %v", err)
	}
}

func TestHandler_RequiresClinic(t *testing.T) {
	h, e := newTestHandler()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	c := e.NewContext(req, httptest.NewRecorder())

	err := h.ListPatients(c)
	httpErr, ok := err.(*echo.HTTPError)
	if !ok || httpErr.Code != http.StatusForbidden {
		t.Fatalf("expected 403, got %v", err)
	}
}

func TestHandler_GetPatient(t *testing.T) {
	h, e := newTestHandler()
	clinicID := uuid.New()
	p, _ := h.svc.CreatePatient(context.Background(), clinicID, PatientInput{Name: "Kofi", Gender: "M"})

	c, rec := newClinicContext(e, http.MethodGet, "", clinicID)
	c.SetParamNames("id")
	c.SetParamValues(p.ID.String())
	if err := h.GetPatient(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.Code != http.StatusOK {
		t.Errorf("expected 200, got %d", rec.Code)
	}
}

func TestHandler_GetPatient_NotFound(t *testing.T) {
	h, e := newTestHandler()
	c, _ := newClinicContext(e, http.MethodGet, "", uuid.New())
	c.SetParamNames("id")
	c.SetParamValues(uuid.New().String())

	err := h.GetPatient(c)
	httpErr, ok := err.(*echo.HTTPError)
	if !ok || httpErr.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %v", err)
	}
}

func TestHandler_GetPatient_BadID(t *testing.T) {
	h, e := newTestHandler()
	c, _ := newClinicContext(e, http.MethodGet, "", uuid.New())
	c.SetParamNames("id")
	c.SetParamValues("not-a-uuid")

	err := h.GetPatient(c)
	httpErr, ok := err.(*echo.HTTPError)
	if !ok || httpErr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %v", err)
	}
}

func TestHandler_ListPatients(t *testing.T) {
	h, e := newTestHandler()
	clinicID := uuid.New()
	h.svc.CreatePatient(context.Background(), clinicID, PatientInput{Name: "Kofi", Gender: "M"})

	c, rec := newClinicContext(e, http.MethodGet, "", clinicID)
	if err := h.ListPatients(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	var body map[string]interface{}
	json.Unmarshal(rec.Body.Bytes(), &body)
	if body["total"] != float64(1) {
		t.Errorf("expected total 1, got %v", body["total"])
	}
}

func TestHandler_RegisterRoutes(t *testing.T) {
	h, e := newTestHandler()
	h.RegisterRoutes(e.Group("/api/v1"))

	want := map[string]bool{
		"POST:/api/v1/patients":      false,
		"GET:/api/v1/patients/:id":   false,
		"POST:/api/v1/consultations": false,
		"POST:/api/v1/doctors":       false,
	}
	for _, r := range e.Routes() {
		key := r.Method + ":" + r.Path
		if _, ok := want[key]; ok {
			want[key] = true
		}
	}
	for k, found := range want {
		if !found {
			t.Errorf("missing route %s", k)
		}
	}
}
