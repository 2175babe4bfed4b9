package middleware

import (
	"bytes"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rs/zerolog"

	"github.com/clinicmanager/clinic/internal/platform/auth"
	"github.com/clinicmanager/clinic/internal/platform/db"
	"github.com/clinicmanager/clinic/internal/platform/metrics"
)

func TestRequestID_GeneratesNew(t *testing.T) {
	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	handler := func(c echo.Context) error {
		rid := c.Get("request_id").(string)
		if rid == "" {
			t.Error("expected request_id to be generated")
		}
		return c.String(http.StatusOK, "ok")
	}

	mw := RequestID()
	h := mw(handler)
	err := h(c)

	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.Header().Get(RequestIDHeader) == "" {
		t.Error("expected X-Request-ID response header")
	}
}

func TestRequestID_PreservesExisting(t *testing.T) {
	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set(RequestIDHeader, "my-custom-id")
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	handler := func(c echo.Context) error {
		rid := c.Get("request_id").(string)
		if rid != "my-custom-id" {
			t.Errorf("expected my-custom-id, got %s", rid)
		}
		return c.String(http.StatusOK, "ok")
	}

	mw := RequestID()
	h := mw(handler)
	h(c)

	if rec.Header().Get(RequestIDHeader) != "my-custom-id" {
		t.Errorf("expected my-custom-id in response header, got %s", rec.Header().Get(RequestIDHeader))
	}
}

func TestLogger_IncludesClinicAndUser(t *testing.T) {
	var buf bytes.Buffer
	e := echo.New()
	clinicID := uuid.New()
	req := httptest.NewRequest(http.MethodPost, "/api/v1/queues/doctor/1/entries", nil)
	c := e.NewContext(req, httptest.NewRecorder())
	c.Set("request_id", "req-9")

	h := Logger(zerolog.New(&buf))(func(c echo.Context) error {
		// clinic scope is attached by an inner group
		ctx := auth.WithUser(db.WithClinic(c.Request().Context(), clinicID), "rec-1", auth.RoleReceptionist)
		c.SetRequest(c.Request().WithContext(ctx))
		return c.NoContent(http.StatusCreated)
	})
	if err := h(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	out := buf.String()
	for _, want := range []string{`"level":"info"`, `"component":"http"`, `"status":201`, `"user_id":"rec-1"`, `"clinic_id":"` + clinicID.String() + `"`, `"request_id":"req-9"`} {
		if !strings.Contains(out, want) {
			t.Errorf("expected log line to contain %s, got %s", want, out)
		}
	}
}

func TestLogger_LevelFollowsStatus(t *testing.T) {
	cases := []struct {
		err  error
		want string
	}{
		{echo.NewHTTPError(http.StatusConflict, "bill is already paid"), `"level":"warn"`},
		{errors.New("connection reset"), `"level":"error"`},
	}
	for _, tc := range cases {
		var buf bytes.Buffer
		e := echo.New()
		c := e.NewContext(httptest.NewRequest(http.MethodPost, "/api/v1/bills/x/items", nil), httptest.NewRecorder())

		err := Logger(zerolog.New(&buf))(func(c echo.Context) error { return tc.err })(c)
		if err != tc.err {
			t.Fatalf("expected handler error to be returned, got %v", err)
		}
		if !strings.Contains(buf.String(), tc.want) {
			t.Errorf("expected %s for %v, got %s", tc.want, tc.err, buf.String())
		}
	}
}

func TestRecovery_CatchesPanic(t *testing.T) {
	var buf bytes.Buffer
	e := echo.New()
	e.GET("/api/v1/stock/:id", func(c echo.Context) error {
		panic("nil stock level")
	})
	e.Use(Recovery(zerolog.New(&buf)))

	before := testutil.ToFloat64(metrics.PanicsRecovered.WithLabelValues("/api/v1/stock/:id"))
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/stock/42", nil))

	if rec.Code != http.StatusInternalServerError {
		t.Errorf("expected 500, got %d", rec.Code)
	}
	if strings.Contains(rec.Body.String(), "nil stock level") {
		t.Error("panic value must not reach the client")
	}
	if !strings.Contains(buf.String(), `"panic":"nil stock level"`) {
		t.Errorf("expected panic to be logged, got %s", buf.String())
	}
	after := testutil.ToFloat64(metrics.PanicsRecovered.WithLabelValues("/api/v1/stock/:id"))
	if after-before != 1 {
		t.Errorf("expected panic counter to increase by 1, got %v", after-before)
	}
}

func TestRecovery_PassesThrough(t *testing.T) {
	var buf bytes.Buffer
	e := echo.New()
	c := e.NewContext(httptest.NewRequest(http.MethodGet, "/health", nil), httptest.NewRecorder())

	err := Recovery(zerolog.New(&buf))(func(c echo.Context) error {
		return c.String(http.StatusOK, "ok")
	})(c)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if buf.Len() != 0 {
		t.Errorf("expected nothing logged, got %s", buf.String())
	}
}

func TestAudit_LogsMutations(t *testing.T) {
	var buf bytes.Buffer
	logger := zerolog.New(&buf)
	e := echo.New()

	clinicID := uuid.New()
	req := httptest.NewRequest(http.MethodPost, "/api/v1/queues", nil)
	req = req.WithContext(auth.WithUser(db.WithClinic(req.Context(), clinicID), "nurse-1", auth.RoleNurse))
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)
	c.Set("request_id", "req-123")

	h := Audit(logger)(func(c echo.Context) error {
		return c.NoContent(http.StatusCreated)
	})
	if err := h(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	out := buf.String()
	for _, want := range []string{`"user_id":"nurse-1"`, `"clinic_id":"` + clinicID.String() + `"`, `"status":201`, `"request_id":"req-123"`} {
		if !strings.Contains(out, want) {
			t.Errorf("expected audit line to contain %s, got %s", want, out)
		}
	}
}

func TestAudit_SkipsReads(t *testing.T) {
	var buf bytes.Buffer
	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/api/v1/queues/doctor/x", nil)
	c := e.NewContext(req, httptest.NewRecorder())

	h := Audit(zerolog.New(&buf))(func(c echo.Context) error {
		return c.NoContent(http.StatusOK)
	})
	if err := h(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if buf.Len() != 0 {
		t.Errorf("expected no audit line for GET, got %s", buf.String())
	}
}

func TestMetrics_UsesRouteTemplate(t *testing.T) {
	e := echo.New()
	e.Use(Metrics())
	e.GET("/api/v1/bills/:id", func(c echo.Context) error {
		return c.NoContent(http.StatusNoContent)
	})

	before := testutil.ToFloat64(metrics.HTTPRequests.WithLabelValues(http.MethodGet, "/api/v1/bills/:id", "204"))
	req := httptest.NewRequest(http.MethodGet, "/api/v1/bills/123", nil)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)

	after := testutil.ToFloat64(metrics.HTTPRequests.WithLabelValues(http.MethodGet, "/api/v1/bills/:id", "204"))
	if after-before != 1 {
		t.Errorf("expected counter to increase by 1, got %v", after-before)
	}
}
