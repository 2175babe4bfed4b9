package main

import (
	"bytes"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/clinicmanager/clinic/internal/config"
	"github.com/clinicmanager/clinic/internal/domain/queue"
	"github.com/clinicmanager/clinic/internal/platform/auth"
	"github.com/clinicmanager/clinic/internal/platform/db"
)

const testSigningKey = "0123456789abcdef0123456789abcdef"

func testConfig(env string) *config.Config {
	return &config.Config{
		Env:                  env,
		AuthSigningKey:       testSigningKey,
		CORSOrigins:          []string{"http://localhost:3000"},
		RateLimitRPS:         1000,
		RateLimitBurst:       1000,
		RequestTimeout:       5 * time.Second,
		BodyLimit:            "1M",
		PaystackTimeout:      time.Second,
		NotifyRecipient:      "admin",
		DefaultStockLocation: "Main Store",
		VAPIDSubject:         "mailto:ops@example.com",
		MetricsEnabled:       true,
	}
}

func testServer(cfg *config.Config) http.Handler {
	logger := zerolog.Nop()
	return buildServer(cfg, nil, newApp(cfg, nil, logger), logger)
}

func TestRootCmd_Subcommands(t *testing.T) {
	want := []string{
		"serve",
		"migrate up",
		"migrate status",
		"clinic create",
		"stock export",
		"queue audit",
		"vapid generate",
		"token issue",
	}
	root := rootCmd()
	for _, path := range want {
		cmd, _, err := root.Find(strings.Fields(path))
		if err != nil || cmd == root {
			t.Errorf("missing command %q", path)
		}
	}
}

func TestParseRoles(t *testing.T) {
	roles, err := parseRoles(" Nurse, lab ,,")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(roles) != 2 || roles[0] != auth.RoleNurse || roles[1] != auth.RoleLab {
		t.Errorf("unexpected roles %v", roles)
	}
	if _, err := parseRoles("janitor"); err == nil {
		t.Error("expected error for unknown role")
	}
	if _, err := parseRoles(" , "); err == nil {
		t.Error("expected error for empty role list")
	}
}

func TestPrintAudit(t *testing.T) {
	var buf bytes.Buffer
	if err := printAudit(&buf, queue.PositionReport{Count: 3, MaxPosition: 3}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.Contains(buf.String(), "positions OK") {
		t.Errorf("unexpected output %q", buf.String())
	}

	buf.Reset()
	err := printAudit(&buf, queue.PositionReport{Count: 3, MaxPosition: 4, Duplicates: []int{2}, Gaps: []int{3}})
	if err == nil {
		t.Fatal("expected error for inconsistent positions")
	}
	if !strings.Contains(buf.String(), "duplicates: [2]") || !strings.Contains(buf.String(), "gaps: [3]") {
		t.Errorf("unexpected output %q", buf.String())
	}
}

func TestPrintMigrationStatus(t *testing.T) {
	at := time.Date(2024, 5, 1, 9, 30, 0, 0, time.UTC)
	var buf bytes.Buffer
	printMigrationStatus(&buf, []db.MigrationStatus{
		{Version: 1, Name: "core", Applied: true, AppliedAt: &at},
		{Version: 2, Name: "billing"},
	})
	out := buf.String()
	if !strings.Contains(out, "2024-05-01 09:30:00") {
		t.Errorf("expected applied timestamp in %q", out)
	}
	if !strings.Contains(out, "pending") {
		t.Errorf("expected pending migration in %q", out)
	}
}

func TestBuildServer_Routes(t *testing.T) {
	logger := zerolog.Nop()
	cfg := testConfig("development")
	e := buildServer(cfg, nil, newApp(cfg, nil, logger), logger)

	want := []string{
		"GET /health",
		"GET /health/db",
		"GET /metrics",
		"GET /api/v1/billing/paystack/callback",
		"POST /api/v1/billing/paystack/webhook",
		"POST /api/v1/clinics",
		"POST /api/v1/queues",
		"POST /api/v1/bills",
		"POST /api/v1/inventory/consume",
		"POST /api/v1/specialists/tasks",
		"POST /api/v1/consultations/:id/prescriptions",
		"POST /api/v1/prescriptions/:id/dispense",
		"POST /api/v1/consultations/:id/lab-results",
		"GET /api/v1/lab/dashboard",
		"POST /api/v1/save-subscription",
		"GET /api/v1/chat/rooms",
		"GET /api/v1/ws",
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

func TestBuildServer_Health(t *testing.T) {
	srv := testServer(testConfig("production"))
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if rec.Header().Get("X-Content-Type-Options") != "nosniff" {
		t.Error("expected security headers on every response")
	}
}

func TestBuildServer_ProductionRequiresToken(t *testing.T) {
	srv := testServer(testConfig("production"))
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/bills", nil))
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}
}

func TestBuildServer_TokenRolesEnforced(t *testing.T) {
	cfg := testConfig("production")
	srv := testServer(cfg)
	token, err := auth.IssueToken(jwtConfig(cfg), "lab-1", uuid.NewString(), []string{auth.RoleLab}, time.Hour)
	if err != nil {
		t.Fatalf("issue token: %v", err)
	}

	req := httptest.NewRequest(http.MethodGet, "/api/v1/bills", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, req)
	if rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403 for a lab token on billing, got %d", rec.Code)
	}
}

func TestBuildServer_DevRequiresClinic(t *testing.T) {
	srv := testServer(testConfig("development"))
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/bills", nil))
	if rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403 without a clinic, got %d", rec.Code)
	}

	req := httptest.NewRequest(http.MethodGet, "/api/v1/bills", nil)
	req.Header.Set(db.ClinicHeader, "not-a-uuid")
	rec = httptest.NewRecorder()
	srv.ServeHTTP(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for a malformed clinic id, got %d", rec.Code)
	}
}
