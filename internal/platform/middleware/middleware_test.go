package middleware

import (
	"bytes"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/ehr/rxledger/internal/platform/auth"
)

func ok(c echo.Context) error { return c.String(http.StatusOK, "ok") }

func TestRequestID_GeneratesNew(t *testing.T) {
	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	handler := func(c echo.Context) error {
		if requestID(c) == "" {
			t.Error("expected request_id to be generated")
		}
		return ok(c)
	}

	if err := RequestID()(handler)(c); err != nil {
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

	RequestID()(ok)(c)

	if got := rec.Header().Get(RequestIDHeader); got != "my-custom-id" {
		t.Errorf("expected my-custom-id in response header, got %s", got)
	}
}

func TestLogger_LogsRequest(t *testing.T) {
	var buf bytes.Buffer
	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/api/v1/medicines", nil)
	req = req.WithContext(auth.WithIdentity(req.Context(), "user-1", "Ana", []string{auth.RoleDoctor}))
	c := e.NewContext(req, httptest.NewRecorder())
	c.Set("request_id", "req-1")

	if err := Logger(zerolog.New(&buf))(ok)(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	out := buf.String()
	for _, want := range []string{`"request_id":"req-1"`, `"user_id":"user-1"`, `"status":200`, `"path":"/api/v1/medicines"`} {
		if !strings.Contains(out, want) {
			t.Errorf("expected %s in %s", want, out)
		}
	}
}

func TestLogger_LogsHTTPErrorStatus(t *testing.T) {
	var buf bytes.Buffer
	e := echo.New()
	c := e.NewContext(httptest.NewRequest(http.MethodGet, "/", nil), httptest.NewRecorder())

	handler := func(echo.Context) error { return echo.NewHTTPError(http.StatusConflict, "nope") }
	if err := Logger(zerolog.New(&buf))(handler)(c); err == nil {
		t.Fatal("expected the handler error to be returned")
	}
	if !strings.Contains(buf.String(), `"status":409`) || !strings.Contains(buf.String(), `"level":"error"`) {
		t.Errorf("unexpected log line: %s", buf.String())
	}
}

func TestRecovery_CatchesPanic(t *testing.T) {
	var buf bytes.Buffer
	e := echo.New()
	c := e.NewContext(httptest.NewRequest(http.MethodGet, "/panic", nil), httptest.NewRecorder())
	c.Set("request_id", "req-9")

	handler := func(c echo.Context) error {
		panic("test panic")
	}

	err := Recovery(zerolog.New(&buf))(handler)(c)
	var httpErr *echo.HTTPError
	if !errors.As(err, &httpErr) || httpErr.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %v", err)
	}
	if !strings.Contains(buf.String(), "test panic") || !strings.Contains(buf.String(), "req-9") {
		t.Errorf("expected panic to be logged, got %s", buf.String())
	}
}

func TestRecovery_PassesThrough(t *testing.T) {
	e := echo.New()
	c := e.NewContext(httptest.NewRequest(http.MethodGet, "/ok", nil), httptest.NewRecorder())
	if err := Recovery(zerolog.Nop())(ok)(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestAudit_RecordsLedgerAccess(t *testing.T) {
	var buf bytes.Buffer
	var got []AuditEntry
	recorder := AuditRecorderFunc(func(entry AuditEntry) error {
		got = append(got, entry)
		return nil
	})

	e := echo.New()
	id := "6f1c0d2e-3f4a-4b5c-8d9e-0a1b2c3d4e5f"
	req := httptest.NewRequest(http.MethodPut, "/api/v1/prescriptions/"+id+"/status", nil)
	req = req.WithContext(auth.WithIdentity(req.Context(), "pharm-1", "Rina", []string{auth.RolePharmacist}))
	c := e.NewContext(req, httptest.NewRecorder())
	c.Set("request_id", "req-123")

	if err := Audit(zerolog.New(&buf), recorder)(ok)(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("expected one entry, got %d", len(got))
	}
	entry := got[0]
	if entry.Resource != "prescriptions" || entry.ResourceID != id || entry.Action != "update" {
		t.Errorf("unexpected entry: %+v", entry)
	}
	if entry.UserID != "pharm-1" || entry.RequestID != "req-123" || entry.StatusCode != http.StatusOK {
		t.Errorf("unexpected entry: %+v", entry)
	}
	if !strings.Contains(buf.String(), "ledger_access") {
		t.Error("expected an audit log line")
	}
}

func TestAudit_PatientFromPathOrQuery(t *testing.T) {
	patient := "0b7e8a5c-1d2f-4e3a-9b8c-7d6e5f4a3b2c"
	tests := []struct {
		target string
		want   string
	}{
		{"/api/v1/patients/" + patient + "/invoices", patient},
		{"/api/v1/prescriptions?patient_id=" + patient, patient},
		{"/api/v1/prescriptions?patient_id=garbage", ""},
		{"/api/v1/medicines", ""},
	}
	e := echo.New()
	for _, tt := range tests {
		var entry AuditEntry
		rec := AuditRecorderFunc(func(a AuditEntry) error { entry = a; return nil })
		c := e.NewContext(httptest.NewRequest(http.MethodGet, tt.target, nil), httptest.NewRecorder())
		Audit(zerolog.Nop(), rec)(ok)(c)
		if entry.PatientID != tt.want {
			t.Errorf("%s: got patient %q, want %q", tt.target, entry.PatientID, tt.want)
		}
	}
}

func TestAudit_SkipsNonAPIAndSurvivesRecorderErrors(t *testing.T) {
	calls := 0
	failing := AuditRecorderFunc(func(AuditEntry) error {
		calls++
		return errors.New("disk full")
	})
	e := echo.New()

	c := e.NewContext(httptest.NewRequest(http.MethodGet, "/health", nil), httptest.NewRecorder())
	Audit(zerolog.Nop(), failing)(ok)(c)
	if calls != 0 {
		t.Error("health checks must not be audited")
	}

	var buf bytes.Buffer
	c = e.NewContext(httptest.NewRequest(http.MethodDelete, "/api/v1/prescriptions/x", nil), httptest.NewRecorder())
	if err := Audit(zerolog.New(&buf), failing)(ok)(c); err != nil {
		t.Fatalf("recorder errors must not fail the request: %v", err)
	}
	if calls != 1 || !strings.Contains(buf.String(), "failed to record audit entry") {
		t.Errorf("expected recorder failure to be logged, got %s", buf.String())
	}
}

func TestSecurityHeaders(t *testing.T) {
	e := echo.New()
	rec := httptest.NewRecorder()
	c := e.NewContext(httptest.NewRequest(http.MethodGet, "/api/v1/prescriptions", nil), rec)

	if err := SecurityHeaders()(ok)(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	expected := map[string]string{
		"X-Content-Type-Options":    "nosniff",
		"X-Frame-Options":           "DENY",
		"Content-Security-Policy":   "default-src 'none'; frame-ancestors 'none'",
		"Strict-Transport-Security": "max-age=31536000; includeSubDomains",
		"Referrer-Policy":           "no-referrer",
		"Cache-Control":             "no-store",
	}
	for header, want := range expected {
		if got := rec.Header().Get(header); got != want {
			t.Errorf("header %s: got %q, want %q", header, got, want)
		}
	}
	if rec.Code != http.StatusOK {
		t.Errorf("expected 200, got %d", rec.Code)
	}
}
