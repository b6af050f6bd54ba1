package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/labstack/echo/v4"
)

var testSigningKey = []byte("test-secret-key-for-unit-tests-only")

func createTestToken(t *testing.T, claims Claims, key []byte) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	tokenStr, err := token.SignedString(key)
	if err != nil {
		t.Fatalf("failed to sign test token: %v", err)
	}
	return tokenStr
}

func runJWT(t *testing.T, cfg JWTConfig, header string, handler echo.HandlerFunc) error {
	t.Helper()
	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	if header != "" {
		req.Header.Set("Authorization", header)
	}
	c := e.NewContext(req, httptest.NewRecorder())
	return JWTMiddleware(cfg)(handler)(c)
}

func okHandler(c echo.Context) error { return c.String(http.StatusOK, "ok") }

func expectStatus(t *testing.T, err error, code int) {
	t.Helper()
	if err == nil {
		t.Fatalf("expected HTTP %d, got nil error", code)
	}
	httpErr, ok := err.(*echo.HTTPError)
	if !ok {
		t.Fatalf("expected echo.HTTPError, got %T", err)
	}
	if httpErr.Code != code {
		t.Errorf("expected %d, got %d", code, httpErr.Code)
	}
}

func TestJWTMiddleware_MissingHeader(t *testing.T) {
	err := runJWT(t, JWTConfig{SigningKey: testSigningKey}, "", okHandler)
	expectStatus(t, err, http.StatusUnauthorized)
}

func TestJWTMiddleware_InvalidFormat(t *testing.T) {
	tests := []struct {
		name   string
		header string
	}{
		{"no bearer prefix", "Token abc123"},
		{"missing token", "Bearer"},
		{"empty value", "Bearer "},
		{"basic auth", "Basic dXNlcjpwYXNz"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := runJWT(t, JWTConfig{SigningKey: testSigningKey}, tt.header, okHandler)
			expectStatus(t, err, http.StatusUnauthorized)
		})
	}
}

func TestJWTMiddleware_ClaimsExtraction(t *testing.T) {
	tokenStr := createTestToken(t, Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   "0b6d8f2a-1c3e-4a5b-9d7f-2e4c6a8b0d1f",
			Issuer:    "rx-ledger",
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
		},
		Name:  "Dr. Ana Lima",
		Roles: []string{RoleDoctor, RoleBilling},
	}, testSigningKey)

	called := false
	err := runJWT(t, JWTConfig{SigningKey: testSigningKey, Issuer: "rx-ledger"}, "Bearer "+tokenStr, func(c echo.Context) error {
		called = true
		ctx := c.Request().Context()
		if uid := UserIDFromContext(ctx); uid != "0b6d8f2a-1c3e-4a5b-9d7f-2e4c6a8b0d1f" {
			t.Errorf("unexpected user id %s", uid)
		}
		if name := UserNameFromContext(ctx); name != "Dr. Ana Lima" {
			t.Errorf("unexpected name %s", name)
		}
		roles := RolesFromContext(ctx)
		if len(roles) != 2 || roles[0] != RoleDoctor || roles[1] != RoleBilling {
			t.Errorf("unexpected roles %v", roles)
		}
		return c.String(http.StatusOK, "ok")
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !called {
		t.Error("handler was not called")
	}
}

func TestJWTMiddleware_Rejections(t *testing.T) {
	valid := jwt.RegisteredClaims{
		Subject:   "user-1",
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
	}
	expired := jwt.RegisteredClaims{
		Subject:   "user-1",
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(-time.Hour)),
	}
	wrongIssuer := valid
	wrongIssuer.Issuer = "someone-else"

	tests := []struct {
		name  string
		token string
		cfg   JWTConfig
	}{
		{"expired", createTestToken(t, Claims{RegisteredClaims: expired}, testSigningKey), JWTConfig{SigningKey: testSigningKey}},
		{"wrong key", createTestToken(t, Claims{RegisteredClaims: valid}, []byte("other-key")), JWTConfig{SigningKey: testSigningKey}},
		{"wrong issuer", createTestToken(t, Claims{RegisteredClaims: wrongIssuer}, testSigningKey), JWTConfig{SigningKey: testSigningKey, Issuer: "rx-ledger"}},
		{"missing audience", createTestToken(t, Claims{RegisteredClaims: valid}, testSigningKey), JWTConfig{SigningKey: testSigningKey, Audience: "rx-api"}},
		{"garbage", "not.a.token", JWTConfig{SigningKey: testSigningKey}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := runJWT(t, tt.cfg, "Bearer "+tt.token, okHandler)
			expectStatus(t, err, http.StatusUnauthorized)
		})
	}
}

func TestDevAuthMiddleware_Defaults(t *testing.T) {
	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	c := e.NewContext(req, httptest.NewRecorder())

	err := DevAuthMiddleware()(func(c echo.Context) error {
		ctx := c.Request().Context()
		if uid := UserIDFromContext(ctx); uid != "dev-user" {
			t.Errorf("expected dev-user, got %s", uid)
		}
		roles := RolesFromContext(ctx)
		if len(roles) != 1 || roles[0] != RoleAdmin {
			t.Errorf("expected [admin], got %v", roles)
		}
		return nil
	})(c)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestDevAuthMiddleware_HeaderOverrides(t *testing.T) {
	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("X-User-ID", "pharm-7")
	req.Header.Set("X-User-Name", "Rina")
	req.Header.Set("X-User-Roles", "pharmacist,billing")
	c := e.NewContext(req, httptest.NewRecorder())

	err := DevAuthMiddleware()(func(c echo.Context) error {
		ctx := c.Request().Context()
		if UserIDFromContext(ctx) != "pharm-7" || UserNameFromContext(ctx) != "Rina" {
			t.Errorf("unexpected identity %s/%s", UserIDFromContext(ctx), UserNameFromContext(ctx))
		}
		roles := RolesFromContext(ctx)
		if len(roles) != 2 || roles[0] != RolePharmacist {
			t.Errorf("unexpected roles %v", roles)
		}
		return nil
	})(c)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}
