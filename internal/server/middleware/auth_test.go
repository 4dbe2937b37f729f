package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"go.uber.org/zap"
)

func newTestAuth(issuer string) *Auth {
	return NewAuth("test-secret", issuer, zap.NewNop())
}

func protected(t *testing.T, a *Auth) (http.Handler, *string) {
	t.Helper()
	var subject string
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if claims, err := ClaimsFromContext(r.Context()); err == nil {
			subject = claims.Subject
		}
		w.WriteHeader(http.StatusNoContent)
	})
	return a.Handler(next), &subject
}

func TestAuth_ValidToken(t *testing.T) {
	a := newTestAuth("slice-manager")
	token, err := a.Sign("orchestrator", time.Minute)
	if err != nil {
		t.Fatalf("Sign failed: %v", err)
	}

	h, subject := protected(t, a)
	req := httptest.NewRequest(http.MethodPost, "/api/v1/placement", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusNoContent {
		t.Fatalf("Expected 204, got %d: %s", rec.Code, rec.Body.String())
	}
	if *subject != "orchestrator" {
		t.Errorf("Expected subject orchestrator in context, got %q", *subject)
	}
}

func TestAuth_Rejections(t *testing.T) {
	a := newTestAuth("slice-manager")
	expired, _ := a.Sign("orchestrator", -time.Minute)
	otherIssuer, _ := newTestAuth("someone-else").Sign("orchestrator", time.Minute)
	otherSecret, _ := NewAuth("another-secret", "slice-manager", zap.NewNop()).Sign("orchestrator", time.Minute)

	tests := []struct {
		name   string
		header string
	}{
		{"missing header", ""},
		{"not bearer", "Basic dXNlcjpwYXNz"},
		{"garbage", "Bearer not-a-token"},
		{"expired", "Bearer " + expired},
		{"wrong issuer", "Bearer " + otherIssuer},
		{"wrong secret", "Bearer " + otherSecret},
	}

	h, _ := protected(t, a)
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/api/v1/placement", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, req)

			if rec.Code != http.StatusUnauthorized {
				t.Errorf("Expected 401, got %d", rec.Code)
			}
			if rec.Header().Get("WWW-Authenticate") == "" {
				t.Error("Expected a WWW-Authenticate header")
			}
		})
	}
}

func TestAuth_AnyIssuerWhenUnset(t *testing.T) {
	token, _ := newTestAuth("whoever").Sign("orchestrator", time.Minute)

	if _, err := newTestAuth("").Verify(token); err != nil {
		t.Errorf("Expected token to verify without an issuer constraint, got %v", err)
	}
}

func TestAuth_PublicEndpoints(t *testing.T) {
	h, _ := protected(t, newTestAuth(""))

	for _, path := range []string{"/health", "/healthz", "/ready", "/live", "/metrics"} {
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
		if rec.Code != http.StatusNoContent {
			t.Errorf("%s: expected public access, got %d", path, rec.Code)
		}
	}

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodOptions, "/api/v1/placement", nil))
	if rec.Code != http.StatusNoContent {
		t.Errorf("Expected preflight to pass, got %d", rec.Code)
	}
}
