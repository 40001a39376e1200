package router

import (
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"github.com/andreiandoo/epas-sub028/infra/config"

	_ "github.com/andreiandoo/epas-sub028/provider/euplatesc"
	_ "github.com/andreiandoo/epas-sub028/provider/stripe"
)

func newRouter(t *testing.T) http.Handler {
	t.Helper()
	store, err := config.NewSQLiteStorage(filepath.Join(t.TempDir(), "config.db"))
	if err != nil {
		t.Fatalf("NewSQLiteStorage() error = %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return New(store, nil)
}

func TestHealthEndpoint(t *testing.T) {
	router := newRouter(t)

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "healthy") {
		t.Errorf("body = %q, want healthy status", rec.Body.String())
	}
	if rec.Header().Get("X-Request-ID") == "" {
		t.Error("X-Request-ID header not set")
	}
}

func TestRouteWiring(t *testing.T) {
	router := newRouter(t)

	tests := []struct {
		method string
		path   string
		want   int
	}{
		{http.MethodGet, "/v1/config/processors", http.StatusOK},
		{http.MethodPost, "/v1/payments/t1", http.StatusBadRequest},
		{http.MethodGet, "/v1/payments/t1/p1", http.StatusNotFound},
		{http.MethodPost, "/v1/webhooks/t1/euplatesc", http.StatusNotFound},
		{http.MethodPut, "/v1/config/t1/bitcoins", http.StatusBadRequest},
		{http.MethodGet, "/nope", http.StatusNotFound},
	}
	for _, tt := range tests {
		req := httptest.NewRequest(tt.method, tt.path, strings.NewReader("{}"))
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, req)
		if rec.Code != tt.want {
			t.Errorf("%s %s = %d, want %d", tt.method, tt.path, rec.Code, tt.want)
		}
	}
}

func TestErrorEnvelope(t *testing.T) {
	// Validation failures come back through the standard envelope.
	router := newRouter(t)

	req := httptest.NewRequest(http.MethodPost, "/v1/payments/t1", strings.NewReader(`{"amount": -1}`))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), `"success":false`) {
		t.Errorf("body = %q, want error envelope", rec.Body.String())
	}
}
