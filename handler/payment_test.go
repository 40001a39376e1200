package handler

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"

	"github.com/andreiandoo/epas-sub028/infra/config"
	"github.com/andreiandoo/epas-sub028/infra/response"
	"github.com/andreiandoo/epas-sub028/provider"
)

func newPaymentRouter(store *config.SQLiteStorage) http.Handler {
	h := NewPaymentHandler(store, provider.NewFactory(), nil)
	r := chi.NewRouter()
	r.Post("/v1/payments/{tenantID}", h.CreatePayment)
	r.Get("/v1/payments/{tenantID}/{paymentID}", h.GetPaymentStatus)
	r.Post("/v1/payments/{tenantID}/{paymentID}/refund", h.RefundPayment)
	return r
}

func saveEuPlatesc(t *testing.T, store *config.SQLiteStorage, tenantID string, activate bool) {
	t.Helper()
	if err := store.SaveConfig(&config.GatewayConfig{
		TenantID:  tenantID,
		Processor: config.ProcessorEuPlatesc,
		Mode:      config.ModeSandbox,
		Credentials: map[string]string{
			"euplatesc_merchant_id": "EPTEST",
			"euplatesc_secret_key":  "736563726574",
		},
	}); err != nil {
		t.Fatalf("SaveConfig() error = %v", err)
	}
	if activate {
		if err := store.Activate(tenantID, config.ProcessorEuPlatesc); err != nil {
			t.Fatalf("Activate() error = %v", err)
		}
	}
}

const validPaymentBody = `{
	"amount": 120.5,
	"currency": "ron",
	"orderId": "ord-42",
	"successUrl": "https://shop.example.com/ok",
	"cancelUrl": "https://shop.example.com/cancel",
	"webhookUrl": "https://shop.example.com/hook"
}`

func TestCreatePaymentUnconfiguredTenant(t *testing.T) {
	router := newPaymentRouter(newTestStore(t))

	req := httptest.NewRequest(http.MethodPost, "/v1/payments/ghost", strings.NewReader(validPaymentBody))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404: %s", rec.Code, rec.Body.String())
	}
}

func TestCreatePaymentInvalidBody(t *testing.T) {
	router := newPaymentRouter(newTestStore(t))

	req := httptest.NewRequest(http.MethodPost, "/v1/payments/t1", strings.NewReader("{not json"))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", rec.Code)
	}
}

func TestCreatePaymentValidationError(t *testing.T) {
	store := newTestStore(t)
	saveEuPlatesc(t, store, "t1", true)
	router := newPaymentRouter(store)

	body := `{"amount": 10, "currency": "RON", "orderId": ""}`
	req := httptest.NewRequest(http.MethodPost, "/v1/payments/t1", strings.NewReader(body))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400: %s", rec.Code, rec.Body.String())
	}
}

func TestCreatePaymentRedirectFlow(t *testing.T) {
	store := newTestStore(t)
	saveEuPlatesc(t, store, "t1", true)
	router := newPaymentRouter(store)

	req := httptest.NewRequest(http.MethodPost, "/v1/payments/t1", strings.NewReader(validPaymentBody))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200: %s", rec.Code, rec.Body.String())
	}

	var envelope response.Response
	if err := json.Unmarshal(rec.Body.Bytes(), &envelope); err != nil {
		t.Fatalf("failed to parse envelope: %v", err)
	}
	data, _ := json.Marshal(envelope.Data)
	var result provider.PaymentCreationResult
	if err := json.Unmarshal(data, &result); err != nil {
		t.Fatalf("failed to parse creation result: %v", err)
	}
	if result.RedirectURL == "" {
		t.Error("RedirectURL is empty")
	}
	if result.HTTPMethod != http.MethodPost {
		t.Errorf("HTTPMethod = %q, want POST", result.HTTPMethod)
	}
	if result.FormFields["fp_hash"] == "" {
		t.Error("form is missing fp_hash")
	}
	// Currency must be normalized before it reaches the gateway form.
	if result.FormFields["curr"] != "RON" {
		t.Errorf("curr = %q, want RON", result.FormFields["curr"])
	}
}

func TestCreatePaymentProcessorOverride(t *testing.T) {
	store := newTestStore(t)
	// Saved but never activated: only reachable through the override.
	saveEuPlatesc(t, store, "t1", false)
	router := newPaymentRouter(store)

	req := httptest.NewRequest(http.MethodPost, "/v1/payments/t1?processor=euplatesc", strings.NewReader(validPaymentBody))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Errorf("override status = %d, want 200: %s", rec.Code, rec.Body.String())
	}

	req = httptest.NewRequest(http.MethodPost, "/v1/payments/t1", strings.NewReader(validPaymentBody))
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	if rec.Code != http.StatusNotFound {
		t.Errorf("no active gateway status = %d, want 404", rec.Code)
	}
}

func TestStatusForError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"not found", config.ErrConfigNotFound, http.StatusNotFound},
		{"configuration", &provider.ConfigurationError{Processor: "payu", Field: "payu_secret_key", Reason: "is missing"}, http.StatusUnprocessableEntity},
		{"signature", &provider.SignatureVerificationError{Processor: "payu", Reason: "hash mismatch"}, http.StatusBadRequest},
		{"decryption", &provider.DecryptionError{Processor: "netopia", Tiers: []string{"native"}}, http.StatusBadRequest},
		{"unsupported", &provider.UnsupportedOperationError{Processor: "netopia", Operation: "refund"}, http.StatusNotImplemented},
		{"communication", &provider.GatewayCommunicationError{Processor: "payu", StatusCode: 503}, http.StatusBadGateway},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, _ := statusForError(tt.err)
			if got != tt.want {
				t.Errorf("statusForError(%v) = %d, want %d", tt.err, got, tt.want)
			}
		})
	}
}
