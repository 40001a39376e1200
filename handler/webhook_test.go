package handler

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"path/filepath"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"

	"github.com/andreiandoo/epas-sub028/infra/config"
	"github.com/andreiandoo/epas-sub028/infra/response"
	"github.com/andreiandoo/epas-sub028/provider"

	_ "github.com/andreiandoo/epas-sub028/provider/euplatesc"
	_ "github.com/andreiandoo/epas-sub028/provider/payu"
)

func newTestStore(t *testing.T) *config.SQLiteStorage {
	t.Helper()
	store, err := config.NewSQLiteStorage(filepath.Join(t.TempDir(), "config.db"))
	if err != nil {
		t.Fatalf("NewSQLiteStorage() error = %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

func newWebhookRouter(store *config.SQLiteStorage) http.Handler {
	h := NewWebhookHandler(store, provider.NewFactory(), nil)
	r := chi.NewRouter()
	r.Post("/v1/webhooks/{tenantID}/{processor}", h.Handle)
	return r
}

// euplatescSign reproduces the gateway's fp_hash for test callbacks.
func euplatescSign(secret string, values ...string) string {
	chain := provider.LenValueChain(values...)
	return strings.ToLower(provider.HMACMD5Hex([]byte(chain), []byte(secret)))
}

func euplatescCallback(secret string, approved bool) string {
	action, approval, message := "0", "123456", "Approved"
	if !approved {
		action, approval, message = "1", "", "Declined"
	}
	form := url.Values{}
	form.Set("amount", "99.50")
	form.Set("curr", "RON")
	form.Set("invoice_id", "ord-9")
	form.Set("ep_id", "EP123")
	form.Set("merch_id", "EPTEST")
	form.Set("action", action)
	form.Set("message", message)
	form.Set("approval", approval)
	form.Set("timestamp", "20260301120000")
	form.Set("nonce", "abcdef0123456789")
	form.Set("fp_hash", euplatescSign(secret,
		form.Get("amount"), form.Get("curr"), form.Get("invoice_id"),
		form.Get("ep_id"), form.Get("merch_id"), form.Get("action"),
		form.Get("message"), form.Get("approval"), form.Get("timestamp"),
		form.Get("nonce")))
	return form.Encode()
}

func TestWebhookDeliversNormalizedResult(t *testing.T) {
	store := newTestStore(t)
	// 736563726574 is hex for "secret"
	if err := store.SaveConfig(&config.GatewayConfig{
		TenantID:  "t1",
		Processor: config.ProcessorEuPlatesc,
		Mode:      config.ModeSandbox,
		Credentials: map[string]string{
			"euplatesc_merchant_id": "EPTEST",
			"euplatesc_secret_key":  "736563726574",
		},
	}); err != nil {
		t.Fatalf("SaveConfig() error = %v", err)
	}

	router := newWebhookRouter(store)
	body := euplatescCallback("secret", true)
	req := httptest.NewRequest(http.MethodPost, "/v1/webhooks/t1/euplatesc", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
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
	var result provider.CallbackResult
	if err := json.Unmarshal(data, &result); err != nil {
		t.Fatalf("failed to parse callback result: %v", err)
	}
	if result.Status != provider.StatusSuccess {
		t.Errorf("Status = %v, want success", result.Status)
	}
	if result.OrderID != "ord-9" {
		t.Errorf("OrderID = %q, want ord-9", result.OrderID)
	}
}

func TestWebhookRejectionIsGeneric(t *testing.T) {
	store := newTestStore(t)
	if err := store.SaveConfig(&config.GatewayConfig{
		TenantID:  "t1",
		Processor: config.ProcessorEuPlatesc,
		Mode:      config.ModeSandbox,
		Credentials: map[string]string{
			"euplatesc_merchant_id": "EPTEST",
			"euplatesc_secret_key":  "736563726574",
		},
	}); err != nil {
		t.Fatalf("SaveConfig() error = %v", err)
	}

	router := newWebhookRouter(store)
	tampered := strings.Replace(euplatescCallback("secret", true), "99.50", "1.00", 1)
	req := httptest.NewRequest(http.MethodPost, "/v1/webhooks/t1/euplatesc", strings.NewReader(tampered))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
	body := rec.Body.String()
	if strings.Contains(body, "fp_hash") || strings.Contains(body, "mismatch") {
		t.Errorf("rejection leaks verification details: %s", body)
	}
	if !strings.Contains(body, "Webhook rejected") {
		t.Errorf("rejection is not generic: %s", body)
	}
}

func TestWebhookUnknownTenant(t *testing.T) {
	router := newWebhookRouter(newTestStore(t))

	req := httptest.NewRequest(http.MethodPost, "/v1/webhooks/ghost/euplatesc", strings.NewReader("a=b"))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", rec.Code)
	}
}

func TestWebhookPayUAcknowledgement(t *testing.T) {
	store := newTestStore(t)
	if err := store.SaveConfig(&config.GatewayConfig{
		TenantID:  "t1",
		Processor: config.ProcessorPayU,
		Mode:      config.ModeSandbox,
		Credentials: map[string]string{
			"payu_merchant_id": "MERCHANT1",
			"payu_secret_key":  "secret-key",
		},
	}); err != nil {
		t.Fatalf("SaveConfig() error = %v", err)
	}

	// Valid IPN signed the way PayU signs: HMAC-MD5 over the len+value
	// chain of every field in wire order.
	pairs := [][2]string{
		{"REFNO", "777"},
		{"REFNOEXT", "ord-3"},
		{"ORDERSTATUS", "COMPLETE"},
		{"IPN_TOTALGENERAL", "10.00"},
		{"CURRENCY", "RON"},
	}
	var chain []string
	var parts []string
	for _, kv := range pairs {
		chain = append(chain, kv[1])
		parts = append(parts, kv[0]+"="+kv[1])
	}
	hash := strings.ToLower(provider.HMACMD5Hex([]byte(provider.LenValueChain(chain...)), []byte("secret-key")))
	body := strings.Join(append(parts, "HASH="+hash), "&")

	router := newWebhookRouter(store)
	req := httptest.NewRequest(http.MethodPost, "/v1/webhooks/t1/payu", strings.NewReader(body))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200: %s", rec.Code, rec.Body.String())
	}
	if !strings.HasPrefix(rec.Body.String(), "<EPAYMENT>") {
		t.Errorf("PayU acknowledgement body = %q, want <EPAYMENT> envelope", rec.Body.String())
	}
}
