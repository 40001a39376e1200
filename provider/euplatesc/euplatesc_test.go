package euplatesc

import (
	"context"
	"errors"
	"net/http"
	"net/url"
	"reflect"
	"testing"

	"github.com/andreiandoo/epas-sub028/infra/config"
	"github.com/andreiandoo/epas-sub028/provider"
)

const testSecret = "00112233445566778899aabbccddeeff"

func testConfig(creds map[string]string) *config.GatewayConfig {
	return &config.GatewayConfig{
		TenantID:    "tenant1",
		Processor:   config.ProcessorEuPlatesc,
		Mode:        config.ModeSandbox,
		Credentials: creds,
	}
}

func configuredProcessor(t *testing.T) *Processor {
	t.Helper()
	p := NewProcessor().(*Processor)
	err := p.Initialize(testConfig(map[string]string{
		"euplatesc_merchant_id": "4484xxxx",
		"euplatesc_secret_key":  testSecret,
	}))
	if err != nil {
		t.Fatalf("Initialize() error = %v", err)
	}
	return p
}

// signedCallback builds a callback body signed the way the gateway signs it.
func signedCallback(p *Processor, fields map[string]string) []byte {
	values := url.Values{}
	for k, v := range fields {
		values.Set(k, v)
	}
	hash := p.sign(
		values.Get("amount"),
		values.Get("curr"),
		values.Get("invoice_id"),
		values.Get("ep_id"),
		values.Get("merch_id"),
		values.Get("action"),
		values.Get("message"),
		values.Get("approval"),
		values.Get("timestamp"),
		values.Get("nonce"),
	)
	values.Set("fp_hash", hash)
	return []byte(values.Encode())
}

func TestInitialize(t *testing.T) {
	tests := []struct {
		name    string
		creds   map[string]string
		wantErr bool
	}{
		{
			name: "valid",
			creds: map[string]string{
				"euplatesc_merchant_id": "4484xxxx",
				"euplatesc_secret_key":  testSecret,
			},
		},
		{
			name:    "missing merchant id",
			creds:   map[string]string{"euplatesc_secret_key": testSecret},
			wantErr: true,
		},
		{
			name:    "missing secret",
			creds:   map[string]string{"euplatesc_merchant_id": "4484xxxx"},
			wantErr: true,
		},
		{
			name: "secret not hex",
			creds: map[string]string{
				"euplatesc_merchant_id": "4484xxxx",
				"euplatesc_secret_key":  "not-hex!!",
			},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := NewProcessor().Initialize(testConfig(tt.creds))
			if (err != nil) != tt.wantErr {
				t.Errorf("Initialize() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestCreatePaymentBuildsSignedForm(t *testing.T) {
	p := configuredProcessor(t)

	result, err := p.CreatePayment(context.Background(), provider.PaymentRequest{
		Amount:     149.99,
		Currency:   "RON",
		OrderID:    "inv-100",
		SuccessURL: "https://shop.example/success",
		CancelURL:  "https://shop.example/cancel",
	})
	if err != nil {
		t.Fatalf("CreatePayment() error = %v", err)
	}

	if result.RedirectURL != gatewayURL {
		t.Errorf("RedirectURL = %q, want %q", result.RedirectURL, gatewayURL)
	}
	if result.HTTPMethod != http.MethodPost {
		t.Errorf("HTTPMethod = %q, want POST", result.HTTPMethod)
	}
	if result.FormFields["amount"] != "149.99" {
		t.Errorf("amount = %q, want 149.99", result.FormFields["amount"])
	}
	if result.FormFields["merch_id"] != "4484xxxx" {
		t.Errorf("merch_id = %q", result.FormFields["merch_id"])
	}
	if result.FormFields["fp_hash"] == "" {
		t.Error("fp_hash is empty")
	}

	// Re-signing the form's own fields must reproduce fp_hash.
	f := result.FormFields
	expected := p.sign(f["amount"], f["curr"], f["invoice_id"], f["order_desc"], f["merch_id"], f["timestamp"], f["nonce"])
	if f["fp_hash"] != expected {
		t.Errorf("fp_hash = %q, want %q", f["fp_hash"], expected)
	}
}

func TestProcessCallbackApproved(t *testing.T) {
	p := configuredProcessor(t)

	payload := signedCallback(p, map[string]string{
		"amount":     "149.99",
		"curr":       "RON",
		"invoice_id": "inv-100",
		"ep_id":      "EP123456",
		"merch_id":   "4484xxxx",
		"action":     "0",
		"message":    "Approved",
		"approval":   "456789",
		"timestamp":  "20260301120000",
		"nonce":      "abc123",
	})

	result, err := p.ProcessCallback(context.Background(), payload, http.Header{})
	if err != nil {
		t.Fatalf("ProcessCallback() error = %v", err)
	}

	if result.Status != provider.StatusSuccess {
		t.Errorf("Status = %v, want success", result.Status)
	}
	if result.Amount != 149.99 {
		t.Errorf("Amount = %v, want 149.99", result.Amount)
	}
	if result.OrderID != "inv-100" {
		t.Errorf("OrderID = %q, want inv-100", result.OrderID)
	}
	if result.TransactionID != "EP123456" {
		t.Errorf("TransactionID = %q, want EP123456", result.TransactionID)
	}
	if result.PaidAt == nil {
		t.Error("PaidAt = nil, want callback timestamp")
	}
}

func TestProcessCallbackDeclined(t *testing.T) {
	p := configuredProcessor(t)

	payload := signedCallback(p, map[string]string{
		"amount":     "50.00",
		"curr":       "RON",
		"invoice_id": "inv-101",
		"ep_id":      "EP9",
		"merch_id":   "4484xxxx",
		"action":     "3",
		"message":    "Insufficient funds",
		"approval":   "",
		"timestamp":  "20260301120000",
		"nonce":      "n1",
	})

	result, err := p.ProcessCallback(context.Background(), payload, http.Header{})
	if err != nil {
		t.Fatalf("ProcessCallback() error = %v", err)
	}
	if result.Status != provider.StatusFailed {
		t.Errorf("Status = %v, want failed", result.Status)
	}
}

func TestProcessCallbackTamperedHash(t *testing.T) {
	p := configuredProcessor(t)

	payload := signedCallback(p, map[string]string{
		"amount":     "50.00",
		"curr":       "RON",
		"invoice_id": "inv-102",
		"ep_id":      "EP10",
		"merch_id":   "4484xxxx",
		"action":     "0",
		"approval":   "111",
		"timestamp":  "20260301120000",
		"nonce":      "n2",
	})

	// Flip the reported amount after signing.
	tampered := []byte(string(payload))
	values, _ := url.ParseQuery(string(tampered))
	values.Set("amount", "1.00")
	tampered = []byte(values.Encode())

	_, err := p.ProcessCallback(context.Background(), tampered, http.Header{})
	var sigErr *provider.SignatureVerificationError
	if !errors.As(err, &sigErr) {
		t.Fatalf("ProcessCallback() error = %v, want *SignatureVerificationError", err)
	}
}

func TestVerifySignatureWithoutSecret(t *testing.T) {
	p := &Processor{merchantID: "4484xxxx"}
	if p.VerifySignature([]byte("amount=1&fp_hash=abc"), http.Header{}) {
		t.Error("VerifySignature() = true without a secret key")
	}
}

func TestProcessCallbackRepeatedDelivery(t *testing.T) {
	p := configuredProcessor(t)

	// No timestamp field: PaidAt must stay unset rather than picking up
	// wall-clock time, so re-deliveries yield identical results.
	payload := signedCallback(p, map[string]string{
		"amount":     "149.99",
		"curr":       "RON",
		"invoice_id": "inv-100",
		"ep_id":      "EP123456",
		"merch_id":   "4484xxxx",
		"action":     "0",
		"message":    "Approved",
		"approval":   "456789",
		"nonce":      "abc123",
	})

	first, err := p.ProcessCallback(context.Background(), payload, http.Header{})
	if err != nil {
		t.Fatalf("ProcessCallback() error = %v", err)
	}
	second, err := p.ProcessCallback(context.Background(), payload, http.Header{})
	if err != nil {
		t.Fatalf("ProcessCallback() second delivery error = %v", err)
	}

	if first.PaidAt != nil {
		t.Errorf("PaidAt = %v, want nil without a callback timestamp", first.PaidAt)
	}
	if !reflect.DeepEqual(first, second) {
		t.Errorf("repeated delivery differs:\nfirst:  %+v\nsecond: %+v", first, second)
	}
}
