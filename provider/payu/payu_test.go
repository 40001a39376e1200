package payu

import (
	"context"
	"errors"
	"net/http"
	"net/url"
	"reflect"
	"strings"
	"testing"
	"time"

	"github.com/andreiandoo/epas-sub028/infra/config"
	"github.com/andreiandoo/epas-sub028/provider"
)

func testConfig(creds map[string]string) *config.GatewayConfig {
	return &config.GatewayConfig{
		TenantID:    "tenant1",
		Processor:   config.ProcessorPayU,
		Mode:        config.ModeSandbox,
		Credentials: creds,
	}
}

func configuredProcessor(t *testing.T) *Processor {
	t.Helper()
	p := NewProcessor().(*Processor)
	err := p.Initialize(testConfig(map[string]string{
		"payu_merchant_id": "MERCHANT1",
		"payu_secret_key":  "secret-key",
	}))
	if err != nil {
		t.Fatalf("Initialize() error = %v", err)
	}
	return p
}

// signedIPN builds an IPN body with a valid HASH over the fields in order.
func signedIPN(p *Processor, pairs [][2]string) []byte {
	var chain []string
	var parts []string
	for _, kv := range pairs {
		chain = append(chain, kv[1])
		parts = append(parts, url.QueryEscape(kv[0])+"="+url.QueryEscape(kv[1]))
	}
	parts = append(parts, "HASH="+p.sign(chain...))
	return []byte(strings.Join(parts, "&"))
}

func TestInitializeMissingCredentials(t *testing.T) {
	err := NewProcessor().Initialize(testConfig(map[string]string{"payu_secret_key": "s"}))
	var cfgErr *provider.ConfigurationError
	if !errors.As(err, &cfgErr) || cfgErr.Field != "payu_merchant_id" {
		t.Fatalf("Initialize() error = %v, want ConfigurationError for payu_merchant_id", err)
	}

	err = NewProcessor().Initialize(testConfig(map[string]string{"payu_merchant_id": "m"}))
	if !errors.As(err, &cfgErr) || cfgErr.Field != "payu_secret_key" {
		t.Fatalf("Initialize() error = %v, want ConfigurationError for payu_secret_key", err)
	}
}

func TestCreatePaymentBuildsSignedForm(t *testing.T) {
	p := configuredProcessor(t)

	result, err := p.CreatePayment(context.Background(), provider.PaymentRequest{
		Amount:     75.50,
		Currency:   "RON",
		OrderID:    "ord-55",
		SuccessURL: "https://shop.example/back",
		CancelURL:  "https://shop.example/cancel",
	})
	if err != nil {
		t.Fatalf("CreatePayment() error = %v", err)
	}

	if result.RedirectURL != sandboxLiveUpdateURL {
		t.Errorf("RedirectURL = %q, want sandbox LiveUpdate URL", result.RedirectURL)
	}
	if result.HTTPMethod != http.MethodPost {
		t.Errorf("HTTPMethod = %q, want POST", result.HTTPMethod)
	}
	if result.FormFields["ORDER_PRICE[0]"] != "75.50" {
		t.Errorf("ORDER_PRICE[0] = %q, want 75.50", result.FormFields["ORDER_PRICE[0]"])
	}

	// Recomputing the chain over the form's own fields must match ORDER_HASH.
	f := result.FormFields
	var chain []string
	for _, name := range luFieldOrder {
		chain = append(chain, f[name])
	}
	if f["ORDER_HASH"] != p.sign(chain...) {
		t.Errorf("ORDER_HASH = %q does not match the field chain", f["ORDER_HASH"])
	}
}

func TestProcessCallbackCancelled(t *testing.T) {
	p := configuredProcessor(t)

	payload := signedIPN(p, [][2]string{
		{"SALEDATE", "2026-03-01 10:00:00"},
		{"REFNO", "12345678"},
		{"REFNOEXT", "ord-55"},
		{"ORDERSTATUS", "CANCELED"},
		{"IPN_TOTALGENERAL", "75.50"},
		{"CURRENCY", "RON"},
	})

	result, err := p.ProcessCallback(context.Background(), payload, http.Header{})
	if err != nil {
		t.Fatalf("ProcessCallback() error = %v", err)
	}
	if result.Status != provider.StatusCancelled {
		t.Errorf("Status = %v, want cancelled", result.Status)
	}
	if result.OrderID != "ord-55" {
		t.Errorf("OrderID = %q, want ord-55", result.OrderID)
	}
	if result.TransactionID != "12345678" {
		t.Errorf("TransactionID = %q, want 12345678", result.TransactionID)
	}
}

func TestProcessCallbackStatuses(t *testing.T) {
	p := configuredProcessor(t)

	tests := []struct {
		orderStatus string
		want        provider.Status
	}{
		{"PAYMENT_AUTHORIZED", provider.StatusSuccess},
		{"PAYMENT_RECEIVED", provider.StatusSuccess},
		{"COMPLETE", provider.StatusSuccess},
		{"CANCELED", provider.StatusCancelled},
		{"VOIDED", provider.StatusCancelled},
		{"REFUND", provider.StatusRefunded},
		{"WAITING_PAYMENT", provider.StatusPending},
		{"FRAUD", provider.StatusFailed},
	}

	for _, tt := range tests {
		payload := signedIPN(p, [][2]string{
			{"REFNO", "1"},
			{"REFNOEXT", "ord-1"},
			{"ORDERSTATUS", tt.orderStatus},
			{"IPN_TOTALGENERAL", "10.00"},
			{"CURRENCY", "RON"},
		})
		result, err := p.ProcessCallback(context.Background(), payload, http.Header{})
		if err != nil {
			t.Fatalf("ProcessCallback(%s) error = %v", tt.orderStatus, err)
		}
		if result.Status != tt.want {
			t.Errorf("ORDERSTATUS=%s -> %v, want %v", tt.orderStatus, result.Status, tt.want)
		}
	}
}

func TestProcessCallbackTamperedHash(t *testing.T) {
	p := configuredProcessor(t)

	payload := signedIPN(p, [][2]string{
		{"REFNO", "1"},
		{"ORDERSTATUS", "COMPLETE"},
		{"IPN_TOTALGENERAL", "10.00"},
	})
	tampered := strings.Replace(string(payload), "10.00", "99.00", 1)

	_, err := p.ProcessCallback(context.Background(), []byte(tampered), http.Header{})
	var sigErr *provider.SignatureVerificationError
	if !errors.As(err, &sigErr) {
		t.Fatalf("ProcessCallback() error = %v, want *SignatureVerificationError", err)
	}
}

func TestVerifySignatureWithoutSecret(t *testing.T) {
	p := &Processor{merchantID: "MERCHANT1"}
	if p.VerifySignature([]byte("REFNO=1&HASH=abc"), http.Header{}) {
		t.Error("VerifySignature() = true without a secret key")
	}
}

func TestVerifySignatureMissingHash(t *testing.T) {
	p := configuredProcessor(t)
	if p.VerifySignature([]byte("REFNO=1&ORDERSTATUS=COMPLETE"), http.Header{}) {
		t.Error("VerifySignature() = true with no HASH field")
	}
}

func TestIPNResponse(t *testing.T) {
	p := configuredProcessor(t)
	when := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	resp := p.IPNResponse(when)
	if !strings.HasPrefix(resp, "<EPAYMENT>20260301120000|") || !strings.HasSuffix(resp, "</EPAYMENT>") {
		t.Errorf("IPNResponse() = %q, want <EPAYMENT>date|hash</EPAYMENT>", resp)
	}
}

func TestRefundRequiresAmount(t *testing.T) {
	p := configuredProcessor(t)
	_, err := p.RefundPayment(context.Background(), provider.RefundRequest{PaymentID: "1"})
	if err == nil {
		t.Fatal("RefundPayment() accepted a zero amount")
	}
}

func TestExtractXMLValue(t *testing.T) {
	body := "<Order><REFNO>99</REFNO><STATUS> COMPLETE </STATUS></Order>"
	if got := extractXMLValue(body, "STATUS"); got != "COMPLETE" {
		t.Errorf("extractXMLValue(STATUS) = %q, want COMPLETE", got)
	}
	if got := extractXMLValue(body, "MISSING"); got != "" {
		t.Errorf("extractXMLValue(MISSING) = %q, want empty", got)
	}
}

func TestProcessCallbackRepeatedDelivery(t *testing.T) {
	p := configuredProcessor(t)
	// No date fields in the notification: PaidAt must stay unset instead
	// of picking up wall-clock time.
	payload := signedIPN(p, [][2]string{
		{"REFNO", "12345678"},
		{"REFNOEXT", "ord-55"},
		{"ORDERSTATUS", "COMPLETE"},
		{"IPN_TOTALGENERAL", "75.50"},
		{"CURRENCY", "RON"},
	})

	first, err := p.ProcessCallback(context.Background(), payload, http.Header{})
	if err != nil {
		t.Fatalf("ProcessCallback() error = %v", err)
	}
	time.Sleep(10 * time.Millisecond)
	second, err := p.ProcessCallback(context.Background(), payload, http.Header{})
	if err != nil {
		t.Fatalf("ProcessCallback() second delivery error = %v", err)
	}

	if first.PaidAt != nil {
		t.Errorf("PaidAt = %v, want nil when the notification carries no date", first.PaidAt)
	}
	if !reflect.DeepEqual(first, second) {
		t.Errorf("repeated delivery differs:\nfirst:  %+v\nsecond: %+v", first, second)
	}
}

func TestProcessCallbackParsesCompleteDate(t *testing.T) {
	p := configuredProcessor(t)
	payload := signedIPN(p, [][2]string{
		{"REFNO", "12345678"},
		{"REFNOEXT", "ord-55"},
		{"ORDERSTATUS", "COMPLETE"},
		{"COMPLETE_DATE", "2026-03-01 12:00:00"},
		{"IPN_TOTALGENERAL", "75.50"},
		{"CURRENCY", "RON"},
	})

	result, err := p.ProcessCallback(context.Background(), payload, http.Header{})
	if err != nil {
		t.Fatalf("ProcessCallback() error = %v", err)
	}
	want := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	if result.PaidAt == nil || !result.PaidAt.Equal(want) {
		t.Errorf("PaidAt = %v, want %v", result.PaidAt, want)
	}
}

func TestLenValueChainEmptyField(t *testing.T) {
	// PayU encodes an empty value as "0"; the dash is EuPlatesc's rule.
	if got := lenValueChain("A4", "", "RON"); got != "2A403RON" {
		t.Errorf("lenValueChain = %q, want 2A403RON", got)
	}
	if got := lenValueChain(); got != "" {
		t.Errorf("lenValueChain() = %q, want empty", got)
	}
}
