package sms

import (
	"context"
	"errors"
	"net/http"
	"testing"

	"github.com/andreiandoo/epas-sub028/infra/config"
	"github.com/andreiandoo/epas-sub028/provider"

	_ "github.com/andreiandoo/epas-sub028/provider/revolut"
)

func testConfig(creds map[string]string) *config.GatewayConfig {
	return &config.GatewayConfig{
		TenantID:    "tenant1",
		Processor:   config.ProcessorSMS,
		Mode:        config.ModeSandbox,
		Credentials: creds,
	}
}

func fullCredentials() map[string]string {
	return map[string]string{
		"sms_twilio_sid":          "AC0000000000000000000000000000000000",
		"sms_twilio_auth_token":   "token",
		"sms_twilio_phone_number": "+15550001111",
		"sms_fallback_processor":  "revolut",
		"revolut_api_key":         "sk_test_key",
	}
}

func TestInitializeMissingCredentials(t *testing.T) {
	tests := []struct {
		name      string
		remove    string
		wantField string
	}{
		{"missing sid", "sms_twilio_sid", "sms_twilio_sid"},
		{"missing token", "sms_twilio_auth_token", "sms_twilio_auth_token"},
		{"missing number", "sms_twilio_phone_number", "sms_twilio_phone_number"},
		{"missing fallback", "sms_fallback_processor", "sms_fallback_processor"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			creds := fullCredentials()
			delete(creds, tt.remove)

			err := NewProcessor().Initialize(testConfig(creds))
			var cfgErr *provider.ConfigurationError
			if !errors.As(err, &cfgErr) {
				t.Fatalf("Initialize() error = %v, want *ConfigurationError", err)
			}
			if cfgErr.Field != tt.wantField {
				t.Errorf("Field = %q, want %q", cfgErr.Field, tt.wantField)
			}
		})
	}
}

func TestInitializeRejectsSelfAsFallback(t *testing.T) {
	creds := fullCredentials()
	creds["sms_fallback_processor"] = "sms"

	err := NewProcessor().Initialize(testConfig(creds))
	var cfgErr *provider.ConfigurationError
	if !errors.As(err, &cfgErr) || cfgErr.Field != "sms_fallback_processor" {
		t.Fatalf("Initialize() error = %v, want ConfigurationError for sms_fallback_processor", err)
	}
}

func TestInitializeUnknownFallback(t *testing.T) {
	creds := fullCredentials()
	creds["sms_fallback_processor"] = "westernunion"

	if err := NewProcessor().Initialize(testConfig(creds)); err == nil {
		t.Fatal("Initialize() accepted an unknown fallback processor")
	}
}

func TestInitializeBuildsFallback(t *testing.T) {
	p := NewProcessor().(*Processor)
	if err := p.Initialize(testConfig(fullCredentials())); err != nil {
		t.Fatalf("Initialize() error = %v", err)
	}
	if !p.IsConfigured() {
		t.Error("IsConfigured() = false after successful Initialize")
	}
	if p.Name() != "SMS Payment (Revolut)" {
		t.Errorf("Name() = %q, want SMS Payment (Revolut)", p.Name())
	}
}

func TestCreatePaymentRequiresPhone(t *testing.T) {
	p := NewProcessor().(*Processor)
	if err := p.Initialize(testConfig(fullCredentials())); err != nil {
		t.Fatalf("Initialize() error = %v", err)
	}

	_, err := p.CreatePayment(context.Background(), provider.PaymentRequest{
		Amount:     10,
		Currency:   "EUR",
		OrderID:    "ord-1",
		SuccessURL: "https://shop.example/ok",
		CancelURL:  "https://shop.example/cancel",
	})
	var cfgErr *provider.ConfigurationError
	if !errors.As(err, &cfgErr) || cfgErr.Field != "customer_phone" {
		t.Fatalf("CreatePayment() error = %v, want ConfigurationError for customer_phone", err)
	}
}

// delegateStub records which operations were forwarded to the fallback.
type delegateStub struct {
	callbacks int
	verifies  int
	statuses  int
	refunds   int
}

func (d *delegateStub) Initialize(*config.GatewayConfig) error { return nil }
func (d *delegateStub) CreatePayment(context.Context, provider.PaymentRequest) (*provider.PaymentCreationResult, error) {
	return &provider.PaymentCreationResult{PaymentID: "pay-1", RedirectURL: "https://pay.example/checkout"}, nil
}
func (d *delegateStub) ProcessCallback(context.Context, []byte, http.Header) (*provider.CallbackResult, error) {
	d.callbacks++
	return &provider.CallbackResult{Status: provider.StatusSuccess}, nil
}
func (d *delegateStub) VerifySignature([]byte, http.Header) bool {
	d.verifies++
	return true
}
func (d *delegateStub) GetPaymentStatus(context.Context, string) (*provider.StatusResult, error) {
	d.statuses++
	return &provider.StatusResult{Status: provider.StatusPending}, nil
}
func (d *delegateStub) RefundPayment(context.Context, provider.RefundRequest) (*provider.RefundResult, error) {
	d.refunds++
	return &provider.RefundResult{Status: provider.StatusSuccess}, nil
}
func (d *delegateStub) IsConfigured() bool { return true }
func (d *delegateStub) Name() string       { return "Stub" }

func TestOperationsDelegateToFallback(t *testing.T) {
	stub := &delegateStub{}
	p := &Processor{
		accountSID: "AC1",
		authToken:  "t",
		fromNumber: "+15550001111",
		fallback:   stub,
	}

	if _, err := p.ProcessCallback(context.Background(), []byte("{}"), http.Header{}); err != nil {
		t.Fatalf("ProcessCallback() error = %v", err)
	}
	if !p.VerifySignature([]byte("{}"), http.Header{}) {
		t.Error("VerifySignature() = false, want delegation to stub")
	}
	if _, err := p.GetPaymentStatus(context.Background(), "pay-1"); err != nil {
		t.Fatalf("GetPaymentStatus() error = %v", err)
	}
	if _, err := p.RefundPayment(context.Background(), provider.RefundRequest{PaymentID: "pay-1", Amount: 5}); err != nil {
		t.Fatalf("RefundPayment() error = %v", err)
	}

	if stub.callbacks != 1 || stub.verifies != 1 || stub.statuses != 1 || stub.refunds != 1 {
		t.Errorf("delegation counts = %+v, want one call each", *stub)
	}
}

func TestUnconfiguredRelayRejectsCallbacks(t *testing.T) {
	p := &Processor{}

	if p.VerifySignature([]byte("{}"), http.Header{}) {
		t.Error("VerifySignature() = true without a fallback")
	}
	_, err := p.ProcessCallback(context.Background(), []byte("{}"), http.Header{})
	var sigErr *provider.SignatureVerificationError
	if !errors.As(err, &sigErr) {
		t.Fatalf("ProcessCallback() error = %v, want *SignatureVerificationError", err)
	}
}

func TestMaskPhone(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"+40740123456", "+407******56"},
		{"+15550001111", "+155******11"},
		{"12345", "*****"},
		{"", ""},
	}
	for _, tt := range tests {
		if got := MaskPhone(tt.in); got != tt.want {
			t.Errorf("MaskPhone(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
