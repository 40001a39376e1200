package klarna

import (
	"context"
	"errors"
	"net/http"
	"testing"

	"github.com/andreiandoo/epas-sub028/infra/config"
	"github.com/andreiandoo/epas-sub028/provider"
)

func testConfig(creds map[string]string) *config.GatewayConfig {
	return &config.GatewayConfig{
		TenantID:    "tenant1",
		Processor:   config.ProcessorKlarna,
		Mode:        config.ModeSandbox,
		Credentials: creds,
	}
}

func TestInitialize(t *testing.T) {
	tests := []struct {
		name      string
		creds     map[string]string
		wantErr   bool
		wantField string
	}{
		{
			name: "valid credentials",
			creds: map[string]string{
				"klarna_api_username": "K12345_user",
				"klarna_api_password": "secret",
				"klarna_region":       "eu",
			},
		},
		{
			name:      "missing username",
			creds:     map[string]string{"klarna_api_password": "secret"},
			wantErr:   true,
			wantField: "klarna_api_username",
		},
		{
			name:      "missing password",
			creds:     map[string]string{"klarna_api_username": "K12345_user"},
			wantErr:   true,
			wantField: "klarna_api_password",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := NewProcessor().Initialize(testConfig(tt.creds))
			if (err != nil) != tt.wantErr {
				t.Fatalf("Initialize() error = %v, wantErr %v", err, tt.wantErr)
			}
			if tt.wantErr {
				var cfgErr *provider.ConfigurationError
				if !errors.As(err, &cfgErr) {
					t.Fatalf("Initialize() error type = %T, want *ConfigurationError", err)
				}
				if cfgErr.Field != tt.wantField {
					t.Errorf("ConfigurationError.Field = %q, want %q", cfgErr.Field, tt.wantField)
				}
			}
		})
	}
}

func TestInitializeUnknownRegionFallsBackToEU(t *testing.T) {
	p := NewProcessor()
	err := p.Initialize(testConfig(map[string]string{
		"klarna_api_username": "K12345_user",
		"klarna_api_password": "secret",
		"klarna_region":       "mars",
	}))
	if err != nil {
		t.Fatalf("Initialize() error = %v", err)
	}
}

func TestProcessCallbackWithoutCredentials(t *testing.T) {
	p := &Processor{}
	_, err := p.ProcessCallback(context.Background(), []byte(`{"order_id":"ord_1"}`), http.Header{})
	var sigErr *provider.SignatureVerificationError
	if !errors.As(err, &sigErr) {
		t.Fatalf("ProcessCallback() error = %v, want *SignatureVerificationError", err)
	}
}

func TestVerifySignatureGatedByCredentials(t *testing.T) {
	p := &Processor{}
	if p.VerifySignature([]byte(`{}`), http.Header{}) {
		t.Error("VerifySignature() = true without credentials")
	}

	p.apiUsername = "user"
	p.apiPassword = "pass"
	if !p.VerifySignature([]byte(`{}`), http.Header{}) {
		t.Error("VerifySignature() = false with credentials present")
	}
}

func TestOrderStatusMap(t *testing.T) {
	tests := []struct {
		status string
		want   provider.Status
	}{
		{"AUTHORIZED", provider.StatusSuccess},
		{"CAPTURED", provider.StatusSuccess},
		{"PART_CAPTURED", provider.StatusSuccess},
		{"CLOSED", provider.StatusSuccess},
		{"CANCELLED", provider.StatusCancelled},
		{"EXPIRED", provider.StatusCancelled},
		{"PENDING", provider.StatusPending},
	}
	for _, tt := range tests {
		if got := orderStatusMap[tt.status]; got != tt.want {
			t.Errorf("orderStatusMap[%s] = %v, want %v", tt.status, got, tt.want)
		}
	}
}

func TestPurchaseCountry(t *testing.T) {
	tests := []struct {
		currency string
		want     string
	}{
		{"EUR", "DE"},
		{"SEK", "SE"},
		{"GBP", "GB"},
		{"USD", "US"},
		{"RON", "DE"},
		{"sek", "SE"},
	}
	for _, tt := range tests {
		if got := PurchaseCountry(tt.currency); got != tt.want {
			t.Errorf("PurchaseCountry(%q) = %q, want %q", tt.currency, got, tt.want)
		}
	}
}

func TestLocale(t *testing.T) {
	if got := Locale("SEK"); got != "en-SE" {
		t.Errorf("Locale(SEK) = %q, want en-SE", got)
	}
}
