package provider_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/andreiandoo/epas-sub028/infra/config"
	"github.com/andreiandoo/epas-sub028/provider"

	_ "github.com/andreiandoo/epas-sub028/provider/euplatesc"
)

func TestFactoryMake(t *testing.T) {
	factory := provider.NewFactory()

	p, err := factory.Make(&config.GatewayConfig{
		TenantID:  "t1",
		Processor: config.ProcessorEuPlatesc,
		Mode:      config.ModeSandbox,
		Credentials: map[string]string{
			"euplatesc_merchant_id": "EPTEST",
			"euplatesc_secret_key":  "00112233445566778899aabbccddeeff",
		},
	})
	require.NoError(t, err)
	assert.True(t, p.IsConfigured())
	assert.Equal(t, "EuPlatesc", p.Name())
}

func TestFactoryMakeNamesMissingField(t *testing.T) {
	factory := provider.NewFactory()

	_, err := factory.Make(&config.GatewayConfig{
		TenantID:  "t1",
		Processor: config.ProcessorEuPlatesc,
		Mode:      config.ModeSandbox,
		Credentials: map[string]string{
			"euplatesc_merchant_id": "EPTEST",
		},
	})
	var cfgErr *provider.ConfigurationError
	require.ErrorAs(t, err, &cfgErr)
	assert.Equal(t, "euplatesc_secret_key", cfgErr.Field)
}

func TestFactoryMakeUnknownProcessor(t *testing.T) {
	factory := provider.NewFactory()

	_, err := factory.Make(&config.GatewayConfig{TenantID: "t1", Processor: "bitcoins"})
	var cfgErr *provider.ConfigurationError
	require.ErrorAs(t, err, &cfgErr)
	assert.Contains(t, cfgErr.Error(), "bitcoins")
}

func TestFactoryMakeNilConfig(t *testing.T) {
	_, err := provider.NewFactory().Make(nil)
	require.Error(t, err)
}

func TestFactoryMakeClonesConfig(t *testing.T) {
	factory := provider.NewFactory()
	cfg := &config.GatewayConfig{
		TenantID:  "t1",
		Processor: config.ProcessorEuPlatesc,
		Mode:      config.ModeSandbox,
		Credentials: map[string]string{
			"euplatesc_merchant_id": "EPTEST",
			"euplatesc_secret_key":  "00112233445566778899aabbccddeeff",
		},
	}

	p, err := factory.Make(cfg)
	require.NoError(t, err)

	// Mutating the caller's map after construction must not reach the adapter.
	cfg.Credentials["euplatesc_merchant_id"] = "CHANGED"
	assert.True(t, p.IsConfigured())
}

func TestCatalogueCoversEveryProcessor(t *testing.T) {
	catalogue := provider.AvailableProcessors()
	for _, pt := range config.ProcessorTypes() {
		info, ok := catalogue[pt]
		require.True(t, ok, "catalogue is missing %s", pt)
		assert.NotEmpty(t, info.Name)
		assert.NotEmpty(t, info.SupportedCurrencies)
		assert.NotEmpty(t, provider.RequiredFields(pt), "no credential fields for %s", pt)
	}
}

func TestValidateConfig(t *testing.T) {
	tests := []struct {
		name      string
		processor config.ProcessorType
		fields    map[string]string
		wantField string
	}{
		{
			"missing required",
			config.ProcessorStripe,
			map[string]string{"stripe_publishable_key": "pk_test_abc"},
			"stripe_secret_key",
		},
		{
			"bad stripe secret prefix",
			config.ProcessorStripe,
			map[string]string{"stripe_publishable_key": "pk_test_abc", "stripe_secret_key": "notakey"},
			"stripe_secret_key",
		},
		{
			"bad klarna region",
			config.ProcessorKlarna,
			map[string]string{"klarna_api_username": "K12345_x", "klarna_api_password": "pw", "klarna_region": "mars"},
			"klarna_region",
		},
		{
			"bad twilio number",
			config.ProcessorSMS,
			map[string]string{
				"sms_twilio_sid": "ACabc", "sms_twilio_auth_token": "tok",
				"sms_twilio_phone_number": "0740123456", "sms_fallback_processor": "stripe",
			},
			"sms_twilio_phone_number",
		},
		{
			"sms cannot fall back to itself",
			config.ProcessorSMS,
			map[string]string{
				"sms_twilio_sid": "ACabc", "sms_twilio_auth_token": "tok",
				"sms_twilio_phone_number": "+40740123456", "sms_fallback_processor": "sms",
			},
			"sms_fallback_processor",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			errs := provider.ValidateConfig(tt.processor, tt.fields)
			require.NotEmpty(t, errs)
			found := false
			for _, fe := range errs {
				if fe.Field == tt.wantField {
					found = true
				}
			}
			assert.True(t, found, "no error for field %s in %v", tt.wantField, errs)
		})
	}

	t.Run("valid euplatesc", func(t *testing.T) {
		errs := provider.ValidateConfig(config.ProcessorEuPlatesc, map[string]string{
			"euplatesc_merchant_id": "EPTEST",
			"euplatesc_secret_key":  "00112233445566778899aabbccddeeff",
		})
		assert.Empty(t, errs)
	})
}
