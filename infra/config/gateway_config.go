package config

import (
	"fmt"
	"strings"
)

// ProcessorType identifies one of the supported payment gateways.
type ProcessorType string

const (
	ProcessorStripe    ProcessorType = "stripe"
	ProcessorPayPal    ProcessorType = "paypal"
	ProcessorNetopia   ProcessorType = "netopia"
	ProcessorEuPlatesc ProcessorType = "euplatesc"
	ProcessorPayU      ProcessorType = "payu"
	ProcessorKlarna    ProcessorType = "klarna"
	ProcessorRevolut   ProcessorType = "revolut"
	ProcessorNoda      ProcessorType = "noda"
	ProcessorSMS       ProcessorType = "sms"
)

// ProcessorTypes lists every supported processor in a stable order.
func ProcessorTypes() []ProcessorType {
	return []ProcessorType{
		ProcessorStripe,
		ProcessorPayPal,
		ProcessorNetopia,
		ProcessorEuPlatesc,
		ProcessorPayU,
		ProcessorKlarna,
		ProcessorRevolut,
		ProcessorNoda,
		ProcessorSMS,
	}
}

// Valid reports whether t names a known processor.
func (t ProcessorType) Valid() bool {
	for _, known := range ProcessorTypes() {
		if t == known {
			return true
		}
	}
	return false
}

// Mode selects the gateway environment a configuration targets.
type Mode string

const (
	ModeLive    Mode = "live"
	ModeSandbox Mode = "sandbox"
)

// GatewayConfig is a tenant's configuration for one payment gateway.
// It is created and edited by configuration management and read-only here.
type GatewayConfig struct {
	ID          int64             `json:"id"`
	TenantID    string            `json:"tenantId"`
	Processor   ProcessorType     `json:"processor"`
	Mode        Mode              `json:"mode"`
	Credentials map[string]string `json:"credentials"`
}

// Credential returns the named credential, or "" when absent.
func (c *GatewayConfig) Credential(key string) string {
	if c == nil || c.Credentials == nil {
		return ""
	}
	return strings.TrimSpace(c.Credentials[key])
}

// HasCredentials reports whether every named credential is present and non-empty.
func (c *GatewayConfig) HasCredentials(keys ...string) bool {
	for _, key := range keys {
		if c.Credential(key) == "" {
			return false
		}
	}
	return true
}

// IsLive reports whether the configuration targets the production gateway.
func (c *GatewayConfig) IsLive() bool {
	return c.Mode == ModeLive
}

// CacheKey returns a key unique to this tenant, processor and mode. Short-TTL
// caches (OAuth tokens, bank lists) are keyed on it so configurations never
// share cached credentials.
func (c *GatewayConfig) CacheKey() string {
	return fmt.Sprintf("%s-%s-%s", c.TenantID, c.Processor, c.Mode)
}

// Clone returns a deep copy so callers cannot mutate stored credentials.
func (c *GatewayConfig) Clone() *GatewayConfig {
	if c == nil {
		return nil
	}
	out := *c
	out.Credentials = make(map[string]string, len(c.Credentials))
	for k, v := range c.Credentials {
		out.Credentials[k] = v
	}
	return &out
}
