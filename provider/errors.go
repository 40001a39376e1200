package provider

import (
	"fmt"
	"strings"
)

// ConfigurationError reports missing or invalid credentials. It is raised
// before any network call is attempted.
type ConfigurationError struct {
	Processor string
	Field     string // the specific missing/invalid field, when known
	Reason    string
}

func (e *ConfigurationError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("%s: configuration error: required field %q %s", e.Processor, e.Field, e.Reason)
	}
	return fmt.Sprintf("%s: configuration error: %s", e.Processor, e.Reason)
}

// SignatureVerificationError reports a webhook whose authenticity could not
// be established. The Reason is for server-side logs only; callers must
// answer the gateway with a generic failure and never apply the callback.
type SignatureVerificationError struct {
	Processor string
	Reason    string
}

func (e *SignatureVerificationError) Error() string {
	return fmt.Sprintf("%s: webhook signature verification failed", e.Processor)
}

// GatewayCommunicationError reports a transport failure or a non-2xx answer
// from the gateway. CreatePayment may be retried idempotently on it since no
// state changed on our side.
type GatewayCommunicationError struct {
	Processor  string
	StatusCode int // 0 on transport errors
	Body       string
	Err        error
}

func (e *GatewayCommunicationError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("%s: gateway returned HTTP %d: %s", e.Processor, e.StatusCode, e.Body)
	}
	return fmt.Sprintf("%s: gateway request failed: %v", e.Processor, e.Err)
}

func (e *GatewayCommunicationError) Unwrap() error { return e.Err }

// DecryptionError reports that every decryption tier of an envelope-encrypted
// callback was exhausted. Tiers lists what was attempted, for diagnostics.
type DecryptionError struct {
	Processor string
	Tiers     []string
	Err       error
}

func (e *DecryptionError) Error() string {
	return fmt.Sprintf("%s: envelope decryption failed after tiers [%s]: %v",
		e.Processor, strings.Join(e.Tiers, ", "), e.Err)
}

func (e *DecryptionError) Unwrap() error { return e.Err }

// UnsupportedOperationError reports an operation the gateway cannot perform
// programmatically (for example refunds on Netopia).
type UnsupportedOperationError struct {
	Processor string
	Operation string
}

func (e *UnsupportedOperationError) Error() string {
	return fmt.Sprintf("%s: operation %q is not supported by this gateway", e.Processor, e.Operation)
}
