package provider

import (
	"context"
	"net/http"

	"github.com/andreiandoo/epas-sub028/infra/config"
)

// Processor is the capability set every payment gateway adapter implements.
//
// ProcessCallback MUST verify authenticity before trusting any field of the
// payload: a caller must never apply a callback's effects when it returns an
// error. ProcessCallback is a pure function of its inputs and safe to invoke
// more than once with the same payload; deduplication at the order level is
// the caller's responsibility.
type Processor interface {
	// Initialize binds the adapter to a tenant's gateway configuration.
	Initialize(cfg *config.GatewayConfig) error

	// CreatePayment starts a checkout and returns the redirect target.
	CreatePayment(ctx context.Context, req PaymentRequest) (*PaymentCreationResult, error)

	// ProcessCallback verifies and normalizes an inbound webhook delivery.
	// payload is the raw request body, untouched by routing.
	ProcessCallback(ctx context.Context, payload []byte, headers http.Header) (*CallbackResult, error)

	// VerifySignature reports whether the payload is authentic. Stateless
	// and side-effect-free; a missing verification secret means false.
	VerifySignature(payload []byte, headers http.Header) bool

	// GetPaymentStatus queries the gateway for the current payment state.
	// Gateways without a status API return a best-effort pending result.
	GetPaymentStatus(ctx context.Context, paymentID string) (*StatusResult, error)

	// RefundPayment refunds a payment fully or partially.
	RefundPayment(ctx context.Context, req RefundRequest) (*RefundResult, error)

	// IsConfigured reports whether every required credential is present.
	IsConfigured() bool

	// Name returns the human-readable gateway name.
	Name() string
}

// ProcessorFactory creates an uninitialized Processor instance.
type ProcessorFactory func() Processor
