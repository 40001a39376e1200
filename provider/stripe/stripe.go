package stripe

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	stripelib "github.com/stripe/stripe-go/v82"
	"github.com/stripe/stripe-go/v82/webhook"

	"github.com/andreiandoo/epas-sub028/infra/config"
	"github.com/andreiandoo/epas-sub028/infra/logger"
	"github.com/andreiandoo/epas-sub028/provider"
)

const (
	apiURL = "https://api.stripe.com"

	endpointCheckoutSessions = "/v1/checkout/sessions"
	endpointCheckoutSession  = "/v1/checkout/sessions/%s"
	endpointRefunds          = "/v1/refunds"

	// Checkout session payment_status values
	paymentStatusPaid              = "paid"
	paymentStatusUnpaid            = "unpaid"
	paymentStatusNoPaymentRequired = "no_payment_required"

	defaultTimeout = 30 * time.Second
)

// Processor implements provider.Processor for Stripe hosted Checkout.
type Processor struct {
	secretKey      string
	publishableKey string
	webhookSecret  string
	client         *provider.GatewayHTTPClient
}

// NewProcessor creates an uninitialized Stripe processor.
func NewProcessor() provider.Processor {
	return &Processor{}
}

// Initialize binds the processor to a tenant's Stripe credentials.
func (p *Processor) Initialize(cfg *config.GatewayConfig) error {
	p.secretKey = cfg.Credential("stripe_secret_key")
	p.publishableKey = cfg.Credential("stripe_publishable_key")
	p.webhookSecret = cfg.Credential("stripe_webhook_secret")

	if p.secretKey == "" {
		return &provider.ConfigurationError{Processor: "stripe", Field: "stripe_secret_key", Reason: "is missing"}
	}

	p.client = provider.NewGatewayHTTPClient(&provider.HTTPClientConfig{
		Processor: "stripe",
		BaseURL:   apiURL,
		Timeout:   defaultTimeout,
		DefaultHeaders: map[string]string{
			"Authorization": "Bearer " + p.secretKey,
		},
	})
	return nil
}

// checkoutSession is the subset of the Checkout Session object we consume.
type checkoutSession struct {
	ID                string            `json:"id"`
	URL               string            `json:"url"`
	Status            string            `json:"status"`
	PaymentStatus     string            `json:"payment_status"`
	AmountTotal       int64             `json:"amount_total"`
	Currency          string            `json:"currency"`
	ClientReferenceID string            `json:"client_reference_id"`
	PaymentIntent     string            `json:"payment_intent"`
	Metadata          map[string]string `json:"metadata"`
	Created           int64             `json:"created"`
}

// CreatePayment creates a hosted Checkout Session and returns its URL.
func (p *Processor) CreatePayment(ctx context.Context, req provider.PaymentRequest) (*provider.PaymentCreationResult, error) {
	if !p.IsConfigured() {
		return nil, &provider.ConfigurationError{Processor: "stripe", Field: "stripe_secret_key", Reason: "is missing"}
	}
	if err := req.Validate(); err != nil {
		return nil, err
	}

	description := req.Description
	if description == "" {
		description = "Order " + req.OrderID
	}

	form := url.Values{}
	form.Set("mode", "payment")
	form.Set("client_reference_id", req.OrderID)
	form.Set("success_url", req.SuccessURL)
	form.Set("cancel_url", req.CancelURL)
	form.Set("line_items[0][quantity]", "1")
	form.Set("line_items[0][price_data][currency]", req.Currency)
	form.Set("line_items[0][price_data][unit_amount]", strconv.FormatInt(provider.ToMinorUnits(req.Amount), 10))
	form.Set("line_items[0][price_data][product_data][name]", description)
	form.Set("metadata[order_id]", req.OrderID)
	if req.CustomerEmail != "" {
		form.Set("customer_email", req.CustomerEmail)
	}
	for k, v := range req.Metadata {
		form.Set("metadata["+k+"]", v)
	}

	resp, err := p.client.SendForm(ctx, &provider.HTTPRequest{
		Method:   http.MethodPost,
		Endpoint: endpointCheckoutSessions,
		FormData: form,
	})
	if err != nil {
		return nil, err
	}

	var session checkoutSession
	if err := p.client.ParseJSONResponse(resp, &session); err != nil {
		return nil, fmt.Errorf("stripe: failed to parse checkout session: %w", err)
	}

	return &provider.PaymentCreationResult{
		PaymentID:   session.ID,
		RedirectURL: session.URL,
		AdditionalData: map[string]string{
			"publishable_key": p.publishableKey,
		},
	}, nil
}

// ProcessCallback verifies a webhook delivery and normalizes its event.
func (p *Processor) ProcessCallback(ctx context.Context, payload []byte, headers http.Header) (*provider.CallbackResult, error) {
	event, err := p.constructEvent(payload, headers)
	if err != nil {
		return nil, err
	}

	switch event.Type {
	case "checkout.session.completed":
		return p.sessionResult(event.Data.Raw, provider.StatusSuccess)
	case "checkout.session.expired":
		return p.sessionResult(event.Data.Raw, provider.StatusCancelled)
	case "payment_intent.payment_failed":
		return p.intentResult(event.Data.Raw, provider.StatusFailed)
	case "charge.refunded":
		return p.chargeResult(event.Data.Raw, provider.StatusRefunded)
	default:
		logger.Debug("stripe: ignoring webhook event " + string(event.Type))
		return &provider.CallbackResult{Status: provider.StatusPending}, nil
	}
}

func (p *Processor) constructEvent(payload []byte, headers http.Header) (*stripelib.Event, error) {
	if p.webhookSecret == "" {
		return nil, &provider.SignatureVerificationError{Processor: "stripe", Reason: "webhook secret not configured"}
	}
	event, err := webhook.ConstructEventWithOptions(payload, headers.Get("Stripe-Signature"), p.webhookSecret,
		webhook.ConstructEventOptions{IgnoreAPIVersionMismatch: true})
	if err != nil {
		return nil, &provider.SignatureVerificationError{Processor: "stripe", Reason: err.Error()}
	}
	return &event, nil
}

func (p *Processor) sessionResult(raw json.RawMessage, status provider.Status) (*provider.CallbackResult, error) {
	var session checkoutSession
	if err := json.Unmarshal(raw, &session); err != nil {
		return nil, fmt.Errorf("stripe: failed to parse session event: %w", err)
	}

	orderID := session.ClientReferenceID
	if orderID == "" {
		orderID = session.Metadata["order_id"]
	}

	result := &provider.CallbackResult{
		Status:        status,
		PaymentID:     session.ID,
		OrderID:       orderID,
		Amount:        provider.FromMinorUnits(session.AmountTotal),
		Currency:      strings.ToUpper(session.Currency),
		TransactionID: session.PaymentIntent,
		Metadata:      session.Metadata,
	}
	if status == provider.StatusSuccess && session.Created > 0 {
		paidAt := time.Unix(session.Created, 0).UTC()
		result.PaidAt = &paidAt
	}
	return result, nil
}

func (p *Processor) intentResult(raw json.RawMessage, status provider.Status) (*provider.CallbackResult, error) {
	var intent struct {
		ID       string            `json:"id"`
		Amount   int64             `json:"amount"`
		Currency string            `json:"currency"`
		Metadata map[string]string `json:"metadata"`
	}
	if err := json.Unmarshal(raw, &intent); err != nil {
		return nil, fmt.Errorf("stripe: failed to parse payment intent event: %w", err)
	}
	return &provider.CallbackResult{
		Status:        status,
		PaymentID:     intent.ID,
		OrderID:       intent.Metadata["order_id"],
		Amount:        provider.FromMinorUnits(intent.Amount),
		Currency:      strings.ToUpper(intent.Currency),
		TransactionID: intent.ID,
		Metadata:      intent.Metadata,
	}, nil
}

func (p *Processor) chargeResult(raw json.RawMessage, status provider.Status) (*provider.CallbackResult, error) {
	var charge struct {
		ID             string            `json:"id"`
		AmountRefunded int64             `json:"amount_refunded"`
		Currency       string            `json:"currency"`
		PaymentIntent  string            `json:"payment_intent"`
		Metadata       map[string]string `json:"metadata"`
	}
	if err := json.Unmarshal(raw, &charge); err != nil {
		return nil, fmt.Errorf("stripe: failed to parse charge event: %w", err)
	}
	return &provider.CallbackResult{
		Status:        status,
		PaymentID:     charge.PaymentIntent,
		OrderID:       charge.Metadata["order_id"],
		Amount:        provider.FromMinorUnits(charge.AmountRefunded),
		Currency:      strings.ToUpper(charge.Currency),
		TransactionID: charge.ID,
		Metadata:      charge.Metadata,
	}, nil
}

// VerifySignature reports whether the payload carries a valid Stripe-Signature.
func (p *Processor) VerifySignature(payload []byte, headers http.Header) bool {
	if p.webhookSecret == "" {
		logger.Warn("stripe: rejecting webhook, no webhook secret configured")
		return false
	}
	_, err := webhook.ConstructEventWithOptions(payload, headers.Get("Stripe-Signature"), p.webhookSecret,
		webhook.ConstructEventOptions{IgnoreAPIVersionMismatch: true})
	return err == nil
}

// GetPaymentStatus fetches the Checkout Session and maps its payment status.
func (p *Processor) GetPaymentStatus(ctx context.Context, paymentID string) (*provider.StatusResult, error) {
	session, err := p.fetchSession(ctx, paymentID)
	if err != nil {
		return nil, err
	}

	status := provider.StatusPending
	switch {
	case session.PaymentStatus == paymentStatusPaid || session.PaymentStatus == paymentStatusNoPaymentRequired:
		status = provider.StatusSuccess
	case session.Status == "expired":
		status = provider.StatusCancelled
	}

	result := &provider.StatusResult{
		Status:   status,
		Amount:   provider.FromMinorUnits(session.AmountTotal),
		Currency: strings.ToUpper(session.Currency),
	}
	if status == provider.StatusSuccess && session.Created > 0 {
		paidAt := time.Unix(session.Created, 0).UTC()
		result.PaidAt = &paidAt
	}
	return result, nil
}

// RefundPayment refunds the payment intent behind a Checkout Session.
func (p *Processor) RefundPayment(ctx context.Context, req provider.RefundRequest) (*provider.RefundResult, error) {
	session, err := p.fetchSession(ctx, req.PaymentID)
	if err != nil {
		return nil, err
	}
	if session.PaymentIntent == "" {
		return nil, fmt.Errorf("stripe: session %s has no payment intent to refund", req.PaymentID)
	}

	form := url.Values{}
	form.Set("payment_intent", session.PaymentIntent)
	if req.Amount > 0 {
		form.Set("amount", strconv.FormatInt(provider.ToMinorUnits(req.Amount), 10))
	}
	if req.Reason != "" {
		form.Set("metadata[reason]", req.Reason)
	}

	resp, err := p.client.SendForm(ctx, &provider.HTTPRequest{
		Method:   http.MethodPost,
		Endpoint: endpointRefunds,
		FormData: form,
	})
	if err != nil {
		return nil, err
	}

	var refund struct {
		ID     string `json:"id"`
		Status string `json:"status"`
		Amount int64  `json:"amount"`
	}
	if err := p.client.ParseJSONResponse(resp, &refund); err != nil {
		return nil, fmt.Errorf("stripe: failed to parse refund: %w", err)
	}

	status := provider.StatusPending
	switch refund.Status {
	case "succeeded":
		status = provider.StatusSuccess
	case "failed", "canceled":
		status = provider.StatusFailed
	}

	return &provider.RefundResult{
		RefundID: refund.ID,
		Status:   status,
		Amount:   provider.FromMinorUnits(refund.Amount),
	}, nil
}

func (p *Processor) fetchSession(ctx context.Context, sessionID string) (*checkoutSession, error) {
	if !p.IsConfigured() {
		return nil, &provider.ConfigurationError{Processor: "stripe", Field: "stripe_secret_key", Reason: "is missing"}
	}
	if sessionID == "" {
		return nil, fmt.Errorf("stripe: paymentID is required")
	}

	resp, err := p.client.SendForm(ctx, &provider.HTTPRequest{
		Method:   http.MethodGet,
		Endpoint: fmt.Sprintf(endpointCheckoutSession, sessionID),
	})
	if err != nil {
		return nil, err
	}

	var session checkoutSession
	if err := p.client.ParseJSONResponse(resp, &session); err != nil {
		return nil, fmt.Errorf("stripe: failed to parse checkout session: %w", err)
	}
	return &session, nil
}

// IsConfigured reports whether the secret key is present.
func (p *Processor) IsConfigured() bool {
	return p.secretKey != ""
}

// Name returns the gateway name.
func (p *Processor) Name() string {
	return "Stripe"
}
