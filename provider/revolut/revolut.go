package revolut

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/andreiandoo/epas-sub028/infra/config"
	"github.com/andreiandoo/epas-sub028/infra/logger"
	"github.com/andreiandoo/epas-sub028/provider"
)

const (
	apiSandboxURL    = "https://sandbox-merchant.revolut.com"
	apiProductionURL = "https://merchant.revolut.com"

	endpointOrders      = "/api/orders"
	endpointOrderRefund = "/api/orders/%s/refund"

	apiVersion = "2024-09-01"

	headerSignature = "Revolut-Signature"
	headerTimestamp = "Revolut-Request-Timestamp"

	defaultTimeout = 30 * time.Second
)

// Processor implements provider.Processor for the Revolut Merchant API.
type Processor struct {
	apiKey        string
	merchantID    string
	webhookSecret string
	client        *provider.GatewayHTTPClient
}

// NewProcessor creates an uninitialized Revolut processor.
func NewProcessor() provider.Processor {
	return &Processor{}
}

// Initialize binds the processor to a tenant's Revolut credentials.
func (p *Processor) Initialize(cfg *config.GatewayConfig) error {
	p.apiKey = cfg.Credential("revolut_api_key")
	p.merchantID = cfg.Credential("revolut_merchant_id")
	p.webhookSecret = cfg.Credential("revolut_webhook_secret")

	if p.apiKey == "" {
		return &provider.ConfigurationError{Processor: "revolut", Field: "revolut_api_key", Reason: "is missing"}
	}

	baseURL := apiSandboxURL
	if cfg.IsLive() {
		baseURL = apiProductionURL
	}
	p.client = provider.NewGatewayHTTPClient(&provider.HTTPClientConfig{
		Processor: "revolut",
		BaseURL:   baseURL,
		Timeout:   defaultTimeout,
		DefaultHeaders: map[string]string{
			"Authorization":       "Bearer " + p.apiKey,
			"Revolut-Api-Version": apiVersion,
		},
	})
	return nil
}

type orderResponse struct {
	ID             string `json:"id"`
	State          string `json:"state"`
	Amount         int64  `json:"amount"`
	Currency       string `json:"currency"`
	CheckoutURL    string `json:"checkout_url"`
	MerchantRef    string `json:"merchant_order_ext_ref"`
	CompletedAt    string `json:"completed_at"`
	CustomerEmail  string `json:"email"`
	DescriptionTxt string `json:"description"`
}

// CreatePayment creates an order and returns its hosted checkout URL.
func (p *Processor) CreatePayment(ctx context.Context, req provider.PaymentRequest) (*provider.PaymentCreationResult, error) {
	if !p.IsConfigured() {
		return nil, &provider.ConfigurationError{Processor: "revolut", Field: "revolut_api_key", Reason: "is missing"}
	}
	if err := req.Validate(); err != nil {
		return nil, err
	}

	orderData := map[string]any{
		"amount":                 provider.ToMinorUnits(req.Amount),
		"currency":               req.Currency,
		"merchant_order_ext_ref": req.OrderID,
		"redirect_url":           req.SuccessURL,
		"cancel_url":             req.CancelURL,
	}
	if req.Description != "" {
		orderData["description"] = req.Description
	}
	if req.CustomerEmail != "" {
		orderData["customer"] = map[string]any{"email": req.CustomerEmail}
	}
	if len(req.Metadata) > 0 {
		orderData["metadata"] = req.Metadata
	}

	resp, err := p.client.SendJSON(ctx, &provider.HTTPRequest{
		Method:   http.MethodPost,
		Endpoint: endpointOrders,
		Body:     orderData,
	})
	if err != nil {
		return nil, err
	}

	var order orderResponse
	if err := p.client.ParseJSONResponse(resp, &order); err != nil {
		return nil, fmt.Errorf("revolut: failed to parse order response: %w", err)
	}

	return &provider.PaymentCreationResult{
		PaymentID:   order.ID,
		RedirectURL: order.CheckoutURL,
		AdditionalData: map[string]string{
			"order_state": order.State,
		},
	}, nil
}

// ProcessCallback verifies the Revolut-Signature header and normalizes the
// webhook event. Event payloads carry only identifiers, so the order is
// fetched for amounts and final state.
func (p *Processor) ProcessCallback(ctx context.Context, payload []byte, headers http.Header) (*provider.CallbackResult, error) {
	if p.webhookSecret == "" {
		return nil, &provider.SignatureVerificationError{Processor: "revolut", Reason: "webhook secret not configured"}
	}
	if !p.VerifySignature(payload, headers) {
		return nil, &provider.SignatureVerificationError{Processor: "revolut", Reason: "signature mismatch"}
	}

	var event struct {
		Event       string `json:"event"`
		OrderID     string `json:"order_id"`
		MerchantRef string `json:"merchant_order_ext_ref"`
	}
	if err := json.Unmarshal(payload, &event); err != nil {
		return nil, fmt.Errorf("revolut: failed to parse webhook payload: %w", err)
	}
	if event.OrderID == "" {
		return nil, fmt.Errorf("revolut: webhook payload without an order id")
	}

	order, err := p.fetchOrder(ctx, event.OrderID)
	if err != nil {
		return nil, err
	}

	status := mapOrderState(order.State)
	result := &provider.CallbackResult{
		Status:        status,
		PaymentID:     order.ID,
		OrderID:       firstNonEmpty(order.MerchantRef, event.MerchantRef),
		Amount:        provider.FromMinorUnits(order.Amount),
		Currency:      strings.ToUpper(order.Currency),
		TransactionID: order.ID,
	}
	if status == provider.StatusSuccess {
		result.PaidAt = parseTime(order.CompletedAt)
	}
	return result, nil
}

// VerifySignature checks the v1 HMAC over "v1.{timestamp}.{payload}".
func (p *Processor) VerifySignature(payload []byte, headers http.Header) bool {
	if p.webhookSecret == "" {
		logger.Warn("revolut: rejecting webhook, no webhook secret configured")
		return false
	}

	timestamp := headers.Get(headerTimestamp)
	if timestamp == "" {
		return false
	}
	pairs := provider.ParseSignatureHeader(headers.Get(headerSignature))
	received, ok := pairs["v1"]
	if !ok || received == "" {
		return false
	}

	signed := "v1." + timestamp + "." + string(payload)
	expected := "v1=" + provider.HMACSHA256Hex([]byte(signed), p.webhookSecret)
	return provider.SecureCompare("v1="+received, expected)
}

// GetPaymentStatus fetches the order and maps its state.
func (p *Processor) GetPaymentStatus(ctx context.Context, paymentID string) (*provider.StatusResult, error) {
	order, err := p.fetchOrder(ctx, paymentID)
	if err != nil {
		return nil, err
	}

	status := mapOrderState(order.State)
	result := &provider.StatusResult{
		Status:   status,
		Amount:   provider.FromMinorUnits(order.Amount),
		Currency: strings.ToUpper(order.Currency),
	}
	if status == provider.StatusSuccess {
		result.PaidAt = parseTime(order.CompletedAt)
	}
	return result, nil
}

// RefundPayment refunds an order fully or partially.
func (p *Processor) RefundPayment(ctx context.Context, req provider.RefundRequest) (*provider.RefundResult, error) {
	if !p.IsConfigured() {
		return nil, &provider.ConfigurationError{Processor: "revolut", Field: "revolut_api_key", Reason: "is missing"}
	}

	order, err := p.fetchOrder(ctx, req.PaymentID)
	if err != nil {
		return nil, err
	}

	amount := provider.ToMinorUnits(req.Amount)
	if amount == 0 {
		amount = order.Amount
	}

	refundData := map[string]any{
		"amount":   amount,
		"currency": order.Currency,
	}
	if req.Reason != "" {
		refundData["description"] = req.Reason
	}

	resp, err := p.client.SendJSON(ctx, &provider.HTTPRequest{
		Method:   http.MethodPost,
		Endpoint: fmt.Sprintf(endpointOrderRefund, req.PaymentID),
		Body:     refundData,
	})
	if err != nil {
		return nil, err
	}

	var refund struct {
		ID    string `json:"id"`
		State string `json:"state"`
	}
	if err := p.client.ParseJSONResponse(resp, &refund); err != nil {
		return nil, fmt.Errorf("revolut: failed to parse refund response: %w", err)
	}

	status := provider.StatusPending
	switch refund.State {
	case "completed":
		status = provider.StatusSuccess
	case "failed":
		status = provider.StatusFailed
	}

	return &provider.RefundResult{
		RefundID: refund.ID,
		Status:   status,
		Amount:   provider.FromMinorUnits(amount),
	}, nil
}

func (p *Processor) fetchOrder(ctx context.Context, orderID string) (*orderResponse, error) {
	if !p.IsConfigured() {
		return nil, &provider.ConfigurationError{Processor: "revolut", Field: "revolut_api_key", Reason: "is missing"}
	}
	if orderID == "" {
		return nil, fmt.Errorf("revolut: paymentID is required")
	}

	resp, err := p.client.SendJSON(ctx, &provider.HTTPRequest{
		Method:   http.MethodGet,
		Endpoint: endpointOrders + "/" + orderID,
	})
	if err != nil {
		return nil, err
	}

	var order orderResponse
	if err := p.client.ParseJSONResponse(resp, &order); err != nil {
		return nil, fmt.Errorf("revolut: failed to parse order response: %w", err)
	}
	return &order, nil
}

func mapOrderState(state string) provider.Status {
	switch strings.ToLower(state) {
	case "completed":
		return provider.StatusSuccess
	case "cancelled":
		return provider.StatusCancelled
	case "failed":
		return provider.StatusFailed
	default:
		return provider.StatusPending
	}
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

func parseTime(value string) *time.Time {
	if value == "" {
		return nil
	}
	t, err := time.Parse(time.RFC3339, value)
	if err != nil {
		return nil
	}
	t = t.UTC()
	return &t
}

// IsConfigured reports whether the API key is present.
func (p *Processor) IsConfigured() bool {
	return p.apiKey != ""
}

// Name returns the gateway name.
func (p *Processor) Name() string {
	return "Revolut"
}
