// Package euplatesc integrates the EuPlatesc card gateway. EuPlatesc has no
// JSON API: payments leave as signed form POSTs to the hosted payment page
// and results come back as signed form-encoded callbacks.
package euplatesc

import (
	"context"
	"encoding/hex"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/andreiandoo/epas-sub028/infra/config"
	"github.com/andreiandoo/epas-sub028/infra/logger"
	"github.com/andreiandoo/epas-sub028/provider"
)

const (
	gatewayURL    = "https://secure.euplatesc.ro/tdsprocess/tranzactd.php"
	webServiceURL = "https://manager.euplatesc.ro/v3/?action=ws"

	timestampLayout = "20060102150405"

	defaultTimeout = 30 * time.Second
)

// Processor implements provider.Processor for EuPlatesc.
type Processor struct {
	merchantID string
	secretKey  []byte // hex-decoded signing key
	client     *provider.GatewayHTTPClient
}

// NewProcessor creates an uninitialized EuPlatesc processor.
func NewProcessor() provider.Processor {
	return &Processor{}
}

// Initialize binds the processor to a tenant's EuPlatesc credentials. The
// secret key is hex-encoded in the merchant panel and is decoded once here.
func (p *Processor) Initialize(cfg *config.GatewayConfig) error {
	p.merchantID = cfg.Credential("euplatesc_merchant_id")
	secret := cfg.Credential("euplatesc_secret_key")

	if p.merchantID == "" {
		return &provider.ConfigurationError{Processor: "euplatesc", Field: "euplatesc_merchant_id", Reason: "is missing"}
	}
	if secret == "" {
		return &provider.ConfigurationError{Processor: "euplatesc", Field: "euplatesc_secret_key", Reason: "is missing"}
	}

	key, err := hex.DecodeString(secret)
	if err != nil {
		return &provider.ConfigurationError{Processor: "euplatesc", Field: "euplatesc_secret_key", Reason: "is not valid hex"}
	}
	p.secretKey = key

	p.client = provider.NewGatewayHTTPClient(&provider.HTTPClientConfig{
		Processor: "euplatesc",
		BaseURL:   webServiceURL,
		Timeout:   defaultTimeout,
	})
	return nil
}

// CreatePayment builds the signed form the customer's browser POSTs to the
// hosted payment page. No network call happens here.
func (p *Processor) CreatePayment(ctx context.Context, req provider.PaymentRequest) (*provider.PaymentCreationResult, error) {
	if !p.IsConfigured() {
		return nil, &provider.ConfigurationError{Processor: "euplatesc", Field: "euplatesc_merchant_id", Reason: "is missing"}
	}
	if err := req.Validate(); err != nil {
		return nil, err
	}

	amount := provider.FormatAmount(req.Amount)
	timestamp := time.Now().UTC().Format(timestampLayout)
	nonce := config.Nonce(16)
	description := req.Description
	if description == "" {
		description = "Order " + req.OrderID
	}

	fpHash := p.sign(amount, req.Currency, req.OrderID, description, p.merchantID, timestamp, nonce)

	fields := map[string]string{
		"amount":     amount,
		"curr":       req.Currency,
		"invoice_id": req.OrderID,
		"order_desc": description,
		"merch_id":   p.merchantID,
		"timestamp":  timestamp,
		"nonce":      nonce,
		"fp_hash":    fpHash,
		"ExtraData":  "silenturl=" + req.WebhookURL,
	}
	if req.SuccessURL != "" {
		fields["success_url"] = req.SuccessURL
	}
	if req.CancelURL != "" {
		fields["fail_url"] = req.CancelURL
	}
	if req.CustomerEmail != "" {
		fields["email"] = req.CustomerEmail
	}
	if req.CustomerName != "" {
		fields["fname"] = req.CustomerName
	}

	return &provider.PaymentCreationResult{
		PaymentID:   req.OrderID,
		RedirectURL: gatewayURL,
		HTTPMethod:  http.MethodPost,
		FormFields:  fields,
	}, nil
}

// ProcessCallback verifies and normalizes the form-encoded silent callback.
func (p *Processor) ProcessCallback(ctx context.Context, payload []byte, headers http.Header) (*provider.CallbackResult, error) {
	if len(p.secretKey) == 0 {
		return nil, &provider.SignatureVerificationError{Processor: "euplatesc", Reason: "secret key not configured"}
	}

	values, err := url.ParseQuery(string(payload))
	if err != nil {
		return nil, fmt.Errorf("euplatesc: failed to parse callback payload: %w", err)
	}
	if !p.verifyValues(values) {
		return nil, &provider.SignatureVerificationError{Processor: "euplatesc", Reason: "fp_hash mismatch"}
	}

	amount := parseAmount(values.Get("amount"))
	action := values.Get("action")
	approval := values.Get("approval")

	// action "0" with an approval code is an approved transaction; any
	// other action is a decline or gateway error.
	status := provider.StatusFailed
	if action == "0" && approval != "" {
		status = provider.StatusSuccess
	}

	result := &provider.CallbackResult{
		Status:        status,
		PaymentID:     values.Get("ep_id"),
		OrderID:       values.Get("invoice_id"),
		Amount:        amount,
		Currency:      strings.ToUpper(values.Get("curr")),
		TransactionID: values.Get("ep_id"),
		Metadata: map[string]string{
			"action":   action,
			"message":  values.Get("message"),
			"approval": approval,
		},
	}
	if status == provider.StatusSuccess {
		result.PaidAt = parseTimestamp(values.Get("timestamp"))
	}
	return result, nil
}

// VerifySignature checks the fp_hash over the callback's len+value chain.
func (p *Processor) VerifySignature(payload []byte, headers http.Header) bool {
	if len(p.secretKey) == 0 {
		logger.Warn("euplatesc: rejecting callback, no secret key configured")
		return false
	}
	values, err := url.ParseQuery(string(payload))
	if err != nil {
		return false
	}
	return p.verifyValues(values)
}

func (p *Processor) verifyValues(values url.Values) bool {
	received := strings.ToLower(values.Get("fp_hash"))
	if received == "" {
		return false
	}
	expected := p.sign(
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
	return provider.SecureCompare(expected, received)
}

// GetPaymentStatus queries the merchant web service for a transaction.
func (p *Processor) GetPaymentStatus(ctx context.Context, paymentID string) (*provider.StatusResult, error) {
	values, err := p.callWebService(ctx, "check_status", paymentID)
	if err != nil {
		return nil, err
	}

	status := provider.StatusPending
	switch values.Get("status") {
	case "captured", "approved":
		status = provider.StatusSuccess
	case "declined", "error":
		status = provider.StatusFailed
	case "cancelled", "reversed":
		status = provider.StatusCancelled
	case "refunded":
		status = provider.StatusRefunded
	}

	return &provider.StatusResult{
		Status:   status,
		Amount:   parseAmount(values.Get("amount")),
		Currency: strings.ToUpper(values.Get("curr")),
	}, nil
}

// RefundPayment refunds a captured transaction through the web service.
func (p *Processor) RefundPayment(ctx context.Context, req provider.RefundRequest) (*provider.RefundResult, error) {
	values, err := p.callWebService(ctx, "refund", req.PaymentID, provider.FormatAmount(req.Amount))
	if err != nil {
		return nil, err
	}
	if e := values.Get("error"); e != "" {
		return nil, fmt.Errorf("euplatesc: refund rejected: %s", e)
	}

	amount := req.Amount
	if v := values.Get("amount"); v != "" {
		amount = parseAmount(v)
	}
	return &provider.RefundResult{
		RefundID: req.PaymentID + "_refund",
		Status:   provider.StatusSuccess,
		Amount:   amount,
	}, nil
}

// callWebService signs and POSTs a merchant web-service request. extra
// carries method-specific trailing chain values, the refund amount for
// refunds.
func (p *Processor) callWebService(ctx context.Context, method, epID string, extra ...string) (url.Values, error) {
	if !p.IsConfigured() {
		return nil, &provider.ConfigurationError{Processor: "euplatesc", Field: "euplatesc_merchant_id", Reason: "is missing"}
	}
	if epID == "" {
		return nil, fmt.Errorf("euplatesc: paymentID is required")
	}

	timestamp := time.Now().UTC().Format(timestampLayout)
	nonce := config.Nonce(16)

	chain := append([]string{method, p.merchantID, epID}, extra...)
	chain = append(chain, timestamp, nonce)
	fpHash := p.sign(chain...)

	form := url.Values{}
	form.Set("method", method)
	form.Set("mid", p.merchantID)
	form.Set("epid", epID)
	for i, v := range extra {
		form.Set(fmt.Sprintf("param%d", i+1), v)
	}
	form.Set("timestamp", timestamp)
	form.Set("nonce", nonce)
	form.Set("fp_hash", fpHash)

	resp, err := p.client.SendForm(ctx, &provider.HTTPRequest{
		Method:   http.MethodPost,
		Endpoint: webServiceURL,
		FormData: form,
	})
	if err != nil {
		return nil, err
	}

	values, err := url.ParseQuery(string(resp.Body))
	if err != nil {
		return nil, fmt.Errorf("euplatesc: failed to parse web-service response: %w", err)
	}
	return values, nil
}

// sign computes the lowercase hex HMAC-MD5 over the len+value chain.
func (p *Processor) sign(values ...string) string {
	chain := provider.LenValueChain(values...)
	return strings.ToLower(provider.HMACMD5Hex([]byte(chain), p.secretKey))
}

func parseAmount(value string) float64 {
	f, err := strconv.ParseFloat(strings.TrimSpace(value), 64)
	if err != nil {
		return 0
	}
	return f
}

// parseTimestamp returns nil for a missing or malformed timestamp so
// repeated deliveries of the same callback produce identical results.
func parseTimestamp(value string) *time.Time {
	t, err := time.Parse(timestampLayout, value)
	if err != nil {
		return nil
	}
	u := t.UTC()
	return &u
}

// IsConfigured reports whether merchant id and secret key are present.
func (p *Processor) IsConfigured() bool {
	return p.merchantID != "" && len(p.secretKey) > 0
}

// Name returns the gateway name.
func (p *Processor) Name() string {
	return "EuPlatesc"
}
