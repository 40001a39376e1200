package noda

import (
	"context"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/andreiandoo/epas-sub028/infra/config"
	"github.com/andreiandoo/epas-sub028/infra/logger"
	"github.com/andreiandoo/epas-sub028/provider"
)

const (
	apiSandboxURL    = "https://api.sandbox.noda.live/api/v1"
	apiProductionURL = "https://api.noda.live/api/v1"

	endpointPayments = "/payments"
	endpointBanks    = "/banks"

	apiVersion = "2024-01"

	banksCacheTTL = time.Hour

	defaultTimeout = 30 * time.Second
)

// supportedCurrencies are the open-banking rails Noda can settle on:
// SEPA Instant for EUR plus the local instant schemes.
var supportedCurrencies = map[string]bool{
	"EUR": true, "RON": true, "GBP": true, "PLN": true, "CZK": true,
	"BGN": true, "HUF": true, "SEK": true, "DKK": true, "NOK": true, "CHF": true,
}

// currencyCountryMap picks the default bank-selection country for a currency.
var currencyCountryMap = map[string]string{
	"RON": "RO", "GBP": "GB", "PLN": "PL", "CZK": "CZ", "BGN": "BG",
	"HUF": "HU", "SEK": "SE", "DKK": "DK", "NOK": "NO", "CHF": "CH",
	"EUR": "DE",
}

// signatureHeaders are the header names Noda has been observed to use.
var signatureHeaders = []string{
	"X-Noda-Signature", "Noda-Signature", "X-Signature",
}

// Processor implements provider.Processor for Noda open-banking payments.
type Processor struct {
	apiKey       string
	shopID       string
	signatureKey string
	tenantID     string
	cache        *provider.Cache
	client       *provider.GatewayHTTPClient
}

// NewProcessor creates an uninitialized Noda processor.
func NewProcessor() provider.Processor {
	return &Processor{}
}

// SetCache injects the cache that holds per country+currency bank lists.
func (p *Processor) SetCache(c *provider.Cache) {
	p.cache = c
}

// Initialize binds the processor to a tenant's Noda credentials.
func (p *Processor) Initialize(cfg *config.GatewayConfig) error {
	p.apiKey = cfg.Credential("noda_api_key")
	p.shopID = cfg.Credential("noda_shop_id")
	p.signatureKey = cfg.Credential("noda_signature_key")
	p.tenantID = cfg.TenantID
	if p.cache == nil {
		p.cache = provider.NewCache()
	}

	if p.apiKey == "" {
		return &provider.ConfigurationError{Processor: "noda", Field: "noda_api_key", Reason: "is missing"}
	}

	baseURL := apiSandboxURL
	if cfg.IsLive() {
		baseURL = apiProductionURL
	}
	p.client = provider.NewGatewayHTTPClient(&provider.HTTPClientConfig{
		Processor: "noda",
		BaseURL:   baseURL,
		Timeout:   defaultTimeout,
		DefaultHeaders: map[string]string{
			"Authorization": "Bearer " + p.apiKey,
			"X-Api-Version": apiVersion,
			"Accept":        "application/json",
		},
	})
	return nil
}

type paymentResponse struct {
	ID          string `json:"id"`
	PaymentID   string `json:"paymentId"`
	Status      string `json:"status"`
	URL         string `json:"url"`
	CheckoutURL string `json:"checkoutUrl"`
	RedirectURL string `json:"redirectUrl"`
	Amount      int64  `json:"amount"`
	Currency    string `json:"currency"`
	CompletedAt string `json:"completedAt"`
	PaidAt      string `json:"paidAt"`
}

func (r *paymentResponse) paymentID() string {
	if r.ID != "" {
		return r.ID
	}
	return r.PaymentID
}

func (r *paymentResponse) redirect() string {
	for _, u := range []string{r.URL, r.CheckoutURL, r.RedirectURL} {
		if u != "" {
			return u
		}
	}
	return ""
}

// CreatePayment creates an open-banking payment and returns the bank
// selection URL.
func (p *Processor) CreatePayment(ctx context.Context, req provider.PaymentRequest) (*provider.PaymentCreationResult, error) {
	if !p.IsConfigured() {
		return nil, &provider.ConfigurationError{Processor: "noda", Field: "noda_api_key", Reason: "is missing"}
	}
	if err := req.Validate(); err != nil {
		return nil, err
	}
	if !supportedCurrencies[req.Currency] {
		return nil, fmt.Errorf("noda: currency %s is not supported by open banking rails", req.Currency)
	}

	description := req.Description
	if description == "" {
		description = "Payment"
	}

	metadata := map[string]string{
		"order_id":  req.OrderID,
		"tenant_id": p.tenantID,
	}
	if req.CustomerName != "" {
		metadata["customer_name"] = req.CustomerName
	}
	for k, v := range req.Metadata {
		metadata[k] = v
	}

	paymentData := map[string]any{
		"amount":      provider.ToMinorUnits(req.Amount),
		"currency":    req.Currency,
		"description": description,
		"externalId":  req.OrderID,
		"returnUrl":   req.SuccessURL,
		"country":     CountryFromCurrency(req.Currency),
		"metadata":    metadata,
	}
	if p.shopID != "" {
		paymentData["shopId"] = p.shopID
	}
	if req.CustomerEmail != "" {
		paymentData["email"] = req.CustomerEmail
		paymentData["customerId"] = req.CustomerEmail
	}
	if req.WebhookURL != "" {
		paymentData["webhookUrl"] = req.WebhookURL
	}

	resp, err := p.client.SendJSON(ctx, &provider.HTTPRequest{
		Method:   http.MethodPost,
		Endpoint: endpointPayments,
		Body:     paymentData,
	})
	if err != nil {
		return nil, err
	}

	var payment paymentResponse
	if err := p.client.ParseJSONResponse(resp, &payment); err != nil {
		return nil, fmt.Errorf("noda: failed to parse payment response: %w", err)
	}

	return &provider.PaymentCreationResult{
		PaymentID:   payment.paymentID(),
		RedirectURL: payment.redirect(),
		AdditionalData: map[string]string{
			"payment_method": "open_banking",
			"external_id":    req.OrderID,
		},
	}, nil
}

var statusMap = map[string]provider.Status{
	"PENDING":     provider.StatusPending,
	"PROCESSING":  provider.StatusPending,
	"CREATED":     provider.StatusPending,
	"IN_PROGRESS": provider.StatusPending,
	"DONE":        provider.StatusSuccess,
	"COMPLETED":   provider.StatusSuccess,
	"SUCCESS":     provider.StatusSuccess,
	"PAID":        provider.StatusSuccess,
	"FAILED":      provider.StatusFailed,
	"ERROR":       provider.StatusFailed,
	"REJECTED":    provider.StatusFailed,
	"CANCELLED":   provider.StatusCancelled,
	"CANCELED":    provider.StatusCancelled,
	"EXPIRED":     provider.StatusCancelled,
}

// ProcessCallback verifies the webhook signature and normalizes the payload.
func (p *Processor) ProcessCallback(ctx context.Context, payload []byte, headers http.Header) (*provider.CallbackResult, error) {
	if p.signatureKey == "" {
		return nil, &provider.SignatureVerificationError{Processor: "noda", Reason: "signature key not configured"}
	}
	if !p.VerifySignature(payload, headers) {
		return nil, &provider.SignatureVerificationError{Processor: "noda", Reason: "signature mismatch"}
	}

	var body struct {
		ID                string            `json:"id"`
		PaymentID         string            `json:"paymentId"`
		Status            string            `json:"status"`
		PaymentStatus     string            `json:"paymentStatus"`
		ExternalID        string            `json:"externalId"`
		MerchantOrderID   string            `json:"merchantOrderId"`
		Amount            json.Number       `json:"amount"`
		PaymentAmount     json.Number       `json:"paymentAmount"`
		Currency          string            `json:"currency"`
		TransactionID     string            `json:"transactionId"`
		BankTransactionID string            `json:"bankTransactionId"`
		BankName          string            `json:"bankName"`
		CompletedAt       string            `json:"completedAt"`
		PaidAt            string            `json:"paidAt"`
		Metadata          map[string]string `json:"metadata"`
	}
	if err := json.Unmarshal(payload, &body); err != nil {
		return nil, fmt.Errorf("noda: failed to parse webhook payload: %w", err)
	}

	rawStatus := strings.ToUpper(firstNonEmpty(body.Status, body.PaymentStatus))
	status, ok := statusMap[rawStatus]
	if !ok {
		status = provider.StatusPending
	}

	paymentID := firstNonEmpty(body.ID, body.PaymentID)
	orderID := firstNonEmpty(body.ExternalID, body.MerchantOrderID, body.Metadata["order_id"])

	amountMinor, _ := firstNonEmptyNumber(body.Amount, body.PaymentAmount).Int64()

	metadata := map[string]string{"payment_method": "open_banking"}
	for k, v := range body.Metadata {
		metadata[k] = v
	}
	if body.BankName != "" {
		metadata["bank_name"] = body.BankName
	}

	result := &provider.CallbackResult{
		Status:        status,
		PaymentID:     paymentID,
		OrderID:       orderID,
		Amount:        provider.FromMinorUnits(amountMinor),
		Currency:      strings.ToUpper(firstNonEmpty(body.Currency, "EUR")),
		TransactionID: firstNonEmpty(body.TransactionID, body.BankTransactionID, paymentID),
		Metadata:      metadata,
	}
	if status == provider.StatusSuccess {
		result.PaidAt = parseTime(firstNonEmpty(body.CompletedAt, body.PaidAt))
	}
	return result, nil
}

// VerifySignature checks the HMAC-SHA256 signature over the raw payload.
// Noda has shipped both hex and base64 digests, so both encodings of the
// expected digest are accepted.
func (p *Processor) VerifySignature(payload []byte, headers http.Header) bool {
	if p.signatureKey == "" {
		logger.Warn("noda: rejecting webhook, no signature key configured")
		return false
	}

	var received string
	for _, name := range signatureHeaders {
		if v := headers.Get(name); v != "" {
			received = v
			break
		}
	}
	if received == "" {
		logger.Warn("noda: webhook missing signature header")
		return false
	}

	expectedHex := provider.HMACSHA256Hex(payload, p.signatureKey)
	if provider.SecureCompare(expectedHex, received) {
		return true
	}

	raw, err := hex.DecodeString(expectedHex)
	if err != nil {
		return false
	}
	return provider.SecureCompare(base64.StdEncoding.EncodeToString(raw), received)
}

// GetPaymentStatus fetches the payment and maps its status.
func (p *Processor) GetPaymentStatus(ctx context.Context, paymentID string) (*provider.StatusResult, error) {
	if !p.IsConfigured() {
		return nil, &provider.ConfigurationError{Processor: "noda", Field: "noda_api_key", Reason: "is missing"}
	}
	if paymentID == "" {
		return nil, fmt.Errorf("noda: paymentID is required")
	}

	resp, err := p.client.SendJSON(ctx, &provider.HTTPRequest{
		Method:   http.MethodGet,
		Endpoint: endpointPayments + "/" + paymentID,
	})
	if err != nil {
		return nil, err
	}

	var payment paymentResponse
	if err := p.client.ParseJSONResponse(resp, &payment); err != nil {
		return nil, fmt.Errorf("noda: failed to parse payment response: %w", err)
	}

	status, ok := statusMap[strings.ToUpper(payment.Status)]
	if !ok {
		status = provider.StatusPending
	}

	result := &provider.StatusResult{
		Status:   status,
		Amount:   provider.FromMinorUnits(payment.Amount),
		Currency: strings.ToUpper(firstNonEmpty(payment.Currency, "EUR")),
	}
	if status == provider.StatusSuccess {
		result.PaidAt = parseTime(firstNonEmpty(payment.CompletedAt, payment.PaidAt))
	}
	return result, nil
}

// RefundPayment asks for an open-banking refund. Some banks process these
// manually, in which case the result stays pending.
func (p *Processor) RefundPayment(ctx context.Context, req provider.RefundRequest) (*provider.RefundResult, error) {
	if !p.IsConfigured() {
		return nil, &provider.ConfigurationError{Processor: "noda", Field: "noda_api_key", Reason: "is missing"}
	}

	reason := req.Reason
	if reason == "" {
		reason = "Customer requested refund"
	}
	refundData := map[string]any{"reason": reason}
	if req.Amount > 0 {
		refundData["amount"] = provider.ToMinorUnits(req.Amount)
	}

	resp, err := p.client.SendJSON(ctx, &provider.HTTPRequest{
		Method:   http.MethodPost,
		Endpoint: endpointPayments + "/" + req.PaymentID + "/refund",
		Body:     refundData,
	})
	if err != nil {
		return nil, err
	}

	var refund struct {
		ID       string `json:"id"`
		RefundID string `json:"refundId"`
		Amount   int64  `json:"amount"`
	}
	if err := p.client.ParseJSONResponse(resp, &refund); err != nil {
		return nil, fmt.Errorf("noda: failed to parse refund response: %w", err)
	}

	refundID := firstNonEmpty(refund.ID, refund.RefundID)
	if refundID == "" {
		refundID = req.PaymentID + "_refund"
	}
	amount := provider.FromMinorUnits(refund.Amount)
	if amount == 0 {
		amount = req.Amount
	}
	return &provider.RefundResult{
		RefundID: refundID,
		Status:   provider.StatusSuccess,
		Amount:   amount,
	}, nil
}

// Bank is one entry of the bank-selection list.
type Bank struct {
	ID      string `json:"id"`
	Name    string `json:"name"`
	Country string `json:"country"`
	Logo    string `json:"logo,omitempty"`
}

// AvailableBanks lists the banks reachable for a country and currency. The
// list changes rarely and is cached for an hour.
func (p *Processor) AvailableBanks(ctx context.Context, countryCode, currency string) ([]Bank, error) {
	if !p.IsConfigured() {
		return nil, &provider.ConfigurationError{Processor: "noda", Field: "noda_api_key", Reason: "is missing"}
	}

	countryCode = strings.ToUpper(countryCode)
	currency = strings.ToUpper(currency)
	cacheKey := "noda_banks_" + countryCode + "_" + currency
	if cached, ok := p.cache.Get(cacheKey); ok {
		return cached.([]Bank), nil
	}

	query := url.Values{}
	query.Set("country", countryCode)
	query.Set("currency", currency)

	resp, err := p.client.SendJSON(ctx, &provider.HTTPRequest{
		Method:      http.MethodGet,
		Endpoint:    endpointBanks,
		QueryParams: query,
	})
	if err != nil {
		return nil, err
	}

	var wrapped struct {
		Banks []Bank `json:"banks"`
	}
	var banks []Bank
	if err := p.client.ParseJSONResponse(resp, &wrapped); err == nil && wrapped.Banks != nil {
		banks = wrapped.Banks
	} else if err := p.client.ParseJSONResponse(resp, &banks); err != nil {
		// Some API versions return the bare array.
		return nil, fmt.Errorf("noda: failed to parse banks response: %w", err)
	}

	p.cache.Set(cacheKey, banks, banksCacheTTL)
	return banks, nil
}

// CountryFromCurrency picks the default bank-selection country for a
// currency. EUR defaults to Germany.
func CountryFromCurrency(currency string) string {
	if country, ok := currencyCountryMap[strings.ToUpper(currency)]; ok {
		return country
	}
	return "DE"
}

// IsConfigured reports whether the API key is present.
func (p *Processor) IsConfigured() bool {
	return p.apiKey != ""
}

// Name returns the gateway name.
func (p *Processor) Name() string {
	return "Noda Open Banking"
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

func firstNonEmptyNumber(values ...json.Number) json.Number {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return "0"
}

// parseTime returns nil for a missing or malformed timestamp so repeated
// deliveries of the same webhook produce identical results.
func parseTime(value string) *time.Time {
	t, err := time.Parse(time.RFC3339, value)
	if err != nil {
		return nil
	}
	t = t.UTC()
	return &t
}
