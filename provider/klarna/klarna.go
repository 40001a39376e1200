package klarna

import (
	"context"
	"encoding/base64"
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
	endpointSessions    = "/payments/v1/sessions"
	endpointHPPSessions = "/hpp/v1/sessions"
	endpointAuthOrder   = "/payments/v1/authorizations/%s/order"
	endpointOrder       = "/ordermanagement/v1/orders/%s"
	endpointCaptures    = "/ordermanagement/v1/orders/%s/captures"
	endpointRefunds     = "/ordermanagement/v1/orders/%s/refunds"

	defaultTimeout = 30 * time.Second
)

// regionEndpoints maps region x mode to the Klarna API host.
var regionEndpoints = map[string]map[string]string{
	"eu": {"sandbox": "https://api.playground.klarna.com", "production": "https://api.klarna.com"},
	"na": {"sandbox": "https://api-na.playground.klarna.com", "production": "https://api-na.klarna.com"},
	"oc": {"sandbox": "https://api-oc.playground.klarna.com", "production": "https://api-oc.klarna.com"},
}

// Processor implements provider.Processor for Klarna Buy Now Pay Later.
type Processor struct {
	apiUsername string
	apiPassword string
	client      *provider.GatewayHTTPClient
}

// NewProcessor creates an uninitialized Klarna processor.
func NewProcessor() provider.Processor {
	return &Processor{}
}

// Initialize binds the processor to a tenant's Klarna credentials.
func (p *Processor) Initialize(cfg *config.GatewayConfig) error {
	p.apiUsername = cfg.Credential("klarna_api_username")
	p.apiPassword = cfg.Credential("klarna_api_password")

	if p.apiUsername == "" {
		return &provider.ConfigurationError{Processor: "klarna", Field: "klarna_api_username", Reason: "is missing"}
	}
	if p.apiPassword == "" {
		return &provider.ConfigurationError{Processor: "klarna", Field: "klarna_api_password", Reason: "is missing"}
	}

	region := cfg.Credential("klarna_region")
	if _, ok := regionEndpoints[region]; !ok {
		region = "eu"
	}
	mode := "sandbox"
	if cfg.IsLive() {
		mode = "production"
	}

	p.client = provider.NewGatewayHTTPClient(&provider.HTTPClientConfig{
		Processor: "klarna",
		BaseURL:   regionEndpoints[region][mode],
		Timeout:   defaultTimeout,
		DefaultHeaders: map[string]string{
			"Authorization": basicAuth(p.apiUsername, p.apiPassword),
		},
	})
	return nil
}

type orderDetails struct {
	OrderID          string `json:"order_id"`
	Status           string `json:"status"`
	OrderAmount      int64  `json:"order_amount"`
	CapturedAmount   int64  `json:"captured_amount"`
	PurchaseCurrency string `json:"purchase_currency"`
	MerchantRef      string `json:"merchant_reference1"`
}

// CreatePayment creates a payments session plus a hosted payment page and
// returns the page URL.
func (p *Processor) CreatePayment(ctx context.Context, req provider.PaymentRequest) (*provider.PaymentCreationResult, error) {
	if !p.IsConfigured() {
		return nil, &provider.ConfigurationError{Processor: "klarna", Reason: "api credentials are missing"}
	}
	if err := req.Validate(); err != nil {
		return nil, err
	}

	amountMinor := provider.ToMinorUnits(req.Amount)
	description := req.Description
	if description == "" {
		description = "Payment"
	}

	country := PurchaseCountry(req.Currency)
	notificationURL := req.WebhookURL
	if notificationURL == "" {
		notificationURL = req.SuccessURL + "?notification=true"
	}

	sessionData := map[string]any{
		"purchase_country":    country,
		"purchase_currency":   req.Currency,
		"locale":              Locale(req.Currency),
		"order_amount":        amountMinor,
		"order_tax_amount":    0,
		"merchant_reference1": req.OrderID,
		"order_lines": []map[string]any{{
			"type":             "digital",
			"reference":        req.OrderID,
			"name":             description,
			"quantity":         1,
			"unit_price":       amountMinor,
			"total_amount":     amountMinor,
			"tax_rate":         0,
			"total_tax_amount": 0,
		}},
		"merchant_urls": map[string]any{
			"confirmation": req.SuccessURL,
			"notification": notificationURL,
		},
	}
	if req.CustomerEmail != "" {
		billing := map[string]any{"email": req.CustomerEmail}
		if req.CustomerName != "" {
			given, family, _ := strings.Cut(req.CustomerName, " ")
			billing["given_name"] = given
			billing["family_name"] = family
		}
		sessionData["billing_address"] = billing
	}

	resp, err := p.client.SendJSON(ctx, &provider.HTTPRequest{
		Method:   http.MethodPost,
		Endpoint: endpointSessions,
		Body:     sessionData,
	})
	if err != nil {
		return nil, err
	}

	var session struct {
		SessionID   string `json:"session_id"`
		ClientToken string `json:"client_token"`
	}
	if err := p.client.ParseJSONResponse(resp, &session); err != nil {
		return nil, fmt.Errorf("klarna: failed to parse session response: %w", err)
	}

	hppData := map[string]any{}
	for k, v := range sessionData {
		hppData[k] = v
	}
	hppData["merchant_urls"] = map[string]any{
		"success":       req.SuccessURL,
		"cancel":        req.CancelURL,
		"back":          req.CancelURL,
		"failure":       req.CancelURL,
		"status_update": notificationURL,
	}

	hppResp, err := p.client.SendJSON(ctx, &provider.HTTPRequest{
		Method:   http.MethodPost,
		Endpoint: endpointHPPSessions,
		Body:     hppData,
	})
	if err != nil {
		return nil, err
	}

	var hpp struct {
		SessionID   string `json:"session_id"`
		RedirectURL string `json:"redirect_url"`
	}
	if err := p.client.ParseJSONResponse(hppResp, &hpp); err != nil {
		return nil, fmt.Errorf("klarna: failed to parse payment page response: %w", err)
	}

	return &provider.PaymentCreationResult{
		PaymentID:   session.SessionID,
		RedirectURL: hpp.RedirectURL,
		AdditionalData: map[string]string{
			"client_token":   session.ClientToken,
			"hpp_session_id": hpp.SessionID,
		},
	}, nil
}

var orderStatusMap = map[string]provider.Status{
	"AUTHORIZED":    provider.StatusSuccess,
	"CAPTURED":      provider.StatusSuccess,
	"PART_CAPTURED": provider.StatusSuccess,
	"CLOSED":        provider.StatusSuccess,
	"CANCELLED":     provider.StatusCancelled,
	"EXPIRED":       provider.StatusCancelled,
	"PENDING":       provider.StatusPending,
}

// ProcessCallback handles both Klarna callback shapes: order notifications
// (order_id) and session authorizations (authorization_token). Klarna
// callbacks carry no signature; authenticity comes from resolving the order
// over the authenticated API, so missing credentials reject the delivery.
func (p *Processor) ProcessCallback(ctx context.Context, payload []byte, headers http.Header) (*provider.CallbackResult, error) {
	if !p.IsConfigured() {
		return nil, &provider.SignatureVerificationError{Processor: "klarna", Reason: "api credentials not configured"}
	}

	var body struct {
		OrderID            string          `json:"order_id"`
		AuthorizationToken string          `json:"authorization_token"`
		PurchaseCountry    string          `json:"purchase_country"`
		PurchaseCurrency   string          `json:"purchase_currency"`
		OrderAmount        int64           `json:"order_amount"`
		OrderTaxAmount     int64           `json:"order_tax_amount"`
		OrderLines         json.RawMessage `json:"order_lines"`
		MerchantRef        string          `json:"merchant_reference1"`
	}
	if err := json.Unmarshal(payload, &body); err != nil {
		return nil, fmt.Errorf("klarna: failed to parse callback payload: %w", err)
	}

	switch {
	case body.OrderID != "":
		order, err := p.fetchOrder(ctx, body.OrderID)
		if err != nil {
			return nil, err
		}

		status, ok := orderStatusMap[order.Status]
		if !ok {
			status = provider.StatusPending
		}

		result := &provider.CallbackResult{
			Status:        status,
			PaymentID:     body.OrderID,
			OrderID:       order.MerchantRef,
			Amount:        provider.FromMinorUnits(order.OrderAmount),
			Currency:      strings.ToUpper(order.PurchaseCurrency),
			TransactionID: body.OrderID,
		}
		if order.Status == "AUTHORIZED" {
			if err := p.captureOrder(ctx, body.OrderID, order.OrderAmount); err != nil {
				logger.Error("klarna: auto-capture failed", err)
			}
		}
		return result, nil

	case body.AuthorizationToken != "":
		orderID, err := p.createOrderFromAuthorization(ctx, body.AuthorizationToken, map[string]any{
			"purchase_country":    firstNonEmpty(body.PurchaseCountry, "DE"),
			"purchase_currency":   firstNonEmpty(body.PurchaseCurrency, "EUR"),
			"order_amount":        body.OrderAmount,
			"order_tax_amount":    body.OrderTaxAmount,
			"order_lines":         body.OrderLines,
			"merchant_reference1": body.MerchantRef,
		})
		if err != nil {
			return nil, err
		}
		return &provider.CallbackResult{
			Status:        provider.StatusSuccess,
			PaymentID:     orderID,
			OrderID:       body.MerchantRef,
			Amount:        provider.FromMinorUnits(body.OrderAmount),
			Currency:      strings.ToUpper(firstNonEmpty(body.PurchaseCurrency, "EUR")),
			TransactionID: orderID,
		}, nil

	default:
		return &provider.CallbackResult{Status: provider.StatusPending}, nil
	}
}

func (p *Processor) createOrderFromAuthorization(ctx context.Context, token string, orderData map[string]any) (string, error) {
	resp, err := p.client.SendJSON(ctx, &provider.HTTPRequest{
		Method:   http.MethodPost,
		Endpoint: fmt.Sprintf(endpointAuthOrder, token),
		Body:     orderData,
	})
	if err != nil {
		return "", err
	}

	var order struct {
		OrderID string `json:"order_id"`
	}
	if err := p.client.ParseJSONResponse(resp, &order); err != nil {
		return "", fmt.Errorf("klarna: failed to parse order response: %w", err)
	}
	return order.OrderID, nil
}

// VerifySignature reports whether callbacks can be authenticated. Klarna
// protects notifications through the basic-auth API rather than payload
// signatures, so the gate is credential presence.
func (p *Processor) VerifySignature(payload []byte, headers http.Header) bool {
	if !p.IsConfigured() {
		logger.Warn("klarna: rejecting callback, no api credentials configured")
		return false
	}
	return true
}

// GetPaymentStatus fetches the order and maps its state.
func (p *Processor) GetPaymentStatus(ctx context.Context, paymentID string) (*provider.StatusResult, error) {
	if !p.IsConfigured() {
		return nil, &provider.ConfigurationError{Processor: "klarna", Reason: "api credentials are missing"}
	}

	order, err := p.fetchOrder(ctx, paymentID)
	if err != nil {
		return nil, err
	}

	status, ok := orderStatusMap[order.Status]
	if !ok {
		status = provider.StatusPending
	}

	result := &provider.StatusResult{
		Status:   status,
		Amount:   provider.FromMinorUnits(order.OrderAmount),
		Currency: strings.ToUpper(order.PurchaseCurrency),
	}
	return result, nil
}

// RefundPayment refunds through order management; a zero amount refunds
// everything captured.
func (p *Processor) RefundPayment(ctx context.Context, req provider.RefundRequest) (*provider.RefundResult, error) {
	if !p.IsConfigured() {
		return nil, &provider.ConfigurationError{Processor: "klarna", Reason: "api credentials are missing"}
	}

	order, err := p.fetchOrder(ctx, req.PaymentID)
	if err != nil {
		return nil, err
	}

	refundAmount := provider.ToMinorUnits(req.Amount)
	if refundAmount == 0 {
		refundAmount = order.CapturedAmount
		if refundAmount == 0 {
			refundAmount = order.OrderAmount
		}
	}

	refundData := map[string]any{"refunded_amount": refundAmount}
	if req.Reason != "" {
		refundData["description"] = req.Reason
	}

	resp, err := p.client.SendJSON(ctx, &provider.HTTPRequest{
		Method:   http.MethodPost,
		Endpoint: fmt.Sprintf(endpointRefunds, req.PaymentID),
		Body:     refundData,
	})
	if err != nil {
		return nil, err
	}

	refundID := req.PaymentID + "_refund"
	if len(resp.Body) > 0 {
		var refund struct {
			RefundID string `json:"refund_id"`
		}
		if err := p.client.ParseJSONResponse(resp, &refund); err == nil && refund.RefundID != "" {
			refundID = refund.RefundID
		}
	}

	return &provider.RefundResult{
		RefundID: refundID,
		Status:   provider.StatusSuccess,
		Amount:   provider.FromMinorUnits(refundAmount),
	}, nil
}

func (p *Processor) fetchOrder(ctx context.Context, orderID string) (*orderDetails, error) {
	if orderID == "" {
		return nil, fmt.Errorf("klarna: paymentID is required")
	}

	resp, err := p.client.SendJSON(ctx, &provider.HTTPRequest{
		Method:   http.MethodGet,
		Endpoint: fmt.Sprintf(endpointOrder, orderID),
	})
	if err != nil {
		return nil, err
	}

	var order orderDetails
	if err := p.client.ParseJSONResponse(resp, &order); err != nil {
		return nil, fmt.Errorf("klarna: failed to parse order response: %w", err)
	}
	return &order, nil
}

func (p *Processor) captureOrder(ctx context.Context, orderID string, amountMinor int64) error {
	_, err := p.client.SendJSON(ctx, &provider.HTTPRequest{
		Method:   http.MethodPost,
		Endpoint: fmt.Sprintf(endpointCaptures, orderID),
		Body:     map[string]any{"captured_amount": amountMinor},
	})
	return err
}

// PurchaseCountry picks the purchase country for a currency.
func PurchaseCountry(currency string) string {
	switch strings.ToUpper(currency) {
	case "SEK":
		return "SE"
	case "NOK":
		return "NO"
	case "DKK":
		return "DK"
	case "GBP":
		return "GB"
	case "USD":
		return "US"
	case "CHF":
		return "CH"
	case "PLN":
		return "PL"
	case "AUD":
		return "AU"
	case "NZD":
		return "NZ"
	case "CAD":
		return "CA"
	default:
		return "DE"
	}
}

// Locale derives the checkout locale from the currency's purchase country.
func Locale(currency string) string {
	return "en-" + PurchaseCountry(currency)
}

// IsConfigured reports whether the basic-auth credentials are present.
func (p *Processor) IsConfigured() bool {
	return p.apiUsername != "" && p.apiPassword != ""
}

// Name returns the gateway name.
func (p *Processor) Name() string {
	return "Klarna"
}

func basicAuth(user, pass string) string {
	return "Basic " + base64.StdEncoding.EncodeToString([]byte(user+":"+pass))
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
