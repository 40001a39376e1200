// Package payu integrates PayU's classic LiveUpdate flow: a signed form
// POST starts the payment and an IPN POST signed with the same HMAC-MD5
// len+value scheme reports the outcome.
package payu

import (
	"context"
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
	liveUpdateURL        = "https://secure.payu.ro/order/lu.php"
	sandboxLiveUpdateURL = "https://sandbox.payu.ro/order/lu.php"
	iosURL               = "https://secure.payu.ro/order/ios.php"
	sandboxIOSURL        = "https://sandbox.payu.ro/order/ios.php"
	irnURL               = "https://secure.payu.ro/order/irn.php"
	sandboxIRNURL        = "https://sandbox.payu.ro/order/irn.php"

	orderDateLayout = "2006-01-02 15:04:05"

	defaultTimeout = 30 * time.Second
)

// luFieldOrder is the field order the ORDER_HASH chain must follow.
var luFieldOrder = []string{
	"MERCHANT", "ORDER_REF", "ORDER_DATE",
	"ORDER_PNAME[0]", "ORDER_PCODE[0]", "ORDER_PINFO[0]", "ORDER_PRICE[0]",
	"ORDER_QTY[0]", "ORDER_VAT[0]",
	"PRICES_CURRENCY",
}

// Processor implements provider.Processor for PayU.
type Processor struct {
	merchantID string
	secretKey  string
	sandbox    bool
	client     *provider.GatewayHTTPClient
}

// NewProcessor creates an uninitialized PayU processor.
func NewProcessor() provider.Processor {
	return &Processor{}
}

// Initialize binds the processor to a tenant's PayU credentials.
func (p *Processor) Initialize(cfg *config.GatewayConfig) error {
	p.merchantID = cfg.Credential("payu_merchant_id")
	p.secretKey = cfg.Credential("payu_secret_key")
	p.sandbox = !cfg.IsLive()

	if p.merchantID == "" {
		return &provider.ConfigurationError{Processor: "payu", Field: "payu_merchant_id", Reason: "is missing"}
	}
	if p.secretKey == "" {
		return &provider.ConfigurationError{Processor: "payu", Field: "payu_secret_key", Reason: "is missing"}
	}

	p.client = provider.NewGatewayHTTPClient(&provider.HTTPClientConfig{
		Processor: "payu",
		Timeout:   defaultTimeout,
	})
	return nil
}

// CreatePayment builds the signed LiveUpdate form. No network call happens
// here; the customer's browser POSTs the form to PayU.
func (p *Processor) CreatePayment(ctx context.Context, req provider.PaymentRequest) (*provider.PaymentCreationResult, error) {
	if !p.IsConfigured() {
		return nil, &provider.ConfigurationError{Processor: "payu", Field: "payu_merchant_id", Reason: "is missing"}
	}
	if err := req.Validate(); err != nil {
		return nil, err
	}

	description := req.Description
	if description == "" {
		description = "Order " + req.OrderID
	}

	fields := map[string]string{
		"MERCHANT":        p.merchantID,
		"ORDER_REF":       req.OrderID,
		"ORDER_DATE":      time.Now().UTC().Format(orderDateLayout),
		"ORDER_PNAME[0]":  description,
		"ORDER_PCODE[0]":  req.OrderID,
		"ORDER_PINFO[0]":  "",
		"ORDER_PRICE[0]":  provider.FormatAmount(req.Amount),
		"ORDER_QTY[0]":    "1",
		"ORDER_VAT[0]":    "0",
		"PRICES_CURRENCY": req.Currency,
	}

	chain := make([]string, 0, len(luFieldOrder))
	for _, name := range luFieldOrder {
		chain = append(chain, fields[name])
	}
	fields["ORDER_HASH"] = p.sign(chain...)

	if req.SuccessURL != "" {
		fields["BACK_REF"] = req.SuccessURL
	}
	if req.CustomerEmail != "" {
		fields["BILL_EMAIL"] = req.CustomerEmail
	}
	if req.CustomerName != "" {
		fields["BILL_FNAME"] = req.CustomerName
	}
	if req.CustomerPhone != "" {
		fields["BILL_PHONE"] = req.CustomerPhone
	}

	gateway := liveUpdateURL
	if p.sandbox {
		gateway = sandboxLiveUpdateURL
	}

	return &provider.PaymentCreationResult{
		PaymentID:   req.OrderID,
		RedirectURL: gateway,
		HTTPMethod:  http.MethodPost,
		FormFields:  fields,
	}, nil
}

var orderStatusMap = map[string]provider.Status{
	"PAYMENT_AUTHORIZED": provider.StatusSuccess,
	"PAYMENT_RECEIVED":   provider.StatusSuccess,
	"COMPLETE":           provider.StatusSuccess,
	"CANCELED":           provider.StatusCancelled,
	"VOIDED":             provider.StatusCancelled,
	"REFUND":             provider.StatusRefunded,
	"WAITING_PAYMENT":    provider.StatusPending,
}

// ProcessCallback verifies and normalizes an IPN delivery.
func (p *Processor) ProcessCallback(ctx context.Context, payload []byte, headers http.Header) (*provider.CallbackResult, error) {
	if p.secretKey == "" {
		return nil, &provider.SignatureVerificationError{Processor: "payu", Reason: "secret key not configured"}
	}
	if !p.VerifySignature(payload, headers) {
		return nil, &provider.SignatureVerificationError{Processor: "payu", Reason: "ipn hash mismatch"}
	}

	values, err := url.ParseQuery(string(payload))
	if err != nil {
		return nil, fmt.Errorf("payu: failed to parse ipn payload: %w", err)
	}

	rawStatus := strings.ToUpper(values.Get("ORDERSTATUS"))
	status, ok := orderStatusMap[rawStatus]
	if !ok {
		status = provider.StatusFailed
	}

	amount := parseAmount(values.Get("IPN_TOTALGENERAL"))
	if amount == 0 {
		amount = parseAmount(values.Get("ORDER_PRICE[0]"))
	}

	result := &provider.CallbackResult{
		Status:        status,
		PaymentID:     values.Get("REFNO"),
		OrderID:       values.Get("REFNOEXT"),
		Amount:        amount,
		Currency:      strings.ToUpper(values.Get("CURRENCY")),
		TransactionID: values.Get("REFNO"),
		Metadata: map[string]string{
			"order_status": rawStatus,
			"pay_method":   values.Get("PAYMETHOD"),
		},
	}
	if status == provider.StatusSuccess {
		result.PaidAt = parseOrderDate(values.Get("COMPLETE_DATE"), values.Get("ORDER_DATE"))
	}
	return result, nil
}

// VerifySignature recomputes the IPN HASH over every received field except
// HASH, in wire order.
func (p *Processor) VerifySignature(payload []byte, headers http.Header) bool {
	if p.secretKey == "" {
		logger.Warn("payu: rejecting ipn, no secret key configured")
		return false
	}

	received := ""
	var chain []string
	for _, pair := range strings.Split(string(payload), "&") {
		key, value, _ := strings.Cut(pair, "=")
		decoded, err := url.QueryUnescape(value)
		if err != nil {
			return false
		}
		name, err := url.QueryUnescape(key)
		if err != nil {
			return false
		}
		if name == "HASH" {
			received = decoded
			continue
		}
		chain = append(chain, decoded)
	}
	if received == "" {
		return false
	}

	expected := p.sign(chain...)
	return provider.SecureCompare(expected, strings.ToLower(received))
}

// IPNResponse builds the acknowledgement body PayU expects after a
// processed IPN.
func (p *Processor) IPNResponse(when time.Time) string {
	date := when.UTC().Format("20060102150405")
	hash := p.sign(date)
	return "<EPAYMENT>" + date + "|" + hash + "</EPAYMENT>"
}

// GetPaymentStatus queries the instant order status endpoint.
func (p *Processor) GetPaymentStatus(ctx context.Context, paymentID string) (*provider.StatusResult, error) {
	if !p.IsConfigured() {
		return nil, &provider.ConfigurationError{Processor: "payu", Field: "payu_merchant_id", Reason: "is missing"}
	}
	if paymentID == "" {
		return nil, fmt.Errorf("payu: paymentID is required")
	}

	hash := p.sign(p.merchantID, paymentID)

	query := url.Values{}
	query.Set("MERCHANT", p.merchantID)
	query.Set("REFNOEXT", paymentID)
	query.Set("HASH", hash)

	endpoint := iosURL
	if p.sandbox {
		endpoint = sandboxIOSURL
	}

	resp, err := p.client.SendForm(ctx, &provider.HTTPRequest{
		Method:      http.MethodGet,
		Endpoint:    endpoint,
		QueryParams: query,
	})
	if err != nil {
		return nil, err
	}

	rawStatus := strings.ToUpper(extractXMLValue(string(resp.Body), "STATUS"))
	status, ok := orderStatusMap[rawStatus]
	if !ok {
		if rawStatus == "" || rawStatus == "NOT_FOUND" {
			status = provider.StatusPending
		} else {
			status = provider.StatusFailed
		}
	}

	return &provider.StatusResult{Status: status}, nil
}

// RefundPayment drives the IRN endpoint. IRN has no full-refund shorthand,
// so the amount is required and zero is rejected.
func (p *Processor) RefundPayment(ctx context.Context, req provider.RefundRequest) (*provider.RefundResult, error) {
	if !p.IsConfigured() {
		return nil, &provider.ConfigurationError{Processor: "payu", Field: "payu_merchant_id", Reason: "is missing"}
	}
	if req.Amount <= 0 {
		return nil, fmt.Errorf("payu: refund amount is required")
	}

	amount := provider.FormatAmount(req.Amount)
	currency := "RON"
	irnDate := time.Now().UTC().Format(orderDateLayout)
	hash := p.sign(p.merchantID, req.PaymentID, amount, currency, irnDate)

	form := url.Values{}
	form.Set("MERCHANT", p.merchantID)
	form.Set("ORDER_REF", req.PaymentID)
	form.Set("ORDER_AMOUNT", amount)
	form.Set("ORDER_CURRENCY", currency)
	form.Set("IRN_DATE", irnDate)
	form.Set("ORDER_HASH", hash)

	endpoint := irnURL
	if p.sandbox {
		endpoint = sandboxIRNURL
	}

	resp, err := p.client.SendForm(ctx, &provider.HTTPRequest{
		Method:   http.MethodPost,
		Endpoint: endpoint,
		FormData: form,
	})
	if err != nil {
		return nil, err
	}

	// Response shape: ORDER_REF|RESPONSE_CODE|RESPONSE_MSG|IRN_DATE|HASH
	parts := strings.Split(strings.TrimSpace(string(resp.Body)), "|")
	if len(parts) < 3 {
		return nil, fmt.Errorf("payu: unexpected irn response: %s", string(resp.Body))
	}
	if parts[1] != "1" {
		return nil, fmt.Errorf("payu: refund rejected: %s", parts[2])
	}

	return &provider.RefundResult{
		RefundID: req.PaymentID + "_irn",
		Status:   provider.StatusSuccess,
		Amount:   req.Amount,
	}, nil
}

// sign computes the lowercase hex HMAC-MD5 over the len+value chain.
func (p *Processor) sign(values ...string) string {
	chain := lenValueChain(values...)
	return strings.ToLower(provider.HMACMD5Hex([]byte(chain), []byte(p.secretKey)))
}

// lenValueChain builds PayU's signature base: each value's byte length
// followed by the value. An empty value contributes "0", unlike the dash
// EuPlatesc uses.
func lenValueChain(values ...string) string {
	var b strings.Builder
	for _, v := range values {
		b.WriteString(strconv.Itoa(len(v)))
		b.WriteString(v)
	}
	return b.String()
}

func parseAmount(value string) float64 {
	f, err := strconv.ParseFloat(strings.TrimSpace(value), 64)
	if err != nil {
		return 0
	}
	return f
}

// parseOrderDate returns nil when no value parses; PaidAt stays unset so
// repeated deliveries of the same notification produce identical results.
func parseOrderDate(values ...string) *time.Time {
	for _, v := range values {
		if v == "" {
			continue
		}
		if t, err := time.Parse(orderDateLayout, v); err == nil {
			u := t.UTC()
			return &u
		}
	}
	return nil
}

// extractXMLValue pulls a single element's text from the tiny IOS response
// document.
func extractXMLValue(body, tag string) string {
	open := "<" + tag + ">"
	closing := "</" + tag + ">"
	start := strings.Index(body, open)
	if start == -1 {
		return ""
	}
	start += len(open)
	end := strings.Index(body[start:], closing)
	if end == -1 {
		return ""
	}
	return strings.TrimSpace(body[start : start+end])
}

// IsConfigured reports whether merchant id and secret key are present.
func (p *Processor) IsConfigured() bool {
	return p.merchantID != "" && p.secretKey != ""
}

// Name returns the gateway name.
func (p *Processor) Name() string {
	return "PayU"
}
