// Package netopia integrates the Netopia mobilPay card gateway. Orders travel
// as RSA-sealed XML envelopes and the merchant learns outcomes exclusively
// through encrypted IPN callbacks; authenticity is implicit in decryption,
// since only the gateway holds the certificate matching the merchant key.
package netopia

import (
	"context"
	"crypto/rsa"
	"encoding/xml"
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
	liveGatewayURL    = "https://secure.mobilpay.ro"
	sandboxGatewayURL = "https://sandboxsecure.mobilpay.ro"

	timestampLayout = "20060102150405"
)

// Processor implements provider.Processor for Netopia mobilPay.
type Processor struct {
	signature  string
	privateKey *rsa.PrivateKey
	privatePEM string
	publicKey  *rsa.PublicKey
	sandbox    bool
}

// NewProcessor creates an uninitialized Netopia processor.
func NewProcessor() provider.Processor {
	return &Processor{}
}

// Initialize binds the processor to a tenant's Netopia credentials. Both PEM
// blocks are parsed eagerly so a malformed key surfaces at configuration time
// rather than inside a live checkout.
func (p *Processor) Initialize(cfg *config.GatewayConfig) error {
	p.signature = cfg.Credential("netopia_signature")
	p.privatePEM = cfg.Credential("netopia_api_key")
	publicPEM := cfg.Credential("netopia_public_key")
	p.sandbox = !cfg.IsLive()

	if p.signature == "" {
		return &provider.ConfigurationError{Processor: "netopia", Field: "netopia_signature", Reason: "is missing"}
	}
	if p.privatePEM == "" {
		return &provider.ConfigurationError{Processor: "netopia", Field: "netopia_api_key", Reason: "is missing"}
	}
	if publicPEM == "" {
		return &provider.ConfigurationError{Processor: "netopia", Field: "netopia_public_key", Reason: "is missing"}
	}

	key, err := parsePrivateKey(p.privatePEM)
	if err != nil {
		return &provider.ConfigurationError{Processor: "netopia", Field: "netopia_api_key", Reason: "is not a valid PEM private key: " + err.Error()}
	}
	pub, err := parsePublicKey(publicPEM)
	if err != nil {
		return &provider.ConfigurationError{Processor: "netopia", Field: "netopia_public_key", Reason: "is not a valid PEM certificate: " + err.Error()}
	}

	p.privateKey = key
	p.publicKey = pub
	return nil
}

// orderDocument is the XML payment request sealed into the envelope.
type orderDocument struct {
	XMLName   xml.Name     `xml:"order"`
	Type      string       `xml:"type,attr"`
	ID        string       `xml:"id,attr"`
	Timestamp string       `xml:"timestamp,attr"`
	Signature string       `xml:"signature"`
	Invoice   orderInvoice `xml:"invoice"`
	URL       orderURLs    `xml:"url"`
}

type orderInvoice struct {
	Currency    string        `xml:"currency,attr"`
	Amount      string        `xml:"amount,attr"`
	Details     string        `xml:"details"`
	ContactInfo *orderContact `xml:"contact_info,omitempty"`
}

type orderContact struct {
	Email string `xml:"billing>email,omitempty"`
	Name  string `xml:"billing>first_name,omitempty"`
	Phone string `xml:"billing>mobile_phone,omitempty"`
}

type orderURLs struct {
	Return  string `xml:"return"`
	Confirm string `xml:"confirm"`
}

// CreatePayment builds the XML order, seals it and returns the form the
// customer's browser POSTs to the gateway.
func (p *Processor) CreatePayment(ctx context.Context, req provider.PaymentRequest) (*provider.PaymentCreationResult, error) {
	if !p.IsConfigured() {
		return nil, &provider.ConfigurationError{Processor: "netopia", Field: "netopia_signature", Reason: "is missing"}
	}
	if err := req.Validate(); err != nil {
		return nil, err
	}

	details := req.Description
	if details == "" {
		details = "Order " + req.OrderID
	}

	doc := orderDocument{
		Type:      "card",
		ID:        req.OrderID,
		Timestamp: time.Now().UTC().Format(timestampLayout),
		Signature: p.signature,
		Invoice: orderInvoice{
			Currency: req.Currency,
			Amount:   provider.FormatAmount(req.Amount),
			Details:  details,
		},
		URL: orderURLs{
			Return:  req.SuccessURL,
			Confirm: req.WebhookURL,
		},
	}
	if req.CustomerEmail != "" || req.CustomerName != "" || req.CustomerPhone != "" {
		doc.Invoice.ContactInfo = &orderContact{
			Email: req.CustomerEmail,
			Name:  req.CustomerName,
			Phone: req.CustomerPhone,
		}
	}

	body, err := xml.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("netopia: failed to build order document: %w", err)
	}
	body = append([]byte(xml.Header), body...)

	env, err := sealEnvelope(p.publicKey, body)
	if err != nil {
		return nil, err
	}

	fields := map[string]string{
		"env_key": env.EnvKey,
		"data":    env.Data,
	}
	if env.Cipher != "" {
		fields["cipher"] = env.Cipher
		fields["iv"] = env.IV
	}

	gateway := liveGatewayURL
	if p.sandbox {
		gateway = sandboxGatewayURL
	}

	return &provider.PaymentCreationResult{
		PaymentID:   req.OrderID,
		RedirectURL: gateway,
		HTTPMethod:  http.MethodPost,
		FormFields:  fields,
	}, nil
}

// callbackDocument is the decrypted IPN payload.
type callbackDocument struct {
	XMLName   xml.Name        `xml:"order"`
	ID        string          `xml:"id,attr"`
	Timestamp string          `xml:"timestamp,attr"`
	Invoice   orderInvoice    `xml:"invoice"`
	Mobilpay  mobilpayElement `xml:"mobilpay"`
}

type mobilpayElement struct {
	Timestamp       string        `xml:"timestamp,attr"`
	Crc             string        `xml:"crc,attr"`
	Action          string        `xml:"action"`
	Purchase        string        `xml:"purchase"`
	OriginalAmount  string        `xml:"original_amount"`
	ProcessedAmount string        `xml:"processed_amount"`
	PanMasked       string        `xml:"pan_masked"`
	Error           callbackError `xml:"error"`
}

type callbackError struct {
	Code    string `xml:"code,attr"`
	Message string `xml:",chardata"`
}

var actionStatusMap = map[string]provider.Status{
	"confirmed":         provider.StatusSuccess,
	"confirmed_pending": provider.StatusPending,
	"paid_pending":      provider.StatusPending,
	"paid":              provider.StatusPending,
	"canceled":          provider.StatusCancelled,
	"credit":            provider.StatusRefunded,
}

// ProcessCallback opens the envelope and normalizes the decrypted order.
func (p *Processor) ProcessCallback(ctx context.Context, payload []byte, headers http.Header) (*provider.CallbackResult, error) {
	if p.privateKey == nil {
		logger.Warn("netopia: rejecting callback, no private key configured")
		return nil, &provider.SignatureVerificationError{Processor: "netopia", Reason: "private key not configured"}
	}

	env, err := parseCallbackForm(payload)
	if err != nil {
		return nil, &provider.SignatureVerificationError{Processor: "netopia", Reason: err.Error()}
	}

	plaintext, err := openEnvelope(ctx, p.privateKey, p.privatePEM, env)
	if err != nil {
		return nil, err
	}

	var doc callbackDocument
	if err := xml.Unmarshal(plaintext, &doc); err != nil {
		return nil, fmt.Errorf("netopia: failed to parse decrypted order: %w", err)
	}

	action := strings.ToLower(strings.TrimSpace(doc.Mobilpay.Action))
	status, ok := actionStatusMap[action]
	if !ok {
		status = provider.StatusFailed
	}
	if doc.Mobilpay.Error.Code != "" && doc.Mobilpay.Error.Code != "0" {
		status = provider.StatusFailed
	}

	amount := parseAmount(doc.Mobilpay.ProcessedAmount)
	if amount == 0 {
		amount = parseAmount(doc.Mobilpay.OriginalAmount)
	}
	if amount == 0 {
		amount = parseAmount(doc.Invoice.Amount)
	}

	transactionID := doc.Mobilpay.Purchase
	if transactionID == "" {
		transactionID = doc.Mobilpay.Crc
	}

	result := &provider.CallbackResult{
		Status:        status,
		PaymentID:     doc.ID,
		OrderID:       doc.ID,
		Amount:        amount,
		Currency:      strings.ToUpper(doc.Invoice.Currency),
		TransactionID: transactionID,
		Metadata: map[string]string{
			"action": action,
		},
	}
	if doc.Mobilpay.Error.Code != "" && doc.Mobilpay.Error.Code != "0" {
		result.Metadata["error_code"] = doc.Mobilpay.Error.Code
		result.Metadata["error_message"] = strings.TrimSpace(doc.Mobilpay.Error.Message)
	}
	if status == provider.StatusSuccess {
		result.PaidAt = parseTimestamp(doc.Mobilpay.Timestamp, doc.Timestamp)
	}
	return result, nil
}

// VerifySignature checks that a decryptable envelope is even possible:
// the private key must be configured and the payload must carry the
// envelope fields. Actual authenticity is proven by decryption itself in
// ProcessCallback.
func (p *Processor) VerifySignature(payload []byte, headers http.Header) bool {
	if p.privateKey == nil {
		logger.Warn("netopia: rejecting callback, no private key configured")
		return false
	}
	_, err := parseCallbackForm(payload)
	return err == nil
}

func parseCallbackForm(payload []byte) (*envelope, error) {
	values, err := url.ParseQuery(string(payload))
	if err != nil {
		return nil, fmt.Errorf("malformed callback body")
	}
	env := &envelope{
		EnvKey: values.Get("env_key"),
		Data:   values.Get("data"),
		Cipher: strings.ToLower(values.Get("cipher")),
		IV:     values.Get("iv"),
	}
	if env.EnvKey == "" || env.Data == "" {
		return nil, fmt.Errorf("callback is missing envelope fields")
	}
	return env, nil
}

// CallbackResponse builds the XML acknowledgement the gateway expects after
// an IPN. Error code 0 confirms receipt; non-zero with type 1 asks the
// gateway to retry the delivery later.
func CallbackResponse(errorCode int, message string) string {
	var b strings.Builder
	b.WriteString(xml.Header)
	b.WriteString(`<crc error_type="1" error_code="`)
	b.WriteString(strconv.Itoa(errorCode))
	b.WriteString(`">`)
	xml.EscapeText(&b, []byte(message))
	b.WriteString(`</crc>`)
	return b.String()
}

// GetPaymentStatus is best-effort: the gateway has no stable status API, so
// pending is reported until a callback lands.
func (p *Processor) GetPaymentStatus(ctx context.Context, paymentID string) (*provider.StatusResult, error) {
	if !p.IsConfigured() {
		return nil, &provider.ConfigurationError{Processor: "netopia", Field: "netopia_signature", Reason: "is missing"}
	}
	logger.Debug("netopia: no status endpoint available, reporting pending for " + paymentID)
	return &provider.StatusResult{Status: provider.StatusPending}, nil
}

// RefundPayment is not available programmatically; refunds happen in the
// merchant console.
func (p *Processor) RefundPayment(ctx context.Context, req provider.RefundRequest) (*provider.RefundResult, error) {
	return nil, &provider.UnsupportedOperationError{Processor: "netopia", Operation: "refund"}
}

func parseAmount(value string) float64 {
	f, err := strconv.ParseFloat(strings.TrimSpace(value), 64)
	if err != nil {
		return 0
	}
	return f
}

// parseTimestamp returns nil when no value parses so repeated deliveries
// of the same notification produce identical results.
func parseTimestamp(values ...string) *time.Time {
	for _, v := range values {
		if v == "" {
			continue
		}
		if t, err := time.Parse(timestampLayout, v); err == nil {
			u := t.UTC()
			return &u
		}
	}
	return nil
}

// IsConfigured reports whether the signature and both keys parsed.
func (p *Processor) IsConfigured() bool {
	return p.signature != "" && p.privateKey != nil && p.publicKey != nil
}

// Name returns the gateway name.
func (p *Processor) Name() string {
	return "Netopia mobilPay"
}
