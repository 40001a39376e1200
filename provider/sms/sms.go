// Package sms is a relay decorator: payment creation is delegated to a
// configured fallback gateway and the resulting checkout link is texted to
// the customer through Twilio. Every other operation passes straight through
// to the wrapped adapter. Phone numbers are masked in all log output.
package sms

import (
	"context"
	"encoding/base64"
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
	twilioBaseURL = "https://api.twilio.com/2010-04-01"

	defaultTimeout = 30 * time.Second
)

// Processor implements provider.Processor as a decorator over a fallback
// gateway.
type Processor struct {
	accountSID string
	authToken  string
	fromNumber string
	fallback   provider.Processor
	client     *provider.GatewayHTTPClient
}

// NewProcessor creates an uninitialized SMS relay.
func NewProcessor() provider.Processor {
	return &Processor{}
}

// Initialize reads the Twilio credentials and constructs the fallback
// adapter through the factory. The credential bag is shared: it carries both
// the sms_* keys and the fallback gateway's own keys.
func (p *Processor) Initialize(cfg *config.GatewayConfig) error {
	p.accountSID = cfg.Credential("sms_twilio_sid")
	p.authToken = cfg.Credential("sms_twilio_auth_token")
	p.fromNumber = cfg.Credential("sms_twilio_phone_number")
	fallbackName := cfg.Credential("sms_fallback_processor")

	if p.accountSID == "" {
		return &provider.ConfigurationError{Processor: "sms", Field: "sms_twilio_sid", Reason: "is missing"}
	}
	if p.authToken == "" {
		return &provider.ConfigurationError{Processor: "sms", Field: "sms_twilio_auth_token", Reason: "is missing"}
	}
	if p.fromNumber == "" {
		return &provider.ConfigurationError{Processor: "sms", Field: "sms_twilio_phone_number", Reason: "is missing"}
	}
	if fallbackName == "" {
		return &provider.ConfigurationError{Processor: "sms", Field: "sms_fallback_processor", Reason: "is missing"}
	}
	if fallbackName == string(config.ProcessorSMS) {
		return &provider.ConfigurationError{Processor: "sms", Field: "sms_fallback_processor", Reason: "cannot be sms itself"}
	}

	fallbackCfg := cfg.Clone()
	fallbackCfg.Processor = config.ProcessorType(fallbackName)

	fallback, err := provider.NewFactory().Make(fallbackCfg)
	if err != nil {
		return fmt.Errorf("sms: failed to construct fallback processor %q: %w", fallbackName, err)
	}
	p.fallback = fallback

	p.client = provider.NewGatewayHTTPClient(&provider.HTTPClientConfig{
		Processor: "sms",
		BaseURL:   twilioBaseURL,
		Timeout:   defaultTimeout,
	})
	return nil
}

// CreatePayment delegates to the fallback gateway, then texts the checkout
// link to the customer. A failed text does not void the payment: the link is
// still live, so the failure is logged and reported through AdditionalData.
func (p *Processor) CreatePayment(ctx context.Context, req provider.PaymentRequest) (*provider.PaymentCreationResult, error) {
	if !p.IsConfigured() {
		return nil, &provider.ConfigurationError{Processor: "sms", Field: "sms_twilio_sid", Reason: "is missing"}
	}
	if req.CustomerPhone == "" {
		return nil, &provider.ConfigurationError{Processor: "sms", Field: "customer_phone", Reason: "is missing"}
	}

	result, err := p.fallback.CreatePayment(ctx, req)
	if err != nil {
		return nil, err
	}
	if result.RedirectURL == "" || result.HTTPMethod == http.MethodPost {
		return nil, fmt.Errorf("sms: fallback processor %s did not produce a linkable checkout URL", p.fallback.Name())
	}

	if result.AdditionalData == nil {
		result.AdditionalData = make(map[string]string)
	}
	if err := p.sendLink(ctx, req.CustomerPhone, result.RedirectURL, req.Description); err != nil {
		logger.Error("sms: failed to send payment link to "+MaskPhone(req.CustomerPhone), err)
		result.AdditionalData["sms_sent"] = "false"
		return result, nil
	}

	logger.Info("sms: payment link sent to " + MaskPhone(req.CustomerPhone))
	result.AdditionalData["sms_sent"] = "true"
	return result, nil
}

func (p *Processor) sendLink(ctx context.Context, to, link, description string) error {
	body := "Complete your payment: " + link
	if description != "" {
		body = description + "\n" + body
	}

	form := url.Values{}
	form.Set("To", to)
	form.Set("From", p.fromNumber)
	form.Set("Body", body)

	auth := base64.StdEncoding.EncodeToString([]byte(p.accountSID + ":" + p.authToken))
	_, err := p.client.SendForm(ctx, &provider.HTTPRequest{
		Method:   http.MethodPost,
		Endpoint: "/Accounts/" + p.accountSID + "/Messages.json",
		Headers:  map[string]string{"Authorization": "Basic " + auth},
		FormData: form,
	})
	return err
}

// ProcessCallback delegates entirely to the fallback gateway.
func (p *Processor) ProcessCallback(ctx context.Context, payload []byte, headers http.Header) (*provider.CallbackResult, error) {
	if p.fallback == nil {
		return nil, &provider.SignatureVerificationError{Processor: "sms", Reason: "fallback processor not configured"}
	}
	return p.fallback.ProcessCallback(ctx, payload, headers)
}

// VerifySignature delegates entirely to the fallback gateway.
func (p *Processor) VerifySignature(payload []byte, headers http.Header) bool {
	if p.fallback == nil {
		logger.Warn("sms: rejecting callback, fallback processor not configured")
		return false
	}
	return p.fallback.VerifySignature(payload, headers)
}

// GetPaymentStatus delegates entirely to the fallback gateway.
func (p *Processor) GetPaymentStatus(ctx context.Context, paymentID string) (*provider.StatusResult, error) {
	if p.fallback == nil {
		return nil, &provider.ConfigurationError{Processor: "sms", Field: "sms_fallback_processor", Reason: "is missing"}
	}
	return p.fallback.GetPaymentStatus(ctx, paymentID)
}

// RefundPayment delegates entirely to the fallback gateway.
func (p *Processor) RefundPayment(ctx context.Context, req provider.RefundRequest) (*provider.RefundResult, error) {
	if p.fallback == nil {
		return nil, &provider.ConfigurationError{Processor: "sms", Field: "sms_fallback_processor", Reason: "is missing"}
	}
	return p.fallback.RefundPayment(ctx, req)
}

// MaskPhone hides the middle digits of a phone number for log output.
func MaskPhone(phone string) string {
	digits := len(phone)
	if digits <= 6 {
		return strings.Repeat("*", digits)
	}
	return phone[:4] + strings.Repeat("*", digits-6) + phone[digits-2:]
}

// IsConfigured reports whether Twilio credentials are present and the
// fallback gateway is itself configured.
func (p *Processor) IsConfigured() bool {
	return p.accountSID != "" && p.authToken != "" && p.fromNumber != "" &&
		p.fallback != nil && p.fallback.IsConfigured()
}

// Name returns the relay name including the wrapped gateway.
func (p *Processor) Name() string {
	if p.fallback != nil {
		return "SMS Payment (" + p.fallback.Name() + ")"
	}
	return "SMS Payment"
}
