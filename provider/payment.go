package provider

import (
	"strings"
	"time"

	"github.com/andreiandoo/epas-sub028/infra/config"
)

// Status is the canonical payment status every adapter normalizes to.
// Callers never see gateway-specific vocabulary.
type Status string

const (
	StatusSuccess   Status = "success"
	StatusPending   Status = "pending"
	StatusFailed    Status = "failed"
	StatusCancelled Status = "cancelled"
	StatusRefunded  Status = "refunded"
)

// PaymentRequest contains all information required to start a checkout.
// Amounts are in major currency units; adapters convert to each gateway's
// native representation through the helpers in amount.go.
type PaymentRequest struct {
	Amount        float64           `json:"amount" validate:"gte=0"`
	Currency      string            `json:"currency" validate:"required,iso4217"`
	Description   string            `json:"description,omitempty"`
	CustomerEmail string            `json:"customerEmail,omitempty" validate:"omitempty,email"`
	CustomerName  string            `json:"customerName,omitempty"`
	CustomerPhone string            `json:"customerPhone,omitempty"`
	OrderID       string            `json:"orderId" validate:"required"`
	SuccessURL    string            `json:"successUrl" validate:"required,url"`
	CancelURL     string            `json:"cancelUrl" validate:"required,url"`
	WebhookURL    string            `json:"webhookUrl,omitempty" validate:"omitempty,url"`
	Metadata      map[string]string `json:"metadata,omitempty"`
}

// Validate checks the request against the shared validator and normalizes
// the currency to upper case.
func (r *PaymentRequest) Validate() error {
	r.Currency = strings.ToUpper(strings.TrimSpace(r.Currency))
	return config.App().Validator.Struct(r)
}

// PaymentCreationResult is the outcome of CreatePayment: where to send the
// customer next. Gateways that require a POST redirect set HTTPMethod and
// FormFields; otherwise RedirectURL is followed with GET.
type PaymentCreationResult struct {
	PaymentID      string            `json:"paymentId"`
	RedirectURL    string            `json:"redirectUrl"`
	HTTPMethod     string            `json:"httpMethod,omitempty"`
	FormFields     map[string]string `json:"formFields,omitempty"`
	AdditionalData map[string]string `json:"additionalData,omitempty"`
}

// CallbackResult is the normalized shape every webhook converges to,
// identical regardless of source gateway.
type CallbackResult struct {
	Status        Status            `json:"status"`
	PaymentID     string            `json:"paymentId"`
	OrderID       string            `json:"orderId"`
	Amount        float64           `json:"amount"`
	Currency      string            `json:"currency"`
	TransactionID string            `json:"transactionId"`
	PaidAt        *time.Time        `json:"paidAt,omitempty"`
	Metadata      map[string]string `json:"metadata,omitempty"`
}

// StatusResult is the outcome of an on-demand payment status query.
type StatusResult struct {
	Status   Status     `json:"status"`
	Amount   float64    `json:"amount"`
	Currency string     `json:"currency"`
	PaidAt   *time.Time `json:"paidAt,omitempty"`
}

// RefundRequest asks for a full refund when Amount is zero, partial otherwise.
type RefundRequest struct {
	PaymentID string  `json:"paymentId" validate:"required"`
	Amount    float64 `json:"amount,omitempty" validate:"gte=0"`
	Reason    string  `json:"reason,omitempty"`
}

// RefundResult contains the result of a refund request.
type RefundResult struct {
	RefundID string  `json:"refundId"`
	Status   Status  `json:"status"`
	Amount   float64 `json:"amount"`
}

// FieldKind is the input widget a configuration UI should render for a field.
type FieldKind string

const (
	FieldText     FieldKind = "text"
	FieldPassword FieldKind = "password"
	FieldTextarea FieldKind = "textarea"
	FieldSelect   FieldKind = "select"
)

// ConfigField describes one credential a processor requires.
type ConfigField struct {
	Key         string            `json:"key"`
	Label       string            `json:"label"`
	Kind        FieldKind         `json:"kind"`
	Required    bool              `json:"required"`
	Placeholder string            `json:"placeholder,omitempty"`
	Options     map[string]string `json:"options,omitempty"`
}

// FieldError is an advisory validation failure for one credential field.
type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}
