package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/andreiandoo/epas-sub028/infra/config"
	"github.com/andreiandoo/epas-sub028/infra/logger"
	"github.com/andreiandoo/epas-sub028/infra/middle"
	"github.com/andreiandoo/epas-sub028/infra/opensearch"
	"github.com/andreiandoo/epas-sub028/infra/response"
	"github.com/andreiandoo/epas-sub028/provider"
)

const requestTimeout = 30 * time.Second

// PaymentHandler drives checkout creation, status queries and refunds
// through a tenant's configured gateway.
type PaymentHandler struct {
	store   *config.SQLiteStorage
	factory *provider.Factory
	events  *opensearch.Logger
}

// NewPaymentHandler creates a payment handler. events may be nil when
// OpenSearch logging is disabled.
func NewPaymentHandler(store *config.SQLiteStorage, factory *provider.Factory, events *opensearch.Logger) *PaymentHandler {
	return &PaymentHandler{store: store, factory: factory, events: events}
}

// resolveProcessor builds the adapter for a tenant. An explicit processor
// query parameter overrides the tenant's active gateway.
func (h *PaymentHandler) resolveProcessor(r *http.Request, tenantID string) (provider.Processor, *config.GatewayConfig, error) {
	var cfg *config.GatewayConfig
	var err error

	if name := r.URL.Query().Get("processor"); name != "" {
		cfg, err = h.store.LoadConfig(tenantID, config.ProcessorType(name))
	} else {
		cfg, err = h.store.ActiveConfig(tenantID)
	}
	if err != nil {
		return nil, nil, err
	}

	p, err := h.factory.Make(cfg)
	if err != nil {
		return nil, nil, err
	}
	return p, cfg, nil
}

func (h *PaymentHandler) logEvent(r *http.Request, cfg *config.GatewayConfig, event opensearch.PaymentEvent) {
	if h.events == nil {
		return
	}
	event.TenantID = cfg.TenantID
	event.Processor = string(cfg.Processor)
	event.RequestID = r.Header.Get("X-Request-ID")
	event.ClientIP = middle.GetClientIP(r)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := h.events.LogPaymentEvent(ctx, event); err != nil {
		logger.Warn("failed to index payment event: " + err.Error())
	}
}

// CreatePayment handles POST /v1/payments/{tenantID}.
func (h *PaymentHandler) CreatePayment(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), requestTimeout)
	defer cancel()

	tenantID := chi.URLParam(r, "tenantID")

	var req provider.PaymentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		response.Error(w, http.StatusBadRequest, "Invalid request format", err)
		return
	}
	if err := req.Validate(); err != nil {
		response.Error(w, http.StatusBadRequest, "Validation error", err)
		return
	}

	p, cfg, err := h.resolveProcessor(r, tenantID)
	if err != nil {
		status, msg := statusForError(err)
		response.Error(w, status, msg, err)
		return
	}

	result, err := p.CreatePayment(ctx, req)
	if err != nil {
		status, msg := statusForError(err)
		logger.WithTenantAndProcessor(tenantID, string(cfg.Processor)).Error("payment creation failed", err)
		h.logEvent(r, cfg, opensearch.PaymentEvent{Kind: "create", OrderID: req.OrderID, Amount: req.Amount, Currency: req.Currency, Error: err.Error()})
		response.Error(w, status, msg, err)
		return
	}

	h.logEvent(r, cfg, opensearch.PaymentEvent{
		Kind:      "create",
		PaymentID: result.PaymentID,
		OrderID:   req.OrderID,
		Amount:    req.Amount,
		Currency:  req.Currency,
	})
	response.Success(w, http.StatusOK, "Payment created", result)
}

// GetPaymentStatus handles GET /v1/payments/{tenantID}/{paymentID}.
func (h *PaymentHandler) GetPaymentStatus(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), requestTimeout)
	defer cancel()

	tenantID := chi.URLParam(r, "tenantID")
	paymentID := chi.URLParam(r, "paymentID")
	if paymentID == "" {
		response.Error(w, http.StatusBadRequest, "Missing payment ID", nil)
		return
	}

	p, cfg, err := h.resolveProcessor(r, tenantID)
	if err != nil {
		status, msg := statusForError(err)
		response.Error(w, status, msg, err)
		return
	}

	result, err := p.GetPaymentStatus(ctx, paymentID)
	if err != nil {
		status, msg := statusForError(err)
		response.Error(w, status, msg, err)
		return
	}

	h.logEvent(r, cfg, opensearch.PaymentEvent{Kind: "status", PaymentID: paymentID, Status: string(result.Status)})
	response.Success(w, http.StatusOK, "Payment status retrieved", result)
}

// RefundPayment handles POST /v1/payments/{tenantID}/{paymentID}/refund.
func (h *PaymentHandler) RefundPayment(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), requestTimeout)
	defer cancel()

	tenantID := chi.URLParam(r, "tenantID")
	paymentID := chi.URLParam(r, "paymentID")

	var req provider.RefundRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		response.Error(w, http.StatusBadRequest, "Invalid request format", err)
		return
	}
	req.PaymentID = paymentID

	p, cfg, err := h.resolveProcessor(r, tenantID)
	if err != nil {
		status, msg := statusForError(err)
		response.Error(w, status, msg, err)
		return
	}

	result, err := p.RefundPayment(ctx, req)
	if err != nil {
		status, msg := statusForError(err)
		logger.WithTenantAndProcessor(tenantID, string(cfg.Processor)).Error("refund failed", err)
		h.logEvent(r, cfg, opensearch.PaymentEvent{Kind: "refund", PaymentID: paymentID, Amount: req.Amount, Error: err.Error()})
		response.Error(w, status, msg, err)
		return
	}

	h.logEvent(r, cfg, opensearch.PaymentEvent{
		Kind:      "refund",
		PaymentID: paymentID,
		Status:    string(result.Status),
		Amount:    result.Amount,
	})
	response.Success(w, http.StatusOK, "Payment refunded", result)
}
