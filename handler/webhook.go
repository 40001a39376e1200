package handler

import (
	"context"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/andreiandoo/epas-sub028/infra/config"
	"github.com/andreiandoo/epas-sub028/infra/logger"
	"github.com/andreiandoo/epas-sub028/infra/middle"
	"github.com/andreiandoo/epas-sub028/infra/opensearch"
	"github.com/andreiandoo/epas-sub028/infra/response"
	"github.com/andreiandoo/epas-sub028/provider"
	"github.com/andreiandoo/epas-sub028/provider/netopia"
	"github.com/andreiandoo/epas-sub028/provider/payu"
)

// maxWebhookBody bounds how much of a delivery is read into memory.
const maxWebhookBody = 1 << 20

// WebhookHandler is the intake for gateway callbacks. One route serves every
// tenant+processor combination; the raw body and headers pass untouched into
// the adapter.
type WebhookHandler struct {
	store   *config.SQLiteStorage
	factory *provider.Factory
	events  *opensearch.Logger
}

// NewWebhookHandler creates a webhook handler. events may be nil.
func NewWebhookHandler(store *config.SQLiteStorage, factory *provider.Factory, events *opensearch.Logger) *WebhookHandler {
	return &WebhookHandler{store: store, factory: factory, events: events}
}

// Handle processes POST /v1/webhooks/{tenantID}/{processor}. Rejections are
// answered with a generic failure; the reason only reaches the server log,
// together with the source IP.
func (h *WebhookHandler) Handle(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), requestTimeout)
	defer cancel()

	tenantID := chi.URLParam(r, "tenantID")
	processorName := chi.URLParam(r, "processor")

	payload, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBody))
	if err != nil {
		response.Error(w, http.StatusBadRequest, "Failed to read request body", nil)
		return
	}

	cfg, err := h.store.LoadConfig(tenantID, config.ProcessorType(processorName))
	if err != nil {
		status, msg := statusForError(err)
		response.Error(w, status, msg, nil)
		return
	}

	p, err := h.factory.Make(cfg)
	if err != nil {
		logger.WithTenantAndProcessor(tenantID, processorName).Error("webhook for unusable gateway config", err)
		response.Error(w, http.StatusBadRequest, "Webhook rejected", nil)
		return
	}

	result, err := p.ProcessCallback(ctx, payload, r.Header)
	if err != nil {
		h.rejectCallback(w, r, cfg, err)
		return
	}

	h.logEvent(r, cfg, opensearch.PaymentEvent{
		Kind:          "callback",
		PaymentID:     result.PaymentID,
		OrderID:       result.OrderID,
		TransactionID: result.TransactionID,
		Status:        string(result.Status),
		Amount:        result.Amount,
		Currency:      result.Currency,
		SignatureOK:   true,
	})

	h.acknowledge(w, p, result)
}

// rejectCallback logs the failure server-side with the source IP and answers
// the gateway generically, never echoing which check failed.
func (h *WebhookHandler) rejectCallback(w http.ResponseWriter, r *http.Request, cfg *config.GatewayConfig, err error) {
	var sigErr *provider.SignatureVerificationError
	var decErr *provider.DecryptionError

	clientIP := middle.GetClientIP(r)
	reason := err.Error()
	if errors.As(err, &sigErr) {
		reason = sigErr.Reason
	}

	logger.Error("webhook rejected", err, logger.LogContext{
		TenantID:  cfg.TenantID,
		Processor: string(cfg.Processor),
		RequestID: r.Header.Get("X-Request-ID"),
		Fields: map[string]any{
			"source_ip": clientIP,
			"reason":    reason,
		},
	})
	h.logEvent(r, cfg, opensearch.PaymentEvent{Kind: "callback", SignatureOK: false, Error: reason})

	if errors.As(err, &sigErr) || errors.As(err, &decErr) {
		response.Error(w, http.StatusBadRequest, "Webhook rejected", nil)
		return
	}
	status, msg := statusForError(err)
	response.Error(w, status, msg, nil)
}

// acknowledge answers in the format each gateway expects. Most accept the
// JSON envelope; PayU and Netopia require their own acknowledgement bodies.
func (h *WebhookHandler) acknowledge(w http.ResponseWriter, p provider.Processor, result *provider.CallbackResult) {
	switch adapter := p.(type) {
	case *payu.Processor:
		w.Header().Set("Content-Type", "text/plain")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(adapter.IPNResponse(time.Now())))
	case *netopia.Processor:
		w.Header().Set("Content-Type", "application/xml")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(netopia.CallbackResponse(0, "OK")))
	default:
		response.Success(w, http.StatusOK, "Webhook processed", result)
	}
}

func (h *WebhookHandler) logEvent(r *http.Request, cfg *config.GatewayConfig, event opensearch.PaymentEvent) {
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
