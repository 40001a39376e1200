package handler

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/andreiandoo/epas-sub028/infra/config"
	"github.com/andreiandoo/epas-sub028/infra/logger"
	"github.com/andreiandoo/epas-sub028/infra/response"
	"github.com/andreiandoo/epas-sub028/provider"
)

// ConfigHandler manages per-tenant gateway configurations and serves the
// static processor catalogue consumed by configuration UIs.
type ConfigHandler struct {
	store *config.SQLiteStorage
}

// NewConfigHandler creates a config handler.
func NewConfigHandler(store *config.SQLiteStorage) *ConfigHandler {
	return &ConfigHandler{store: store}
}

// ListProcessors handles GET /v1/config/processors.
func (h *ConfigHandler) ListProcessors(w http.ResponseWriter, r *http.Request) {
	type entry struct {
		provider.ProcessorInfo
		Processor string                 `json:"processor"`
		Fields    []provider.ConfigField `json:"fields"`
	}

	catalogue := provider.AvailableProcessors()
	out := make([]entry, 0, len(catalogue))
	for _, pt := range config.ProcessorTypes() {
		info, ok := catalogue[pt]
		if !ok {
			continue
		}
		out = append(out, entry{
			ProcessorInfo: info,
			Processor:     string(pt),
			Fields:        provider.RequiredFields(pt),
		})
	}
	response.Success(w, http.StatusOK, "Available processors", out)
}

type saveConfigRequest struct {
	Mode        string            `json:"mode"`
	Credentials map[string]string `json:"credentials"`
}

// SaveConfig handles PUT /v1/config/{tenantID}/{processor}. Credentials are
// pre-checked with the advisory format rules before storing.
func (h *ConfigHandler) SaveConfig(w http.ResponseWriter, r *http.Request) {
	tenantID := chi.URLParam(r, "tenantID")
	processor := config.ProcessorType(chi.URLParam(r, "processor"))

	if !processor.Valid() {
		response.Error(w, http.StatusBadRequest, "Unknown processor", nil)
		return
	}

	var req saveConfigRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		response.Error(w, http.StatusBadRequest, "Invalid request format", err)
		return
	}

	if fieldErrs := provider.ValidateConfig(processor, req.Credentials); len(fieldErrs) > 0 {
		response.WriteJSON(w, http.StatusUnprocessableEntity, response.Response{
			Code:    http.StatusUnprocessableEntity,
			Success: false,
			Message: "Credential validation failed",
			Data:    fieldErrs,
		})
		return
	}

	mode := config.ModeSandbox
	if req.Mode == string(config.ModeLive) {
		mode = config.ModeLive
	}

	cfg := &config.GatewayConfig{
		TenantID:    tenantID,
		Processor:   processor,
		Mode:        mode,
		Credentials: req.Credentials,
	}
	if err := h.store.SaveConfig(cfg); err != nil {
		response.Error(w, http.StatusInternalServerError, "Failed to save configuration", err)
		return
	}

	logger.WithTenantAndProcessor(tenantID, string(processor)).Info("gateway configuration saved")
	response.Success(w, http.StatusOK, "Configuration saved", map[string]string{
		"tenantId":  tenantID,
		"processor": string(processor),
		"mode":      string(mode),
	})
}

// Activate handles POST /v1/config/{tenantID}/{processor}/activate.
func (h *ConfigHandler) Activate(w http.ResponseWriter, r *http.Request) {
	tenantID := chi.URLParam(r, "tenantID")
	processor := config.ProcessorType(chi.URLParam(r, "processor"))

	if err := h.store.Activate(tenantID, processor); err != nil {
		status, msg := statusForError(err)
		response.Error(w, status, msg, err)
		return
	}

	logger.WithTenantAndProcessor(tenantID, string(processor)).Info("gateway activated")
	response.Success(w, http.StatusOK, "Gateway activated", nil)
}

// DeleteConfig handles DELETE /v1/config/{tenantID}/{processor}.
func (h *ConfigHandler) DeleteConfig(w http.ResponseWriter, r *http.Request) {
	tenantID := chi.URLParam(r, "tenantID")
	processor := config.ProcessorType(chi.URLParam(r, "processor"))

	if err := h.store.DeleteConfig(tenantID, processor); err != nil {
		response.Error(w, http.StatusInternalServerError, "Failed to delete configuration", err)
		return
	}
	response.Success(w, http.StatusOK, "Configuration deleted", nil)
}
