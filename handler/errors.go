package handler

import (
	"errors"
	"net/http"

	"github.com/andreiandoo/epas-sub028/infra/config"
	"github.com/andreiandoo/epas-sub028/provider"
)

// statusForError maps the adapter error taxonomy onto HTTP status codes.
// Signature and decryption failures collapse into a generic 400 so the
// response never reveals which check failed.
func statusForError(err error) (int, string) {
	var cfgErr *provider.ConfigurationError
	var sigErr *provider.SignatureVerificationError
	var commErr *provider.GatewayCommunicationError
	var decErr *provider.DecryptionError
	var opErr *provider.UnsupportedOperationError

	switch {
	case errors.Is(err, config.ErrConfigNotFound):
		return http.StatusNotFound, "Gateway is not configured for this tenant"
	case errors.As(err, &cfgErr):
		return http.StatusUnprocessableEntity, "Gateway configuration is incomplete"
	case errors.As(err, &sigErr), errors.As(err, &decErr):
		return http.StatusBadRequest, "Webhook rejected"
	case errors.As(err, &opErr):
		return http.StatusNotImplemented, "Operation not supported by this gateway"
	case errors.As(err, &commErr):
		return http.StatusBadGateway, "Gateway request failed"
	default:
		return http.StatusInternalServerError, "Request failed"
	}
}
