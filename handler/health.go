package handler

import (
	"net/http"
	"time"

	"github.com/andreiandoo/epas-sub028/infra/response"
	"github.com/andreiandoo/epas-sub028/provider"
)

var startTime = time.Now()

// Health reports liveness plus the set of registered gateway adapters.
func Health(w http.ResponseWriter, r *http.Request) {
	response.Success(w, http.StatusOK, "OK", map[string]any{
		"status":     "healthy",
		"uptime_sec": int64(time.Since(startTime).Seconds()),
		"processors": provider.DefaultRegistry.Names(),
	})
}
