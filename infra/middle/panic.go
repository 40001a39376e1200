package middle

import (
	"fmt"
	"net/http"
	"runtime/debug"

	"github.com/andreiandoo/epas-sub028/infra/logger"
	"github.com/andreiandoo/epas-sub028/infra/response"
)

// PanicRecovery converts panics into HTTP 500 responses. The stack trace
// goes to the log; the client only sees a generic error.
func PanicRecovery(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				logger.Error("panic recovered", fmt.Errorf("%v", rec), logger.LogContext{
					RequestID: r.Header.Get("X-Request-ID"),
					Fields: map[string]any{
						"method": r.Method,
						"url":    r.URL.String(),
						"stack":  string(debug.Stack()),
					},
				})
				w.Header().Set("Cache-Control", "no-cache, no-store, must-revalidate")
				response.Error(w, http.StatusInternalServerError, "Internal server error", nil)
			}
		}()
		next.ServeHTTP(w, r)
	})
}
