// Package router wires the HTTP surface: payment operations, webhook
// intake and per-tenant gateway configuration.
package router

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"

	"github.com/andreiandoo/epas-sub028/handler"
	"github.com/andreiandoo/epas-sub028/infra/config"
	"github.com/andreiandoo/epas-sub028/infra/middle"
	"github.com/andreiandoo/epas-sub028/infra/opensearch"
	"github.com/andreiandoo/epas-sub028/provider"
)

// New assembles the service router. events may be nil when OpenSearch
// logging is disabled.
func New(store *config.SQLiteStorage, events *opensearch.Logger) http.Handler {
	factory := provider.NewFactory()

	payments := handler.NewPaymentHandler(store, factory, events)
	webhooks := handler.NewWebhookHandler(store, factory, events)
	configs := handler.NewConfigHandler(store)

	r := chi.NewRouter()
	r.Use(middle.PanicRecovery)
	r.Use(middle.RequestLogging)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Request-ID"},
		ExposedHeaders:   []string{"X-Request-ID"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	r.Get("/health", handler.Health)

	r.Route("/v1", func(r chi.Router) {
		r.Route("/payments/{tenantID}", func(r chi.Router) {
			r.Post("/", payments.CreatePayment)
			r.Get("/{paymentID}", payments.GetPaymentStatus)
			r.Post("/{paymentID}/refund", payments.RefundPayment)
		})

		r.Post("/webhooks/{tenantID}/{processor}", webhooks.Handle)

		r.Route("/config", func(r chi.Router) {
			r.Get("/processors", configs.ListProcessors)
			r.Route("/{tenantID}/{processor}", func(r chi.Router) {
				r.Put("/", configs.SaveConfig)
				r.Post("/activate", configs.Activate)
				r.Delete("/", configs.DeleteConfig)
			})
		})
	})

	return r
}
