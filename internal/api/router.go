/**
 * @description
 * This file sets up the HTTP router for the redeem-service. It defines the API
 * endpoints, associates them with their corresponding handlers, and applies any
 * necessary middleware, such as for authentication.
 *
 * @dependencies
 * - net/http: Standard Go library for HTTP functionality.
 * - github.com/go-chi/chi/v5: A lightweight and idiomatic router for Go.
 * - github.com/prometheus/client_golang: Metrics endpoint.
 */

package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Routes creates and returns the router for the redeem service.
func Routes(h *Handlers, jwtSecret string) http.Handler {
	r := chi.NewRouter()

	// Add standard middleware for logging, panic recovery, and timeouts.
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))

	// Health check endpoint
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("healthy"))
	})

	r.Handle("/metrics", promhttp.Handler())

	// Payment gateway callback; authenticated by payload signature.
	r.Post("/webhooks/payment", h.PaymentNotificationHandler)

	// Group routes that require authentication.
	r.Group(func(r chi.Router) {
		r.Use(AuthMiddleware(jwtSecret))

		r.Post("/batches", h.SubmitBatchHandler)
		r.Get("/batches/{batchID}", h.GetBatchHandler)
		r.Delete("/batches/{batchID}", h.CancelBatchHandler)

		r.Get("/balance", h.GetBalanceHandler)
		r.Post("/topups", h.CreateTopupHandler)
		r.Delete("/topups/{orderID}", h.CancelTopupHandler)

		r.Get("/stats", h.GetUserStatsHandler)
		r.Get("/stats/service", h.GetServiceStatsHandler)
		r.Post("/admin/prune", h.PruneHandler)
	})

	return r
}
