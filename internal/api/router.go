/**
 * @description
 * This file sets up the HTTP router for the reward-service. It defines the API
 * endpoints, associates them with their corresponding handlers, and applies any
 * necessary middleware, such as for authentication.
 *
 * @dependencies
 * - net/http: Standard Go library for HTTP functionality.
 * - github.com/go-chi/chi/v5: A lightweight and idiomatic router for Go.
 */

package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

// RewardRoutes creates and returns the router for the reward service.
func RewardRoutes(h *RewardHandlers, jwksURL string, internalAPIKey string) http.Handler {
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

	// Group routes that require user authentication.
	r.Group(func(r chi.Router) {
		r.Use(AuthMiddleware(jwksURL))

		// Task lifecycle endpoints
		r.Post("/tasks", h.CreateTaskHandler)
		r.Get("/tasks/{task_id}", h.GetTaskHandler)
		r.Post("/tasks/{task_id}/claim", h.ClaimTaskHandler)
		r.Post("/tasks/{task_id}/submit", h.SubmitTaskHandler)
		r.Post("/tasks/{task_id}/complete", h.CompleteTaskHandler)
		r.Post("/tasks/{task_id}/cancel", h.CancelTaskHandler)

		// Reward event ingestion
		r.Post("/rewards/events", h.RewardEventHandler)

		// Account surface
		r.Get("/accounts/{user_id}/balance", h.GetBalanceHandler)
		r.Get("/accounts/{user_id}/transactions", h.ListTransactionsHandler)
	})

	// Administrative routes guarded by the internal API key.
	r.Route("/admin", func(r chi.Router) {
		r.Use(InternalAuthMiddleware(internalAPIKey))

		r.Post("/rules", h.CreateRuleHandler)
		r.Put("/rules/{code}", h.UpdateRuleHandler)
		r.Get("/rules", h.ListRulesHandler)

		r.Post("/adjustments", h.AdjustmentHandler)
		r.Post("/transactions/{transaction_id}/reverse", h.ReverseTransactionHandler)
		r.Get("/quota", h.QuotaUsageHandler)
		r.Post("/quota/reset", h.QuotaResetHandler)
		r.Post("/accounts/{user_id}/status", h.SetAccountStatusHandler)
	})

	return r
}
