/**
 * @description
 * This file sets up the HTTP router for the payout-service. It defines the API
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

// PayoutRoutes creates and returns a new router for the payout service.
func PayoutRoutes(h *PayoutHandlers, jwksURL, internalAPIKey string) http.Handler {
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

	// Admin console endpoints, authenticated by admin JWT.
	r.Group(func(r chi.Router) {
		r.Use(AdminAuthMiddleware(jwksURL))

		r.Post("/payouts/{variant}/assignments/{assignmentID}/try", h.TryPayoutHandler)
		r.Post("/payouts/{variant}/assignments/{assignmentID}/retry", h.RetryPayoutHandler)
		r.Post("/payees/{payeeID}/rail-account", h.ProvisionPayeeHandler)
		r.Post("/payees/{payeeID}/onboarding-link", h.OnboardingLinkHandler)
		r.Get("/payees/{payeeID}/rail-status", h.RailStatusHandler)
	})

	// Server-to-server endpoints invoked by the scheduler's batch runs and
	// payment webhooks, authenticated by the shared internal API key.
	r.Group(func(r chi.Router) {
		r.Use(InternalAuthMiddleware(internalAPIKey))

		r.Post("/payouts/{variant}/subjects/{subjectID}/dispatch", h.DispatchSubjectHandler)
		r.Post("/cooperative/shares/recalculate", h.RecalculateSharesHandler)
	})

	return r
}
