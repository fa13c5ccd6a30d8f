/**
 * @description
 * This file contains the HTTP handlers for the payout-service's API endpoints.
 * Handlers are responsible for parsing incoming requests, calling the appropriate
 * methods on the application service, and writing the HTTP response. They act as the
 * bridge between the web layer and the business logic layer.
 *
 * @dependencies
 * - encoding/json, log, net/http, strconv: Standard Go libraries.
 * - github.com/go-chi/chi/v5: For URL parameter extraction.
 * - github.com/google/uuid: For identifier parsing.
 * - internal/app, internal/domain: For service logic and models.
 */

package api

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/harvesttable/payout-service/internal/app"
	"github.com/harvesttable/payout-service/internal/domain"
)

// PayoutHandlers holds the application service that handlers will use.
type PayoutHandlers struct {
	service *app.Service
}

// NewPayoutHandlers creates a new instance of PayoutHandlers.
func NewPayoutHandlers(service *app.Service) *PayoutHandlers {
	return &PayoutHandlers{service: service}
}

// tryPayoutRequest carries the optional margin override for a payout attempt.
// The overriding admin's identity comes from the verified JWT, never the body.
type tryPayoutRequest struct {
	OverrideMargin bool    `json:"override_margin"`
	OverrideReason *string `json:"override_reason,omitempty"`
}

// TryPayoutHandler attempts one payout. Blockers come back as a 200 with the
// blocker list; only fatal and transient failures produce error statuses.
func (h *PayoutHandlers) TryPayoutHandler(w http.ResponseWriter, r *http.Request) {
	variant, assignmentID, ok := h.parsePayoutTarget(w, r)
	if !ok {
		return
	}

	var req tryPayoutRequest
	if r.Body != nil && r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			h.writeError(w, http.StatusBadRequest, "Invalid request body")
			return
		}
	}

	var override *domain.Override
	if req.OverrideMargin {
		adminID, ok := GetAdminID(r.Context())
		if !ok {
			h.writeError(w, http.StatusInternalServerError, "Could not get admin ID from context")
			return
		}
		override = &domain.Override{UserID: adminID, Reason: req.OverrideReason}
	}

	result := h.service.TryPayout(r.Context(), variant, assignmentID, override)
	h.writePayoutResult(w, result)
}

// RetryPayoutHandler re-invokes the orchestrator for a failed payout. Retries
// are throttled per admin so a stuck payout cannot be hammered against the rail.
func (h *PayoutHandlers) RetryPayoutHandler(w http.ResponseWriter, r *http.Request) {
	variant, assignmentID, ok := h.parsePayoutTarget(w, r)
	if !ok {
		return
	}

	adminID, ok := GetAdminID(r.Context())
	if !ok {
		h.writeError(w, http.StatusInternalServerError, "Could not get admin ID from context")
		return
	}

	allowed, retryAfter := h.service.ConsumeRetryBudget(r.Context(), adminID)
	if !allowed {
		w.Header().Set("Retry-After", strconv.Itoa(retryAfter))
		h.writeError(w, http.StatusTooManyRequests, "Too many retry attempts. Please wait and try again.")
		return
	}

	result := h.service.TryPayout(r.Context(), variant, assignmentID, nil)
	h.writePayoutResult(w, result)
}

// DispatchSubjectHandler attempts every unsettled payout of one variant on a subject.
func (h *PayoutHandlers) DispatchSubjectHandler(w http.ResponseWriter, r *http.Request) {
	variant, err := domain.ParseVariant(chi.URLParam(r, "variant"))
	if err != nil {
		h.writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	subjectID, err := uuid.Parse(chi.URLParam(r, "subjectID"))
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "Invalid subject ID format")
		return
	}

	results, err := h.service.TryPayoutsForSubject(r.Context(), variant, subjectID)
	if err != nil {
		log.Printf("level=error component=api endpoint=dispatch_subject msg=\"bulk dispatch failed\" variant=%s subject_id=%s err=%v", variant, subjectID, err)
		h.writeError(w, http.StatusInternalServerError, "Failed to dispatch payouts")
		return
	}

	h.writeJSON(w, http.StatusOK, map[string]interface{}{"results": results})
}

// RecalculateSharesHandler recomputes cooperative member payout shares from
// their current impact scores.
func (h *PayoutHandlers) RecalculateSharesHandler(w http.ResponseWriter, r *http.Request) {
	members, err := h.service.CalculatePayoutShares(r.Context())
	if err != nil {
		log.Printf("level=error component=api endpoint=recalculate_shares msg=\"share recalculation failed\" err=%v", err)
		h.writeError(w, http.StatusInternalServerError, "Failed to recalculate cooperative shares")
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]interface{}{"members": members})
}

// provisionPayeeRequest carries the identity details needed to create a rail account.
type provisionPayeeRequest struct {
	Email   string `json:"email"`
	Country string `json:"country"`
}

// ProvisionPayeeHandler creates a payment rail account for a payee.
func (h *PayoutHandlers) ProvisionPayeeHandler(w http.ResponseWriter, r *http.Request) {
	payeeID, ok := h.parsePayeeID(w, r)
	if !ok {
		return
	}

	var req provisionPayeeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if req.Email == "" || req.Country == "" {
		h.writeError(w, http.StatusBadRequest, "email and country are required")
		return
	}

	accountID, err := h.service.ProvisionRailAccount(r.Context(), payeeID, req.Email, req.Country)
	if err != nil {
		log.Printf("level=error component=api endpoint=provision_payee msg=\"rail account provisioning failed\" payee_id=%s err=%v", payeeID, err)
		h.writeError(w, http.StatusInternalServerError, "Failed to provision payout account")
		return
	}

	h.writeJSON(w, http.StatusCreated, map[string]string{"rail_account_id": accountID})
}

// OnboardingLinkHandler issues a fresh onboarding URL for a provisioned payee.
func (h *PayoutHandlers) OnboardingLinkHandler(w http.ResponseWriter, r *http.Request) {
	payeeID, ok := h.parsePayeeID(w, r)
	if !ok {
		return
	}

	link, err := h.service.CreateOnboardingLink(r.Context(), payeeID)
	if err != nil {
		if errors.Is(err, app.ErrPayeeNotProvisioned) {
			h.writeError(w, http.StatusPreconditionFailed, "Payee has no payout account yet. Provision one first.")
			return
		}
		log.Printf("level=error component=api endpoint=onboarding_link msg=\"onboarding link creation failed\" payee_id=%s err=%v", payeeID, err)
		h.writeError(w, http.StatusInternalServerError, "Failed to create onboarding link")
		return
	}

	h.writeJSON(w, http.StatusCreated, link)
}

// RailStatusHandler returns the payee's live rail account status, refreshing
// the cached connect flags as a side effect.
func (h *PayoutHandlers) RailStatusHandler(w http.ResponseWriter, r *http.Request) {
	payeeID, ok := h.parsePayeeID(w, r)
	if !ok {
		return
	}

	status, err := h.service.RefreshRailStatus(r.Context(), payeeID)
	if err != nil {
		if errors.Is(err, app.ErrPayeeNotProvisioned) {
			h.writeError(w, http.StatusPreconditionFailed, "Payee has no payout account yet. Provision one first.")
			return
		}
		log.Printf("level=error component=api endpoint=rail_status msg=\"rail status refresh failed\" payee_id=%s err=%v", payeeID, err)
		h.writeError(w, http.StatusInternalServerError, "Failed to refresh payout account status")
		return
	}

	h.writeJSON(w, http.StatusOK, status)
}

func (h *PayoutHandlers) parsePayoutTarget(w http.ResponseWriter, r *http.Request) (domain.PayoutVariant, uuid.UUID, bool) {
	variant, err := domain.ParseVariant(chi.URLParam(r, "variant"))
	if err != nil {
		h.writeError(w, http.StatusBadRequest, err.Error())
		return "", uuid.Nil, false
	}
	assignmentID, err := uuid.Parse(chi.URLParam(r, "assignmentID"))
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "Invalid assignment ID format")
		return "", uuid.Nil, false
	}
	return variant, assignmentID, true
}

func (h *PayoutHandlers) parsePayeeID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	payeeID, err := uuid.Parse(chi.URLParam(r, "payeeID"))
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "Invalid payee ID format")
		return uuid.Nil, false
	}
	return payeeID, true
}

func (h *PayoutHandlers) writePayoutResult(w http.ResponseWriter, result domain.PayoutResult) {
	switch {
	case result.Success && result.PayoutCreated:
		h.writeJSON(w, http.StatusCreated, result)
	case result.Success:
		h.writeJSON(w, http.StatusOK, result)
	case result.NotFound:
		h.writeJSON(w, http.StatusNotFound, result)
	default:
		h.writeJSON(w, http.StatusInternalServerError, result)
	}
}

func (h *PayoutHandlers) writeError(w http.ResponseWriter, status int, message string) {
	h.writeJSON(w, status, map[string]string{"error": message})
}

func (h *PayoutHandlers) writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if data != nil {
		json.NewEncoder(w).Encode(data)
	}
}
