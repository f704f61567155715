/**
 * @description
 * HTTP handlers for the administrative surface: rule catalog management,
 * manual balance adjustments, transaction reversal, quota resets, and account
 * freezing. These routes are guarded by the internal API key middleware and go
 * through the same ledger and rule engine as the user surface.
 */

package api

import (
	"encoding/json"
	"log"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/lingzhiapp/reward-service/internal/domain"
)

// CreateRuleHandler adds a rule to the catalog.
func (h *RewardHandlers) CreateRuleHandler(w http.ResponseWriter, r *http.Request) {
	var payload domain.CreateRulePayload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		h.writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	rule, err := h.service.CreateRule(r.Context(), payload)
	if err != nil {
		log.Printf("level=warn component=api endpoint=create_rule outcome=failed code=%s err=%v", payload.Code, err)
		status, message := statusForError(err)
		h.writeError(w, status, message)
		return
	}

	h.writeJSON(w, http.StatusCreated, rule)
}

// UpdateRuleHandler applies a prospective patch to a rule.
func (h *RewardHandlers) UpdateRuleHandler(w http.ResponseWriter, r *http.Request) {
	code := chi.URLParam(r, "code")
	if code == "" {
		h.writeError(w, http.StatusBadRequest, "Rule code is required")
		return
	}

	var patch domain.UpdateRulePayload
	if err := json.NewDecoder(r.Body).Decode(&patch); err != nil {
		h.writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	rule, err := h.service.UpdateRule(r.Context(), code, patch)
	if err != nil {
		log.Printf("level=warn component=api endpoint=update_rule outcome=failed code=%s err=%v", code, err)
		status, message := statusForError(err)
		h.writeError(w, status, message)
		return
	}

	h.writeJSON(w, http.StatusOK, rule)
}

// ListRulesHandler returns the full rule catalog.
func (h *RewardHandlers) ListRulesHandler(w http.ResponseWriter, r *http.Request) {
	rules, err := h.service.ListRules(r.Context())
	if err != nil {
		status, message := statusForError(err)
		h.writeError(w, status, message)
		return
	}

	h.writeJSON(w, http.StatusOK, map[string]interface{}{
		"rules": rules,
		"count": len(rules),
	})
}

// AdjustmentHandler posts a manual balance adjustment.
func (h *RewardHandlers) AdjustmentHandler(w http.ResponseWriter, r *http.Request) {
	var payload domain.AdjustmentPayload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		h.writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if payload.UserID == uuid.Nil {
		h.writeError(w, http.StatusBadRequest, "user_id is required")
		return
	}

	tx, err := h.service.AdjustBalance(r.Context(), payload)
	if err != nil {
		log.Printf("level=warn component=api endpoint=admin_adjustment outcome=failed user_id=%s err=%v", payload.UserID, err)
		status, message := statusForError(err)
		h.writeError(w, status, message)
		return
	}

	h.writeJSON(w, http.StatusCreated, tx)
}

// ReverseTransactionHandler posts a compensating transaction for a ledger row.
func (h *RewardHandlers) ReverseTransactionHandler(w http.ResponseWriter, r *http.Request) {
	transactionID, ok := parseUUIDParam(chi.URLParam(r, "transaction_id"))
	if !ok {
		h.writeError(w, http.StatusBadRequest, "Invalid transaction ID format")
		return
	}

	var body struct {
		Reason string `json:"reason"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		h.writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	reversal, err := h.service.ReverseTransaction(r.Context(), transactionID, body.Reason)
	if err != nil {
		log.Printf("level=warn component=api endpoint=reverse_transaction outcome=failed transaction_id=%s err=%v", transactionID, err)
		status, message := statusForError(err)
		h.writeError(w, status, message)
		return
	}

	h.writeJSON(w, http.StatusCreated, reversal)
}

// QuotaUsageHandler reports a user's consumed allowance under one rule.
func (h *RewardHandlers) QuotaUsageHandler(w http.ResponseWriter, r *http.Request) {
	userID, ok := parseUUIDParam(r.URL.Query().Get("user_id"))
	if !ok {
		h.writeError(w, http.StatusBadRequest, "Invalid or missing user_id")
		return
	}

	usage, err := h.service.QuotaUsage(r.Context(), userID, r.URL.Query().Get("rule_code"))
	if err != nil {
		status, message := statusForError(err)
		h.writeError(w, status, message)
		return
	}

	h.writeJSON(w, http.StatusOK, usage)
}

// QuotaResetHandler zeroes a quota counter for support interventions.
func (h *RewardHandlers) QuotaResetHandler(w http.ResponseWriter, r *http.Request) {
	var payload domain.QuotaResetPayload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		h.writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	if err := h.service.ResetQuota(r.Context(), payload); err != nil {
		log.Printf("level=warn component=api endpoint=quota_reset outcome=failed user_id=%s rule_code=%s err=%v", payload.UserID, payload.RuleCode, err)
		status, message := statusForError(err)
		h.writeError(w, status, message)
		return
	}

	h.writeJSON(w, http.StatusOK, map[string]string{"status": "reset"})
}

// SetAccountStatusHandler freezes or unfreezes an account.
func (h *RewardHandlers) SetAccountStatusHandler(w http.ResponseWriter, r *http.Request) {
	userID, ok := parseUUIDParam(chi.URLParam(r, "user_id"))
	if !ok {
		h.writeError(w, http.StatusBadRequest, "Invalid user ID format")
		return
	}

	var body struct {
		Status string `json:"status"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		h.writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	if err := h.service.SetAccountStatus(r.Context(), userID, body.Status); err != nil {
		log.Printf("level=warn component=api endpoint=set_account_status outcome=failed user_id=%s status=%s err=%v", userID, body.Status, err)
		status, message := statusForError(err)
		h.writeError(w, status, message)
		return
	}

	h.writeJSON(w, http.StatusOK, map[string]string{"user_id": userID.String(), "status": body.Status})
}
