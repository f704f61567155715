/**
 * @description
 * This file contains the HTTP handlers for the reward-service's API endpoints.
 * Handlers are responsible for parsing incoming requests, calling the appropriate
 * methods on the application service, and writing the HTTP response. They act as the
 * bridge between the web layer and the business logic layer.
 *
 * @dependencies
 * - encoding/json, log, net/http: Standard Go libraries.
 * - internal/app, internal/domain, internal/store: For service logic, models, and custom errors.
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
	"github.com/lingzhiapp/reward-service/internal/app"
	"github.com/lingzhiapp/reward-service/internal/domain"
	"github.com/lingzhiapp/reward-service/internal/store"
)

// RewardHandlers holds the application service that handlers will use.
type RewardHandlers struct {
	service *app.Service
}

// NewRewardHandlers creates the handler set for the reward-service routes.
func NewRewardHandlers(service *app.Service) *RewardHandlers {
	return &RewardHandlers{service: service}
}

// statusForError maps service and store errors to HTTP status codes. Handlers
// share this mapping so a given failure always surfaces the same way.
func statusForError(err error) (int, string) {
	switch {
	case errors.Is(err, app.ErrInvalidPayload):
		return http.StatusBadRequest, err.Error()
	case errors.Is(err, app.ErrNoRuleFound), errors.Is(err, store.ErrRuleNotFound):
		return http.StatusNotFound, "No matching reward rule"
	case errors.Is(err, app.ErrRuleInactive):
		return http.StatusConflict, "Reward rule is inactive"
	case errors.Is(err, store.ErrAccountNotFound):
		return http.StatusNotFound, "Account not found"
	case errors.Is(err, store.ErrAccountFrozen):
		return http.StatusForbidden, "Account is frozen"
	case errors.Is(err, store.ErrQuotaExceeded):
		return http.StatusTooManyRequests, "Reward quota exceeded"
	case errors.Is(err, store.ErrInsufficientBalance):
		return http.StatusPaymentRequired, "Insufficient balance"
	case errors.Is(err, store.ErrRewardAlreadyPosted):
		return http.StatusConflict, "Reward already posted for this task"
	case errors.Is(err, store.ErrTransactionNotFound):
		return http.StatusNotFound, "Transaction not found"
	case errors.Is(err, store.ErrAlreadyReversed):
		return http.StatusConflict, "Transaction already reversed"
	case errors.Is(err, store.ErrRuleExists):
		return http.StatusConflict, "Rule code already exists"
	case errors.Is(err, store.ErrTaskNotFound):
		return http.StatusNotFound, "Task not found"
	case errors.Is(err, store.ErrTaskAlreadyClaimed):
		return http.StatusConflict, "Task already claimed"
	case errors.Is(err, store.ErrNotClaimant):
		return http.StatusForbidden, "Only the claimant may perform this action"
	case errors.Is(err, store.ErrInvalidTransition):
		return http.StatusConflict, "Task is not in a valid state for this action"
	case errors.Is(err, app.ErrNotAuthorized):
		return http.StatusForbidden, "Not authorized"
	case errors.Is(err, app.ErrRateLimited):
		return http.StatusTooManyRequests, "Too many requests; slow down"
	case errors.Is(err, app.ErrConflictExhausted):
		return http.StatusServiceUnavailable, "Temporary contention; please retry"
	default:
		return http.StatusInternalServerError, "An internal error occurred"
	}
}

// authorizeAccountAccess resolves the {user_id} path parameter and confirms
// the caller may read that account: either their own, or any account when the
// caller holds the admin role.
func (h *RewardHandlers) authorizeAccountAccess(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	actorID, ok := GetUserID(r.Context())
	if !ok {
		h.writeError(w, http.StatusUnauthorized, "Could not get user ID from context")
		return uuid.Nil, false
	}

	targetID, ok := parseUUIDParam(chi.URLParam(r, "user_id"))
	if !ok {
		h.writeError(w, http.StatusBadRequest, "Invalid user ID format")
		return uuid.Nil, false
	}

	if targetID != actorID && GetUserRole(r.Context()) != domain.RoleAdmin {
		h.writeError(w, http.StatusForbidden, "Not authorized to view this account")
		return uuid.Nil, false
	}
	return targetID, true
}

// GetBalanceHandler returns a user's dual balances.
func (h *RewardHandlers) GetBalanceHandler(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.authorizeAccountAccess(w, r)
	if !ok {
		return
	}

	balance, err := h.service.GetBalance(r.Context(), userID)
	if err != nil {
		log.Printf("level=warn component=api endpoint=get_balance outcome=failed user_id=%s err=%v", userID, err)
		status, message := statusForError(err)
		h.writeError(w, status, message)
		return
	}

	h.writeJSON(w, http.StatusOK, balance)
}

// ListTransactionsHandler returns a user's ledger history, newest first, with
// optional type/rule_code filters and pagination.
func (h *RewardHandlers) ListTransactionsHandler(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.authorizeAccountAccess(w, r)
	if !ok {
		return
	}

	opts := domain.TransactionListOptions{
		Type:     r.URL.Query().Get("type"),
		RuleCode: r.URL.Query().Get("rule_code"),
	}
	if raw := r.URL.Query().Get("limit"); raw != "" {
		if limit, err := strconv.Atoi(raw); err == nil {
			opts.Limit = limit
		}
	}
	if raw := r.URL.Query().Get("offset"); raw != "" {
		if offset, err := strconv.Atoi(raw); err == nil {
			opts.Offset = offset
		}
	}

	transactions, err := h.service.ListTransactions(r.Context(), userID, opts)
	if err != nil {
		log.Printf("level=warn component=api endpoint=list_transactions outcome=failed user_id=%s err=%v", userID, err)
		status, message := statusForError(err)
		h.writeError(w, status, message)
		return
	}

	h.writeJSON(w, http.StatusOK, map[string]interface{}{
		"transactions": transactions,
		"count":        len(transactions),
	})
}

// RewardEventHandler processes a platform behaviour event (check-in, referral
// confirmation, coupon verification) for the authenticated user.
func (h *RewardHandlers) RewardEventHandler(w http.ResponseWriter, r *http.Request) {
	userID, ok := GetUserID(r.Context())
	if !ok {
		h.writeError(w, http.StatusUnauthorized, "Could not get user ID from context")
		return
	}

	var req domain.RewardEventRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if req.EventType == "" {
		h.writeError(w, http.StatusBadRequest, "event_type is required")
		return
	}

	tx, err := h.service.ProcessRewardEvent(r.Context(), userID, GetUserRole(r.Context()), req)
	if err != nil {
		log.Printf("level=warn component=api endpoint=reward_event outcome=failed user_id=%s event_type=%s err=%v", userID, req.EventType, err)
		status, message := statusForError(err)
		h.writeError(w, status, message)
		return
	}

	h.writeJSON(w, http.StatusCreated, tx)
}

// parseUUIDParam extracts and validates a UUID path or query value.
func parseUUIDParam(raw string) (uuid.UUID, bool) {
	id, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, false
	}
	return id, true
}

// writeJSON is a helper for writing JSON responses.
func (h *RewardHandlers) writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if data != nil {
		json.NewEncoder(w).Encode(data)
	}
}

// writeError is a helper for writing JSON error responses.
func (h *RewardHandlers) writeError(w http.ResponseWriter, status int, message string) {
	h.writeJSON(w, status, map[string]string{"error": message})
}
