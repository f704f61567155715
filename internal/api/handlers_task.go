/**
 * @description
 * HTTP handlers for the task lifecycle endpoints: create, read, claim, submit,
 * complete, and cancel. Each transition handler resolves the acting user from
 * request-scoped identity and delegates the state machine rules to the
 * application service.
 */

package api

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/lingzhiapp/reward-service/internal/domain"
	"github.com/lingzhiapp/reward-service/internal/store"
)

// CreateTaskHandler creates a task in the open state. The authenticated caller
// becomes the issuer.
func (h *RewardHandlers) CreateTaskHandler(w http.ResponseWriter, r *http.Request) {
	issuerID, ok := GetUserID(r.Context())
	if !ok {
		h.writeError(w, http.StatusUnauthorized, "Could not get user ID from context")
		return
	}

	var payload domain.CreateTaskPayload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		h.writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	task, err := h.service.CreateTask(r.Context(), issuerID, payload)
	if err != nil {
		log.Printf("level=warn component=api endpoint=create_task outcome=failed issuer_id=%s err=%v", issuerID, err)
		status, message := statusForError(err)
		h.writeError(w, status, message)
		return
	}

	h.writeJSON(w, http.StatusCreated, task)
}

// GetTaskHandler returns a single task by ID.
func (h *RewardHandlers) GetTaskHandler(w http.ResponseWriter, r *http.Request) {
	taskID, ok := parseUUIDParam(chi.URLParam(r, "task_id"))
	if !ok {
		h.writeError(w, http.StatusBadRequest, "Invalid task ID format")
		return
	}

	task, err := h.service.GetTask(r.Context(), taskID)
	if err != nil {
		status, message := statusForError(err)
		h.writeError(w, status, message)
		return
	}

	h.writeJSON(w, http.StatusOK, task)
}

// ClaimTaskHandler attempts the open -> claimed transition for the caller.
func (h *RewardHandlers) ClaimTaskHandler(w http.ResponseWriter, r *http.Request) {
	actorID, taskID, ok := h.taskTransitionParams(w, r)
	if !ok {
		return
	}

	task, err := h.service.ClaimTask(r.Context(), actorID, taskID)
	if err != nil {
		log.Printf("level=warn component=api endpoint=claim_task outcome=failed user_id=%s task_id=%s err=%v", actorID, taskID, err)
		status, message := statusForError(err)
		h.writeError(w, status, message)
		return
	}

	h.writeJSON(w, http.StatusOK, task)
}

// SubmitTaskHandler attempts the claimed -> submitted transition with the
// claimant's evidence. Self-certifying categories complete immediately and the
// response includes the completion result.
func (h *RewardHandlers) SubmitTaskHandler(w http.ResponseWriter, r *http.Request) {
	actorID, taskID, ok := h.taskTransitionParams(w, r)
	if !ok {
		return
	}

	var payload domain.SubmitTaskPayload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		h.writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	completion, err := h.service.SubmitTask(r.Context(), actorID, taskID, payload)
	if err != nil {
		log.Printf("level=warn component=api endpoint=submit_task outcome=failed user_id=%s task_id=%s err=%v", actorID, taskID, err)
		status, message := statusForError(err)
		h.writeError(w, status, message)
		return
	}

	h.writeJSON(w, http.StatusOK, completion)
}

// CompleteTaskHandler attempts the submitted -> completed transition. Only
// reviewers and admins may accept work.
func (h *RewardHandlers) CompleteTaskHandler(w http.ResponseWriter, r *http.Request) {
	actorID, taskID, ok := h.taskTransitionParams(w, r)
	if !ok {
		return
	}

	role := GetUserRole(r.Context())
	if role != domain.RoleReviewer && role != domain.RoleAdmin {
		h.writeError(w, http.StatusForbidden, "Only reviewers may complete tasks")
		return
	}

	completion, err := h.service.CompleteTask(r.Context(), actorID, taskID)
	if err != nil {
		// A retry that lost to an earlier completion reads idempotently: the
		// response carries the original outcome, including the posted reward.
		if errors.Is(err, store.ErrInvalidTransition) || errors.Is(err, store.ErrRewardAlreadyPosted) {
			if prior, ok := h.service.CompletedTaskResult(r.Context(), taskID); ok {
				h.writeJSON(w, http.StatusOK, prior)
				return
			}
		}
		log.Printf("level=warn component=api endpoint=complete_task outcome=failed reviewer_id=%s task_id=%s err=%v", actorID, taskID, err)
		status, message := statusForError(err)
		h.writeError(w, status, message)
		return
	}

	h.writeJSON(w, http.StatusOK, completion)
}

// CancelTaskHandler releases a task from any pre-completion state.
func (h *RewardHandlers) CancelTaskHandler(w http.ResponseWriter, r *http.Request) {
	actorID, taskID, ok := h.taskTransitionParams(w, r)
	if !ok {
		return
	}

	task, err := h.service.CancelTask(r.Context(), actorID, GetUserRole(r.Context()), taskID)
	if err != nil {
		log.Printf("level=warn component=api endpoint=cancel_task outcome=failed user_id=%s task_id=%s err=%v", actorID, taskID, err)
		status, message := statusForError(err)
		h.writeError(w, status, message)
		return
	}

	h.writeJSON(w, http.StatusOK, task)
}

// taskTransitionParams resolves the acting user and the {task_id} parameter
// shared by every transition endpoint.
func (h *RewardHandlers) taskTransitionParams(w http.ResponseWriter, r *http.Request) (uuid.UUID, uuid.UUID, bool) {
	actorID, ok := GetUserID(r.Context())
	if !ok {
		h.writeError(w, http.StatusUnauthorized, "Could not get user ID from context")
		return uuid.Nil, uuid.Nil, false
	}

	taskID, ok := parseUUIDParam(chi.URLParam(r, "task_id"))
	if !ok {
		h.writeError(w, http.StatusBadRequest, "Invalid task ID format")
		return uuid.Nil, uuid.Nil, false
	}
	return actorID, taskID, true
}
