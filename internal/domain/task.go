/**
 * @description
 * This file defines the task domain model: a claimable unit of reward-bearing
 * work progressing through a fixed state machine. Task categories differ only
 * in configuration (which rule pays out, whether completion self-certifies),
 * not in type.
 *
 * State machine:
 *   open -> claimed -> submitted -> completed
 *   open/claimed/submitted -> cancelled
 * `completed` and `cancelled` are terminal.
 */

package domain

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

const (
	TaskStatusOpen      = "open"
	TaskStatusClaimed   = "claimed"
	TaskStatusSubmitted = "submitted"
	TaskStatusCompleted = "completed"
	TaskStatusCancelled = "cancelled"

	TaskCategoryAesthetic     = "aesthetic_task"
	TaskCategoryCustomerGroup = "customer_group"
	TaskCategoryReferral      = "referral"
	TaskCategoryCoupon        = "coupon"
	TaskCategoryGeneric       = "generic"
)

// SelfCertifyingCategory reports whether a category completes automatically on
// submission instead of waiting for a reviewer. Coupon redemptions and customer
// group registrations are self-service; everything else needs review.
func SelfCertifyingCategory(category string) bool {
	return category == TaskCategoryCoupon || category == TaskCategoryCustomerGroup
}

// Task maps to the `tasks` table.
type Task struct {
	ID             uuid.UUID  `json:"id"`
	Category       string     `json:"category"`
	Title          string     `json:"title"`
	Description    string     `json:"description"`
	Status         string     `json:"status"`
	IssuerID       uuid.UUID  `json:"issuer_id"`
	ClaimedBy      *uuid.UUID `json:"claimed_by,omitempty"`
	RewardRuleCode string     `json:"reward_rule_code"`
	Evidence       []byte     `json:"evidence,omitempty"` // submission payload, stored as JSONB
	Deadline       *time.Time `json:"deadline,omitempty"`
	ClaimedAt      *time.Time `json:"claimed_at,omitempty"`
	SubmittedAt    *time.Time `json:"submitted_at,omitempty"`
	CompletedAt    *time.Time `json:"completed_at,omitempty"`
	CancelledAt    *time.Time `json:"cancelled_at,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
	UpdatedAt      time.Time  `json:"updated_at"`
}

// CreateTaskPayload is the issuer DTO for creating a task in `open` state.
type CreateTaskPayload struct {
	Category       string     `json:"category"`
	Title          string     `json:"title"`
	Description    string     `json:"description"`
	RewardRuleCode string     `json:"reward_rule_code"`
	Deadline       *time.Time `json:"deadline,omitempty"`
}

// SubmitTaskPayload carries the claimant's evidence for review.
type SubmitTaskPayload struct {
	Evidence json.RawMessage `json:"evidence"`
}

// TaskCompletion is the result of a completion attempt. Transaction is nil when
// the work was accepted but the reward was skipped; SkipReason says why.
type TaskCompletion struct {
	Task        *Task        `json:"task"`
	Transaction *Transaction `json:"transaction,omitempty"`
	SkipReason  string       `json:"skip_reason,omitempty"`
}

// Reward-skip reasons recorded when a completed task pays nothing.
const (
	SkipReasonQuotaExceeded       = "quota_exceeded"
	SkipReasonInsufficientBalance = "insufficient_balance"
	SkipReasonRuleMissing         = "rule_missing"
	SkipReasonRuleInactive        = "rule_inactive"
)

// RewardEventRequest is the DTO for POST /rewards/events: non-task reward
// sources such as check-ins, referral confirmations, and coupon verifications.
// The acting user comes from request-scoped identity, never from the body.
type RewardEventRequest struct {
	EventType      string     `json:"event_type"`
	ReferredUserID *uuid.UUID `json:"referred_user_id,omitempty"` // referral confirmation only
	Context        string     `json:"context,omitempty"`
}
