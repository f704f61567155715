/**
 * @description
 * This file defines the transaction ledger models. A transaction is the
 * immutable record of one balance mutation: both currencies' before/after
 * snapshots, the rule that authorized it, and an optional link to the task
 * that triggered it. Ledger rows are never updated in place except the
 * `status` flag for reversal bookkeeping.
 *
 * @notes
 * - `balance_after = balance_before + change` holds for both currencies on
 *   every row; the store enforces it inside a single database transaction
 *   scoped to the account.
 * - At most one posted transaction may reference a given task. The unique
 *   constraint on `related_task_id` is the double-pay guard for retried
 *   completion calls.
 */

package domain

import (
	"time"

	"github.com/google/uuid"
)

const (
	TransactionTypeEarn     = "earn"
	TransactionTypeConsume  = "consume"
	TransactionTypeAdjust   = "adjust"
	TransactionTypeTransfer = "transfer"

	TransactionStatusPosted   = "posted"
	TransactionStatusReversed = "reversed"
)

// PeriodTotal is the sentinel period key for all-time quota counters.
const PeriodTotal = "total"

// Transaction is one immutable ledger row. Maps to the `transactions` table.
type Transaction struct {
	ID                 uuid.UUID  `json:"id"`
	UserID             uuid.UUID  `json:"user_id"`
	RuleCode           *string    `json:"rule_code,omitempty"`
	Type               string     `json:"type"` // 'earn', 'consume', 'adjust', 'transfer'
	ContributionChange int64      `json:"contribution_change"`
	ContributionBefore int64      `json:"contribution_before"`
	ContributionAfter  int64      `json:"contribution_after"`
	SpendableChange    int64      `json:"spendable_change"`
	SpendableBefore    int64      `json:"spendable_before"`
	SpendableAfter     int64      `json:"spendable_after"`
	Status             string     `json:"status"` // 'posted' or 'reversed'
	Description        string     `json:"description"`
	RelatedTaskID      *uuid.UUID `json:"related_task_id,omitempty"`
	ReversalOf         *uuid.UUID `json:"reversal_of,omitempty"`
	CreatedAt          time.Time  `json:"created_at"`
}

// QuotaSpec carries a rule's frequency limits into the store so the counter
// check-and-increment happens inside the same database transaction as the
// ledger post. Nil limits are unlimited; when both are set, both must pass.
type QuotaSpec struct {
	RuleCode   string
	DayKey     string // UTC calendar day, e.g. "2026-09-01"
	DailyLimit *int
	TotalLimit *int
}

// TransactionPost is the store-level instruction to post one ledger row.
type TransactionPost struct {
	UserID            uuid.UUID
	Role              string // account role, used only when the first post creates the account
	RuleCode          *string
	Type              string
	ContributionDelta int64
	SpendableDelta    int64
	Description       string
	RelatedTaskID     *uuid.UUID
	Quota             *QuotaSpec
}

// QuotaCounter is one (user, rule, period) counter row. Maps to `quota_counters`.
type QuotaCounter struct {
	UserID    uuid.UUID `json:"user_id"`
	RuleCode  string    `json:"rule_code"`
	Period    string    `json:"period"`
	Count     int       `json:"count"`
	UpdatedAt time.Time `json:"updated_at"`
}

// QuotaUsage is the admin read-path DTO for one user's consumed allowance
// under a rule, daily and all-time, next to the configured limits.
type QuotaUsage struct {
	UserID     uuid.UUID `json:"user_id"`
	RuleCode   string    `json:"rule_code"`
	DayKey     string    `json:"day_key"`
	DailyUsed  int       `json:"daily_used"`
	DailyLimit *int      `json:"daily_limit,omitempty"`
	TotalUsed  int       `json:"total_used"`
	TotalLimit *int      `json:"total_limit,omitempty"`
}

// TransactionListOptions controls pagination and filtering for the ledger
// history read path.
type TransactionListOptions struct {
	Limit    int
	Offset   int
	Type     string
	RuleCode string
}

// AdjustmentPayload is the admin DTO for a manual balance adjustment. It posts
// a regular ledger transaction with type 'adjust' and no rule code; it is the
// only path that may reduce a contribution balance below zero.
type AdjustmentPayload struct {
	UserID            uuid.UUID `json:"user_id"`
	ContributionDelta int64     `json:"contribution_delta"`
	SpendableDelta    int64     `json:"spendable_delta"`
	Reason            string    `json:"reason"`
}

// QuotaResetPayload is the admin DTO for an explicit counter reset.
type QuotaResetPayload struct {
	UserID   uuid.UUID `json:"user_id"`
	RuleCode string    `json:"rule_code"`
	Period   string    `json:"period"` // day key or "total"
}
