/**
 * @description
 * This file defines the reward rule catalog models. A rule is configuration
 * data: it names one category of balance-changing event, who qualifies for it,
 * how much each currency moves, and what frequency limits apply. Rules are
 * edited by administrators and read-only to the evaluation path.
 *
 * @notes
 * - Deltas are signed. An `earn` rule carries non-negative deltas; a `consume`
 *   rule carries a non-positive spendable delta. Contribution is never reduced
 *   by a rule, only by an explicit administrative adjustment.
 * - Edits to a rule apply prospectively only: a posted transaction snapshots
 *   the deltas it applied, so history never changes meaning under a rule edit.
 */

package domain

import "time"

const (
	RuleDirectionEarn    = "earn"
	RuleDirectionConsume = "consume"

	RuleStatusActive   = "active"
	RuleStatusInactive = "inactive"

	// TargetRoleAll matches every account role. Specific-role rules outrank it
	// when both match an event.
	TargetRoleAll = "all"
)

// Well-known event types handled by the rule engine. Task completion rewards
// resolve by the task's reward_rule_code instead of an event type.
const (
	EventDailyCheckin      = "daily_checkin"
	EventReferralConfirmed = "referral_confirmed"
	EventReferralWelcome   = "referral_welcome"
	EventCouponVerified    = "coupon_verified"
	EventGroupJoined       = "customer_group_joined"
)

// Rule is one row of the reward rule catalog. Maps to the `reward_rules` table.
type Rule struct {
	Code              string    `json:"code"`
	Name              string    `json:"name"`
	EventType         string    `json:"event_type"`
	Direction         string    `json:"direction"`   // 'earn' or 'consume'
	TargetRole        string    `json:"target_role"` // 'all' or a specific role
	ContributionDelta int64     `json:"contribution_delta"`
	SpendableDelta    int64     `json:"spendable_delta"`
	MaxDailyTimes     *int      `json:"max_daily_times,omitempty"` // nil = unlimited
	MaxTotalTimes     *int      `json:"max_total_times,omitempty"` // nil = unlimited
	Status            string    `json:"status"`
	Priority          int       `json:"priority"`
	CreatedAt         time.Time `json:"created_at"`
	UpdatedAt         time.Time `json:"updated_at"`
}

// RuleDecision is the outcome of a successful rule evaluation: the rule that
// applied and the deltas to post. It carries no side effects; the caller must
// execute it through the ledger after a quota reservation.
type RuleDecision struct {
	Rule              Rule  `json:"rule"`
	ContributionDelta int64 `json:"contribution_delta"`
	SpendableDelta    int64 `json:"spendable_delta"`
}

// CreateRulePayload is the admin DTO for creating a catalog rule.
type CreateRulePayload struct {
	Code              string `json:"code"`
	Name              string `json:"name"`
	EventType         string `json:"event_type"`
	Direction         string `json:"direction"`
	TargetRole        string `json:"target_role"`
	ContributionDelta int64  `json:"contribution_delta"`
	SpendableDelta    int64  `json:"spendable_delta"`
	MaxDailyTimes     *int   `json:"max_daily_times,omitempty"`
	MaxTotalTimes     *int   `json:"max_total_times,omitempty"`
	Priority          int    `json:"priority"`
}

// UpdateRulePayload is the admin DTO for prospective rule edits. Nil fields are
// left unchanged.
type UpdateRulePayload struct {
	Name              *string `json:"name,omitempty"`
	ContributionDelta *int64  `json:"contribution_delta,omitempty"`
	SpendableDelta    *int64  `json:"spendable_delta,omitempty"`
	MaxDailyTimes     *int    `json:"max_daily_times,omitempty"`
	MaxTotalTimes     *int    `json:"max_total_times,omitempty"`
	Status            *string `json:"status,omitempty"`
	Priority          *int    `json:"priority,omitempty"`
}
