/**
 * @description
 * Rule evaluation for the reward engine. Evaluation is a pure function over a
 * catalog snapshot: it picks the applicable rule for an event and returns a
 * decision, without touching any state. The caller executes the decision
 * through the ledger after a quota reservation.
 *
 * Resolution order: rules matching the actor's role outrank `all`-role rules;
 * within a tier the highest priority wins, with rule code as a stable
 * tiebreak. No matching rule is a routine outcome for direct events and an
 * integrity fault for task completion; the caller decides which.
 */

package app

import (
	"errors"
	"time"

	"github.com/lingzhiapp/reward-service/internal/domain"
)

var (
	ErrNoRuleFound  = errors.New("no applicable rule for event")
	ErrRuleInactive = errors.New("rule is inactive")
)

// DayKey computes the daily quota period key from a point in time. Quota days
// roll over at midnight UTC.
func DayKey(t time.Time) string {
	return t.UTC().Format("2006-01-02")
}

// ResolveRule picks the single applicable rule from a catalog snapshot for an
// actor role. The snapshot is expected to be pre-filtered to active rules for
// one event type (ListActiveRulesByEventType), but inactive entries are
// tolerated and skipped.
func ResolveRule(rules []domain.Rule, role string) (*domain.Rule, error) {
	var best *domain.Rule
	bestSpecific := false
	for i := range rules {
		rule := &rules[i]
		if rule.Status != domain.RuleStatusActive {
			continue
		}
		specific := rule.TargetRole != domain.TargetRoleAll
		if specific && rule.TargetRole != role {
			continue
		}
		if best == nil {
			best, bestSpecific = rule, specific
			continue
		}
		if specific != bestSpecific {
			if specific {
				best, bestSpecific = rule, true
			}
			continue
		}
		if rule.Priority > best.Priority || (rule.Priority == best.Priority && rule.Code < best.Code) {
			best = rule
		}
	}
	if best == nil {
		return nil, ErrNoRuleFound
	}
	return best, nil
}

// DecisionFor builds the executable decision from a resolved rule.
func DecisionFor(rule domain.Rule) domain.RuleDecision {
	return domain.RuleDecision{
		Rule:              rule,
		ContributionDelta: rule.ContributionDelta,
		SpendableDelta:    rule.SpendableDelta,
	}
}

// QuotaSpecFor derives the quota reservation a rule requires, or nil when the
// rule is unlimited in both windows.
func QuotaSpecFor(rule domain.Rule, now time.Time) *domain.QuotaSpec {
	if rule.MaxDailyTimes == nil && rule.MaxTotalTimes == nil {
		return nil
	}
	return &domain.QuotaSpec{
		RuleCode:   rule.Code,
		DayKey:     DayKey(now),
		DailyLimit: rule.MaxDailyTimes,
		TotalLimit: rule.MaxTotalTimes,
	}
}

// transactionTypeFor maps a rule direction onto the ledger transaction type.
func transactionTypeFor(rule domain.Rule) string {
	if rule.Direction == domain.RuleDirectionConsume {
		return domain.TransactionTypeConsume
	}
	return domain.TransactionTypeEarn
}

// ValidateRulePayload checks direction/sign coherence for a new catalog rule.
// Earn rules only credit; consume rules only debit spendable and never touch
// contribution downward, since contribution is reduced solely by admin
// adjustment.
func ValidateRulePayload(p domain.CreateRulePayload) error {
	switch p.Direction {
	case domain.RuleDirectionEarn:
		if p.ContributionDelta < 0 || p.SpendableDelta < 0 {
			return errors.New("earn rules must carry non-negative deltas")
		}
	case domain.RuleDirectionConsume:
		if p.SpendableDelta > 0 || p.ContributionDelta < 0 {
			return errors.New("consume rules must carry a non-positive spendable delta and non-negative contribution delta")
		}
	default:
		return errors.New("direction must be 'earn' or 'consume'")
	}
	if p.Code == "" || p.EventType == "" {
		return errors.New("rule code and event type are required")
	}
	if p.MaxDailyTimes != nil && *p.MaxDailyTimes < 1 {
		return errors.New("max_daily_times must be at least 1 when set")
	}
	if p.MaxTotalTimes != nil && *p.MaxTotalTimes < 1 {
		return errors.New("max_total_times must be at least 1 when set")
	}
	return nil
}
