/**
 * @description
 * Administrative operations. Every one of them routes through the same ledger
 * and rule catalog as the hot path: a manual adjustment is a regular posted
 * transaction, a reversal is a compensating transaction, and rule edits apply
 * prospectively only. Nothing here bypasses the core's invariants.
 */

package app

import (
	"context"
	"errors"
	"fmt"
	"log"

	"github.com/google/uuid"
	"github.com/lingzhiapp/reward-service/internal/domain"
	"github.com/lingzhiapp/reward-service/internal/store"
)

// AdjustBalance posts a manual administrative adjustment: transaction type
// 'adjust', no rule code, no quota. This is the only path that may reduce a
// contribution balance below zero.
func (s *Service) AdjustBalance(ctx context.Context, payload domain.AdjustmentPayload) (*domain.Transaction, error) {
	if payload.ContributionDelta == 0 && payload.SpendableDelta == 0 {
		return nil, fmt.Errorf("%w: adjustment must move at least one balance", ErrInvalidPayload)
	}
	if payload.Reason == "" {
		return nil, fmt.Errorf("%w: adjustment reason is required", ErrInvalidPayload)
	}

	post := domain.TransactionPost{
		UserID:            payload.UserID,
		Type:              domain.TransactionTypeAdjust,
		ContributionDelta: payload.ContributionDelta,
		SpendableDelta:    payload.SpendableDelta,
		Description:       "admin adjustment: " + payload.Reason,
	}

	var posted *domain.Transaction
	err := s.retryOnConflict(ctx, func() error {
		var postErr error
		posted, postErr = s.repo.PostTransaction(ctx, post)
		return postErr
	})
	if err != nil {
		return nil, err
	}

	log.Printf("level=info component=app msg=\"admin adjustment posted\" user_id=%s contribution=%d spendable=%d", payload.UserID, payload.ContributionDelta, payload.SpendableDelta)
	s.publishPosted(ctx, posted)
	return posted, nil
}

// ReverseTransaction posts a compensating transaction for a posted ledger row
// and marks the original reversed. True deletion is never permitted.
func (s *Service) ReverseTransaction(ctx context.Context, transactionID uuid.UUID, reason string) (*domain.Transaction, error) {
	if reason == "" {
		return nil, fmt.Errorf("%w: reversal reason is required", ErrInvalidPayload)
	}

	var reversal *domain.Transaction
	err := s.retryOnConflict(ctx, func() error {
		var revErr error
		reversal, revErr = s.repo.ReverseTransaction(ctx, transactionID, reason)
		return revErr
	})
	if err != nil {
		return nil, err
	}

	s.publish(ctx, "ledger.reversed", domain.TransactionReversedEvent{
		OriginalID: transactionID,
		ReversalID: reversal.ID,
		UserID:     reversal.UserID,
		Timestamp:  s.now(),
	})
	return reversal, nil
}

// CreateRule adds a rule to the catalog after direction/sign validation.
func (s *Service) CreateRule(ctx context.Context, payload domain.CreateRulePayload) (*domain.Rule, error) {
	if err := ValidateRulePayload(payload); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}
	targetRole := payload.TargetRole
	if targetRole == "" {
		targetRole = domain.TargetRoleAll
	}

	rule := &domain.Rule{
		Code:              payload.Code,
		Name:              payload.Name,
		EventType:         payload.EventType,
		Direction:         payload.Direction,
		TargetRole:        targetRole,
		ContributionDelta: payload.ContributionDelta,
		SpendableDelta:    payload.SpendableDelta,
		MaxDailyTimes:     payload.MaxDailyTimes,
		MaxTotalTimes:     payload.MaxTotalTimes,
		Status:            domain.RuleStatusActive,
		Priority:          payload.Priority,
	}
	if err := s.repo.CreateRule(ctx, rule); err != nil {
		return nil, err
	}
	return rule, nil
}

// UpdateRule applies a prospective edit to a catalog rule. The patch is
// merged onto the current rule and the result must pass the same
// direction/sign rules as creation: an edit cannot turn an earn rule into one
// that debits, and contribution stays non-reducible outside admin adjustments.
func (s *Service) UpdateRule(ctx context.Context, code string, patch domain.UpdateRulePayload) (*domain.Rule, error) {
	if patch.Status != nil && *patch.Status != domain.RuleStatusActive && *patch.Status != domain.RuleStatusInactive {
		return nil, fmt.Errorf("%w: status must be 'active' or 'inactive'", ErrInvalidPayload)
	}

	existing, err := s.repo.FindRuleByCode(ctx, code)
	if err != nil {
		return nil, err
	}
	merged := domain.CreateRulePayload{
		Code:              existing.Code,
		Name:              existing.Name,
		EventType:         existing.EventType,
		Direction:         existing.Direction,
		TargetRole:        existing.TargetRole,
		ContributionDelta: existing.ContributionDelta,
		SpendableDelta:    existing.SpendableDelta,
		MaxDailyTimes:     existing.MaxDailyTimes,
		MaxTotalTimes:     existing.MaxTotalTimes,
		Priority:          existing.Priority,
	}
	if patch.Name != nil {
		merged.Name = *patch.Name
	}
	if patch.ContributionDelta != nil {
		merged.ContributionDelta = *patch.ContributionDelta
	}
	if patch.SpendableDelta != nil {
		merged.SpendableDelta = *patch.SpendableDelta
	}
	if patch.MaxDailyTimes != nil {
		merged.MaxDailyTimes = patch.MaxDailyTimes
	}
	if patch.MaxTotalTimes != nil {
		merged.MaxTotalTimes = patch.MaxTotalTimes
	}
	if patch.Priority != nil {
		merged.Priority = *patch.Priority
	}
	if err := ValidateRulePayload(merged); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}

	return s.repo.UpdateRule(ctx, code, patch)
}

// ListRules returns the full catalog for the admin surface.
func (s *Service) ListRules(ctx context.Context) ([]domain.Rule, error) {
	return s.repo.ListRules(ctx)
}

// ResetQuota zeroes one (user, rule, period) counter.
func (s *Service) ResetQuota(ctx context.Context, payload domain.QuotaResetPayload) error {
	if payload.RuleCode == "" || payload.Period == "" {
		return fmt.Errorf("%w: rule_code and period are required", ErrInvalidPayload)
	}
	if err := s.repo.ResetQuota(ctx, payload.UserID, payload.RuleCode, payload.Period); err != nil {
		return err
	}
	log.Printf("level=info component=app msg=\"quota counter reset\" user_id=%s rule_code=%s period=%s", payload.UserID, payload.RuleCode, payload.Period)
	return nil
}

// SetAccountStatus freezes or unfreezes an account.
func (s *Service) SetAccountStatus(ctx context.Context, userID uuid.UUID, status string) error {
	if status != domain.AccountStatusActive && status != domain.AccountStatusFrozen {
		return fmt.Errorf("%w: status must be 'active' or 'frozen'", ErrInvalidPayload)
	}
	return s.repo.SetAccountStatus(ctx, userID, status)
}

// QuotaUsage reads a user's consumed allowance for one rule: the current
// daily and all-time counters next to the rule's configured limits. Support
// checks this before deciding whether a counter reset is warranted.
func (s *Service) QuotaUsage(ctx context.Context, userID uuid.UUID, ruleCode string) (*domain.QuotaUsage, error) {
	if ruleCode == "" {
		return nil, fmt.Errorf("%w: rule_code is required", ErrInvalidPayload)
	}
	rule, err := s.repo.FindRuleByCode(ctx, ruleCode)
	if err != nil {
		return nil, err
	}

	dayKey := DayKey(s.now())
	dailyUsed, err := s.repo.GetQuotaCount(ctx, userID, ruleCode, dayKey)
	if err != nil {
		return nil, err
	}
	totalUsed, err := s.repo.GetQuotaCount(ctx, userID, ruleCode, domain.PeriodTotal)
	if err != nil {
		return nil, err
	}

	return &domain.QuotaUsage{
		UserID:     userID,
		RuleCode:   rule.Code,
		DayKey:     dayKey,
		DailyUsed:  dailyUsed,
		DailyLimit: rule.MaxDailyTimes,
		TotalUsed:  totalUsed,
		TotalLimit: rule.MaxTotalTimes,
	}, nil
}

// GetTaskReward returns the reward transaction already posted for a task, if
// any. Used by the completion endpoint to report idempotent retries.
func (s *Service) GetTaskReward(ctx context.Context, taskID uuid.UUID) (*domain.Transaction, error) {
	tx, err := s.repo.FindTransactionByTaskID(ctx, taskID)
	if err != nil {
		if errors.Is(err, store.ErrTransactionNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return tx, nil
}
