/**
 * @description
 * Task lifecycle orchestration. The state machine itself lives in conditional
 * writes at the store layer; this file owns the policy around it: who may
 * trigger which transition, when completion self-certifies, and how reward
 * issuance and reward-skips are executed and reported on the terminal
 * transition.
 */

package app

import (
	"context"
	"encoding/json"
	"fmt"
	"log"

	"github.com/google/uuid"
	"github.com/lingzhiapp/reward-service/internal/domain"
	"github.com/lingzhiapp/reward-service/internal/store"
)

func validTaskCategory(category string) bool {
	switch category {
	case domain.TaskCategoryAesthetic, domain.TaskCategoryCustomerGroup,
		domain.TaskCategoryReferral, domain.TaskCategoryCoupon, domain.TaskCategoryGeneric:
		return true
	}
	return false
}

// CreateTask creates a claimable task in the 'open' state. The reward rule
// must exist up front: a dangling rule code would otherwise surface as an
// integrity fault at completion time, which is the worst moment to learn it.
func (s *Service) CreateTask(ctx context.Context, issuerID uuid.UUID, payload domain.CreateTaskPayload) (*domain.Task, error) {
	if !validTaskCategory(payload.Category) {
		return nil, fmt.Errorf("%w: unknown task category %q", ErrInvalidPayload, payload.Category)
	}
	if payload.Title == "" {
		return nil, fmt.Errorf("%w: title is required", ErrInvalidPayload)
	}
	if payload.RewardRuleCode == "" {
		return nil, fmt.Errorf("%w: reward_rule_code is required", ErrInvalidPayload)
	}
	if _, err := s.repo.FindRuleByCode(ctx, payload.RewardRuleCode); err != nil {
		return nil, err
	}

	task := &domain.Task{
		ID:             uuid.New(),
		Category:       payload.Category,
		Title:          payload.Title,
		Description:    payload.Description,
		Status:         domain.TaskStatusOpen,
		IssuerID:       issuerID,
		RewardRuleCode: payload.RewardRuleCode,
		Deadline:       payload.Deadline,
	}
	if err := s.repo.CreateTask(ctx, task); err != nil {
		return nil, fmt.Errorf("failed to create task: %w", err)
	}
	return task, nil
}

// GetTask retrieves one task.
func (s *Service) GetTask(ctx context.Context, taskID uuid.UUID) (*domain.Task, error) {
	return s.repo.FindTaskByID(ctx, taskID)
}

// ClaimTask attempts the open -> claimed transition for the acting user.
// Concurrent claimants race on a conditional write; exactly one wins.
func (s *Service) ClaimTask(ctx context.Context, actorID, taskID uuid.UUID) (*domain.Task, error) {
	if err := s.consumeLimit(ctx, "task_claim", actorID, s.claimLimitPerMinute); err != nil {
		return nil, err
	}

	var task *domain.Task
	err := s.retryOnConflict(ctx, func() error {
		var claimErr error
		task, claimErr = s.repo.ClaimTask(ctx, taskID, actorID)
		return claimErr
	})
	if err != nil {
		return nil, err
	}
	return task, nil
}

// SubmitTask records the claimant's evidence (claimed -> submitted). Tasks in
// self-certifying categories complete immediately afterwards with the
// claimant acting as their own reviewer.
func (s *Service) SubmitTask(ctx context.Context, actorID, taskID uuid.UUID, payload domain.SubmitTaskPayload) (*domain.TaskCompletion, error) {
	evidence := []byte(payload.Evidence)
	if len(evidence) > 0 && !json.Valid(evidence) {
		return nil, fmt.Errorf("%w: evidence must be valid JSON", ErrInvalidPayload)
	}

	var task *domain.Task
	err := s.retryOnConflict(ctx, func() error {
		var submitErr error
		task, submitErr = s.repo.SubmitTask(ctx, taskID, actorID, evidence)
		return submitErr
	})
	if err != nil {
		return nil, err
	}

	if domain.SelfCertifyingCategory(task.Category) {
		return s.CompleteTask(ctx, actorID, taskID)
	}
	return &domain.TaskCompletion{Task: task}, nil
}

// CompleteTask performs the submitted -> completed transition and issues the
// task's reward exactly once. The state write, the quota reservation, and the
// ledger post are one atomic unit owned by the store; a policy denial accepts
// the work and reports an explicit reward-skip. A missing or inactive reward
// rule is a configuration integrity fault: logged loudly, work still accepted.
func (s *Service) CompleteTask(ctx context.Context, reviewerID, taskID uuid.UUID) (*domain.TaskCompletion, error) {
	task, err := s.repo.FindTaskByID(ctx, taskID)
	if err != nil {
		return nil, err
	}

	var post *domain.TransactionPost
	skipReason := ""

	rule, err := s.repo.FindRuleByCode(ctx, task.RewardRuleCode)
	switch {
	case err != nil:
		log.Printf("level=error component=app msg=\"task completion resolved no reward rule\" task_id=%s rule_code=%s err=%v", task.ID, task.RewardRuleCode, err)
		skipReason = domain.SkipReasonRuleMissing
	case rule.Status != domain.RuleStatusActive:
		log.Printf("level=error component=app msg=\"task reward rule is inactive\" task_id=%s rule_code=%s", task.ID, task.RewardRuleCode)
		skipReason = domain.SkipReasonRuleInactive
	default:
		if task.ClaimedBy == nil {
			return nil, store.ErrInvalidTransition
		}
		decision := DecisionFor(*rule)
		ruleCode := rule.Code
		relatedID := task.ID
		post = &domain.TransactionPost{
			UserID:            *task.ClaimedBy,
			Role:              domain.RoleMember,
			RuleCode:          &ruleCode,
			Type:              transactionTypeFor(*rule),
			ContributionDelta: decision.ContributionDelta,
			SpendableDelta:    decision.SpendableDelta,
			Description:       "task completion: " + task.Title,
			RelatedTaskID:     &relatedID,
			Quota:             QuotaSpecFor(*rule, s.now()),
		}
	}

	var completion *domain.TaskCompletion
	err = s.retryOnConflict(ctx, func() error {
		var completeErr error
		completion, completeErr = s.repo.CompleteTask(ctx, taskID, post)
		return completeErr
	})
	if err != nil {
		return nil, err
	}
	if completion.SkipReason == "" {
		completion.SkipReason = skipReason
	}

	if completion.SkipReason != "" && completion.Task.ClaimedBy != nil {
		log.Printf("level=warn component=app msg=\"reward skipped on task completion\" task_id=%s rule_code=%s reason=%s", taskID, task.RewardRuleCode, completion.SkipReason)
		s.publish(ctx, "reward.skipped", domain.RewardSkippedEvent{
			TaskID:    taskID,
			UserID:    *completion.Task.ClaimedBy,
			RuleCode:  task.RewardRuleCode,
			Reason:    completion.SkipReason,
			Timestamp: s.now(),
		})
	}
	if completion.Transaction != nil {
		s.publishPosted(ctx, completion.Transaction)
	}
	s.publish(ctx, "task.completed", domain.TaskStatusEvent{
		TaskID:    completion.Task.ID,
		Category:  completion.Task.Category,
		Status:    completion.Task.Status,
		ClaimedBy: completion.Task.ClaimedBy,
		Timestamp: s.now(),
	})

	return completion, nil
}

// CompletedTaskResult resolves a completion attempt that lost to an earlier
// one: when the task is already completed, it returns the original outcome
// (task plus any posted reward) so a retried call reads idempotently instead
// of surfacing a bare conflict.
func (s *Service) CompletedTaskResult(ctx context.Context, taskID uuid.UUID) (*domain.TaskCompletion, bool) {
	task, err := s.repo.FindTaskByID(ctx, taskID)
	if err != nil || task.Status != domain.TaskStatusCompleted {
		return nil, false
	}
	tx, err := s.GetTaskReward(ctx, taskID)
	if err != nil {
		return nil, false
	}
	return &domain.TaskCompletion{Task: task, Transaction: tx}, true
}

// CancelTask releases a task from any pre-completion state. Only the issuer
// or an administrator may cancel; the expiry sweep uses the repository path
// directly.
func (s *Service) CancelTask(ctx context.Context, actorID uuid.UUID, role string, taskID uuid.UUID) (*domain.Task, error) {
	task, err := s.repo.FindTaskByID(ctx, taskID)
	if err != nil {
		return nil, err
	}
	if task.IssuerID != actorID && role != domain.RoleAdmin {
		return nil, ErrNotAuthorized
	}

	var cancelled *domain.Task
	err = s.retryOnConflict(ctx, func() error {
		var cancelErr error
		cancelled, cancelErr = s.repo.CancelTask(ctx, taskID)
		return cancelErr
	})
	if err != nil {
		return nil, err
	}

	s.publish(ctx, "task.cancelled", domain.TaskStatusEvent{
		TaskID:    cancelled.ID,
		Category:  cancelled.Category,
		Status:    cancelled.Status,
		Timestamp: s.now(),
	})
	return cancelled, nil
}

// ExpireOverdueTasks cancels all tasks whose deadline has passed. It is
// invoked by the cron sweep and is safe to run repeatedly.
func (s *Service) ExpireOverdueTasks(ctx context.Context) (int64, error) {
	expired, err := s.repo.ExpireOverdueTasks(ctx, s.now())
	if err != nil {
		return 0, err
	}
	if expired > 0 {
		log.Printf("level=info component=app msg=\"expired overdue tasks\" count=%d", expired)
	}
	return expired, nil
}
