package app

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/lingzhiapp/reward-service/internal/domain"
	"github.com/lingzhiapp/reward-service/internal/store"
)

type taskRepoStub struct {
	store.Repository

	task *domain.Task
	rule *domain.Rule

	ruleErr     error
	claimErr    error
	completeErr error

	createdTask  *domain.Task
	claimCalls   int
	completePost *domain.TransactionPost
	completeSkip string
}

func (s *taskRepoStub) FindRuleByCode(ctx context.Context, code string) (*domain.Rule, error) {
	if s.ruleErr != nil {
		return nil, s.ruleErr
	}
	return s.rule, nil
}

func (s *taskRepoStub) CreateTask(ctx context.Context, task *domain.Task) error {
	s.createdTask = task
	return nil
}

func (s *taskRepoStub) FindTaskByID(ctx context.Context, taskID uuid.UUID) (*domain.Task, error) {
	if s.task == nil {
		return nil, store.ErrTaskNotFound
	}
	return s.task, nil
}

func (s *taskRepoStub) ClaimTask(ctx context.Context, taskID, actorID uuid.UUID) (*domain.Task, error) {
	s.claimCalls++
	if s.claimErr != nil {
		return nil, s.claimErr
	}
	claimed := *s.task
	claimed.Status = domain.TaskStatusClaimed
	claimed.ClaimedBy = &actorID
	return &claimed, nil
}

func (s *taskRepoStub) SubmitTask(ctx context.Context, taskID, actorID uuid.UUID, evidence []byte) (*domain.Task, error) {
	submitted := *s.task
	submitted.Status = domain.TaskStatusSubmitted
	submitted.ClaimedBy = &actorID
	submitted.Evidence = evidence
	s.task = &submitted
	return &submitted, nil
}

func (s *taskRepoStub) CompleteTask(ctx context.Context, taskID uuid.UUID, post *domain.TransactionPost) (*domain.TaskCompletion, error) {
	s.completePost = post
	if s.completeErr != nil {
		return nil, s.completeErr
	}
	completed := *s.task
	completed.Status = domain.TaskStatusCompleted

	completion := &domain.TaskCompletion{Task: &completed, SkipReason: s.completeSkip}
	if post != nil && s.completeSkip == "" {
		completion.Transaction = &domain.Transaction{
			ID:                 uuid.New(),
			UserID:             post.UserID,
			RuleCode:           post.RuleCode,
			Type:               post.Type,
			ContributionChange: post.ContributionDelta,
			SpendableChange:    post.SpendableDelta,
			RelatedTaskID:      post.RelatedTaskID,
			Status:             domain.TransactionStatusPosted,
		}
	}
	return completion, nil
}

func (s *taskRepoStub) CancelTask(ctx context.Context, taskID uuid.UUID) (*domain.Task, error) {
	cancelled := *s.task
	cancelled.Status = domain.TaskStatusCancelled
	cancelled.ClaimedBy = nil
	return &cancelled, nil
}

func activeTaskRule() *domain.Rule {
	return &domain.Rule{
		Code:              "aesthetic_reward",
		EventType:         "task_completed",
		Direction:         domain.RuleDirectionEarn,
		TargetRole:        domain.TargetRoleAll,
		ContributionDelta: 15,
		SpendableDelta:    8,
		MaxDailyTimes:     intPtr(3),
		Status:            domain.RuleStatusActive,
	}
}

func submittedTask(claimant uuid.UUID) *domain.Task {
	return &domain.Task{
		ID:             uuid.New(),
		Category:       domain.TaskCategoryAesthetic,
		Title:          "Review storefront photos",
		Status:         domain.TaskStatusSubmitted,
		IssuerID:       uuid.New(),
		ClaimedBy:      &claimant,
		RewardRuleCode: "aesthetic_reward",
	}
}

func TestCreateTask_Validation(t *testing.T) {
	repo := &taskRepoStub{rule: activeTaskRule()}
	service := NewService(repo, &capturingPublisher{}, "reward_service.events", 3)

	tests := []struct {
		name    string
		payload domain.CreateTaskPayload
	}{
		{"unknown category", domain.CreateTaskPayload{Category: "mystery", Title: "t", RewardRuleCode: "aesthetic_reward"}},
		{"missing title", domain.CreateTaskPayload{Category: domain.TaskCategoryAesthetic, RewardRuleCode: "aesthetic_reward"}},
		{"missing rule code", domain.CreateTaskPayload{Category: domain.TaskCategoryAesthetic, Title: "t"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := service.CreateTask(context.Background(), uuid.New(), tt.payload); !errors.Is(err, ErrInvalidPayload) {
				t.Fatalf("expected ErrInvalidPayload, got %v", err)
			}
		})
	}
}

func TestCreateTask_RejectsDanglingRuleCode(t *testing.T) {
	repo := &taskRepoStub{ruleErr: store.ErrRuleNotFound}
	service := NewService(repo, &capturingPublisher{}, "reward_service.events", 3)

	_, err := service.CreateTask(context.Background(), uuid.New(), domain.CreateTaskPayload{
		Category:       domain.TaskCategoryAesthetic,
		Title:          "Review storefront photos",
		RewardRuleCode: "no_such_rule",
	})
	if !errors.Is(err, store.ErrRuleNotFound) {
		t.Fatalf("expected ErrRuleNotFound, got %v", err)
	}
	if repo.createdTask != nil {
		t.Fatal("task must not be created with a dangling rule code")
	}
}

func TestClaimTask_LoserGetsAlreadyClaimed(t *testing.T) {
	repo := &taskRepoStub{
		task:     &domain.Task{ID: uuid.New(), Status: domain.TaskStatusOpen},
		claimErr: store.ErrTaskAlreadyClaimed,
	}
	service := NewService(repo, &capturingPublisher{}, "reward_service.events", 3)

	_, err := service.ClaimTask(context.Background(), uuid.New(), repo.task.ID)
	if !errors.Is(err, store.ErrTaskAlreadyClaimed) {
		t.Fatalf("expected ErrTaskAlreadyClaimed, got %v", err)
	}
	if repo.claimCalls != 1 {
		t.Fatalf("claim conflict is not retryable, expected 1 attempt, got %d", repo.claimCalls)
	}
}

func TestSubmitTask_RejectsMalformedEvidence(t *testing.T) {
	repo := &taskRepoStub{task: &domain.Task{ID: uuid.New(), Status: domain.TaskStatusClaimed}}
	service := NewService(repo, &capturingPublisher{}, "reward_service.events", 3)

	_, err := service.SubmitTask(context.Background(), uuid.New(), repo.task.ID, domain.SubmitTaskPayload{
		Evidence: json.RawMessage(`{"broken`),
	})
	if !errors.Is(err, ErrInvalidPayload) {
		t.Fatalf("expected ErrInvalidPayload for malformed evidence, got %v", err)
	}
}

func TestSubmitTask_ReviewedCategoryStaysSubmitted(t *testing.T) {
	claimant := uuid.New()
	task := submittedTask(claimant)
	task.Status = domain.TaskStatusClaimed
	repo := &taskRepoStub{task: task, rule: activeTaskRule()}
	service := NewService(repo, &capturingPublisher{}, "reward_service.events", 3)

	completion, err := service.SubmitTask(context.Background(), claimant, task.ID, domain.SubmitTaskPayload{
		Evidence: json.RawMessage(`{"photos": 3}`),
	})
	if err != nil {
		t.Fatalf("SubmitTask returned error: %v", err)
	}
	if completion.Task.Status != domain.TaskStatusSubmitted {
		t.Fatalf("expected submitted status awaiting review, got %q", completion.Task.Status)
	}
	if completion.Transaction != nil {
		t.Fatal("reviewed categories must not pay out on submission")
	}
	if repo.completePost != nil {
		t.Fatal("completion must not run for reviewed categories on submit")
	}
}

func TestSubmitTask_SelfCertifyingCompletesAndPays(t *testing.T) {
	claimant := uuid.New()
	task := submittedTask(claimant)
	task.Category = domain.TaskCategoryCoupon
	task.Status = domain.TaskStatusClaimed
	repo := &taskRepoStub{task: task, rule: activeTaskRule()}
	publisher := &capturingPublisher{}
	service := NewService(repo, publisher, "reward_service.events", 3)

	completion, err := service.SubmitTask(context.Background(), claimant, task.ID, domain.SubmitTaskPayload{
		Evidence: json.RawMessage(`{"coupon_code": "LZ-1937"}`),
	})
	if err != nil {
		t.Fatalf("SubmitTask returned error: %v", err)
	}
	if completion.Task.Status != domain.TaskStatusCompleted {
		t.Fatalf("expected self-certifying task to complete, got %q", completion.Task.Status)
	}
	if completion.Transaction == nil {
		t.Fatal("expected a reward transaction on self-certified completion")
	}
	if repo.completePost == nil {
		t.Fatal("expected a ledger post to accompany completion")
	}
	if repo.completePost.RelatedTaskID == nil || *repo.completePost.RelatedTaskID != task.ID {
		t.Fatal("reward posting must reference the completed task")
	}
	if !publisher.published("reward.posted") || !publisher.published("task.completed") {
		t.Fatalf("expected reward.posted and task.completed events, got %v", publisher.routingKeys)
	}
}

func TestCompleteTask_IssuesRewardExactlyOnce(t *testing.T) {
	claimant := uuid.New()
	task := submittedTask(claimant)
	repo := &taskRepoStub{task: task, rule: activeTaskRule()}
	publisher := &capturingPublisher{}
	service := NewService(repo, publisher, "reward_service.events", 3)

	completion, err := service.CompleteTask(context.Background(), uuid.New(), task.ID)
	if err != nil {
		t.Fatalf("CompleteTask returned error: %v", err)
	}
	if completion.Transaction == nil {
		t.Fatal("expected a reward transaction")
	}
	if completion.Transaction.UserID != claimant {
		t.Fatalf("reward must go to the claimant %s, got %s", claimant, completion.Transaction.UserID)
	}
	if completion.SkipReason != "" {
		t.Fatalf("expected no skip reason, got %q", completion.SkipReason)
	}
	if repo.completePost.ContributionDelta != 15 || repo.completePost.SpendableDelta != 8 {
		t.Fatalf("unexpected reward deltas (%d, %d)", repo.completePost.ContributionDelta, repo.completePost.SpendableDelta)
	}

	// A second completion attempt surfaces the double-post guard from the store.
	repo.completeErr = store.ErrRewardAlreadyPosted
	if _, err := service.CompleteTask(context.Background(), uuid.New(), task.ID); !errors.Is(err, store.ErrRewardAlreadyPosted) {
		t.Fatalf("expected ErrRewardAlreadyPosted on repeat completion, got %v", err)
	}
}

func TestCompleteTask_QuotaDenialReportsExplicitSkip(t *testing.T) {
	claimant := uuid.New()
	task := submittedTask(claimant)
	repo := &taskRepoStub{task: task, rule: activeTaskRule(), completeSkip: domain.SkipReasonQuotaExceeded}
	publisher := &capturingPublisher{}
	service := NewService(repo, publisher, "reward_service.events", 3)

	completion, err := service.CompleteTask(context.Background(), uuid.New(), task.ID)
	if err != nil {
		t.Fatalf("quota denial must not fail the completion, got %v", err)
	}
	if completion.Task.Status != domain.TaskStatusCompleted {
		t.Fatalf("work must still be accepted, got status %q", completion.Task.Status)
	}
	if completion.Transaction != nil {
		t.Fatal("no reward transaction may post past quota")
	}
	if completion.SkipReason != domain.SkipReasonQuotaExceeded {
		t.Fatalf("expected explicit quota_exceeded skip, got %q", completion.SkipReason)
	}
	if !publisher.published("reward.skipped") {
		t.Fatalf("reward-skip must be published, got %v", publisher.routingKeys)
	}
	if publisher.published("reward.posted") {
		t.Fatal("no reward.posted event may accompany a skip")
	}
}

func TestCompleteTask_MissingRuleCompletesWithSkip(t *testing.T) {
	claimant := uuid.New()
	task := submittedTask(claimant)
	repo := &taskRepoStub{task: task, ruleErr: store.ErrRuleNotFound}
	publisher := &capturingPublisher{}
	service := NewService(repo, publisher, "reward_service.events", 3)

	completion, err := service.CompleteTask(context.Background(), uuid.New(), task.ID)
	if err != nil {
		t.Fatalf("missing rule must not fail the completion, got %v", err)
	}
	if repo.completePost != nil {
		t.Fatal("no ledger post may be attempted without a rule")
	}
	if completion.SkipReason != domain.SkipReasonRuleMissing {
		t.Fatalf("expected rule_missing skip, got %q", completion.SkipReason)
	}
	if !publisher.published("reward.skipped") {
		t.Fatalf("expected reward.skipped event, got %v", publisher.routingKeys)
	}
}

func TestCompleteTask_InactiveRuleCompletesWithSkip(t *testing.T) {
	claimant := uuid.New()
	task := submittedTask(claimant)
	inactive := activeTaskRule()
	inactive.Status = domain.RuleStatusInactive
	repo := &taskRepoStub{task: task, rule: inactive}
	service := NewService(repo, &capturingPublisher{}, "reward_service.events", 3)

	completion, err := service.CompleteTask(context.Background(), uuid.New(), task.ID)
	if err != nil {
		t.Fatalf("inactive rule must not fail the completion, got %v", err)
	}
	if repo.completePost != nil {
		t.Fatal("no ledger post may be attempted with an inactive rule")
	}
	if completion.SkipReason != domain.SkipReasonRuleInactive {
		t.Fatalf("expected rule_inactive skip, got %q", completion.SkipReason)
	}
}

func TestCancelTask_Authorization(t *testing.T) {
	issuerID := uuid.New()
	task := &domain.Task{ID: uuid.New(), Status: domain.TaskStatusOpen, IssuerID: issuerID}
	repo := &taskRepoStub{task: task}
	publisher := &capturingPublisher{}
	service := NewService(repo, publisher, "reward_service.events", 3)

	if _, err := service.CancelTask(context.Background(), uuid.New(), domain.RoleMember, task.ID); !errors.Is(err, ErrNotAuthorized) {
		t.Fatalf("expected ErrNotAuthorized for a stranger, got %v", err)
	}

	cancelled, err := service.CancelTask(context.Background(), issuerID, domain.RoleMember, task.ID)
	if err != nil {
		t.Fatalf("issuer cancel failed: %v", err)
	}
	if cancelled.Status != domain.TaskStatusCancelled {
		t.Fatalf("expected cancelled status, got %q", cancelled.Status)
	}
	if !publisher.published("task.cancelled") {
		t.Fatalf("expected task.cancelled event, got %v", publisher.routingKeys)
	}

	if _, err := service.CancelTask(context.Background(), uuid.New(), domain.RoleAdmin, task.ID); err != nil {
		t.Fatalf("admin cancel failed: %v", err)
	}
}
