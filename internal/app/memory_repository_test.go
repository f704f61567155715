package app

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/lingzhiapp/reward-service/internal/domain"
	"github.com/lingzhiapp/reward-service/internal/store"
)

// memoryRepository is an in-process Repository with the same semantics as the
// Postgres implementation for the paths under test: atomic posting with quota
// reservation and balance floors, the related-task double-pay guard,
// first-writer-wins claims, and completion with the reward under a
// rollback-on-denial boundary. A single mutex stands in for row locking, which
// makes it safe to hammer from concurrent goroutines.
type memoryRepository struct {
	store.Repository

	mu           sync.Mutex
	accounts     map[uuid.UUID]*domain.Account
	rules        map[string]*domain.Rule
	transactions []domain.Transaction
	quota        map[string]int
	tasks        map[uuid.UUID]*domain.Task
}

func newMemoryRepository() *memoryRepository {
	return &memoryRepository{
		accounts: make(map[uuid.UUID]*domain.Account),
		rules:    make(map[string]*domain.Rule),
		quota:    make(map[string]int),
		tasks:    make(map[uuid.UUID]*domain.Task),
	}
}

func (m *memoryRepository) addRule(rule domain.Rule) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r := rule
	m.rules[rule.Code] = &r
}

// seedAccount funds a user through an opening adjust post so the ledger
// genuinely contains the baseline and verifyLedgerReplay's zero-start replay
// reproduces it.
func (m *memoryRepository) seedAccount(userID uuid.UUID, contribution, spendable int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, err := m.applyPostLocked(domain.TransactionPost{
		UserID:            userID,
		Role:              domain.RoleMember,
		Type:              domain.TransactionTypeAdjust,
		ContributionDelta: contribution,
		SpendableDelta:    spendable,
		Description:       "opening balance",
	}); err != nil {
		panic(fmt.Sprintf("seedAccount: %v", err))
	}
}

func (m *memoryRepository) addTask(task domain.Task) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t := task
	m.tasks[task.ID] = &t
}

func (m *memoryRepository) setQuotaCount(userID uuid.UUID, ruleCode, period string, count int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.quota[quotaKey(userID, ruleCode, period)] = count
}

func quotaKey(userID uuid.UUID, ruleCode, period string) string {
	return fmt.Sprintf("%s|%s|%s", userID, ruleCode, period)
}

func (m *memoryRepository) FindAccountByUserID(ctx context.Context, userID uuid.UUID) (*domain.Account, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	account, ok := m.accounts[userID]
	if !ok {
		return nil, store.ErrAccountNotFound
	}
	copied := *account
	return &copied, nil
}

func (m *memoryRepository) ListActiveRulesByEventType(ctx context.Context, eventType string) ([]domain.Rule, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.Rule
	for _, rule := range m.rules {
		if rule.EventType == eventType && rule.Status == domain.RuleStatusActive {
			out = append(out, *rule)
		}
	}
	return out, nil
}

func (m *memoryRepository) FindRuleByCode(ctx context.Context, code string) (*domain.Rule, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rule, ok := m.rules[code]
	if !ok {
		return nil, store.ErrRuleNotFound
	}
	copied := *rule
	return &copied, nil
}

func (m *memoryRepository) GetQuotaCount(ctx context.Context, userID uuid.UUID, ruleCode, period string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.quota[quotaKey(userID, ruleCode, period)], nil
}

func (m *memoryRepository) PostTransaction(ctx context.Context, post domain.TransactionPost) (*domain.Transaction, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.applyPostLocked(post)
}

// applyPostLocked mirrors the Postgres posting unit: frozen check, balance
// floors, quota check-and-increment, double-pay guard, then the immutable row
// plus the cached-balance update. All of it succeeds or none of it does.
func (m *memoryRepository) applyPostLocked(post domain.TransactionPost) (*domain.Transaction, error) {
	account, ok := m.accounts[post.UserID]
	created := false
	if !ok {
		role := post.Role
		if role == "" {
			role = domain.RoleMember
		}
		// Not inserted into the map until the post succeeds: a denial must
		// leave no trace, first-ever-account creation included.
		account = &domain.Account{
			ID:     uuid.New(),
			UserID: post.UserID,
			Role:   role,
			Status: domain.AccountStatusActive,
		}
		created = true
	}
	if account.Status == domain.AccountStatusFrozen && post.Type != domain.TransactionTypeAdjust {
		return nil, store.ErrAccountFrozen
	}

	contributionAfter := account.ContributionBalance + post.ContributionDelta
	spendableAfter := account.SpendableBalance + post.SpendableDelta
	if spendableAfter < 0 {
		return nil, store.ErrInsufficientBalance
	}
	if contributionAfter < 0 && post.Type != domain.TransactionTypeAdjust {
		return nil, store.ErrInsufficientBalance
	}

	if post.RelatedTaskID != nil {
		for i := range m.transactions {
			if m.transactions[i].RelatedTaskID != nil && *m.transactions[i].RelatedTaskID == *post.RelatedTaskID {
				return nil, store.ErrRewardAlreadyPosted
			}
		}
	}

	if spec := post.Quota; spec != nil {
		type window struct {
			period string
			limit  *int
		}
		windows := []window{
			{period: spec.DayKey, limit: spec.DailyLimit},
			{period: domain.PeriodTotal, limit: spec.TotalLimit},
		}
		for _, w := range windows {
			if w.limit == nil {
				continue
			}
			if m.quota[quotaKey(post.UserID, spec.RuleCode, w.period)] >= *w.limit {
				return nil, store.ErrQuotaExceeded
			}
		}
		for _, w := range windows {
			if w.limit == nil {
				continue
			}
			m.quota[quotaKey(post.UserID, spec.RuleCode, w.period)]++
		}
	}

	tx := domain.Transaction{
		ID:                 uuid.New(),
		UserID:             post.UserID,
		RuleCode:           post.RuleCode,
		Type:               post.Type,
		ContributionChange: post.ContributionDelta,
		ContributionBefore: account.ContributionBalance,
		ContributionAfter:  contributionAfter,
		SpendableChange:    post.SpendableDelta,
		SpendableBefore:    account.SpendableBalance,
		SpendableAfter:     spendableAfter,
		Status:             domain.TransactionStatusPosted,
		Description:        post.Description,
		RelatedTaskID:      post.RelatedTaskID,
		CreatedAt:          time.Now(),
	}
	m.transactions = append(m.transactions, tx)
	account.ContributionBalance = contributionAfter
	account.SpendableBalance = spendableAfter
	if created {
		m.accounts[post.UserID] = account
	}

	copied := tx
	return &copied, nil
}

func (m *memoryRepository) FindTransactionByTaskID(ctx context.Context, taskID uuid.UUID) (*domain.Transaction, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range m.transactions {
		if m.transactions[i].RelatedTaskID != nil && *m.transactions[i].RelatedTaskID == taskID {
			copied := m.transactions[i]
			return &copied, nil
		}
	}
	return nil, store.ErrTransactionNotFound
}

func (m *memoryRepository) CreateTask(ctx context.Context, task *domain.Task) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	copied := *task
	m.tasks[task.ID] = &copied
	return nil
}

func (m *memoryRepository) FindTaskByID(ctx context.Context, taskID uuid.UUID) (*domain.Task, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	task, ok := m.tasks[taskID]
	if !ok {
		return nil, store.ErrTaskNotFound
	}
	copied := *task
	return &copied, nil
}

func (m *memoryRepository) ClaimTask(ctx context.Context, taskID, actorID uuid.UUID) (*domain.Task, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	task, ok := m.tasks[taskID]
	if !ok {
		return nil, store.ErrTaskNotFound
	}
	if task.Status != domain.TaskStatusOpen || task.ClaimedBy != nil {
		if task.Status == domain.TaskStatusClaimed || task.Status == domain.TaskStatusSubmitted {
			return nil, store.ErrTaskAlreadyClaimed
		}
		return nil, store.ErrInvalidTransition
	}
	now := time.Now()
	task.Status = domain.TaskStatusClaimed
	task.ClaimedBy = &actorID
	task.ClaimedAt = &now
	copied := *task
	return &copied, nil
}

func (m *memoryRepository) SubmitTask(ctx context.Context, taskID, actorID uuid.UUID, evidence []byte) (*domain.Task, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	task, ok := m.tasks[taskID]
	if !ok {
		return nil, store.ErrTaskNotFound
	}
	if task.Status != domain.TaskStatusClaimed {
		return nil, store.ErrInvalidTransition
	}
	if task.ClaimedBy == nil || *task.ClaimedBy != actorID {
		return nil, store.ErrNotClaimant
	}
	now := time.Now()
	task.Status = domain.TaskStatusSubmitted
	task.Evidence = evidence
	task.SubmittedAt = &now
	copied := *task
	return &copied, nil
}

func (m *memoryRepository) CompleteTask(ctx context.Context, taskID uuid.UUID, post *domain.TransactionPost) (*domain.TaskCompletion, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	task, ok := m.tasks[taskID]
	if !ok {
		return nil, store.ErrTaskNotFound
	}
	if task.Status != domain.TaskStatusSubmitted {
		return nil, store.ErrInvalidTransition
	}
	now := time.Now()
	task.Status = domain.TaskStatusCompleted
	task.CompletedAt = &now

	copied := *task
	completion := &domain.TaskCompletion{Task: &copied}
	if post != nil {
		posted, err := m.applyPostLocked(*post)
		switch {
		case err == nil:
			completion.Transaction = posted
		case errors.Is(err, store.ErrQuotaExceeded):
			completion.SkipReason = domain.SkipReasonQuotaExceeded
		case errors.Is(err, store.ErrInsufficientBalance):
			completion.SkipReason = domain.SkipReasonInsufficientBalance
		default:
			// A hard posting failure aborts the whole unit, state write included.
			task.Status = domain.TaskStatusSubmitted
			task.CompletedAt = nil
			return nil, err
		}
	}
	return completion, nil
}

// snapshot returns copies of the ledger and accounts for invariant checks.
func (m *memoryRepository) snapshot() ([]domain.Transaction, map[uuid.UUID]domain.Account) {
	m.mu.Lock()
	defer m.mu.Unlock()
	ledger := make([]domain.Transaction, len(m.transactions))
	copy(ledger, m.transactions)
	accounts := make(map[uuid.UUID]domain.Account, len(m.accounts))
	for id, account := range m.accounts {
		accounts[id] = *account
	}
	return ledger, accounts
}
