/**
 * @description
 * This file defines the `Repository` interface: the contract between the
 * application service and the persistence layer. Multi-step operations that
 * must be atomic (ledger posting, task completion with reward) are single
 * interface methods so the Postgres implementation can run them inside one
 * database transaction.
 *
 * @dependencies
 * - internal/domain: domain models used for data transfer.
 */

package store

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/lingzhiapp/reward-service/internal/domain"
)

var (
	ErrAccountNotFound     = errors.New("account not found")
	ErrAccountFrozen       = errors.New("account is frozen")
	ErrInsufficientBalance = errors.New("insufficient spendable balance")
	ErrQuotaExceeded       = errors.New("rule quota exceeded")
	ErrRewardAlreadyPosted = errors.New("reward already posted for task")
	ErrTransactionNotFound = errors.New("transaction not found")
	ErrAlreadyReversed     = errors.New("transaction already reversed")
	ErrRuleNotFound        = errors.New("rule not found")
	ErrRuleExists          = errors.New("rule code already exists")
	ErrTaskNotFound        = errors.New("task not found")
	ErrTaskAlreadyClaimed  = errors.New("task already claimed")
	ErrNotClaimant         = errors.New("actor is not the task claimant")
	ErrInvalidTransition   = errors.New("invalid task state transition")
	ErrSerializationFailed = errors.New("concurrent update conflict")
)

// Repository defines all persistence operations needed by the reward core.
type Repository interface {
	// Accounts
	FindAccountByUserID(ctx context.Context, userID uuid.UUID) (*domain.Account, error)
	SetAccountStatus(ctx context.Context, userID uuid.UUID, status string) error

	// Ledger
	PostTransaction(ctx context.Context, post domain.TransactionPost) (*domain.Transaction, error)
	ReverseTransaction(ctx context.Context, transactionID uuid.UUID, reason string) (*domain.Transaction, error)
	FindTransactionByID(ctx context.Context, transactionID uuid.UUID) (*domain.Transaction, error)
	FindTransactionByTaskID(ctx context.Context, taskID uuid.UUID) (*domain.Transaction, error)
	ListTransactionsByUserID(ctx context.Context, userID uuid.UUID, opts domain.TransactionListOptions) ([]domain.Transaction, error)

	// Rule catalog
	ListActiveRulesByEventType(ctx context.Context, eventType string) ([]domain.Rule, error)
	FindRuleByCode(ctx context.Context, code string) (*domain.Rule, error)
	ListRules(ctx context.Context) ([]domain.Rule, error)
	CreateRule(ctx context.Context, rule *domain.Rule) error
	UpdateRule(ctx context.Context, code string, patch domain.UpdateRulePayload) (*domain.Rule, error)

	// Quota counters
	GetQuotaCount(ctx context.Context, userID uuid.UUID, ruleCode, period string) (int, error)
	ResetQuota(ctx context.Context, userID uuid.UUID, ruleCode, period string) error

	// Tasks
	CreateTask(ctx context.Context, task *domain.Task) error
	FindTaskByID(ctx context.Context, taskID uuid.UUID) (*domain.Task, error)
	ClaimTask(ctx context.Context, taskID, actorID uuid.UUID) (*domain.Task, error)
	SubmitTask(ctx context.Context, taskID, actorID uuid.UUID, evidence []byte) (*domain.Task, error)
	CompleteTask(ctx context.Context, taskID uuid.UUID, post *domain.TransactionPost) (*domain.TaskCompletion, error)
	CancelTask(ctx context.Context, taskID uuid.UUID) (*domain.Task, error)
	ExpireOverdueTasks(ctx context.Context, now time.Time) (int64, error)
}
