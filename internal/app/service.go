/**
 * @description
 * This file contains the core business logic for the reward-service. The
 * `Service` struct orchestrates the rule engine, the quota tracker, the
 * transaction ledger, and the task state machine, coordinating the database
 * repository, the rate limiter, and the message broker.
 *
 * Key features:
 * - Direct reward events (check-in, referral confirmation, coupon
 *   verification) resolved against the rule catalog and posted atomically.
 * - Task lifecycle transitions with exactly-once reward issuance on
 *   completion, including explicit reward-skip handling on quota denial.
 * - Bounded transparent retry of optimistic-concurrency conflicts.
 * - Publishes events to RabbitMQ after each committed unit of work.
 *
 * @dependencies
 * - github.com/google/uuid: identifier generation.
 * - internal/domain, internal/store: domain models and data access.
 * - pkg/rabbitmq: event publication.
 */

package app

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"
	"github.com/lingzhiapp/reward-service/internal/domain"
	"github.com/lingzhiapp/reward-service/internal/store"
	"github.com/lingzhiapp/reward-service/pkg/rabbitmq"
)

var (
	ErrInvalidPayload    = errors.New("invalid request payload")
	ErrNotAuthorized     = errors.New("actor is not authorized for this operation")
	ErrRateLimited       = errors.New("rate limit exceeded")
	ErrConflictExhausted = errors.New("operation conflicted repeatedly; retry later")
)

// RateLimiter throttles hot endpoints per user. Implementations must be
// nil-safe no-ops when unconfigured.
type RateLimiter interface {
	ConsumeRateLimit(ctx context.Context, scope, subject string, limit int, window time.Duration) (count int, retryAfterSeconds int, err error)
}

// Service provides the core business logic for the reward ledger and task
// lifecycle.
type Service struct {
	repo          store.Repository
	eventProducer rabbitmq.Publisher
	limiter       RateLimiter
	eventExchange string

	claimLimitPerMinute int
	eventLimitPerMinute int
	maxConflictRetries  int

	now func() time.Time
}

// NewService creates a new reward service instance.
func NewService(repo store.Repository, producer rabbitmq.Publisher, eventExchange string, maxConflictRetries int) *Service {
	if maxConflictRetries <= 0 {
		maxConflictRetries = 3
	}
	return &Service{
		repo:               repo,
		eventProducer:      producer,
		eventExchange:      eventExchange,
		maxConflictRetries: maxConflictRetries,
		now:                time.Now,
	}
}

// SetRateLimiter wires the optional distributed rate limiter for the claim and
// reward-event endpoints.
func (s *Service) SetRateLimiter(limiter RateLimiter, claimPerMinute, eventPerMinute int) {
	s.limiter = limiter
	s.claimLimitPerMinute = claimPerMinute
	s.eventLimitPerMinute = eventPerMinute
}

// retryOnConflict re-runs an operation from scratch when the store reports a
// serialization conflict. Each attempt re-reads; partial results are never
// patched. Exhaustion surfaces as a transient failure distinct from
// validation faults.
func (s *Service) retryOnConflict(ctx context.Context, op func() error) error {
	var err error
	for attempt := 0; attempt <= s.maxConflictRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(time.Duration(attempt) * 25 * time.Millisecond):
			}
		}
		if err = op(); err == nil || !errors.Is(err, store.ErrSerializationFailed) {
			return err
		}
		log.Printf("level=warn component=app msg=\"serialization conflict; retrying\" attempt=%d err=%v", attempt+1, err)
	}
	return fmt.Errorf("%w: %v", ErrConflictExhausted, err)
}

func (s *Service) consumeLimit(ctx context.Context, scope string, subject uuid.UUID, limit int) error {
	if s.limiter == nil || limit <= 0 {
		return nil
	}
	count, retryAfter, err := s.limiter.ConsumeRateLimit(ctx, scope, subject.String(), limit, time.Minute)
	if err != nil {
		// A broken limiter must not take the hot path down with it.
		log.Printf("level=warn component=app msg=\"rate limiter unavailable; allowing request\" scope=%s err=%v", scope, err)
		return nil
	}
	if count > limit {
		return fmt.Errorf("%w: retry in %ds", ErrRateLimited, retryAfter)
	}
	return nil
}

func (s *Service) publish(ctx context.Context, routingKey string, body interface{}) {
	if s.eventProducer == nil {
		return
	}
	if err := s.eventProducer.Publish(ctx, s.eventExchange, routingKey, body); err != nil {
		log.Printf("level=warn component=app msg=\"event publish failed\" routing_key=%s err=%v", routingKey, err)
	}
}

func (s *Service) publishPosted(ctx context.Context, tx *domain.Transaction) {
	ruleCode := ""
	if tx.RuleCode != nil {
		ruleCode = *tx.RuleCode
	}
	s.publish(ctx, "reward.posted", domain.RewardPostedEvent{
		TransactionID:      tx.ID,
		UserID:             tx.UserID,
		RuleCode:           ruleCode,
		Type:               tx.Type,
		ContributionChange: tx.ContributionChange,
		SpendableChange:    tx.SpendableChange,
		RelatedTaskID:      tx.RelatedTaskID,
		Timestamp:          s.now(),
	})
}

// ProcessRewardEvent handles a non-task reward source: resolves the applicable
// rule for the acting user's role, reserves quota, and posts the ledger
// change as one atomic unit. No applicable rule is a routine outcome surfaced
// as ErrNoRuleFound.
func (s *Service) ProcessRewardEvent(ctx context.Context, actorID uuid.UUID, role string, req domain.RewardEventRequest) (*domain.Transaction, error) {
	if req.EventType == "" {
		return nil, fmt.Errorf("%w: event_type is required", ErrInvalidPayload)
	}
	if err := s.consumeLimit(ctx, "reward_event", actorID, s.eventLimitPerMinute); err != nil {
		return nil, err
	}

	rules, err := s.repo.ListActiveRulesByEventType(ctx, req.EventType)
	if err != nil {
		return nil, fmt.Errorf("failed to load rule catalog: %w", err)
	}
	rule, err := ResolveRule(rules, role)
	if err != nil {
		return nil, err
	}

	posted, err := s.postForRule(ctx, actorID, role, *rule, req.EventType, nil)
	if err != nil {
		return nil, err
	}

	// A confirmed referral also welcomes the referee: an independent,
	// sequential posting on the other account, never one cross-account unit.
	if req.EventType == domain.EventReferralConfirmed && req.ReferredUserID != nil {
		s.postReferralWelcome(ctx, *req.ReferredUserID)
	}

	return posted, nil
}

// postForRule executes one rule decision against the ledger with conflict retry.
func (s *Service) postForRule(ctx context.Context, userID uuid.UUID, role string, rule domain.Rule, description string, relatedTaskID *uuid.UUID) (*domain.Transaction, error) {
	decision := DecisionFor(rule)
	ruleCode := rule.Code
	post := domain.TransactionPost{
		UserID:            userID,
		Role:              role,
		RuleCode:          &ruleCode,
		Type:              transactionTypeFor(rule),
		ContributionDelta: decision.ContributionDelta,
		SpendableDelta:    decision.SpendableDelta,
		Description:       description,
		RelatedTaskID:     relatedTaskID,
		Quota:             QuotaSpecFor(rule, s.now()),
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

	s.publishPosted(ctx, posted)
	return posted, nil
}

func (s *Service) postReferralWelcome(ctx context.Context, refereeID uuid.UUID) {
	rules, err := s.repo.ListActiveRulesByEventType(ctx, domain.EventReferralWelcome)
	if err != nil {
		log.Printf("level=warn component=app msg=\"referral welcome catalog load failed\" referee_id=%s err=%v", refereeID, err)
		return
	}
	rule, err := ResolveRule(rules, domain.RoleMember)
	if err != nil {
		// No welcome rule configured is a normal state.
		return
	}
	if _, err := s.postForRule(ctx, refereeID, domain.RoleMember, *rule, domain.EventReferralWelcome, nil); err != nil {
		log.Printf("level=warn component=app msg=\"referral welcome posting failed\" referee_id=%s rule=%s err=%v", refereeID, rule.Code, err)
	}
}

// GetBalance returns the cached balances for a user. A user with no
// transactions yet reads as zero balances on an active account.
func (s *Service) GetBalance(ctx context.Context, userID uuid.UUID) (*domain.BalanceResponse, error) {
	account, err := s.repo.FindAccountByUserID(ctx, userID)
	if err != nil {
		if errors.Is(err, store.ErrAccountNotFound) {
			return &domain.BalanceResponse{UserID: userID, Status: domain.AccountStatusActive}, nil
		}
		return nil, err
	}
	return &domain.BalanceResponse{
		UserID:              account.UserID,
		ContributionBalance: account.ContributionBalance,
		SpendableBalance:    account.SpendableBalance,
		Status:              account.Status,
	}, nil
}

// ListTransactions returns a page of a user's ledger history. Read path, no
// side effects.
func (s *Service) ListTransactions(ctx context.Context, userID uuid.UUID, opts domain.TransactionListOptions) ([]domain.Transaction, error) {
	return s.repo.ListTransactionsByUserID(ctx, userID, opts)
}
