/**
 * @description
 * This file provides the PostgreSQL implementation of the `Repository`
 * interface for accounts, the transaction ledger, the rule catalog, and the
 * quota counters. Task operations live in postgres_repository_tasks.go.
 *
 * Every balance mutation runs inside one database transaction: the account row
 * is locked with `SELECT ... FOR UPDATE`, quota counters are reserved with an
 * atomic conditional increment, and the ledger row plus the cached balances
 * commit together or not at all.
 *
 * @dependencies
 * - github.com/jackc/pgx/v5: the PostgreSQL driver.
 * - internal/domain: domain models used for data transfer.
 */

package store

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/lingzhiapp/reward-service/internal/domain"
)

// PostgresRepository is a concrete implementation of the Repository interface for PostgreSQL.
type PostgresRepository struct {
	db *pgxpool.Pool
}

// NewPostgresRepository creates a new instance of PostgresRepository.
func NewPostgresRepository(db *pgxpool.Pool) *PostgresRepository {
	return &PostgresRepository{db: db}
}

const transactionColumns = `
	id, user_id, rule_code, type,
	contribution_change, contribution_before, contribution_after,
	spendable_change, spendable_before, spendable_after,
	status, description, related_task_id, reversal_of, created_at
`

func scanTransaction(row pgx.Row) (*domain.Transaction, error) {
	var tx domain.Transaction
	err := row.Scan(
		&tx.ID, &tx.UserID, &tx.RuleCode, &tx.Type,
		&tx.ContributionChange, &tx.ContributionBefore, &tx.ContributionAfter,
		&tx.SpendableChange, &tx.SpendableBefore, &tx.SpendableAfter,
		&tx.Status, &tx.Description, &tx.RelatedTaskID, &tx.ReversalOf, &tx.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &tx, nil
}

// mapConflictErr translates Postgres serialization and deadlock failures into
// ErrSerializationFailed so callers can retry the whole operation from re-read.
func mapConflictErr(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		if pgErr.Code == "40001" || pgErr.Code == "40P01" {
			return fmt.Errorf("%w: %s", ErrSerializationFailed, pgErr.Code)
		}
	}
	return err
}

// FindAccountByUserID retrieves a user's reward account.
func (r *PostgresRepository) FindAccountByUserID(ctx context.Context, userID uuid.UUID) (*domain.Account, error) {
	var account domain.Account
	query := `
		SELECT id, user_id, role, status, contribution_balance, spendable_balance, created_at, updated_at
		FROM accounts
		WHERE user_id = $1
	`
	err := r.db.QueryRow(ctx, query, userID).Scan(
		&account.ID, &account.UserID, &account.Role, &account.Status,
		&account.ContributionBalance, &account.SpendableBalance,
		&account.CreatedAt, &account.UpdatedAt,
	)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, ErrAccountNotFound
		}
		return nil, err
	}
	return &account, nil
}

// SetAccountStatus freezes or unfreezes an account. Accounts are never deleted.
func (r *PostgresRepository) SetAccountStatus(ctx context.Context, userID uuid.UUID, status string) error {
	result, err := r.db.Exec(ctx,
		`UPDATE accounts SET status = $1, updated_at = NOW() WHERE user_id = $2`,
		status, userID,
	)
	if err != nil {
		return err
	}
	if result.RowsAffected() == 0 {
		return ErrAccountNotFound
	}
	return nil
}

// lockAccountForPost ensures the account row exists (first-ever transaction
// creates it) and locks it for the duration of the posting transaction.
func (r *PostgresRepository) lockAccountForPost(ctx context.Context, tx pgx.Tx, userID uuid.UUID, role string) (*domain.Account, error) {
	if strings.TrimSpace(role) == "" {
		role = domain.RoleMember
	}
	_, err := tx.Exec(ctx, `
		INSERT INTO accounts (id, user_id, role, status, contribution_balance, spendable_balance)
		VALUES ($1, $2, $3, 'active', 0, 0)
		ON CONFLICT (user_id) DO NOTHING
	`, uuid.New(), userID, role)
	if err != nil {
		return nil, err
	}

	var account domain.Account
	err = tx.QueryRow(ctx, `
		SELECT id, user_id, role, status, contribution_balance, spendable_balance, created_at, updated_at
		FROM accounts
		WHERE user_id = $1
		FOR UPDATE
	`, userID).Scan(
		&account.ID, &account.UserID, &account.Role, &account.Status,
		&account.ContributionBalance, &account.SpendableBalance,
		&account.CreatedAt, &account.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &account, nil
}

// reserveQuota performs the atomic check-and-increment for each configured
// limit. A conditional upsert either bumps the counter under the cap or
// affects zero rows, which reads as quota exhaustion. Counters are only ever
// incremented here, inside the same transaction as the ledger row, so a failed
// post never leaks a reservation.
func (r *PostgresRepository) reserveQuota(ctx context.Context, tx pgx.Tx, userID uuid.UUID, spec *domain.QuotaSpec) error {
	if spec == nil {
		return nil
	}
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
		if *w.limit <= 0 {
			return ErrQuotaExceeded
		}
		result, err := tx.Exec(ctx, `
			INSERT INTO quota_counters (user_id, rule_code, period, count, updated_at)
			VALUES ($1, $2, $3, 1, NOW())
			ON CONFLICT (user_id, rule_code, period)
			DO UPDATE SET count = quota_counters.count + 1, updated_at = NOW()
			WHERE quota_counters.count < $4
		`, userID, spec.RuleCode, w.period, *w.limit)
		if err != nil {
			return mapConflictErr(err)
		}
		if result.RowsAffected() == 0 {
			return ErrQuotaExceeded
		}
	}
	return nil
}

// applyPost executes one ledger post inside an already-open transaction:
// lock account, compute before/after for both currencies, enforce floors,
// reserve quota, insert the immutable row, refresh the cached balances.
func (r *PostgresRepository) applyPost(ctx context.Context, tx pgx.Tx, post domain.TransactionPost) (*domain.Transaction, error) {
	account, err := r.lockAccountForPost(ctx, tx, post.UserID, post.Role)
	if err != nil {
		return nil, mapConflictErr(err)
	}

	if account.Status == domain.AccountStatusFrozen && post.Type != domain.TransactionTypeAdjust {
		return nil, ErrAccountFrozen
	}

	contributionAfter := account.ContributionBalance + post.ContributionDelta
	spendableAfter := account.SpendableBalance + post.SpendableDelta

	// Spendable balance never goes negative. Contribution has a floor only for
	// rule-driven posts; an explicit administrative adjustment may push it below zero.
	if spendableAfter < 0 {
		return nil, ErrInsufficientBalance
	}
	if contributionAfter < 0 && post.Type != domain.TransactionTypeAdjust {
		return nil, ErrInsufficientBalance
	}

	if err := r.reserveQuota(ctx, tx, post.UserID, post.Quota); err != nil {
		return nil, err
	}

	row := tx.QueryRow(ctx, `
		INSERT INTO transactions (
			id, user_id, rule_code, type,
			contribution_change, contribution_before, contribution_after,
			spendable_change, spendable_before, spendable_after,
			status, description, related_task_id, reversal_of
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, 'posted', $11, $12, $13)
		RETURNING `+transactionColumns,
		uuid.New(), post.UserID, post.RuleCode, post.Type,
		post.ContributionDelta, account.ContributionBalance, contributionAfter,
		post.SpendableDelta, account.SpendableBalance, spendableAfter,
		post.Description, post.RelatedTaskID, nil,
	)
	posted, err := scanTransaction(row)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" && strings.Contains(pgErr.ConstraintName, "related_task") {
			return nil, ErrRewardAlreadyPosted
		}
		return nil, mapConflictErr(err)
	}

	_, err = tx.Exec(ctx, `
		UPDATE accounts
		SET contribution_balance = $1, spendable_balance = $2, updated_at = NOW()
		WHERE user_id = $3
	`, contributionAfter, spendableAfter, post.UserID)
	if err != nil {
		return nil, mapConflictErr(err)
	}

	return posted, nil
}

// PostTransaction posts one balance change as a single atomic unit. On any
// failure (quota denial, insufficient balance, double-post) nothing is
// committed, including the quota counters.
func (r *PostgresRepository) PostTransaction(ctx context.Context, post domain.TransactionPost) (*domain.Transaction, error) {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	posted, err := r.applyPost(ctx, tx, post)
	if err != nil {
		return nil, err
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, mapConflictErr(err)
	}
	return posted, nil
}

// ReverseTransaction posts a compensating transaction with negated deltas and
// flips the original row's status to 'reversed'. Ledger rows are never deleted.
// Reversal is an explicit administrative action, so like 'adjust' posts it may
// push the contribution balance negative; only the spendable floor applies.
func (r *PostgresRepository) ReverseTransaction(ctx context.Context, transactionID uuid.UUID, reason string) (*domain.Transaction, error) {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	// Lock the original row so concurrent reversals of the same transaction
	// serialize; the status check below rejects the loser.
	original, err := scanTransaction(tx.QueryRow(ctx,
		`SELECT `+transactionColumns+` FROM transactions WHERE id = $1 FOR UPDATE`,
		transactionID,
	))
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, ErrTransactionNotFound
		}
		return nil, mapConflictErr(err)
	}
	if original.Status == domain.TransactionStatusReversed {
		return nil, ErrAlreadyReversed
	}

	account, err := r.lockAccountForPost(ctx, tx, original.UserID, "")
	if err != nil {
		return nil, mapConflictErr(err)
	}

	contributionAfter := account.ContributionBalance - original.ContributionChange
	spendableAfter := account.SpendableBalance - original.SpendableChange
	if spendableAfter < 0 {
		return nil, ErrInsufficientBalance
	}

	description := "reversal: " + reason
	row := tx.QueryRow(ctx, `
		INSERT INTO transactions (
			id, user_id, rule_code, type,
			contribution_change, contribution_before, contribution_after,
			spendable_change, spendable_before, spendable_after,
			status, description, related_task_id, reversal_of
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, 'posted', $11, NULL, $12)
		RETURNING `+transactionColumns,
		uuid.New(), original.UserID, original.RuleCode, original.Type,
		-original.ContributionChange, account.ContributionBalance, contributionAfter,
		-original.SpendableChange, account.SpendableBalance, spendableAfter,
		description, original.ID,
	)
	reversal, err := scanTransaction(row)
	if err != nil {
		return nil, mapConflictErr(err)
	}

	if _, err := tx.Exec(ctx,
		`UPDATE transactions SET status = 'reversed' WHERE id = $1`,
		original.ID,
	); err != nil {
		return nil, mapConflictErr(err)
	}

	if _, err := tx.Exec(ctx, `
		UPDATE accounts
		SET contribution_balance = $1, spendable_balance = $2, updated_at = NOW()
		WHERE user_id = $3
	`, contributionAfter, spendableAfter, original.UserID); err != nil {
		return nil, mapConflictErr(err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, mapConflictErr(err)
	}
	return reversal, nil
}

// FindTransactionByID retrieves one ledger row.
func (r *PostgresRepository) FindTransactionByID(ctx context.Context, transactionID uuid.UUID) (*domain.Transaction, error) {
	tx, err := scanTransaction(r.db.QueryRow(ctx,
		`SELECT `+transactionColumns+` FROM transactions WHERE id = $1`,
		transactionID,
	))
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, ErrTransactionNotFound
		}
		return nil, err
	}
	return tx, nil
}

// FindTransactionByTaskID retrieves the reward transaction for a task, if one
// was posted. The related_task_id unique constraint guarantees at most one.
func (r *PostgresRepository) FindTransactionByTaskID(ctx context.Context, taskID uuid.UUID) (*domain.Transaction, error) {
	tx, err := scanTransaction(r.db.QueryRow(ctx,
		`SELECT `+transactionColumns+` FROM transactions WHERE related_task_id = $1`,
		taskID,
	))
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, ErrTransactionNotFound
		}
		return nil, err
	}
	return tx, nil
}

// ListTransactionsByUserID retrieves a page of a user's ledger history.
func (r *PostgresRepository) ListTransactionsByUserID(ctx context.Context, userID uuid.UUID, opts domain.TransactionListOptions) ([]domain.Transaction, error) {
	limit := opts.Limit
	if limit <= 0 {
		limit = 20
	}
	if limit > 100 {
		limit = 100
	}
	offset := opts.Offset
	if offset < 0 {
		offset = 0
	}

	query := `SELECT ` + transactionColumns + ` FROM transactions WHERE user_id = $1`
	args := []interface{}{userID}
	argPos := 2

	if t := strings.TrimSpace(opts.Type); t != "" {
		query += fmt.Sprintf(" AND type = $%d", argPos)
		args = append(args, t)
		argPos++
	}
	if rc := strings.TrimSpace(opts.RuleCode); rc != "" {
		query += fmt.Sprintf(" AND rule_code = $%d", argPos)
		args = append(args, rc)
		argPos++
	}

	query += fmt.Sprintf(" ORDER BY created_at DESC LIMIT $%d OFFSET $%d", argPos, argPos+1)
	args = append(args, limit, offset)

	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var transactions []domain.Transaction
	for rows.Next() {
		var tx domain.Transaction
		if err := rows.Scan(
			&tx.ID, &tx.UserID, &tx.RuleCode, &tx.Type,
			&tx.ContributionChange, &tx.ContributionBefore, &tx.ContributionAfter,
			&tx.SpendableChange, &tx.SpendableBefore, &tx.SpendableAfter,
			&tx.Status, &tx.Description, &tx.RelatedTaskID, &tx.ReversalOf, &tx.CreatedAt,
		); err != nil {
			return nil, err
		}
		transactions = append(transactions, tx)
	}
	return transactions, nil
}

const ruleColumns = `
	code, name, event_type, direction, target_role,
	contribution_delta, spendable_delta, max_daily_times, max_total_times,
	status, priority, created_at, updated_at
`

func scanRule(row pgx.Row) (*domain.Rule, error) {
	var rule domain.Rule
	err := row.Scan(
		&rule.Code, &rule.Name, &rule.EventType, &rule.Direction, &rule.TargetRole,
		&rule.ContributionDelta, &rule.SpendableDelta, &rule.MaxDailyTimes, &rule.MaxTotalTimes,
		&rule.Status, &rule.Priority, &rule.CreatedAt, &rule.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &rule, nil
}

// ListActiveRulesByEventType returns the catalog snapshot the rule engine
// evaluates for one event type, highest priority first.
func (r *PostgresRepository) ListActiveRulesByEventType(ctx context.Context, eventType string) ([]domain.Rule, error) {
	rows, err := r.db.Query(ctx,
		`SELECT `+ruleColumns+` FROM reward_rules WHERE event_type = $1 AND status = 'active' ORDER BY priority DESC, code ASC`,
		eventType,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var rules []domain.Rule
	for rows.Next() {
		var rule domain.Rule
		if err := rows.Scan(
			&rule.Code, &rule.Name, &rule.EventType, &rule.Direction, &rule.TargetRole,
			&rule.ContributionDelta, &rule.SpendableDelta, &rule.MaxDailyTimes, &rule.MaxTotalTimes,
			&rule.Status, &rule.Priority, &rule.CreatedAt, &rule.UpdatedAt,
		); err != nil {
			return nil, err
		}
		rules = append(rules, rule)
	}
	return rules, nil
}

// FindRuleByCode retrieves one rule regardless of status.
func (r *PostgresRepository) FindRuleByCode(ctx context.Context, code string) (*domain.Rule, error) {
	rule, err := scanRule(r.db.QueryRow(ctx,
		`SELECT `+ruleColumns+` FROM reward_rules WHERE code = $1`,
		code,
	))
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, ErrRuleNotFound
		}
		return nil, err
	}
	return rule, nil
}

// ListRules returns the full catalog for the admin surface.
func (r *PostgresRepository) ListRules(ctx context.Context) ([]domain.Rule, error) {
	rows, err := r.db.Query(ctx,
		`SELECT `+ruleColumns+` FROM reward_rules ORDER BY event_type ASC, priority DESC, code ASC`,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var rules []domain.Rule
	for rows.Next() {
		var rule domain.Rule
		if err := rows.Scan(
			&rule.Code, &rule.Name, &rule.EventType, &rule.Direction, &rule.TargetRole,
			&rule.ContributionDelta, &rule.SpendableDelta, &rule.MaxDailyTimes, &rule.MaxTotalTimes,
			&rule.Status, &rule.Priority, &rule.CreatedAt, &rule.UpdatedAt,
		); err != nil {
			return nil, err
		}
		rules = append(rules, rule)
	}
	return rules, nil
}

// CreateRule inserts a new catalog rule.
func (r *PostgresRepository) CreateRule(ctx context.Context, rule *domain.Rule) error {
	_, err := r.db.Exec(ctx, `
		INSERT INTO reward_rules (
			code, name, event_type, direction, target_role,
			contribution_delta, spendable_delta, max_daily_times, max_total_times,
			status, priority
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`,
		rule.Code, rule.Name, rule.EventType, rule.Direction, rule.TargetRole,
		rule.ContributionDelta, rule.SpendableDelta, rule.MaxDailyTimes, rule.MaxTotalTimes,
		rule.Status, rule.Priority,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return ErrRuleExists
		}
		return err
	}
	return nil
}

// UpdateRule applies a prospective edit to a rule. Posted transactions keep
// the deltas they snapshotted, so history is unaffected.
func (r *PostgresRepository) UpdateRule(ctx context.Context, code string, patch domain.UpdateRulePayload) (*domain.Rule, error) {
	rule, err := scanRule(r.db.QueryRow(ctx, `
		UPDATE reward_rules
		SET
			name = COALESCE($1, name),
			contribution_delta = COALESCE($2, contribution_delta),
			spendable_delta = COALESCE($3, spendable_delta),
			max_daily_times = CASE WHEN $4::int IS NULL THEN max_daily_times ELSE $4 END,
			max_total_times = CASE WHEN $5::int IS NULL THEN max_total_times ELSE $5 END,
			status = COALESCE($6, status),
			priority = COALESCE($7, priority),
			updated_at = NOW()
		WHERE code = $8
		RETURNING `+ruleColumns,
		patch.Name, patch.ContributionDelta, patch.SpendableDelta,
		patch.MaxDailyTimes, patch.MaxTotalTimes, patch.Status, patch.Priority,
		code,
	))
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, ErrRuleNotFound
		}
		return nil, err
	}
	return rule, nil
}

// GetQuotaCount reads one counter. Missing rows read as zero.
func (r *PostgresRepository) GetQuotaCount(ctx context.Context, userID uuid.UUID, ruleCode, period string) (int, error) {
	var count int
	err := r.db.QueryRow(ctx,
		`SELECT count FROM quota_counters WHERE user_id = $1 AND rule_code = $2 AND period = $3`,
		userID, ruleCode, period,
	).Scan(&count)
	if err != nil {
		if err == pgx.ErrNoRows {
			return 0, nil
		}
		return 0, err
	}
	return count, nil
}

// ResetQuota zeroes one counter. This is the only path that ever decrements;
// the counter is always derivable from the ledger by replay if lost.
func (r *PostgresRepository) ResetQuota(ctx context.Context, userID uuid.UUID, ruleCode, period string) error {
	_, err := r.db.Exec(ctx, `
		UPDATE quota_counters
		SET count = 0, updated_at = NOW()
		WHERE user_id = $1 AND rule_code = $2 AND period = $3
	`, userID, ruleCode, period)
	return err
}
