/**
 * @description
 * Task lifecycle persistence. Transitions are conditional writes keyed on the
 * expected current state, so concurrent actors race on the database row and
 * exactly one wins. Completion owns the cross-scope atomic unit: the state
 * write, the quota reservation, and the ledger post commit together, with the
 * reward portion under a savepoint so a quota denial can accept the work while
 * posting nothing.
 */

package store

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/lingzhiapp/reward-service/internal/domain"
)

const taskColumns = `
	id, category, title, description, status, issuer_id, claimed_by,
	reward_rule_code, evidence, deadline,
	claimed_at, submitted_at, completed_at, cancelled_at, created_at, updated_at
`

func scanTask(row pgx.Row) (*domain.Task, error) {
	var task domain.Task
	err := row.Scan(
		&task.ID, &task.Category, &task.Title, &task.Description, &task.Status,
		&task.IssuerID, &task.ClaimedBy, &task.RewardRuleCode, &task.Evidence,
		&task.Deadline, &task.ClaimedAt, &task.SubmittedAt, &task.CompletedAt,
		&task.CancelledAt, &task.CreatedAt, &task.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &task, nil
}

// CreateTask inserts a task in the 'open' state.
func (r *PostgresRepository) CreateTask(ctx context.Context, task *domain.Task) error {
	_, err := r.db.Exec(ctx, `
		INSERT INTO tasks (id, category, title, description, status, issuer_id, reward_rule_code, deadline)
		VALUES ($1, $2, $3, $4, 'open', $5, $6, $7)
	`,
		task.ID, task.Category, task.Title, task.Description,
		task.IssuerID, task.RewardRuleCode, task.Deadline,
	)
	return err
}

// FindTaskByID retrieves one task.
func (r *PostgresRepository) FindTaskByID(ctx context.Context, taskID uuid.UUID) (*domain.Task, error) {
	task, err := scanTask(r.db.QueryRow(ctx,
		`SELECT `+taskColumns+` FROM tasks WHERE id = $1`,
		taskID,
	))
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, ErrTaskNotFound
		}
		return nil, err
	}
	return task, nil
}

// ClaimTask performs the first-writer-wins claim: a conditional update keyed
// on `status = 'open' AND claimed_by IS NULL`. Losers get a diagnosis of why
// the precondition failed rather than a bare zero-rows result.
func (r *PostgresRepository) ClaimTask(ctx context.Context, taskID, actorID uuid.UUID) (*domain.Task, error) {
	task, err := scanTask(r.db.QueryRow(ctx, `
		UPDATE tasks
		SET status = 'claimed', claimed_by = $2, claimed_at = NOW(), updated_at = NOW()
		WHERE id = $1 AND status = 'open' AND claimed_by IS NULL
		RETURNING `+taskColumns,
		taskID, actorID,
	))
	if err == nil {
		return task, nil
	}
	if err != pgx.ErrNoRows {
		return nil, mapConflictErr(err)
	}

	current, findErr := r.FindTaskByID(ctx, taskID)
	if findErr != nil {
		return nil, findErr
	}
	if current.Status == domain.TaskStatusClaimed || current.Status == domain.TaskStatusSubmitted {
		return nil, ErrTaskAlreadyClaimed
	}
	return nil, ErrInvalidTransition
}

// SubmitTask records the claimant's evidence. Only the current claimant may
// submit, and only from the 'claimed' state.
func (r *PostgresRepository) SubmitTask(ctx context.Context, taskID, actorID uuid.UUID, evidence []byte) (*domain.Task, error) {
	task, err := scanTask(r.db.QueryRow(ctx, `
		UPDATE tasks
		SET status = 'submitted', evidence = $3, submitted_at = NOW(), updated_at = NOW()
		WHERE id = $1 AND status = 'claimed' AND claimed_by = $2
		RETURNING `+taskColumns,
		taskID, actorID, evidence,
	))
	if err == nil {
		return task, nil
	}
	if err != pgx.ErrNoRows {
		return nil, mapConflictErr(err)
	}

	current, findErr := r.FindTaskByID(ctx, taskID)
	if findErr != nil {
		return nil, findErr
	}
	if current.Status != domain.TaskStatusClaimed {
		return nil, ErrInvalidTransition
	}
	if current.ClaimedBy == nil || *current.ClaimedBy != actorID {
		return nil, ErrNotClaimant
	}
	return nil, ErrInvalidTransition
}

// CompleteTask moves a submitted task to 'completed' and, when post is
// non-nil, executes the reward in the same atomic unit. The reward runs under
// a savepoint: a policy denial (quota exhausted, insufficient balance) rolls
// back only the reward, the accepted work still commits, and the caller gets
// an explicit skip reason. Double completion is rejected by the state CAS, and
// a retried completion that somehow races past it still cannot double-pay
// thanks to the related_task_id unique constraint.
func (r *PostgresRepository) CompleteTask(ctx context.Context, taskID uuid.UUID, post *domain.TransactionPost) (*domain.TaskCompletion, error) {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	task, err := scanTask(tx.QueryRow(ctx, `
		UPDATE tasks
		SET status = 'completed', completed_at = NOW(), updated_at = NOW()
		WHERE id = $1 AND status = 'submitted'
		RETURNING `+taskColumns,
		taskID,
	))
	if err != nil {
		if err != pgx.ErrNoRows {
			return nil, mapConflictErr(err)
		}
		if _, findErr := r.FindTaskByID(ctx, taskID); findErr != nil {
			return nil, findErr
		}
		return nil, ErrInvalidTransition
	}

	completion := &domain.TaskCompletion{Task: task}

	if post != nil {
		// pgx nested Begin opens a savepoint on the outer transaction.
		sp, err := tx.Begin(ctx)
		if err != nil {
			return nil, err
		}
		posted, postErr := r.applyPost(ctx, sp, *post)
		switch {
		case postErr == nil:
			if err := sp.Commit(ctx); err != nil {
				return nil, mapConflictErr(err)
			}
			completion.Transaction = posted
		case errors.Is(postErr, ErrQuotaExceeded):
			sp.Rollback(ctx)
			completion.SkipReason = domain.SkipReasonQuotaExceeded
		case errors.Is(postErr, ErrInsufficientBalance):
			sp.Rollback(ctx)
			completion.SkipReason = domain.SkipReasonInsufficientBalance
		case errors.Is(postErr, ErrRewardAlreadyPosted):
			sp.Rollback(ctx)
			return nil, ErrRewardAlreadyPosted
		default:
			sp.Rollback(ctx)
			return nil, postErr
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, mapConflictErr(err)
	}
	return completion, nil
}

// CancelTask releases a task from any pre-completion state. Terminal states
// reject the transition.
func (r *PostgresRepository) CancelTask(ctx context.Context, taskID uuid.UUID) (*domain.Task, error) {
	task, err := scanTask(r.db.QueryRow(ctx, `
		UPDATE tasks
		SET status = 'cancelled', claimed_by = NULL, cancelled_at = NOW(), updated_at = NOW()
		WHERE id = $1 AND status IN ('open', 'claimed', 'submitted')
		RETURNING `+taskColumns,
		taskID,
	))
	if err == nil {
		return task, nil
	}
	if err != pgx.ErrNoRows {
		return nil, mapConflictErr(err)
	}

	if _, findErr := r.FindTaskByID(ctx, taskID); findErr != nil {
		return nil, findErr
	}
	return nil, ErrInvalidTransition
}

// ExpireOverdueTasks cancels every unfinished task whose deadline has passed.
// The sweep is idempotent: a second run over the same set affects zero rows.
func (r *PostgresRepository) ExpireOverdueTasks(ctx context.Context, now time.Time) (int64, error) {
	result, err := r.db.Exec(ctx, `
		UPDATE tasks
		SET status = 'cancelled', claimed_by = NULL, cancelled_at = NOW(), updated_at = NOW()
		WHERE deadline IS NOT NULL AND deadline < $1 AND status IN ('open', 'claimed', 'submitted')
	`, now)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected(), nil
}
