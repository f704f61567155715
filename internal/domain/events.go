/**
 * @description
 * Message payloads published to RabbitMQ for external collaborators
 * (notification delivery, analytics dashboards). The reward core only ever
 * publishes after its own atomic unit has committed; consumers see facts, not
 * intentions.
 */

package domain

import (
	"time"

	"github.com/google/uuid"
)

// RewardPostedEvent is published after a ledger transaction commits.
type RewardPostedEvent struct {
	TransactionID      uuid.UUID  `json:"transaction_id"`
	UserID             uuid.UUID  `json:"user_id"`
	RuleCode           string     `json:"rule_code,omitempty"`
	Type               string     `json:"type"`
	ContributionChange int64      `json:"contribution_change"`
	SpendableChange    int64      `json:"spendable_change"`
	RelatedTaskID      *uuid.UUID `json:"related_task_id,omitempty"`
	Timestamp          time.Time  `json:"timestamp"`
}

// RewardSkippedEvent is published when a task completion was accepted but the
// reward was not posted. Reward-skips are explicit and logged, never silent.
type RewardSkippedEvent struct {
	TaskID    uuid.UUID `json:"task_id"`
	UserID    uuid.UUID `json:"user_id"`
	RuleCode  string    `json:"rule_code"`
	Reason    string    `json:"reason"`
	Timestamp time.Time `json:"timestamp"`
}

// TaskStatusEvent is published on terminal task transitions.
type TaskStatusEvent struct {
	TaskID    uuid.UUID  `json:"task_id"`
	Category  string     `json:"category"`
	Status    string     `json:"status"`
	ClaimedBy *uuid.UUID `json:"claimed_by,omitempty"`
	Timestamp time.Time  `json:"timestamp"`
}

// TransactionReversedEvent is published after an administrative reversal.
type TransactionReversedEvent struct {
	OriginalID uuid.UUID `json:"original_id"`
	ReversalID uuid.UUID `json:"reversal_id"`
	UserID     uuid.UUID `json:"user_id"`
	Timestamp  time.Time `json:"timestamp"`
}
