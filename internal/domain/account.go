/**
 * @description
 * This file defines the account domain model for the reward-service. An account
 * holds the two cached balances (contribution and spendable "lingzhi") for one
 * user or merchant. Balances are a materialized view of the transaction ledger:
 * replaying all posted transactions in creation order must reproduce them exactly.
 *
 * @notes
 * - Balances are stored as `int64` in whole points to avoid floating-point
 *   inaccuracies. The ledger is the single source of truth; these fields are
 *   only ever written inside the same database transaction as a ledger row.
 * - Accounts are created on a user's first-ever transaction and never deleted.
 *   A banned owner freezes the account instead.
 */

package domain

import (
	"time"

	"github.com/google/uuid"
)

const (
	AccountStatusActive = "active"
	AccountStatusFrozen = "frozen"

	RoleMember   = "member"
	RoleMerchant = "merchant"
	RoleReviewer = "reviewer"
	RoleAdmin    = "admin"
)

// Account represents a user's reward account with its cached dual-currency balances.
// It maps directly to the `accounts` table.
type Account struct {
	ID                  uuid.UUID `json:"id"`
	UserID              uuid.UUID `json:"user_id"`
	Role                string    `json:"role"`   // 'member' or 'merchant'
	Status              string    `json:"status"` // 'active' or 'frozen'
	ContributionBalance int64     `json:"contribution_balance"`
	SpendableBalance    int64     `json:"spendable_balance"`
	CreatedAt           time.Time `json:"created_at"`
	UpdatedAt           time.Time `json:"updated_at"`
}

// BalanceResponse is the read-path DTO for GET /accounts/{user_id}/balance.
type BalanceResponse struct {
	UserID              uuid.UUID `json:"user_id"`
	ContributionBalance int64     `json:"contribution_balance"`
	SpendableBalance    int64     `json:"spendable_balance"`
	Status              string    `json:"status"`
}
