/**
 * @description
 * This file defines the ledger-side domain models: user accounts, top-up
 * transactions, and redeem batch records. These structs map directly to the
 * `users`, `topups`, and `redeem_batches` tables.
 *
 * @notes
 * - Amounts are stored as `int64` in the smallest currency unit (rupiah has no
 *   minor unit, but int64 avoids floating-point inaccuracies either way).
 * - `TopupTransaction.OrderID` is caller-generated and unique; it is the
 *   idempotency key for payment-gateway notifications.
 */

package domain

import (
	"time"

	"github.com/google/uuid"
)

// Top-up transaction statuses. A topup transitions pending -> terminal exactly
// once; terminal rows are never re-opened.
const (
	TopupStatusPending = "pending"
	TopupStatusSuccess = "success"
	TopupStatusFailed  = "failed"
	TopupStatusExpired = "expired"
)

// Redeem batch statuses.
const (
	BatchStatusQueued    = "queued"
	BatchStatusRunning   = "running"
	BatchStatusCompleted = "completed"
	BatchStatusCancelled = "cancelled"
	BatchStatusFailed    = "failed"
)

// UserAccount is the sole owner of a user's balance. Rows are created lazily on
// first balance query and never deleted.
type UserAccount struct {
	UserID     string    `json:"user_id"`
	Balance    int64     `json:"balance"`
	TotalTopup int64     `json:"total_topup"`
	TotalSpent int64     `json:"total_spent"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// TopupTransaction represents one payment-gateway charge request.
type TopupTransaction struct {
	ID         int64     `json:"id"`
	UserID     string    `json:"user_id"`
	OrderID    string    `json:"order_id"`
	Amount     int64     `json:"amount"`
	Status     string    `json:"status"`
	RawPayload []byte    `json:"-"` // last verified gateway notification, for audit
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// RedeemBatch is the persisted record of one submitted code batch. The live
// Job (credentials, code list) is held only in memory; the row tracks cost and
// terminal outcome counts.
type RedeemBatch struct {
	ID           uuid.UUID  `json:"id"`
	UserID       string     `json:"user_id"`
	CodeCount    int        `json:"code_count"`
	TotalCost    int64      `json:"total_cost"`
	SuccessCount int        `json:"success_count"`
	FailedCount  int        `json:"failed_count"`
	Status       string     `json:"status"`
	CreatedAt    time.Time  `json:"created_at"`
	CompletedAt  *time.Time `json:"completed_at,omitempty"`
}

// UserStats aggregates a user's ledger and redemption history.
type UserStats struct {
	Balance       int64 `json:"balance"`
	TotalTopup    int64 `json:"total_topup"`
	TotalSpent    int64 `json:"total_spent"`
	TotalBatches  int64 `json:"total_batches"`
	SuccessCodes  int64 `json:"success_codes"`
	FailedCodes   int64 `json:"failed_codes"`
	QueuedBatches int64 `json:"queued_batches"`
}

// ServiceStats is the operator-facing aggregate view.
type ServiceStats struct {
	TotalUsers       int64 `json:"total_users"`
	TotalBalance     int64 `json:"total_balance"`
	SuccessfulTopups int64 `json:"successful_topups"`
	TotalTopupAmount int64 `json:"total_topup_amount"`
	SuccessCodes     int64 `json:"success_codes"`
	FailedCodes      int64 `json:"failed_codes"`
	QueuedBatches    int64 `json:"queued_batches"`
}
