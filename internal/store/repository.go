/**
 * @description
 * This file defines the `Repository` interface, which specifies the contract for
 * all data access operations required by the redeem-service. By defining an
 * interface, we decouple the application's business logic from the specific
 * database implementation (e.g., PostgreSQL), making the code more modular and
 * easier to test.
 *
 * @dependencies
 * - context, time: Standard Go libraries.
 * - github.com/google/uuid: For UUID generation and handling.
 * - internal/domain: For the service's domain models.
 */

package store

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/redeemworks/redeem-service/internal/domain"
)

// Repository defines the set of methods for interacting with the database.
type Repository interface {
	// User and balance methods
	GetOrCreateUser(ctx context.Context, userID string) (*domain.UserAccount, error)
	DebitBalance(ctx context.Context, userID string, amount int64) error
	CreditBalance(ctx context.Context, userID string, amount int64) (int64, error)

	// Top-up methods
	CreateTopup(ctx context.Context, topup *domain.TopupTransaction) error
	FindTopupByOrderID(ctx context.Context, orderID string) (*domain.TopupTransaction, error)
	MarkTopupFinal(ctx context.Context, orderID string, status string, rawPayload []byte) error
	MarkTopupSucceededAndCredit(ctx context.Context, orderID string, rawPayload []byte) (*TopupCreditResult, error)

	// Redeem batch methods
	CreateRedeemBatch(ctx context.Context, batch *domain.RedeemBatch) error
	MarkRedeemBatchRunning(ctx context.Context, batchID uuid.UUID) error
	UpdateRedeemBatchProgress(ctx context.Context, batchID uuid.UUID, successCount, failedCount int) error
	FinishRedeemBatch(ctx context.Context, batchID uuid.UUID, status string, successCount, failedCount int) error
	FindRedeemBatchByID(ctx context.Context, batchID uuid.UUID, userID string) (*domain.RedeemBatch, error)

	// Statistics methods
	GetUserStats(ctx context.Context, userID string) (*domain.UserStats, error)
	GetServiceStats(ctx context.Context) (*domain.ServiceStats, error)
	CountQueuedBatches(ctx context.Context) (int64, error)

	// Maintenance methods
	PruneStaleRecords(ctx context.Context, olderThan time.Time) (int64, error)
}

// TopupCreditResult reports the outcome of the atomic success transition for a
// top-up. Credited is false when the order was already settled and no balance
// change was applied.
type TopupCreditResult struct {
	Credited   bool
	UserID     string
	Amount     int64
	NewBalance int64
}
