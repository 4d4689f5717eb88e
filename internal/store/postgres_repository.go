/**
 * @description
 * This file provides the PostgreSQL implementation of the `Repository` interface.
 * It contains all the necessary SQL queries to interact with the database tables
 * related to user balances, top-up transactions, and redeem batches.
 *
 * @dependencies
 * - context, time, errors: Standard Go libraries.
 * - github.com/jackc/pgx/v5: The PostgreSQL driver for database operations.
 * - internal/domain: Contains the domain models used for data transfer.
 */

package store

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redeemworks/redeem-service/internal/domain"
)

var (
	ErrUserNotFound      = errors.New("user not found")
	ErrInsufficientFunds = errors.New("insufficient funds")
	ErrTopupNotFound     = errors.New("topup not found")
	ErrDuplicateOrderID  = errors.New("duplicate order id")
	ErrBatchNotFound     = errors.New("redeem batch not found")
)

// PostgresRepository is a concrete implementation of the Repository interface for PostgreSQL.
type PostgresRepository struct {
	db *pgxpool.Pool
}

// NewPostgresRepository creates a new instance of PostgresRepository.
func NewPostgresRepository(db *pgxpool.Pool) *PostgresRepository {
	return &PostgresRepository{db: db}
}

// GetOrCreateUser returns the user's ledger row, inserting a zero-balance row
// on first contact. Rows are never deleted.
func (r *PostgresRepository) GetOrCreateUser(ctx context.Context, userID string) (*domain.UserAccount, error) {
	query := `
		INSERT INTO users (user_id, balance, total_topup, total_spent)
		VALUES ($1, 0, 0, 0)
		ON CONFLICT (user_id) DO UPDATE SET updated_at = NOW()
		RETURNING user_id, balance, total_topup, total_spent, created_at, updated_at
	`
	var account domain.UserAccount
	err := r.db.QueryRow(ctx, query, userID).Scan(
		&account.UserID,
		&account.Balance,
		&account.TotalTopup,
		&account.TotalSpent,
		&account.CreatedAt,
		&account.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &account, nil
}

// DebitBalance performs an atomic debit operation on a user's balance. The
// whole batch cost is taken up front; there are no partial debits.
func (r *PostgresRepository) DebitBalance(ctx context.Context, userID string, amount int64) error {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	var balance int64
	// Use FOR UPDATE to lock the row, preventing race conditions.
	err = tx.QueryRow(ctx, "SELECT balance FROM users WHERE user_id = $1 FOR UPDATE", userID).Scan(&balance)
	if err != nil {
		if err == pgx.ErrNoRows {
			return ErrUserNotFound
		}
		return err
	}

	if balance < amount {
		return ErrInsufficientFunds
	}

	_, err = tx.Exec(ctx, "UPDATE users SET balance = balance - $1, total_spent = total_spent + $1, updated_at = NOW() WHERE user_id = $2", amount, userID)
	if err != nil {
		return err
	}

	return tx.Commit(ctx)
}

// CreditBalance performs an atomic credit operation on a user's balance and
// returns the new balance.
func (r *PostgresRepository) CreditBalance(ctx context.Context, userID string, amount int64) (int64, error) {
	var newBalance int64
	query := `
		UPDATE users
		SET balance = balance + $1, total_topup = total_topup + $1, updated_at = NOW()
		WHERE user_id = $2
		RETURNING balance
	`
	err := r.db.QueryRow(ctx, query, amount, userID).Scan(&newBalance)
	if err != nil {
		if err == pgx.ErrNoRows {
			return 0, ErrUserNotFound
		}
		return 0, err
	}
	return newBalance, nil
}

// CreateTopup inserts a pending top-up row. The order id carries a UNIQUE
// constraint; a collision surfaces as ErrDuplicateOrderID.
func (r *PostgresRepository) CreateTopup(ctx context.Context, topup *domain.TopupTransaction) error {
	query := `
		INSERT INTO topups (user_id, order_id, amount, status)
		VALUES ($1, $2, $3, $4)
		RETURNING id, created_at, updated_at
	`
	err := r.db.QueryRow(ctx, query,
		topup.UserID,
		topup.OrderID,
		topup.Amount,
		topup.Status,
	).Scan(&topup.ID, &topup.CreatedAt, &topup.UpdatedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return ErrDuplicateOrderID
		}
		return err
	}
	return nil
}

// FindTopupByOrderID fetches a top-up by its gateway order id.
func (r *PostgresRepository) FindTopupByOrderID(ctx context.Context, orderID string) (*domain.TopupTransaction, error) {
	query := `
		SELECT id, user_id, order_id, amount, status, raw_payload, created_at, updated_at
		FROM topups WHERE order_id = $1
	`
	var topup domain.TopupTransaction
	err := r.db.QueryRow(ctx, query, orderID).Scan(
		&topup.ID,
		&topup.UserID,
		&topup.OrderID,
		&topup.Amount,
		&topup.Status,
		&topup.RawPayload,
		&topup.CreatedAt,
		&topup.UpdatedAt,
	)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, ErrTopupNotFound
		}
		return nil, err
	}
	return &topup, nil
}

// MarkTopupFinal moves a pending top-up to a terminal non-success status
// (failed or expired). Rows already terminal are left untouched, which makes
// retried gateway notifications harmless.
func (r *PostgresRepository) MarkTopupFinal(ctx context.Context, orderID string, status string, rawPayload []byte) error {
	query := `
		UPDATE topups
		SET status = $1, raw_payload = $2, updated_at = NOW()
		WHERE order_id = $3 AND status = $4
	`
	tag, err := r.db.Exec(ctx, query, status, rawPayload, orderID, domain.TopupStatusPending)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		// Either the order does not exist or it already reached a terminal
		// state. Distinguish so callers can 404 on unknown orders.
		var exists bool
		if err := r.db.QueryRow(ctx, "SELECT EXISTS(SELECT 1 FROM topups WHERE order_id = $1)", orderID).Scan(&exists); err != nil {
			return err
		}
		if !exists {
			return ErrTopupNotFound
		}
	}
	return nil
}

// MarkTopupSucceededAndCredit transitions a top-up to success and credits the
// user's balance in a single transaction. If the order was already settled the
// balance is left untouched and Credited is false, so a replayed notification
// can never double-credit.
func (r *PostgresRepository) MarkTopupSucceededAndCredit(ctx context.Context, orderID string, rawPayload []byte) (*TopupCreditResult, error) {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	var (
		userID string
		amount int64
		status string
	)
	// Lock the topup row so concurrent notifications for the same order
	// serialize here.
	err = tx.QueryRow(ctx, "SELECT user_id, amount, status FROM topups WHERE order_id = $1 FOR UPDATE", orderID).Scan(&userID, &amount, &status)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, ErrTopupNotFound
		}
		return nil, err
	}

	if status == domain.TopupStatusSuccess {
		return &TopupCreditResult{Credited: false, UserID: userID, Amount: amount}, nil
	}

	_, err = tx.Exec(ctx, "UPDATE topups SET status = $1, raw_payload = $2, updated_at = NOW() WHERE order_id = $3",
		domain.TopupStatusSuccess, rawPayload, orderID)
	if err != nil {
		return nil, err
	}

	var newBalance int64
	err = tx.QueryRow(ctx, `
		INSERT INTO users (user_id, balance, total_topup, total_spent)
		VALUES ($1, $2, $2, 0)
		ON CONFLICT (user_id) DO UPDATE
		SET balance = users.balance + $2, total_topup = users.total_topup + $2, updated_at = NOW()
		RETURNING balance
	`, userID, amount).Scan(&newBalance)
	if err != nil {
		return nil, err
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}
	return &TopupCreditResult{Credited: true, UserID: userID, Amount: amount, NewBalance: newBalance}, nil
}

// CreateRedeemBatch inserts a redeem batch audit record.
func (r *PostgresRepository) CreateRedeemBatch(ctx context.Context, batch *domain.RedeemBatch) error {
	query := `
		INSERT INTO redeem_batches (
			id, user_id, code_count, total_cost, success_count, failed_count, status
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING created_at
	`
	return r.db.QueryRow(ctx, query,
		batch.ID,
		batch.UserID,
		batch.CodeCount,
		batch.TotalCost,
		batch.SuccessCount,
		batch.FailedCount,
		batch.Status,
	).Scan(&batch.CreatedAt)
}

// MarkRedeemBatchRunning flips a queued batch to running when a worker picks it up.
func (r *PostgresRepository) MarkRedeemBatchRunning(ctx context.Context, batchID uuid.UUID) error {
	query := `UPDATE redeem_batches SET status = $1 WHERE id = $2 AND status = $3`
	tag, err := r.db.Exec(ctx, query, domain.BatchStatusRunning, batchID, domain.BatchStatusQueued)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrBatchNotFound
	}
	return nil
}

// UpdateRedeemBatchProgress persists running counters after each terminal code outcome.
func (r *PostgresRepository) UpdateRedeemBatchProgress(ctx context.Context, batchID uuid.UUID, successCount, failedCount int) error {
	query := `UPDATE redeem_batches SET success_count = $1, failed_count = $2 WHERE id = $3`
	_, err := r.db.Exec(ctx, query, successCount, failedCount, batchID)
	return err
}

// FinishRedeemBatch records the terminal status and final counts for a batch.
func (r *PostgresRepository) FinishRedeemBatch(ctx context.Context, batchID uuid.UUID, status string, successCount, failedCount int) error {
	query := `
		UPDATE redeem_batches
		SET status = $1, success_count = $2, failed_count = $3, completed_at = NOW()
		WHERE id = $4
	`
	tag, err := r.db.Exec(ctx, query, status, successCount, failedCount, batchID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrBatchNotFound
	}
	return nil
}

// FindRedeemBatchByID fetches a batch scoped to its owner.
func (r *PostgresRepository) FindRedeemBatchByID(ctx context.Context, batchID uuid.UUID, userID string) (*domain.RedeemBatch, error) {
	query := `
		SELECT id, user_id, code_count, total_cost, success_count, failed_count, status, created_at, completed_at
		FROM redeem_batches WHERE id = $1 AND user_id = $2
	`
	var batch domain.RedeemBatch
	err := r.db.QueryRow(ctx, query, batchID, userID).Scan(
		&batch.ID,
		&batch.UserID,
		&batch.CodeCount,
		&batch.TotalCost,
		&batch.SuccessCount,
		&batch.FailedCount,
		&batch.Status,
		&batch.CreatedAt,
		&batch.CompletedAt,
	)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, ErrBatchNotFound
		}
		return nil, err
	}
	return &batch, nil
}

// GetUserStats aggregates the ledger and redemption history for one user.
func (r *PostgresRepository) GetUserStats(ctx context.Context, userID string) (*domain.UserStats, error) {
	var stats domain.UserStats
	err := r.db.QueryRow(ctx, "SELECT balance, total_topup, total_spent FROM users WHERE user_id = $1", userID).Scan(
		&stats.Balance,
		&stats.TotalTopup,
		&stats.TotalSpent,
	)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, ErrUserNotFound
		}
		return nil, err
	}

	query := `
		SELECT
			COUNT(*),
			COALESCE(SUM(success_count), 0),
			COALESCE(SUM(failed_count), 0),
			COUNT(*) FILTER (WHERE status IN ($2, $3))
		FROM redeem_batches WHERE user_id = $1
	`
	err = r.db.QueryRow(ctx, query, userID, domain.BatchStatusQueued, domain.BatchStatusRunning).Scan(
		&stats.TotalBatches,
		&stats.SuccessCodes,
		&stats.FailedCodes,
		&stats.QueuedBatches,
	)
	if err != nil {
		return nil, err
	}
	return &stats, nil
}

// GetServiceStats aggregates the operator-facing view across all users.
func (r *PostgresRepository) GetServiceStats(ctx context.Context) (*domain.ServiceStats, error) {
	var stats domain.ServiceStats
	err := r.db.QueryRow(ctx, "SELECT COUNT(*), COALESCE(SUM(balance), 0) FROM users").Scan(
		&stats.TotalUsers,
		&stats.TotalBalance,
	)
	if err != nil {
		return nil, err
	}

	err = r.db.QueryRow(ctx, "SELECT COUNT(*), COALESCE(SUM(amount), 0) FROM topups WHERE status = $1", domain.TopupStatusSuccess).Scan(
		&stats.SuccessfulTopups,
		&stats.TotalTopupAmount,
	)
	if err != nil {
		return nil, err
	}

	query := `
		SELECT
			COALESCE(SUM(success_count), 0),
			COALESCE(SUM(failed_count), 0),
			COUNT(*) FILTER (WHERE status IN ($1, $2))
		FROM redeem_batches
	`
	err = r.db.QueryRow(ctx, query, domain.BatchStatusQueued, domain.BatchStatusRunning).Scan(
		&stats.SuccessCodes,
		&stats.FailedCodes,
		&stats.QueuedBatches,
	)
	if err != nil {
		return nil, err
	}
	return &stats, nil
}

// CountQueuedBatches counts batches not yet picked up by a worker.
func (r *PostgresRepository) CountQueuedBatches(ctx context.Context) (int64, error) {
	var count int64
	err := r.db.QueryRow(ctx, "SELECT COUNT(*) FROM redeem_batches WHERE status = $1", domain.BatchStatusQueued).Scan(&count)
	return count, err
}

// PruneStaleRecords deletes finished batches and terminal topups older than the
// cutoff. Ledger rows in `users` are never pruned.
func (r *PostgresRepository) PruneStaleRecords(ctx context.Context, olderThan time.Time) (int64, error) {
	var removed int64

	tag, err := r.db.Exec(ctx,
		"DELETE FROM redeem_batches WHERE status IN ($1, $2, $3) AND created_at < $4",
		domain.BatchStatusCompleted, domain.BatchStatusCancelled, domain.BatchStatusFailed, olderThan)
	if err != nil {
		return removed, err
	}
	removed += tag.RowsAffected()

	tag, err = r.db.Exec(ctx,
		"DELETE FROM topups WHERE status IN ($1, $2) AND created_at < $3",
		domain.TopupStatusFailed, domain.TopupStatusExpired, olderThan)
	if err != nil {
		return removed, err
	}
	removed += tag.RowsAffected()

	return removed, nil
}
