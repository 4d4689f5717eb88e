/**
 * @description
 * This file implements the core application service for the redeem-service.
 * It owns batch ingestion (validate, debit, enqueue), top-up creation against
 * the payment gateway, and the user/operator statistics views. All balance
 * mutations for submissions happen here, before a job ever reaches the queue;
 * queued and running jobs never touch the ledger again.
 */

package app

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/redeemworks/redeem-service/internal/config"
	"github.com/redeemworks/redeem-service/internal/domain"
	"github.com/redeemworks/redeem-service/internal/store"
	"github.com/redeemworks/redeem-service/pkg/midtrans"
)

var (
	ErrValidation     = errors.New("validation failed")
	ErrTopupNotOpen   = errors.New("topup is not pending")
	ErrNotBatchOwner  = errors.New("batch does not belong to user")
	ErrBatchNotActive = errors.New("batch is not queued or running")
)

// RateLimitError reports a rejected submission and when to retry.
type RateLimitError struct {
	RetryAfter int // seconds
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("rate limited, retry in %ds", e.RetryAfter)
}

// InsufficientBalanceError reports a submission the user cannot afford.
type InsufficientBalanceError struct {
	Required int64
	Balance  int64
}

func (e *InsufficientBalanceError) Error() string {
	return fmt.Sprintf("insufficient balance: need %d, have %d", e.Required, e.Balance)
}

// JobQueue is the submission queue boundary the service enqueues into.
type JobQueue interface {
	Enqueue(job *domain.Job) int
	QueueDepth() int
	Workers() int
	Cancel(batchID uuid.UUID) bool
}

// ChargeGateway is the payment gateway boundary for top-ups.
type ChargeGateway interface {
	CreateQRISCharge(ctx context.Context, orderID string, grossAmount int64) (*midtrans.ChargeResponse, error)
	CancelTransaction(ctx context.Context, orderID string) (*midtrans.TransactionStatusResponse, error)
}

// RateLimiter bounds submissions per user. A nil limiter disables limiting.
type RateLimiter interface {
	ConsumeRateLimit(ctx context.Context, scope, subject string, limit int, window time.Duration) (count int, retryAfterSeconds int, err error)
}

// Service wires ingestion, top-ups, and statistics together.
type Service struct {
	repo    store.Repository
	queue   JobQueue
	gateway ChargeGateway
	limiter RateLimiter
	cfg     config.Config

	now func() time.Time
}

// NewService creates the application service.
func NewService(repo store.Repository, queue JobQueue, gateway ChargeGateway, limiter RateLimiter, cfg config.Config) *Service {
	return &Service{
		repo:    repo,
		queue:   queue,
		gateway: gateway,
		limiter: limiter,
		cfg:     cfg,
		now:     time.Now,
	}
}

// SubmitBatchRequest is a validated-at-the-edge submission.
type SubmitBatchRequest struct {
	Email           string   `json:"email"`
	Password        string   `json:"password"`
	Codes           []string `json:"codes"`
	Regions         []string `json:"regions"`
	PlatformVersion string   `json:"platform_version"`
}

// SubmitBatchResult is returned to the caller after a successful enqueue.
type SubmitBatchResult struct {
	BatchID       uuid.UUID `json:"batch_id"`
	CodeCount     int       `json:"code_count"`
	TotalCost     int64     `json:"total_cost"`
	NewBalance    int64     `json:"new_balance"`
	QueuePosition int       `json:"queue_position"`
}

// SubmitBatch validates a submission, debits its full cost, records the batch,
// and enqueues the job. The debit is final: failures after this point do not
// refund.
func (s *Service) SubmitBatch(ctx context.Context, userID string, req SubmitBatchRequest) (*SubmitBatchResult, error) {
	if err := s.checkRateLimit(ctx, userID); err != nil {
		return nil, err
	}

	regions, err := s.resolveRegions(req.Regions)
	if err != nil {
		return nil, err
	}
	if _, ok := s.cfg.PlatformVersions[req.PlatformVersion]; !ok {
		return nil, fmt.Errorf("%w: unknown platform version %q", ErrValidation, req.PlatformVersion)
	}

	codes, err := cleanCodes(req.Codes)
	if err != nil {
		return nil, err
	}
	if len(codes) > s.cfg.MaxCodesPerBatch {
		return nil, fmt.Errorf("%w: at most %d codes per batch", ErrValidation, s.cfg.MaxCodesPerBatch)
	}

	account, err := s.repo.GetOrCreateUser(ctx, userID)
	if err != nil {
		return nil, err
	}

	totalCost := int64(len(codes)) * s.cfg.CostPerCode
	if err := s.repo.DebitBalance(ctx, userID, totalCost); err != nil {
		if errors.Is(err, store.ErrInsufficientFunds) {
			return nil, &InsufficientBalanceError{Required: totalCost, Balance: account.Balance}
		}
		return nil, err
	}

	batch := &domain.RedeemBatch{
		ID:        uuid.New(),
		UserID:    userID,
		CodeCount: len(codes),
		TotalCost: totalCost,
		Status:    domain.BatchStatusQueued,
	}
	if err := s.repo.CreateRedeemBatch(ctx, batch); err != nil {
		// The debit already happened; surface the error but log loudly since
		// this leaves a paid batch without a record.
		log.Printf("level=error component=service user_id=%s msg=\"batch record creation failed after debit\" err=%v", userID, err)
		return nil, err
	}

	position := s.queue.Enqueue(&domain.Job{
		BatchID:         batch.ID,
		UserID:          userID,
		Credentials:     domain.Credentials{Email: req.Email, Password: req.Password},
		Codes:           codes,
		Regions:         regions,
		PlatformVersion: req.PlatformVersion,
		TotalCost:       totalCost,
		EnqueuedAt:      s.now(),
	})

	log.Printf("level=info component=service user_id=%s batch_id=%s msg=\"batch enqueued\" codes=%d cost=%d position=%d",
		userID, batch.ID, len(codes), totalCost, position)

	return &SubmitBatchResult{
		BatchID:       batch.ID,
		CodeCount:     len(codes),
		TotalCost:     totalCost,
		NewBalance:    account.Balance - totalCost,
		QueuePosition: position,
	}, nil
}

// TopupDetails describes a created top-up and how to pay it.
type TopupDetails struct {
	OrderID    string `json:"order_id"`
	Amount     int64  `json:"amount"`
	QRString   string `json:"qr_string,omitempty"`
	QRImageURL string `json:"qr_image_url,omitempty"`
	ExpiryTime string `json:"expiry_time,omitempty"`
}

// CreateTopup creates a pending top-up and a QRIS charge for it. The balance
// is only credited later, by the verified gateway notification.
func (s *Service) CreateTopup(ctx context.Context, userID string, amount int64) (*TopupDetails, error) {
	if amount < s.cfg.MinTopupAmount {
		return nil, fmt.Errorf("%w: minimum topup is %d", ErrValidation, s.cfg.MinTopupAmount)
	}

	if _, err := s.repo.GetOrCreateUser(ctx, userID); err != nil {
		return nil, err
	}

	orderID := fmt.Sprintf("TOPUP-%s-%d", userID, s.now().Unix())
	topup := &domain.TopupTransaction{
		UserID:  userID,
		OrderID: orderID,
		Amount:  amount,
		Status:  domain.TopupStatusPending,
	}
	if err := s.repo.CreateTopup(ctx, topup); err != nil {
		return nil, err
	}

	charge, err := s.gateway.CreateQRISCharge(ctx, orderID, amount)
	if err != nil {
		if markErr := s.repo.MarkTopupFinal(ctx, orderID, domain.TopupStatusFailed, nil); markErr != nil {
			log.Printf("level=error component=service order_id=%s msg=\"failed to mark topup failed after gateway error\" err=%v", orderID, markErr)
		}
		return nil, fmt.Errorf("payment gateway charge failed: %w", err)
	}

	log.Printf("level=info component=service user_id=%s order_id=%s msg=\"topup created\" amount=%d", userID, orderID, amount)
	return &TopupDetails{
		OrderID:    orderID,
		Amount:     amount,
		QRString:   charge.QRString,
		QRImageURL: charge.QRURL(),
		ExpiryTime: charge.ExpiryTime,
	}, nil
}

// CancelTopup cancels a pending top-up at the gateway and locally.
func (s *Service) CancelTopup(ctx context.Context, userID, orderID string) error {
	topup, err := s.repo.FindTopupByOrderID(ctx, orderID)
	if err != nil {
		return err
	}
	if topup.UserID != userID {
		return store.ErrTopupNotFound
	}
	if topup.Status != domain.TopupStatusPending {
		return ErrTopupNotOpen
	}

	if _, err := s.gateway.CancelTransaction(ctx, orderID); err != nil {
		log.Printf("level=warn component=service order_id=%s msg=\"gateway cancel failed\" err=%v", orderID, err)
	}
	return s.repo.MarkTopupFinal(ctx, orderID, domain.TopupStatusFailed, nil)
}

// GetBalance returns the user's ledger row, creating it on first contact.
func (s *Service) GetBalance(ctx context.Context, userID string) (*domain.UserAccount, error) {
	return s.repo.GetOrCreateUser(ctx, userID)
}

// GetUserStats returns the user's aggregate view.
func (s *Service) GetUserStats(ctx context.Context, userID string) (*domain.UserStats, error) {
	if _, err := s.repo.GetOrCreateUser(ctx, userID); err != nil {
		return nil, err
	}
	return s.repo.GetUserStats(ctx, userID)
}

// ServiceOverview is the operator-facing snapshot.
type ServiceOverview struct {
	domain.ServiceStats
	QueueDepth  int   `json:"queue_depth"`
	Workers     int   `json:"workers"`
	CostPerCode int64 `json:"cost_per_code"`
}

// GetServiceOverview combines persisted stats with live queue state.
func (s *Service) GetServiceOverview(ctx context.Context) (*ServiceOverview, error) {
	stats, err := s.repo.GetServiceStats(ctx)
	if err != nil {
		return nil, err
	}
	return &ServiceOverview{
		ServiceStats: *stats,
		QueueDepth:   s.queue.QueueDepth(),
		Workers:      s.queue.Workers(),
		CostPerCode:  s.cfg.CostPerCode,
	}, nil
}

// GetBatch returns a user's batch record.
func (s *Service) GetBatch(ctx context.Context, userID string, batchID uuid.UUID) (*domain.RedeemBatch, error) {
	return s.repo.FindRedeemBatchByID(ctx, batchID, userID)
}

// CancelBatch cancels a queued or running batch owned by the user. Codes not
// yet processed stay unprocessed; the debit is not refunded.
func (s *Service) CancelBatch(ctx context.Context, userID string, batchID uuid.UUID) error {
	batch, err := s.repo.FindRedeemBatchByID(ctx, batchID, userID)
	if err != nil {
		return err
	}
	if batch.Status != domain.BatchStatusQueued && batch.Status != domain.BatchStatusRunning {
		return ErrBatchNotActive
	}
	if !s.queue.Cancel(batchID) {
		// Not in the queue or running set; the worker finished it between the
		// lookup and here.
		return ErrBatchNotActive
	}
	log.Printf("level=info component=service user_id=%s batch_id=%s msg=\"batch cancellation requested\"", userID, batchID)
	return nil
}

// PruneStaleRecords removes finished batches and terminal topups older than
// the retention window.
func (s *Service) PruneStaleRecords(ctx context.Context, retention time.Duration) (int64, error) {
	cutoff := s.now().Add(-retention)
	removed, err := s.repo.PruneStaleRecords(ctx, cutoff)
	if err != nil {
		return 0, err
	}
	log.Printf("level=info component=service msg=\"stale records pruned\" removed=%d cutoff=%s", removed, cutoff.Format(time.RFC3339))
	return removed, nil
}

func (s *Service) checkRateLimit(ctx context.Context, userID string) error {
	if s.limiter == nil || s.cfg.SubmitRateLimitPerMinute <= 0 {
		return nil
	}
	count, retryAfter, err := s.limiter.ConsumeRateLimit(ctx, "submit", userID, s.cfg.SubmitRateLimitPerMinute, time.Minute)
	if err != nil {
		// Fail open: a limiter outage must not block paying users.
		log.Printf("level=warn component=service user_id=%s msg=\"rate limiter unavailable; allowing\" err=%v", userID, err)
		return nil
	}
	if count > s.cfg.SubmitRateLimitPerMinute {
		return &RateLimitError{RetryAfter: retryAfter}
	}
	return nil
}

func (s *Service) resolveRegions(keys []string) ([]domain.Region, error) {
	if len(keys) == 0 {
		return nil, fmt.Errorf("%w: at least one region is required", ErrValidation)
	}
	regions := make([]domain.Region, 0, len(keys))
	seen := make(map[string]bool, len(keys))
	for _, key := range keys {
		key = strings.ToLower(strings.TrimSpace(key))
		region, ok := s.cfg.Regions[key]
		if !ok {
			return nil, fmt.Errorf("%w: unknown region %q", ErrValidation, key)
		}
		if seen[key] {
			continue
		}
		seen[key] = true
		regions = append(regions, region)
	}
	return regions, nil
}

// cleanCodes strips dashes and whitespace and validates the code format:
// alphanumeric, 8 to 20 characters after cleaning.
func cleanCodes(raw []string) ([]string, error) {
	codes := make([]string, 0, len(raw))
	for _, code := range raw {
		clean := strings.ReplaceAll(strings.TrimSpace(code), "-", "")
		if clean == "" {
			continue
		}
		if !isAlnum(clean) || len(clean) < 8 || len(clean) > 20 {
			return nil, fmt.Errorf("%w: malformed code %s", ErrValidation, maskCode(clean))
		}
		codes = append(codes, clean)
	}
	if len(codes) == 0 {
		return nil, fmt.Errorf("%w: no codes provided", ErrValidation)
	}
	return codes, nil
}

func isAlnum(s string) bool {
	for _, r := range s {
		switch {
		case r >= '0' && r <= '9':
		case r >= 'a' && r <= 'z':
		case r >= 'A' && r <= 'Z':
		default:
			return false
		}
	}
	return true
}
