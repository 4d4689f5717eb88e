package app

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redeemworks/redeem-service/internal/domain"
	"github.com/redeemworks/redeem-service/internal/store"
	"github.com/redeemworks/redeem-service/pkg/midtrans"
)

// stubRepository embeds the Repository interface and overrides only the
// methods a test cares about. Unset methods succeed as harmless no-ops.
type stubRepository struct {
	store.Repository

	getOrCreateUserFn             func(ctx context.Context, userID string) (*domain.UserAccount, error)
	debitBalanceFn                func(ctx context.Context, userID string, amount int64) error
	createTopupFn                 func(ctx context.Context, topup *domain.TopupTransaction) error
	findTopupByOrderIDFn          func(ctx context.Context, orderID string) (*domain.TopupTransaction, error)
	markTopupFinalFn              func(ctx context.Context, orderID, status string, raw []byte) error
	markTopupSucceededAndCreditFn func(ctx context.Context, orderID string, raw []byte) (*store.TopupCreditResult, error)
	createRedeemBatchFn           func(ctx context.Context, batch *domain.RedeemBatch) error
	findRedeemBatchByIDFn         func(ctx context.Context, batchID uuid.UUID, userID string) (*domain.RedeemBatch, error)

	mu              sync.Mutex
	progressUpdates [][2]int
	finishedStatus  string
	finishedSuccess int
	finishedFailed  int
	markedRunning   bool
}

func (s *stubRepository) GetOrCreateUser(ctx context.Context, userID string) (*domain.UserAccount, error) {
	if s.getOrCreateUserFn != nil {
		return s.getOrCreateUserFn(ctx, userID)
	}
	return &domain.UserAccount{UserID: userID}, nil
}

func (s *stubRepository) DebitBalance(ctx context.Context, userID string, amount int64) error {
	if s.debitBalanceFn != nil {
		return s.debitBalanceFn(ctx, userID, amount)
	}
	return nil
}

func (s *stubRepository) CreateTopup(ctx context.Context, topup *domain.TopupTransaction) error {
	if s.createTopupFn != nil {
		return s.createTopupFn(ctx, topup)
	}
	return nil
}

func (s *stubRepository) FindTopupByOrderID(ctx context.Context, orderID string) (*domain.TopupTransaction, error) {
	if s.findTopupByOrderIDFn != nil {
		return s.findTopupByOrderIDFn(ctx, orderID)
	}
	return nil, store.ErrTopupNotFound
}

func (s *stubRepository) MarkTopupFinal(ctx context.Context, orderID, status string, raw []byte) error {
	if s.markTopupFinalFn != nil {
		return s.markTopupFinalFn(ctx, orderID, status, raw)
	}
	return nil
}

func (s *stubRepository) MarkTopupSucceededAndCredit(ctx context.Context, orderID string, raw []byte) (*store.TopupCreditResult, error) {
	if s.markTopupSucceededAndCreditFn != nil {
		return s.markTopupSucceededAndCreditFn(ctx, orderID, raw)
	}
	return &store.TopupCreditResult{Credited: true}, nil
}

func (s *stubRepository) CreateRedeemBatch(ctx context.Context, batch *domain.RedeemBatch) error {
	if s.createRedeemBatchFn != nil {
		return s.createRedeemBatchFn(ctx, batch)
	}
	return nil
}

func (s *stubRepository) MarkRedeemBatchRunning(ctx context.Context, batchID uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.markedRunning = true
	return nil
}

func (s *stubRepository) UpdateRedeemBatchProgress(ctx context.Context, batchID uuid.UUID, successCount, failedCount int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.progressUpdates = append(s.progressUpdates, [2]int{successCount, failedCount})
	return nil
}

func (s *stubRepository) FinishRedeemBatch(ctx context.Context, batchID uuid.UUID, status string, successCount, failedCount int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.finishedStatus = status
	s.finishedSuccess = successCount
	s.finishedFailed = failedCount
	return nil
}

func (s *stubRepository) FindRedeemBatchByID(ctx context.Context, batchID uuid.UUID, userID string) (*domain.RedeemBatch, error) {
	if s.findRedeemBatchByIDFn != nil {
		return s.findRedeemBatchByIDFn(ctx, batchID, userID)
	}
	return nil, store.ErrBatchNotFound
}

func (s *stubRepository) finished() (string, int, int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.finishedStatus, s.finishedSuccess, s.finishedFailed
}

// stubPublisher records published events.
type stubPublisher struct {
	mu       sync.Mutex
	progress []domain.ProgressEvent
	topups   []domain.TopupSucceededEvent
}

func (p *stubPublisher) Publish(ctx context.Context, routingKey string, body interface{}) error {
	return nil
}

func (p *stubPublisher) PublishProgressEvent(ctx context.Context, event domain.ProgressEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.progress = append(p.progress, event)
	return nil
}

func (p *stubPublisher) PublishTopupSucceeded(ctx context.Context, event domain.TopupSucceededEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.topups = append(p.topups, event)
	return nil
}

func (p *stubPublisher) Close() {}

func (p *stubPublisher) progressEvents() []domain.ProgressEvent {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]domain.ProgressEvent, len(p.progress))
	copy(out, p.progress)
	return out
}

// stubSessions authenticates every credential pair unless an error is set.
type stubSessions struct {
	err   error
	calls int
}

func (s *stubSessions) Authenticate(ctx context.Context, creds domain.Credentials) (*domain.Session, error) {
	s.calls++
	if s.err != nil {
		return nil, s.err
	}
	return &domain.Session{UserID: "u-1", SessionID: "s-1", DeviceUUID: "d-1"}, nil
}

// stubRedeemer answers submissions from a per-code script.
type stubRedeemer struct {
	mu        sync.Mutex
	responses map[string][]string // code -> sequential responses
	counts    map[string]int
	slow      time.Duration
}

func (r *stubRedeemer) Submit(ctx context.Context, session domain.Session, code, regionEndpoint, platformVersion string) (string, error) {
	if r.slow > 0 {
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-time.After(r.slow):
		}
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.counts == nil {
		r.counts = make(map[string]int)
	}
	seq := r.responses[code]
	i := r.counts[code]
	r.counts[code]++
	if i < len(seq) {
		return seq[i], nil
	}
	if len(seq) > 0 {
		return seq[len(seq)-1], nil
	}
	return "Assigned", nil
}

// stubQueue implements JobQueue for service tests.
type stubQueue struct {
	mu        sync.Mutex
	jobs      []*domain.Job
	cancelled []uuid.UUID
	cancelOK  bool
}

func (q *stubQueue) Enqueue(job *domain.Job) int {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.jobs = append(q.jobs, job)
	return len(q.jobs)
}

func (q *stubQueue) QueueDepth() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.jobs)
}

func (q *stubQueue) Workers() int { return 3 }

func (q *stubQueue) Cancel(batchID uuid.UUID) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.cancelled = append(q.cancelled, batchID)
	return q.cancelOK
}

// stubGateway fakes the payment gateway.
type stubGateway struct {
	chargeErr  error
	cancelErr  error
	lastOrder  string
	lastAmount int64
}

func (g *stubGateway) CreateQRISCharge(ctx context.Context, orderID string, grossAmount int64) (*midtrans.ChargeResponse, error) {
	g.lastOrder = orderID
	g.lastAmount = grossAmount
	if g.chargeErr != nil {
		return nil, g.chargeErr
	}
	return &midtrans.ChargeResponse{
		OrderID:           orderID,
		TransactionStatus: "pending",
		QRString:          "qr-payload",
		ExpiryTime:        "2026-01-01 00:15:00",
	}, nil
}

func (g *stubGateway) CancelTransaction(ctx context.Context, orderID string) (*midtrans.TransactionStatusResponse, error) {
	if g.cancelErr != nil {
		return nil, g.cancelErr
	}
	return &midtrans.TransactionStatusResponse{OrderID: orderID, TransactionStatus: "cancel"}, nil
}

// stubVerifier accepts or rejects every signature.
type stubVerifier struct {
	valid bool
}

func (v *stubVerifier) VerifySignature(orderID, statusCode, grossAmount, signatureKey string) bool {
	return v.valid
}
