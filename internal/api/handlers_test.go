package api

import (
	"bytes"
	"context"
	"crypto/sha512"
	"encoding/hex"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/redeemworks/redeem-service/internal/app"
	"github.com/redeemworks/redeem-service/internal/config"
	"github.com/redeemworks/redeem-service/internal/domain"
	"github.com/redeemworks/redeem-service/internal/store"
	"github.com/redeemworks/redeem-service/pkg/midtrans"
	"github.com/redeemworks/redeem-service/pkg/rabbitmq"
)

const testJWTSecret = "test-jwt-secret"
const testServerKey = "test-server-key"

// fakeRepository embeds the Repository interface; only the methods the routed
// handlers reach are implemented.
type fakeRepository struct {
	store.Repository

	balance  int64
	topups   map[string]*domain.TopupTransaction
	credited map[string]bool
}

func newFakeRepository() *fakeRepository {
	return &fakeRepository{
		balance:  10000,
		topups:   make(map[string]*domain.TopupTransaction),
		credited: make(map[string]bool),
	}
}

func (f *fakeRepository) GetOrCreateUser(ctx context.Context, userID string) (*domain.UserAccount, error) {
	return &domain.UserAccount{UserID: userID, Balance: f.balance}, nil
}

func (f *fakeRepository) DebitBalance(ctx context.Context, userID string, amount int64) error {
	if f.balance < amount {
		return store.ErrInsufficientFunds
	}
	f.balance -= amount
	return nil
}

func (f *fakeRepository) CreateRedeemBatch(ctx context.Context, batch *domain.RedeemBatch) error {
	return nil
}

func (f *fakeRepository) FindTopupByOrderID(ctx context.Context, orderID string) (*domain.TopupTransaction, error) {
	topup, ok := f.topups[orderID]
	if !ok {
		return nil, store.ErrTopupNotFound
	}
	return topup, nil
}

func (f *fakeRepository) MarkTopupFinal(ctx context.Context, orderID, status string, raw []byte) error {
	topup, ok := f.topups[orderID]
	if !ok {
		return store.ErrTopupNotFound
	}
	topup.Status = status
	return nil
}

func (f *fakeRepository) MarkTopupSucceededAndCredit(ctx context.Context, orderID string, raw []byte) (*store.TopupCreditResult, error) {
	topup, ok := f.topups[orderID]
	if !ok {
		return nil, store.ErrTopupNotFound
	}
	if f.credited[orderID] {
		return &store.TopupCreditResult{Credited: false, UserID: topup.UserID, Amount: topup.Amount}, nil
	}
	f.credited[orderID] = true
	f.balance += topup.Amount
	return &store.TopupCreditResult{Credited: true, UserID: topup.UserID, Amount: topup.Amount, NewBalance: f.balance}, nil
}

type fakeQueue struct {
	jobs []*domain.Job
}

func (q *fakeQueue) Enqueue(job *domain.Job) int {
	q.jobs = append(q.jobs, job)
	return len(q.jobs)
}
func (q *fakeQueue) QueueDepth() int               { return len(q.jobs) }
func (q *fakeQueue) Workers() int                  { return 3 }
func (q *fakeQueue) Cancel(batchID uuid.UUID) bool { return false }

func testRouter(t *testing.T, repo *fakeRepository) http.Handler {
	t.Helper()
	cfg := config.Config{
		CostPerCode:      1000,
		MinTopupAmount:   1000,
		MaxCodesPerBatch: 100,
		Regions: map[string]domain.Region{
			"sg": {Key: "sg", EndpointCode: "SG_IDC_03", Name: "Singapore"},
		},
		PlatformVersions: map[string]string{"12.0": "Android 12"},
	}
	verifier := midtrans.NewClient(testServerKey, false)
	service := app.NewService(repo, &fakeQueue{}, nil, nil, cfg)
	webhook := app.NewWebhookProcessor(repo, verifier, &rabbitmq.EventProducerFallback{})
	return Routes(NewHandlers(service, webhook), testJWTSecret)
}

func bearerToken(t *testing.T, userID string) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub": userID,
		"exp": time.Now().Add(time.Hour).Unix(),
	})
	signed, err := token.SignedString([]byte(testJWTSecret))
	if err != nil {
		t.Fatalf("failed to sign token: %v", err)
	}
	return "Bearer " + signed
}

func signatureFor(orderID, statusCode, grossAmount string) string {
	sum := sha512.Sum512([]byte(orderID + statusCode + grossAmount + testServerKey))
	return hex.EncodeToString(sum[:])
}

func TestRoutes_RejectsMissingToken(t *testing.T) {
	router := testRouter(t, newFakeRepository())

	req := httptest.NewRequest("GET", "/balance", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}
}

func TestRoutes_RejectsWrongSigningKey(t *testing.T) {
	router := testRouter(t, newFakeRepository())

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{"sub": "u1"})
	signed, _ := token.SignedString([]byte("some-other-secret"))

	req := httptest.NewRequest("GET", "/balance", nil)
	req.Header.Set("Authorization", "Bearer "+signed)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}
}

func TestGetBalance_ReturnsLedgerRow(t *testing.T) {
	router := testRouter(t, newFakeRepository())

	req := httptest.NewRequest("GET", "/balance", nil)
	req.Header.Set("Authorization", bearerToken(t, "u1"))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var account domain.UserAccount
	if err := json.Unmarshal(rec.Body.Bytes(), &account); err != nil {
		t.Fatalf("invalid response body: %v", err)
	}
	if account.UserID != "u1" || account.Balance != 10000 {
		t.Fatalf("unexpected account %+v", account)
	}
}

func TestSubmitBatch_InsufficientBalanceIs402(t *testing.T) {
	repo := newFakeRepository()
	repo.balance = 500
	router := testRouter(t, repo)

	body, _ := json.Marshal(app.SubmitBatchRequest{
		Email:           "a@b.com",
		Password:        "secret123",
		Codes:           []string{"CODE0001AAAA"},
		Regions:         []string{"sg"},
		PlatformVersion: "12.0",
	})
	req := httptest.NewRequest("POST", "/batches", bytes.NewReader(body))
	req.Header.Set("Authorization", bearerToken(t, "u1"))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusPaymentRequired {
		t.Fatalf("expected 402, got %d: %s", rec.Code, rec.Body.String())
	}
}

func TestSubmitBatch_Accepted(t *testing.T) {
	router := testRouter(t, newFakeRepository())

	body, _ := json.Marshal(app.SubmitBatchRequest{
		Email:           "a@b.com",
		Password:        "secret123",
		Codes:           []string{"CODE0001AAAA", "CODE0002BBBB"},
		Regions:         []string{"sg"},
		PlatformVersion: "12.0",
	})
	req := httptest.NewRequest("POST", "/batches", bytes.NewReader(body))
	req.Header.Set("Authorization", bearerToken(t, "u1"))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d: %s", rec.Code, rec.Body.String())
	}
	var result app.SubmitBatchResult
	if err := json.Unmarshal(rec.Body.Bytes(), &result); err != nil {
		t.Fatalf("invalid response body: %v", err)
	}
	if result.TotalCost != 2000 || result.QueuePosition != 1 {
		t.Fatalf("unexpected result %+v", result)
	}
}

func postNotification(router http.Handler, n domain.PaymentNotification) *httptest.ResponseRecorder {
	body, _ := json.Marshal(n)
	req := httptest.NewRequest("POST", "/webhooks/payment", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func TestWebhookEndpoint_ForgedSignatureIs400(t *testing.T) {
	repo := newFakeRepository()
	repo.topups["TOPUP-u1-1"] = &domain.TopupTransaction{OrderID: "TOPUP-u1-1", UserID: "u1", Amount: 10000, Status: domain.TopupStatusPending}
	router := testRouter(t, repo)

	rec := postNotification(router, domain.PaymentNotification{
		OrderID:           "TOPUP-u1-1",
		StatusCode:        "200",
		GrossAmount:       "10000.00",
		TransactionStatus: "settlement",
		SignatureKey:      "forged",
	})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
	if repo.credited["TOPUP-u1-1"] {
		t.Fatal("forged notification must not credit")
	}
}

func TestWebhookEndpoint_UnknownOrderIs404(t *testing.T) {
	router := testRouter(t, newFakeRepository())

	rec := postNotification(router, domain.PaymentNotification{
		OrderID:           "TOPUP-unknown-1",
		StatusCode:        "200",
		GrossAmount:       "10000.00",
		TransactionStatus: "settlement",
		SignatureKey:      signatureFor("TOPUP-unknown-1", "200", "10000.00"),
	})
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
}

func TestWebhookEndpoint_SettlementCreditsOnceAndReplaysAck(t *testing.T) {
	repo := newFakeRepository()
	repo.topups["TOPUP-u1-1"] = &domain.TopupTransaction{OrderID: "TOPUP-u1-1", UserID: "u1", Amount: 10000, Status: domain.TopupStatusPending}
	router := testRouter(t, repo)

	n := domain.PaymentNotification{
		OrderID:           "TOPUP-u1-1",
		StatusCode:        "200",
		GrossAmount:       "10000.00",
		TransactionStatus: "settlement",
		SignatureKey:      signatureFor("TOPUP-u1-1", "200", "10000.00"),
	}

	first := postNotification(router, n)
	if first.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", first.Code, first.Body.String())
	}
	balanceAfterFirst := repo.balance

	second := postNotification(router, n)
	if second.Code != http.StatusOK {
		t.Fatalf("expected 200 on replay, got %d", second.Code)
	}
	if repo.balance != balanceAfterFirst {
		t.Fatal("replayed settlement must not credit twice")
	}
}

func TestHealthAndMetricsAreUnauthenticated(t *testing.T) {
	router := testRouter(t, newFakeRepository())

	for _, path := range []string{"/health", "/metrics"} {
		req := httptest.NewRequest("GET", path, nil)
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, req)
		if rec.Code != http.StatusOK {
			t.Fatalf("expected 200 for %s, got %d", path, rec.Code)
		}
	}
}
