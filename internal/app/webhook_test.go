package app

import (
	"context"
	"errors"
	"testing"

	"github.com/redeemworks/redeem-service/internal/domain"
	"github.com/redeemworks/redeem-service/internal/store"
)

func notification(status, fraud string) domain.PaymentNotification {
	return domain.PaymentNotification{
		OrderID:           "TOPUP-u1-1700000000",
		StatusCode:        "200",
		GrossAmount:       "10000.00",
		TransactionStatus: status,
		FraudStatus:       fraud,
		SignatureKey:      "sig",
	}
}

func TestWebhook_RejectsForgedSignature(t *testing.T) {
	credits := 0
	repo := &stubRepository{
		markTopupSucceededAndCreditFn: func(ctx context.Context, orderID string, raw []byte) (*store.TopupCreditResult, error) {
			credits++
			return &store.TopupCreditResult{Credited: true}, nil
		},
	}
	w := NewWebhookProcessor(repo, &stubVerifier{valid: false}, &stubPublisher{})

	_, err := w.ProcessNotification(context.Background(), notification("settlement", ""), nil)
	if !errors.Is(err, ErrInvalidSignature) {
		t.Fatalf("expected ErrInvalidSignature, got %v", err)
	}
	if credits != 0 {
		t.Fatal("forged notification must not reach the ledger")
	}
}

func TestWebhook_RejectsIncompletePayload(t *testing.T) {
	w := NewWebhookProcessor(&stubRepository{}, &stubVerifier{valid: true}, &stubPublisher{})

	n := notification("settlement", "")
	n.OrderID = ""
	if _, err := w.ProcessNotification(context.Background(), n, nil); !errors.Is(err, ErrInvalidNotification) {
		t.Fatalf("expected ErrInvalidNotification, got %v", err)
	}
}

func TestWebhook_SettlementCreditsOnce(t *testing.T) {
	settled := false
	repo := &stubRepository{
		markTopupSucceededAndCreditFn: func(ctx context.Context, orderID string, raw []byte) (*store.TopupCreditResult, error) {
			if settled {
				return &store.TopupCreditResult{Credited: false, UserID: "u1", Amount: 10000}, nil
			}
			settled = true
			return &store.TopupCreditResult{Credited: true, UserID: "u1", Amount: 10000, NewBalance: 10000}, nil
		},
	}
	events := &stubPublisher{}
	w := NewWebhookProcessor(repo, &stubVerifier{valid: true}, events)

	outcome, err := w.ProcessNotification(context.Background(), notification("settlement", ""), []byte(`{}`))
	if err != nil || outcome != OutcomeCredited {
		t.Fatalf("expected credited outcome, got %v err=%v", outcome, err)
	}

	outcome, err = w.ProcessNotification(context.Background(), notification("settlement", ""), []byte(`{}`))
	if err != nil || outcome != OutcomeDuplicate {
		t.Fatalf("expected duplicate outcome on replay, got %v err=%v", outcome, err)
	}

	if len(events.topups) != 1 {
		t.Fatalf("expected exactly one topup event, got %d", len(events.topups))
	}
}

func TestWebhook_DecisionTable(t *testing.T) {
	cases := []struct {
		name   string
		status string
		fraud  string
		want   NotificationOutcome
	}{
		{"capture accepted", "capture", "accept", OutcomeCredited},
		{"settlement", "settlement", "", OutcomeCredited},
		{"cancel", "cancel", "", OutcomeFailed},
		{"deny", "deny", "", OutcomeFailed},
		{"expire", "expire", "", OutcomeExpired},
		{"pending", "pending", "", OutcomePending},
		{"capture challenged", "capture", "challenge", OutcomeIgnored},
		{"refund", "refund", "", OutcomeIgnored},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			repo := &stubRepository{
				findTopupByOrderIDFn: func(ctx context.Context, orderID string) (*domain.TopupTransaction, error) {
					return &domain.TopupTransaction{OrderID: orderID, Status: domain.TopupStatusPending}, nil
				},
			}
			w := NewWebhookProcessor(repo, &stubVerifier{valid: true}, &stubPublisher{})

			outcome, err := w.ProcessNotification(context.Background(), notification(tc.status, tc.fraud), nil)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if outcome != tc.want {
				t.Fatalf("status %q: expected %v, got %v", tc.status, tc.want, outcome)
			}
		})
	}
}

func TestWebhook_ExpireMapsToExpiredStatus(t *testing.T) {
	var gotStatus string
	repo := &stubRepository{
		markTopupFinalFn: func(ctx context.Context, orderID, status string, raw []byte) error {
			gotStatus = status
			return nil
		},
	}
	w := NewWebhookProcessor(repo, &stubVerifier{valid: true}, &stubPublisher{})

	if _, err := w.ProcessNotification(context.Background(), notification("expire", ""), nil); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if gotStatus != domain.TopupStatusExpired {
		t.Fatalf("expected expired status, got %q", gotStatus)
	}
}

func TestWebhook_UnknownOrderSurfacesNotFound(t *testing.T) {
	repo := &stubRepository{
		markTopupSucceededAndCreditFn: func(ctx context.Context, orderID string, raw []byte) (*store.TopupCreditResult, error) {
			return nil, store.ErrTopupNotFound
		},
	}
	w := NewWebhookProcessor(repo, &stubVerifier{valid: true}, &stubPublisher{})

	_, err := w.ProcessNotification(context.Background(), notification("settlement", ""), nil)
	if !errors.Is(err, store.ErrTopupNotFound) {
		t.Fatalf("expected ErrTopupNotFound, got %v", err)
	}
}
