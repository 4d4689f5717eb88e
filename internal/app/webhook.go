/**
 * @description
 * This file implements the payment notification processor. Every gateway
 * notification is signature-verified before anything else, then run through
 * the transaction-status decision table. Crediting is idempotent per order id:
 * the first success notification credits the balance, every replay after it is
 * a harmless no-op.
 */

package app

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/redeemworks/redeem-service/internal/domain"
	"github.com/redeemworks/redeem-service/internal/metrics"
	"github.com/redeemworks/redeem-service/internal/store"
	"github.com/redeemworks/redeem-service/pkg/rabbitmq"
)

var (
	ErrInvalidSignature    = errors.New("invalid notification signature")
	ErrInvalidNotification = errors.New("invalid notification payload")
)

// NotificationOutcome describes what a processed notification did.
type NotificationOutcome string

const (
	OutcomeCredited  NotificationOutcome = "credited"
	OutcomeDuplicate NotificationOutcome = "duplicate"
	OutcomeFailed    NotificationOutcome = "failed"
	OutcomeExpired   NotificationOutcome = "expired"
	OutcomePending   NotificationOutcome = "pending"
	OutcomeIgnored   NotificationOutcome = "ignored"
)

// SignatureVerifier checks a gateway notification signature.
type SignatureVerifier interface {
	VerifySignature(orderID, statusCode, grossAmount, signatureKey string) bool
}

// WebhookProcessor applies verified payment notifications to the ledger.
type WebhookProcessor struct {
	repo     store.Repository
	verifier SignatureVerifier
	events   rabbitmq.Publisher
}

// NewWebhookProcessor creates a webhook processor.
func NewWebhookProcessor(repo store.Repository, verifier SignatureVerifier, events rabbitmq.Publisher) *WebhookProcessor {
	return &WebhookProcessor{repo: repo, verifier: verifier, events: events}
}

// ProcessNotification verifies and applies one gateway notification. The raw
// body is persisted alongside any status change for audit.
func (w *WebhookProcessor) ProcessNotification(ctx context.Context, n domain.PaymentNotification, raw []byte) (NotificationOutcome, error) {
	if n.OrderID == "" || n.StatusCode == "" || n.SignatureKey == "" {
		metrics.WebhookNotifications.WithLabelValues("invalid").Inc()
		return "", ErrInvalidNotification
	}

	if !w.verifier.VerifySignature(n.OrderID, n.StatusCode, n.GrossAmount, n.SignatureKey) {
		log.Printf("level=warn component=webhook order_id=%s msg=\"signature verification failed\"", n.OrderID)
		metrics.WebhookNotifications.WithLabelValues("bad_signature").Inc()
		return "", ErrInvalidSignature
	}

	switch {
	case n.TransactionStatus == "settlement",
		n.TransactionStatus == "capture" && n.FraudStatus == "accept":
		return w.applySuccess(ctx, n, raw)

	case n.TransactionStatus == "cancel", n.TransactionStatus == "deny":
		if err := w.repo.MarkTopupFinal(ctx, n.OrderID, domain.TopupStatusFailed, raw); err != nil {
			return "", err
		}
		metrics.WebhookNotifications.WithLabelValues("failed").Inc()
		return OutcomeFailed, nil

	case n.TransactionStatus == "expire":
		if err := w.repo.MarkTopupFinal(ctx, n.OrderID, domain.TopupStatusExpired, raw); err != nil {
			return "", err
		}
		metrics.WebhookNotifications.WithLabelValues("expired").Inc()
		return OutcomeExpired, nil

	case n.TransactionStatus == "pending":
		// Make sure the order exists so a forged-but-signed probe still 404s.
		if _, err := w.repo.FindTopupByOrderID(ctx, n.OrderID); err != nil {
			return "", err
		}
		metrics.WebhookNotifications.WithLabelValues("pending").Inc()
		return OutcomePending, nil

	default:
		log.Printf("level=warn component=webhook order_id=%s msg=\"unhandled transaction status\" status=%s", n.OrderID, n.TransactionStatus)
		metrics.WebhookNotifications.WithLabelValues("ignored").Inc()
		return OutcomeIgnored, nil
	}
}

func (w *WebhookProcessor) applySuccess(ctx context.Context, n domain.PaymentNotification, raw []byte) (NotificationOutcome, error) {
	result, err := w.repo.MarkTopupSucceededAndCredit(ctx, n.OrderID, raw)
	if err != nil {
		return "", fmt.Errorf("failed to settle topup %s: %w", n.OrderID, err)
	}

	if !result.Credited {
		log.Printf("level=info component=webhook order_id=%s msg=\"duplicate success notification ignored\"", n.OrderID)
		metrics.WebhookNotifications.WithLabelValues("duplicate").Inc()
		return OutcomeDuplicate, nil
	}

	metrics.WebhookNotifications.WithLabelValues("credited").Inc()
	metrics.TopupAmountCredited.Add(float64(result.Amount))
	log.Printf("level=info component=webhook order_id=%s user_id=%s msg=\"topup credited\" amount=%d new_balance=%d",
		n.OrderID, result.UserID, result.Amount, result.NewBalance)

	event := domain.TopupSucceededEvent{
		OrderID:    n.OrderID,
		UserID:     result.UserID,
		Amount:     result.Amount,
		NewBalance: result.NewBalance,
		Timestamp:  time.Now().UTC(),
	}
	if err := w.events.PublishTopupSucceeded(ctx, event); err != nil {
		log.Printf("level=warn component=webhook order_id=%s msg=\"topup event publish failed\" err=%v", n.OrderID, err)
	}
	return OutcomeCredited, nil
}
