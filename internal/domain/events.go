package domain

import (
	"time"

	"github.com/google/uuid"
)

// Progress event categories, mirroring the coarse milestones the presentation
// layer renders.
const (
	ProgressValidation = "validation"
	ProgressLogin      = "login"
	ProgressRedeem     = "redeem"
	ProgressComplete   = "complete"
	ProgressCancelled  = "cancelled"
	ProgressError      = "error"
)

// ProgressEvent is published to the progress sink after each terminal code
// outcome and at job milestones. Delivery is best-effort; consumers must not
// rely on it for correctness.
type ProgressEvent struct {
	BatchID   uuid.UUID `json:"batch_id"`
	UserID    string    `json:"user_id"`
	Category  string    `json:"category"`
	Message   string    `json:"message"`
	Processed int       `json:"processed"`
	Success   int       `json:"success"`
	Failed    int       `json:"failed"`
	Total     int       `json:"total"`
	Timestamp time.Time `json:"timestamp"`
}

// TopupSucceededEvent is published once per order id when a payment
// notification first transitions a topup to success.
type TopupSucceededEvent struct {
	OrderID    string    `json:"order_id"`
	UserID     string    `json:"user_id"`
	Amount     int64     `json:"amount"`
	NewBalance int64     `json:"new_balance"`
	Timestamp  time.Time `json:"timestamp"`
}

// PaymentNotification is the inbound webhook payload from the payment
// gateway, delivered on its HTTP callback.
type PaymentNotification struct {
	OrderID           string `json:"order_id"`
	StatusCode        string `json:"status_code"`
	GrossAmount       string `json:"gross_amount"`
	TransactionStatus string `json:"transaction_status"`
	FraudStatus       string `json:"fraud_status"`
	SignatureKey      string `json:"signature_key"`
	PaymentType       string `json:"payment_type"`
	TransactionID     string `json:"transaction_id"`
}
