package api

import (
	"encoding/json"
	"errors"
	"io"
	"log"
	"net/http"

	"github.com/redeemworks/redeem-service/internal/app"
	"github.com/redeemworks/redeem-service/internal/domain"
	"github.com/redeemworks/redeem-service/internal/store"
)

// PaymentNotificationHandler receives Midtrans HTTP notifications. The
// endpoint is unauthenticated by design; the SHA512 signature inside the
// payload is the authentication.
func (h *Handlers) PaymentNotificationHandler(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, 1<<20))
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "Failed to read body")
		return
	}

	var notification domain.PaymentNotification
	if err := json.Unmarshal(body, &notification); err != nil {
		h.writeError(w, http.StatusBadRequest, "Invalid notification payload")
		return
	}

	outcome, err := h.webhook.ProcessNotification(r.Context(), notification, body)
	if err != nil {
		switch {
		case errors.Is(err, app.ErrInvalidNotification):
			h.writeError(w, http.StatusBadRequest, "Invalid notification payload")
		case errors.Is(err, app.ErrInvalidSignature):
			h.writeError(w, http.StatusBadRequest, "Invalid signature")
		case errors.Is(err, store.ErrTopupNotFound):
			h.writeError(w, http.StatusNotFound, "Order not found")
		default:
			log.Printf("level=error component=api endpoint=payment_notification order_id=%s err=%v", notification.OrderID, err)
			h.writeError(w, http.StatusInternalServerError, "Failed to process notification")
		}
		return
	}

	// Midtrans retries anything that is not a 2xx; every handled outcome,
	// including duplicates, must acknowledge.
	h.writeJSON(w, http.StatusOK, map[string]string{"status": string(outcome)})
}
