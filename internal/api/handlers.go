/**
 * @description
 * This file contains the HTTP handlers for the redeem-service's API endpoints.
 * Handlers are responsible for parsing incoming requests, calling the appropriate
 * methods on the application service, and writing the HTTP response. They act as the
 * bridge between the web layer and the business logic layer.
 *
 * @dependencies
 * - encoding/json, log, net/http: Standard Go libraries.
 * - internal/app, internal/store: For service logic and custom errors.
 */

package api

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/redeemworks/redeem-service/internal/app"
	"github.com/redeemworks/redeem-service/internal/store"
)

const defaultPruneRetention = 30 * 24 * time.Hour

// Handlers holds the application service that handlers will use.
type Handlers struct {
	service *app.Service
	webhook *app.WebhookProcessor
}

// NewHandlers creates a new instance of Handlers.
func NewHandlers(service *app.Service, webhook *app.WebhookProcessor) *Handlers {
	return &Handlers{service: service, webhook: webhook}
}

// SubmitBatchHandler accepts a batch of redemption codes. The full cost is
// debited before the job is queued; a 402 carries the shortage detail.
func (h *Handlers) SubmitBatchHandler(w http.ResponseWriter, r *http.Request) {
	userID, ok := GetAuthUserID(r.Context())
	if !ok {
		http.Error(w, "Could not get user ID from context", http.StatusInternalServerError)
		return
	}

	var req app.SubmitBatchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	result, err := h.service.SubmitBatch(r.Context(), userID, req)
	if err != nil {
		var limited *app.RateLimitError
		if errors.As(err, &limited) {
			w.Header().Set("Retry-After", strconv.Itoa(limited.RetryAfter))
			h.writeError(w, http.StatusTooManyRequests, "Too many submissions, slow down")
			return
		}
		var insufficient *app.InsufficientBalanceError
		if errors.As(err, &insufficient) {
			h.writeJSON(w, http.StatusPaymentRequired, map[string]interface{}{
				"error":    "Insufficient balance",
				"required": insufficient.Required,
				"balance":  insufficient.Balance,
				"shortage": insufficient.Required - insufficient.Balance,
			})
			return
		}
		if errors.Is(err, app.ErrValidation) {
			h.writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		log.Printf("level=error component=api endpoint=submit_batch user_id=%s err=%v", userID, err)
		h.writeError(w, http.StatusInternalServerError, "Failed to submit batch")
		return
	}

	h.writeJSON(w, http.StatusAccepted, result)
}

// GetBatchHandler returns one of the caller's batches.
func (h *Handlers) GetBatchHandler(w http.ResponseWriter, r *http.Request) {
	userID, ok := GetAuthUserID(r.Context())
	if !ok {
		http.Error(w, "Could not get user ID from context", http.StatusInternalServerError)
		return
	}

	batchID, err := uuid.Parse(chi.URLParam(r, "batchID"))
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "Invalid batch id")
		return
	}

	batch, err := h.service.GetBatch(r.Context(), userID, batchID)
	if err != nil {
		if errors.Is(err, store.ErrBatchNotFound) {
			h.writeError(w, http.StatusNotFound, "Batch not found")
			return
		}
		log.Printf("level=error component=api endpoint=get_batch user_id=%s err=%v", userID, err)
		h.writeError(w, http.StatusInternalServerError, "Failed to fetch batch")
		return
	}
	h.writeJSON(w, http.StatusOK, batch)
}

// CancelBatchHandler requests cancellation of a queued or running batch.
func (h *Handlers) CancelBatchHandler(w http.ResponseWriter, r *http.Request) {
	userID, ok := GetAuthUserID(r.Context())
	if !ok {
		http.Error(w, "Could not get user ID from context", http.StatusInternalServerError)
		return
	}

	batchID, err := uuid.Parse(chi.URLParam(r, "batchID"))
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "Invalid batch id")
		return
	}

	if err := h.service.CancelBatch(r.Context(), userID, batchID); err != nil {
		switch {
		case errors.Is(err, store.ErrBatchNotFound):
			h.writeError(w, http.StatusNotFound, "Batch not found")
		case errors.Is(err, app.ErrBatchNotActive):
			h.writeError(w, http.StatusConflict, "Batch is no longer active")
		default:
			log.Printf("level=error component=api endpoint=cancel_batch user_id=%s err=%v", userID, err)
			h.writeError(w, http.StatusInternalServerError, "Failed to cancel batch")
		}
		return
	}
	h.writeJSON(w, http.StatusAccepted, map[string]string{"status": "cancelling"})
}

// GetBalanceHandler returns the caller's balance, creating the ledger row on
// first contact.
func (h *Handlers) GetBalanceHandler(w http.ResponseWriter, r *http.Request) {
	userID, ok := GetAuthUserID(r.Context())
	if !ok {
		http.Error(w, "Could not get user ID from context", http.StatusInternalServerError)
		return
	}

	account, err := h.service.GetBalance(r.Context(), userID)
	if err != nil {
		log.Printf("level=error component=api endpoint=get_balance user_id=%s err=%v", userID, err)
		h.writeError(w, http.StatusInternalServerError, "Failed to fetch balance")
		return
	}
	h.writeJSON(w, http.StatusOK, account)
}

type createTopupRequest struct {
	Amount int64 `json:"amount"`
}

// CreateTopupHandler creates a pending top-up and returns the QRIS payment
// details.
func (h *Handlers) CreateTopupHandler(w http.ResponseWriter, r *http.Request) {
	userID, ok := GetAuthUserID(r.Context())
	if !ok {
		http.Error(w, "Could not get user ID from context", http.StatusInternalServerError)
		return
	}

	var req createTopupRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	details, err := h.service.CreateTopup(r.Context(), userID, req.Amount)
	if err != nil {
		if errors.Is(err, app.ErrValidation) {
			h.writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		log.Printf("level=error component=api endpoint=create_topup user_id=%s err=%v", userID, err)
		h.writeError(w, http.StatusBadGateway, "Payment gateway is unavailable, try again later")
		return
	}
	h.writeJSON(w, http.StatusCreated, details)
}

// CancelTopupHandler cancels one of the caller's pending top-ups.
func (h *Handlers) CancelTopupHandler(w http.ResponseWriter, r *http.Request) {
	userID, ok := GetAuthUserID(r.Context())
	if !ok {
		http.Error(w, "Could not get user ID from context", http.StatusInternalServerError)
		return
	}

	orderID := chi.URLParam(r, "orderID")
	if err := h.service.CancelTopup(r.Context(), userID, orderID); err != nil {
		switch {
		case errors.Is(err, store.ErrTopupNotFound):
			h.writeError(w, http.StatusNotFound, "Topup not found")
		case errors.Is(err, app.ErrTopupNotOpen):
			h.writeError(w, http.StatusConflict, "Topup is no longer pending")
		default:
			log.Printf("level=error component=api endpoint=cancel_topup user_id=%s order_id=%s err=%v", userID, orderID, err)
			h.writeError(w, http.StatusInternalServerError, "Failed to cancel topup")
		}
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]string{"status": "cancelled"})
}

// GetUserStatsHandler returns the caller's aggregate statistics.
func (h *Handlers) GetUserStatsHandler(w http.ResponseWriter, r *http.Request) {
	userID, ok := GetAuthUserID(r.Context())
	if !ok {
		http.Error(w, "Could not get user ID from context", http.StatusInternalServerError)
		return
	}

	stats, err := h.service.GetUserStats(r.Context(), userID)
	if err != nil {
		log.Printf("level=error component=api endpoint=user_stats user_id=%s err=%v", userID, err)
		h.writeError(w, http.StatusInternalServerError, "Failed to fetch stats")
		return
	}
	h.writeJSON(w, http.StatusOK, stats)
}

// GetServiceStatsHandler returns the operator-facing overview.
func (h *Handlers) GetServiceStatsHandler(w http.ResponseWriter, r *http.Request) {
	overview, err := h.service.GetServiceOverview(r.Context())
	if err != nil {
		log.Printf("level=error component=api endpoint=service_stats err=%v", err)
		h.writeError(w, http.StatusInternalServerError, "Failed to fetch stats")
		return
	}
	h.writeJSON(w, http.StatusOK, overview)
}

// PruneHandler removes stale finished records. Retention can be overridden
// with a `days` query parameter.
func (h *Handlers) PruneHandler(w http.ResponseWriter, r *http.Request) {
	retention := defaultPruneRetention
	if days := r.URL.Query().Get("days"); days != "" {
		n, err := strconv.Atoi(days)
		if err != nil || n < 1 {
			h.writeError(w, http.StatusBadRequest, "Invalid days parameter")
			return
		}
		retention = time.Duration(n) * 24 * time.Hour
	}

	removed, err := h.service.PruneStaleRecords(r.Context(), retention)
	if err != nil {
		log.Printf("level=error component=api endpoint=prune err=%v", err)
		h.writeError(w, http.StatusInternalServerError, "Failed to prune records")
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]int64{"removed": removed})
}

// writeJSON is a helper for writing JSON responses.
func (h *Handlers) writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if data != nil {
		json.NewEncoder(w).Encode(data)
	}
}

// writeError is a helper for writing JSON error responses.
func (h *Handlers) writeError(w http.ResponseWriter, status int, message string) {
	h.writeJSON(w, status, map[string]string{"error": message})
}
