package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"billing/internal/middleware"
	"billing/internal/money"
	"billing/internal/services"
	"billing/internal/store"

	"github.com/go-chi/chi/v5"
	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"
)

// AdminReconcile forces a fresh gateway status poll for a stuck payment,
// bypassing the short-lived status cache.
func (h *Handler) AdminReconcile(w http.ResponseWriter, r *http.Request) {
	actorID, _ := middleware.UserIDFromContext(r.Context())
	paymentID := chi.URLParam(r, "paymentID")

	deposit, err := h.deposits.GetByPaymentID(r.Context(), paymentID)
	if err != nil {
		if errors.Is(err, store.ErrDepositNotFound) {
			respondError(w, http.StatusNotFound, "payment not found")
			return
		}
		respondError(w, http.StatusInternalServerError, "unable to load payment")
		return
	}

	result, err := h.service.PollStatus(r.Context(), deposit, true)
	if err != nil {
		if errors.Is(err, services.ErrNotPollable) {
			respondError(w, http.StatusConflict, "payment has no gateway order")
			return
		}
		h.logger.Warn("manual reconcile failed",
			zap.String("payment_id", paymentID), zap.Error(err))
		respondError(w, http.StatusBadGateway, "gateway unavailable")
		return
	}

	if err := h.txRunner.WithTx(r.Context(), func(tx *sqlx.Tx) error {
		data, _ := json.Marshal(map[string]string{
			"gateway_status": result.Gateway.Status,
			"local_status":   result.LocalStatus,
		})
		return h.audit.Log(r.Context(), tx, actorID, "manual_reconcile", "deposit", deposit.ID, string(data))
	}); err != nil {
		h.logger.Error("failed to record manual reconcile", zap.Error(err))
	}

	respondJSON(w, http.StatusOK, map[string]any{
		"paymentId":   deposit.PaymentID,
		"orderId":     result.Gateway.OrderID,
		"status":      result.Gateway.Status,
		"operation":   result.Gateway.Operation,
		"localStatus": result.LocalStatus,
		"balance":     money.Format(result.Balance),
	})
}

func (h *Handler) ListAuditLogs(w http.ResponseWriter, r *http.Request) {
	limit, offset := 50, 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		if parsed, err := strconv.Atoi(raw); err == nil && parsed > 0 && parsed <= 500 {
			limit = parsed
		}
	}
	if raw := r.URL.Query().Get("offset"); raw != "" {
		if parsed, err := strconv.Atoi(raw); err == nil && parsed >= 0 {
			offset = parsed
		}
	}
	logs, err := h.audit.List(r.Context(), limit, offset)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "unable to load audit logs")
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"audit": logs})
}
