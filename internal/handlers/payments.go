package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"billing/internal/middleware"
	"billing/internal/models"
	"billing/internal/money"
	"billing/internal/services"
	"billing/internal/store"

	"github.com/go-chi/chi/v5"
	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"
)

func (h *Handler) requireClient(w http.ResponseWriter, r *http.Request) (models.Client, bool) {
	userID, ok := middleware.UserIDFromContext(r.Context())
	if !ok {
		respondError(w, http.StatusUnauthorized, "unauthorized")
		return models.Client{}, false
	}
	client, err := h.clients.GetByUserID(r.Context(), userID)
	if err != nil {
		if errors.Is(err, store.ErrClientNotFound) {
			respondError(w, http.StatusForbidden, "no client profile")
			return models.Client{}, false
		}
		respondError(w, http.StatusInternalServerError, "unable to load client")
		return models.Client{}, false
	}
	return client, true
}

func (h *Handler) CreateDeposit(w http.ResponseWriter, r *http.Request) {
	client, ok := h.requireClient(w, r)
	if !ok {
		return
	}
	var req depositRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid payload")
		return
	}
	if err := validate.Struct(req); err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	amount, err := money.ParseAmount(req.Amount)
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	result, err := h.service.CreateDeposit(r.Context(), services.CreateDepositRequest{
		ClientID: client.ID,
		Amount:   amount,
		Method:   req.PaymentMethod,
	})
	if err != nil {
		switch {
		case errors.Is(err, services.ErrInvalidAmount), errors.Is(err, services.ErrUnsupportedMethod):
			respondError(w, http.StatusBadRequest, err.Error())
		default:
			h.logger.Error("deposit creation failed", zap.Error(err))
			respondError(w, http.StatusBadGateway, "unable to create deposit")
		}
		return
	}

	respondJSON(w, http.StatusCreated, map[string]any{
		"depositId":      result.DepositID,
		"paymentId":      result.PaymentID,
		"invoiceNumber":  result.InvoiceNumber,
		"paymentDetails": result.PaymentDetails,
	})
}

// SBPWebhook is the push confirmation channel. The gateway retries delivery
// on any non-2xx answer, so transient failures return 500 while duplicates
// and already-final entries return 200 to stop redelivery.
func (h *Handler) SBPWebhook(w http.ResponseWriter, r *http.Request) {
	payload, err := parseWebhookPayload(r)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid payload")
		return
	}

	signature := r.Header.Get("X-Signature")
	if signature == "" {
		signature = payload["checksum"]
	}
	delete(payload, "checksum")

	if !h.verifier.Verify(payload, signature) {
		h.logWebhookRejection(r, payload)
		respondError(w, http.StatusBadRequest, "invalid signature")
		return
	}

	paymentID := payload["mdOrder"]
	if paymentID == "" {
		paymentID = payload["orderId"]
	}
	if paymentID == "" {
		paymentID = payload["orderNumber"]
	}
	if paymentID == "" {
		respondError(w, http.StatusBadRequest, "missing order reference")
		return
	}

	var amountMinor int64
	if raw := payload["amount"]; raw != "" {
		amountMinor, err = strconv.ParseInt(raw, 10, 64)
		if err != nil {
			respondError(w, http.StatusBadRequest, "invalid amount")
			return
		}
	}

	result, _, err := h.service.ApplyOutcome(r.Context(), services.Outcome{
		PaymentID:   paymentID,
		Status:      payload["status"],
		Operation:   payload["operation"],
		AmountMinor: amountMinor,
	})
	if err != nil {
		if errors.Is(err, store.ErrDepositNotFound) {
			respondError(w, http.StatusNotFound, "unknown payment")
			return
		}
		h.logger.Error("webhook reconciliation failed", zap.Error(err))
		respondError(w, http.StatusInternalServerError, "reconciliation failed")
		return
	}

	respondJSON(w, http.StatusOK, map[string]string{
		"status": "ok",
		"result": result.String(),
	})
}

// parseWebhookPayload flattens either a form-encoded or a JSON body into the
// string map the signature is computed over.
func parseWebhookPayload(r *http.Request) (map[string]string, error) {
	payload := make(map[string]string)
	contentType := r.Header.Get("Content-Type")
	if strings.HasPrefix(contentType, "application/json") {
		var raw map[string]any
		if err := json.NewDecoder(r.Body).Decode(&raw); err != nil {
			return nil, err
		}
		for key, value := range raw {
			switch v := value.(type) {
			case string:
				payload[key] = v
			case float64:
				payload[key] = strconv.FormatFloat(v, 'f', -1, 64)
			case bool:
				payload[key] = strconv.FormatBool(v)
			case nil:
			default:
				data, _ := json.Marshal(v)
				payload[key] = string(data)
			}
		}
		return payload, nil
	}
	if err := r.ParseForm(); err != nil {
		return nil, err
	}
	for key := range r.Form {
		payload[key] = r.Form.Get(key)
	}
	return payload, nil
}

func (h *Handler) logWebhookRejection(r *http.Request, payload map[string]string) {
	data, _ := json.Marshal(map[string]string{
		"remote_addr": r.RemoteAddr,
		"md_order":    payload["mdOrder"],
		"order_id":    payload["orderId"],
	})
	err := h.txRunner.WithTx(r.Context(), func(tx *sqlx.Tx) error {
		return h.audit.Log(r.Context(), tx, "", "sbp_webhook_bad_signature", "webhook", payload["mdOrder"], string(data))
	})
	if err != nil {
		h.logger.Error("failed to record webhook rejection", zap.Error(err))
	}
}

func (h *Handler) SBPStatus(w http.ResponseWriter, r *http.Request) {
	client, ok := h.requireClient(w, r)
	if !ok {
		return
	}
	paymentID := chi.URLParam(r, "paymentID")
	deposit, err := h.deposits.GetForClient(r.Context(), paymentID, client.ID)
	if err != nil {
		if errors.Is(err, store.ErrDepositNotFound) {
			respondError(w, http.StatusNotFound, "payment not found")
			return
		}
		respondError(w, http.StatusInternalServerError, "unable to load payment")
		return
	}

	result, err := h.service.PollStatus(r.Context(), deposit, false)
	if err != nil {
		if errors.Is(err, services.ErrNotPollable) {
			// Entries without a gateway order still answer with local state.
			respondJSON(w, http.StatusOK, map[string]any{
				"paymentId":   deposit.PaymentID,
				"localStatus": deposit.Status,
				"amount":      money.Format(deposit.Amount),
			})
			return
		}
		h.logger.Warn("status poll failed", zap.String("payment_id", deposit.PaymentID), zap.Error(err))
		respondError(w, http.StatusBadGateway, "gateway unavailable")
		return
	}

	respondJSON(w, http.StatusOK, map[string]any{
		"paymentId":   deposit.PaymentID,
		"orderId":     result.Gateway.OrderID,
		"status":      result.Gateway.Status,
		"operation":   result.Gateway.Operation,
		"amount":      money.Format(deposit.Amount),
		"localStatus": result.LocalStatus,
		"balance":     money.Format(result.Balance),
	})
}

func (h *Handler) ListDeposits(w http.ResponseWriter, r *http.Request) {
	client, ok := h.requireClient(w, r)
	if !ok {
		return
	}
	deposits, err := h.deposits.History(r.Context(), client.ID, 50)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "unable to load deposits")
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"deposits": deposits})
}

func (h *Handler) Balance(w http.ResponseWriter, r *http.Request) {
	client, ok := h.requireClient(w, r)
	if !ok {
		return
	}
	balance, err := h.deposits.CurrentBalance(r.Context(), client.ID)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "unable to load balance")
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{
		"balance": money.Format(balance),
	})
}
