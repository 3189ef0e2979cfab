package services

import (
	"context"
	"encoding/json"
	"fmt"

	"billing/internal/gateway"
	"billing/internal/models"
	"billing/internal/money"
	"billing/internal/websocket"

	"github.com/jmoiron/sqlx"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// Outcome is a gateway-reported result for one payment, regardless of which
// channel delivered it.
type Outcome struct {
	PaymentID   string
	Status      string
	Operation   string
	AmountMinor int64
}

type ReconcileResult int

const (
	// ResultCredited: this call won the race and credited the balance.
	ResultCredited ReconcileResult = iota
	// ResultFailed: this call moved the entry to its failed terminal state.
	ResultFailed
	// ResultAlreadyFinal: the entry was already terminal; duplicate or
	// racing delivery, deliberately a no-op.
	ResultAlreadyFinal
	// ResultStillPending: the reported status is neither success nor
	// decline; nothing to do yet.
	ResultStillPending
	// ResultAmountMismatch: success reported for the wrong amount; the
	// entry is left pending for out-of-band investigation.
	ResultAmountMismatch
)

func (r ReconcileResult) String() string {
	switch r {
	case ResultCredited:
		return "credited"
	case ResultFailed:
		return "failed"
	case ResultAlreadyFinal:
		return "already_final"
	case ResultStillPending:
		return "still_pending"
	case ResultAmountMismatch:
		return "amount_mismatch"
	default:
		return "unknown"
	}
}

// ApplyOutcome is the single authoritative path for reconciling a gateway
// outcome with the ledger. The webhook receiver and the status poller both
// call exactly this; the pending-status guard inside the store makes the
// credit at-most-once no matter how many times or how concurrently either
// channel reports success.
func (s *DepositService) ApplyOutcome(ctx context.Context, outcome Outcome) (ReconcileResult, models.Deposit, error) {
	deposit, err := s.deposits.GetByPaymentID(ctx, outcome.PaymentID)
	if err != nil {
		return ResultStillPending, models.Deposit{}, err
	}

	switch outcome.Status {
	case gateway.StatusDeposited:
		if outcome.Operation != "" && outcome.Operation != gateway.OperationDeposited {
			s.logger.Info("ignoring success status with unexpected operation",
				zap.String("payment_id", deposit.PaymentID),
				zap.String("operation", outcome.Operation))
			return ResultStillPending, deposit, nil
		}
		if outcome.AmountMinor > 0 && outcome.AmountMinor != money.ToMinorUnits(deposit.Amount) {
			return s.flagAmountMismatch(ctx, deposit, outcome)
		}
		return s.credit(ctx, deposit)
	case gateway.StatusDeclined, gateway.StatusCancelled:
		return s.decline(ctx, deposit, outcome.Status)
	default:
		s.logger.Debug("gateway outcome leaves deposit pending",
			zap.String("payment_id", deposit.PaymentID),
			zap.String("gateway_status", outcome.Status))
		return ResultStillPending, deposit, nil
	}
}

func (s *DepositService) credit(ctx context.Context, deposit models.Deposit) (ReconcileResult, models.Deposit, error) {
	var rows int64
	err := s.txRunner.WithTx(ctx, func(tx *sqlx.Tx) error {
		var err error
		rows, err = s.deposits.Confirm(ctx, tx, deposit.ID)
		if err != nil {
			return err
		}
		if rows == 0 {
			return nil
		}
		newBalance := deposit.BalanceBefore.Add(deposit.Amount)
		message := fmt.Sprintf("Your deposit was topped up by %s via SBP. New balance: %s",
			money.Format(deposit.Amount), money.Format(newBalance))
		return s.notifications.InsertForClient(ctx, tx, deposit.ClientID, "internal", "Deposit credited", message)
	})
	if err != nil {
		return ResultStillPending, deposit, err
	}
	if rows == 0 {
		return ResultAlreadyFinal, deposit, nil
	}

	deposit.Status = models.DepositStatusCompleted
	deposit.BalanceAfter = deposit.BalanceBefore.Add(deposit.Amount)
	s.logger.Info("deposit credited",
		zap.String("payment_id", deposit.PaymentID),
		zap.String("amount", money.Format(deposit.Amount)),
		zap.String("balance", money.Format(deposit.BalanceAfter)))
	s.broadcast(ctx, deposit)
	return ResultCredited, deposit, nil
}

func (s *DepositService) decline(ctx context.Context, deposit models.Deposit, status string) (ReconcileResult, models.Deposit, error) {
	reason := fmt.Sprintf("declined by gateway (status %s)", status)
	var rows int64
	err := s.txRunner.WithTx(ctx, func(tx *sqlx.Tx) error {
		var err error
		rows, err = s.deposits.Fail(ctx, tx, deposit.ID, reason)
		return err
	})
	if err != nil {
		return ResultStillPending, deposit, err
	}
	if rows == 0 {
		return ResultAlreadyFinal, deposit, nil
	}

	deposit.Status = models.DepositStatusFailed
	s.logger.Info("deposit failed",
		zap.String("payment_id", deposit.PaymentID),
		zap.String("gateway_status", status))
	s.broadcast(ctx, deposit)
	return ResultFailed, deposit, nil
}

func (s *DepositService) flagAmountMismatch(ctx context.Context, deposit models.Deposit, outcome Outcome) (ReconcileResult, models.Deposit, error) {
	s.logger.Warn("gateway reported success for mismatched amount",
		zap.String("payment_id", deposit.PaymentID),
		zap.Int64("reported_minor", outcome.AmountMinor),
		zap.Int64("expected_minor", money.ToMinorUnits(deposit.Amount)))
	err := s.txRunner.WithTx(ctx, func(tx *sqlx.Tx) error {
		if err := s.deposits.MarkVerificationMismatch(ctx, tx, deposit.ID); err != nil {
			return err
		}
		data, _ := json.Marshal(map[string]any{
			"reported_minor": outcome.AmountMinor,
			"expected_minor": money.ToMinorUnits(deposit.Amount),
		})
		return s.audit.Log(ctx, tx, "", "sbp_amount_mismatch", "deposit", deposit.ID, string(data))
	})
	if err != nil {
		return ResultStillPending, deposit, err
	}
	return ResultAmountMismatch, deposit, nil
}

func (s *DepositService) broadcast(ctx context.Context, deposit models.Deposit) {
	client, err := s.clients.GetByID(ctx, deposit.ClientID)
	if err != nil {
		s.logger.Warn("cannot resolve client for deposit broadcast",
			zap.String("client_id", deposit.ClientID), zap.Error(err))
		return
	}
	s.hub.BroadcastDeposit(client.UserID, websocket.DepositUpdate{
		PaymentID: deposit.PaymentID,
		Status:    deposit.Status,
		Balance:   money.Format(deposit.BalanceAfter),
	})
}

// PollResult is the merged view of the gateway's answer and the local ledger
// state returned to the polling client.
type PollResult struct {
	Gateway     gateway.StatusResult
	LocalStatus string
	Balance     decimal.Decimal
}

// PollStatus drives the pull channel: ask the gateway for the order's status
// and feed the answer through the same ApplyOutcome as the webhook. With
// force unset, a recently cached gateway answer is reused so an open QR
// modal polling every few seconds does not hammer the gateway.
func (s *DepositService) PollStatus(ctx context.Context, deposit models.Deposit, force bool) (PollResult, error) {
	if deposit.GatewayOrderID == nil || *deposit.GatewayOrderID == "" {
		return PollResult{}, ErrNotPollable
	}
	orderID := *deposit.GatewayOrderID

	status, cached := gateway.StatusResult{}, false
	if !force && s.cache != nil {
		status, cached = s.cache.Get(ctx, orderID)
	}
	if !cached {
		var err error
		status, err = s.gateway.GetStatus(ctx, orderID)
		if err != nil {
			return PollResult{}, err
		}
		if s.cache != nil {
			s.cache.Set(ctx, orderID, status)
		}
	}

	if _, _, err := s.ApplyOutcome(ctx, Outcome{
		PaymentID:   deposit.PaymentID,
		Status:      status.Status,
		Operation:   status.Operation,
		AmountMinor: status.AmountMinor,
	}); err != nil {
		return PollResult{}, err
	}

	fresh, err := s.deposits.GetByPaymentID(ctx, deposit.PaymentID)
	if err != nil {
		return PollResult{}, err
	}
	return PollResult{
		Gateway:     status,
		LocalStatus: fresh.Status,
		Balance:     fresh.BalanceAfter,
	}, nil
}
