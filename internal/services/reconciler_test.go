package services

import (
	"context"
	"errors"
	"sync"
	"testing"

	"billing/internal/gateway"
	"billing/internal/models"
	"billing/internal/store"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

type reconcilerFixture struct {
	service       *DepositService
	deposits      *memDepositStore
	notifications *stubNotificationStore
	audit         *stubAuditStore
	hub           *stubHub
	cache         *stubStatusCache
	gateway       *stubGatewayClient
}

func newReconcilerFixture() *reconcilerFixture {
	f := &reconcilerFixture{
		deposits:      newMemDepositStore(),
		notifications: &stubNotificationStore{},
		audit:         &stubAuditStore{},
		hub:           &stubHub{},
		cache:         newStubStatusCache(),
		gateway:       &stubGatewayClient{},
	}
	f.service = NewDepositService(
		fakeTxRunner{},
		f.deposits,
		stubClientStore{},
		f.notifications,
		f.audit,
		f.gateway,
		f.hub,
		stubInvoiceGenerator{},
		f.cache,
		CallbackURLs{ClientBaseURL: "https://app.example", ServerBaseURL: "https://api.example"},
		zap.NewNop(),
	)
	return f
}

func (f *reconcilerFixture) seedPending(t *testing.T, paymentID string, amount, balanceBefore decimal.Decimal) models.Deposit {
	t.Helper()
	err := f.deposits.InsertPending(context.Background(), nil, store.PendingDepositInput{
		ID:              "dep-" + paymentID,
		ClientID:        "client-1",
		Amount:          amount,
		TransactionType: models.TransactionTypeDeposit,
		Description:     "Deposit top-up",
		PaymentMethod:   models.PaymentMethodSBP,
		PaymentID:       paymentID,
	}, balanceBefore)
	if err != nil {
		t.Fatalf("seeding pending deposit: %v", err)
	}
	orderID := "gw-" + paymentID
	if err := f.deposits.SetGatewayOrder(context.Background(), nil, "dep-"+paymentID, orderID); err != nil {
		t.Fatalf("setting gateway order: %v", err)
	}
	deposit, err := f.deposits.GetByPaymentID(context.Background(), paymentID)
	if err != nil {
		t.Fatalf("reading back seeded deposit: %v", err)
	}
	return deposit
}

func successOutcome(paymentID string, amountMinor int64) Outcome {
	return Outcome{
		PaymentID:   paymentID,
		Status:      gateway.StatusDeposited,
		Operation:   gateway.OperationDeposited,
		AmountMinor: amountMinor,
	}
}

func TestApplyOutcomeCreditsPendingDeposit(t *testing.T) {
	f := newReconcilerFixture()
	f.seedPending(t, "pay-1", decimal.NewFromInt(500), decimal.NewFromInt(100))

	result, deposit, err := f.service.ApplyOutcome(context.Background(), successOutcome("pay-1", 50000))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result != ResultCredited {
		t.Fatalf("expected ResultCredited, got %s", result)
	}
	if deposit.Status != models.DepositStatusCompleted {
		t.Errorf("expected completed status, got %s", deposit.Status)
	}
	if !deposit.BalanceAfter.Equal(decimal.NewFromInt(600)) {
		t.Errorf("expected balance 600, got %s", deposit.BalanceAfter)
	}
	if f.notifications.count() != 1 {
		t.Errorf("expected one notification, got %d", f.notifications.count())
	}
	if f.hub.count() != 1 {
		t.Errorf("expected one websocket broadcast, got %d", f.hub.count())
	}
}

func TestApplyOutcomeDuplicateSuccessCreditsOnce(t *testing.T) {
	f := newReconcilerFixture()
	f.seedPending(t, "pay-1", decimal.NewFromInt(500), decimal.Zero)

	for i := 0; i < 5; i++ {
		result, _, err := f.service.ApplyOutcome(context.Background(), successOutcome("pay-1", 50000))
		if err != nil {
			t.Fatalf("delivery %d: unexpected error: %v", i, err)
		}
		want := ResultAlreadyFinal
		if i == 0 {
			want = ResultCredited
		}
		if result != want {
			t.Errorf("delivery %d: expected %s, got %s", i, want, result)
		}
	}

	balance, err := f.deposits.CurrentBalance(context.Background(), "client-1")
	if err != nil {
		t.Fatalf("reading balance: %v", err)
	}
	if !balance.Equal(decimal.NewFromInt(500)) {
		t.Errorf("expected balance 500 after duplicate deliveries, got %s", balance)
	}
	if f.notifications.count() != 1 {
		t.Errorf("expected exactly one notification, got %d", f.notifications.count())
	}
}

func TestApplyOutcomeConcurrentDeliveriesCreditOnce(t *testing.T) {
	f := newReconcilerFixture()
	f.seedPending(t, "pay-1", decimal.NewFromInt(250), decimal.Zero)

	const workers = 16
	results := make(chan ReconcileResult, workers)
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			result, _, err := f.service.ApplyOutcome(context.Background(), successOutcome("pay-1", 25000))
			if err != nil {
				t.Errorf("unexpected error: %v", err)
				return
			}
			results <- result
		}()
	}
	wg.Wait()
	close(results)

	var credited int
	for result := range results {
		switch result {
		case ResultCredited:
			credited++
		case ResultAlreadyFinal:
		default:
			t.Errorf("unexpected result %s", result)
		}
	}
	if credited != 1 {
		t.Errorf("expected exactly one winner, got %d", credited)
	}
	balance, _ := f.deposits.CurrentBalance(context.Background(), "client-1")
	if !balance.Equal(decimal.NewFromInt(250)) {
		t.Errorf("expected balance 250, got %s", balance)
	}
}

func TestApplyOutcomeDeclineFailsDeposit(t *testing.T) {
	f := newReconcilerFixture()
	f.seedPending(t, "pay-1", decimal.NewFromInt(500), decimal.Zero)

	result, deposit, err := f.service.ApplyOutcome(context.Background(), Outcome{
		PaymentID: "pay-1",
		Status:    gateway.StatusDeclined,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result != ResultFailed {
		t.Fatalf("expected ResultFailed, got %s", result)
	}
	if deposit.Status != models.DepositStatusFailed {
		t.Errorf("expected failed status, got %s", deposit.Status)
	}
	balance, _ := f.deposits.CurrentBalance(context.Background(), "client-1")
	if !balance.IsZero() {
		t.Errorf("declined deposit must not change balance, got %s", balance)
	}
}

func TestApplyOutcomeLateSuccessAfterDeclineIsNoOp(t *testing.T) {
	f := newReconcilerFixture()
	f.seedPending(t, "pay-1", decimal.NewFromInt(500), decimal.Zero)

	if _, _, err := f.service.ApplyOutcome(context.Background(), Outcome{PaymentID: "pay-1", Status: gateway.StatusCancelled}); err != nil {
		t.Fatalf("decline: %v", err)
	}
	result, _, err := f.service.ApplyOutcome(context.Background(), successOutcome("pay-1", 50000))
	if err != nil {
		t.Fatalf("late success: %v", err)
	}
	if result != ResultAlreadyFinal {
		t.Fatalf("expected ResultAlreadyFinal, got %s", result)
	}
	deposit, _ := f.deposits.GetByPaymentID(context.Background(), "pay-1")
	if deposit.Status != models.DepositStatusFailed {
		t.Errorf("terminal state must not change, got %s", deposit.Status)
	}
	if f.notifications.count() != 0 {
		t.Errorf("no notification expected, got %d", f.notifications.count())
	}
}

func TestApplyOutcomeUnknownPaymentID(t *testing.T) {
	f := newReconcilerFixture()

	_, _, err := f.service.ApplyOutcome(context.Background(), successOutcome("pay-missing", 100))
	if !errors.Is(err, store.ErrDepositNotFound) {
		t.Fatalf("expected ErrDepositNotFound, got %v", err)
	}
}

func TestApplyOutcomeInProgressStatusLeavesPending(t *testing.T) {
	f := newReconcilerFixture()
	f.seedPending(t, "pay-1", decimal.NewFromInt(500), decimal.Zero)

	result, deposit, err := f.service.ApplyOutcome(context.Background(), Outcome{
		PaymentID: "pay-1",
		Status:    "0",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result != ResultStillPending {
		t.Fatalf("expected ResultStillPending, got %s", result)
	}
	if deposit.Status != models.DepositStatusPending {
		t.Errorf("expected pending status, got %s", deposit.Status)
	}
}

func TestApplyOutcomeWrongOperationLeavesPending(t *testing.T) {
	f := newReconcilerFixture()
	f.seedPending(t, "pay-1", decimal.NewFromInt(500), decimal.Zero)

	result, _, err := f.service.ApplyOutcome(context.Background(), Outcome{
		PaymentID:   "pay-1",
		Status:      gateway.StatusDeposited,
		Operation:   "refunded",
		AmountMinor: 50000,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result != ResultStillPending {
		t.Fatalf("expected ResultStillPending, got %s", result)
	}
	if f.notifications.count() != 0 {
		t.Errorf("no notification expected, got %d", f.notifications.count())
	}
}

func TestApplyOutcomeAmountMismatchLeavesPending(t *testing.T) {
	f := newReconcilerFixture()
	f.seedPending(t, "pay-1", decimal.NewFromInt(500), decimal.Zero)

	result, _, err := f.service.ApplyOutcome(context.Background(), successOutcome("pay-1", 49900))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result != ResultAmountMismatch {
		t.Fatalf("expected ResultAmountMismatch, got %s", result)
	}
	deposit, _ := f.deposits.GetByPaymentID(context.Background(), "pay-1")
	if deposit.Status != models.DepositStatusPending {
		t.Errorf("mismatched deposit must stay pending, got %s", deposit.Status)
	}
	if deposit.BankVerificationStatus == nil || *deposit.BankVerificationStatus != "amount_mismatch" {
		t.Errorf("expected amount_mismatch verification flag, got %v", deposit.BankVerificationStatus)
	}
	balance, _ := f.deposits.CurrentBalance(context.Background(), "client-1")
	if !balance.IsZero() {
		t.Errorf("mismatched amount must not be credited, got %s", balance)
	}
	if len(f.audit.actions) != 1 || f.audit.actions[0] != "sbp_amount_mismatch" {
		t.Errorf("expected sbp_amount_mismatch audit entry, got %v", f.audit.actions)
	}
}

func TestApplyOutcomeLookupByGatewayOrderID(t *testing.T) {
	f := newReconcilerFixture()
	f.seedPending(t, "pay-1", decimal.NewFromInt(500), decimal.Zero)

	result, _, err := f.service.ApplyOutcome(context.Background(), successOutcome("gw-pay-1", 50000))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result != ResultCredited {
		t.Fatalf("expected ResultCredited via gateway order lookup, got %s", result)
	}
}

func TestPollStatusCreditsThroughSharedPath(t *testing.T) {
	f := newReconcilerFixture()
	deposit := f.seedPending(t, "pay-1", decimal.NewFromInt(500), decimal.Zero)

	var gatewayCalls int
	f.gateway.getStatusFn = func(ctx context.Context, orderID string) (gateway.StatusResult, error) {
		gatewayCalls++
		return gateway.StatusResult{
			OrderID:     orderID,
			Status:      gateway.StatusDeposited,
			Operation:   gateway.OperationDeposited,
			AmountMinor: 50000,
		}, nil
	}

	result, err := f.service.PollStatus(context.Background(), deposit, false)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.LocalStatus != models.DepositStatusCompleted {
		t.Errorf("expected completed local status, got %s", result.LocalStatus)
	}
	if !result.Balance.Equal(decimal.NewFromInt(500)) {
		t.Errorf("expected balance 500, got %s", result.Balance)
	}
	if gatewayCalls != 1 {
		t.Errorf("expected one gateway call, got %d", gatewayCalls)
	}
	if f.cache.sets != 1 {
		t.Errorf("expected gateway answer to be cached, got %d sets", f.cache.sets)
	}
}

func TestPollStatusUsesCachedAnswer(t *testing.T) {
	f := newReconcilerFixture()
	deposit := f.seedPending(t, "pay-1", decimal.NewFromInt(500), decimal.Zero)

	f.cache.Set(context.Background(), *deposit.GatewayOrderID, gateway.StatusResult{
		OrderID: *deposit.GatewayOrderID,
		Status:  "0",
	})
	f.gateway.getStatusFn = func(ctx context.Context, orderID string) (gateway.StatusResult, error) {
		t.Error("gateway must not be called when a cached answer exists")
		return gateway.StatusResult{}, nil
	}

	result, err := f.service.PollStatus(context.Background(), deposit, false)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.LocalStatus != models.DepositStatusPending {
		t.Errorf("expected pending local status, got %s", result.LocalStatus)
	}
}

func TestPollStatusForceBypassesCache(t *testing.T) {
	f := newReconcilerFixture()
	deposit := f.seedPending(t, "pay-1", decimal.NewFromInt(500), decimal.Zero)

	f.cache.Set(context.Background(), *deposit.GatewayOrderID, gateway.StatusResult{
		OrderID: *deposit.GatewayOrderID,
		Status:  "0",
	})
	var gatewayCalls int
	f.gateway.getStatusFn = func(ctx context.Context, orderID string) (gateway.StatusResult, error) {
		gatewayCalls++
		return gateway.StatusResult{
			OrderID:     orderID,
			Status:      gateway.StatusDeposited,
			Operation:   gateway.OperationDeposited,
			AmountMinor: 50000,
		}, nil
	}

	result, err := f.service.PollStatus(context.Background(), deposit, true)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if gatewayCalls != 1 {
		t.Errorf("expected a forced gateway call, got %d", gatewayCalls)
	}
	if result.LocalStatus != models.DepositStatusCompleted {
		t.Errorf("expected completed local status, got %s", result.LocalStatus)
	}
}

func TestPollStatusWithoutGatewayOrder(t *testing.T) {
	f := newReconcilerFixture()

	_, err := f.service.PollStatus(context.Background(), models.Deposit{PaymentID: "pay-1"}, false)
	if !errors.Is(err, ErrNotPollable) {
		t.Fatalf("expected ErrNotPollable, got %v", err)
	}
}

func TestPollStatusGatewayError(t *testing.T) {
	f := newReconcilerFixture()
	deposit := f.seedPending(t, "pay-1", decimal.NewFromInt(500), decimal.Zero)

	wantErr := &gateway.NetworkError{Op: "getSbpStatus", Err: errors.New("connection refused")}
	f.gateway.getStatusFn = func(ctx context.Context, orderID string) (gateway.StatusResult, error) {
		return gateway.StatusResult{}, wantErr
	}

	_, err := f.service.PollStatus(context.Background(), deposit, false)
	var netErr *gateway.NetworkError
	if !errors.As(err, &netErr) {
		t.Fatalf("expected NetworkError, got %v", err)
	}
	fresh, _ := f.deposits.GetByPaymentID(context.Background(), "pay-1")
	if fresh.Status != models.DepositStatusPending {
		t.Errorf("transient gateway error must not change local state, got %s", fresh.Status)
	}
}
