package services

import (
	"context"
	"sync"

	"billing/internal/gateway"
	"billing/internal/models"
	"billing/internal/store"
	"billing/internal/websocket"

	"github.com/jmoiron/sqlx"
	"github.com/shopspring/decimal"
)

type fakeTxRunner struct {
	err error
}

func (f fakeTxRunner) WithTx(ctx context.Context, fn func(*sqlx.Tx) error) error {
	if f.err != nil {
		return f.err
	}
	return fn(nil)
}

// memDepositStore reproduces the store's compare-and-set semantics in memory
// so idempotency and race behaviour can be exercised without a database.
type memDepositStore struct {
	mu       sync.Mutex
	deposits map[string]*models.Deposit
	order    []string
}

func newMemDepositStore() *memDepositStore {
	return &memDepositStore{deposits: make(map[string]*models.Deposit)}
}

func (m *memDepositStore) LockClient(ctx context.Context, tx store.Getter, clientID string) error {
	return nil
}

func (m *memDepositStore) LatestBalance(ctx context.Context, q store.Getter, clientID string) (decimal.Decimal, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.latestBalanceLocked(clientID), nil
}

func (m *memDepositStore) latestBalanceLocked(clientID string) decimal.Decimal {
	for i := len(m.order) - 1; i >= 0; i-- {
		deposit := m.deposits[m.order[i]]
		if deposit.ClientID == clientID {
			return deposit.BalanceAfter
		}
	}
	return decimal.Zero
}

func (m *memDepositStore) InsertPending(ctx context.Context, tx store.Execer, input store.PendingDepositInput, balanceBefore decimal.Decimal) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.deposits[input.ID] = &models.Deposit{
		ID:              input.ID,
		ClientID:        input.ClientID,
		Amount:          input.Amount,
		BalanceBefore:   balanceBefore,
		BalanceAfter:    balanceBefore,
		TransactionType: input.TransactionType,
		Description:     input.Description,
		PaymentMethod:   input.PaymentMethod,
		PaymentID:       input.PaymentID,
		Status:          models.DepositStatusPending,
		InvoiceNumber:   input.InvoiceNumber,
		InvoiceFilePath: input.InvoiceFilePath,
	}
	m.order = append(m.order, input.ID)
	return nil
}

func (m *memDepositStore) SetGatewayOrder(ctx context.Context, tx store.Execer, depositID, gatewayOrderID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if deposit, ok := m.deposits[depositID]; ok {
		deposit.GatewayOrderID = &gatewayOrderID
	}
	return nil
}

func (m *memDepositStore) Confirm(ctx context.Context, tx store.Execer, depositID string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	deposit, ok := m.deposits[depositID]
	if !ok || deposit.Status != models.DepositStatusPending {
		return 0, nil
	}
	deposit.Status = models.DepositStatusCompleted
	deposit.BalanceAfter = deposit.BalanceBefore.Add(deposit.Amount)
	verified := "verified"
	deposit.BankVerificationStatus = &verified
	return 1, nil
}

func (m *memDepositStore) Fail(ctx context.Context, tx store.Execer, depositID, reason string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	deposit, ok := m.deposits[depositID]
	if !ok || deposit.Status != models.DepositStatusPending {
		return 0, nil
	}
	deposit.Status = models.DepositStatusFailed
	deposit.FailureReason = &reason
	return 1, nil
}

func (m *memDepositStore) MarkVerificationMismatch(ctx context.Context, tx store.Execer, depositID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if deposit, ok := m.deposits[depositID]; ok && deposit.Status == models.DepositStatusPending {
		mismatch := "amount_mismatch"
		deposit.BankVerificationStatus = &mismatch
	}
	return nil
}

func (m *memDepositStore) GetByPaymentID(ctx context.Context, paymentID string) (models.Deposit, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, deposit := range m.deposits {
		if deposit.PaymentID == paymentID {
			return *deposit, nil
		}
		if deposit.GatewayOrderID != nil && *deposit.GatewayOrderID == paymentID {
			return *deposit, nil
		}
	}
	return models.Deposit{}, store.ErrDepositNotFound
}

func (m *memDepositStore) CurrentBalance(ctx context.Context, clientID string) (decimal.Decimal, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.latestBalanceLocked(clientID), nil
}

type stubClientStore struct {
	getByIDFn func(ctx context.Context, clientID string) (models.Client, error)
}

func (s stubClientStore) GetByID(ctx context.Context, clientID string) (models.Client, error) {
	if s.getByIDFn == nil {
		return models.Client{ID: clientID, UserID: "user-" + clientID}, nil
	}
	return s.getByIDFn(ctx, clientID)
}

type stubNotificationStore struct {
	mu      sync.Mutex
	inserts int
	fn      func(ctx context.Context, tx store.Execer, clientID, notifType, title, message string) error
}

func (s *stubNotificationStore) InsertForClient(ctx context.Context, tx store.Execer, clientID, notifType, title, message string) error {
	s.mu.Lock()
	s.inserts++
	s.mu.Unlock()
	if s.fn == nil {
		return nil
	}
	return s.fn(ctx, tx, clientID, notifType, title, message)
}

func (s *stubNotificationStore) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.inserts
}

type stubAuditStore struct {
	mu      sync.Mutex
	actions []string
}

func (s *stubAuditStore) Log(ctx context.Context, tx store.Execer, actorID, action, entityType, entityID, data string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.actions = append(s.actions, action)
	return nil
}

type stubGatewayClient struct {
	createOrderFn func(ctx context.Context, req gateway.OrderRequest) (gateway.OrderResult, error)
	getQrCodeFn   func(ctx context.Context, orderID string) (gateway.QrResult, error)
	getStatusFn   func(ctx context.Context, orderID string) (gateway.StatusResult, error)
	declineFn     func(ctx context.Context, orderID string) error
}

func (s stubGatewayClient) CreateOrder(ctx context.Context, req gateway.OrderRequest) (gateway.OrderResult, error) {
	if s.createOrderFn == nil {
		return gateway.OrderResult{OrderID: "gw-1", OrderNumber: req.OrderNumber, FormURL: "https://pay.example/form"}, nil
	}
	return s.createOrderFn(ctx, req)
}

func (s stubGatewayClient) GetQrCode(ctx context.Context, orderID string) (gateway.QrResult, error) {
	if s.getQrCodeFn == nil {
		return gateway.QrResult{QrCode: "qr-payload", QrCodeURL: "https://qr.example/1"}, nil
	}
	return s.getQrCodeFn(ctx, orderID)
}

func (s stubGatewayClient) GetStatus(ctx context.Context, orderID string) (gateway.StatusResult, error) {
	if s.getStatusFn == nil {
		return gateway.StatusResult{OrderID: orderID, Status: gateway.StatusDeposited, Operation: gateway.OperationDeposited}, nil
	}
	return s.getStatusFn(ctx, orderID)
}

func (s stubGatewayClient) DeclinePayment(ctx context.Context, orderID string) error {
	if s.declineFn == nil {
		return nil
	}
	return s.declineFn(ctx, orderID)
}

type stubHub struct {
	mu      sync.Mutex
	updates []websocket.DepositUpdate
}

func (s *stubHub) BroadcastDeposit(userID string, update websocket.DepositUpdate) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.updates = append(s.updates, update)
}

func (s *stubHub) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.updates)
}

type stubInvoiceGenerator struct {
	generateFn func(ctx context.Context, data InvoiceData) (string, error)
}

func (s stubInvoiceGenerator) GenerateInvoice(ctx context.Context, data InvoiceData) (string, error) {
	if s.generateFn == nil {
		return "invoices/" + data.InvoiceNumber + ".txt", nil
	}
	return s.generateFn(ctx, data)
}

type stubStatusCache struct {
	mu     sync.Mutex
	values map[string]gateway.StatusResult
	hits   int
	sets   int
}

func newStubStatusCache() *stubStatusCache {
	return &stubStatusCache{values: make(map[string]gateway.StatusResult)}
}

func (s *stubStatusCache) Get(ctx context.Context, orderID string) (gateway.StatusResult, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	status, ok := s.values[orderID]
	if ok {
		s.hits++
	}
	return status, ok
}

func (s *stubStatusCache) Set(ctx context.Context, orderID string, status gateway.StatusResult) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sets++
	s.values[orderID] = status
}
