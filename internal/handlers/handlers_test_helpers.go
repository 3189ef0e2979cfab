package handlers

import (
	"context"
	"net/http"
	"time"

	"billing/internal/config"
	"billing/internal/gateway"
	"billing/internal/middleware"
	"billing/internal/models"
	"billing/internal/services"
	"billing/internal/store"
	"billing/internal/websocket"

	"github.com/jmoiron/sqlx"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

type fakeTxRunner struct {
	withTxFn func(ctx context.Context, fn func(*sqlx.Tx) error) error
}

func (f fakeTxRunner) WithTx(ctx context.Context, fn func(*sqlx.Tx) error) error {
	if f.withTxFn != nil {
		return f.withTxFn(ctx, fn)
	}
	return fn(nil)
}

type stubUserStore struct {
	createFn     func(ctx context.Context, tx store.Execer, id, username, email, passwordHash string) error
	getByEmailFn func(ctx context.Context, email string) (models.User, error)
	getByIDFn    func(ctx context.Context, userID string) (models.User, error)
}

func (s stubUserStore) Create(ctx context.Context, tx store.Execer, id, username, email, passwordHash string) error {
	if s.createFn == nil {
		return nil
	}
	return s.createFn(ctx, tx, id, username, email, passwordHash)
}

func (s stubUserStore) GetByEmail(ctx context.Context, email string) (models.User, error) {
	if s.getByEmailFn == nil {
		return models.User{}, nil
	}
	return s.getByEmailFn(ctx, email)
}

func (s stubUserStore) GetByID(ctx context.Context, userID string) (models.User, error) {
	if s.getByIDFn == nil {
		return models.User{ID: userID}, nil
	}
	return s.getByIDFn(ctx, userID)
}

type stubClientStore struct {
	createFn      func(ctx context.Context, tx store.Execer, id, userID string) error
	getByUserIDFn func(ctx context.Context, userID string) (models.Client, error)
}

func (s stubClientStore) Create(ctx context.Context, tx store.Execer, id, userID string) error {
	if s.createFn == nil {
		return nil
	}
	return s.createFn(ctx, tx, id, userID)
}

func (s stubClientStore) GetByUserID(ctx context.Context, userID string) (models.Client, error) {
	if s.getByUserIDFn == nil {
		return models.Client{ID: "client-1", UserID: userID}, nil
	}
	return s.getByUserIDFn(ctx, userID)
}

type stubDepositStore struct {
	getByPaymentIDFn func(ctx context.Context, paymentID string) (models.Deposit, error)
	getForClientFn   func(ctx context.Context, paymentID, clientID string) (models.Deposit, error)
	historyFn        func(ctx context.Context, clientID string, limit int) ([]models.Deposit, error)
	currentBalanceFn func(ctx context.Context, clientID string) (decimal.Decimal, error)
}

func (s stubDepositStore) GetByPaymentID(ctx context.Context, paymentID string) (models.Deposit, error) {
	if s.getByPaymentIDFn == nil {
		return models.Deposit{}, store.ErrDepositNotFound
	}
	return s.getByPaymentIDFn(ctx, paymentID)
}

func (s stubDepositStore) GetForClient(ctx context.Context, paymentID, clientID string) (models.Deposit, error) {
	if s.getForClientFn == nil {
		return models.Deposit{}, store.ErrDepositNotFound
	}
	return s.getForClientFn(ctx, paymentID, clientID)
}

func (s stubDepositStore) History(ctx context.Context, clientID string, limit int) ([]models.Deposit, error) {
	if s.historyFn == nil {
		return nil, nil
	}
	return s.historyFn(ctx, clientID, limit)
}

func (s stubDepositStore) CurrentBalance(ctx context.Context, clientID string) (decimal.Decimal, error) {
	if s.currentBalanceFn == nil {
		return decimal.Zero, nil
	}
	return s.currentBalanceFn(ctx, clientID)
}

type stubAdminStore struct {
	isAdminFn     func(ctx context.Context, userID string) (bool, error)
	hasAnyAdminFn func(ctx context.Context) (bool, error)
	createAdminFn func(ctx context.Context, tx store.Execer, userID string) error
}

func (s stubAdminStore) IsAdmin(ctx context.Context, userID string) (bool, error) {
	if s.isAdminFn == nil {
		return false, nil
	}
	return s.isAdminFn(ctx, userID)
}

func (s stubAdminStore) HasAnyAdmin(ctx context.Context) (bool, error) {
	if s.hasAnyAdminFn == nil {
		return true, nil
	}
	return s.hasAnyAdminFn(ctx)
}

func (s stubAdminStore) CreateAdmin(ctx context.Context, tx store.Execer, userID string) error {
	if s.createAdminFn == nil {
		return nil
	}
	return s.createAdminFn(ctx, tx, userID)
}

type stubAuditStore struct {
	logFn  func(ctx context.Context, tx store.Execer, actorID, action, entityType, entityID, data string) error
	listFn func(ctx context.Context, limit, offset int) ([]map[string]any, error)
}

func (s stubAuditStore) Log(ctx context.Context, tx store.Execer, actorID, action, entityType, entityID, data string) error {
	if s.logFn == nil {
		return nil
	}
	return s.logFn(ctx, tx, actorID, action, entityType, entityID, data)
}

func (s stubAuditStore) List(ctx context.Context, limit, offset int) ([]map[string]any, error) {
	if s.listFn == nil {
		return nil, nil
	}
	return s.listFn(ctx, limit, offset)
}

type stubDepositService struct {
	createDepositFn func(ctx context.Context, req services.CreateDepositRequest) (services.CreateDepositResult, error)
	applyOutcomeFn  func(ctx context.Context, outcome services.Outcome) (services.ReconcileResult, models.Deposit, error)
	pollStatusFn    func(ctx context.Context, deposit models.Deposit, force bool) (services.PollResult, error)
}

func (s stubDepositService) CreateDeposit(ctx context.Context, req services.CreateDepositRequest) (services.CreateDepositResult, error) {
	if s.createDepositFn == nil {
		return services.CreateDepositResult{}, nil
	}
	return s.createDepositFn(ctx, req)
}

func (s stubDepositService) ApplyOutcome(ctx context.Context, outcome services.Outcome) (services.ReconcileResult, models.Deposit, error) {
	if s.applyOutcomeFn == nil {
		return services.ResultStillPending, models.Deposit{}, nil
	}
	return s.applyOutcomeFn(ctx, outcome)
}

func (s stubDepositService) PollStatus(ctx context.Context, deposit models.Deposit, force bool) (services.PollResult, error) {
	if s.pollStatusFn == nil {
		return services.PollResult{}, nil
	}
	return s.pollStatusFn(ctx, deposit, force)
}

type stubVerifier struct {
	verifyFn func(payload map[string]string, signature string) bool
}

func (s stubVerifier) Verify(payload map[string]string, signature string) bool {
	if s.verifyFn == nil {
		return true
	}
	return s.verifyFn(payload, signature)
}

func newTestHandler(txRunner fakeTxRunner, users UserStore, clients ClientStore, deposits DepositStore, admin AdminStore, audit AuditStore, service DepositService, verifier SignatureVerifier) *Handler {
	cfg := config.Config{
		AppEnv:         "test",
		Port:           "0",
		JWTSecret:      "secret",
		TokenTTL:       time.Minute,
		AllowedOrigins: "*",
	}
	return New(txRunner, cfg, zap.NewNop(), users, clients, deposits, admin, audit, service, verifier, websocket.NewHub())
}

func withUser(r *http.Request, userID string) *http.Request {
	return r.WithContext(middleware.ContextWithUserID(r.Context(), userID))
}

func gatewayStatus(orderID, status, operation string, amountMinor int64) gateway.StatusResult {
	return gateway.StatusResult{
		OrderID:     orderID,
		Status:      status,
		Operation:   operation,
		AmountMinor: amountMinor,
	}
}
