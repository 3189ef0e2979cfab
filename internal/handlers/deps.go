package handlers

import (
	"context"

	"billing/internal/models"
	"billing/internal/services"
	"billing/internal/store"

	"github.com/shopspring/decimal"
)

type UserStore interface {
	Create(ctx context.Context, tx store.Execer, id, username, email, passwordHash string) error
	GetByEmail(ctx context.Context, email string) (models.User, error)
	GetByID(ctx context.Context, userID string) (models.User, error)
}

type ClientStore interface {
	Create(ctx context.Context, tx store.Execer, id, userID string) error
	GetByUserID(ctx context.Context, userID string) (models.Client, error)
}

type DepositStore interface {
	GetByPaymentID(ctx context.Context, paymentID string) (models.Deposit, error)
	GetForClient(ctx context.Context, paymentID, clientID string) (models.Deposit, error)
	History(ctx context.Context, clientID string, limit int) ([]models.Deposit, error)
	CurrentBalance(ctx context.Context, clientID string) (decimal.Decimal, error)
}

type AdminStore interface {
	IsAdmin(ctx context.Context, userID string) (bool, error)
	HasAnyAdmin(ctx context.Context) (bool, error)
	CreateAdmin(ctx context.Context, tx store.Execer, userID string) error
}

type AuditStore interface {
	Log(ctx context.Context, tx store.Execer, actorID, action, entityType, entityID, data string) error
	List(ctx context.Context, limit, offset int) ([]map[string]any, error)
}

type DepositService interface {
	CreateDeposit(ctx context.Context, req services.CreateDepositRequest) (services.CreateDepositResult, error)
	ApplyOutcome(ctx context.Context, outcome services.Outcome) (services.ReconcileResult, models.Deposit, error)
	PollStatus(ctx context.Context, deposit models.Deposit, force bool) (services.PollResult, error)
}

type SignatureVerifier interface {
	Verify(payload map[string]string, signature string) bool
}
