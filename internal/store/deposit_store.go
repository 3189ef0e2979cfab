package store

import (
	"context"
	"database/sql"
	"errors"

	"billing/internal/models"

	"github.com/shopspring/decimal"
)

var ErrDepositNotFound = errors.New("deposit not found")

type DepositStore struct {
	db DB
}

func NewDepositStore(db DB) *DepositStore {
	return &DepositStore{db: db}
}

type PendingDepositInput struct {
	ID              string
	ClientID        string
	Amount          decimal.Decimal
	TransactionType string
	Description     string
	PaymentMethod   string
	PaymentID       string
	InvoiceNumber   *string
	InvoiceFilePath *string
}

// LockClient takes the row lock that serializes concurrent balance reads for
// one client. Two simultaneous deposits therefore never compute the same
// stale balance_before.
func (s *DepositStore) LockClient(ctx context.Context, tx Getter, clientID string) error {
	var id string
	return tx.GetContext(ctx, &id, `
		SELECT id
		FROM clients
		WHERE id = $1
		FOR UPDATE
	`, clientID)
}

// LatestBalance returns the balance_after of the most recently inserted
// ledger row, or zero for a client with no history. Callers that are about
// to insert must hold the client lock.
func (s *DepositStore) LatestBalance(ctx context.Context, q Getter, clientID string) (decimal.Decimal, error) {
	var balance decimal.Decimal
	err := q.GetContext(ctx, &balance, `
		SELECT balance_after
		FROM deposits
		WHERE client_id = $1
		ORDER BY seq DESC
		LIMIT 1
	`, clientID)
	if errors.Is(err, sql.ErrNoRows) {
		return decimal.Zero, nil
	}
	if err != nil {
		return decimal.Zero, err
	}
	return balance, nil
}

// InsertPending appends a pending row with balance_after = balance_before:
// no credit until the gateway confirms.
func (s *DepositStore) InsertPending(ctx context.Context, tx Execer, input PendingDepositInput, balanceBefore decimal.Decimal) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO deposits (id, client_id, amount, balance_before, balance_after, transaction_type,
		                      description, payment_method, payment_id, status, invoice_number, invoice_file_path)
		VALUES ($1, $2, $3, $4, $4, $5, $6, $7, $8, 'pending', $9, $10)
	`, input.ID, input.ClientID, input.Amount, balanceBefore, input.TransactionType,
		input.Description, input.PaymentMethod, input.PaymentID, input.InvoiceNumber, input.InvoiceFilePath)
	return err
}

func (s *DepositStore) SetGatewayOrder(ctx context.Context, tx Execer, depositID, gatewayOrderID string) error {
	_, err := tx.ExecContext(ctx, `
		UPDATE deposits
		SET gateway_order_id = $1
		WHERE id = $2
	`, gatewayOrderID, depositID)
	return err
}

// Confirm credits the entry. The status guard in the WHERE clause is the
// single synchronization point for the two confirmation channels: whichever
// caller updates zero rows lost the race (or is a duplicate delivery) and
// must treat the result as a no-op.
func (s *DepositStore) Confirm(ctx context.Context, tx Execer, depositID string) (int64, error) {
	res, err := tx.ExecContext(ctx, `
		UPDATE deposits
		SET status = 'completed',
		    balance_after = balance_before + amount,
		    bank_verification_status = 'verified',
		    bank_verification_date = NOW()
		WHERE id = $1 AND status = 'pending'
	`, depositID)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// Fail moves a pending entry to its failed terminal state under the same
// guard as Confirm. The balance snapshot is left untouched.
func (s *DepositStore) Fail(ctx context.Context, tx Execer, depositID, reason string) (int64, error) {
	res, err := tx.ExecContext(ctx, `
		UPDATE deposits
		SET status = 'failed',
		    failure_reason = $1,
		    bank_verification_status = 'rejected'
		WHERE id = $2 AND status = 'pending'
	`, reason, depositID)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func (s *DepositStore) MarkVerificationMismatch(ctx context.Context, tx Execer, depositID string) error {
	_, err := tx.ExecContext(ctx, `
		UPDATE deposits
		SET bank_verification_status = 'amount_mismatch'
		WHERE id = $1 AND status = 'pending'
	`, depositID)
	return err
}

const depositColumns = `
	id, client_id, amount, balance_before, balance_after, transaction_type,
	description, payment_method, payment_id, gateway_order_id, status,
	failure_reason, bank_verification_status, bank_verification_date,
	invoice_number, invoice_file_path, created_at`

// GetByPaymentID resolves an entry by our order number, falling back to the
// gateway's own order id for notifications that carry only mdOrder.
func (s *DepositStore) GetByPaymentID(ctx context.Context, paymentID string) (models.Deposit, error) {
	var deposit models.Deposit
	err := s.db.GetContext(ctx, &deposit, `
		SELECT`+depositColumns+`
		FROM deposits
		WHERE payment_id = $1 OR gateway_order_id = $1
	`, paymentID)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Deposit{}, ErrDepositNotFound
	}
	if err != nil {
		return models.Deposit{}, err
	}
	return deposit, nil
}

// GetForClient is GetByPaymentID restricted to entries the client owns.
func (s *DepositStore) GetForClient(ctx context.Context, paymentID, clientID string) (models.Deposit, error) {
	var deposit models.Deposit
	err := s.db.GetContext(ctx, &deposit, `
		SELECT`+depositColumns+`
		FROM deposits
		WHERE (payment_id = $1 OR gateway_order_id = $1) AND client_id = $2
	`, paymentID, clientID)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Deposit{}, ErrDepositNotFound
	}
	if err != nil {
		return models.Deposit{}, err
	}
	return deposit, nil
}

func (s *DepositStore) History(ctx context.Context, clientID string, limit int) ([]models.Deposit, error) {
	var deposits []models.Deposit
	err := s.db.SelectContext(ctx, &deposits, `
		SELECT`+depositColumns+`
		FROM deposits
		WHERE client_id = $1
		ORDER BY seq DESC
		LIMIT $2
	`, clientID, limit)
	if err != nil {
		return nil, err
	}
	return deposits, nil
}

func (s *DepositStore) CurrentBalance(ctx context.Context, clientID string) (decimal.Decimal, error) {
	return s.LatestBalance(ctx, s.db, clientID)
}
