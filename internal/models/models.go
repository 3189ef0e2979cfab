package models

import (
	"time"

	"github.com/shopspring/decimal"
)

type User struct {
	ID           string    `db:"id" json:"id"`
	Username     string    `db:"username" json:"username"`
	Email        string    `db:"email" json:"email"`
	PasswordHash string    `db:"password_hash" json:"-"`
	CreatedAt    time.Time `db:"created_at" json:"created_at"`
}

type Client struct {
	ID          string    `db:"id" json:"id"`
	UserID      string    `db:"user_id" json:"user_id"`
	CompanyName *string   `db:"company_name" json:"company_name,omitempty"`
	INN         *string   `db:"inn" json:"inn,omitempty"`
	Address     *string   `db:"address" json:"address,omitempty"`
	CreatedAt   time.Time `db:"created_at" json:"created_at"`
}

// Deposit is one row of the append-only per-client ledger. Once status leaves
// pending the row is immutable; the client's current balance is the
// balance_after of the most recently created row.
type Deposit struct {
	ID                     string          `db:"id" json:"id"`
	ClientID               string          `db:"client_id" json:"client_id"`
	Amount                 decimal.Decimal `db:"amount" json:"amount"`
	BalanceBefore          decimal.Decimal `db:"balance_before" json:"balance_before"`
	BalanceAfter           decimal.Decimal `db:"balance_after" json:"balance_after"`
	TransactionType        string          `db:"transaction_type" json:"transaction_type"`
	Description            string          `db:"description" json:"description"`
	PaymentMethod          string          `db:"payment_method" json:"payment_method"`
	PaymentID              string          `db:"payment_id" json:"payment_id"`
	GatewayOrderID         *string         `db:"gateway_order_id" json:"gateway_order_id,omitempty"`
	Status                 string          `db:"status" json:"status"`
	FailureReason          *string         `db:"failure_reason" json:"failure_reason,omitempty"`
	BankVerificationStatus *string         `db:"bank_verification_status" json:"bank_verification_status,omitempty"`
	BankVerificationDate   *time.Time      `db:"bank_verification_date" json:"bank_verification_date,omitempty"`
	InvoiceNumber          *string         `db:"invoice_number" json:"invoice_number,omitempty"`
	InvoiceFilePath        *string         `db:"invoice_file_path" json:"invoice_file_path,omitempty"`
	CreatedAt              time.Time       `db:"created_at" json:"created_at"`
}

const (
	DepositStatusPending   = "pending"
	DepositStatusCompleted = "completed"
	DepositStatusFailed    = "failed"
)

const (
	TransactionTypeDeposit      = "deposit"
	TransactionTypeWithdrawal   = "withdrawal"
	TransactionTypeOrderPayment = "order_payment"
)

const (
	PaymentMethodSBP          = "sbp"
	PaymentMethodBankTransfer = "bank_transfer"
)

type Notification struct {
	ID        string    `db:"id" json:"id"`
	UserID    string    `db:"user_id" json:"user_id"`
	Type      string    `db:"type" json:"type"`
	Title     string    `db:"title" json:"title"`
	Message   string    `db:"message" json:"message"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
}
