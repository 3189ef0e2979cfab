package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"billing/internal/db"
	"billing/internal/gateway"
	"billing/internal/models"
	"billing/internal/money"
	"billing/internal/store"
	"billing/internal/websocket"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

var (
	ErrInvalidAmount     = errors.New("invalid amount")
	ErrUnsupportedMethod = errors.New("unsupported payment method")
	ErrNotPollable       = errors.New("deposit has no gateway order to poll")
)

type DepositStore interface {
	LockClient(ctx context.Context, tx store.Getter, clientID string) error
	LatestBalance(ctx context.Context, q store.Getter, clientID string) (decimal.Decimal, error)
	InsertPending(ctx context.Context, tx store.Execer, input store.PendingDepositInput, balanceBefore decimal.Decimal) error
	SetGatewayOrder(ctx context.Context, tx store.Execer, depositID, gatewayOrderID string) error
	Confirm(ctx context.Context, tx store.Execer, depositID string) (int64, error)
	Fail(ctx context.Context, tx store.Execer, depositID, reason string) (int64, error)
	MarkVerificationMismatch(ctx context.Context, tx store.Execer, depositID string) error
	GetByPaymentID(ctx context.Context, paymentID string) (models.Deposit, error)
	CurrentBalance(ctx context.Context, clientID string) (decimal.Decimal, error)
}

type ClientStore interface {
	GetByID(ctx context.Context, clientID string) (models.Client, error)
}

type NotificationStore interface {
	InsertForClient(ctx context.Context, tx store.Execer, clientID, notifType, title, message string) error
}

type AuditStore interface {
	Log(ctx context.Context, tx store.Execer, actorID, action, entityType, entityID, data string) error
}

type GatewayClient interface {
	CreateOrder(ctx context.Context, req gateway.OrderRequest) (gateway.OrderResult, error)
	GetQrCode(ctx context.Context, orderID string) (gateway.QrResult, error)
	GetStatus(ctx context.Context, orderID string) (gateway.StatusResult, error)
	DeclinePayment(ctx context.Context, orderID string) error
}

type DepositHub interface {
	BroadcastDeposit(userID string, update websocket.DepositUpdate)
}

type StatusCache interface {
	Get(ctx context.Context, orderID string) (gateway.StatusResult, bool)
	Set(ctx context.Context, orderID string, status gateway.StatusResult)
}

// URLs the gateway sends the payer back to, and where it delivers webhooks.
type CallbackURLs struct {
	ClientBaseURL string
	ServerBaseURL string
}

type DepositService struct {
	txRunner      db.TxRunner
	deposits      DepositStore
	clients       ClientStore
	notifications NotificationStore
	audit         AuditStore
	gateway       GatewayClient
	hub           DepositHub
	invoices      InvoiceGenerator
	cache         StatusCache
	urls          CallbackURLs
	logger        *zap.Logger
}

func NewDepositService(
	txRunner db.TxRunner,
	deposits DepositStore,
	clients ClientStore,
	notifications NotificationStore,
	audit AuditStore,
	gatewayClient GatewayClient,
	hub DepositHub,
	invoices InvoiceGenerator,
	cache StatusCache,
	urls CallbackURLs,
	logger *zap.Logger,
) *DepositService {
	return &DepositService{
		txRunner:      txRunner,
		deposits:      deposits,
		clients:       clients,
		notifications: notifications,
		audit:         audit,
		gateway:       gatewayClient,
		hub:           hub,
		invoices:      invoices,
		cache:         cache,
		urls:          urls,
		logger:        logger,
	}
}

type CreateDepositRequest struct {
	ClientID string
	Amount   decimal.Decimal
	Method   string
}

type BankDetails struct {
	Account     string `json:"account"`
	Bank        string `json:"bank"`
	BIK         string `json:"bik"`
	CorrAccount string `json:"corr_account"`
	Purpose     string `json:"purpose"`
}

// PaymentDetails is the method-specific payload the deposit form needs to
// take the payer through the flow.
type PaymentDetails struct {
	Type        string       `json:"type"`
	OrderID     string       `json:"orderId,omitempty"`
	QrCode      string       `json:"qrCode,omitempty"`
	QrCodeURL   string       `json:"qrCodeUrl,omitempty"`
	QrImage     string       `json:"qrImage,omitempty"`
	PaymentURL  string       `json:"paymentUrl,omitempty"`
	BankDetails *BankDetails `json:"details,omitempty"`
}

type CreateDepositResult struct {
	DepositID      string
	PaymentID      string
	InvoiceNumber  *string
	InvoiceFile    *string
	PaymentDetails PaymentDetails
}

const (
	bankAccount     = "40702810100000000000"
	bankName        = "Sberbank PJSC"
	bankBIK         = "044525225"
	bankCorrAccount = "30101810400000000225"
)

// CreateDeposit appends a pending ledger entry and, for gateway-backed
// methods, registers the matching order. The entry stays pending until the
// gateway's outcome arrives through either confirmation channel.
func (s *DepositService) CreateDeposit(ctx context.Context, req CreateDepositRequest) (CreateDepositResult, error) {
	if req.Amount.LessThanOrEqual(decimal.Zero) {
		return CreateDepositResult{}, ErrInvalidAmount
	}
	if req.Method != models.PaymentMethodSBP && req.Method != models.PaymentMethodBankTransfer {
		return CreateDepositResult{}, ErrUnsupportedMethod
	}

	depositID := uuid.NewString()
	paymentID := newPaymentID()
	description := fmt.Sprintf("Deposit top-up of %s", money.Format(req.Amount))

	var invoiceNumber, invoiceFile *string
	if req.Method == models.PaymentMethodBankTransfer {
		number := fmt.Sprintf("INV-%d", time.Now().UnixMilli())
		invoiceNumber = &number
		path, err := s.generateInvoice(ctx, req, number, paymentID)
		if err != nil {
			// The invoice collaborator must never block the ledger path.
			s.logger.Warn("invoice generation failed",
				zap.String("payment_id", paymentID), zap.Error(err))
		} else {
			invoiceFile = &path
		}
	}

	err := s.txRunner.WithTx(ctx, func(tx *sqlx.Tx) error {
		if err := s.deposits.LockClient(ctx, tx, req.ClientID); err != nil {
			return err
		}
		balance, err := s.deposits.LatestBalance(ctx, tx, req.ClientID)
		if err != nil {
			return err
		}
		return s.deposits.InsertPending(ctx, tx, store.PendingDepositInput{
			ID:              depositID,
			ClientID:        req.ClientID,
			Amount:          req.Amount,
			TransactionType: models.TransactionTypeDeposit,
			Description:     description,
			PaymentMethod:   req.Method,
			PaymentID:       paymentID,
			InvoiceNumber:   invoiceNumber,
			InvoiceFilePath: invoiceFile,
		}, balance)
	})
	if err != nil {
		return CreateDepositResult{}, err
	}

	result := CreateDepositResult{
		DepositID:     depositID,
		PaymentID:     paymentID,
		InvoiceNumber: invoiceNumber,
		InvoiceFile:   invoiceFile,
	}

	switch req.Method {
	case models.PaymentMethodSBP:
		details, err := s.registerGatewayOrder(ctx, depositID, paymentID, req.Amount, description)
		if err != nil {
			s.failPending(ctx, depositID, "gateway order registration failed")
			return CreateDepositResult{}, err
		}
		result.PaymentDetails = details
	case models.PaymentMethodBankTransfer:
		result.PaymentDetails = PaymentDetails{
			Type: models.PaymentMethodBankTransfer,
			BankDetails: &BankDetails{
				Account:     bankAccount,
				Bank:        bankName,
				BIK:         bankBIK,
				CorrAccount: bankCorrAccount,
				Purpose:     fmt.Sprintf("Deposit top-up. ID: %s", paymentID),
			},
		}
	}
	return result, nil
}

func (s *DepositService) registerGatewayOrder(ctx context.Context, depositID, paymentID string, amount decimal.Decimal, description string) (PaymentDetails, error) {
	order, err := s.gateway.CreateOrder(ctx, gateway.OrderRequest{
		OrderNumber:     paymentID,
		AmountMinor:     money.ToMinorUnits(amount),
		Description:     description,
		ReturnURL:       fmt.Sprintf("%s/client/deposit?success=true&depositId=%s", s.urls.ClientBaseURL, depositID),
		FailURL:         fmt.Sprintf("%s/client/deposit?error=true&depositId=%s", s.urls.ClientBaseURL, depositID),
		NotificationURL: s.urls.ServerBaseURL + "/payment/sbp-webhook",
	})
	if err != nil {
		return PaymentDetails{}, err
	}

	if err := s.txRunner.WithTx(ctx, func(tx *sqlx.Tx) error {
		return s.deposits.SetGatewayOrder(ctx, tx, depositID, order.OrderID)
	}); err != nil {
		s.declineOrphanedOrder(ctx, order.OrderID)
		return PaymentDetails{}, err
	}

	qr, err := s.gateway.GetQrCode(ctx, order.OrderID)
	if err != nil {
		s.declineOrphanedOrder(ctx, order.OrderID)
		return PaymentDetails{}, err
	}

	details := PaymentDetails{
		Type:       models.PaymentMethodSBP,
		OrderID:    order.OrderID,
		QrCode:     qr.QrCode,
		QrCodeURL:  qr.QrCodeURL,
		PaymentURL: order.FormURL,
	}
	if qr.QrCode != "" {
		image, err := RenderQRImage(qr.QrCode)
		if err != nil {
			s.logger.Warn("qr image rendering failed", zap.String("payment_id", paymentID), zap.Error(err))
		} else {
			details.QrImage = image
		}
	}
	return details, nil
}

func (s *DepositService) generateInvoice(ctx context.Context, req CreateDepositRequest, invoiceNumber, paymentID string) (string, error) {
	client, err := s.clients.GetByID(ctx, req.ClientID)
	if err != nil {
		return "", err
	}
	data := InvoiceData{
		InvoiceNumber: invoiceNumber,
		ClientName:    derefOr(client.CompanyName, "not specified"),
		ClientINN:     derefOr(client.INN, "not specified"),
		ClientAddress: derefOr(client.Address, "not specified"),
		Amount:        req.Amount,
		Purpose:       fmt.Sprintf("Deposit top-up. ID: %s", paymentID),
		BankAccount:   bankAccount,
		BankName:      bankName,
		BankBIK:       bankBIK,
	}
	return s.invoices.GenerateInvoice(ctx, data)
}

// declineOrphanedOrder cancels a gateway order the payer will never see.
// Best-effort: the order expires on its own if the decline fails.
func (s *DepositService) declineOrphanedOrder(ctx context.Context, orderID string) {
	if err := s.gateway.DeclinePayment(ctx, orderID); err != nil {
		s.logger.Warn("failed to decline orphaned gateway order",
			zap.String("order_id", orderID), zap.Error(err))
	}
}

func (s *DepositService) failPending(ctx context.Context, depositID, reason string) {
	err := s.txRunner.WithTx(ctx, func(tx *sqlx.Tx) error {
		_, err := s.deposits.Fail(ctx, tx, depositID, reason)
		return err
	})
	if err != nil {
		s.logger.Error("failed to mark deposit as failed",
			zap.String("deposit_id", depositID), zap.Error(err))
	}
}

func newPaymentID() string {
	return fmt.Sprintf("pay_%d_%s", time.Now().UnixMilli(), uuid.NewString()[:8])
}

func derefOr(value *string, fallback string) string {
	if value == nil || *value == "" {
		return fallback
	}
	return *value
}
