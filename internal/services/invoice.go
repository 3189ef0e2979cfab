package services

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"billing/internal/money"

	"github.com/shopspring/decimal"
)

type InvoiceData struct {
	InvoiceNumber string
	ClientName    string
	ClientINN     string
	ClientAddress string
	Amount        decimal.Decimal
	Purpose       string
	BankAccount   string
	BankName      string
	BankBIK       string
}

// InvoiceGenerator is the document-rendering collaborator. It sits outside
// this subsystem; callers must tolerate its failure without blocking the
// ledger path.
type InvoiceGenerator interface {
	GenerateInvoice(ctx context.Context, data InvoiceData) (string, error)
}

// FileInvoiceGenerator writes a plain-text payment requisites sheet. The
// production renderer produces a PDF behind the same interface.
type FileInvoiceGenerator struct {
	dir string
}

func NewFileInvoiceGenerator(dir string) *FileInvoiceGenerator {
	return &FileInvoiceGenerator{dir: dir}
}

func (g *FileInvoiceGenerator) GenerateInvoice(_ context.Context, data InvoiceData) (string, error) {
	if err := os.MkdirAll(g.dir, 0o755); err != nil {
		return "", err
	}
	path := filepath.Join(g.dir, fmt.Sprintf("%s.txt", data.InvoiceNumber))
	content := fmt.Sprintf(
		"Invoice %s\nDate: %s\n\nPayer: %s\nINN: %s\nAddress: %s\n\nAmount: %s\nPurpose: %s\n\nBank: %s\nAccount: %s\nBIK: %s\n",
		data.InvoiceNumber,
		time.Now().Format("2006-01-02"),
		data.ClientName,
		data.ClientINN,
		data.ClientAddress,
		money.Format(data.Amount),
		data.Purpose,
		data.BankName,
		data.BankAccount,
		data.BankBIK,
	)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		return "", err
	}
	return path, nil
}
