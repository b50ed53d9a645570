package gateway

import (
	"context"
	"fmt"
	"time"

	"revenue-engine/pkg/config"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// StatementSource looks up inbound credits on the business bank account.
// The EFT adapter uses it to resolve pending payments during reconciliation.
type StatementSource interface {
	FindCredit(ctx context.Context, reference string) (bool, error)
}

// EFT handles manual bank transfers. A charge never settles synchronously:
// the client receives banking details and the attempt stays pending until
// the credit shows up on the account statement.
type EFT struct {
	bankName      string
	accountName   string
	accountNumber string
	branchCode    string
	statements    StatementSource
}

func NewEFT(cfg *config.Config, statements StatementSource) *EFT {
	return &EFT{
		bankName:      cfg.Gateways.EFT.BankName,
		accountName:   cfg.Gateways.EFT.AccountName,
		accountNumber: cfg.Gateways.EFT.AccountNumber,
		branchCode:    cfg.Gateways.EFT.BranchCode,
		statements:    statements,
	}
}

func (g *EFT) Name() string { return "eft" }

func (g *EFT) SubmitCharge(ctx context.Context, req ChargeRequest) (*Result, error) {
	invoice := req.Metadata["invoice_number"]
	if invoice == "" {
		invoice = newReference("INV")
	}

	reference := paymentReference(req.ClientID, invoice)
	dueDate := time.Now().AddDate(0, 0, 3).Format("2006-01-02")

	zap.L().Info("created eft payment request",
		zap.String("reference", reference),
		zap.String("amount", req.Amount.StringFixed(2)),
	)

	return &Result{
		ExternalRef: reference,
		Status:      StatusPending,
		FollowUp: map[string]string{
			"bank_name":      g.bankName,
			"account_name":   g.accountName,
			"account_number": g.accountNumber,
			"branch_code":    g.branchCode,
			"reference":      reference,
			"invoice_number": invoice,
			"due_date":       dueDate,
			"instructions":   "Use the exact reference so the payment is allocated automatically. Payments typically reflect within 2-3 business days.",
		},
	}, nil
}

func (g *EFT) SubmitTransfer(ctx context.Context, amount decimal.Decimal, dest Destination, description string) (*Result, error) {
	return nil, Rejected(g.Name(), "transfers not supported")
}

// EFT has no notification channel; nothing to verify.
func (g *EFT) VerifyCallback(payload []byte, signature string) bool {
	return false
}

func (g *EFT) ParseCallback(payload []byte) (*CallbackEvent, error) {
	return nil, Rejected(g.Name(), "callbacks not supported")
}

func (g *EFT) QueryStatus(ctx context.Context, externalRef string) (Status, error) {
	received, err := g.statements.FindCredit(ctx, externalRef)
	if err != nil {
		return StatusPending, Unavailable(g.Name(), err)
	}
	if received {
		return StatusCompleted, nil
	}
	return StatusPending, nil
}

// paymentReference formats CBT<client, 6 digits><invoice tail>, matching the
// reference clients are instructed to use.
func paymentReference(clientID, invoice string) string {
	padded := clientID
	for len(padded) < 6 {
		padded = "0" + padded
	}
	tail := invoice
	if len(tail) > 12 {
		tail = tail[len(tail)-12:]
	}
	return fmt.Sprintf("CBT%s%s", padded, tail)
}
