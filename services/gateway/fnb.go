package gateway

import (
	"context"
	"time"

	"revenue-engine/pkg/config"

	"github.com/go-resty/resty/v2"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

const (
	fnbLiveURL    = "https://api.fnb.co.za"
	fnbSandboxURL = "https://sandbox.fnb.co.za"
)

// FNB is the primary bank-transfer provider and the statement source for
// EFT reconciliation.
type FNB struct {
	accountNumber string
	client        *resty.Client
}

func NewFNB(cfg *config.Config) *FNB {
	baseURL := cfg.Gateways.FNB.BaseURL
	if baseURL == "" {
		baseURL = fnbSandboxURL
		if cfg.Gateways.FNB.LiveMode {
			baseURL = fnbLiveURL
		}
	}

	timeout := cfg.Payment.GatewayTimeout
	if timeout == 0 {
		timeout = 15 * time.Second
	}

	return &FNB{
		accountNumber: cfg.Gateways.FNB.AccountNumber,
		client: resty.New().
			SetBaseURL(baseURL).
			SetTimeout(timeout).
			SetBasicAuth(cfg.Gateways.FNB.ClientID, cfg.Gateways.FNB.ClientSecret),
	}
}

func (g *FNB) Name() string { return "fnb" }

func (g *FNB) SubmitCharge(ctx context.Context, req ChargeRequest) (*Result, error) {
	return nil, Rejected(g.Name(), "charges not supported")
}

type fnbTransferResponse struct {
	TransactionID string `json:"transaction_id"`
	Status        string `json:"status"`
	Message       string `json:"message"`
}

func (g *FNB) SubmitTransfer(ctx context.Context, amount decimal.Decimal, dest Destination, description string) (*Result, error) {
	reference := newReference("PYT")

	var body fnbTransferResponse
	resp, err := g.client.R().
		SetContext(ctx).
		SetBody(map[string]string{
			"from_account": g.accountNumber,
			"to_account":   dest.AccountNumber,
			"to_branch":    dest.BranchCode,
			"amount":       amount.StringFixed(2),
			"description":  description,
			"reference":    reference,
			"currency":     "ZAR",
		}).
		SetResult(&body).
		SetError(&body).
		Post("/v1/transfers")
	if err != nil {
		return nil, Unavailable(g.Name(), err)
	}
	if resp.IsError() {
		if resp.StatusCode() >= 500 {
			return nil, Unavailable(g.Name(), errStatus(resp))
		}
		return nil, Rejected(g.Name(), body.Message)
	}

	zap.L().Info("fnb transfer submitted",
		zap.String("reference", reference),
		zap.String("to_account", dest.AccountName),
		zap.String("amount", amount.StringFixed(2)),
	)

	return &Result{
		ExternalRef: reference,
		Status:      mapTransferStatus(body.Status),
	}, nil
}

func (g *FNB) VerifyCallback(payload []byte, signature string) bool {
	return false
}

func (g *FNB) ParseCallback(payload []byte) (*CallbackEvent, error) {
	return nil, Rejected(g.Name(), "callbacks not supported")
}

func (g *FNB) QueryStatus(ctx context.Context, externalRef string) (Status, error) {
	var body fnbTransferResponse
	resp, err := g.client.R().
		SetContext(ctx).
		SetResult(&body).
		Get("/v1/transfers/" + externalRef)
	if err != nil {
		return StatusPending, Unavailable(g.Name(), err)
	}
	if resp.IsError() {
		return StatusPending, Unavailable(g.Name(), errStatus(resp))
	}

	return mapTransferStatus(body.Status), nil
}

// FindCredit scans recent statement lines for an inbound credit carrying
// the given reference.
func (g *FNB) FindCredit(ctx context.Context, reference string) (bool, error) {
	var body struct {
		Transactions []struct {
			Reference string `json:"reference"`
			Amount    string `json:"amount"`
		} `json:"transactions"`
	}

	resp, err := g.client.R().
		SetContext(ctx).
		SetQueryParam("days", "7").
		SetResult(&body).
		Get("/v1/accounts/" + g.accountNumber + "/transactions")
	if err != nil {
		return false, Unavailable(g.Name(), err)
	}
	if resp.IsError() {
		return false, Unavailable(g.Name(), errStatus(resp))
	}

	for _, tx := range body.Transactions {
		if tx.Reference == reference {
			return true, nil
		}
	}
	return false, nil
}

func mapTransferStatus(status string) Status {
	switch status {
	case "failed", "returned":
		return StatusFailed
	case "pending", "processing":
		return StatusPending
	default:
		// accepted transfers are reported settled synchronously
		return StatusCompleted
	}
}
