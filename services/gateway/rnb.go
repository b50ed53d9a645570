package gateway

import (
	"context"
	"time"

	"revenue-engine/pkg/config"

	"github.com/go-resty/resty/v2"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// RNB is the transfer provider for the development-fund account.
type RNB struct {
	accountNumber string
	client        *resty.Client
}

func NewRNB(cfg *config.Config) *RNB {
	timeout := cfg.Payment.GatewayTimeout
	if timeout == 0 {
		timeout = 15 * time.Second
	}

	return &RNB{
		accountNumber: cfg.Gateways.RNB.AccountNumber,
		client: resty.New().
			SetBaseURL(cfg.Gateways.RNB.BaseURL).
			SetTimeout(timeout).
			SetHeader("X-Api-Key", cfg.Gateways.RNB.APIKey),
	}
}

func (g *RNB) Name() string { return "rnb" }

func (g *RNB) SubmitCharge(ctx context.Context, req ChargeRequest) (*Result, error) {
	return nil, Rejected(g.Name(), "charges not supported")
}

func (g *RNB) SubmitTransfer(ctx context.Context, amount decimal.Decimal, dest Destination, description string) (*Result, error) {
	reference := newReference("AIF")

	var body struct {
		TransactionID string `json:"transaction_id"`
		Status        string `json:"status"`
		Message       string `json:"message"`
	}

	resp, err := g.client.R().
		SetContext(ctx).
		SetBody(map[string]string{
			"from_account": g.accountNumber,
			"to_account":   dest.AccountNumber,
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

	zap.L().Info("rnb transfer submitted",
		zap.String("reference", reference),
		zap.String("to_account", dest.AccountName),
		zap.String("amount", amount.StringFixed(2)),
	)

	return &Result{
		ExternalRef: reference,
		Status:      mapTransferStatus(body.Status),
	}, nil
}

func (g *RNB) VerifyCallback(payload []byte, signature string) bool {
	return false
}

func (g *RNB) ParseCallback(payload []byte) (*CallbackEvent, error) {
	return nil, Rejected(g.Name(), "callbacks not supported")
}

func (g *RNB) QueryStatus(ctx context.Context, externalRef string) (Status, error) {
	var body struct {
		Status string `json:"status"`
	}

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
