package gateway

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"net/url"
	"sort"
	"strings"
	"time"

	"revenue-engine/pkg/config"

	"github.com/go-resty/resty/v2"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

const (
	payfastLiveURL    = "https://www.payfast.co.za/eng/process"
	payfastSandboxURL = "https://sandbox.payfast.co.za/eng/process"
	payfastAPILive    = "https://api.payfast.co.za"
	payfastAPISandbox = "https://api.sandbox.payfast.co.za"
)

// PayFast builds signed checkout requests and verifies ITN callbacks.
// Charges always come back pending; settlement arrives via the ITN webhook.
type PayFast struct {
	merchantID  string
	merchantKey string
	passphrase  string
	returnURL   string
	cancelURL   string
	notifyURL   string
	processURL  string
	client      *resty.Client
}

func NewPayFast(cfg *config.Config) *PayFast {
	processURL := payfastSandboxURL
	apiURL := payfastAPISandbox
	if cfg.Gateways.PayFast.LiveMode {
		processURL = payfastLiveURL
		apiURL = payfastAPILive
	}

	timeout := cfg.Payment.GatewayTimeout
	if timeout == 0 {
		timeout = 15 * time.Second
	}

	return &PayFast{
		merchantID:  cfg.Gateways.PayFast.MerchantID,
		merchantKey: cfg.Gateways.PayFast.MerchantKey,
		passphrase:  cfg.Gateways.PayFast.Passphrase,
		returnURL:   cfg.Gateways.PayFast.ReturnURL,
		cancelURL:   cfg.Gateways.PayFast.CancelURL,
		notifyURL:   cfg.Gateways.PayFast.NotifyURL,
		processURL:  processURL,
		client:      resty.New().SetBaseURL(apiURL).SetTimeout(timeout),
	}
}

func (g *PayFast) Name() string { return "payfast" }

func (g *PayFast) SubmitCharge(ctx context.Context, req ChargeRequest) (*Result, error) {
	reference := req.Reference
	if reference == "" {
		reference = newReference("PF")
	}

	data := map[string]string{
		"merchant_id":   g.merchantID,
		"merchant_key":  g.merchantKey,
		"return_url":    valueOr(req.Metadata, "return_url", g.returnURL),
		"cancel_url":    valueOr(req.Metadata, "cancel_url", g.cancelURL),
		"notify_url":    valueOr(req.Metadata, "notify_url", g.notifyURL),
		"name_first":    req.Metadata["first_name"],
		"name_last":     req.Metadata["last_name"],
		"email_address": req.Metadata["email"],
		"m_payment_id":  reference,
		"amount":        req.Amount.StringFixed(2),
		"item_name":     valueOr(req.Metadata, "description", "Service subscription"),
		"custom_str1":   req.ClientID,
	}

	for k, v := range data {
		if v == "" {
			delete(data, k)
		}
	}
	data["signature"] = g.Signature(data)

	zap.L().Info("created payfast payment request",
		zap.String("reference", reference),
		zap.String("amount", req.Amount.StringFixed(2)),
	)

	return &Result{
		ExternalRef: reference,
		Status:      StatusPending,
		FollowUp: map[string]string{
			"checkout_url": g.processURL + "?" + encodeParams(data),
		},
	}, nil
}

func (g *PayFast) SubmitTransfer(ctx context.Context, amount decimal.Decimal, dest Destination, description string) (*Result, error) {
	return nil, Rejected(g.Name(), "transfers not supported")
}

// VerifyCallback recomputes the ITN signature over the form-encoded payload.
func (g *PayFast) VerifyCallback(payload []byte, signature string) bool {
	if signature == "" {
		return false
	}

	values, err := url.ParseQuery(string(payload))
	if err != nil {
		return false
	}

	data := make(map[string]string, len(values))
	for k := range values {
		if k == "signature" {
			continue
		}
		data[k] = values.Get(k)
	}

	return g.Signature(data) == signature
}

func (g *PayFast) ParseCallback(payload []byte) (*CallbackEvent, error) {
	values, err := url.ParseQuery(string(payload))
	if err != nil {
		return nil, Rejected(g.Name(), "malformed callback payload")
	}

	event := &CallbackEvent{ExternalRef: values.Get("m_payment_id")}
	switch values.Get("payment_status") {
	case "COMPLETE":
		event.Status = StatusCompleted
	case "FAILED", "CANCELLED":
		event.Status = StatusFailed
	default:
		event.Status = StatusPending
	}

	return event, nil
}

func (g *PayFast) QueryStatus(ctx context.Context, externalRef string) (Status, error) {
	var body struct {
		Status string `json:"status"`
	}

	resp, err := g.client.R().
		SetContext(ctx).
		SetQueryParam("m_payment_id", externalRef).
		SetResult(&body).
		Get("/transactions/history")
	if err != nil {
		return StatusPending, Unavailable(g.Name(), err)
	}
	if resp.IsError() {
		return StatusPending, Unavailable(g.Name(), errStatus(resp))
	}

	switch strings.ToUpper(body.Status) {
	case "COMPLETE":
		return StatusCompleted, nil
	case "FAILED", "CANCELLED":
		return StatusFailed, nil
	default:
		return StatusPending, nil
	}
}

// Signature is the PayFast parameter signature: MD5 over the sorted,
// url-encoded parameter string plus the passphrase.
func (g *PayFast) Signature(data map[string]string) string {
	param := encodeParams(data)
	if g.passphrase != "" {
		param += "&passphrase=" + url.QueryEscape(g.passphrase)
	}

	sum := md5.Sum([]byte(param))
	return hex.EncodeToString(sum[:])
}

func encodeParams(data map[string]string) string {
	keys := make([]string, 0, len(data))
	for k := range data {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, url.QueryEscape(k)+"="+url.QueryEscape(data[k]))
	}
	return strings.Join(parts, "&")
}

func valueOr(m map[string]string, key, fallback string) string {
	if v := m[key]; v != "" {
		return v
	}
	return fallback
}
