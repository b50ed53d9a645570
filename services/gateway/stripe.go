package gateway

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"revenue-engine/pkg/config"

	"github.com/go-resty/resty/v2"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

const stripeDefaultBaseURL = "https://api.stripe.com"

// Stripe creates payment intents over the HTTP API. Amounts go over the
// wire in minor units. Intents can settle synchronously.
type Stripe struct {
	webhookSecret string
	client        *resty.Client
}

func NewStripe(cfg *config.Config) *Stripe {
	baseURL := cfg.Gateways.Stripe.BaseURL
	if baseURL == "" {
		baseURL = stripeDefaultBaseURL
	}

	timeout := cfg.Payment.GatewayTimeout
	if timeout == 0 {
		timeout = 15 * time.Second
	}

	return &Stripe{
		webhookSecret: cfg.Gateways.Stripe.WebhookSecret,
		client: resty.New().
			SetBaseURL(baseURL).
			SetTimeout(timeout).
			SetAuthToken(cfg.Gateways.Stripe.SecretKey),
	}
}

func (g *Stripe) Name() string { return "stripe" }

type stripeIntent struct {
	ID           string `json:"id"`
	Status       string `json:"status"`
	ClientSecret string `json:"client_secret"`
	Error        struct {
		Type    string `json:"type"`
		Message string `json:"message"`
	} `json:"error"`
}

func (g *Stripe) SubmitCharge(ctx context.Context, req ChargeRequest) (*Result, error) {
	form := map[string]string{
		"amount":                 req.Amount.Mul(decimal.NewFromInt(100)).StringFixed(0),
		"currency":               strings.ToLower(req.Currency),
		"payment_method":         req.Metadata["payment_method_id"],
		"confirm":                "true",
		"metadata[client_id]":    req.ClientID,
		"metadata[reference]":    req.Reference,
		"payment_method_types[]": "card",
	}

	var intent stripeIntent
	resp, err := g.client.R().
		SetContext(ctx).
		SetFormData(form).
		SetResult(&intent).
		SetError(&intent).
		Post("/v1/payment_intents")
	if err != nil {
		return nil, Unavailable(g.Name(), err)
	}
	if resp.IsError() {
		if resp.StatusCode() >= 500 {
			return nil, Unavailable(g.Name(), errStatus(resp))
		}
		return nil, Rejected(g.Name(), intent.Error.Message)
	}

	zap.L().Info("created stripe payment intent",
		zap.String("intent_id", intent.ID),
		zap.String("status", intent.Status),
	)

	return &Result{
		ExternalRef: intent.ID,
		Status:      mapIntentStatus(intent.Status),
		FollowUp: map[string]string{
			"client_secret": intent.ClientSecret,
		},
	}, nil
}

func (g *Stripe) SubmitTransfer(ctx context.Context, amount decimal.Decimal, dest Destination, description string) (*Result, error) {
	return nil, Rejected(g.Name(), "transfers not supported")
}

// VerifyCallback checks the Stripe-Signature header: an HMAC-SHA256 of
// "<timestamp>.<payload>" keyed with the webhook secret.
func (g *Stripe) VerifyCallback(payload []byte, signature string) bool {
	var timestamp, expected string
	for _, part := range strings.Split(signature, ",") {
		k, v, found := strings.Cut(strings.TrimSpace(part), "=")
		if !found {
			continue
		}
		switch k {
		case "t":
			timestamp = v
		case "v1":
			expected = v
		}
	}
	if timestamp == "" || expected == "" {
		return false
	}

	mac := hmac.New(sha256.New, []byte(g.webhookSecret))
	mac.Write([]byte(timestamp))
	mac.Write([]byte("."))
	mac.Write(payload)
	computed := hex.EncodeToString(mac.Sum(nil))

	return hmac.Equal([]byte(computed), []byte(expected))
}

func (g *Stripe) ParseCallback(payload []byte) (*CallbackEvent, error) {
	var event struct {
		Type string `json:"type"`
		Data struct {
			Object struct {
				ID     string `json:"id"`
				Status string `json:"status"`
			} `json:"object"`
		} `json:"data"`
	}
	if err := json.Unmarshal(payload, &event); err != nil {
		return nil, Rejected(g.Name(), "malformed event payload")
	}

	out := &CallbackEvent{ExternalRef: event.Data.Object.ID}
	switch event.Type {
	case "payment_intent.succeeded":
		out.Status = StatusCompleted
	case "payment_intent.payment_failed", "payment_intent.canceled":
		out.Status = StatusFailed
	default:
		out.Status = StatusPending
	}

	return out, nil
}

func (g *Stripe) QueryStatus(ctx context.Context, externalRef string) (Status, error) {
	var intent stripeIntent
	resp, err := g.client.R().
		SetContext(ctx).
		SetResult(&intent).
		Get("/v1/payment_intents/" + externalRef)
	if err != nil {
		return StatusPending, Unavailable(g.Name(), err)
	}
	if resp.IsError() {
		if resp.StatusCode() >= 500 {
			return StatusPending, Unavailable(g.Name(), errStatus(resp))
		}
		return StatusPending, Rejected(g.Name(), "intent lookup failed: "+externalRef)
	}

	return mapIntentStatus(intent.Status), nil
}

func mapIntentStatus(status string) Status {
	switch status {
	case "succeeded":
		return StatusCompleted
	case "canceled":
		return StatusFailed
	default:
		return StatusPending
	}
}

func errStatus(resp *resty.Response) error {
	return fmt.Errorf("unexpected status %d", resp.StatusCode())
}
