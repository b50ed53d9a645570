package gateway

import (
	"context"
	"crypto/rand"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

type Status string

const (
	StatusPending   Status = "pending"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
)

// ChargeRequest carries an inbound payment into a gateway. Metadata is the
// caller's method-specific detail set, passed through untouched.
type ChargeRequest struct {
	ClientID  string
	Amount    decimal.Decimal
	Currency  string
	Reference string
	Metadata  map[string]string
}

// Destination is a decrypted payout target handed to a bank adapter.
type Destination struct {
	AccountName   string
	AccountNumber string
	BranchCode    string
	Institution   string
}

// Result is the normalised outcome of a charge or transfer submission.
// FollowUp carries gateway-specific instructions (checkout URL, banking
// details) that the core passes through without interpreting.
type Result struct {
	ExternalRef string
	Status      Status
	FollowUp    map[string]string
}

// CallbackEvent is a normalised asynchronous gateway notification.
type CallbackEvent struct {
	ExternalRef string
	Status      Status
}

// Adapter is the capability every payment gateway and bank-transfer provider
// implements. Implementations are stateless beyond connection pooling and
// must bound every outbound call with the request context.
type Adapter interface {
	Name() string

	// SubmitCharge initiates an inbound payment. ErrUnavailable means the
	// caller may retry; ErrRejected means it must not.
	SubmitCharge(ctx context.Context, req ChargeRequest) (*Result, error)

	// SubmitTransfer pushes funds to a destination account, same failure
	// taxonomy as SubmitCharge.
	SubmitTransfer(ctx context.Context, amount decimal.Decimal, dest Destination, description string) (*Result, error)

	// VerifyCallback authenticates an asynchronous notification. It returns
	// false, never panics, on malformed or unverifiable input.
	VerifyCallback(payload []byte, signature string) bool

	// ParseCallback normalises a verified notification payload.
	ParseCallback(payload []byte) (*CallbackEvent, error)

	// QueryStatus is an idempotent read used when callbacks are missed.
	QueryStatus(ctx context.Context, externalRef string) (Status, error)
}

// newReference builds a date-stamped reference with a random suffix, e.g.
// PYT20240115-3FA2C1.
func newReference(prefix string) string {
	r := make([]byte, 3)
	_, _ = rand.Read(r)
	return fmt.Sprintf("%s%s-%s", prefix, time.Now().Format("20060102"), strings.ToUpper(fmt.Sprintf("%x", r)))
}
