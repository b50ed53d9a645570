package payment

import (
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/datatypes"
)

const (
	StatusPending   = "pending"
	StatusCompleted = "completed"
	StatusFailed    = "failed"
)

// PaymentAttempt is one user-facing payment try. Rows are never deleted;
// status only ever moves pending -> completed or pending -> failed.
type PaymentAttempt struct {
	ID               string          `gorm:"column:id;primaryKey"`
	ClientID         string          `gorm:"column:client_id;index"`
	Amount           decimal.Decimal `gorm:"column:amount;type:numeric(18,2)"`
	Currency         string          `gorm:"column:currency"`
	Method           string          `gorm:"column:method"`
	GatewayName      string          `gorm:"column:gateway_name;index:idx_attempt_gateway_ref"`
	GatewayReference string          `gorm:"column:gateway_reference;index:idx_attempt_gateway_ref"`
	Status           string          `gorm:"column:status;index"`
	Details          datatypes.JSON  `gorm:"column:details"`
	FollowUp         datatypes.JSON  `gorm:"column:follow_up"`
	CreatedAt        time.Time       `gorm:"column:created_at"`
	UpdatedAt        time.Time       `gorm:"column:updated_at"`
}

// ClientPayment is revenue recognised as received. Created only when an
// attempt settles; the unique source attempt index makes webhook replays
// structurally unable to double-credit.
type ClientPayment struct {
	ID              string          `gorm:"column:id;primaryKey"`
	ClientID        string          `gorm:"column:client_id;index"`
	Amount          decimal.Decimal `gorm:"column:amount;type:numeric(18,2)"`
	Currency        string          `gorm:"column:currency"`
	SourceAttemptID string          `gorm:"column:source_attempt_id;uniqueIndex"`
	PaymentDate     time.Time       `gorm:"column:payment_date;index"`
	Allocated       bool            `gorm:"column:allocated;index"`
	CreatedAt       time.Time       `gorm:"column:created_at"`
}
