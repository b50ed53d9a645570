package payout

import (
	"time"

	"github.com/shopspring/decimal"
)

const (
	PayoutStatusPending     = "pending"
	PayoutStatusProcessing  = "processing"
	PayoutStatusTransferred = "transferred"
	PayoutStatusFailed      = "failed"
)

// RevenueAllocation is one category's slice of a settlement batch. Rows in
// the same batch share a BatchID and their amounts sum to the batch total
// exactly.
type RevenueAllocation struct {
	ID            string          `gorm:"column:id;primaryKey"`
	BatchID       string          `gorm:"column:batch_id;index"`
	Category      string          `gorm:"column:category;index"`
	Amount        decimal.Decimal `gorm:"column:amount;type:numeric(18,2)"`
	SourceTotal   decimal.Decimal `gorm:"column:source_total;type:numeric(18,2)"`
	Percentage    decimal.Decimal `gorm:"column:percentage;type:numeric(8,4)"`
	PayoutStatus  string          `gorm:"column:payout_status;index"`
	TransferDate  *time.Time      `gorm:"column:transfer_date"`
	ExternalRef   string          `gorm:"column:external_ref"`
	FailureReason string          `gorm:"column:failure_reason"`
	CreatedAt     time.Time       `gorm:"column:created_at"`
	UpdatedAt     time.Time       `gorm:"column:updated_at"`
}

// PayoutDestination binds a category to a bank account. AccountNumber is an
// AES-GCM blob, decrypted only at transfer time.
type PayoutDestination struct {
	ID            string    `gorm:"column:id;primaryKey"`
	Category      string    `gorm:"column:category;uniqueIndex"`
	Institution   string    `gorm:"column:institution"`
	AccountName   string    `gorm:"column:account_name"`
	AccountNumber string    `gorm:"column:account_number"`
	BranchCode    string    `gorm:"column:branch_code"`
	CreatedAt     time.Time `gorm:"column:created_at"`
	UpdatedAt     time.Time `gorm:"column:updated_at"`
}
