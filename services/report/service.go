package report

import (
	"context"
	"time"

	"revenue-engine/services/payment"
	"revenue-engine/services/payout"

	"github.com/shopspring/decimal"
	"go.uber.org/fx"
	"gorm.io/gorm"
)

// Service answers read-only reporting queries over the ledger. It never
// mutates rows and takes no locks.
type Service struct {
	db *gorm.DB
}

type Params struct {
	fx.In
	DB *gorm.DB
}

func NewService(p Params) *Service {
	return &Service{db: p.DB}
}

var Module = fx.Module("report.service",
	fx.Provide(NewService),
)

type MethodStat struct {
	Method      string
	Attempts    int64
	Completed   int64
	SuccessRate decimal.Decimal
}

type DayTotal struct {
	Day   string
	Total decimal.Decimal
}

type PaymentSummary struct {
	From             time.Time
	To               time.Time
	TotalReceived    decimal.Decimal
	PaymentCount     int64
	UnallocatedTotal decimal.Decimal
	AttemptsByStatus map[string]int64
	ByMethod         []MethodStat
	DailyVolume      []DayTotal
}

// PaymentSummary reports recognised revenue in [from, to) plus the current
// unallocated balance.
func (s *Service) PaymentSummary(ctx context.Context, from, to time.Time) (*PaymentSummary, error) {
	summary := &PaymentSummary{From: from, To: to}

	var totals struct {
		Total decimal.Decimal
		Count int64
	}
	if err := s.db.WithContext(ctx).Model(&payment.ClientPayment{}).
		Select("COALESCE(SUM(amount), 0) AS total, COUNT(*) AS count").
		Where("payment_date >= ? AND payment_date < ?", from, to).
		Scan(&totals).Error; err != nil {
		return nil, err
	}
	summary.TotalReceived = totals.Total
	summary.PaymentCount = totals.Count

	var unallocated struct {
		Total decimal.Decimal
	}
	if err := s.db.WithContext(ctx).Model(&payment.ClientPayment{}).
		Select("COALESCE(SUM(amount), 0) AS total").
		Where("allocated = ?", false).
		Scan(&unallocated).Error; err != nil {
		return nil, err
	}
	summary.UnallocatedTotal = unallocated.Total

	var statusRows []struct {
		Status string
		Count  int64
	}
	if err := s.db.WithContext(ctx).Model(&payment.PaymentAttempt{}).
		Select("status, COUNT(*) AS count").
		Where("created_at >= ? AND created_at < ?", from, to).
		Group("status").
		Scan(&statusRows).Error; err != nil {
		return nil, err
	}
	summary.AttemptsByStatus = make(map[string]int64, len(statusRows))
	for _, r := range statusRows {
		summary.AttemptsByStatus[r.Status] = r.Count
	}

	var methodRows []struct {
		Method    string
		Attempts  int64
		Completed int64
	}
	if err := s.db.WithContext(ctx).Model(&payment.PaymentAttempt{}).
		Select("method, COUNT(*) AS attempts, "+
			"SUM(CASE WHEN status = ? THEN 1 ELSE 0 END) AS completed",
			payment.StatusCompleted).
		Where("created_at >= ? AND created_at < ?", from, to).
		Group("method").
		Order("method ASC").
		Scan(&methodRows).Error; err != nil {
		return nil, err
	}
	for _, r := range methodRows {
		stat := MethodStat{Method: r.Method, Attempts: r.Attempts, Completed: r.Completed}
		if r.Attempts > 0 {
			stat.SuccessRate = decimal.NewFromInt(r.Completed).
				Div(decimal.NewFromInt(r.Attempts)).Round(4)
		}
		summary.ByMethod = append(summary.ByMethod, stat)
	}

	var dayRows []struct {
		Day   string
		Total decimal.Decimal
	}
	if err := s.db.WithContext(ctx).Model(&payment.ClientPayment{}).
		Select("DATE(payment_date) AS day, COALESCE(SUM(amount), 0) AS total").
		Where("payment_date >= ? AND payment_date < ?", from, to).
		Group("DATE(payment_date)").
		Order("day ASC").
		Scan(&dayRows).Error; err != nil {
		return nil, err
	}
	for _, r := range dayRows {
		summary.DailyVolume = append(summary.DailyVolume, DayTotal{Day: r.Day, Total: r.Total})
	}

	return summary, nil
}

type CategoryTotal struct {
	Category  string
	Total     decimal.Decimal
	Completed int64
	Failed    int64
}

type PayoutSummary struct {
	From       time.Time
	To         time.Time
	BatchCount int64
	TotalPaid  decimal.Decimal
	ByCategory []CategoryTotal
}

// PayoutSummary reports allocations created in [from, to), grouped by
// category. TotalPaid counts only completed transfers.
func (s *Service) PayoutSummary(ctx context.Context, from, to time.Time) (*PayoutSummary, error) {
	summary := &PayoutSummary{From: from, To: to}

	windowed := func() *gorm.DB {
		return s.db.WithContext(ctx).Model(&payout.RevenueAllocation{}).
			Where("created_at >= ? AND created_at < ?", from, to)
	}

	if err := windowed().
		Distinct("batch_id").
		Count(&summary.BatchCount).Error; err != nil {
		return nil, err
	}

	var paid struct {
		Total decimal.Decimal
	}
	if err := windowed().
		Select("COALESCE(SUM(amount), 0) AS total").
		Where("payout_status = ?", payout.PayoutStatusTransferred).
		Scan(&paid).Error; err != nil {
		return nil, err
	}
	summary.TotalPaid = paid.Total

	var rows []struct {
		Category  string
		Total     decimal.Decimal
		Completed int64
		Failed    int64
	}
	if err := windowed().
		Select(
			"category, "+
				"COALESCE(SUM(amount), 0) AS total, "+
				"SUM(CASE WHEN payout_status = ? THEN 1 ELSE 0 END) AS completed, "+
				"SUM(CASE WHEN payout_status = ? THEN 1 ELSE 0 END) AS failed",
			payout.PayoutStatusTransferred, payout.PayoutStatusFailed).
		Group("category").
		Order("category ASC").
		Scan(&rows).Error; err != nil {
		return nil, err
	}
	for _, r := range rows {
		summary.ByCategory = append(summary.ByCategory, CategoryTotal{
			Category:  r.Category,
			Total:     r.Total,
			Completed: r.Completed,
			Failed:    r.Failed,
		})
	}

	return summary, nil
}
