package payout

import (
	"context"
	"errors"
	"fmt"
	"time"

	"revenue-engine/pkg/config"
	"revenue-engine/pkg/db/option"
	"revenue-engine/pkg/repository"
	"revenue-engine/pkg/secret"
	"revenue-engine/services/allocation"
	"revenue-engine/services/gateway"
	"revenue-engine/services/payment"

	"github.com/bwmarrin/snowflake"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"gorm.io/gorm"
)

const (
	cycleLockKey = "payout:cycle_lock"
	cycleLockTTL = 10 * time.Minute
)

type Service struct {
	db       *gorm.DB
	node     *snowflake.Node
	cipher   *secret.Cipher
	registry *gateway.Registry
	rdb      *redis.Client

	table     allocation.Table
	threshold decimal.Decimal
	seed      []config.Destination

	allocations  repository.Repository[RevenueAllocation]
	destinations repository.Repository[PayoutDestination]
}

type Params struct {
	fx.In
	DB       *gorm.DB
	Node     *snowflake.Node
	Cipher   *secret.Cipher
	Registry *gateway.Registry
	Config   *config.Config
	Redis    *redis.Client `optional:"true"`
}

// NewService validates the allocation table, payout threshold, and the
// category to account mapping. Any misconfiguration is returned as an error
// so the application refuses to start rather than run a payout cycle with a
// broken ruleset.
func NewService(p Params) (*Service, error) {
	entries := make([]allocation.Entry, 0, len(p.Config.Payout.Allocations))
	for _, a := range p.Config.Payout.Allocations {
		pct, err := decimal.NewFromString(a.Percentage)
		if err != nil {
			return nil, fmt.Errorf("payout: allocation %q percentage %q: %w", a.Category, a.Percentage, err)
		}
		entries = append(entries, allocation.Entry{Category: a.Category, Percentage: pct})
	}

	table, err := allocation.NewTable(entries)
	if err != nil {
		return nil, fmt.Errorf("payout: %w", err)
	}

	raw := p.Config.Payout.MinimumThreshold
	if raw == "" {
		raw = "1000.00"
	}
	threshold, err := decimal.NewFromString(raw)
	if err != nil {
		return nil, fmt.Errorf("payout: minimum threshold %q: %w", raw, err)
	}

	byCategory := make(map[string]config.Destination, len(p.Config.Payout.Destinations))
	for _, d := range p.Config.Payout.Destinations {
		if _, dup := byCategory[d.Category]; dup {
			return nil, fmt.Errorf("payout: duplicate destination for category %q", d.Category)
		}
		byCategory[d.Category] = d
	}
	for _, category := range table.Categories() {
		dest, ok := byCategory[category]
		if !ok {
			return nil, fmt.Errorf("payout: category %q has no destination account", category)
		}
		if dest.AccountNumber == "" {
			return nil, fmt.Errorf("payout: destination for category %q has no account number", category)
		}
		if _, err := p.Registry.Get(dest.Institution); err != nil {
			return nil, fmt.Errorf("payout: destination for category %q: unknown institution %q", category, dest.Institution)
		}
	}

	return &Service{
		db:           p.DB,
		node:         p.Node,
		cipher:       p.Cipher,
		registry:     p.Registry,
		rdb:          p.Redis,
		table:        table,
		threshold:    threshold,
		seed:         p.Config.Payout.Destinations,
		allocations:  repository.ProvideStore[RevenueAllocation](p.DB),
		destinations: repository.ProvideStore[PayoutDestination](p.DB),
	}, nil
}

// AllocationOutcome is one category's result for a cycle run.
type AllocationOutcome struct {
	Category    string
	Amount      decimal.Decimal
	Status      string
	ExternalRef string
	Error       string
}

// CycleResult summarises one payout cycle run.
type CycleResult struct {
	BatchID        string
	Total          decimal.Decimal
	PaymentCount   int
	BelowThreshold bool
	Skipped        bool
	Outcomes       []AllocationOutcome
}

// RunCycle gathers unallocated revenue, splits it across the allocation
// table, and pushes each slice to its destination account.
//
// The gather-and-split step is one transaction holding row locks on the
// selected payments, so concurrent cycles serialise and each payment is
// allocated at most once. Transfers run outside the lock: a slow bank call
// never blocks payment settlement.
func (s *Service) RunCycle(ctx context.Context) (*CycleResult, error) {
	zapLog := s.logWith(ctx)

	batchID := s.node.Generate().String()
	result := &CycleResult{BatchID: batchID}

	// Row locks already serialise cycles on one database; the redis lock
	// keeps a second instance from even starting a competing run.
	if s.rdb != nil {
		acquired, err := s.rdb.SetNX(ctx, cycleLockKey, batchID, cycleLockTTL).Result()
		if err != nil {
			zapLog.Warn("cycle lock unavailable, relying on row locks", zap.Error(err))
		} else if !acquired {
			zapLog.Info("payout cycle already running elsewhere, skipping")
			result.Skipped = true
			return result, nil
		} else {
			defer s.rdb.Del(context.WithoutCancel(ctx), cycleLockKey)
		}
	}

	var created []*RevenueAllocation
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var payments []*payment.ClientPayment
		if err := option.LockingUpdate(tx).
			Where("allocated = ?", false).
			Order("payment_date ASC").
			Find(&payments).Error; err != nil {
			return err
		}

		total := decimal.Zero
		ids := make([]string, len(payments))
		for i, cp := range payments {
			total = total.Add(cp.Amount)
			ids[i] = cp.ID
		}
		result.Total = total
		result.PaymentCount = len(payments)

		if total.LessThan(s.threshold) {
			result.BelowThreshold = true
			return nil
		}

		for _, a := range s.table.Compute(total) {
			created = append(created, &RevenueAllocation{
				ID:           s.node.Generate().String(),
				BatchID:      batchID,
				Category:     a.Category,
				Amount:       a.Amount,
				SourceTotal:  total,
				Percentage:   s.percentageFor(a.Category),
				PayoutStatus: PayoutStatusPending,
				CreatedAt:    time.Now(),
				UpdatedAt:    time.Now(),
			})
		}
		if err := tx.Create(created).Error; err != nil {
			return err
		}

		return tx.Model(&payment.ClientPayment{}).
			Where("id IN ?", ids).
			Update("allocated", true).Error
	})
	if err != nil {
		return nil, err
	}

	if result.BelowThreshold {
		zapLog.Info("payout cycle skipped, revenue below threshold",
			zap.String("total", result.Total.StringFixed(2)),
			zap.String("threshold", s.threshold.StringFixed(2)),
		)
	} else {
		zapLog.Info("payout batch allocated",
			zap.String("batch_id", batchID),
			zap.String("total", result.Total.StringFixed(2)),
			zap.Int("payments", result.PaymentCount),
		)
	}

	// A run that crashed mid-transfer leaves its claims stuck in processing.
	// Anything claimed longer ago than the cycle lock TTL cannot still be in
	// flight, so hand those rows back to the pending pool.
	if err := s.db.WithContext(ctx).Model(&RevenueAllocation{}).
		Where("payout_status = ? AND updated_at < ?", PayoutStatusProcessing, time.Now().Add(-cycleLockTTL)).
		Updates(map[string]any{"payout_status": PayoutStatusPending, "updated_at": time.Now()}).Error; err != nil {
		zapLog.Warn("failed to reclaim stale processing allocations", zap.Error(err))
	}

	// Execute every pending allocation, not just this batch: slices left
	// pending by an unavailable bank in an earlier cycle get retried here.
	pending, err := s.allocations.Find(ctx, &RevenueAllocation{PayoutStatus: PayoutStatusPending},
		option.WithSortBy(option.QuerySortBy{SortBy: "created_at", OrderBy: "ASC"}))
	if err != nil {
		return nil, err
	}

	result.Outcomes = s.execute(ctx, pending)
	return result, nil
}

// execute pushes each allocation to its bank. Failures are isolated per
// category: a rejected transfer marks its own row failed and the rest
// proceed.
func (s *Service) execute(ctx context.Context, allocations []*RevenueAllocation) []AllocationOutcome {
	outcomes := make([]AllocationOutcome, len(allocations))

	var g errgroup.Group
	for i, alloc := range allocations {
		g.Go(func() error {
			outcomes[i] = s.transfer(ctx, alloc)
			return nil
		})
	}
	_ = g.Wait()

	return outcomes
}

func (s *Service) transfer(ctx context.Context, alloc *RevenueAllocation) AllocationOutcome {
	outcome := AllocationOutcome{Category: alloc.Category, Amount: alloc.Amount}
	zapLog := s.logWith(ctx,
		zap.String("batch_id", alloc.BatchID),
		zap.String("category", alloc.Category),
		zap.String("amount", alloc.Amount.StringFixed(2)),
	)

	// Claim the row before touching the bank. A racing run that read the
	// same pending list loses the claim and never submits a duplicate
	// transfer.
	claim := s.db.WithContext(ctx).Model(&RevenueAllocation{}).
		Where("id = ? AND payout_status = ?", alloc.ID, PayoutStatusPending).
		Updates(map[string]any{"payout_status": PayoutStatusProcessing, "updated_at": time.Now()})
	if claim.Error != nil {
		zapLog.Error("failed to claim allocation", zap.Error(claim.Error))
		outcome.Status = PayoutStatusPending
		outcome.Error = claim.Error.Error()
		return outcome
	}
	if claim.RowsAffected == 0 {
		zapLog.Info("allocation claimed by another run")
		outcome.Status = PayoutStatusProcessing
		return outcome
	}

	dest, err := s.destinations.FindOne(ctx, &PayoutDestination{Category: alloc.Category})
	if err == nil && dest == nil {
		err = fmt.Errorf("no destination for category %q", alloc.Category)
	}
	if err != nil {
		return s.markFailed(ctx, alloc, outcome, zapLog, err)
	}

	accountNumber, err := s.cipher.Decrypt(dest.AccountNumber)
	if err != nil {
		return s.markFailed(ctx, alloc, outcome, zapLog, fmt.Errorf("decrypt account number: %w", err))
	}

	adapter, err := s.registry.Get(dest.Institution)
	if err != nil {
		return s.markFailed(ctx, alloc, outcome, zapLog, err)
	}

	res, err := adapter.SubmitTransfer(ctx, alloc.Amount, gateway.Destination{
		AccountName:   dest.AccountName,
		AccountNumber: accountNumber,
		BranchCode:    dest.BranchCode,
		Institution:   dest.Institution,
	}, "revenue payout "+alloc.Category)
	if err != nil {
		// Unavailability is not terminal: release the claim so the next
		// cycle retries the transfer.
		if !errors.Is(err, gateway.ErrRejected) {
			zapLog.Warn("bank unavailable, allocation stays pending", zap.Error(err))
			s.release(ctx, alloc, zapLog, nil)
			outcome.Status = PayoutStatusPending
			outcome.Error = err.Error()
			return outcome
		}
		return s.markFailed(ctx, alloc, outcome, zapLog, err)
	}
	if res.Status == gateway.StatusFailed {
		return s.markFailed(ctx, alloc, outcome, zapLog, fmt.Errorf("transfer %s reported failed", res.ExternalRef))
	}
	if res.Status == gateway.StatusPending {
		// Release the claim but keep the bank reference; a later cycle or a
		// manual retry resolves it.
		s.release(ctx, alloc, zapLog, map[string]any{"external_ref": res.ExternalRef})
		outcome.Status = PayoutStatusPending
		outcome.ExternalRef = res.ExternalRef
		return outcome
	}

	now := time.Now()
	if err := s.db.WithContext(ctx).Model(&RevenueAllocation{}).
		Where("id = ? AND payout_status = ?", alloc.ID, PayoutStatusProcessing).
		Updates(map[string]any{
			"payout_status": PayoutStatusTransferred,
			"transfer_date": now,
			"external_ref":  res.ExternalRef,
			"updated_at":    now,
		}).Error; err != nil {
		return s.markFailed(ctx, alloc, outcome, zapLog, err)
	}

	zapLog.Info("allocation paid out", zap.String("external_ref", res.ExternalRef))

	outcome.Status = PayoutStatusTransferred
	outcome.ExternalRef = res.ExternalRef
	return outcome
}

func (s *Service) markFailed(ctx context.Context, alloc *RevenueAllocation, outcome AllocationOutcome, zapLog *zap.Logger, cause error) AllocationOutcome {
	zapLog.Error("allocation payout failed", zap.Error(cause))

	if err := s.db.WithContext(ctx).Model(&RevenueAllocation{}).
		Where("id = ? AND payout_status = ?", alloc.ID, PayoutStatusProcessing).
		Updates(map[string]any{
			"payout_status":  PayoutStatusFailed,
			"failure_reason": cause.Error(),
			"updated_at":     time.Now(),
		}).Error; err != nil {
		zapLog.Error("failed to record payout failure", zap.Error(err))
	}

	outcome.Status = PayoutStatusFailed
	outcome.Error = cause.Error()
	return outcome
}

// release puts a claimed allocation back to pending, merging any extra column
// updates, so the next cycle picks it up again.
func (s *Service) release(ctx context.Context, alloc *RevenueAllocation, zapLog *zap.Logger, extra map[string]any) {
	updates := map[string]any{
		"payout_status": PayoutStatusPending,
		"updated_at":    time.Now(),
	}
	for k, v := range extra {
		updates[k] = v
	}

	if err := s.db.WithContext(ctx).Model(&RevenueAllocation{}).
		Where("id = ? AND payout_status = ?", alloc.ID, PayoutStatusProcessing).
		Updates(updates).Error; err != nil {
		zapLog.Error("failed to release allocation claim", zap.Error(err))
	}
}

// RetryFailed re-attempts transfers for allocations whose payout failed.
// The allocation itself is never recomputed; only the transfer is retried.
func (s *Service) RetryFailed(ctx context.Context) ([]AllocationOutcome, error) {
	failed, err := s.allocations.Find(ctx, &RevenueAllocation{PayoutStatus: PayoutStatusFailed})
	if err != nil {
		return nil, err
	}

	var outcomes []AllocationOutcome
	for _, alloc := range failed {
		res := s.db.WithContext(ctx).Model(&RevenueAllocation{}).
			Where("id = ? AND payout_status = ?", alloc.ID, PayoutStatusFailed).
			Updates(map[string]any{
				"payout_status":  PayoutStatusPending,
				"failure_reason": "",
				"updated_at":     time.Now(),
			})
		if res.Error != nil {
			return outcomes, res.Error
		}
		if res.RowsAffected == 0 {
			continue
		}

		outcomes = append(outcomes, s.transfer(ctx, alloc))
	}

	return outcomes, nil
}

// History returns allocations created in the last n days, newest first.
func (s *Service) History(ctx context.Context, days int) ([]*RevenueAllocation, error) {
	if days <= 0 {
		days = 30
	}

	return s.allocations.Find(ctx, &RevenueAllocation{},
		option.ApplyOperator(option.Condition{
			Field:    "created_at",
			Operator: option.GE,
			Value:    time.Now().AddDate(0, 0, -days),
		}),
		option.WithSortBy(option.QuerySortBy{SortBy: "created_at", OrderBy: "DESC"}),
	)
}

func (s *Service) percentageFor(category string) decimal.Decimal {
	for _, e := range s.table {
		if e.Category == category {
			return e.Percentage
		}
	}
	return decimal.Zero
}

func (s *Service) logWith(ctx context.Context, fields ...zap.Field) *zap.Logger {
	span := trace.SpanFromContext(ctx)
	fields = append(fields, zap.String("trace_id", span.SpanContext().TraceID().String()))
	return zap.L().With(fields...)
}
