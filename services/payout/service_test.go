package payout

import (
	"context"
	"sync"
	"testing"
	"time"

	"revenue-engine/pkg/config"
	"revenue-engine/pkg/secret"
	"revenue-engine/services/gateway"
	"revenue-engine/services/payment"
	"revenue-engine/services/testutil"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

// fakeBank records transfers and can be told to reject specific categories
// by description substring.
type fakeBank struct {
	mu             sync.Mutex
	name           string
	transfers      []fakeTransfer
	rejectFor      map[string]bool
	unavailableFor map[string]bool
	seq            int
}

type fakeTransfer struct {
	Amount      decimal.Decimal
	Account     string
	Description string
}

func (f *fakeBank) Name() string { return f.name }

func (f *fakeBank) SubmitCharge(ctx context.Context, req gateway.ChargeRequest) (*gateway.Result, error) {
	return nil, gateway.Rejected(f.name, "charges not supported")
}

func (f *fakeBank) SubmitTransfer(ctx context.Context, amount decimal.Decimal, dest gateway.Destination, description string) (*gateway.Result, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.rejectFor[description] {
		return nil, gateway.Rejected(f.name, "account closed")
	}
	if f.unavailableFor[description] {
		return nil, gateway.Unavailable(f.name, context.DeadlineExceeded)
	}

	f.seq++
	f.transfers = append(f.transfers, fakeTransfer{Amount: amount, Account: dest.AccountNumber, Description: description})
	return &gateway.Result{
		ExternalRef: decimal.NewFromInt(int64(f.seq)).String(),
		Status:      gateway.StatusCompleted,
	}, nil
}

func (f *fakeBank) VerifyCallback(payload []byte, signature string) bool { return false }

func (f *fakeBank) ParseCallback(payload []byte) (*gateway.CallbackEvent, error) {
	return nil, gateway.Rejected(f.name, "callbacks not supported")
}

func (f *fakeBank) QueryStatus(ctx context.Context, externalRef string) (gateway.Status, error) {
	return gateway.StatusCompleted, nil
}

func testConfig() *config.Config {
	cfg := &config.Config{}
	cfg.Payout.MinimumThreshold = "1000.00"
	cfg.Payout.Allocations = []config.AllocationEntry{
		{Category: "product_development", Percentage: "0.6"},
		{Category: "sales_marketing", Percentage: "0.2"},
		{Category: "operational_overhead", Percentage: "0.2"},
	}
	cfg.Payout.Destinations = []config.Destination{
		{Category: "product_development", Institution: "fnb", AccountName: "Product Dev", AccountNumber: "62000000001", BranchCode: "250655"},
		{Category: "sales_marketing", Institution: "fnb", AccountName: "Sales", AccountNumber: "62000000002", BranchCode: "250655"},
		{Category: "operational_overhead", Institution: "fnb", AccountName: "Ops", AccountNumber: "62000000003", BranchCode: "250655"},
	}
	return cfg
}

func newTestService(t *testing.T, bank *fakeBank, cfg *config.Config) (*Service, *gorm.DB) {
	t.Helper()

	db := testutil.NewTestDB(t,
		&payment.PaymentAttempt{}, &payment.ClientPayment{},
		&RevenueAllocation{}, &PayoutDestination{},
	)

	cipher, err := secret.NewCipher("test-secret")
	require.NoError(t, err)

	svc, err := NewService(Params{
		DB:       db,
		Node:     testutil.NewTestNode(t),
		Cipher:   cipher,
		Registry: gateway.NewRegistry(bank),
		Config:   cfg,
	})
	require.NoError(t, err)
	require.NoError(t, seedDestinations(svc))

	return svc, db
}

func seedPayments(t *testing.T, db *gorm.DB, svc *Service, amounts ...string) {
	t.Helper()

	for _, a := range amounts {
		attemptID := svc.node.Generate().String()
		require.NoError(t, db.Create(&payment.ClientPayment{
			ID:              svc.node.Generate().String(),
			ClientID:        "client-1",
			Amount:          decimal.RequireFromString(a),
			Currency:        "ZAR",
			SourceAttemptID: attemptID,
			PaymentDate:     time.Now(),
		}).Error)
	}
}

func TestNewServiceRejectsBadConfig(t *testing.T) {
	bank := &fakeBank{name: "fnb"}
	db := testutil.NewTestDB(t)
	cipher, err := secret.NewCipher("test-secret")
	require.NoError(t, err)
	node := testutil.NewTestNode(t)

	cases := []struct {
		name   string
		mutate func(cfg *config.Config)
	}{
		{
			name: "percentages do not sum to one",
			mutate: func(cfg *config.Config) {
				cfg.Payout.Allocations[0].Percentage = "0.5"
			},
		},
		{
			name: "duplicate category",
			mutate: func(cfg *config.Config) {
				cfg.Payout.Allocations[1].Category = cfg.Payout.Allocations[0].Category
			},
		},
		{
			name: "missing destination",
			mutate: func(cfg *config.Config) {
				cfg.Payout.Destinations = cfg.Payout.Destinations[:2]
			},
		},
		{
			name: "unknown institution",
			mutate: func(cfg *config.Config) {
				cfg.Payout.Destinations[0].Institution = "barclays"
			},
		},
		{
			name: "bad threshold",
			mutate: func(cfg *config.Config) {
				cfg.Payout.MinimumThreshold = "a lot"
			},
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := testConfig()
			tc.mutate(cfg)

			_, err := NewService(Params{DB: db, Node: node, Cipher: cipher, Registry: gateway.NewRegistry(bank), Config: cfg})
			require.Error(t, err)
		})
	}
}

func TestRunCycleBelowThresholdIsNoOp(t *testing.T) {
	ctx := context.Background()
	bank := &fakeBank{name: "fnb"}
	svc, db := newTestService(t, bank, testConfig())

	seedPayments(t, db, svc, "400.00", "599.99")

	result, err := svc.RunCycle(ctx)
	require.NoError(t, err)
	require.True(t, result.BelowThreshold)
	require.True(t, result.Total.Equal(decimal.RequireFromString("999.99")))
	require.Empty(t, bank.transfers)

	// Nothing written, nothing consumed.
	count, err := svc.allocations.Count(ctx, &RevenueAllocation{})
	require.NoError(t, err)
	require.Zero(t, count)

	var unallocated int64
	require.NoError(t, db.Model(&payment.ClientPayment{}).Where("allocated = ?", false).Count(&unallocated).Error)
	require.EqualValues(t, 2, unallocated)
}

func TestRunCycleSplitsAndTransfers(t *testing.T) {
	ctx := context.Background()
	bank := &fakeBank{name: "fnb"}
	svc, db := newTestService(t, bank, testConfig())

	seedPayments(t, db, svc, "60000.00", "40000.00")

	result, err := svc.RunCycle(ctx)
	require.NoError(t, err)
	require.False(t, result.BelowThreshold)
	require.True(t, result.Total.Equal(decimal.NewFromInt(100000)))
	require.Len(t, result.Outcomes, 3)

	byCategory := make(map[string]AllocationOutcome, len(result.Outcomes))
	sum := decimal.Zero
	for _, o := range result.Outcomes {
		require.Equal(t, PayoutStatusTransferred, o.Status)
		byCategory[o.Category] = o
		sum = sum.Add(o.Amount)
	}
	require.True(t, byCategory["product_development"].Amount.Equal(decimal.NewFromInt(60000)))
	require.True(t, byCategory["sales_marketing"].Amount.Equal(decimal.NewFromInt(20000)))
	require.True(t, byCategory["operational_overhead"].Amount.Equal(decimal.NewFromInt(20000)))
	require.True(t, sum.Equal(result.Total))

	// Transfers carry decrypted account numbers.
	require.Len(t, bank.transfers, 3)
	accounts := make(map[string]bool)
	for _, tr := range bank.transfers {
		accounts[tr.Account] = true
	}
	require.True(t, accounts["62000000001"])

	// Every payment consumed exactly once.
	var unallocated int64
	require.NoError(t, db.Model(&payment.ClientPayment{}).Where("allocated = ?", false).Count(&unallocated).Error)
	require.Zero(t, unallocated)
}

func TestRunCycleIsAtMostOncePerPayment(t *testing.T) {
	ctx := context.Background()
	bank := &fakeBank{name: "fnb"}
	svc, db := newTestService(t, bank, testConfig())

	seedPayments(t, db, svc, "100000.00")

	first, err := svc.RunCycle(ctx)
	require.NoError(t, err)
	require.False(t, first.BelowThreshold)

	// The next cycle finds no unallocated revenue.
	second, err := svc.RunCycle(ctx)
	require.NoError(t, err)
	require.True(t, second.BelowThreshold)
	require.True(t, second.Total.IsZero())
	require.Len(t, bank.transfers, 3)
}

func TestConcurrentRunCyclesAllocateOnce(t *testing.T) {
	ctx := context.Background()
	bank := &fakeBank{name: "fnb"}
	svc, db := newTestService(t, bank, testConfig())

	seedPayments(t, db, svc, "100000.00")

	var wg sync.WaitGroup
	results := make([]*CycleResult, 2)
	errs := make([]error, 2)
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			results[i], errs[i] = svc.RunCycle(ctx)
		}()
	}
	wg.Wait()

	require.NoError(t, errs[0])
	require.NoError(t, errs[1])

	// Exactly one cycle wins the revenue; the loser sees nothing eligible.
	winners := 0
	for _, r := range results {
		if !r.BelowThreshold {
			winners++
			require.True(t, r.Total.Equal(decimal.NewFromInt(100000)))
		}
	}
	require.Equal(t, 1, winners)

	count, err := svc.allocations.Count(ctx, &RevenueAllocation{})
	require.NoError(t, err)
	require.EqualValues(t, 3, count)
	require.Len(t, bank.transfers, 3)

	var unallocated int64
	require.NoError(t, db.Model(&payment.ClientPayment{}).Where("allocated = ?", false).Count(&unallocated).Error)
	require.Zero(t, unallocated)
}

func TestRunCycleIsolatesTransferFailures(t *testing.T) {
	ctx := context.Background()
	bank := &fakeBank{
		name:      "fnb",
		rejectFor: map[string]bool{"revenue payout sales_marketing": true},
	}
	svc, db := newTestService(t, bank, testConfig())

	seedPayments(t, db, svc, "100000.00")

	result, err := svc.RunCycle(ctx)
	require.NoError(t, err)

	byCategory := make(map[string]AllocationOutcome, len(result.Outcomes))
	for _, o := range result.Outcomes {
		byCategory[o.Category] = o
	}
	require.Equal(t, PayoutStatusFailed, byCategory["sales_marketing"].Status)
	require.NotEmpty(t, byCategory["sales_marketing"].Error)
	require.Equal(t, PayoutStatusTransferred, byCategory["product_development"].Status)
	require.Equal(t, PayoutStatusTransferred, byCategory["operational_overhead"].Status)

	// The failed slice stays on the books for retry; revenue is not
	// re-allocated.
	var unallocated int64
	require.NoError(t, db.Model(&payment.ClientPayment{}).Where("allocated = ?", false).Count(&unallocated).Error)
	require.Zero(t, unallocated)

	failed, err := svc.allocations.Find(ctx, &RevenueAllocation{PayoutStatus: PayoutStatusFailed})
	require.NoError(t, err)
	require.Len(t, failed, 1)
	require.True(t, failed[0].Amount.Equal(decimal.NewFromInt(20000)))
}

func TestRunCycleRetriesUnavailableTransfersNextCycle(t *testing.T) {
	ctx := context.Background()
	bank := &fakeBank{
		name:           "fnb",
		unavailableFor: map[string]bool{"revenue payout sales_marketing": true},
	}
	svc, db := newTestService(t, bank, testConfig())

	seedPayments(t, db, svc, "100000.00")

	first, err := svc.RunCycle(ctx)
	require.NoError(t, err)
	require.Len(t, bank.transfers, 2)

	byCategory := make(map[string]AllocationOutcome, len(first.Outcomes))
	for _, o := range first.Outcomes {
		byCategory[o.Category] = o
	}
	require.Equal(t, PayoutStatusPending, byCategory["sales_marketing"].Status)
	require.Equal(t, PayoutStatusTransferred, byCategory["product_development"].Status)

	// Bank recovers; the next cycle has no new revenue but still pushes the
	// leftover slice, and only that slice.
	bank.unavailableFor = nil

	second, err := svc.RunCycle(ctx)
	require.NoError(t, err)
	require.True(t, second.BelowThreshold)
	require.Len(t, second.Outcomes, 1)
	require.Equal(t, "sales_marketing", second.Outcomes[0].Category)
	require.Equal(t, PayoutStatusTransferred, second.Outcomes[0].Status)
	require.Len(t, bank.transfers, 3)

	count, err := svc.allocations.Count(ctx, &RevenueAllocation{PayoutStatus: PayoutStatusTransferred})
	require.NoError(t, err)
	require.EqualValues(t, 3, count)
}

func TestRetryFailedReplaysOnlyTheTransfer(t *testing.T) {
	ctx := context.Background()
	bank := &fakeBank{
		name:      "fnb",
		rejectFor: map[string]bool{"revenue payout sales_marketing": true},
	}
	svc, db := newTestService(t, bank, testConfig())

	seedPayments(t, db, svc, "100000.00")

	_, err := svc.RunCycle(ctx)
	require.NoError(t, err)
	require.Len(t, bank.transfers, 2)

	// Bank recovers.
	bank.rejectFor = nil

	outcomes, err := svc.RetryFailed(ctx)
	require.NoError(t, err)
	require.Len(t, outcomes, 1)
	require.Equal(t, PayoutStatusTransferred, outcomes[0].Status)
	require.Equal(t, "sales_marketing", outcomes[0].Category)
	require.Len(t, bank.transfers, 3)

	// No allocation rows were added, only the existing row resolved.
	count, err := svc.allocations.Count(ctx, &RevenueAllocation{})
	require.NoError(t, err)
	require.EqualValues(t, 3, count)

	var unallocated int64
	require.NoError(t, db.Model(&payment.ClientPayment{}).Where("allocated = ?", false).Count(&unallocated).Error)
	require.Zero(t, unallocated)
}

func TestHistoryReturnsRecentAllocations(t *testing.T) {
	ctx := context.Background()
	bank := &fakeBank{name: "fnb"}
	svc, db := newTestService(t, bank, testConfig())

	seedPayments(t, db, svc, "100000.00")
	_, err := svc.RunCycle(ctx)
	require.NoError(t, err)

	// Age one allocation out of the window.
	all, err := svc.allocations.Find(ctx, &RevenueAllocation{})
	require.NoError(t, err)
	require.Len(t, all, 3)
	require.NoError(t, db.Model(&RevenueAllocation{}).
		Where("id = ?", all[0].ID).
		Update("created_at", time.Now().AddDate(0, 0, -90)).Error)

	recent, err := svc.History(ctx, 30)
	require.NoError(t, err)
	require.Len(t, recent, 2)
}
