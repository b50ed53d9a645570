package gateway

import (
	"context"
	"testing"

	"revenue-engine/pkg/config"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

type fakeStatements struct {
	credits map[string]bool
	err     error
}

func (f *fakeStatements) FindCredit(ctx context.Context, reference string) (bool, error) {
	if f.err != nil {
		return false, f.err
	}
	return f.credits[reference], nil
}

func eftConfig() *config.Config {
	cfg := &config.Config{}
	cfg.Gateways.EFT.BankName = "First National Bank"
	cfg.Gateways.EFT.AccountName = "Acme Trading"
	cfg.Gateways.EFT.AccountNumber = "62000000000"
	cfg.Gateways.EFT.BranchCode = "250655"
	return cfg
}

func TestEFTPaymentReference(t *testing.T) {
	require.Equal(t, "CBT000042NV-2024-0001", paymentReference("42", "INV-2024-0001"))
	require.Equal(t, "CBT123456INV-1", paymentReference("123456", "INV-1"))
}

func TestEFTChargeNeverSettlesSynchronously(t *testing.T) {
	g := NewEFT(eftConfig(), &fakeStatements{})

	result, err := g.SubmitCharge(context.Background(), ChargeRequest{
		ClientID: "42",
		Amount:   decimal.RequireFromString("1500.00"),
		Currency: "ZAR",
		Metadata: map[string]string{"invoice_number": "INV-2024-0001"},
	})
	require.NoError(t, err)
	require.Equal(t, StatusPending, result.Status)
	require.Equal(t, "CBT000042NV-2024-0001", result.ExternalRef)

	// The client gets everything needed to make the transfer manually.
	require.Equal(t, "First National Bank", result.FollowUp["bank_name"])
	require.Equal(t, "62000000000", result.FollowUp["account_number"])
	require.Equal(t, "250655", result.FollowUp["branch_code"])
	require.Equal(t, result.ExternalRef, result.FollowUp["reference"])
	require.NotEmpty(t, result.FollowUp["due_date"])
}

func TestEFTQueryStatusFollowsStatement(t *testing.T) {
	statements := &fakeStatements{credits: map[string]bool{}}
	g := NewEFT(eftConfig(), statements)

	status, err := g.QueryStatus(context.Background(), "CBT000042NV-2024-0001")
	require.NoError(t, err)
	require.Equal(t, StatusPending, status)

	statements.credits["CBT000042NV-2024-0001"] = true

	status, err = g.QueryStatus(context.Background(), "CBT000042NV-2024-0001")
	require.NoError(t, err)
	require.Equal(t, StatusCompleted, status)
}

func TestRegistryLookup(t *testing.T) {
	g := NewEFT(eftConfig(), &fakeStatements{})
	registry := NewRegistry(g)

	got, err := registry.Get("eft")
	require.NoError(t, err)
	require.Equal(t, g, got)

	_, err = registry.Get("bitcoin")
	require.Error(t, err)

	require.ElementsMatch(t, []string{"eft"}, registry.Names())
}
