package allocation

import (
	"math/rand"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

func mustTable(t *testing.T, entries ...Entry) Table {
	t.Helper()
	table, err := NewTable(entries)
	require.NoError(t, err)
	return table
}

func entry(category, pct string) Entry {
	return Entry{Category: category, Percentage: decimal.RequireFromString(pct)}
}

func TestNewTableValidation(t *testing.T) {
	cases := []struct {
		name    string
		entries []Entry
	}{
		{name: "empty"},
		{
			name:    "sum below one",
			entries: []Entry{entry("a", "0.6"), entry("b", "0.2")},
		},
		{
			name:    "sum above one",
			entries: []Entry{entry("a", "0.6"), entry("b", "0.6")},
		},
		{
			name:    "duplicate category",
			entries: []Entry{entry("a", "0.5"), entry("a", "0.5")},
		},
		{
			name:    "non-positive percentage",
			entries: []Entry{entry("a", "1.2"), entry("b", "-0.2")},
		},
		{
			name:    "empty category",
			entries: []Entry{entry("", "1")},
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := NewTable(tc.entries)
			require.ErrorIs(t, err, ErrInvalidTable)
		})
	}
}

func TestComputeStandardSplit(t *testing.T) {
	table := mustTable(t,
		entry("product_development", "0.6"),
		entry("sales_marketing", "0.2"),
		entry("operational_overhead", "0.2"),
	)

	got := table.Compute(decimal.NewFromInt(100000))
	require.Len(t, got, 3)
	require.True(t, got[0].Amount.Equal(decimal.NewFromInt(60000)))
	require.True(t, got[1].Amount.Equal(decimal.NewFromInt(20000)))
	require.True(t, got[2].Amount.Equal(decimal.NewFromInt(20000)))
}

func TestComputeLastCategoryAbsorbsRemainder(t *testing.T) {
	table := mustTable(t,
		entry("a", "0.33"),
		entry("b", "0.33"),
		entry("c", "0.34"),
	)

	got := table.Compute(decimal.RequireFromString("100.01"))
	require.True(t, got[0].Amount.Equal(decimal.RequireFromString("33.00")))
	require.True(t, got[1].Amount.Equal(decimal.RequireFromString("33.00")))
	require.True(t, got[2].Amount.Equal(decimal.RequireFromString("34.01")))
}

func TestComputeAlwaysSumsToTotal(t *testing.T) {
	tables := []Table{
		mustTable(t, entry("a", "0.6"), entry("b", "0.2"), entry("c", "0.2")),
		mustTable(t, entry("a", "0.33"), entry("b", "0.33"), entry("c", "0.34")),
		mustTable(t, entry("a", "0.125"), entry("b", "0.375"), entry("c", "0.5")),
		mustTable(t, entry("only", "1")),
	}

	rng := rand.New(rand.NewSource(1))
	for _, table := range tables {
		for i := 0; i < 200; i++ {
			total := decimal.NewFromInt(rng.Int63n(10_000_000)).Div(decimal.NewFromInt(100))

			sum := decimal.Zero
			for _, a := range table.Compute(total) {
				sum = sum.Add(a.Amount)
			}
			require.True(t, sum.Equal(total), "table %v total %s got %s", table.Categories(), total, sum)
		}
	}
}

func TestCategoriesPreservesOrder(t *testing.T) {
	table := mustTable(t, entry("z", "0.5"), entry("a", "0.5"))
	require.Equal(t, []string{"z", "a"}, table.Categories())
}
