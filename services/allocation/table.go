package allocation

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

// ErrInvalidTable marks an allocation table that cannot be used: empty,
// non-positive percentages, duplicate categories, or a sum other than
// exactly 1. Checked once at load time so cycles never re-validate.
var ErrInvalidTable = errors.New("invalid allocation table")

type Entry struct {
	Category   string
	Percentage decimal.Decimal
}

// Table is an ordered allocation ruleset. Order is significant: the last
// category absorbs the rounding remainder.
type Table []Entry

func NewTable(entries []Entry) (Table, error) {
	if len(entries) == 0 {
		return nil, fmt.Errorf("%w: no categories", ErrInvalidTable)
	}

	seen := make(map[string]bool, len(entries))
	sum := decimal.Zero
	for _, e := range entries {
		if e.Category == "" {
			return nil, fmt.Errorf("%w: empty category name", ErrInvalidTable)
		}
		if seen[e.Category] {
			return nil, fmt.Errorf("%w: duplicate category %q", ErrInvalidTable, e.Category)
		}
		seen[e.Category] = true

		if !e.Percentage.IsPositive() {
			return nil, fmt.Errorf("%w: category %q percentage must be > 0", ErrInvalidTable, e.Category)
		}
		sum = sum.Add(e.Percentage)
	}

	if !sum.Equal(decimal.NewFromInt(1)) {
		return nil, fmt.Errorf("%w: percentages sum to %s, want 1", ErrInvalidTable, sum)
	}

	return Table(entries), nil
}

// Categories returns the category names in table order.
func (t Table) Categories() []string {
	out := make([]string, len(t))
	for i, e := range t {
		out[i] = e.Category
	}
	return out
}

type Allocation struct {
	Category string
	Amount   decimal.Decimal
}

// Compute splits total across the table. Every category except the last is
// rounded to two decimal places; the last takes total minus the rounded
// head, so the amounts always sum to total exactly. Pure function, no I/O.
func (t Table) Compute(total decimal.Decimal) []Allocation {
	out := make([]Allocation, len(t))
	allocated := decimal.Zero

	for i, e := range t {
		if i == len(t)-1 {
			out[i] = Allocation{Category: e.Category, Amount: total.Sub(allocated)}
			break
		}

		amount := total.Mul(e.Percentage).Round(2)
		out[i] = Allocation{Category: e.Category, Amount: amount}
		allocated = allocated.Add(amount)
	}

	return out
}
