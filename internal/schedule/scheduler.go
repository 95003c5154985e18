package schedule

import (
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/ledgercore/internal/shared"
)

// Build splits plan.Total into plan.Count installments due every
// IntervalDays after Start. Each installment is the total divided by count
// rounded to cents; the last one absorbs the rounding difference so the
// schedule always sums to the total exactly.
func Build(parent Parent, plan Plan) ([]Installment, error) {
	if parent == nil {
		return nil, shared.Required("parent")
	}
	if plan.Count <= 0 {
		return nil, shared.Invalid("count", "must be positive")
	}
	if plan.IntervalDays <= 0 {
		return nil, shared.Invalid("interval_days", "must be positive")
	}
	if !plan.Total.IsPositive() {
		return nil, shared.Invalid("total", "must be positive")
	}
	if plan.Start.IsZero() {
		return nil, shared.Required("start")
	}
	share := plan.Total.Div(decimal.NewFromInt(int64(plan.Count))).Round(2)
	items := make([]Installment, 0, plan.Count)
	allocated := decimal.Zero
	for i := 1; i <= plan.Count; i++ {
		amount := share
		if i == plan.Count {
			amount = plan.Total.Sub(allocated)
		}
		allocated = allocated.Add(amount)
		items = append(items, Installment{
			Parent:      parent,
			Seq:         i,
			Amount:      amount,
			Outstanding: amount,
			DueDate:     plan.Start.AddDate(0, 0, plan.IntervalDays*i),
		})
	}
	return items, nil
}

// SortByDue orders installments by due date, then sequence.
func SortByDue(items []Installment) {
	sort.SliceStable(items, func(a, b int) bool {
		if !items[a].DueDate.Equal(items[b].DueDate) {
			return items[a].DueDate.Before(items[b].DueDate)
		}
		return items[a].Seq < items[b].Seq
	})
}

// Allocate applies amount across unpaid installments in due-date order:
// each is settled while the payment covers its outstanding balance, the next
// one is reduced by whatever is left. It mutates items in place and returns
// the unallocated remainder together with the installments it changed.
// Calling it twice for the same payment applies the payment twice.
func Allocate(amount decimal.Decimal, items []Installment, on time.Time) Allocation {
	SortByDue(items)
	remaining := amount
	var changed []Installment
	for i := range items {
		if !remaining.IsPositive() {
			break
		}
		inst := &items[i]
		if inst.Paid {
			continue
		}
		if remaining.GreaterThanOrEqual(inst.Outstanding) {
			remaining = remaining.Sub(inst.Outstanding)
			inst.Outstanding = decimal.Zero
			inst.Paid = true
			paidOn := on
			inst.PaidOn = &paidOn
		} else {
			inst.Outstanding = inst.Outstanding.Sub(remaining)
			remaining = decimal.Zero
		}
		changed = append(changed, *inst)
	}
	return Allocation{Remainder: remaining, Changed: changed}
}

// Outstanding sums what is still owed across items.
func Outstanding(items []Installment) decimal.Decimal {
	total := decimal.Zero
	for _, it := range items {
		if !it.Paid {
			total = total.Add(it.Outstanding)
		}
	}
	return total
}
