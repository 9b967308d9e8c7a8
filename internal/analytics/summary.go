package analytics

import (
	"sort"
	"time"

	"spendwise/internal/core"

	"github.com/shopspring/decimal"
)

type (
	CategoryTotal struct {
		CategoryID int
		Name       string
		Total      decimal.Decimal
		Count      int
	}

	BalancePoint struct {
		At      time.Time
		Balance decimal.Decimal
	}

	// Overview is the headline card of the dashboard.
	Overview struct {
		Income  decimal.Decimal
		Expense decimal.Decimal
		Net     decimal.Decimal
		Balance decimal.Decimal // latest stamped balance
		Count   int
	}
)

// SpendingByCategory totals debits per category, largest first.
func SpendingByCategory(txs []core.Transaction) []CategoryTotal {
	byID := make(map[int]*CategoryTotal)
	for _, tx := range txs {
		if tx.Type != core.Debit {
			continue
		}
		ct, ok := byID[tx.CategoryID]
		if !ok {
			ct = &CategoryTotal{CategoryID: tx.CategoryID, Name: core.CategoryLabel(tx.CategoryID)}
			byID[tx.CategoryID] = ct
		}
		ct.Total = ct.Total.Add(tx.Amount)
		ct.Count++
	}

	out := make([]CategoryTotal, 0, len(byID))
	for _, ct := range byID {
		out = append(out, *ct)
	}
	sort.Slice(out, func(i, j int) bool {
		if c := out[i].Total.Cmp(out[j].Total); c != 0 {
			return c > 0
		}
		return out[i].CategoryID < out[j].CategoryID
	})
	return out
}

// IncomeVsExpense runs the calendar pipeline and returns chart points.
func IncomeVsExpense(txs []core.Transaction, loc *time.Location) []Point {
	return NormalizeAndAggregate(GroupByCalendar(txs, loc)).Points()
}

// BalanceOverTime returns the stamped balances in DateTime order. Stamped
// balances are never recomputed, so this is the history the user saw.
func BalanceOverTime(txs []core.Transaction) []BalancePoint {
	sorted := make([]core.Transaction, len(txs))
	copy(sorted, txs)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].DateTime.Before(sorted[j].DateTime) })

	out := make([]BalancePoint, 0, len(sorted))
	for _, tx := range sorted {
		out = append(out, BalancePoint{At: tx.DateTime, Balance: tx.Balance})
	}
	return out
}

func Summarize(txs []core.Transaction) Overview {
	var o Overview
	var latest time.Time
	for _, tx := range txs {
		switch tx.Type {
		case core.Credit:
			o.Income = o.Income.Add(tx.Amount)
		case core.Debit:
			o.Expense = o.Expense.Add(tx.Amount)
		}
		if o.Count == 0 || !tx.DateTime.Before(latest) {
			latest = tx.DateTime
			o.Balance = tx.Balance
		}
		o.Count++
	}
	o.Net = o.Income.Sub(o.Expense)
	return o
}
