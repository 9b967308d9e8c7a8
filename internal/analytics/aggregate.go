// Package analytics turns persisted transaction history into chart data.
//
// The pipeline has two passes. GroupByCalendar buckets transactions into a
// Year→Month→Day tree with per-day income, expense and balance samples.
// NormalizeAndAggregate then replaces each day's samples with their mean and,
// depending on how much time the history spans, sums those daily means into
// monthly or yearly buckets.
package analytics

import (
	"fmt"
	"sort"
	"time"

	"spendwise/internal/core"

	"github.com/shopspring/decimal"
)

// Granularity tells which level of the tree an Aggregated result holds.
type Granularity string

const (
	GranularityNone  Granularity = ""
	GranularityDay   Granularity = "day"
	GranularityMonth Granularity = "month"
	GranularityYear  Granularity = "year"
)

// AggregatedLabel names the synthetic bucket of a collapsed year.
const AggregatedLabel = "Aggregated"

type (
	// Day holds the raw samples of one calendar day. Credits feed Income,
	// debits feed Expense, every transaction feeds Balance.
	Day struct {
		Income  []decimal.Decimal
		Expense []decimal.Decimal
		Balance []decimal.Decimal
	}

	// Calendar is Year→Month→Day.
	Calendar map[int]map[time.Month]map[int]*Day

	Totals struct {
		Income  decimal.Decimal
		Expense decimal.Decimal
		Balance decimal.Decimal
	}

	// Aggregated is the normalized tree. Exactly one of Days, Months or Years
	// is populated, as named by Granularity.
	Aggregated struct {
		Granularity Granularity
		Days        map[int]map[time.Month]map[int]Totals
		Months      map[int]map[time.Month]Totals
		Years       map[int]Totals
	}

	// Point is one flattened bucket, ordered for charting.
	Point struct {
		Label   string
		Year    int
		Month   time.Month // zero for yearly buckets
		Day     int        // zero for monthly and yearly buckets
		Income  decimal.Decimal
		Expense decimal.Decimal
		Balance decimal.Decimal
	}
)

// GroupByCalendar buckets txs by the calendar date of DateTime in loc. A nil
// loc means time.Local.
func GroupByCalendar(txs []core.Transaction, loc *time.Location) Calendar {
	if loc == nil {
		loc = time.Local
	}
	cal := make(Calendar)
	for _, tx := range txs {
		t := tx.DateTime.In(loc)
		months, ok := cal[t.Year()]
		if !ok {
			months = make(map[time.Month]map[int]*Day)
			cal[t.Year()] = months
		}
		days, ok := months[t.Month()]
		if !ok {
			days = make(map[int]*Day)
			months[t.Month()] = days
		}
		d, ok := days[t.Day()]
		if !ok {
			d = &Day{}
			days[t.Day()] = d
		}

		switch tx.Type {
		case core.Credit:
			d.Income = append(d.Income, tx.Amount)
		case core.Debit:
			d.Expense = append(d.Expense, tx.Amount)
		}
		d.Balance = append(d.Balance, tx.Balance)
	}
	return cal
}

// NormalizeAndAggregate averages each day and collapses by span: more than
// one year sums daily means per year, one year over several months sums them
// per month, anything smaller keeps the per-day tree.
func NormalizeAndAggregate(cal Calendar) Aggregated {
	if len(cal) == 0 {
		return Aggregated{Granularity: GranularityNone}
	}

	days := make(map[int]map[time.Month]map[int]Totals, len(cal))
	for y, months := range cal {
		days[y] = make(map[time.Month]map[int]Totals, len(months))
		for m, ds := range months {
			days[y][m] = make(map[int]Totals, len(ds))
			for d, day := range ds {
				days[y][m][d] = Totals{
					Income:  mean(day.Income),
					Expense: mean(day.Expense),
					Balance: mean(day.Balance),
				}
			}
		}
	}

	if len(days) > 1 {
		years := make(map[int]Totals, len(days))
		for y, months := range days {
			var sum Totals
			for _, ds := range months {
				for _, t := range ds {
					sum = sum.add(t)
				}
			}
			years[y] = sum
		}
		return Aggregated{Granularity: GranularityYear, Years: years}
	}

	for y, months := range days {
		if len(months) <= 1 {
			break
		}
		collapsed := make(map[time.Month]Totals, len(months))
		for m, ds := range months {
			var sum Totals
			for _, t := range ds {
				sum = sum.add(t)
			}
			collapsed[m] = sum
		}
		return Aggregated{
			Granularity: GranularityMonth,
			Months:      map[int]map[time.Month]Totals{y: collapsed},
		}
	}

	return Aggregated{Granularity: GranularityDay, Days: days}
}

// Empty reports whether there is nothing to chart.
func (a Aggregated) Empty() bool {
	return a.Granularity == GranularityNone
}

// Points flattens the tree in chronological order.
func (a Aggregated) Points() []Point {
	var pts []Point
	switch a.Granularity {
	case GranularityYear:
		for y, t := range a.Years {
			pts = append(pts, point(fmt.Sprintf("%d %s", y, AggregatedLabel), y, 0, 0, t))
		}
	case GranularityMonth:
		for y, months := range a.Months {
			for m, t := range months {
				pts = append(pts, point(fmt.Sprintf("%04d-%02d", y, int(m)), y, m, 0, t))
			}
		}
	case GranularityDay:
		for y, months := range a.Days {
			for m, ds := range months {
				for d, t := range ds {
					pts = append(pts, point(fmt.Sprintf("%04d-%02d-%02d", y, int(m), d), y, m, d, t))
				}
			}
		}
	}
	sort.Slice(pts, func(i, j int) bool {
		if pts[i].Year != pts[j].Year {
			return pts[i].Year < pts[j].Year
		}
		if pts[i].Month != pts[j].Month {
			return pts[i].Month < pts[j].Month
		}
		return pts[i].Day < pts[j].Day
	})
	return pts
}

func point(label string, y int, m time.Month, d int, t Totals) Point {
	return Point{Label: label, Year: y, Month: m, Day: d, Income: t.Income, Expense: t.Expense, Balance: t.Balance}
}

func (t Totals) add(o Totals) Totals {
	return Totals{
		Income:  t.Income.Add(o.Income),
		Expense: t.Expense.Add(o.Expense),
		Balance: t.Balance.Add(o.Balance),
	}
}

// mean of an empty list is zero.
func mean(xs []decimal.Decimal) decimal.Decimal {
	if len(xs) == 0 {
		return decimal.Zero
	}
	return decimal.Sum(decimal.Zero, xs...).Div(decimal.NewFromInt(int64(len(xs))))
}
