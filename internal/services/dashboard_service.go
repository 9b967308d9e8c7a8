package services

import (
	"context"
	"fmt"
	"time"

	"spendwise/internal/analytics"
	"spendwise/internal/cache"
	"spendwise/internal/core"
	"spendwise/internal/ports"

	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"
)

const (
	dashboardTimeout  = 7 * time.Second
	recentLimit       = 10
	dashboardCacheTTL = 5 * time.Minute
	dashboardCacheMax = 500
)

type (
	BudgetView struct {
		core.Budget
		CategoryName string
		Ratio        decimal.Decimal
		Percent      int64
		Remaining    decimal.Decimal
	}

	Dashboard struct {
		Overview      analytics.Overview
		ByCategory    []analytics.CategoryTotal
		IncomeExpense []analytics.Point
		Granularity   analytics.Granularity
		Balance       []analytics.BalancePoint
		Active        []BudgetView
		Completed     []core.CompletedBudget
		Recent        []core.Transaction // newest first
		GeneratedAt   time.Time
	}

	// DashboardService builds the per-user read model and caches it until the
	// next write for that user.
	DashboardService struct {
		txs     ports.TransactionStore
		budgets ports.BudgetStore
		loader  *cache.Loader[*Dashboard]
		loc     *time.Location
	}
)

func NewDashboardService(txs ports.TransactionStore, budgets ports.BudgetStore, loc *time.Location) *DashboardService {
	return &DashboardService{
		txs:     txs,
		budgets: budgets,
		loader:  cache.NewLoader(cache.NewLRUCache[*Dashboard](dashboardCacheMax, dashboardCacheTTL)),
		loc:     loc,
	}
}

// Cache exposes the loader for registration with a cache.Manager.
func (s *DashboardService) Cache() cache.Cleaner {
	return s.loader
}

func (s *DashboardService) Load(ctx context.Context, email string) (*Dashboard, error) {
	email = core.NormalizeEmail(email)
	return s.loader.Get(ctx, email, func(ctx context.Context) (*Dashboard, error) {
		return s.build(ctx, email)
	})
}

func (s *DashboardService) Invalidate(email string) {
	s.loader.Invalidate(core.NormalizeEmail(email))
}

// History returns every transaction of the owner in date order. The JSON
// analytics endpoints use it when they need a time range the cached
// dashboard does not cover.
func (s *DashboardService) History(ctx context.Context, email string, from, to time.Time) ([]core.Transaction, error) {
	return s.txs.ListTransactions(ctx, core.NormalizeEmail(email), from, to)
}

func (s *DashboardService) build(ctx context.Context, email string) (*Dashboard, error) {
	ctx, cancel := context.WithTimeout(ctx, dashboardTimeout)
	defer cancel()

	var (
		txs       []core.Transaction
		active    []core.Budget
		completed []core.CompletedBudget
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		txs, err = s.txs.ListTransactions(gctx, email, time.Time{}, time.Time{})
		if err != nil {
			return fmt.Errorf("load transactions: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		var err error
		active, err = s.budgets.ListActiveBudgets(gctx, email)
		if err != nil {
			return fmt.Errorf("load active budgets: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		var err error
		completed, err = s.budgets.ListCompletedBudgets(gctx, email)
		if err != nil {
			return fmt.Errorf("load completed budgets: %w", err)
		}
		return nil
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	agg := analytics.NormalizeAndAggregate(analytics.GroupByCalendar(txs, s.loc))
	d := &Dashboard{
		Overview:      analytics.Summarize(txs),
		ByCategory:    analytics.SpendingByCategory(txs),
		IncomeExpense: agg.Points(),
		Granularity:   agg.Granularity,
		Balance:       analytics.BalanceOverTime(txs),
		Completed:     completed,
		Recent:        recent(txs, recentLimit),
		GeneratedAt:   time.Now(),
	}
	for _, b := range active {
		d.Active = append(d.Active, newBudgetView(b))
	}
	return d, nil
}

func newBudgetView(b core.Budget) BudgetView {
	ratio := b.Ratio()
	return BudgetView{
		Budget:       b,
		CategoryName: core.CategoryLabel(b.CategoryID),
		Ratio:        ratio,
		Percent:      ratio.Mul(decimal.NewFromInt(100)).Floor().IntPart(),
		Remaining:    b.Remaining(),
	}
}

// recent returns the last n transactions by date, newest first. txs must be
// sorted ascending.
func recent(txs []core.Transaction, n int) []core.Transaction {
	if len(txs) < n {
		n = len(txs)
	}
	out := make([]core.Transaction, n)
	for i := range out {
		out[i] = txs[len(txs)-1-i]
	}
	return out
}
