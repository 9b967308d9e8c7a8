package worker

import (
	"context"
	"log/slog"
	"time"
)

// Sweeper archives budgets whose window closed without a debit to trigger it.
type Sweeper interface {
	SweepExpired(ctx context.Context, now time.Time) (int, error)
}

type BudgetSweeper struct {
	budgets  Sweeper
	interval time.Duration
	now      func() time.Time
}

func NewBudgetSweeper(budgets Sweeper, interval time.Duration) *BudgetSweeper {
	return &BudgetSweeper{budgets: budgets, interval: interval, now: time.Now}
}

// RunOnce performs a single sweep.
func (s *BudgetSweeper) RunOnce(ctx context.Context) (int, error) {
	start := s.now()
	n, err := s.budgets.SweepExpired(ctx, start)
	if err != nil {
		return n, err
	}
	if n > 0 {
		slog.InfoContext(ctx, "Expired budgets archived",
			"count", n,
			"duration", s.now().Sub(start).Round(time.Millisecond))
	}
	return n, nil
}

// Run sweeps once at startup and then on every tick until ctx is done.
// Sweep failures are logged and retried on the next tick.
func (s *BudgetSweeper) Run(ctx context.Context) {
	if _, err := s.RunOnce(ctx); err != nil {
		slog.ErrorContext(ctx, "Startup budget sweep failed", "error", err)
	}

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			slog.InfoContext(ctx, "Budget sweeper stopped")
			return
		case <-ticker.C:
			if _, err := s.RunOnce(ctx); err != nil {
				slog.ErrorContext(ctx, "Periodic budget sweep failed", "error", err)
			}
		}
	}
}
