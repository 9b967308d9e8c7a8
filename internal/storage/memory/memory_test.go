package memory

import (
	"context"
	"errors"
	"testing"
	"time"

	"spendwise/internal/core"
	"spendwise/internal/ports"

	"github.com/shopspring/decimal"
)

var _ ports.Store = (*Store)(nil)

func newBudget(email string, cat int) core.Budget {
	start := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	return core.Budget{
		Email:        email,
		CategoryID:   cat,
		BudgetAmount: decimal.NewFromInt(100),
		CreatedAt:    start,
		ValidUntil:   start.AddDate(0, 0, 7),
	}
}

func TestOneActiveBudgetPerCategory(t *testing.T) {
	ctx := context.Background()
	s := New()

	b, err := s.CreateBudget(ctx, newBudget("a@x.com", 1))
	if err != nil {
		t.Fatalf("CreateBudget: %v", err)
	}
	if _, err := s.CreateBudget(ctx, newBudget("a@x.com", 1)); !errors.Is(err, core.ErrBudgetExists) {
		t.Fatalf("expected ErrBudgetExists, got %v", err)
	}

	if err := s.ArchiveBudget(ctx, b.ID, core.ReasonExpired, time.Now()); err != nil {
		t.Fatalf("ArchiveBudget: %v", err)
	}
	if _, err := s.CreateBudget(ctx, newBudget("a@x.com", 1)); err != nil {
		t.Fatalf("new budget after archive: %v", err)
	}
	if err := s.ArchiveBudget(ctx, b.ID, core.ReasonExpired, time.Now()); !errors.Is(err, core.ErrNotFound) {
		t.Fatalf("second archive must be ErrNotFound, got %v", err)
	}

	done, _ := s.ListCompletedBudgets(ctx, "a@x.com")
	if len(done) != 1 || done[0].Reason != core.ReasonExpired {
		t.Fatalf("unexpected completed list: %+v", done)
	}
}

func TestUpdateSpentVersion(t *testing.T) {
	ctx := context.Background()
	s := New()
	b, _ := s.CreateBudget(ctx, newBudget("a@x.com", 1))

	updated, err := s.UpdateSpent(ctx, b.ID, b.Version, decimal.NewFromInt(10))
	if err != nil {
		t.Fatalf("UpdateSpent: %v", err)
	}
	if updated.Version != b.Version+1 {
		t.Fatalf("version not bumped: %d", updated.Version)
	}
	if _, err := s.UpdateSpent(ctx, b.ID, b.Version, decimal.NewFromInt(20)); !errors.Is(err, core.ErrConflict) {
		t.Fatalf("stale version must conflict, got %v", err)
	}
}

func TestSetThresholdFlagReportsChange(t *testing.T) {
	ctx := context.Background()
	s := New()
	b, _ := s.CreateBudget(ctx, newBudget("a@x.com", 1))

	changed, err := s.SetThresholdFlag(ctx, b.ID, 50, true)
	if err != nil || !changed {
		t.Fatalf("first claim should change: %v %v", changed, err)
	}
	changed, _ = s.SetThresholdFlag(ctx, b.ID, 50, true)
	if changed {
		t.Fatal("second claim must not change")
	}
}

func TestSetThresholdFlagOnInactiveBudget(t *testing.T) {
	ctx := context.Background()
	s := New()
	b, _ := s.CreateBudget(ctx, newBudget("a@x.com", 1))
	if err := s.ArchiveBudget(ctx, b.ID, core.ReasonLimitReached, time.Now()); err != nil {
		t.Fatalf("ArchiveBudget: %v", err)
	}

	tests := []struct {
		name string
		id   int64
	}{
		{"completed", b.ID},
		{"missing", 999},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			changed, err := s.SetThresholdFlag(ctx, tt.id, 100, true)
			if err != nil || changed {
				t.Fatalf("want (false, nil), got (%v, %v)", changed, err)
			}
		})
	}
}

func TestLatestTransactionTieBreak(t *testing.T) {
	ctx := context.Background()
	s := New()
	at := time.Date(2025, 2, 1, 12, 0, 0, 0, time.UTC)

	if _, err := s.LatestTransaction(ctx, "a@x.com"); !errors.Is(err, core.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	s.InsertTransaction(ctx, core.Transaction{Email: "a@x.com", DateTime: at, Balance: decimal.NewFromInt(1)})
	s.InsertTransaction(ctx, core.Transaction{Email: "a@x.com", DateTime: at, Balance: decimal.NewFromInt(2)})
	s.InsertTransaction(ctx, core.Transaction{Email: "a@x.com", DateTime: at.Add(-time.Hour), Balance: decimal.NewFromInt(3)})

	got, _ := s.LatestTransaction(ctx, "a@x.com")
	if !got.Balance.Equal(decimal.NewFromInt(2)) {
		t.Fatalf("expected the later insert at the latest date, got %s", got.Balance)
	}
}
