// Package budget owns the lifecycle of per-category budgets.
//
// A budget is ACTIVE until a debit pushes it to 100% (and the 100% email goes
// out) or until a debit dated at or after its end arrives, at which point it
// is archived as COMPLETED. Threshold emails at 50% and 100% are sent at most
// once per budget: the flag is claimed in storage before sending and released
// again when the transport fails, so the next matching debit retries.
package budget

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"spendwise/internal/core"
	"spendwise/internal/keylock"
	"spendwise/internal/notify"
	"spendwise/internal/ports"

	"github.com/shopspring/decimal"
)

type Outcome string

const (
	OutcomeNoBudget        Outcome = "no_budget"
	OutcomeUpdated         Outcome = "updated"
	OutcomeArchivedLimit   Outcome = "archived_limit"
	OutcomeArchivedExpired Outcome = "archived_expired"
	OutcomeBeforeWindow    Outcome = "before_window"
)

// maxCASRetries bounds the compare-and-swap loop on AmountSpent when another
// process keeps winning the race.
const maxCASRetries = 5

type (
	Notifier interface {
		SendThresholdEmail(ctx context.Context, n notify.ThresholdNotice) bool
	}

	// Result describes what a debit did to the matching budget. Budget is
	// the state after the call; it is zero for OutcomeNoBudget.
	Result struct {
		Outcome Outcome
		Budget  core.Budget
		Ratio   decimal.Decimal
		Sent50  bool
		Sent100 bool
	}

	Manager struct {
		store    ports.BudgetStore
		notifier Notifier
		now      func() time.Time
		locks    *keylock.Map
	}
)

func NewManager(store ports.BudgetStore, notifier Notifier) *Manager {
	return &Manager{
		store:    store,
		notifier: notifier,
		now:      time.Now,
		locks:    keylock.New(),
	}
}

// WithClock replaces the wall clock used for CreatedAt and archival stamps.
func (m *Manager) WithClock(now func() time.Time) *Manager {
	m.now = now
	return m
}

func lockKey(email string, categoryID int) string {
	return email + "\x00" + strconv.Itoa(categoryID)
}

// Create opens a budget starting now. A previous active budget for the same
// category that has already run out is archived first; one that is still
// running makes Create fail with core.ErrBudgetExists.
func (m *Manager) Create(ctx context.Context, email string, categoryID int, amount, seeded decimal.Decimal, validUntil time.Time) (core.Budget, error) {
	email = core.NormalizeEmail(email)
	now := m.now()
	b := core.Budget{
		Email:        email,
		CategoryID:   categoryID,
		BudgetAmount: amount,
		AmountSpent:  seeded,
		CreatedAt:    now,
		ValidUntil:   validUntil,
		Status:       core.BudgetActive,
	}
	if err := b.Validate(); err != nil {
		return core.Budget{}, err
	}

	unlock := m.locks.Lock(lockKey(email, categoryID))
	defer unlock()

	existing, err := m.store.ActiveBudget(ctx, email, categoryID)
	switch {
	case errors.Is(err, core.ErrNotFound):
	case err != nil:
		return core.Budget{}, fmt.Errorf("load active budget: %w", err)
	case existing.Expired(now):
		if err := m.archive(ctx, existing.ID, core.ReasonExpired); err != nil {
			return core.Budget{}, err
		}
	default:
		return core.Budget{}, core.ErrBudgetExists
	}

	created, err := m.store.CreateBudget(ctx, b)
	if err != nil {
		return core.Budget{}, fmt.Errorf("create budget: %w", err)
	}
	slog.InfoContext(ctx, "Budget created",
		"budget_id", created.ID,
		"user", email,
		"category_id", categoryID,
		"amount", core.FormatAmount(amount),
		"valid_until", validUntil)
	return created, nil
}

// OnDebitPosted applies a debit dated at to the matching active budget. The
// debit's own timestamp decides the window, not the wall clock. A persistence
// error stops the remaining steps; a spend update already written stays.
func (m *Manager) OnDebitPosted(ctx context.Context, email string, categoryID int, amount decimal.Decimal, at time.Time) (Result, error) {
	email = core.NormalizeEmail(email)
	unlock := m.locks.Lock(lockKey(email, categoryID))
	defer unlock()

	b, err := m.store.ActiveBudget(ctx, email, categoryID)
	if errors.Is(err, core.ErrNotFound) {
		return Result{Outcome: OutcomeNoBudget}, nil
	}
	if err != nil {
		return Result{}, fmt.Errorf("load active budget: %w", err)
	}

	if !b.InWindow(at) {
		if b.Expired(at) {
			if err := m.archive(ctx, b.ID, core.ReasonExpired); err != nil {
				return Result{}, err
			}
			b = m.completed(b, core.ReasonExpired)
			return Result{Outcome: OutcomeArchivedExpired, Budget: b, Ratio: b.Ratio()}, nil
		}
		return Result{Outcome: OutcomeBeforeWindow, Budget: b, Ratio: b.Ratio()}, nil
	}

	b, err = m.addSpent(ctx, b, amount)
	if errors.Is(err, core.ErrNotFound) {
		// archived by another writer between the read and the update
		return Result{Outcome: OutcomeNoBudget}, nil
	}
	if err != nil {
		return Result{}, err
	}

	res := Result{Outcome: OutcomeUpdated, Budget: b, Ratio: b.Ratio()}

	if reached(b, 50) && !b.EmailSent50 {
		sent, err := m.notifyOnce(ctx, b, 50)
		if err != nil {
			return res, err
		}
		res.Sent50 = sent
		b.EmailSent50 = b.EmailSent50 || sent
	}

	if reached(b, 100) {
		if !b.EmailSent100 {
			sent, err := m.notifyOnce(ctx, b, 100)
			if err != nil {
				return res, err
			}
			res.Sent100 = sent
			b.EmailSent100 = sent
		}
		// EmailSent100 may already be true from a run that stopped before
		// archiving; finish the job here.
		if b.EmailSent100 {
			if err := m.archive(ctx, b.ID, core.ReasonLimitReached); err != nil {
				res.Budget = b
				return res, err
			}
			b = m.completed(b, core.ReasonLimitReached)
			res.Outcome = OutcomeArchivedLimit
		}
	}

	res.Budget = b
	return res, nil
}

// addSpent adds amount with a version compare-and-swap, reloading on
// conflict. If the reload finds a different budget the original was archived
// meanwhile, reported as core.ErrNotFound.
func (m *Manager) addSpent(ctx context.Context, b core.Budget, amount decimal.Decimal) (core.Budget, error) {
	for attempt := 0; ; attempt++ {
		updated, err := m.store.UpdateSpent(ctx, b.ID, b.Version, b.AmountSpent.Add(amount))
		if err == nil {
			return updated, nil
		}
		if !errors.Is(err, core.ErrConflict) || attempt >= maxCASRetries {
			return core.Budget{}, fmt.Errorf("update spent on budget %d: %w", b.ID, err)
		}

		slog.DebugContext(ctx, "Budget version conflict, retrying", "budget_id", b.ID, "attempt", attempt+1)
		fresh, err := m.store.ActiveBudget(ctx, b.Email, b.CategoryID)
		if err != nil {
			return core.Budget{}, err
		}
		if fresh.ID != b.ID {
			return core.Budget{}, core.ErrNotFound
		}
		b = fresh
	}
}

// notifyOnce claims the threshold flag, sends, and releases the claim if the
// send fails. It reports whether this call delivered the email.
func (m *Manager) notifyOnce(ctx context.Context, b core.Budget, threshold int) (bool, error) {
	claimed, err := m.store.SetThresholdFlag(ctx, b.ID, threshold, true)
	if err != nil {
		return false, fmt.Errorf("claim %d%% flag on budget %d: %w", threshold, b.ID, err)
	}
	if !claimed {
		return false, nil
	}

	ok := m.notifier.SendThresholdEmail(ctx, notify.ThresholdNotice{
		Threshold:    threshold,
		Email:        b.Email,
		CategoryID:   b.CategoryID,
		BudgetAmount: b.BudgetAmount,
		AmountSpent:  b.AmountSpent,
		ValidUntil:   b.ValidUntil,
	})
	if ok {
		return true, nil
	}

	if _, err := m.store.SetThresholdFlag(ctx, b.ID, threshold, false); err != nil {
		return false, fmt.Errorf("release %d%% flag on budget %d: %w", threshold, b.ID, err)
	}
	slog.WarnContext(ctx, "Threshold email failed, budget stays active",
		"budget_id", b.ID,
		"threshold", threshold)
	return false, nil
}

// archive treats a budget that is already completed as success.
func (m *Manager) archive(ctx context.Context, id int64, reason core.ArchiveReason) error {
	err := m.store.ArchiveBudget(ctx, id, reason, m.now())
	if errors.Is(err, core.ErrNotFound) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("archive budget %d: %w", id, err)
	}
	slog.InfoContext(ctx, "Budget archived", "budget_id", id, "reason", reason)
	return nil
}

func (m *Manager) completed(b core.Budget, reason core.ArchiveReason) core.Budget {
	b.Status = core.BudgetCompleted
	b.Reason = reason
	b.CompletedAt = m.now()
	return b
}

// reached reports AmountSpent/BudgetAmount >= pct/100 without dividing.
func reached(b core.Budget, pct int64) bool {
	return b.AmountSpent.Mul(decimal.NewFromInt(100)).GreaterThanOrEqual(b.BudgetAmount.Mul(decimal.NewFromInt(pct)))
}

// SweepExpired archives every active budget whose window closed strictly
// before now, so budgets without new debits still complete. It returns how
// many were archived and keeps going past individual failures.
func (m *Manager) SweepExpired(ctx context.Context, now time.Time) (int, error) {
	expired, err := m.store.ExpiredBudgets(ctx, now)
	if err != nil {
		return 0, fmt.Errorf("list expired budgets: %w", err)
	}

	var (
		archived int
		errs     []error
	)
	for _, b := range expired {
		if err := ctx.Err(); err != nil {
			errs = append(errs, err)
			break
		}
		unlock := m.locks.Lock(lockKey(b.Email, b.CategoryID))
		err := m.archive(ctx, b.ID, core.ReasonExpired)
		unlock()
		if err != nil {
			errs = append(errs, err)
			continue
		}
		archived++
	}
	return archived, errors.Join(errs...)
}

func (m *Manager) Active(ctx context.Context, email string) ([]core.Budget, error) {
	return m.store.ListActiveBudgets(ctx, core.NormalizeEmail(email))
}

func (m *Manager) Completed(ctx context.Context, email string) ([]core.CompletedBudget, error) {
	return m.store.ListCompletedBudgets(ctx, core.NormalizeEmail(email))
}
