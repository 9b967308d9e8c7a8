package http

import (
	"fmt"
	"net/http"
	"sync/atomic"
	"time"

	"spendwise/internal/auth"
	"spendwise/internal/core"
	applog "spendwise/internal/log"

	"github.com/shopspring/decimal"
)

type (
	budgetJSON struct {
		ID           int64     `json:"id"`
		CategoryID   int       `json:"category_id"`
		Category     string    `json:"category"`
		BudgetAmount string    `json:"budget_amount"`
		AmountSpent  string    `json:"amount_spent"`
		Remaining    string    `json:"remaining"`
		CreatedAt    time.Time `json:"created_at,omitempty"`
		ValidUntil   time.Time `json:"valid_until"`
		EmailSent50  bool      `json:"email_sent_50"`
		EmailSent100 bool      `json:"email_sent_100"`
	}

	completedBudgetJSON struct {
		ID           int64     `json:"id"`
		CategoryID   int       `json:"category_id"`
		Category     string    `json:"category"`
		BudgetAmount string    `json:"budget_amount"`
		AmountSpent  string    `json:"amount_spent"`
		ValidUntil   time.Time `json:"valid_until"`
		CompletedAt  time.Time `json:"completed_at"`
		Reason       string    `json:"reason"`
	}

	budgetsJSON struct {
		Active    []budgetJSON          `json:"active"`
		Completed []completedBudgetJSON `json:"completed"`
	}
)

func newBudgetJSON(b core.Budget) budgetJSON {
	return budgetJSON{
		ID:           b.ID,
		CategoryID:   b.CategoryID,
		Category:     core.CategoryLabel(b.CategoryID),
		BudgetAmount: amount(b.BudgetAmount),
		AmountSpent:  amount(b.AmountSpent),
		Remaining:    amount(b.Remaining()),
		CreatedAt:    b.CreatedAt,
		ValidUntil:   b.ValidUntil,
		EmailSent50:  b.EmailSent50,
		EmailSent100: b.EmailSent100,
	}
}

func newCompletedBudgetJSON(b core.CompletedBudget) completedBudgetJSON {
	return completedBudgetJSON{
		ID:           b.ID,
		CategoryID:   b.CategoryID,
		Category:     core.CategoryLabel(b.CategoryID),
		BudgetAmount: amount(b.BudgetAmount),
		AmountSpent:  amount(b.AmountSpent),
		ValidUntil:   b.ValidUntil,
		CompletedAt:  b.CompletedAt,
		Reason:       string(b.Reason),
	}
}

func (s *Server) handleBudgetsPage(w http.ResponseWriter, r *http.Request) {
	if wantsJSON(r) {
		s.writeBudgetsJSON(w, r)
		return
	}
	s.renderBudgets(w, r, http.StatusOK, "", nil)
}

func (s *Server) writeBudgetsJSON(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	email, _ := auth.UserFromContext(ctx)
	active, err := s.budgets.Active(ctx, email)
	if err != nil {
		applog.FromContext(ctx).ErrorContext(ctx, "List active budgets failed", applog.FieldError, err)
		writeError(w, http.StatusInternalServerError, "failed to load budgets")
		return
	}
	completed, err := s.budgets.Completed(ctx, email)
	if err != nil {
		applog.FromContext(ctx).ErrorContext(ctx, "List completed budgets failed", applog.FieldError, err)
		writeError(w, http.StatusInternalServerError, "failed to load budgets")
		return
	}
	out := budgetsJSON{Active: []budgetJSON{}, Completed: []completedBudgetJSON{}}
	for _, b := range active {
		out.Active = append(out.Active, newBudgetJSON(b))
	}
	for _, b := range completed {
		out.Completed = append(out.Completed, newCompletedBudgetJSON(b))
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) renderBudgets(w http.ResponseWriter, r *http.Request, status int, errMsg string, form map[string]string) {
	ctx := r.Context()
	email, _ := auth.UserFromContext(ctx)
	d, err := s.dashboard.Load(ctx, email)
	if err != nil {
		applog.FromContext(ctx).ErrorContext(ctx, "Load budgets failed", applog.FieldError, err)
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}
	p := s.newPage(r, "Budgets")
	p.Error = errMsg
	for k, v := range form {
		p.Form[k] = v
	}
	p.Data = d
	s.render(w, r, status, "budgets.html", p)
}

func (s *Server) handleCreateBudget(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	email, _ := auth.UserFromContext(ctx)

	body := NewRequestBodyParser(r)
	asJSON := wantsJSON(r)
	if err := body.Parse(); err != nil {
		s.budgetError(w, r, asJSON, http.StatusBadRequest, "Invalid request format", body)
		return
	}
	asJSON = asJSON || body.IsJSON()

	catID, amt, seed, until, err := s.budgetFromBody(body)
	if err != nil {
		s.budgetError(w, r, asJSON, statusFor(err), err.Error(), body)
		return
	}

	b, err := s.budgets.Create(ctx, email, catID, amt, seed, until)
	if err != nil {
		if statusFor(err) == http.StatusInternalServerError {
			applog.FromContext(ctx).ErrorContext(ctx, "Failed to create budget",
				applog.FieldError, err,
				applog.FieldCategory, catID)
		}
		s.budgetError(w, r, asJSON, statusFor(err), userMessage(err), body)
		return
	}
	s.dashboard.Invalidate(email)
	atomic.AddInt64(&s.appMetrics.budgetsCreated, 1)

	switch {
	case asJSON:
		writeJSON(w, http.StatusCreated, newBudgetJSON(b))
	case isHTMX(r):
		NewHTMXResponse().
			TriggerBudgetChanged(b.CategoryID, "created").
			TriggerFormReset().
			TriggerDashboardRefresh().
			TriggerSuccessNotification(fmt.Sprintf("Budget for %s created", core.CategoryLabel(b.CategoryID))).
			Status(http.StatusCreated).
			Header("HX-Redirect", "/budgets").
			Write(w)
	default:
		http.Redirect(w, r, "/budgets", http.StatusSeeOther)
	}
}

func (s *Server) budgetFromBody(body *RequestBodyParser) (int, decimal.Decimal, decimal.Decimal, time.Time, error) {
	catID, err := ParseCategory(body.Get("category_id"))
	if err != nil {
		return 0, decimal.Zero, decimal.Zero, time.Time{}, err
	}
	amt, err := core.ParseAmount(body.Get("amount"))
	if err != nil {
		return 0, decimal.Zero, decimal.Zero, time.Time{}, err
	}
	seed, err := core.ParseSeedAmount(body.Get("spent"))
	if err != nil {
		return 0, decimal.Zero, decimal.Zero, time.Time{}, core.ErrBudgetSeed
	}
	until, err := ParseValidUntil(body.Get("valid_until"), s.loc)
	if err != nil {
		return 0, decimal.Zero, decimal.Zero, time.Time{}, err
	}
	return catID, amt, seed, until, nil
}

func (s *Server) budgetError(w http.ResponseWriter, r *http.Request, asJSON bool, status int, msg string, body *RequestBodyParser) {
	switch {
	case asJSON:
		writeError(w, status, msg)
	case isHTMX(r):
		ErrorResponse(status, msg).Write(w)
	default:
		form := map[string]string{}
		for _, k := range []string{"category_id", "amount", "spent", "valid_until"} {
			form[k] = body.Get(k)
		}
		s.renderBudgets(w, r, status, msg, form)
	}
}
