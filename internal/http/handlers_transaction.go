package http

import (
	"fmt"
	"html/template"
	"net/http"
	"sync/atomic"
	"time"

	"spendwise/internal/auth"
	"spendwise/internal/budget"
	"spendwise/internal/core"
	applog "spendwise/internal/log"
)

type (
	transactionJSON struct {
		ID          int64     `json:"id"`
		Amount      string    `json:"amount"`
		Type        string    `json:"type"`
		Description string    `json:"description"`
		CategoryID  int       `json:"category_id"`
		Category    string    `json:"category"`
		DateTime    time.Time `json:"date_time"`
		Balance     string    `json:"balance"`
	}

	budgetOutcomeJSON struct {
		Outcome     string `json:"outcome"`
		BudgetID    int64  `json:"budget_id,omitempty"`
		AmountSpent string `json:"amount_spent,omitempty"`
		Budget      string `json:"budget_amount,omitempty"`
		Ratio       string `json:"ratio,omitempty"`
		Sent50      bool   `json:"email_sent_50"`
		Sent100     bool   `json:"email_sent_100"`
	}

	postTransactionJSON struct {
		Transaction transactionJSON    `json:"transaction"`
		Budget      *budgetOutcomeJSON `json:"budget,omitempty"`
		Warning     string             `json:"warning,omitempty"`
	}
)

func newTransactionJSON(tx core.Transaction) transactionJSON {
	return transactionJSON{
		ID:          tx.ID,
		Amount:      amount(tx.Amount),
		Type:        string(tx.Type),
		Description: tx.Description,
		CategoryID:  tx.CategoryID,
		Category:    core.CategoryLabel(tx.CategoryID),
		DateTime:    tx.DateTime,
		Balance:     amount(tx.Balance),
	}
}

func newBudgetOutcomeJSON(res budget.Result) *budgetOutcomeJSON {
	out := &budgetOutcomeJSON{Outcome: string(res.Outcome), Sent50: res.Sent50, Sent100: res.Sent100}
	if res.Budget.ID != 0 {
		out.BudgetID = res.Budget.ID
		out.AmountSpent = amount(res.Budget.AmountSpent)
		out.Budget = amount(res.Budget.BudgetAmount)
		out.Ratio = res.Ratio.StringFixed(4)
	}
	return out
}

// transactionFromRequest reads a transaction from a form or JSON body.
func (s *Server) transactionFromRequest(r *http.Request, email string) (core.Transaction, *RequestBodyParser, error) {
	p := NewRequestBodyParser(r)
	if err := p.Parse(); err != nil {
		return core.Transaction{}, p, fmt.Errorf("parse body: %w", err)
	}
	amt, err := core.ParseAmount(p.Get("amount"))
	if err != nil {
		return core.Transaction{}, p, err
	}
	cat := p.Get("category_id")
	if cat == "" {
		cat = p.Get("category")
	}
	catID, err := ParseCategory(cat)
	if err != nil {
		return core.Transaction{}, p, err
	}
	at, err := ParseDateTime(p.Get("date"), p.Get("time"), s.now(), s.loc)
	if err != nil {
		return core.Transaction{}, p, err
	}
	return core.Transaction{
		Email:       email,
		Amount:      amt,
		Type:        core.TxType(p.Get("type")),
		Description: p.Get("description"),
		CategoryID:  catID,
		DateTime:    at,
	}, p, nil
}

func (s *Server) handleTransactionsPage(w http.ResponseWriter, r *http.Request) {
	s.renderTransactions(w, r, http.StatusOK, "", nil)
}

func (s *Server) renderTransactions(w http.ResponseWriter, r *http.Request, status int, errMsg string, form map[string]string) {
	ctx := r.Context()
	email, _ := auth.UserFromContext(ctx)
	dr, err := ParseDateRange(r.URL.Query(), s.loc)
	if err != nil {
		status, errMsg = http.StatusUnprocessableEntity, err.Error()
	}
	txs, err := s.transactions.History(ctx, email, dr.From, dr.To)
	if err != nil {
		applog.FromContext(ctx).ErrorContext(ctx, "Load history failed", applog.FieldError, err)
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}
	// Newest first on screen.
	for i, j := 0, len(txs)-1; i < j; i, j = i+1, j-1 {
		txs[i], txs[j] = txs[j], txs[i]
	}

	p := s.newPage(r, "Transactions")
	p.Error = errMsg
	for k, v := range form {
		p.Form[k] = v
	}
	p.Form["from"] = r.URL.Query().Get("from")
	p.Form["to"] = r.URL.Query().Get("to")
	p.Data = txs
	s.render(w, r, status, "transactions.html", p)
}

func (s *Server) handleCreateTransaction(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	email, _ := auth.UserFromContext(ctx)
	log := applog.FromContext(ctx)

	tx, body, err := s.transactionFromRequest(r, email)
	if err == nil {
		err = tx.Validate()
	}
	asJSON := body.IsJSON() || wantsJSON(r)
	if err != nil {
		status := statusFor(err)
		if !core.IsValidationError(err) {
			status = http.StatusBadRequest
		}
		s.transactionError(w, r, asJSON, status, err.Error(), body)
		return
	}

	res, err := s.transactions.Post(ctx, tx)
	if err != nil && res.Transaction.ID == 0 {
		if statusFor(err) == http.StatusInternalServerError {
			log.ErrorContext(ctx, "Failed to save transaction",
				applog.FieldError, err,
				applog.FieldCategory, tx.CategoryID,
				applog.FieldTxType, tx.Type)
		}
		s.transactionError(w, r, asJSON, statusFor(err), userMessage(err), body)
		return
	}

	var warning string
	if err != nil {
		// Stored, but the budget update did not complete.
		log.ErrorContext(ctx, "Budget update after transaction failed",
			applog.FieldError, err,
			applog.FieldTxID, res.Transaction.ID)
		warning = "Transaction saved, but the budget could not be updated"
	}
	atomic.AddInt64(&s.appMetrics.transactionsPosted, 1)
	if res.Budget != nil {
		if res.Budget.Sent50 {
			atomic.AddInt64(&s.appMetrics.thresholdEmails, 1)
		}
		if res.Budget.Sent100 {
			atomic.AddInt64(&s.appMetrics.thresholdEmails, 1)
		}
	}

	stored := res.Transaction
	switch {
	case asJSON:
		out := postTransactionJSON{Transaction: newTransactionJSON(stored), Warning: warning}
		if res.Budget != nil {
			out.Budget = newBudgetOutcomeJSON(*res.Budget)
		}
		writeJSON(w, http.StatusCreated, out)
	case isHTMX(r):
		b := NewHTMXResponse().
			TriggerTransactionPosted(stored.ID, amount(stored.Balance)).
			TriggerFormReset().
			TriggerDashboardRefresh()
		if res.Budget != nil && res.Budget.Outcome != budget.OutcomeNoBudget {
			b.TriggerBudgetChanged(stored.CategoryID, string(res.Budget.Outcome))
		}
		if warning != "" {
			b.TriggerNotification(NotificationWarning, warning, 5000)
		} else {
			b.TriggerSuccessNotification("Transaction saved")
		}
		b.BodyHTML(`<div class="success">Saved ` + template.HTMLEscapeString(string(stored.Type)) + ` of ` +
			template.HTMLEscapeString(amount(stored.Amount)) + ` (` +
			template.HTMLEscapeString(core.CategoryLabel(stored.CategoryID)) + `). Balance: ` +
			template.HTMLEscapeString(amount(stored.Balance)) + `</div>`).
			Write(w)
	default:
		http.Redirect(w, r, "/transactions", http.StatusSeeOther)
	}
}

func (s *Server) transactionError(w http.ResponseWriter, r *http.Request, asJSON bool, status int, msg string, body *RequestBodyParser) {
	switch {
	case asJSON:
		writeError(w, status, msg)
	case isHTMX(r):
		ErrorResponse(status, msg).Write(w)
	default:
		form := map[string]string{}
		for _, k := range []string{"amount", "type", "description", "category_id", "date", "time"} {
			form[k] = body.Get(k)
		}
		s.renderTransactions(w, r, status, msg, form)
	}
}
