package http

import (
	"net/http"
	"time"

	"spendwise/internal/analytics"
	"spendwise/internal/auth"
	"spendwise/internal/core"
	applog "spendwise/internal/log"
)

type (
	categoryTotalJSON struct {
		CategoryID int    `json:"category_id"`
		Name       string `json:"name"`
		Total      string `json:"total"`
		Count      int    `json:"count"`
	}

	pointJSON struct {
		Label   string `json:"label"`
		Income  string `json:"income"`
		Expense string `json:"expense"`
		Balance string `json:"balance"`
	}

	incomeExpenseJSON struct {
		Granularity string      `json:"granularity"`
		Points      []pointJSON `json:"points"`
	}

	balancePointJSON struct {
		At      time.Time `json:"at"`
		Balance string    `json:"balance"`
	}
)

func (s *Server) handleDashboard(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	email, _ := auth.UserFromContext(ctx)
	d, err := s.dashboard.Load(ctx, email)
	if err != nil {
		applog.FromContext(ctx).ErrorContext(ctx, "Dashboard load failed", applog.FieldError, err)
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}
	p := s.newPage(r, "Dashboard")
	p.Data = d
	s.render(w, r, http.StatusOK, "dashboard.html", p)
}

// history loads the from/to range. cached is set when no range was given and
// the cached dashboard answers the request. ok is false once an error
// response has been written.
func (s *Server) history(w http.ResponseWriter, r *http.Request) (txs []core.Transaction, cached bool, ok bool) {
	ctx := r.Context()
	dr, err := ParseDateRange(r.URL.Query(), s.loc)
	if err != nil {
		writeError(w, http.StatusUnprocessableEntity, err.Error())
		return nil, false, false
	}
	if dr.IsZero() {
		return nil, true, true
	}
	email, _ := auth.UserFromContext(ctx)
	txs, err = s.dashboard.History(ctx, email, dr.From, dr.To)
	if err != nil {
		applog.FromContext(ctx).ErrorContext(ctx, "Load history failed", applog.FieldError, err)
		writeError(w, http.StatusInternalServerError, "failed to load transactions")
		return nil, false, false
	}
	return txs, false, true
}

func (s *Server) cachedDashboard(w http.ResponseWriter, r *http.Request) (*dashboardView, bool) {
	ctx := r.Context()
	email, _ := auth.UserFromContext(ctx)
	d, err := s.dashboard.Load(ctx, email)
	if err != nil {
		applog.FromContext(ctx).ErrorContext(ctx, "Dashboard load failed", applog.FieldError, err)
		writeError(w, http.StatusInternalServerError, "failed to load analytics")
		return nil, false
	}
	return &dashboardView{
		byCategory:  d.ByCategory,
		points:      d.IncomeExpense,
		granularity: d.Granularity,
		balance:     d.Balance,
	}, true
}

type dashboardView struct {
	byCategory  []analytics.CategoryTotal
	points      []analytics.Point
	granularity analytics.Granularity
	balance     []analytics.BalancePoint
}

func (s *Server) analyticsView(w http.ResponseWriter, r *http.Request) (*dashboardView, bool) {
	txs, cached, ok := s.history(w, r)
	if !ok {
		return nil, false
	}
	if cached {
		return s.cachedDashboard(w, r)
	}
	agg := analytics.NormalizeAndAggregate(analytics.GroupByCalendar(txs, s.loc))
	return &dashboardView{
		byCategory:  analytics.SpendingByCategory(txs),
		points:      agg.Points(),
		granularity: agg.Granularity,
		balance:     analytics.BalanceOverTime(txs),
	}, true
}

func (s *Server) handleSpendingByCategory(w http.ResponseWriter, r *http.Request) {
	v, ok := s.analyticsView(w, r)
	if !ok {
		return
	}
	out := make([]categoryTotalJSON, 0, len(v.byCategory))
	for _, c := range v.byCategory {
		out = append(out, categoryTotalJSON{CategoryID: c.CategoryID, Name: c.Name, Total: amount(c.Total), Count: c.Count})
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleIncomeExpense(w http.ResponseWriter, r *http.Request) {
	v, ok := s.analyticsView(w, r)
	if !ok {
		return
	}
	out := incomeExpenseJSON{Granularity: string(v.granularity), Points: make([]pointJSON, 0, len(v.points))}
	for _, p := range v.points {
		out.Points = append(out.Points, pointJSON{
			Label:   p.Label,
			Income:  amount(p.Income),
			Expense: amount(p.Expense),
			Balance: amount(p.Balance),
		})
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleBalanceOverTime(w http.ResponseWriter, r *http.Request) {
	v, ok := s.analyticsView(w, r)
	if !ok {
		return
	}
	out := make([]balancePointJSON, 0, len(v.balance))
	for _, b := range v.balance {
		out = append(out, balancePointJSON{At: b.At, Balance: amount(b.Balance)})
	}
	writeJSON(w, http.StatusOK, out)
}
