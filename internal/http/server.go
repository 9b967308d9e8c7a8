package http

import (
	"context"
	"fmt"
	"html/template"
	"io/fs"
	"net/http"
	"sync"
	"time"

	"spendwise/internal/auth"
	"spendwise/internal/budget"
	"spendwise/internal/core"
	applog "spendwise/internal/log"
	"spendwise/internal/middleware/ratelimit"
	"spendwise/internal/middleware/security"
	"spendwise/internal/middleware/trace"
	"spendwise/internal/services"
	appweb "spendwise/web"
)

// Pinger is the readiness dependency, normally the store.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Deps is everything the server needs from the application layer.
type Deps struct {
	Auth         *auth.Service
	Transactions *services.TransactionService
	Dashboard    *services.DashboardService
	Budgets      *budget.Manager
	Store        Pinger
	Location     *time.Location
	CookieSecure bool
	Logger       *applog.Logger
}

type Server struct {
	http.Server
	templates    *template.Template
	auth         *auth.Service
	transactions *services.TransactionService
	dashboard    *services.DashboardService
	budgets      *budget.Manager
	store        Pinger
	loc          *time.Location
	cookieSecure bool
	now          func() time.Time

	securityDetector *security.Detector
	rateLimiter      *ratelimit.Limiter
	traceMiddleware  *trace.Middleware
	appMetrics       *appMetrics
	logger           *applog.Logger

	shutdownOnce sync.Once
}

type appMetrics struct {
	uptime             time.Time
	transactionsPosted int64
	budgetsCreated     int64
	thresholdEmails    int64
}

// NewServer configures routes and templates, returning a ready-to-run http.Server.
func NewServer(addr string, deps Deps) (*Server, error) {
	if deps.Location == nil {
		deps.Location = time.Local
	}
	if deps.Logger == nil {
		deps.Logger = applog.New(applog.DefaultConfig())
	}

	s := &Server{
		auth:             deps.Auth,
		transactions:     deps.Transactions,
		dashboard:        deps.Dashboard,
		budgets:          deps.Budgets,
		store:            deps.Store,
		loc:              deps.Location,
		cookieSecure:     deps.CookieSecure,
		now:              time.Now,
		securityDetector: security.NewDetector(),
		rateLimiter:      ratelimit.NewLimiter(ratelimit.AuthConfig()),
		appMetrics:       &appMetrics{uptime: time.Now()},
		logger:           deps.Logger.WithComponent(applog.ComponentHTTP),
	}
	s.traceMiddleware = trace.NewMiddleware(s.securityDetector.ExtractClientIP)

	t, err := template.New("").Funcs(templateFuncs(s.loc)).ParseFS(appweb.TemplatesFS, "templates/*.html")
	if err != nil {
		return nil, fmt.Errorf("parse templates: %w", err)
	}
	s.templates = t

	mux := http.NewServeMux()
	if err := s.routes(mux); err != nil {
		return nil, err
	}

	headers := security.NewHeadersMiddleware(security.DefaultHeadersConfig())
	s.Server = http.Server{
		Addr:              addr,
		Handler:           applog.Middleware(s.logger)(s.traceMiddleware.Middleware(s.securityDetector.Middleware(headers.Middleware(mux)))),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       120 * time.Second,
	}
	return s, nil
}

func (s *Server) routes(mux *http.ServeMux) error {
	sub, err := fs.Sub(appweb.StaticFS, "static")
	if err != nil {
		return fmt.Errorf("mount static assets: %w", err)
	}
	mux.Handle("GET /static/", security.StaticAssetMiddleware(3600)(http.StripPrefix("/static/", http.FileServer(http.FS(sub)))))

	mux.HandleFunc("GET /healthz", s.handleHealth)
	mux.HandleFunc("GET /readyz", s.handleReady)
	mux.HandleFunc("GET /metrics", s.handleMetrics)
	mux.HandleFunc("GET /api/categories", s.handleCategories)

	// Credential endpoints share a stricter per-IP budget.
	limited := s.rateLimiter.Middleware(s.securityDetector.ExtractClientIP, http.MethodPost)
	public := func(h http.HandlerFunc) http.Handler { return security.NoStore(limited(h)) }

	mux.Handle("GET /signup", public(s.handleSignupPage))
	mux.Handle("POST /signup", public(s.handleSignup))
	mux.Handle("GET /verify", public(s.handleVerifyPage))
	mux.Handle("POST /verify", public(s.handleVerify))
	mux.Handle("POST /verify/resend", public(s.handleResend))
	mux.Handle("GET /login", public(s.handleLoginPage))
	mux.Handle("POST /login", public(s.handleLogin))
	mux.Handle("POST /logout", public(s.handleLogout))
	mux.Handle("GET /password/forgot", public(s.handleForgotPage))
	mux.Handle("POST /password/forgot", public(s.handleForgot))
	mux.Handle("GET /password/reset", public(s.handleResetPage))
	mux.Handle("POST /password/reset", public(s.handleReset))

	private := func(h http.HandlerFunc) http.Handler {
		return security.NoStore(s.auth.RequireSession(h))
	}

	mux.Handle("GET /{$}", private(s.handleDashboard))
	mux.Handle("GET /transactions", private(s.handleTransactionsPage))
	mux.Handle("POST /transactions", private(s.handleCreateTransaction))
	mux.Handle("GET /budgets", private(s.handleBudgetsPage))
	mux.Handle("POST /budgets", private(s.handleCreateBudget))
	mux.Handle("GET /api/analytics/categories", private(s.handleSpendingByCategory))
	mux.Handle("GET /api/analytics/income-expense", private(s.handleIncomeExpense))
	mux.Handle("GET /api/analytics/balance", private(s.handleBalanceOverTime))
	return nil
}

// Shutdown stops the rate limiter cleanup and drains the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	var shutdownErr error
	s.shutdownOnce.Do(func() {
		s.rateLimiter.Stop()
		shutdownErr = s.Server.Shutdown(ctx)
	})
	return shutdownErr
}

func templateFuncs(loc *time.Location) template.FuncMap {
	return template.FuncMap{
		"money":    core.FormatAmount,
		"category": core.CategoryLabel,
		"datetime": func(t time.Time) string {
			if t.IsZero() {
				return ""
			}
			return t.In(loc).Format("2006-01-02 15:04")
		},
		"date": func(t time.Time) string {
			if t.IsZero() {
				return ""
			}
			return t.In(loc).Format("2006-01-02")
		},
		"width": progressWidth,
	}
}
