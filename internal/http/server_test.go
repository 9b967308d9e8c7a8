package http

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"regexp"
	"strings"
	"sync"
	"testing"
	"time"

	"spendwise/internal/auth"
	"spendwise/internal/budget"
	"spendwise/internal/notify"
	"spendwise/internal/services"
	"spendwise/internal/storage/memory"

	"golang.org/x/crypto/bcrypt"
)

type recordingMailer struct {
	mu   sync.Mutex
	sent []notify.Message
}

func (m *recordingMailer) Send(_ context.Context, msg notify.Message) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sent = append(m.sent, msg)
	return nil
}

func (m *recordingMailer) count(subject string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, msg := range m.sent {
		if strings.Contains(msg.Subject, subject) {
			n++
		}
	}
	return n
}

var otpPattern = regexp.MustCompile(`\b\d{6}\b`)

func (m *recordingMailer) lastCode(t *testing.T, to string) string {
	t.Helper()
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := len(m.sent) - 1; i >= 0; i-- {
		if m.sent[i].To == to {
			if code := otpPattern.FindString(m.sent[i].Body); code != "" {
				return code
			}
		}
	}
	t.Fatalf("no code mailed to %s", to)
	return ""
}

type testEnv struct {
	srv    *Server
	mailer *recordingMailer
	store  *memory.Store
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	store := memory.New()
	mailer := &recordingMailer{}
	dispatcher := notify.NewDispatcher(mailer, nil)

	budgets := budget.NewManager(store, dispatcher)
	dashboard := services.NewDashboardService(store, store, time.UTC)
	txs := services.NewTransactionService(store, budgets)
	txs.OnChange(dashboard.Invalidate)

	srv, err := NewServer(":0", Deps{
		Auth:         auth.NewService(store, dispatcher, "http://spendwise.test").WithBcryptCost(bcrypt.MinCost),
		Transactions: txs,
		Dashboard:    dashboard,
		Budgets:      budgets,
		Store:        store,
		Location:     time.UTC,
	})
	if err != nil {
		t.Fatalf("NewServer: %v", err)
	}
	t.Cleanup(func() { _ = srv.Shutdown(context.Background()) })
	return &testEnv{srv: srv, mailer: mailer, store: store}
}

func (e *testEnv) do(req *http.Request) *httptest.ResponseRecorder {
	rr := httptest.NewRecorder()
	e.srv.Handler.ServeHTTP(rr, req)
	return rr
}

func formRequest(method, target string, form url.Values) *http.Request {
	req := httptest.NewRequest(method, target, strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	return req
}

func jsonRequest(method, target, body string, cookie *http.Cookie) *http.Request {
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	if cookie != nil {
		req.AddCookie(cookie)
	}
	return req
}

// signIn runs sign up, verification and login and returns the session cookie.
func (e *testEnv) signIn(t *testing.T, email string) *http.Cookie {
	t.Helper()
	rr := e.do(formRequest(http.MethodPost, "/signup", url.Values{
		"email": {email}, "name": {"Test"}, "password": {"correct horse"},
	}))
	if rr.Code != http.StatusSeeOther || !strings.HasPrefix(rr.Header().Get("Location"), "/verify") {
		t.Fatalf("signup: status=%d location=%q body=%s", rr.Code, rr.Header().Get("Location"), rr.Body.String())
	}

	rr = e.do(formRequest(http.MethodPost, "/verify", url.Values{
		"email": {email}, "code": {e.mailer.lastCode(t, email)},
	}))
	if rr.Code != http.StatusSeeOther {
		t.Fatalf("verify: status=%d body=%s", rr.Code, rr.Body.String())
	}

	rr = e.do(formRequest(http.MethodPost, "/login", url.Values{
		"email": {email}, "password": {"correct horse"},
	}))
	if rr.Code != http.StatusSeeOther {
		t.Fatalf("login: status=%d body=%s", rr.Code, rr.Body.String())
	}
	for _, c := range rr.Result().Cookies() {
		if c.Name == auth.SessionCookieName {
			return c
		}
	}
	t.Fatal("login did not set a session cookie")
	return nil
}

func TestHealthReadyAndMetrics(t *testing.T) {
	env := newTestEnv(t)

	for _, path := range []string{"/healthz", "/readyz"} {
		rr := env.do(httptest.NewRequest(http.MethodGet, path, nil))
		if rr.Code != http.StatusOK {
			t.Fatalf("%s status=%d body=%s", path, rr.Code, rr.Body.String())
		}
		var body map[string]any
		if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
			t.Fatalf("%s: invalid JSON: %v", path, err)
		}
	}

	rr := env.do(httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("metrics status=%d", rr.Code)
	}
	for _, name := range []string{"http_requests_total", "transactions_posted_total", "budgets_created_total", "uptime_seconds"} {
		if !strings.Contains(rr.Body.String(), name) {
			t.Errorf("metrics missing %s", name)
		}
	}
}

func TestSecurityHeadersAndRequestID(t *testing.T) {
	env := newTestEnv(t)

	req := httptest.NewRequest(http.MethodGet, "/login", nil)
	req.Header.Set("X-Request-ID", "abc-123")
	rr := env.do(req)
	if rr.Code != http.StatusOK {
		t.Fatalf("login page status=%d", rr.Code)
	}
	if got := rr.Header().Get("X-Request-ID"); got != "abc-123" {
		t.Errorf("X-Request-ID = %q, want abc-123", got)
	}
	if rr.Header().Get("Content-Security-Policy") == "" {
		t.Error("missing CSP header")
	}
	if !strings.Contains(rr.Header().Get("Cache-Control"), "no-store") {
		t.Errorf("auth pages must not be cached, Cache-Control=%q", rr.Header().Get("Cache-Control"))
	}

	rr = env.do(httptest.NewRequest(http.MethodTrace, "/", nil))
	if rr.Code != http.StatusMethodNotAllowed {
		t.Errorf("TRACE status=%d, want 405", rr.Code)
	}
}

func TestPrivateRoutesRequireSession(t *testing.T) {
	env := newTestEnv(t)

	rr := env.do(httptest.NewRequest(http.MethodGet, "/", nil))
	if rr.Code != http.StatusSeeOther || rr.Header().Get("Location") != "/login" {
		t.Errorf("dashboard without session: status=%d location=%q", rr.Code, rr.Header().Get("Location"))
	}

	rr = env.do(httptest.NewRequest(http.MethodGet, "/api/analytics/balance", nil))
	if rr.Code != http.StatusUnauthorized {
		t.Errorf("api without session: status=%d, want 401", rr.Code)
	}

	rr = env.do(jsonRequest(http.MethodPost, "/transactions", `{}`, &http.Cookie{Name: auth.SessionCookieName, Value: "forged"}))
	if rr.Code == http.StatusCreated {
		t.Error("forged session must not post transactions")
	}
}

func TestSignupVerifyLoginAndDashboard(t *testing.T) {
	env := newTestEnv(t)
	cookie := env.signIn(t, "ada@example.com")

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.AddCookie(cookie)
	rr := env.do(req)
	if rr.Code != http.StatusOK {
		t.Fatalf("dashboard status=%d body=%s", rr.Code, rr.Body.String())
	}
	if !strings.Contains(rr.Body.String(), "<title>Dashboard") {
		t.Error("dashboard title missing")
	}
	if !strings.Contains(rr.Body.String(), "Add a transaction") {
		t.Error("dashboard missing transaction form")
	}

	// Logging out kills the session.
	req = httptest.NewRequest(http.MethodPost, "/logout", nil)
	req.AddCookie(cookie)
	if rr := env.do(req); rr.Code != http.StatusSeeOther {
		t.Fatalf("logout status=%d", rr.Code)
	}
	req = httptest.NewRequest(http.MethodGet, "/", nil)
	req.AddCookie(cookie)
	if rr := env.do(req); rr.Code != http.StatusSeeOther {
		t.Errorf("dashboard after logout: status=%d, want redirect", rr.Code)
	}
}

func TestSignupRejectsBadInput(t *testing.T) {
	env := newTestEnv(t)
	tests := []struct {
		name       string
		form       url.Values
		wantStatus int
	}{
		{"invalid email", url.Values{"email": {"not-an-email"}, "password": {"long enough"}}, http.StatusUnprocessableEntity},
		{"weak password", url.Values{"email": {"bob@example.com"}, "password": {"short"}}, http.StatusUnprocessableEntity},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rr := env.do(formRequest(http.MethodPost, "/signup", tt.form))
			if rr.Code != tt.wantStatus {
				t.Errorf("status=%d, want %d", rr.Code, tt.wantStatus)
			}
			if !strings.Contains(rr.Body.String(), `class="error"`) {
				t.Error("expected the form to be re-rendered with an error")
			}
		})
	}

	env.signIn(t, "dup@example.com")
	rr := env.do(formRequest(http.MethodPost, "/signup", url.Values{
		"email": {"dup@example.com"}, "password": {"another password"},
	}))
	if rr.Code != http.StatusConflict {
		t.Errorf("duplicate signup status=%d, want 409", rr.Code)
	}
}

func TestLoginUnverifiedRedirectsToVerify(t *testing.T) {
	env := newTestEnv(t)
	env.do(formRequest(http.MethodPost, "/signup", url.Values{
		"email": {"new@example.com"}, "password": {"correct horse"},
	}))

	rr := env.do(formRequest(http.MethodPost, "/login", url.Values{
		"email": {"new@example.com"}, "password": {"correct horse"},
	}))
	if rr.Code != http.StatusSeeOther || !strings.HasPrefix(rr.Header().Get("Location"), "/verify") {
		t.Errorf("status=%d location=%q", rr.Code, rr.Header().Get("Location"))
	}

	rr = env.do(formRequest(http.MethodPost, "/login", url.Values{
		"email": {"new@example.com"}, "password": {"wrong password"},
	}))
	if rr.Code != http.StatusUnauthorized {
		t.Errorf("wrong password status=%d, want 401", rr.Code)
	}
}

func TestPasswordResetFlow(t *testing.T) {
	env := newTestEnv(t)
	env.signIn(t, "reset@example.com")

	rr := env.do(formRequest(http.MethodPost, "/password/forgot", url.Values{"email": {"reset@example.com"}}))
	if rr.Code != http.StatusOK {
		t.Fatalf("forgot status=%d", rr.Code)
	}
	// Unknown addresses get the same answer.
	rr = env.do(formRequest(http.MethodPost, "/password/forgot", url.Values{"email": {"nobody@example.com"}}))
	if rr.Code != http.StatusOK {
		t.Fatalf("forgot unknown status=%d", rr.Code)
	}

	var link string
	env.mailer.mu.Lock()
	for _, m := range env.mailer.sent {
		if m.To == "reset@example.com" && strings.Contains(m.Body, "/password/reset?token=") {
			link = regexp.MustCompile(`http\S+`).FindString(m.Body)
		}
	}
	env.mailer.mu.Unlock()
	if link == "" {
		t.Fatal("no reset link mailed")
	}
	u, err := url.Parse(link)
	if err != nil {
		t.Fatalf("bad link %q: %v", link, err)
	}
	token := u.Query().Get("token")

	rr = env.do(formRequest(http.MethodPost, "/password/reset", url.Values{"token": {token}, "password": {"brand new secret"}}))
	if rr.Code != http.StatusSeeOther {
		t.Fatalf("reset status=%d body=%s", rr.Code, rr.Body.String())
	}
	rr = env.do(formRequest(http.MethodPost, "/password/reset", url.Values{"token": {token}, "password": {"again new secret"}}))
	if rr.Code != http.StatusUnprocessableEntity {
		t.Errorf("reused token status=%d, want 422", rr.Code)
	}

	rr = env.do(formRequest(http.MethodPost, "/login", url.Values{
		"email": {"reset@example.com"}, "password": {"brand new secret"},
	}))
	if rr.Code != http.StatusSeeOther {
		t.Errorf("login with new password status=%d", rr.Code)
	}
}

func TestCreateTransactionValidation(t *testing.T) {
	env := newTestEnv(t)
	cookie := env.signIn(t, "val@example.com")

	tests := []struct {
		name string
		body string
	}{
		{"invalid amount", `{"amount":"abc","type":"debit","description":"x","category_id":1}`},
		{"negative amount", `{"amount":"-5","type":"debit","description":"x","category_id":1}`},
		{"bad type", `{"amount":"5","type":"refund","description":"x","category_id":1}`},
		{"empty description", `{"amount":"5","type":"debit","description":"  ","category_id":1}`},
		{"unknown category", `{"amount":"5","type":"debit","description":"x","category_id":99}`},
		{"bad date", `{"amount":"5","type":"debit","description":"x","category_id":1,"date":"01/02/2024"}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rr := env.do(jsonRequest(http.MethodPost, "/transactions", tt.body, cookie))
			if rr.Code != http.StatusUnprocessableEntity {
				t.Errorf("status=%d, want 422, body=%s", rr.Code, rr.Body.String())
			}
			var body map[string]string
			if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil || body["error"] == "" {
				t.Errorf("expected a JSON error body, got %s", rr.Body.String())
			}
		})
	}

	txs, err := env.store.ListTransactions(context.Background(), "val@example.com", time.Time{}, time.Time{})
	if err != nil {
		t.Fatal(err)
	}
	if len(txs) != 0 {
		t.Errorf("rejected transactions were persisted: %d", len(txs))
	}
}

func TestTransactionsUpdateBalanceAndBudget(t *testing.T) {
	env := newTestEnv(t)
	cookie := env.signIn(t, "flow@example.com")
	tomorrow := time.Now().UTC().AddDate(0, 0, 2).Format("2006-01-02")

	rr := env.do(jsonRequest(http.MethodPost, "/budgets",
		`{"category_id":"2","amount":"100","valid_until":"`+tomorrow+`"}`, cookie))
	if rr.Code != http.StatusCreated {
		t.Fatalf("create budget status=%d body=%s", rr.Code, rr.Body.String())
	}

	rr = env.do(jsonRequest(http.MethodPost, "/budgets",
		`{"category_id":"2","amount":"50","valid_until":"`+tomorrow+`"}`, cookie))
	if rr.Code != http.StatusConflict {
		t.Errorf("duplicate budget status=%d, want 409", rr.Code)
	}

	post := func(body string) postTransactionJSON {
		t.Helper()
		rr := env.do(jsonRequest(http.MethodPost, "/transactions", body, cookie))
		if rr.Code != http.StatusCreated {
			t.Fatalf("post transaction status=%d body=%s", rr.Code, rr.Body.String())
		}
		var out postTransactionJSON
		if err := json.Unmarshal(rr.Body.Bytes(), &out); err != nil {
			t.Fatalf("decode: %v", err)
		}
		return out
	}

	salary := post(`{"amount":"1000","type":"credit","description":"salary","category_id":12}`)
	if salary.Transaction.Balance != "1000.00" || salary.Budget != nil {
		t.Fatalf("credit: %+v", salary)
	}

	food := post(`{"amount":"60","type":"debit","description":"market","category":"Groceries"}`)
	if food.Transaction.Balance != "940.00" {
		t.Errorf("balance after debit = %s, want 940.00", food.Transaction.Balance)
	}
	if food.Budget == nil || food.Budget.Outcome != string(budget.OutcomeUpdated) || !food.Budget.Sent50 {
		t.Fatalf("first debit budget outcome: %+v", food.Budget)
	}

	more := post(`{"amount":"45","type":"debit","description":"market again","category_id":2}`)
	if more.Budget == nil || more.Budget.Outcome != string(budget.OutcomeArchivedLimit) || !more.Budget.Sent100 {
		t.Fatalf("second debit budget outcome: %+v", more.Budget)
	}
	if got := env.mailer.count("budget"); got != 2 {
		t.Errorf("threshold emails = %d, want 2", got)
	}

	rr = env.do(jsonRequest(http.MethodGet, "/budgets", "", cookie))
	var budgets budgetsJSON
	if err := json.Unmarshal(rr.Body.Bytes(), &budgets); err != nil {
		t.Fatalf("decode budgets: %v body=%s", err, rr.Body.String())
	}
	if len(budgets.Active) != 0 || len(budgets.Completed) != 1 || budgets.Completed[0].Reason != "limit_reached" {
		t.Errorf("budgets after limit: %+v", budgets)
	}

	// The dashboard was invalidated by the posts and reflects them.
	req := httptest.NewRequest(http.MethodGet, "/api/analytics/categories", nil)
	req.AddCookie(cookie)
	rr = env.do(req)
	var cats []categoryTotalJSON
	if err := json.Unmarshal(rr.Body.Bytes(), &cats); err != nil {
		t.Fatalf("decode categories: %v", err)
	}
	if len(cats) != 1 || cats[0].Total != "105.00" || cats[0].Count != 2 {
		t.Errorf("spending by category = %+v", cats)
	}

	req = httptest.NewRequest(http.MethodGet, "/api/analytics/balance", nil)
	req.AddCookie(cookie)
	rr = env.do(req)
	var balance []balancePointJSON
	if err := json.Unmarshal(rr.Body.Bytes(), &balance); err != nil {
		t.Fatalf("decode balance: %v", err)
	}
	if len(balance) != 3 || balance[2].Balance != "895.00" {
		t.Errorf("balance over time = %+v", balance)
	}

	req = httptest.NewRequest(http.MethodGet, "/api/analytics/income-expense", nil)
	req.AddCookie(cookie)
	rr = env.do(req)
	var ie incomeExpenseJSON
	if err := json.Unmarshal(rr.Body.Bytes(), &ie); err != nil {
		t.Fatalf("decode income-expense: %v", err)
	}
	if ie.Granularity != "day" || len(ie.Points) != 1 {
		t.Errorf("income vs expense = %+v", ie)
	}
}

func TestAnalyticsDateRange(t *testing.T) {
	env := newTestEnv(t)
	cookie := env.signIn(t, "range@example.com")

	for _, body := range []string{
		`{"amount":"10","type":"debit","description":"old","category_id":1,"date":"2023-05-01"}`,
		`{"amount":"20","type":"debit","description":"new","category_id":3,"date":"2024-05-01"}`,
	} {
		if rr := env.do(jsonRequest(http.MethodPost, "/transactions", body, cookie)); rr.Code != http.StatusCreated {
			t.Fatalf("post status=%d body=%s", rr.Code, rr.Body.String())
		}
	}

	req := httptest.NewRequest(http.MethodGet, "/api/analytics/categories?from=2024-01-01&to=2024-12-31", nil)
	req.AddCookie(cookie)
	rr := env.do(req)
	var cats []categoryTotalJSON
	if err := json.Unmarshal(rr.Body.Bytes(), &cats); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(cats) != 1 || cats[0].CategoryID != 3 {
		t.Errorf("ranged categories = %+v", cats)
	}

	req = httptest.NewRequest(http.MethodGet, "/api/analytics/categories?from=nope", nil)
	req.AddCookie(cookie)
	if rr := env.do(req); rr.Code != http.StatusUnprocessableEntity {
		t.Errorf("bad range status=%d, want 422", rr.Code)
	}
}

func TestHTMXTransactionTriggers(t *testing.T) {
	env := newTestEnv(t)
	cookie := env.signIn(t, "htmx@example.com")

	req := formRequest(http.MethodPost, "/transactions", url.Values{
		"amount": {"12,50"}, "type": {"debit"}, "description": {"<b>lunch</b>"}, "category_id": {"1"},
	})
	req.Header.Set("HX-Request", "true")
	req.AddCookie(cookie)
	rr := env.do(req)
	if rr.Code != http.StatusOK {
		t.Fatalf("status=%d body=%s", rr.Code, rr.Body.String())
	}
	trigger := rr.Header().Get("HX-Trigger")
	for _, want := range []string{`"transaction:posted"`, `"form:reset"`, `"balance":"-12.50"`} {
		if !strings.Contains(trigger, want) {
			t.Errorf("HX-Trigger missing %s: %s", want, trigger)
		}
	}
	if !strings.Contains(rr.Body.String(), "12.50") {
		t.Errorf("body = %s", rr.Body.String())
	}

	req = formRequest(http.MethodPost, "/transactions", url.Values{
		"amount": {"0"}, "type": {"debit"}, "description": {"x"}, "category_id": {"1"},
	})
	req.Header.Set("HX-Request", "true")
	req.AddCookie(cookie)
	rr = env.do(req)
	if rr.Code != http.StatusUnprocessableEntity || !strings.Contains(rr.Body.String(), `class="error"`) {
		t.Errorf("invalid HTMX post: status=%d body=%s", rr.Code, rr.Body.String())
	}
}

func TestPagesRender(t *testing.T) {
	env := newTestEnv(t)
	cookie := env.signIn(t, "pages@example.com")
	env.do(jsonRequest(http.MethodPost, "/transactions", `{"amount":"5","type":"debit","description":"tea","category_id":1}`, cookie))

	for _, path := range []string{"/", "/transactions", "/transactions?from=2000-01-01", "/budgets"} {
		req := httptest.NewRequest(http.MethodGet, path, nil)
		req.AddCookie(cookie)
		rr := env.do(req)
		if rr.Code != http.StatusOK {
			t.Errorf("%s status=%d body=%s", path, rr.Code, rr.Body.String())
		}
	}
	for _, path := range []string{"/signup", "/verify?email=a@b.co", "/login", "/password/forgot", "/password/reset?token=x"} {
		rr := env.do(httptest.NewRequest(http.MethodGet, path, nil))
		if rr.Code != http.StatusOK {
			t.Errorf("%s status=%d", path, rr.Code)
		}
	}
}

func TestCategoriesAPIAndStatic(t *testing.T) {
	env := newTestEnv(t)

	rr := env.do(httptest.NewRequest(http.MethodGet, "/api/categories", nil))
	var cats []categoryJSON
	if err := json.Unmarshal(rr.Body.Bytes(), &cats); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(cats) == 0 || cats[0].ID != 1 {
		t.Errorf("categories = %+v", cats)
	}

	rr = env.do(httptest.NewRequest(http.MethodGet, "/static/app.css", nil))
	if rr.Code != http.StatusOK {
		t.Errorf("static status=%d", rr.Code)
	}
}

func TestAuthRateLimit(t *testing.T) {
	env := newTestEnv(t)
	var last int
	for i := 0; i < 12; i++ {
		rr := env.do(formRequest(http.MethodPost, "/login", url.Values{
			"email": {"x@example.com"}, "password": {"whatever1"},
		}))
		last = rr.Code
	}
	if last != http.StatusTooManyRequests {
		t.Errorf("status after burst = %d, want 429", last)
	}
}
