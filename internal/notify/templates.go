package notify

import (
	"bytes"
	"fmt"
	"text/template"
	"time"

	"spendwise/internal/core"

	"github.com/shopspring/decimal"
)

// ThresholdNotice carries what a budget threshold email needs.
type ThresholdNotice struct {
	Threshold    int // 50 or 100
	Email        string
	CategoryID   int
	BudgetAmount decimal.Decimal
	AmountSpent  decimal.Decimal
	ValidUntil   time.Time
}

var templates = template.Must(template.New("mail").Funcs(template.FuncMap{
	"money": core.FormatAmount,
	"date":  func(t time.Time) string { return t.Format("2 Jan 2006") },
}).Parse(`
{{define "otp"}}Your verification code is {{.Code}}.

It expires in {{.TTL}}. If you did not sign up, ignore this email.
{{end}}
{{define "reset"}}Someone asked to reset the password for this account.

Open this link to choose a new password:
{{.Link}}

The link expires in {{.TTL}}. If it was not you, ignore this email.
{{end}}
{{define "threshold"}}{{if ge .Threshold 100}}You have used your whole {{.Category}} budget.{{else}}You have used {{.Threshold}}% of your {{.Category}} budget.{{end}}

Budget: {{money .BudgetAmount}}
Spent:  {{money .AmountSpent}}
Valid until: {{date .ValidUntil}}
{{end}}`))

func render(name string, data any) (string, error) {
	var buf bytes.Buffer
	if err := templates.ExecuteTemplate(&buf, name, data); err != nil {
		return "", fmt.Errorf("render %s email: %w", name, err)
	}
	return buf.String(), nil
}

func otpMessage(to, code string, ttl time.Duration) (Message, error) {
	body, err := render("otp", map[string]any{"Code": code, "TTL": ttl})
	if err != nil {
		return Message{}, err
	}
	return Message{To: to, Subject: "Your Spendwise verification code", Body: body}, nil
}

func resetMessage(to, link string, ttl time.Duration) (Message, error) {
	body, err := render("reset", map[string]any{"Link": link, "TTL": ttl})
	if err != nil {
		return Message{}, err
	}
	return Message{To: to, Subject: "Reset your Spendwise password", Body: body}, nil
}

func thresholdMessage(n ThresholdNotice) (Message, error) {
	category := core.CategoryLabel(n.CategoryID)
	body, err := render("threshold", struct {
		ThresholdNotice
		Category string
	}{n, category})
	if err != nil {
		return Message{}, err
	}
	subject := fmt.Sprintf("%d%% of your %s budget used", n.Threshold, category)
	if n.Threshold >= 100 {
		subject = fmt.Sprintf("%s budget reached", category)
	}
	return Message{To: n.Email, Subject: subject, Body: body}, nil
}
