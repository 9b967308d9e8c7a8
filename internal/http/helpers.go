package http

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"spendwise/internal/core"

	"github.com/shopspring/decimal"
)

// statusFor maps a service error to the response status.
func statusFor(err error) int {
	switch {
	case errors.Is(err, core.ErrBudgetExists), errors.Is(err, core.ErrEmailTaken):
		return http.StatusConflict
	case errors.Is(err, core.ErrTooManyTries):
		return http.StatusTooManyRequests
	case errors.Is(err, core.ErrInvalidCredentials):
		return http.StatusUnauthorized
	case errors.Is(err, core.ErrNotVerified):
		return http.StatusForbidden
	case core.IsValidationError(err), errors.Is(err, core.ErrInvalidCode):
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}

// userMessage hides internal errors behind a generic text.
func userMessage(err error) string {
	if statusFor(err) == http.StatusInternalServerError {
		return "Something went wrong, please try again"
	}
	return err.Error()
}

// progressWidth turns a budget percentage into a bar width in [0, 100]. Very
// small but non-zero values stay visible.
func progressWidth(percent int64) int64 {
	switch {
	case percent <= 0:
		return 0
	case percent < 2:
		return 2
	case percent > 100:
		return 100
	default:
		return percent
	}
}

// sanitizeInput removes control characters and trims whitespace.
func sanitizeInput(s string) string {
	s = strings.TrimSpace(s)
	return strings.Map(func(r rune) rune {
		if r < 32 && r != 9 && r != 10 && r != 13 {
			return -1
		}
		return r
	}, s)
}

// wantsJSON reports whether the client asked for a JSON response.
func wantsJSON(r *http.Request) bool {
	return strings.Contains(r.Header.Get("Accept"), "application/json") ||
		strings.HasPrefix(r.Header.Get("Content-Type"), "application/json")
}

func isHTMX(r *http.Request) bool {
	return r.Header.Get("HX-Request") == "true"
}

// writeJSON writes data as a JSON response with the given status.
func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

// writeError writes {"error": msg}.
func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func amount(d decimal.Decimal) string {
	return core.FormatAmount(d)
}
