package core

import (
	"errors"
	"net/mail"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

const (
	Credit TxType = "credit"
	Debit  TxType = "debit"
)

const (
	BudgetActive    BudgetStatus = "active"
	BudgetCompleted BudgetStatus = "completed"
)

const (
	ReasonLimitReached ArchiveReason = "limit_reached"
	ReasonExpired      ArchiveReason = "expired"
)

type (
	TxType        string
	BudgetStatus  string
	ArchiveReason string

	// Transaction is immutable once written. Balance is the owner's running
	// balance right after this transaction and is never recomputed.
	Transaction struct {
		ID          int64
		Email       string
		Amount      decimal.Decimal
		Type        TxType
		Description string
		CategoryID  int
		DateTime    time.Time
		Balance     decimal.Decimal
	}

	Budget struct {
		ID           int64
		Email        string
		CategoryID   int
		BudgetAmount decimal.Decimal
		AmountSpent  decimal.Decimal
		CreatedAt    time.Time
		ValidUntil   time.Time
		EmailSent50  bool
		EmailSent100 bool
		Status       BudgetStatus
		Version      int64 // bumped on every spend update
		CompletedAt  time.Time
		Reason       ArchiveReason
	}

	// CompletedBudget is the archived, write-once view of a budget.
	CompletedBudget struct {
		ID           int64
		Email        string
		CategoryID   int
		BudgetAmount decimal.Decimal
		AmountSpent  decimal.Decimal
		ValidUntil   time.Time
		CompletedAt  time.Time
		Reason       ArchiveReason
	}
)

var (
	ErrInvalidEmail       = errors.New("invalid email")
	ErrInvalidAmount      = errors.New("invalid amount")
	ErrInvalidType        = errors.New("invalid transaction type")
	ErrInvalidCategory    = errors.New("invalid category")
	ErrInvalidDate        = errors.New("invalid date")
	ErrEmptyDescription   = errors.New("empty description")
	ErrDescriptionTooLong = errors.New("description too long (max 200 characters)")

	ErrNotFound           = errors.New("not found")
	ErrConflict           = errors.New("concurrent update conflict")
	ErrBudgetExists       = errors.New("an active budget already exists for this category")
	ErrBudgetWindow       = errors.New("budget must end in the future")
	ErrBudgetSeed         = errors.New("initial spent amount cannot be negative")
	ErrEmailTaken         = errors.New("email already registered")
	ErrNotVerified        = errors.New("email not verified")
	ErrInvalidCode        = errors.New("invalid or expired code")
	ErrTooManyTries       = errors.New("too many attempts")
	ErrWeakPassword       = errors.New("password must be at least 8 characters")
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrSessionExpired     = errors.New("session expired")
)

// IsValidationError reports whether err is a user input problem that must be
// rejected before any persistence.
func IsValidationError(err error) bool {
	for _, target := range []error{
		ErrInvalidEmail, ErrInvalidAmount, ErrInvalidType, ErrInvalidCategory,
		ErrInvalidDate, ErrEmptyDescription, ErrDescriptionTooLong,
		ErrBudgetExists, ErrBudgetWindow, ErrBudgetSeed, ErrWeakPassword,
	} {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}

// NormalizeEmail lowercases and trims an address; it is the owner key
// everywhere.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

func ValidateEmail(email string) error {
	email = strings.TrimSpace(email)
	if email == "" || len(email) > 254 {
		return ErrInvalidEmail
	}
	addr, err := mail.ParseAddress(email)
	if err != nil || addr.Address != email {
		return ErrInvalidEmail
	}
	return nil
}

func (t TxType) Valid() bool {
	return t == Credit || t == Debit
}

func (t Transaction) Validate() error {
	if err := ValidateEmail(t.Email); err != nil {
		return err
	}
	if !t.Amount.IsPositive() {
		return ErrInvalidAmount
	}
	if !t.Type.Valid() {
		return ErrInvalidType
	}
	if !ValidCategory(t.CategoryID) {
		return ErrInvalidCategory
	}
	if t.DateTime.IsZero() {
		return ErrInvalidDate
	}
	if len(strings.TrimSpace(t.Description)) == 0 {
		return ErrEmptyDescription
	}
	if len(t.Description) > 200 {
		return ErrDescriptionTooLong
	}
	return nil
}

func (b Budget) Validate() error {
	if err := ValidateEmail(b.Email); err != nil {
		return err
	}
	if !ValidCategory(b.CategoryID) {
		return ErrInvalidCategory
	}
	if !b.BudgetAmount.IsPositive() {
		return ErrInvalidAmount
	}
	if b.AmountSpent.IsNegative() {
		return ErrBudgetSeed
	}
	if b.ValidUntil.IsZero() || b.CreatedAt.IsZero() {
		return ErrInvalidDate
	}
	if !b.ValidUntil.After(b.CreatedAt) {
		return ErrBudgetWindow
	}
	return nil
}

// Ratio returns AmountSpent / BudgetAmount.
func (b Budget) Ratio() decimal.Decimal {
	if b.BudgetAmount.IsZero() {
		return decimal.Zero
	}
	return b.AmountSpent.Div(b.BudgetAmount)
}

// InWindow reports whether t lies in [CreatedAt, ValidUntil], both ends
// inclusive.
func (b Budget) InWindow(t time.Time) bool {
	return !t.Before(b.CreatedAt) && !t.After(b.ValidUntil)
}

// Expired reports whether t is at or past ValidUntil. Callers check InWindow
// first, so equality with ValidUntil only matters when InWindow was false.
func (b Budget) Expired(t time.Time) bool {
	return !t.Before(b.ValidUntil)
}

func (b Budget) Completed() CompletedBudget {
	return CompletedBudget{
		ID:           b.ID,
		Email:        b.Email,
		CategoryID:   b.CategoryID,
		BudgetAmount: b.BudgetAmount,
		AmountSpent:  b.AmountSpent,
		ValidUntil:   b.ValidUntil,
		CompletedAt:  b.CompletedAt,
		Reason:       b.Reason,
	}
}

// Remaining is BudgetAmount - AmountSpent; it may be negative.
func (b Budget) Remaining() decimal.Decimal {
	return b.BudgetAmount.Sub(b.AmountSpent)
}
