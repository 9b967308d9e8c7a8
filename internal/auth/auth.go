// Package auth implements accounts: sign up with email verification codes,
// password login with server-side sessions and password reset links.
package auth

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"fmt"
	"math/big"
	"net/url"
	"strings"
	"time"

	"spendwise/internal/core"
	applog "spendwise/internal/log"
	"spendwise/internal/ports"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"
)

const (
	CodeTTL         = 10 * time.Minute
	MaxCodeAttempts = 5
	ResetTTL        = 30 * time.Minute
	SessionTTL      = 30 * 24 * time.Hour
	MinPasswordLen  = 8
	maxNameLen      = 100
)

// CodeSender delivers verification codes and reset links.
type CodeSender interface {
	SendOTP(ctx context.Context, to, code string, ttl time.Duration) error
	SendPasswordReset(ctx context.Context, to, link string, ttl time.Duration) error
}

type Service struct {
	store      ports.AccountStore
	sender     CodeSender
	baseURL    string
	now        func() time.Time
	bcryptCost int
}

func NewService(store ports.AccountStore, sender CodeSender, baseURL string) *Service {
	return &Service{
		store:      store,
		sender:     sender,
		baseURL:    strings.TrimRight(baseURL, "/"),
		now:        time.Now,
		bcryptCost: bcrypt.DefaultCost,
	}
}

func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	return s
}

// WithBcryptCost lowers the hashing cost, used by tests.
func (s *Service) WithBcryptCost(cost int) *Service {
	s.bcryptCost = cost
	return s
}

func (s *Service) SignUp(ctx context.Context, email, name, password string) (core.User, error) {
	email = core.NormalizeEmail(email)
	if err := core.ValidateEmail(email); err != nil {
		return core.User{}, err
	}
	if len(password) < MinPasswordLen {
		return core.User{}, core.ErrWeakPassword
	}
	name = strings.TrimSpace(name)
	if len(name) > maxNameLen {
		name = name[:maxNameLen]
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), s.bcryptCost)
	if err != nil {
		return core.User{}, fmt.Errorf("hash password: %w", err)
	}

	user, err := s.store.CreateUser(ctx, core.User{
		Email:        email,
		Name:         name,
		PasswordHash: string(hash),
		CreatedAt:    s.now(),
	})
	if err != nil {
		if errors.Is(err, core.ErrEmailTaken) {
			return core.User{}, core.ErrEmailTaken
		}
		return core.User{}, fmt.Errorf("create user: %w", err)
	}

	if err := s.issueVerificationCode(ctx, email); err != nil {
		return user, err
	}

	logger(ctx).InfoContext(ctx, "User signed up", applog.FieldUser, email)
	return user, nil
}

// VerifyEmail redeems the latest verification code. Every wrong guess counts
// against the code; after MaxCodeAttempts the code is dead.
func (s *Service) VerifyEmail(ctx context.Context, email, code string) error {
	email = core.NormalizeEmail(email)
	user, err := s.store.UserByEmail(ctx, email)
	if errors.Is(err, core.ErrNotFound) {
		return core.ErrInvalidCode
	}
	if err != nil {
		return fmt.Errorf("load user: %w", err)
	}
	if user.Verified {
		return nil
	}

	c, err := s.store.LatestCode(ctx, email, core.PurposeVerify)
	if errors.Is(err, core.ErrNotFound) {
		return core.ErrInvalidCode
	}
	if err != nil {
		return fmt.Errorf("load code: %w", err)
	}
	if c.Attempts >= MaxCodeAttempts {
		return core.ErrTooManyTries
	}
	if !c.Usable(s.now()) {
		return core.ErrInvalidCode
	}

	if subtle.ConstantTimeCompare([]byte(hashSecret(strings.TrimSpace(code))), []byte(c.CodeHash)) != 1 {
		if err := s.store.IncrementAttempts(ctx, c.ID); err != nil {
			return fmt.Errorf("record attempt: %w", err)
		}
		logger(ctx).WarnContext(ctx, "Wrong verification code",
			applog.FieldUser, email,
			"attempts", c.Attempts+1)
		if c.Attempts+1 >= MaxCodeAttempts {
			return core.ErrTooManyTries
		}
		return core.ErrInvalidCode
	}

	if err := s.store.MarkCodeUsed(ctx, c.ID, s.now()); err != nil {
		return fmt.Errorf("mark code used: %w", err)
	}
	if err := s.store.MarkVerified(ctx, email); err != nil {
		return fmt.Errorf("mark verified: %w", err)
	}
	logger(ctx).InfoContext(ctx, "Email verified", applog.FieldUser, email)
	return nil
}

// ResendCode issues a fresh verification code. Unknown and already verified
// addresses are ignored.
func (s *Service) ResendCode(ctx context.Context, email string) error {
	email = core.NormalizeEmail(email)
	user, err := s.store.UserByEmail(ctx, email)
	if errors.Is(err, core.ErrNotFound) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("load user: %w", err)
	}
	if user.Verified {
		return nil
	}
	return s.issueVerificationCode(ctx, email)
}

func (s *Service) Login(ctx context.Context, email, password string) (core.Session, error) {
	email = core.NormalizeEmail(email)
	user, err := s.store.UserByEmail(ctx, email)
	if errors.Is(err, core.ErrNotFound) {
		logger(ctx).WarnContext(ctx, "Login failed", applog.FieldUser, email, applog.FieldReason, "unknown_user")
		return core.Session{}, core.ErrInvalidCredentials
	}
	if err != nil {
		return core.Session{}, fmt.Errorf("load user: %w", err)
	}
	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)); err != nil {
		logger(ctx).WarnContext(ctx, "Login failed", applog.FieldUser, email, applog.FieldReason, "invalid_password")
		return core.Session{}, core.ErrInvalidCredentials
	}
	if !user.Verified {
		return core.Session{}, core.ErrNotVerified
	}

	token, err := generateToken()
	if err != nil {
		return core.Session{}, fmt.Errorf("generate session token: %w", err)
	}
	now := s.now()
	sess := core.Session{Token: token, Email: email, ExpiresAt: now.Add(SessionTTL), CreatedAt: now}
	if err := s.store.CreateSession(ctx, sess); err != nil {
		return core.Session{}, fmt.Errorf("create session: %w", err)
	}
	logger(ctx).InfoContext(ctx, "Session created",
		applog.FieldUser, email,
		"expires_at", sess.ExpiresAt.Format(time.RFC3339))
	return sess, nil
}

func (s *Service) Logout(ctx context.Context, token string) error {
	if token == "" {
		return nil
	}
	if err := s.store.DeleteSession(ctx, token); err != nil {
		return fmt.Errorf("delete session: %w", err)
	}
	return nil
}

// Authenticate resolves a session token to its owner's email.
func (s *Service) Authenticate(ctx context.Context, token string) (string, error) {
	if token == "" {
		return "", core.ErrSessionExpired
	}
	sess, err := s.store.SessionByToken(ctx, token)
	if errors.Is(err, core.ErrNotFound) {
		return "", core.ErrSessionExpired
	}
	if err != nil {
		return "", fmt.Errorf("load session: %w", err)
	}
	if !s.now().Before(sess.ExpiresAt) {
		if err := s.store.DeleteSession(ctx, token); err != nil {
			logger(ctx).WarnContext(ctx, "Failed to drop expired session", applog.FieldError, err)
		}
		return "", core.ErrSessionExpired
	}
	return sess.Email, nil
}

// RequestPasswordReset mails a single-use reset link. It succeeds silently
// for unknown addresses so callers cannot probe for accounts.
func (s *Service) RequestPasswordReset(ctx context.Context, email string) error {
	email = core.NormalizeEmail(email)
	if err := core.ValidateEmail(email); err != nil {
		return err
	}
	if _, err := s.store.UserByEmail(ctx, email); err != nil {
		if errors.Is(err, core.ErrNotFound) {
			logger(ctx).DebugContext(ctx, "Password reset for unknown email", applog.FieldUser, email)
			return nil
		}
		return fmt.Errorf("load user: %w", err)
	}

	token := uuid.NewString()
	if err := s.store.SaveCode(ctx, core.OneTimeCode{
		Email:     email,
		Purpose:   core.PurposeReset,
		CodeHash:  hashSecret(token),
		ExpiresAt: s.now().Add(ResetTTL),
		CreatedAt: s.now(),
	}); err != nil {
		return fmt.Errorf("save reset token: %w", err)
	}

	link := s.baseURL + "/password/reset?token=" + url.QueryEscape(token)
	if err := s.sender.SendPasswordReset(ctx, email, link, ResetTTL); err != nil {
		return fmt.Errorf("send reset link: %w", err)
	}
	logger(ctx).InfoContext(ctx, "Password reset requested", applog.FieldUser, email)
	return nil
}

// ResetPassword consumes a reset token, sets the new password and signs the
// user out everywhere.
func (s *Service) ResetPassword(ctx context.Context, token, newPassword string) error {
	if len(newPassword) < MinPasswordLen {
		return core.ErrWeakPassword
	}
	token = strings.TrimSpace(token)
	if token == "" {
		return core.ErrInvalidCode
	}
	c, err := s.store.CodeByHash(ctx, core.PurposeReset, hashSecret(token))
	if errors.Is(err, core.ErrNotFound) {
		return core.ErrInvalidCode
	}
	if err != nil {
		return fmt.Errorf("load reset token: %w", err)
	}
	if !c.Usable(s.now()) {
		return core.ErrInvalidCode
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(newPassword), s.bcryptCost)
	if err != nil {
		return fmt.Errorf("hash password: %w", err)
	}
	if err := s.store.MarkCodeUsed(ctx, c.ID, s.now()); err != nil {
		return fmt.Errorf("mark token used: %w", err)
	}
	if err := s.store.UpdatePassword(ctx, c.Email, string(hash)); err != nil {
		return fmt.Errorf("update password: %w", err)
	}
	// Following the emailed link proves ownership of the address.
	if err := s.store.MarkVerified(ctx, c.Email); err != nil {
		return fmt.Errorf("mark verified: %w", err)
	}
	if err := s.store.DeleteSessionsFor(ctx, c.Email); err != nil {
		return fmt.Errorf("drop sessions: %w", err)
	}
	logger(ctx).InfoContext(ctx, "Password reset", applog.FieldUser, c.Email)
	return nil
}

func (s *Service) issueVerificationCode(ctx context.Context, email string) error {
	code, err := generateCode()
	if err != nil {
		return fmt.Errorf("generate code: %w", err)
	}
	if err := s.store.SaveCode(ctx, core.OneTimeCode{
		Email:     email,
		Purpose:   core.PurposeVerify,
		CodeHash:  hashSecret(code),
		ExpiresAt: s.now().Add(CodeTTL),
		CreatedAt: s.now(),
	}); err != nil {
		return fmt.Errorf("save code: %w", err)
	}
	if err := s.sender.SendOTP(ctx, email, code, CodeTTL); err != nil {
		return fmt.Errorf("send verification code: %w", err)
	}
	return nil
}

// generateCode returns a uniformly random 6-digit code.
func generateCode() (string, error) {
	n, err := rand.Int(rand.Reader, big.NewInt(1_000_000))
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%06d", n.Int64()), nil
}

func generateToken() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}

func hashSecret(secret string) string {
	sum := sha256.Sum256([]byte(secret))
	return hex.EncodeToString(sum[:])
}

func logger(ctx context.Context) *applog.Logger {
	return applog.FromContext(ctx).WithComponent(applog.ComponentAuth)
}
