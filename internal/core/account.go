package core

import "time"

const (
	PurposeVerify CodePurpose = "verify"
	PurposeReset  CodePurpose = "reset"
)

type (
	CodePurpose string

	User struct {
		ID           int64
		Email        string
		Name         string
		PasswordHash string
		Verified     bool
		CreatedAt    time.Time
	}

	// OneTimeCode backs both email verification codes and password reset
	// tokens. Only the SHA-256 of the secret is stored.
	OneTimeCode struct {
		ID        int64
		Email     string
		Purpose   CodePurpose
		CodeHash  string
		ExpiresAt time.Time
		Attempts  int
		UsedAt    time.Time
		CreatedAt time.Time
	}

	Session struct {
		Token     string
		Email     string
		ExpiresAt time.Time
		CreatedAt time.Time
	}
)

// Usable reports whether the code can still be redeemed at now.
func (c OneTimeCode) Usable(now time.Time) bool {
	return c.UsedAt.IsZero() && now.Before(c.ExpiresAt)
}
