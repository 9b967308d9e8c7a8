package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"spendwise/internal/core"
)

const (
	insertUserSQL = `
INSERT INTO users (email, name, password_hash, verified, created_at)
VALUES (?, ?, ?, ?, ?)`

	userByEmailSQL = `
SELECT id, email, name, password_hash, verified, created_at
FROM users
WHERE email = ?`

	markVerifiedSQL   = `UPDATE users SET verified = 1 WHERE email = ?`
	updatePasswordSQL = `UPDATE users SET password_hash = ? WHERE email = ?`

	deleteOpenCodesSQL = `
DELETE FROM one_time_codes
WHERE email = ? AND purpose = ? AND used_at IS NULL`

	insertCodeSQL = `
INSERT INTO one_time_codes (email, purpose, code_hash, expires_at, attempts, created_at)
VALUES (?, ?, ?, ?, 0, ?)`

	codeCols = `id, email, purpose, code_hash, expires_at, attempts, used_at, created_at`

	latestCodeSQL = `
SELECT ` + codeCols + `
FROM one_time_codes
WHERE email = ? AND purpose = ?
ORDER BY id DESC
LIMIT 1`

	codeByHashSQL = `
SELECT ` + codeCols + `
FROM one_time_codes
WHERE purpose = ? AND code_hash = ?
ORDER BY id DESC
LIMIT 1`

	incrementAttemptsSQL = `UPDATE one_time_codes SET attempts = attempts + 1 WHERE id = ?`
	markCodeUsedSQL      = `UPDATE one_time_codes SET used_at = ? WHERE id = ? AND used_at IS NULL`

	insertSessionSQL = `
INSERT INTO sessions (token, email, expires_at, created_at)
VALUES (?, ?, ?, ?)`

	sessionByTokenSQL = `
SELECT token, email, expires_at, created_at
FROM sessions
WHERE token = ?`

	deleteSessionSQL     = `DELETE FROM sessions WHERE token = ?`
	deleteSessionsForSQL = `DELETE FROM sessions WHERE email = ?`
)

func (r *SQLiteRepository) CreateUser(ctx context.Context, u core.User) (core.User, error) {
	res, err := r.db.ExecContext(ctx, insertUserSQL, u.Email, u.Name, u.PasswordHash, boolInt(u.Verified), formatTime(u.CreatedAt))
	if isUniqueViolation(err) {
		return core.User{}, core.ErrEmailTaken
	}
	if err != nil {
		return core.User{}, fmt.Errorf("insert user: %w", err)
	}
	if u.ID, err = res.LastInsertId(); err != nil {
		return core.User{}, fmt.Errorf("insert user id: %w", err)
	}
	return u, nil
}

func (r *SQLiteRepository) UserByEmail(ctx context.Context, email string) (core.User, error) {
	var (
		u         core.User
		verified  int
		createdAt string
	)
	err := r.db.QueryRowContext(ctx, userByEmailSQL, email).
		Scan(&u.ID, &u.Email, &u.Name, &u.PasswordHash, &verified, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return core.User{}, core.ErrNotFound
	}
	if err != nil {
		return core.User{}, fmt.Errorf("user by email: %w", err)
	}
	u.Verified = verified != 0
	if u.CreatedAt, err = parseTime(createdAt); err != nil {
		return core.User{}, err
	}
	return u, nil
}

func (r *SQLiteRepository) MarkVerified(ctx context.Context, email string) error {
	return r.execOne(ctx, "mark verified", markVerifiedSQL, email)
}

func (r *SQLiteRepository) UpdatePassword(ctx context.Context, email, hash string) error {
	return r.execOne(ctx, "update password", updatePasswordSQL, hash, email)
}

// SaveCode drops the previous unused code of the same purpose and inserts
// the new one in a single transaction.
func (r *SQLiteRepository) SaveCode(ctx context.Context, c core.OneTimeCode) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin save code: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, deleteOpenCodesSQL, c.Email, string(c.Purpose)); err != nil {
		return fmt.Errorf("delete open codes: %w", err)
	}
	created := c.CreatedAt
	if created.IsZero() {
		created = time.Now()
	}
	if _, err := tx.ExecContext(ctx, insertCodeSQL, c.Email, string(c.Purpose), c.CodeHash, formatTime(c.ExpiresAt), formatTime(created)); err != nil {
		return fmt.Errorf("insert code: %w", err)
	}
	return tx.Commit()
}

func (r *SQLiteRepository) LatestCode(ctx context.Context, email string, purpose core.CodePurpose) (core.OneTimeCode, error) {
	return r.queryCode(ctx, latestCodeSQL, email, string(purpose))
}

func (r *SQLiteRepository) CodeByHash(ctx context.Context, purpose core.CodePurpose, hash string) (core.OneTimeCode, error) {
	return r.queryCode(ctx, codeByHashSQL, string(purpose), hash)
}

func (r *SQLiteRepository) IncrementAttempts(ctx context.Context, id int64) error {
	return r.execOne(ctx, "increment attempts", incrementAttemptsSQL, id)
}

func (r *SQLiteRepository) MarkCodeUsed(ctx context.Context, id int64, at time.Time) error {
	return r.execOne(ctx, "mark code used", markCodeUsedSQL, formatTime(at), id)
}

func (r *SQLiteRepository) queryCode(ctx context.Context, query string, args ...any) (core.OneTimeCode, error) {
	var (
		c                    core.OneTimeCode
		purpose              string
		expiresAt, createdAt string
		usedAt               sql.NullString
	)
	err := r.db.QueryRowContext(ctx, query, args...).
		Scan(&c.ID, &c.Email, &purpose, &c.CodeHash, &expiresAt, &c.Attempts, &usedAt, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return core.OneTimeCode{}, core.ErrNotFound
	}
	if err != nil {
		return core.OneTimeCode{}, fmt.Errorf("query code: %w", err)
	}
	c.Purpose = core.CodePurpose(purpose)
	if c.ExpiresAt, err = parseTime(expiresAt); err != nil {
		return core.OneTimeCode{}, err
	}
	if c.CreatedAt, err = parseTime(createdAt); err != nil {
		return core.OneTimeCode{}, err
	}
	if c.UsedAt, err = parseNullTime(usedAt); err != nil {
		return core.OneTimeCode{}, err
	}
	return c, nil
}

func (r *SQLiteRepository) CreateSession(ctx context.Context, s core.Session) error {
	_, err := r.db.ExecContext(ctx, insertSessionSQL, s.Token, s.Email, formatTime(s.ExpiresAt), formatTime(s.CreatedAt))
	if err != nil {
		return fmt.Errorf("insert session: %w", err)
	}
	return nil
}

func (r *SQLiteRepository) SessionByToken(ctx context.Context, token string) (core.Session, error) {
	var (
		s                    core.Session
		expiresAt, createdAt string
	)
	err := r.db.QueryRowContext(ctx, sessionByTokenSQL, token).Scan(&s.Token, &s.Email, &expiresAt, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return core.Session{}, core.ErrNotFound
	}
	if err != nil {
		return core.Session{}, fmt.Errorf("session by token: %w", err)
	}
	if s.ExpiresAt, err = parseTime(expiresAt); err != nil {
		return core.Session{}, err
	}
	if s.CreatedAt, err = parseTime(createdAt); err != nil {
		return core.Session{}, err
	}
	return s, nil
}

func (r *SQLiteRepository) DeleteSession(ctx context.Context, token string) error {
	if _, err := r.db.ExecContext(ctx, deleteSessionSQL, token); err != nil {
		return fmt.Errorf("delete session: %w", err)
	}
	return nil
}

func (r *SQLiteRepository) DeleteSessionsFor(ctx context.Context, email string) error {
	if _, err := r.db.ExecContext(ctx, deleteSessionsForSQL, email); err != nil {
		return fmt.Errorf("delete sessions: %w", err)
	}
	return nil
}

// execOne runs an update that must touch exactly one row.
func (r *SQLiteRepository) execOne(ctx context.Context, op, query string, args ...any) error {
	res, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("%s rows: %w", op, err)
	}
	if n == 0 {
		return core.ErrNotFound
	}
	return nil
}
