// Package memory is an in-process store with the same semantics as the SQLite
// repository. It backs the memory backend and the service tests.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"spendwise/internal/core"

	"github.com/shopspring/decimal"
)

type Store struct {
	mu       sync.Mutex
	nextID   int64
	txs      []core.Transaction
	budgets  map[int64]*core.Budget
	users    map[string]core.User
	codes    []core.OneTimeCode
	sessions map[string]core.Session
}

func New() *Store {
	return &Store{
		budgets:  make(map[int64]*core.Budget),
		users:    make(map[string]core.User),
		sessions: make(map[string]core.Session),
	}
}

func (s *Store) id() int64 {
	s.nextID++
	return s.nextID
}

func (s *Store) Ping(context.Context) error { return nil }
func (s *Store) Close() error               { return nil }

// Transactions

func (s *Store) InsertTransaction(_ context.Context, tx core.Transaction) (core.Transaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	tx.ID = s.id()
	s.txs = append(s.txs, tx)
	return tx, nil
}

func (s *Store) LatestTransaction(_ context.Context, email string) (core.Transaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var (
		latest core.Transaction
		found  bool
	)
	for _, tx := range s.txs {
		if tx.Email != email {
			continue
		}
		// later insert wins ties on DateTime
		if !found || !tx.DateTime.Before(latest.DateTime) {
			latest, found = tx, true
		}
	}
	if !found {
		return core.Transaction{}, core.ErrNotFound
	}
	return latest, nil
}

func (s *Store) ListTransactions(_ context.Context, email string, from, to time.Time) ([]core.Transaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []core.Transaction
	for _, tx := range s.txs {
		if tx.Email != email {
			continue
		}
		if !from.IsZero() && tx.DateTime.Before(from) {
			continue
		}
		if !to.IsZero() && tx.DateTime.After(to) {
			continue
		}
		out = append(out, tx)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].DateTime.Before(out[j].DateTime) })
	return out, nil
}

// Budgets

func (s *Store) activeLocked(email string, categoryID int) *core.Budget {
	for _, b := range s.budgets {
		if b.Status == core.BudgetActive && b.Email == email && b.CategoryID == categoryID {
			return b
		}
	}
	return nil
}

func (s *Store) CreateBudget(_ context.Context, b core.Budget) (core.Budget, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.activeLocked(b.Email, b.CategoryID) != nil {
		return core.Budget{}, core.ErrBudgetExists
	}
	b.ID = s.id()
	b.Status = core.BudgetActive
	b.Version = 1
	stored := b
	s.budgets[b.ID] = &stored
	return b, nil
}

func (s *Store) ActiveBudget(_ context.Context, email string, categoryID int) (core.Budget, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if b := s.activeLocked(email, categoryID); b != nil {
		return *b, nil
	}
	return core.Budget{}, core.ErrNotFound
}

func (s *Store) ListActiveBudgets(_ context.Context, email string) ([]core.Budget, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []core.Budget
	for _, b := range s.budgets {
		if b.Status == core.BudgetActive && b.Email == email {
			out = append(out, *b)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CategoryID < out[j].CategoryID })
	return out, nil
}

func (s *Store) ListCompletedBudgets(_ context.Context, email string) ([]core.CompletedBudget, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []core.CompletedBudget
	for _, b := range s.budgets {
		if b.Status == core.BudgetCompleted && b.Email == email {
			out = append(out, b.Completed())
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CompletedAt.Equal(out[j].CompletedAt) {
			return out[i].CompletedAt.After(out[j].CompletedAt)
		}
		return out[i].ID > out[j].ID
	})
	return out, nil
}

func (s *Store) UpdateSpent(_ context.Context, id, expectedVersion int64, spent decimal.Decimal) (core.Budget, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.budgets[id]
	if !ok || b.Status != core.BudgetActive {
		return core.Budget{}, core.ErrNotFound
	}
	if b.Version != expectedVersion {
		return core.Budget{}, core.ErrConflict
	}
	b.AmountSpent = spent
	b.Version++
	return *b, nil
}

func (s *Store) SetThresholdFlag(_ context.Context, id int64, threshold int, sent bool) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.budgets[id]
	if !ok || b.Status != core.BudgetActive {
		return false, nil
	}
	var flag *bool
	switch threshold {
	case 50:
		flag = &b.EmailSent50
	case 100:
		flag = &b.EmailSent100
	default:
		return false, fmt.Errorf("unknown threshold %d", threshold)
	}
	if *flag == sent {
		return false, nil
	}
	*flag = sent
	return true, nil
}

func (s *Store) ArchiveBudget(_ context.Context, id int64, reason core.ArchiveReason, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.budgets[id]
	if !ok || b.Status != core.BudgetActive {
		return core.ErrNotFound
	}
	b.Status = core.BudgetCompleted
	b.Reason = reason
	b.CompletedAt = at
	return nil
}

func (s *Store) ExpiredBudgets(_ context.Context, now time.Time) ([]core.Budget, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []core.Budget
	for _, b := range s.budgets {
		if b.Status == core.BudgetActive && b.ValidUntil.Before(now) {
			out = append(out, *b)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// Accounts

func (s *Store) CreateUser(_ context.Context, u core.User) (core.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.users[u.Email]; ok {
		return core.User{}, core.ErrEmailTaken
	}
	u.ID = s.id()
	s.users[u.Email] = u
	return u, nil
}

func (s *Store) UserByEmail(_ context.Context, email string) (core.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[email]
	if !ok {
		return core.User{}, core.ErrNotFound
	}
	return u, nil
}

func (s *Store) MarkVerified(_ context.Context, email string) error {
	return s.updateUser(email, func(u *core.User) { u.Verified = true })
}

func (s *Store) UpdatePassword(_ context.Context, email, hash string) error {
	return s.updateUser(email, func(u *core.User) { u.PasswordHash = hash })
}

func (s *Store) updateUser(email string, fn func(*core.User)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[email]
	if !ok {
		return core.ErrNotFound
	}
	fn(&u)
	s.users[email] = u
	return nil
}

func (s *Store) SaveCode(_ context.Context, c core.OneTimeCode) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	kept := s.codes[:0]
	for _, old := range s.codes {
		if old.Email == c.Email && old.Purpose == c.Purpose && old.UsedAt.IsZero() {
			continue
		}
		kept = append(kept, old)
	}
	c.ID = s.id()
	s.codes = append(kept, c)
	return nil
}

func (s *Store) LatestCode(_ context.Context, email string, purpose core.CodePurpose) (core.OneTimeCode, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := len(s.codes) - 1; i >= 0; i-- {
		if c := s.codes[i]; c.Email == email && c.Purpose == purpose {
			return c, nil
		}
	}
	return core.OneTimeCode{}, core.ErrNotFound
}

func (s *Store) CodeByHash(_ context.Context, purpose core.CodePurpose, hash string) (core.OneTimeCode, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, c := range s.codes {
		if c.Purpose == purpose && c.CodeHash == hash {
			return c, nil
		}
	}
	return core.OneTimeCode{}, core.ErrNotFound
}

func (s *Store) IncrementAttempts(_ context.Context, id int64) error {
	return s.updateCode(id, func(c *core.OneTimeCode) { c.Attempts++ })
}

func (s *Store) MarkCodeUsed(_ context.Context, id int64, at time.Time) error {
	return s.updateCode(id, func(c *core.OneTimeCode) { c.UsedAt = at })
}

func (s *Store) updateCode(id int64, fn func(*core.OneTimeCode)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.codes {
		if s.codes[i].ID == id {
			fn(&s.codes[i])
			return nil
		}
	}
	return core.ErrNotFound
}

func (s *Store) CreateSession(_ context.Context, sess core.Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessions[sess.Token] = sess
	return nil
}

func (s *Store) SessionByToken(_ context.Context, token string) (core.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[token]
	if !ok {
		return core.Session{}, core.ErrNotFound
	}
	return sess, nil
}

func (s *Store) DeleteSession(_ context.Context, token string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sessions, token)
	return nil
}

func (s *Store) DeleteSessionsFor(_ context.Context, email string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for token, sess := range s.sessions {
		if sess.Email == email {
			delete(s.sessions, token)
		}
	}
	return nil
}
