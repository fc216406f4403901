package service

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/and161185/linkgate/internal/errs"
	"github.com/and161185/linkgate/internal/model"
	"github.com/and161185/linkgate/internal/repository"
)

type accRow struct {
	acc        model.Account
	refresh    string
	refreshExp time.Time
}

// memAccounts is an in-memory AccountRepository enforcing the same uniqueness
// and visibility rules as the PostgreSQL schema. Like pgx, every call fails
// with ctx.Err() once the context is done.
type memAccounts struct {
	mu     sync.Mutex
	nextID int64
	rows   map[int64]*accRow

	// beforeCreate runs (unlocked) ahead of every Create, letting tests inject a racing writer.
	beforeCreate func()

	findErr   error
	createErr error
	saveErr   error
	deleteErr error
}

var _ repository.AccountRepository = (*memAccounts)(nil)

func newMemAccounts() *memAccounts { return &memAccounts{rows: map[int64]*accRow{}} }

func (m *memAccounts) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.rows)
}

func (m *memAccounts) get(id int64) (model.Account, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.rows[id]
	if !ok {
		return model.Account{}, false
	}
	return r.acc, true
}

func (m *memAccounts) byProvider(provider, providerID string) *accRow {
	for _, r := range m.rows {
		if r.acc.Provider == provider && r.acc.ProviderID == providerID {
			return r
		}
	}
	return nil
}

func cp(a model.Account) *model.Account { return &a }

func (m *memAccounts) FindByProviderIncludingDeleted(ctx context.Context, provider, providerID string) (*model.Account, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.findErr != nil {
		return nil, m.findErr
	}
	if r := m.byProvider(provider, providerID); r != nil {
		return cp(r.acc), nil
	}
	return nil, errs.ErrNotFound
}

func (m *memAccounts) FindByID(ctx context.Context, id int64) (*model.Account, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if r, ok := m.rows[id]; ok && r.acc.Active() {
		return cp(r.acc), nil
	}
	return nil, errs.ErrNotFound
}

func (m *memAccounts) FindByRefreshToken(ctx context.Context, token string) (*model.Account, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, r := range m.rows {
		if token != "" && r.refresh == token && r.acc.Active() && r.refreshExp.After(time.Now()) {
			return cp(r.acc), nil
		}
	}
	return nil, errs.ErrNotFound
}

func (m *memAccounts) Create(ctx context.Context, a *model.Account) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if m.beforeCreate != nil {
		hook := m.beforeCreate
		m.beforeCreate = nil
		hook()
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.createErr != nil {
		return m.createErr
	}
	if m.byProvider(a.Provider, a.ProviderID) != nil {
		return errs.ErrAlreadyExists
	}
	m.nextID++
	a.ID = m.nextID
	a.CreatedAt = time.Now()
	a.UpdatedAt = a.CreatedAt
	m.rows[a.ID] = &accRow{acc: *a}
	return nil
}

func (m *memAccounts) Save(ctx context.Context, a *model.Account) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.saveErr != nil {
		return m.saveErr
	}
	r, ok := m.rows[a.ID]
	if !ok {
		return errs.ErrNotFound
	}
	digest := r.acc.RefreshTokenDigest
	r.acc = *a
	r.acc.RefreshTokenDigest = digest
	r.acc.UpdatedAt = time.Now()
	return nil
}

func (m *memAccounts) SetRefreshToken(ctx context.Context, id int64, token string, expiresAt time.Time) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.rows[id]
	if !ok || !r.acc.Active() {
		return errs.ErrNotFound
	}
	r.refresh, r.refreshExp = token, expiresAt
	r.acc.RefreshTokenDigest = nil
	if token != "" {
		r.acc.RefreshTokenDigest = []byte(token)
	}
	return nil
}

func (m *memAccounts) RotateRefreshToken(ctx context.Context, id int64, oldToken, newToken string, expiresAt time.Time) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.rows[id]
	if !ok || !r.acc.Active() || r.refresh != oldToken {
		return errs.ErrVersionConflict
	}
	r.refresh, r.refreshExp = newToken, expiresAt
	r.acc.RefreshTokenDigest = []byte(newToken)
	return nil
}

func (m *memAccounts) SoftDelete(ctx context.Context, id int64) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.deleteErr != nil {
		return m.deleteErr
	}
	r, ok := m.rows[id]
	if !ok || !r.acc.Active() {
		return errs.ErrNotFound
	}
	now := time.Now()
	r.acc.Status = model.StatusDeleted
	r.acc.DeletedAt = &now
	r.acc.RefreshTokenDigest = nil
	r.acc.ProviderAccessToken = ""
	r.acc.ProviderRefreshToken = ""
	r.refresh = ""
	return nil
}

// insertRaw bypasses Create, for simulating a concurrent writer.
func (m *memAccounts) insertRaw(a model.Account) int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextID++
	a.ID = m.nextID
	m.rows[a.ID] = &accRow{acc: a}
	return a.ID
}

type unlinkCall struct {
	provider, providerID, accessToken, refreshToken string
}

type fakeUnlinker struct {
	mu       sync.Mutex
	calls    []unlinkCall
	delay    time.Duration
	canceled bool // ctx ended before delay elapsed
}

func (f *fakeUnlinker) Unlink(ctx context.Context, provider, providerID, accessToken, refreshToken string) {
	f.mu.Lock()
	f.calls = append(f.calls, unlinkCall{provider, providerID, accessToken, refreshToken})
	f.mu.Unlock()
	if f.delay > 0 {
		select {
		case <-time.After(f.delay):
		case <-ctx.Done():
			f.mu.Lock()
			f.canceled = true
			f.mu.Unlock()
		}
	}
}

// spyStore counts writes and can fail on demand.
type spyStore struct {
	mu      sync.Mutex
	entries map[string]string
	puts    int
	putErr  error
	hasErr  error
}

func newSpyStore() *spyStore { return &spyStore{entries: map[string]string{}} }

func (s *spyStore) Put(ctx context.Context, token, reason string, ttl time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.puts++
	if s.putErr != nil {
		return s.putErr
	}
	if ttl <= 0 {
		return errors.New("spy: non-positive ttl reached the store")
	}
	s.entries[token] = reason
	return nil
}

func (s *spyStore) Contains(_ context.Context, token string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.hasErr != nil {
		return false, s.hasErr
	}
	_, ok := s.entries[token]
	return ok, nil
}

func (s *spyStore) Ping(context.Context) error { return nil }
