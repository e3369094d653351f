package account

import (
	"context"
	"database/sql"
	"sync"
	"time"

	"accounts-service/internal/session"
)

// memAccounts is an in-memory Store with the same error contract as the
// Postgres repository.
type memAccounts struct {
	mu    sync.Mutex
	byID  map[string]Account
	order []string
}

func newMemAccounts() *memAccounts {
	return &memAccounts{byID: make(map[string]Account)}
}

func (m *memAccounts) GetByID(ctx context.Context, id string) (Account, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	account, ok := m.byID[id]
	if !ok {
		return Account{}, sql.ErrNoRows
	}
	return account, nil
}

func (m *memAccounts) GetByEmail(ctx context.Context, email string) (Account, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, id := range m.order {
		if m.byID[id].Email == email {
			return m.byID[id], nil
		}
	}
	return Account{}, sql.ErrNoRows
}

func (m *memAccounts) FindByResetToken(ctx context.Context, token string, now time.Time) (Account, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, id := range m.order {
		account := m.byID[id]
		if account.ResetToken == token && account.ResetTokenExpiresAt != nil && account.ResetTokenExpiresAt.After(now) {
			return account, nil
		}
	}
	return Account{}, sql.ErrNoRows
}

func (m *memAccounts) FindByVerificationToken(ctx context.Context, token string) (Account, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, id := range m.order {
		if m.byID[id].VerificationToken == token {
			return m.byID[id], nil
		}
	}
	return Account{}, sql.ErrNoRows
}

func (m *memAccounts) Count(ctx context.Context) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	return len(m.order), nil
}

func (m *memAccounts) List(ctx context.Context) ([]Account, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	accounts := make([]Account, 0, len(m.order))
	for _, id := range m.order {
		accounts = append(accounts, m.byID[id])
	}
	return accounts, nil
}

func (m *memAccounts) Create(ctx context.Context, account Account) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, id := range m.order {
		if m.byID[id].Email == account.Email {
			return ErrDuplicateEmail
		}
	}
	m.byID[account.ID] = account
	m.order = append(m.order, account.ID)
	return nil
}

func (m *memAccounts) Update(ctx context.Context, account Account) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.byID[account.ID]; !ok {
		return sql.ErrNoRows
	}
	for _, id := range m.order {
		if id != account.ID && m.byID[id].Email == account.Email {
			return ErrDuplicateEmail
		}
	}
	m.byID[account.ID] = account
	return nil
}

func (m *memAccounts) Delete(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.byID[id]; !ok {
		return sql.ErrNoRows
	}
	delete(m.byID, id)
	for i, existing := range m.order {
		if existing == id {
			m.order = append(m.order[:i], m.order[i+1:]...)
			break
		}
	}
	return nil
}

// memTokens mirrors the Postgres token store, including the
// only-one-rotation-wins rule.
type memTokens struct {
	mu      sync.Mutex
	byValue map[string]session.RefreshToken
}

func newMemTokens() *memTokens {
	return &memTokens{byValue: make(map[string]session.RefreshToken)}
}

func (m *memTokens) Create(ctx context.Context, token session.RefreshToken) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.byValue[token.Token] = token
	return nil
}

func (m *memTokens) GetByValue(ctx context.Context, value string) (session.RefreshToken, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	token, ok := m.byValue[value]
	if !ok {
		return session.RefreshToken{}, sql.ErrNoRows
	}
	return token, nil
}

func (m *memTokens) Rotate(ctx context.Context, oldValue string, next session.RefreshToken, ip string, now time.Time) (session.RefreshToken, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	old, ok := m.byValue[oldValue]
	if !ok || !old.IsActive(now) {
		return session.RefreshToken{}, session.ErrInvalidToken
	}

	next.AccountID = old.AccountID
	m.byValue[next.Token] = next

	old.RevokedAt = &now
	old.RevokedByIP = ip
	old.ReplacedByToken = next.Token
	m.byValue[oldValue] = old

	return next, nil
}

func (m *memTokens) Revoke(ctx context.Context, value, ip string, now time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	token, ok := m.byValue[value]
	if !ok || !token.IsActive(now) {
		return session.ErrInvalidToken
	}

	token.RevokedAt = &now
	token.RevokedByIP = ip
	m.byValue[value] = token
	return nil
}

// recordingNotifier captures dispatched notices.
type recordingNotifier struct {
	mu                sync.Mutex
	alreadyRegistered []string
	verifications     []string
	passwordResets    []string
	lastResetToken    string
}

func (n *recordingNotifier) AlreadyRegistered(ctx context.Context, email string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.alreadyRegistered = append(n.alreadyRegistered, email)
}

func (n *recordingNotifier) Verification(ctx context.Context, email, token string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.verifications = append(n.verifications, email)
}

func (n *recordingNotifier) PasswordReset(ctx context.Context, email, token string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.passwordResets = append(n.passwordResets, email)
	n.lastResetToken = token
}
