package auth

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"hospital/models"
	"hospital/utils"
)

// memStore is an in-memory CredentialStore with the same uniqueness and
// conditional-update rules as the Postgres store.
type memStore struct {
	mu     sync.Mutex
	txMu   sync.Mutex
	nextID int64
	users  map[int64]models.User
	tokens map[int64]models.VerificationToken

	finds       int
	updateCalls int
	failToken   error
	failFind    error
}

func newMemStore() *memStore {
	return &memStore{
		users:  map[int64]models.User{},
		tokens: map[int64]models.VerificationToken{},
	}
}

func (m *memStore) seed(u models.User) int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextID++
	u.ID = m.nextID
	if u.EmailStatus == "" {
		u.EmailStatus = models.EmailNotVerified
	}
	m.users[u.ID] = u
	return u.ID
}

func (m *memStore) user(id int64) (models.User, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[id]
	return u, ok
}

func (m *memStore) token(id int64) (models.VerificationToken, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.tokens[id]
	return t, ok
}

func (m *memStore) find(match func(models.User) bool) (*models.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.finds++
	if m.failFind != nil {
		return nil, m.failFind
	}
	for _, u := range m.users {
		if match(u) {
			found := u
			return &found, nil
		}
	}
	return nil, utils.ErrNotFound
}

func (m *memStore) FindByUsername(_ context.Context, username string) (*models.User, error) {
	return m.find(func(u models.User) bool { return strings.EqualFold(u.Username, username) })
}

func (m *memStore) FindByEmail(_ context.Context, email string) (*models.User, error) {
	return m.find(func(u models.User) bool { return u.Email == email })
}

func (m *memStore) FindByID(_ context.Context, id int64) (*models.User, error) {
	return m.find(func(u models.User) bool { return u.ID == id })
}

func (m *memStore) InsertUser(_ context.Context, u *models.User) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.users {
		if strings.EqualFold(existing.Username, u.Username) {
			return 0, &utils.DuplicateError{Field: "username"}
		}
		if existing.Email == u.Email {
			return 0, &utils.DuplicateError{Field: "email"}
		}
	}
	m.nextID++
	row := *u
	row.ID = m.nextID
	m.users[row.ID] = row
	return row.ID, nil
}

func (m *memStore) UpdatePassword(_ context.Context, id int64, hash string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.updateCalls++
	u, ok := m.users[id]
	if !ok || u.PasswordKind != models.PasswordPlaintext {
		return false, nil
	}
	u.Password = hash
	u.PasswordKind = models.PasswordBcrypt
	m.users[id] = u
	return true, nil
}

func (m *memStore) SetTokenForUser(_ context.Context, userID int64, tokenHash string, expiresAt time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failToken != nil {
		return m.failToken
	}
	if _, ok := m.users[userID]; !ok {
		return errors.New("foreign key violation")
	}
	m.tokens[userID] = models.VerificationToken{
		UserID:    userID,
		TokenHash: tokenHash,
		ExpiresAt: expiresAt,
		CreatedAt: time.Now(),
	}
	return nil
}

func (m *memStore) FindTokenByUserID(_ context.Context, userID int64) (*models.VerificationToken, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.tokens[userID]
	if !ok {
		return nil, utils.ErrNotFound
	}
	return &t, nil
}

func (m *memStore) ConsumeToken(_ context.Context, userID int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.tokens[userID]
	if !ok {
		return utils.ErrNotFound
	}
	if t.ConsumedAt == nil {
		now := time.Now()
		t.ConsumedAt = &now
		m.tokens[userID] = t
	}
	return nil
}

func (m *memStore) SetVerified(_ context.Context, userID int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[userID]
	if !ok {
		return utils.ErrNotFound
	}
	u.EmailStatus = models.EmailVerified
	m.users[userID] = u
	return nil
}

// InTx serializes transactions and restores the previous state when fn fails.
func (m *memStore) InTx(_ context.Context, fn func(tx utils.CredentialStore) error) error {
	m.txMu.Lock()
	defer m.txMu.Unlock()

	m.mu.Lock()
	users := make(map[int64]models.User, len(m.users))
	for k, v := range m.users {
		users[k] = v
	}
	tokens := make(map[int64]models.VerificationToken, len(m.tokens))
	for k, v := range m.tokens {
		tokens[k] = v
	}
	nextID := m.nextID
	m.mu.Unlock()

	if err := fn(m); err != nil {
		m.mu.Lock()
		m.users, m.tokens, m.nextID = users, tokens, nextID
		m.mu.Unlock()
		return err
	}
	return nil
}

type fakeLimiter struct {
	mu      sync.Mutex
	allowed bool
	retry   time.Duration
	err     error
	keys    []string
}

func (l *fakeLimiter) Allow(_ context.Context, key string) (bool, time.Duration, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.keys = append(l.keys, key)
	return l.allowed, l.retry, l.err
}

type fakeMailer struct {
	mu   sync.Mutex
	sent []utils.Message
	err  error
}

func (f *fakeMailer) Send(ctx context.Context, msg utils.Message) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	if _, ok := ctx.Deadline(); !ok {
		return errors.New("send without deadline")
	}
	f.sent = append(f.sent, msg)
	return nil
}

func (f *fakeMailer) messages() []utils.Message {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]utils.Message(nil), f.sent...)
}
