package identity_test

import (
	"context"
	"fmt"
	"sync"

	repository "github.com/goliatone/go-repository-bun"
	"github.com/google/uuid"
	"github.com/uptrace/bun"

	identity "github.com/veridian/go-identity"
)

// testConfig implements identity.Config with static values.
type testConfig struct {
	signingKey       string
	tokenExpiration  int
	issuer           string
	audience         []string
	validateAudience bool
}

func newTestConfig() testConfig {
	return testConfig{
		signingKey:      "test-signing-key",
		tokenExpiration: 1,
		issuer:          "test-issuer",
		audience:        []string{"test-audience"},
	}
}

func (c testConfig) GetSigningKey() string     { return c.signingKey }
func (c testConfig) GetTokenExpiration() int   { return c.tokenExpiration }
func (c testConfig) GetIssuer() string         { return c.issuer }
func (c testConfig) GetAudience() []string     { return c.audience }
func (c testConfig) GetValidateAudience() bool { return c.validateAudience }
func (c testConfig) GetTokenLookup() string    { return "header:Authorization" }
func (c testConfig) GetAuthScheme() string     { return "Bearer" }
func (c testConfig) GetContextKey() string     { return "user" }

// captureLogger records formatted log lines so tests can assert on them.
type captureLogger struct {
	mu      sync.Mutex
	entries []string
}

func (l *captureLogger) record(format string, args ...any) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.entries = append(l.entries, fmt.Sprintf(format, args...))
}

func (l *captureLogger) Debug(format string, args ...any) { l.record(format, args...) }
func (l *captureLogger) Info(format string, args ...any)  { l.record(format, args...) }
func (l *captureLogger) Warn(format string, args ...any)  { l.record(format, args...) }
func (l *captureLogger) Error(format string, args ...any) { l.record(format, args...) }

func (l *captureLogger) lines() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]string(nil), l.entries...)
}

// memoryUserStore is an in-memory identity.UserStore used by tests that do
// not need a real database. Reads hand out copies, so mutations only become
// visible through Update, matching the real store.
type memoryUserStore struct {
	mu    sync.Mutex
	users map[uuid.UUID]*identity.User

	failCreate error
	failUpdate error
}

func newMemoryUserStore(seed ...*identity.User) *memoryUserStore {
	s := &memoryUserStore{users: map[uuid.UUID]*identity.User{}}
	for _, user := range seed {
		s.users[user.ID] = cloneUser(user)
	}
	return s
}

func (s *memoryUserStore) Create(ctx context.Context, user *identity.User) error {
	return s.CreateTx(ctx, nil, user)
}

func (s *memoryUserStore) CreateTx(_ context.Context, _ bun.IDB, user *identity.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.failCreate != nil {
		return s.failCreate
	}

	if _, ok := s.users[user.ID]; ok {
		return identity.ErrDuplicateKey
	}
	for _, existing := range s.users {
		if existing.NormalizedUsername == user.NormalizedUsername {
			return identity.ErrDuplicateKey
		}
	}

	s.users[user.ID] = cloneUser(user)
	return nil
}

func (s *memoryUserStore) Update(ctx context.Context, user *identity.User) error {
	return s.UpdateTx(ctx, nil, user)
}

func (s *memoryUserStore) UpdateTx(_ context.Context, _ bun.IDB, user *identity.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.failUpdate != nil {
		return s.failUpdate
	}

	existing, ok := s.users[user.ID]
	if !ok || existing.IsDeleted() {
		return identity.ErrUpdateConflict
	}

	s.users[user.ID] = cloneUser(user)
	return nil
}

func (s *memoryUserStore) Delete(ctx context.Context, user *identity.User) error {
	return s.DeleteTx(ctx, nil, user)
}

func (s *memoryUserStore) DeleteTx(_ context.Context, _ bun.IDB, user *identity.User) error {
	if err := user.Delete(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if existing, ok := s.users[user.ID]; ok && !existing.IsDeleted() {
		existing.DeletedAt = user.DeletedAt
	}
	return nil
}

func (s *memoryUserStore) FindByID(_ context.Context, id uuid.UUID) (*identity.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	user, ok := s.users[id]
	if !ok || user.IsDeleted() {
		return nil, notFound()
	}
	return cloneUser(user), nil
}

func (s *memoryUserStore) FindByIDAny(_ context.Context, id uuid.UUID) (*identity.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	user, ok := s.users[id]
	if !ok {
		return nil, notFound()
	}
	return cloneUser(user), nil
}

func (s *memoryUserStore) FindByNormalizedName(_ context.Context, name string) (*identity.User, error) {
	normalized := identity.NormalizeUsername(name)

	s.mu.Lock()
	defer s.mu.Unlock()

	for _, user := range s.users {
		if user.NormalizedUsername == normalized && !user.IsDeleted() {
			return cloneUser(user), nil
		}
	}
	return nil, notFound()
}

func (s *memoryUserStore) FindByLogin(_ context.Context, provider, providerKey string) (*identity.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, user := range s.users {
		if _, ok := user.FindLogin(provider, providerKey); ok {
			if user.IsDeleted() {
				return nil, notFound()
			}
			return cloneUser(user), nil
		}
	}
	return nil, notFound()
}

func (s *memoryUserStore) UsersForClaim(_ context.Context, claim identity.Claim) ([]*identity.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var matched []*identity.User
	for _, user := range s.users {
		if !user.IsDeleted() && user.HasClaim(claim) {
			matched = append(matched, cloneUser(user))
		}
	}
	return matched, nil
}

func notFound() error {
	return repository.NewRecordNotFound()
}

func cloneUser(user *identity.User) *identity.User {
	copied := *user

	if user.Email != nil {
		email := *user.Email
		copied.Email = &email
	}
	if user.PhoneNumber != nil {
		phone := *user.PhoneNumber
		copied.PhoneNumber = &phone
	}
	if user.LockoutEndsAt != nil {
		until := *user.LockoutEndsAt
		copied.LockoutEndsAt = &until
	}
	if user.DeletedAt != nil {
		deleted := *user.DeletedAt
		copied.DeletedAt = &deleted
	}

	copied.Claims = append([]identity.Claim(nil), user.Claims...)
	copied.Logins = append([]identity.Login(nil), user.Logins...)

	return &copied
}
