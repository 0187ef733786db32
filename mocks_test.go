package auth_test

import (
	"context"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	auth "github.com/dinarest/contacts-auth"
	"github.com/google/uuid"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

var testSigningKey = []byte("test-signing-key")

// fakeClock is a settable auth.Clock
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2024, time.March, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// memoryRepo is an in-memory auth.IdentityRepository that counts lookups
type memoryRepo struct {
	mu      sync.Mutex
	users   map[string]auth.User
	lookups atomic.Int32
	delay   time.Duration
}

func newMemoryRepo() *memoryRepo {
	return &memoryRepo{users: map[string]auth.User{}}
}

func (r *memoryRepo) add(t *testing.T, hasher auth.PasswordHasher, username, email, password string, role auth.Role, confirmed bool) auth.User {
	t.Helper()

	hash, err := hasher.Hash(password)
	require.NoError(t, err)

	user := auth.User{
		ID:           uuid.New(),
		Username:     username,
		Email:        email,
		PasswordHash: hash,
		Role:         role,
		Confirmed:    confirmed,
	}

	r.mu.Lock()
	r.users[auth.NormalizeIdentifier(username)] = user
	r.mu.Unlock()

	return user
}

func (r *memoryRepo) FindByUsername(ctx context.Context, username string) (*auth.User, error) {
	r.lookups.Add(1)
	if r.delay > 0 {
		time.Sleep(r.delay)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	user, ok := r.users[auth.NormalizeIdentifier(username)]
	if !ok {
		return nil, auth.ErrIdentityNotFound
	}
	return &user, nil
}

func (r *memoryRepo) FindByEmail(ctx context.Context, email string) (*auth.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, user := range r.users {
		if strings.EqualFold(user.Email, strings.TrimSpace(email)) {
			u := user
			return &u, nil
		}
	}
	return nil, auth.ErrIdentityNotFound
}

func (r *memoryRepo) Save(ctx context.Context, user *auth.User) (*auth.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	record := *user
	if record.ID == uuid.Nil {
		record.ID = uuid.New()
	}
	record.EnsureRole()
	r.users[auth.NormalizeIdentifier(record.Username)] = record
	return &record, nil
}

func (r *memoryRepo) SetConfirmed(ctx context.Context, email string) error {
	return r.update(email, func(u *auth.User) { u.Confirmed = true })
}

func (r *memoryRepo) SetAvatar(ctx context.Context, email, url string) (*auth.User, error) {
	if err := r.update(email, func(u *auth.User) { u.Avatar = url }); err != nil {
		return nil, err
	}
	return r.FindByEmail(ctx, email)
}

func (r *memoryRepo) SetPassword(ctx context.Context, email, passwordHash string) error {
	return r.update(email, func(u *auth.User) { u.PasswordHash = passwordHash })
}

func (r *memoryRepo) update(email string, fn func(*auth.User)) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	for key, user := range r.users {
		if strings.EqualFold(user.Email, email) {
			fn(&user)
			r.users[key] = user
			return nil
		}
	}
	return auth.ErrIdentityNotFound
}

// MockIdentityRepository is a testify mock for error injection
type MockIdentityRepository struct {
	mock.Mock
}

func (m *MockIdentityRepository) FindByUsername(ctx context.Context, username string) (*auth.User, error) {
	args := m.Called(ctx, username)
	user, _ := args.Get(0).(*auth.User)
	return user, args.Error(1)
}

func (m *MockIdentityRepository) FindByEmail(ctx context.Context, email string) (*auth.User, error) {
	args := m.Called(ctx, email)
	user, _ := args.Get(0).(*auth.User)
	return user, args.Error(1)
}

func (m *MockIdentityRepository) Save(ctx context.Context, user *auth.User) (*auth.User, error) {
	args := m.Called(ctx, user)
	saved, _ := args.Get(0).(*auth.User)
	return saved, args.Error(1)
}

func (m *MockIdentityRepository) SetConfirmed(ctx context.Context, email string) error {
	return m.Called(ctx, email).Error(0)
}

func (m *MockIdentityRepository) SetAvatar(ctx context.Context, email, url string) (*auth.User, error) {
	args := m.Called(ctx, email, url)
	user, _ := args.Get(0).(*auth.User)
	return user, args.Error(1)
}

func (m *MockIdentityRepository) SetPassword(ctx context.Context, email, passwordHash string) error {
	return m.Called(ctx, email, passwordHash).Error(0)
}

// MockLogger implements auth.Logger for testing
type MockLogger struct {
	mock.Mock
}

func (m *MockLogger) Debug(format string, args ...any) {
	m.Called(format, args)
}

func (m *MockLogger) Info(format string, args ...any) {
	m.Called(format, args)
}

func (m *MockLogger) Warn(format string, args ...any) {
	m.Called(format, args)
}

func (m *MockLogger) Error(format string, args ...any) {
	m.Called(format, args)
}

type nopLogger struct{}

func (nopLogger) Debug(string, ...any) {}
func (nopLogger) Info(string, ...any)  {}
func (nopLogger) Warn(string, ...any)  {}
func (nopLogger) Error(string, ...any) {}

// captureSink records activity events
type captureSink struct {
	mu     sync.Mutex
	events []auth.ActivityEvent
}

func (s *captureSink) Record(_ context.Context, event auth.ActivityEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, event)
	return nil
}

func (s *captureSink) types() []auth.ActivityEventType {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]auth.ActivityEventType, 0, len(s.events))
	for _, e := range s.events {
		out = append(out, e.EventType)
	}
	return out
}

type sentEmail struct {
	kind  string
	email string
	token string
}

// captureMailer records dispatched emails and can be told to fail
type captureMailer struct {
	mu   sync.Mutex
	sent []sentEmail
	err  error
}

func (m *captureMailer) SendVerification(_ context.Context, email, _, _, token string) error {
	return m.record("verification", email, token)
}

func (m *captureMailer) SendPasswordReset(_ context.Context, email, _, token string) error {
	return m.record("password_reset", email, token)
}

func (m *captureMailer) record(kind, email, token string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.sent = append(m.sent, sentEmail{kind: kind, email: email, token: token})
	return nil
}

func (m *captureMailer) last(t *testing.T) sentEmail {
	t.Helper()
	m.mu.Lock()
	defer m.mu.Unlock()
	require.NotEmpty(t, m.sent, "no email dispatched")
	return m.sent[len(m.sent)-1]
}

func testHasher() auth.BcryptHasher {
	return auth.NewBcryptHasher(bcrypt.MinCost)
}

func newTestTokens(t *testing.T, clock auth.Clock) *auth.TokenService {
	t.Helper()
	tokens, err := auth.NewTokenService(testSigningKey, "HS256", "", clock, nopLogger{})
	require.NoError(t, err)
	return tokens
}

func newTestManager(t *testing.T, repo auth.IdentityRepository, clock auth.Clock) *auth.AuthManager {
	t.Helper()
	return auth.NewAuthManager(repo, newTestTokens(t, clock)).
		WithLogger(nopLogger{}).
		WithClock(clock).
		WithHasher(testHasher())
}

// commandFixture wires the command handlers to a private sqlite database
type commandFixture struct {
	clock   *fakeClock
	repo    auth.RepositoryManager
	manager *auth.AuthManager
	mailer  *captureMailer
	sink    *captureSink
}

func newCommandFixture(t *testing.T) *commandFixture {
	t.Helper()

	clock := newFakeClock()
	repo := newTestRepository(t, clock)
	sink := &captureSink{}

	return &commandFixture{
		clock:   clock,
		repo:    repo,
		manager: newTestManager(t, repo.Users(), clock).WithActivitySink(sink),
		mailer:  &captureMailer{},
		sink:    sink,
	}
}
