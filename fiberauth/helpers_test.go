package fiberauth_test

import (
	"context"
	"fmt"
	"sync"
	"testing"

	auth "github.com/dinarest/contacts-auth"
	"github.com/google/uuid"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

type MockLogger struct {
	mock.Mock
}

func (m *MockLogger) Debug(format string, args ...any) { m.Called(format, args) }
func (m *MockLogger) Info(format string, args ...any)  { m.Called(format, args) }
func (m *MockLogger) Warn(format string, args ...any)  { m.Called(format, args) }
func (m *MockLogger) Error(format string, args ...any) { m.Called(format, args) }

type nopLogger struct{}

func (nopLogger) Debug(string, ...any) {}
func (nopLogger) Info(string, ...any)  {}
func (nopLogger) Warn(string, ...any)  {}
func (nopLogger) Error(string, ...any) {}

type sentEmail struct {
	kind  string
	email string
	token string
}

type captureMailer struct {
	mu   sync.Mutex
	sent []sentEmail
}

func (m *captureMailer) SendVerification(_ context.Context, email, _, _, token string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sent = append(m.sent, sentEmail{kind: "verification", email: email, token: token})
	return nil
}

func (m *captureMailer) SendPasswordReset(_ context.Context, email, _, token string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sent = append(m.sent, sentEmail{kind: "password_reset", email: email, token: token})
	return nil
}

func (m *captureMailer) last(t *testing.T, kind string) sentEmail {
	t.Helper()
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := len(m.sent) - 1; i >= 0; i-- {
		if m.sent[i].kind == kind {
			return m.sent[i]
		}
	}
	require.FailNow(t, "no email dispatched", kind)
	return sentEmail{}
}

type stack struct {
	repo    auth.RepositoryManager
	manager *auth.AuthManager
	mailer  *captureMailer
}

func newStack(t *testing.T) *stack {
	t.Helper()

	db, err := auth.OpenDB(fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.NewString()))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	repo := auth.NewRepositoryManager(db)
	require.NoError(t, repo.CreateSchema(context.Background()))

	tokens, err := auth.NewTokenService([]byte("fiberauth-test-key"), "HS256", "", nil, nopLogger{})
	require.NoError(t, err)

	manager := auth.NewAuthManager(repo.Users(), tokens).
		WithLogger(nopLogger{}).
		WithHasher(auth.NewBcryptHasher(bcrypt.MinCost))

	return &stack{repo: repo, manager: manager, mailer: &captureMailer{}}
}
