package main

import (
	"context"
	"fmt"
	"testing"

	auth "github.com/dinarest/contacts-auth"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type nopLogger struct{}

func (nopLogger) Debug(string, ...any) {}
func (nopLogger) Info(string, ...any)  {}
func (nopLogger) Warn(string, ...any)  {}
func (nopLogger) Error(string, ...any) {}

func memoryDSN() string {
	return fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.NewString())
}

func TestRun_StartupErrors(t *testing.T) {
	t.Run("missing secret", func(t *testing.T) {
		t.Setenv("AUTH_SECRET_KEY", "")

		err := run()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "load config")
	})

	t.Run("mail transport is required", func(t *testing.T) {
		t.Setenv("AUTH_SECRET_KEY", "s3cret")
		t.Setenv("DATABASE_URL", memoryDSN())
		t.Setenv("SMTP_HOST", "")
		t.Setenv("SMTP_FROM", "")
		t.Setenv("AUTH_DEV_MAIL_LOG", "")

		err := run()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "AUTH_DEV_MAIL_LOG")
	})
}

func TestApp_CloseReleasesResourcesAfterFailure(t *testing.T) {
	app := &App{
		config: auth.Config{
			SecretKey:    "s3cret",
			Algorithm:    "HS256",
			DatabaseURL:  memoryDSN(),
			CacheBackend: auth.CacheBackendRedis,
			RedisURL:     "://not-a-url",
		},
		logger: nopLogger{},
	}

	require.NoError(t, WithPersistence(context.Background(), app))
	require.Error(t, WithAuth(context.Background(), app))

	app.Close()

	assert.Error(t, app.db.PingContext(context.Background()), "database handle should be closed")
}

func TestWithHTTPServer_DevMailLog(t *testing.T) {
	app := &App{
		config: auth.Config{
			SecretKey:    "s3cret",
			Algorithm:    "HS256",
			DatabaseURL:  memoryDSN(),
			CacheBackend: auth.CacheBackendMemory,
			DevMailLog:   true,
		},
		logger: nopLogger{},
	}
	t.Cleanup(app.Close)

	require.NoError(t, WithPersistence(context.Background(), app))
	require.NoError(t, WithAuth(context.Background(), app))
	require.NoError(t, WithHTTPServer(app))
	assert.NotNil(t, app.srv)
}
