package auth

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"
)

type Logger interface {
	Debug(format string, args ...any)
	Info(format string, args ...any)
	Warn(format string, args ...any)
	Error(format string, args ...any)
}

// Clock is the source of the current time
type Clock interface {
	Now() time.Time
}

// ClockFunc adapts a function into a Clock.
type ClockFunc func() time.Time

// Now satisfies the Clock interface.
func (f ClockFunc) Now() time.Time {
	if f == nil {
		return time.Now()
	}
	return f()
}

// SystemClock reads the wall clock
var SystemClock Clock = ClockFunc(time.Now)

// IdentityRepository is the persistence collaborator that owns identities.
// Lookups are case-insensitive and return ErrIdentityNotFound when no record
// matches.
type IdentityRepository interface {
	FindByUsername(ctx context.Context, username string) (*User, error)
	FindByEmail(ctx context.Context, email string) (*User, error)
	Save(ctx context.Context, user *User) (*User, error)
	SetConfirmed(ctx context.Context, email string) error
	SetAvatar(ctx context.Context, email, url string) (*User, error)
	SetPassword(ctx context.Context, email, passwordHash string) error
}

// PasswordHasher hashes and verifies credentials
type PasswordHasher interface {
	Hash(plaintext string) (string, error)
	Verify(plaintext, hash string) bool
}

// EmailDispatcher delivers account notifications. Implementations are fire
// and forget: failures are reported as delivery errors and never retried here.
type EmailDispatcher interface {
	SendVerification(ctx context.Context, email, username, baseURL, token string) error
	SendPasswordReset(ctx context.Context, email, baseURL, token string) error
}

type defLogger struct{}

func (d defLogger) Error(format string, args ...any) {
	fmt.Print("[ERR] AUTH " + render(format, args...))
}

func (d defLogger) Warn(format string, args ...any) {
	fmt.Print("[WRN] AUTH " + render(format, args...))
}

func (d defLogger) Info(format string, args ...any) {
	fmt.Print("[INF] AUTH " + render(format, args...))
}

func (d defLogger) Debug(format string, args ...any) {
	fmt.Print("[DBG] AUTH " + render(format, args...))
}

// render supports both printf style calls and message plus key/value pairs
func render(format string, args ...any) string {
	if len(args) == 0 {
		return newline(format)
	}

	if strings.Contains(format, "%") {
		return newline(fmt.Sprintf(format, args...))
	}

	var b strings.Builder
	b.WriteString(format)
	for i := 0; i < len(args); i += 2 {
		if i+1 < len(args) {
			fmt.Fprintf(&b, " %v=%v", args[i], args[i+1])
		} else {
			fmt.Fprintf(&b, " %v", args[i])
		}
	}
	return newline(b.String())
}

func newline(s string) string {
	if len(s) > 0 && s[len(s)-1] != '\n' {
		s += "\n"
	}
	return s
}

// SlogLogger routes messages through a slog.Logger. The format string is used
// as the message and args are passed as key/value attributes.
type SlogLogger struct {
	L *slog.Logger
}

func (s SlogLogger) logger() *slog.Logger {
	if s.L == nil {
		return slog.Default()
	}
	return s.L
}

func (s SlogLogger) Debug(format string, args ...any) { s.logger().Debug(format, args...) }
func (s SlogLogger) Info(format string, args ...any)  { s.logger().Info(format, args...) }
func (s SlogLogger) Warn(format string, args ...any)  { s.logger().Warn(format, args...) }
func (s SlogLogger) Error(format string, args ...any) { s.logger().Error(format, args...) }

func normalizeLogger(l Logger) Logger {
	if l == nil {
		return defLogger{}
	}
	return l
}

func normalizeClock(c Clock) Clock {
	if c == nil {
		return SystemClock
	}
	return c
}
