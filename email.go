package auth

import (
	"bytes"
	"context"
	"fmt"
	"net"
	"net/smtp"
	"net/url"
	"strings"

	goerrors "github.com/goliatone/go-errors"
)

// VerificationLink is the confirmation URL embedded in verification emails
func VerificationLink(baseURL, token string) string {
	return strings.TrimRight(baseURL, "/") + "/api/users/confirmed_email/" + url.PathEscape(token)
}

// PasswordResetLink is the form URL embedded in password reset emails
func PasswordResetLink(baseURL, token string) string {
	return strings.TrimRight(baseURL, "/") + "/api/auth/reset-password-form?token=" + url.QueryEscape(token)
}

// EmailDispatcherFunc adapts a single function to EmailDispatcher. kind is
// "verification" or "password_reset" and link is the rendered URL.
type EmailDispatcherFunc func(ctx context.Context, kind, email, link string) error

func (f EmailDispatcherFunc) SendVerification(ctx context.Context, email, _, baseURL, token string) error {
	return f(ctx, "verification", email, VerificationLink(baseURL, token))
}

func (f EmailDispatcherFunc) SendPasswordReset(ctx context.Context, email, baseURL, token string) error {
	return f(ctx, "password_reset", email, PasswordResetLink(baseURL, token))
}

// LogDispatcher writes emails to the logger instead of sending them. Tokens
// are redacted unless ShowLinks is set, which is meant for local development
// only since the links are live credentials.
type LogDispatcher struct {
	Logger    Logger
	ShowLinks bool
}

func (d LogDispatcher) SendVerification(_ context.Context, email, username, baseURL, token string) error {
	d.log("verification email", "to", email, "username", username, "link", VerificationLink(baseURL, d.token(token)))
	return nil
}

func (d LogDispatcher) SendPasswordReset(_ context.Context, email, baseURL, token string) error {
	d.log("password reset email", "to", email, "link", PasswordResetLink(baseURL, d.token(token)))
	return nil
}

func (d LogDispatcher) log(msg string, args ...any) {
	logger := normalizeLogger(d.Logger)
	if d.ShowLinks {
		logger.Info(msg, args...)
		return
	}
	logger.Debug(msg, args...)
}

func (d LogDispatcher) token(token string) string {
	if d.ShowLinks {
		return token
	}
	return redactToken(token)
}

// SMTPConfig holds mail relay settings
type SMTPConfig struct {
	Host string `env:"SMTP_HOST"`
	Port string `env:"SMTP_PORT" envDefault:"587"`
	User string `env:"SMTP_USER"`
	Pass string `env:"SMTP_PASS"`
	From string `env:"SMTP_FROM"`
}

// Enabled reports whether host and sender are set
func (c SMTPConfig) Enabled() bool {
	return strings.TrimSpace(c.Host) != "" && strings.TrimSpace(c.From) != ""
}

type smtpDispatcher struct {
	cfg    SMTPConfig
	logger Logger
}

// NewEmailDispatcher returns an SMTP dispatcher, or a redacting LogDispatcher
// when host or sender are missing.
func NewEmailDispatcher(cfg SMTPConfig, logger Logger) EmailDispatcher {
	logger = normalizeLogger(logger)

	cfg.Host = strings.TrimSpace(cfg.Host)
	cfg.Port = strings.TrimSpace(cfg.Port)
	cfg.From = strings.TrimSpace(cfg.From)

	if !cfg.Enabled() {
		logger.Info("mailer disabled, SMTP host or from missing")
		return LogDispatcher{Logger: logger}
	}
	if cfg.Port == "" {
		cfg.Port = "587"
	}

	logger.Info("mailer enabled", "host", cfg.Host, "port", cfg.Port, "user", maskForLog(cfg.User))
	return &smtpDispatcher{cfg: cfg, logger: logger}
}

func (m *smtpDispatcher) SendVerification(ctx context.Context, email, username, baseURL, token string) error {
	body := fmt.Sprintf("Hi %s,\n\nConfirm your email address by opening the link below.\n\n%s\n\nIf you did not create an account, ignore this message.",
		username, VerificationLink(baseURL, token))
	return m.send(ctx, email, "Confirm your email address", body)
}

func (m *smtpDispatcher) SendPasswordReset(ctx context.Context, email, baseURL, token string) error {
	body := fmt.Sprintf("You requested a password reset. Use the link below to choose a new password.\n\n%s\n\nIf you did not request this, ignore the message.",
		PasswordResetLink(baseURL, token))
	return m.send(ctx, email, "Reset your password", body)
}

func (m *smtpDispatcher) send(ctx context.Context, to, subject, body string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	var auth smtp.Auth
	if m.cfg.User != "" && m.cfg.Pass != "" {
		auth = smtp.PlainAuth("", m.cfg.User, m.cfg.Pass, m.cfg.Host)
	}

	addr := net.JoinHostPort(m.cfg.Host, m.cfg.Port)
	if err := smtp.SendMail(addr, auth, m.cfg.From, []string{to}, message(m.cfg.From, to, subject, body)); err != nil {
		m.logger.Error("smtp send failed", "to", to, "error", err)
		return goerrors.Wrap(err, goerrors.CategoryOperation, "smtp send failed")
	}

	return nil
}

func message(from, to, subject, body string) []byte {
	var buf bytes.Buffer
	fmt.Fprintf(&buf, "From: %s\r\n", from)
	fmt.Fprintf(&buf, "To: %s\r\n", to)
	fmt.Fprintf(&buf, "Subject: %s\r\n", subject)
	buf.WriteString("MIME-Version: 1.0\r\n")
	buf.WriteString("Content-Type: text/plain; charset=utf-8\r\n")
	buf.WriteString("\r\n")
	buf.WriteString(body)
	buf.WriteString("\r\n")
	return buf.Bytes()
}

func maskForLog(s string) string {
	if s == "" {
		return "(none)"
	}
	if len(s) <= 2 {
		return "***"
	}
	return s[:1] + "***" + s[len(s)-1:]
}

// redactToken keeps a short prefix and suffix so log lines can still be
// correlated without exposing a usable token.
func redactToken(token string) string {
	if len(token) <= 16 {
		return "[redacted]"
	}
	return token[:4] + "..." + token[len(token)-4:]
}

func normalizeDispatcher(d EmailDispatcher, logger Logger) EmailDispatcher {
	if d == nil {
		return LogDispatcher{Logger: logger}
	}
	return d
}
