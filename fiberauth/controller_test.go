package fiberauth_test

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	auth "github.com/dinarest/contacts-auth"
	"github.com/dinarest/contacts-auth/fiberauth"
	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestApp(t *testing.T, s *stack, opts ...fiberauth.ControllerOption) *fiber.App {
	t.Helper()

	app := fiber.New(fiber.Config{ErrorHandler: fiberauth.ErrorHandler(nopLogger{})})
	opts = append([]fiberauth.ControllerOption{fiberauth.WithBaseURL("http://contacts.test/")}, opts...)
	fiberauth.NewController(s.manager, s.repo, s.mailer, opts...).Register(app)

	return app
}

type request struct {
	method string
	path   string
	json   any
	form   url.Values
	token  string
}

func call(t *testing.T, app *fiber.App, r request) (int, []byte) {
	t.Helper()

	var body io.Reader
	contentType := ""

	switch {
	case r.json != nil:
		raw, err := json.Marshal(r.json)
		require.NoError(t, err)
		body = strings.NewReader(string(raw))
		contentType = fiber.MIMEApplicationJSON
	case r.form != nil:
		body = strings.NewReader(r.form.Encode())
		contentType = fiber.MIMEApplicationForm
	}

	req := httptest.NewRequest(r.method, r.path, body)
	if contentType != "" {
		req.Header.Set(fiber.HeaderContentType, contentType)
	}
	if r.token != "" {
		req.Header.Set(fiber.HeaderAuthorization, "Bearer "+r.token)
	}

	resp, err := app.Test(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	out, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	return resp.StatusCode, out
}

func decode[T any](t *testing.T, raw []byte) T {
	t.Helper()
	var out T
	require.NoError(t, json.Unmarshal(raw, &out), string(raw))
	return out
}

func login(t *testing.T, app *fiber.App, username, password string) string {
	t.Helper()

	status, body := call(t, app, request{
		method: http.MethodPost,
		path:   "/api/auth/login",
		form:   url.Values{"username": {username}, "password": {password}},
	})
	require.Equal(t, http.StatusOK, status, string(body))

	out := decode[map[string]string](t, body)
	assert.Equal(t, "bearer", out["token_type"])
	require.NotEmpty(t, out["access_token"])

	return out["access_token"]
}

func TestController_AccountLifecycle(t *testing.T) {
	s := newStack(t)
	app := newTestApp(t, s)

	status, body := call(t, app, request{
		method: http.MethodPost,
		path:   "/api/auth/register",
		json:   map[string]string{"username": "alice", "email": "alice@example.com", "password": "pw123456"},
	})
	require.Equal(t, http.StatusCreated, status, string(body))

	created := decode[map[string]any](t, body)
	assert.Equal(t, "alice", created["username"])
	assert.Equal(t, false, created["confirmed"])
	assert.NotContains(t, created, "password_hash")
	assert.NotContains(t, created, "password_changed_at")
	assert.NotContains(t, string(body), "PasswordHash")

	t.Run("unconfirmed login is refused", func(t *testing.T) {
		status, body := call(t, app, request{
			method: http.MethodPost,
			path:   "/api/auth/login",
			form:   url.Values{"username": {"alice"}, "password": {"pw123456"}},
		})
		assert.Equal(t, http.StatusUnauthorized, status)
		assert.Equal(t, auth.TextCodeEmailNotConfirmed, decode[fiberauth.ErrorResponse](t, body).Code)
	})

	t.Run("confirm email", func(t *testing.T) {
		token := s.mailer.last(t, "verification").token

		status, body := call(t, app, request{method: http.MethodGet, path: "/api/users/confirmed_email/" + token})
		require.Equal(t, http.StatusOK, status, string(body))
		assert.Equal(t, "Email confirmed successfully", decode[map[string]string](t, body)["message"])

		status, body = call(t, app, request{method: http.MethodGet, path: "/api/users/confirmed_email/" + token})
		require.Equal(t, http.StatusOK, status)
		assert.Equal(t, "You have already confirmed your email", decode[map[string]string](t, body)["message"])

		status, _ = call(t, app, request{method: http.MethodGet, path: "/api/users/confirmed_email/garbage"})
		assert.Equal(t, http.StatusUnprocessableEntity, status)
	})

	t.Run("request email after confirmation", func(t *testing.T) {
		status, body := call(t, app, request{
			method: http.MethodPost,
			path:   "/api/users/request_email",
			json:   map[string]string{"email": "alice@example.com"},
		})
		require.Equal(t, http.StatusOK, status)
		assert.Equal(t, "Your email is already confirmed", decode[map[string]string](t, body)["message"])
	})

	t.Run("me", func(t *testing.T) {
		token := login(t, app, "alice", "pw123456")

		status, body := call(t, app, request{method: http.MethodGet, path: "/api/users/me", token: token})
		require.Equal(t, http.StatusOK, status, string(body))

		me := decode[map[string]any](t, body)
		assert.Equal(t, "alice@example.com", me["email"])
		assert.Equal(t, "user", me["role"])
		assert.Equal(t, true, me["confirmed"])
		assert.Contains(t, me, "created_at")
		for _, hidden := range []string{"password_hash", "password_changed_at", "updated_at"} {
			assert.NotContains(t, me, hidden)
		}

		status, _ = call(t, app, request{method: http.MethodGet, path: "/api/users/me"})
		assert.Equal(t, http.StatusUnauthorized, status)
	})

	t.Run("wrong password", func(t *testing.T) {
		status, body := call(t, app, request{
			method: http.MethodPost,
			path:   "/api/auth/login",
			json:   map[string]string{"username": "alice", "password": "nope"},
		})
		assert.Equal(t, http.StatusUnauthorized, status)
		assert.Equal(t, auth.TextCodeInvalidCredentials, decode[fiberauth.ErrorResponse](t, body).Code)
	})
}

func TestController_RegisterErrors(t *testing.T) {
	s := newStack(t)
	app := newTestApp(t, s)

	payload := map[string]string{"username": "alice", "email": "alice@example.com", "password": "pw123456"}
	status, _ := call(t, app, request{method: http.MethodPost, path: "/api/auth/register", json: payload})
	require.Equal(t, http.StatusCreated, status)

	status, body := call(t, app, request{method: http.MethodPost, path: "/api/auth/register", json: payload})
	assert.Equal(t, http.StatusConflict, status)
	assert.Equal(t, auth.TextCodeIdentityConflict, decode[fiberauth.ErrorResponse](t, body).Code)

	status, body = call(t, app, request{
		method: http.MethodPost,
		path:   "/api/auth/register",
		json:   map[string]string{"username": "bob", "email": "bob", "password": "pw"},
	})
	assert.Equal(t, http.StatusUnprocessableEntity, status)

	out := decode[fiberauth.ErrorResponse](t, body)
	assert.Contains(t, out.Fields, "email")
	assert.Contains(t, out.Fields, "password")

	req := httptest.NewRequest(http.MethodPost, "/api/auth/register", strings.NewReader("{not json"))
	req.Header.Set(fiber.HeaderContentType, fiber.MIMEApplicationJSON)
	resp, err := app.Test(req)
	require.NoError(t, err)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestController_PasswordReset(t *testing.T) {
	s := newStack(t)
	app := newTestApp(t, s)
	seed(t, s, "alice", "alice@example.com", "pw123456", auth.RoleUser)

	status, _ := call(t, app, request{
		method: http.MethodPost,
		path:   "/api/auth/request-password-reset",
		json:   map[string]string{"email": "nobody@example.com"},
	})
	assert.Equal(t, http.StatusNotFound, status)

	status, body := call(t, app, request{
		method: http.MethodPost,
		path:   "/api/auth/request-password-reset",
		json:   map[string]string{"email": "alice@example.com"},
	})
	require.Equal(t, http.StatusOK, status, string(body))
	assert.Equal(t, "Password reset email sent. Check your inbox.", decode[map[string]string](t, body)["message"])

	token := s.mailer.last(t, "password_reset").token

	t.Run("form", func(t *testing.T) {
		status, body := call(t, app, request{method: http.MethodGet, path: "/api/auth/reset-password-form?token=" + url.QueryEscape(token)})
		require.Equal(t, http.StatusOK, status)
		assert.Contains(t, string(body), `name="new_password"`)
		assert.Contains(t, string(body), `action="/api/auth/reset-password"`)
		assert.Contains(t, string(body), token)

		status, _ = call(t, app, request{method: http.MethodGet, path: "/api/auth/reset-password-form"})
		assert.Equal(t, http.StatusBadRequest, status)
	})

	t.Run("submit", func(t *testing.T) {
		status, body := call(t, app, request{
			method: http.MethodPost,
			path:   "/api/auth/reset-password",
			form:   url.Values{"token": {token}, "new_password": {"new-secret"}},
		})
		require.Equal(t, http.StatusOK, status, string(body))
		assert.Equal(t, "Password reset successfully.", decode[map[string]string](t, body)["message"])

		login(t, app, "alice", "new-secret")
	})

	t.Run("bad token", func(t *testing.T) {
		status, body := call(t, app, request{
			method: http.MethodPost,
			path:   "/api/auth/reset-password",
			form:   url.Values{"token": {"garbage"}, "new_password": {"new-secret"}},
		})
		assert.Equal(t, http.StatusBadRequest, status)
		assert.Equal(t, auth.TextCodeInvalidResetToken, decode[fiberauth.ErrorResponse](t, body).Code)
	})
}

func TestController_Avatar(t *testing.T) {
	s := newStack(t)
	app := newTestApp(t, s)
	seed(t, s, "root", "root@example.com", "pw123456", auth.RoleAdmin)
	seed(t, s, "alice", "alice@example.com", "pw123456", auth.RoleUser)

	payload := map[string]string{"avatar_url": "https://cdn.example.com/me.png"}

	status, _ := call(t, app, request{
		method: http.MethodPatch,
		path:   "/api/users/avatar",
		json:   payload,
		token:  login(t, app, "alice", "pw123456"),
	})
	assert.Equal(t, http.StatusForbidden, status)

	status, body := call(t, app, request{
		method: http.MethodPatch,
		path:   "/api/users/avatar",
		json:   payload,
		token:  login(t, app, "root", "pw123456"),
	})
	require.Equal(t, http.StatusOK, status, string(body))
	updated := decode[map[string]any](t, body)
	assert.Equal(t, "https://cdn.example.com/me.png", updated["avatar"])
	assert.NotContains(t, updated, "updated_at")

	status, _ = call(t, app, request{method: http.MethodPatch, path: "/api/users/avatar", json: payload})
	assert.Equal(t, http.StatusUnauthorized, status)
}

func TestController_MeIsRateLimited(t *testing.T) {
	s := newStack(t)
	app := newTestApp(t, s, fiberauth.WithMeLimit(2))
	seed(t, s, "alice", "alice@example.com", "pw123456", auth.RoleUser)
	token := login(t, app, "alice", "pw123456")

	for i := 0; i < 2; i++ {
		status, _ := call(t, app, request{method: http.MethodGet, path: "/api/users/me", token: token})
		require.Equal(t, http.StatusOK, status)
	}

	status, body := call(t, app, request{method: http.MethodGet, path: "/api/users/me", token: token})
	assert.Equal(t, http.StatusTooManyRequests, status)
	assert.Equal(t, "RATE_LIMITED", decode[fiberauth.ErrorResponse](t, body).Code)
}

func TestController_CustomRoutes(t *testing.T) {
	s := newStack(t)
	routes := fiberauth.DefaultRoutes()
	routes.Login = "/v2/token"
	app := newTestApp(t, s, fiberauth.WithRoutes(routes))
	seed(t, s, "alice", "alice@example.com", "pw123456", auth.RoleUser)

	status, _ := call(t, app, request{
		method: http.MethodPost,
		path:   "/v2/token",
		form:   url.Values{"username": {"alice"}, "password": {"pw123456"}},
	})
	assert.Equal(t, http.StatusOK, status)

	status, _ = call(t, app, request{
		method: http.MethodPost,
		path:   "/api/auth/login",
		form:   url.Values{"username": {"alice"}, "password": {"pw123456"}},
	})
	assert.Equal(t, http.StatusNotFound, status)
}

func seed(t *testing.T, s *stack, username, email, password string, role auth.Role) {
	t.Helper()

	hash, err := s.manager.HashPassword(password)
	require.NoError(t, err)

	_, err = s.repo.Users().Save(context.Background(), &auth.User{
		Username:     username,
		Email:        email,
		PasswordHash: hash,
		Role:         role,
		Confirmed:    true,
	})
	require.NoError(t, err)
}
