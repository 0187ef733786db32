package fiberauth

import (
	"net/http"
	"strings"
	"time"

	auth "github.com/dinarest/contacts-auth"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/limiter"
)

// Routes holds the mount paths. Defaults mirror the public API of the
// contacts service.
type Routes struct {
	Register             string
	Login                string
	RequestPasswordReset string
	ResetPasswordForm    string
	ResetPassword        string
	Me                   string
	ConfirmEmail         string
	RequestEmail         string
	Avatar               string
}

func DefaultRoutes() Routes {
	return Routes{
		Register:             "/api/auth/register",
		Login:                "/api/auth/login",
		RequestPasswordReset: "/api/auth/request-password-reset",
		ResetPasswordForm:    "/api/auth/reset-password-form",
		ResetPassword:        "/api/auth/reset-password",
		Me:                   "/api/users/me",
		ConfirmEmail:         "/api/users/confirmed_email/:token",
		RequestEmail:         "/api/users/request_email",
		Avatar:               "/api/users/avatar",
	}
}

// Controller exposes the account flows over HTTP
type Controller struct {
	Routes  Routes
	BaseURL string
	// MeLimit caps GET Me requests per client IP per minute. Zero disables it.
	MeLimit int

	manager         *auth.AuthManager
	guard           *Guard
	register        *auth.RegisterUserHandler
	requestEmail    *auth.RequestVerificationHandler
	confirmEmail    *auth.ConfirmEmailHandler
	initializeReset *auth.InitializePasswordResetHandler
	finalizeReset   *auth.FinalizePasswordResetHandler
	updateAvatar    *auth.UpdateAvatarHandler
}

type ControllerOption func(*Controller)

// WithBaseURL fixes the base of links placed in emails. Without it the
// request's scheme and host are used.
func WithBaseURL(baseURL string) ControllerOption {
	return func(c *Controller) {
		c.BaseURL = strings.TrimRight(baseURL, "/")
	}
}

func WithRoutes(routes Routes) ControllerOption {
	return func(c *Controller) {
		c.Routes = routes
	}
}

func WithMeLimit(perMinute int) ControllerOption {
	return func(c *Controller) {
		c.MeLimit = perMinute
	}
}

func NewController(manager *auth.AuthManager, repo auth.RepositoryManager, mailer auth.EmailDispatcher, opts ...ControllerOption) *Controller {
	c := &Controller{
		Routes:          DefaultRoutes(),
		MeLimit:         5,
		manager:         manager,
		guard:           NewGuard(manager),
		register:        auth.NewRegisterUserHandler(repo, manager, mailer),
		requestEmail:    auth.NewRequestVerificationHandler(manager, mailer),
		confirmEmail:    auth.NewConfirmEmailHandler(manager),
		initializeReset: auth.NewInitializePasswordResetHandler(manager, mailer),
		finalizeReset:   auth.NewFinalizePasswordResetHandler(repo, manager),
		updateAvatar:    auth.NewUpdateAvatarHandler(manager),
	}

	for _, opt := range opts {
		if opt != nil {
			opt(c)
		}
	}

	return c
}

// Register mounts every route on r
func (a *Controller) Register(r fiber.Router) {
	r.Post(a.Routes.Register, a.RegisterUser)
	r.Post(a.Routes.Login, a.Login)
	r.Post(a.Routes.RequestPasswordReset, a.RequestPasswordReset)
	r.Get(a.Routes.ResetPasswordForm, a.ResetPasswordForm)
	r.Post(a.Routes.ResetPassword, a.ResetPassword)

	me := []fiber.Handler{}
	if a.MeLimit > 0 {
		me = append(me, limiter.New(limiter.Config{
			Max:        a.MeLimit,
			Expiration: time.Minute,
			LimitReached: func(c *fiber.Ctx) error {
				return c.Status(http.StatusTooManyRequests).JSON(ErrorResponse{
					Error: "resource limit exceeded",
					Code:  "RATE_LIMITED",
				})
			},
		}))
	}
	me = append(me, a.guard.Identity(a.Me))
	r.Get(a.Routes.Me, me...)

	r.Get(a.Routes.ConfirmEmail, a.ConfirmEmail)
	r.Post(a.Routes.RequestEmail, a.RequestEmail)
	r.Patch(a.Routes.Avatar, a.guard.Admin(a.UpdateAvatar))
}

type messageResponse struct {
	Message string `json:"message"`
}

// UserResponse is the public view of an identity
type UserResponse struct {
	ID        string    `json:"id"`
	Username  string    `json:"username"`
	Email     string    `json:"email"`
	Role      auth.Role `json:"role"`
	Confirmed bool      `json:"confirmed"`
	Avatar    string    `json:"avatar,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

func newUserResponse(u auth.User) UserResponse {
	return UserResponse{
		ID:        u.ID.String(),
		Username:  u.Username,
		Email:     u.Email,
		Role:      u.Role,
		Confirmed: u.Confirmed,
		Avatar:    u.Avatar,
		CreatedAt: u.CreatedAt,
	}
}

type registerResponse struct {
	UserResponse
	Message string `json:"message,omitempty"`
}

func (a *Controller) RegisterUser(c *fiber.Ctx) error {
	msg := auth.RegisterUserMessage{}
	if err := c.BodyParser(&msg); err != nil {
		return fiber.NewError(http.StatusBadRequest, "invalid request body")
	}

	var resp *auth.RegisterUserResponse
	msg.BaseURL = a.baseURL(c)
	msg.OnResponse = func(r *auth.RegisterUserResponse) { resp = r }

	if err := a.register.Execute(c.UserContext(), msg); err != nil {
		return err
	}

	out := registerResponse{UserResponse: newUserResponse(*resp.User)}
	if !resp.EmailSent {
		out.Message = "account created but the confirmation email could not be sent, request a new one"
	}

	return c.Status(http.StatusCreated).JSON(out)
}

// LoginRequest accepts the OAuth2 password form or the same fields as JSON
type LoginRequest struct {
	Username string `form:"username" json:"username"`
	Password string `form:"password" json:"password"`
}

type tokenResponse struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
}

func (a *Controller) Login(c *fiber.Ctx) error {
	payload := LoginRequest{}
	if err := c.BodyParser(&payload); err != nil {
		return fiber.NewError(http.StatusBadRequest, "invalid request body")
	}

	token, err := a.manager.Login(c.UserContext(), payload.Username, payload.Password)
	if err != nil {
		return err
	}

	return c.JSON(tokenResponse{AccessToken: token, TokenType: "bearer"})
}

type emailRequest struct {
	Email string `form:"email" json:"email"`
}

func (a *Controller) RequestPasswordReset(c *fiber.Ctx) error {
	payload := emailRequest{}
	if err := c.BodyParser(&payload); err != nil {
		return fiber.NewError(http.StatusBadRequest, "invalid request body")
	}

	err := a.initializeReset.Execute(c.UserContext(), auth.InitializePasswordResetMessage{
		Email:   payload.Email,
		BaseURL: a.baseURL(c),
	})
	if err != nil {
		return err
	}

	return c.JSON(messageResponse{Message: "Password reset email sent. Check your inbox."})
}

func (a *Controller) ResetPassword(c *fiber.Ctx) error {
	msg := auth.FinalizePasswordResetMessage{}
	if err := c.BodyParser(&msg); err != nil {
		return fiber.NewError(http.StatusBadRequest, "invalid request body")
	}

	if err := a.finalizeReset.Execute(c.UserContext(), msg); err != nil {
		return err
	}

	return c.JSON(messageResponse{Message: "Password reset successfully."})
}

func (a *Controller) Me(c *fiber.Ctx, p *auth.Principal) error {
	return c.JSON(newUserResponse(p.User()))
}

func (a *Controller) ConfirmEmail(c *fiber.Ctx) error {
	var resp *auth.ConfirmEmailResponse

	err := a.confirmEmail.Execute(c.UserContext(), auth.ConfirmEmailMessage{
		Token:      c.Params("token"),
		OnResponse: func(r *auth.ConfirmEmailResponse) { resp = r },
	})
	if err != nil {
		return err
	}

	if resp.AlreadyConfirmed {
		return c.JSON(messageResponse{Message: "You have already confirmed your email"})
	}

	return c.JSON(messageResponse{Message: "Email confirmed successfully"})
}

func (a *Controller) RequestEmail(c *fiber.Ctx) error {
	payload := emailRequest{}
	if err := c.BodyParser(&payload); err != nil {
		return fiber.NewError(http.StatusBadRequest, "invalid request body")
	}

	var resp *auth.RequestVerificationResponse

	err := a.requestEmail.Execute(c.UserContext(), auth.RequestVerificationMessage{
		Email:      payload.Email,
		BaseURL:    a.baseURL(c),
		OnResponse: func(r *auth.RequestVerificationResponse) { resp = r },
	})
	if err != nil {
		return err
	}

	if resp.AlreadyConfirmed {
		return c.JSON(messageResponse{Message: "Your email is already confirmed"})
	}

	return c.JSON(messageResponse{Message: "Check your email for confirmation"})
}

type avatarRequest struct {
	AvatarURL string `json:"avatar_url"`
}

func (a *Controller) UpdateAvatar(c *fiber.Ctx, admin *auth.AdminPrincipal) error {
	payload := avatarRequest{}
	if err := c.BodyParser(&payload); err != nil {
		return fiber.NewError(http.StatusBadRequest, "invalid request body")
	}

	var updated *auth.User

	err := a.updateAvatar.Execute(c.UserContext(), auth.UpdateAvatarMessage{
		Admin:      admin,
		AvatarURL:  payload.AvatarURL,
		OnResponse: func(u *auth.User) { updated = u },
	})
	if err != nil {
		return err
	}

	return c.JSON(newUserResponse(*updated))
}

func (a *Controller) baseURL(c *fiber.Ctx) string {
	if a.BaseURL != "" {
		return a.BaseURL
	}
	return c.BaseURL()
}
