package auth

import (
	"context"
	"time"

	validation "github.com/go-ozzo/ozzo-validation"
	"github.com/go-ozzo/ozzo-validation/is"
	goerrors "github.com/goliatone/go-errors"
	"github.com/goliatone/hashid/pkg/hashid"
	"github.com/uptrace/bun"
	"go.opentelemetry.io/otel/attribute"
)

type RegisterUserMessage struct {
	Username  string `json:"username" form:"username"`
	Email     string `json:"email" form:"email"`
	Password  string `json:"password" form:"password"`
	BaseURL   string `json:"-" form:"-"`
	UseHashid bool   `json:"-" form:"-"`

	OnResponse func(resp *RegisterUserResponse) `json:"-" form:"-"`
}

func (e RegisterUserMessage) Type() string { return "user.register" }

func (e RegisterUserMessage) Validate() error {
	return validation.ValidateStruct(&e,
		validation.Field(&e.Username, validation.Required, validation.Length(3, 50), is.PrintableASCII),
		validation.Field(&e.Email, emailRules...),
		validation.Field(&e.Password, passwordRules...),
	)
}

type RegisterUserResponse struct {
	User *User
	// EmailSent is false when the verification email could not be delivered.
	// The account exists either way and the user can ask for a new email.
	EmailSent     bool
	DeliveryError error
}

type RegisterUserHandler struct {
	repo     RepositoryManager
	manager  *AuthManager
	mailer   EmailDispatcher
	logger   Logger
	activity ActivitySink
}

func NewRegisterUserHandler(repo RepositoryManager, manager *AuthManager, mailer EmailDispatcher) *RegisterUserHandler {
	return &RegisterUserHandler{
		repo:     repo,
		manager:  manager,
		mailer:   normalizeDispatcher(mailer, manager.logger),
		logger:   manager.logger,
		activity: manager.activity,
	}
}

func (h *RegisterUserHandler) WithLogger(logger Logger) *RegisterUserHandler {
	h.logger = normalizeLogger(logger)
	return h
}

func (h *RegisterUserHandler) WithActivitySink(sink ActivitySink) *RegisterUserHandler {
	h.activity = normalizeActivitySink(sink)
	return h
}

func (h *RegisterUserHandler) Execute(ctx context.Context, event RegisterUserMessage) error {
	select {
	case <-ctx.Done():
		return goerrors.Wrap(
			ctx.Err(),
			goerrors.CategoryOperation,
			"context cancelled during user registration",
		)
	default:
		return h.execute(ctx, event)
	}
}

func (h *RegisterUserHandler) execute(ctx context.Context, event RegisterUserMessage) error {
	ctx, span := h.manager.tracer.Start(ctx, "auth.RegisterUser")
	defer span.End()

	if err := event.Validate(); err != nil {
		return h.manager.fail(span, validationError(err, "invalid registration payload"))
	}

	ctx, cancel := context.WithTimeout(ctx, time.Second*10)
	defer cancel()

	hash, err := h.manager.HashPassword(event.Password)
	if err != nil {
		return h.manager.fail(span, goerrors.Wrap(err, goerrors.CategoryInternal, "failed to hash password"))
	}

	user := &User{
		Username:     event.Username,
		Email:        event.Email,
		PasswordHash: hash,
		Role:         RoleUser,
	}

	if event.UseHashid {
		if id, err := hashid.NewUUID(NormalizeIdentifier(event.Email)); err == nil {
			user.ID = id
		}
	}

	err = h.repo.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		if err := h.ensureAvailable(ctx, tx, event); err != nil {
			return err
		}

		created, err := h.repo.Users().SaveTx(ctx, tx, user)
		if err != nil {
			if goerrors.IsCategory(err, goerrors.CategoryConflict) {
				h.logger.Warn("RegisterUser save conflict", "username", event.Username, "error", err)
				return ErrIdentityConflict
			}
			return err
		}

		user = created
		return nil
	})

	if err != nil {
		if goerrors.Is(err, ErrIdentityConflict) {
			return h.manager.fail(span, ErrIdentityConflict)
		}

		var richErr *goerrors.Error
		if goerrors.As(err, &richErr) {
			return h.manager.fail(span, richErr)
		}

		return h.manager.fail(span, goerrors.Wrap(err, goerrors.CategoryInternal, "user registration transaction failed"))
	}

	span.SetAttributes(attribute.String("auth.user_id", user.ID.String()))

	recordActivity(ctx, h.activity, h.logger, h.manager.clock, ActivityEvent{
		EventType: ActivityEventUserRegistered,
		Actor:     actorFromUser(user),
		UserID:    user.ID.String(),
		Metadata:  map[string]any{"username": user.Username},
	})

	resp := &RegisterUserResponse{User: user, EmailSent: true}

	if err := h.sendVerification(ctx, user, event.BaseURL); err != nil {
		resp.EmailSent = false
		resp.DeliveryError = err
	}

	if event.OnResponse != nil {
		event.OnResponse(resp)
	}

	return nil
}

func (h *RegisterUserHandler) ensureAvailable(ctx context.Context, tx bun.IDB, event RegisterUserMessage) error {
	if _, err := h.repo.Users().FindByEmailTx(ctx, tx, event.Email); err == nil {
		h.logger.Info("RegisterUser email taken", "email", event.Email)
		return ErrIdentityConflict
	} else if !goerrors.Is(err, ErrIdentityNotFound) {
		return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to check email availability")
	}

	if _, err := h.repo.Users().FindByUsernameTx(ctx, tx, event.Username); err == nil {
		h.logger.Info("RegisterUser username taken", "username", event.Username)
		return ErrIdentityConflict
	} else if !goerrors.Is(err, ErrIdentityNotFound) {
		return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to check username availability")
	}

	return nil
}

func (h *RegisterUserHandler) sendVerification(ctx context.Context, user *User, baseURL string) error {
	token, err := h.manager.CreateEmailVerificationToken(user.Email)
	if err != nil {
		h.logger.Error("RegisterUser failed to mint verification token", "user_id", user.ID.String(), "error", err)
		return ErrDelivery
	}

	if err := h.mailer.SendVerification(ctx, user.Email, user.Username, baseURL, token); err != nil {
		h.logger.Error("RegisterUser verification email failed", "user_id", user.ID.String(), "error", err)
		return ErrDelivery
	}

	return nil
}
