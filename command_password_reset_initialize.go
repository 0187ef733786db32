package auth

import (
	"context"
	"time"

	validation "github.com/go-ozzo/ozzo-validation"
	goerrors "github.com/goliatone/go-errors"
)

type InitializePasswordResetMessage struct {
	Email   string `json:"email"`
	BaseURL string `json:"-"`

	OnResponse func(resp *InitializePasswordResetResponse) `json:"-"`
}

func (p InitializePasswordResetMessage) Type() string { return "user.password_reset" }

func (p InitializePasswordResetMessage) Validate() error {
	return validation.ValidateStruct(&p,
		validation.Field(&p.Email, emailRules...),
	)
}

type InitializePasswordResetResponse struct {
	Email string
}

// InitializePasswordResetHandler mints a reset token and mails the reset
// link. Unknown emails yield ErrIdentityNotFound.
type InitializePasswordResetHandler struct {
	manager  *AuthManager
	mailer   EmailDispatcher
	logger   Logger
	activity ActivitySink
}

func NewInitializePasswordResetHandler(manager *AuthManager, mailer EmailDispatcher) *InitializePasswordResetHandler {
	return &InitializePasswordResetHandler{
		manager:  manager,
		mailer:   normalizeDispatcher(mailer, manager.logger),
		logger:   manager.logger,
		activity: manager.activity,
	}
}

func (h *InitializePasswordResetHandler) WithActivitySink(sink ActivitySink) *InitializePasswordResetHandler {
	h.activity = normalizeActivitySink(sink)
	return h
}

func (h *InitializePasswordResetHandler) Execute(ctx context.Context, event InitializePasswordResetMessage) error {
	select {
	case <-ctx.Done():
		return goerrors.Wrap(
			ctx.Err(),
			goerrors.CategoryOperation,
			"context cancelled during password reset initialization",
		)
	default:
		return h.execute(ctx, event)
	}
}

func (h *InitializePasswordResetHandler) execute(ctx context.Context, event InitializePasswordResetMessage) error {
	ctx, span := h.manager.tracer.Start(ctx, "auth.InitializePasswordReset")
	defer span.End()

	if err := event.Validate(); err != nil {
		return h.manager.fail(span, validationError(err, "invalid password reset request"))
	}

	ctx, cancel := context.WithTimeout(ctx, time.Second*10)
	defer cancel()

	user, err := h.manager.repo.FindByEmail(ctx, event.Email)
	if err != nil {
		if goerrors.Is(err, ErrIdentityNotFound) {
			return h.manager.fail(span, ErrIdentityNotFound)
		}
		return h.manager.fail(span, goerrors.Wrap(err, goerrors.CategoryInternal, "failed to retrieve user for password reset"))
	}

	token, err := h.manager.CreatePasswordResetToken(user.Email)
	if err != nil {
		return h.manager.fail(span, goerrors.Wrap(err, goerrors.CategoryInternal, "failed to create password reset token"))
	}

	recordActivity(ctx, h.activity, h.logger, h.manager.clock, ActivityEvent{
		EventType: ActivityEventPasswordResetRequested,
		Actor:     actorFromUser(user),
		UserID:    user.ID.String(),
	})

	// the token stays valid if delivery fails, the user may simply retry
	if err := h.mailer.SendPasswordReset(ctx, user.Email, event.BaseURL, token); err != nil {
		h.logger.Error("InitializePasswordReset email failed", "user_id", user.ID.String(), "error", err)
		return h.manager.fail(span, ErrDelivery)
	}

	if event.OnResponse != nil {
		event.OnResponse(&InitializePasswordResetResponse{Email: user.Email})
	}

	return nil
}
