package auth

import (
	"context"
	"time"

	goerrors "github.com/goliatone/go-errors"
)

type ConfirmEmailMessage struct {
	Token string `json:"token"`

	OnResponse func(resp *ConfirmEmailResponse) `json:"-"`
}

func (e ConfirmEmailMessage) Type() string { return "user.verification.confirm" }

type ConfirmEmailResponse struct {
	Email            string
	AlreadyConfirmed bool
}

// ConfirmEmailHandler marks the identity named by a verification token as
// confirmed. Confirming twice is not an error.
type ConfirmEmailHandler struct {
	manager  *AuthManager
	logger   Logger
	activity ActivitySink
}

func NewConfirmEmailHandler(manager *AuthManager) *ConfirmEmailHandler {
	return &ConfirmEmailHandler{
		manager:  manager,
		logger:   manager.logger,
		activity: manager.activity,
	}
}

func (h *ConfirmEmailHandler) WithActivitySink(sink ActivitySink) *ConfirmEmailHandler {
	h.activity = normalizeActivitySink(sink)
	return h
}

func (h *ConfirmEmailHandler) Execute(ctx context.Context, event ConfirmEmailMessage) error {
	select {
	case <-ctx.Done():
		return goerrors.Wrap(ctx.Err(), goerrors.CategoryOperation, "context cancelled during email confirmation")
	default:
		return h.execute(ctx, event)
	}
}

func (h *ConfirmEmailHandler) execute(ctx context.Context, event ConfirmEmailMessage) error {
	ctx, span := h.manager.tracer.Start(ctx, "auth.ConfirmEmail")
	defer span.End()

	email, err := h.manager.ExtractEmailFromVerificationToken(event.Token)
	if err != nil {
		return h.manager.fail(span, err)
	}

	ctx, cancel := context.WithTimeout(ctx, time.Second*10)
	defer cancel()

	user, err := h.manager.repo.FindByEmail(ctx, email)
	if err != nil {
		if goerrors.Is(err, ErrIdentityNotFound) {
			h.logger.Info("ConfirmEmail token for unknown identity", "email", email)
			return h.manager.fail(span, ErrVerificationFailed)
		}
		return h.manager.fail(span, goerrors.Wrap(err, goerrors.CategoryInternal, "failed to retrieve user for confirmation"))
	}

	resp := &ConfirmEmailResponse{Email: user.Email}

	if user.Confirmed {
		resp.AlreadyConfirmed = true
	} else {
		if err := h.manager.repo.SetConfirmed(ctx, user.Email); err != nil {
			return h.manager.fail(span, goerrors.Wrap(err, goerrors.CategoryInternal, "failed to confirm email"))
		}

		recordActivity(ctx, h.activity, h.logger, h.manager.clock, ActivityEvent{
			EventType: ActivityEventEmailConfirmed,
			Actor:     actorFromUser(user),
			UserID:    user.ID.String(),
		})
	}

	if event.OnResponse != nil {
		event.OnResponse(resp)
	}

	return nil
}
