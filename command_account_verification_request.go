package auth

import (
	"context"
	"time"

	validation "github.com/go-ozzo/ozzo-validation"
	goerrors "github.com/goliatone/go-errors"
)

type RequestVerificationMessage struct {
	Email   string `json:"email"`
	BaseURL string `json:"-"`

	OnResponse func(resp *RequestVerificationResponse) `json:"-"`
}

func (e RequestVerificationMessage) Type() string { return "user.verification.request" }

func (e RequestVerificationMessage) Validate() error {
	return validation.ValidateStruct(&e,
		validation.Field(&e.Email, emailRules...),
	)
}

// RequestVerificationResponse does not say whether the email is registered.
// AlreadyConfirmed is only set for known, confirmed identities.
type RequestVerificationResponse struct {
	AlreadyConfirmed bool
}

// RequestVerificationHandler resends the verification email
type RequestVerificationHandler struct {
	manager *AuthManager
	mailer  EmailDispatcher
	logger  Logger
}

func NewRequestVerificationHandler(manager *AuthManager, mailer EmailDispatcher) *RequestVerificationHandler {
	return &RequestVerificationHandler{
		manager: manager,
		mailer:  normalizeDispatcher(mailer, manager.logger),
		logger:  manager.logger,
	}
}

func (h *RequestVerificationHandler) WithLogger(logger Logger) *RequestVerificationHandler {
	h.logger = normalizeLogger(logger)
	return h
}

func (h *RequestVerificationHandler) Execute(ctx context.Context, event RequestVerificationMessage) error {
	select {
	case <-ctx.Done():
		return goerrors.Wrap(ctx.Err(), goerrors.CategoryOperation, "context cancelled during verification request")
	default:
		return h.execute(ctx, event)
	}
}

func (h *RequestVerificationHandler) execute(ctx context.Context, event RequestVerificationMessage) error {
	ctx, span := h.manager.tracer.Start(ctx, "auth.RequestVerification")
	defer span.End()

	if err := event.Validate(); err != nil {
		return h.manager.fail(span, validationError(err, "invalid verification request"))
	}

	ctx, cancel := context.WithTimeout(ctx, time.Second*10)
	defer cancel()

	resp := &RequestVerificationResponse{}

	user, err := h.manager.repo.FindByEmail(ctx, event.Email)
	switch {
	case goerrors.Is(err, ErrIdentityNotFound):
		h.logger.Info("RequestVerification unknown email", "email", event.Email)
	case err != nil:
		return h.manager.fail(span, goerrors.Wrap(err, goerrors.CategoryInternal, "failed to retrieve user for verification"))
	case user.Confirmed:
		resp.AlreadyConfirmed = true
	default:
		if err := h.send(ctx, user, event.BaseURL); err != nil {
			return h.manager.fail(span, err)
		}
	}

	if event.OnResponse != nil {
		event.OnResponse(resp)
	}

	return nil
}

func (h *RequestVerificationHandler) send(ctx context.Context, user *User, baseURL string) error {
	token, err := h.manager.CreateEmailVerificationToken(user.Email)
	if err != nil {
		h.logger.Error("RequestVerification failed to mint token", "user_id", user.ID.String(), "error", err)
		return ErrDelivery
	}

	if err := h.mailer.SendVerification(ctx, user.Email, user.Username, baseURL, token); err != nil {
		h.logger.Error("RequestVerification email failed", "user_id", user.ID.String(), "error", err)
		return ErrDelivery
	}

	return nil
}
