package auth

import (
	"context"
	"time"

	goerrors "github.com/goliatone/go-errors"
	"github.com/uptrace/bun"
)

type FinalizePasswordResetMessage struct {
	Token    string `json:"token" form:"token"`
	Password string `json:"new_password" form:"new_password"`
}

func (p FinalizePasswordResetMessage) Type() string { return "user.password_reset.finalize" }

// FinalizePasswordResetHandler sets a new password for the identity named by
// a reset token. A token minted before the last password change is refused,
// so a token cannot be replayed once it has been used.
type FinalizePasswordResetHandler struct {
	repo     RepositoryManager
	manager  *AuthManager
	activity ActivitySink
	logger   Logger
}

func NewFinalizePasswordResetHandler(repo RepositoryManager, manager *AuthManager) *FinalizePasswordResetHandler {
	return &FinalizePasswordResetHandler{
		repo:     repo,
		manager:  manager,
		activity: manager.activity,
		logger:   manager.logger,
	}
}

// WithActivitySink sets the sink used to emit password reset events.
func (h *FinalizePasswordResetHandler) WithActivitySink(sink ActivitySink) *FinalizePasswordResetHandler {
	h.activity = normalizeActivitySink(sink)
	return h
}

// WithLogger overrides the logger used by the handler.
func (h *FinalizePasswordResetHandler) WithLogger(logger Logger) *FinalizePasswordResetHandler {
	if logger != nil {
		h.logger = logger
	}
	return h
}

func (h *FinalizePasswordResetHandler) Execute(ctx context.Context, event FinalizePasswordResetMessage) error {
	select {
	case <-ctx.Done():
		return goerrors.Wrap(
			ctx.Err(),
			goerrors.CategoryOperation,
			"context cancelled during password reset finalization",
		)
	default:
		return h.execute(ctx, event)
	}
}

func (h *FinalizePasswordResetHandler) execute(ctx context.Context, event FinalizePasswordResetMessage) error {
	ctx, span := h.manager.tracer.Start(ctx, "auth.FinalizePasswordReset")
	defer span.End()

	email, issuedAt, err := h.manager.decodeResetToken(event.Token)
	if err != nil {
		return h.manager.fail(span, err)
	}

	if err := ValidatePassword(event.Password); err != nil {
		return h.manager.fail(span, err)
	}

	passwordHash, err := h.manager.HashPassword(event.Password)
	if err != nil {
		return h.manager.fail(span, goerrors.Wrap(err, goerrors.CategoryInternal, "failed to hash password"))
	}

	ctx, cancel := context.WithTimeout(ctx, time.Second*10)
	defer cancel()

	user := &User{}

	err = h.repo.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		user, err = h.repo.Users().FindByEmailTx(ctx, tx, email)
		if err != nil {
			if goerrors.Is(err, ErrIdentityNotFound) {
				return ErrIdentityNotFound
			}
			return goerrors.Wrap(err, goerrors.CategoryInternal, "could not retrieve user for password reset")
		}

		// iat has second precision
		if !user.PasswordChangedAt.IsZero() && issuedAt.Before(user.PasswordChangedAt.Truncate(time.Second)) {
			h.logger.Info("FinalizePasswordReset token predates last password change", "user_id", user.ID.String())
			return ErrInvalidResetToken
		}

		if err := h.repo.Users().SetPasswordTx(ctx, tx, user.Email, passwordHash); err != nil {
			return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to update user password in database")
		}

		return nil
	})

	if err != nil {
		if goerrors.Is(err, ErrIdentityNotFound) || goerrors.Is(err, ErrInvalidResetToken) {
			return h.manager.fail(span, err)
		}

		var richErr *goerrors.Error
		if goerrors.As(err, &richErr) {
			return h.manager.fail(span, richErr)
		}
		return h.manager.fail(span, goerrors.Wrap(err, goerrors.CategoryInternal, "failed to finalize password reset"))
	}

	recordActivity(ctx, h.activity, h.logger, h.manager.clock, ActivityEvent{
		EventType: ActivityEventPasswordResetSuccess,
		Actor:     actorFromUser(user),
		UserID:    user.ID.String(),
	})

	return nil
}
