package auth

import (
	"context"
	"time"

	validation "github.com/go-ozzo/ozzo-validation"
	"github.com/go-ozzo/ozzo-validation/is"
	goerrors "github.com/goliatone/go-errors"
)

type UpdateAvatarMessage struct {
	Admin     *AdminPrincipal `json:"-"`
	AvatarURL string          `json:"avatar_url"`

	OnResponse func(user *User) `json:"-"`
}

func (e UpdateAvatarMessage) Type() string { return "user.avatar.update" }

func (e UpdateAvatarMessage) Validate() error {
	return validation.ValidateStruct(&e,
		validation.Field(&e.AvatarURL, validation.Required, validation.Length(1, 2048), is.URL),
	)
}

// UpdateAvatarHandler stores a new avatar URL for the calling admin. The
// AdminPrincipal can only come from AuthManager.ResolveCurrentAdmin.
type UpdateAvatarHandler struct {
	manager  *AuthManager
	logger   Logger
	activity ActivitySink
}

func NewUpdateAvatarHandler(manager *AuthManager) *UpdateAvatarHandler {
	return &UpdateAvatarHandler{
		manager:  manager,
		logger:   manager.logger,
		activity: manager.activity,
	}
}

func (h *UpdateAvatarHandler) Execute(ctx context.Context, event UpdateAvatarMessage) error {
	select {
	case <-ctx.Done():
		return goerrors.Wrap(ctx.Err(), goerrors.CategoryOperation, "context cancelled during avatar update")
	default:
		return h.execute(ctx, event)
	}
}

func (h *UpdateAvatarHandler) execute(ctx context.Context, event UpdateAvatarMessage) error {
	ctx, span := h.manager.tracer.Start(ctx, "auth.UpdateAvatar")
	defer span.End()

	if event.Admin.Principal() == nil {
		return h.manager.fail(span, ErrForbidden)
	}

	if err := event.Validate(); err != nil {
		return h.manager.fail(span, validationError(err, "invalid avatar payload"))
	}

	ctx, cancel := context.WithTimeout(ctx, time.Second*10)
	defer cancel()

	user, err := h.manager.repo.SetAvatar(ctx, event.Admin.Email(), event.AvatarURL)
	if err != nil {
		if goerrors.Is(err, ErrIdentityNotFound) {
			return h.manager.fail(span, ErrIdentityNotFound)
		}
		return h.manager.fail(span, goerrors.Wrap(err, goerrors.CategoryInternal, "failed to update avatar"))
	}

	recordActivity(ctx, h.activity, h.logger, h.manager.clock, ActivityEvent{
		EventType: ActivityEventAvatarUpdated,
		Actor:     actorFromUser(user),
		UserID:    user.ID.String(),
		Metadata:  map[string]any{"avatar": user.Avatar},
	})

	if event.OnResponse != nil {
		event.OnResponse(user)
	}

	return nil
}
