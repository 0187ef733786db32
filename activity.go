package auth

import (
	"context"
	"time"
)

// ActivityEventType enumerates supported activity categories.
type ActivityEventType string

const (
	ActivityEventUserRegistered         ActivityEventType = "user.registered"
	ActivityEventLoginSuccess           ActivityEventType = "auth.login.success"
	ActivityEventLoginFailure           ActivityEventType = "auth.login.failure"
	ActivityEventEmailConfirmed         ActivityEventType = "auth.email.confirmed"
	ActivityEventPasswordResetRequested ActivityEventType = "auth.password.reset.requested"
	ActivityEventPasswordResetSuccess   ActivityEventType = "auth.password.reset"
	ActivityEventAvatarUpdated          ActivityEventType = "user.avatar.updated"
)

// ActorRef identifies who triggered an event
type ActorRef struct {
	ID   string
	Type string
}

// ActivityEvent captures audit-friendly information about an action.
type ActivityEvent struct {
	EventType  ActivityEventType
	Actor      ActorRef
	UserID     string
	Metadata   map[string]any
	OccurredAt time.Time
}

// ActivitySink consumes activity events for auditing/telemetry purposes.
type ActivitySink interface {
	Record(ctx context.Context, event ActivityEvent) error
}

// ActivitySinkFunc adapts a function to the ActivitySink interface.
type ActivitySinkFunc func(ctx context.Context, event ActivityEvent) error

// Record implements ActivitySink.
func (f ActivitySinkFunc) Record(ctx context.Context, event ActivityEvent) error {
	if f == nil {
		return nil
	}
	return f(ctx, event)
}

type noopActivitySink struct{}

func (noopActivitySink) Record(context.Context, ActivityEvent) error {
	return nil
}

func normalizeActivitySink(s ActivitySink) ActivitySink {
	if s == nil {
		return noopActivitySink{}
	}
	return s
}

// recordActivity fills defaults and forwards event to sink. Sink errors are
// logged and swallowed.
func recordActivity(ctx context.Context, sink ActivitySink, logger Logger, clock Clock, event ActivityEvent) {
	if event.Metadata == nil {
		event.Metadata = map[string]any{}
	}

	if event.OccurredAt.IsZero() {
		event.OccurredAt = normalizeClock(clock).Now()
	}

	if err := normalizeActivitySink(sink).Record(ctx, event); err != nil {
		normalizeLogger(logger).Warn("activity sink record error", "event", string(event.EventType), "error", err)
	}
}

func actorFromUser(user *User) ActorRef {
	if user == nil {
		return ActorRef{Type: "unknown"}
	}

	return ActorRef{
		ID:   user.ID.String(),
		Type: "user",
	}
}
