// Package activitymap flattens auth activity events into records that audit
// stores and log pipelines can consume without importing the auth package.
package activitymap

import (
	"context"
	"strings"
	"time"

	auth "github.com/dinarest/contacts-auth"
)

const (
	// MetadataKeyActorType carries auth.ActorRef.Type
	MetadataKeyActorType = "actor_type"
	// MetadataKeyOutcome is "success" or "failure" for login events
	MetadataKeyOutcome = "outcome"
)

const (
	defaultChannel    = "contacts.auth"
	defaultObjectType = "user"
	defaultActorID    = "anonymous"
)

// Record is the flattened event
type Record struct {
	ActorID    string         `json:"actor_id"`
	Verb       string         `json:"verb"`
	ObjectType string         `json:"object_type,omitempty"`
	ObjectID   string         `json:"object_id,omitempty"`
	Channel    string         `json:"channel,omitempty"`
	Metadata   map[string]any `json:"metadata,omitempty"`
	OccurredAt time.Time      `json:"occurred_at"`
}

type Option func(*options)

type options struct {
	channel       string
	objectType    string
	actorFallback string
	redact        map[string]bool
}

func WithChannel(channel string) Option {
	return func(o *options) {
		o.channel = strings.TrimSpace(channel)
	}
}

func WithObjectType(objectType string) Option {
	return func(o *options) {
		o.objectType = strings.TrimSpace(objectType)
	}
}

// WithActorFallback names the actor used when the event has no actor or user id
func WithActorFallback(actorID string) Option {
	return func(o *options) {
		o.actorFallback = strings.TrimSpace(actorID)
	}
}

// WithRedactedKeys drops metadata keys from the record, e.g. "identifier" so
// failed login attempts do not leak typed usernames into logs.
func WithRedactedKeys(keys ...string) Option {
	return func(o *options) {
		for _, k := range keys {
			o.redact[k] = true
		}
	}
}

// Normalize converts event into a Record
func Normalize(event auth.ActivityEvent, opts ...Option) Record {
	o := options{
		channel:       defaultChannel,
		objectType:    defaultObjectType,
		actorFallback: defaultActorID,
		redact:        map[string]bool{},
	}
	for _, opt := range opts {
		if opt != nil {
			opt(&o)
		}
	}

	occurredAt := event.OccurredAt
	if occurredAt.IsZero() {
		occurredAt = time.Now().UTC()
	}

	return Record{
		ActorID:    firstNonEmpty(strings.TrimSpace(event.Actor.ID), strings.TrimSpace(event.UserID), o.actorFallback),
		Verb:       string(event.EventType),
		ObjectType: o.objectType,
		ObjectID:   strings.TrimSpace(event.UserID),
		Channel:    o.channel,
		Metadata:   metadata(event, o.redact),
		OccurredAt: occurredAt,
	}
}

// LogSink returns an ActivitySink writing each normalized record to logger
func LogSink(logger auth.Logger, opts ...Option) auth.ActivitySink {
	return auth.ActivitySinkFunc(func(_ context.Context, event auth.ActivityEvent) error {
		rec := Normalize(event, opts...)
		logger.Info("activity",
			"verb", rec.Verb,
			"actor_id", rec.ActorID,
			"object_id", rec.ObjectID,
			"channel", rec.Channel,
			"metadata", rec.Metadata,
			"occurred_at", rec.OccurredAt,
		)
		return nil
	})
}

func metadata(event auth.ActivityEvent, redact map[string]bool) map[string]any {
	out := map[string]any{}
	for k, v := range event.Metadata {
		if !redact[k] {
			out[k] = v
		}
	}

	if actorType := strings.TrimSpace(event.Actor.Type); actorType != "" {
		if _, ok := out[MetadataKeyActorType]; !ok {
			out[MetadataKeyActorType] = actorType
		}
	}

	switch event.EventType {
	case auth.ActivityEventLoginSuccess:
		out[MetadataKeyOutcome] = "success"
	case auth.ActivityEventLoginFailure:
		out[MetadataKeyOutcome] = "failure"
	}

	if len(out) == 0 {
		return nil
	}
	return out
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
