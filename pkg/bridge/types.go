package bridge

import (
	"context"
	"time"
)

// Notification is the raw event as received from the change source, before
// any decoding. It is produced by a NotificationConsumer and consumed
// immediately by the bridge pipeline.
type Notification struct {
	// Channel is the source channel the notification arrived on.
	Channel string
	// Payload is the raw text payload as delivered by the source.
	Payload string
	// ReceivedAt is the time the notification was read off the connection.
	ReceivedAt time.Time
}

// NotificationConsumer defines the interface for a change-notification
// source. It is responsible for owning the underlying connection and handing
// raw events to the pipeline.
type NotificationConsumer interface {
	// Messages returns a read-only channel from which the pipeline receives
	// raw notifications.
	Messages() <-chan Notification
	// Start begins consumption. It must be idempotent: calling it on a
	// consumer that is already connecting or listening is a no-op.
	Start(ctx context.Context) error
	// Stop releases the underlying connection. Safe to call from any state.
	Stop(ctx context.Context) error
	// Done returns a channel that is closed when the consumer has completely
	// shut down.
	Done() <-chan struct{}
}

// Operation classifies a change record.
type Operation string

const (
	OpInsert  Operation = "INSERT"
	OpUpdate  Operation = "UPDATE"
	OpDelete  Operation = "DELETE"
	OpUnknown Operation = "UNKNOWN"
)

// ChangeRecord is the structured form of a decoded notification. It is
// immutable once decoded.
type ChangeRecord struct {
	Operation  Operation
	Schema     string
	EntityKind string
	// New holds the row values after the change; nil for a DELETE.
	New map[string]any
	// Old holds the row values before the change; nil for an INSERT.
	Old map[string]any
	// SourceChannel is the channel the originating notification arrived on.
	SourceChannel string
}

// EntityData returns the field map used for routing decisions: the new row
// values when present, otherwise the old ones. A nil result is valid and only
// narrows routing breadth.
func (r *ChangeRecord) EntityData() map[string]any {
	if len(r.New) > 0 {
		return r.New
	}
	return r.Old
}

// EventChange is the wire-level event name under which change envelopes are
// broadcast to topics.
const EventChange = "change"

// Envelope is the fixed outward payload shape for a change delivery. New
// marshals as null for a DELETE and Old as null for an INSERT; both sides are
// populated for an UPDATE. The fields are deliberately not omitempty: the
// payload shape is fixed for client compatibility.
type Envelope struct {
	Event  string         `json:"event"`
	Schema string         `json:"schema"`
	Table  string         `json:"table"`
	New    map[string]any `json:"new"`
	Old    map[string]any `json:"old"`
}

// NewEnvelope builds the outward payload for a record, enforcing the
// null-side convention for INSERT and DELETE.
func NewEnvelope(rec *ChangeRecord) Envelope {
	env := Envelope{
		Event:  string(rec.Operation),
		Schema: rec.Schema,
		Table:  rec.EntityKind,
		New:    rec.New,
		Old:    rec.Old,
	}
	switch rec.Operation {
	case OpInsert:
		env.Old = nil
	case OpDelete:
		env.New = nil
	}
	return env
}
