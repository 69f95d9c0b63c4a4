package bridge

import (
	"context"
	"encoding/json"

	"github.com/rs/zerolog"
)

// Broadcaster is the capability, supplied by the transport layer, to deliver
// a message to every current member of a topic. Broadcast is fire-and-forget
// from the bridge's perspective: implementations must not block on individual
// client delivery, and an empty topic is not an error.
type Broadcaster interface {
	Broadcast(ctx context.Context, topic string, event string, payload []byte) error
}

// Router maps a decoded change record to the set of topics that should
// receive it. Implementations must be pure and deterministic.
type Router interface {
	// Route returns the delivery topics for a record, duplicates removed.
	Route(rec *ChangeRecord) []string
	// EntityKind returns the kind label configured for a source channel, or
	// "" when the channel has no rule. Used to label records whose payload
	// omits the table name.
	EntityKind(channel string) string
}

// Frame is the wire format for every message delivered to a topic, wrapping
// the event name and the payload so clients can demultiplex.
type Frame struct {
	Event string          `json:"event"`
	Topic string          `json:"topic"`
	Data  json.RawMessage `json:"data"`
}

// MultiBroadcaster fans a single broadcast out to several sinks. A failing
// sink is logged and skipped so that one slow or broken transport never
// starves the others.
type MultiBroadcaster struct {
	sinks  []Broadcaster
	logger zerolog.Logger
}

// NewMultiBroadcaster creates a broadcaster that delivers to every sink in
// the order given.
func NewMultiBroadcaster(logger zerolog.Logger, sinks ...Broadcaster) *MultiBroadcaster {
	return &MultiBroadcaster{
		sinks:  sinks,
		logger: logger.With().Str("component", "MultiBroadcaster").Logger(),
	}
}

// Broadcast delivers the payload to all sinks. It never returns an error;
// per-sink failures are logged and do not affect the remaining sinks.
func (m *MultiBroadcaster) Broadcast(ctx context.Context, topic string, event string, payload []byte) error {
	for _, sink := range m.sinks {
		if err := sink.Broadcast(ctx, topic, event, payload); err != nil {
			m.logger.Warn().Err(err).Str("topic", topic).Msg("Broadcast sink failed, continuing with remaining sinks.")
		}
	}
	return nil
}
