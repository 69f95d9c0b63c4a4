// Package routing maps decoded change records to broadcast topics. The table
// is pure data: adding an entity kind is a rule addition, not a code change.
package routing

import (
	"encoding/json"
	"strconv"

	"github.com/illmade-knight/go-change-relay/pkg/bridge"
)

// Rule describes how change records arriving on one source channel map to
// broadcast topics.
type Rule struct {
	// Channel is the source notification channel this rule applies to.
	Channel string
	// EntityKind labels the entity the channel carries; it backfills records
	// whose payload omits the table name.
	EntityKind string
	// StaticTopic is always included for records on this channel.
	StaticTopic string
	// DerivedField, when non-empty, names the entity-data field whose value
	// produces an additional per-entity topic. Only child entity kinds carry
	// an owning id in this domain; the top-level kind leaves this empty.
	DerivedField string
	// DerivedPrefix is prepended to the field value to form the derived
	// topic name.
	DerivedPrefix string
}

// Table routes change records by source channel. It implements bridge.Router
// and is safe for concurrent use once built.
type Table struct {
	rules    map[string]Rule
	channels []string
}

// NewTable builds a routing table from a rule list. A later rule for the same
// channel replaces an earlier one.
func NewTable(rules []Rule) *Table {
	t := &Table{rules: make(map[string]Rule, len(rules))}
	for _, r := range rules {
		if _, seen := t.rules[r.Channel]; !seen {
			t.channels = append(t.channels, r.Channel)
		}
		t.rules[r.Channel] = r
	}
	return t
}

// DefaultRules is the compiled-in routing configuration for the conversion
// domain. Clients subscribe broadly to a per-kind topic or narrowly to a
// per-conversion topic.
func DefaultRules() []Rule {
	return []Rule{
		{
			Channel:     "conversion_changes",
			EntityKind:  "Conversion",
			StaticTopic: "conversions",
		},
		{
			Channel:       "conversion_message_changes",
			EntityKind:    "ConversionMessage",
			StaticTopic:   "conversion-messages",
			DerivedField:  "conversionId",
			DerivedPrefix: "conversion-",
		},
		{
			Channel:       "conversion_step_changes",
			EntityKind:    "ConversionStep",
			StaticTopic:   "conversion-steps",
			DerivedField:  "conversionId",
			DerivedPrefix: "conversion-",
		},
	}
}

// Route returns the delivery topics for a record. Records on a channel with
// no rule pass through to a single topic named after the raw channel, so
// unrecognized change streams stay deliverable to clients subscribed to that
// exact name.
func (t *Table) Route(rec *bridge.ChangeRecord) []string {
	rule, ok := t.rules[rec.SourceChannel]
	if !ok {
		return []string{rec.SourceChannel}
	}

	topics := []string{rule.StaticTopic}
	if rule.DerivedField != "" {
		if id := scalarField(rec.EntityData(), rule.DerivedField); id != "" {
			if derived := rule.DerivedPrefix + id; derived != rule.StaticTopic {
				topics = append(topics, derived)
			}
		}
	}
	return topics
}

// EntityKind returns the kind label for a channel, or "" without a rule.
func (t *Table) EntityKind(channel string) string {
	return t.rules[channel].EntityKind
}

// Channels returns the source channels the table has rules for, in rule
// order. The change source registers exactly this set.
func (t *Table) Channels() []string {
	out := make([]string, len(t.channels))
	copy(out, t.channels)
	return out
}

// scalarField renders a routing id field as a string. Numeric ids arrive from
// JSON decoding as float64 and must not pick up an exponent.
func scalarField(data map[string]any, field string) string {
	v, ok := data[field]
	if !ok {
		return ""
	}
	switch x := v.(type) {
	case string:
		return x
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64)
	case json.Number:
		return x.String()
	default:
		return ""
	}
}
