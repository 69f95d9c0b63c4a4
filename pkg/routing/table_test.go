package routing_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/illmade-knight/go-change-relay/pkg/bridge"
	"github.com/illmade-knight/go-change-relay/pkg/routing"
)

func defaultTable() *routing.Table {
	return routing.NewTable(routing.DefaultRules())
}

func TestRoute_TopLevelKindHasNoDerivedTopic(t *testing.T) {
	table := defaultTable()

	// Even a payload carrying the owning id must not produce a derived topic
	// for the top-level kind.
	rec := &bridge.ChangeRecord{
		Operation:     bridge.OpUpdate,
		SourceChannel: "conversion_changes",
		New:           map[string]any{"id": "c1", "conversionId": "c1", "status": "running"},
	}

	assert.Equal(t, []string{"conversions"}, table.Route(rec))
}

func TestRoute_ChildKindIncludesDerivedTopic(t *testing.T) {
	table := defaultTable()

	rec := &bridge.ChangeRecord{
		Operation:     bridge.OpInsert,
		SourceChannel: "conversion_message_changes",
		New:           map[string]any{"id": "m1", "conversionId": "k"},
	}

	topics := table.Route(rec)
	assert.Contains(t, topics, "conversion-messages")
	assert.Contains(t, topics, "conversion-k")
	assert.Len(t, topics, 2)
}

func TestRoute_MissingIDNarrowsRouting(t *testing.T) {
	table := defaultTable()

	// Absence of the owning id is valid; it only narrows routing breadth.
	rec := &bridge.ChangeRecord{
		Operation:     bridge.OpUpdate,
		SourceChannel: "conversion_step_changes",
		New:           map[string]any{"id": "s1", "status": "done"},
	}

	assert.Equal(t, []string{"conversion-steps"}, table.Route(rec))
}

func TestRoute_DeleteUsesOldRowForDerivedTopic(t *testing.T) {
	table := defaultTable()

	rec := &bridge.ChangeRecord{
		Operation:     bridge.OpDelete,
		SourceChannel: "conversion_step_changes",
		Old:           map[string]any{"id": "s1", "conversionId": "c9"},
	}

	topics := table.Route(rec)
	assert.Contains(t, topics, "conversion-steps")
	assert.Contains(t, topics, "conversion-c9")
}

func TestRoute_UnknownChannelPassesThrough(t *testing.T) {
	table := defaultTable()

	rec := &bridge.ChangeRecord{
		Operation:     bridge.OpUnknown,
		SourceChannel: "custom_channel",
		New:           map[string]any{"anything": true},
	}

	assert.Equal(t, []string{"custom_channel"}, table.Route(rec))
}

func TestRoute_NumericIDRenderedWithoutExponent(t *testing.T) {
	table := defaultTable()

	// JSON decoding turns numeric ids into float64.
	rec := &bridge.ChangeRecord{
		Operation:     bridge.OpUpdate,
		SourceChannel: "conversion_message_changes",
		New:           map[string]any{"conversionId": float64(1234567)},
	}

	assert.Contains(t, table.Route(rec), "conversion-1234567")
}

func TestRoute_NonScalarIDIsIgnored(t *testing.T) {
	table := defaultTable()

	rec := &bridge.ChangeRecord{
		Operation:     bridge.OpUpdate,
		SourceChannel: "conversion_message_changes",
		New:           map[string]any{"conversionId": map[string]any{"nested": "x"}},
	}

	assert.Equal(t, []string{"conversion-messages"}, table.Route(rec))
}

func TestRoute_DerivedEqualToStaticIsDeduplicated(t *testing.T) {
	table := routing.NewTable([]routing.Rule{
		{
			Channel:       "dupes",
			EntityKind:    "Dupe",
			StaticTopic:   "dupe-1",
			DerivedField:  "id",
			DerivedPrefix: "dupe-",
		},
	})

	rec := &bridge.ChangeRecord{
		Operation:     bridge.OpUpdate,
		SourceChannel: "dupes",
		New:           map[string]any{"id": "1"},
	}

	assert.Equal(t, []string{"dupe-1"}, table.Route(rec))
}

func TestRoute_IsDeterministic(t *testing.T) {
	table := defaultTable()

	rec := &bridge.ChangeRecord{
		Operation:     bridge.OpUpdate,
		SourceChannel: "conversion_step_changes",
		New:           map[string]any{"conversionId": "c1"},
	}

	first := table.Route(rec)
	for i := 0; i < 10; i++ {
		assert.Equal(t, first, table.Route(rec))
	}
}

func TestChannels_ReturnsRuleOrder(t *testing.T) {
	table := defaultTable()

	require.Equal(t, []string{
		"conversion_changes",
		"conversion_message_changes",
		"conversion_step_changes",
	}, table.Channels())
}

func TestEntityKind(t *testing.T) {
	table := defaultTable()

	assert.Equal(t, "ConversionStep", table.EntityKind("conversion_step_changes"))
	assert.Equal(t, "", table.EntityKind("custom_channel"))
}
