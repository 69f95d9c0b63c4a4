package bridge

import (
	"encoding/json"
	"fmt"
	"strings"
)

// changePayload is the expected structured encoding of a notification
// payload. The record maps are opaque: the source of truth for their shape is
// the database, and only the presence of the routing id field is relied upon.
type changePayload struct {
	Operation string         `json:"operation"`
	Schema    string         `json:"schema"`
	Table     string         `json:"table"`
	Record    map[string]any `json:"record"`
	Old       map[string]any `json:"old"`
}

// DecodeChange parses a raw notification payload into a ChangeRecord.
//
// An unknown or missing operation maps to OpUnknown; the record is still
// returned so downstream routing can give clients table-level awareness of
// the unrecognized operation. A payload that is not valid JSON returns an
// error and no record; the caller drops the event and continues.
func DecodeChange(n Notification) (*ChangeRecord, error) {
	var p changePayload
	if err := json.Unmarshal([]byte(n.Payload), &p); err != nil {
		return nil, fmt.Errorf("malformed change payload on channel %q: %w", n.Channel, err)
	}

	return &ChangeRecord{
		Operation:     parseOperation(p.Operation),
		Schema:        p.Schema,
		EntityKind:    p.Table,
		New:           p.Record,
		Old:           p.Old,
		SourceChannel: n.Channel,
	}, nil
}

func parseOperation(s string) Operation {
	switch op := Operation(strings.ToUpper(s)); op {
	case OpInsert, OpUpdate, OpDelete:
		return op
	default:
		return OpUnknown
	}
}
