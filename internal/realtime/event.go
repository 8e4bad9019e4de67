package realtime

import (
	"encoding/json"
	"time"

	"github.com/tidwall/gjson"
)

// EventType is the operation a change notification describes.
type EventType string

const (
	EventInsert EventType = "INSERT"
	EventUpdate EventType = "UPDATE"
	EventDelete EventType = "DELETE"
	// EventAll is the wildcard filter matching every operation.
	EventAll EventType = "*"
)

// Event is one change notification delivered to subscribers.
type Event struct {
	Type      EventType
	Topic     string
	Table     string
	New       json.RawMessage
	Old       json.RawMessage
	Timestamp time.Time
}

// Record decodes the post-change row into v (the pre-change row for
// deletes, where servers omit the new row).
func (e Event) Record(v any) error {
	raw := e.New
	if len(raw) == 0 {
		raw = e.Old
	}
	if len(raw) == 0 {
		return nil
	}
	return json.Unmarshal(raw, v)
}

// parseEvent extracts a change notification from a raw channel message.
// Server frames nest the change under payload.data; plain test frames
// keep the fields top-level. Returns false for frames that are not
// change notifications (acks, heartbeat replies, presence).
func parseEvent(msg []byte) (Event, bool) {
	root := gjson.ParseBytes(msg)

	body := root.Get("payload.data")
	if !body.Exists() {
		body = root
	}

	typ := body.Get("type")
	if !typ.Exists() {
		typ = body.Get("eventType")
	}
	switch EventType(typ.String()) {
	case EventInsert, EventUpdate, EventDelete:
	default:
		return Event{}, false
	}

	ev := Event{
		Type:  EventType(typ.String()),
		Topic: root.Get("topic").String(),
		Table: body.Get("table").String(),
	}

	if rec := body.Get("record"); rec.Exists() {
		ev.New = json.RawMessage(rec.Raw)
	} else if rec := body.Get("new"); rec.Exists() {
		ev.New = json.RawMessage(rec.Raw)
	}
	if old := body.Get("old_record"); old.Exists() {
		ev.Old = json.RawMessage(old.Raw)
	} else if old := body.Get("old"); old.Exists() {
		ev.Old = json.RawMessage(old.Raw)
	}

	if ts := body.Get("commit_timestamp"); ts.Exists() {
		if parsed, err := time.Parse(time.RFC3339, ts.String()); err == nil {
			ev.Timestamp = parsed
		}
	}
	return ev, true
}
