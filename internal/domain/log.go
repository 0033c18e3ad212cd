package domain

import (
	"encoding/json"
	"time"
)

// Well-known body fields every normalized event is guaranteed to carry
// (event_message) or pass through verbatim (metadata).
const (
	EventMessageKey  = "event_message"
	MetadataKey      = "metadata"
	LegacyMessageKey = "message"
	SystemMarkerKey  = "is_system_log_event?"
)

// LogEvent is a normalized event. Body carries the JSON-like payload that
// downstream adaptors see; Params is the original raw mapping, preserved for
// debugging and system markers such as is_system_log_event?.
type LogEvent struct {
	ID          string         `json:"id"`
	SourceToken string         `json:"source_token"`
	IngestedAt  time.Time      `json:"ingested_at"`
	Body        map[string]any `json:"body"`
	Params      map[string]any `json:"params,omitempty"`

	// StreamMessageID is the Redis Stream entry ID this event was read back
	// from when sourced from the Memory Buffer. Empty until buffered.
	StreamMessageID string `json:"-"`
}

// EventMessage returns the normalized primary message field, or "" if absent.
func (e LogEvent) EventMessage() string {
	if e.Body == nil {
		return ""
	}
	s, _ := e.Body[EventMessageKey].(string)
	return s
}

// IsSystemEvent reports whether this event carries the system marker used
// by the cache's boot-time synthetic event (see ingestion/cache.go).
func (e LogEvent) IsSystemEvent() bool {
	if e.Params == nil {
		return false
	}
	v, ok := e.Params[SystemMarkerKey]
	if !ok {
		return false
	}
	b, _ := v.(bool)
	return b
}

// Timestamp returns the value cluster merges sort on (body.timestamp),
// falling back to IngestedAt when absent.
func (e LogEvent) Timestamp() time.Time {
	if e.Body != nil {
		if ts, ok := e.Body["timestamp"].(time.Time); ok {
			return ts
		}
		if s, ok := e.Body["timestamp"].(string); ok {
			if t, err := time.Parse(time.RFC3339Nano, s); err == nil {
				return t
			}
		}
	}
	return e.IngestedAt
}

type wireLogEvent struct {
	ID          string         `json:"id"`
	SourceToken string         `json:"source_token"`
	IngestedAt  time.Time      `json:"ingested_at"`
	Body        map[string]any `json:"body"`
	Params      map[string]any `json:"params,omitempty"`
}

// EncodeJSON serializes the wire form used by the Memory Buffer (Redis
// Stream payload), the WAL, and cluster transport responses.
func (e LogEvent) EncodeJSON() ([]byte, error) {
	return json.Marshal(wireLogEvent{
		ID:          e.ID,
		SourceToken: e.SourceToken,
		IngestedAt:  e.IngestedAt,
		Body:        e.Body,
		Params:      e.Params,
	})
}

// DecodeLogEventJSON is the inverse of EncodeJSON.
func DecodeLogEventJSON(data []byte) (LogEvent, error) {
	var w wireLogEvent
	if err := json.Unmarshal(data, &w); err != nil {
		return LogEvent{}, err
	}
	return LogEvent{
		ID:          w.ID,
		SourceToken: w.SourceToken,
		IngestedAt:  w.IngestedAt,
		Body:        w.Body,
		Params:      w.Params,
	}, nil
}
