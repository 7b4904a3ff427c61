package bridge

import (
	"encoding/json"
	"time"
)

// EventType names an outbound event.
type EventType string

const (
	EventInitialized              EventType = "initialized"
	EventConnection               EventType = "connection"
	EventConversation             EventType = "conversation"
	EventConversationShown        EventType = "conversation_shown"
	EventConversationHidden       EventType = "conversation_hidden"
	EventProfileSet               EventType = "profile_set"
	EventPushRegistered           EventType = "push_registered"
	EventPushUnregistered         EventType = "push_unregistered"
	EventPushReceived             EventType = "push_received"
	EventPushRegistrationFinished EventType = "push_registration_finished"
	EventPushRegistrationFailed   EventType = "push_registration_failed"
	EventError                    EventType = "error"
)

// Connection and conversation states carried in the "state" field.
const (
	StateConnected    = "connected"
	StateDisconnected = "disconnected"
	StateOpened       = "opened"
	StateClosed       = "closed"
)

const TimestampLayout = "2006-01-02T15:04:05.000Z07:00"

// Event is one outbound notification. Fields never override type, platform
// or timestamp on the wire.
type Event struct {
	Type      EventType
	Platform  string
	Timestamp time.Time
	Fields    map[string]any
}

// NewEvent builds an event with optional key/value fields.
func NewEvent(t EventType, kv ...any) Event {
	e := Event{Type: t}
	for i := 0; i+1 < len(kv); i += 2 {
		key, ok := kv[i].(string)
		if !ok {
			continue
		}
		if e.Fields == nil {
			e.Fields = make(map[string]any, len(kv)/2)
		}
		e.Fields[key] = kv[i+1]
	}
	return e
}

// ErrorEvent converts a failure into the out-of-band error event.
func ErrorEvent(f *Failure) Event {
	return NewEvent(EventError, "code", f.Code, "message", f.Message, "details", f.Details)
}

// Map flattens the event into its wire shape.
func (e Event) Map() map[string]any {
	m := make(map[string]any, len(e.Fields)+3)
	for k, v := range e.Fields {
		m[k] = v
	}
	m["type"] = string(e.Type)
	m["platform"] = e.Platform
	if !e.Timestamp.IsZero() {
		m["timestamp"] = e.Timestamp.UTC().Format(TimestampLayout)
	}
	return m
}

func (e Event) MarshalJSON() ([]byte, error) {
	return json.Marshal(e.Map())
}
