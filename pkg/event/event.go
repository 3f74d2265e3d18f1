// Package event decodes stream records into typed events.
package event

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/killallgit/finsight/pkg/chat"
)

// Type is the discriminator carried in each record's "type" field
type Type string

const (
	TypeContexts Type = "contexts"
	TypeToken    Type = "token"
	TypeDone     Type = "done"
	TypeError    Type = "error"
)

// Known reports whether consumers act on events of this type
func (t Type) Known() bool {
	switch t {
	case TypeContexts, TypeToken, TypeDone, TypeError:
		return true
	default:
		return false
	}
}

// Event is one decoded record. Only the field matching Type is set.
type Event struct {
	Type     Type
	Contexts []chat.ContextRecord
	Token    string
	Err      string
}

type envelope struct {
	Type Type            `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
}

type errorPayload struct {
	Message string `json:"message"`
	Detail  string `json:"detail"`
}

// Parse decodes record into an Event. It returns false for records that are
// not valid JSON objects or whose data does not fit a known type; callers
// drop those and carry on. Unknown types decode successfully.
func Parse(record string) (Event, bool) {
	var env envelope
	if err := json.Unmarshal([]byte(record), &env); err != nil {
		return Event{}, false
	}
	if env.Type == "" {
		return Event{}, false
	}

	ev := Event{Type: env.Type}
	switch env.Type {
	case TypeContexts:
		if !present(env.Data) {
			return ev, true
		}
		if err := json.Unmarshal(env.Data, &ev.Contexts); err != nil {
			return Event{}, false
		}
	case TypeToken:
		if !present(env.Data) {
			return Event{}, false
		}
		if err := json.Unmarshal(env.Data, &ev.Token); err != nil {
			return Event{}, false
		}
	case TypeError:
		ev.Err = decodeError(env.Data)
	}
	return ev, true
}

func present(data json.RawMessage) bool {
	return len(data) > 0 && !bytes.Equal(data, []byte("null"))
}

func decodeError(data json.RawMessage) string {
	if !present(data) {
		return "backend reported an error"
	}
	var text string
	if err := json.Unmarshal(data, &text); err == nil && text != "" {
		return text
	}
	var payload errorPayload
	if err := json.Unmarshal(data, &payload); err == nil {
		if payload.Message != "" {
			return payload.Message
		}
		if payload.Detail != "" {
			return payload.Detail
		}
	}
	return string(data)
}

// Encode renders ev as a single NDJSON record including the trailing newline
func Encode(ev Event) ([]byte, error) {
	env := map[string]any{"type": ev.Type}
	switch ev.Type {
	case TypeContexts:
		contexts := ev.Contexts
		if contexts == nil {
			contexts = []chat.ContextRecord{}
		}
		env["data"] = contexts
	case TypeToken:
		env["data"] = ev.Token
	case TypeError:
		env["data"] = ev.Err
	}

	b, err := json.Marshal(env)
	if err != nil {
		return nil, fmt.Errorf("failed to encode %s event: %w", ev.Type, err)
	}
	return append(b, '\n'), nil
}

// Contexts builds a context-set event
func Contexts(records []chat.ContextRecord) Event {
	return Event{Type: TypeContexts, Contexts: records}
}

// Token builds a text-delta event
func Token(text string) Event {
	return Event{Type: TypeToken, Token: text}
}

// Done builds a completion event
func Done() Event {
	return Event{Type: TypeDone}
}

// Error builds a backend error event
func Error(msg string) Event {
	return Event{Type: TypeError, Err: msg}
}
