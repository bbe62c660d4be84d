// Package hass is a client for the Home Assistant websocket API.
package hass

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/pkg/errors"
)

// Message types on the wire.
const (
	TypeAuthRequired = "auth_required"
	TypeAuth         = "auth"
	TypeAuthOK       = "auth_ok"
	TypeAuthInvalid  = "auth_invalid"
	TypeResult       = "result"
	TypeEvent        = "event"
)

// EventStateChanged is the only event type this client subscribes to.
const EventStateChanged = "state_changed"

// frame is the decoded form of one incoming websocket message.
type frame struct {
	Type    string          `json:"type"`
	ID      int64           `json:"id,omitempty"`
	Success *bool           `json:"success,omitempty"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *frameError     `json:"error,omitempty"`
	Event   *Event          `json:"event,omitempty"`
	// Message carries the detail text of an auth_invalid frame.
	Message string `json:"message,omitempty"`
}

type frameError struct {
	Code    any    `json:"code"`
	Message string `json:"message"`
}

func (e *frameError) commandError() *CommandError {
	return &CommandError{
		Code:    fmt.Sprint(e.Code),
		Message: e.Message,
	}
}

// Event is the envelope inside an event frame.
type Event struct {
	EventType string    `json:"event_type"`
	Data      EventData `json:"data"`
}

// EventData carries the payload of a state_changed event.
type EventData struct {
	EntityID string          `json:"entity_id"`
	NewState json.RawMessage `json:"new_state"`
	OldState json.RawMessage `json:"old_state"`
}

// commandJSON builds the wire form of a command frame: the params with the
// type and id folded in. The auth message is the one frame sent without an
// id; callers pass id 0 to omit it.
func commandJSON(msgType string, id int64, params map[string]any) ([]byte, error) {
	msg := make(map[string]any, len(params)+2)
	for k, v := range params {
		msg[k] = v
	}
	msg["type"] = msgType
	if id > 0 {
		msg["id"] = id
	}
	b, err := json.Marshal(msg)
	return b, errors.Wrapf(err, "failed to marshal %q command", msgType)
}

// State is the current state of a remote entity. A State is immutable once
// constructed; updates replace the whole value.
type State struct {
	EntityID    string
	State       string
	LastUpdated string
	LastChanged string
	Name        string
	Attributes  map[string]any
}

// wireState mirrors the entity-state record; pointers distinguish a missing
// required field from an empty one.
type wireState struct {
	EntityID    *string        `json:"entity_id"`
	State       *string        `json:"state"`
	LastUpdated *string        `json:"last_updated"`
	LastChanged *string        `json:"last_changed"`
	Attributes  map[string]any `json:"attributes"`
}

// StateFromRaw parses an entity-state record. Records missing any of the
// required fields are rejected whole; no partial State is ever returned.
func StateFromRaw(raw json.RawMessage) (*State, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return nil, errors.New("empty state record")
	}
	var ws wireState
	if err := json.Unmarshal(raw, &ws); err != nil {
		return nil, errors.Wrap(err, "failed to unmarshal state record")
	}
	if ws.EntityID == nil || ws.State == nil || ws.LastUpdated == nil || ws.LastChanged == nil {
		return nil, errors.Errorf("state record missing required fields: %s", missingStateFields(&ws))
	}
	s := &State{
		EntityID:    *ws.EntityID,
		State:       *ws.State,
		LastUpdated: *ws.LastUpdated,
		LastChanged: *ws.LastChanged,
		Attributes:  ws.Attributes,
	}
	if s.Attributes == nil {
		s.Attributes = map[string]any{}
	}
	if name, ok := s.Attributes["friendly_name"].(string); ok {
		s.Name = name
	}
	return s, nil
}

func missingStateFields(ws *wireState) string {
	var missing []string
	if ws.EntityID == nil {
		missing = append(missing, "entity_id")
	}
	if ws.State == nil {
		missing = append(missing, "state")
	}
	if ws.LastUpdated == nil {
		missing = append(missing, "last_updated")
	}
	if ws.LastChanged == nil {
		missing = append(missing, "last_changed")
	}
	return strings.Join(missing, ",")
}

// Domain returns the part of the entity id before the first dot,
// e.g. "switch" for "switch.kitchen".
func (s *State) Domain() string {
	if i := strings.IndexByte(s.EntityID, '.'); i >= 0 {
		return s.EntityID[:i]
	}
	return ""
}

// ObjectID returns the part of the entity id after the first dot.
func (s *State) ObjectID() string {
	if i := strings.IndexByte(s.EntityID, '.'); i >= 0 {
		return s.EntityID[i+1:]
	}
	return s.EntityID
}

func (s *State) String() string {
	return fmt.Sprintf("%s: %s %v", s.EntityID, s.State, s.Attributes)
}
