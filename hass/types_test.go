package hass

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestStateFromRaw(t *testing.T) {
	raw := json.RawMessage(`{
		"entity_id": "sensor.temp",
		"state": "21.5",
		"last_updated": "2024-01-01T00:00:00+00:00",
		"last_changed": "2024-01-01T00:00:00+00:00",
		"attributes": {"unit_of_measurement": "C", "friendly_name": "Temperature"}
	}`)
	s, err := StateFromRaw(raw)
	require.NoError(t, err)
	require.Equal(t, "sensor.temp", s.EntityID)
	require.Equal(t, "21.5", s.State)
	require.Equal(t, "2024-01-01T00:00:00+00:00", s.LastUpdated)
	require.Equal(t, "2024-01-01T00:00:00+00:00", s.LastChanged)
	require.Equal(t, "Temperature", s.Name)
	require.Equal(t, "C", s.Attributes["unit_of_measurement"])
	require.Equal(t, "sensor", s.Domain())
	require.Equal(t, "temp", s.ObjectID())
}

func TestStateFromRawMissingFields(t *testing.T) {
	tests := []struct {
		name string
		raw  string
	}{
		{"no entity_id", `{"state":"on","last_updated":"t","last_changed":"t"}`},
		{"no state", `{"entity_id":"switch.x","last_updated":"t","last_changed":"t"}`},
		{"no last_updated", `{"entity_id":"switch.x","state":"on","last_changed":"t"}`},
		{"no last_changed", `{"entity_id":"switch.x","state":"on","last_updated":"t"}`},
		{"null", `null`},
		{"empty", ``},
		{"not json", `{{`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, err := StateFromRaw(json.RawMessage(tt.raw))
			require.Error(t, err)
			require.Nil(t, s)
		})
	}
}

func TestStateFromRawNoAttributes(t *testing.T) {
	s, err := StateFromRaw(json.RawMessage(
		`{"entity_id":"switch.x","state":"on","last_updated":"t","last_changed":"t"}`))
	require.NoError(t, err)
	require.NotNil(t, s.Attributes)
	require.Empty(t, s.Attributes)
	require.Empty(t, s.Name)
}

func TestCommandJSONCallServiceRoundTrip(t *testing.T) {
	b, err := commandJSON("call_service", 7, map[string]any{
		"domain":       "homeassistant",
		"service":      "toggle",
		"service_data": map[string]any{"entity_id": "switch.kitchen"},
	})
	require.NoError(t, err)

	var decoded map[string]any
	require.NoError(t, json.Unmarshal(b, &decoded))
	require.Equal(t, "call_service", decoded["type"])
	require.Equal(t, float64(7), decoded["id"])
	require.Equal(t, "homeassistant", decoded["domain"])
	require.Equal(t, "toggle", decoded["service"])
	require.Equal(t, map[string]any{"entity_id": "switch.kitchen"}, decoded["service_data"])
}

func TestCommandJSONAuthHasNoID(t *testing.T) {
	b, err := commandJSON(TypeAuth, 0, map[string]any{"access_token": "abc"})
	require.NoError(t, err)

	var decoded map[string]any
	require.NoError(t, json.Unmarshal(b, &decoded))
	require.Equal(t, "auth", decoded["type"])
	require.Equal(t, "abc", decoded["access_token"])
	_, hasID := decoded["id"]
	require.False(t, hasID, "auth message must not carry an id")
}

func TestStateDomainWithoutDot(t *testing.T) {
	s := &State{EntityID: "weird"}
	require.Empty(t, s.Domain())
	require.Equal(t, "weird", s.ObjectID())
}
