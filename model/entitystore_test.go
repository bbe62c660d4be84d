package model

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/haslate/haslate/hass"
)

type entityRecorder struct {
	states []*hass.State
}

func (r *entityRecorder) StateChanged(s *hass.State) {
	r.states = append(r.states, s)
}

func tempState(entityID, state string) *hass.State {
	return &hass.State{
		EntityID:    entityID,
		State:       state,
		LastUpdated: "2024-01-01T00:00:00+00:00",
		LastChanged: "2024-01-01T00:00:00+00:00",
		Attributes:  map[string]any{},
	}
}

func TestEntityStoreNilUpdateIsNoOp(t *testing.T) {
	s := NewEntityStore(testLogger())
	s.UpdateState(nil) // must not panic
}

func TestEntityStoreNoSubscribersDropsUpdate(t *testing.T) {
	s := NewEntityStore(testLogger())
	s.UpdateState(tempState("sensor.temp", "21.5")) // must not panic or buffer
}

func TestEntityStoreDispatchesToInterestedOnly(t *testing.T) {
	s := NewEntityStore(testLogger())
	temp := &entityRecorder{}
	other := &entityRecorder{}
	s.AddListener("sensor.temp", temp)
	s.AddListener("switch.kitchen", other)

	s.UpdateState(tempState("sensor.temp", "21.5"))

	require.Len(t, temp.states, 1)
	require.Equal(t, "21.5", temp.states[0].State)
	require.Empty(t, other.states)
}

func TestEntityStoreDuplicateAddNotifiesOnce(t *testing.T) {
	s := NewEntityStore(testLogger())
	r := &entityRecorder{}
	s.AddListener("sensor.temp", r)
	s.AddListener("sensor.temp", r)

	s.UpdateState(tempState("sensor.temp", "21.5"))
	require.Len(t, r.states, 1)
}

func TestEntityStoreUpdateBeforeRegistrationThenReplay(t *testing.T) {
	s := NewEntityStore(testLogger())
	update := tempState("sensor.temp", "21.5")

	// Delivered before anyone is listening: dropped, not buffered.
	s.UpdateState(update)

	r := &entityRecorder{}
	s.AddListener("sensor.temp", r)
	s.UpdateState(update)

	require.Len(t, r.states, 1, "only the replay after registration is delivered")
}

func TestEntityStoreRemoveListener(t *testing.T) {
	s := NewEntityStore(testLogger())
	r := &entityRecorder{}
	s.AddListener("sensor.temp", r)
	s.RemoveListener("sensor.temp", r)
	s.RemoveListener("sensor.temp", r) // idempotent

	s.UpdateState(tempState("sensor.temp", "21.5"))
	require.Empty(t, r.states)
}

// An add racing a remove that empties the registry for the same entity
// must never strand the added listener on an unlinked registry.
func TestEntityStoreConcurrentAddAndRemove(t *testing.T) {
	s := NewEntityStore(testLogger())
	for i := 0; i < 500; i++ {
		leaving := &entityRecorder{}
		s.AddListener("sensor.temp", leaving)

		joining := &entityRecorder{}
		var wg sync.WaitGroup
		wg.Add(2)
		go func() {
			defer wg.Done()
			s.AddListener("sensor.temp", joining)
		}()
		go func() {
			defer wg.Done()
			s.RemoveListener("sensor.temp", leaving)
		}()
		wg.Wait()

		s.UpdateState(tempState("sensor.temp", "21.5"))
		require.Len(t, joining.states, 1, "iteration %d lost the surviving listener", i)
		s.RemoveListener("sensor.temp", joining)
	}
}
