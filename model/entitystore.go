package model

import (
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/haslate/haslate/hass"
)

// EntityStore maps entity ids to the listeners interested in them and
// re-dispatches incoming entity state. It is constructed once at process
// start and shared by handle, never reached through package state.
type EntityStore struct {
	mu        sync.RWMutex
	listeners map[string]*Registry[EntityListener]
	log       *logrus.Logger
}

func NewEntityStore(log *logrus.Logger) *EntityStore {
	return &EntityStore{
		listeners: make(map[string]*Registry[EntityListener]),
		log:       log,
	}
}

// AddListener registers l for updates to entityID. A listener listens to
// exactly one entity; the binding is fixed where the listener is built.
// The add stays under the store lock so it cannot land on a registry a
// concurrent remove has already unlinked from the map.
func (s *EntityStore) AddListener(entityID string, l EntityListener) {
	s.mu.Lock()
	reg, ok := s.listeners[entityID]
	if !ok {
		reg = NewRegistry[EntityListener](s.log)
		s.listeners[entityID] = reg
	}
	reg.Add(l)
	s.mu.Unlock()
}

// RemoveListener deregisters l from entityID. Removing an unregistered
// listener is a no-op.
func (s *EntityStore) RemoveListener(entityID string, l EntityListener) {
	s.mu.Lock()
	reg, ok := s.listeners[entityID]
	if ok && reg.Remove(l) {
		delete(s.listeners, entityID)
	}
	s.mu.Unlock()
}

// UpdateState dispatches state to every listener registered for its
// entity id, synchronously. A nil state is ignored (the failed-decode
// path); an update with no interested listeners is dropped, not buffered.
func (s *EntityStore) UpdateState(state *hass.State) {
	if state == nil {
		return
	}
	s.mu.RLock()
	reg, ok := s.listeners[state.EntityID]
	s.mu.RUnlock()
	if !ok {
		return
	}
	s.log.WithField("entity_id", state.EntityID).Debug("dispatching state update")
	reg.Notify(func(l EntityListener) {
		l.StateChanged(state)
	})
}
