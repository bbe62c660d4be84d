// Package model distributes remote entity state and local hardware signals
// to typed listeners, and adapts them into value models for presentation.
package model

import (
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/haslate/haslate/hass"
)

// One narrow interface per listening capability; a component implements as
// many as it needs.

// EntityListener receives remote entity state updates.
type EntityListener interface {
	StateChanged(*hass.State)
}

// BatteryListener receives local battery state updates.
type BatteryListener interface {
	BatteryStateUpdated(BatteryState)
}

// WifiListener receives wifi signal strength updates.
type WifiListener interface {
	WifiSignalUpdated(WifiSignal)
}

// UsbListener receives USB gadget connection updates.
type UsbListener interface {
	UsbConnectionUpdated(UsbState)
}

// ClockListener receives clock ticks.
type ClockListener interface {
	ClockTicked(time.Time)
}

// Registry is a set of listeners with synchronous fan-out. Adding a
// listener twice is a no-op, as is removing one that is absent. Add and
// Remove report the empty/non-empty transitions so owners can start and
// stop their background pollers exactly once.
type Registry[L comparable] struct {
	mu        sync.Mutex
	listeners map[L]struct{}
	log       *logrus.Logger
}

func NewRegistry[L comparable](log *logrus.Logger) *Registry[L] {
	return &Registry[L]{
		listeners: make(map[L]struct{}),
		log:       log,
	}
}

// Add inserts l if absent. It returns true when the set transitioned from
// empty to non-empty.
func (r *Registry[L]) Add(l L) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	was := len(r.listeners)
	r.listeners[l] = struct{}{}
	return was == 0 && len(r.listeners) == 1
}

// Remove deletes l if present. It returns true when the set transitioned
// from non-empty to empty.
func (r *Registry[L]) Remove(l L) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	was := len(r.listeners)
	delete(r.listeners, l)
	return was > 0 && len(r.listeners) == 0
}

// Len reports the number of registered listeners.
func (r *Registry[L]) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.listeners)
}

// Notify invokes visit for every currently registered listener. A
// panicking listener is isolated and logged; the remaining listeners are
// still notified. The set is snapshotted first, so listeners may add or
// remove during the fan-out.
func (r *Registry[L]) Notify(visit func(L)) {
	r.mu.Lock()
	snapshot := make([]L, 0, len(r.listeners))
	for l := range r.listeners {
		snapshot = append(snapshot, l)
	}
	r.mu.Unlock()
	for _, l := range snapshot {
		r.notifyOne(l, visit)
	}
}

func (r *Registry[L]) notifyOne(l L, visit func(L)) {
	defer func() {
		if p := recover(); p != nil && r.log != nil {
			r.log.WithField("panic", p).Warn("listener panicked during notify")
		}
	}()
	visit(l)
}
