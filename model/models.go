package model

import (
	"strconv"
	"sync"
	"time"

	"github.com/haslate/haslate/hass"
)

// ServiceCall is a request to invoke a remote service, emitted by models
// in response to user actions.
type ServiceCall struct {
	Domain  string
	Service string
	Data    map[string]any
}

// ServiceSink accepts service calls for delivery to the server.
type ServiceSink interface {
	CallService(ServiceCall)
}

// Model is implemented by all value adapters. The presentation layer reads
// the current value through the concrete type and learns about changes via
// the update callback supplied at construction.
type Model interface {
	Key() string
}

// UpdateFunc is called after a model's value has changed. Callbacks run on
// the notifying goroutine and must be fast.
type UpdateFunc func(Model)

type base struct {
	key      string
	onUpdate UpdateFunc
}

func (b *base) Key() string { return b.key }

func (b *base) updated(m Model) {
	if b.onUpdate != nil {
		b.onUpdate(m)
	}
}

// SwitchModel adapts an on/off entity. It also serves lights and input
// booleans, whose state strings are the same.
type SwitchModel struct {
	base
	entity string
	sink   ServiceSink

	mu    sync.Mutex
	value bool
	known bool
}

func NewSwitchModel(key, entity string, sink ServiceSink, onUpdate UpdateFunc) *SwitchModel {
	return &SwitchModel{
		base:   base{key: key, onUpdate: onUpdate},
		entity: entity,
		sink:   sink,
	}
}

// Entity returns the bound entity id.
func (m *SwitchModel) Entity() string { return m.entity }

// Value returns whether the switch is on, and whether that is known.
func (m *SwitchModel) Value() (on, known bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.value, m.known
}

// StateChanged implements EntityListener. Anything other than "on" or
// "off" (unavailable, unknown) clears the value.
func (m *SwitchModel) StateChanged(s *hass.State) {
	m.mu.Lock()
	switch s.State {
	case "on":
		m.value, m.known = true, true
	case "off":
		m.value, m.known = false, true
	default:
		m.value, m.known = false, false
	}
	m.mu.Unlock()
	m.updated(m)
}

// Toggle requests the entity be toggled. The effect arrives later as a
// state_changed event; callers must not assume it is visible when the
// call returns.
func (m *SwitchModel) Toggle() {
	m.sink.CallService(ServiceCall{
		Domain:  "homeassistant",
		Service: "toggle",
		Data:    map[string]any{"entity_id": m.entity},
	})
}

// SensorModel adapts a sensor entity to a value and unit pair. When the
// entity carries a unit_of_measurement attribute the value is numeric,
// otherwise it is the raw state string.
type SensorModel struct {
	base
	entity string

	mu      sync.Mutex
	number  float64
	text    string
	units   string
	numeric bool
}

func NewSensorModel(key, entity string, onUpdate UpdateFunc) *SensorModel {
	return &SensorModel{
		base:   base{key: key, onUpdate: onUpdate},
		entity: entity,
	}
}

// Entity returns the bound entity id.
func (m *SensorModel) Entity() string { return m.entity }

// Value returns the current value and its units. The value is a float64
// when units is non-empty, a string otherwise.
func (m *SensorModel) Value() (any, string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.numeric {
		return m.number, m.units
	}
	return m.text, ""
}

// StateChanged implements EntityListener.
func (m *SensorModel) StateChanged(s *hass.State) {
	units, _ := s.Attributes["unit_of_measurement"].(string)
	m.mu.Lock()
	if units != "" {
		n, err := strconv.ParseFloat(s.State, 64)
		if err == nil {
			m.number, m.units, m.numeric = n, units, true
		} else {
			m.text, m.numeric = s.State, false
		}
	} else {
		m.text, m.numeric = s.State, false
	}
	m.mu.Unlock()
	m.updated(m)
}

// BatteryModel adapts the local battery signal.
type BatteryModel struct {
	base
	src *BatterySource

	mu    sync.Mutex
	value BatteryState
}

func NewBatteryModel(key string, src *BatterySource, onUpdate UpdateFunc) *BatteryModel {
	m := &BatteryModel{
		base: base{key: key, onUpdate: onUpdate},
		src:  src,
	}
	m.value.Status = BatteryUnknown
	src.AddListener(m)
	return m
}

// Value returns the last battery sample.
func (m *BatteryModel) Value() BatteryState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.value
}

// BatteryStateUpdated implements BatteryListener.
func (m *BatteryModel) BatteryStateUpdated(s BatteryState) {
	m.mu.Lock()
	m.value = s
	m.mu.Unlock()
	m.updated(m)
}

// Release detaches the model from its source.
func (m *BatteryModel) Release() {
	m.src.RemoveListener(m)
}

// WifiModel adapts the local wifi signal.
type WifiModel struct {
	base
	src *WifiSource

	mu    sync.Mutex
	value WifiSignal
}

func NewWifiModel(key string, src *WifiSource, onUpdate UpdateFunc) *WifiModel {
	m := &WifiModel{
		base: base{key: key, onUpdate: onUpdate},
		src:  src,
	}
	src.AddListener(m)
	return m
}

// Value returns the last wifi sample.
func (m *WifiModel) Value() WifiSignal {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.value
}

// WifiSignalUpdated implements WifiListener.
func (m *WifiModel) WifiSignalUpdated(s WifiSignal) {
	m.mu.Lock()
	m.value = s
	m.mu.Unlock()
	m.updated(m)
}

// Release detaches the model from its source.
func (m *WifiModel) Release() {
	m.src.RemoveListener(m)
}

// UsbModel adapts the local USB gadget signal.
type UsbModel struct {
	base
	src *UsbSource

	mu    sync.Mutex
	value UsbState
}

func NewUsbModel(key string, src *UsbSource, onUpdate UpdateFunc) *UsbModel {
	m := &UsbModel{
		base: base{key: key, onUpdate: onUpdate},
		src:  src,
	}
	src.AddListener(m)
	return m
}

// Value returns the last USB sample.
func (m *UsbModel) Value() UsbState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.value
}

// UsbConnectionUpdated implements UsbListener.
func (m *UsbModel) UsbConnectionUpdated(s UsbState) {
	m.mu.Lock()
	m.value = s
	m.mu.Unlock()
	m.updated(m)
}

// Release detaches the model from its source.
func (m *UsbModel) Release() {
	m.src.RemoveListener(m)
}

// DateTimeModel adapts clock ticks.
type DateTimeModel struct {
	base
	src *ClockSource

	mu   sync.Mutex
	last time.Time
}

func NewDateTimeModel(key string, src *ClockSource, onUpdate UpdateFunc) *DateTimeModel {
	m := &DateTimeModel{
		base: base{key: key, onUpdate: onUpdate},
		src:  src,
	}
	src.AddListener(m)
	return m
}

// Value returns the time of the last tick, or the current time when no
// tick has arrived yet.
func (m *DateTimeModel) Value() time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.last.IsZero() {
		return time.Now()
	}
	return m.last
}

// ClockTicked implements ClockListener.
func (m *DateTimeModel) ClockTicked(now time.Time) {
	m.mu.Lock()
	m.last = now
	m.mu.Unlock()
	m.updated(m)
}

// Release detaches the model from its source.
func (m *DateTimeModel) Release() {
	m.src.RemoveListener(m)
}
