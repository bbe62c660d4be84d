package model

import (
	"sync"

	"github.com/pkg/errors"
)

// Kind names a model type as it appears in the layout configuration.
type Kind string

const (
	KindDateTime Kind = "datetime"
	KindBattery  Kind = "battery"
	KindWifi     Kind = "wifi"
	KindUsb      Kind = "usb"
	KindSwitch   Kind = "hass_switch"
	KindLight    Kind = "hass_light"
	KindSensor   Kind = "hass_sensor"
	KindBoolean  Kind = "hass_boolean"
)

// entityKinds are the kinds that bind to a remote entity.
func (k Kind) entityBound() bool {
	switch k {
	case KindSwitch, KindLight, KindSensor, KindBoolean:
		return true
	}
	return false
}

// Deps are the shared services models attach to.
type Deps struct {
	Store    *EntityStore
	Battery  *BatterySource
	Wifi     *WifiSource
	Usb      *UsbSource
	Clock    *ClockSource
	Sink     ServiceSink
	OnUpdate UpdateFunc
}

// Cache builds models on demand and de-duplicates them: widgets showing
// the same value share one model instance, keyed by (kind, entity id).
// Cached models live as long as the cache does.
type Cache struct {
	deps Deps

	mu     sync.Mutex
	models map[string]Model
}

func NewCache(deps Deps) *Cache {
	return &Cache{
		deps:   deps,
		models: make(map[string]Model),
	}
}

// modelKey is unique for all models representing the same data value.
func modelKey(kind Kind, entity string) string {
	if kind.entityBound() {
		return string(kind) + ":" + entity
	}
	return string(kind)
}

// Get returns the shared model for kind, building it on first use.
// Entity-bound kinds require a non-empty entity id.
func (c *Cache) Get(kind Kind, entity string) (Model, error) {
	if kind.entityBound() && entity == "" {
		return nil, errors.Errorf("model kind %q requires an entity id", kind)
	}
	key := modelKey(kind, entity)
	c.mu.Lock()
	defer c.mu.Unlock()
	if m, ok := c.models[key]; ok {
		return m, nil
	}
	m, err := c.build(kind, key, entity)
	if err != nil {
		return nil, err
	}
	c.models[key] = m
	return m, nil
}

func (c *Cache) build(kind Kind, key, entity string) (Model, error) {
	switch kind {
	case KindDateTime:
		return NewDateTimeModel(key, c.deps.Clock, c.deps.OnUpdate), nil
	case KindBattery:
		return NewBatteryModel(key, c.deps.Battery, c.deps.OnUpdate), nil
	case KindWifi:
		return NewWifiModel(key, c.deps.Wifi, c.deps.OnUpdate), nil
	case KindUsb:
		return NewUsbModel(key, c.deps.Usb, c.deps.OnUpdate), nil
	case KindSwitch, KindLight, KindBoolean:
		m := NewSwitchModel(key, entity, c.deps.Sink, c.deps.OnUpdate)
		c.deps.Store.AddListener(entity, m)
		return m, nil
	case KindSensor:
		m := NewSensorModel(key, entity, c.deps.OnUpdate)
		c.deps.Store.AddListener(entity, m)
		return m, nil
	default:
		return nil, errors.Errorf("unknown model kind %q", kind)
	}
}
