package model

import (
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
)

// PowerSupplyPath is where the kernel exposes power supply devices.
const PowerSupplyPath = "/sys/class/power_supply"

// BatteryStatus is the charging status reported by the kernel.
type BatteryStatus string

const (
	BatteryUnknown     BatteryStatus = "unknown"
	BatteryCharging    BatteryStatus = "charging"
	BatteryDischarging BatteryStatus = "discharging"
	BatteryNotCharging BatteryStatus = "not charging"
	BatteryFull        BatteryStatus = "full"
)

func batteryStatusFrom(s string) BatteryStatus {
	switch BatteryStatus(s) {
	case BatteryCharging, BatteryDischarging, BatteryNotCharging, BatteryFull:
		return BatteryStatus(s)
	default:
		return BatteryUnknown
	}
}

// BatteryState is one battery sample. An unreadable battery reports
// BatteryUnknown with LevelKnown false; subscribers render that as an
// explicit unknown state, never a skipped update.
type BatteryState struct {
	Status     BatteryStatus
	Level      int
	LevelKnown bool
}

// Known reports whether the sample carries real data.
func (b BatteryState) Known() bool {
	return b.Status != BatteryUnknown
}

// IsCharging reports whether the battery is charging.
func (b BatteryState) IsCharging() bool {
	return b.Status == BatteryCharging
}

func (b BatteryState) String() string {
	if !b.LevelKnown {
		return "Battery: ?% " + string(b.Status)
	}
	return "Battery: " + strconv.Itoa(b.Level) + "% " + string(b.Status)
}

// BatterySource polls the sysfs battery attributes and fans samples out to
// its listeners. The poll loop starts with the first listener and stops
// when the last one leaves.
type BatterySource struct {
	reg    *Registry[BatteryListener]
	log    *logrus.Logger
	period time.Duration
	root   string

	poll poller
}

// BatterySourceOption adjusts a BatterySource, mainly for tests.
type BatterySourceOption func(*BatterySource)

// WithBatteryPeriod overrides the sampling period.
func WithBatteryPeriod(d time.Duration) BatterySourceOption {
	return func(s *BatterySource) { s.period = d }
}

// WithPowerSupplyPath overrides the sysfs root.
func WithPowerSupplyPath(root string) BatterySourceOption {
	return func(s *BatterySource) { s.root = root }
}

func NewBatterySource(log *logrus.Logger, opts ...BatterySourceOption) *BatterySource {
	s := &BatterySource{
		reg:    NewRegistry[BatteryListener](log),
		log:    log,
		period: DefaultUpdatePeriod,
		root:   PowerSupplyPath,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// AddListener registers l and lazily starts the poll loop.
func (s *BatterySource) AddListener(l BatteryListener) {
	if s.reg.Add(l) {
		s.poll.ensure(s.loop)
	}
}

// RemoveListener deregisters l, stopping the poll loop when l was the
// last listener.
func (s *BatterySource) RemoveListener(l BatteryListener) {
	if s.reg.Remove(l) {
		s.poll.halt()
	}
}

func (s *BatterySource) loop(stop <-chan struct{}) {
	path := s.findBatteryPath()
	pollLoop(stop, s.period, func() {
		state := s.readState(path)
		s.reg.Notify(func(l BatteryListener) {
			l.BatteryStateUpdated(state)
		})
	})
}

// findBatteryPath locates the first power supply of type battery.
func (s *BatterySource) findBatteryPath() string {
	entries, err := os.ReadDir(s.root)
	if err != nil {
		s.log.WithError(err).Warn("failed to scan power supplies")
		return ""
	}
	for _, e := range entries {
		ps := filepath.Join(s.root, e.Name())
		if readValue(ps, "type") == "battery" {
			return ps
		}
	}
	return ""
}

func (s *BatterySource) readState(path string) BatteryState {
	if path == "" {
		return BatteryState{Status: BatteryUnknown}
	}
	state := BatteryState{
		Status: batteryStatusFrom(readValue(path, "status")),
	}
	if level, err := strconv.Atoi(readValue(path, "capacity")); err == nil {
		state.Level = level
		state.LevelKnown = true
	}
	return state
}

// readValue reads one sysfs attribute, normalized to lower case. A read
// failure yields the empty string.
func readValue(dir, name string) string {
	b, err := os.ReadFile(filepath.Join(dir, name))
	if err != nil {
		return ""
	}
	return strings.ToLower(strings.TrimSpace(string(b)))
}
