package model

import (
	"os"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
)

// UdcStateFile is where the USB device controller exposes the gadget
// connection state.
const UdcStateFile = "/sys/class/udc/ci_hdrc.0/state"

// UsbState is one USB gadget sample. Known is false when the state file
// could not be read.
type UsbState struct {
	Connected bool
	Known     bool
}

func (u UsbState) String() string {
	switch {
	case !u.Known:
		return "USB: unknown"
	case u.Connected:
		return "USB: connected"
	default:
		return "USB: disconnected"
	}
}

// UsbSource polls the UDC state file and fans connection changes out to
// its listeners.
type UsbSource struct {
	reg       *Registry[UsbListener]
	log       *logrus.Logger
	period    time.Duration
	stateFile string

	poll poller
}

// UsbSourceOption adjusts a UsbSource.
type UsbSourceOption func(*UsbSource)

// WithUsbPeriod overrides the sampling period.
func WithUsbPeriod(d time.Duration) UsbSourceOption {
	return func(s *UsbSource) { s.period = d }
}

// WithUsbStateFile overrides the UDC state file path.
func WithUsbStateFile(path string) UsbSourceOption {
	return func(s *UsbSource) { s.stateFile = path }
}

func NewUsbSource(log *logrus.Logger, opts ...UsbSourceOption) *UsbSource {
	s := &UsbSource{
		reg:       NewRegistry[UsbListener](log),
		log:       log,
		period:    DefaultUpdatePeriod,
		stateFile: UdcStateFile,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// AddListener registers l and lazily starts the poll loop.
func (s *UsbSource) AddListener(l UsbListener) {
	if s.reg.Add(l) {
		s.poll.ensure(s.loop)
	}
}

// RemoveListener deregisters l, stopping the poll loop when l was the
// last listener.
func (s *UsbSource) RemoveListener(l UsbListener) {
	if s.reg.Remove(l) {
		s.poll.halt()
	}
}

func (s *UsbSource) loop(stop <-chan struct{}) {
	pollLoop(stop, s.period, func() {
		state := s.sample()
		s.reg.Notify(func(l UsbListener) {
			l.UsbConnectionUpdated(state)
		})
	})
}

func (s *UsbSource) sample() UsbState {
	b, err := os.ReadFile(s.stateFile)
	if err != nil {
		return UsbState{}
	}
	return UsbState{
		// The UDC reports "configured" once the host has enumerated
		// the gadget.
		Connected: strings.TrimSpace(string(b)) == "configured",
		Known:     true,
	}
}

// Update pushes a connection state observed elsewhere (the mass-storage
// toggling path) directly to the listeners.
func (s *UsbSource) Update(connected bool) {
	state := UsbState{Connected: connected, Known: true}
	s.reg.Notify(func(l UsbListener) {
		l.UsbConnectionUpdated(state)
	})
}
