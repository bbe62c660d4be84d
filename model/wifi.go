package model

import (
	"fmt"
	"os/exec"
	"regexp"
	"strconv"
	"time"

	"github.com/sirupsen/logrus"
)

// Defaults for the wifi signal poller.
const (
	IwconfigPath     = "/sbin/iwconfig"
	DefaultWifiIface = "wlan0"
)

// WifiSignal is one wifi signal sample. Known is false when the interface
// could not be queried or its output carried no quality line.
type WifiSignal struct {
	LinkQuality float64 // percent
	SignalLevel float64 // dBm
	Known       bool
}

func (w WifiSignal) String() string {
	if !w.Known {
		return "Wifi: unknown"
	}
	return fmt.Sprintf("Wifi: %.0f%% (%.0f dBm)", w.LinkQuality, w.SignalLevel)
}

var wifiQualityRe = regexp.MustCompile(`Link Quality=(\d+)/(\d+)\s+Signal level=([0-9.-]+)`)

// parseWifiSignal extracts link quality and signal level from iwconfig
// output. The quality fraction is normalized to a percentage.
func parseWifiSignal(output []byte) WifiSignal {
	m := wifiQualityRe.FindSubmatch(output)
	if m == nil {
		return WifiSignal{}
	}
	num, err1 := strconv.Atoi(string(m[1]))
	den, err2 := strconv.Atoi(string(m[2]))
	level, err3 := strconv.ParseFloat(string(m[3]), 64)
	if err1 != nil || err2 != nil || err3 != nil || den == 0 {
		return WifiSignal{}
	}
	return WifiSignal{
		LinkQuality: float64(num) * 100 / float64(den),
		SignalLevel: level,
		Known:       true,
	}
}

// WifiSource polls the wireless interface for link quality and fans
// samples out to its listeners.
type WifiSource struct {
	reg    *Registry[WifiListener]
	log    *logrus.Logger
	period time.Duration
	query  func() ([]byte, error)

	poll poller
}

// WifiSourceOption adjusts a WifiSource.
type WifiSourceOption func(*WifiSource)

// WithWifiPeriod overrides the sampling period.
func WithWifiPeriod(d time.Duration) WifiSourceOption {
	return func(s *WifiSource) { s.period = d }
}

// WithWifiQuery replaces the iwconfig invocation, for tests.
func WithWifiQuery(query func() ([]byte, error)) WifiSourceOption {
	return func(s *WifiSource) { s.query = query }
}

func NewWifiSource(log *logrus.Logger, opts ...WifiSourceOption) *WifiSource {
	s := &WifiSource{
		reg:    NewRegistry[WifiListener](log),
		log:    log,
		period: DefaultUpdatePeriod,
	}
	s.query = func() ([]byte, error) {
		return exec.Command(IwconfigPath, DefaultWifiIface).Output()
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// AddListener registers l and lazily starts the poll loop.
func (s *WifiSource) AddListener(l WifiListener) {
	if s.reg.Add(l) {
		s.poll.ensure(s.loop)
	}
}

// RemoveListener deregisters l, stopping the poll loop when l was the
// last listener.
func (s *WifiSource) RemoveListener(l WifiListener) {
	if s.reg.Remove(l) {
		s.poll.halt()
	}
}

func (s *WifiSource) loop(stop <-chan struct{}) {
	pollLoop(stop, s.period, func() {
		signal := s.sample()
		s.reg.Notify(func(l WifiListener) {
			l.WifiSignalUpdated(signal)
		})
	})
}

func (s *WifiSource) sample() WifiSignal {
	output, err := s.query()
	if err != nil {
		s.log.WithError(err).Debug("wifi query failed")
		return WifiSignal{}
	}
	return parseWifiSignal(output)
}
