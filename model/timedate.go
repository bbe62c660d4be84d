package model

import (
	"time"

	"github.com/sirupsen/logrus"
)

// ClockSource fans clock ticks out to its listeners. Ticks are pushed by
// the owner (the outer event loop posts one per second); there is no
// background loop to manage.
type ClockSource struct {
	reg *Registry[ClockListener]
}

func NewClockSource(log *logrus.Logger) *ClockSource {
	return &ClockSource{
		reg: NewRegistry[ClockListener](log),
	}
}

// AddListener registers l for clock ticks.
func (s *ClockSource) AddListener(l ClockListener) {
	s.reg.Add(l)
}

// RemoveListener deregisters l.
func (s *ClockSource) RemoveListener(l ClockListener) {
	s.reg.Remove(l)
}

// Tick delivers now to every listener.
func (s *ClockSource) Tick(now time.Time) {
	s.reg.Notify(func(l ClockListener) {
		l.ClockTicked(now)
	})
}
