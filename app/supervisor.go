package app

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/haslate/haslate/hass"
	"github.com/haslate/haslate/model"
)

// Conn is the slice of hass.Connection the supervisor drives. Reconnection
// is modeled as dropping the old Conn and dialing a new one, never as
// in-place recovery.
type Conn interface {
	GetStates() ([]*hass.State, error)
	SubscribeStateChanged(func(*hass.State)) error
	CallService(domain, service string, data map[string]any) error
	Close()
	IsRunning() bool
}

// DialFunc opens a fresh authenticated connection.
type DialFunc func() (Conn, error)

// Supervisor owns the connection lifecycle: connect, resynchronize by full
// refetch, re-subscribe to events, watch for disconnection and retry with
// backoff. It also routes service calls from models to the live
// connection. State always flows into the entity store; consumers keep
// rendering last-known values while the supervisor is reconnecting.
type Supervisor struct {
	store       *model.EntityStore
	log         *logrus.Logger
	backoff     *Backoff
	dial        DialFunc
	checkPeriod time.Duration
	calls       chan model.ServiceCall
}

// SupervisorOption adjusts a Supervisor.
type SupervisorOption func(*Supervisor)

// WithDialFunc replaces how connections are opened, for tests.
func WithDialFunc(dial DialFunc) SupervisorOption {
	return func(s *Supervisor) { s.dial = dial }
}

// WithCheckPeriod overrides how often the live connection is checked.
func WithCheckPeriod(d time.Duration) SupervisorOption {
	return func(s *Supervisor) { s.checkPeriod = d }
}

// WithBackoff replaces the reconnect backoff.
func WithBackoff(b *Backoff) SupervisorOption {
	return func(s *Supervisor) { s.backoff = b }
}

func NewSupervisor(uri, token string, store *model.EntityStore, log *logrus.Logger, opts ...SupervisorOption) *Supervisor {
	s := &Supervisor{
		store:       store,
		log:         log,
		backoff:     NewBackoff(),
		checkPeriod: time.Second,
		calls:       make(chan model.ServiceCall, 16),
	}
	s.dial = func() (Conn, error) {
		return hass.Connect(uri, token, hass.Options{Logger: log})
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// CallService implements model.ServiceSink. Calls are queued for the live
// connection; when the queue is full the call is dropped with a warning
// rather than blocking the caller.
func (s *Supervisor) CallService(call model.ServiceCall) {
	select {
	case s.calls <- call:
	default:
		s.log.WithFields(logrus.Fields{
			"domain":  call.Domain,
			"service": call.Service,
		}).Warn("dropping service call, queue full")
	}
}

// Run connects and serves until ctx is cancelled. Every failure path
// waits out the backoff and dials again; a successful setup resets it.
func (s *Supervisor) Run(ctx context.Context) error {
	for {
		c, err := s.dial()
		if err != nil {
			s.log.WithError(err).Warn("connect failed")
			if !s.wait(ctx) {
				return ctx.Err()
			}
			continue
		}
		if err := s.setup(c); err != nil {
			s.log.WithError(err).Warn("connection setup failed")
			c.Close()
			if !s.wait(ctx) {
				return ctx.Err()
			}
			continue
		}
		s.backoff.Reset()
		s.log.Info("connected")

		s.serve(ctx, c)
		c.Close()
		if ctx.Err() != nil {
			return ctx.Err()
		}
		s.log.Warn("disconnected, reconnecting")
		if !s.wait(ctx) {
			return ctx.Err()
		}
	}
}

// setup resynchronizes after a (re)connect: fetch the full current state,
// then subscribe to changes. There is no delta replay; the refetch is the
// recovery mechanism.
func (s *Supervisor) setup(c Conn) error {
	states, err := c.GetStates()
	if err != nil {
		return err
	}
	for _, st := range states {
		s.store.UpdateState(st)
	}
	return c.SubscribeStateChanged(s.store.UpdateState)
}

// serve pumps service calls into the connection until it dies or ctx is
// cancelled.
func (s *Supervisor) serve(ctx context.Context, c Conn) {
	ticker := time.NewTicker(s.checkPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case call := <-s.calls:
			if err := c.CallService(call.Domain, call.Service, call.Data); err != nil {
				s.log.WithError(err).WithFields(logrus.Fields{
					"domain":  call.Domain,
					"service": call.Service,
				}).Warn("service call failed")
			}
		case <-ticker.C:
			if !c.IsRunning() {
				return
			}
		}
	}
}

// wait sleeps out the next backoff delay. It returns false when ctx was
// cancelled first.
func (s *Supervisor) wait(ctx context.Context) bool {
	delay := s.backoff.Next()
	s.log.WithField("delay", delay).Debug("waiting before reconnect")
	select {
	case <-ctx.Done():
		return false
	case <-time.After(delay):
		return true
	}
}
