package app

import (
	"context"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"

	"github.com/haslate/haslate/hass"
	"github.com/haslate/haslate/model"
)

func testLogger() *logrus.Logger {
	log := logrus.New()
	log.SetOutput(io.Discard)
	return log
}

type fakeConn struct {
	mu      sync.Mutex
	states  []*hass.State
	handler func(*hass.State)
	calls   []model.ServiceCall
	running bool
	closed  bool
}

func (c *fakeConn) GetStates() ([]*hass.State, error) {
	return c.states, nil
}

func (c *fakeConn) SubscribeStateChanged(h func(*hass.State)) error {
	c.mu.Lock()
	c.handler = h
	c.mu.Unlock()
	return nil
}

func (c *fakeConn) CallService(domain, service string, data map[string]any) error {
	c.mu.Lock()
	c.calls = append(c.calls, model.ServiceCall{Domain: domain, Service: service, Data: data})
	c.mu.Unlock()
	return nil
}

func (c *fakeConn) Close() {
	c.mu.Lock()
	c.closed = true
	c.running = false
	c.mu.Unlock()
}

func (c *fakeConn) IsRunning() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.running
}

func (c *fakeConn) drop() {
	c.mu.Lock()
	c.running = false
	c.mu.Unlock()
}

func (c *fakeConn) serviceCalls() []model.ServiceCall {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]model.ServiceCall(nil), c.calls...)
}

type listenerFunc struct {
	fn func(*hass.State)
}

func (f *listenerFunc) StateChanged(s *hass.State) { f.fn(s) }

func fastOptions(dial DialFunc) []SupervisorOption {
	return []SupervisorOption{
		WithDialFunc(dial),
		WithCheckPeriod(5 * time.Millisecond),
		WithBackoff(NewBackoffWithLimits(time.Millisecond, 10*time.Millisecond)),
	}
}

func TestSupervisorSynchronizesOnConnect(t *testing.T) {
	store := model.NewEntityStore(testLogger())

	seen := make(chan string, 4)
	store.AddListener("sensor.temp", &listenerFunc{fn: func(s *hass.State) {
		seen <- s.State
	}})

	conn := &fakeConn{
		running: true,
		states: []*hass.State{
			{EntityID: "sensor.temp", State: "21.5"},
			{EntityID: "sensor.other", State: "1"},
		},
	}
	sup := NewSupervisor("ws://unused", "t", store, testLogger(),
		fastOptions(func() (Conn, error) { return conn, nil })...)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- sup.Run(ctx) }()

	select {
	case state := <-seen:
		require.Equal(t, "21.5", state, "initial fetch reaches listeners")
	case <-time.After(time.Second):
		t.Fatal("no state delivered")
	}

	// Events arriving through the subscription flow into the same store.
	conn.mu.Lock()
	handler := conn.handler
	conn.mu.Unlock()
	require.NotNil(t, handler)
	handler(&hass.State{EntityID: "sensor.temp", State: "22.0"})
	require.Equal(t, "22.0", <-seen)

	cancel()
	require.ErrorIs(t, <-done, context.Canceled)
	require.True(t, conn.closed)
}

func TestSupervisorRoutesServiceCalls(t *testing.T) {
	store := model.NewEntityStore(testLogger())
	conn := &fakeConn{running: true}
	sup := NewSupervisor("ws://unused", "t", store, testLogger(),
		fastOptions(func() (Conn, error) { return conn, nil })...)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go sup.Run(ctx)

	sup.CallService(model.ServiceCall{
		Domain:  "homeassistant",
		Service: "toggle",
		Data:    map[string]any{"entity_id": "switch.kitchen"},
	})

	require.Eventually(t, func() bool {
		return len(conn.serviceCalls()) == 1
	}, time.Second, 5*time.Millisecond)
	call := conn.serviceCalls()[0]
	require.Equal(t, "homeassistant", call.Domain)
	require.Equal(t, "toggle", call.Service)
	require.Equal(t, map[string]any{"entity_id": "switch.kitchen"}, call.Data)
}

func TestSupervisorReconnectsWhenConnectionDies(t *testing.T) {
	store := model.NewEntityStore(testLogger())

	var mu sync.Mutex
	var conns []*fakeConn
	dial := func() (Conn, error) {
		c := &fakeConn{running: true}
		mu.Lock()
		conns = append(conns, c)
		mu.Unlock()
		return c, nil
	}
	sup := NewSupervisor("ws://unused", "t", store, testLogger(), fastOptions(dial)...)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go sup.Run(ctx)

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(conns) == 1
	}, time.Second, 5*time.Millisecond)

	mu.Lock()
	first := conns[0]
	mu.Unlock()
	first.drop()

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(conns) >= 2
	}, time.Second, 5*time.Millisecond)
	require.True(t, first.closed, "dead connection is closed before redialing")
}

func TestSupervisorRetriesFailedDials(t *testing.T) {
	store := model.NewEntityStore(testLogger())

	var mu sync.Mutex
	attempts := 0
	var conn *fakeConn
	dial := func() (Conn, error) {
		mu.Lock()
		defer mu.Unlock()
		attempts++
		if attempts < 3 {
			return nil, errors.New("connection refused")
		}
		conn = &fakeConn{running: true}
		return conn, nil
	}
	sup := NewSupervisor("ws://unused", "t", store, testLogger(), fastOptions(dial)...)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go sup.Run(ctx)

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return conn != nil && attempts == 3
	}, time.Second, 5*time.Millisecond)
}

func TestSupervisorStopsWhenCancelledDuringBackoff(t *testing.T) {
	store := model.NewEntityStore(testLogger())
	dial := func() (Conn, error) { return nil, errors.New("connection refused") }
	sup := NewSupervisor("ws://unused", "t", store, testLogger(),
		WithDialFunc(dial),
		WithBackoff(NewBackoffWithLimits(time.Hour, time.Hour)))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- sup.Run(ctx) }()

	time.Sleep(20 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		require.ErrorIs(t, err, context.Canceled)
	case <-time.After(time.Second):
		t.Fatal("supervisor did not stop")
	}
}
