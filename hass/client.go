package hass

import (
	"encoding/json"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

// DefaultCommandTimeout bounds how long SendCommand waits for a response.
const DefaultCommandTimeout = 5 * time.Second

// Options configures a Connection.
type Options struct {
	// Logger receives connection diagnostics. Nil discards them.
	Logger *logrus.Logger
	// CommandTimeout overrides DefaultCommandTimeout when > 0.
	CommandTimeout time.Duration
	// Dialer overrides the default websocket dialer.
	Dialer *websocket.Dialer
}

// Connection is one authenticated session with a Home Assistant server.
// A Connection is not reconnected in place: when IsRunning reports false
// the owner discards it and connects a fresh one.
type Connection struct {
	conn    *websocket.Conn
	log     *logrus.Logger
	corr    *correlator
	timeout time.Duration

	// writeMu serializes writers on the websocket.
	writeMu sync.Mutex

	// mu guards handler and closed.
	mu      sync.RWMutex
	handler func(*State)
	closed  bool

	running atomic.Bool
	wg      sync.WaitGroup
}

// Connect dials uri, performs the authentication handshake and starts the
// receive loop. The server must send auth_required first; the client
// replies with the access token and must see auth_ok back. Any deviation
// fails with *AuthError and leaves no background activity running.
func Connect(uri, accessToken string, opts Options) (*Connection, error) {
	log := opts.Logger
	if log == nil {
		log = logrus.New()
		log.SetOutput(io.Discard)
	}
	dialer := opts.Dialer
	if dialer == nil {
		dialer = &websocket.Dialer{}
	}
	timeout := opts.CommandTimeout
	if timeout <= 0 {
		timeout = DefaultCommandTimeout
	}

	conn, _, err := dialer.Dial(uri, nil)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to connect to %s", uri)
	}

	c := &Connection{
		conn:    conn,
		log:     log,
		corr:    newCorrelator(),
		timeout: timeout,
	}
	if err := c.authenticate(accessToken); err != nil {
		conn.Close()
		return nil, err
	}

	c.running.Store(true)
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		c.readLoop()
	}()
	return c, nil
}

// authenticate drives the three-message handshake. The connection is still
// single-threaded here; the receive loop only starts on success.
func (c *Connection) authenticate(accessToken string) error {
	f, err := c.readFrame()
	if err != nil {
		return &AuthError{Message: err.Error()}
	}
	if f.Type != TypeAuthRequired {
		return &AuthError{Message: "got " + f.Type + " in authentication phase"}
	}

	msg, err := commandJSON(TypeAuth, 0, map[string]any{"access_token": accessToken})
	if err != nil {
		return &AuthError{Message: err.Error()}
	}
	if err := c.writeMessage(msg); err != nil {
		return &AuthError{Message: err.Error()}
	}

	f, err = c.readFrame()
	if err != nil {
		return &AuthError{Message: err.Error()}
	}
	switch f.Type {
	case TypeAuthOK:
		return nil
	case TypeAuthInvalid:
		return &AuthError{Message: "invalid auth: " + f.Message}
	default:
		return &AuthError{Message: "unexpected " + f.Type + " message in auth"}
	}
}

func (c *Connection) readFrame() (*frame, error) {
	_, data, err := c.conn.ReadMessage()
	if err != nil {
		return nil, errors.Wrap(err, "failed to read message")
	}
	var f frame
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, errors.Wrap(err, "failed to unmarshal message")
	}
	return &f, nil
}

func (c *Connection) writeMessage(data []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return errors.Wrap(c.conn.WriteMessage(websocket.TextMessage, data), "failed to write message")
}

// SendCommand transmits a command frame built from params plus an allocated
// request id and waits for the matching result. On timeout the pending
// entry stays registered; a late response gets applied to its buffered
// channel and discarded when the correlator removes the entry.
func (c *Connection) SendCommand(msgType string, params map[string]any, timeout time.Duration) (json.RawMessage, error) {
	if !c.running.Load() {
		return nil, ErrClosed
	}
	if timeout <= 0 {
		timeout = c.timeout
	}
	p := c.corr.register()
	// The receive loop can exit, and its fail-all pass run, between the
	// check above and register(); such an entry would never be resolved.
	if !c.running.Load() {
		c.corr.forget(p.id)
		return nil, ErrClosed
	}
	msg, err := commandJSON(msgType, p.id, params)
	if err != nil {
		c.corr.forget(p.id)
		return nil, err
	}
	c.log.WithFields(logrus.Fields{"type": msgType, "id": p.id}).Debug("sending command")
	if err := c.writeMessage(msg); err != nil {
		c.corr.forget(p.id)
		return nil, errors.Wrapf(err, "failed to send %q command", msgType)
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case r := <-p.ch:
		return r.payload, r.err
	case <-timer.C:
		return nil, errors.Wrapf(ErrTimeout, "no response to %q (id %d)", msgType, p.id)
	}
}

// readLoop processes incoming frames until the transport fails or the
// connection is closed. It is the only reader on the websocket.
func (c *Connection) readLoop() {
	defer func() {
		c.running.Store(false)
		c.corr.failAll(ErrClosed)
	}()
	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			c.mu.RLock()
			closed := c.closed
			c.mu.RUnlock()
			if !closed {
				c.log.WithError(err).Warn("transport failure, receive loop exiting")
			}
			return
		}
		var f frame
		if err := json.Unmarshal(data, &f); err != nil {
			// A malformed frame is dropped, never fatal.
			c.log.WithError(err).Warn("dropping undecodable frame")
			continue
		}
		switch f.Type {
		case TypeResult:
			c.handleResult(&f)
		case TypeEvent:
			c.handleEvent(&f)
		default:
			c.log.WithField("type", f.Type).Debug("ignoring unknown message type")
		}
	}
}

func (c *Connection) handleResult(f *frame) {
	r := result{payload: f.Result}
	if f.Success == nil || !*f.Success {
		ce := &CommandError{Code: "unknown", Message: "command failed"}
		if f.Error != nil {
			ce = f.Error.commandError()
		}
		r.err = ce
	}
	if !c.corr.resolve(f.ID, r) {
		c.log.WithField("id", f.ID).Warn("dropping result for unknown request id")
	}
}

func (c *Connection) handleEvent(f *frame) {
	if f.Event == nil {
		c.log.Warn("dropping event frame without event payload")
		return
	}
	if f.Event.EventType != EventStateChanged {
		c.log.WithField("event_type", f.Event.EventType).Debug("ignoring event")
		return
	}
	s, err := StateFromRaw(f.Event.Data.NewState)
	if err != nil {
		c.log.WithError(err).Warn("dropping state_changed event")
		return
	}
	c.mu.RLock()
	handler := c.handler
	c.mu.RUnlock()
	if handler == nil {
		c.log.WithField("entity_id", s.EntityID).Debug("no event handler registered")
		return
	}
	handler(s)
}

// GetStates fetches the current state of every entity. Invalid records in
// the response are skipped.
func (c *Connection) GetStates() ([]*State, error) {
	payload, err := c.SendCommand("get_states", nil, 0)
	if err != nil {
		return nil, errors.Wrap(err, "get_states failed")
	}
	var raws []json.RawMessage
	if err := json.Unmarshal(payload, &raws); err != nil {
		return nil, errors.Wrap(err, "failed to unmarshal get_states result")
	}
	states := make([]*State, 0, len(raws))
	for _, raw := range raws {
		s, err := StateFromRaw(raw)
		if err != nil {
			c.log.WithError(err).Warn("skipping invalid state record")
			continue
		}
		states = append(states, s)
	}
	return states, nil
}

// SubscribeStateChanged subscribes to state_changed events and registers
// handler as the event dispatch target. A connection carries a single
// handler; a second subscription overwrites the first.
func (c *Connection) SubscribeStateChanged(handler func(*State)) error {
	_, err := c.SendCommand("subscribe_events", map[string]any{
		"event_type": EventStateChanged,
	}, 0)
	if err != nil {
		return errors.Wrap(err, "subscribe_events failed")
	}
	c.mu.Lock()
	c.handler = handler
	c.mu.Unlock()
	return nil
}

// CallService invokes a Home Assistant service.
func (c *Connection) CallService(domain, service string, serviceData map[string]any) error {
	_, err := c.SendCommand("call_service", map[string]any{
		"domain":       domain,
		"service":      service,
		"service_data": serviceData,
	}, 0)
	return errors.Wrapf(err, "call_service %s.%s failed", domain, service)
}

// Close shuts the connection down and waits for the receive loop to exit.
// It is idempotent.
func (c *Connection) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	c.mu.Unlock()
	c.conn.Close()
	c.wg.Wait()
}

// IsRunning reports whether the receive loop is still alive. False means
// the connection is dead and must be replaced.
func (c *Connection) IsRunning() bool {
	return c.running.Load()
}
