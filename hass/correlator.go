package hass

import (
	"encoding/json"
	"sync"
)

// result is the outcome of one command: the server's result payload on
// success, or an error.
type result struct {
	payload json.RawMessage
	err     error
}

// pendingCommand tracks one in-flight request. The channel is buffered so
// that resolving never blocks the receive loop, even when the waiting
// caller has already timed out and gone away.
type pendingCommand struct {
	id int64
	ch chan result
}

// correlator allocates request ids and matches responses back to their
// waiting commands. Ids are strictly increasing for the lifetime of a
// connection and are never reused; an id is live from register until
// resolve or failAll.
type correlator struct {
	mu      sync.Mutex
	nextID  int64
	pending map[int64]*pendingCommand
}

func newCorrelator() *correlator {
	return &correlator{
		pending: make(map[int64]*pendingCommand),
	}
}

// register allocates the next id and records a pending entry for it.
func (c *correlator) register() *pendingCommand {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.nextID++
	p := &pendingCommand{
		id: c.nextID,
		ch: make(chan result, 1),
	}
	c.pending[p.id] = p
	return p
}

// resolve delivers a result to the pending entry for id and removes it.
// Resolving an unknown id is a no-op and returns false. An entry is
// resolved at most once: the delete under the lock guarantees it.
func (c *correlator) resolve(id int64, r result) bool {
	c.mu.Lock()
	p, ok := c.pending[id]
	if ok {
		delete(c.pending, id)
	}
	c.mu.Unlock()
	if !ok {
		return false
	}
	p.ch <- r
	return true
}

// forget drops the pending entry for id without resolving it. Used when
// the request could not be written.
func (c *correlator) forget(id int64) {
	c.mu.Lock()
	delete(c.pending, id)
	c.mu.Unlock()
}

// failAll resolves every pending entry with err. Called when the receive
// loop exits so that waiting commands fail promptly instead of running
// out their timeouts.
func (c *correlator) failAll(err error) {
	c.mu.Lock()
	pending := c.pending
	c.pending = make(map[int64]*pendingCommand)
	c.mu.Unlock()
	for _, p := range pending {
		p.ch <- result{err: err}
	}
}

// pendingCount reports the number of unresolved requests.
func (c *correlator) pendingCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.pending)
}
