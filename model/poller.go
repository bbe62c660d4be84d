package model

import (
	"sync"
	"time"
)

// DefaultUpdatePeriod is how often the local signal pollers sample their
// OS sources.
const DefaultUpdatePeriod = time.Second

// poller owns the lifecycle of a single background sampling loop. The loop
// is started lazily by the first listener and stopped by an explicit
// signal when the last listener leaves, so shutdown latency is not bound
// to the poll period. Starting a running poller is a no-op; the loop only
// ever exits through its stop channel. At most one loop is ever active:
// a restart waits out the previous loop before sampling.
type poller struct {
	mu      sync.Mutex
	running bool
	stop    chan struct{}
	done    chan struct{}
}

// ensure starts loop in a goroutine if it is not already running.
func (p *poller) ensure(loop func(stop <-chan struct{})) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.running {
		return
	}
	prev := p.done
	stop := make(chan struct{})
	done := make(chan struct{})
	p.running = true
	p.stop = stop
	p.done = done
	go func() {
		defer close(done)
		if prev != nil {
			// A halted loop may still be mid-iteration.
			<-prev
		}
		loop(stop)
	}()
}

// halt signals the loop to exit. The iteration in progress still delivers
// its notification before the loop returns. A listener added right after
// halt starts a fresh loop chained behind the halted one.
func (p *poller) halt() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.running {
		return
	}
	p.running = false
	close(p.stop)
	p.stop = nil
}

// isRunning reports whether a loop is active.
func (p *poller) isRunning() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.running
}

// pollLoop runs iterate once per period until stop is signalled. The stop
// check before each iteration keeps a stop raced with a tick from costing
// a whole extra sample.
func pollLoop(stop <-chan struct{}, period time.Duration, iterate func()) {
	ticker := time.NewTicker(period)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		default:
		}
		iterate()
		select {
		case <-stop:
			return
		case <-ticker.C:
		}
	}
}
