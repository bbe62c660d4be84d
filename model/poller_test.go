package model

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestPollerEnsureIsIdempotent(t *testing.T) {
	var p poller
	starts := make(chan struct{}, 2)
	loop := func(stop <-chan struct{}) {
		starts <- struct{}{}
		<-stop
	}
	p.ensure(loop)
	p.ensure(loop)
	defer p.halt()

	<-starts
	select {
	case <-starts:
		t.Fatal("second ensure started another loop")
	case <-time.After(50 * time.Millisecond):
	}
	require.True(t, p.isRunning())
}

func TestPollerRestartWaitsForOldLoop(t *testing.T) {
	var p poller
	gate := make(chan struct{})
	firstExited := make(chan struct{})
	p.ensure(func(stop <-chan struct{}) {
		// Mid-iteration when halted: only exits once the gate opens.
		<-gate
		close(firstExited)
	})
	p.halt()

	started := make(chan struct{})
	p.ensure(func(stop <-chan struct{}) {
		close(started)
		<-stop
	})
	require.True(t, p.isRunning())

	select {
	case <-started:
		t.Fatal("two loops active at once")
	case <-time.After(50 * time.Millisecond):
	}

	close(gate)
	<-firstExited
	select {
	case <-started:
	case <-time.After(time.Second):
		t.Fatal("restarted loop never ran")
	}
	p.halt()
}

func TestPollerHaltIsImmediate(t *testing.T) {
	var p poller
	p.ensure(func(stop <-chan struct{}) { <-stop })
	p.halt()
	require.False(t, p.isRunning())
	p.halt() // idempotent
}
