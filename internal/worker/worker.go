// Package worker implements the terminable-worker primitive shared by every
// long-lived component of the supervisor: a quit signal that unblocks
// whatever the component's run loop is waiting on, plus a wait-for-exit
// signal the launcher can block on during shutdown.
//
// The spec describes this as a self-pipe: a byte written to unblock a
// select() over raw file descriptors. Go's net package already multiplexes
// listeners and connections through the runtime's own poller instead of a
// hand-rolled select loop, so the idiomatic equivalent here is a closed
// channel — a run loop selects on Done() alongside its other channels, and a
// blocking Accept()/ReadFromUDP() is unblocked by closing the underlying
// listener or connection from Terminate, exactly as closing the self-pipe's
// write end would wake a real select().
package worker

import "sync"

// Base gives a component terminate()/wait_for_exit() semantics without
// requiring it to hand-roll a done channel and the idempotency around
// closing it twice.
//
// Terminate is idempotent: repeated calls after the first are no-ops, so a
// launcher-driven shutdown racing a component's own internal stop request
// never double-closes the quit channel.
type Base struct {
	quit          chan struct{}
	terminateOnce sync.Once

	done     chan struct{}
	doneOnce sync.Once
}

// NewBase allocates the quit and done latches.
func NewBase() *Base {
	return &Base{
		quit: make(chan struct{}),
		done: make(chan struct{}),
	}
}

// Done returns a channel that's closed once Terminate has been called. A run
// loop selects on it alongside its other readiness sources.
func (b *Base) Done() <-chan struct{} { return b.quit }

// Terminate requests the worker stop; safe to call multiple times and from
// any goroutine. It does not block for the worker to actually exit — callers
// that need that should call WaitForExit.
func (b *Base) Terminate() {
	b.terminateOnce.Do(func() { close(b.quit) })
}

// MarkDone signals that the run loop has finished tearing down and
// WaitForExit may return. Idempotent.
func (b *Base) MarkDone() {
	b.doneOnce.Do(func() { close(b.done) })
}

// WaitForExit blocks until MarkDone has been called.
func (b *Base) WaitForExit() { <-b.done }
