// Package ticker implements the supervisor's timer wheel (spec §4.3): a set
// of (key → absolute deadline) registrations that invoke a callback once
// each deadline passes.
//
// Grounded in the teacher's processmgr.scheduler: a container/heap min-heap
// ordered by deadline, with an index map enabling O(log N) removal instead
// of a linear scan to find (or drop) an arbitrary entry. The spec's O(N)
// "scan every expired entry" ceiling is preserved — an expired entry is
// still visited once per firing — but finding the next deadline to sleep
// until is O(log N), not O(N).
package ticker

import (
	"time"

	"go.uber.org/zap"

	"github.com/edirooss/procd/internal/worker"
)

// Callback is invoked on the ticker's own goroutine once a registered
// deadline has passed. It must not block indefinitely — doing so would
// delay every other entry's firing.
type Callback func(key string)

// Ticker is the timer wheel. Register/Unregister are safe to call from any
// goroutine; Callback always runs on the ticker's internal worker.
type Ticker struct {
	*worker.Base
	l  *zap.Logger
	cb Callback

	ops chan op
}

type opKind int

const (
	opRegister opKind = iota
	opUnregister
)

type op struct {
	kind     opKind
	key      string
	deadline time.Time
}

// New constructs a Ticker that invokes cb for each expired entry. cb may be
// nil at construction and bound later with SetCallback, since some callers
// (the launcher) need the ticker to exist before its callback's own
// dependency graph is wired up; it must be set before Run is called. Call
// Run in its own goroutine to start the worker.
func New(l *zap.Logger, cb Callback) *Ticker {
	return &Ticker{
		Base: worker.NewBase(),
		l:    l,
		cb:   cb,
		ops:  make(chan op, 64),
	}
}

// SetCallback binds the fire callback. Must be called before Run.
func (t *Ticker) SetCallback(cb Callback) { t.cb = cb }

// Register schedules (or reschedules) key to fire at deadline, replacing
// any prior entry for that key.
func (t *Ticker) Register(key string, deadline time.Time) {
	select {
	case t.ops <- op{kind: opRegister, key: key, deadline: deadline}:
	case <-t.Done():
	}
}

// Unregister cancels any pending entry for key. A no-op if none exists.
func (t *Ticker) Unregister(key string) {
	select {
	case t.ops <- op{kind: opUnregister, key: key}:
	case <-t.Done():
	}
}

// Run is the worker's main loop: apply queued register/unregister ops, then
// sleep until the nearest deadline (or forever if empty), waking early on a
// new op or a terminate request.
func (t *Ticker) Run() {
	defer t.MarkDone()

	h := newHeap()

	for {
		var timerC <-chan time.Time
		var tm *time.Timer

		if _, when, ok := h.next(); ok {
			d := time.Until(when)
			if d < 0 {
				d = 0
			}
			tm = time.NewTimer(d)
			timerC = tm.C
		}

		select {
		case o := <-t.ops:
			stop(tm)
			t.apply(h, o)
			t.drainPending(h)

		case <-timerC:
			t.fireExpired(h)

		case <-t.Done():
			stop(tm)
			return
		}
	}
}

func stop(tm *time.Timer) {
	if tm != nil {
		tm.Stop()
	}
}

// drainPending applies any additional ops already queued so a burst of
// register/unregister calls doesn't force a timer reset per call.
func (t *Ticker) drainPending(h *schedHeap) {
	for {
		select {
		case o := <-t.ops:
			t.apply(h, o)
		default:
			return
		}
	}
}

func (t *Ticker) apply(h *schedHeap, o op) {
	switch o.kind {
	case opRegister:
		h.push(o.key, o.deadline)
	case opUnregister:
		h.remove(o.key)
	}
}

func (t *Ticker) fireExpired(h *schedHeap) {
	now := time.Now()
	for {
		key, when, ok := h.next()
		if !ok || when.After(now) {
			return
		}
		h.pop()
		t.cb(key)
	}
}
