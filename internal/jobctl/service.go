// Package jobctl implements the job-control service (spec §4.7): the
// single-writer state machine that owns every job's runtime state, and the
// Shim facade (spec §4.8) every other collaborator calls instead of
// reaching into that state directly.
package jobctl

import (
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/edirooss/procd/internal/job"
	"github.com/edirooss/procd/internal/procmon"
	"github.com/edirooss/procd/internal/wire"
	"github.com/edirooss/procd/internal/worker"
)

// RestartTimeout and RestartBackoff are the flap-detection constants from
// spec §4.7.
const (
	RestartTimeout = 5 * time.Second
	RestartBackoff = 10 * time.Second
)

// EventSink is the subset of the event fan-out server the service drives.
type EventSink interface {
	Send(wire.Event)
	Terminate()
	WaitForExit()
}

// TickerHandle is the subset of the ticker the service drives.
type TickerHandle interface {
	Register(key string, deadline time.Time)
	Unregister(key string)
	Terminate()
	WaitForExit()
}

// InboxHandle is the subset of the status inbox the service drives at
// shutdown; it has no other direct dependency on it (the inbox calls back
// into the service via the Shim, not the reverse).
type InboxHandle interface {
	Terminate()
	WaitForExit()
}

// runtimeState is the per-job derived state the spec's invariants describe
// (§3): restart bookkeeping not already captured by the job's Monitor.
type runtimeState struct {
	lastRestartAt  time.Time // zero value means "absent"
	restartBlocked bool
}

func (s *runtimeState) hasPendingRestart() bool { return !s.lastRestartAt.IsZero() }

// Service is the job-control worker.
type Service struct {
	*worker.Base
	log     *zap.Logger
	catalog *job.Catalog

	monitors map[string]*procmon.Monitor
	state    map[string]*runtimeState

	events EventSink
	ticker TickerHandle
	inbox  InboxHandle

	reqs chan request
}

// New constructs a Service. monitors must contain one entry per name in
// catalog, already wired to the status inbox's peer handle by the caller
// (the launcher), per spec §4.7's init step.
func New(log *zap.Logger, catalog *job.Catalog, monitors map[string]*procmon.Monitor, events EventSink, tk TickerHandle, inbox InboxHandle) *Service {
	state := make(map[string]*runtimeState, len(monitors))
	for name := range monitors {
		state[name] = &runtimeState{}
	}
	return &Service{
		Base:     worker.NewBase(),
		log:      log,
		catalog:  catalog,
		monitors: monitors,
		state:    state,
		events:   events,
		ticker:   tk,
		inbox:    inbox,
		reqs:     make(chan request, 64),
	}
}

// Run is the single-writer loop: dequeue one request, resolve its future,
// then take the next. Nothing here ever runs concurrently with itself, so
// every per-job field read or write below is data-race free by construction.
//
// reqs is never closed — after processing reqTerminate the loop calls
// Base.Terminate itself (closing Done) so any request still racing in via
// the shim's enqueue resolves empty instead of blocking on a channel send
// nothing will ever receive.
func (s *Service) Run() {
	defer s.MarkDone()

	for {
		req := <-s.reqs
		resp := s.handle(req)
		if req.reply != nil {
			req.reply <- resp
		}
		if req.kind == reqTerminate {
			s.Base.Terminate()
			return
		}
	}
}

func (s *Service) handle(req request) response {
	switch req.kind {
	case reqInit:
		return s.handleInit()
	case reqTerminate:
		return s.handleTerminate()
	case reqJobStarted:
		return s.handleJobStarted(req.job)
	case reqJobStopped:
		return s.handleJobStopped(req.job)
	case reqStartJob:
		return s.handleStartJob(req.job)
	case reqStopJob:
		return s.handleStopJob(req.job)
	case reqGetStatus:
		return s.handleGetStatus(req.job)
	case reqListJobs:
		return s.handleListJobs()
	case reqTimerExpire:
		return s.handleTimerExpire(req.job)
	case reqGetLogs:
		return s.handleGetLogs(req.job, req.n)
	default:
		return response{}
	}
}

// handleInit starts every autostart job. Monitor wiring to the status-inbox
// peer handle already happened in the launcher before the service's worker
// was started, per §4.7's init step.
func (s *Service) handleInit() response {
	for _, name := range s.catalog.Autostart() {
		if err := s.monitors[name].Start(); err != nil {
			s.log.Warn("autostart failed", zap.String("job", name), zap.Error(err))
		}
	}
	return response{}
}

// handleTerminate runs the shutdown sequence in the exact order spec §4.7
// mandates: stop the status inbox, broadcast TERMINATING and stop the event
// server, stop the ticker, then kill every job with a live process and wait
// for the whole group to die.
func (s *Service) handleTerminate() response {
	s.inbox.Terminate()
	s.inbox.WaitForExit()

	// The event server shuts itself down once it has broadcast TERMINATING,
	// so wait for that before the (then no-op) Terminate call.
	s.events.Send(wire.Event{Event: wire.EventTerminating})
	s.events.WaitForExit()
	s.events.Terminate()

	s.ticker.Terminate()
	s.ticker.WaitForExit()

	for name, m := range s.monitors {
		if m.Status() {
			if err := m.Kill(); err != nil {
				s.log.Warn("kill during terminate failed", zap.String("job", name), zap.Error(err))
			}
		}
	}
	for _, m := range s.monitors {
		for m.Status() {
			time.Sleep(10 * time.Millisecond)
		}
	}
	return response{}
}

// handleStartJob implements spec §4.7's start-job transition.
func (s *Service) handleStartJob(name string) response {
	m, ok := s.monitors[name]
	if !ok {
		return response{msg: wire.Failure{Job: name, Reason: wire.ReasonNoSuchJob}}
	}
	st := s.state[name]

	if st.restartBlocked {
		st.restartBlocked = false
		s.ticker.Unregister(name)
	}

	if st.hasPendingRestart() {
		// A timed restart is already pending; the ticker will fire it.
		return response{msg: wire.Success{Job: name}}
	}

	if err := m.Start(); err != nil {
		if !errors.Is(err, procmon.ErrAlreadyRunning) {
			s.log.Warn("start-job failed", zap.String("job", name), zap.Error(err))
		}
		return response{msg: wire.Failure{Job: name, Reason: wire.ReasonJobStarted}}
	}
	return response{msg: wire.Success{Job: name}}
}

// handleStopJob implements spec §4.7's stop-job transition.
func (s *Service) handleStopJob(name string) response {
	j, ok := s.catalog.Get(name)
	m := s.monitors[name]
	if !ok {
		return response{msg: wire.Failure{Job: name, Reason: wire.ReasonNoSuchJob}}
	}
	st := s.state[name]

	st.restartBlocked = true
	s.ticker.Unregister(name)
	st.lastRestartAt = time.Time{}

	if err := m.Kill(); err != nil {
		if errors.Is(err, procmon.ErrNotRunning) {
			if j.Restart {
				// Wake clients waiting on this job's stop even though the
				// real child monitor never saw it running.
				s.events.Send(wire.Event{Job: name, Event: wire.EventStopped})
				return response{msg: wire.Success{Job: name}}
			}
			return response{msg: wire.Failure{Job: name, Reason: wire.ReasonJobStopped}}
		}
		s.log.Warn("stop-job kill failed", zap.String("job", name), zap.Error(err))
		return response{msg: wire.Failure{Job: name, Reason: wire.ReasonJobStopped}}
	}
	// The real STOPPED event arrives later via job-stopped, from the child
	// monitor's status-inbox notification.
	return response{msg: wire.Success{Job: name}}
}

// handleJobStarted implements spec §4.7's job-started transition.
func (s *Service) handleJobStarted(name string) response {
	s.events.Send(wire.Event{Job: name, Event: wire.EventStarted})
	return response{}
}

// handleJobStopped implements spec §4.7's job-stopped transition, including
// the flap-detection policy and the §9 binding resolution that a
// non-throttled restart emits RESTARTED rather than STARTED.
func (s *Service) handleJobStopped(name string) response {
	j, ok := s.catalog.Get(name)
	st := s.state[name]
	if !ok || st == nil {
		return response{}
	}

	if j.Restart && !st.restartBlocked {
		now := time.Now()
		prev := st.lastRestartAt
		st.lastRestartAt = now

		if !prev.IsZero() && now.Sub(prev) <= RestartTimeout {
			st.restartBlocked = true
			s.ticker.Register(name, now.Add(RestartBackoff))
			return response{}
		}

		if err := s.monitors[name].Start(); err != nil {
			s.log.Warn("restart after job-stopped failed", zap.String("job", name), zap.Error(err))
			return response{}
		}
		s.events.Send(wire.Event{Job: name, Event: wire.EventRestarted})
		return response{}
	}

	s.events.Send(wire.Event{Job: name, Event: wire.EventStopped})
	return response{}
}

// handleTimerExpire implements spec §4.7's job-timer-expire transition.
func (s *Service) handleTimerExpire(name string) response {
	st := s.state[name]
	if st == nil {
		return response{}
	}
	if err := s.monitors[name].Start(); err != nil {
		s.log.Warn("timed restart failed", zap.String("job", name), zap.Error(err))
	}
	st.restartBlocked = false
	st.lastRestartAt = time.Now()
	s.events.Send(wire.Event{Job: name, Event: wire.EventRestarted})
	return response{}
}

func (s *Service) handleGetStatus(name string) response {
	m, ok := s.monitors[name]
	if !ok {
		return response{msg: wire.Failure{Job: name, Reason: wire.ReasonNoSuchJob}}
	}
	return response{msg: wire.Status{
		Job:        name,
		IsRunning:  m.Status(),
		ExitCode:   m.ExitCode(),
		StartCount: m.StartCount(),
	}}
}

// handleGetLogs answers a LOGS command from the job's monitor's in-memory
// tail buffer, per SPEC_FULL.md's log-tailing addition to §4.2.
func (s *Service) handleGetLogs(name string, n int) response {
	m, ok := s.monitors[name]
	if !ok {
		return response{msg: wire.Failure{Job: name, Reason: wire.ReasonNoSuchJob}}
	}
	return response{msg: wire.LogLines{Job: name, Lines: m.Logs(n)}}
}

func (s *Service) handleListJobs() response {
	all := make(map[string]bool, len(s.monitors))
	for name, m := range s.monitors {
		all[name] = m.Status()
	}
	return response{msg: wire.JobList{AllJobs: all}}
}
