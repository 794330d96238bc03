package jobctl

import (
	"github.com/edirooss/procd/internal/acceptor"
	"github.com/edirooss/procd/internal/wire"
)

// Shim is the thin facade described in spec §4.8: every collaborator
// (acceptor, ticker, status-inbox, launcher) calls through it instead of
// touching the service's queue directly. Each method enqueues a request and
// blocks for its one reply — the "future" is just a one-slot buffered
// channel allocated per call.
type Shim struct {
	svc *Service
}

// NewShim wraps svc. Constructing a Shim does not start the service; callers
// still run svc.Run in its own goroutine.
func NewShim(svc *Service) *Shim { return &Shim{svc: svc} }

// enqueue sends req on the service's queue and waits for its reply. If the
// service has already stopped accepting requests (its Done channel is
// closed; the queue channel itself is never closed), it resolves
// immediately with an empty response, per §4.8's "queue absent" clause.
func (s *Shim) enqueue(kind requestKind, job string) response {
	return s.enqueueReq(request{kind: kind, job: job})
}

func (s *Shim) enqueueReq(req request) response {
	reply := make(chan response, 1)
	req.reply = reply

	select {
	case s.svc.reqs <- req:
	case <-s.svc.Done():
		return response{}
	}

	select {
	case r := <-reply:
		return r
	case <-s.svc.Done():
		return response{}
	}
}

// Init issues the one-time init request (spec §4.7's init step).
func (s *Shim) Init() { s.enqueue(reqInit, "") }

// Terminate enqueues the shutdown request and, per §4.8's stated exception,
// blocks until the service worker has fully exited.
func (s *Shim) Terminate() {
	s.enqueue(reqTerminate, "")
	s.svc.WaitForExit()
}

// NotifyJobStarted implements statusinbox.Shim.
func (s *Shim) NotifyJobStarted(job string) { s.enqueue(reqJobStarted, job) }

// NotifyJobStopped implements statusinbox.Shim.
func (s *Shim) NotifyJobStopped(job string) { s.enqueue(reqJobStopped, job) }

// TimerExpire is the ticker.Callback bound to this shim (spec §4.3/§4.7's
// job-timer-expire transition).
func (s *Shim) TimerExpire(job string) { s.enqueue(reqTimerExpire, job) }

// Start implements acceptor.Shim.
func (s *Shim) Start(job string) error {
	return errorFromReply(s.enqueue(reqStartJob, job))
}

// Stop implements acceptor.Shim.
func (s *Shim) Stop(job string) error {
	return errorFromReply(s.enqueue(reqStopJob, job))
}

// Status implements acceptor.Shim.
func (s *Shim) Status(job string) (running bool, exitCode, startCount int, err error) {
	r := s.enqueue(reqGetStatus, job)
	switch v := r.msg.(type) {
	case wire.Status:
		return v.IsRunning, v.ExitCode, v.StartCount, nil
	case wire.Failure:
		return false, 0, 0, failureError(v.Reason)
	default:
		return false, 0, 0, nil
	}
}

// JobList implements acceptor.Shim.
func (s *Shim) JobList() map[string]bool {
	r := s.enqueue(reqListJobs, "")
	if v, ok := r.msg.(wire.JobList); ok {
		return v.AllJobs
	}
	return nil
}

// Logs implements acceptor.Shim: up to n of the job's most recent output
// lines from its monitor's in-memory tail buffer (n <= 0 means the
// monitor's default capacity).
func (s *Shim) Logs(job string, n int) ([]string, error) {
	r := s.enqueueReq(request{kind: reqGetLogs, job: job, n: n})
	switch v := r.msg.(type) {
	case wire.LogLines:
		return v.Lines, nil
	case wire.Failure:
		return nil, failureError(v.Reason)
	default:
		return nil, nil
	}
}

// Quit implements acceptor.Shim. It enqueues the terminate request but does
// not itself block — the acceptor calls this from inside its own serve
// goroutine and the launcher is the one that ultimately waits on full
// shutdown via Terminate.
func (s *Shim) Quit() {
	go s.Terminate()
}

func errorFromReply(r response) error {
	if f, ok := r.msg.(wire.Failure); ok {
		return failureError(f.Reason)
	}
	return nil
}

// failureError maps a wire.FailureReason back to the sentinel errors the
// acceptor matches on to build its own wire.Failure reply. The round trip
// (service builds a Failure, shim turns it back into an error, acceptor
// turns that error back into a Failure) keeps the acceptor ignorant of the
// service's internals while still letting it report the exact reason.
func failureError(reason wire.FailureReason) error {
	switch reason {
	case wire.ReasonJobStarted:
		return acceptor.ErrJobAlreadyStarted
	case wire.ReasonJobStopped:
		return acceptor.ErrJobAlreadyStopped
	default:
		return acceptor.ErrNoSuchJob
	}
}
