// Package acceptor implements the synchronous command endpoint (spec §4.6):
// one TCP connection carries exactly one request and its response, then is
// closed.
package acceptor

import (
	"errors"
	"net"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/edirooss/procd/internal/wire"
	"github.com/edirooss/procd/internal/worker"
)

// readDeadline bounds how long the acceptor waits for a client to finish
// sending its request once connected, so a client that connects and never
// writes can't pin a goroutine forever.
const readDeadline = 15 * time.Second

// ErrNoSuchJob, ErrJobAlreadyStarted, and ErrJobAlreadyStopped are the
// domain failures a Shim returns from Start/Stop/Status; the acceptor
// translates them into wire.Failure replies rather than tearing down the
// connection.
var (
	ErrNoSuchJob         = errors.New("acceptor: no such job")
	ErrJobAlreadyStarted = errors.New("acceptor: job already started")
	ErrJobAlreadyStopped = errors.New("acceptor: job already stopped")
)

// Shim is the job-control facade the acceptor dispatches commands to (spec
// §4.8): each call enqueues a request onto the single-writer state machine
// and blocks for its result.
type Shim interface {
	Start(job string) error
	Stop(job string) error
	Status(job string) (running bool, exitCode, startCount int, err error)
	JobList() map[string]bool
	Logs(job string, n int) ([]string, error)
	Quit()
}

// Acceptor is the command endpoint worker.
type Acceptor struct {
	*worker.Base
	log  *zap.Logger
	ln   net.Listener
	shim Shim
}

// New binds a TCP listener on addr and returns an Acceptor ready to Run.
func New(log *zap.Logger, addr string, shim Shim) (*Acceptor, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, err
	}
	return &Acceptor{
		Base: worker.NewBase(),
		log:  log,
		ln:   ln,
		shim: shim,
	}, nil
}

// Addr returns the bound listener address.
func (a *Acceptor) Addr() net.Addr { return a.ln.Addr() }

type acceptResult struct {
	conn net.Conn
	err  error
}

// Run is the accept loop: every new connection spawns a detached goroutine
// to serve its single request. A QUIT served on one of those goroutines
// calls Terminate, which ends this loop and closes the listener.
func (a *Acceptor) Run() {
	defer a.MarkDone()

	// Buffered by one so acceptLoop's final post-Close send never blocks on
	// a reader that's already gone once Run has returned.
	accepted := make(chan acceptResult, 1)
	go a.acceptLoop(accepted)

	for {
		select {
		case res := <-accepted:
			if res.err != nil {
				if errors.Is(res.err, net.ErrClosed) {
					return
				}
				a.log.Warn("accept failed", zap.Error(res.err))
				continue
			}
			go a.serve(res.conn)

		case <-a.Done():
			_ = a.ln.Close()
			return
		}
	}
}

func (a *Acceptor) acceptLoop(out chan<- acceptResult) {
	for {
		conn, err := a.ln.Accept()
		out <- acceptResult{conn: conn, err: err}
		if err != nil {
			return
		}
	}
}

// serve handles exactly one request on conn, then closes it. Every log line
// for this connection carries the same request ID, so a single command's
// decode/dispatch/reply can be correlated in the supervisor's log output.
func (a *Acceptor) serve(conn net.Conn) {
	defer conn.Close()

	reqID := uuid.New().String()
	log := a.log.With(zap.String("request_id", reqID))

	wc := wire.NewStreamConn(conn)
	_ = wc.SetReadDeadline(time.Now().Add(readDeadline))

	msg, err := wc.Recv()
	if err != nil {
		if errors.Is(err, wire.ErrTimeout) {
			log.Warn("command read timed out")
		} else {
			log.Warn("command decode failed", zap.Error(err))
		}
		return
	}

	cmd, ok := msg.(wire.Command)
	if !ok {
		log.Warn("unexpected message on command endpoint", zap.Any("type", msg.MsgType()))
		return
	}
	log.Debug("command received", zap.Stringer("command", cmd.Command), zap.String("job", cmd.Job))

	reply := a.dispatch(cmd)
	if reply == nil {
		// QUIT: no reply is sent, and the acceptor itself is asked to stop
		// taking new connections.
		a.Terminate()
		return
	}

	if err := wc.Send(reply); err != nil {
		log.Warn("command reply failed", zap.Error(err))
	}
}

// dispatch runs one command against the shim and builds its reply. A nil
// return means QUIT, which has no reply body.
func (a *Acceptor) dispatch(cmd wire.Command) wire.Message {
	switch cmd.Command {
	case wire.CommandStart:
		if err := a.shim.Start(cmd.Job); err != nil {
			return failureFor(cmd.Job, err)
		}
		return wire.Success{Job: cmd.Job}

	case wire.CommandStop:
		if err := a.shim.Stop(cmd.Job); err != nil {
			return failureFor(cmd.Job, err)
		}
		return wire.Success{Job: cmd.Job}

	case wire.CommandStatus:
		running, exitCode, startCount, err := a.shim.Status(cmd.Job)
		if err != nil {
			return failureFor(cmd.Job, err)
		}
		return wire.Status{Job: cmd.Job, IsRunning: running, ExitCode: exitCode, StartCount: startCount}

	case wire.CommandJobList:
		return wire.JobList{AllJobs: a.shim.JobList()}

	case wire.CommandLogs:
		lines, err := a.shim.Logs(cmd.Job, cmd.N)
		if err != nil {
			return failureFor(cmd.Job, err)
		}
		return wire.LogLines{Job: cmd.Job, Lines: lines}

	case wire.CommandQuit:
		a.shim.Quit()
		return nil

	default:
		return wire.Failure{Job: cmd.Job, Reason: wire.ReasonNoSuchJob}
	}
}

func failureFor(job string, err error) wire.Failure {
	switch {
	case errors.Is(err, ErrJobAlreadyStarted):
		return wire.Failure{Job: job, Reason: wire.ReasonJobStarted}
	case errors.Is(err, ErrJobAlreadyStopped):
		return wire.Failure{Job: job, Reason: wire.ReasonJobStopped}
	default:
		return wire.Failure{Job: job, Reason: wire.ReasonNoSuchJob}
	}
}
