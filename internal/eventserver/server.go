// Package eventserver implements the streaming event fan-out server (spec
// §4.4): it accepts subscribers on a TCP port and multiplexes internally
// produced Events to every live subscriber, removing any that error or
// disconnect.
package eventserver

import (
	"errors"
	"net"

	"go.uber.org/zap"

	"github.com/edirooss/procd/internal/wire"
	"github.com/edirooss/procd/internal/worker"
)

// Server is the event fan-out worker. The set of subscriber connections
// belongs exclusively to its own goroutine; no other component touches it,
// per spec §5.
type Server struct {
	*worker.Base
	log *zap.Logger
	ln  net.Listener

	produce chan wire.Event // internal producer -> fan-out bridge
}

// New binds a TCP listener on addr (use "127.0.0.1:0" for an ephemeral
// port) and returns a Server ready to Run.
func New(log *zap.Logger, addr string) (*Server, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, err
	}
	return &Server{
		Base:    worker.NewBase(),
		log:     log,
		ln:      ln,
		produce: make(chan wire.Event, 256),
	}, nil
}

// Addr returns the bound listener address.
func (s *Server) Addr() net.Addr { return s.ln.Addr() }

// Send enqueues an event for broadcast to all live subscribers. Safe for
// concurrent use by any producer (the job-control service).
func (s *Server) Send(e wire.Event) {
	select {
	case s.produce <- e:
	case <-s.Done():
	}
}

// acceptResult carries one Accept() outcome (or error) back to Run's select.
type acceptResult struct {
	conn net.Conn
	err  error
}

// Run is the fan-out loop. Each iteration handles exactly one ready source
// (new subscriber, produced event, or a subscriber disconnecting) before
// returning to selection, per spec §4.4.
func (s *Server) Run() {
	defer s.MarkDone()

	// Buffered by one: once Run stops reading (any return path), acceptLoop's
	// final post-Close send must not block forever waiting for a reader that
	// will never come back.
	accepted := make(chan acceptResult, 1)
	go s.acceptLoop(accepted)

	subs := newSubscriberSet()
	defer subs.closeAll()

	for {
		select {
		case res := <-accepted:
			if res.err != nil {
				if s.listenerClosed(res.err) {
					continue
				}
				s.log.Warn("accept failed", zap.Error(res.err))
				continue
			}
			subs.add(res.conn)

		case ev := <-s.produce:
			s.broadcast(subs, ev)
			if ev.Event == wire.EventTerminating {
				s.log.Info("TERMINATING broadcast, shutting down event server")
				_ = s.ln.Close()
				subs.closeAll()
				s.MarkDone()
				return
			}

		case id := <-subs.disconnected():
			subs.remove(id)

		case <-s.Done():
			_ = s.ln.Close()
			subs.closeAll()
			return
		}
	}
}

func (s *Server) listenerClosed(err error) bool {
	var netErr net.Error
	if errors.As(err, &netErr) {
		return !netErr.Timeout() && errors.Is(err, net.ErrClosed)
	}
	return errors.Is(err, net.ErrClosed)
}

func (s *Server) acceptLoop(out chan<- acceptResult) {
	for {
		conn, err := s.ln.Accept()
		out <- acceptResult{conn: conn, err: err}
		if err != nil {
			return
		}
	}
}

// broadcast writes ev to every live subscriber. Any send that fails is an
// I/O error, not a protocol error — that subscriber is closed and removed
// on the spot, and the broadcast carries on to the others.
func (s *Server) broadcast(subs *subscriberSet, ev wire.Event) {
	subs.broadcast(ev)
}
