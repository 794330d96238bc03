// Package statusinbox implements the UDP status inbox (spec §4.5): a
// loopback datagram endpoint that child monitors report STARTED/STOPPED
// events into, which the inbox worker translates into job-control service
// requests.
package statusinbox

import (
	"errors"
	"net"

	"go.uber.org/zap"

	"github.com/edirooss/procd/internal/wire"
	"github.com/edirooss/procd/internal/worker"
)

// Shim is the subset of the job-control facade the inbox drives. Named
// Shim to match the spec's shim/future terminology (§4.8): from the
// inbox's perspective these calls just enqueue a request and return.
type Shim interface {
	NotifyJobStarted(job string)
	NotifyJobStopped(job string)
}

// Inbox is the status-inbox worker.
type Inbox struct {
	*worker.Base
	log  *zap.Logger
	conn *net.UDPConn
	recv *wire.DatagramConn
	shim Shim
}

// New binds a loopback UDP socket on an ephemeral port (addr "127.0.0.1:0").
// The launcher must call SetShim before Run, since the shim's own
// construction needs the monitors this inbox's Peer() handle feeds into —
// the two are wired together after both exist.
func New(log *zap.Logger) (*Inbox, error) {
	conn, err := net.ListenUDP("udp", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1), Port: 0})
	if err != nil {
		return nil, err
	}
	return &Inbox{
		Base: worker.NewBase(),
		log:  log,
		conn: conn,
		recv: wire.NewDatagramConn(conn, nil),
	}, nil
}

// SetShim binds the dispatch target. Must be called before Run.
func (i *Inbox) SetShim(shim Shim) { i.shim = shim }

// Addr returns the bound UDP address child monitors should send Events to.
func (i *Inbox) Addr() net.Addr { return i.conn.LocalAddr() }

// Peer returns a wire.Conn for a single child monitor to report into. Each
// monitor gets its own peer handle, per spec §4.5, even though they all
// share the one underlying socket.
func (i *Inbox) Peer() wire.Conn {
	return wire.NewDatagramConn(i.conn, i.Addr())
}

type readResult struct {
	msg wire.Message
	err error
}

// Run is the inbox's receive loop: decode each datagram as a framed Event
// and dispatch it to the shim. A malformed or oversized datagram is logged
// and dropped — it never brings down the supervisor, since an inbox
// datagram is internal, trusted-but-verified traffic, not a client request
// that owes a protocol-error reply.
func (i *Inbox) Run() {
	defer i.MarkDone()

	// Buffered by one so readLoop's final post-Close send never blocks on a
	// reader that's already gone once Run has returned.
	reads := make(chan readResult, 1)
	go i.readLoop(reads)

	for {
		select {
		case r := <-reads:
			if r.err != nil {
				if isClosed(r.err) {
					return
				}
				i.log.Warn("status inbox: dropping malformed datagram", zap.Error(r.err))
				continue
			}
			i.handle(r.msg)

		case <-i.Done():
			_ = i.conn.Close()
			return
		}
	}
}

func (i *Inbox) readLoop(out chan<- readResult) {
	for {
		msg, err := i.recv.Recv()
		out <- readResult{msg: msg, err: err}
		if err != nil && isClosed(err) {
			return
		}
	}
}

func (i *Inbox) handle(msg wire.Message) {
	ev, ok := msg.(wire.Event)
	if !ok {
		i.log.Warn("status inbox: unexpected message type", zap.Any("type", msg.MsgType()))
		return
	}
	switch ev.Event {
	case wire.EventStarted:
		i.shim.NotifyJobStarted(ev.Job)
	case wire.EventStopped:
		i.shim.NotifyJobStopped(ev.Job)
	default:
		i.log.Warn("status inbox: unexpected event kind", zap.Stringer("event", ev.Event))
	}
}

func isClosed(err error) bool {
	return errors.Is(err, net.ErrClosed)
}
