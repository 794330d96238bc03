package procdclient

import (
	"fmt"
	"net"

	"github.com/edirooss/procd/internal/wire"
)

// EventStream is a live subscription to the event endpoint.
type EventStream struct {
	conn net.Conn
}

// Listen dials the event endpoint at addr and returns a stream of every
// Event broadcast from then on, until Close is called or the server hangs
// up (e.g. after a TERMINATING broadcast).
func Listen(addr string) (*EventStream, error) {
	conn, err := net.Dial("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("procdclient: dial event endpoint: %w", err)
	}
	return &EventStream{conn: conn}, nil
}

// Next blocks for the next Event. It returns an error once the connection
// is closed (by either side) or on a protocol violation.
func (s *EventStream) Next() (wire.Event, error) {
	msg, err := wire.Decode(s.conn)
	if err != nil {
		return wire.Event{}, err
	}
	ev, ok := msg.(wire.Event)
	if !ok {
		return wire.Event{}, fmt.Errorf("procdclient: unexpected message on event endpoint")
	}
	return ev, nil
}

// Close ends the subscription.
func (s *EventStream) Close() error { return s.conn.Close() }
