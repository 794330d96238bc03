package eventserver

import (
	"net"
	"sync"

	"github.com/edirooss/procd/internal/wire"
)

// subscriber is one connected event-stream client. Writes happen only from
// the fan-out loop's goroutine, framed through a wire.StreamConn; a
// background reader goroutine exists solely to detect the peer closing its
// end (or sending unexpected bytes), since the event endpoint is write-only
// from the server's perspective.
type subscriber struct {
	id   uint64
	conn *wire.StreamConn
}

// subscriberSet owns the live subscriber list. All mutating methods are
// called only from the fan-out loop's own goroutine, so it needs no mutex
// for that traffic; disconnected() aggregates signals from the per-
// subscriber reader goroutines, which do run concurrently.
type subscriberSet struct {
	nextID  uint64
	subs    map[uint64]*subscriber
	gone    chan uint64
	goneMu  sync.Mutex
	closing bool
}

func newSubscriberSet() *subscriberSet {
	return &subscriberSet{
		subs: make(map[uint64]*subscriber),
		gone: make(chan uint64, 16),
	}
}

func (s *subscriberSet) add(conn net.Conn) {
	s.nextID++
	id := s.nextID
	sub := &subscriber{id: id, conn: wire.NewStreamConn(conn)}
	s.subs[id] = sub

	go s.watchForClose(sub)
}

// watchForClose blocks on a zero-length read to detect peer disconnect
// without consuming any protocol bytes (the client never sends on this
// connection once subscribed).
func (s *subscriberSet) watchForClose(sub *subscriber) {
	buf := make([]byte, 1)
	_, _ = sub.conn.Raw().Read(buf)
	s.goneMu.Lock()
	closing := s.closing
	s.goneMu.Unlock()
	if !closing {
		s.gone <- sub.id
	}
}

func (s *subscriberSet) disconnected() <-chan uint64 { return s.gone }

func (s *subscriberSet) remove(id uint64) {
	if sub, ok := s.subs[id]; ok {
		_ = sub.conn.Close()
		delete(s.subs, id)
	}
}

func (s *subscriberSet) broadcast(ev wire.Event) {
	for id, sub := range s.subs {
		if err := sub.conn.Send(ev); err != nil {
			_ = sub.conn.Close()
			delete(s.subs, id)
		}
	}
}

func (s *subscriberSet) closeAll() {
	s.goneMu.Lock()
	s.closing = true
	s.goneMu.Unlock()
	for id, sub := range s.subs {
		_ = sub.conn.Close()
		delete(s.subs, id)
	}
}
