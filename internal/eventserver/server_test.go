package eventserver

import (
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/edirooss/procd/internal/wire"
)

func newServer(t *testing.T) *Server {
	t.Helper()
	s, err := New(zap.NewNop(), "127.0.0.1:0")
	require.NoError(t, err)
	go s.Run()
	t.Cleanup(func() {
		s.Terminate()
		s.WaitForExit()
	})
	return s
}

func dial(t *testing.T, s *Server) net.Conn {
	t.Helper()
	conn, err := net.Dial("tcp", s.Addr().String())
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func TestBroadcastToSubscriber(t *testing.T) {
	s := newServer(t)
	conn := dial(t, s)

	require.Eventually(t, func() bool {
		s.Send(wire.Event{Job: "web", Event: wire.EventStarted})
		_ = conn.SetReadDeadline(time.Now().Add(50 * time.Millisecond))
		msg, err := wire.Decode(conn)
		if err != nil {
			return false
		}
		ev, ok := msg.(wire.Event)
		return ok && ev.Job == "web" && ev.Event == wire.EventStarted
	}, time.Second, 10*time.Millisecond)
}

func TestMultipleSubscribersAllReceive(t *testing.T) {
	s := newServer(t)
	a := dial(t, s)
	b := dial(t, s)

	time.Sleep(20 * time.Millisecond) // let both accepts land before sending
	s.Send(wire.Event{Job: "db", Event: wire.EventStopped})

	for _, conn := range []net.Conn{a, b} {
		_ = conn.SetReadDeadline(time.Now().Add(time.Second))
		msg, err := wire.Decode(conn)
		require.NoError(t, err)
		ev, ok := msg.(wire.Event)
		require.True(t, ok)
		require.Equal(t, "db", ev.Job)
		require.Equal(t, wire.EventStopped, ev.Event)
	}
}

// TestBroadcastContinuesPastDeadSubscriber kills one subscriber's connection
// mid-stream and confirms broadcast neither blocks nor drops delivery to the
// remaining live subscriber: subscriberSet.broadcast removes a failed send
// inline and keeps going, so the survivor must still receive every event
// sent after the dead one disconnected.
func TestBroadcastContinuesPastDeadSubscriber(t *testing.T) {
	s := newServer(t)
	dead := dial(t, s)
	alive := dial(t, s)

	time.Sleep(20 * time.Millisecond) // let both accepts land before killing one
	require.NoError(t, dead.Close())

	require.Eventually(t, func() bool {
		s.Send(wire.Event{Job: "cache", Event: wire.EventStopped})
		_ = alive.SetReadDeadline(time.Now().Add(50 * time.Millisecond))
		msg, err := wire.Decode(alive)
		if err != nil {
			return false
		}
		ev, ok := msg.(wire.Event)
		return ok && ev.Job == "cache" && ev.Event == wire.EventStopped
	}, time.Second, 10*time.Millisecond)
}

func TestTerminatingShutsDownServer(t *testing.T) {
	s, err := New(zap.NewNop(), "127.0.0.1:0")
	require.NoError(t, err)
	go s.Run()

	conn := dial(t, s)
	s.Send(wire.Event{Event: wire.EventTerminating})

	_ = conn.SetReadDeadline(time.Now().Add(time.Second))
	msg, err := wire.Decode(conn)
	require.NoError(t, err)
	ev, ok := msg.(wire.Event)
	require.True(t, ok)
	require.Equal(t, wire.EventTerminating, ev.Event)

	done := make(chan struct{})
	go func() {
		s.WaitForExit()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("server did not shut down after TERMINATING")
	}
}
