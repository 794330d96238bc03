package statusinbox

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/edirooss/procd/internal/wire"
)

type fakeShim struct {
	mu      sync.Mutex
	started []string
	stopped []string
}

func (f *fakeShim) NotifyJobStarted(job string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.started = append(f.started, job)
}

func (f *fakeShim) NotifyJobStopped(job string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stopped = append(f.stopped, job)
}

func (f *fakeShim) snapshot() (started, stopped []string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.started...), append([]string(nil), f.stopped...)
}

func TestDispatchesStartedAndStopped(t *testing.T) {
	shim := &fakeShim{}
	ib, err := New(zap.NewNop())
	require.NoError(t, err)
	ib.SetShim(shim)

	go ib.Run()
	defer func() {
		ib.Terminate()
		ib.WaitForExit()
	}()

	peer := ib.Peer()
	defer peer.Close()

	require.NoError(t, peer.Send(wire.Event{Job: "web", Event: wire.EventStarted}))
	require.NoError(t, peer.Send(wire.Event{Job: "web", Event: wire.EventStopped}))

	require.Eventually(t, func() bool {
		started, stopped := shim.snapshot()
		return len(started) == 1 && len(stopped) == 1
	}, time.Second, 10*time.Millisecond)

	started, stopped := shim.snapshot()
	assert.Equal(t, []string{"web"}, started)
	assert.Equal(t, []string{"web"}, stopped)
}

func TestTerminateStopsInbox(t *testing.T) {
	ib, err := New(zap.NewNop())
	require.NoError(t, err)
	ib.SetShim(&fakeShim{})
	go ib.Run()

	ib.Terminate()

	done := make(chan struct{})
	go func() {
		ib.WaitForExit()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("inbox did not exit after Terminate")
	}
}
