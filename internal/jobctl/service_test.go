package jobctl

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/edirooss/procd/internal/job"
	"github.com/edirooss/procd/internal/procmon"
	"github.com/edirooss/procd/internal/wire"
)

// fakeEvents, fakeTicker, and fakeInbox stand in for the real workers so the
// state machine can be exercised without real sockets or processes.
type fakeEvents struct {
	sent chan wire.Event
}

func newFakeEvents() *fakeEvents           { return &fakeEvents{sent: make(chan wire.Event, 64)} }
func (f *fakeEvents) Send(e wire.Event)    { f.sent <- e }
func (f *fakeEvents) Terminate()           {}
func (f *fakeEvents) WaitForExit()         {}

type fakeTicker struct {
	registered   map[string]time.Time
	unregistered chan string
}

func newFakeTicker() *fakeTicker {
	return &fakeTicker{registered: make(map[string]time.Time), unregistered: make(chan string, 64)}
}
func (f *fakeTicker) Register(key string, when time.Time) { f.registered[key] = when }
func (f *fakeTicker) Unregister(key string)               { f.unregistered <- key }
func (f *fakeTicker) Terminate()                           {}
func (f *fakeTicker) WaitForExit()                         {}

type fakeInbox struct{}

func (fakeInbox) Terminate()   {}
func (fakeInbox) WaitForExit() {}

func newTestService(t *testing.T, restart bool) (*Service, *fakeEvents, *procmon.Monitor) {
	t.Helper()
	dir := t.TempDir()
	j := job.Job{
		Name:       "t",
		Command:    "true",
		Stdin:      "/dev/null",
		Stdout:     dir + "/out.log",
		Stderr:     dir + "/err.log",
		Restart:    restart,
		ExitSignal: 15,
	}
	cat, err := job.NewCatalog([]job.Job{j})
	require.NoError(t, err)

	events := newFakeEvents()
	m := procmon.New(zap.NewNop(), j, discardNotifier{})
	monitors := map[string]*procmon.Monitor{"t": m}

	svc := New(zap.NewNop(), cat, monitors, events, newFakeTicker(), fakeInbox{})
	go svc.Run()
	t.Cleanup(func() {
		shim := NewShim(svc)
		shim.Terminate()
	})
	return svc, events, m
}

type discardNotifier struct{}

func (discardNotifier) Notify(wire.Event) {}

func TestStartJobUnknownFails(t *testing.T) {
	svc, _, _ := newTestService(t, false)
	shim := NewShim(svc)

	err := shim.Start("ghost")
	require.Error(t, err)
}

func TestStartThenStatusReportsExit(t *testing.T) {
	svc, _, _ := newTestService(t, false)
	shim := NewShim(svc)

	require.NoError(t, shim.Start("t"))

	require.Eventually(t, func() bool {
		running, _, _, err := shim.Status("t")
		return err == nil && !running // "true" exits almost immediately
	}, time.Second, 5*time.Millisecond)
}

func TestJobStartedEmitsStarted(t *testing.T) {
	svc, events, _ := newTestService(t, false)
	shim := NewShim(svc)

	shim.NotifyJobStarted("t")

	select {
	case ev := <-events.sent:
		assert.Equal(t, wire.EventStarted, ev.Event)
		assert.Equal(t, "t", ev.Job)
	case <-time.After(time.Second):
		t.Fatal("STARTED not emitted")
	}
}

func TestJobStoppedNonRestartEmitsStopped(t *testing.T) {
	svc, events, _ := newTestService(t, false)
	shim := NewShim(svc)

	shim.NotifyJobStopped("t")

	select {
	case ev := <-events.sent:
		assert.Equal(t, wire.EventStopped, ev.Event)
	case <-time.After(time.Second):
		t.Fatal("STOPPED not emitted")
	}
}

func TestJobStoppedRestartFirstTimeEmitsRestarted(t *testing.T) {
	svc, events, _ := newTestService(t, true)
	shim := NewShim(svc)

	shim.NotifyJobStopped("t")

	select {
	case ev := <-events.sent:
		assert.Equal(t, wire.EventRestarted, ev.Event)
	case <-time.After(time.Second):
		t.Fatal("RESTARTED not emitted on first non-throttled job-stopped")
	}
}

func TestListJobsIncludesJob(t *testing.T) {
	svc, _, _ := newTestService(t, false)
	shim := NewShim(svc)

	list := shim.JobList()
	require.Contains(t, list, "t")
}

// TestJobStoppedSecondFlapWithinTimeoutBlocks drives two job-stopped
// notifications close together (well within RestartTimeout). The first is a
// clean non-throttled restart (RESTARTED emitted immediately); the second
// is a flap: no event fires, the restart is instead deferred to the ticker,
// and the job is marked restart-blocked until either the ticker fires or an
// operator issues a manual start.
func TestJobStoppedSecondFlapWithinTimeoutBlocks(t *testing.T) {
	svc, events, _ := newTestService(t, true)
	shim := NewShim(svc)

	shim.NotifyJobStopped("t")
	select {
	case ev := <-events.sent:
		require.Equal(t, wire.EventRestarted, ev.Event)
	case <-time.After(time.Second):
		t.Fatal("RESTARTED not emitted on first flap")
	}

	shim.NotifyJobStopped("t")

	select {
	case ev := <-events.sent:
		t.Fatalf("unexpected event emitted on throttled second flap: %+v", ev)
	case <-time.After(100 * time.Millisecond):
	}

	st := svc.state["t"]
	assert.True(t, st.restartBlocked)
	assert.True(t, st.hasPendingRestart())

	tk := svc.ticker.(*fakeTicker)
	deadline, ok := tk.registered["t"]
	require.True(t, ok, "second flap must register a deferred restart with the ticker")
	assert.True(t, deadline.After(time.Now()))
}

// TestStartJobDuringPendingRestartClearsBlock covers the manual-start-while-
// a-timed-restart-is-pending transition: start-job must not double-start the
// job out from under the ticker, but it does clear the restart-blocked flag
// and unregister the ticker entry, deferring to the pending restart already
// recorded in lastRestartAt (the ticker firing later still emits the one
// RESTARTED event).
func TestStartJobDuringPendingRestartClearsBlock(t *testing.T) {
	svc, events, _ := newTestService(t, true)
	shim := NewShim(svc)

	shim.NotifyJobStopped("t")
	<-events.sent // first flap: RESTARTED

	shim.NotifyJobStopped("t") // second flap: throttled, ticker registered

	err := shim.Start("t")
	require.NoError(t, err)

	tk := svc.ticker.(*fakeTicker)
	select {
	case key := <-tk.unregistered:
		assert.Equal(t, "t", key)
	case <-time.After(time.Second):
		t.Fatal("manual start during pending restart must unregister the ticker entry")
	}

	st := svc.state["t"]
	assert.False(t, st.restartBlocked)
	assert.True(t, st.hasPendingRestart())
}
