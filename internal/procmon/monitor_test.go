//go:build linux

package procmon

import (
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/edirooss/procd/internal/job"
	"github.com/edirooss/procd/internal/wire"
)

type fakeNotifier struct {
	events chan wire.Event
}

func newFakeNotifier() *fakeNotifier {
	return &fakeNotifier{events: make(chan wire.Event, 16)}
}

func (f *fakeNotifier) Notify(e wire.Event) { f.events <- e }

func testJob(t *testing.T, command string) job.Job {
	t.Helper()
	dir := t.TempDir()
	return job.Job{
		Name:       "t",
		Command:    command,
		Stdin:      "/dev/null",
		Stdout:     dir + "/stdout.log",
		Stderr:     dir + "/stderr.log",
		ExitSignal: syscall.SIGTERM,
	}
}

func newMonitor(t *testing.T, command string) (*Monitor, *fakeNotifier) {
	t.Helper()
	n := newFakeNotifier()
	m := New(zap.NewNop(), testJob(t, command), n)
	return m, n
}

func TestStartThenNaturalExit(t *testing.T) {
	m, n := newMonitor(t, "true")

	require.NoError(t, m.Start())
	assert.True(t, m.Status())

	select {
	case ev := <-n.events:
		assert.Equal(t, wire.EventStarted, ev.Event)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for STARTED")
	}

	select {
	case ev := <-n.events:
		assert.Equal(t, wire.EventStopped, ev.Event)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for STOPPED")
	}

	assert.False(t, m.Status())
	assert.Equal(t, 0, m.ExitCode())
}

func TestAlreadyRunning(t *testing.T) {
	m, _ := newMonitor(t, "sleep 1")
	require.NoError(t, m.Start())
	defer m.Kill()

	err := m.Start()
	assert.ErrorIs(t, err, ErrAlreadyRunning)
}

func TestKillNotRunning(t *testing.T) {
	m, _ := newMonitor(t, "true")
	err := m.Kill()
	assert.ErrorIs(t, err, ErrNotRunning)
}

func TestKillTerminatesGroup(t *testing.T) {
	m, n := newMonitor(t, "sleep 30")
	require.NoError(t, m.Start())
	<-n.events // STARTED

	require.NoError(t, m.Kill())

	select {
	case ev := <-n.events:
		assert.Equal(t, wire.EventStopped, ev.Event)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for STOPPED after kill")
	}
	assert.False(t, m.Status())
}
