package ticker

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestFiresInOrder(t *testing.T) {
	var mu sync.Mutex
	var fired []string

	tk := New(zap.NewNop(), func(key string) {
		mu.Lock()
		fired = append(fired, key)
		mu.Unlock()
	})
	go tk.Run()
	defer func() {
		tk.Terminate()
		tk.WaitForExit()
	}()

	now := time.Now()
	tk.Register("b", now.Add(40*time.Millisecond))
	tk.Register("a", now.Add(10*time.Millisecond))

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(fired) == 2
	}, time.Second, 5*time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{"a", "b"}, fired)
}

func TestUnregisterCancels(t *testing.T) {
	fired := make(chan string, 1)

	tk := New(zap.NewNop(), func(key string) { fired <- key })
	go tk.Run()
	defer func() {
		tk.Terminate()
		tk.WaitForExit()
	}()

	tk.Register("x", time.Now().Add(20*time.Millisecond))
	tk.Unregister("x")

	select {
	case key := <-fired:
		t.Fatalf("unexpected fire for %q after unregister", key)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestReplaceResets(t *testing.T) {
	fired := make(chan string, 4)

	tk := New(zap.NewNop(), func(key string) { fired <- key })
	go tk.Run()
	defer func() {
		tk.Terminate()
		tk.WaitForExit()
	}()

	tk.Register("x", time.Now().Add(10*time.Millisecond))
	tk.Register("x", time.Now().Add(80*time.Millisecond))

	select {
	case <-fired:
		t.Fatal("fired on stale deadline")
	case <-time.After(40 * time.Millisecond):
	}

	select {
	case key := <-fired:
		assert.Equal(t, "x", key)
	case <-time.After(time.Second):
		t.Fatal("never fired on replaced deadline")
	}
}

func TestTerminateStopsWorker(t *testing.T) {
	tk := New(zap.NewNop(), func(string) {})
	go tk.Run()

	tk.Terminate()

	done := make(chan struct{})
	go func() {
		tk.WaitForExit()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("worker did not exit after Terminate")
	}
}
