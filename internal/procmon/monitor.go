//go:build linux

// Package procmon implements the child-process monitor described in spec
// §4.2: one instance per job, owning that job's exit-signal and I/O
// configuration, forking it on Start and reaping it on a detached waiter
// goroutine.
//
// Grounded in the teacher's processmgr.process: race-free pipe/file setup,
// Setpgid + Pdeathsig for group signalling and orphan reclamation, and a
// Start/Kill lifecycle serialized by a mutex around an atomic pid cell.
package procmon

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"sync"
	"sync/atomic"
	"syscall"

	"go.uber.org/zap"

	"github.com/edirooss/procd/internal/job"
	"github.com/edirooss/procd/internal/wire"
)

var (
	// ErrAlreadyRunning is returned by Start when the job already has a live
	// process.
	ErrAlreadyRunning = errors.New("procmon: already running")

	// ErrNotRunning is returned by Kill when the job has no live process.
	ErrNotRunning = errors.New("procmon: not running")
)

// Notifier delivers a monitor's lifecycle events to the status inbox. The
// real implementation is a UDP peer handle bound to the inbox's ephemeral
// port (see internal/statusinbox); tests may substitute an in-memory fake.
type Notifier interface {
	Notify(wire.Event)
}

// ConnNotifier adapts a wire.Conn (the status inbox's UDP peer handle) into
// a Notifier, so a monitor's lifecycle events travel over the same framed
// protocol as every other wire boundary in the supervisor instead of a
// bespoke in-process callback.
type ConnNotifier struct {
	Conn wire.Conn
	Log  *zap.Logger
}

func (n ConnNotifier) Notify(ev wire.Event) {
	if err := n.Conn.Send(ev); err != nil && n.Log != nil {
		n.Log.Warn("status inbox notify failed", zap.Error(err))
	}
}

// Monitor owns the single OS process, if any, for one job. It never talks
// to the job-control service directly — only to its Notifier.
type Monitor struct {
	log      *zap.Logger
	job      job.Job
	notifier Notifier

	pid        atomic.Int64 // 0 means no live process
	startCount atomic.Int64 // successful launches since the supervisor booted

	mu      sync.Mutex // serializes Start/Kill against each other
	lastErr error

	logs logBuffer
}

// New constructs a Monitor for job j. The monitor is idle until Start is
// called.
func New(log *zap.Logger, j job.Job, notifier Notifier) *Monitor {
	return &Monitor{
		log:      log.With(zap.String("job", j.Name)),
		job:      j,
		notifier: notifier,
	}
}

// Start launches the job's process. It must only be called when no process
// is live for this job; a concurrent or repeated Start while live fails with
// ErrAlreadyRunning.
//
// The child is placed in its own process group (so the whole group can be
// signalled by Kill) and is given Pdeathsig: SIGKILL so it is reclaimed by
// the kernel even if this supervisor dies without running its own shutdown
// sequence.
func (m *Monitor) Start() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.pid.Load() != 0 {
		return ErrAlreadyRunning
	}

	stdin, stdoutFile, stderrFile, err := openStdio(m.job)
	if err != nil {
		return fmt.Errorf("procmon: open stdio: %w", err)
	}

	cmd := exec.Command("/bin/sh", "-c", m.job.Command)
	cmd.Stdin = stdin
	cmd.Env = overlayEnv(m.job.Env)
	cmd.Dir = m.job.WorkingDir
	cmd.SysProcAttr = &syscall.SysProcAttr{
		Setpgid:   true,
		Pdeathsig: syscall.SIGKILL,
	}

	stdoutPipe, err := cmd.StdoutPipe()
	if err != nil {
		_ = stdin.Close()
		_ = stdoutFile.Close()
		_ = stderrFile.Close()
		return fmt.Errorf("procmon: stdout pipe: %w", err)
	}
	stderrPipe, err := cmd.StderrPipe()
	if err != nil {
		_ = stdin.Close()
		_ = stdoutFile.Close()
		_ = stderrFile.Close()
		return fmt.Errorf("procmon: stderr pipe: %w", err)
	}

	if err := cmd.Start(); err != nil {
		_ = stdin.Close()
		_ = stdoutFile.Close()
		_ = stderrFile.Close()
		return fmt.Errorf("procmon: start: %w", err)
	}

	// The parent's copy of the child's stdin fd is no longer needed once
	// Start has dup2'd it into the child.
	_ = stdin.Close()

	pid := cmd.Process.Pid
	m.pid.Store(int64(pid))
	m.startCount.Add(1)
	m.log.Info("process started", zap.Int("pid", pid))

	drained := make(chan struct{}, 2)
	go m.drain(stdoutPipe, stdoutFile, drained)
	go m.drain(stderrPipe, stderrFile, drained)

	m.notifier.Notify(wire.Event{Job: m.job.Name, Event: wire.EventStarted})

	go m.wait(cmd, pid, drained)

	return nil
}

// drain copies one of the child's output streams verbatim into its
// configured destination file while also splitting it into lines for the
// in-memory tail buffer. Grounded in the teacher's process.handleStdout: a
// bufio.Scanner drives the reads, and a TeeReader mirrors exactly the bytes
// the scanner consumes into the destination file so file fidelity is
// unaffected by line splitting. done is signalled once the pipe is fully
// drained, so wait can hold off on cmd.Wait() until both streams — which
// Wait() closes the instant it reaps the child — have been read to EOF.
func (m *Monitor) drain(pipe io.ReadCloser, dest *os.File, done chan<- struct{}) {
	defer dest.Close()
	defer func() { done <- struct{}{} }()

	sc := bufio.NewScanner(io.TeeReader(pipe, dest))
	sc.Buffer(make([]byte, 64*1024), 1024*1024)

	for sc.Scan() {
		m.logs.Append(sc.Text())
	}
	if err := sc.Err(); err != nil {
		m.log.Warn("output drain failed", zap.Error(err))
	}
}

// Logs returns up to n of the job's most recent output lines, newest first.
func (m *Monitor) Logs(n int) []string {
	return m.logs.Lines(n)
}

// wait waits for both stdout/stderr drain goroutines to finish, per
// exec.Cmd's documented contract that it is incorrect to call Wait before
// all reads from the pipes have completed, then reaps the child and
// notifies the status inbox. It runs detached from Start/Kill, grounded in
// the teacher's process.supervise join-before-Wait pattern.
func (m *Monitor) wait(cmd *exec.Cmd, pid int, drained <-chan struct{}) {
	<-drained
	<-drained

	err := cmd.Wait()

	m.mu.Lock()
	m.lastErr = err
	m.pid.Store(0)
	m.mu.Unlock()

	if err != nil {
		m.log.Info("process exited", zap.Int("pid", pid), zap.Error(err))
	} else {
		m.log.Info("process exited cleanly", zap.Int("pid", pid))
	}

	m.notifier.Notify(wire.Event{Job: m.job.Name, Event: wire.EventStopped})
}

// Kill signals the job's process group with its configured exit signal. If
// the process group can no longer be found (a race with natural exit), it
// falls back to signalling the pid directly; if that also fails, the local
// pid record is cleared and the job is treated as stopped. Calling Kill
// while not live fails with ErrNotRunning.
func (m *Monitor) Kill() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	pid := int(m.pid.Load())
	if pid == 0 {
		return ErrNotRunning
	}

	sig := m.job.ExitSignal
	if err := syscall.Kill(-pid, sig); err != nil {
		m.log.Warn("group signal failed, falling back to pid", zap.Int("pid", pid), zap.Error(err))
		if err := syscall.Kill(pid, sig); err != nil {
			m.log.Warn("pid signal also failed; treating as stopped", zap.Int("pid", pid), zap.Error(err))
			m.pid.Store(0)
		}
	}

	return nil
}

// Status reports whether a live process currently exists for this job. Safe
// to call concurrently with Start/Kill/the waiter; backed by an atomic word.
func (m *Monitor) Status() bool {
	return m.pid.Load() != 0
}

// Pid returns the current OS pid, or 0 if none is live.
func (m *Monitor) Pid() int {
	return int(m.pid.Load())
}

// StartCount returns the number of times this job has been successfully
// launched since the supervisor booted.
func (m *Monitor) StartCount() int {
	return int(m.startCount.Load())
}

// ExitCode returns the last observed exit code, or -1 if the process is
// still running, has never run, or was terminated by a signal.
func (m *Monitor) ExitCode() int {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.pid.Load() != 0 || m.startCount.Load() == 0 {
		return -1
	}
	if m.lastErr == nil {
		return 0
	}
	var exitErr *exec.ExitError
	if errors.As(m.lastErr, &exitErr) {
		if exitErr.ProcessState != nil {
			if status, ok := exitErr.ProcessState.Sys().(syscall.WaitStatus); ok && status.Signaled() {
				return -1
			}
		}
		return exitErr.ExitCode()
	}
	return -1
}

// openStdio opens the job's configured stdin (read), stdout and stderr
// (append, creating if absent) files.
func openStdio(j job.Job) (stdin, stdout, stderr *os.File, err error) {
	stdin, err = os.Open(j.Stdin)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("stdin %q: %w", j.Stdin, err)
	}

	stdout, err = os.OpenFile(j.Stdout, os.O_WRONLY|os.O_CREATE|os.O_APPEND, 0o644)
	if err != nil {
		_ = stdin.Close()
		return nil, nil, nil, fmt.Errorf("stdout %q: %w", j.Stdout, err)
	}

	stderr, err = os.OpenFile(j.Stderr, os.O_WRONLY|os.O_CREATE|os.O_APPEND, 0o644)
	if err != nil {
		_ = stdin.Close()
		_ = stdout.Close()
		return nil, nil, nil, fmt.Errorf("stderr %q: %w", j.Stderr, err)
	}

	return stdin, stdout, stderr, nil
}

// overlayEnv returns the supervisor's environment with the job's env map
// overlaid on top (later entries win on key collision).
func overlayEnv(overlay map[string]string) []string {
	base := os.Environ()
	if len(overlay) == 0 {
		return base
	}

	seen := make(map[string]bool, len(overlay))
	out := make([]string, 0, len(base)+len(overlay))

	for k, v := range overlay {
		out = append(out, k+"="+v)
		seen[k] = true
	}

	for _, kv := range base {
		k, _, ok := splitEnv(kv)
		if ok && seen[k] {
			continue
		}
		out = append(out, kv)
	}

	return out
}

func splitEnv(kv string) (key, val string, ok bool) {
	for i := 0; i < len(kv); i++ {
		if kv[i] == '=' {
			return kv[:i], kv[i+1:], true
		}
	}
	return "", "", false
}
