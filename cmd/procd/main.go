// Command procd is the process supervisor's daemon entrypoint: it reads a
// config file, wires every core component together, and runs them until a
// QUIT command or a termination signal brings the supervisor down in the
// order spec §5 mandates.
package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/edirooss/procd/internal/acceptor"
	"github.com/edirooss/procd/internal/config"
	"github.com/edirooss/procd/internal/eventserver"
	"github.com/edirooss/procd/internal/jobctl"
	"github.com/edirooss/procd/internal/procdlog"
	"github.com/edirooss/procd/internal/procmon"
	"github.com/edirooss/procd/internal/statusinbox"
	"github.com/edirooss/procd/internal/ticker"
)

func main() {
	if len(os.Args) != 2 {
		fmt.Fprintln(os.Stderr, "usage: procd <config-file>")
		os.Exit(1)
	}

	cfg, err := config.Load(os.Args[1])
	if err != nil {
		fmt.Fprintf(os.Stderr, "procd: %v\n", err)
		os.Exit(1)
	}

	log, err := procdlog.New(cfg.LogLevel, cfg.LogFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "procd: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	if err := run(log, cfg); err != nil {
		log.Error("procd exited with error", zap.Error(err))
		os.Exit(1)
	}
}

// run wires the five core workers and runs them to completion. It blocks
// until the supervisor shuts down, either because of a QUIT command or a
// termination signal.
func run(log *zap.Logger, cfg *config.Config) error {
	if cfg.WorkingDir != "" {
		if err := os.Chdir(cfg.WorkingDir); err != nil {
			return fmt.Errorf("working-dir: %w", err)
		}
	}

	inbox, err := statusinbox.New(log.Named("statusinbox"))
	if err != nil {
		return fmt.Errorf("status inbox: %w", err)
	}

	events, err := eventserver.New(log.Named("eventserver"), cfg.EventAddr)
	if err != nil {
		return fmt.Errorf("event server: %w", err)
	}

	tk := ticker.New(log.Named("ticker"), nil) // callback bound below, once the shim exists

	monitors := make(map[string]*procmon.Monitor, len(cfg.Catalog.Names()))
	for _, name := range cfg.Catalog.Names() {
		j, _ := cfg.Catalog.Get(name)
		notifier := procmon.ConnNotifier{Conn: inbox.Peer(), Log: log}
		monitors[name] = procmon.New(log.Named("procmon"), j, notifier)
	}

	svc := jobctl.New(log.Named("jobctl"), cfg.Catalog, monitors, events, tk, inbox)
	shim := jobctl.NewShim(svc)

	inbox.SetShim(shim)
	tk.SetCallback(shim.TimerExpire)

	accept, err := acceptor.New(log.Named("acceptor"), cfg.ControlAddr, shim)
	if err != nil {
		return fmt.Errorf("command acceptor: %w", err)
	}

	g := new(errgroup.Group)
	g.Go(func() error { inbox.Run(); return nil })
	g.Go(func() error { events.Run(); return nil })
	g.Go(func() error { tk.Run(); return nil })
	g.Go(func() error { accept.Run(); return nil })
	g.Go(func() error { svc.Run(); return nil })

	shim.Init()

	waitForShutdownSignal(log, shim, accept)

	return g.Wait()
}

// waitForShutdownSignal blocks until either a termination signal arrives or
// the acceptor itself has stopped (because a client sent QUIT), then drives
// the same shutdown path either way: shim.Terminate runs the §4.7 terminate
// state transition and blocks until the job-control worker has fully exited.
func waitForShutdownSignal(log *zap.Logger, shim *jobctl.Shim, accept *acceptor.Acceptor) {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	acceptDone := make(chan struct{})
	go func() {
		accept.WaitForExit()
		close(acceptDone)
	}()

	select {
	case sig := <-sigCh:
		log.Info("received signal, shutting down", zap.Stringer("signal", sig))
		accept.Terminate()
	case <-acceptDone:
		log.Info("QUIT received, shutting down")
	}

	shim.Terminate()
}
