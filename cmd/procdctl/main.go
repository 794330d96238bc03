// Command procdctl is the CLI front end for procd (spec §6, §4.13):
// daemon/start/stop/status/pid/list-jobs/terminate/listen/wait, plus the
// operator conveniences logs and install-unit.
//
// Grounded in the teacher's cobra usage pattern via
// joshuarubin-teleport-job-worker/cmd/job-worker: a silent-usage root
// command whose subcommands are built in their own constructor functions.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/edirooss/procd/pkg/fmtt"
)

// Exit codes, per spec §6: 0 success/is-running, 1 not-running or transport
// failure, 2 no-such-job.
const (
	exitOK        = 0
	exitFailure   = 1
	exitNoSuchJob = 2
)

func main() {
	root := newRootCmd()
	if err := root.Execute(); err != nil {
		if debug {
			fmtt.PrintErrChainDebug(err)
		} else {
			fmt.Fprintln(os.Stderr, err)
		}
		os.Exit(exitCodeFor(err))
	}
}

var debug bool

func newRootCmd() *cobra.Command {
	var addr, eventAddr string

	root := &cobra.Command{
		Use:           "procdctl",
		Short:         "CLI front end for the procd process supervisor",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&addr, "addr", "127.0.0.1:9090", "command endpoint address")
	root.PersistentFlags().StringVar(&eventAddr, "event-addr", "127.0.0.1:9091", "event endpoint address")
	root.PersistentFlags().BoolVar(&debug, "debug", false, "on failure, dump the full error chain instead of a single line")

	root.AddCommand(
		newDaemonCmd(),
		newStartCmd(&addr),
		newStopCmd(&addr),
		newStatusCmd(&addr),
		newPidCmd(&addr),
		newListJobsCmd(&addr),
		newTerminateCmd(&addr),
		newListenCmd(&eventAddr),
		newWaitCmd(&eventAddr),
		newLogsCmd(&addr),
		newInstallUnitCmd(),
	)
	return root
}

// exitStatus lets a subcommand carry a specific process exit code through
// cobra's error return without cobra printing it as a generic error.
type exitStatus struct {
	code int
	err  error
}

func (e exitStatus) Error() string {
	if e.err != nil {
		return e.err.Error()
	}
	return fmt.Sprintf("exit status %d", e.code)
}

func exitCodeFor(err error) int {
	if es, ok := err.(exitStatus); ok {
		return es.code
	}
	return exitFailure
}
