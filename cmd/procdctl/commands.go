package main

import (
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/edirooss/procd/internal/config"
	"github.com/edirooss/procd/internal/daemonize"
	"github.com/edirooss/procd/internal/wire"
	"github.com/edirooss/procd/pkg/procdclient"
)

func newDaemonCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "daemon <config>",
		Short: "Validate a procd config file (the supervisor itself runs as cmd/procd)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			// The daemon itself lives in cmd/procd; procdctl only validates
			// the config file here so operators can check it without
			// starting anything.
			_, err := config.Load(args[0])
			if err != nil {
				return exitStatus{code: exitFailure, err: err}
			}
			cmd.Println("config OK; run cmd/procd to actually start the supervisor")
			return nil
		},
	}
}

func newStartCmd(addr *string) *cobra.Command {
	return &cobra.Command{
		Use:   "start <job>",
		Short: "Start a job",
		Long: "Start a job.\n\n" +
			"A job stopped with `stop` is blocked from automatic restarts until it is\n" +
			"started again with this command; no timer lifts that block.",
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c := procdclient.New(*addr)
			if err := c.Start(args[0]); err != nil {
				return mapClientError(err)
			}
			return nil
		},
	}
}

func newStopCmd(addr *string) *cobra.Command {
	return &cobra.Command{
		Use:   "stop <job>",
		Short: "Stop a job",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c := procdclient.New(*addr)
			if err := c.Stop(args[0]); err != nil {
				return mapClientError(err)
			}
			return nil
		},
	}
}

func newStatusCmd(addr *string) *cobra.Command {
	return &cobra.Command{
		Use:   "status <job>",
		Short: "Print whether a job is running",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c := procdclient.New(*addr)
			st, err := c.Status(args[0])
			if err != nil {
				return mapClientError(err)
			}
			cmd.Printf("%s: running=%t exit_code=%d start_count=%d\n",
				st.Job, st.IsRunning, st.ExitCode, st.StartCount)
			if !st.IsRunning {
				return exitStatus{code: exitFailure}
			}
			return nil
		},
	}
}

func newPidCmd(addr *string) *cobra.Command {
	return &cobra.Command{
		Use:   "pid <job>",
		Short: "Print whether a job's process is currently live",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c := procdclient.New(*addr)
			st, err := c.Status(args[0])
			if err != nil {
				return mapClientError(err)
			}
			if !st.IsRunning {
				return exitStatus{code: exitFailure}
			}
			cmd.Println(st.Job)
			return nil
		},
	}
}

func newListJobsCmd(addr *string) *cobra.Command {
	return &cobra.Command{
		Use:   "list-jobs",
		Short: "List every job and whether it's running",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			c := procdclient.New(*addr)
			list, err := c.JobList()
			if err != nil {
				return mapClientError(err)
			}
			for name, running := range list.AllJobs {
				cmd.Printf("%s: running=%t\n", name, running)
			}
			return nil
		},
	}
}

func newTerminateCmd(addr *string) *cobra.Command {
	return &cobra.Command{
		Use:   "terminate",
		Short: "Ask the supervisor to shut down",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			c := procdclient.New(*addr)
			if err := c.Quit(); err != nil {
				return mapClientError(err)
			}
			return nil
		},
	}
}

func newListenCmd(eventAddr *string) *cobra.Command {
	var count int
	c := &cobra.Command{
		Use:   "listen",
		Short: "Print the next N events from the event endpoint",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			stream, err := procdclient.Listen(*eventAddr)
			if err != nil {
				return exitStatus{code: exitFailure, err: err}
			}
			defer stream.Close()

			for i := 0; count <= 0 || i < count; i++ {
				ev, err := stream.Next()
				if err != nil {
					return exitStatus{code: exitFailure, err: err}
				}
				cmd.Printf("%s %s\n", ev.Event, ev.Job)
			}
			return nil
		},
	}
	c.Flags().IntVarP(&count, "count", "n", 1, "number of events to print (0 for unbounded)")
	return c
}

func newWaitCmd(eventAddr *string) *cobra.Command {
	var timeout time.Duration
	c := &cobra.Command{
		Use:   "wait <job>",
		Short: "Block until the named job's next STOPPED event",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			job := args[0]
			stream, err := procdclient.Listen(*eventAddr)
			if err != nil {
				return exitStatus{code: exitFailure, err: err}
			}
			defer stream.Close()

			deadline := time.Now().Add(timeout)
			if timeout > 0 {
				// Closing the stream unblocks a Next that is still waiting.
				timer := time.AfterFunc(timeout, func() { _ = stream.Close() })
				defer timer.Stop()
			}
			for {
				ev, err := stream.Next()
				if err != nil {
					if timeout > 0 && !time.Now().Before(deadline) {
						return exitStatus{code: exitFailure, err: fmt.Errorf("timed out waiting for %s to stop", job)}
					}
					return exitStatus{code: exitFailure, err: err}
				}
				if ev.Job == job && ev.Event == wire.EventStopped {
					return nil
				}
			}
		},
	}
	c.Flags().DurationVar(&timeout, "timeout", 0, "give up after this long (0 means wait forever)")
	return c
}

func newLogsCmd(addr *string) *cobra.Command {
	var n int
	c := &cobra.Command{
		Use:   "logs <job>",
		Short: "Print a job's most recent output lines",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client := procdclient.New(*addr)
			lines, err := client.Logs(args[0], n)
			if err != nil {
				return mapClientError(err)
			}
			for _, line := range lines.Lines {
				cmd.Println(line)
			}
			return nil
		},
	}
	c.Flags().IntVarP(&n, "lines", "n", 0, "number of lines to print (0 for the server's default capacity)")
	return c
}

func newInstallUnitCmd() *cobra.Command {
	var execStart, restartSec string
	var enable bool
	c := &cobra.Command{
		Use:   "install-unit <service-name>",
		Short: "Generate and install a systemd unit for running procd as a service",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			installer, err := daemonize.NewInstaller()
			if err != nil {
				return exitStatus{code: exitFailure, err: err}
			}
			cfg := daemonize.UnitConfig{
				ServiceName: args[0],
				ExecStart:   execStart,
				RestartSec:  restartSec,
			}
			if err := installer.Install(cfg); err != nil {
				return exitStatus{code: exitFailure, err: err}
			}
			if enable {
				if err := installer.Enable(args[0]); err != nil {
					return exitStatus{code: exitFailure, err: err}
				}
			}
			return nil
		},
	}
	c.Flags().StringVar(&execStart, "exec-start", "/usr/local/bin/procd /etc/procd/procd.json", "ExecStart line for the generated unit")
	c.Flags().StringVar(&restartSec, "restart-sec", "1", "RestartSec value for the generated unit")
	c.Flags().BoolVar(&enable, "enable", false, "also enable and start the service immediately")
	return c
}

func mapClientError(err error) error {
	var fe procdclient.FailureError
	if errors.As(err, &fe) {
		if fe.Reason == wire.ReasonNoSuchJob {
			return exitStatus{code: exitNoSuchJob, err: err}
		}
		return exitStatus{code: exitFailure, err: err}
	}
	return exitStatus{code: exitFailure, err: err}
}
