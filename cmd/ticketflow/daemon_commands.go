package main

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"ticketflow/internal/daemonctl"
)

func newDaemonCommands(ctx *commandContext) []*cobra.Command {
	var startLogLevel string
	startCmd := &cobra.Command{
		Use:   "start",
		Short: "Start the ticketflow daemon",
		RunE: func(cmd *cobra.Command, args []string) error {
			result, err := ctx.controller(startLogLevel).Start(cmd.Context())
			if err != nil {
				return err
			}
			stdout := cmd.OutOrStdout()
			if result.Launched {
				fmt.Fprintln(stdout, "Daemon not running, launching...")
			}
			reportStart(stdout, result, "Daemon started", "Daemon already running")
			return nil
		},
	}
	startCmd.Flags().StringVar(&startLogLevel, "log-level", "", "Override the configured daemon log level")

	stopCmd := &cobra.Command{
		Use:   "stop",
		Short: "Stop the ticketflow daemon (completely terminates the process)",
		RunE: func(cmd *cobra.Command, args []string) error {
			result, err := ctx.controller("").Stop(cmd.Context())
			stdout := cmd.OutOrStdout()
			if errors.Is(err, daemonctl.ErrDaemonNotRunning) {
				fmt.Fprintln(stdout, "Daemon is not running")
				return nil
			}
			if err != nil {
				return err
			}
			if result.StopAcknowledged {
				fmt.Fprintln(stdout, "Stopping daemon loops...")
			} else {
				fmt.Fprintln(stdout, "Stop request sent")
			}
			reportStop(stdout, result)
			return nil
		},
	}

	var statusJSON bool
	statusCmd := &cobra.Command{
		Use:   "status",
		Short: "Show daemon, pipeline, and tracking status",
		RunE: func(cmd *cobra.Command, args []string) error {
			snap, err := ctx.controller("").Snapshot(cmd.Context())
			if err != nil {
				return err
			}
			if statusJSON {
				return writeJSON(cmd.OutOrStdout(), snap)
			}

			stdout := cmd.OutOrStdout()
			colorize := shouldColorize(stdout)

			printSection(stdout, "Daemon", colorize)
			for _, line := range daemonStatusLines(snap, colorize) {
				fmt.Fprintln(stdout, line)
			}
			fmt.Fprintln(stdout)

			if len(snap.Status.StageHealth) > 0 {
				printSection(stdout, "Collaborators", colorize)
				for _, line := range stageHealthLines(snap.Status.StageHealth, colorize) {
					fmt.Fprintln(stdout, line)
				}
				fmt.Fprintln(stdout)
			}
			if len(snap.Checks) > 0 {
				printSection(stdout, "Checks", colorize)
				for _, line := range offlineCheckLines(snap, colorize) {
					fmt.Fprintln(stdout, line)
				}
				fmt.Fprintln(stdout)
			}

			printSection(stdout, "Tracking", colorize)
			for _, line := range trackingLines(snap, colorize, time.Now()) {
				fmt.Fprintln(stdout, line)
			}
			fmt.Fprintln(stdout)

			printSection(stdout, "Pipeline", colorize)
			rows := buildStageRows(snap.Status.StageCounts, snap.RecentCounts)
			if len(rows) == 0 {
				fmt.Fprintln(stdout, "No items in flight or processed recently")
				return nil
			}
			recentHeader := fmt.Sprintf("Last %s", snap.CountsWindow)
			fmt.Fprint(stdout, renderTable([]string{"Stage", "In flight", recentHeader}, rows, []columnAlignment{alignLeft, alignRight, alignRight}))
			return nil
		},
	}
	statusCmd.Flags().BoolVar(&statusJSON, "json", false, "Output the status snapshot as JSON")

	var restartLogLevel string
	restartCmd := &cobra.Command{
		Use:   "restart",
		Short: "Restart the ticketflow daemon",
		RunE: func(cmd *cobra.Command, args []string) error {
			result, err := ctx.controller(restartLogLevel).Restart(cmd.Context())
			if err != nil {
				return err
			}
			stdout := cmd.OutOrStdout()
			if result.WasRunning {
				reportStop(stdout, result.Stop)
			}
			reportStart(stdout, result.Start, "Daemon restarted", "Daemon restarted")
			return nil
		},
	}
	restartCmd.Flags().StringVar(&restartLogLevel, "log-level", "", "Override the configured daemon log level")

	return []*cobra.Command{startCmd, stopCmd, restartCmd, statusCmd}
}

func reportStart(w io.Writer, result daemonctl.StartResult, started, already string) {
	switch result.State {
	case daemonctl.StartStateStarted:
		fmt.Fprintln(w, started)
	case daemonctl.StartStateAlreadyRunning:
		fmt.Fprintln(w, already)
	default:
		fmt.Fprintln(w, result.Message)
	}
}

func reportStop(w io.Writer, result daemonctl.StopResult) {
	if result.ForcedKill && result.PID > 0 {
		fmt.Fprintf(w, "Killed unresponsive daemon process (pid %d)\n", result.PID)
	}
	fmt.Fprintln(w, "Daemon stopped")
}

// controller builds a daemon controller for this invocation. Only the
// daemon executable and launch flags depend on logLevel.
func (c *commandContext) controller(logLevel string) *daemonctl.Controller {
	exe, err := os.Executable()
	if err != nil {
		exe = os.Args[0]
	}
	opts := daemonctl.LaunchOptions{
		LogLevel:   strings.TrimSpace(logLevel),
		ConfigPath: c.configPath(),
	}
	if c.socketFlag != nil {
		opts.SocketPath = strings.TrimSpace(*c.socketFlag)
	}
	return &daemonctl.Controller{
		SocketPath:   c.socketPath(),
		Config:       c.configValue(),
		Executable:   exe,
		Launch:       opts,
		StartTimeout: 10 * time.Second,
		StopGrace:    5 * time.Second,
	}
}
