package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"ticketflow/internal/ipc"
)

var errUnhealthy = errors.New("daemon unhealthy")

func newHealthCommand(ctx *commandContext) *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "health",
		Short: "Report loop liveness and collaborator readiness",
		Long:  "Exits non-zero when either the batch loop or the tracker loop is not alive.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClient(func(client *ipc.Client) error {
				resp, err := client.Health()
				if err != nil {
					return err
				}
				if asJSON {
					if err := writeJSON(cmd.OutOrStdout(), resp); err != nil {
						return err
					}
				} else {
					renderHealth(cmd, resp)
				}
				if !resp.Healthy {
					return errUnhealthy
				}
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "Output health as JSON")
	return cmd
}

func renderHealth(cmd *cobra.Command, resp *ipc.HealthResponse) {
	out := cmd.OutOrStdout()
	colorize := shouldColorize(out)
	printSection(out, "Loops", colorize)
	fmt.Fprintln(out, renderStatusLine("Batch loop", statusKindFromBool(resp.BatchLoopAlive, statusError),
		"last tick "+formatTimestamp(resp.BatchLastTick), colorize))
	fmt.Fprintln(out, renderStatusLine("Tracker loop", statusKindFromBool(resp.TrackerAlive, statusError),
		"last tick "+formatTimestamp(resp.TrackerLastTick), colorize))
	if len(resp.Collaborators) == 0 {
		return
	}
	fmt.Fprintln(out)
	printSection(out, "Collaborators", colorize)
	for _, line := range stageHealthLines(resp.Collaborators, colorize) {
		fmt.Fprintln(out, line)
	}
}
