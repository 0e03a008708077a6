package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"ticketflow/internal/ipc"
)

func newTriggerCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "trigger",
		Short: "Run a batch immediately instead of waiting for the next interval",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClient(func(client *ipc.Client) error {
				resp, err := client.Trigger()
				if err != nil {
					return err
				}
				out := cmd.OutOrStdout()
				if resp.Accepted {
					fmt.Fprintln(out, "Batch run started")
					return nil
				}
				fmt.Fprintln(out, "Batch run not started: a run is already in flight or the daemon is stopped")
				return nil
			})
		},
	}
}
