package main

import (
	"fmt"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"ticketflow/internal/ipc"
	"ticketflow/internal/journal"
)

func newOutcomesCommand(ctx *commandContext) *cobra.Command {
	var limit int
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "outcomes",
		Short: "Show recently journaled item outcomes",
		RunE: func(cmd *cobra.Command, args []string) error {
			if limit <= 0 {
				return fmt.Errorf("--limit must be positive")
			}
			return ctx.withClient(func(client *ipc.Client) error {
				resp, err := client.Outcomes(limit)
				if err != nil {
					return err
				}
				if asJSON {
					return writeJSON(cmd.OutOrStdout(), resp.Outcomes)
				}
				out := cmd.OutOrStdout()
				if len(resp.Outcomes) == 0 {
					fmt.Fprintln(out, "No outcomes recorded")
					return nil
				}
				fmt.Fprint(out, renderTable(
					[]string{"When", "Stage", "Ticket", "Sender", "Subject", "Attempts", "Reason"},
					buildOutcomeRows(resp.Outcomes, time.Now()),
					[]columnAlignment{alignRight, alignLeft, alignLeft, alignLeft, alignLeft, alignRight, alignLeft},
				))
				return nil
			})
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "Maximum number of outcomes to show")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Output outcomes as JSON")
	return cmd
}

func buildOutcomeRows(outcomes []journal.Outcome, now time.Time) [][]string {
	rows := make([][]string, 0, len(outcomes))
	for _, o := range outcomes {
		ticket := o.TicketNumber
		if o.JiraKey != "" {
			ticket += " / " + o.JiraKey
		}
		rows = append(rows, []string{
			formatAge(o.RecordedAt, now),
			string(o.Stage),
			ticket,
			o.Sender,
			o.Subject,
			strconv.Itoa(o.Attempts),
			o.TerminalReason,
		})
	}
	return rows
}
