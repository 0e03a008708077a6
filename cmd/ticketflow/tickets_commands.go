package main

import (
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"ticketflow/internal/ipc"
	"ticketflow/internal/ticketsys"
	"ticketflow/internal/tracker"
)

var knownStates = []string{
	ticketsys.StateNew,
	ticketsys.StateInProgress,
	ticketsys.StateOnHold,
	ticketsys.StateResolved,
	ticketsys.StateClosed,
	ticketsys.StateCanceled,
}

func newTicketsCommand(ctx *commandContext) *cobra.Command {
	ticketsCmd := &cobra.Command{
		Use:     "tickets",
		Aliases: []string{"ticket"},
		Short:   "Inspect and manage tracked tickets",
	}
	ticketsCmd.AddCommand(newTicketsListCommand(ctx))
	ticketsCmd.AddCommand(newTicketsCheckCommand(ctx))
	ticketsCmd.AddCommand(newTicketsUntrackCommand(ctx))
	ticketsCmd.AddCommand(newTicketsExportCommand(ctx))
	ticketsCmd.AddCommand(newTicketsImportCommand(ctx))
	return ticketsCmd
}

func newTicketsListCommand(ctx *commandContext) *cobra.Command {
	var stateFlag string
	var asJSON bool
	cmd := &cobra.Command{
		Use:     "list",
		Aliases: []string{"ls"},
		Short:   "List tracked tickets",
		RunE: func(cmd *cobra.Command, args []string) error {
			state, err := resolveStateFlag(stateFlag)
			if err != nil {
				return err
			}
			return ctx.withClient(func(client *ipc.Client) error {
				resp, err := client.TicketList(state)
				if err != nil {
					return err
				}
				if asJSON {
					return writeJSON(cmd.OutOrStdout(), resp.Tickets)
				}
				out := cmd.OutOrStdout()
				if len(resp.Tickets) == 0 {
					fmt.Fprintln(out, "No tracked tickets")
					return nil
				}
				fmt.Fprint(out, renderTable(
					[]string{"Number", "Status", "Originator", "Description", "Created", "Last polled"},
					buildTicketRows(resp.Tickets, time.Now()),
					[]columnAlignment{alignLeft, alignLeft, alignLeft, alignLeft, alignRight, alignRight},
				))
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&stateFlag, "state", "", "Filter by state code or name (e.g. 6 or resolved)")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Output tickets as JSON")
	return cmd
}

func buildTicketRows(tickets []tracker.TrackedTicket, now time.Time) [][]string {
	rows := make([][]string, 0, len(tickets))
	for _, t := range tickets {
		status := ticketsys.StateName(t.LastKnownStatus)
		if t.PendingClosure() {
			status += " (notice pending)"
		}
		rows = append(rows, []string{
			t.Number(),
			status,
			t.OriginatorAddress,
			t.ShortDescription,
			formatAge(t.CreatedAt, now),
			formatAge(t.LastPolledAt, now),
		})
	}
	return rows
}

// resolveStateFlag accepts a numeric state code or a display name.
func resolveStateFlag(value string) (string, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return "", nil
	}
	for _, code := range knownStates {
		if value == code || strings.EqualFold(value, ticketsys.StateName(code)) {
			return code, nil
		}
	}
	names := make([]string, 0, len(knownStates))
	for _, code := range knownStates {
		names = append(names, fmt.Sprintf("%s (%s)", code, ticketsys.StateName(code)))
	}
	return "", fmt.Errorf("unknown state %q; expected one of %s", value, strings.Join(names, ", "))
}

func newTicketsCheckCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "check",
		Short: "Poll every tracked ticket now",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClient(func(client *ipc.Client) error {
				resp, err := client.TicketCheck()
				if err != nil {
					return err
				}
				if !resp.Requested {
					fmt.Fprintln(cmd.OutOrStdout(), "Check not requested")
					return nil
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Status check requested for %d tracked ticket(s)\n", resp.Tracked)
				return nil
			})
		},
	}
}

func newTicketsUntrackCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "untrack <number> [number...]",
		Short: "Stop tracking tickets without notifying anyone",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			numbers := make([]string, 0, len(args))
			for _, arg := range args {
				if n := strings.ToUpper(strings.TrimSpace(arg)); n != "" {
					numbers = append(numbers, n)
				}
			}
			return ctx.withClient(func(client *ipc.Client) error {
				resp, err := client.TicketUntrack(numbers)
				if err != nil {
					return err
				}
				out := cmd.OutOrStdout()
				for _, n := range resp.Removed {
					fmt.Fprintf(out, "Untracked %s\n", n)
				}
				for _, n := range resp.NotFound {
					fmt.Fprintf(out, "%s is not tracked\n", n)
				}
				if len(resp.Removed) == 0 {
					return fmt.Errorf("no tickets untracked")
				}
				return nil
			})
		},
	}
}

func newTicketsExportCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "export <path>",
		Short: "Write the tracked set to a JSON file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path, err := filepath.Abs(args[0])
			if err != nil {
				return fmt.Errorf("resolve export path: %w", err)
			}
			return ctx.withClient(func(client *ipc.Client) error {
				resp, err := client.TicketExport(path)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Exported %d ticket(s) to %s\n", resp.Exported, resp.Path)
				return nil
			})
		},
	}
}

func newTicketsImportCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "import <path>",
		Short: "Load tickets from an export file (comments and trailing commas allowed)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path, err := filepath.Abs(args[0])
			if err != nil {
				return fmt.Errorf("resolve import path: %w", err)
			}
			return ctx.withClient(func(client *ipc.Client) error {
				resp, err := client.TicketImport(path)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Imported %d ticket(s)\n", resp.Imported)
				return nil
			})
		},
	}
}
