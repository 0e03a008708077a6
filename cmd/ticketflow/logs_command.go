package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"ticketflow/internal/logs"
)

func newLogsCommand(ctx *commandContext) *cobra.Command {
	var lines int
	var follow bool
	var filter logs.Filter
	cmd := &cobra.Command{
		Use:   "logs",
		Short: "Show the daemon log",
		RunE: func(cmd *cobra.Command, args []string) error {
			if filter.MinLevel != "" && !logs.ValidLevel(filter.MinLevel) {
				return fmt.Errorf("unknown level %q (want debug, info, warn, or error)", filter.MinLevel)
			}
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			path := filepath.Join(cfg.LogDir(), "ticketflow.log")
			return streamLogs(cmd.Context(), cmd.OutOrStdout(), path, lines, follow, filter)
		},
	}
	cmd.Flags().IntVarP(&lines, "lines", "n", 50, "Number of trailing lines to show")
	cmd.Flags().BoolVarP(&follow, "follow", "f", false, "Keep printing new lines until interrupted")
	cmd.Flags().StringVar(&filter.MinLevel, "level", "", "Minimum level (debug, info, warn, error)")
	cmd.Flags().StringVar(&filter.Ticket, "ticket", "", "Only lines mentioning this ticket number")
	cmd.Flags().StringVar(&filter.Item, "item", "", "Only lines for this item dedup key")
	cmd.Flags().StringVar(&filter.Event, "event", "", "Only lines with this event type")
	return cmd
}

func streamLogs(ctx context.Context, out io.Writer, path string, lines int, follow bool, filter logs.Filter) error {
	if ctx == nil {
		ctx = context.Background()
	}
	opts := logs.TailOptions{Offset: -1, Limit: lines}
	for {
		result, err := logs.Tail(ctx, path, opts)
		if err != nil {
			if errors.Is(err, context.Canceled) {
				return nil
			}
			return err
		}
		for _, line := range filter.Apply(result.Lines) {
			fmt.Fprintln(out, strings.TrimRight(line, "\r"))
		}
		if !follow {
			return nil
		}
		if ctx.Err() != nil {
			return nil
		}
		opts = logs.TailOptions{Offset: result.Offset, Follow: true, Wait: 5 * time.Second}
	}
}
