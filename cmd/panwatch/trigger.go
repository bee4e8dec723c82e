package main

import (
	"context"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"panwatch/internal/engine"
	"panwatch/internal/scheduler"
	"panwatch/pkg/panwatch"
)

func newTriggerCmd() *cobra.Command {
	var stockID, associationID int64
	var bypass bool
	cmd := &cobra.Command{
		Use:   "trigger <agent>",
		Short: "Run an agent once and print its summary",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			if ctx == nil {
				ctx = context.Background()
			}
			a, err := newApp(ctx, configPath, dataDir)
			if err != nil {
				return err
			}
			defer a.close()
			defer func() {
				drainCtx, cancel := context.WithTimeout(context.Background(), a.settings.DrainTimeout())
				defer cancel()
				_ = a.engine.Shutdown(drainCtx)
			}()
			return runTrigger(ctx, cmd.OutOrStdout(), a.engine, args[0], stockID, associationID, bypass)
		},
	}
	cmd.Flags().Int64Var(&stockID, "stock", 0, "Run for this stock id only")
	cmd.Flags().Int64Var(&associationID, "association", 0, "Watchlist association whose overrides apply (with --stock)")
	cmd.Flags().BoolVar(&bypass, "bypass-throttle", false, "Skip the notification throttle (with --stock)")
	return cmd
}

// triggerer is the slice of the engine the trigger command drives.
type triggerer interface {
	Trigger(ctx context.Context, name string) (string, error)
	TriggerForStock(ctx context.Context, name string, stockID, associationID int64, bypass bool) (*engine.StockTriggerResult, error)
}

func runTrigger(ctx context.Context, out io.Writer, e triggerer, name string, stockID, associationID int64, bypass bool) error {
	if stockID == 0 {
		summary, err := e.Trigger(ctx, name)
		if err != nil {
			return err
		}
		fmt.Fprintln(out, summary)
		return nil
	}
	res, err := e.TriggerForStock(ctx, name, stockID, associationID, bypass)
	if err != nil {
		return err
	}
	fmt.Fprintln(out, res.Title)
	fmt.Fprintln(out, res.Content)
	fmt.Fprintf(out, "\nshould_alert=%t notified=%t\n", res.ShouldAlert, res.Notified)
	return nil
}

func newAgentsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "agents",
		Short: "List agents and their schedules",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			if ctx == nil {
				ctx = context.Background()
			}
			a, err := newApp(ctx, configPath, dataDir)
			if err != nil {
				return err
			}
			defer a.close()
			agents, err := a.core.ListAgents(ctx)
			if err != nil {
				return err
			}
			if err := a.engine.Reload(ctx); err != nil {
				return err
			}
			printAgents(cmd.OutOrStdout(), agents, a.engine.Schedules())
			return nil
		},
	}
}

func printAgents(out io.Writer, agents []panwatch.AgentConfig, entries []scheduler.Entry) {
	next := make(map[string]time.Time, len(entries))
	for _, e := range entries {
		next[e.Name] = e.Next
	}
	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "NAME\tDISPLAY\tMODE\tENABLED\tSCHEDULE\tNEXT")
	for _, ag := range agents {
		nextRun := "-"
		if t, ok := next[ag.Name]; ok && !t.IsZero() {
			nextRun = t.Format("2006-01-02 15:04")
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%t\t%s\t%s\n", ag.Name, ag.DisplayName, ag.ExecutionMode, ag.Enabled, ag.Schedule, nextRun)
	}
	_ = tw.Flush()
}
