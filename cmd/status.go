package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/kilianp07/fluxplan/app"
	"github.com/kilianp07/fluxplan/config"
	"github.com/kilianp07/fluxplan/core/status"
	"github.com/kilianp07/fluxplan/core/timeseries"
	"github.com/kilianp07/fluxplan/infra/logger"
	"github.com/kilianp07/fluxplan/infra/queue"
	"github.com/kilianp07/fluxplan/infra/store"
)

var statusFlags struct {
	start string
	end   string
	res   time.Duration
}

var statusCmd = &cobra.Command{
	Use:   "status <natural-key>",
	Short: "Resolve the status of a triggered job",
	Args:  cobra.ExactArgs(1),
	RunE:  resolveStatus,
}

func init() {
	f := statusCmd.Flags()
	f.StringVar(&statusFlags.start, "start", "", "requested window start, RFC3339")
	f.StringVar(&statusFlags.end, "end", "", "requested window end, RFC3339")
	f.DurationVar(&statusFlags.res, "resolution", 0, "slot duration (defaults to the configured resolution)")
	rootCmd.AddCommand(statusCmd)
}

func resolveStatus(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load(cfgPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	win := timeseries.Window{Resolution: statusFlags.res}
	if win.Resolution == 0 {
		win.Resolution = cfg.Planner.Resolution()
	}
	if statusFlags.start != "" {
		if win.Start, err = time.Parse(time.RFC3339, statusFlags.start); err != nil {
			return fmt.Errorf("parse start: %w", err)
		}
	}
	if statusFlags.end == "" {
		win.End = win.Start.Add(cfg.Planner.DefaultDuration())
	} else if win.End, err = time.Parse(time.RFC3339, statusFlags.end); err != nil {
		return fmt.Errorf("parse end: %w", err)
	}

	q, err := queue.Open(cfg.Queue)
	if err != nil {
		return fmt.Errorf("open queue: %w", err)
	}
	defer func() { _ = q.Close() }()
	st, err := store.Open(cfg.Store, logger.New("store"))
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer func() { _ = st.Close() }()
	registry, err := app.NewRegistry(st)
	if err != nil {
		return err
	}
	resolver, err := status.NewResolver(q, st, registry)
	if err != nil {
		return err
	}

	rep, err := resolver.Status(ctx, args[0], win)
	if err != nil {
		return err
	}
	switch rep.State {
	case status.StateReady:
		fmt.Printf("ready: %d slots from %s (%s)\n",
			rep.Series.Len(), rep.Window.Start.Format(time.RFC3339), rep.Unit)
		for i := 0; i < rep.Series.Len(); i++ {
			fmt.Printf("  %s  %.3f\n", rep.Series.TimeAt(i).Format(time.RFC3339), rep.Series.At(i))
		}
	case status.StateFailed:
		if rep.Failure != nil {
			fmt.Printf("failed: %s: %s\n", rep.Failure.Kind, rep.Failure.Detail)
		} else {
			fmt.Printf("failed: %s\n", rep.Detail)
		}
	default:
		fmt.Printf("%s: %s\n", rep.State, rep.Detail)
	}
	return nil
}
