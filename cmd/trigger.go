package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/kilianp07/fluxplan/config"
	"github.com/kilianp07/fluxplan/core/forecast"
	"github.com/kilianp07/fluxplan/core/job"
	"github.com/kilianp07/fluxplan/core/worker"
	"github.com/kilianp07/fluxplan/infra/queue"
)

var triggerFlags struct {
	device    string
	sensor    string
	key       string
	start     string
	end       string
	res       time.Duration
	belief    string
	model     string
	fallback  string
	flexModel string
	horizon   time.Duration
}

var triggerCmd = &cobra.Command{
	Use:   "trigger",
	Short: "Enqueue a scheduling or forecasting job",
	RunE:  triggerJob,
}

func init() {
	f := triggerCmd.Flags()
	f.StringVar(&triggerFlags.device, "device", "", "device identifier for scheduling jobs")
	f.StringVar(&triggerFlags.sensor, "sensor", "", "sensor identifier for forecasting jobs")
	f.StringVar(&triggerFlags.key, "key", "", "natural key for later status polls (defaults to the job id)")
	f.StringVar(&triggerFlags.start, "start", "", "window start, RFC3339")
	f.StringVar(&triggerFlags.end, "end", "", "window end, RFC3339 (defaults to start plus the configured duration)")
	f.DurationVar(&triggerFlags.res, "resolution", 0, "slot duration (defaults to the configured resolution)")
	f.StringVar(&triggerFlags.belief, "belief", "", "belief time, RFC3339 (defaults to now)")
	f.StringVar(&triggerFlags.model, "model", worker.PlannerModelID, "model identifier")
	f.StringVar(&triggerFlags.fallback, "fallback", "", "fallback model identifier")
	f.StringVar(&triggerFlags.flexModel, "flex-model", "", "path to the flex-model JSON payload")
	f.DurationVar(&triggerFlags.horizon, "horizon", 0, "forecast horizon for forecasting models")
	rootCmd.AddCommand(triggerCmd)
}

func triggerJob(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load(cfgPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	req := job.TriggerRequest{
		NaturalKey:      triggerFlags.key,
		DeviceID:        triggerFlags.device,
		Sensor:          triggerFlags.sensor,
		ModelID:         triggerFlags.model,
		FallbackModelID: defaultFallback(triggerFlags.model, triggerFlags.fallback),
		Horizon:         triggerFlags.horizon,
	}
	req.Resolution = triggerFlags.res
	if req.Resolution == 0 {
		req.Resolution = cfg.Planner.Resolution()
	}
	if triggerFlags.start == "" {
		return fmt.Errorf("--start is required")
	}
	req.Start, err = time.Parse(time.RFC3339, triggerFlags.start)
	if err != nil {
		return fmt.Errorf("parse start: %w", err)
	}
	if triggerFlags.end == "" {
		req.End = req.Start.Add(cfg.Planner.DefaultDuration())
	} else if req.End, err = time.Parse(time.RFC3339, triggerFlags.end); err != nil {
		return fmt.Errorf("parse end: %w", err)
	}
	if triggerFlags.belief != "" {
		if req.BeliefTime, err = time.Parse(time.RFC3339, triggerFlags.belief); err != nil {
			return fmt.Errorf("parse belief time: %w", err)
		}
	}
	if triggerFlags.flexModel != "" {
		payload, err := os.ReadFile(triggerFlags.flexModel)
		if err != nil {
			return fmt.Errorf("read flex-model: %w", err)
		}
		req.Constraints = payload
	}

	q, err := queue.Open(cfg.Queue)
	if err != nil {
		return fmt.Errorf("open queue: %w", err)
	}
	defer func() { _ = q.Close() }()

	rec, err := job.Trigger(ctx, q, nil, req)
	if err != nil {
		return err
	}
	fmt.Printf("job %s enqueued (key %s, model %s)\n", rec.ID, rec.NaturalKey, rec.Meta.ModelID)
	return nil
}

// defaultFallback fills in the standard chain when the caller names a model
// with a well-known fallback and gives none explicitly.
func defaultFallback(model, explicit string) string {
	if explicit != "" {
		return explicit
	}
	if model == forecast.OLSModelID {
		return forecast.NaiveModelID
	}
	return ""
}
