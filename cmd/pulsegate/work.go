package main

import (
	"errors"
	"fmt"
	"slices"

	"github.com/spf13/cobra"

	"pulsegate/pkg/control"
	"pulsegate/pkg/engine"
	"pulsegate/pkg/model"
)

var (
	workType   string
	workRemote bool
	workDryRun bool

	workCmd = &cobra.Command{
		Use:   "work",
		Short: "Send pending batches now",
		Long: `Runs one dispatch job for each feature with pending items and waits for
it to finish. With --remote the job is not run here; a flush signal is
published so that every running "pulsegate serve" dispatches instead.`,
		RunE: runWork,
	}
)

func init() {
	workCmd.Flags().StringVar(&workType, "type", "", "only this feature (errors, events, logs, page_visits, javascript_errors)")
	workCmd.Flags().BoolVar(&workRemote, "remote", false, "signal running serve instances instead of sending from here")
	workCmd.Flags().BoolVar(&workDryRun, "dry-run", false, "print batches to stdout instead of sending them")
}

func runWork(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()
	out := cmd.OutOrStdout()

	rt, err := newRuntime(ctx, nil)
	if err != nil {
		return err
	}
	defer rt.Close()

	features := rt.cfg.EnabledFeatures()
	if workType != "" {
		f, err := model.ParseFeature(workType)
		if err != nil {
			return err
		}
		features = []model.Feature{f}
	}

	if workRemote {
		if rt.redis == nil {
			return errors.New("--remote needs the redis cache driver")
		}
		n, err := control.Publish(ctx, rt.redis, rt.cfg.Cache.Redis.Channel, control.Command{Action: control.ActionFlush, Type: workType})
		if err != nil {
			return err
		}
		fmt.Fprintf(out, "Flush signal delivered to %d running instance(s).\n", n)
		return nil
	}

	pending := intersect(rt.buffer.AvailableFeatures(ctx), features)
	for _, f := range pending {
		fmt.Fprintf(out, "Dispatching batch job for %s: %d items\n", f, rt.buffer.Count(ctx, f))
	}
	if len(pending) == 0 {
		fmt.Fprintln(out, "No batches to send.")
		return nil
	}

	d := engine.NewDispatcher(rt.cfg, rt.buffer, rt.pauses, rt.sender(workDryRun, false), rt.metrics, rt.log)
	err = d.DispatchAll(ctx, pending)
	fmt.Fprintf(out, "Dispatched %d batch job(s).\n", len(pending))
	if errors.Is(err, engine.ErrRetryable) {
		// Items are back in the buffer and the feature is paused.
		fmt.Fprintln(out, "Some batches failed and stay buffered. Run: pulsegate status")
		return nil
	}
	return err
}

// intersect keeps the features of available that are also wanted, in the
// order of available.
func intersect(available, wanted []model.Feature) []model.Feature {
	var out []model.Feature
	for _, f := range available {
		if slices.Contains(wanted, f) {
			out = append(out, f)
		}
	}
	return out
}
