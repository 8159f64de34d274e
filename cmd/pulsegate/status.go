package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"pulsegate/pkg/model"
	"pulsegate/pkg/status"
)

var (
	statusJSON bool

	statusCmd = &cobra.Command{
		Use:   "status",
		Short: "Show pause state, buffer depth and overall health",
		RunE: func(cmd *cobra.Command, _ []string) error {
			rt, err := newRuntime(cmd.Context(), nil)
			if err != nil {
				return err
			}
			defer rt.Close()

			r := status.Collect(cmd.Context(), rt.cfg, rt.buffer, rt.pauses)
			if statusJSON {
				return status.RenderJSON(cmd.OutOrStdout(), r)
			}
			return status.RenderText(cmd.OutOrStdout(), r)
		},
	}
)

var (
	clearGlobal  bool
	clearFeature string
	clearAll     bool
	clearForce   bool

	pauseClearCmd = &cobra.Command{
		Use:   "pause-clear",
		Short: "Clear pause states to resume delivery",
		Example: `  pulsegate pause-clear --global
  pulsegate pause-clear --feature=errors
  pulsegate pause-clear --all`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if !clearGlobal && clearFeature == "" && !clearAll {
				return errors.New("you must specify at least one option: --global, --feature, or --all")
			}
			rt, err := newRuntime(cmd.Context(), nil)
			if err != nil {
				return err
			}
			defer rt.Close()

			c := &pauseClearer{
				pauses: rt.pauses,
				out:    cmd.OutOrStdout(),
				in:     bufio.NewReader(cmd.InOrStdin()),
				force:  clearForce,
			}
			switch {
			case clearAll:
				return c.all(cmd.Context())
			case clearGlobal:
				return c.global(cmd.Context(), true)
			default:
				f, err := model.ParseFeature(clearFeature)
				if err != nil {
					return fmt.Errorf("%w (valid: %s)", err, featureNames())
				}
				return c.feature(cmd.Context(), f, true)
			}
		},
	}
)

func init() {
	statusCmd.Flags().BoolVar(&statusJSON, "json", false, "output JSON")

	pauseClearCmd.Flags().BoolVar(&clearGlobal, "global", false, "clear the global pause")
	pauseClearCmd.Flags().StringVar(&clearFeature, "feature", "", "clear the pause of one feature")
	pauseClearCmd.Flags().BoolVar(&clearAll, "all", false, "clear the global pause and every feature pause")
	pauseClearCmd.Flags().BoolVar(&clearForce, "force", false, "do not ask for confirmation")
}

// pauseStore is the part of engine.PauseState pause-clear needs.
type pauseStore interface {
	GlobalPause(ctx context.Context) *model.PauseRecord
	FeaturePause(ctx context.Context, f model.Feature) *model.PauseRecord
	ClearGlobalPause(ctx context.Context) error
	ClearFeaturePause(ctx context.Context, f model.Feature) error
	Now() time.Time
}

type pauseClearer struct {
	pauses pauseStore
	out    io.Writer
	in     *bufio.Reader
	force  bool
}

func (c *pauseClearer) all(ctx context.Context) error {
	fmt.Fprintln(c.out, "Clearing all pauses...")
	fmt.Fprintln(c.out)

	cleared := 0
	if c.pauses.GlobalPause(ctx) != nil {
		if err := c.global(ctx, false); err != nil {
			return err
		}
		cleared++
	} else {
		fmt.Fprintln(c.out, "  Global pause: Not set")
	}
	for _, f := range model.AllFeatures {
		if c.pauses.FeaturePause(ctx, f) == nil {
			fmt.Fprintf(c.out, "  Feature '%s': Not paused\n", f)
			continue
		}
		if err := c.feature(ctx, f, false); err != nil {
			return err
		}
		cleared++
	}

	fmt.Fprintln(c.out)
	if cleared == 0 {
		fmt.Fprintln(c.out, "No pauses were active.")
	} else {
		fmt.Fprintf(c.out, "Successfully cleared %d pause(s).\n", cleared)
	}
	return nil
}

func (c *pauseClearer) global(ctx context.Context, verbose bool) error {
	rec := c.pauses.GlobalPause(ctx)
	if rec == nil {
		if verbose {
			fmt.Fprintln(c.out, "Global pause is not set.")
		}
		return nil
	}
	if verbose {
		fmt.Fprintln(c.out, "Current global pause:")
		c.describe(rec)
		if !c.confirm("Clear global pause and resume all processing?") {
			fmt.Fprintln(c.out, "Cancelled.")
			return nil
		}
	}
	if err := c.pauses.ClearGlobalPause(ctx); err != nil {
		return fmt.Errorf("clear global pause: %w", err)
	}
	if !verbose {
		fmt.Fprintln(c.out, "  Global pause: Cleared")
		return nil
	}
	fmt.Fprintln(c.out, "✓ Global pause cleared successfully.")
	fmt.Fprintln(c.out, "  All features will resume on the next dispatch.")
	c.tips(rec.Reason)
	return nil
}

func (c *pauseClearer) feature(ctx context.Context, f model.Feature, verbose bool) error {
	rec := c.pauses.FeaturePause(ctx, f)
	if rec == nil {
		if verbose {
			fmt.Fprintf(c.out, "Feature '%s' is not paused.\n", f)
		}
		return nil
	}
	if verbose {
		fmt.Fprintf(c.out, "Current pause for '%s':\n", f)
		c.describe(rec)
		if !c.confirm(fmt.Sprintf("Clear pause for '%s' and resume processing?", f)) {
			fmt.Fprintln(c.out, "Cancelled.")
			return nil
		}
	}
	if err := c.pauses.ClearFeaturePause(ctx, f); err != nil {
		return fmt.Errorf("clear %s pause: %w", f, err)
	}
	if !verbose {
		fmt.Fprintf(c.out, "  Feature '%s': Cleared\n", f)
		return nil
	}
	fmt.Fprintf(c.out, "✓ Pause cleared for '%s'.\n", f)
	fmt.Fprintln(c.out, "  This feature will resume on the next dispatch.")
	fmt.Fprintln(c.out)
	fmt.Fprintln(c.out, "Note: If the underlying issue is not resolved, the pause may be set again.")
	c.tips(rec.Reason)
	return nil
}

func (c *pauseClearer) describe(rec *model.PauseRecord) {
	fmt.Fprintf(c.out, "  Reason: %s\n", rec.Reason)
	fmt.Fprintf(c.out, "  Paused until: %s\n", rec.PausedUntil.Format(time.RFC3339))
	remaining := "expired (will clear on next check)"
	if d := rec.Remaining(c.pauses.Now()); d > 0 {
		remaining = d.Round(time.Second).String()
	}
	fmt.Fprintf(c.out, "  Time remaining: %s\n\n", remaining)
}

func (c *pauseClearer) tips(reason model.Reason) {
	fmt.Fprintln(c.out)
	fmt.Fprintln(c.out, "Troubleshooting tips:")
	for _, t := range status.Tips(reason) {
		fmt.Fprintf(c.out, "  • %s\n", t)
	}
	fmt.Fprintln(c.out, "  • Run: pulsegate status")
}

// confirm defaults to yes on an empty answer or closed input.
func (c *pauseClearer) confirm(question string) bool {
	if c.force {
		return true
	}
	return ask(c.out, c.in, question, true)
}

// ask prints a yes/no question and reads one answer. An empty answer or
// closed input picks def.
func ask(out io.Writer, in *bufio.Reader, question string, def bool) bool {
	hint := "[y/N]"
	if def {
		hint = "[Y/n]"
	}
	fmt.Fprintf(out, "%s %s ", question, hint)
	line, err := in.ReadString('\n')
	if err != nil && line == "" {
		fmt.Fprintln(out)
		return def
	}
	switch strings.ToLower(strings.TrimSpace(line)) {
	case "":
		return def
	case "y", "yes":
		return true
	}
	return false
}

func featureNames() string {
	names := make([]string, len(model.AllFeatures))
	for i, f := range model.AllFeatures {
		names[i] = string(f)
	}
	return strings.Join(names, ", ")
}
