package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"pulsegate/pkg/model"
)

var (
	bufferClearFeature string
	bufferClearAll     bool
	bufferClearForce   bool

	bufferClearCmd = &cobra.Command{
		Use:   "buffer-clear",
		Short: "Discard buffered items that have not been sent",
		Example: `  pulsegate buffer-clear --feature=logs
  pulsegate buffer-clear --all --force`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if bufferClearFeature == "" && !bufferClearAll {
				return errors.New("you must specify --feature or --all")
			}
			rt, err := newRuntime(cmd.Context(), nil)
			if err != nil {
				return err
			}
			defer rt.Close()

			features := rt.buffer.AvailableFeatures(cmd.Context())
			if !bufferClearAll {
				f, err := model.ParseFeature(bufferClearFeature)
				if err != nil {
					return fmt.Errorf("%w (valid: %s)", err, featureNames())
				}
				features = intersect(features, []model.Feature{f})
			}
			b := &bufferClearer{
				buffer: rt.buffer,
				out:    cmd.OutOrStdout(),
				in:     bufio.NewReader(cmd.InOrStdin()),
				force:  bufferClearForce,
			}
			return b.clear(cmd.Context(), features)
		},
	}
)

func init() {
	bufferClearCmd.Flags().StringVar(&bufferClearFeature, "feature", "", "clear the buffer of one feature")
	bufferClearCmd.Flags().BoolVar(&bufferClearAll, "all", false, "clear every feature buffer")
	bufferClearCmd.Flags().BoolVar(&bufferClearForce, "force", false, "do not ask for confirmation")
}

// bufferStore is the part of engine.BufferStore buffer-clear needs.
type bufferStore interface {
	Count(ctx context.Context, f model.Feature) int
	Clear(ctx context.Context, f model.Feature) error
}

type bufferClearer struct {
	buffer bufferStore
	out    io.Writer
	in     *bufio.Reader
	force  bool
}

// clear discards the buffers of features. Unlike pause-clear the prompt
// defaults to no, since the items cannot be recovered.
func (b *bufferClearer) clear(ctx context.Context, features []model.Feature) error {
	if len(features) == 0 {
		fmt.Fprintln(b.out, "No buffered items.")
		return nil
	}

	total := 0
	for _, f := range features {
		n := b.buffer.Count(ctx, f)
		total += n
		fmt.Fprintf(b.out, "  %s: %d items\n", f, n)
	}
	if !b.force && !ask(b.out, b.in, fmt.Sprintf("Discard %d buffered item(s)?", total), false) {
		fmt.Fprintln(b.out, "Cancelled.")
		return nil
	}

	for _, f := range features {
		if err := b.buffer.Clear(ctx, f); err != nil {
			return fmt.Errorf("clear %s buffer: %w", f, err)
		}
	}
	fmt.Fprintf(b.out, "Discarded %d item(s) from %d buffer(s).\n", total, len(features))
	return nil
}
