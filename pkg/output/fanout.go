package output

import (
	"context"
	"sync"

	"pulsegate/pkg/model"
)

// Sender is the delivery contract shared by every output.
type Sender interface {
	Send(ctx context.Context, f model.Feature, items []map[string]any) model.BatchResult
}

// FanOutOutput sends each batch to a primary sender and mirrors it to
// others in parallel. Only the primary's result is reported; mirror
// failures never affect delivery decisions.
type FanOutOutput struct {
	primary Sender
	mirrors []Sender
}

func NewFanOutOutput(primary Sender, mirrors ...Sender) *FanOutOutput {
	return &FanOutOutput{
		primary: primary,
		mirrors: mirrors,
	}
}

func (f *FanOutOutput) Send(ctx context.Context, feature model.Feature, items []map[string]any) model.BatchResult {
	var wg sync.WaitGroup
	for _, m := range f.mirrors {
		wg.Add(1)
		go func(s Sender) {
			defer wg.Done()
			_ = s.Send(ctx, feature, items)
		}(m)
	}

	res := f.primary.Send(ctx, feature, items)
	wg.Wait()
	return res
}
