package output

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"sync"

	"pulsegate/pkg/model"
)

// ConsoleOutput prints batches instead of sending them. It reports every
// batch as fully processed.
type ConsoleOutput struct {
	mu sync.Mutex
	w  io.Writer
}

func NewConsoleOutput(w io.Writer) *ConsoleOutput {
	return &ConsoleOutput{w: w}
}

func (c *ConsoleOutput) Send(_ context.Context, f model.Feature, items []map[string]any) model.BatchResult {
	line, err := json.Marshal(map[string]any{
		"feature":        f,
		f.PayloadField(): items,
	})
	if err != nil {
		return model.BatchResult{Status: 0, Error: err.Error()}
	}

	c.mu.Lock()
	_, err = fmt.Fprintf(c.w, "%s\n", line)
	c.mu.Unlock()
	if err != nil {
		return model.BatchResult{Status: 0, Error: err.Error()}
	}

	body := fmt.Sprintf(`{"data":{"items":{"received":%d,"processed":%d}}}`, len(items), len(items))
	return model.BatchResult{Status: 200, Success: true, Body: json.RawMessage(body)}
}
