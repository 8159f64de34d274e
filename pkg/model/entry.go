package model

import (
	"time"

	"github.com/google/uuid"
)

// BufferedItem is a single telemetry payload waiting in a feature buffer.
type BufferedItem struct {
	// ID is assigned at enqueue time. It has no meaning past the dispatch boundary.
	ID string `json:"id"`

	// Data is the payload, already reduced to the feature's allow-list.
	Data map[string]any `json:"data"`

	// EnqueuedAt is the time the item entered the buffer.
	EnqueuedAt time.Time `json:"enqueued_at"`
}

// NewBufferedItem wraps data with a fresh ID and timestamp.
func NewBufferedItem(data map[string]any, now time.Time) BufferedItem {
	return BufferedItem{
		ID:         uuid.NewString(),
		Data:       data,
		EnqueuedAt: now,
	}
}

// Payloads extracts the data maps of items, in order.
func Payloads(items []BufferedItem) []map[string]any {
	out := make([]map[string]any, len(items))
	for i, it := range items {
		out[i] = it.Data
	}
	return out
}
