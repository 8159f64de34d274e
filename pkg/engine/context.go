package engine

import (
	"context"

	"pulsegate/pkg/model"
)

// ProcessingContext holds per-item state while a payload is being shaped.
// It wraps standard context.Context.
type ProcessingContext struct {
	context.Context

	Feature model.Feature

	// DroppedBy names the processor that dropped the item, if any.
	DroppedBy string
}

// NewProcessingContext starts shaping an item of feature f.
func NewProcessingContext(ctx context.Context, f model.Feature) *ProcessingContext {
	return &ProcessingContext{Context: ctx, Feature: f}
}
