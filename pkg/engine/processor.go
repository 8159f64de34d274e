package engine

// Processor defines the interface for any component that transforms or filters payloads.
type Processor interface {
	// Process applies logic to the item.
	// It returns the (potentially modified) item, a bool indicating if the item should be DROPPED, and any error.
	// If drop is true, the chain stops processing this item.
	// Implementations may modify item in place; producers hand over maps they own.
	Process(ctx *ProcessingContext, item map[string]any) (map[string]any, bool, error)

	// Name returns the identifier of the processor (for metrics/logging).
	Name() string
}

// stringField returns item[key] when it holds a string.
func stringField(item map[string]any, key string) (string, bool) {
	s, ok := item[key].(string)
	return s, ok
}
