package engine

import (
	"strings"
)

// FilterProcessor drops items whose string field contains any of the
// block words. Matching is case-insensitive.
type FilterProcessor struct {
	name       string
	field      string
	blockWords []string // lowered once
}

func NewFilterProcessor(name, field string, blockWords []string) *FilterProcessor {
	bw := make([]string, 0, len(blockWords))
	for _, w := range blockWords {
		if w == "" {
			continue
		}
		bw = append(bw, strings.ToLower(w))
	}
	return &FilterProcessor{
		name:       name,
		field:      field,
		blockWords: bw,
	}
}

func (f *FilterProcessor) Name() string {
	return f.name
}

func (f *FilterProcessor) Process(ctx *ProcessingContext, item map[string]any) (map[string]any, bool, error) {
	v, ok := stringField(item, f.field)
	if !ok || v == "" {
		return item, false, nil
	}
	v = strings.ToLower(v)
	for _, word := range f.blockWords {
		if strings.Contains(v, word) {
			return item, true, nil // DROP
		}
	}
	return item, false, nil
}
