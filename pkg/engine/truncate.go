package engine

import (
	"encoding/json"
	"unicode/utf8"
)

// TruncateProcessor caps a string field at limit runes and appends suffix
// when it cuts.
type TruncateProcessor struct {
	name   string
	field  string
	limit  int
	suffix string
}

func NewTruncateProcessor(name, field string, limit int, suffix string) *TruncateProcessor {
	return &TruncateProcessor{name: name, field: field, limit: limit, suffix: suffix}
}

func (t *TruncateProcessor) Name() string {
	return t.name
}

func (t *TruncateProcessor) Process(ctx *ProcessingContext, item map[string]any) (map[string]any, bool, error) {
	v, ok := stringField(item, t.field)
	if !ok || t.limit <= 0 {
		return item, false, nil
	}
	if cut, did := truncateRunes(v, t.limit); did {
		item[t.field] = cut + t.suffix
	}
	return item, false, nil
}

// truncateRunes returns the first limit runes of s and whether anything was cut.
func truncateRunes(s string, limit int) (string, bool) {
	if utf8.RuneCountInString(s) <= limit {
		return s, false
	}
	n := 0
	for i := range s {
		if n == limit {
			return s[:i], true
		}
		n++
	}
	return s, false
}

// SizeCapProcessor replaces a field whose JSON encoding exceeds maxBytes
// with a {"_truncated": note} marker.
type SizeCapProcessor struct {
	name     string
	field    string
	maxBytes int
	note     string
}

func NewSizeCapProcessor(name, field string, maxBytes int, note string) *SizeCapProcessor {
	return &SizeCapProcessor{name: name, field: field, maxBytes: maxBytes, note: note}
}

func (s *SizeCapProcessor) Name() string {
	return s.name
}

func (s *SizeCapProcessor) Process(ctx *ProcessingContext, item map[string]any) (map[string]any, bool, error) {
	v, ok := item[s.field]
	if !ok || v == nil {
		return item, false, nil
	}
	raw, err := json.Marshal(v)
	if err != nil || len(raw) > s.maxBytes {
		item[s.field] = map[string]any{"_truncated": s.note}
	}
	return item, false, nil
}
