package engine

import (
	"strings"
)

// RedactionProcessor masks the values of sensitive keys inside a map
// field, e.g. credentials in captured request headers. Keys match
// case-insensitively.
type RedactionProcessor struct {
	name  string
	field string
	keys  map[string]struct{}
	mask  string
}

func NewRedactionProcessor(name, field string, keys []string, mask string) *RedactionProcessor {
	set := make(map[string]struct{}, len(keys))
	for _, k := range keys {
		set[strings.ToLower(k)] = struct{}{}
	}
	return &RedactionProcessor{
		name:  name,
		field: field,
		keys:  set,
		mask:  mask,
	}
}

func (r *RedactionProcessor) Name() string {
	return r.name
}

func (r *RedactionProcessor) Process(ctx *ProcessingContext, item map[string]any) (map[string]any, bool, error) {
	switch m := item[r.field].(type) {
	case map[string]any:
		for k := range m {
			if r.sensitive(k) {
				m[k] = r.mask
			}
		}
	case map[string]string:
		for k := range m {
			if r.sensitive(k) {
				m[k] = r.mask
			}
		}
	case map[string][]string:
		for k := range m {
			if r.sensitive(k) {
				m[k] = []string{r.mask}
			}
		}
	}
	return item, false, nil
}

func (r *RedactionProcessor) sensitive(key string) bool {
	_, ok := r.keys[strings.ToLower(key)]
	return ok
}
