package engine

// AllowListProcessor reduces an item to the listed top-level fields.
// It returns a new map; the input is not modified.
type AllowListProcessor struct {
	name   string
	fields []string
}

func NewAllowListProcessor(name string, fields ...string) *AllowListProcessor {
	return &AllowListProcessor{name: name, fields: fields}
}

func (a *AllowListProcessor) Name() string {
	return a.name
}

func (a *AllowListProcessor) Process(ctx *ProcessingContext, item map[string]any) (map[string]any, bool, error) {
	out := make(map[string]any, len(a.fields))
	for _, f := range a.fields {
		if v, ok := item[f]; ok {
			out[f] = v
		}
	}
	return out, false, nil
}

// Fields lists the allowed field names.
func (a *AllowListProcessor) Fields() []string {
	return a.fields
}
