package engine

import (
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/tidwall/gjson"
)

// Operator is how an attribute value is compared.
type Operator string

const (
	OpEquals   Operator = "equals"
	OpContains Operator = "contains"
	OpRegex    Operator = "regex"
)

var (
	errNoTarget   = errors.New("attribute filter needs an attribute or a path")
	errBothTarget = errors.New("attribute filter takes an attribute or a path, not both")
)

// aliasPaths maps attribute names to the places each feature's payload
// keeps them, tried in order.
var aliasPaths = map[string][]string{
	"level":       {"level", "severity", "context.level"},
	"environment": {"environment", "extra.environment", "context.environment"},
	"user.id":     {"user.id", "user_id", "context.user_id", "properties.user_id"},
	"url":         {"url", "context.url", "properties.url"},
}

// nestedParents are searched for attributes without aliases, after the
// top level.
var nestedParents = []string{"context", "extra", "properties", "browser_info"}

// AttributeFilterConfig describes one drop rule. Set exactly one of
// Attribute (searched in the usual places) or Path ("a/b/c", dots in a
// segment are literal).
type AttributeFilterConfig struct {
	Name      string
	Attribute string
	Path      string
	Operator  Operator
	Value     string
}

// AttributeFilterProcessor drops items whose attribute matches a value.
// Items without the attribute, or that cannot be encoded, pass.
type AttributeFilterProcessor struct {
	name  string
	paths []string
	match func(string) bool
}

func NewAttributeFilterProcessor(cfg AttributeFilterConfig) (*AttributeFilterProcessor, error) {
	var paths []string
	switch {
	case cfg.Attribute == "" && cfg.Path == "":
		return nil, errNoTarget
	case cfg.Attribute != "" && cfg.Path != "":
		return nil, errBothTarget
	case cfg.Path != "":
		paths = []string{gjsonPath(cfg.Path)}
	default:
		paths = candidatePaths(cfg.Attribute)
	}

	want := cfg.Value
	var match func(string) bool
	switch cfg.Operator {
	case OpEquals, "":
		match = func(s string) bool { return s == want }
	case OpContains:
		match = func(s string) bool { return strings.Contains(s, want) }
	case OpRegex:
		re, err := regexp.Compile(want)
		if err != nil {
			return nil, fmt.Errorf("attribute filter %s: %w", cfg.Name, err)
		}
		match = re.MatchString
	default:
		return nil, fmt.Errorf("attribute filter %s: unknown operator %q", cfg.Name, cfg.Operator)
	}

	return &AttributeFilterProcessor{name: cfg.Name, paths: paths, match: match}, nil
}

func candidatePaths(attr string) []string {
	if aliases, ok := aliasPaths[attr]; ok {
		return aliases
	}
	escaped := strings.ReplaceAll(attr, ".", `\.`)
	paths := []string{escaped}
	for _, parent := range nestedParents {
		paths = append(paths, parent+"."+escaped)
	}
	return paths
}

func (p *AttributeFilterProcessor) Name() string {
	return p.name
}

// Process compares the first path that exists. Numbers compare by their
// JSON text, so 404 equals "404".
func (p *AttributeFilterProcessor) Process(ctx *ProcessingContext, item map[string]any) (map[string]any, bool, error) {
	raw, err := json.Marshal(item)
	if err != nil {
		return item, false, nil
	}
	for _, path := range p.paths {
		if v := gjson.GetBytes(raw, path); v.Exists() {
			return item, p.match(v.String()), nil
		}
	}
	return item, false, nil
}

// gjsonPath turns "context/labels/app.name" into `context.labels.app\.name`.
func gjsonPath(path string) string {
	segs := strings.Split(path, "/")
	for i, s := range segs {
		segs[i] = strings.ReplaceAll(s, ".", `\.`)
	}
	return strings.Join(segs, ".")
}
