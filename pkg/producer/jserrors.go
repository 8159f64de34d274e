package producer

import (
	"context"

	"github.com/sirupsen/logrus"

	"pulsegate/pkg/config"
	"pulsegate/pkg/engine"
	"pulsegate/pkg/model"
)

const (
	ignoreFilterName = "ignored_errors"
	sampleName       = "sample_rate"
	maxCrumbMessage  = 500
)

var jsErrorFields = []string{
	"message", "stack", "type", "filename", "line", "column", "user_agent",
	"url", "timestamp", "environment", "user_id", "session_id",
	"breadcrumbs", "context", "browser_info",
}

var browserInfoKeys = []string{
	"screen_width", "screen_height", "viewport_width", "viewport_height",
	"device_memory", "hardware_concurrency", "connection_type",
}

// Breadcrumb is one browser-side action leading up to an error.
type Breadcrumb struct {
	Timestamp string         `json:"timestamp" binding:"required"`
	Category  string         `json:"category" binding:"required,max=100"`
	Message   string         `json:"message" binding:"required,max=500"`
	Data      map[string]any `json:"data"`
}

// JSErrorReport is the body the browser script posts.
type JSErrorReport struct {
	Message     string         `json:"message" binding:"required,max=2000"`
	Stack       string         `json:"stack" binding:"max=10000"`
	Type        string         `json:"type" binding:"max=100"`
	Filename    string         `json:"filename" binding:"max=500"`
	Line        *int           `json:"line"`
	Column      *int           `json:"column"`
	URL         string         `json:"url" binding:"max=2000"`
	Timestamp   string         `json:"timestamp"`
	Breadcrumbs []Breadcrumb   `json:"breadcrumbs" binding:"omitempty,dive"`
	Context     map[string]any `json:"context"`
	BrowserInfo map[string]any `json:"browser_info"`
}

// JSMeta is what the server knows about the posting browser.
type JSMeta struct {
	UserAgent string
	Referer   string
	UserID    any
	SessionID string
}

// Outcome is the fate of a captured JavaScript error.
type Outcome int

const (
	Accepted Outcome = iota
	Ignored
	SampledOut
	Rejected
	Failed
)

func (o Outcome) String() string {
	switch o {
	case Accepted:
		return "accepted"
	case Ignored:
		return "ignored"
	case SampledOut:
		return "sampled"
	case Rejected:
		return "disabled"
	}
	return "failed"
}

// JSErrorCollector accepts errors reported by browsers.
type JSErrorCollector struct {
	base
	sampler *engine.SampleProcessor
}

func NewJSErrorCollector(cfg *config.Config, sink engine.Sink, log logrus.FieldLogger) *JSErrorCollector {
	sampler := engine.NewSampleProcessor(sampleName, cfg.JavaScriptErrors.SampleRate)
	chain := engine.NewProcessorChain(
		engine.NewFilterProcessor(ignoreFilterName, "message", cfg.JavaScriptErrors.IgnoredErrors),
		sampler,
		engine.NewAllowListProcessor("allow_list", jsErrorFields...),
	)
	return &JSErrorCollector{
		base:    newBase(cfg, model.JavaScriptErrors, sink, chain, log),
		sampler: sampler,
	}
}

// SetRand replaces the sampling random source.
func (j *JSErrorCollector) SetRand(fn func() float64) {
	j.sampler.WithRand(fn)
}

// Capture filters, samples and enqueues one browser error.
func (j *JSErrorCollector) Capture(ctx context.Context, rep JSErrorReport, meta JSMeta) Outcome {
	if !j.Enabled() {
		return Rejected
	}
	now := j.now().Format("2006-01-02T15:04:05Z07:00")

	errType := rep.Type
	if errType == "" {
		errType = "Error"
	}
	url := rep.URL
	if url == "" {
		url = meta.Referer
	}
	ts := rep.Timestamp
	if ts == "" {
		ts = now
	}
	info := make(map[string]any, len(browserInfoKeys))
	for _, k := range browserInfoKeys {
		info[k] = rep.BrowserInfo[k]
	}
	reportCtx := rep.Context
	if reportCtx == nil {
		reportCtx = map[string]any{}
	}

	data := map[string]any{
		"message":      rep.Message,
		"stack":        nullable(rep.Stack),
		"type":         errType,
		"filename":     nullable(rep.Filename),
		"line":         intOrNil(rep.Line),
		"column":       intOrNil(rep.Column),
		"user_agent":   nullable(meta.UserAgent),
		"url":          nullable(url),
		"timestamp":    ts,
		"environment":  j.cfg.Environment,
		"user_id":      meta.UserID,
		"session_id":   nullable(meta.SessionID),
		"breadcrumbs":  j.breadcrumbs(rep.Breadcrumbs, now),
		"context":      Sanitize(reportCtx),
		"browser_info": info,
	}

	droppedBy, ok := j.emit(ctx, data)
	switch {
	case ok:
		return Accepted
	case droppedBy == ignoreFilterName:
		return Ignored
	case droppedBy == sampleName:
		return SampledOut
	}
	return Failed
}

// breadcrumbs keeps the most recent max_breadcrumbs entries.
func (j *JSErrorCollector) breadcrumbs(in []Breadcrumb, now string) []any {
	limit := j.cfg.JavaScriptErrors.MaxBreadcrumbs
	if len(in) > limit {
		in = in[len(in)-limit:]
	}
	out := make([]any, 0, len(in))
	for _, b := range in {
		ts := b.Timestamp
		if ts == "" {
			ts = now
		}
		cat := b.Category
		if cat == "" {
			cat = "unknown"
		}
		msg, _ := truncate(b.Message, maxCrumbMessage)
		var data any = map[string]any{}
		if b.Data != nil {
			data = Sanitize(b.Data)
		}
		out = append(out, map[string]any{
			"timestamp": ts,
			"category":  cat,
			"message":   msg,
			"data":      data,
		})
	}
	return out
}

func intOrNil(p *int) any {
	if p == nil {
		return nil
	}
	return *p
}

// truncate cuts s to limit runes.
func truncate(s string, limit int) (string, bool) {
	n := 0
	for i := range s {
		if n == limit {
			return s[:i], true
		}
		n++
	}
	return s, false
}
