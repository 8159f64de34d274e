package producer

import (
	"context"
	"fmt"
	"regexp"
	"runtime"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"pulsegate/pkg/config"
	"pulsegate/pkg/engine"
	"pulsegate/pkg/model"
)

const (
	maxLogMessage  = 50000
	maxLogContext  = 50 * 1024
	maxLogExtra    = 10 * 1024
	defaultChannel = "default"
	contextCapNote = "Context exceeded 50KB limit and was removed"
	extraCapNote   = "Extra data exceeded 10KB limit and was removed"
	channelFilter  = "excluded_channels"
)

var logFields = []string{"level", "message", "context", "channel", "timestamp", "extra"}

// LogRecord is one application log entry.
type LogRecord struct {
	Level   string
	Message string
	Channel string
	Context map[string]any
	Extra   map[string]any
	Time    time.Time
}

// LogForwarder ships application logs.
type LogForwarder struct {
	base
}

func NewLogForwarder(cfg *config.Config, sink engine.Sink, log logrus.FieldLogger) (*LogForwarder, error) {
	var procs []engine.Processor
	if chans := cfg.Logging.ExcludedChannels; len(chans) > 0 {
		quoted := make([]string, len(chans))
		for i, c := range chans {
			quoted[i] = regexp.QuoteMeta(c)
		}
		p, err := engine.NewAttributeFilterProcessor(engine.AttributeFilterConfig{
			Name:     channelFilter,
			Path:     "channel",
			Operator: engine.OpRegex,
			Value:    "^(" + strings.Join(quoted, "|") + ")$",
		})
		if err != nil {
			return nil, fmt.Errorf("excluded channels: %w", err)
		}
		procs = append(procs, p)
	}
	procs = append(procs,
		engine.NewTruncateProcessor("message_length", "message", maxLogMessage, truncatedSuffix),
		engine.NewSizeCapProcessor("context_size", "context", maxLogContext, contextCapNote),
		engine.NewSizeCapProcessor("extra_size", "extra", maxLogExtra, extraCapNote),
		engine.NewAllowListProcessor("allow_list", logFields...),
	)
	return &LogForwarder{base: newBase(cfg, model.Logs, sink, engine.NewProcessorChain(procs...), log)}, nil
}

// Write forwards rec unless its channel is excluded.
func (l *LogForwarder) Write(ctx context.Context, rec LogRecord) {
	if !l.Enabled() {
		return
	}
	channel := rec.Channel
	if channel == "" {
		channel = defaultChannel
	}
	ts := rec.Time
	if ts.IsZero() {
		ts = l.now()
	}

	extra := make(map[string]any, len(rec.Extra)+2)
	for k, v := range rec.Extra {
		extra[k] = v
	}
	extra["environment"] = l.cfg.Environment
	extra["go_version"] = runtime.Version()

	fields := Sanitize(rec.Context)
	if fields == nil {
		fields = map[string]any{}
	}

	l.emit(ctx, map[string]any{
		"level":     strings.ToLower(rec.Level),
		"message":   rec.Message,
		"context":   fields,
		"channel":   channel,
		"timestamp": ts.Format(time.RFC3339),
		"extra":     Sanitize(extra),
	})
}

// LogHook is a logrus hook that forwards a host application's log
// entries. The entry field "channel" selects the channel.
type LogHook struct {
	fwd     *LogForwarder
	channel string
	levels  []logrus.Level
}

// NewLogHook forwards entries at min severity or above.
func NewLogHook(fwd *LogForwarder, channel string, minLevel logrus.Level) *LogHook {
	var levels []logrus.Level
	for _, lvl := range logrus.AllLevels {
		if lvl <= minLevel {
			levels = append(levels, lvl)
		}
	}
	return &LogHook{fwd: fwd, channel: channel, levels: levels}
}

func (h *LogHook) Levels() []logrus.Level {
	return h.levels
}

func (h *LogHook) Fire(e *logrus.Entry) error {
	ctx := e.Context
	if ctx == nil {
		ctx = context.Background()
	}
	channel := h.channel
	fields := make(map[string]any, len(e.Data))
	for k, v := range e.Data {
		if k == "channel" {
			if s, ok := v.(string); ok {
				channel = s
			}
			continue
		}
		fields[k] = v
	}
	h.fwd.Write(ctx, LogRecord{
		Level:   e.Level.String(),
		Message: e.Message,
		Channel: channel,
		Context: fields,
		Time:    e.Time,
	})
	return nil
}
