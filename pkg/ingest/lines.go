package ingest

import (
	"bytes"
	"context"
	"time"

	"github.com/tidwall/gjson"

	"pulsegate/pkg/producer"
)

// maxLineBytes caps one log line on either transport.
const maxLineBytes = 1 << 20

// LogWriter receives parsed log lines.
type LogWriter interface {
	Write(ctx context.Context, rec producer.LogRecord)
}

// ParseLine turns one line into a log record. JSON objects supply level,
// message, channel, context, extra and timestamp; anything else becomes
// an info record whose message is the trimmed line.
func ParseLine(line []byte) (producer.LogRecord, bool) {
	line = bytes.TrimSpace(line)
	if len(line) == 0 {
		return producer.LogRecord{}, false
	}
	if line[0] != '{' || !gjson.ValidBytes(line) {
		return producer.LogRecord{Level: "info", Message: string(line)}, true
	}

	doc := gjson.ParseBytes(line)
	rec := producer.LogRecord{
		Level:   doc.Get("level").String(),
		Message: doc.Get("message").String(),
		Channel: doc.Get("channel").String(),
		Context: objectOf(doc.Get("context")),
		Extra:   objectOf(doc.Get("extra")),
	}
	if rec.Level == "" {
		rec.Level = "info"
	}
	if ts := doc.Get("timestamp"); ts.Exists() {
		if t, err := time.Parse(time.RFC3339Nano, ts.String()); err == nil {
			rec.Time = t
		}
	}
	return rec, true
}

func objectOf(r gjson.Result) map[string]any {
	if !r.IsObject() {
		return nil
	}
	m, _ := r.Value().(map[string]any)
	return m
}
