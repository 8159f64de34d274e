package producer

import (
	"bufio"
	"context"
	"fmt"
	"net/http"
	"os"
	"runtime"
	"runtime/debug"
	"strings"

	"github.com/sirupsen/logrus"

	"pulsegate/pkg/config"
	"pulsegate/pkg/engine"
	"pulsegate/pkg/model"
)

const (
	maxSourceFileSize = 1 << 20
	contextLinesAbove = 5
	contextLineCount  = 11
	truncatedSuffix   = "... (truncated)"
)

var sensitiveHeaders = []string{"cookie", "authorization", "x-csrf-token", "x-xsrf-token"}

var errorFields = []string{
	"for", "message", "file", "line", "type", "environment", "trace",
	"headers", "context", "highlight_line", "user", "time", "url", "method",
	"go_version", "is_console", "console_command", "console_arguments",
	"console_options",
}

// User identifies the authenticated user attached to a report.
type User struct {
	ID    any    `json:"id"`
	Email string `json:"email,omitempty"`
}

type reportOptions struct {
	user    *User
	console []string
	options map[string]any
	skip    int
}

// ReportOption adds optional detail to an error report.
type ReportOption func(*reportOptions)

func WithUser(u User) ReportOption {
	return func(o *reportOptions) { o.user = &u }
}

// WithConsole marks the report as raised by a command line invocation.
func WithConsole(args []string, options map[string]any) ReportOption {
	return func(o *reportOptions) {
		o.console = args
		o.options = options
	}
}

// WithCallerSkip moves the recorded file and line further up the stack,
// for helpers that wrap Report.
func WithCallerSkip(n int) ReportOption {
	return func(o *reportOptions) { o.skip += n }
}

// ErrorReporter captures server-side errors.
type ErrorReporter struct {
	base
}

func NewErrorReporter(cfg *config.Config, sink engine.Sink, log logrus.FieldLogger) *ErrorReporter {
	chain := engine.NewProcessorChain(
		engine.NewRedactionProcessor("mask_headers", "headers", sensitiveHeaders, "***"),
		engine.NewTruncateProcessor("trace_length", "trace", cfg.ErrorReporting.MaxTraceLength, truncatedSuffix),
		engine.NewAllowListProcessor("allow_list", errorFields...),
	)
	return &ErrorReporter{base: newBase(cfg, model.Errors, sink, chain, log)}
}

// Report records err as seen at the caller of Report. req may be nil.
func (r *ErrorReporter) Report(ctx context.Context, err error, req *http.Request, opts ...ReportOption) {
	if err == nil || !r.Enabled() {
		return
	}
	var o reportOptions
	for _, opt := range opts {
		opt(&o)
	}

	data := map[string]any{
		"for":         "pulsegate",
		"message":     err.Error(),
		"type":        fmt.Sprintf("%T", err),
		"environment": r.cfg.Environment,
		"trace":       string(debug.Stack()),
		"time":        r.now().Format("2006-01-02 15:04:05"),
		"go_version":  runtime.Version(),
		"is_console":  o.console != nil,
	}
	if _, file, line, ok := runtime.Caller(1 + o.skip); ok {
		data["file"] = file
		data["line"] = line
		if code, highlight, ok := sourceContext(file, line); ok {
			data["context"] = code
			data["highlight_line"] = highlight
		}
	}
	if o.user != nil {
		data["user"] = map[string]any{"id": o.user.ID, "email": o.user.Email}
	}
	if req != nil && o.console == nil {
		data["headers"] = headerMap(req.Header)
		data["url"] = FullURL(req)
		data["method"] = req.Method
	}
	if o.console != nil {
		data["console_command"] = strings.Join(o.console, " ")
		data["console_arguments"] = o.console
		data["console_options"] = o.options
	}

	r.emit(ctx, data)
}

// Capture enqueues a pre-built report, still subject to masking,
// truncation and the allow-list.
func (r *ErrorReporter) Capture(ctx context.Context, data map[string]any) {
	if !r.Enabled() {
		return
	}
	r.emit(ctx, data)
}

// headerMap lower-cases header names so masking matches regardless of
// how the client spelled them.
func headerMap(h http.Header) map[string]any {
	out := make(map[string]any, len(h))
	for k, v := range h {
		out[strings.ToLower(k)] = append([]string(nil), v...)
	}
	return out
}

// sourceContext returns the eleven source lines around line, dedented,
// and the position of line within them (1-based).
func sourceContext(file string, line int) (string, int, bool) {
	info, err := os.Stat(file)
	if err != nil || info.Size() >= maxSourceFileSize || line < 1 {
		return "", 0, false
	}
	f, err := os.Open(file)
	if err != nil {
		return "", 0, false
	}
	defer f.Close()

	start := max(0, line-1-contextLinesAbove)
	var lines []string
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 64*1024), maxSourceFileSize)
	for n := 0; sc.Scan(); n++ {
		if n < start {
			continue
		}
		if len(lines) == contextLineCount {
			break
		}
		lines = append(lines, sc.Text())
	}
	if len(lines) == 0 {
		return "", 0, false
	}
	return dedent(lines), line - start, true
}

// dedent strips trailing space from every line and the smallest common
// indentation from the non-blank ones.
func dedent(lines []string) string {
	minIndent := -1
	for i, l := range lines {
		l = strings.TrimRight(l, " \t\r")
		lines[i] = l
		if strings.TrimSpace(l) == "" {
			continue
		}
		indent := len(l) - len(strings.TrimLeft(l, " \t"))
		if minIndent < 0 || indent < minIndent {
			minIndent = indent
		}
	}
	if minIndent > 0 {
		for i, l := range lines {
			if strings.TrimSpace(l) != "" {
				lines[i] = l[minIndent:]
			}
		}
	}
	return strings.Join(lines, "\n")
}
