package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http/httptest"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"pulsegate/pkg/cache"
	"pulsegate/pkg/config"
	"pulsegate/pkg/engine"
	"pulsegate/pkg/model"
	"pulsegate/pkg/producer"
)

var (
	testFeature  string
	testAll      bool
	testDispatch bool
	testDryRun   bool

	testCmd = &cobra.Command{
		Use:   "test",
		Short: "Check the configuration and push sample items through the producers",
		Long: `Without flags, test checks the configuration and lists each feature.
With --feature or --all it builds the producers, enqueues sample items
into the buffer and reports which features accepted them. --dispatch
then sends the buffers right away.`,
		Example: `  pulsegate test
  pulsegate test --feature=errors,logs
  pulsegate test --all --dispatch`,
		RunE: runTest,
	}
)

func init() {
	testCmd.Flags().StringVar(&testFeature, "feature", "", `comma-separated features to test, or "all"`)
	testCmd.Flags().BoolVar(&testAll, "all", false, "test every feature")
	testCmd.Flags().BoolVar(&testDispatch, "dispatch", false, "send the buffered samples after enqueueing them")
	testCmd.Flags().BoolVar(&testDryRun, "dry-run", false, "with --dispatch, print batches instead of sending them")
}

func runTest(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()
	out := cmd.OutOrStdout()

	rt, err := newRuntime(ctx, nil)
	if err != nil {
		return err
	}
	defer rt.Close()

	if !testAll && testFeature == "" {
		return checkConfig(out, rt.cfg)
	}

	features := model.AllFeatures
	if !testAll && testFeature != "all" {
		features = nil
		for _, name := range strings.Split(testFeature, ",") {
			f, err := model.ParseFeature(strings.TrimSpace(name))
			if err != nil {
				return fmt.Errorf("%w (valid: %s)", err, featureNames())
			}
			features = append(features, f)
		}
	}

	ft := newFeatureTester(rt.cfg, rt.buffer, rt.cache, rt.log)
	results := ft.runAll(ctx, features)
	printResults(out, results)

	if testDispatch {
		var sent []model.Feature
		for _, r := range results {
			if r.Passed() {
				sent = append(sent, r.Feature)
			}
		}
		if len(sent) > 0 {
			d := engine.NewDispatcher(rt.cfg, rt.buffer, rt.pauses, rt.sender(testDryRun, false), rt.metrics, rt.log)
			if err := d.DispatchAll(ctx, sent); err != nil && !errors.Is(err, engine.ErrRetryable) {
				return err
			}
			fmt.Fprintf(out, "Dispatched %d batch job(s). Run: pulsegate status\n", len(sent))
		}
	} else {
		fmt.Fprintln(out, `Samples wait in the buffer for the next dispatch. Use --dispatch or run "pulsegate work" to send them now.`)
	}

	for _, r := range results {
		if !r.Passed() {
			return errors.New("some features did not accept their samples")
		}
	}
	return nil
}

// countingSink counts what producers hand over per feature.
type countingSink struct {
	next engine.Sink
	mu   sync.Mutex
	n    map[model.Feature]int
}

func (s *countingSink) Enqueue(ctx context.Context, f model.Feature, data map[string]any) {
	s.mu.Lock()
	s.n[f]++
	s.mu.Unlock()
	s.next.Enqueue(ctx, f, data)
}

func (s *countingSink) count(f model.Feature) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.n[f]
}

type sampleResult struct {
	Feature  model.Feature
	Attempts int
	Enqueued int
	Notes    []string
}

func (r sampleResult) Passed() bool {
	return r.Enqueued > 0
}

// featureTester pushes sample items through real producers.
type featureTester struct {
	cfg   *config.Config
	sink  *countingSink
	store cache.Store
	log   logrus.FieldLogger
}

func newFeatureTester(cfg *config.Config, sink engine.Sink, store cache.Store, log logrus.FieldLogger) *featureTester {
	return &featureTester{
		cfg:   cfg,
		sink:  &countingSink{next: sink, n: make(map[model.Feature]int)},
		store: store,
		log:   log,
	}
}

func (t *featureTester) runAll(ctx context.Context, features []model.Feature) []sampleResult {
	out := make([]sampleResult, 0, len(features))
	for _, f := range features {
		out = append(out, t.run(ctx, f))
	}
	return out
}

func (t *featureTester) run(ctx context.Context, f model.Feature) sampleResult {
	res := sampleResult{Feature: f}
	if !t.cfg.Enabled {
		res.Notes = append(res.Notes, "delivery is disabled (set PULSEGATE_ENABLED=true)")
		return res
	}
	if !t.cfg.Feature(f).Enabled {
		res.Notes = append(res.Notes, fmt.Sprintf("feature is disabled (set PULSEGATE_FEATURES_%s_ENABLED=true)", strings.ToUpper(string(f))))
		return res
	}

	before := t.sink.count(f)
	switch f {
	case model.Errors:
		t.sampleErrors(ctx, &res)
	case model.Events:
		t.sampleEvents(ctx, &res)
	case model.Logs:
		t.sampleLogs(ctx, &res)
	case model.PageVisits:
		t.sampleVisits(ctx, &res)
	case model.JavaScriptErrors:
		t.sampleJSErrors(ctx, &res)
	}
	res.Enqueued = t.sink.count(f) - before
	return res
}

func (t *featureTester) sampleErrors(ctx context.Context, res *sampleResult) {
	rep := producer.NewErrorReporter(t.cfg, t.sink, t.log)
	samples := []error{
		errors.New("test error from pulsegate"),
		fmt.Errorf("handle request: %w", errors.New("test wrapped error")),
		errors.New("database connection failed: connection refused on localhost:5432"),
	}
	for _, err := range samples {
		res.Attempts++
		rep.Report(ctx, err, nil, producer.WithConsole([]string{"pulsegate", "test"}, map[string]any{"feature": "errors"}))
	}
}

func (t *featureTester) sampleEvents(ctx context.Context, res *sampleResult) {
	tr := producer.NewEventTracker(t.cfg, t.sink, t.log)
	props := map[string]any{"source": "pulsegate test"}
	calls := []func() error{
		func() error { return tr.Track(ctx, "pulsegate_test_event", props) },
		func() error { return tr.UserLoggedIn(ctx, "pulsegate-test-user", props) },
		func() error { return tr.PageView(ctx, "pulsegate_test_page", props) },
	}
	for _, call := range calls {
		res.Attempts++
		if err := call(); err != nil {
			res.Notes = append(res.Notes, err.Error())
		}
	}
}

func (t *featureTester) sampleLogs(ctx context.Context, res *sampleResult) {
	fwd, err := producer.NewLogForwarder(t.cfg, t.sink, t.log)
	if err != nil {
		res.Notes = append(res.Notes, err.Error())
		return
	}
	before := t.sink.count(model.Logs)
	for _, level := range []string{"info", "warning", "error"} {
		res.Attempts++
		fwd.Write(ctx, producer.LogRecord{
			Level:   level,
			Message: "Test " + level + " log from pulsegate",
			Channel: "pulsegate-test",
			Context: map[string]any{"source": "pulsegate test"},
		})
	}
	if t.sink.count(model.Logs) == before {
		res.Notes = append(res.Notes, `channel "pulsegate-test" may be excluded by logging.excluded_channels`)
	}
}

func (t *featureTester) sampleVisits(ctx context.Context, res *sampleResult) {
	vt := producer.NewVisitTracker(t.cfg, t.sink, t.store, t.log)
	r := httptest.NewRequest("GET", "https://pulsegate.test/pulsegate-test/"+uuid.NewString()[:8], nil)
	r.Header.Set("User-Agent", "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0.0.0 Safari/537.36")
	r.Header.Set("Accept", "text/html,application/xhtml+xml")
	r.Header.Set("Accept-Language", "en-US,en;q=0.9")
	r.Header.Set("Accept-Encoding", "gzip")
	r.Header.Set("Referer", "https://www.google.com/")

	res.Attempts++
	if reason := vt.Track(ctx, r); reason != producer.Tracked {
		res.Notes = append(res.Notes, "visit skipped: "+string(reason))
	}
}

func (t *featureTester) sampleJSErrors(ctx context.Context, res *sampleResult) {
	col := producer.NewJSErrorCollector(t.cfg, t.sink, t.log)
	// Samples always pass sampling unless the rate is zero.
	col.SetRand(func() float64 { return 0 })

	line, column := 42, 7
	res.Attempts++
	outcome := col.Capture(ctx, producer.JSErrorReport{
		Message:  "Test JavaScript error from pulsegate",
		Type:     "TypeError",
		Stack:    "TypeError: Test JavaScript error from pulsegate\n    at pulsegateTest (app.js:42:7)",
		Filename: "app.js",
		Line:     &line,
		Column:   &column,
		URL:      "https://pulsegate.test/pulsegate-test",
		Breadcrumbs: []producer.Breadcrumb{
			{Timestamp: "now", Category: "navigation", Message: "pulsegate test"},
		},
	}, producer.JSMeta{SessionID: "pulsegate-test"})
	if outcome != producer.Accepted {
		res.Notes = append(res.Notes, "error "+outcome.String())
	}
}

func printResults(out io.Writer, results []sampleResult) {
	fmt.Fprintln(out, "Test Summary:")
	for _, r := range results {
		mark := "✓ Passed"
		if !r.Passed() {
			mark = "✗ Failed"
		}
		fmt.Fprintf(out, "  %-18s %s (%d of %d sample(s) enqueued)\n", r.Feature, mark, r.Enqueued, r.Attempts)
		for _, n := range r.Notes {
			fmt.Fprintf(out, "      %s\n", n)
		}
	}
	fmt.Fprintln(out)
}

// checkConfig prints what test without flags reports: the key, delivery
// switch and feature table.
func checkConfig(out io.Writer, cfg *config.Config) error {
	fmt.Fprintln(out, "Testing pulsegate configuration...")
	fmt.Fprintln(out)
	if cfg.Key == "" {
		fmt.Fprintln(out, "✗ API key is not set.")
		fmt.Fprintln(out, "  Set PULSEGATE_KEY=your-api-key or key: in the config file.")
		return errors.New("api key not configured")
	}
	fmt.Fprintf(out, "✓ API key configured: %s******\n", cfg.Key[:min(4, len(cfg.Key))])
	if !cfg.Enabled {
		fmt.Fprintln(out, "! Delivery is disabled. Set PULSEGATE_ENABLED=true.")
	}
	fmt.Fprintln(out)

	fmt.Fprintln(out, "Feature Configuration:")
	enabled := 0
	for _, f := range model.AllFeatures {
		fc := cfg.Feature(f)
		state, mode := "Disabled", "Sync"
		if fc.Enabled {
			state = "Enabled"
			enabled++
		}
		if fc.Queue {
			mode = "Queued"
		}
		fmt.Fprintf(out, "  %-18s %-9s %-7s %s\n", f, state, mode, fc.QueueName)
	}
	fmt.Fprintln(out)
	if enabled == 0 {
		fmt.Fprintln(out, "! All features are disabled. Enable them with PULSEGATE_FEATURES_<NAME>_ENABLED=true.")
		fmt.Fprintln(out)
	}

	fmt.Fprintln(out, "✓ Configuration is valid.")
	fmt.Fprintln(out)
	fmt.Fprintln(out, "Test specific features:")
	fmt.Fprintln(out, "  pulsegate test --feature=errors")
	fmt.Fprintln(out, "  pulsegate test --feature=errors,events")
	fmt.Fprintln(out, "  pulsegate test --all --dispatch")
	return nil
}
