package ingest

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pulsegate/pkg/cache"
	"pulsegate/pkg/config"
	"pulsegate/pkg/logging"
	"pulsegate/pkg/metrics"
	"pulsegate/pkg/model"
	"pulsegate/pkg/producer"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type sinkStub struct {
	mu    sync.Mutex
	items []map[string]any
}

func (s *sinkStub) Enqueue(_ context.Context, _ model.Feature, data map[string]any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.items = append(s.items, data)
}

func (s *sinkStub) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.items)
}

func testConfig() *config.Config {
	cfg := config.DefaultConfig()
	cfg.Enabled = true
	cfg.Key = "k"
	cfg.Features.JavaScriptErrors.Enabled = true
	cfg.Features.PageVisits.Enabled = true
	return cfg
}

func newServer(cfg *config.Config) (*HTTPServer, *sinkStub, *producer.JSErrorCollector) {
	sink := &sinkStub{}
	js := producer.NewJSErrorCollector(cfg, sink, logging.Discard())
	return NewHTTPServer(":0", js, prometheus.NewRegistry(), logging.Discard()), sink, js
}

func postJSON(h http.Handler, body string, headers map[string]string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, JSErrorPath, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder) response {
	t.Helper()
	var r response
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &r))
	return r
}

func TestJSErrorEndpoint_Received(t *testing.T) {
	srv, sink, _ := newServer(testConfig())

	w := postJSON(srv.Handler(), `{"message":"x is undefined","line":4,"breadcrumbs":[{"timestamp":"t","category":"nav","message":"to /cart"}]}`,
		map[string]string{"Referer": "https://shop.test/cart", SessionHeader: "abc"})

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, response{Success: true, Message: "Error received"}, decode(t, w))
	require.Equal(t, 1, sink.count())
	assert.Equal(t, "https://shop.test/cart", sink.items[0]["url"])
	assert.Equal(t, "abc", sink.items[0]["session_id"])
}

func TestJSErrorEndpoint_Outcomes(t *testing.T) {
	cfg := testConfig()
	srv, sink, js := newServer(cfg)

	w := postJSON(srv.Handler(), `{"message":"Script error."}`, nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "Error ignored based on pattern", decode(t, w).Message)

	cfg.JavaScriptErrors.SampleRate = 0.5
	srv, sink, js = newServer(cfg)
	js.SetRand(func() float64 { return 0.75 })
	w = postJSON(srv.Handler(), `{"message":"boom"}`, nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "Error sampled out", decode(t, w).Message)
	assert.Zero(t, sink.count())
}

func TestJSErrorEndpoint_Disabled(t *testing.T) {
	cfg := testConfig()
	cfg.Features.JavaScriptErrors.Enabled = false
	srv, _, _ := newServer(cfg)

	w := postJSON(srv.Handler(), `{"message":"boom"}`, nil)
	assert.Equal(t, http.StatusForbidden, w.Code)
	assert.False(t, decode(t, w).Success)
}

func TestJSErrorEndpoint_Validation(t *testing.T) {
	srv, sink, _ := newServer(testConfig())

	tests := []struct {
		name  string
		body  string
		field string
	}{
		{"missing message", `{"stack":"s"}`, "message"},
		{"message too long", `{"message":"` + strings.Repeat("a", 2001) + `"}`, "message"},
		{"type too long", `{"message":"m","type":"` + strings.Repeat("t", 101) + `"}`, "type"},
		{"breadcrumb without category", `{"message":"m","breadcrumbs":[{"timestamp":"t","message":"x"}]}`, "breadcrumbs.0.category"},
		{"wrong type", `{"message":"m","line":"four"}`, "body"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := postJSON(srv.Handler(), tt.body, nil)
			assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
			r := decode(t, w)
			assert.Equal(t, "Validation failed", r.Message)
			assert.Contains(t, r.Errors, tt.field)
		})
	}
	assert.Zero(t, sink.count())
}

func TestHealthAndMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := metrics.New(reg)
	m.Enqueued.WithLabelValues("events").Inc()

	js := producer.NewJSErrorCollector(testConfig(), &sinkStub{}, logging.Discard())
	h := NewHTTPServer(":0", js, reg, logging.Discard()).Handler()

	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"status":"ok"}`, w.Body.String())

	w = httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `pulsegate_items_enqueued_total{feature="events"} 1`)
}

func TestVisitMiddleware(t *testing.T) {
	sink := &sinkStub{}
	tracker := producer.NewVisitTracker(testConfig(), sink, cache.NewMemory(), logging.Discard())

	r := gin.New()
	r.Use(VisitMiddleware(tracker))
	r.GET("/pricing", func(c *gin.Context) { c.String(http.StatusOK, "ok") })

	req := httptest.NewRequest(http.MethodGet, "/pricing", nil)
	req.Header.Set("User-Agent", "Mozilla/5.0 (Macintosh; Intel Mac OS X 14_4) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/17.4 Safari/605.1.15")
	req.Header.Set("Accept", "text/html")
	req.Header.Set("Accept-Language", "de-DE")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	require.Equal(t, 1, sink.count())
	assert.Equal(t, "Safari", sink.items[0]["browser_name"])
}

func TestHTTPServer_PanicIsReported(t *testing.T) {
	cfg := testConfig()
	srv, _, _ := newServer(cfg)
	errSink := &sinkStub{}
	srv.ReportPanics(producer.NewErrorReporter(cfg, errSink, logging.Discard()))
	srv.router.GET("/boom", func(*gin.Context) { panic("kaboom") })

	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/boom", nil))

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	require.Equal(t, 1, errSink.count())
	assert.Equal(t, "panic: kaboom", errSink.items[0]["message"])
	assert.Equal(t, "GET", errSink.items[0]["method"])
}
