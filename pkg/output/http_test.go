package output

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"

	"pulsegate/pkg/config"
	"pulsegate/pkg/model"
)

func testConfig(url string) *config.Config {
	cfg := config.DefaultConfig()
	cfg.APIURL = url
	cfg.Key = "secret-key"
	return cfg
}

func TestClient_SendsBatch(t *testing.T) {
	var (
		gotPath string
		gotAuth string
		gotUA   string
		gotBody []byte
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotAuth = r.Header.Get("Authorization")
		gotUA = r.Header.Get("User-Agent")
		gotBody, _ = io.ReadAll(r.Body)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"data":{"items":{"received":2,"processed":2}}}`))
	}))
	defer srv.Close()

	c := NewClient(testConfig(srv.URL+"/v1/"), nil)
	res := c.Send(context.Background(), model.PageVisits, []map[string]any{{"path": "/a"}, {"path": "/b"}})

	assert.Equal(t, 200, res.Status)
	assert.True(t, res.Success)
	assert.Equal(t, "/v1/page-visits/store-batch", gotPath)
	assert.Equal(t, "Bearer secret-key", gotAuth)
	assert.Equal(t, "pulsegate/page-visits-batch", gotUA)
	assert.Equal(t, int64(2), gjson.GetBytes(gotBody, "visits.#").Int())
	assert.Equal(t, "/b", gjson.GetBytes(gotBody, "visits.1.path").String())
	assert.Equal(t, int64(2), gjson.GetBytes(res.Body, "data.items.processed").Int())
}

func TestClient_CustomHTTPClient(t *testing.T) {
	srv := httptest.NewTLSServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"data":{"items":{"received":1,"processed":1}}}`))
	}))
	defer srv.Close()

	plain := NewClient(testConfig(srv.URL), nil).Send(context.Background(), model.Errors, []map[string]any{{}})
	assert.Equal(t, 0, plain.Status, "self-signed certificate is rejected by default")

	c := NewClient(testConfig(srv.URL), nil).WithHTTPClient(srv.Client())
	res := c.Send(context.Background(), model.Errors, []map[string]any{{}})
	assert.Equal(t, 200, res.Status)
	assert.True(t, res.Success)
}

func TestClient_NoKeySkipsNetwork(t *testing.T) {
	called := false
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
	}))
	defer srv.Close()

	cfg := testConfig(srv.URL)
	cfg.Key = ""
	res := NewClient(cfg, nil).Send(context.Background(), model.Events, []map[string]any{{}})

	assert.Equal(t, 0, res.Status)
	assert.Equal(t, "API key not configured", res.Error)
	assert.False(t, called)
}

func TestClient_TransportFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	url := srv.URL
	srv.Close()

	res := NewClient(testConfig(url), nil).Send(context.Background(), model.Events, []map[string]any{{}})
	assert.Equal(t, 0, res.Status)
	assert.False(t, res.Success)
	assert.NotEmpty(t, res.Error)
}

func TestClient_TimeoutIsStatusZero(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()
	defer close(release)

	cfg := testConfig(srv.URL)
	cfg.Features.Events.Timeout = 50 * time.Millisecond
	res := NewClient(cfg, nil).Send(context.Background(), model.Events, []map[string]any{{}})
	assert.Equal(t, 0, res.Status)
}

func TestClient_ResponseParsing(t *testing.T) {
	tests := []struct {
		name       string
		status     int
		body       string
		retryAfter string
		wantBody   string
		wantRetry  *int
	}{
		{"non-json body", 500, "<html>oops</html>", "", `{}`, nil},
		{"json array body", 200, `[1,2]`, "", `{}`, nil},
		{"rate limited seconds", 429, `{"error":{"message":"slow down"}}`, "45", `{"error":{"message":"slow down"}}`, intPtr(45)},
		{"invalid retry-after", 429, `{}`, "soon", `{}`, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				if tt.retryAfter != "" {
					w.Header().Set("Retry-After", tt.retryAfter)
				}
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body))
			}))
			defer srv.Close()

			res := NewClient(testConfig(srv.URL), nil).Send(context.Background(), model.Logs, []map[string]any{{}})
			assert.Equal(t, tt.status, res.Status)
			assert.JSONEq(t, tt.wantBody, string(res.Body))
			assert.Equal(t, tt.wantRetry, res.RetryAfter)
		})
	}
}

func TestClient_RetryAfterHTTPDate(t *testing.T) {
	now := time.Date(2026, 5, 1, 10, 0, 0, 0, time.UTC)
	c := NewClient(testConfig("http://unused"), nil)
	c.now = func() time.Time { return now }

	got := c.retryAfter(now.Add(90 * time.Second).Format(http.TimeFormat))
	require.NotNil(t, got)
	assert.Equal(t, 90, *got)

	past := c.retryAfter(now.Add(-time.Minute).Format(http.TimeFormat))
	require.NotNil(t, past)
	assert.Equal(t, 0, *past)
}

func TestClient_LargeBodyIsCapped(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"pad":"` + strings.Repeat("x", 2<<20) + `"}`))
	}))
	defer srv.Close()

	res := NewClient(testConfig(srv.URL), nil).Send(context.Background(), model.Logs, []map[string]any{{}})
	assert.Equal(t, 200, res.Status)
	assert.JSONEq(t, `{}`, string(res.Body), "truncated body is not valid JSON")
}

func TestConsoleOutput(t *testing.T) {
	var buf bytes.Buffer
	res := NewConsoleOutput(&buf).Send(context.Background(), model.Events, []map[string]any{{"event_name": "sale"}})

	assert.Equal(t, 200, res.Status)
	assert.Equal(t, int64(1), gjson.GetBytes(res.Body, "data.items.processed").Int())

	var line map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	assert.Equal(t, "events", line["feature"])
	assert.Len(t, line["events"], 1)
}

type stubSender struct {
	status int
	got    chan int
}

func (s *stubSender) Send(_ context.Context, _ model.Feature, items []map[string]any) model.BatchResult {
	if s.got != nil {
		s.got <- len(items)
	}
	return model.BatchResult{Status: s.status}
}

func TestFanOutOutput_ReportsPrimaryOnly(t *testing.T) {
	mirror := &stubSender{status: 500, got: make(chan int, 1)}
	f := NewFanOutOutput(&stubSender{status: 200}, mirror)

	res := f.Send(context.Background(), model.Errors, []map[string]any{{}, {}})
	assert.Equal(t, 200, res.Status)
	assert.Equal(t, 2, <-mirror.got)
}

func intPtr(i int) *int { return &i }
