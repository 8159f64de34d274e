package producer

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"pulsegate/pkg/config"
	"pulsegate/pkg/logging"
	"pulsegate/pkg/model"
)

type captureSink struct {
	mu    sync.Mutex
	items []map[string]any
	feats []model.Feature
}

func (s *captureSink) Enqueue(_ context.Context, f model.Feature, data map[string]any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.items = append(s.items, data)
	s.feats = append(s.feats, f)
}

func (s *captureSink) len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.items)
}

func (s *captureSink) last(t *testing.T) map[string]any {
	t.Helper()
	s.mu.Lock()
	defer s.mu.Unlock()
	require.NotEmpty(t, s.items, "nothing enqueued")
	return s.items[len(s.items)-1]
}

func enabledConfig() *config.Config {
	cfg := config.DefaultConfig()
	cfg.Enabled = true
	cfg.Key = "test-key"
	cfg.Environment = "testing"
	cfg.Features.Logs.Enabled = true
	cfg.Features.PageVisits.Enabled = true
	cfg.Features.JavaScriptErrors.Enabled = true
	return cfg
}

var fixedNow = time.Date(2026, 3, 14, 9, 26, 53, 0, time.UTC)

func clock() time.Time { return fixedNow }

var quiet = logging.Discard()

func keys(m map[string]any) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	return out
}
