package engine

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"pulsegate/pkg/cache"
	"pulsegate/pkg/config"
	"pulsegate/pkg/logging"
	"pulsegate/pkg/metrics"
	"pulsegate/pkg/model"
)

type testEnv struct {
	cfg     *config.Config
	cache   cache.Cache
	metrics *metrics.Metrics
	buffer  *BufferStore
	pauses  *PauseState
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	return newTestEnvWith(t, cache.NewMemory())
}

func newTestEnvWith(t *testing.T, c cache.Cache) *testEnv {
	t.Helper()
	cfg := config.DefaultConfig()
	cfg.Batch.LockWait = 200 * time.Millisecond
	cfg.Batch.Backoff = []time.Duration{time.Millisecond}

	m := metrics.NewNop()
	log := logging.Discard()
	return &testEnv{
		cfg:     cfg,
		cache:   c,
		metrics: m,
		buffer:  NewBufferStore(c, cfg, m, log),
		pauses:  NewPauseState(c, m, log),
	}
}

// stores runs fn once over the in-memory cache and once over Redis.
func stores(t *testing.T, fn func(t *testing.T, env *testEnv)) {
	t.Run("memory", func(t *testing.T) { fn(t, newTestEnv(t)) })
	t.Run("redis", func(t *testing.T) {
		mr := miniredis.RunT(t)
		rc := cache.NewRedisFromClient(redis.NewClient(&redis.Options{Addr: mr.Addr()}))
		t.Cleanup(func() { _ = rc.Close() })
		fn(t, newTestEnvWith(t, rc))
	})
}

func (e *testEnv) dispatcher(s Sender) *Dispatcher {
	return NewDispatcher(e.cfg, e.buffer, e.pauses, s, e.metrics, logging.Discard())
}

// fill appends n items whose "n" field is their append position.
func (e *testEnv) fill(t *testing.T, f model.Feature, n int) {
	t.Helper()
	for i := 0; i < n; i++ {
		e.buffer.Append(context.Background(), f, map[string]any{"n": fmt.Sprint(i)})
	}
}

func positions(items []model.BufferedItem) []string {
	out := make([]string, len(items))
	for i, it := range items {
		out[i], _ = it.Data["n"].(string)
	}
	return out
}

// fakeSender replays scripted results; the last one repeats.
type fakeSender struct {
	mu      sync.Mutex
	results []model.BatchResult
	batches [][]map[string]any
}

func (s *fakeSender) Send(_ context.Context, _ model.Feature, items []map[string]any) model.BatchResult {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.batches = append(s.batches, items)
	if len(s.results) == 0 {
		return model.BatchResult{Status: 200, Success: true, Body: []byte(`{}`)}
	}
	res := s.results[0]
	if len(s.results) > 1 {
		s.results = s.results[1:]
	}
	return res
}

func (s *fakeSender) calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.batches)
}

func intPtr(i int) *int { return &i }
