package engine

import (
	"context"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pulsegate/pkg/metrics"
	"pulsegate/pkg/model"
)

func TestHandoff_QueuedFeatureDrainsToStore(t *testing.T) {
	env := newTestEnv(t)
	h, err := NewHandoff(env.cfg, env.buffer, env.metrics, nil)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	h.Start(ctx)

	for i := 0; i < 10; i++ {
		h.Enqueue(ctx, model.Events, map[string]any{"i": "x"})
	}
	assert.Eventually(t, func() bool {
		return env.buffer.Count(context.Background(), model.Events) == 10
	}, 2*time.Second, 5*time.Millisecond)

	cancel()
	h.Wait()
	assert.Zero(t, h.Pending())
}

func TestHandoff_InlineWhenQueueDisabled(t *testing.T) {
	env := newTestEnv(t)
	env.cfg.Features.Logs.Queue = false
	h, err := NewHandoff(env.cfg, env.buffer, env.metrics, nil)
	require.NoError(t, err)

	// Not started: only inline features can make progress.
	h.Enqueue(context.Background(), model.Logs, map[string]any{"message": "m"})
	assert.Equal(t, 1, env.buffer.Count(context.Background(), model.Logs))
}

func TestHandoff_FullLaneDrops(t *testing.T) {
	env := newTestEnv(t)
	env.cfg.Batch.LaneSize = 2
	h, err := NewHandoff(env.cfg, env.buffer, env.metrics, nil)
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		h.Enqueue(context.Background(), model.Errors, map[string]any{})
	}
	assert.Equal(t, uint64(2), h.Pending())
	assert.Equal(t, float64(1), testutil.ToFloat64(env.metrics.Dropped.WithLabelValues("errors", metrics.DropLaneFull)))
}

func TestHandoff_ShutdownFlushesLanes(t *testing.T) {
	env := newTestEnv(t)
	h, err := NewHandoff(env.cfg, env.buffer, env.metrics, nil)
	require.NoError(t, err)

	for i := 0; i < 5; i++ {
		h.Enqueue(context.Background(), model.Events, map[string]any{})
	}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	h.Start(ctx)
	h.Wait()

	assert.Equal(t, 5, env.buffer.Count(context.Background(), model.Events))
}

func TestHandoff_RejectsBadLaneSize(t *testing.T) {
	env := newTestEnv(t)
	env.cfg.Batch.LaneSize = 3
	_, err := NewHandoff(env.cfg, env.buffer, env.metrics, nil)
	assert.Error(t, err)
}
