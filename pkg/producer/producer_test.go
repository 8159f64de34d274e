package producer

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pulsegate/pkg/cache"
	"pulsegate/pkg/engine"
	"pulsegate/pkg/metrics"
	"pulsegate/pkg/model"
)

func TestProducersFeedBufferStore(t *testing.T) {
	ctx := context.Background()
	cfg := enabledConfig()
	store := engine.NewBufferStore(cache.NewMemory(), cfg, metrics.NewNop(), quiet)

	events := NewEventTracker(cfg, store, quiet)
	require.NoError(t, events.Track(ctx, EventCheckoutStarted, map[string]any{"cart_value": 40}))
	require.NoError(t, events.Track(ctx, EventCheckoutCompleted, nil))

	logs, err := NewLogForwarder(cfg, store, quiet)
	require.NoError(t, err)
	logs.Write(ctx, LogRecord{Level: "info", Message: "hello"})

	assert.Equal(t, 2, store.Count(ctx, model.Events))
	assert.Equal(t, 1, store.Count(ctx, model.Logs))

	items := store.Take(ctx, model.Events, 10)
	require.Len(t, items, 2)
	assert.Equal(t, EventCheckoutStarted, items[0].Data["event_name"])
	assert.Equal(t, map[string]any{"cart_value": float64(40)}, items[0].Data["properties"])
}
