package control

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pulsegate/pkg/logging"
	"pulsegate/pkg/model"
)

type triggerRecorder struct {
	mu    sync.Mutex
	feats []model.Feature
}

func (r *triggerRecorder) Trigger(f model.Feature) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.feats = append(r.feats, f)
}

func (r *triggerRecorder) got() []model.Feature {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]model.Feature(nil), r.feats...)
}

func TestWatcher_FlushCommands(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()

	rec := &triggerRecorder{}
	w := NewWatcher(client, "pulsegate_control", rec, logging.Discard())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Start(ctx) }()

	// Messages published before the subscription is live reach nobody.
	require.Eventually(t, func() bool {
		n, err := Publish(ctx, client, "pulsegate_control", Command{Action: ActionFlush, Type: "events"})
		return err == nil && n == 1
	}, 2*time.Second, 10*time.Millisecond)

	pub := func(cmd Command) {
		n, err := Publish(ctx, client, "pulsegate_control", cmd)
		require.NoError(t, err)
		assert.Equal(t, int64(1), n)
	}
	pub(Command{Action: ActionFlush, Type: "nope"})
	pub(Command{Action: "reboot"})
	pub(Command{Action: ActionFlush})

	assert.Eventually(t, func() bool { return len(rec.got()) == 2 }, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, []model.Feature{model.Events, ""}, rec.got())

	cancel()
	assert.NoError(t, <-done)
}

func TestWatcher_HandleInvalidPayload(t *testing.T) {
	rec := &triggerRecorder{}
	w := NewWatcher(nil, "c", rec, logging.Discard())

	w.handle("not json")
	w.handle(`{"action":"flush","type":"page_visits"}`)
	assert.Equal(t, []model.Feature{model.PageVisits}, rec.got())
}

func TestPublish_NoSubscribers(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()

	n, err := Publish(context.Background(), client, "pulsegate_control", Command{Action: ActionFlush})
	require.NoError(t, err)
	assert.Zero(t, n)
}
