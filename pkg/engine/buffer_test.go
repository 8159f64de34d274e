package engine

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pulsegate/pkg/cache"
	"pulsegate/pkg/metrics"
	"pulsegate/pkg/model"
)

func TestBufferStore_TakeIsFIFO(t *testing.T) {
	stores(t, func(t *testing.T, env *testEnv) {
		ctx := context.Background()
		env.fill(t, model.Events, 3)

		assert.Equal(t, 3, env.buffer.Count(ctx, model.Events))
		assert.Equal(t, []string{"0", "1"}, positions(env.buffer.Take(ctx, model.Events, 2)))
		assert.Equal(t, []string{"2"}, positions(env.buffer.Take(ctx, model.Events, 10)))
		assert.Empty(t, env.buffer.Take(ctx, model.Events, 10))

		_, err := env.cache.Get(ctx, bufferKey(model.Events))
		assert.ErrorIs(t, err, cache.ErrMiss, "drained buffer key should be deleted")
	})
}

func TestBufferStore_FeaturesAreIsolated(t *testing.T) {
	stores(t, func(t *testing.T, env *testEnv) {
		ctx := context.Background()
		env.fill(t, model.Events, 2)
		env.fill(t, model.Logs, 1)

		assert.Equal(t, 2, env.buffer.Count(ctx, model.Events))
		assert.Equal(t, 1, env.buffer.Count(ctx, model.Logs))
		assert.Equal(t, []model.Feature{model.Events, model.Logs}, env.buffer.AvailableFeatures(ctx))

		require.NoError(t, env.buffer.Clear(ctx, model.Events))
		assert.Equal(t, 0, env.buffer.Count(ctx, model.Events))
		assert.Equal(t, 1, env.buffer.Count(ctx, model.Logs))
	})
}

func TestBufferStore_EvictsOldestPastMaxSize(t *testing.T) {
	stores(t, func(t *testing.T, env *testEnv) {
		env.cfg.Features.Events.BufferMaxSize = 5
		ctx := context.Background()

		env.fill(t, model.Events, 1000)

		assert.Equal(t, 5, env.buffer.Count(ctx, model.Events))
		assert.Equal(t, []string{"995", "996", "997", "998", "999"}, positions(env.buffer.Take(ctx, model.Events, 10)))
		assert.Equal(t, float64(995), testutil.ToFloat64(env.metrics.Dropped.WithLabelValues("events", metrics.DropOverflow)))
	})
}

func TestBufferStore_ConcurrentTakeNeverDuplicates(t *testing.T) {
	stores(t, func(t *testing.T, env *testEnv) {
		env.cfg.Batch.LockWait = 5 * time.Second
		ctx := context.Background()
		env.fill(t, model.Errors, 100)

		var (
			mu   sync.Mutex
			seen []string
			wg   sync.WaitGroup
		)
		for w := 0; w < 8; w++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				for {
					items := env.buffer.Take(ctx, model.Errors, 7)
					if len(items) == 0 {
						return
					}
					mu.Lock()
					seen = append(seen, positions(items)...)
					mu.Unlock()
				}
			}()
		}
		wg.Wait()

		require.Len(t, seen, 100)
		uniq := make(map[string]struct{}, len(seen))
		for _, s := range seen {
			uniq[s] = struct{}{}
		}
		assert.Len(t, uniq, 100)
	})
}

func TestBufferStore_ConcurrentAppendAndTakeLoseNothing(t *testing.T) {
	stores(t, func(t *testing.T, env *testEnv) {
		env.cfg.Batch.LockWait = 10 * time.Second
		ctx := context.Background()

		const appenders, perAppender = 4, 25
		var (
			mu        sync.Mutex
			taken     []string
			appending sync.WaitGroup
			taking    sync.WaitGroup
		)
		done := make(chan struct{})

		for a := 0; a < appenders; a++ {
			appending.Add(1)
			go func(a int) {
				defer appending.Done()
				for i := 0; i < perAppender; i++ {
					env.buffer.Append(ctx, model.Errors, map[string]any{"n": fmt.Sprintf("%d-%d", a, i)})
				}
			}(a)
		}
		for w := 0; w < 3; w++ {
			taking.Add(1)
			go func() {
				defer taking.Done()
				for {
					items := env.buffer.Take(ctx, model.Errors, 4)
					mu.Lock()
					taken = append(taken, positions(items)...)
					mu.Unlock()
					if len(items) == 0 {
						select {
						case <-done:
							return
						case <-time.After(time.Millisecond):
						}
					}
				}
			}()
		}
		appending.Wait()
		close(done)
		taking.Wait()

		rest := positions(env.buffer.Take(ctx, model.Errors, appenders*perAppender))
		all := append(taken, rest...)
		require.Len(t, all, appenders*perAppender)
		uniq := make(map[string]struct{}, len(all))
		for _, s := range all {
			uniq[s] = struct{}{}
		}
		assert.Len(t, uniq, appenders*perAppender)
		assert.Zero(t, testutil.ToFloat64(env.metrics.Dropped.WithLabelValues("errors", metrics.DropLockTimeout)))
	})
}

func TestBufferStore_ReAppendKeepsData(t *testing.T) {
	stores(t, func(t *testing.T, env *testEnv) {
		ctx := context.Background()
		env.fill(t, model.Events, 2)

		taken := env.buffer.Take(ctx, model.Events, 2)
		env.fill(t, model.Events, 1) // "0" again, appended after the take
		env.buffer.ReAppend(ctx, model.Events, taken)

		back := env.buffer.Take(ctx, model.Events, 10)
		require.Len(t, back, 3)
		assert.Equal(t, taken[0].Data, back[1].Data)
		assert.Equal(t, taken[1].Data, back[2].Data)
		assert.NotEqual(t, taken[0].ID, back[1].ID, "requeued items get fresh ids")
		assert.Equal(t, float64(2), testutil.ToFloat64(env.metrics.Requeued.WithLabelValues("events")))
	})
}

func TestBufferStore_LockTimeoutDropsAppend(t *testing.T) {
	stores(t, func(t *testing.T, env *testEnv) {
		env.cfg.Batch.LockWait = 30 * time.Millisecond
		ctx := context.Background()

		unlock, err := env.cache.Lock(ctx, lockKey(model.Events), time.Minute, 0)
		require.NoError(t, err)

		env.buffer.Append(ctx, model.Events, map[string]any{"n": "lost"})
		assert.Nil(t, env.buffer.Take(ctx, model.Events, 10))
		assert.Equal(t, float64(1), testutil.ToFloat64(env.metrics.Dropped.WithLabelValues("events", metrics.DropLockTimeout)))

		unlock()
		assert.Equal(t, 0, env.buffer.Count(ctx, model.Events))
	})
}

func TestBufferStore_FailedReAppendIsNotRequeued(t *testing.T) {
	env := newTestEnv(t)
	env.cfg.Batch.LockWait = 30 * time.Millisecond
	ctx := context.Background()
	env.fill(t, model.Events, 2)
	taken := env.buffer.Take(ctx, model.Events, 2)

	unlock, err := env.cache.Lock(ctx, lockKey(model.Events), time.Minute, 0)
	require.NoError(t, err)
	env.buffer.ReAppend(ctx, model.Events, taken)
	unlock()

	assert.Zero(t, testutil.ToFloat64(env.metrics.Requeued.WithLabelValues("events")))
	assert.Equal(t, float64(2), testutil.ToFloat64(env.metrics.Dropped.WithLabelValues("events", metrics.DropLockTimeout)))
}

func TestBufferStore_CorruptBufferIsDiscarded(t *testing.T) {
	stores(t, func(t *testing.T, env *testEnv) {
		ctx := context.Background()
		require.NoError(t, env.cache.Set(ctx, bufferKey(model.Logs), []byte("not json"), time.Hour))

		env.buffer.Append(ctx, model.Logs, map[string]any{"n": "fresh"})

		got := env.buffer.Take(ctx, model.Logs, 10)
		assert.Equal(t, []string{"fresh"}, positions(got))
	})
}

func TestBufferStore_StoresWithFeatureTTL(t *testing.T) {
	mem := cache.NewMemory()
	env := newTestEnvWith(t, mem)
	env.cfg.Features.Events.BufferTTL = time.Minute
	now := time.Now()
	mem.SetClock(func() time.Time { return now })
	ctx := context.Background()

	env.fill(t, model.Events, 1)
	now = now.Add(2 * time.Minute)
	assert.Equal(t, 0, env.buffer.Count(ctx, model.Events))
}

func TestBufferStore_AvailableFeaturesSorted(t *testing.T) {
	env := newTestEnv(t)
	env.fill(t, model.JavaScriptErrors, 1)
	env.fill(t, model.Errors, 1)

	got := env.buffer.AvailableFeatures(context.Background())
	assert.True(t, sort.SliceIsSorted(got, func(i, j int) bool {
		return indexOf(got[i]) < indexOf(got[j])
	}))
	assert.Len(t, got, 2)
}

func indexOf(f model.Feature) int {
	for i, af := range model.AllFeatures {
		if af == f {
			return i
		}
	}
	return -1
}
