package engine

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/tidwall/gjson"

	"pulsegate/pkg/cache"
	"pulsegate/pkg/config"
	"pulsegate/pkg/logging"
	"pulsegate/pkg/metrics"
	"pulsegate/pkg/model"
)

const bufferPrefix = "pulsegate:buffer:"

// BufferStore keeps one FIFO buffer per feature in the shared cache.
// Every mutation runs under a per-feature lock; there is no lock across
// features. Lock or cache failures degrade to a logged no-op.
type BufferStore struct {
	cache   cache.Cache
	cfg     *config.Config
	metrics *metrics.Metrics
	log     *logrus.Entry
	now     func() time.Time
}

func NewBufferStore(c cache.Cache, cfg *config.Config, m *metrics.Metrics, log logrus.FieldLogger) *BufferStore {
	return &BufferStore{
		cache:   c,
		cfg:     cfg,
		metrics: m,
		log:     logging.Component(log, "buffer"),
		now:     time.Now,
	}
}

func bufferKey(f model.Feature) string {
	return bufferPrefix + string(f)
}

func lockKey(f model.Feature) string {
	return bufferKey(f) + ":lock"
}

// Enqueue implements Sink.
func (b *BufferStore) Enqueue(ctx context.Context, f model.Feature, data map[string]any) {
	b.Append(ctx, f, data)
}

// Append adds one item to the back of the feature buffer, evicting the
// oldest items past the configured maximum.
func (b *BufferStore) Append(ctx context.Context, f model.Feature, data map[string]any) {
	b.appendAll(ctx, f, []map[string]any{data})
}

// ReAppend puts previously taken payloads back at the end of the buffer.
// Items get fresh IDs and timestamps; the data is unchanged.
func (b *BufferStore) ReAppend(ctx context.Context, f model.Feature, items []model.BufferedItem) {
	if len(items) == 0 {
		return
	}
	if b.appendAll(ctx, f, model.Payloads(items)) {
		b.metrics.Requeued.WithLabelValues(string(f)).Add(float64(len(items)))
	}
}

// appendAll reports whether the payloads were stored. Failures are already
// counted as drops.
func (b *BufferStore) appendAll(ctx context.Context, f model.Feature, payloads []map[string]any) bool {
	fc := b.cfg.Feature(f)
	err := b.locked(ctx, f, func() error {
		buf, err := b.load(ctx, f)
		if err != nil {
			return err
		}
		now := b.now()
		for _, p := range payloads {
			buf = append(buf, model.NewBufferedItem(p, now))
		}

		if over := len(buf) - fc.BufferMaxSize; over > 0 {
			buf = append([]model.BufferedItem(nil), buf[over:]...)
			b.metrics.Dropped.WithLabelValues(string(f), metrics.DropOverflow).Add(float64(over))
			b.log.WithFields(logrus.Fields{
				"feature":  f,
				"evicted":  over,
				"max_size": fc.BufferMaxSize,
			}).Warn("Buffer full, oldest items evicted")
		}
		return b.save(ctx, f, buf)
	})
	if err != nil {
		b.dropOnError(f, len(payloads), err, "Append failed, items dropped")
		return false
	}
	b.metrics.Enqueued.WithLabelValues(string(f)).Add(float64(len(payloads)))
	return true
}

// Take removes and returns up to limit of the oldest items. The read and the
// removal happen under the same lock, so concurrent takers never see the
// same item. On failure it returns nil.
func (b *BufferStore) Take(ctx context.Context, f model.Feature, limit int) []model.BufferedItem {
	if limit <= 0 {
		return nil
	}
	var taken []model.BufferedItem
	err := b.locked(ctx, f, func() error {
		buf, err := b.load(ctx, f)
		if err != nil {
			return err
		}
		if len(buf) == 0 {
			return nil
		}
		n := min(limit, len(buf))
		rest := buf[n:]
		if err := b.save(ctx, f, rest); err != nil {
			return err
		}
		taken = buf[:n]
		return nil
	})
	if err != nil {
		b.log.WithError(err).WithField("feature", f).Warn("Take failed, retrying next cycle")
		return nil
	}
	return taken
}

// Count returns the number of pending items without locking.
func (b *BufferStore) Count(ctx context.Context, f model.Feature) int {
	raw, err := b.cache.Get(ctx, bufferKey(f))
	if err != nil {
		if !errors.Is(err, cache.ErrMiss) {
			b.log.WithError(err).WithField("feature", f).Warn("Count failed")
		}
		return 0
	}
	return int(gjson.GetBytes(raw, "#").Int())
}

// Clear discards every pending item of the feature.
func (b *BufferStore) Clear(ctx context.Context, f model.Feature) error {
	return b.cache.Delete(ctx, bufferKey(f))
}

// AvailableFeatures lists the features that have pending items.
func (b *BufferStore) AvailableFeatures(ctx context.Context) []model.Feature {
	var out []model.Feature
	for _, f := range model.AllFeatures {
		if b.Count(ctx, f) > 0 {
			out = append(out, f)
		}
	}
	return out
}

func (b *BufferStore) locked(ctx context.Context, f model.Feature, fn func() error) error {
	unlock, err := b.cache.Lock(ctx, lockKey(f), b.cfg.Batch.LockTTL, b.cfg.Batch.LockWait)
	if err != nil {
		return err
	}
	defer unlock()
	return fn()
}

func (b *BufferStore) load(ctx context.Context, f model.Feature) ([]model.BufferedItem, error) {
	raw, err := b.cache.Get(ctx, bufferKey(f))
	if errors.Is(err, cache.ErrMiss) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var buf []model.BufferedItem
	if err := json.Unmarshal(raw, &buf); err != nil {
		// A corrupt buffer cannot be recovered; start over rather than wedge the feature.
		b.log.WithError(err).WithField("feature", f).Error("Corrupt buffer discarded")
		return nil, nil
	}
	return buf, nil
}

// save writes buf back, deleting the key once the buffer is empty.
func (b *BufferStore) save(ctx context.Context, f model.Feature, buf []model.BufferedItem) error {
	if len(buf) == 0 {
		return b.cache.Delete(ctx, bufferKey(f))
	}
	raw, err := json.Marshal(buf)
	if err != nil {
		return err
	}
	return b.cache.Set(ctx, bufferKey(f), raw, b.cfg.Feature(f).BufferTTL)
}

func (b *BufferStore) dropOnError(f model.Feature, n int, err error, msg string) {
	reason := metrics.DropCacheError
	if errors.Is(err, cache.ErrLockTimeout) {
		reason = metrics.DropLockTimeout
	}
	var jerr *json.UnsupportedTypeError
	if errors.As(err, &jerr) {
		reason = metrics.DropEncodeFailed
	}
	b.metrics.Dropped.WithLabelValues(string(f), reason).Add(float64(n))
	b.log.WithError(err).WithFields(logrus.Fields{
		"feature": f,
		"items":   n,
		"reason":  reason,
	}).Warn(msg)
}
