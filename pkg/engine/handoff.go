package engine

import (
	"context"
	"fmt"
	"sync"

	"github.com/sirupsen/logrus"

	"pulsegate/pkg/config"
	"pulsegate/pkg/logging"
	"pulsegate/pkg/metrics"
	"pulsegate/pkg/model"
)

// Sink accepts shaped payloads from producers. Enqueue never fails from
// the caller's point of view; losses are logged and counted.
type Sink interface {
	Enqueue(ctx context.Context, f model.Feature, data map[string]any)
}

// Handoff routes producer payloads to the Buffer Store. Features with
// queue enabled go through a bounded lane named by queue_name and are
// appended by that lane's drainer; the others are appended inline.
type Handoff struct {
	cfg     *config.Config
	store   *BufferStore
	metrics *metrics.Metrics
	log     *logrus.Entry

	lanes map[string]*RingBuffer
	wg    sync.WaitGroup
}

func NewHandoff(cfg *config.Config, store *BufferStore, m *metrics.Metrics, log logrus.FieldLogger) (*Handoff, error) {
	h := &Handoff{
		cfg:     cfg,
		store:   store,
		metrics: m,
		log:     logging.Component(log, "handoff"),
		lanes:   make(map[string]*RingBuffer),
	}
	for _, f := range model.AllFeatures {
		fc := cfg.Feature(f)
		if !fc.Queue {
			continue
		}
		if _, ok := h.lanes[fc.QueueName]; ok {
			continue
		}
		rb, err := NewRingBuffer(cfg.Batch.LaneSize)
		if err != nil {
			return nil, fmt.Errorf("lane %s: %w", fc.QueueName, err)
		}
		h.lanes[fc.QueueName] = rb
	}
	return h, nil
}

// Enqueue implements Sink.
func (h *Handoff) Enqueue(ctx context.Context, f model.Feature, data map[string]any) {
	fc := h.cfg.Feature(f)
	lane, ok := h.lanes[fc.QueueName]
	if !fc.Queue || !ok {
		h.store.Append(ctx, f, data)
		return
	}
	if err := lane.Push(f, data); err != nil {
		h.metrics.Dropped.WithLabelValues(string(f), metrics.DropLaneFull).Inc()
		h.log.WithFields(logrus.Fields{
			"feature": f,
			"lane":    fc.QueueName,
			"dropped": lane.DroppedCount(),
		}).Warn("Lane full, item dropped")
	}
}

// Start runs one drainer per lane until ctx is done. Items still queued
// at shutdown are flushed to the store before the drainer exits.
func (h *Handoff) Start(ctx context.Context) {
	for name, lane := range h.lanes {
		h.wg.Add(1)
		go func() {
			defer h.wg.Done()
			h.drain(ctx, name, lane)
		}()
	}
}

// Wait blocks until every drainer has exited.
func (h *Handoff) Wait() {
	h.wg.Wait()
}

// Pending is the number of items waiting in lanes.
func (h *Handoff) Pending() uint64 {
	var n uint64
	for _, lane := range h.lanes {
		n += lane.Usage()
	}
	return n
}

func (h *Handoff) drain(ctx context.Context, name string, lane *RingBuffer) {
	log := h.log.WithField("lane", name)
	log.Debug("Lane drainer started")

	// Appends outlive the request that produced the item.
	appendCtx := context.WithoutCancel(ctx)
	flush := func() {
		for {
			f, data, ok := lane.Pop()
			if !ok {
				return
			}
			h.store.Append(appendCtx, f, data)
		}
	}

	for {
		flush()
		select {
		case <-ctx.Done():
			flush()
			log.Debug("Lane drainer stopped")
			return
		case <-lane.Ready():
		}
	}
}
