package engine

import (
	"context"
	"strconv"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"pulsegate/pkg/config"
	"pulsegate/pkg/logging"
	"pulsegate/pkg/metrics"
	"pulsegate/pkg/model"
)

// Sender delivers one batch to the remote API.
type Sender interface {
	Send(ctx context.Context, f model.Feature, items []map[string]any) model.BatchResult
}

// Dispatcher connects Buffer Store -> Sender -> Classifier for each feature.
// It runs at most one job per feature at a time.
type Dispatcher struct {
	cfg        *config.Config
	buffer     *BufferStore
	pauses     *PauseState
	sender     Sender
	reconciler *Reconciler
	metrics    *metrics.Metrics
	log        *logrus.Entry

	mu       sync.Mutex
	inFlight map[model.Feature]bool
	jobs     sync.WaitGroup

	trigger chan model.Feature
}

func NewDispatcher(cfg *config.Config, buf *BufferStore, pauses *PauseState, sender Sender, m *metrics.Metrics, log logrus.FieldLogger) *Dispatcher {
	return &Dispatcher{
		cfg:        cfg,
		buffer:     buf,
		pauses:     pauses,
		sender:     sender,
		reconciler: NewReconciler(buf, pauses, m, log),
		metrics:    m,
		log:        logging.Component(log, "dispatcher"),
		inFlight:   make(map[model.Feature]bool),
		trigger:    make(chan model.Feature, len(model.AllFeatures)),
	}
}

// Dispatch runs one Fetching -> Sending -> Reconciling cycle for f.
// The buffer lock is only held inside Take and the re-append, never
// across the send. An error wrapping ErrRetryable means the batch went
// back into the buffer and the job should retry.
func (d *Dispatcher) Dispatch(ctx context.Context, f model.Feature) error {
	fc := d.cfg.Feature(f)
	items := d.buffer.Take(ctx, f, fc.BatchMaxSize)
	if len(items) == 0 {
		return nil
	}

	start := time.Now()
	res := d.sender.Send(ctx, f, model.Payloads(items))
	d.metrics.SendLatency.WithLabelValues(string(f)).Observe(time.Since(start).Seconds())
	d.metrics.Batches.WithLabelValues(string(f), strconv.Itoa(res.Status)).Inc()

	d.log.WithFields(logrus.Fields{
		"feature": f,
		"items":   len(items),
		"status":  res.Status,
	}).Debug("Batch sent")

	decision := Classify(f, len(items), res)
	return d.reconciler.Reconcile(ctx, f, items, res, decision)
}

// Start runs the scheduler until ctx is done. Every interval, and on
// Trigger, each enabled feature that is not paused, has no job in flight
// and has pending items gets a job.
func (d *Dispatcher) Start(ctx context.Context) {
	d.log.WithField("interval", d.cfg.Batch.Interval).Info("Starting batch scheduler")

	ticker := time.NewTicker(d.cfg.Batch.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			d.log.Info("Batch scheduler stopped")
			return
		case <-ticker.C:
			for _, f := range d.cfg.EnabledFeatures() {
				d.schedule(ctx, f)
			}
		case f := <-d.trigger:
			if f == "" {
				for _, ef := range d.cfg.EnabledFeatures() {
					d.schedule(ctx, ef)
				}
				continue
			}
			if d.cfg.Feature(f).Enabled {
				d.schedule(ctx, f)
			}
		}
	}
}

// Trigger asks the scheduler for an immediate pass over f, or over every
// enabled feature when f is empty. It never blocks.
func (d *Dispatcher) Trigger(f model.Feature) {
	select {
	case d.trigger <- f:
	default:
	}
}

// Wait blocks until every in-flight job has finished.
func (d *Dispatcher) Wait() {
	d.jobs.Wait()
}

// schedule starts a job for f when the gates allow it and reports whether it did.
func (d *Dispatcher) schedule(ctx context.Context, f model.Feature) bool {
	if d.pauses.Paused(ctx, f) {
		d.log.WithField("feature", f).Debug("Feature paused, skipping")
		return false
	}
	if d.buffer.Count(ctx, f) == 0 {
		return false
	}
	if !d.acquire(f) {
		return false
	}

	d.jobs.Add(1)
	go func() {
		defer d.jobs.Done()
		defer d.release(f)
		_ = d.RunJob(ctx, f)
	}()
	return true
}

// DispatchAll runs one job for each feature concurrently and waits for
// them. Paused features and features with a job in flight are skipped.
// A failing job does not cancel the others.
func (d *Dispatcher) DispatchAll(ctx context.Context, features []model.Feature) error {
	var g errgroup.Group
	for _, f := range features {
		if d.pauses.Paused(ctx, f) {
			d.log.WithField("feature", f).Info("Feature paused, not dispatching")
			continue
		}
		if !d.acquire(f) {
			continue
		}
		g.Go(func() error {
			defer d.release(f)
			return d.RunJob(ctx, f)
		})
	}
	return g.Wait()
}

func (d *Dispatcher) acquire(f model.Feature) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.inFlight[f] {
		return false
	}
	d.inFlight[f] = true
	return true
}

func (d *Dispatcher) release(f model.Feature) {
	d.mu.Lock()
	delete(d.inFlight, f)
	d.mu.Unlock()
}
