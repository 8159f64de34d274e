package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/tidwall/gjson"

	"pulsegate/pkg/logging"
	"pulsegate/pkg/metrics"
	"pulsegate/pkg/model"
)

// ErrRetryable marks a dispatch cycle whose batch was requeued and should
// be retried by the job wrapper.
var ErrRetryable = errors.New("retryable delivery failure")

const (
	// pauseLong is applied to credential, plan and payload failures.
	pauseLong = 900 * time.Second
	// defaultRetryAfter applies to 429 responses without a usable header.
	defaultRetryAfter = 60 * time.Second
)

// Action is what happens to a taken batch after a send.
type Action int

const (
	AcceptProcessed Action = iota
	RequeueAll
	RequeuePartial
	DropAll
)

func (a Action) String() string {
	switch a {
	case AcceptProcessed:
		return "accept"
	case RequeueAll:
		return "requeue_all"
	case RequeuePartial:
		return "requeue_partial"
	case DropAll:
		return "drop_all"
	}
	return fmt.Sprintf("action(%d)", int(a))
}

// PauseScope is where a pause applies.
type PauseScope int

const (
	PauseNone PauseScope = iota
	PauseGlobal
	PauseFeature
)

// Counts are the per-item tallies reported in a 200 body.
type Counts struct {
	Received    int64
	Processed   int64
	Ignored     int64
	Failed      int64
	Unprocessed int64
}

// Decision is the outcome of classifying one batch result.
type Decision struct {
	Feature model.Feature
	Action  Action
	Indices []int // positions in the sent batch, for RequeuePartial

	Pause    PauseScope
	PauseFor time.Duration
	Reason   model.Reason

	// Retry asks the job wrapper for another attempt with backoff.
	Retry bool

	Counts Counts
}

// Classify maps the result of sending itemCount items of feature f to a
// decision. It is pure; Reconcile applies it.
func Classify(f model.Feature, itemCount int, res model.BatchResult) Decision {
	d := classify(itemCount, res)
	d.Feature = f
	return d
}

func classify(itemCount int, res model.BatchResult) Decision {
	status := res.Status
	switch {
	case status == 0:
		return Decision{Action: RequeueAll, Retry: true}
	case status == 200:
		return classifyAccepted(itemCount, res.Body)
	}

	switch status {
	case 401:
		return Decision{Action: RequeueAll, Pause: PauseGlobal, PauseFor: pauseLong, Reason: model.ReasonUnauthorized}
	case 403:
		return Decision{Action: RequeueAll, Pause: PauseFeature, PauseFor: pauseLong, Reason: model.ReasonForbidden}
	case 413:
		return Decision{Action: DropAll, Pause: PauseFeature, PauseFor: pauseLong, Reason: model.ReasonPayloadTooLarge}
	case 422:
		return Decision{Action: DropAll, Pause: PauseFeature, PauseFor: pauseLong, Reason: model.ReasonUnprocessable}
	case 429:
		wait := defaultRetryAfter
		if res.RetryAfter != nil && *res.RetryAfter > 0 {
			wait = time.Duration(*res.RetryAfter) * time.Second
		}
		return Decision{Action: RequeueAll, Pause: PauseFeature, PauseFor: wait, Reason: model.ReasonRateLimited}
	default:
		// 500 and anything unexpected, other 2xx included: requeue and let
		// the job back off.
		return Decision{Action: RequeueAll, Retry: true, Reason: model.ReasonFromStatus(status)}
	}
}

// classifyAccepted reads the item tallies of a 200 body. Unprocessed indexes
// are positions in the batch as sent; invalid and duplicate ones are skipped.
func classifyAccepted(itemCount int, body json.RawMessage) Decision {
	data := gjson.GetBytes(body, "data")
	counts := data.Get("items")
	if !counts.Exists() {
		counts = data
	}
	d := Decision{
		Action: AcceptProcessed,
		Counts: Counts{
			Received:    counts.Get("received").Int(),
			Processed:   counts.Get("processed").Int(),
			Ignored:     counts.Get("ignored").Int(),
			Failed:      counts.Get("failed").Int(),
			Unprocessed: counts.Get("unprocessed").Int(),
		},
	}

	seen := make(map[int]struct{})
	for _, idx := range data.Get("unprocessed_indexes").Array() {
		if idx.Type != gjson.Number {
			continue
		}
		i := int(idx.Int())
		if i < 0 || i >= itemCount {
			continue
		}
		if _, dup := seen[i]; dup {
			continue
		}
		seen[i] = struct{}{}
		d.Indices = append(d.Indices, i)
	}
	sort.Ints(d.Indices)
	if len(d.Indices) > 0 {
		d.Action = RequeuePartial
	}
	return d
}

// Reconciler applies classifier decisions to the buffer and pause state.
type Reconciler struct {
	buffer  *BufferStore
	pauses  *PauseState
	metrics *metrics.Metrics
	log     *logrus.Entry
}

func NewReconciler(buf *BufferStore, pauses *PauseState, m *metrics.Metrics, log logrus.FieldLogger) *Reconciler {
	return &Reconciler{
		buffer:  buf,
		pauses:  pauses,
		metrics: m,
		log:     logging.Component(log, "reconcile"),
	}
}

// Reconcile applies d for a batch of items. It returns an error wrapping
// ErrRetryable when the decision asks for a retry.
func (r *Reconciler) Reconcile(ctx context.Context, f model.Feature, items []model.BufferedItem, res model.BatchResult, d Decision) error {
	log := r.log.WithFields(logrus.Fields{
		"feature": f,
		"status":  res.Status,
		"items":   len(items),
	})

	switch d.Action {
	case AcceptProcessed, RequeuePartial:
		r.logCounts(log, d)
		if d.Action == RequeuePartial {
			requeue := make([]model.BufferedItem, 0, len(d.Indices))
			for _, i := range d.Indices {
				requeue = append(requeue, items[i])
			}
			r.buffer.ReAppend(ctx, f, requeue)
			log.WithField("requeued", len(requeue)).Info("Unprocessed items requeued")
		}
	case RequeueAll:
		r.buffer.ReAppend(ctx, f, items)
		r.logFailure(log, res, d)
	case DropAll:
		r.metrics.Dropped.WithLabelValues(string(f), metrics.DropRejected).Add(float64(len(items)))
		logging.Critical(log, "Batch rejected and discarded", dropContext(res, items))
	}

	if d.Pause != PauseNone {
		var err error
		if d.Pause == PauseGlobal {
			err = r.pauses.SetGlobalPause(ctx, d.PauseFor, d.Reason)
		} else {
			err = r.pauses.SetFeaturePause(ctx, f, d.PauseFor, d.Reason)
		}
		if err != nil {
			log.WithError(err).Warn("Pause could not be stored")
		}
	}

	if d.Retry {
		msg := res.Error
		if msg == "" {
			msg = fmt.Sprintf("status %d", res.Status)
		}
		return fmt.Errorf("%w: %s", ErrRetryable, msg)
	}
	return nil
}

func (r *Reconciler) logCounts(log *logrus.Entry, d Decision) {
	c := d.Counts
	fields := logrus.Fields{
		"received":    c.Received,
		"processed":   c.Processed,
		"ignored":     c.Ignored,
		"failed":      c.Failed,
		"unprocessed": c.Unprocessed,
	}
	if c.Failed > 0 {
		log.WithFields(fields).Warn("Some items failed during processing")
	}
	if c.Ignored > 0 {
		log.WithFields(fields).Info("Some items were ignored by the API")
	}
	if c.Unprocessed > 0 && len(d.Indices) == 0 {
		log.WithFields(fields).Warn("API reported unprocessed items without indexes")
	}
}

func (r *Reconciler) logFailure(log *logrus.Entry, res model.BatchResult, d Decision) {
	msg := gjson.GetBytes(res.Body, "error.message").String()
	entry := log.WithFields(logrus.Fields{"reason": d.Reason, "api_message": msg})
	switch {
	case res.Status == 0:
		entry.WithField("error", res.Error).Error("Network error during batch send")
	case res.Status == 401:
		entry.Error("API authentication failed, delivery paused globally")
	case res.Status == 403:
		entry.Error("API request forbidden, feature paused")
	case res.Status == 429:
		entry.WithField("pause_for", d.PauseFor).Warn("Rate limited, feature paused")
	case res.Status >= 500 && res.Status < 600:
		entry.Error("Server error during batch send")
	default:
		entry.Error("Unexpected API response status")
	}
}

// dropContext describes a discarded batch well enough to diagnose it.
func dropContext(res model.BatchResult, items []model.BufferedItem) logrus.Fields {
	size := 0
	for _, it := range items {
		if raw, err := json.Marshal(it.Data); err == nil {
			size += len(raw)
		}
	}
	fields := logrus.Fields{
		"reason":        model.ReasonFromStatus(res.Status),
		"payload_bytes": size,
		"api_message":   gjson.GetBytes(res.Body, "error.message").String(),
	}
	if len(items) > 0 {
		keys := make([]string, 0, len(items[0].Data))
		for k := range items[0].Data {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		fields["sample_keys"] = keys
	}
	return fields
}
