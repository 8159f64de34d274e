// Package metrics exposes pipeline counters so that dropped data is a
// visible, counted outcome.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Drop reasons.
const (
	DropOverflow     = "overflow"
	DropLockTimeout  = "lock_timeout"
	DropCacheError   = "cache_error"
	DropRejected     = "rejected"
	DropLaneFull     = "lane_full"
	DropEncodeFailed = "encode_failed"
)

// Metrics groups every collector used by the pipeline.
type Metrics struct {
	Enqueued      *prometheus.CounterVec
	Dropped       *prometheus.CounterVec
	Requeued      *prometheus.CounterVec
	Batches       *prometheus.CounterVec
	Pauses        *prometheus.CounterVec
	JobsExhausted *prometheus.CounterVec
	SendLatency   *prometheus.HistogramVec
}

// New registers the collectors on reg. Use prometheus.NewRegistry in tests.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		Enqueued: f.NewCounterVec(prometheus.CounterOpts{
			Name: "pulsegate_items_enqueued_total",
			Help: "Items appended to a feature buffer.",
		}, []string{"feature"}),
		Dropped: f.NewCounterVec(prometheus.CounterOpts{
			Name: "pulsegate_items_dropped_total",
			Help: "Items lost, by reason.",
		}, []string{"feature", "reason"}),
		Requeued: f.NewCounterVec(prometheus.CounterOpts{
			Name: "pulsegate_items_requeued_total",
			Help: "Items put back into a buffer after a failed send.",
		}, []string{"feature"}),
		Batches: f.NewCounterVec(prometheus.CounterOpts{
			Name: "pulsegate_batches_sent_total",
			Help: "Batch send attempts, by response status (0 for transport failure).",
		}, []string{"feature", "status"}),
		Pauses: f.NewCounterVec(prometheus.CounterOpts{
			Name: "pulsegate_pauses_set_total",
			Help: "Pauses set, by scope and reason.",
		}, []string{"scope", "reason"}),
		JobsExhausted: f.NewCounterVec(prometheus.CounterOpts{
			Name: "pulsegate_jobs_exhausted_total",
			Help: "Dispatch jobs that used every retry attempt.",
		}, []string{"feature"}),
		SendLatency: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "pulsegate_send_duration_seconds",
			Help:    "Latency of batch sends.",
			Buckets: prometheus.DefBuckets,
		}, []string{"feature"}),
	}
}

// NewNop returns metrics registered on a private registry.
func NewNop() *Metrics {
	return New(prometheus.NewRegistry())
}
