// Package status assembles the health report shown by the status and
// pause-clear commands. It reads the Buffer Store and Pause State directly
// and never talks to the remote API.
package status

import (
	"context"
	"time"

	"pulsegate/pkg/config"
	"pulsegate/pkg/model"
)

// HealthThreshold is the share of the largest per-feature buffer size
// that the total buffered count may reach before the pipeline is reported
// unhealthy.
const HealthThreshold = 0.8

// Counter reports buffer depth per feature.
type Counter interface {
	Count(ctx context.Context, f model.Feature) int
}

// PauseReader exposes the stored pause records.
type PauseReader interface {
	GlobalPause(ctx context.Context) *model.PauseRecord
	FeaturePause(ctx context.Context, f model.Feature) *model.PauseRecord
	Now() time.Time
}

// Pause is a stored pause record as of the report time. A record whose
// expiry has passed but which the store still returns has Paused false.
type Pause struct {
	Paused           bool         `json:"paused"`
	PausedUntil      time.Time    `json:"paused_until"`
	Reason           model.Reason `json:"reason"`
	RemainingSeconds int64        `json:"time_remaining_seconds"`
}

type FeatureStatus struct {
	Feature     model.Feature `json:"feature"`
	Enabled     bool          `json:"enabled"`
	QueueName   string        `json:"queue_name"`
	Pause       *Pause        `json:"pause"`
	Buffered    int           `json:"buffered"`
	Capacity    int           `json:"capacity"`
	FillPercent float64       `json:"fill_percent"`
}

type ConfigSummary struct {
	Enabled          bool   `json:"enabled"`
	APIKeyConfigured bool   `json:"api_key_configured"`
	CacheDriver      string `json:"cache_driver"`
	APIURL           string `json:"api_url"`
	Environment      string `json:"environment"`
	BatchInterval    string `json:"batch_interval"`
}

// Report is the full status snapshot.
type Report struct {
	Healthy       bool            `json:"healthy"`
	Timestamp     time.Time       `json:"timestamp"`
	Global        *Pause          `json:"global_pause"`
	Features      []FeatureStatus `json:"features"`
	TotalBuffered int             `json:"total_buffered"`
	MaxPerFeature int             `json:"max_per_feature"`
	Config        ConfigSummary   `json:"config"`
}

// Collect builds a report for every known feature, enabled or not, since
// a disabled feature may still hold buffered items.
func Collect(ctx context.Context, cfg *config.Config, buf Counter, pauses PauseReader) Report {
	now := pauses.Now()
	r := Report{
		Timestamp:     now.UTC(),
		Global:        pauseOf(pauses.GlobalPause(ctx), now),
		MaxPerFeature: cfg.MaxBufferSize(),
		Config: ConfigSummary{
			Enabled:          cfg.Enabled,
			APIKeyConfigured: cfg.Key != "",
			CacheDriver:      cfg.Cache.Driver,
			APIURL:           cfg.APIURL,
			Environment:      cfg.Environment,
			BatchInterval:    cfg.Batch.Interval.String(),
		},
	}

	for _, f := range model.AllFeatures {
		fc := cfg.Feature(f)
		fs := FeatureStatus{
			Feature:   f,
			Enabled:   fc.Enabled,
			QueueName: fc.QueueName,
			Pause:     pauseOf(pauses.FeaturePause(ctx, f), now),
			Buffered:  buf.Count(ctx, f),
			Capacity:  fc.BufferMaxSize,
		}
		if fs.Capacity > 0 {
			fs.FillPercent = float64(fs.Buffered) / float64(fs.Capacity) * 100
		}
		r.TotalBuffered += fs.Buffered
		r.Features = append(r.Features, fs)
	}

	r.Healthy = !r.GloballyPaused() && !r.NearCapacity()
	return r
}

// NearCapacity reports whether the total buffered count has reached
// HealthThreshold of the largest per-feature buffer size.
func (r Report) NearCapacity() bool {
	return float64(r.TotalBuffered) >= float64(r.MaxPerFeature)*HealthThreshold
}

// GloballyPaused reports whether an unexpired global pause exists.
func (r Report) GloballyPaused() bool {
	return r.Global != nil && r.Global.Paused
}

// Feature returns the status of f, or nil when the report lacks it.
func (r Report) Feature(f model.Feature) *FeatureStatus {
	for i := range r.Features {
		if r.Features[i].Feature == f {
			return &r.Features[i]
		}
	}
	return nil
}

func pauseOf(rec *model.PauseRecord, now time.Time) *Pause {
	if rec == nil {
		return nil
	}
	return &Pause{
		Paused:           rec.Active(now),
		PausedUntil:      rec.PausedUntil,
		Reason:           rec.Reason,
		RemainingSeconds: int64(rec.Remaining(now).Seconds()),
	}
}
