package status

import (
	"bytes"
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pulsegate/pkg/cache"
	"pulsegate/pkg/config"
	"pulsegate/pkg/engine"
	"pulsegate/pkg/logging"
	"pulsegate/pkg/metrics"
	"pulsegate/pkg/model"
)

var now = time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC)

type counts map[model.Feature]int

func (c counts) Count(_ context.Context, f model.Feature) int { return c[f] }

type pauses struct {
	global   *model.PauseRecord
	features map[model.Feature]*model.PauseRecord
}

func (p pauses) GlobalPause(context.Context) *model.PauseRecord { return p.global }
func (p pauses) FeaturePause(_ context.Context, f model.Feature) *model.PauseRecord {
	return p.features[f]
}
func (p pauses) Now() time.Time { return now }

func smallConfig() *config.Config {
	cfg := config.DefaultConfig()
	cfg.Key = "k"
	cfg.Enabled = true
	for _, fc := range []*config.FeatureConfig{
		&cfg.Features.Errors, &cfg.Features.Events, &cfg.Features.Logs,
		&cfg.Features.PageVisits, &cfg.Features.JavaScriptErrors,
	} {
		fc.BufferMaxSize = 10
	}
	return cfg
}

func TestCollect_HealthyWhenIdle(t *testing.T) {
	r := Collect(context.Background(), smallConfig(), counts{model.Events: 3}, pauses{})

	assert.True(t, r.Healthy)
	assert.Equal(t, 3, r.TotalBuffered)
	assert.Equal(t, 10, r.MaxPerFeature)
	assert.Len(t, r.Features, len(model.AllFeatures))

	ev := r.Feature(model.Events)
	require.NotNil(t, ev)
	assert.InDelta(t, 30.0, ev.FillPercent, 0.001)
	assert.Nil(t, ev.Pause)
	assert.True(t, r.Config.APIKeyConfigured)
	assert.Empty(t, Recommendations(r))
}

func TestCollect_GlobalPauseIsUnhealthy(t *testing.T) {
	p := pauses{global: &model.PauseRecord{PausedUntil: now.Add(90 * time.Second), Reason: model.ReasonUnauthorized}}
	r := Collect(context.Background(), smallConfig(), counts{}, p)

	assert.False(t, r.Healthy)
	require.NotNil(t, r.Global)
	assert.True(t, r.Global.Paused)
	assert.Equal(t, int64(90), r.Global.RemainingSeconds)
	assert.Contains(t, Recommendations(r), "Run: pulsegate pause-clear --global")
}

func TestCollect_ExpiredPauseIsNotPaused(t *testing.T) {
	p := pauses{global: &model.PauseRecord{PausedUntil: now.Add(-time.Second), Reason: model.ReasonUnauthorized}}
	r := Collect(context.Background(), smallConfig(), counts{}, p)

	assert.True(t, r.Healthy)
	assert.False(t, r.Global.Paused)
	assert.Zero(t, r.Global.RemainingSeconds)
}

func TestCollect_NearCapacityIsUnhealthy(t *testing.T) {
	r := Collect(context.Background(), smallConfig(), counts{model.Errors: 4, model.Logs: 4}, pauses{})

	assert.False(t, r.Healthy, "8 is 80% of the largest buffer size")
	assert.True(t, r.NearCapacity())
	assert.Contains(t, Recommendations(r), "Buffers approaching capacity, data may be dropped")
}

func TestCollect_ThresholdUsesLargestFeatureBuffer(t *testing.T) {
	cfg := smallConfig()
	cfg.Features.Logs.BufferMaxSize = 100

	r := Collect(context.Background(), cfg, counts{model.Errors: 10, model.Logs: 69}, pauses{})
	assert.Equal(t, 100, r.MaxPerFeature)
	assert.True(t, r.Healthy, "79 is below 80")

	r = Collect(context.Background(), cfg, counts{model.Errors: 10, model.Logs: 70}, pauses{})
	assert.False(t, r.Healthy, "80 reaches the threshold")
}

func TestCollect_DefaultThreshold(t *testing.T) {
	cfg := config.DefaultConfig()
	r := Collect(context.Background(), cfg, counts{model.Errors: 2000, model.Events: 2000}, pauses{})

	assert.Equal(t, cfg.MaxBufferSize(), r.MaxPerFeature)
	assert.False(t, r.Healthy, "4000 buffered trips the default 5000 * 0.8")
}

func TestRecommendations_FeaturePauseHint(t *testing.T) {
	p := pauses{
		global: &model.PauseRecord{PausedUntil: now.Add(time.Minute), Reason: model.ReasonUnauthorized},
		features: map[model.Feature]*model.PauseRecord{
			model.Logs: {PausedUntil: now.Add(time.Minute), Reason: model.ReasonPayloadTooLarge},
		},
	}
	recs := Recommendations(Collect(context.Background(), smallConfig(), counts{}, p))

	assert.Contains(t, recs, "Feature 'logs' paused (reason: 413)")
	assert.Contains(t, recs, "  -> Batch too large, client bug, investigate immediately")
}

func TestCollect_RealStores(t *testing.T) {
	ctx := context.Background()
	cfg := smallConfig()
	mem := cache.NewMemory()
	buf := engine.NewBufferStore(mem, cfg, metrics.NewNop(), logging.Discard())
	ps := engine.NewPauseState(mem, metrics.NewNop(), logging.Discard())

	buf.Enqueue(ctx, model.Logs, map[string]any{"message": "a"})
	buf.Enqueue(ctx, model.Logs, map[string]any{"message": "b"})
	require.NoError(t, ps.SetFeaturePause(ctx, model.Logs, time.Minute, model.ReasonRateLimited))

	r := Collect(ctx, cfg, buf, ps)
	logs := r.Feature(model.Logs)
	require.NotNil(t, logs)
	assert.Equal(t, 2, logs.Buffered)
	require.NotNil(t, logs.Pause)
	assert.True(t, logs.Pause.Paused)
	assert.Equal(t, model.ReasonRateLimited, logs.Pause.Reason)
	assert.True(t, r.Healthy)
}

func TestTips(t *testing.T) {
	for _, reason := range []model.Reason{
		model.ReasonUnauthorized, model.ReasonForbidden, model.ReasonPayloadTooLarge,
		model.ReasonUnprocessable, model.ReasonRateLimited, model.ReasonServerError,
	} {
		assert.NotEmpty(t, Tips(reason), string(reason))
	}
	assert.Equal(t, []string{"Check the internal log for details"}, Tips("502"))
}

func TestRenderJSON(t *testing.T) {
	p := pauses{features: map[model.Feature]*model.PauseRecord{
		model.Events: {PausedUntil: now.Add(time.Minute), Reason: model.ReasonRateLimited},
	}}
	var out bytes.Buffer
	require.NoError(t, RenderJSON(&out, Collect(context.Background(), smallConfig(), counts{}, p)))

	var decoded map[string]any
	require.NoError(t, json.Unmarshal(out.Bytes(), &decoded))
	assert.Equal(t, true, decoded["healthy"])
	assert.Nil(t, decoded["global_pause"])
	features := decoded["features"].([]any)
	events := features[1].(map[string]any)
	assert.Equal(t, "events", events["feature"])
	assert.Equal(t, "429", events["pause"].(map[string]any)["reason"])
}

func TestRenderText(t *testing.T) {
	p := pauses{
		global: &model.PauseRecord{PausedUntil: now.Add(125 * time.Second), Reason: model.ReasonUnauthorized},
	}
	var out bytes.Buffer
	require.NoError(t, RenderText(&out, Collect(context.Background(), smallConfig(), counts{model.Errors: 9}, p)))

	text := out.String()
	assert.Contains(t, text, "ISSUES DETECTED")
	assert.Contains(t, text, "Remaining: 2m 5s")
	assert.Contains(t, text, "RECOMMENDATIONS")
	assert.Contains(t, text, "Last checked: 2026-03-14T09:00:00Z")
}

func TestBarAndFormatRemaining(t *testing.T) {
	assert.Equal(t, "██████████░░░░░░░░░░", Bar(50))
	assert.Equal(t, "████████████████████", Bar(150))
	assert.Equal(t, "expired", FormatRemaining(0))
	assert.Equal(t, "45s", FormatRemaining(45))
	assert.Equal(t, "1m 30s", FormatRemaining(90))
}
