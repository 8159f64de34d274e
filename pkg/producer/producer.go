// Package producer shapes host-application telemetry into buffered items.
// Producers never block on the network and never surface cache or
// transport failures to the host.
package producer

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"

	"pulsegate/pkg/config"
	"pulsegate/pkg/engine"
	"pulsegate/pkg/logging"
	"pulsegate/pkg/model"
)

// isoMillis is the ISO-8601 timestamp layout used in payloads.
const isoMillis = "2006-01-02T15:04:05.000Z07:00"

// base holds what every producer shares.
type base struct {
	cfg     *config.Config
	feature model.Feature
	sink    engine.Sink
	chain   *engine.ProcessorChain
	log     *logrus.Entry
	now     func() time.Time
}

func newBase(cfg *config.Config, f model.Feature, sink engine.Sink, chain *engine.ProcessorChain, log logrus.FieldLogger) base {
	return base{
		cfg:     cfg,
		feature: f,
		sink:    sink,
		chain:   chain,
		log:     logging.Component(log, "producer").WithField("feature", f),
		now:     time.Now,
	}
}

// Enabled reports whether the producer currently collects anything.
func (b *base) Enabled() bool {
	return b.cfg.Enabled && b.cfg.Feature(b.feature).Enabled
}

// SetClock overrides the time source.
func (b *base) SetClock(now func() time.Time) {
	b.now = now
}

// emit shapes data through the chain and hands it to the sink. It
// returns the name of the processor that dropped the item, or "" when
// the item was enqueued.
func (b *base) emit(ctx context.Context, data map[string]any) (droppedBy string, ok bool) {
	pctx := engine.NewProcessingContext(ctx, b.feature)
	out, drop, err := b.chain.Process(pctx, data)
	if err != nil {
		b.log.WithError(err).Warn("Payload shaping failed, item dropped")
		return "", false
	}
	if drop {
		b.log.WithField("processor", pctx.DroppedBy).Debug("Item filtered")
		return pctx.DroppedBy, false
	}
	clean, _ := Sanitize(out).(map[string]any)
	b.sink.Enqueue(ctx, b.feature, clean)
	return "", true
}
