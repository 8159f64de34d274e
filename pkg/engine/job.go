package engine

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/sirupsen/logrus"

	"pulsegate/pkg/logging"
	"pulsegate/pkg/model"
)

var errPausedMidJob = errors.New("feature paused")

// scheduleBackOff replays a fixed list of delays, repeating the last one,
// and stops after maxRetries.
type scheduleBackOff struct {
	delays     []time.Duration
	maxRetries int
	n          int
}

func newScheduleBackOff(delays []time.Duration, attempts int) *scheduleBackOff {
	return &scheduleBackOff{delays: delays, maxRetries: attempts - 1}
}

func (s *scheduleBackOff) NextBackOff() time.Duration {
	if s.n >= s.maxRetries || len(s.delays) == 0 {
		return backoff.Stop
	}
	d := s.delays[min(s.n, len(s.delays)-1)]
	s.n++
	return d
}

func (s *scheduleBackOff) Reset() {
	s.n = 0
}

// RunJob dispatches f, retrying retryable failures on the configured
// backoff schedule. Once every attempt failed it pauses the feature and
// logs at critical severity. Each attempt takes a fresh batch.
//
// Cancelling ctx stops further retries; an attempt already running is
// allowed to finish so taken items are reconciled.
func (d *Dispatcher) RunJob(ctx context.Context, f model.Feature) error {
	batch := d.cfg.Batch
	log := d.log.WithField("feature", f)

	attempts := 0
	var lastErr error
	op := func() error {
		if attempts > 0 && d.pauses.Paused(ctx, f) {
			return backoff.Permanent(errPausedMidJob)
		}
		attempts++
		lastErr = d.Dispatch(context.WithoutCancel(ctx), f)
		if lastErr != nil && !errors.Is(lastErr, ErrRetryable) {
			return backoff.Permanent(lastErr)
		}
		return lastErr
	}
	notify := func(err error, wait time.Duration) {
		log.WithError(err).WithFields(logrus.Fields{
			"attempt":  attempts,
			"retry_in": wait,
		}).Warn("Batch attempt failed, retrying")
	}

	err := backoff.RetryNotify(op, backoff.WithContext(newScheduleBackOff(batch.Backoff, batch.MaxAttempts), ctx), notify)
	switch {
	case err == nil:
		return nil
	case errors.Is(err, errPausedMidJob):
		log.Info("Feature paused during retries, job ended")
		return nil
	case errors.Is(err, ErrRetryable) && attempts >= batch.MaxAttempts:
		d.exhausted(ctx, f, attempts, err)
	}
	return err
}

func (d *Dispatcher) exhausted(ctx context.Context, f model.Feature, attempts int, err error) {
	d.metrics.JobsExhausted.WithLabelValues(string(f)).Inc()
	logging.Critical(d.log, "Batch job failed after all retries", logrus.Fields{
		"feature":  f,
		"attempts": attempts,
		"error":    err.Error(),
	})
	if perr := d.pauses.SetFeaturePause(context.WithoutCancel(ctx), f, d.cfg.Batch.ExhaustedPause, model.ReasonServerError); perr != nil {
		d.log.WithError(perr).WithField("feature", f).Warn("Exhaustion pause could not be stored")
	}
}
