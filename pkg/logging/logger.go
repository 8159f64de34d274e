// Package logging builds the isolated internal diagnostics channel.
// It is a dedicated logrus instance and is never hooked into the
// telemetry being collected, so pipeline failures cannot loop back into
// the pipeline.
package logging

import (
	"fmt"
	"io"
	"os"

	"github.com/sirupsen/logrus"

	"pulsegate/pkg/config"
)

// SeverityCritical tags entries that need operator attention.
const SeverityCritical = "critical"

// New creates the internal logger from configuration. The returned closer
// releases the log file, if any.
func New(cfg config.InternalLogConfig) (*logrus.Logger, io.Closer, error) {
	log := logrus.New()

	if !cfg.Enabled {
		log.SetOutput(io.Discard)
		return log, nopCloser{}, nil
	}

	level, err := logrus.ParseLevel(cfg.Level)
	if err != nil {
		return nil, nil, fmt.Errorf("internal log level: %w", err)
	}
	log.SetLevel(level)

	switch cfg.Format {
	case "json":
		log.SetFormatter(&logrus.JSONFormatter{})
	default:
		log.SetFormatter(&logrus.TextFormatter{DisableColors: true, FullTimestamp: true})
	}

	if cfg.File == "" {
		log.SetOutput(os.Stderr)
		return log, nopCloser{}, nil
	}

	f, err := os.OpenFile(cfg.File, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		// Stderr fallback keeps diagnostics flowing when the file is unusable.
		log.SetOutput(os.Stderr)
		log.WithError(err).Warn("Internal log file unavailable, using stderr")
		return log, nopCloser{}, nil
	}
	log.SetOutput(f)
	return log, f, nil
}

// Component returns an entry scoped to a named component.
func Component(log logrus.FieldLogger, name string) *logrus.Entry {
	if log == nil {
		log = Discard()
	}
	return log.WithField("component", name)
}

// Critical logs at error level with the critical severity marker.
func Critical(log logrus.FieldLogger, msg string, fields logrus.Fields) {
	log.WithFields(fields).WithField("severity", SeverityCritical).Error(msg)
}

// Discard is a logger that writes nowhere, for tests and disabled setups.
func Discard() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }
