package main

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"pulsegate/pkg/cache"
	"pulsegate/pkg/config"
	"pulsegate/pkg/engine"
	"pulsegate/pkg/logging"
	"pulsegate/pkg/metrics"
	"pulsegate/pkg/output"
)

var (
	configPath string

	rootCmd = &cobra.Command{
		Use:   "pulsegate",
		Short: "Buffers application telemetry and ships it to the ingestion API in batches",
		Long: `pulsegate collects errors, events, logs, page visits and browser errors,
buffers them per feature in Redis or memory, and delivers them in batches.
Delivery pauses itself on authentication, quota and server failures.`,
		SilenceUsage: true,
	}
)

func main() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to a YAML config file")
	rootCmd.AddCommand(serveCmd, workCmd, testCmd, statusCmd, pauseClearCmd, bufferClearCmd, configCmd)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// runtime holds the shared state every command builds from config.
type runtime struct {
	cfg     *config.Config
	log     *logrus.Logger
	logFile io.Closer
	cache   cache.Cache
	redis   *redis.Client
	metrics *metrics.Metrics
	buffer  *engine.BufferStore
	pauses  *engine.PauseState
}

// newRuntime loads configuration and opens the cache. reg may be nil for
// one-shot commands that expose no metrics.
func newRuntime(ctx context.Context, reg prometheus.Registerer) (*runtime, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	log, closer, err := logging.New(cfg.InternalLogging)
	if err != nil {
		return nil, err
	}

	rt := &runtime{cfg: cfg, log: log, logFile: closer, metrics: metrics.NewNop()}
	if reg != nil {
		rt.metrics = metrics.New(reg)
	}

	switch cfg.Cache.Driver {
	case "memory":
		rt.cache = cache.NewMemory()
	default:
		rc := cache.NewRedis(cfg.Cache.Redis.Address, cfg.Cache.Redis.Password, cfg.Cache.Redis.DB)
		if err := rc.Client().Ping(ctx).Err(); err != nil {
			closer.Close()
			rc.Close()
			return nil, fmt.Errorf("redis %s: %w", cfg.Cache.Redis.Address, err)
		}
		rt.cache = rc
		rt.redis = rc.Client()
	}

	rt.buffer = engine.NewBufferStore(rt.cache, cfg, rt.metrics, log)
	rt.pauses = engine.NewPauseState(rt.cache, rt.metrics, log)
	return rt, nil
}

// sender picks the delivery target. dryRun prints batches to stdout
// instead of calling the API; mirror also prints every delivered batch.
func (rt *runtime) sender(dryRun, mirror bool) engine.Sender {
	if dryRun {
		return output.NewConsoleOutput(os.Stdout)
	}
	client := output.NewClient(rt.cfg, rt.log)
	if mirror {
		return output.NewFanOutOutput(client, output.NewConsoleOutput(os.Stdout))
	}
	return client
}

func (rt *runtime) Close() {
	if c, ok := rt.cache.(io.Closer); ok {
		c.Close()
	}
	rt.logFile.Close()
}
