package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"pulsegate/pkg/control"
	"pulsegate/pkg/engine"
	"pulsegate/pkg/ingest"
	"pulsegate/pkg/producer"
)

var (
	serveDryRun bool
	serveMirror bool

	serveCmd = &cobra.Command{
		Use:   "serve",
		Short: "Run the batch scheduler, ingest servers and control watcher",
		RunE:  runServe,
	}
)

func init() {
	serveCmd.Flags().BoolVar(&serveDryRun, "dry-run", false, "print batches to stdout instead of sending them")
	serveCmd.Flags().BoolVar(&serveMirror, "mirror", false, "also print every delivered batch to stdout")
}

func runServe(cmd *cobra.Command, _ []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// 1. Config, cache and state
	rt, err := newRuntime(ctx, prometheus.DefaultRegisterer)
	if err != nil {
		return err
	}
	defer rt.Close()
	cfg, log := rt.cfg, rt.log
	gin.SetMode(gin.ReleaseMode)

	// 2. Handoff lanes between producers and the buffer
	handoff, err := engine.NewHandoff(cfg, rt.buffer, rt.metrics, log)
	if err != nil {
		return err
	}

	// 3. Dispatcher
	dispatcher := engine.NewDispatcher(cfg, rt.buffer, rt.pauses, rt.sender(serveDryRun, serveMirror), rt.metrics, log)

	// 4. Producers and ingest
	js := producer.NewJSErrorCollector(cfg, handoff, log)
	logs, err := producer.NewLogForwarder(cfg, handoff, log)
	if err != nil {
		return err
	}
	httpSrv := ingest.NewHTTPServer(cfg.Server.HTTPAddr, js, prometheus.DefaultGatherer, log)
	httpSrv.ReportPanics(producer.NewErrorReporter(cfg, handoff, log))

	// Drainers outlive the servers so that late items still reach the store.
	handoffCtx, stopHandoff := context.WithCancel(context.WithoutCancel(ctx))
	handoff.Start(handoffCtx)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		dispatcher.Start(gctx)
		dispatcher.Wait()
		return nil
	})
	g.Go(func() error { return httpSrv.Start(gctx) })
	if addr := cfg.Server.TCPAddr; addr != "" {
		tcp := ingest.NewTCPIngestor(addr, logs, log)
		g.Go(func() error { return tcp.Start(gctx) })
	}
	if addr := cfg.Server.UDPAddr; addr != "" {
		udp := ingest.NewUDPIngestor(addr, logs, log)
		g.Go(func() error { return udp.Start(gctx) })
	}
	if rt.redis != nil {
		watcher := control.NewWatcher(rt.redis, cfg.Cache.Redis.Channel, dispatcher, log)
		g.Go(func() error { return watcher.Start(gctx) })
	}

	log.WithField("features", cfg.EnabledFeatures()).Info("pulsegate running")
	err = g.Wait()

	stopHandoff()
	handoff.Wait()
	log.Info("pulsegate stopped")
	return err
}
