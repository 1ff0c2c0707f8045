// Package main runs the batch generation server: HTTP API, event hub,
// pipeline workers, and the retention sweeper.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/drmweyers/mealbatch/internal/api"
	"github.com/drmweyers/mealbatch/internal/broadcast"
	"github.com/drmweyers/mealbatch/internal/broadcast/sinks"
	"github.com/drmweyers/mealbatch/internal/clock/system"
	"github.com/drmweyers/mealbatch/internal/config"
	"github.com/drmweyers/mealbatch/internal/dispatch"
	"github.com/drmweyers/mealbatch/internal/logging"
	"github.com/drmweyers/mealbatch/internal/registry"
	"github.com/drmweyers/mealbatch/internal/retention"
	"github.com/drmweyers/mealbatch/internal/store"
	"github.com/drmweyers/mealbatch/internal/store/postgres"
	"github.com/drmweyers/mealbatch/internal/worker"
)

func main() {
	cfgPath := flag.String("config", "", "Path to config file")
	flag.Parse()

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config failed: %v\n", err)
		os.Exit(1)
	}
	logger, err := logging.New(cfg.Logging.Development)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger init failed: %v\n", err)
		os.Exit(1)
	}
	defer func() {
		_ = logger.Sync()
	}()
	zap.ReplaceGlobals(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	clock := system.New()
	reg := registry.New(clock)

	promRegistry := prometheus.NewRegistry()
	promRegistry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	promSink, err := sinks.NewPrometheusSink(promRegistry)
	if err != nil {
		logger.Fatal("metrics init failed", zap.Error(err))
	}

	hubSinks := []broadcast.Sink{
		promSink,
		sinks.NewLogSink(logger.Named("events")),
	}

	var archive store.Archive
	if cfg.DB.DSN != "" {
		archiveStore, err := postgres.NewArchiveStore(ctx, cfg.DB.DSN)
		if err != nil {
			logger.Fatal("archive store init failed", zap.Error(err))
		}
		defer archiveStore.Close()
		archive = archiveStore
		hubSinks = append(hubSinks, sinks.NewArchiveSink(archive, logger.Named("archive")))
	} else {
		logger.Warn("no database configured, batch archival disabled")
	}

	hub := broadcast.NewHub(broadcast.Config{
		SubscriberBuffer: cfg.Broadcast.SubscriberBuffer,
		Logger:           logger.Named("hub"),
	}, reg, clock, hubSinks...)

	queue := dispatch.NewMemoryQueue(cfg.Pipeline.QueueDepth)
	generator := &worker.StubGenerator{
		UnitDuration: time.Duration(cfg.Pipeline.StubUnitMillis) * time.Millisecond,
	}
	var runners []*worker.Runner
	for i := 0; i < cfg.Pipeline.Workers; i++ {
		runners = append(runners, worker.New(
			queue,
			reg,
			hub,
			generator,
			clock,
			worker.Config{},
			logger.Named("worker").With(zap.Int("index", i)),
		))
	}
	dispatcher := dispatch.New(queue, runners)

	sweeper := retention.New(reg, cfg.RetentionMaxAge(), clock, logger.Named("retention"))
	if err := sweeper.Start(cfg.Retention.SweepSchedule); err != nil {
		logger.Fatal("retention sweeper init failed", zap.Error(err))
	}

	apiServer := api.NewServer(reg, hub, dispatcher, archive, clock, cfg, promRegistry, logger.Named("api"))
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:           apiServer.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("dispatcher started", zap.Int("workers", cfg.Pipeline.Workers))
		dispatcher.Run(gctx)
		return nil
	})
	g.Go(func() error {
		logger.Info("http server started", zap.Int("port", cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutdown initiated")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Error("server shutdown error", zap.Error(err))
		}
		sweeper.Stop()
		queue.Close()
		if err := hub.Close(shutdownCtx); err != nil {
			logger.Error("hub shutdown error", zap.Error(err))
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		logger.Error("server exited with error", zap.Error(err))
		os.Exit(1)
	}
	logger.Info("shutdown complete")
}
