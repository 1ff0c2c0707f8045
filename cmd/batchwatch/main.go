// Package main runs the batch watcher: it resumes a tracked batch or submits
// a new one, then follows progress until the terminal event.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"go.uber.org/zap"

	"github.com/drmweyers/mealbatch/internal/client"
	"github.com/drmweyers/mealbatch/internal/clock/system"
	"github.com/drmweyers/mealbatch/internal/config"
	"github.com/drmweyers/mealbatch/internal/logging"
	"github.com/drmweyers/mealbatch/internal/reconcile"
	"github.com/drmweyers/mealbatch/internal/resume"
)

func main() {
	cfgPath := flag.String("config", "", "Path to config file")
	serverURL := flag.String("server", "http://localhost:8080", "Batch server base URL")
	units := flag.String("units", "", "Comma-separated recipe labels to submit; empty resumes the tracked batch")
	poll := flag.Bool("poll", false, "Force the polling transport instead of the event stream")
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

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	clock := system.New()
	store, err := resume.NewRegistry(cfg.Resume.Path, cfg.ResumeTTL(), clock)
	if err != nil {
		logger.Fatal("resume registry init failed", zap.Error(err))
	}
	defer store.Close()

	reconciler := reconcile.New(nil, resumeClearer{store}, logger.Named("reconcile"),
		reconcile.LogNotifier{Logger: logger.Named("notify")})

	c := client.New(*serverURL, resumeAdapter{store}, reconciler, client.Options{
		PollInterval:     cfg.PollInterval(),
		FailureThreshold: cfg.Observer.FailureThreshold,
		ForcePoll:        *poll,
		Logger:           logger.Named("client"),
	})

	batchID, ok := c.TryResume(ctx)
	if ok {
		logger.Info("resuming tracked batch", zap.String("batch_id", batchID.String()))
	} else {
		labels := splitUnits(*units)
		if len(labels) == 0 {
			fmt.Fprintln(os.Stderr, "nothing to do: no resumable batch and no -units given")
			os.Exit(1)
		}
		var total int
		batchID, total, err = c.Submit(ctx, labels)
		if err != nil {
			logger.Fatal("submit batch failed", zap.Error(err))
		}
		logger.Info("batch submitted",
			zap.String("batch_id", batchID.String()), zap.Int("total", total))
	}

	done := make(chan struct{})
	handle, err := c.ObserveBatch(ctx, batchID, client.Callbacks{
		OnUpdate: func(v client.View) {
			logger.Info("progress",
				zap.String("phase", string(v.Phase)),
				zap.Float64("percent", v.Percentage()),
				zap.Int("completed", v.Completed),
				zap.Int("failed", v.Failed),
				zap.String("eta", v.ETA(clock.Now())),
				zap.String("unit", v.CurrentUnitLabel),
			)
		},
		OnComplete: func(s client.Summary) {
			logger.Info("batch complete",
				zap.Int("completed", s.Completed), zap.Int("failed", s.Failed))
			close(done)
		},
		OnError: func(err error) {
			var warn *client.PartialFailureWarning
			if errors.As(err, &warn) {
				logger.Warn("unit failures", zap.String("warning", warn.Message))
				return
			}
			logger.Error("observation ended", zap.Error(err))
			close(done)
		},
	})
	if err != nil {
		logger.Fatal("observe batch failed", zap.Error(err))
	}
	defer handle.Stop()

	select {
	case <-ctx.Done():
		logger.Info("detaching, batch keeps running server-side")
	case <-done:
	}
}

func splitUnits(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}

// resumeAdapter maps resume.Registry onto the client's ResumeStore; only
// Load needs translating, Save and Clear are promoted as-is.
type resumeAdapter struct {
	*resume.Registry
}

func (a resumeAdapter) Load(ctx context.Context) (client.RecordView, bool, error) {
	rec, ok, err := a.Registry.Load(ctx)
	if err != nil || !ok {
		return client.RecordView{}, ok, err
	}
	return client.RecordView{BatchID: rec.BatchID, Total: rec.Total}, true, nil
}

// resumeClearer exposes only Clear to the reconciler.
type resumeClearer struct {
	reg *resume.Registry
}

func (c resumeClearer) Clear(ctx context.Context) error {
	return c.reg.Clear(ctx)
}
