// Package main provides the batch worker entry point for the listing scanner service.
package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/listing-scanner/internal/app"
	"github.com/listing-scanner/internal/config"
	"github.com/listing-scanner/internal/logging"
	"github.com/listing-scanner/internal/retry"
	"github.com/listing-scanner/internal/worker"
)

func main() {
	fmt.Println("Listing Scanner Batch Worker")

	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	logging.InitGlobalLogger(logging.ParseLogLevel(cfg.Logging.Level), logging.ParseLogFormat(cfg.Logging.Format))
	logger := logging.GetGlobalLogger().WithField("component", "worker")
	ctx := logging.WithLogger(context.Background(), logger)

	logger.Info("Connecting to databases...")
	application, err := app.Open(ctx, cfg)
	if err != nil {
		logger.WithError(err).Fatal("Failed to initialize")
	}
	defer application.Close()

	retryCfg := retry.DefaultRetryConfig()
	retryCfg.MaxAttempts = cfg.Worker.MaxAttempts

	batchWorker, err := worker.NewBatchWorker(application.Queue, application.Cycles, worker.Config{
		Concurrency: cfg.Worker.Concurrency,
		PollTimeout: cfg.Worker.PollInterval,
		Retry:       retryCfg,
	})
	if err != nil {
		logger.WithError(err).Fatal("Failed to create batch worker")
	}

	// cycles run on runCtx so a second signal can abort them
	runCtx, abort := context.WithCancel(ctx)
	defer abort()
	if err := batchWorker.Start(runCtx); err != nil {
		logger.WithError(err).Fatal("Failed to start batch worker")
	}

	logger.WithFields(map[string]interface{}{
		"queue":       cfg.Worker.Queue,
		"dead_letter": cfg.Worker.DeadLetter,
		"concurrency": cfg.Worker.Concurrency,
	}).Info("Batch worker started")

	sigCh := make(chan os.Signal, 2)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	<-sigCh
	logger.Info("Shutdown signal received, draining in-flight cycles...")

	go func() {
		<-sigCh
		logger.Warn("Second signal received, aborting in-flight cycles")
		abort()
	}()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := batchWorker.Stop(shutdownCtx); err != nil {
		logger.WithError(err).Error("Error stopping batch worker")
		abort()
	}

	status := batchWorker.GetStatus()
	logger.WithFields(map[string]interface{}{
		"processed":     status.Processed,
		"skipped":       status.Skipped,
		"failed":        status.Failed,
		"dead_lettered": status.DeadLettered,
	}).Info("Batch worker stopped")
}
