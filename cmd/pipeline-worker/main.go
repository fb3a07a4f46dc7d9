package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/opebus/yt-university/internal/config"
	"github.com/opebus/yt-university/internal/logger"
	"github.com/opebus/yt-university/pkg/runner"
)

func main() {
	// Load .env file if it exists (silently ignore if not found)
	_ = godotenv.Load()

	log := logger.New()

	cfg, err := config.LoadConfig(":8081")
	if err != nil {
		log.WithError(err).Fatal("failed to load config")
	}
	if cfg.DBOSDatabaseURL == "" {
		log.Fatal("DBOS_SYSTEM_DATABASE_URL is required")
	}

	r, err := runner.New(context.Background(), runnerConfig(cfg), log)
	if err != nil {
		log.WithError(err).Fatal("failed to start pipeline")
	}
	defer r.Shutdown(10 * time.Second)

	log.WithField("queue", cfg.QueueName).
		WithField("concurrency", cfg.Concurrency).
		Info("DBOS runtime initialized")

	server := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           r.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	// Start server in goroutine
	go func() {
		log.WithField("addr", cfg.HTTPAddr).Info("pipeline worker starting")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.WithError(err).Fatal("server failed")
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("shutting down server")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		log.WithError(err).Error("server forced to shutdown")
	}

	log.Info("server stopped")
}

func runnerConfig(cfg config.Config) runner.Config {
	return runner.Config{
		DBOSDatabaseURL:       cfg.DBOSDatabaseURL,
		DatabaseURL:           cfg.DatabaseURL,
		AppName:               cfg.AppName,
		QueueName:             cfg.QueueName,
		Concurrency:           cfg.Concurrency,
		SegmentConcurrency:    cfg.TranscribeConcurrency,
		ApplicationVersion:    cfg.ApplicationVersion,
		ContentAPIURL:         cfg.ContentAPIURL,
		TenantID:              cfg.TenantID,
		DataDir:               cfg.DataDir,
		OpenAIAPIKey:          cfg.OpenAIAPIKey,
		OpenAIBaseURL:         cfg.OpenAIBaseURL,
		OpenAIModelTranscribe: cfg.OpenAIModelTranscribe,
		OpenAIModelSummary:    cfg.OpenAIModelSummary,
		FFmpegPath:            cfg.FFmpegPath,
		FFprobePath:           cfg.FFprobePath,
		YTDLPPath:             cfg.YTDLPPath,
		MinSegmentSeconds:     cfg.MinSegmentSeconds,
		MinSilenceSeconds:     cfg.MinSilenceSeconds,
		SilenceNoise:          cfg.SilenceNoise,
		DedupeTTL:             cfg.DedupeTTL,
		DedupeSweepInterval:   cfg.DedupeSweepInterval,
		JobTimeout:            cfg.JobTimeout,
		PollWait:              cfg.PollWait,
		ThumbnailWidth:        cfg.ThumbnailWidth,
		ThumbnailHeight:       cfg.ThumbnailHeight,
	}
}
