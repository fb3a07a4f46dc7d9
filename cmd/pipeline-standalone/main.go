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

// Standalone pipeline for quick testing: jobs run in-process, records are
// kept in memory and artifacts go to an embedded simple-content service
// under DATA_DIR. No database or content server needed.
func main() {
	_ = godotenv.Load()

	log := logger.New()

	cfg, err := config.LoadConfig(":8080")
	if err != nil {
		log.WithError(err).Fatal("failed to load config")
	}

	r, err := runner.New(context.Background(), runner.Config{
		Concurrency:           cfg.Concurrency,
		SegmentConcurrency:    cfg.TranscribeConcurrency,
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
	}, log)
	if err != nil {
		log.WithError(err).Fatal("failed to start pipeline")
	}
	defer r.Shutdown(10 * time.Second)

	server := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           r.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		log.WithField("addr", cfg.HTTPAddr).
			WithField("data_dir", cfg.DataDir).
			Info("standalone pipeline ready")
		log.Info("try: curl -X POST localhost" + cfg.HTTPAddr + "/v1/process -d '{\"url\":\"https://youtu.be/dQw4w9WgXcQ\"}'")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.WithError(err).Fatal("server failed")
		}
	}()

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
