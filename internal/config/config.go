package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"
)

type Config struct {
	HTTPAddr string

	DBOSDatabaseURL    string
	DatabaseURL        string
	AppName            string
	QueueName          string
	ApplicationVersion string
	Concurrency        int

	TranscribeConcurrency int

	DataDir       string
	ContentAPIURL string
	TenantID      string

	OpenAIAPIKey          string
	OpenAIBaseURL         string
	OpenAIModelTranscribe string
	OpenAIModelSummary    string

	DedupeTTL           time.Duration
	DedupeSweepInterval time.Duration
	JobTimeout          time.Duration
	PollWait            time.Duration

	MinSegmentSeconds float64
	MinSilenceSeconds float64
	SilenceNoise      string

	FFmpegPath  string
	FFprobePath string
	YTDLPPath   string

	ThumbnailWidth  int
	ThumbnailHeight int
}

// LoadConfig reads the configuration from the environment. defaultAddr is
// used when WORKER_HTTP_ADDR is unset.
func LoadConfig(defaultAddr string) (Config, error) {
	cfg := Config{}

	cfg.HTTPAddr = envOrDefault("WORKER_HTTP_ADDR", defaultAddr)

	cfg.DBOSDatabaseURL = os.Getenv("DBOS_SYSTEM_DATABASE_URL")
	cfg.DatabaseURL = envOrDefault("DATABASE_URL", cfg.DBOSDatabaseURL)
	cfg.AppName = envOrDefault("DBOS_APP_NAME", "yt-university")
	cfg.QueueName = envOrDefault("DBOS_QUEUE_NAME", "default")
	cfg.ApplicationVersion = os.Getenv("DBOS_APPLICATION_VERSION")

	concurrency, err := parseIntEnv("PIPELINE_CONCURRENCY", 4)
	if err != nil {
		return Config{}, fmt.Errorf("parse PIPELINE_CONCURRENCY: %w", err)
	}
	cfg.Concurrency = int(concurrency)

	transcribeConcurrency, err := parseIntEnv("TRANSCRIBE_CONCURRENCY", 4)
	if err != nil {
		return Config{}, fmt.Errorf("parse TRANSCRIBE_CONCURRENCY: %w", err)
	}
	cfg.TranscribeConcurrency = int(transcribeConcurrency)

	cfg.DataDir = envOrDefault("DATA_DIR", "data")
	cfg.ContentAPIURL = os.Getenv("CONTENT_API_URL")
	cfg.TenantID = envOrDefault("CONTENT_TENANT_ID", "5f0c3b8e-3f6a-4c1e-9a57-0e1d2c3b4a59")

	cfg.OpenAIAPIKey = os.Getenv("OPENAI_API_KEY")
	cfg.OpenAIBaseURL = envOrDefault("OPENAI_BASE_URL", "https://api.openai.com/v1")
	cfg.OpenAIModelTranscribe = envOrDefault("OPENAI_MODEL_TRANSCRIBE", "whisper-1")
	cfg.OpenAIModelSummary = envOrDefault("OPENAI_MODEL_SUMMARY", "gpt-4o-mini")

	if cfg.DedupeTTL, err = parseDurationEnv("DEDUPE_TTL", 2*time.Minute); err != nil {
		return Config{}, fmt.Errorf("parse DEDUPE_TTL: %w", err)
	}
	if cfg.DedupeSweepInterval, err = parseDurationEnv("DEDUPE_SWEEP_INTERVAL", time.Minute); err != nil {
		return Config{}, fmt.Errorf("parse DEDUPE_SWEEP_INTERVAL: %w", err)
	}
	if cfg.JobTimeout, err = parseDurationEnv("JOB_TIMEOUT", 10*time.Minute); err != nil {
		return Config{}, fmt.Errorf("parse JOB_TIMEOUT: %w", err)
	}
	if cfg.PollWait, err = parseDurationEnv("POLL_WAIT", 100*time.Millisecond); err != nil {
		return Config{}, fmt.Errorf("parse POLL_WAIT: %w", err)
	}

	if cfg.MinSegmentSeconds, err = parseFloatEnv("MIN_SEGMENT_SECONDS", 480); err != nil {
		return Config{}, fmt.Errorf("parse MIN_SEGMENT_SECONDS: %w", err)
	}
	if cfg.MinSilenceSeconds, err = parseFloatEnv("MIN_SILENCE_SECONDS", 1.0); err != nil {
		return Config{}, fmt.Errorf("parse MIN_SILENCE_SECONDS: %w", err)
	}
	cfg.SilenceNoise = envOrDefault("SILENCE_NOISE", "-10dB")

	cfg.FFmpegPath = envOrDefault("FFMPEG_PATH", "ffmpeg")
	cfg.FFprobePath = envOrDefault("FFPROBE_PATH", "ffprobe")
	cfg.YTDLPPath = envOrDefault("YTDLP_PATH", "yt-dlp")

	width, err := parseIntEnv("THUMBNAIL_WIDTH", 480)
	if err != nil {
		return Config{}, fmt.Errorf("parse THUMBNAIL_WIDTH: %w", err)
	}
	height, err := parseIntEnv("THUMBNAIL_HEIGHT", 360)
	if err != nil {
		return Config{}, fmt.Errorf("parse THUMBNAIL_HEIGHT: %w", err)
	}
	cfg.ThumbnailWidth, cfg.ThumbnailHeight = int(width), int(height)

	absDataDir, err := filepath.Abs(cfg.DataDir)
	if err != nil {
		return Config{}, fmt.Errorf("resolve data dir: %w", err)
	}
	cfg.DataDir = absDataDir

	return cfg, nil
}

func envOrDefault(key, fallback string) string {
	if val, ok := os.LookupEnv(key); ok && val != "" {
		return val
	}
	return fallback
}

func parseIntEnv(key string, fallback int64) (int64, error) {
	value := envOrDefault(key, "")
	if value == "" {
		return fallback, nil
	}

	num, err := strconv.ParseInt(value, 10, 64)
	if err != nil {
		return 0, err
	}
	return num, nil
}

func parseFloatEnv(key string, fallback float64) (float64, error) {
	value := envOrDefault(key, "")
	if value == "" {
		return fallback, nil
	}
	return strconv.ParseFloat(value, 64)
}

func parseDurationEnv(key string, fallback time.Duration) (time.Duration, error) {
	value := envOrDefault(key, "")
	if value == "" {
		return fallback, nil
	}
	return time.ParseDuration(value)
}
