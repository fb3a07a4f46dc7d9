// Package download fetches a video's metadata, audio track and thumbnail
// with yt-dlp and converts the audio for transcription.
package download

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/opebus/yt-university/internal/command"
	"github.com/opebus/yt-university/internal/logger"
	"github.com/opebus/yt-university/pkg/pipeline"
)

const audioFormat = "bestaudio[ext=m4a]/bestaudio"

var (
	safeID          = regexp.MustCompile(`^[A-Za-z0-9_-]+$`)
	thumbnailExts   = []string{".webp", ".jpg", ".jpeg", ".png"}
	errMissingAudio = errors.New("downloaded audio not found")
)

// Options configures external tools and the working directory
type Options struct {
	YTDLPPath  string
	FFmpegPath string
	Dir        string
}

// Result is the outcome of one download
type Result struct {
	Metadata      pipeline.VideoMetadata `json:"metadata"`
	SourcePath    string                 `json:"source_path"`
	AudioPath     string                 `json:"audio_path"`
	ThumbnailPath string                 `json:"thumbnail_path,omitempty"`
}

// Downloader runs yt-dlp and ffmpeg
type Downloader struct {
	opts   Options
	runner command.Runner
	stat   func(name string) (os.FileInfo, error)
	log    *logger.Logger
}

// New creates a Downloader. A nil runner executes real binaries.
func New(opts Options, runner command.Runner, log *logger.Logger) *Downloader {
	if opts.YTDLPPath == "" {
		opts.YTDLPPath = "yt-dlp"
	}
	if opts.FFmpegPath == "" {
		opts.FFmpegPath = "ffmpeg"
	}
	if opts.Dir == "" {
		opts.Dir = os.TempDir()
	}
	if runner == nil {
		runner = command.ExecRunner{}
	}
	if log == nil {
		log = logger.Discard()
	}
	return &Downloader{opts: opts, runner: runner, stat: os.Stat, log: log.Component("download")}
}

// Download extracts metadata for url, downloads its best audio track and
// thumbnail, and converts the audio to 16 kHz mono WAV. The conversion is
// skipped when the WAV already exists.
func (d *Downloader) Download(ctx context.Context, url string) (*Result, error) {
	if err := os.MkdirAll(d.opts.Dir, 0o755); err != nil {
		return nil, fmt.Errorf("create download dir: %w", err)
	}

	info, err := d.probe(ctx, url)
	if err != nil {
		return nil, err
	}
	meta := info.metadata()
	log := d.log.WithField("video_id", meta.ID)

	template := filepath.Join(d.opts.Dir, "%(id)s.%(ext)s")
	res, err := d.runner.Run(ctx, d.opts.YTDLPPath,
		"--no-playlist", "--no-progress", "--no-warnings",
		"-f", audioFormat,
		"--write-thumbnail",
		"-o", template,
		"--print", "after_move:filepath",
		url,
	)
	if err != nil {
		return nil, classify(err)
	}

	source := lastNonEmptyLine(res.Stdout)
	if source == "" && info.Ext != "" {
		source = filepath.Join(d.opts.Dir, meta.ID+"."+info.Ext)
	}
	if _, err := d.stat(source); err != nil {
		return nil, pipeline.NewStageError(pipeline.StageDownload, fmt.Errorf("%w: %s", errMissingAudio, source))
	}
	log.WithField("path", source).Info("downloaded audio")

	wav, err := d.convert(ctx, source)
	if err != nil {
		return nil, err
	}

	return &Result{
		Metadata:      meta,
		SourcePath:    source,
		AudioPath:     wav,
		ThumbnailPath: d.findThumbnail(meta.ID),
	}, nil
}

type videoInfo struct {
	ID          string  `json:"id"`
	Title       string  `json:"title"`
	Description string  `json:"description"`
	Channel     string  `json:"channel"`
	ChannelID   string  `json:"channel_id"`
	Duration    float64 `json:"duration"`
	Language    string  `json:"language"`
	UploadDate  string  `json:"upload_date"`
	Thumbnail   string  `json:"thumbnail"`
	Ext         string  `json:"ext"`
}

func (v videoInfo) metadata() pipeline.VideoMetadata {
	return pipeline.VideoMetadata{
		ID:          v.ID,
		Title:       v.Title,
		Description: v.Description,
		Channel:     v.Channel,
		ChannelID:   v.ChannelID,
		Duration:    int(v.Duration),
		Language:    v.Language,
		UploadDate:  v.UploadDate,
		Thumbnail:   v.Thumbnail,
	}
}

func (d *Downloader) probe(ctx context.Context, url string) (videoInfo, error) {
	res, err := d.runner.Run(ctx, d.opts.YTDLPPath, "-J", "--no-playlist", "--no-warnings", url)
	if err != nil {
		return videoInfo{}, classify(err)
	}

	var info videoInfo
	if err := json.Unmarshal([]byte(res.Stdout), &info); err != nil {
		return videoInfo{}, pipeline.NewStageError(pipeline.StageDownload, fmt.Errorf("decode video info: %w", err))
	}
	if !safeID.MatchString(info.ID) {
		return videoInfo{}, pipeline.NewStageError(pipeline.StageDownload, fmt.Errorf("unexpected video id %q", info.ID))
	}
	return info, nil
}

func (d *Downloader) convert(ctx context.Context, source string) (string, error) {
	out := strings.TrimSuffix(source, filepath.Ext(source)) + ".wav"
	if out == source {
		return source, nil
	}
	if _, err := d.stat(out); err == nil {
		d.log.WithField("path", out).Info("wav already exists")
		return out, nil
	}

	_, err := d.runner.Run(ctx, d.opts.FFmpegPath,
		"-hide_banner", "-v", "warning", "-y",
		"-i", source,
		"-ar", "16000", "-ac", "1", "-c:a", "pcm_s16le",
		out,
	)
	if err != nil {
		return "", pipeline.NewStageError(pipeline.StageDownload, fmt.Errorf("convert to wav: %w", err))
	}
	return out, nil
}

func (d *Downloader) findThumbnail(id string) string {
	for _, ext := range thumbnailExts {
		path := filepath.Join(d.opts.Dir, id+ext)
		if _, err := d.stat(path); err == nil {
			return path
		}
	}
	return ""
}

// classify turns a failed yt-dlp run into a StageError, recognising access
// refusals from the tool's stderr.
func classify(err error) error {
	detail := err.Error()
	var cmdErr *command.Error
	if errors.As(err, &cmdErr) && cmdErr.Stderr != "" {
		detail = cmdErr.Stderr
	}

	if pipeline.IsPermissionDeniedMessage(detail) {
		return &pipeline.StageError{
			Stage:   pipeline.StageDownload,
			Kind:    pipeline.KindPermissionDenied,
			Message: firstErrorLine(detail),
			Err:     err,
		}
	}
	return pipeline.NewStageError(pipeline.StageDownload, err)
}

func firstErrorLine(s string) string {
	for _, line := range strings.Split(s, "\n") {
		if strings.HasPrefix(strings.TrimSpace(line), "ERROR:") {
			return strings.TrimSpace(line)
		}
	}
	return lastNonEmptyLine(s)
}

func lastNonEmptyLine(s string) string {
	lines := strings.Split(strings.TrimSpace(s), "\n")
	for i := len(lines) - 1; i >= 0; i-- {
		if line := strings.TrimSpace(lines[i]); line != "" {
			return line
		}
	}
	return ""
}
