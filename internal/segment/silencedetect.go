package segment

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"iter"
	"regexp"
	"strconv"
	"sync"

	"github.com/opebus/yt-university/internal/command"
	"github.com/opebus/yt-university/internal/logger"
)

var silenceEndPattern = regexp.MustCompile(` silence_end: (?P<end>[0-9]+(\.?[0-9]*)) \| silence_duration: (?P<dur>[0-9]+(\.?[0-9]*))`)

// ParseSilenceLine extracts a silence event from one line of ffmpeg
// silencedetect output.
func ParseSilenceLine(line string) (SilenceEvent, bool) {
	m := silenceEndPattern.FindStringSubmatch(line)
	if m == nil {
		return SilenceEvent{}, false
	}
	end, err := strconv.ParseFloat(m[silenceEndPattern.SubexpIndex("end")], 64)
	if err != nil {
		return SilenceEvent{}, false
	}
	dur, err := strconv.ParseFloat(m[silenceEndPattern.SubexpIndex("dur")], 64)
	if err != nil {
		return SilenceEvent{}, false
	}
	return SilenceEvent{End: end, Duration: dur}, true
}

// Options configure a Detector
type Options struct {
	FFmpegPath       string
	FFprobePath      string
	MinSegmentLength float64
	MinSilenceLength float64
	Noise            string
}

func (o *Options) withDefaults() {
	if o.FFmpegPath == "" {
		o.FFmpegPath = "ffmpeg"
	}
	if o.FFprobePath == "" {
		o.FFprobePath = "ffprobe"
	}
	if o.MinSegmentLength <= 0 {
		o.MinSegmentLength = 480
	}
	if o.MinSilenceLength <= 0 {
		o.MinSilenceLength = 1.0
	}
	if o.Noise == "" {
		o.Noise = "-10dB"
	}
}

// Detector segments audio files using ffprobe for the duration and the
// ffmpeg silencedetect filter for silences.
type Detector struct {
	opts   Options
	runner command.Runner
	log    *logger.Logger
}

// NewDetector creates a detector. A nil runner executes real binaries.
func NewDetector(opts Options, runner command.Runner, log *logger.Logger) *Detector {
	opts.withDefaults()
	if runner == nil {
		runner = command.ExecRunner{}
	}
	if log == nil {
		log = logger.Discard()
	}
	return &Detector{opts: opts, runner: runner, log: log.Component("segment")}
}

// Duration probes the audio duration in seconds
func (d *Detector) Duration(ctx context.Context, path string) (float64, error) {
	res, err := d.runner.Run(ctx, d.opts.FFprobePath,
		"-v", "error",
		"-show_entries", "format=duration",
		"-of", "json",
		path,
	)
	if err != nil {
		return 0, fmt.Errorf("probe %s: %w", path, err)
	}

	var probe struct {
		Format struct {
			Duration string `json:"duration"`
		} `json:"format"`
	}
	if err := json.Unmarshal([]byte(res.Stdout), &probe); err != nil {
		return 0, fmt.Errorf("decode probe output: %w", err)
	}
	duration, err := strconv.ParseFloat(probe.Format.Duration, 64)
	if err != nil {
		return 0, fmt.Errorf("parse duration %q: %w", probe.Format.Duration, err)
	}
	return duration, nil
}

// Segments lazily yields the segments of the audio at path. A failure of
// either tool is yielded as the final element with a zero Segment.
func (d *Detector) Segments(ctx context.Context, path string) iter.Seq2[Segment, error] {
	return func(yield func(Segment, error) bool) {
		duration, err := d.Duration(ctx, path)
		if err != nil {
			yield(Segment{}, err)
			return
		}

		stderr, wait, err := d.runner.Stream(ctx, d.opts.FFmpegPath,
			"-hide_banner", "-nostats",
			"-i", path,
			"-af", fmt.Sprintf("silencedetect=n=%s:d=%g", d.opts.Noise, d.opts.MinSilenceLength),
			"-f", "null", "-",
		)
		if err != nil {
			yield(Segment{}, fmt.Errorf("silencedetect %s: %w", path, err))
			return
		}

		var (
			waitOnce sync.Once
			waitErr  error
		)
		waitDone := func() error {
			waitOnce.Do(func() { waitErr = wait() })
			return waitErr
		}

		var streamErr error
		events := func(yieldEvent func(SilenceEvent) bool) {
			scanner := bufio.NewScanner(stderr)
			scanner.Buffer(make([]byte, 64*1024), 1024*1024)
			for scanner.Scan() {
				if ev, ok := ParseSilenceLine(scanner.Text()); ok {
					if !yieldEvent(ev) {
						return
					}
				}
			}
			if err := scanner.Err(); err != nil {
				streamErr = fmt.Errorf("read silencedetect output: %w", err)
			}
			if err := waitDone(); err != nil && streamErr == nil {
				streamErr = fmt.Errorf("silencedetect %s: %w", path, err)
			}
		}

		count := 0
		for seg := range Split(events, duration, d.opts.MinSegmentLength) {
			if streamErr != nil {
				break
			}
			if !yield(seg, nil) {
				stderr.Close()
				_ = waitDone()
				return
			}
			count++
		}
		if streamErr != nil {
			yield(Segment{}, streamErr)
			return
		}

		d.log.WithField("path", path).WithField("segments", count).Info("split audio")
	}
}
