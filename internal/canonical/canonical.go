// Package canonical normalises video page URLs into one stable form per video.
package canonical

import (
	"fmt"
	"net/url"
	"regexp"
	"strings"

	"github.com/opebus/yt-university/pkg/pipeline"
)

// WatchURLTemplate is the canonical form of a video URL
const WatchURLTemplate = "https://www.youtube.com/watch?v=%s"

var videoIDPattern = regexp.MustCompile(`^[A-Za-z0-9_-]{1,64}$`)

// path prefixes that carry the video id as the next path element
var idPathPrefixes = []string{"/shorts/", "/embed/", "/live/", "/v/"}

// Video is a parsed video reference
type Video struct {
	ID  string
	URL string
}

// Canonicalize returns the canonical watch URL for raw
func Canonicalize(raw string) (string, error) {
	v, err := Parse(raw)
	if err != nil {
		return "", err
	}
	return v.URL, nil
}

// Parse extracts the video id from raw and builds its canonical URL.
// Equal videos always yield equal output regardless of extra query
// parameters, fragments, scheme or host alias.
func Parse(raw string) (Video, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return Video{}, fmt.Errorf("%w: empty url", pipeline.ErrInvalidInput)
	}
	if !strings.Contains(raw, "://") {
		raw = "https://" + raw
	}

	u, err := url.Parse(raw)
	if err != nil {
		return Video{}, fmt.Errorf("%w: %v", pipeline.ErrInvalidInput, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return Video{}, fmt.Errorf("%w: unsupported scheme %q", pipeline.ErrInvalidInput, u.Scheme)
	}

	host := strings.ToLower(u.Hostname())
	var id string
	switch {
	case host == "youtu.be" || host == "www.youtu.be":
		id = firstPathElement(u.Path)
	case isYouTubeHost(host):
		id = u.Query().Get("v")
		if id == "" {
			id = idFromPath(u.Path)
		}
	default:
		return Video{}, fmt.Errorf("%w: not a video url: %s", pipeline.ErrInvalidInput, host)
	}

	if !videoIDPattern.MatchString(id) {
		return Video{}, fmt.Errorf("%w: url does not contain a valid video id", pipeline.ErrInvalidInput)
	}

	return Video{ID: id, URL: fmt.Sprintf(WatchURLTemplate, id)}, nil
}

func isYouTubeHost(host string) bool {
	return host == "youtube.com" || strings.HasSuffix(host, ".youtube.com") ||
		host == "youtube-nocookie.com" || strings.HasSuffix(host, ".youtube-nocookie.com")
}

func firstPathElement(p string) string {
	p = strings.TrimPrefix(p, "/")
	if i := strings.IndexByte(p, '/'); i >= 0 {
		p = p[:i]
	}
	return p
}

func idFromPath(p string) string {
	for _, prefix := range idPathPrefixes {
		if strings.HasPrefix(p, prefix) {
			return firstPathElement(strings.TrimPrefix(p, prefix))
		}
	}
	return ""
}
