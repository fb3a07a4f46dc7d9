package download

import (
	"context"
	"fmt"
	"net/url"
	"regexp"
	"strings"
	"time"

	"github.com/ytget/ytdlp/v2"

	"github.com/opebus/yt-university/pkg/pipeline"
)

// DefaultPlaylistTimeout bounds one playlist listing
const DefaultPlaylistTimeout = 60 * time.Second

const videoURLTemplate = "https://www.youtube.com/watch?v=%s"

var playlistIDPattern = regexp.MustCompile(`^[A-Za-z0-9_-]{2,64}$`)

// PlaylistItem is one video of a playlist
type PlaylistItem struct {
	VideoID string `json:"video_id"`
	Title   string `json:"title"`
	URL     string `json:"url"`
}

// PlaylistExpander lists the videos of a YouTube playlist
type PlaylistExpander struct {
	timeout time.Duration
	fetch   func(ctx context.Context, playlistID string) ([]PlaylistItem, error)
}

// NewPlaylistExpander creates an expander backed by the ytdlp library
func NewPlaylistExpander() *PlaylistExpander {
	return &PlaylistExpander{timeout: DefaultPlaylistTimeout, fetch: fetchPlaylist}
}

// Expand returns the videos of the playlist referenced by rawURL
func (p *PlaylistExpander) Expand(ctx context.Context, rawURL string) ([]PlaylistItem, error) {
	id, err := ExtractPlaylistID(rawURL)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	items, err := p.fetch(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("list playlist %s: %w", id, err)
	}
	out := items[:0]
	for _, it := range items {
		if it.VideoID == "" {
			continue
		}
		if it.URL == "" {
			it.URL = fmt.Sprintf(videoURLTemplate, it.VideoID)
		}
		out = append(out, it)
	}
	return out, nil
}

// ExtractPlaylistID returns the list= parameter of a playlist URL
func ExtractPlaylistID(rawURL string) (string, error) {
	u, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil {
		return "", fmt.Errorf("%w: parse playlist url: %v", pipeline.ErrInvalidInput, err)
	}
	id := u.Query().Get("list")
	if !playlistIDPattern.MatchString(id) {
		return "", fmt.Errorf("%w: no playlist id in %q", pipeline.ErrInvalidInput, rawURL)
	}
	return id, nil
}

func fetchPlaylist(ctx context.Context, playlistID string) ([]PlaylistItem, error) {
	items, err := ytdlp.New().GetPlaylistItemsAll(ctx, playlistID, 0)
	if err != nil {
		return nil, err
	}
	out := make([]PlaylistItem, 0, len(items))
	for _, it := range items {
		out = append(out, PlaylistItem{VideoID: it.VideoID, Title: it.Title})
	}
	return out, nil
}
