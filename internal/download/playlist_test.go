package download

import (
	"context"
	"errors"
	"testing"

	"github.com/opebus/yt-university/pkg/pipeline"
)

func TestExtractPlaylistID(t *testing.T) {
	id, err := ExtractPlaylistID("https://www.youtube.com/playlist?list=PL1234_abc&si=x")
	if err != nil || id != "PL1234_abc" {
		t.Fatalf("id = %q err = %v", id, err)
	}
	if _, err := ExtractPlaylistID("https://www.youtube.com/watch?v=abc"); !errors.Is(err, pipeline.ErrInvalidInput) {
		t.Fatalf("err = %v", err)
	}
}

func TestExpand(t *testing.T) {
	p := NewPlaylistExpander()
	p.fetch = func(ctx context.Context, id string) ([]PlaylistItem, error) {
		if id != "PLx1" {
			t.Errorf("id = %s", id)
		}
		return []PlaylistItem{{VideoID: "a1", Title: "one"}, {}, {VideoID: "b2"}}, nil
	}

	items, err := p.Expand(context.Background(), "https://youtube.com/playlist?list=PLx1")
	if err != nil {
		t.Fatal(err)
	}
	if len(items) != 2 || items[1].URL != "https://www.youtube.com/watch?v=b2" {
		t.Fatalf("items = %+v", items)
	}
}
