package pipeline

import (
	"errors"
	"fmt"
	"testing"
)

func TestStageErrorRoundTrip(t *testing.T) {
	orig := NewStageError(StageDownload, fmt.Errorf("yt-dlp: %w", ErrPermissionDenied))
	wrapped := fmt.Errorf("workflow failed: %s", orig.Error())

	got, ok := ParseStageError(wrapped.Error())
	if !ok {
		t.Fatalf("ParseStageError(%q) found nothing", wrapped)
	}
	if got.Kind != KindPermissionDenied || got.Stage != StageDownload {
		t.Fatalf("got %+v", got)
	}
	if !errors.Is(got, ErrPermissionDenied) {
		t.Fatalf("parsed error does not match ErrPermissionDenied")
	}
}

func TestKindOf(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want ErrorKind
	}{
		{"nil", nil, ""},
		{"sentinel", fmt.Errorf("x: %w", ErrInvalidInput), KindInvalidInput},
		{"wrapped refusal", fmt.Errorf("download: %w", ErrPermissionDenied), KindPermissionDenied},
		{"refusal text only", errors.New("open /tmp/segment-0001.mp3: permission denied"), KindUnknown},
		{"plain", errors.New("boom"), KindUnknown},
		{"serialised", errors.New("[UpstreamUnknownError] summarize: timeout"), KindUnknown},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := KindOf(tc.err); got != tc.want {
				t.Fatalf("KindOf = %q, want %q", got, tc.want)
			}
		})
	}
}

func TestNewStageErrorKeepsInnerStage(t *testing.T) {
	inner := &StageError{Stage: "transcribe_segment", Kind: KindUnknown, Message: "bad audio"}
	got := NewStageError(StageTranscribe, fmt.Errorf("segment 2: %w", inner))
	if got.Stage != "transcribe_segment" {
		t.Fatalf("stage = %q", got.Stage)
	}
}
