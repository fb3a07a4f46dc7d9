package report

import (
	"bytes"
	"errors"
	"testing"

	"github.com/xuri/excelize/v2"

	"github.com/opebus/yt-university/internal/records"
	"github.com/opebus/yt-university/pkg/pipeline"
)

func TestWriteTranscript(t *testing.T) {
	rec := &records.Record{
		ID:       "abc123",
		Title:    "A talk",
		Category: "Education",
		Transcription: &pipeline.Transcript{
			Language: "en",
			Chunks: []pipeline.Chunk{
				{Text: "hello", Start: 0, End: 2.5},
				{Text: "world", Start: 3725, End: 3730},
			},
		},
	}

	var buf bytes.Buffer
	if err := WriteTranscript(&buf, rec); err != nil {
		t.Fatal(err)
	}

	f, err := excelize.OpenReader(&buf)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()

	if sheets := f.GetSheetList(); len(sheets) != 2 || sheets[0] != TranscriptSheet {
		t.Fatalf("sheets = %v", sheets)
	}
	rows, err := f.GetRows(TranscriptSheet)
	if err != nil {
		t.Fatal(err)
	}
	if len(rows) != 3 {
		t.Fatalf("rows = %v", rows)
	}
	if rows[1][3] != "hello" || rows[2][2] != "1:02:05" {
		t.Fatalf("rows = %v", rows)
	}

	title, _ := f.GetCellValue(VideoSheet, "B3")
	if title != "A talk" {
		t.Fatalf("title cell = %q", title)
	}
}

func TestWriteTranscriptWithoutTranscription(t *testing.T) {
	var buf bytes.Buffer
	if err := WriteTranscript(&buf, &records.Record{ID: "x"}); !errors.Is(err, ErrNoTranscript) {
		t.Fatalf("err = %v", err)
	}
}

func TestTimestamp(t *testing.T) {
	cases := map[float64]string{0: "0:00", 59.9: "0:59", 61: "1:01", 3600: "1:00:00", -3: "0:00"}
	for in, want := range cases {
		if got := Timestamp(in); got != want {
			t.Errorf("Timestamp(%v) = %q, want %q", in, got, want)
		}
	}
}
