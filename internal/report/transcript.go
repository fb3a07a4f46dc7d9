// Package report exports processed videos as spreadsheets.
package report

import (
	"errors"
	"fmt"
	"io"

	"github.com/xuri/excelize/v2"

	"github.com/opebus/yt-university/internal/records"
)

const (
	TranscriptSheet = "Transcript"
	VideoSheet      = "Video"
)

// ErrNoTranscript is returned for records without a transcription
var ErrNoTranscript = errors.New("record has no transcription")

// WriteTranscript writes rec's transcript chunks and video details as an
// XLSX workbook to w.
func WriteTranscript(w io.Writer, rec *records.Record) error {
	if rec == nil || rec.Transcription == nil {
		return ErrNoTranscript
	}

	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName("Sheet1", TranscriptSheet); err != nil {
		return fmt.Errorf("rename sheet: %w", err)
	}
	bold, err := f.NewStyle(&excelize.Style{Font: &excelize.Font{Bold: true}})
	if err != nil {
		return fmt.Errorf("create style: %w", err)
	}

	header := []any{"Start", "End", "Timestamp", "Text"}
	if err := f.SetSheetRow(TranscriptSheet, "A1", &header); err != nil {
		return fmt.Errorf("write header: %w", err)
	}
	if err := f.SetCellStyle(TranscriptSheet, "A1", "D1", bold); err != nil {
		return fmt.Errorf("style header: %w", err)
	}
	for i, c := range rec.Transcription.Chunks {
		cell, err := excelize.CoordinatesToCellName(1, i+2)
		if err != nil {
			return err
		}
		row := []any{c.Start, c.End, Timestamp(c.Start), c.Text}
		if err := f.SetSheetRow(TranscriptSheet, cell, &row); err != nil {
			return fmt.Errorf("write chunk %d: %w", i, err)
		}
	}
	if err := f.SetColWidth(TranscriptSheet, "D", "D", 100); err != nil {
		return fmt.Errorf("set column width: %w", err)
	}

	if _, err := f.NewSheet(VideoSheet); err != nil {
		return fmt.Errorf("create video sheet: %w", err)
	}
	details := [][]any{
		{"ID", rec.ID},
		{"URL", rec.URL},
		{"Title", rec.Title},
		{"Channel", rec.Channel},
		{"Duration", rec.Duration},
		{"Language", rec.Transcription.Language},
		{"Category", rec.Category},
		{"Summary", rec.Summary},
	}
	for i, row := range details {
		cell, err := excelize.CoordinatesToCellName(1, i+1)
		if err != nil {
			return err
		}
		if err := f.SetSheetRow(VideoSheet, cell, &row); err != nil {
			return fmt.Errorf("write video details: %w", err)
		}
	}
	if err := f.SetCellStyle(VideoSheet, "A1", fmt.Sprintf("A%d", len(details)), bold); err != nil {
		return fmt.Errorf("style video details: %w", err)
	}

	if err := f.Write(w); err != nil {
		return fmt.Errorf("write workbook: %w", err)
	}
	return nil
}

// Timestamp formats seconds as H:MM:SS or M:SS
func Timestamp(seconds float64) string {
	if seconds < 0 {
		seconds = 0
	}
	total := int(seconds)
	h, m, s := total/3600, (total%3600)/60, total%60
	if h > 0 {
		return fmt.Sprintf("%d:%02d:%02d", h, m, s)
	}
	return fmt.Sprintf("%d:%02d", m, s)
}
