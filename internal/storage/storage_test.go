package storage

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/google/uuid"
	"github.com/tendant/simple-content/pkg/simplecontent/presets"
)

func TestWorkspace(t *testing.T) {
	dir := t.TempDir()
	ws, err := NewWorkspace(dir)
	if err != nil {
		t.Fatal(err)
	}
	os.WriteFile(filepath.Join(dir, "abc.wav"), []byte("RIFF"), 0o644)
	ctx := context.Background()

	if ok, _ := ws.Exists(ctx, "abc.wav"); !ok {
		t.Fatal("abc.wav should exist")
	}
	abs := filepath.Join(dir, "abc.wav")
	if ok, _ := ws.Exists(ctx, abs); !ok {
		t.Fatal("absolute path inside workspace should resolve")
	}
	meta, err := ws.GetMetadata(ctx, "abc.wav")
	if err != nil || meta.Size != 4 {
		t.Fatalf("meta = %+v err = %v", meta, err)
	}

	if _, err := ws.GetReader(ctx, "../outside"); err == nil {
		t.Fatal("expected traversal error")
	}
	if _, err := ws.GetReader(ctx, "missing.wav"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("err = %v", err)
	}

	if err := ws.Remove(ctx, "abc.wav", "missing.wav", ""); err != nil {
		t.Fatal(err)
	}
	if ok, _ := ws.Exists(ctx, "abc.wav"); ok {
		t.Fatal("abc.wav should be removed")
	}
}

func TestNormalizeThumbnail(t *testing.T) {
	src := image.NewRGBA(image.Rect(0, 0, 1280, 720))
	for x := 0; x < 1280; x++ {
		src.Set(x, x%720, color.RGBA{R: 255, A: 255})
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, src); err != nil {
		t.Fatal(err)
	}

	thumb, err := NormalizeThumbnail(&buf, 480, 360)
	if err != nil {
		t.Fatal(err)
	}
	if thumb.Width != 480 || thumb.Height != 270 || thumb.Format != "png" {
		t.Fatalf("thumb = %dx%d %s", thumb.Width, thumb.Height, thumb.Format)
	}
	if _, err := jpeg.Decode(bytes.NewReader(thumb.Data)); err != nil {
		t.Fatalf("output is not a jpeg: %v", err)
	}
}

func TestNormalizeThumbnailRejectsGarbage(t *testing.T) {
	if _, err := NormalizeThumbnail(bytes.NewReader([]byte("not an image")), 0, 0); err == nil {
		t.Fatal("expected decode error")
	}
}

func TestContentStore(t *testing.T) {
	svc, cleanup, err := presets.NewDevelopment(presets.WithDevStorage(t.TempDir()))
	if err != nil {
		t.Fatal(err)
	}
	defer cleanup()

	cs := NewContentStore(svc, uuid.MustParse("00000000-0000-0000-0000-000000000002"))
	ctx := context.Background()

	audioID, err := cs.PutAudio(ctx, "abc123", bytes.NewReader([]byte("RIFFdata")), "abc123.wav")
	if err != nil {
		t.Fatal(err)
	}
	if ok, _ := cs.Exists(ctx, audioID); !ok {
		t.Fatal("audio should exist")
	}

	if has, err := cs.HasThumbnail(ctx, audioID); err != nil || has {
		t.Fatalf("has = %v err = %v before upload", has, err)
	}
	if _, err := cs.PutThumbnail(ctx, audioID, bytes.NewReader([]byte("jpeg")), "abc123.jpg"); err != nil {
		t.Fatal(err)
	}
	if has, err := cs.HasThumbnail(ctx, audioID); err != nil || !has {
		t.Fatalf("has = %v err = %v after upload", has, err)
	}

	r, err := cs.GetReader(ctx, audioID)
	if err != nil {
		t.Fatal(err)
	}
	defer r.Close()
	data, _ := io.ReadAll(r)
	if string(data) != "RIFFdata" {
		t.Fatalf("data = %q", data)
	}

	if _, err := cs.GetReader(ctx, "not-a-uuid"); err == nil {
		t.Fatal("expected invalid id error")
	}
}
