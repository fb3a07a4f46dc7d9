package storage

import (
	"bytes"
	"fmt"
	"image"
	_ "image/gif"
	"image/jpeg"
	_ "image/png"
	"io"

	"github.com/disintegration/imaging"
	_ "golang.org/x/image/webp"
)

const (
	thumbnailType = "thumbnail"

	DefaultThumbnailWidth  = 480
	DefaultThumbnailHeight = 360
	thumbnailQuality       = 80
)

func thumbnailVariant() string {
	return fmt.Sprintf("%s_v%d", thumbnailType, ThumbnailVersion)
}

// Thumbnail is a normalized JPEG thumbnail
type Thumbnail struct {
	Data   []byte
	Width  int
	Height int
	Format string
}

// NormalizeThumbnail decodes a downloaded thumbnail (webp, jpeg, png or
// gif), fits it into width x height and re-encodes it as JPEG.
func NormalizeThumbnail(r io.Reader, width, height int) (*Thumbnail, error) {
	if width <= 0 {
		width = DefaultThumbnailWidth
	}
	if height <= 0 {
		height = DefaultThumbnailHeight
	}

	img, format, err := image.Decode(r)
	if err != nil {
		return nil, fmt.Errorf("image decode failed: %w", err)
	}

	fitted := imaging.Fit(img, width, height, imaging.Lanczos)

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, fitted, &jpeg.Options{Quality: thumbnailQuality}); err != nil {
		return nil, fmt.Errorf("JPEG encode failed: %w", err)
	}

	bounds := fitted.Bounds()
	return &Thumbnail{
		Data:   buf.Bytes(),
		Width:  bounds.Dx(),
		Height: bounds.Dy(),
		Format: format,
	}, nil
}
