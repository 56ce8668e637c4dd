// Package imaging turns captured notification images into the small square
// thumbnails embedded in spreadsheet rows.
package imaging

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	"image/jpeg"
	"image/png"

	// Decoders for the formats cameras and the recognition server emit
	_ "image/gif"

	_ "golang.org/x/image/bmp"
	"golang.org/x/image/draw"
	_ "golang.org/x/image/webp"
)

// ThumbnailSize is the edge length, in pixels, of an embedded thumbnail
const ThumbnailSize = 64

// MaxPixels bounds the declared dimensions of a source image. Decoding
// allocates width×height pixels up front.
const MaxPixels = 40_000_000

var (
	// ErrEmptyImage is returned when there are no bytes to decode
	ErrEmptyImage = errors.New("empty image data")

	// ErrImageTooLarge is returned when the header declares more than MaxPixels
	ErrImageTooLarge = errors.New("image dimensions too large")
)

// Thumbnail decodes data and scales it to a size×size square. JPEG sources
// stay JPEG; everything else is re-encoded as PNG. The returned extension
// has no leading dot.
func Thumbnail(data []byte, size int) ([]byte, string, error) {
	if len(data) == 0 {
		return nil, "", ErrEmptyImage
	}
	if size <= 0 {
		size = ThumbnailSize
	}

	cfg, _, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return nil, "", fmt.Errorf("failed to decode image header: %w", err)
	}
	if cfg.Width <= 0 || cfg.Height <= 0 || int64(cfg.Width)*int64(cfg.Height) > MaxPixels {
		return nil, "", fmt.Errorf("%w: %dx%d", ErrImageTooLarge, cfg.Width, cfg.Height)
	}

	src, format, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, "", fmt.Errorf("failed to decode image: %w", err)
	}

	dst := image.NewRGBA(image.Rect(0, 0, size, size))
	draw.CatmullRom.Scale(dst, dst.Bounds(), src, src.Bounds(), draw.Over, nil)

	var buf bytes.Buffer
	if format == "jpeg" {
		if err := jpeg.Encode(&buf, dst, &jpeg.Options{Quality: 90}); err != nil {
			return nil, "", fmt.Errorf("failed to encode thumbnail: %w", err)
		}
		return buf.Bytes(), "jpg", nil
	}
	if err := png.Encode(&buf, dst); err != nil {
		return nil, "", fmt.Errorf("failed to encode thumbnail: %w", err)
	}
	return buf.Bytes(), "png", nil
}

// PixelsToPoints converts screen pixels to typographic points at 96 DPI
func PixelsToPoints(px int) float64 {
	return float64(px) * 72 / 96
}
