package raster

import (
	"fmt"
	"image"
	"image/jpeg"
	"io"
	"os"
	"path/filepath"
)

// DefaultQuality is the JPEG quality used when none is configured.
const DefaultQuality = 75

// EncodeJPEG writes img to w.
func EncodeJPEG(w io.Writer, img image.Image, quality int) error {
	if quality <= 0 || quality > 100 {
		quality = DefaultQuality
	}
	return jpeg.Encode(w, img, &jpeg.Options{Quality: quality})
}

// WriteJPEG encodes img into a temporary file next to path and renames it into place,
// so path either holds a complete image or does not exist.
func WriteJPEG(path string, img image.Image, quality int) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), ".page-*.jpg")
	if err != nil {
		return fmt.Errorf("failed to create temp image: %w", err)
	}
	defer os.Remove(tmp.Name())

	if err := EncodeJPEG(tmp, img, quality); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to encode %s: %w", filepath.Base(path), err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to flush %s: %w", filepath.Base(path), err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("failed to move %s into place: %w", filepath.Base(path), err)
	}
	return nil
}
