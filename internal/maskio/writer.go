// Package maskio persists label maps as single-channel PNG images and
// checks generated masks against their source images.
package maskio

import (
	"fmt"
	"image"
	"image/png"
	"os"
	"path/filepath"
	"strings"

	"github.com/andresmejia3/cocomask/internal/compositor"
)

// Ext is the extension of every mask file.
const Ext = ".png"

// PNGWriter writes masks under Dir with 8 or 16 bits per pixel.
type PNGWriter struct {
	Dir   string
	Depth int
}

func NewPNGWriter(dir string, depth int) (*PNGWriter, error) {
	if depth != 8 && depth != 16 {
		return nil, fmt.Errorf("unsupported mask depth %d (use 8 or 16)", depth)
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create output directory: %w", err)
	}
	return &PNGWriter{Dir: dir, Depth: depth}, nil
}

// Ext returns the file extension masks are written with.
func (w *PNGWriter) Ext() string { return Ext }

// Path returns where the mask called name lives.
func (w *PNGWriter) Path(name string) string {
	return filepath.Join(w.Dir, filepath.FromSlash(name))
}

// Exists reports whether a mask called name is already on disk.
func (w *PNGWriter) Exists(name string) bool {
	if CheckName(name) != nil {
		return false
	}
	info, err := os.Stat(w.Path(name))
	return err == nil && info.Mode().IsRegular()
}

// Write encodes lm and atomically replaces the file called name. Cells that
// do not fit the writer's depth, and names that would land outside Dir, are
// rejected before anything touches disk.
func (w *PNGWriter) Write(lm *compositor.LabelMap, name string) error {
	if err := CheckName(name); err != nil {
		return err
	}
	img, err := w.toImage(lm)
	if err != nil {
		return err
	}

	dst := w.Path(name)
	dir := filepath.Dir(dst)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}

	tmp, err := os.CreateTemp(dir, ".mask-*.tmp")
	if err != nil {
		return err
	}
	// Remove is a no-op after a successful rename
	defer os.Remove(tmp.Name())

	enc := png.Encoder{CompressionLevel: png.DefaultCompression}
	if err := enc.Encode(tmp, img); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to encode %s: %w", name, err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Chmod(tmp.Name(), 0644); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), dst)
}

func (w *PNGWriter) toImage(lm *compositor.LabelMap) (image.Image, error) {
	if lm == nil || len(lm.Cells) != lm.Width*lm.Height {
		return nil, fmt.Errorf("malformed label map")
	}
	rect := image.Rect(0, 0, lm.Width, lm.Height)

	if w.Depth == 16 {
		img := image.NewGray16(rect)
		for i, v := range lm.Cells {
			img.Pix[2*i] = uint8(v >> 8)
			img.Pix[2*i+1] = uint8(v)
		}
		return img, nil
	}

	img := image.NewGray(rect)
	for i, v := range lm.Cells {
		if v > 255 {
			return nil, fmt.Errorf("label %d at pixel (%d,%d) does not fit an 8-bit mask", v, i%lm.Width, i/lm.Width)
		}
		img.Pix[i] = uint8(v)
	}
	return img, nil
}

// CheckName rejects mask names that are absolute or climb out of the output
// directory, e.g. "../x.png" taken from a dataset's file_name.
func CheckName(name string) error {
	if name == "" || !filepath.IsLocal(filepath.FromSlash(name)) {
		return fmt.Errorf("mask name %q escapes the output directory", name)
	}
	return nil
}

// MaskName replaces the extension of a dataset file name, keeping any
// sub-directory, e.g. "batch_1/000001.jpg" -> "batch_1/000001.png".
func MaskName(fileName, ext string) string {
	name := filepath.ToSlash(fileName)
	base := strings.TrimSuffix(name, filepath.Ext(name))
	return base + ext
}
