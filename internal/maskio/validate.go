package maskio

import (
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"os"
	"sort"

	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"
)

// Report summarizes one mask next to its source image.
type Report struct {
	ImageWidth      int
	ImageHeight     int
	MaskWidth       int
	MaskHeight      int
	DimensionsMatch bool
	Min             int
	Max             int
	Unique          []int
}

// Validate checks that the mask has the image's size and reports its value
// range and distinct labels.
func Validate(imagePath, maskPath string) (*Report, error) {
	imgCfg, err := decodeConfig(imagePath)
	if err != nil {
		return nil, err
	}
	mask, err := decodeImage(maskPath)
	if err != nil {
		return nil, err
	}

	r := InspectMask(mask)
	r.ImageWidth = imgCfg.Width
	r.ImageHeight = imgCfg.Height
	r.DimensionsMatch = r.ImageWidth == r.MaskWidth && r.ImageHeight == r.MaskHeight
	return r, nil
}

// InspectMask fills the mask-only part of a Report.
func InspectMask(mask image.Image) *Report {
	b := mask.Bounds()
	r := &Report{MaskWidth: b.Dx(), MaskHeight: b.Dy()}

	seen := make(map[int]struct{})
	first := true
	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			v := labelAt(mask, x, y)
			seen[v] = struct{}{}
			if first || v < r.Min {
				r.Min = v
			}
			if first || v > r.Max {
				r.Max = v
			}
			first = false
		}
	}

	for v := range seen {
		r.Unique = append(r.Unique, v)
	}
	sort.Ints(r.Unique)
	return r
}

func labelAt(img image.Image, x, y int) int {
	switch m := img.(type) {
	case *image.Gray:
		return int(m.GrayAt(x, y).Y)
	case *image.Gray16:
		return int(m.Gray16At(x, y).Y)
	case *image.Paletted:
		return int(m.ColorIndexAt(x, y))
	}
	// Anything else is read through its red channel at 8-bit precision
	r, _, _, _ := img.At(x, y).RGBA()
	return int(r >> 8)
}

func decodeConfig(path string) (image.Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return image.Config{}, err
	}
	defer f.Close()
	cfg, _, err := image.DecodeConfig(f)
	if err != nil {
		return image.Config{}, fmt.Errorf("failed to read %s: %w", path, err)
	}
	return cfg, nil
}

func decodeImage(path string) (image.Image, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	img, _, err := image.Decode(f)
	if err != nil {
		return nil, fmt.Errorf("failed to decode %s: %w", path, err)
	}
	return img, nil
}
