package coco

import (
	"fmt"
	"image"
	"image/color"
	"math"

	"github.com/andresmejia3/cocomask/internal/compositor"
	"github.com/andresmejia3/cocomask/internal/types"
	"github.com/llgcode/draw2d/draw2dimg"
)

// alphaThreshold is the minimum rasterized coverage for a pixel to count as
// part of a polygon.
const alphaThreshold = 128

// Decode rasterizes the annotation at the image's resolution.
func (d *Dataset) Decode(img types.ImageInfo, ann types.Annotation) (*compositor.ObjectMask, error) {
	return Decode(ann.Segmentation, img.Width, img.Height)
}

// Decode turns a segmentation into a width x height object mask. Every
// failure wraps types.ErrDecode.
func Decode(seg types.Segmentation, width, height int) (m *compositor.ObjectMask, err error) {
	if width <= 0 || height <= 0 {
		return nil, fmt.Errorf("%w: invalid target size %dx%d", types.ErrDecode, width, height)
	}
	if seg.Empty() {
		return nil, fmt.Errorf("%w: empty segmentation", types.ErrDecode)
	}
	if seg.RLE != nil {
		return decodeRLE(seg.RLE, width, height)
	}
	return decodePolygons(seg.Polygons, width, height)
}

func decodePolygons(polys [][]float64, width, height int) (m *compositor.ObjectMask, err error) {
	for i, p := range polys {
		if len(p) == 0 {
			continue
		}
		if len(p)%2 != 0 {
			return nil, fmt.Errorf("%w: polygon %d has an odd number of coordinates (%d)", types.ErrDecode, i, len(p))
		}
		if len(p) < 6 {
			return nil, fmt.Errorf("%w: polygon %d has %d points, need at least 3", types.ErrDecode, i, len(p)/2)
		}
		for _, v := range p {
			if math.IsNaN(v) || math.IsInf(v, 0) {
				return nil, fmt.Errorf("%w: polygon %d has a non-finite coordinate", types.ErrDecode, i)
			}
		}
	}

	// The rasterizer panics on some degenerate inputs
	defer func() {
		if r := recover(); r != nil {
			m = nil
			err = fmt.Errorf("%w: rasterizer panic: %v", types.ErrDecode, r)
		}
	}()

	canvas := image.NewRGBA(image.Rect(0, 0, width, height))
	gc := draw2dimg.NewGraphicContext(canvas)
	gc.SetFillColor(color.RGBA{255, 255, 255, 255})

	// Each polygon is filled on its own so that several parts of one object
	// are unioned regardless of winding.
	for _, p := range polys {
		if len(p) == 0 {
			continue
		}
		gc.BeginPath()
		gc.MoveTo(p[0], p[1])
		for i := 2; i < len(p); i += 2 {
			gc.LineTo(p[i], p[i+1])
		}
		gc.Close()
		gc.Fill()
	}

	m = compositor.NewObjectMask(width, height)
	for y := 0; y < height; y++ {
		row := canvas.Pix[y*canvas.Stride:]
		for x := 0; x < width; x++ {
			if row[x*4+3] >= alphaThreshold {
				m.Bits[y*width+x] = true
			}
		}
	}
	return m, nil
}

func decodeRLE(r *types.RLE, width, height int) (*compositor.ObjectMask, error) {
	if r.Size[0] != height || r.Size[1] != width {
		return nil, fmt.Errorf("%w: rle size %dx%d does not match image %dx%d",
			types.ErrDecode, r.Size[1], r.Size[0], width, height)
	}

	counts := r.Counts
	if r.Compressed != "" {
		var err error
		if counts, err = Decompress(r.Compressed); err != nil {
			return nil, err
		}
	}

	total := int64(width) * int64(height)
	m := compositor.NewObjectMask(width, height)
	var idx int64
	on := false
	for i, c := range counts {
		if c < 0 {
			return nil, fmt.Errorf("%w: negative run length at %d", types.ErrDecode, i)
		}
		if idx+c > total {
			return nil, fmt.Errorf("%w: runs exceed %d pixels", types.ErrDecode, total)
		}
		if on {
			// Runs walk down columns
			for k := idx; k < idx+c; k++ {
				y := int(k % int64(height))
				x := int(k / int64(height))
				m.Bits[y*width+x] = true
			}
		}
		idx += c
		on = !on
	}
	if idx != total {
		return nil, fmt.Errorf("%w: runs cover %d of %d pixels", types.ErrDecode, idx, total)
	}
	return m, nil
}

// Decompress expands the COCO compressed counts string. Each count is
// stored as 5-bit groups offset by '0', with a continuation bit and, from
// the fourth count on, as a delta against the count two places back.
func Decompress(s string) ([]int64, error) {
	var counts []int64
	p := 0
	for p < len(s) {
		var x int64
		var k uint
		more := true
		for more {
			if p >= len(s) {
				return nil, fmt.Errorf("%w: truncated rle string", types.ErrDecode)
			}
			c := int64(s[p]) - 48
			if c < 0 || c > 63 {
				return nil, fmt.Errorf("%w: invalid rle character %q at %d", types.ErrDecode, s[p], p)
			}
			x |= (c & 0x1f) << (5 * k)
			more = c&0x20 != 0
			p++
			k++
			if !more && c&0x10 != 0 {
				x |= -1 << (5 * k)
			}
		}
		if len(counts) > 2 {
			x += counts[len(counts)-2]
		}
		counts = append(counts, x)
	}
	return counts, nil
}
