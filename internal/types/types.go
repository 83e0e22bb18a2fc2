package types

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// ImageInfo is one entry of the dataset's "images" array
type ImageInfo struct {
	ID       int64  `json:"id"`
	FileName string `json:"file_name"`
	Width    int    `json:"width"`
	Height   int    `json:"height"`
}

// Category is one entry of the dataset's "categories" array
type Category struct {
	ID            int    `json:"id"`
	Name          string `json:"name"`
	Supercategory string `json:"supercategory,omitempty"`
}

// Annotation is a single annotated object. The segmentation is opaque to the
// compositor and only interpreted by the decoder.
type Annotation struct {
	ID           int64        `json:"id"`
	ImageID      int64        `json:"image_id"`
	CategoryID   int          `json:"category_id"`
	Segmentation Segmentation `json:"segmentation"`
	Area         float64      `json:"area"`
	IsCrowd      int          `json:"iscrowd"`
}

// Check reports why the annotation may not reach the compositor. It needs a
// non-empty geometry and a positive area; failures wrap ErrIneligibleAnnotation.
func (a Annotation) Check() error {
	if a.Segmentation.Empty() {
		return fmt.Errorf("%w: empty segmentation", ErrIneligibleAnnotation)
	}
	if !(a.Area > 0) {
		return fmt.Errorf("%w: area %g is not positive", ErrIneligibleAnnotation, a.Area)
	}
	return nil
}

// Segmentation holds either a list of polygons or a run-length encoding.
// Exactly one of Polygons or RLE is set after unmarshalling a valid value.
type Segmentation struct {
	Polygons [][]float64
	RLE      *RLE
}

// RLE is a COCO run-length encoding. Size is [height, width]. Counts holds
// the uncompressed form; Compressed holds the COCO string form when the
// source used it.
type RLE struct {
	Size       [2]int
	Counts     []int64
	Compressed string
}

type rleJSON struct {
	Size   [2]int          `json:"size"`
	Counts json.RawMessage `json:"counts"`
}

// Empty reports whether there is no geometry to rasterize.
func (s Segmentation) Empty() bool {
	if s.RLE != nil {
		return len(s.RLE.Counts) == 0 && s.RLE.Compressed == ""
	}
	for _, p := range s.Polygons {
		if len(p) > 0 {
			return false
		}
	}
	return true
}

func (s *Segmentation) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		*s = Segmentation{}
		return nil
	}

	switch data[0] {
	case '[':
		var polys [][]float64
		if err := json.Unmarshal(data, &polys); err != nil {
			return fmt.Errorf("polygon segmentation: %w", err)
		}
		*s = Segmentation{Polygons: polys}
		return nil
	case '{':
		var raw rleJSON
		if err := json.Unmarshal(data, &raw); err != nil {
			return fmt.Errorf("rle segmentation: %w", err)
		}
		rle := &RLE{Size: raw.Size}
		counts := bytes.TrimSpace(raw.Counts)
		if len(counts) > 0 && counts[0] == '"' {
			if err := json.Unmarshal(counts, &rle.Compressed); err != nil {
				return fmt.Errorf("rle counts: %w", err)
			}
		} else if len(counts) > 0 && !bytes.Equal(counts, []byte("null")) {
			if err := json.Unmarshal(counts, &rle.Counts); err != nil {
				return fmt.Errorf("rle counts: %w", err)
			}
		}
		*s = Segmentation{RLE: rle}
		return nil
	}
	return fmt.Errorf("unsupported segmentation encoding starting with %q", data[0])
}

func (s Segmentation) MarshalJSON() ([]byte, error) {
	if s.RLE != nil {
		out := struct {
			Size   [2]int `json:"size"`
			Counts any    `json:"counts"`
		}{Size: s.RLE.Size}
		if s.RLE.Compressed != "" {
			out.Counts = s.RLE.Compressed
		} else {
			out.Counts = s.RLE.Counts
		}
		return json.Marshal(out)
	}
	if s.Polygons == nil {
		return []byte("[]"), nil
	}
	return json.Marshal(s.Polygons)
}

// ImageTask is a unit of work handed to a builder worker
type ImageTask struct {
	Index int
	Image ImageInfo
}

// ImageSummary is what happened to one image during a build
type ImageSummary struct {
	Image          ImageInfo
	MaskName       string
	Composited     int
	Skipped        int
	DecodeFailures int
	Rejected       int
	OverlapPixels  int
	Classes        []int
	Reused         bool
}
