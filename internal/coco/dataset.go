// Package coco reads COCO-style annotation files and rasterizes their
// polygon and RLE geometry into object masks.
package coco

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/andresmejia3/cocomask/internal/types"
)

type file struct {
	Images      []types.ImageInfo  `json:"images"`
	Annotations []types.Annotation `json:"annotations"`
	Categories  []types.Category   `json:"categories"`
}

// Dataset is an in-memory COCO annotation file. Images and per-image
// annotations keep the order they have in the file.
type Dataset struct {
	Path       string
	images     []types.ImageInfo
	categories []types.Category
	byImage    map[int64][]types.Annotation
	orphans    int
}

// Load parses the annotation file at path.
func Load(path string) (*Dataset, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var raw file
	if err := json.NewDecoder(f).Decode(&raw); err != nil {
		return nil, fmt.Errorf("failed to parse annotation file %s: %w", path, err)
	}
	ds, err := build(raw)
	if err != nil {
		return nil, fmt.Errorf("invalid annotation file %s: %w", path, err)
	}
	ds.Path = path
	return ds, nil
}

// Parse builds a Dataset from raw JSON bytes.
func Parse(data []byte) (*Dataset, error) {
	var raw file
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, err
	}
	return build(raw)
}

func build(raw file) (*Dataset, error) {
	ds := &Dataset{
		images:     raw.Images,
		categories: raw.Categories,
		byImage:    make(map[int64][]types.Annotation, len(raw.Images)),
	}

	for _, img := range raw.Images {
		if _, dup := ds.byImage[img.ID]; dup {
			return nil, fmt.Errorf("duplicate image id %d", img.ID)
		}
		if img.Width <= 0 || img.Height <= 0 {
			return nil, fmt.Errorf("image %d (%s) has invalid size %dx%d", img.ID, img.FileName, img.Width, img.Height)
		}
		ds.byImage[img.ID] = nil
	}

	for _, ann := range raw.Annotations {
		if _, ok := ds.byImage[ann.ImageID]; !ok {
			ds.orphans++
			continue
		}
		ds.byImage[ann.ImageID] = append(ds.byImage[ann.ImageID], ann)
	}
	return ds, nil
}

// Images returns the image list in file order.
func (d *Dataset) Images() []types.ImageInfo { return d.images }

// AnnotationsFor returns the annotations of one image in file order.
func (d *Dataset) AnnotationsFor(imageID int64) []types.Annotation { return d.byImage[imageID] }

func (d *Dataset) Categories() []types.Category { return d.categories }

// Orphans is the number of annotations referencing an unknown image.
func (d *Dataset) Orphans() int { return d.orphans }

// AnnotationCounts returns the number of annotations per category id.
func (d *Dataset) AnnotationCounts() map[int]int {
	counts := make(map[int]int, len(d.categories))
	for _, anns := range d.byImage {
		for _, a := range anns {
			counts[a.CategoryID]++
		}
	}
	return counts
}
