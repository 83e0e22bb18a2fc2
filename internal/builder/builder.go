// Package builder drives mask generation across a whole dataset: it walks
// the images, filters and decodes their annotations, composites them and
// hands each finished label map to a writer.
package builder

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/andresmejia3/cocomask/internal/cache"
	"github.com/andresmejia3/cocomask/internal/compositor"
	"github.com/andresmejia3/cocomask/internal/diag"
	"github.com/andresmejia3/cocomask/internal/maskio"
	"github.com/andresmejia3/cocomask/internal/types"
	"github.com/andresmejia3/cocomask/internal/utils"
	"github.com/schollz/progressbar/v3"
	"go.uber.org/zap"
)

// Source supplies images, their annotations in native order, and the decoder.
type Source interface {
	Images() []types.ImageInfo
	AnnotationsFor(imageID int64) []types.Annotation
	Decode(img types.ImageInfo, ann types.Annotation) (*compositor.ObjectMask, error)
}

// Writer persists one finished label map under a relative name.
type Writer interface {
	Ext() string
	Write(lm *compositor.LabelMap, name string) error
}

// Cache remembers the mask produced for an image's content key.
type Cache interface {
	Get(ctx context.Context, key string) (cache.Entry, bool, error)
	Set(ctx context.Context, key string, e cache.Entry) error
}

// Recorder receives one summary per image, in dataset order.
type Recorder interface {
	RecordImage(ctx context.Context, sum types.ImageSummary) error
}

// locator is implemented by writers that store masks as files.
type locator interface {
	Path(name string) string
	Exists(name string) bool
}

type Options struct {
	Policy    compositor.Policy
	MaxImages int // 0 processes every image
	Workers   int
	Sink      diag.Sink
	Progress  io.Writer // nil hides the progress bar
	Cache     Cache
	CacheSalt string // extra cache-key input, e.g. the output depth
	Recorder  Recorder
}

// Result aggregates a build. Written is one per processed image,
// including reused masks and all-background ones.
type Result struct {
	Written        int
	Reused         int
	Annotations    int
	Skipped        int
	DecodeFailures int
	Rejected       int
	OverlapPixels  int
}

func (r *Result) add(s types.ImageSummary) {
	r.Written++
	if s.Reused {
		r.Reused++
	}
	r.Annotations += s.Composited
	r.Skipped += s.Skipped
	r.DecodeFailures += s.DecodeFailures
	r.Rejected += s.Rejected
	r.OverlapPixels += s.OverlapPixels
}

type Builder struct {
	src  Source
	w    Writer
	opts Options
}

func New(src Source, w Writer, opts Options) (*Builder, error) {
	if src == nil || w == nil {
		return nil, fmt.Errorf("%w: source and writer are required", types.ErrInvalidArgument)
	}
	if !opts.Policy.Valid() {
		return nil, fmt.Errorf("%w: invalid overlap policy %s", types.ErrInvalidArgument, opts.Policy)
	}
	if opts.MaxImages < 0 {
		return nil, fmt.Errorf("%w: max images must be >= 0, got %d", types.ErrInvalidArgument, opts.MaxImages)
	}
	if opts.Workers < 1 {
		opts.Workers = 1
	}
	if opts.Sink == nil {
		opts.Sink = diag.Nop
	}
	return &Builder{src: src, w: w, opts: opts}, nil
}

// imageResult wraps the output from a worker to be sent to the aggregator
type imageResult struct {
	Index   int
	Summary types.ImageSummary
}

// BuildAll writes one mask per image. A write failure (or a recorder
// failure) stops the run and is returned; the Result still counts the
// images that finished before it.
func (b *Builder) BuildAll(parent context.Context) (Result, error) {
	images := b.src.Images()
	if b.opts.MaxImages > 0 && b.opts.MaxImages < len(images) {
		images = images[:b.opts.MaxImages]
	}

	ctx, cancel := context.WithCancel(parent)
	defer cancel()

	workers := b.opts.Workers
	taskChan := make(chan types.ImageTask, workers)
	resultsChan := make(chan imageResult, workers*2)
	errChan := make(chan error, workers+1)
	var wg sync.WaitGroup

	// Each worker owns the label map of the image it is processing
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for task := range taskChan {
				// Buffered tasks are dropped once the run is stopping
				if ctx.Err() != nil {
					return
				}
				sum, err := b.processImage(ctx, task.Image)
				if err != nil {
					select {
					case errChan <- err:
					default:
					}
					cancel()
					return
				}
				select {
				case resultsChan <- imageResult{Index: task.Index, Summary: sum}:
				case <-ctx.Done():
					return
				}
			}
		}()
	}

	go func() {
		defer close(taskChan)
		for i, img := range images {
			select {
			case taskChan <- types.ImageTask{Index: i, Image: img}:
			case <-ctx.Done():
				return
			}
		}
	}()

	go func() {
		wg.Wait()
		close(resultsChan)
	}()

	out := b.opts.Progress
	if out == nil {
		out = io.Discard
	}
	bar := progressbar.NewOptions(len(images),
		progressbar.OptionSetDescription("🎨 Building masks"),
		progressbar.OptionSetWriter(out),
		progressbar.OptionShowCount(),
	)

	// Buffer for re-ordering images (Worker 2 might finish before Worker 1)
	buffer := make(map[int]types.ImageSummary)
	next := 0
	var res Result
	var recErr error

	for r := range resultsChan {
		if recErr != nil {
			continue // draining after a recorder failure
		}
		buffer[r.Index] = r.Summary

		for {
			sum, ok := buffer[next]
			if !ok {
				break
			}
			delete(buffer, next)

			if b.opts.Recorder != nil {
				if err := b.opts.Recorder.RecordImage(ctx, sum); err != nil {
					recErr = fmt.Errorf("failed to record mask for image %d (%s): %w", sum.Image.ID, sum.Image.FileName, err)
					cancel()
					break
				}
			}
			res.add(sum)
			bar.Add(1)
			next++
		}
	}
	bar.Finish()

	select {
	case err := <-errChan:
		return res, err
	default:
	}
	if recErr != nil {
		return res, recErr
	}
	if err := parent.Err(); err != nil {
		return res, err
	}
	return res, nil
}

// processImage composites one image and writes its mask. Only writer
// failures and invalid compositor input are returned as errors.
func (b *Builder) processImage(ctx context.Context, img types.ImageInfo) (types.ImageSummary, error) {
	name := maskio.MaskName(img.FileName, b.w.Ext())
	anns := b.src.AnnotationsFor(img.ID)
	sum := types.ImageSummary{Image: img, MaskName: name}

	key, reused := b.lookup(ctx, img, anns, name)
	if reused {
		sum.Reused = true
		return sum, nil
	}

	lm := compositor.NewLabelMap(img.Width, img.Height)
	for _, ann := range anns {
		scope := diag.Scoped(b.opts.Sink, img.ID, ann.ID, img.FileName)

		if err := ann.Check(); err != nil {
			sum.Skipped++
			scope.Emit(diag.Event{
				Level:      diag.LevelWarning,
				Code:       diag.CodeIneligible,
				CategoryID: ann.CategoryID,
				Message:    fmt.Sprintf("skipping annotation %d for image %s: %v", ann.ID, img.FileName, err),
			})
			continue
		}

		m, err := b.src.Decode(img, ann)
		if err != nil {
			sum.DecodeFailures++
			scope.Emit(diag.Event{
				Level:      diag.LevelError,
				Code:       diag.CodeDecodeFailed,
				CategoryID: ann.CategoryID,
				Message:    fmt.Sprintf("failed to convert annotation %d to mask for image %s: %v", ann.ID, img.FileName, err),
			})
			continue
		}

		st, err := compositor.Apply(lm, m, ann.CategoryID, b.opts.Policy, scope)
		if err != nil {
			return sum, fmt.Errorf("image %d (%s), annotation %d: %w", img.ID, img.FileName, ann.ID, err)
		}
		sum.Composited++
		sum.OverlapPixels += st.Overlap
		if st.Rejected {
			sum.Rejected++
		}
	}

	if err := b.w.Write(lm, name); err != nil {
		b.opts.Sink.Emit(diag.Event{
			Level:    diag.LevelError,
			Code:     diag.CodeWriteFailed,
			ImageID:  img.ID,
			HasImage: true,
			FileName: img.FileName,
			Message:  fmt.Sprintf("failed to write mask %s: %v", name, err),
		})
		return sum, fmt.Errorf("%w: image %d (%s) -> %s: %w", types.ErrWriteFailure, img.ID, img.FileName, name, err)
	}
	sum.Classes = lm.Classes()

	b.remember(ctx, key, name)
	return sum, nil
}

// lookup reports whether an up-to-date mask already exists for these inputs.
// The returned key is empty when caching is off.
func (b *Builder) lookup(ctx context.Context, img types.ImageInfo, anns []types.Annotation, name string) (string, bool) {
	loc, ok := b.w.(locator)
	if b.opts.Cache == nil || !ok {
		return "", false
	}
	key, err := utils.ContentKey(b.opts.Policy.String(), b.w.Ext(), b.opts.CacheSalt, img, anns)
	if err != nil {
		utils.Logger.Warn("failed to compute cache key", zap.Int64("image_id", img.ID), zap.Error(err))
		return "", false
	}

	entry, hit, err := b.opts.Cache.Get(ctx, key)
	if err != nil {
		utils.Logger.Warn("cache lookup failed", zap.Int64("image_id", img.ID), zap.Error(err))
		return key, false
	}
	if !hit || entry.MaskName != name || !loc.Exists(name) {
		return key, false
	}
	digest, err := utils.FileDigest(loc.Path(name))
	if err != nil || digest != entry.Digest {
		return key, false
	}
	return key, true
}

func (b *Builder) remember(ctx context.Context, key, name string) {
	if key == "" {
		return
	}
	loc := b.w.(locator)
	digest, err := utils.FileDigest(loc.Path(name))
	if err == nil {
		err = b.opts.Cache.Set(ctx, key, cache.Entry{MaskName: name, Digest: digest})
	}
	if err != nil && !errors.Is(err, context.Canceled) {
		utils.Logger.Warn("failed to update cache", zap.String("mask", name), zap.Error(err))
	}
}
