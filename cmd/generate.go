package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/andresmejia3/cocomask/internal/builder"
	"github.com/andresmejia3/cocomask/internal/cache"
	"github.com/andresmejia3/cocomask/internal/coco"
	"github.com/andresmejia3/cocomask/internal/compositor"
	"github.com/andresmejia3/cocomask/internal/config"
	"github.com/andresmejia3/cocomask/internal/diag"
	"github.com/andresmejia3/cocomask/internal/maskio"
	"github.com/andresmejia3/cocomask/internal/store"
	"github.com/andresmejia3/cocomask/internal/utils"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

// GenerateOptions holds the flags of the generate command
type GenerateOptions struct {
	AnnFile   string
	ImgDir    string
	OutputDir string
	MaxImages int
	Policy    string
	Workers   int
	Depth     int
	CacheAddr string
	CacheTTL  time.Duration
	NoCache   bool
}

// maxReportedErrors bounds the error list printed in the summary
const maxReportedErrors = 5

var genOpts GenerateOptions

var generateCmd = &cobra.Command{
	Use:         "generate",
	Short:       "Generate one segmentation mask per image of a COCO dataset",
	Annotations: map[string]string{dbAnnotation: dbOptional},
	RunE: func(cmd *cobra.Command, args []string) error {
		cmd.SilenceUsage = true
		opts := genOpts
		applyConfig(cmd, &opts, Cfg)
		if err := validateGenerateFlags(&opts); err != nil {
			utils.ShowError("Invalid flags", err)
			return err
		}
		return runGenerate(cmd.Context(), opts)
	},
}

func init() {
	generateCmd.Flags().StringVarP(&genOpts.AnnFile, "ann-file", "a", "", "Path to COCO annotation JSON file")
	generateCmd.Flags().StringVar(&genOpts.ImgDir, "img-dir", "", "Directory containing the source images (optional, used to report missing files)")
	generateCmd.Flags().StringVarP(&genOpts.OutputDir, "output-dir", "o", "", "Directory to save generated masks")
	generateCmd.Flags().IntVarP(&genOpts.MaxImages, "max-images", "n", 0, "Process only the first N images (0 = all)")
	generateCmd.Flags().StringVarP(&genOpts.Policy, "policy", "p", "last", "Overlap policy: last, first or skip")
	generateCmd.Flags().IntVarP(&genOpts.Workers, "workers", "w", 1, "Number of parallel image workers")
	generateCmd.Flags().IntVar(&genOpts.Depth, "depth", 8, "Mask bit depth (8 or 16)")
	generateCmd.Flags().StringVar(&genOpts.CacheAddr, "cache-addr", "", "Redis host:port or redis:// URL for incremental builds (empty disables)")
	generateCmd.Flags().DurationVar(&genOpts.CacheTTL, "cache-ttl", 0, "Lifetime of cache entries (default from config)")
	generateCmd.Flags().BoolVar(&genOpts.NoCache, "no-cache", false, "Ignore the cache even if one is configured")

	generateCmd.MarkFlagRequired("ann-file")
	generateCmd.MarkFlagRequired("output-dir")
	rootCmd.AddCommand(generateCmd)
}

// applyConfig fills options from the config file unless the flag was given.
func applyConfig(cmd *cobra.Command, opts *GenerateOptions, cfg *config.Config) {
	if cfg == nil {
		return
	}
	changed := cmd.Flags().Changed
	if !changed("policy") && cfg.Policy != "" {
		opts.Policy = cfg.Policy
	}
	if !changed("workers") && cfg.Workers > 0 {
		opts.Workers = cfg.Workers
	}
	if !changed("max-images") {
		opts.MaxImages = cfg.MaxImages
	}
	if !changed("depth") && cfg.Depth != 0 {
		opts.Depth = cfg.Depth
	}
	if !changed("cache-addr") {
		opts.CacheAddr = cfg.Cache.Addr
	}
	if !changed("cache-ttl") {
		opts.CacheTTL = cfg.Cache.TTL
	}
}

// validateGenerateFlags ensures all CLI arguments are valid before touching the dataset.
func validateGenerateFlags(opts *GenerateOptions) error {
	info, err := os.Stat(opts.AnnFile)
	if err != nil {
		if os.IsNotExist(err) {
			return fmt.Errorf("annotation file does not exist: %s", opts.AnnFile)
		}
		return fmt.Errorf("unable to access annotation file: %w", err)
	}
	if info.IsDir() {
		return fmt.Errorf("annotation path is a directory, expected a JSON file: %s", opts.AnnFile)
	}
	if opts.OutputDir == "" {
		return errors.New("output directory is required")
	}
	if opts.ImgDir != "" {
		info, err := os.Stat(opts.ImgDir)
		if err != nil || !info.IsDir() {
			return fmt.Errorf("image directory is not accessible: %s", opts.ImgDir)
		}
	}
	if opts.MaxImages < 0 {
		return fmt.Errorf("invalid max-images: must be >= 0, got %d", opts.MaxImages)
	}
	if opts.Workers < 1 {
		opts.Workers = 1
	}
	if opts.Depth != 8 && opts.Depth != 16 {
		return fmt.Errorf("invalid depth: must be 8 or 16, got %d", opts.Depth)
	}
	if _, err := compositor.ParsePolicy(opts.Policy); err != nil {
		return err
	}
	if opts.CacheTTL < 0 {
		return fmt.Errorf("invalid cache-ttl: must be >= 0, got %s", opts.CacheTTL)
	}
	return nil
}

// runGenerate orchestrates a build: dataset loading, optional cache and run
// record, the builder itself, and the final summary.
func runGenerate(ctx context.Context, opts GenerateOptions) error {
	policy, _ := compositor.ParsePolicy(opts.Policy)

	ds, err := coco.Load(opts.AnnFile)
	if err != nil {
		utils.ShowError("Failed to load annotations", err)
		return err
	}
	fmt.Fprintf(os.Stderr, "📂 Loaded %d images, %d categories from %s\n", len(ds.Images()), len(ds.Categories()), filepath.Base(opts.AnnFile))
	if n := ds.Orphans(); n > 0 {
		utils.Logger.Warn("annotations reference unknown images", zap.Int("count", n))
	}
	if opts.ImgDir != "" {
		reportMissingImages(ds, opts.ImgDir, opts.MaxImages)
	}

	w, err := maskio.NewPNGWriter(opts.OutputDir, opts.Depth)
	if err != nil {
		utils.ShowError("Failed to prepare output directory", err)
		return err
	}

	counter := &diag.Counter{}
	firstErrors := &diag.Collector{Limit: maxReportedErrors}
	bopts := builder.Options{
		Policy:    policy,
		MaxImages: opts.MaxImages,
		Workers:   opts.Workers,
		Sink:      diag.Multi(diag.NewZapSink(utils.Logger), counter, diag.MinLevel(diag.LevelError, firstErrors)),
		Progress:  os.Stderr,
		CacheSalt: fmt.Sprintf("depth=%d", opts.Depth),
	}

	if c := openCache(ctx, opts); c != nil {
		defer c.Close()
		bopts.Cache = c
	}

	var runID string
	if DB != nil {
		id, err := DB.BeginRun(ctx, opts.AnnFile, opts.OutputDir, policy.String())
		if err != nil {
			utils.ShowError("Failed to register run", err)
			return err
		}
		runID = id.String()
		bopts.Recorder = store.RunRecorder{Store: DB, RunID: id}
		fmt.Fprintf(os.Stderr, "🗄️  Recording run %s\n", runID[:8])
	}

	fmt.Fprintf(os.Stderr, "⚙️  Compositing with policy %q on %d worker(s)...\n", policy.String(), opts.Workers)

	b, err := builder.New(ds, w, bopts)
	if err != nil {
		utils.ShowError("Failed to configure builder", err)
		return err
	}
	res, buildErr := b.BuildAll(ctx)

	if rec, ok := bopts.Recorder.(store.RunRecorder); ok {
		status := store.StatusCompleted
		if buildErr != nil {
			status = store.StatusFailed
		}
		// Background: the run must be closed even after Ctrl+C
		if err := DB.FinishRun(context.Background(), rec.RunID, res.Written, status); err != nil {
			utils.Logger.Error("failed to close run record", zap.String("run_id", runID), zap.Error(err))
		}
	}

	printSummary(res, counter, firstErrors)

	if buildErr != nil {
		utils.ShowError("Mask generation stopped", buildErr)
		return buildErr
	}
	fmt.Fprintf(os.Stderr, "\n🏁 Done. Wrote %d masks to %s\n", res.Written, opts.OutputDir)
	return nil
}

// openCache connects to Redis when configured. An unreachable cache only
// disables incremental builds.
func openCache(ctx context.Context, opts GenerateOptions) *cache.RedisCache {
	if opts.NoCache || opts.CacheAddr == "" {
		return nil
	}
	c, err := cache.Dial(cache.Config{
		Addr:     opts.CacheAddr,
		Password: Cfg.Cache.Password,
		DB:       Cfg.Cache.DB,
		TTL:      opts.CacheTTL,
	})
	if err != nil {
		utils.Logger.Warn("invalid cache address, rebuilding every mask", zap.Error(err))
		return nil
	}
	pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if err := c.Ping(pingCtx); err != nil {
		utils.Logger.Warn("cache unavailable, rebuilding every mask", zap.String("addr", c.Addr()), zap.Error(err))
		c.Close()
		return nil
	}
	fmt.Fprintf(os.Stderr, "♻️  Incremental build cache at %s\n", c.Addr())
	return c
}

// reportMissingImages warns about dataset entries without a source file.
// Masks are still generated from the annotation metadata.
func reportMissingImages(ds *coco.Dataset, dir string, limit int) {
	images := ds.Images()
	if limit > 0 && limit < len(images) {
		images = images[:limit]
	}
	missing := 0
	for _, img := range images {
		if _, err := os.Stat(filepath.Join(dir, filepath.FromSlash(img.FileName))); err != nil {
			missing++
			utils.Logger.Debug("source image not found", zap.Int64("image_id", img.ID), zap.String("file_name", img.FileName))
		}
	}
	if missing > 0 {
		fmt.Fprintf(os.Stderr, "⚠️  %d of %d source images not found in %s\n", missing, len(images), dir)
	}
}

func printSummary(res builder.Result, counts *diag.Counter, firstErrors *diag.Collector) {
	fmt.Fprintf(os.Stderr, "\n---------------------------------------------------------\n")
	fmt.Fprintf(os.Stderr, "📊 MASK SUMMARY\n")
	fmt.Fprintf(os.Stderr, "---------------------------------------------------------\n")
	fmt.Fprintf(os.Stderr, "🖼️  Masks written:          %d (%d reused)\n", res.Written, res.Reused)
	fmt.Fprintf(os.Stderr, "🧩 Annotations composited: %d\n", res.Annotations)
	fmt.Fprintf(os.Stderr, "⏭️  Ineligible skipped:     %d\n", res.Skipped)
	fmt.Fprintf(os.Stderr, "💥 Decode failures:        %d\n", res.DecodeFailures)
	fmt.Fprintf(os.Stderr, "🚫 Rejected on overlap:    %d\n", res.Rejected)
	fmt.Fprintf(os.Stderr, "🔀 Overlapping pixels:     %d (%d events)\n", res.OverlapPixels,
		counts.Count(diag.CodeOverlapOverwritten)+counts.Count(diag.CodeOverlapSkipped))

	if errs := firstErrors.Events(); len(errs) > 0 {
		fmt.Fprintf(os.Stderr, "\n⚠️  Errors:\n")
		for _, e := range errs {
			fmt.Fprintf(os.Stderr, "   [%s] %s\n", e.Code, e.Message)
		}
		if n := firstErrors.Dropped(); n > 0 {
			fmt.Fprintf(os.Stderr, "   ... and %d more (see log)\n", n)
		}
	}
	fmt.Fprintf(os.Stderr, "---------------------------------------------------------\n")
}
