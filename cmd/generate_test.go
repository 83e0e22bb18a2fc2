package cmd

import (
	"bufio"
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/andresmejia3/cocomask/internal/coco"
	"github.com/andresmejia3/cocomask/internal/config"
	"github.com/spf13/cobra"
)

const testDataset = `{
  "images": [
    {"id": 1, "file_name": "000001.jpg", "width": 5, "height": 5},
    {"id": 2, "file_name": "val/000002.jpg", "width": 3, "height": 3}
  ],
  "annotations": [
    {"id": 1, "image_id": 1, "category_id": 1, "segmentation": [[0,0, 3,0, 3,3, 0,3]], "area": 9},
    {"id": 2, "image_id": 1, "category_id": 300, "segmentation": [[2,2, 5,2, 5,5, 2,5]], "area": 9}
  ],
  "categories": [{"id": 1, "name": "person", "supercategory": "human"}, {"id": 300, "name": "kite"}]
}`

func writeAnnFile(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "instances.json")
	if err := os.WriteFile(path, []byte(testDataset), 0644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestValidateGenerateFlags(t *testing.T) {
	ann := writeAnnFile(t)
	dir := t.TempDir()

	valid := func() GenerateOptions {
		return GenerateOptions{AnnFile: ann, OutputDir: dir, Policy: "last", Workers: 1, Depth: 8}
	}

	tests := []struct {
		name    string
		mutate  func(o *GenerateOptions)
		wantErr bool
	}{
		{"Valid defaults", func(o *GenerateOptions) {}, false},
		{"Missing annotation file", func(o *GenerateOptions) { o.AnnFile = filepath.Join(dir, "nope.json") }, true},
		{"Annotation path is a directory", func(o *GenerateOptions) { o.AnnFile = dir }, true},
		{"Missing output dir", func(o *GenerateOptions) { o.OutputDir = "" }, true},
		{"Missing image dir", func(o *GenerateOptions) { o.ImgDir = filepath.Join(dir, "images") }, true},
		{"Existing image dir", func(o *GenerateOptions) { o.ImgDir = dir }, false},
		{"Negative max images", func(o *GenerateOptions) { o.MaxImages = -1 }, true},
		{"Bad depth", func(o *GenerateOptions) { o.Depth = 12 }, true},
		{"Sixteen bit", func(o *GenerateOptions) { o.Depth = 16 }, false},
		{"Unknown policy", func(o *GenerateOptions) { o.Policy = "random" }, true},
		{"Long policy name", func(o *GenerateOptions) { o.Policy = "skip-on-overlap" }, false},
		{"Negative TTL", func(o *GenerateOptions) { o.CacheTTL = -time.Second }, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			o := valid()
			tt.mutate(&o)
			err := validateGenerateFlags(&o)
			if (err != nil) != tt.wantErr {
				t.Errorf("validateGenerateFlags() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}

	t.Run("Workers are clamped", func(t *testing.T) {
		o := valid()
		o.Workers = 0
		if err := validateGenerateFlags(&o); err != nil || o.Workers != 1 {
			t.Errorf("Expected workers clamped to 1, got %d (%v)", o.Workers, err)
		}
	})
}

func TestApplyConfig(t *testing.T) {
	newCmd := func() *cobra.Command {
		c := &cobra.Command{}
		c.Flags().String("policy", "last", "")
		c.Flags().Int("workers", 1, "")
		c.Flags().Int("max-images", 0, "")
		c.Flags().Int("depth", 8, "")
		c.Flags().String("cache-addr", "", "")
		c.Flags().Duration("cache-ttl", 0, "")
		return c
	}
	cfg := &config.Config{
		Policy: "first", Workers: 4, MaxImages: 10, Depth: 16,
		Cache: config.CacheConfig{Addr: "redis:6379", TTL: time.Hour},
	}

	t.Run("Config fills unset flags", func(t *testing.T) {
		o := GenerateOptions{Policy: "last", Workers: 1, Depth: 8}
		applyConfig(newCmd(), &o, cfg)
		if o.Policy != "first" || o.Workers != 4 || o.MaxImages != 10 || o.Depth != 16 || o.CacheAddr != "redis:6379" || o.CacheTTL != time.Hour {
			t.Errorf("Config not applied: %+v", o)
		}
	})

	t.Run("Flags win over config", func(t *testing.T) {
		c := newCmd()
		c.Flags().Set("policy", "skip")
		c.Flags().Set("workers", "2")
		o := GenerateOptions{Policy: "skip", Workers: 2, Depth: 8}
		applyConfig(c, &o, cfg)
		if o.Policy != "skip" || o.Workers != 2 || o.Depth != 16 {
			t.Errorf("Flag values overridden: %+v", o)
		}
	})
}

func TestResolveDBURL(t *testing.T) {
	oldURL, oldCfg := dbURL, Cfg
	defer func() { dbURL, Cfg = oldURL, oldCfg }()

	dbURL = ""
	Cfg = config.Default()
	t.Setenv("POSTGRES_HOST", "")
	if got := resolveDBURL(); got != "" {
		t.Errorf("Expected no database, got %q", got)
	}

	t.Setenv("POSTGRES_HOST", "db")
	t.Setenv("POSTGRES_USER", "u")
	t.Setenv("POSTGRES_PASSWORD", "p")
	t.Setenv("POSTGRES_DB", "masks")
	if got, want := resolveDBURL(), "postgres://u:p@db:5432/masks"; got != want {
		t.Errorf("resolveDBURL() = %q, want %q", got, want)
	}

	Cfg = &config.Config{DB: "postgres://cfg/db"}
	if got := resolveDBURL(); got != "postgres://cfg/db" {
		t.Errorf("Config value should win over env, got %q", got)
	}

	dbURL = "postgres://flag/db"
	if got := resolveDBURL(); got != "postgres://flag/db" {
		t.Errorf("Flag should win, got %q", got)
	}
}

func TestRunGenerateWithoutDatabase(t *testing.T) {
	oldDB := DB
	DB = nil
	defer func() { DB = oldDB }()

	out := filepath.Join(t.TempDir(), "masks")
	opts := GenerateOptions{AnnFile: writeAnnFile(t), OutputDir: out, Policy: "first", Workers: 2, Depth: 16}
	if err := validateGenerateFlags(&opts); err != nil {
		t.Fatal(err)
	}
	if err := runGenerate(context.Background(), opts); err != nil {
		t.Fatalf("runGenerate failed: %v", err)
	}

	for _, name := range []string{"000001.png", "val/000002.png"} {
		if _, err := os.Stat(filepath.Join(out, name)); err != nil {
			t.Errorf("Expected mask %s: %v", name, err)
		}
	}
}

func TestRunGenerateEightBitOverflow(t *testing.T) {
	oldDB := DB
	DB = nil
	defer func() { DB = oldDB }()

	// Category 300 cannot be stored in an 8-bit mask
	opts := GenerateOptions{AnnFile: writeAnnFile(t), OutputDir: t.TempDir(), Policy: "last", Workers: 1, Depth: 8}
	if err := runGenerate(context.Background(), opts); err == nil {
		t.Error("Expected write failure for label 300 at depth 8")
	}
}

func TestRunGenerateKeepsMasksInOutputDir(t *testing.T) {
	oldDB := DB
	DB = nil
	defer func() { DB = oldDB }()

	root := t.TempDir()
	ann := filepath.Join(root, "instances.json")
	data := `{"images": [{"id": 0, "file_name": "../../outside.jpg", "width": 2, "height": 2}], "annotations": [], "categories": []}`
	if err := os.WriteFile(ann, []byte(data), 0644); err != nil {
		t.Fatal(err)
	}
	out := filepath.Join(root, "a", "masks")

	opts := GenerateOptions{AnnFile: ann, OutputDir: out, Policy: "last", Workers: 1, Depth: 8}
	if err := runGenerate(context.Background(), opts); err == nil {
		t.Fatal("Expected an error for a file name outside the output directory")
	}
	if _, err := os.Stat(filepath.Join(root, "outside.png")); !os.IsNotExist(err) {
		t.Error("Mask escaped the output directory")
	}
}

func TestOpenCacheFallsBack(t *testing.T) {
	ctx := context.Background()
	if c := openCache(ctx, GenerateOptions{}); c != nil {
		t.Error("No address should mean no cache")
	}
	if c := openCache(ctx, GenerateOptions{CacheAddr: "localhost:6379", NoCache: true}); c != nil {
		t.Error("--no-cache should disable the cache")
	}
	if c := openCache(ctx, GenerateOptions{CacheAddr: "http://localhost:6379"}); c != nil {
		t.Error("A malformed cache URL should disable the cache")
	}
}

func TestPrintCategories(t *testing.T) {
	ds, err := coco.Parse([]byte(testDataset))
	if err != nil {
		t.Fatal(err)
	}
	var buf bytes.Buffer
	printCategories(&buf, ds)

	out := buf.String()
	for _, want := range []string{"person", "human", "kite", "needs --depth 16"} {
		if !strings.Contains(out, want) {
			t.Errorf("Output missing %q:\n%s", want, out)
		}
	}
}

func TestConfirm(t *testing.T) {
	tests := []struct {
		input string
		want  bool
	}{
		{"y\n", true},
		{"YES\n", true},
		{"n\n", false},
		{"\n", false},
		{"", false},
	}
	for _, tt := range tests {
		r := bufio.NewReader(strings.NewReader(tt.input))
		if got := confirm(r, &bytes.Buffer{}, "ok?"); got != tt.want {
			t.Errorf("confirm(%q) = %v, want %v", tt.input, got, tt.want)
		}
	}
}
