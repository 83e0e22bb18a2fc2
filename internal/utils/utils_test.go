package utils

import (
	"bytes"
	"errors"
	"os"
	"strings"
	"testing"

	"github.com/andresmejia3/cocomask/internal/types"
)

func TestContentKey(t *testing.T) {
	img := types.ImageInfo{ID: 1, FileName: "a.jpg", Width: 4, Height: 4}
	anns := []types.Annotation{{ID: 10, ImageID: 1, CategoryID: 2, Area: 4,
		Segmentation: types.Segmentation{Polygons: [][]float64{{0, 0, 2, 0, 2, 2}}}}}

	k1, err := ContentKey("last", img, anns)
	if err != nil || k1 == "" {
		t.Fatalf("Failed to generate key: %v", err)
	}

	// Verify Determinism
	k2, _ := ContentKey("last", img, anns)
	if k1 != k2 {
		t.Errorf("Key is not deterministic. Got %s, then %s", k1, k2)
	}

	// Verify Sensitivity (Change policy -> Change key)
	k3, _ := ContentKey("first", img, anns)
	if k1 == k3 {
		t.Error("Key did not change with the policy")
	}

	// Verify Sensitivity (Change geometry -> Change key)
	anns[0].Segmentation.Polygons[0][0] = 1
	k4, _ := ContentKey("last", img, anns)
	if k1 == k4 {
		t.Error("Key did not change after geometry modification")
	}
}

func TestFileDigest(t *testing.T) {
	tmp, err := os.CreateTemp("", "mask_test")
	if err != nil {
		t.Fatal(err)
	}
	defer os.Remove(tmp.Name())
	tmp.Write([]byte("fake mask content"))
	tmp.Close()

	d1, err := FileDigest(tmp.Name())
	if err != nil || len(d1) != 64 {
		t.Fatalf("Unexpected digest %q (%v)", d1, err)
	}

	f, _ := os.OpenFile(tmp.Name(), os.O_APPEND|os.O_WRONLY, 0644)
	f.Write([]byte(" modification"))
	f.Close()

	d2, _ := FileDigest(tmp.Name())
	if d1 == d2 {
		t.Error("Digest did not change after file modification")
	}

	if _, err := FileDigest(tmp.Name() + ".missing"); err == nil {
		t.Error("Expected error for missing file")
	}
}

func TestShowError(t *testing.T) {
	var buf bytes.Buffer
	old := ErrOut
	ErrOut = &buf
	defer func() { ErrOut = old }()

	ShowError("Failed to write mask", errors.New("disk full"))

	out := buf.String()
	if !strings.Contains(out, "Failed to write mask") || !strings.Contains(out, "disk full") {
		t.Errorf("Unexpected error box: %s", out)
	}
}

func TestInitLogger(t *testing.T) {
	old := Logger
	defer func() { Logger = old }()

	for _, mode := range []string{"debug", "release"} {
		if err := InitLogger(mode); err != nil {
			t.Fatalf("InitLogger(%q) failed: %v", mode, err)
		}
		if Logger == nil {
			t.Fatalf("Logger not set for mode %q", mode)
		}
	}
	Sync()
}
