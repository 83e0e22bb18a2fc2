// Package compositor folds per-object binary masks into a single
// multi-class label map under an overlap policy.
package compositor

import (
	"fmt"
	"math"
	"sort"
	"strings"

	"github.com/andresmejia3/cocomask/internal/diag"
	"github.com/andresmejia3/cocomask/internal/types"
)

// MaxCategory is the largest class id a LabelMap cell can hold.
const MaxCategory = math.MaxUint16

// Policy decides who owns a pixel claimed by more than one annotation.
type Policy int

const (
	LastWins Policy = iota
	FirstWins
	SkipOnOverlap
)

func (p Policy) String() string {
	switch p {
	case LastWins:
		return "last"
	case FirstWins:
		return "first"
	case SkipOnOverlap:
		return "skip"
	}
	return fmt.Sprintf("Policy(%d)", int(p))
}

func (p Policy) Valid() bool {
	return p == LastWins || p == FirstWins || p == SkipOnOverlap
}

// ParsePolicy accepts the short names (last, first, skip) and the long ones
// (last-wins, first-wins, skip-on-overlap).
func ParsePolicy(s string) (Policy, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "last", "last-wins", "lastwins":
		return LastWins, nil
	case "first", "first-wins", "firstwins":
		return FirstWins, nil
	case "skip", "skip-on-overlap", "skiponoverlap":
		return SkipOnOverlap, nil
	}
	return 0, fmt.Errorf("%w: unknown overlap policy %q (choose last, first or skip)", types.ErrInvalidArgument, s)
}

// LabelMap is a row-major grid of class ids, 0 meaning background.
type LabelMap struct {
	Width  int
	Height int
	Cells  []uint16
}

// NewLabelMap returns an all-background map.
func NewLabelMap(width, height int) *LabelMap {
	if width < 0 {
		width = 0
	}
	if height < 0 {
		height = 0
	}
	return &LabelMap{Width: width, Height: height, Cells: make([]uint16, width*height)}
}

func (m *LabelMap) At(x, y int) uint16 { return m.Cells[y*m.Width+x] }

func (m *LabelMap) Set(x, y int, v uint16) { m.Cells[y*m.Width+x] = v }

// Classes returns the sorted distinct non-zero ids present in the map.
func (m *LabelMap) Classes() []int {
	seen := make(map[uint16]struct{})
	for _, v := range m.Cells {
		if v != 0 {
			seen[v] = struct{}{}
		}
	}
	out := make([]int, 0, len(seen))
	for v := range seen {
		out = append(out, int(v))
	}
	sort.Ints(out)
	return out
}

// ObjectMask is a row-major boolean grid, true where the object is.
type ObjectMask struct {
	Width  int
	Height int
	Bits   []bool
}

func NewObjectMask(width, height int) *ObjectMask {
	return &ObjectMask{Width: width, Height: height, Bits: make([]bool, width*height)}
}

func (m *ObjectMask) At(x, y int) bool { return m.Bits[y*m.Width+x] }

func (m *ObjectMask) Set(x, y int, v bool) { m.Bits[y*m.Width+x] = v }

// Count returns the number of true pixels.
func (m *ObjectMask) Count() int {
	n := 0
	for _, b := range m.Bits {
		if b {
			n++
		}
	}
	return n
}

// Stats describes the effect of one Apply call.
type Stats struct {
	Covered  int  // true pixels in the object mask
	Overlap  int  // covered pixels that were already assigned
	Written  int  // cells set to the category
	Rejected bool // SkipOnOverlap refused the whole annotation
}

// Apply writes categoryID into lm wherever m is true, resolving overlaps with
// policy. lm is only modified on success.
func Apply(lm *LabelMap, m *ObjectMask, categoryID int, policy Policy, sink diag.Sink) (Stats, error) {
	if err := check(lm, m, categoryID, policy); err != nil {
		return Stats{}, err
	}
	if sink == nil {
		sink = diag.Nop
	}
	cat := uint16(categoryID)

	var st Stats
	for i, on := range m.Bits {
		if !on {
			continue
		}
		st.Covered++
		if lm.Cells[i] != 0 {
			st.Overlap++
		}
	}

	switch policy {
	case LastWins:
		if st.Overlap > 0 {
			sink.Emit(diag.Event{
				Level:      diag.LevelInfo,
				Code:       diag.CodeOverlapOverwritten,
				CategoryID: categoryID,
				Pixels:     st.Overlap,
				Message:    fmt.Sprintf("overwriting %d overlapping pixels for category %d (last-wins)", st.Overlap, categoryID),
			})
		}
		st.Written = fill(lm, m, cat, false)

	case FirstWins:
		st.Written = fill(lm, m, cat, true)

	case SkipOnOverlap:
		if st.Overlap > 0 {
			st.Rejected = true
			sink.Emit(diag.Event{
				Level:      diag.LevelInfo,
				Code:       diag.CodeOverlapSkipped,
				CategoryID: categoryID,
				Pixels:     st.Overlap,
				Message:    fmt.Sprintf("skipping annotation for category %d due to %d overlapping pixels", categoryID, st.Overlap),
			})
			return st, nil
		}
		st.Written = fill(lm, m, cat, false)
	}
	return st, nil
}

func fill(lm *LabelMap, m *ObjectMask, cat uint16, backgroundOnly bool) int {
	n := 0
	for i, on := range m.Bits {
		if !on || (backgroundOnly && lm.Cells[i] != 0) {
			continue
		}
		lm.Cells[i] = cat
		n++
	}
	return n
}

func check(lm *LabelMap, m *ObjectMask, categoryID int, policy Policy) error {
	if !policy.Valid() {
		return fmt.Errorf("%w: invalid overlap policy %s", types.ErrInvalidArgument, policy)
	}
	if lm == nil || m == nil {
		return fmt.Errorf("%w: nil label map or object mask", types.ErrInvalidArgument)
	}
	if lm.Width != m.Width || lm.Height != m.Height {
		return fmt.Errorf("%w: object mask is %dx%d, label map is %dx%d",
			types.ErrInvalidArgument, m.Width, m.Height, lm.Width, lm.Height)
	}
	if len(lm.Cells) != lm.Width*lm.Height || len(m.Bits) != m.Width*m.Height {
		return fmt.Errorf("%w: buffer length does not match dimensions", types.ErrInvalidArgument)
	}
	if categoryID <= 0 || categoryID > MaxCategory {
		return fmt.Errorf("%w: category id %d out of range 1..%d", types.ErrInvalidArgument, categoryID, MaxCategory)
	}
	return nil
}

// Layer pairs an object mask with its class id.
type Layer struct {
	Mask       *ObjectMask
	CategoryID int
}

// Compose folds layers, in order, into a fresh width x height map.
func Compose(width, height int, layers []Layer, policy Policy, sink diag.Sink) (*LabelMap, error) {
	if !policy.Valid() {
		return nil, fmt.Errorf("%w: invalid overlap policy %s", types.ErrInvalidArgument, policy)
	}
	lm := NewLabelMap(width, height)
	for i, l := range layers {
		if _, err := Apply(lm, l.Mask, l.CategoryID, policy, sink); err != nil {
			return nil, fmt.Errorf("layer %d: %w", i, err)
		}
	}
	return lm, nil
}
