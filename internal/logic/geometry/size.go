package geometry

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// Size is an immutable width x height pair in pixels.
type Size struct {
	Width  int `json:"width"`
	Height int `json:"height"`
}

// NewSize returns a Size.
func NewSize(width, height int) Size {
	return Size{Width: width, Height: height}
}

// Area returns width * height.
func (s Size) Area() int {
	return s.Width * s.Height
}

// Less orders sizes by area, then by width to keep the order total.
func (s Size) Less(o Size) bool {
	if s.Area() != o.Area() {
		return s.Area() < o.Area()
	}
	return s.Width < o.Width
}

// IsZero reports whether the size is unset.
func (s Size) IsZero() bool {
	return s.Width == 0 && s.Height == 0
}

// Rotated returns the size with width and height swapped.
func (s Size) Rotated() Size {
	return Size{Width: s.Height, Height: s.Width}
}

// Ratio returns the reduced aspect ratio of the size.
func (s Size) Ratio() AspectRatio {
	return NewAspectRatio(s.Width, s.Height)
}

func (s Size) String() string {
	return fmt.Sprintf("%dx%d", s.Width, s.Height)
}

// ParseSize parses "WxH".
func ParseSize(s string) (Size, error) {
	w, h, ok := strings.Cut(strings.TrimSpace(s), "x")
	if !ok {
		return Size{}, fmt.Errorf("malformed size %q: want WxH", s)
	}
	width, err := strconv.Atoi(w)
	if err != nil || width <= 0 {
		return Size{}, fmt.Errorf("malformed size %q: bad width", s)
	}
	height, err := strconv.Atoi(h)
	if err != nil || height <= 0 {
		return Size{}, fmt.Errorf("malformed size %q: bad height", s)
	}
	return Size{Width: width, Height: height}, nil
}

// SizeSet is an ordered set of sizes, ascending by area.
type SizeSet struct {
	sizes []Size
}

// Add inserts s keeping ascending order. Duplicates are ignored.
func (ss *SizeSet) Add(s Size) bool {
	i := sort.Search(len(ss.sizes), func(i int) bool { return !ss.sizes[i].Less(s) })
	if i < len(ss.sizes) && ss.sizes[i] == s {
		return false
	}
	ss.sizes = append(ss.sizes, Size{})
	copy(ss.sizes[i+1:], ss.sizes[i:])
	ss.sizes[i] = s
	return true
}

// Sizes returns a copy of the sizes, ascending by area.
func (ss *SizeSet) Sizes() []Size {
	out := make([]Size, len(ss.sizes))
	copy(out, ss.sizes)
	return out
}

// Len returns the number of sizes.
func (ss *SizeSet) Len() int {
	return len(ss.sizes)
}

// Smallest returns the first size, or false when empty.
func (ss *SizeSet) Smallest() (Size, bool) {
	if len(ss.sizes) == 0 {
		return Size{}, false
	}
	return ss.sizes[0], true
}

// Largest returns the last size, or false when empty.
func (ss *SizeSet) Largest() (Size, bool) {
	if len(ss.sizes) == 0 {
		return Size{}, false
	}
	return ss.sizes[len(ss.sizes)-1], true
}

// Contains reports whether s is in the set.
func (ss *SizeSet) Contains(s Size) bool {
	for _, v := range ss.sizes {
		if v == s {
			return true
		}
	}
	return false
}
