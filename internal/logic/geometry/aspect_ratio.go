package geometry

import (
	"fmt"
	"math"
	"strconv"
	"strings"
)

// AspectRatio is a width:height ratio reduced by the GCD.
type AspectRatio struct {
	X int
	Y int
}

// DefaultAspectRatio is used when the requested ratio is not available.
var DefaultAspectRatio = AspectRatio{X: 4, Y: 3}

func gcd(a, b int) int {
	if a < 0 {
		a = -a
	}
	if b < 0 {
		b = -b
	}
	for b != 0 {
		a, b = b, a%b
	}
	return a
}

// NewAspectRatio returns x:y in reduced form.
func NewAspectRatio(x, y int) AspectRatio {
	g := gcd(x, y)
	if g == 0 {
		return AspectRatio{}
	}
	return AspectRatio{X: x / g, Y: y / g}
}

// ParseAspectRatio parses "x:y". Both parts must be positive integers.
func ParseAspectRatio(s string) (AspectRatio, error) {
	xs, ys, ok := strings.Cut(s, ":")
	if !ok {
		return AspectRatio{}, fmt.Errorf("malformed aspect ratio %q: want x:y", s)
	}
	x, err := strconv.Atoi(strings.TrimSpace(xs))
	if err != nil || x <= 0 {
		return AspectRatio{}, fmt.Errorf("malformed aspect ratio %q: bad x", s)
	}
	y, err := strconv.Atoi(strings.TrimSpace(ys))
	if err != nil || y <= 0 {
		return AspectRatio{}, fmt.Errorf("malformed aspect ratio %q: bad y", s)
	}
	return NewAspectRatio(x, y), nil
}

// Matches reports whether size s has this ratio.
func (r AspectRatio) Matches(s Size) bool {
	return s.Ratio() == r
}

// Inverse returns y:x.
func (r AspectRatio) Inverse() AspectRatio {
	return AspectRatio{X: r.Y, Y: r.X}
}

// Float returns x/y.
func (r AspectRatio) Float() float64 {
	if r.Y == 0 {
		return 0
	}
	return float64(r.X) / float64(r.Y)
}

// IsZero reports whether the ratio is unset.
func (r AspectRatio) IsZero() bool {
	return r.X == 0 && r.Y == 0
}

func (r AspectRatio) String() string {
	return fmt.Sprintf("%d:%d", r.X, r.Y)
}

// MarshalText implements encoding.TextMarshaler.
func (r AspectRatio) MarshalText() ([]byte, error) {
	return []byte(r.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (r *AspectRatio) UnmarshalText(b []byte) error {
	v, err := ParseAspectRatio(string(b))
	if err != nil {
		return err
	}
	*r = v
	return nil
}

// Closest returns the ratio among candidates nearest to target,
// compared by their float value. Ties keep the earlier candidate.
func Closest(target AspectRatio, candidates []AspectRatio) (AspectRatio, bool) {
	if len(candidates) == 0 {
		return AspectRatio{}, false
	}
	best := candidates[0]
	bestDiff := math.Abs(best.Float() - target.Float())
	for _, c := range candidates[1:] {
		if d := math.Abs(c.Float() - target.Float()); d < bestDiff {
			best, bestDiff = c, d
		}
	}
	return best, true
}
