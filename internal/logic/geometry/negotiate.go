package geometry

import "fmt"

// ChooseOptimalSize picks a size from the catalog for ratio r.
//
// When the surface is not laid out yet the smallest size is returned.
// Otherwise the first size (ascending by area) covering desired in both
// dimensions wins; if none does, the largest one is used.
func ChooseOptimalSize(c *Catalog, r AspectRatio, desired Size, laidOut bool) (Size, error) {
	set, ok := c.Set(r)
	if !ok {
		return Size{}, fmt.Errorf("no sizes for aspect ratio %s", r)
	}
	if !laidOut || desired.Width <= 0 || desired.Height <= 0 {
		s, _ := set.Smallest()
		return s, nil
	}
	for _, s := range set.Sizes() {
		if s.Width >= desired.Width && s.Height >= desired.Height {
			return s, nil
		}
	}
	s, _ := set.Largest()
	return s, nil
}

// ChooseAspectRatio returns requested when the catalog holds it. Otherwise
// it returns the ratio closest to DefaultAspectRatio and fellBack=true.
func ChooseAspectRatio(c *Catalog, requested AspectRatio) (r AspectRatio, fellBack bool, err error) {
	if !requested.IsZero() && c.Has(requested) {
		return requested, false, nil
	}
	if c.Has(DefaultAspectRatio) {
		return DefaultAspectRatio, !requested.IsZero() && requested != DefaultAspectRatio, nil
	}
	best, ok := Closest(DefaultAspectRatio, c.Ratios())
	if !ok {
		return AspectRatio{}, false, fmt.Errorf("catalog has no aspect ratios")
	}
	return best, true, nil
}

// LargestPictureSize returns the largest size for r, used when no explicit
// picture size is set.
func LargestPictureSize(c *Catalog, r AspectRatio) (Size, error) {
	set, ok := c.Set(r)
	if !ok {
		return Size{}, fmt.Errorf("no picture sizes for aspect ratio %s", r)
	}
	s, _ := set.Largest()
	return s, nil
}
