package geometry

import "sort"

// Catalog groups sizes by reduced aspect ratio.
type Catalog struct {
	ratios map[AspectRatio]*SizeSet
}

// NewCatalog returns a catalog holding the given sizes.
func NewCatalog(sizes ...Size) *Catalog {
	c := &Catalog{ratios: make(map[AspectRatio]*SizeSet)}
	for _, s := range sizes {
		c.Add(s)
	}
	return c
}

// Add files s under its reduced ratio. Zero or negative sizes are ignored.
func (c *Catalog) Add(s Size) bool {
	if s.Width <= 0 || s.Height <= 0 {
		return false
	}
	r := s.Ratio()
	set, ok := c.ratios[r]
	if !ok {
		set = &SizeSet{}
		c.ratios[r] = set
	}
	return set.Add(s)
}

// Remove drops a whole ratio.
func (c *Catalog) Remove(r AspectRatio) {
	delete(c.ratios, r)
}

// Ratios returns the ratios present, sorted by value then by X.
func (c *Catalog) Ratios() []AspectRatio {
	out := make([]AspectRatio, 0, len(c.ratios))
	for r, set := range c.ratios {
		if set.Len() > 0 {
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		fi, fj := out[i].Float(), out[j].Float()
		if fi != fj {
			return fi < fj
		}
		return out[i].X < out[j].X
	})
	return out
}

// Sizes returns the sizes for r, ascending by area. Nil when absent.
func (c *Catalog) Sizes(r AspectRatio) []Size {
	set, ok := c.ratios[r]
	if !ok {
		return nil
	}
	return set.Sizes()
}

// Has reports whether r has at least one size.
func (c *Catalog) Has(r AspectRatio) bool {
	set, ok := c.ratios[r]
	return ok && set.Len() > 0
}

// Set returns the size set for r.
func (c *Catalog) Set(r AspectRatio) (*SizeSet, bool) {
	set, ok := c.ratios[r]
	if !ok || set.Len() == 0 {
		return nil, false
	}
	return set, true
}

// IsEmpty reports whether no ratio has sizes.
func (c *Catalog) IsEmpty() bool {
	return len(c.Ratios()) == 0
}

// Prune removes, from both catalogs, every ratio that lacks sizes in the
// other one. Afterwards a ratio is present in preview iff it is present in
// picture.
func Prune(preview, picture *Catalog) {
	for r := range preview.ratios {
		if !picture.Has(r) {
			preview.Remove(r)
		}
	}
	for r := range picture.ratios {
		if !preview.Has(r) {
			picture.Remove(r)
		}
	}
}
