package decode

import (
	"image"
	"math"
)

// ROI is a region of interest in fractions of the frame. The zero value
// selects the whole frame.
type ROI struct {
	X, Y, Width, Height float64
}

func (r ROI) rect(b image.Rectangle) image.Rectangle {
	if r.Width <= 0 || r.Height <= 0 {
		return b
	}
	w, h := float64(b.Dx()), float64(b.Dy())
	x0 := b.Min.X + int(math.Round(clamp01(r.X)*w))
	y0 := b.Min.Y + int(math.Round(clamp01(r.Y)*h))
	x1 := b.Min.X + int(math.Round(clamp01(r.X+r.Width)*w))
	y1 := b.Min.Y + int(math.Round(clamp01(r.Y+r.Height)*h))
	return image.Rect(x0, y0, x1, y1).Intersect(b)
}

func clamp01(v float64) float64 {
	return math.Max(0, math.Min(1, v))
}

// Crop copies the region of interest into a new image anchored at 0,0.
func Crop(img *image.Gray, roi ROI) *image.Gray {
	r := roi.rect(img.Bounds())
	out := image.NewGray(image.Rect(0, 0, r.Dx(), r.Dy()))
	for y := 0; y < r.Dy(); y++ {
		src := img.PixOffset(r.Min.X, r.Min.Y+y)
		copy(out.Pix[y*out.Stride:y*out.Stride+r.Dx()], img.Pix[src:src+r.Dx()])
	}
	return out
}

// Rotate90 rotates clockwise.
func Rotate90(img *image.Gray) *image.Gray {
	b := img.Bounds()
	w, h := b.Dx(), b.Dy()
	out := image.NewGray(image.Rect(0, 0, h, w))
	for y := 0; y < w; y++ {
		for x := 0; x < h; x++ {
			out.Pix[y*out.Stride+x] = img.Pix[img.PixOffset(b.Min.X+y, b.Min.Y+h-1-x)]
		}
	}
	return out
}

// FlipBoth mirrors horizontally and vertically.
func FlipBoth(img *image.Gray) *image.Gray {
	b := img.Bounds()
	w, h := b.Dx(), b.Dy()
	out := image.NewGray(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			out.Pix[y*out.Stride+x] = img.Pix[img.PixOffset(b.Min.X+w-1-x, b.Min.Y+h-1-y)]
		}
	}
	return out
}
