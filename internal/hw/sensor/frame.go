package sensor

import (
	"bytes"
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"image/jpeg"
	"time"
)

// PixelFormat is the layout of Frame.Data.
type PixelFormat int

const (
	// FormatNV21 is a full-resolution Y plane followed by interleaved V/U
	// samples at quarter resolution.
	FormatNV21 PixelFormat = iota
	// FormatMJPEG holds one JPEG image.
	FormatMJPEG
)

func (f PixelFormat) String() string {
	switch f {
	case FormatNV21:
		return "nv21"
	case FormatMJPEG:
		return "mjpeg"
	default:
		return "unknown"
	}
}

// Frame is one image from the sensor. Data is shared between consumers and
// must not be modified after delivery.
type Frame struct {
	Data      []byte
	Width     int
	Height    int
	Format    PixelFormat
	Timestamp time.Time
	Seq       uint64
}

// Luma returns the brightness plane as a grayscale image.
func (f Frame) Luma() (*image.Gray, error) {
	switch f.Format {
	case FormatNV21:
		n := f.Width * f.Height
		if len(f.Data) < n {
			return nil, fmt.Errorf("nv21 frame too short: %d < %d", len(f.Data), n)
		}
		return &image.Gray{
			Pix:    f.Data[:n],
			Stride: f.Width,
			Rect:   image.Rect(0, 0, f.Width, f.Height),
		}, nil
	case FormatMJPEG:
		img, err := jpeg.Decode(bytes.NewReader(f.Data))
		if err != nil {
			return nil, fmt.Errorf("decode mjpeg frame: %w", err)
		}
		if yc, ok := img.(*image.YCbCr); ok {
			b := yc.Bounds()
			gray := image.NewGray(image.Rect(0, 0, b.Dx(), b.Dy()))
			for y := 0; y < b.Dy(); y++ {
				copy(gray.Pix[y*gray.Stride:y*gray.Stride+b.Dx()], yc.Y[y*yc.YStride:y*yc.YStride+b.Dx()])
			}
			return gray, nil
		}
		gray := image.NewGray(image.Rect(0, 0, img.Bounds().Dx(), img.Bounds().Dy()))
		draw.Draw(gray, gray.Bounds(), img, img.Bounds().Min, draw.Src)
		return gray, nil
	default:
		return nil, fmt.Errorf("unsupported pixel format %s", f.Format)
	}
}

// Image converts the frame to a color image.
func (f Frame) Image() (image.Image, error) {
	switch f.Format {
	case FormatNV21:
		return nv21ToYCbCr(f.Data, f.Width, f.Height)
	case FormatMJPEG:
		img, err := jpeg.Decode(bytes.NewReader(f.Data))
		if err != nil {
			return nil, fmt.Errorf("decode mjpeg frame: %w", err)
		}
		return img, nil
	default:
		return nil, fmt.Errorf("unsupported pixel format %s", f.Format)
	}
}

// JPEG encodes the frame. MJPEG frames are returned as-is.
func (f Frame) JPEG(quality int) ([]byte, error) {
	if f.Format == FormatMJPEG {
		return f.Data, nil
	}
	img, err := f.Image()
	if err != nil {
		return nil, err
	}
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: clampQuality(quality)}); err != nil {
		return nil, fmt.Errorf("encode jpeg: %w", err)
	}
	return buf.Bytes(), nil
}

func clampQuality(q int) int {
	if q < 1 {
		return 1
	}
	if q > 100 {
		return 100
	}
	return q
}

func nv21ToYCbCr(data []byte, w, h int) (*image.YCbCr, error) {
	cw, ch := (w+1)/2, (h+1)/2
	if len(data) < w*h+2*cw*ch {
		return nil, fmt.Errorf("nv21 frame too short: %d bytes for %dx%d", len(data), w, h)
	}
	img := image.NewYCbCr(image.Rect(0, 0, w, h), image.YCbCrSubsampleRatio420)
	for y := 0; y < h; y++ {
		copy(img.Y[y*img.YStride:y*img.YStride+w], data[y*w:y*w+w])
	}
	vu := data[w*h:]
	for y := 0; y < ch; y++ {
		for x := 0; x < cw; x++ {
			i := (y*cw + x) * 2
			img.Cr[y*img.CStride+x] = vu[i]
			img.Cb[y*img.CStride+x] = vu[i+1]
		}
	}
	return img, nil
}

// EncodeNV21 converts any image into NV21 bytes.
func EncodeNV21(img image.Image) []byte {
	b := img.Bounds()
	w, h := b.Dx(), b.Dy()
	cw, ch := (w+1)/2, (h+1)/2
	out := make([]byte, w*h+2*cw*ch)
	vu := out[w*h:]
	rgba, fast := img.(*image.RGBA)
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			var r8, g8, b8 uint8
			if fast {
				i := rgba.PixOffset(b.Min.X+x, b.Min.Y+y)
				r8, g8, b8 = rgba.Pix[i], rgba.Pix[i+1], rgba.Pix[i+2]
			} else {
				r, g, bl, _ := img.At(b.Min.X+x, b.Min.Y+y).RGBA()
				r8, g8, b8 = uint8(r>>8), uint8(g>>8), uint8(bl>>8)
			}
			yy, cb, cr := color.RGBToYCbCr(r8, g8, b8)
			out[y*w+x] = yy
			if x%2 == 0 && y%2 == 0 {
				i := ((y/2)*cw + x/2) * 2
				vu[i] = cr
				vu[i+1] = cb
			}
		}
	}
	return out
}
