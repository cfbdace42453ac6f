// Package decode finds barcodes in preview frames.
//
// The crop of the region of interest is tried as-is, rotated 90°,
// flipped on both axes, then flipped and rotated, stopping at the first
// variant that decodes. Sensor mounting and content orientation are both
// unknown, so the order is fixed to keep results reproducible.
package decode

import (
	"image"

	"github.com/liyue201/goqr"

	"github.com/cjeanneret/camsession/internal/debug"
)

// Barcode is one decoded symbol.
type Barcode struct {
	Format  string `json:"format"`
	Payload string `json:"payload"`
}

// Decoder finds barcodes in a grayscale image. No match is not an error.
type Decoder interface {
	Decode(img *image.Gray) ([]Barcode, error)
}

// QRDecoder decodes QR codes with goqr.
type QRDecoder struct{}

func (QRDecoder) Decode(img *image.Gray) ([]Barcode, error) {
	if img.Bounds().Empty() {
		return nil, nil
	}
	codes, err := goqr.Recognize(img)
	if err != nil {
		// goqr reports "nothing found" as an error.
		debug.Trace("QR: %v", err)
		return nil, nil
	}
	out := make([]Barcode, 0, len(codes))
	for _, c := range codes {
		out = append(out, Barcode{Format: "qr", Payload: string(c.Payload)})
	}
	return out, nil
}

// Variant is one geometric transform of the cropped buffer.
type Variant int

const (
	VariantAsIs Variant = iota
	VariantRotated
	VariantInverted
	VariantInvertedRotated
)

func (v Variant) String() string {
	switch v {
	case VariantAsIs:
		return "as-is"
	case VariantRotated:
		return "rotated"
	case VariantInverted:
		return "inverted"
	case VariantInvertedRotated:
		return "inverted-rotated"
	default:
		return "unknown"
	}
}

// Variants is the attempt order.
var Variants = []Variant{VariantAsIs, VariantRotated, VariantInverted, VariantInvertedRotated}

// Apply returns the variant of img. VariantAsIs returns img itself.
func Apply(v Variant, img *image.Gray) *image.Gray {
	switch v {
	case VariantRotated:
		return Rotate90(img)
	case VariantInverted:
		return FlipBoth(img)
	case VariantInvertedRotated:
		return Rotate90(FlipBoth(img))
	default:
		return img
	}
}

// Scan tries the variants in order. It returns the barcodes of the first
// variant that yields any, and that variant. An empty image finds nothing.
func Scan(dec Decoder, img *image.Gray) ([]Barcode, Variant, bool) {
	if img.Bounds().Empty() {
		return nil, VariantAsIs, false
	}
	for _, v := range Variants {
		codes, err := dec.Decode(Apply(v, img))
		if err != nil {
			debug.Trace("Decode %s: %v", v, err)
			continue
		}
		if len(codes) > 0 {
			return codes, v, true
		}
	}
	return nil, VariantAsIs, false
}
