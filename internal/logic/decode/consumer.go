package decode

import (
	"github.com/cjeanneret/camsession/internal/debug"
	"github.com/cjeanneret/camsession/internal/logic/dispatch"
)

// Detection is reported for every frame that decoded.
type Detection struct {
	Barcodes []Barcode `json:"barcodes"`
	Variant  string    `json:"variant"`
	Seq      uint64    `json:"seq"`
	Width    int       `json:"width"`
	Height   int       `json:"height"`
	Rotation int       `json:"rotation"`
}

// Consumer is the dispatcher-fed barcode scanner.
type Consumer struct {
	dec      Decoder
	roi      ROI
	onDetect func(Detection)
}

// NewConsumer scans roi of each frame with dec.
func NewConsumer(dec Decoder, roi ROI, onDetect func(Detection)) *Consumer {
	return &Consumer{dec: dec, roi: roi, onDetect: onDetect}
}

func (c *Consumer) Consume(f dispatch.Frame) {
	luma, err := f.Luma()
	if err != nil {
		debug.Trace("Scanner: frame %d: %v", f.Seq, err)
		return
	}
	codes, v, ok := Scan(c.dec, Crop(luma, c.roi))
	if !ok {
		return
	}
	debug.Verbose("Scanner: %d barcode(s) in frame %d (%s)", len(codes), f.Seq, v)
	if c.onDetect != nil {
		c.onDetect(Detection{
			Barcodes: codes,
			Variant:  v.String(),
			Seq:      f.Seq,
			Width:    f.Width,
			Height:   f.Height,
			Rotation: f.Rotation,
		})
	}
}
