package sensor

import (
	"bytes"
	"image"
	"image/color"
	"image/jpeg"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cjeanneret/camsession/internal/logic/geometry"
)

func TestVirtual_EnumerateAndOpen(t *testing.T) {
	v := NewVirtual(VirtualConfig{FailOpen: []string{"1"}})
	infos, err := v.Enumerate()
	require.NoError(t, err)
	require.Len(t, infos, 2)
	assert.Equal(t, geometry.FacingBack, infos[0].Facing)
	assert.Equal(t, geometry.FacingFront, infos[1].Facing)

	s, err := v.Open("0")
	require.NoError(t, err)
	defer s.Close()
	assert.Equal(t, "0", s.Info().ID)

	_, err = v.Open("1")
	assert.ErrorContains(t, err, "permission denied")

	_, err = v.Open("9")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestVirtual_StreamsFrames(t *testing.T) {
	v := NewVirtual(VirtualConfig{FPS: 200})
	s, err := v.Open("0")
	require.NoError(t, err)
	defer s.Close()

	size := geometry.NewSize(64, 48)
	require.NoError(t, s.Configure(Format{Size: size}))

	frames := make(chan Frame, 16)
	require.NoError(t, s.Start(func(f Frame) {
		select {
		case frames <- f:
		default:
		}
	}))
	assert.ErrorIs(t, s.Configure(Format{Size: size}), ErrStreaming)

	var got []Frame
	timeout := time.After(2 * time.Second)
	for len(got) < 3 {
		select {
		case f := <-frames:
			got = append(got, f)
		case <-timeout:
			t.Fatalf("only %d frames received", len(got))
		}
	}
	require.NoError(t, s.Stop())

	for i, f := range got {
		assert.Equal(t, 64, f.Width)
		assert.Equal(t, 48, f.Height)
		assert.Equal(t, FormatNV21, f.Format)
		assert.Len(t, f.Data, 64*48*3/2)
		if i > 0 {
			assert.Greater(t, f.Seq, got[i-1].Seq)
		}
	}
}

func TestSimulator_FocusAndPrecapture(t *testing.T) {
	sim := NewSimulator(SimulatorConfig{FocusFrames: 2, ExposureFrames: 1})
	assert.Equal(t, Report{AF: AFInactive, AE: AESearching}, sim.Report())

	sim.Tick()
	assert.Equal(t, AEConverged, sim.Report().AE)

	sim.TriggerFocus()
	assert.Equal(t, AFActiveScan, sim.Report().AF)
	sim.Tick()
	assert.Equal(t, AFActiveScan, sim.Report().AF)
	sim.Tick()
	assert.Equal(t, AFFocusedLocked, sim.Report().AF)
	assert.True(t, sim.Report().AF.Locked())

	sim.TriggerPrecapture()
	assert.Equal(t, AEPrecapture, sim.Report().AE)
	sim.Tick()
	assert.Equal(t, AEConverged, sim.Report().AE)

	sim.CancelFocus()
	assert.Equal(t, AFInactive, sim.Report().AF)
}

func TestSimulator_FlashRequiredAndFocusFailure(t *testing.T) {
	sim := NewSimulator(SimulatorConfig{FlashRequired: true, FocusFails: true})
	assert.Equal(t, AEFlashRequired, sim.Report().AE)
	sim.TriggerFocus()
	assert.Equal(t, AFNotFocusedLocked, sim.Report().AF)
	assert.True(t, sim.Report().AF.Locked())
}

func TestFrame_NV21Conversions(t *testing.T) {
	src := image.NewRGBA(image.Rect(0, 0, 4, 2))
	for y := 0; y < 2; y++ {
		for x := 0; x < 4; x++ {
			src.SetRGBA(x, y, color.RGBA{R: 200, G: 200, B: 200, A: 255})
		}
	}
	f := Frame{Data: EncodeNV21(src), Width: 4, Height: 2, Format: FormatNV21}

	luma, err := f.Luma()
	require.NoError(t, err)
	assert.Equal(t, 4, luma.Bounds().Dx())
	assert.InDelta(t, 200, int(luma.GrayAt(1, 1).Y), 2)

	data, err := f.JPEG(90)
	require.NoError(t, err)
	img, err := jpeg.Decode(bytes.NewReader(data))
	require.NoError(t, err)
	assert.Equal(t, image.Rect(0, 0, 4, 2), img.Bounds())

	mj := Frame{Data: data, Width: 4, Height: 2, Format: FormatMJPEG}
	same, err := mj.JPEG(10)
	require.NoError(t, err)
	assert.Equal(t, data, same, "mjpeg frames pass through untouched")

	ml, err := mj.Luma()
	require.NoError(t, err)
	assert.Equal(t, 4, ml.Bounds().Dx())
}

func TestFrame_ShortBuffer(t *testing.T) {
	_, err := Frame{Data: []byte{1, 2}, Width: 4, Height: 4, Format: FormatNV21}.Luma()
	assert.Error(t, err)
	_, err = Frame{Data: []byte{1, 2}, Width: 4, Height: 4, Format: FormatNV21}.Image()
	assert.Error(t, err)
}
