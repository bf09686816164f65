package client

import (
	"fmt"
	"image"
	"image/color"
)

// ForceState is the outcome of a force sensor read.
type ForceState int

const (
	// ForceUnavailable: the sensor has no data yet.
	ForceUnavailable ForceState = iota
	// ForceBroken: the sensor exceeded its threshold and broke.
	ForceBroken
	// ForceValid: Force and Torque hold a reading.
	ForceValid
)

func (s ForceState) String() string {
	switch s {
	case ForceUnavailable:
		return "unavailable"
	case ForceBroken:
		return "broken"
	case ForceValid:
		return "valid"
	}
	return fmt.Sprintf("ForceState(%d)", int(s))
}

// Force sensor state bits.
const (
	forceDataAvailable uint8 = 1 << 0
	forceBroken        uint8 = 1 << 1
)

// ForceReading is a decoded force sensor read. Force and Torque are only
// set when State is ForceValid.
type ForceReading struct {
	State  ForceState
	Force  [3]float64
	Torque [3]float64
}

// DecodeForce interprets the sensor state byte: bit 0 clear means no data,
// bits 0 and 1 set mean the sensor is broken, bit 0 alone a valid reading.
func DecodeForce(state uint8, force, torque [3]float64) ForceReading {
	switch {
	case state&forceDataAvailable == 0:
		return ForceReading{State: ForceUnavailable}
	case state&forceBroken != 0:
		return ForceReading{State: ForceBroken}
	}
	return ForceReading{State: ForceValid, Force: force, Torque: torque}
}

// Image is an RGB image stored row-major, top row first, 3 bytes per pixel.
type Image struct {
	Width, Height int
	Pix           []byte
}

// At returns the pixel at (row, col), row 0 being the top row.
func (im Image) At(row, col int) [3]byte {
	i := (row*im.Width + col) * 3
	return [3]byte{im.Pix[i], im.Pix[i+1], im.Pix[i+2]}
}

// RGBA converts the image for use with the image package encoders.
func (im Image) RGBA() *image.RGBA {
	out := image.NewRGBA(image.Rect(0, 0, im.Width, im.Height))
	for row := 0; row < im.Height; row++ {
		for col := 0; col < im.Width; col++ {
			p := im.At(row, col)
			out.SetRGBA(col, row, color.RGBA{R: p[0], G: p[1], B: p[2], A: 0xff})
		}
	}
	return out
}

// DecodeVisionImage reshapes a vision sensor buffer into an H×W×3 image.
// The sensor delivers the bottom row first; the result has the top row first.
func DecodeVisionImage(resolution [2]int32, buf []byte) (Image, error) {
	width, height := int(resolution[0]), int(resolution[1])
	if width <= 0 || height <= 0 {
		return Image{}, fmt.Errorf("invalid vision sensor resolution %dx%d", width, height)
	}
	stride := width * 3
	if len(buf) != stride*height {
		return Image{}, fmt.Errorf("vision sensor buffer has %d bytes, want %d for %dx%d", len(buf), stride*height, width, height)
	}

	pix := make([]byte, len(buf))
	for row := 0; row < height; row++ {
		copy(pix[row*stride:(row+1)*stride], buf[(height-1-row)*stride:(height-row)*stride])
	}
	return Image{Width: width, Height: height, Pix: pix}, nil
}
