package client

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecodeForce(t *testing.T) {
	force := [3]float64{0, 0, 9.81}
	torque := [3]float64{0.1, -0.2, 0}

	tests := []struct {
		name  string
		state uint8
		want  ForceReading
	}{
		{"not available (0,0)", 0b00, ForceReading{State: ForceUnavailable}},
		{"broken (1,1)", 0b11, ForceReading{State: ForceBroken}},
		{"valid (1,0)", 0b01, ForceReading{State: ForceValid, Force: force, Torque: torque}},
		{"broken bit without data", 0b10, ForceReading{State: ForceUnavailable}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, DecodeForce(tt.state, force, torque))
		})
	}
}

func TestDecodeVisionImageFlips(t *testing.T) {
	const w, h = 4, 3
	buf := make([]byte, 0, w*h*3)
	for row := 0; row < h; row++ {
		for col := 0; col < w; col++ {
			buf = append(buf, byte(row), byte(col), byte(row*w+col))
		}
	}

	img, err := DecodeVisionImage([2]int32{w, h}, buf)
	require.NoError(t, err)
	assert.Equal(t, w, img.Width)
	assert.Equal(t, h, img.Height)
	require.Len(t, img.Pix, w*h*3)

	for row := 0; row < h; row++ {
		for col := 0; col < w; col++ {
			src := h - 1 - row
			assert.Equal(t, [3]byte{byte(src), byte(col), byte(src*w + col)}, img.At(row, col), "row %d col %d", row, col)
		}
	}
}

func TestDecodeVisionImageSize(t *testing.T) {
	_, err := DecodeVisionImage([2]int32{4, 3}, make([]byte, 35))
	assert.Error(t, err)

	_, err = DecodeVisionImage([2]int32{0, 3}, nil)
	assert.Error(t, err)
}

func TestImageRGBA(t *testing.T) {
	img, err := DecodeVisionImage([2]int32{1, 2}, []byte{1, 2, 3, 4, 5, 6})
	require.NoError(t, err)

	rgba := img.RGBA()
	r, g, b, a := rgba.At(0, 0).RGBA()
	assert.Equal(t, []uint32{4, 5, 6, 0xff}, []uint32{r >> 8, g >> 8, b >> 8, a >> 8})
}
