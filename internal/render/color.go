package render

import "math"

// Color is a packed 32-bit ARGB value.
type Color uint32

const (
	shiftBlue  = 0
	shiftGreen = 8
	shiftRed   = 16
	shiftAlpha = 24
)

func ARGB(a, r, g, b uint8) Color {
	return Color(a)<<shiftAlpha | Color(r)<<shiftRed | Color(g)<<shiftGreen | Color(b)<<shiftBlue
}

func (c Color) A() uint8 { return uint8(c >> shiftAlpha) }
func (c Color) R() uint8 { return uint8(c >> shiftRed) }
func (c Color) G() uint8 { return uint8(c >> shiftGreen) }
func (c Color) B() uint8 { return uint8(c >> shiftBlue) }

// WithAlpha replaces the alpha channel.
func (c Color) WithAlpha(a uint8) Color {
	return c&0x00ffffff | Color(a)<<shiftAlpha
}

// Background colours of the two colour schemes.
const (
	ColorBackground    Color = 0xffffffff
	ColorBackgroundInv Color = 0xff000000
)

func BackgroundColor(inverted bool) Color {
	if inverted {
		return ColorBackgroundInv
	}
	return ColorBackground
}

func blendChannel(shift uint, alpha float64, src, dst Color) Color {
	s := float64((src >> shift) & 0xff)
	d := float64((dst >> shift) & 0xff)
	acc := math.Round(alpha*s + (1-alpha)*d)
	if acc <= 0 {
		return 0
	}
	v := uint32(acc)
	if v > 0xff {
		v = 0xff
	}
	return Color(v) << shift
}

// Blend composites src over dst using src's alpha. The destination alpha
// channel is kept as is: the panel owns it and the layout never writes it.
func Blend(src, dst Color) Color {
	alpha := float64(src.A()) / 255.0
	return blendChannel(shiftBlue, alpha, src, dst) |
		blendChannel(shiftGreen, alpha, src, dst) |
		blendChannel(shiftRed, alpha, src, dst) |
		dst&(0xff<<shiftAlpha)
}
