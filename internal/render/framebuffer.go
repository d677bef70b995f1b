package render

import (
	"encoding/binary"
	"errors"
	"fmt"
)

var (
	ErrUnsupportedPixelFormat = errors.New("render: unsupported pixel format")
	ErrUnsupportedRotation    = errors.New("render: unsupported rotation")
	ErrOutOfBounds            = errors.New("render: out of bounds drawing")
	ErrNotInitialized         = errors.New("render: not initialized")
	ErrMissingGlyph           = errors.New("render: missing glyph")
	ErrMessageTooLong         = errors.New("render: message does not fit")
	ErrLocalization           = errors.New("render: localization failed")
)

// PixelFormat identifies the framebuffer memory layout.
type PixelFormat uint32

const (
	PixelFormatUnknown PixelFormat = 0
	// PixelFormatRGBA8 is one little-endian u32 per pixel holding packed
	// ARGB (blue in the low byte, alpha in the high byte).
	PixelFormatRGBA8 PixelFormat = 1
)

const bytesPerPixel = 4

// Rotation maps the logical canvas onto the physical panel.
type Rotation uint32

const (
	Rotation0 Rotation = iota
	Rotation90
	Rotation180
	Rotation270
)

func (r Rotation) Degrees() int {
	return int(r) * 90
}

// RotationFromDegrees accepts 0, 90, 180 or 270.
func RotationFromDegrees(deg int) (Rotation, error) {
	switch deg {
	case 0:
		return Rotation0, nil
	case 90:
		return Rotation90, nil
	case 180:
		return Rotation180, nil
	case 270:
		return Rotation270, nil
	default:
		return 0, fmt.Errorf("%w: %d degrees", ErrUnsupportedRotation, deg)
	}
}

// Framebuffer describes a block of display memory handed out by the secure
// framebuffer service. Width and Height are physical panel dimensions;
// Size is the number of addressable bytes in Buffer.
type Framebuffer struct {
	Buffer       []byte
	Width        uint32
	Height       uint32
	LineStride   uint32
	PixelStride  uint32
	Size         uint32
	Rotation     Rotation
	Format       PixelFormat
	DisplayIndex int
}

// CanvasSize is the logical drawing area after undoing the rotation.
func (fb *Framebuffer) CanvasSize() (uint32, uint32) {
	if fb.Rotation == Rotation90 || fb.Rotation == Rotation270 {
		return fb.Height, fb.Width
	}
	return fb.Width, fb.Height
}

// Validate fails closed on descriptors the pipeline cannot address safely.
func (fb *Framebuffer) Validate() error {
	if fb == nil || fb.Buffer == nil {
		return ErrNotInitialized
	}
	if fb.Format != PixelFormatRGBA8 {
		return fmt.Errorf("%w: %d", ErrUnsupportedPixelFormat, fb.Format)
	}
	if fb.Rotation > Rotation270 {
		return fmt.Errorf("%w: %d", ErrUnsupportedRotation, fb.Rotation)
	}
	if uint64(fb.Size) > uint64(len(fb.Buffer)) {
		return fmt.Errorf("%w: size %d exceeds buffer %d", ErrOutOfBounds, fb.Size, len(fb.Buffer))
	}
	if fb.PixelStride < bytesPerPixel {
		return fmt.Errorf("%w: pixel stride %d", ErrUnsupportedPixelFormat, fb.PixelStride)
	}
	return nil
}

// offset returns the byte offset of physical pixel (x, y), or false when the
// pixel is not fully inside the addressable region.
func (fb *Framebuffer) offset(x, y uint32) (uint64, bool) {
	if x >= fb.Width || y >= fb.Height {
		return 0, false
	}
	pos := uint64(y)*uint64(fb.LineStride) + uint64(x)*uint64(fb.PixelStride)
	if pos >= uint64(fb.Size) || pos+bytesPerPixel > uint64(fb.Size) {
		return 0, false
	}
	return pos, true
}

func (fb *Framebuffer) load(pos uint64) Color {
	return Color(binary.LittleEndian.Uint32(fb.Buffer[pos : pos+bytesPerPixel]))
}

func (fb *Framebuffer) store(pos uint64, c Color) {
	binary.LittleEndian.PutUint32(fb.Buffer[pos:pos+bytesPerPixel], uint32(c))
}

// PixelAt reads a physical pixel; tests and snapshots use it.
func (fb *Framebuffer) PixelAt(x, y uint32) (Color, bool) {
	pos, ok := fb.offset(x, y)
	if !ok {
		return 0, false
	}
	return fb.load(pos), true
}

// Clear fills every visible pixel with c, honouring the strides so padded
// lines are left untouched.
func Clear(fb *Framebuffer, c Color) error {
	if err := fb.Validate(); err != nil {
		return err
	}
	if fb.Width == 0 || fb.Height == 0 {
		return nil
	}
	if _, ok := fb.offset(fb.Width-1, fb.Height-1); !ok {
		return fmt.Errorf("%w: %dx%d does not fit %d bytes", ErrOutOfBounds, fb.Width, fb.Height, fb.Size)
	}
	line := uint64(0)
	for y := uint32(0); y < fb.Height; y++ {
		pos := line
		for x := uint32(0); x < fb.Width; x++ {
			fb.store(pos, c)
			pos += uint64(fb.PixelStride)
		}
		line += uint64(fb.LineStride)
	}
	return nil
}
