// Package render composites laid-out UI elements into secure framebuffer
// memory.
//
// Every pixel goes through a Sink, which applies the panel rotation, refuses
// anything outside the framebuffer and alpha blends onto what is already
// there. Elements draw in order, so later elements cover earlier ones.
package render

import (
	"fmt"

	"github.com/rs/zerolog/log"
)

// PixelSink receives canvas coordinates.
type PixelSink interface {
	Put(x, y int, c Color) error
}

// Element is one independently drawable layout primitive.
type Element interface {
	Draw(s PixelSink) error
}

// Layout is an ordered set of elements.
type Layout interface {
	Elements() []Element
}

// Sink writes into one framebuffer under its rotation.
type Sink struct {
	fb            *Framebuffer
	width, height int
}

func NewSink(fb *Framebuffer) (*Sink, error) {
	if err := fb.Validate(); err != nil {
		return nil, err
	}
	return &Sink{fb: fb, width: int(fb.Width), height: int(fb.Height)}, nil
}

// Map converts canvas coordinates to physical panel coordinates.
func (s *Sink) Map(x, y int) (int, int, error) {
	switch s.fb.Rotation {
	case Rotation0:
		return x, y, nil
	case Rotation90:
		return s.width - 1 - y, x, nil
	case Rotation180:
		return s.width - 1 - x, s.height - 1 - y, nil
	case Rotation270:
		return y, s.height - 1 - x, nil
	default:
		return 0, 0, fmt.Errorf("%w: %d", ErrUnsupportedRotation, s.fb.Rotation)
	}
}

func (s *Sink) Put(x, y int, c Color) error {
	px, py, err := s.Map(x, y)
	if err != nil {
		return err
	}
	if px < 0 || py < 0 || px >= s.width || py >= s.height {
		return fmt.Errorf("%w: canvas (%d,%d)", ErrOutOfBounds, x, y)
	}
	pos, ok := s.fb.offset(uint32(px), uint32(py))
	if !ok {
		return fmt.Errorf("%w: canvas (%d,%d) -> panel (%d,%d)", ErrOutOfBounds, x, y, px, py)
	}
	s.fb.store(pos, Blend(c, s.fb.load(pos)))
	return nil
}

// DrawAll draws every element even when some fail and reports the first
// failure. Pixels already written by failing elements stay in place.
func DrawAll(s PixelSink, elems []Element) error {
	var first error
	for i, e := range elems {
		if err := e.Draw(s); err != nil {
			log.Debug().Int("element", i).Err(err).Msg("render.DrawAll element failed")
			if first == nil {
				first = err
			}
		}
	}
	return first
}

// Render clears fb to the scheme background and draws layout on top.
func Render(layout Layout, fb *Framebuffer, inverted bool) error {
	if layout == nil {
		return ErrNotInitialized
	}
	sink, err := NewSink(fb)
	if err != nil {
		return err
	}
	if err := Clear(fb, BackgroundColor(inverted)); err != nil {
		return err
	}
	return DrawAll(sink, layout.Elements())
}
