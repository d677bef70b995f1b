// Package secfb hands out framebuffers for the secure displays.
//
// The memory provider backs each display with a heap buffer and counts the
// frames presented on it. Tests use it directly; the daemon uses it to drive
// an emulated panel, optionally writing each presented frame as a PNG.
package secfb

import (
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"
	"sync"

	"github.com/danmuck/confirmationui/internal/render"
	"github.com/rs/zerolog/log"
)

var (
	ErrNoDisplay    = errors.New("secfb: no such display")
	ErrBusy         = errors.New("secfb: display already open")
	ErrClosedHandle = errors.New("secfb: handle closed")
	ErrPresent      = errors.New("secfb: present failed")
)

// Handle is an open secure framebuffer session on one display.
type Handle interface {
	Framebuffer() *render.Framebuffer
	// DisplayNext presents the current buffer contents.
	DisplayNext() error
	Close() error
}

type Provider interface {
	Open(display int) (Handle, error)
}

// DisplayConfig describes one emulated panel.
type DisplayConfig struct {
	Width       uint32
	Height      uint32
	Rotation    render.Rotation
	LinePadding uint32
	Format      render.PixelFormat
	// SnapshotDir, when set, receives display-<n>-frame-<k>.png per present.
	SnapshotDir string
}

// Memory is an in-process Provider.
type Memory struct {
	mu       sync.Mutex
	displays []DisplayConfig
	open     map[int]bool
	frames   map[int]int

	// OpenErr and PresentErr inject failures per display.
	OpenErr    map[int]error
	PresentErr map[int]error
}

func NewMemory(displays ...DisplayConfig) *Memory {
	return &Memory{
		displays:   append([]DisplayConfig(nil), displays...),
		open:       make(map[int]bool),
		frames:     make(map[int]int),
		OpenErr:    make(map[int]error),
		PresentErr: make(map[int]error),
	}
}

func (m *Memory) Open(display int) (Handle, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if display < 0 || display >= len(m.displays) {
		return nil, fmt.Errorf("%w: %d", ErrNoDisplay, display)
	}
	if err := m.OpenErr[display]; err != nil {
		return nil, err
	}
	if m.open[display] {
		return nil, fmt.Errorf("%w: %d", ErrBusy, display)
	}
	cfg := m.displays[display]
	format := cfg.Format
	if format == 0 {
		format = render.PixelFormatRGBA8
	}
	stride := cfg.Width*4 + cfg.LinePadding
	buf := make([]byte, int(stride)*int(cfg.Height))
	m.open[display] = true
	log.Debug().Int("display", display).Uint32("width", cfg.Width).Uint32("height", cfg.Height).
		Int("rotation", cfg.Rotation.Degrees()).Msg("secfb.Open")
	return &memHandle{
		owner:   m,
		display: display,
		cfg:     cfg,
		fb: &render.Framebuffer{
			Buffer:       buf,
			Width:        cfg.Width,
			Height:       cfg.Height,
			LineStride:   stride,
			PixelStride:  4,
			Size:         uint32(len(buf)),
			Rotation:     cfg.Rotation,
			Format:       format,
			DisplayIndex: display,
		},
	}, nil
}

// Frames returns how many frames were presented on display.
func (m *Memory) Frames(display int) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.frames[display]
}

// IsOpen reports whether a handle on display is outstanding.
func (m *Memory) IsOpen(display int) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.open[display]
}

type memHandle struct {
	owner   *Memory
	display int
	cfg     DisplayConfig
	fb      *render.Framebuffer
	closed  bool
}

func (h *memHandle) Framebuffer() *render.Framebuffer { return h.fb }

func (h *memHandle) DisplayNext() error {
	if h.closed {
		return ErrClosedHandle
	}
	m := h.owner
	m.mu.Lock()
	if err := m.PresentErr[h.display]; err != nil {
		m.mu.Unlock()
		return fmt.Errorf("%w: display %d: %w", ErrPresent, h.display, err)
	}
	m.frames[h.display]++
	frame := m.frames[h.display]
	m.mu.Unlock()

	if h.cfg.SnapshotDir != "" {
		path := filepath.Join(h.cfg.SnapshotDir, fmt.Sprintf("display-%d-frame-%d.png", h.display, frame))
		if err := writePNG(path, h.fb); err != nil {
			return fmt.Errorf("%w: snapshot: %v", ErrPresent, err)
		}
		log.Debug().Int("display", h.display).Str("path", path).Msg("secfb.DisplayNext snapshot")
	}
	return nil
}

// Close scrubs the buffer so no prompt pixels outlive the session.
func (h *memHandle) Close() error {
	if h.closed {
		return nil
	}
	h.closed = true
	clear(h.fb.Buffer)
	h.owner.mu.Lock()
	delete(h.owner.open, h.display)
	h.owner.mu.Unlock()
	log.Debug().Int("display", h.display).Msg("secfb.Close")
	return nil
}

// Image converts the physical panel contents to an image.
func Image(fb *render.Framebuffer) *image.NRGBA {
	img := image.NewNRGBA(image.Rect(0, 0, int(fb.Width), int(fb.Height)))
	for y := uint32(0); y < fb.Height; y++ {
		for x := uint32(0); x < fb.Width; x++ {
			c, ok := fb.PixelAt(x, y)
			if !ok {
				continue
			}
			img.SetNRGBA(int(x), int(y), color.NRGBA{R: c.R(), G: c.G(), B: c.B(), A: 0xff})
		}
	}
	return img
}

func writePNG(path string, fb *render.Framebuffer) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := png.Encode(f, Image(fb)); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}
