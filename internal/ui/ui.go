// Package ui drives the confirmation prompt across every secure display.
//
// Start opens each display, checks that its framebuffer matches the device
// context, renders the layout and presents it. Any failure tears down every
// display that was already opened, so the prompt is either shown on all
// displays or on none.
package ui

import (
	"errors"
	"fmt"
	"sync"

	"github.com/danmuck/confirmationui/internal/device"
	"github.com/danmuck/confirmationui/internal/observability"
	"github.com/danmuck/confirmationui/internal/protocol/schema"
	"github.com/danmuck/confirmationui/internal/render"
	"github.com/danmuck/confirmationui/internal/secfb"
	"github.com/rs/zerolog/log"
)

var (
	ErrNoDisplays       = errors.New("ui: no displays")
	ErrDisplayOpen      = errors.New("ui: cannot open display")
	ErrGeometryMismatch = errors.New("ui: context does not match framebuffer")
	ErrNoContext        = errors.New("ui: no device context for display")
	ErrNoLayout         = errors.New("ui: no layout for display")
	ErrPresent          = errors.New("ui: present failed")
)

type display struct {
	index  int
	handle secfb.Handle
	layout device.Layout
}

// ConfirmationUI owns the displays while a prompt is up.
type ConfirmationUI struct {
	mu       sync.Mutex
	devices  device.Provider
	fbs      secfb.Provider
	displays []*display
	inverted bool
}

func New(devices device.Provider, fbs secfb.Provider) *ConfirmationUI {
	return &ConfirmationUI{devices: devices, fbs: fbs}
}

// Start shows prompt on every display. A prompt already up is replaced.
func (u *ConfirmationUI) Start(prompt, lang string, inverted, magnified bool) error {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.stopLocked()

	n := u.devices.DisplayCount()
	if n == 0 {
		return ErrNoDisplays
	}
	u.inverted = inverted
	for i := 0; i < n; i++ {
		if err := u.startDisplay(i, prompt, lang, inverted, magnified); err != nil {
			log.Error().Int("display", i).Err(err).Msg("ui.Start failed")
			observability.RecordRender(i, ResponseCodeFor(err).String())
			u.stopLocked()
			return err
		}
	}
	log.Info().Int("displays", n).Str("lang", lang).Bool("inverted", inverted).Bool("magnified", magnified).
		Msg("ui.Start")
	return nil
}

func (u *ConfirmationUI) startDisplay(i int, prompt, lang string, inverted, magnified bool) error {
	h, err := u.fbs.Open(i)
	if err != nil {
		return fmt.Errorf("%w %d: %w", ErrDisplayOpen, i, err)
	}
	d := &display{index: i, handle: h}
	u.displays = append(u.displays, d)

	fb := h.Framebuffer()
	if fb.Format != render.PixelFormatRGBA8 {
		return fmt.Errorf("display %d: %w: %d", i, render.ErrUnsupportedPixelFormat, fb.Format)
	}
	ctx, ok := u.devices.Context(i, magnified)
	if !ok {
		return fmt.Errorf("%w %d", ErrNoContext, i)
	}
	w, hgt := fb.CanvasSize()
	if ctx.Geometry.WidthPx != w || ctx.Geometry.HeightPx != hgt {
		return fmt.Errorf("%w: display %d context %dx%d, canvas %dx%d", ErrGeometryMismatch, i,
			ctx.Geometry.WidthPx, ctx.Geometry.HeightPx, w, hgt)
	}
	ctx.SetColorScheme(inverted)
	layout, ok := u.devices.Layout(i, inverted, ctx)
	if !ok {
		return fmt.Errorf("%w %d", ErrNoLayout, i)
	}
	layout.SetLanguage(lang)
	layout.SetConfirmationMessage(prompt)
	layout.ShowInstructions(false)
	d.layout = layout
	return u.renderAndSwap(d)
}

func (u *ConfirmationUI) renderAndSwap(d *display) error {
	if err := render.Render(d.layout, d.handle.Framebuffer(), u.inverted); err != nil {
		return fmt.Errorf("display %d: %w", d.index, err)
	}
	if err := d.handle.DisplayNext(); err != nil {
		return fmt.Errorf("%w: display %d: %w", ErrPresent, d.index, err)
	}
	observability.RecordRender(d.index, schema.OK.String())
	return nil
}

// ShowInstructions toggles the instruction text and re-renders every display.
func (u *ConfirmationUI) ShowInstructions(enable bool) error {
	u.mu.Lock()
	defer u.mu.Unlock()
	if len(u.displays) == 0 {
		return render.ErrNotInitialized
	}
	for _, d := range u.displays {
		d.layout.ShowInstructions(enable)
		if err := u.renderAndSwap(d); err != nil {
			log.Error().Int("display", d.index).Err(err).Msg("ui.ShowInstructions failed")
			u.stopLocked()
			return err
		}
	}
	return nil
}

// Stop releases every display. It is safe to call repeatedly.
func (u *ConfirmationUI) Stop() {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.stopLocked()
}

func (u *ConfirmationUI) stopLocked() {
	for _, d := range u.displays {
		if err := d.handle.Close(); err != nil {
			log.Warn().Int("display", d.index).Err(err).Msg("ui.Stop close failed")
		}
	}
	if len(u.displays) > 0 {
		log.Debug().Int("displays", len(u.displays)).Msg("ui.Stop")
	}
	u.displays = nil
}

// Active reports whether a prompt is currently shown.
func (u *ConfirmationUI) Active() bool {
	u.mu.Lock()
	defer u.mu.Unlock()
	return len(u.displays) > 0
}

// DisplayParams tells the caller where the confirm and cancel buttons sit on
// one display, in physical pixels from the top edge.
type DisplayParams struct {
	Display       int    `cbor:"display"`
	Model         string `cbor:"model"`
	Width         uint32 `cbor:"width"`
	Height        uint32 `cbor:"height"`
	ConfirmTop    int    `cbor:"confirm_top"`
	ConfirmBottom int    `cbor:"confirm_bottom"`
	CancelTop     int    `cbor:"cancel_top"`
	CancelBottom  int    `cbor:"cancel_bottom"`
}

func (u *ConfirmationUI) SecureUIParams() []DisplayParams {
	var out []DisplayParams
	for i := 0; i < u.devices.DisplayCount(); i++ {
		ctx, ok := u.devices.Context(i, false)
		if !ok {
			continue
		}
		g := ctx.Geometry
		out = append(out, DisplayParams{
			Display:       i,
			Model:         ctx.Model,
			Width:         g.WidthPx,
			Height:        g.HeightPx,
			ConfirmTop:    ctx.MM(g.PowerButtonTopMM),
			ConfirmBottom: ctx.MM(g.PowerButtonBottomMM),
			CancelTop:     ctx.MM(g.VolUpButtonTopMM),
			CancelBottom:  ctx.MM(g.VolUpButtonBottomMM),
		})
	}
	return out
}

// ResponseCodeFor maps a Start or ShowInstructions failure to the result code
// reported to the caller.
func ResponseCodeFor(err error) schema.ResponseCode {
	switch {
	case err == nil:
		return schema.OK
	case errors.Is(err, render.ErrMissingGlyph):
		return schema.UIErrorMissingGlyph
	case errors.Is(err, render.ErrMessageTooLong), errors.Is(err, render.ErrOutOfBounds):
		return schema.UIErrorMessageTooLong
	default:
		return schema.UIError
	}
}
