// Package device describes the physical displays the confirmation prompt is
// drawn on: panel geometry, hardware button placement, font sizes and colour
// scheme.
package device

import (
	"errors"
	"fmt"
	"math"
	"sort"

	"github.com/danmuck/confirmationui/internal/render"
)

var (
	ErrUnknownModel = errors.New("device: unknown model")
	ErrNoDisplays   = errors.New("device: no displays configured")
	ErrBadGeometry  = errors.New("device: invalid geometry")
)

// Geometry is the static description of one panel model.
type Geometry struct {
	WidthPx  uint32
	HeightPx uint32
	// PxPerMM and PxPerDP convert physical and density-independent sizes.
	PxPerMM float64
	PxPerDP float64
	// Button positions along the right edge, measured from the top in mm.
	PowerButtonTopMM    float64
	PowerButtonBottomMM float64
	VolUpButtonTopMM    float64
	VolUpButtonBottomMM float64
}

func (g Geometry) Validate() error {
	if g.WidthPx == 0 || g.HeightPx == 0 {
		return fmt.Errorf("%w: empty panel %dx%d", ErrBadGeometry, g.WidthPx, g.HeightPx)
	}
	if g.PxPerMM <= 0 || g.PxPerDP <= 0 {
		return fmt.Errorf("%w: non-positive density", ErrBadGeometry)
	}
	if int(math.Round(minFontDP*g.PxPerDP)) < 1 {
		return fmt.Errorf("%w: px_per_dp %g renders %gdp text below one pixel", ErrBadGeometry, g.PxPerDP, minFontDP)
	}
	if g.PowerButtonBottomMM < g.PowerButtonTopMM || g.VolUpButtonBottomMM < g.VolUpButtonTopMM {
		return fmt.Errorf("%w: button bottom above top", ErrBadGeometry)
	}
	return nil
}

// minFontDP is the smallest text size any layout draws.
const minFontDP float64 = 14

// Palette is one colour scheme.
type Palette struct {
	Shield       render.Color
	Text         render.Color
	Background   render.Color
	Button       render.Color
	ButtonBG     render.Color
	TextHint     render.Color
	TextDisabled render.Color
}

const (
	ColorEnabled      render.Color = 0xff242120
	ColorDisabled     render.Color = 0xffbdbdbd
	ColorEnabledInv   render.Color = 0xffdedede
	ColorDisabledInv  render.Color = 0xff424242
	ColorShield       render.Color = 0xffe8731a
	ColorShieldInv    render.Color = 0xfff69d66
	ColorHint         render.Color = 0xff68635f
	ColorHintInv      render.Color = 0xffa6a09a
	ColorButton       render.Color = 0xffe8731a
	ColorButtonInv    render.Color = 0xfff69d66
	ColorBackground                = render.ColorBackground
	ColorBackgroundInv             = render.ColorBackgroundInv
)

func PaletteFor(inverted bool) Palette {
	if inverted {
		return Palette{
			Shield:       ColorShieldInv,
			Text:         ColorBackground,
			Background:   ColorBackgroundInv,
			Button:       ColorButtonInv,
			ButtonBG:     ColorEnabled,
			TextHint:     ColorHintInv,
			TextDisabled: ColorDisabledInv,
		}
	}
	return Palette{
		Shield:       ColorShield,
		Text:         ColorEnabled,
		Background:   ColorBackground,
		Button:       ColorButton,
		ButtonBG:     ColorBackground,
		TextHint:     ColorHint,
		TextDisabled: ColorDisabled,
	}
}

// Context is everything a layout needs to place its elements on one display.
type Context struct {
	Model         string
	Geometry      Geometry
	DefaultFontDP float64
	BodyFontDP    float64
	Magnified     bool
	Palette       Palette
}

func NewContext(model string, g Geometry, magnified bool) Context {
	ctx := Context{Model: model, Geometry: g, Magnified: magnified}
	if magnified {
		ctx.DefaultFontDP = 18
		ctx.BodyFontDP = 20
	} else {
		ctx.DefaultFontDP = minFontDP
		ctx.BodyFontDP = 16
	}
	ctx.Palette = PaletteFor(false)
	return ctx
}

// SetColorScheme switches the palette between the normal and inverted scheme.
func (c *Context) SetColorScheme(inverted bool) {
	c.Palette = PaletteFor(inverted)
}

func (c Context) MM(v float64) int {
	return int(math.Round(v * c.Geometry.PxPerMM))
}

func (c Context) DP(v float64) int {
	return int(math.Round(v * c.Geometry.PxPerDP))
}

// Layout is a confirmation layout bound to one display context.
type Layout interface {
	render.Layout
	SetLanguage(lang string)
	SetConfirmationMessage(prompt string)
	ShowInstructions(enable bool)
}

// Provider selects geometry and layouts per display. A false second return
// means the configuration is unsupported.
type Provider interface {
	DisplayCount() int
	Context(display int, magnified bool) (Context, bool)
	Layout(display int, inverted bool, ctx Context) (Layout, bool)
}

// LayoutFactory builds the layout for a display context.
type LayoutFactory func(ctx Context, inverted bool) (Layout, error)

// BuiltinGeometries returns the compiled-in panel table.
func BuiltinGeometries() map[string]Geometry {
	return map[string]Geometry{
		"blueline": {
			WidthPx: 1080, HeightPx: 2160,
			PxPerMM: 17.42075974, PxPerDP: 3.0,
			PowerButtonTopMM: 20.26, PowerButtonBottomMM: 30.26,
			VolUpButtonTopMM: 40.26, VolUpButtonBottomMM: 50.26,
		},
		"crosshatch": {
			WidthPx: 1440, HeightPx: 2960,
			PxPerMM: 20.42958729, PxPerDP: 3.5,
			PowerButtonTopMM: 34.146, PowerButtonBottomMM: 44.146,
			VolUpButtonTopMM: 54.146, VolUpButtonBottomMM: 64.146,
		},
		"emulator": {
			WidthPx: 360, HeightPx: 640,
			PxPerMM: 6.0, PxPerDP: 1.0,
			PowerButtonTopMM: 20, PowerButtonBottomMM: 30,
			VolUpButtonTopMM: 40, VolUpButtonBottomMM: 50,
		},
	}
}

// Table is a Provider backed by a static model table.
type Table struct {
	models   map[string]Geometry
	displays []string
	factory  LayoutFactory
}

// NewTable maps each display index to a model name.
func NewTable(displays []string, models map[string]Geometry, factory LayoutFactory) (*Table, error) {
	if len(displays) == 0 {
		return nil, ErrNoDisplays
	}
	for i, name := range displays {
		g, ok := models[name]
		if !ok {
			return nil, fmt.Errorf("%w: display %d uses %q (known: %v)", ErrUnknownModel, i, name, modelNames(models))
		}
		if err := g.Validate(); err != nil {
			return nil, fmt.Errorf("model %q: %w", name, err)
		}
	}
	return &Table{models: models, displays: append([]string(nil), displays...), factory: factory}, nil
}

func (t *Table) DisplayCount() int {
	return len(t.displays)
}

// Geometry returns the panel model assigned to display.
func (t *Table) Geometry(display int) (Geometry, bool) {
	if display < 0 || display >= len(t.displays) {
		return Geometry{}, false
	}
	g, ok := t.models[t.displays[display]]
	return g, ok
}

func (t *Table) Context(display int, magnified bool) (Context, bool) {
	g, ok := t.Geometry(display)
	if !ok {
		return Context{}, false
	}
	return NewContext(t.displays[display], g, magnified), true
}

func (t *Table) Layout(display int, inverted bool, ctx Context) (Layout, bool) {
	if t.factory == nil || display < 0 || display >= len(t.displays) {
		return nil, false
	}
	l, err := t.factory(ctx, inverted)
	if err != nil {
		return nil, false
	}
	return l, true
}

func modelNames(models map[string]Geometry) []string {
	names := make([]string, 0, len(models))
	for name := range models {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
