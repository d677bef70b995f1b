// Package layouts holds the confirmation screen drawn on each display.
package layouts

import (
	"fmt"
	"image"
	"strings"

	"github.com/danmuck/confirmationui/internal/device"
	"github.com/danmuck/confirmationui/internal/render"
)

// Rect fills a box with one colour.
type Rect struct {
	Box   image.Rectangle
	Color render.Color
}

func (r Rect) Draw(s render.PixelSink) error {
	for y := r.Box.Min.Y; y < r.Box.Max.Y; y++ {
		for x := r.Box.Min.X; x < r.Box.Max.X; x++ {
			if err := s.Put(x, y, r.Color); err != nil {
				return err
			}
		}
	}
	return nil
}

var translations = map[string]map[string]string{
	"en": {
		"title":        "Confirmation required",
		"confirm":      "Confirm",
		"cancel":       "Cancel",
		"instructions": "Press the power button twice to confirm. Press the volume up button to cancel.",
	},
	"de": {
		"title":        "Bestätigung erforderlich",
		"confirm":      "Bestätigen",
		"cancel":       "Abbrechen",
		"instructions": "Zum Bestätigen zweimal die Ein/Aus-Taste drücken. Zum Abbrechen die Lauter-Taste drücken.",
	},
	"fr": {
		"title":        "Confirmation requise",
		"confirm":      "Confirmer",
		"cancel":       "Annuler",
		"instructions": "Appuyez deux fois sur le bouton marche/arrêt pour confirmer. Appuyez sur le bouton volume + pour annuler.",
	},
	"es": {
		"title":        "Confirmación necesaria",
		"confirm":      "Confirmar",
		"cancel":       "Cancelar",
		"instructions": "Pulsa dos veces el botón de encendido para confirmar. Pulsa el botón para subir el volumen para cancelar.",
	},
}

// Languages lists the supported language tags.
func Languages() []string {
	return []string{"de", "en", "es", "fr"}
}

// baseLanguage reduces a locale such as "de-AT" or "fr_CA" to a table key,
// falling back to English.
func baseLanguage(locale string) string {
	tag := strings.ToLower(locale)
	if i := strings.IndexAny(tag, "-_"); i >= 0 {
		tag = tag[:i]
	}
	if _, ok := translations[tag]; ok {
		return tag
	}
	return "en"
}

func translate(lang, key string) (string, error) {
	s, ok := translations[lang][key]
	if !ok {
		return "", fmt.Errorf("%w: %s/%s", render.ErrLocalization, lang, key)
	}
	return s, nil
}

// Confirmation is the prompt screen: a shield bar, a title, the prompt text,
// optional instructions and confirm/cancel hints beside the hardware buttons.
type Confirmation struct {
	ctx          device.Context
	inverted     bool
	lang         string
	prompt       string
	instructions bool
}

func NewConfirmation(ctx device.Context, inverted bool) (*Confirmation, error) {
	if err := ctx.Geometry.Validate(); err != nil {
		return nil, err
	}
	ctx.SetColorScheme(inverted)
	return &Confirmation{ctx: ctx, inverted: inverted, lang: "en"}, nil
}

// Factory adapts NewConfirmation to device.LayoutFactory.
func Factory(ctx device.Context, inverted bool) (device.Layout, error) {
	return NewConfirmation(ctx, inverted)
}

func (c *Confirmation) SetLanguage(lang string) { c.lang = baseLanguage(lang) }

func (c *Confirmation) SetConfirmationMessage(prompt string) { c.prompt = prompt }

func (c *Confirmation) ShowInstructions(enable bool) { c.instructions = enable }

func (c *Confirmation) Language() string { return c.lang }

// Elements places every element for the current state. Missing translations
// become an element that fails with render.ErrLocalization so the rest of the
// screen still draws.
func (c *Confirmation) Elements() []render.Element {
	ctx := c.ctx
	pal := ctx.Palette
	w, h := int(ctx.Geometry.WidthPx), int(ctx.Geometry.HeightPx)
	margin := ctx.DP(16)
	titleFont, err := NewFont(ctx.DP(ctx.BodyFontDP+4), true)
	if err != nil {
		return []render.Element{failing{err}}
	}
	bodyFont, err := NewFont(ctx.DP(ctx.BodyFontDP), false)
	if err != nil {
		return []render.Element{failing{err}}
	}
	hintFont, err := NewFont(ctx.DP(ctx.DefaultFontDP), false)
	if err != nil {
		return []render.Element{failing{err}}
	}

	barW := ctx.DP(6)
	hintW := ctx.DP(120)
	textRight := w - margin - hintW

	var elems []render.Element
	text := func(key string, box image.Rectangle, f Font, col render.Color, align Align) {
		s, err := translate(c.lang, key)
		if err != nil {
			elems = append(elems, failing{err})
			return
		}
		elems = append(elems, Label{Box: box, Text: s, Font: f, Color: col, Align: align})
	}

	shieldH := ctx.DP(8)
	elems = append(elems, Rect{Box: image.Rect(0, 0, w, shieldH), Color: pal.Shield})

	titleTop := shieldH + margin
	titleBox := image.Rect(margin, titleTop, textRight, titleTop+2*titleFont.LineHeight())
	text("title", titleBox, titleFont, pal.Text, AlignLeft)

	bodyBottom := h - margin
	if c.instructions {
		instrTop := h - margin - 6*hintFont.LineHeight()
		text("instructions", image.Rect(margin, instrTop, w-margin, h-margin), hintFont, pal.TextHint, AlignLeft)
		bodyBottom = instrTop - margin
	}
	promptBox := image.Rect(margin, titleBox.Max.Y+margin, textRight, bodyBottom)
	elems = append(elems, Label{Box: promptBox, Text: c.prompt, Font: bodyFont, Color: pal.Text})

	for _, b := range []struct {
		key         string
		top, bottom float64
	}{
		{"confirm", ctx.Geometry.PowerButtonTopMM, ctx.Geometry.PowerButtonBottomMM},
		{"cancel", ctx.Geometry.VolUpButtonTopMM, ctx.Geometry.VolUpButtonBottomMM},
	} {
		top, bottom := ctx.MM(b.top), ctx.MM(b.bottom)
		elems = append(elems, Rect{Box: image.Rect(w-barW, top, w, bottom), Color: pal.Button})
		mid := (top + bottom - hintFont.LineHeight()) / 2
		box := image.Rect(w-barW-ctx.DP(4)-hintW, mid, w-barW-ctx.DP(4), mid+hintFont.LineHeight())
		text(b.key, box, hintFont, pal.Button, AlignRight)
	}
	return elems
}

type failing struct{ err error }

func (f failing) Draw(render.PixelSink) error { return f.err }
