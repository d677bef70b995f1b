package layouts

import (
	"fmt"
	"image"
	"strings"
	"sync"

	"github.com/danmuck/confirmationui/internal/render"
	"golang.org/x/image/font"
	"golang.org/x/image/font/gofont/gobold"
	"golang.org/x/image/font/gofont/goregular"
	"golang.org/x/image/font/opentype"
	"golang.org/x/image/font/sfnt"
	"golang.org/x/image/math/fixed"
)

var (
	parseRegular = sync.OnceValues(func() (*sfnt.Font, error) { return opentype.Parse(goregular.TTF) })
	parseBold    = sync.OnceValues(func() (*sfnt.Font, error) { return opentype.Parse(gobold.TTF) })
)

// Font is a rasterizing face at a fixed pixel size.
type Font struct {
	sfnt *sfnt.Font
	face font.Face
}

// NewFont loads the regular or bold face at sizePx pixels. Faces too small to
// hold one line of text are rejected with render.ErrMessageTooLong.
func NewFont(sizePx int, bold bool) (Font, error) {
	if sizePx < 1 {
		return Font{}, fmt.Errorf("%w: font size %dpx", render.ErrMessageTooLong, sizePx)
	}
	parse := parseRegular
	if bold {
		parse = parseBold
	}
	f, err := parse()
	if err != nil {
		return Font{}, fmt.Errorf("%w: parse font: %v", render.ErrMissingGlyph, err)
	}
	face, err := opentype.NewFace(f, &opentype.FaceOptions{
		Size:    float64(sizePx),
		DPI:     72,
		Hinting: font.HintingFull,
	})
	if err != nil {
		return Font{}, fmt.Errorf("%w: face %dpx: %v", render.ErrMissingGlyph, sizePx, err)
	}
	out := Font{sfnt: f, face: face}
	if out.LineHeight() <= 0 {
		return Font{}, fmt.Errorf("%w: font %dpx has no line height", render.ErrMessageTooLong, sizePx)
	}
	return out, nil
}

func (f Font) LineHeight() int { return f.face.Metrics().Height.Ceil() }

func (f Font) Width(s string) int { return font.MeasureString(f.face, s).Ceil() }

// Has reports whether the font carries a glyph for r rather than the
// notdef box.
func (f Font) Has(r rune) bool {
	var buf sfnt.Buffer
	idx, err := f.sfnt.GlyphIndex(&buf, r)
	return err == nil && idx != 0
}

type Align int

const (
	AlignLeft Align = iota
	AlignCenter
	AlignRight
)

// Label draws word-wrapped text inside a box.
type Label struct {
	Box   image.Rectangle
	Text  string
	Font  Font
	Color render.Color
	Align Align
}

// Lines wraps the text to the box width. Words wider than the box are split.
func (l Label) Lines() []string {
	maxW := l.Box.Dx()
	var lines []string
	for _, para := range strings.Split(l.Text, "\n") {
		cur := ""
		for _, word := range strings.Fields(para) {
			if cur != "" && l.Font.Width(cur+" "+word) <= maxW {
				cur += " " + word
				continue
			}
			if cur != "" {
				lines = append(lines, cur)
				cur = ""
			}
			for l.Font.Width(word) > maxW {
				cut := l.fitPrefix(word, maxW)
				lines = append(lines, word[:cut])
				word = word[cut:]
			}
			cur = word
		}
		lines = append(lines, cur)
	}
	return lines
}

// fitPrefix returns the byte length of the longest prefix of word that fits,
// never less than one rune.
func (l Label) fitPrefix(word string, maxW int) int {
	cut := 0
	for i, r := range word {
		end := i + len(string(r))
		if cut > 0 && l.Font.Width(word[:end]) > maxW {
			break
		}
		cut = end
	}
	return cut
}

func (l Label) Draw(s render.PixelSink) error {
	for _, r := range l.Text {
		if r == '\n' || r == ' ' || r == '\t' {
			continue
		}
		if !l.Font.Has(r) {
			return fmt.Errorf("%w: %U", render.ErrMissingGlyph, r)
		}
	}
	lh := l.Font.LineHeight()
	if lh <= 0 {
		return fmt.Errorf("%w: zero line height", render.ErrMessageTooLong)
	}
	lines := l.Lines()
	fits := l.Box.Dy() / lh
	var first error
	if len(lines) > fits {
		first = fmt.Errorf("%w: %d lines, room for %d", render.ErrMessageTooLong, len(lines), fits)
		lines = lines[:fits]
	}
	ascent := l.Font.face.Metrics().Ascent.Ceil()
	for i, line := range lines {
		x := l.Box.Min.X
		switch l.Align {
		case AlignCenter:
			x += (l.Box.Dx() - l.Font.Width(line)) / 2
		case AlignRight:
			x += l.Box.Dx() - l.Font.Width(line)
		}
		dot := fixed.P(x, l.Box.Min.Y+i*lh+ascent)
		if err := l.drawLine(s, dot, line); err != nil && first == nil {
			first = err
		}
	}
	return first
}

func (l Label) drawLine(s render.PixelSink, dot fixed.Point26_6, line string) error {
	prev := rune(-1)
	for _, r := range line {
		if prev >= 0 {
			dot.X += l.Font.face.Kern(prev, r)
		}
		prev = r
		dr, mask, maskp, advance, ok := l.Font.face.Glyph(dot, r)
		if !ok {
			return fmt.Errorf("%w: %U", render.ErrMissingGlyph, r)
		}
		for y := dr.Min.Y; y < dr.Max.Y; y++ {
			for x := dr.Min.X; x < dr.Max.X; x++ {
				_, _, _, a := mask.At(maskp.X+x-dr.Min.X, maskp.Y+y-dr.Min.Y).RGBA()
				if a == 0 {
					continue
				}
				c := l.Color.WithAlpha(uint8(uint32(l.Color.A()) * (a >> 8) / 0xff))
				if err := s.Put(x, y, c); err != nil {
					return err
				}
			}
		}
		dot.X += advance
	}
	return nil
}
