// Package mask holds single-channel opacity mattes and the operators that
// composite frames through them.
package mask

import (
	"errors"
	"fmt"
	"image"
	"math"
)

// ErrDimension reports a matte or frame whose size does not match.
var ErrDimension = errors.New("dimension mismatch")

// Matte is a row-major float matte with values in [0, 1].
type Matte struct {
	Width  int
	Height int
	Pix    []float32
}

func New(width, height int) *Matte {
	return &Matte{Width: width, Height: height, Pix: make([]float32, width*height)}
}

// Filled returns a matte with every value set to v.
func Filled(width, height int, v float32) *Matte {
	m := New(width, height)
	for i := range m.Pix {
		m.Pix[i] = v
	}
	return m
}

func (m *Matte) At(x, y int) float32 {
	return m.Pix[y*m.Width+x]
}

func (m *Matte) Set(x, y int, v float32) {
	m.Pix[y*m.Width+x] = v
}

func (m *Matte) Clone() *Matte {
	c := &Matte{Width: m.Width, Height: m.Height, Pix: make([]float32, len(m.Pix))}
	copy(c.Pix, m.Pix)
	return c
}

func (m *Matte) sameSize(o *Matte) bool {
	return m.Width == o.Width && m.Height == o.Height
}

func (m *Matte) fits(img *image.RGBA) bool {
	return img.Rect.Dx() == m.Width && img.Rect.Dy() == m.Height
}

// Scale returns m multiplied by f.
func (m *Matte) Scale(f float32) *Matte {
	out := New(m.Width, m.Height)
	for i, v := range m.Pix {
		out.Pix[i] = v * f
	}
	return out
}

// Complement returns 1-m.
func (m *Matte) Complement() *Matte {
	out := New(m.Width, m.Height)
	for i, v := range m.Pix {
		out.Pix[i] = 1 - v
	}
	return out
}

// Mul returns m*o elementwise.
func (m *Matte) Mul(o *Matte) (*Matte, error) {
	if !m.sameSize(o) {
		return nil, fmt.Errorf("%w: matte %dx%d vs %dx%d", ErrDimension, m.Width, m.Height, o.Width, o.Height)
	}
	out := New(m.Width, m.Height)
	for i, v := range m.Pix {
		out.Pix[i] = v * o.Pix[i]
	}
	return out, nil
}

// ComposeMatte blends two mattes through a third: fg*m + bg*(1-m).
func ComposeMatte(m, fg, bg *Matte) (*Matte, error) {
	if !m.sameSize(fg) || !m.sameSize(bg) {
		return nil, fmt.Errorf("%w: compose mattes", ErrDimension)
	}
	out := New(m.Width, m.Height)
	for i, a := range m.Pix {
		out.Pix[i] = fg.Pix[i]*a + bg.Pix[i]*(1-a)
	}
	return out, nil
}

// Fade lifts last towards pct so the background shows through everywhere:
// last*clip(last+pct, 0, 1) + pct*(1-last).
func Fade(last *Matte, pct float32) *Matte {
	lifted := New(last.Width, last.Height)
	for i, v := range last.Pix {
		lifted.Pix[i] = clamp01(v + pct)
	}
	out, _ := ComposeMatte(last, lifted, Filled(last.Width, last.Height, pct))
	return out
}

// Compose writes fg*m + bg*(1-m) into dst, per channel, casting to 8 bits
// only after the blend. A nil bg composites over black.
func Compose(dst, fg, bg *image.RGBA, m *Matte) error {
	if !m.fits(dst) || !m.fits(fg) || (bg != nil && !m.fits(bg)) {
		return fmt.Errorf("%w: matte %dx%d vs frame %v", ErrDimension, m.Width, m.Height, fg.Rect.Size())
	}
	for y := 0; y < m.Height; y++ {
		fo := fg.PixOffset(fg.Rect.Min.X, fg.Rect.Min.Y+y)
		do := dst.PixOffset(dst.Rect.Min.X, dst.Rect.Min.Y+y)
		bo := 0
		if bg != nil {
			bo = bg.PixOffset(bg.Rect.Min.X, bg.Rect.Min.Y+y)
		}
		row := m.Pix[y*m.Width : (y+1)*m.Width]
		for _, a := range row {
			af := float64(a)
			for c := 0; c < 3; c++ {
				v := float64(fg.Pix[fo+c]) * af
				if bg != nil {
					v += float64(bg.Pix[bo+c]) * (1 - af)
				}
				dst.Pix[do+c] = toByte(v)
			}
			dst.Pix[do+3] = 0xff
			fo += 4
			do += 4
			bo += 4
		}
	}
	return nil
}

// Crossfade writes a*p + b*(1-p) into dst with rounding, the way a weighted
// add with saturation does.
func Crossfade(dst, a, b *image.RGBA, p float64) error {
	if a.Rect.Size() != b.Rect.Size() || a.Rect.Size() != dst.Rect.Size() {
		return fmt.Errorf("%w: crossfade %v vs %v", ErrDimension, a.Rect.Size(), b.Rect.Size())
	}
	w, h := a.Rect.Dx(), a.Rect.Dy()
	for y := 0; y < h; y++ {
		ao := a.PixOffset(a.Rect.Min.X, a.Rect.Min.Y+y)
		bo := b.PixOffset(b.Rect.Min.X, b.Rect.Min.Y+y)
		do := dst.PixOffset(dst.Rect.Min.X, dst.Rect.Min.Y+y)
		for x := 0; x < w*4; x += 4 {
			for c := 0; c < 3; c++ {
				v := float64(a.Pix[ao+x+c])*p + float64(b.Pix[bo+x+c])*(1-p)
				dst.Pix[do+x+c] = toByte(math.Round(v))
			}
			dst.Pix[do+x+3] = 0xff
		}
	}
	return nil
}

func toByte(v float64) uint8 {
	if v <= 0 {
		return 0
	}
	if v >= 255 {
		return 255
	}
	return uint8(v)
}

func clamp01(v float32) float32 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
