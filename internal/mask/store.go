package mask

import (
	"errors"
	"fmt"
	"image"
	"io/fs"
	"math"
	"os"
	"path/filepath"

	"github.com/disintegration/imaging"
	xdraw "golang.org/x/image/draw"
)

var (
	// ErrNotFound is returned by a Store when no matte exists for an index.
	ErrNotFound = errors.New("mask not found")
	// ErrNoMask is returned by Sticky when nothing has been loaded yet.
	ErrNoMask = errors.New("no mask loaded yet")
)

// Store loads the matte for a 1-based frame index.
type Store interface {
	Load(index int) (*Matte, error)
}

// FileStore reads %06d.npy mattes, falling back to %06d.png grayscale
// images, from Dir. Every matte is quantized to 8 bits and smoothed once at
// load time.
type FileStore struct {
	Dir string

	// Kernel is the side of the box (mean) filter, reflecting at the
	// borders. Blur, when positive, selects a Gaussian of that sigma
	// instead. Both zero disables smoothing.
	Kernel int
	Blur   float64

	// Width and Height, when set, are the expected frame size. Mattes of a
	// different size are rescaled if Resize is set and rejected otherwise.
	Width, Height int
	Resize        bool
}

func (s *FileStore) path(index int, ext string) string {
	return filepath.Join(s.Dir, fmt.Sprintf("%06d%s", index, ext))
}

func (s *FileStore) Load(index int) (*Matte, error) {
	gray, err := s.readGray(index)
	if err != nil {
		return nil, err
	}

	b := gray.Bounds()
	if s.Width > 0 && s.Height > 0 && (b.Dx() != s.Width || b.Dy() != s.Height) {
		if !s.Resize {
			return nil, fmt.Errorf("%w: mask %d is %dx%d, frames are %dx%d",
				ErrDimension, index, b.Dx(), b.Dy(), s.Width, s.Height)
		}
		scaled := image.NewGray(image.Rect(0, 0, s.Width, s.Height))
		xdraw.BiLinear.Scale(scaled, scaled.Bounds(), gray, b, xdraw.Src, nil)
		gray = scaled
	}

	if s.Blur <= 0 && s.Kernel > 1 {
		gray = BoxBlur(gray, s.Kernel)
	}
	return smooth(gray, s.Blur), nil
}

func (s *FileStore) readGray(index int) (*image.Gray, error) {
	f, err := os.Open(s.path(index, ".npy"))
	if err == nil {
		defer f.Close()
		m, err := DecodeNpy(f)
		if err != nil {
			return nil, fmt.Errorf("mask %d: %w", index, err)
		}
		return m.Gray(), nil
	}
	if !errors.Is(err, fs.ErrNotExist) {
		return nil, err
	}

	img, err := imaging.Open(s.path(index, ".png"))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%w: index %d in %s", ErrNotFound, index, s.Dir)
		}
		return nil, fmt.Errorf("mask %d: %w", index, err)
	}
	gray := image.NewGray(img.Bounds())
	xdraw.Draw(gray, gray.Bounds(), img, img.Bounds().Min, xdraw.Src)
	return gray, nil
}

// Gray quantizes the matte to 8 bits, truncating like a uint8 cast.
func (m *Matte) Gray() *image.Gray {
	g := image.NewGray(image.Rect(0, 0, m.Width, m.Height))
	for i, v := range m.Pix {
		g.Pix[i] = uint8(clamp01(v) * 255)
	}
	return g
}

// BoxBlur averages every pixel over a k by k window centred on it, rounding
// to the nearest level. Pixels outside the image mirror the edge without
// repeating it (dcb|abcd|cba).
func BoxBlur(src *image.Gray, k int) *image.Gray {
	b := src.Bounds()
	w, h := b.Dx(), b.Dy()
	dst := image.NewGray(image.Rect(0, 0, w, h))
	if k < 2 || w == 0 || h == 0 {
		for y := 0; y < h; y++ {
			copy(dst.Pix[y*dst.Stride:y*dst.Stride+w], src.Pix[src.PixOffset(b.Min.X, b.Min.Y+y):])
		}
		return dst
	}
	lo := -(k / 2)
	hi := lo + k

	rows := make([]float64, w*h)
	for y := 0; y < h; y++ {
		line := src.Pix[src.PixOffset(b.Min.X, b.Min.Y+y):]
		for x := 0; x < w; x++ {
			var sum float64
			for d := lo; d < hi; d++ {
				sum += float64(line[reflect101(x+d, w)])
			}
			rows[y*w+x] = sum
		}
	}

	area := float64(k * k)
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			var sum float64
			for d := lo; d < hi; d++ {
				sum += rows[reflect101(y+d, h)*w+x]
			}
			dst.Pix[y*dst.Stride+x] = uint8(math.Round(sum / area))
		}
	}
	return dst
}

func reflect101(i, n int) int {
	if n == 1 {
		return 0
	}
	for i < 0 || i >= n {
		if i < 0 {
			i = -i
		}
		if i >= n {
			i = 2*n - 2 - i
		}
	}
	return i
}

func smooth(gray *image.Gray, sigma float64) *Matte {
	b := gray.Bounds()
	m := New(b.Dx(), b.Dy())
	if sigma <= 0 {
		for y := 0; y < m.Height; y++ {
			for x := 0; x < m.Width; x++ {
				m.Set(x, y, float32(gray.GrayAt(b.Min.X+x, b.Min.Y+y).Y)/255)
			}
		}
		return m
	}
	blurred := imaging.Blur(gray, sigma)
	for y := 0; y < m.Height; y++ {
		row := blurred.Pix[y*blurred.Stride:]
		for x := 0; x < m.Width; x++ {
			m.Set(x, y, float32(row[x*4])/255)
		}
	}
	return m
}

// Sticky serves the most recently loaded matte when the store has none for
// an index. It is strictly sequential state; never share one across
// goroutines.
type Sticky struct {
	store Store
	last  *Matte
}

func NewSticky(store Store) *Sticky {
	return &Sticky{store: store}
}

// Lookup returns the matte for index, or the last one on a miss.
// fallback reports whether the last one was used.
func (s *Sticky) Lookup(index int) (m *Matte, fallback bool, err error) {
	m, err = s.store.Load(index)
	if err == nil {
		s.last = m
		return m, false, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return nil, false, err
	}
	if s.last == nil {
		return nil, false, fmt.Errorf("index %d: %w", index, ErrNoMask)
	}
	return s.last, true, nil
}

