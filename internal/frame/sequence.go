// Package frame addresses numbered image sequences on disk: a directory of
// %06d-named files, 1-based, all of the same resolution.
package frame

import (
	"fmt"
	"image"
	"image/draw"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/disintegration/imaging"
	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"

	"github.com/ivlev/shadowmosh/internal/system"
)

type Sequence struct {
	Dir string
	Ext string

	countOnce sync.Once
	count     int
	countErr  error
}

func NewSequence(dir string) *Sequence {
	return &Sequence{Dir: dir, Ext: ".png"}
}

// Path returns the file for 1-based frame index i.
func (s *Sequence) Path(i int) string {
	return filepath.Join(s.Dir, fmt.Sprintf("%06d%s", i, s.Ext))
}

func (s *Sequence) Exists(i int) bool {
	_, err := os.Stat(s.Path(i))
	return err == nil
}

func (s *Sequence) MkdirAll() error {
	return os.MkdirAll(s.Dir, 0755)
}

// Read decodes frame i into a pooled RGBA buffer; return it with
// system.PutImage once done.
func (s *Sequence) Read(i int) (*image.RGBA, error) {
	img, err := imaging.Open(s.Path(i))
	if err != nil {
		return nil, fmt.Errorf("read frame %d of %s: %w", i, s.Dir, err)
	}
	bounds := img.Bounds()
	rgba := system.GetImage(image.Rect(0, 0, bounds.Dx(), bounds.Dy()))
	draw.Draw(rgba, rgba.Rect, img, bounds.Min, draw.Src)
	return rgba, nil
}

func (s *Sequence) Write(i int, img image.Image) error {
	if err := imaging.Save(img, s.Path(i)); err != nil {
		return fmt.Errorf("write frame %d of %s: %w", i, s.Dir, err)
	}
	return nil
}

// CopyTo copies frame i verbatim to frame j of dst without re-encoding.
func (s *Sequence) CopyTo(i int, dst *Sequence, j int) error {
	in, err := os.Open(s.Path(i))
	if err != nil {
		return fmt.Errorf("copy frame %d of %s: %w", i, s.Dir, err)
	}
	defer in.Close()

	out, err := os.Create(dst.Path(j))
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}

// Count returns how many frames with the sequence's extension exist.
// The result is cached after the first call.
func (s *Sequence) Count() (int, error) {
	s.countOnce.Do(func() {
		entries, err := os.ReadDir(s.Dir)
		if err != nil {
			s.countErr = err
			return
		}
		for _, e := range entries {
			if !e.IsDir() && strings.EqualFold(filepath.Ext(e.Name()), s.Ext) {
				s.count++
			}
		}
	})
	return s.count, s.countErr
}

// Looping maps a 0-based offset onto the sequence, wrapping around, and
// returns a 1-based frame index.
func (s *Sequence) Looping(offset int) (int, error) {
	n, err := s.Count()
	if err != nil {
		return 0, err
	}
	if n == 0 {
		return 0, fmt.Errorf("sequence %s is empty", s.Dir)
	}
	idx := offset % n
	if idx < 0 {
		idx += n
	}
	return idx + 1, nil
}
