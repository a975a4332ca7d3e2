package compositor

import (
	"context"
	"fmt"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/ivlev/shadowmosh/internal/frame"
	"github.com/ivlev/shadowmosh/internal/mask"
	"github.com/ivlev/shadowmosh/internal/signal"
	"github.com/ivlev/shadowmosh/internal/system"
)

// OutroParams positions the outro ramps. All frame numbers are 1-based
// outro frames.
type OutroParams struct {
	// SourceStart + FrameOffset + n is the primary frame (and mask) behind
	// outro frame n.
	SourceStart int
	FrameOffset int

	FadeInEnd    int
	FadeOutStart int
	FadeOutEnd   int
	BlendStart   int
}

// Outro overlays the masked dancers onto a backdrop, fading them in, then
// blending towards their glitched rendition, then fading them out. Every
// frame is independent of the others.
type Outro struct {
	Dancers       *frame.Sequence
	DancersGlitch *frame.Sequence
	Backdrop      *frame.Sequence
	Masks         mask.Store
	Output        *frame.Sequence

	params  OutroParams
	fadeIn  []float64
	fadeOut []float64
	blend   []float64
}

func NewOutro(p OutroParams, dancers, glitch, backdrop, output *frame.Sequence, masks mask.Store) (*Outro, error) {
	if p.FadeOutEnd < p.FadeOutStart || p.FadeOutEnd < p.BlendStart || p.FadeInEnd < 0 {
		return nil, fmt.Errorf("outro ramps out of order: %+v", p)
	}
	return &Outro{
		Dancers:       dancers,
		DancersGlitch: glitch,
		Backdrop:      backdrop,
		Masks:         masks,
		Output:        output,
		params:        p,
		fadeIn:        signal.LinearRamp(0, 1, p.FadeInEnd),
		fadeOut:       signal.LinearRamp(1, 0, p.FadeOutEnd-p.FadeOutStart),
		blend:         signal.LinearRamp(1, 0, p.FadeOutEnd-p.BlendStart),
	}, nil
}

// Frames is the number of outro frames: the shorter of the glitched dancer
// and backdrop sequences.
func (o *Outro) Frames() (int, error) {
	a, err := o.DancersGlitch.Count()
	if err != nil {
		return 0, err
	}
	b, err := o.Backdrop.Count()
	if err != nil {
		return 0, err
	}
	if b < a {
		return b, nil
	}
	return a, nil
}

// Run renders every outro frame on up to workers goroutines. observe may be
// called concurrently.
func (o *Outro) Run(ctx context.Context, workers int, observe func(Result)) error {
	n, err := o.Frames()
	if err != nil {
		return err
	}
	if err := o.Output.MkdirAll(); err != nil {
		return err
	}
	logrus.WithField("stage", "outro").Infof("[*] Overlaying %d outro frames", n)

	g, ctx := errgroup.WithContext(ctx)
	if workers > 0 {
		g.SetLimit(workers)
	}
	for i := 1; i <= n; i++ {
		if ctx.Err() != nil {
			break
		}
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			res, err := o.Frame(i)
			if err != nil {
				return err
			}
			if observe != nil {
				observe(res)
			}
			return nil
		})
	}
	return g.Wait()
}

// Frame renders 1-based outro frame n.
func (o *Outro) Frame(n int) (Result, error) {
	p := o.params
	res := Result{Index: n - 1, MaskIndex: -1}

	if n >= p.FadeOutEnd {
		res.Outcome = Passthrough
		if err := o.Backdrop.CopyTo(n, o.Output, n); err != nil {
			return res, fmt.Errorf("%w: %w", ErrMissingFrame, err)
		}
		return res, nil
	}

	src := n + p.SourceStart + p.FrameOffset
	res.Outcome = Composited
	res.MaskIndex = src - 1
	m, err := o.Masks.Load(src)
	if err != nil {
		return res, fmt.Errorf("outro frame %d: %w", n, err)
	}
	if n < p.FadeInEnd {
		m = m.Scale(float32(o.fadeIn[n-1]))
	}
	if n >= p.FadeOutStart {
		m = m.Scale(float32(o.fadeOut[n-p.FadeOutStart]))
	}

	backdrop, err := o.Backdrop.Read(n)
	if err != nil {
		return res, fmt.Errorf("%w: %w", ErrMissingFrame, err)
	}
	defer system.PutImage(backdrop)
	dancers, err := o.Dancers.Read(src)
	if err != nil {
		return res, fmt.Errorf("%w: %w", ErrMissingFrame, err)
	}
	defer system.PutImage(dancers)

	if n >= p.BlendStart {
		glitch, err := o.DancersGlitch.Read(n)
		if err != nil {
			return res, fmt.Errorf("%w: %w", ErrMissingFrame, err)
		}
		err = mask.Crossfade(dancers, dancers, glitch, o.blend[n-p.BlendStart])
		system.PutImage(glitch)
		if err != nil {
			return res, fmt.Errorf("outro frame %d: %w", n, err)
		}
	}

	dst := system.GetImage(dancers.Rect)
	defer system.PutImage(dst)
	if err := mask.Compose(dst, dancers, backdrop, m); err != nil {
		return res, fmt.Errorf("outro frame %d: %w", n, err)
	}
	return res, o.Output.Write(n, dst)
}
