// Package compositor renders the interwoven frame sequence: for every output
// index it picks, blends and masks frames from several numbered sequences
// according to a timeline.Plan.
//
// The compositor carries state from one frame to the next (the last valid
// mask, the motion trail, the interleave counters), so a Compositor must be
// driven over strictly increasing indices from a single goroutine.
package compositor

import (
	"context"
	"errors"
	"fmt"
	"image"

	"github.com/sirupsen/logrus"

	"github.com/ivlev/shadowmosh/internal/frame"
	"github.com/ivlev/shadowmosh/internal/mask"
	"github.com/ivlev/shadowmosh/internal/system"
	"github.com/ivlev/shadowmosh/internal/timeline"
)

var (
	ErrOutOfOrder = errors.New("frame index not strictly increasing")
	// ErrMissingFrame wraps a required source frame that could not be read.
	ErrMissingFrame = errors.New("missing source frame")
)

// Sources are the sequences a Compositor reads and writes.
type Sources struct {
	Primary   *frame.Sequence
	Alternate *frame.Sequence
	// Secondary frames are interleaved verbatim.
	Secondary *frame.Sequence
	// Trail is drawn through the motion trail matte.
	Trail       *frame.Sequence
	Backgrounds map[string]*frame.Sequence
	Masks       mask.Store
	Output      *frame.Sequence
}

type Outcome int

const (
	Passthrough Outcome = iota
	Interleaved
	Blended
	Composited
)

func (o Outcome) String() string {
	switch o {
	case Passthrough:
		return "passthrough"
	case Interleaved:
		return "interleaved"
	case Blended:
		return "blended"
	case Composited:
		return "composited"
	}
	return fmt.Sprintf("outcome(%d)", int(o))
}

// Result describes what Step did for one output frame.
type Result struct {
	Index   int
	Outcome Outcome
	// MaskIndex is the 0-based frame the mask was looked up for.
	MaskIndex int
	// Fallback is set when the previous mask stood in for a missing one.
	Fallback bool
	// Trail is the number of trail entries projected, zero when none.
	Trail int
}

type interleaveState struct {
	region    int
	primary   int
	secondary int
}

type Compositor struct {
	plan *timeline.Plan
	src  Sources

	sticky *mask.Sticky
	trail  *mask.Trail
	ilv    interleaveState
	last   int

	log *logrus.Entry
}

func New(plan *timeline.Plan, src Sources) (*Compositor, error) {
	if src.Primary == nil || src.Output == nil {
		return nil, fmt.Errorf("compositor needs a primary and an output sequence")
	}
	if src.Masks == nil {
		return nil, fmt.Errorf("compositor needs a mask store")
	}
	if src.Alternate == nil {
		src.Alternate = src.Primary
	}
	if src.Trail == nil && plan.TrailSource() != "" {
		seq, ok := src.Backgrounds[plan.TrailSource()]
		if !ok {
			return nil, fmt.Errorf("trail source %q is not a background", plan.TrailSource())
		}
		src.Trail = seq
	}
	c := &Compositor{
		plan:   plan,
		src:    src,
		sticky: mask.NewSticky(src.Masks),
		ilv:    interleaveState{region: -1},
		last:   -1,
		log:    logrus.WithField("stage", "interweave"),
	}
	if n := plan.TrailCapacity(); n > 0 {
		c.trail = mask.NewTrail(n)
	}
	return c, nil
}

// Run composites frames [0, plan.TotalFrames), calling observe after each.
func (c *Compositor) Run(ctx context.Context, observe func(Result)) error {
	if err := c.src.Output.MkdirAll(); err != nil {
		return err
	}
	total := c.plan.TotalFrames
	step := total / 20
	if step < 1 {
		step = 1
	}
	for i := 0; i < total; i++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		res, err := c.Step(i)
		if err != nil {
			return err
		}
		if observe != nil {
			observe(res)
		}
		if (i+1)%step == 0 || i+1 == total {
			c.log.WithField("frame", i+1).Infof("[>] Ready: %d/%d", i+1, total)
		}
	}
	return nil
}

// Step renders output frame i (0-based) to Output.Path(i+1).
func (c *Compositor) Step(i int) (Result, error) {
	if i <= c.last {
		return Result{}, fmt.Errorf("%w: %d after %d", ErrOutOfOrder, i, c.last)
	}
	c.last = i
	res := Result{Index: i, MaskIndex: -1}
	out := i + 1

	if c.interleave(i) {
		if c.src.Secondary == nil {
			return res, fmt.Errorf("frame %d: interleave region without a secondary sequence", i)
		}
		res.Outcome = Interleaved
		return res, c.copy(c.src.Secondary, out)
	}

	if alternate, ok := c.plan.Passthrough(i); ok {
		src := c.src.Primary
		if alternate {
			src = c.src.Alternate
		}
		res.Outcome = Passthrough
		return res, c.copy(src, out)
	}

	fg, err := c.foreground(i)
	if err != nil {
		return res, err
	}
	defer system.PutImage(fg)

	if i < c.plan.MaskStart {
		res.Outcome = Blended
		return res, c.src.Output.Write(out, fg)
	}

	res.Outcome = Composited
	res.MaskIndex = c.plan.MaskIndex(i)
	m, fallback, err := c.sticky.Lookup(res.MaskIndex + 1)
	if err != nil {
		return res, fmt.Errorf("frame %d: %w", i, err)
	}
	res.Fallback = fallback
	if pct, ok := c.plan.MaskFade(i); ok {
		m = mask.Fade(m, float32(pct))
	}

	var trailMatte *mask.Matte
	if memory, ok := c.plan.Trail(i); ok && c.trail != nil {
		c.trail.Push(m)
		n := memory
		if n > c.trail.Len() {
			n = c.trail.Len()
		}
		if n >= 1 {
			proj := c.trail.Project(n)
			if trailMatte, err = proj.Mul(m.Complement()); err != nil {
				return res, fmt.Errorf("frame %d: %w", i, err)
			}
			res.Trail = n
		}
	}

	var bg *image.RGBA
	if bd, ok := c.plan.Backdrop(i); ok {
		if bg, err = c.background(bd.Source, bd.Offset); err != nil {
			return res, err
		}
		defer system.PutImage(bg)
	}

	dst := system.GetImage(fg.Rect)
	defer system.PutImage(dst)
	if err := mask.Compose(dst, fg, bg, m); err != nil {
		return res, fmt.Errorf("frame %d: %w", i, err)
	}

	if trailMatte != nil {
		if c.src.Trail == nil {
			return res, fmt.Errorf("frame %d: trail region without a trail sequence", i)
		}
		fire, err := c.read(c.src.Trail, out)
		if err != nil {
			return res, err
		}
		err = mask.Compose(dst, fire, dst, trailMatte)
		system.PutImage(fire)
		if err != nil {
			return res, fmt.Errorf("frame %d: %w", i, err)
		}
	}

	return res, c.src.Output.Write(out, dst)
}

// interleave advances the interleave counters and reports whether frame i
// is a secondary frame. Counters reset on entering a region.
func (c *Compositor) interleave(i int) bool {
	r, ok := c.plan.Interleave(i)
	if !ok {
		return false
	}
	if c.ilv.region != r.Start {
		c.ilv = interleaveState{region: r.Start}
	}
	if c.ilv.primary >= r.Rate {
		c.ilv.secondary++
		if c.ilv.secondary >= r.Burst {
			c.ilv.primary = 0
			c.ilv.secondary = 0
		}
		return true
	}
	c.ilv.primary++
	return false
}

// foreground returns the primary frame, replaced or crossfaded by a
// background inside foreground regions.
func (c *Compositor) foreground(i int) (*image.RGBA, error) {
	region, ok := c.plan.Foreground(i)
	if !ok {
		return c.read(c.src.Primary, i+1)
	}
	bg, err := c.background(region.Source, region.Offset)
	if err != nil {
		return nil, err
	}
	if region.Crossfade == nil {
		return bg, nil
	}
	defer system.PutImage(bg)

	primary, err := c.read(c.src.Primary, i+1)
	if err != nil {
		return nil, err
	}
	if err := mask.Crossfade(primary, bg, primary, *region.Crossfade); err != nil {
		system.PutImage(primary)
		return nil, fmt.Errorf("frame %d: %w", i, err)
	}
	return primary, nil
}

func (c *Compositor) background(name string, offset int) (*image.RGBA, error) {
	seq, ok := c.src.Backgrounds[name]
	if !ok {
		return nil, fmt.Errorf("%w: unknown background %q", ErrMissingFrame, name)
	}
	idx, err := seq.Looping(offset)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrMissingFrame, err)
	}
	return c.read(seq, idx)
}

func (c *Compositor) read(seq *frame.Sequence, idx int) (*image.RGBA, error) {
	img, err := seq.Read(idx)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrMissingFrame, err)
	}
	return img, nil
}

func (c *Compositor) copy(seq *frame.Sequence, idx int) error {
	if err := seq.CopyTo(idx, c.src.Output, idx); err != nil {
		return fmt.Errorf("%w: %w", ErrMissingFrame, err)
	}
	return nil
}
