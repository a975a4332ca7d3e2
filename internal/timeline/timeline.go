// Package timeline materializes the configured effect regions into a Plan
// the compositor can query per frame. A Plan is immutable once built.
package timeline

import (
	"fmt"
	"math/rand"

	"github.com/ivlev/shadowmosh/internal/config"
	"github.com/ivlev/shadowmosh/internal/signal"
)

type interleave struct {
	start int
	rates []int
	burst int
}

type foreground struct {
	start, end int
	source     string
	origin     int
	crossfade  []float64
}

type backdrop struct {
	start, end int
	source     string
	origin     int
}

type maskFade struct {
	start, end int
	ramp       []float64
}

type deviation struct {
	start, end int
	offsets    []int
}

type trail struct {
	start, end int
	capacity   int
	memory     []int
	source     string
}

// Plan answers, for a 0-based frame index, which policy applies on each
// effect axis.
type Plan struct {
	TotalFrames int
	Entrance    int
	Cutover     int
	MaskStart   int

	interleave []interleave
	foreground []foreground
	backdrop   []backdrop
	maskFade   []maskFade
	deviation  *deviation
	trail      *trail
}

// Interleave is the interleave policy active at a frame.
type Interleave struct {
	Start int
	Rate  int
	Burst int
}

// Foreground selects a background sequence to stand in for, or crossfade
// over, the primary frame.
type Foreground struct {
	Source string
	// Offset is the 0-based position within the (looping) source.
	Offset int
	// Crossfade is the background weight; nil means the background fully
	// replaces the primary.
	Crossfade *float64
}

type Backdrop struct {
	Source string
	Offset int
}

// New builds a Plan for totalFrames output frames. rng drives the mask
// deviation walk.
func New(cfg *config.Config, totalFrames int, rng *rand.Rand) (*Plan, error) {
	tl := cfg.Timeline
	p := &Plan{
		TotalFrames: totalFrames,
		Entrance:    tl.Entrance,
		Cutover:     tl.Cutover,
		MaskStart:   tl.MaskStart,
	}

	prevEnd := 0
	for i, r := range tl.Interleave {
		samples, err := cfg.Signal(r.Rates, 0)
		if err != nil {
			return nil, fmt.Errorf("interleave region %d: %w", i, err)
		}
		if r.Start < prevEnd {
			return nil, fmt.Errorf("%w: interleave region %d overlaps the previous one", config.ErrInvalid, i)
		}
		burst := r.Burst
		if burst < 1 {
			burst = 1
		}
		p.interleave = append(p.interleave, interleave{start: r.Start, rates: signal.Truncate(samples), burst: burst})
		prevEnd = r.Start + len(samples)
	}

	for i, r := range tl.Foreground {
		fg := foreground{start: r.Start, end: r.End, source: r.Source, origin: r.Start}
		if r.Origin != nil {
			fg.origin = *r.Origin
		}
		if r.Crossfade != nil {
			ramp, err := cfg.Signal(*r.Crossfade, r.End-r.Start)
			if err != nil {
				return nil, fmt.Errorf("foreground region %d: %w", i, err)
			}
			fg.crossfade = ramp
		}
		p.foreground = append(p.foreground, fg)
	}

	for _, r := range tl.Backdrop {
		bd := backdrop{start: r.Start, end: r.End, source: r.Source, origin: r.Start}
		if bd.end == 0 {
			bd.end = totalFrames
		}
		if r.Origin != nil {
			bd.origin = *r.Origin
		}
		p.backdrop = append(p.backdrop, bd)
	}

	for i, r := range tl.MaskFade {
		ramp, err := cfg.Signal(r.Ramp, r.End-r.Start)
		if err != nil {
			return nil, fmt.Errorf("mask fade region %d: %w", i, err)
		}
		p.maskFade = append(p.maskFade, maskFade{start: r.Start, end: r.End, ramp: ramp})
	}

	if d := tl.Deviation; d != nil {
		end := d.End
		if end == 0 || end > totalFrames {
			end = totalFrames
		}
		n := end - d.Start
		if n < 0 {
			n = 0
		}
		period := cfg.Tempo.Bars(d.PeriodBars)
		var offsets []int
		if period > 0 {
			offsets = signal.Deviation(rng, d.MaxDeviation, period, n, d.Offset, cfg.FPS)
		} else {
			offsets = signal.BoundedRandomWalk(rng, signal.Constant(d.MaxDeviation, n))
		}
		p.deviation = &deviation{start: d.Start, end: end, offsets: offsets}
	}

	if t := tl.Trail; t != nil {
		n := t.End - t.Start
		period := cfg.Tempo.Bars(t.FadeBars)
		var memory []int
		if period > 0 {
			memory = signal.Truncate(signal.Oscillate(0, float64(t.MaxMemory), period, n, t.Offset, cfg.FPS))
		} else {
			memory = signal.Truncate(signal.Constant(float64(t.MaxMemory), n))
		}
		p.trail = &trail{start: t.Start, end: t.End, capacity: t.MaxMemory, memory: memory, source: t.SourceName}
	}

	return p, nil
}

// Passthrough reports whether frame i is copied from the primary (before
// the entrance) or alternate (at or after the cutover) source unchanged.
func (p *Plan) Passthrough(i int) (alternate, ok bool) {
	if i < p.Entrance {
		return false, true
	}
	if p.Cutover > 0 && i >= p.Cutover {
		return true, true
	}
	return false, false
}

func (p *Plan) Interleave(i int) (Interleave, bool) {
	for _, r := range p.interleave {
		if i >= r.start && i < r.start+len(r.rates) {
			return Interleave{Start: r.start, Rate: r.rates[i-r.start], Burst: r.burst}, true
		}
	}
	return Interleave{}, false
}

func (p *Plan) Foreground(i int) (Foreground, bool) {
	for _, r := range p.foreground {
		if i >= r.start && i < r.end {
			fg := Foreground{Source: r.source, Offset: i - r.origin}
			if r.crossfade != nil {
				v := hold(r.crossfade, i-r.start)
				fg.Crossfade = &v
			}
			return fg, true
		}
	}
	return Foreground{}, false
}

func (p *Plan) Backdrop(i int) (Backdrop, bool) {
	for _, r := range p.backdrop {
		if i >= r.start && i < r.end {
			return Backdrop{Source: r.source, Offset: i - r.origin}, true
		}
	}
	return Backdrop{}, false
}

// MaskFade returns the background percentage to lift the mask by.
func (p *Plan) MaskFade(i int) (float64, bool) {
	for _, r := range p.maskFade {
		if i >= r.start && i < r.end {
			return hold(r.ramp, i-r.start), true
		}
	}
	return 0, false
}

// MaskIndex returns the 0-based frame whose mask is used at frame i,
// jittered inside the deviation region and clamped to [0, TotalFrames].
func (p *Plan) MaskIndex(i int) int {
	d := p.deviation
	if d == nil || i < d.start || i >= d.end || i-d.start >= len(d.offsets) {
		return i
	}
	j := i + d.offsets[i-d.start]
	if j < 0 {
		j = 0
	}
	if j > p.TotalFrames {
		j = p.TotalFrames
	}
	return j
}

// Trail returns the trail memory length wanted at frame i.
func (p *Plan) Trail(i int) (int, bool) {
	t := p.trail
	if t == nil || i < t.start || i >= t.end {
		return 0, false
	}
	return t.memory[i-t.start], true
}

// TrailCapacity is the maximum trail memory, zero without a trail region.
func (p *Plan) TrailCapacity() int {
	if p.trail == nil {
		return 0
	}
	return p.trail.capacity
}

// TrailSource names the sequence drawn through the trail.
func (p *Plan) TrailSource() string {
	if p.trail == nil {
		return ""
	}
	return p.trail.source
}

// hold indexes samples, repeating the last one past the end.
func hold(samples []float64, k int) float64 {
	if len(samples) == 0 {
		return 0
	}
	if k >= len(samples) {
		return samples[len(samples)-1]
	}
	if k < 0 {
		return samples[0]
	}
	return samples[k]
}
