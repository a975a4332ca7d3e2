package config

import (
	"fmt"
	"sort"

	"github.com/ivlev/shadowmosh/internal/signal"
)

// Timeline holds the compositor's effect regions, all in 0-based frame
// indices with half-open [Start, End) bounds.
type Timeline struct {
	// Entrance: frames before it pass through untouched.
	Entrance int `yaml:"entrance"`
	// Cutover: frames at or after it pass through from the alternate source.
	Cutover int `yaml:"cutover"`
	// MaskStart: first frame composited through a mask.
	MaskStart int `yaml:"mask_start"`

	Interleave []InterleaveRegion `yaml:"interleave"`
	Foreground []ForegroundRegion `yaml:"foreground"`
	Backdrop   []BackdropRegion   `yaml:"backdrop"`
	MaskFade   []MaskFadeRegion   `yaml:"mask_fade"`
	Deviation  *DeviationRegion   `yaml:"deviation"`
	Trail      *TrailRegion       `yaml:"trail"`
}

// InterleaveRegion emits Burst secondary frames after every Rates[i]
// primary frames. Its length is the length of the materialized rates.
type InterleaveRegion struct {
	Start int         `yaml:"start"`
	Rates signal.Spec `yaml:"rates"`
	Burst int         `yaml:"burst"`
}

// ForegroundRegion replaces the primary foreground with a background
// sequence, optionally crossfading it over the primary with a ramp.
type ForegroundRegion struct {
	Start     int          `yaml:"start"`
	End       int          `yaml:"end"`
	Source    string       `yaml:"source"`
	Origin    *int         `yaml:"origin"`
	Crossfade *signal.Spec `yaml:"crossfade"`
}

// BackdropRegion composites the masked foreground over a background
// sequence instead of black.
type BackdropRegion struct {
	Start  int    `yaml:"start"`
	End    int    `yaml:"end"`
	Source string `yaml:"source"`
	Origin *int   `yaml:"origin"`
}

// MaskFadeRegion lifts the mask towards Ramp[i], revealing background.
type MaskFadeRegion struct {
	Start int         `yaml:"start"`
	End   int         `yaml:"end"`
	Ramp  signal.Spec `yaml:"ramp"`
}

// DeviationRegion jitters mask lookups around the playhead.
type DeviationRegion struct {
	Start        int     `yaml:"start"`
	End          int     `yaml:"end"`
	MaxDeviation float64 `yaml:"max_deviation"`
	PeriodBars   float64 `yaml:"period_bars"`
	Offset       float64 `yaml:"offset"`
}

// TrailRegion draws a decaying motion trail of recent masks.
type TrailRegion struct {
	Start      int     `yaml:"start"`
	End        int     `yaml:"end"`
	MaxMemory  int     `yaml:"max_memory"`
	FadeBars   float64 `yaml:"fade_bars"`
	Offset     float64 `yaml:"offset"`
	// SourceName picks the trail sequence from the backgrounds when
	// sources.trail is not set.
	SourceName string  `yaml:"source"`
}

type span struct {
	name       string
	start, end int
}

// Validate checks that each axis is non-overlapping and ordered and that
// every named background exists.
func (t Timeline) Validate(backgrounds map[string]string) error {
	if t.Entrance < 0 || t.MaskStart < 0 || t.Cutover < 0 {
		return fmt.Errorf("%w: negative timeline marker", ErrInvalid)
	}
	if t.Cutover > 0 && t.Cutover < t.Entrance {
		return fmt.Errorf("%w: cutover %d before entrance %d", ErrInvalid, t.Cutover, t.Entrance)
	}

	var fg, bd, mf []span
	for i, r := range t.Foreground {
		if _, ok := backgrounds[r.Source]; !ok {
			return fmt.Errorf("%w: foreground region %d uses unknown background %q", ErrInvalid, i, r.Source)
		}
		fg = append(fg, span{"foreground", r.Start, r.End})
	}
	for i, r := range t.Backdrop {
		if _, ok := backgrounds[r.Source]; !ok {
			return fmt.Errorf("%w: backdrop region %d uses unknown background %q", ErrInvalid, i, r.Source)
		}
		end := r.End
		if end == 0 {
			end = int(^uint(0) >> 1)
		}
		bd = append(bd, span{"backdrop", r.Start, end})
	}
	for _, r := range t.MaskFade {
		mf = append(mf, span{"mask_fade", r.Start, r.End})
	}
	for _, axis := range [][]span{fg, bd, mf} {
		if err := checkSpans(axis); err != nil {
			return err
		}
	}

	var starts []int
	for _, r := range t.Interleave {
		if r.Start < 0 {
			return fmt.Errorf("%w: interleave start %d", ErrInvalid, r.Start)
		}
		if r.Burst < 0 {
			return fmt.Errorf("%w: interleave burst %d", ErrInvalid, r.Burst)
		}
		starts = append(starts, r.Start)
	}
	if !sort.IntsAreSorted(starts) {
		return fmt.Errorf("%w: interleave regions out of order", ErrInvalid)
	}

	if d := t.Deviation; d != nil {
		if err := checkSpans([]span{{"deviation", d.Start, d.End}}); err != nil {
			return err
		}
		if d.MaxDeviation < 0 {
			return fmt.Errorf("%w: negative max deviation", ErrInvalid)
		}
	}
	if tr := t.Trail; tr != nil {
		if err := checkSpans([]span{{"trail", tr.Start, tr.End}}); err != nil {
			return err
		}
		if tr.MaxMemory < 1 {
			return fmt.Errorf("%w: trail max memory must be at least 1", ErrInvalid)
		}
		if tr.SourceName != "" {
			if _, ok := backgrounds[tr.SourceName]; !ok {
				return fmt.Errorf("%w: trail uses unknown background %q", ErrInvalid, tr.SourceName)
			}
		}
	}
	return nil
}

func checkSpans(spans []span) error {
	prevEnd := 0
	for i, s := range spans {
		if s.start < 0 || s.end <= s.start {
			return fmt.Errorf("%w: %s region [%d, %d) is empty or negative", ErrInvalid, s.name, s.start, s.end)
		}
		if i > 0 && s.start < prevEnd {
			return fmt.Errorf("%w: %s region [%d, %d) overlaps the previous one", ErrInvalid, s.name, s.start, s.end)
		}
		prevEnd = s.end
	}
	return nil
}
