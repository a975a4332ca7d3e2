package signal

import "fmt"

type Kind string

const (
	KindLinear    Kind = "linear"
	KindOscillate Kind = "oscillate"
	KindConstant  Kind = "constant"
)

// Spec describes a signal declaratively so it can live in a config file.
type Spec struct {
	Kind Kind    `yaml:"kind"`
	From float64 `yaml:"from"`
	To   float64 `yaml:"to"`

	// Frames overrides the length; when zero the length comes from
	// Repetitions (oscillate only) or from the enclosing region.
	Frames int `yaml:"frames,omitempty"`

	// Period is in seconds; PeriodBars is converted with the tempo.
	Period      float64 `yaml:"period,omitempty"`
	PeriodBars  float64 `yaml:"period_bars,omitempty"`
	Repetitions int     `yaml:"repetitions,omitempty"`
	Offset      float64 `yaml:"offset,omitempty"`
}

// Materialize renders the signal. regionFrames is used when neither Frames
// nor Repetitions determine the length.
func (s Spec) Materialize(fps int, barSeconds float64, regionFrames int) ([]float64, error) {
	n := s.Frames
	period := s.Period
	if s.PeriodBars > 0 {
		period = s.PeriodBars * barSeconds
	}

	switch s.Kind {
	case KindLinear, "":
		if n == 0 {
			n = regionFrames
		}
		return LinearRamp(s.From, s.To, n), nil
	case KindConstant:
		if n == 0 {
			n = regionFrames
		}
		return Constant(s.From, n), nil
	case KindOscillate:
		if period <= 0 {
			return nil, fmt.Errorf("oscillate signal needs a positive period")
		}
		if n == 0 && s.Repetitions > 0 {
			n = PulseFrames(period, s.Repetitions, fps)
		}
		if n == 0 {
			n = regionFrames
		}
		return Oscillate(s.From, s.To, period, n, s.Offset, fps), nil
	default:
		return nil, fmt.Errorf("unknown signal kind %q", s.Kind)
	}
}
