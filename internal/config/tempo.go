package config

// Tempo converts musical lengths into seconds.
type Tempo struct {
	BPM         float64 `yaml:"bpm"`
	BeatsPerBar int     `yaml:"beats_per_bar"`
}

func (t Tempo) BeatSeconds() float64 {
	if t.BPM <= 0 {
		return 0
	}
	return 60 / t.BPM
}

func (t Tempo) BarSeconds() float64 {
	beats := t.BeatsPerBar
	if beats == 0 {
		beats = 4
	}
	return t.BeatSeconds() * float64(beats)
}

// Bars returns the duration of n bars in seconds.
func (t Tempo) Bars(n float64) float64 {
	return t.BarSeconds() * n
}

// SecondsToFrames truncates toward zero; region boundaries derived from the
// song depend on this exact rounding.
func SecondsToFrames(seconds float64, fps int) int {
	return int(seconds * float64(fps))
}
