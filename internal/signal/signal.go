// Package signal produces the per-frame numeric sequences that drive fades,
// interleave rates and mask jitter. Every generator is a pure function of its
// arguments, so a sequence can be materialized once and indexed freely.
package signal

import (
	"math"
	"math/rand"
)

// PulseFrames returns how many frames a pulse of the given period spans when
// repeated, truncated the same way SecondsToFrames truncates.
func PulseFrames(period float64, repetitions, fps int) int {
	if period <= 0 || repetitions <= 0 || fps <= 0 {
		return 0
	}
	return int(period * float64(repetitions) * float64(fps))
}

// Oscillate samples a sine wave with the given period (seconds) at fps,
// scaled into [min(low,high), max(low,high)] and phase shifted by offset*π/2.
// An offset of 1 starts at the peak, -1 at the trough.
func Oscillate(low, high, period float64, numFrames int, offset float64, fps int) []float64 {
	if numFrames <= 0 || period <= 0 || fps <= 0 {
		return []float64{}
	}
	amplitude := math.Abs(low-high) / 2
	base := amplitude + math.Min(low, high)
	freq := 1 / period

	out := make([]float64, numFrames)
	for i := range out {
		t := float64(i) / float64(fps)
		out[i] = math.Sin(2*math.Pi*freq*t+(math.Pi/2)*offset)*amplitude + base
	}
	return out
}

// LinearRamp returns numFrames evenly spaced samples spanning [start, end]
// inclusive of both ends.
func LinearRamp(start, end float64, numFrames int) []float64 {
	if numFrames <= 0 {
		return []float64{}
	}
	out := make([]float64, numFrames)
	if numFrames == 1 {
		out[0] = start
		return out
	}
	step := (end - start) / float64(numFrames-1)
	for i := range out {
		out[i] = start + step*float64(i)
	}
	out[numFrames-1] = end
	return out
}

// Constant returns numFrames copies of v.
func Constant(v float64, numFrames int) []float64 {
	if numFrames <= 0 {
		return []float64{}
	}
	out := make([]float64, numFrames)
	for i := range out {
		out[i] = v
	}
	return out
}

// BoundedRandomWalk draws one integer offset per frame uniformly from
// [-r, +r], where r is radius[i] rounded to the nearest integer.
// The sequence depends only on rng's state, so reseeding replays it.
func BoundedRandomWalk(rng *rand.Rand, radius []float64) []int {
	out := make([]int, len(radius))
	for i, r := range radius {
		ri := int(math.RoundToEven(math.Abs(r)))
		if ri == 0 {
			continue
		}
		out[i] = rng.Intn(2*ri+1) - ri
	}
	return out
}

// Deviation builds the oscillating jitter used to pick masks around the
// playhead: an envelope oscillating between 0 and maxDeviation feeds
// BoundedRandomWalk.
func Deviation(rng *rand.Rand, maxDeviation, period float64, numFrames int, offset float64, fps int) []int {
	return BoundedRandomWalk(rng, Oscillate(0, maxDeviation, period, numFrames, offset, fps))
}

// Truncate converts samples to ints toward zero.
func Truncate(samples []float64) []int {
	out := make([]int, len(samples))
	for i, s := range samples {
		out[i] = int(s)
	}
	return out
}
