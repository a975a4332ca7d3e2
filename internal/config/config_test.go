package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleConfig = `
tempo:
  bpm: 84
sources:
  primary: media/frames/dancers
  secondary: media/frames/fire
  masks: media/frames/dancers_mask
  output: media/frames/interweaved
  backgrounds:
    waves: media/frames/waves
    waves_slow: media/frames/waves_slow
timeline:
  entrance: 763
  cutover: 5100
  mask_start: 1077
  interleave:
    - start: 0
      rates: {kind: linear, from: 60, to: 30, frames: 603}
  foreground:
    - {start: 763, end: 4100, source: waves, crossfade: {kind: linear, from: 0, to: 1, frames: 868}}
    - {start: 4100, end: 4300, source: waves_slow}
  backdrop:
    - {start: 4300, source: waves_slow, origin: 4100}
  mask_fade:
    - {start: 1077, end: 1631, ramp: {kind: linear, from: 1, to: 0}}
  deviation: {start: 1631, end: 9000, max_deviation: 15, period_bars: 12, offset: -1}
  trail: {start: 3000, end: 3700, max_memory: 85, fade_bars: 2, offset: -1}
glitch:
  input: media/glitch_input.avi
  output: media/glitch_output.avi
  start_frame: 4300
`

func TestParseDefaults(t *testing.T) {
	cfg, err := Parse([]byte(sampleConfig))
	require.NoError(t, err)

	assert.Equal(t, DefaultFPS, cfg.FPS)
	assert.Equal(t, DefaultWidth, cfg.Width)
	assert.Equal(t, DefaultHeight, cfg.Height)
	assert.Equal(t, 4, cfg.Tempo.BeatsPerBar)
	assert.Equal(t, "30306463", cfg.Glitch.Marker)
	assert.Equal(t, DefaultTagOffset, cfg.Glitch.Offset())
	assert.Equal(t, "add", cfg.Motion.Mode)
	assert.Equal(t, cfg.Sources.Primary, cfg.Sources.Alternate)
	assert.Equal(t, 1, cfg.Timeline.Interleave[0].Burst)
	assert.Equal(t, DefaultFrameOffset, cfg.Outro.Offset())
	require.NotNil(t, cfg.Timeline.Backdrop[0].Origin)
	assert.Equal(t, 4100, *cfg.Timeline.Backdrop[0].Origin)
}

func TestZeroTagOffset(t *testing.T) {
	cfg, err := Parse([]byte(sampleConfig + "  tag_offset: 0\n"))
	require.NoError(t, err)
	assert.Equal(t, 0, cfg.Glitch.Offset())

	_, err = Parse([]byte(sampleConfig + "  tag_offset: -2\n"))
	assert.ErrorIs(t, err, ErrInvalid)
}

func TestLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "render.yaml")
	require.NoError(t, os.WriteFile(path, []byte(sampleConfig), 0644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 4300, cfg.Glitch.StartFrame)

	_, err = Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestValidateRejects(t *testing.T) {
	tests := []struct {
		name string
		edit func(c *Config)
	}{
		{"overlapping foreground", func(c *Config) {
			c.Timeline.Foreground[1].Start = 4000
		}},
		{"empty mask fade", func(c *Config) {
			c.Timeline.MaskFade[0].End = c.Timeline.MaskFade[0].Start
		}},
		{"unknown background", func(c *Config) {
			c.Timeline.Foreground[0].Source = "lava"
		}},
		{"cutover before entrance", func(c *Config) {
			c.Timeline.Cutover = 10
		}},
		{"bad mode", func(c *Config) {
			c.Motion.Mode = "multiply"
		}},
		{"zero trail memory", func(c *Config) {
			c.Timeline.Trail.MaxMemory = 0
		}},
		{"unknown trail source", func(c *Config) {
			c.Timeline.Trail.SourceName = "lava"
		}},
		{"interleave out of order", func(c *Config) {
			c.Timeline.Interleave = append(c.Timeline.Interleave, InterleaveRegion{Start: -1})
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg, err := Parse([]byte(sampleConfig))
			require.NoError(t, err)
			tt.edit(cfg)
			err = cfg.Validate()
			require.Error(t, err)
			assert.True(t, errors.Is(err, ErrInvalid))
		})
	}
}

func TestTempo(t *testing.T) {
	tempo := Tempo{BPM: 84, BeatsPerBar: 4}
	assert.InDelta(t, 60.0/84, tempo.BeatSeconds(), 1e-12)
	assert.InDelta(t, 240.0/84, tempo.BarSeconds(), 1e-12)
	assert.InDelta(t, 12*240.0/84, tempo.Bars(12), 1e-9)
	assert.Equal(t, 1631, SecondsToFrames(54.375, 30))
	assert.Zero(t, Tempo{}.BarSeconds())
}
