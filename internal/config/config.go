package config

import (
	"errors"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/ivlev/shadowmosh/internal/signal"
)

// ErrInvalid wraps every validation failure.
var ErrInvalid = errors.New("invalid config")

type Config struct {
	Width  int   `yaml:"width"`
	Height int   `yaml:"height"`
	FPS    int   `yaml:"fps"`
	Tempo  Tempo `yaml:"tempo"`

	// TotalFrames of the composited sequence; zero means "count the primary
	// sequence", since the rendered count may differ from the theoretical one.
	TotalFrames int `yaml:"total_frames"`

	Workers     int     `yaml:"workers"`
	Seed        int64   `yaml:"seed"`
	MaskKernel  int     `yaml:"mask_kernel"`
	MaskBlur    float64 `yaml:"mask_blur"`
	ResizeMasks bool    `yaml:"resize_masks"`
	MetricsPath string  `yaml:"metrics_path"`

	Sources  Sources  `yaml:"sources"`
	Timeline Timeline `yaml:"timeline"`
	Glitch   Glitch   `yaml:"glitch"`
	Motion   Motion   `yaml:"motion"`
	Outro    Outro    `yaml:"outro"`
	Render   Render   `yaml:"render"`
	Credits  Credits  `yaml:"credits"`
}

// Sources names the frame sequence directories the compositor reads.
type Sources struct {
	Primary     string            `yaml:"primary"`
	Alternate   string            `yaml:"alternate"`
	Secondary   string            `yaml:"secondary"`
	Trail       string            `yaml:"trail"`
	Masks       string            `yaml:"masks"`
	Output      string            `yaml:"output"`
	Backgrounds map[string]string `yaml:"backgrounds"`
}

// Glitch configures intra-frame removal on the encoded stream.
type Glitch struct {
	Input      string `yaml:"input"`
	Output     string `yaml:"output"`
	StartFrame int    `yaml:"start_frame"`
	Marker     string `yaml:"marker"`
	TagOffset  *int   `yaml:"tag_offset"`
	IntraTag   string `yaml:"intra_tag"`
	InterTag   string `yaml:"inter_tag"`
}

// Offset returns the byte offset of the frame type tag; unset means 5.
func (g Glitch) Offset() int {
	if g.TagOffset == nil {
		return DefaultTagOffset
	}
	return *g.TagOffset
}

type Chunk struct {
	Donor  string `yaml:"donor"`
	Target string `yaml:"target"`
	Output string `yaml:"output"`
}

// Motion configures the chunked motion vector transplant.
type Motion struct {
	Chunks  []Chunk `yaml:"chunks"`
	Mode    string  `yaml:"mode"`
	GOP     int     `yaml:"gop"`
	WorkDir string  `yaml:"work_dir"`
	Concat  string  `yaml:"concat"`
	Frames  string  `yaml:"frames"`
}

// Outro configures the stateless overlay of the dancers onto the
// transplanted motion footage.
type Outro struct {
	Dancers       string `yaml:"dancers"`
	DancersGlitch string `yaml:"dancers_glitch"`
	Backdrop      string `yaml:"backdrop"`
	Masks         string `yaml:"masks"`
	Output        string `yaml:"output"`

	// SourceStart is the first primary-sequence frame of the outro.
	// FrameOffset is added on top; the rendered dancer sequence lost one
	// frame before the outro, so it defaults to -1.
	SourceStart int  `yaml:"source_start"`
	FrameOffset *int `yaml:"frame_offset"`

	FadeInEnd    int `yaml:"fade_in_end"`
	FadeOutStart int `yaml:"fade_out_start"`
	FadeOutEnd   int `yaml:"fade_out_end"`
	BlendStart   int `yaml:"blend_start"`
}

// Render encodes a finished frame sequence into the delivery video.
type Render struct {
	Frames string `yaml:"frames"`
	Output string `yaml:"output"`
}

// Credits burns titles and a QR card into the rendered video. Script is a
// credits YAML file; QR is the path the code image is written to.
type Credits struct {
	Input  string `yaml:"input"`
	Output string `yaml:"output"`
	Script string `yaml:"script"`
	QR     string `yaml:"qr"`
}

// Offset returns the configured outro frame offset.
func (o Outro) Offset() int {
	if o.FrameOffset == nil {
		return DefaultFrameOffset
	}
	return *o.FrameOffset
}

const (
	DefaultFPS         = 30
	DefaultWidth       = 1280
	DefaultHeight      = 720
	DefaultMaskKernel  = 15
	DefaultGOP         = 10000
	DefaultFrameOffset = -1
	DefaultTagOffset   = 5
)

// Load reads a YAML config file and applies defaults.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return Parse(data)
}

func Parse(data []byte) (*Config, error) {
	cfg := &Config{}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyDefaults() {
	if c.FPS == 0 {
		c.FPS = DefaultFPS
	}
	if c.Width == 0 {
		c.Width = DefaultWidth
	}
	if c.Height == 0 {
		c.Height = DefaultHeight
	}
	if c.Tempo.BeatsPerBar == 0 {
		c.Tempo.BeatsPerBar = 4
	}
	if c.MaskKernel == 0 {
		c.MaskKernel = DefaultMaskKernel
	}
	if c.Sources.Alternate == "" {
		c.Sources.Alternate = c.Sources.Primary
	}
	if c.Glitch.Marker == "" {
		c.Glitch.Marker = "30306463"
	}
	if c.Glitch.IntraTag == "" {
		c.Glitch.IntraTag = "0001B0"
	}
	if c.Glitch.InterTag == "" {
		c.Glitch.InterTag = "0001B6"
	}
	if c.Motion.Mode == "" {
		c.Motion.Mode = "add"
	}
	if c.Motion.GOP == 0 {
		c.Motion.GOP = DefaultGOP
	}
	if c.Render.Frames == "" {
		c.Render.Frames = c.Outro.Output
	}
	if c.Credits.Input == "" {
		c.Credits.Input = c.Render.Output
	}
	for i := range c.Timeline.Interleave {
		if c.Timeline.Interleave[i].Burst == 0 {
			c.Timeline.Interleave[i].Burst = 1
		}
	}
}

// Validate checks geometry and timeline consistency.
func (c *Config) Validate() error {
	if c.Width <= 0 || c.Height <= 0 {
		return fmt.Errorf("%w: frame size %dx%d", ErrInvalid, c.Width, c.Height)
	}
	if c.FPS <= 0 {
		return fmt.Errorf("%w: fps %d", ErrInvalid, c.FPS)
	}
	if c.Tempo.BPM < 0 {
		return fmt.Errorf("%w: bpm %f", ErrInvalid, c.Tempo.BPM)
	}
	if c.Glitch.Offset() < 0 {
		return fmt.Errorf("%w: glitch tag offset %d", ErrInvalid, c.Glitch.Offset())
	}
	if c.Glitch.StartFrame < 0 {
		return fmt.Errorf("%w: glitch start frame %d", ErrInvalid, c.Glitch.StartFrame)
	}
	switch c.Motion.Mode {
	case "add", "replace":
	default:
		return fmt.Errorf("%w: motion mode %q", ErrInvalid, c.Motion.Mode)
	}
	for name, dir := range c.Sources.Backgrounds {
		if dir == "" {
			return fmt.Errorf("%w: background %q has no directory", ErrInvalid, name)
		}
	}
	return c.Timeline.Validate(c.Sources.Backgrounds)
}

// Signal renders a signal spec with this config's clock.
func (c *Config) Signal(s signal.Spec, regionFrames int) ([]float64, error) {
	return s.Materialize(c.FPS, c.Tempo.BarSeconds(), regionFrames)
}
