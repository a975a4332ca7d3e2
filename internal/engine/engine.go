// Package engine runs the music video pipeline stage by stage. Every stage
// reads the previous stage's files from disk and skips itself when its own
// output already exists, so an interrupted run resumes where it stopped.
package engine

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"os"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/ivlev/shadowmosh/internal/compositor"
	"github.com/ivlev/shadowmosh/internal/config"
	"github.com/ivlev/shadowmosh/internal/effects"
	"github.com/ivlev/shadowmosh/internal/frame"
	"github.com/ivlev/shadowmosh/internal/mask"
	"github.com/ivlev/shadowmosh/internal/metrics"
	"github.com/ivlev/shadowmosh/internal/motion"
	"github.com/ivlev/shadowmosh/internal/stream"
	"github.com/ivlev/shadowmosh/internal/system"
	"github.com/ivlev/shadowmosh/internal/timeline"
	"github.com/ivlev/shadowmosh/internal/video"
)

const (
	StageInterweave = "interweave"
	StageGlitch     = "glitch"
	StageIFrames    = "iframes"
	StageMotion     = "motion"
	StageOutro      = "outro"
	StageRender     = "render"
	StageCredits    = "credits"
)

// Stages lists every stage in pipeline order.
var Stages = []string{StageInterweave, StageGlitch, StageIFrames, StageMotion, StageOutro, StageRender, StageCredits}

var (
	ErrUnknownStage  = errors.New("unknown stage")
	ErrNotConfigured = errors.New("stage not configured")

	// ErrFrameCount is returned when a stage boundary check finds a
	// different number of frames than the stage should have produced.
	ErrFrameCount = errors.New("frame count mismatch")
)

// ParseStages turns a comma separated list into stages in pipeline order.
// An empty list or "all" selects every stage.
func ParseStages(list string) ([]string, error) {
	list = strings.TrimSpace(list)
	if list == "" || list == "all" {
		return append([]string(nil), Stages...), nil
	}
	want := map[string]bool{}
	for _, s := range strings.Split(list, ",") {
		s = strings.TrimSpace(s)
		if s == "" {
			continue
		}
		if !known(s) {
			return nil, fmt.Errorf("%w: %q", ErrUnknownStage, s)
		}
		want[s] = true
	}
	var out []string
	for _, s := range Stages {
		if want[s] {
			out = append(out, s)
		}
	}
	return out, nil
}

func known(stage string) bool {
	for _, s := range Stages {
		if s == stage {
			return true
		}
	}
	return false
}

type timing struct {
	stage   string
	elapsed time.Duration
}

type Project struct {
	Config    *config.Config
	Metrics   *metrics.Pipeline
	ShowStats bool

	// Codec performs the motion stage's encodes; nil means FFglitch.
	Codec motion.Codec

	timings []timing
}

func NewProject(cfg *config.Config) *Project {
	return &Project{
		Config:  cfg,
		Metrics: metrics.New(),
	}
}

// Run executes stages in the given order and writes the metrics textfile
// afterwards, also on failure.
func (p *Project) Run(ctx context.Context, stages []string) error {
	startTime := time.Now()
	fmt.Println("--- [SHADOWMOSH] ---")
	fmt.Printf("[*] Frames: %dx%d @ %d FPS | Stages: %s\n",
		p.Config.Width, p.Config.Height, p.Config.FPS, strings.Join(stages, ", "))
	fmt.Println("--------------------")

	err := p.runStages(ctx, stages)

	if p.Config.MetricsPath != "" {
		if werr := p.Metrics.WriteTextfile(p.Config.MetricsPath); werr != nil {
			logrus.Warnf("[!] Cannot write metrics: %v", werr)
		}
	}
	if p.ShowStats {
		p.report(time.Since(startTime))
	}
	return err
}

func (p *Project) runStages(ctx context.Context, stages []string) error {
	for _, stage := range stages {
		run, err := p.stage(stage)
		if err != nil {
			return err
		}
		log := logrus.WithField("stage", stage)
		log.Infof("[*] Stage %s", stage)

		start := time.Now()
		if err := run(ctx); err != nil {
			return fmt.Errorf("stage %s: %w", stage, err)
		}
		elapsed := time.Since(start)
		p.timings = append(p.timings, timing{stage: stage, elapsed: elapsed})
		p.Metrics.ObserveStage(stage, elapsed)
		log.Infof("[+] Stage %s done in %.2fs", stage, elapsed.Seconds())
	}
	return nil
}

func (p *Project) stage(name string) (func(context.Context) error, error) {
	switch name {
	case StageInterweave:
		return p.interweave, nil
	case StageGlitch:
		return p.glitch, nil
	case StageIFrames:
		return p.iframes, nil
	case StageMotion:
		return p.motion, nil
	case StageOutro:
		return p.outro, nil
	case StageRender:
		return p.render, nil
	case StageCredits:
		return p.credits, nil
	}
	return nil, fmt.Errorf("%w: %q", ErrUnknownStage, name)
}

func (p *Project) report(total time.Duration) {
	var b strings.Builder
	b.WriteString("--- [PERFORMANCE REPORT] ---\n")
	for _, t := range p.timings {
		fmt.Fprintf(&b, "%-12s %.2fs\n", t.stage+":", t.elapsed.Seconds())
	}
	fmt.Fprintf(&b, "Total Time: %.2fs\n", total.Seconds())
	b.WriteString("----------------------------\n")
	fmt.Print(b.String())
}

// workers returns the configured worker count or one sized for jobs that
// each hold perWorker bytes.
func (p *Project) workers(perWorker uint64) int {
	if p.Config.Workers > 0 {
		return p.Config.Workers
	}
	return system.DefaultWorkers(perWorker)
}

func sequence(dir string) *frame.Sequence {
	if dir == "" {
		return nil
	}
	return frame.NewSequence(dir)
}

func (p *Project) masks(dir string) mask.Store {
	return &mask.FileStore{
		Dir:    dir,
		Kernel: p.Config.MaskKernel,
		Blur:   p.Config.MaskBlur,
		Width:  p.Config.Width,
		Height: p.Config.Height,
		Resize: p.Config.ResizeMasks,
	}
}

func exists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

func isDir(path string) bool {
	fi, err := os.Stat(path)
	return err == nil && fi.IsDir()
}

func (p *Project) interweave(ctx context.Context) error {
	cfg := p.Config
	src := cfg.Sources
	if src.Primary == "" || src.Output == "" || src.Masks == "" {
		return fmt.Errorf("%w: sources need primary, masks and output", ErrNotConfigured)
	}

	primary := frame.NewSequence(src.Primary)
	total := cfg.TotalFrames
	if total == 0 {
		n, err := primary.Count()
		if err != nil {
			return err
		}
		total = n
	}
	if total == 0 {
		return fmt.Errorf("%w: %s holds no frames", ErrFrameCount, src.Primary)
	}

	output := frame.NewSequence(src.Output)
	if output.Exists(total) {
		logrus.WithField("stage", StageInterweave).Infof("[*] %s already holds %d frames, skipping", src.Output, total)
		return nil
	}

	plan, err := timeline.New(cfg, total, rand.New(rand.NewSource(cfg.Seed)))
	if err != nil {
		return err
	}

	backgrounds := make(map[string]*frame.Sequence, len(src.Backgrounds))
	for name, dir := range src.Backgrounds {
		backgrounds[name] = frame.NewSequence(dir)
	}
	c, err := compositor.New(plan, compositor.Sources{
		Primary:     primary,
		Alternate:   sequence(src.Alternate),
		Secondary:   sequence(src.Secondary),
		Trail:       sequence(src.Trail),
		Backgrounds: backgrounds,
		Masks:       p.masks(src.Masks),
		Output:      output,
	})
	if err != nil {
		return err
	}
	if err := c.Run(ctx, p.Metrics.FrameObserver(StageInterweave)); err != nil {
		return err
	}

	n, err := frame.NewSequence(src.Output).Count()
	if err != nil {
		return err
	}
	if n != total {
		return fmt.Errorf("%w: composited %d frames, expected %d", ErrFrameCount, n, total)
	}
	return nil
}

func (p *Project) glitch(ctx context.Context) error {
	cfg := p.Config
	if cfg.Glitch.Input == "" || cfg.Sources.Output == "" {
		return fmt.Errorf("%w: glitch needs input and sources.output", ErrNotConfigured)
	}
	if exists(cfg.Glitch.Input) {
		logrus.WithField("stage", StageGlitch).Infof("[*] %s exists, skipping", cfg.Glitch.Input)
		return nil
	}
	if err := system.RequireTools("ffmpeg"); err != nil {
		return err
	}
	return video.EncodeGlitchInput(ctx, frame.NewSequence(cfg.Sources.Output), cfg.FPS, cfg.Glitch.Input)
}

func (p *Project) streamOptions() (stream.Options, error) {
	g := p.Config.Glitch
	marker, err := stream.ParseMarker(g.Marker)
	if err != nil {
		return stream.Options{}, err
	}
	c, err := stream.NewClassifier(g.Offset(), g.IntraTag, g.InterTag)
	if err != nil {
		return stream.Options{}, err
	}
	return stream.Options{Marker: marker, Classifier: c, Start: g.StartFrame, CheckAVI: true}, nil
}

func (p *Project) iframes(ctx context.Context) error {
	g := p.Config.Glitch
	if g.Input == "" || g.Output == "" {
		return fmt.Errorf("%w: glitch needs input and output", ErrNotConfigured)
	}
	opts, err := p.streamOptions()
	if err != nil {
		return err
	}
	rep, err := stream.RemoveIntraFrames(g.Input, g.Output, opts)
	if err != nil {
		return err
	}
	p.Metrics.ObserveStream(rep)
	if rep.Skipped {
		return nil
	}

	data, err := os.ReadFile(g.Input)
	if err != nil {
		return err
	}
	if in := len(stream.Split(data, opts.Marker).Frames); in != rep.Frames {
		return fmt.Errorf("%w: stream had %d frames, wrote %d", ErrFrameCount, in, rep.Frames)
	}
	return nil
}

func (p *Project) motion(ctx context.Context) error {
	m := p.Config.Motion
	if len(m.Chunks) == 0 {
		return fmt.Errorf("%w: no motion chunks", ErrNotConfigured)
	}
	mode, err := motion.ParseMode(m.Mode)
	if err != nil {
		return err
	}
	codec := p.Codec
	if codec == nil {
		if err := system.RequireTools("ffgac", "ffedit"); err != nil {
			return err
		}
		codec = video.NewFFglitch()
	}

	chunks := make([]motion.Chunk, len(m.Chunks))
	outputs := make([]string, len(m.Chunks))
	for i, c := range m.Chunks {
		chunks[i] = motion.Chunk{Index: i, Donor: c.Donor, Target: c.Target, Output: c.Output}
		outputs[i] = c.Output
	}

	pipe := &motion.Pipeline{
		Codec:   codec,
		Mode:    mode,
		GOP:     m.GOP,
		WorkDir: m.WorkDir,
		// Each worker runs a full encoder; budget a few hundred frames.
		Workers: p.workers(system.FrameBytes(p.Config.Width, p.Config.Height) * 256),
	}
	results, err := pipe.Run(ctx, chunks)
	if err != nil {
		return err
	}
	p.Metrics.ObserveChunks(results)

	if m.Concat == "" {
		return nil
	}
	if !exists(m.Concat) {
		if err := motion.Concat(outputs, m.Concat); err != nil {
			return err
		}
	}
	if m.Frames == "" {
		return nil
	}
	// Expand only publishes the directory once every frame is written.
	if isDir(m.Frames) {
		logrus.WithField("stage", StageMotion).Infof("[*] %s already expanded, skipping", m.Frames)
		return nil
	}
	_, err = video.Expand(ctx, m.Concat, 0, frame.NewSequence(m.Frames))
	return err
}

func (p *Project) outro(ctx context.Context) error {
	o := p.Config.Outro
	if o.Dancers == "" || o.DancersGlitch == "" || o.Backdrop == "" || o.Masks == "" || o.Output == "" {
		return fmt.Errorf("%w: outro needs dancers, dancers_glitch, backdrop, masks and output", ErrNotConfigured)
	}
	out, err := compositor.NewOutro(compositor.OutroParams{
		SourceStart:  o.SourceStart,
		FrameOffset:  o.Offset(),
		FadeInEnd:    o.FadeInEnd,
		FadeOutStart: o.FadeOutStart,
		FadeOutEnd:   o.FadeOutEnd,
		BlendStart:   o.BlendStart,
	}, frame.NewSequence(o.Dancers), frame.NewSequence(o.DancersGlitch),
		frame.NewSequence(o.Backdrop), frame.NewSequence(o.Output), p.masks(o.Masks))
	if err != nil {
		return err
	}

	n, err := out.Frames()
	if err != nil {
		return err
	}
	if n > 0 && out.Output.Exists(n) {
		logrus.WithField("stage", StageOutro).Infof("[*] %s already holds %d frames, skipping", o.Output, n)
		return nil
	}
	// Six frames in flight per worker: three sources, mask, blend, output.
	workers := p.workers(system.FrameBytes(p.Config.Width, p.Config.Height) * 6)
	return out.Run(ctx, workers, p.Metrics.FrameObserver(StageOutro))
}

func (p *Project) render(ctx context.Context) error {
	r := p.Config.Render
	if r.Frames == "" || r.Output == "" {
		return fmt.Errorf("%w: render needs frames and output", ErrNotConfigured)
	}
	if exists(r.Output) {
		logrus.WithField("stage", StageRender).Infof("[*] %s exists, skipping", r.Output)
		return nil
	}
	if err := system.RequireTools("ffmpeg"); err != nil {
		return err
	}
	seq := frame.NewSequence(r.Frames)
	n, err := seq.Count()
	if err != nil {
		return err
	}
	if enc := system.BestH264Encoder(); enc != "libx264" {
		logrus.WithField("stage", StageRender).Infof("[*] Hardware encoder detected: %s", enc)
	}
	return video.Render(ctx, seq, n, p.Config.FPS, r.Output)
}

func (p *Project) credits(ctx context.Context) error {
	c := p.Config.Credits
	if c.Input == "" || c.Output == "" || c.Script == "" {
		return fmt.Errorf("%w: credits need input, output and script", ErrNotConfigured)
	}
	if exists(c.Output) {
		logrus.WithField("stage", StageCredits).Infof("[*] %s exists, skipping", c.Output)
		return nil
	}
	script, err := effects.ReadCredits(c.Script)
	if err != nil {
		return err
	}
	if err := system.RequireTools("ffmpeg"); err != nil {
		return err
	}
	if len(script.Titles) > 0 && !system.HasFFmpegFilter("drawtext") {
		return fmt.Errorf("ffmpeg lacks the drawtext filter needed for titles")
	}
	if script.QR != nil {
		if c.QR == "" {
			return fmt.Errorf("%w: credits script has a QR code but no qr path", ErrNotConfigured)
		}
		if err := script.QR.Write(c.QR); err != nil {
			return err
		}
	}
	args, err := script.Args(c.Input, c.Output, c.QR)
	if err != nil {
		return err
	}
	return video.FFmpeg.Run(ctx, args...)
}
