package engine

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/color"
	"os"
	"path/filepath"
	"testing"

	"github.com/disintegration/imaging"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ivlev/shadowmosh/internal/config"
	"github.com/ivlev/shadowmosh/internal/frame"
)

func TestParseStages(t *testing.T) {
	tests := []struct {
		in   string
		want []string
	}{
		{"", Stages},
		{"all", Stages},
		{"outro", []string{StageOutro}},
		{"motion, interweave,motion", []string{StageInterweave, StageMotion}},
		{"credits,,render", []string{StageRender, StageCredits}},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseStages(tt.in)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}

	_, err := ParseStages("interweave,zoom")
	assert.ErrorIs(t, err, ErrUnknownStage)
}

func TestParseStagesDoesNotAliasStages(t *testing.T) {
	got, err := ParseStages("")
	require.NoError(t, err)
	got[0] = "changed"
	assert.Equal(t, StageInterweave, Stages[0])
}

func writeFrames(t *testing.T, dir string, n int, img image.Image) {
	t.Helper()
	require.NoError(t, os.MkdirAll(dir, 0755))
	seq := frame.NewSequence(dir)
	for i := 1; i <= n; i++ {
		require.NoError(t, imaging.Save(img, seq.Path(i)))
	}
}

func solid(w, h int, c color.RGBA) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for p := 0; p < len(img.Pix); p += 4 {
		img.Pix[p], img.Pix[p+1], img.Pix[p+2], img.Pix[p+3] = c.R, c.G, c.B, c.A
	}
	return img
}

func white(w, h int) *image.Gray {
	img := image.NewGray(image.Rect(0, 0, w, h))
	for i := range img.Pix {
		img.Pix[i] = 255
	}
	return img
}

func loadConfig(t *testing.T, root, extra string) *config.Config {
	t.Helper()
	yml := fmt.Sprintf(`
width: 4
height: 2
fps: 30
sources:
  primary: %[1]s/primary
  masks: %[1]s/masks
  output: %[1]s/out
metrics_path: %[1]s/shadowmosh.prom
%[2]s`, root, extra)
	cfg, err := config.Parse([]byte(yml))
	require.NoError(t, err)
	return cfg
}

func TestInterweaveStage(t *testing.T) {
	root := t.TempDir()
	writeFrames(t, filepath.Join(root, "primary"), 3, solid(4, 2, color.RGBA{200, 10, 10, 255}))
	writeFrames(t, filepath.Join(root, "masks"), 3, white(4, 2))

	p := NewProject(loadConfig(t, root, ""))
	require.NoError(t, p.Run(context.Background(), []string{StageInterweave}))

	out := frame.NewSequence(filepath.Join(root, "out"))
	n, err := out.Count()
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	img, err := out.Read(2)
	require.NoError(t, err)
	assert.Equal(t, color.RGBA{200, 10, 10, 255}, img.RGBAAt(1, 1))

	data, err := os.ReadFile(filepath.Join(root, "shadowmosh.prom"))
	require.NoError(t, err)
	assert.Contains(t, string(data), `shadowmosh_frames_total{outcome="composited",stage="interweave"} 3`)

	// A second run finds the output and leaves it alone.
	again := NewProject(loadConfig(t, root, ""))
	require.NoError(t, again.Run(context.Background(), []string{StageInterweave}))
	data, err = os.ReadFile(filepath.Join(root, "shadowmosh.prom"))
	require.NoError(t, err)
	assert.NotContains(t, string(data), `stage="interweave"} 3`)
}

func TestInterweaveMissingMaskFails(t *testing.T) {
	root := t.TempDir()
	writeFrames(t, filepath.Join(root, "primary"), 2, solid(4, 2, color.RGBA{1, 2, 3, 255}))
	require.NoError(t, os.MkdirAll(filepath.Join(root, "masks"), 0755))

	p := NewProject(loadConfig(t, root, ""))
	err := p.Run(context.Background(), []string{StageInterweave})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "stage interweave")
}

func aviFrame(tag []byte) []byte {
	f := []byte{0, 0, 0, 0, 0}
	f = append(f, tag...)
	return append(f, 'x')
}

func TestIFramesStage(t *testing.T) {
	root := t.TempDir()
	marker := []byte("00dc")
	intra := []byte{0x00, 0x01, 0xB0}
	inter := []byte{0x00, 0x01, 0xB6}
	data := bytes.Join([][]byte{
		[]byte("RIFF\x00\x00\x00\x00AVI LIST"),
		aviFrame(intra),
		aviFrame(inter),
		aviFrame(intra),
		aviFrame(inter),
	}, marker)

	in := filepath.Join(root, "glitch.avi")
	out := filepath.Join(root, "glitch_noi.avi")
	require.NoError(t, os.WriteFile(in, data, 0644))

	cfg := loadConfig(t, root, fmt.Sprintf("glitch:\n  input: %s\n  output: %s\n  start_frame: 2\n", in, out))
	p := NewProject(cfg)
	require.NoError(t, p.Run(context.Background(), []string{StageIFrames}))

	got, err := os.ReadFile(out)
	require.NoError(t, err)
	assert.Len(t, got, len(data))
	assert.Equal(t, 3, bytes.Count(got, aviFrame(inter)))
	assert.Equal(t, 1, bytes.Count(got, aviFrame(intra)))

	text, err := os.ReadFile(cfg.MetricsPath)
	require.NoError(t, err)
	assert.Contains(t, string(text), "shadowmosh_intra_frames_substituted_total 1")
}

func TestUnconfiguredStages(t *testing.T) {
	root := t.TempDir()
	p := NewProject(loadConfig(t, root, ""))
	for _, stage := range []string{StageGlitch, StageMotion, StageOutro, StageRender, StageCredits} {
		err := p.Run(context.Background(), []string{stage})
		assert.ErrorIs(t, err, ErrNotConfigured, stage)
	}
}

// unusedCodec fails the test if a chunk is re-encoded.
type unusedCodec struct{ t *testing.T }

func (c unusedCodec) Encode(context.Context, string, string, int) error {
	c.t.Error("unexpected encode")
	return nil
}

func (c unusedCodec) Export(context.Context, string, string) error {
	c.t.Error("unexpected export")
	return nil
}

func (c unusedCodec) Apply(context.Context, string, string, string) error {
	c.t.Error("unexpected apply")
	return nil
}

func TestMotionStageIgnoresPartialOutputs(t *testing.T) {
	root := t.TempDir()
	a := filepath.Join(root, "a.mpg")
	b := filepath.Join(root, "b.mpg")
	require.NoError(t, os.WriteFile(a, []byte("aa"), 0644))
	require.NoError(t, os.WriteFile(b, []byte("bb"), 0644))

	concat := filepath.Join(root, "all.mpg")
	frames := filepath.Join(root, "frames")
	// Leftovers of an interrupted run.
	require.NoError(t, os.WriteFile(concat+".part", []byte("a"), 0644))
	writeFrames(t, frames+".part", 1, solid(4, 2, color.RGBA{A: 255}))

	extra := fmt.Sprintf(`motion:
  chunks:
    - {donor: d0, target: t0, output: %s}
    - {donor: d1, target: t1, output: %s}
  concat: %s
  frames: %s
`, a, b, concat, frames)
	p := NewProject(loadConfig(t, root, extra))
	p.Codec = unusedCodec{t}

	// The joined file is not a decodable video, so expanding must fail
	// instead of accepting the partial frame directory.
	err := p.Run(context.Background(), []string{StageMotion})
	require.Error(t, err)

	data, rerr := os.ReadFile(concat)
	require.NoError(t, rerr)
	assert.Equal(t, "aabb", string(data))
	assert.NoFileExists(t, concat+".part")
	assert.NoDirExists(t, frames)
}
