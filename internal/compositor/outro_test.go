package compositor

import (
	"context"
	"image/color"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ivlev/shadowmosh/internal/frame"
	"github.com/ivlev/shadowmosh/internal/mask"
)

type constStore struct{ v float32 }

func (s constStore) Load(int) (*mask.Matte, error) {
	return mask.Filled(testW, testH, s.v), nil
}

func newTestOutro(t *testing.T) (*Outro, *frame.Sequence) {
	t.Helper()
	dir := t.TempDir()
	dancers := writeSeq(t, filepath.Join(dir, "dancers"), 20, func(i int) color.RGBA { return color.RGBA{R: uint8(i), A: 255} })
	glitch := writeSeq(t, filepath.Join(dir, "glitch"), 7, func(int) color.RGBA { return color.RGBA{B: 200, A: 255} })
	backdrop := writeSeq(t, filepath.Join(dir, "backdrop"), 8, func(i int) color.RGBA { return color.RGBA{G: uint8(10 * i), A: 255} })
	out := frame.NewSequence(filepath.Join(dir, "out"))

	o, err := NewOutro(OutroParams{
		SourceStart:  10,
		FrameOffset:  -1,
		FadeInEnd:    3,
		FadeOutStart: 4,
		FadeOutEnd:   6,
		BlendStart:   5,
	}, dancers, glitch, backdrop, out, constStore{v: 1})
	require.NoError(t, err)
	return o, out
}

func TestOutroRamps(t *testing.T) {
	o, out := newTestOutro(t)

	var mu sync.Mutex
	seen := map[int]Outcome{}
	require.NoError(t, o.Run(context.Background(), 3, func(r Result) {
		mu.Lock()
		seen[r.Index] = r.Outcome
		mu.Unlock()
	}))

	n, err := out.Count()
	require.NoError(t, err)
	assert.Equal(t, 7, n)
	assert.Len(t, seen, 7)
	assert.Equal(t, Passthrough, seen[5])
	assert.Equal(t, Composited, seen[0])

	// Fade-in starts fully transparent.
	assert.Equal(t, color.RGBA{G: 10, A: 255}, pixel(t, out, 1))
	// Half way through the fade-in.
	assert.Equal(t, color.RGBA{R: 5, G: 10, A: 255}, pixel(t, out, 2))
	// Fully visible dancer, shifted by the frame offset.
	assert.Equal(t, color.RGBA{R: 12, A: 255}, pixel(t, out, 3))
	// Faded out entirely at the last ramp frame.
	assert.Equal(t, color.RGBA{G: 50, A: 255}, pixel(t, out, 5))
	// Backdrop copied after the fade-out.
	assert.Equal(t, color.RGBA{G: 60, A: 255}, pixel(t, out, 6))
}

func TestOutroRejectsBadRamps(t *testing.T) {
	_, err := NewOutro(OutroParams{FadeOutStart: 10, FadeOutEnd: 5}, nil, nil, nil, nil, constStore{})
	assert.Error(t, err)
}

func TestOutroMissingDancerFails(t *testing.T) {
	o, _ := newTestOutro(t)
	o.params.SourceStart = 100
	err := o.Run(context.Background(), 2, nil)
	assert.ErrorIs(t, err, ErrMissingFrame)
}
