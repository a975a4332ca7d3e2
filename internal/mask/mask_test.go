package mask

import (
	"bytes"
	"errors"
	"image"
	"image/color"
	"os"
	"path/filepath"
	"testing"

	"github.com/disintegration/imaging"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func randomFrame(w, h int, seed uint8) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for i := range img.Pix {
		if i%4 == 3 {
			img.Pix[i] = 0xff
			continue
		}
		img.Pix[i] = uint8(i*31) + seed
	}
	return img
}

func TestComposeExactOnBinaryMattes(t *testing.T) {
	fg := randomFrame(7, 5, 3)
	bg := randomFrame(7, 5, 101)
	dst := image.NewRGBA(fg.Rect)

	require.NoError(t, Compose(dst, fg, bg, Filled(7, 5, 1)))
	assert.Equal(t, fg.Pix, dst.Pix)

	require.NoError(t, Compose(dst, fg, bg, Filled(7, 5, 0)))
	assert.Equal(t, bg.Pix, dst.Pix)
}

func TestComposeOverBlack(t *testing.T) {
	fg := image.NewRGBA(image.Rect(0, 0, 2, 1))
	fg.SetRGBA(0, 0, color.RGBA{200, 100, 50, 255})
	fg.SetRGBA(1, 0, color.RGBA{200, 100, 50, 255})
	m := New(2, 1)
	m.Pix[0] = 0.5
	dst := image.NewRGBA(fg.Rect)

	require.NoError(t, Compose(dst, fg, nil, m))
	assert.Equal(t, color.RGBA{100, 50, 25, 255}, dst.RGBAAt(0, 0))
	assert.Equal(t, color.RGBA{0, 0, 0, 255}, dst.RGBAAt(1, 0))
}

func TestComposeDimensionMismatch(t *testing.T) {
	fg := randomFrame(4, 4, 0)
	err := Compose(image.NewRGBA(fg.Rect), fg, nil, New(3, 4))
	assert.True(t, errors.Is(err, ErrDimension))
}

func TestCrossfade(t *testing.T) {
	a := image.NewRGBA(image.Rect(0, 0, 1, 1))
	b := image.NewRGBA(image.Rect(0, 0, 1, 1))
	a.SetRGBA(0, 0, color.RGBA{255, 0, 101, 255})
	b.SetRGBA(0, 0, color.RGBA{0, 255, 0, 255})
	dst := image.NewRGBA(a.Rect)

	require.NoError(t, Crossfade(dst, a, b, 0.5))
	assert.Equal(t, color.RGBA{128, 128, 51, 255}, dst.RGBAAt(0, 0))

	require.NoError(t, Crossfade(dst, a, b, 1))
	assert.Equal(t, a.Pix, dst.Pix)
}

func TestFade(t *testing.T) {
	last := New(3, 1)
	last.Pix = []float32{0, 0.5, 1}

	out := Fade(last, 0)
	assert.InDeltaSlice(t, []float32{0, 0.25, 1}, out.Pix, 1e-6)

	out = Fade(last, 1)
	assert.InDeltaSlice(t, []float32{1, 1, 1}, out.Pix, 1e-6)

	out = Fade(last, 0.3)
	// 0.5*0.8 + 0.3*0.5
	assert.InDelta(t, 0.55, out.Pix[1], 1e-6)
	assert.InDelta(t, 0.3, out.Pix[0], 1e-6)
}

func TestTrailBound(t *testing.T) {
	tr := NewTrail(4)
	for i := 0; i < 4+3; i++ {
		tr.Push(Filled(1, 1, float32(i)))
	}
	require.Equal(t, 4, tr.Len())
	for k := 0; k < 4; k++ {
		assert.Equal(t, float32(6-k), tr.At(k).Pix[0], "entry %d", k)
	}
}

func TestTrailProject(t *testing.T) {
	tr := NewTrail(4)
	older := New(2, 1)
	older.Pix = []float32{1, 0}
	newer := New(2, 1)
	newer.Pix = []float32{0, 0.5}
	tr.Push(older)
	tr.Push(newer)

	assert.Nil(t, tr.Project(0))

	p := tr.Project(1)
	assert.InDeltaSlice(t, []float32{0, 0.5}, p.Pix, 1e-6)

	p = tr.Project(10)
	assert.InDeltaSlice(t, []float32{0.75, 0.5}, p.Pix, 1e-6)
}

func TestNpyRoundTripAndDecode(t *testing.T) {
	m := New(3, 2)
	m.Pix = []float32{0, 0.25, 0.5, 0.75, 1, 0.125}
	var buf bytes.Buffer
	require.NoError(t, EncodeNpy(&buf, m))
	assert.Zero(t, (buf.Len()-3*2*4)%64, "data is 64 byte aligned")

	got, err := DecodeNpy(&buf)
	require.NoError(t, err)
	assert.Equal(t, m, got)

	_, err = DecodeNpy(bytes.NewReader([]byte("not an array")))
	assert.True(t, errors.Is(err, ErrNpy))
}

func npyHeader(header string) []byte {
	data := []byte("\x93NUMPY\x01\x00")
	data = append(data, byte(len(header)), byte(len(header)>>8))
	return append(data, header...)
}

func TestNpyRejectsBadShapes(t *testing.T) {
	for _, shape := range []string{"(-1, 4)", "(0, 4)", "(4611686018427387904, 4611686018427387904)", "(3, 2, 2)"} {
		t.Run(shape, func(t *testing.T) {
			header := "{'descr': '<f4', 'fortran_order': False, 'shape': " + shape + ", }\n"
			_, err := DecodeNpy(bytes.NewReader(npyHeader(header)))
			assert.ErrorIs(t, err, ErrNpy)
		})
	}
}

func writeNpy(t *testing.T, dir string, index int, m *Matte) {
	t.Helper()
	f, err := os.Create(filepath.Join(dir, indexName(index, ".npy")))
	require.NoError(t, err)
	defer f.Close()
	require.NoError(t, EncodeNpy(f, m))
}

func indexName(i int, ext string) string {
	return (&FileStore{}).path(i, ext)
}

func TestFileStoreFormats(t *testing.T) {
	dir := t.TempDir()
	writeNpy(t, dir, 1, Filled(4, 3, 1))

	gray := image.NewGray(image.Rect(0, 0, 4, 3))
	for i := range gray.Pix {
		gray.Pix[i] = 51
	}
	require.NoError(t, imaging.Save(gray, filepath.Join(dir, "000002.png")))

	store := &FileStore{Dir: dir, Width: 4, Height: 3}
	m, err := store.Load(1)
	require.NoError(t, err)
	assert.InDeltaSlice(t, Filled(4, 3, 1).Pix, m.Pix, 1e-6)

	m, err = store.Load(2)
	require.NoError(t, err)
	assert.InDelta(t, 0.2, m.Pix[5], 1e-6)

	_, err = store.Load(3)
	assert.True(t, errors.Is(err, ErrNotFound))
}

func TestFileStoreDimensions(t *testing.T) {
	dir := t.TempDir()
	writeNpy(t, dir, 1, Filled(2, 2, 1))

	_, err := (&FileStore{Dir: dir, Width: 4, Height: 4}).Load(1)
	assert.True(t, errors.Is(err, ErrDimension))

	m, err := (&FileStore{Dir: dir, Width: 4, Height: 4, Resize: true}).Load(1)
	require.NoError(t, err)
	assert.Equal(t, 4, m.Width)
	assert.Equal(t, 4, m.Height)
}

func TestFileStoreBlurKeepsFlatMatte(t *testing.T) {
	dir := t.TempDir()
	writeNpy(t, dir, 1, Filled(16, 16, 1))
	m, err := (&FileStore{Dir: dir, Blur: 2}).Load(1)
	require.NoError(t, err)
	assert.InDelta(t, 1, m.At(8, 8), 1e-6)
}

func TestBoxBlur(t *testing.T) {
	src := image.NewGray(image.Rect(0, 0, 5, 1))
	copy(src.Pix, []uint8{0, 0, 90, 0, 0})

	// A 3 wide window over a single row still spans three mirrored rows.
	got := BoxBlur(src, 3)
	assert.Equal(t, []uint8{0, 30, 30, 30, 0}, got.Pix)

	edge := image.NewGray(image.Rect(0, 0, 4, 1))
	copy(edge.Pix, []uint8{90, 0, 0, 0})
	// Left of x=0 mirrors x=1, so the edge pixel averages 0, 90, 0.
	assert.Equal(t, []uint8{30, 30, 0, 0}, BoxBlur(edge, 3).Pix)

	flat := image.NewGray(image.Rect(0, 0, 20, 20))
	for i := range flat.Pix {
		flat.Pix[i] = 200
	}
	for _, v := range BoxBlur(flat, 15).Pix {
		assert.Equal(t, uint8(200), v)
	}
}

func TestFileStoreBoxKernel(t *testing.T) {
	dir := t.TempDir()
	gray := image.NewGray(image.Rect(0, 0, 3, 3))
	gray.Pix[4] = 255
	require.NoError(t, imaging.Save(gray, filepath.Join(dir, "000001.png")))

	m, err := (&FileStore{Dir: dir, Kernel: 3}).Load(1)
	require.NoError(t, err)
	// Mirroring counts the centre four times in corner windows and twice
	// in edge windows.
	want := []float64{113, 57, 113, 57, 28, 57, 113, 57, 113}
	for i, v := range m.Pix {
		assert.InDelta(t, want[i]/255, v, 1e-6, "pixel %d", i)
	}
}

type mapStore map[int]*Matte

func (s mapStore) Load(i int) (*Matte, error) {
	if m, ok := s[i]; ok {
		return m, nil
	}
	return nil, ErrNotFound
}

func TestStickyFallback(t *testing.T) {
	store := mapStore{
		1: Filled(1, 1, 0.1),
		2: Filled(1, 1, 0.2),
		5: Filled(1, 1, 0.5),
	}
	sticky := NewSticky(store)

	_, _, err := sticky.Lookup(0)
	assert.True(t, errors.Is(err, ErrNoMask))

	tests := []struct {
		index    int
		want     *Matte
		fallback bool
	}{
		{1, store[1], false},
		{2, store[2], false},
		{3, store[2], true},
		{4, store[2], true},
		{5, store[5], false},
		{6, store[5], true},
	}
	for _, tt := range tests {
		m, fallback, err := sticky.Lookup(tt.index)
		require.NoError(t, err)
		assert.Same(t, tt.want, m, "index %d", tt.index)
		assert.Equal(t, tt.fallback, fallback, "index %d", tt.index)
	}
}
