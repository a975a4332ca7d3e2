package effects

import (
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		effect  TextEffect
		wantErr bool
	}{
		{"plain", TextEffect{Lines: []string{"hi"}}, false},
		{"no text", TextEffect{}, true},
		{"grey out of range", TextEffect{Lines: []string{"x"}, End: 2, GreyFade: &GreyFade{From: 0, To: 256}}, true},
		{"negative grey", TextEffect{Lines: []string{"x"}, End: 2, GreyFade: &GreyFade{From: -1, To: 3}}, true},
		{"grey without end", TextEffect{Lines: []string{"x"}, GreyFade: &GreyFade{From: 0, To: 16}}, true},
		{"end before start", TextEffect{Lines: []string{"x"}, Start: 5, End: 4}, true},
		{"fade out without end", TextEffect{Lines: []string{"x"}, FadeOut: 1}, true},
		{"grey and random", TextEffect{Lines: []string{"x"}, End: 2, GreyFade: &GreyFade{To: 5}, RandomColor: true}, true},
		{"full", TextEffect{Lines: []string{"x"}, Start: 1, End: 2, FadeIn: 0.5, FadeOut: 0.5, GreyFade: &GreyFade{From: 16, To: 255}}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.effect.Validate()
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrEffect)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestGenerateFilterFades(t *testing.T) {
	e := TextEffect{
		Lines:    []string{"presents"},
		Font:     "Avenir Next",
		FontSize: 80,
		Color:    "0xA0A0A0",
		X:        "(w-text_w)/2",
		Y:        "100",
		Start:    5,
		End:      15,
		FadeIn:   1,
		FadeOut:  1,
	}
	f, err := e.GenerateFilter()
	require.NoError(t, err)
	assert.Equal(t,
		"drawtext=enable='between(t,5,15)':text=presents:font='Avenir Next':fontsize=80:fontcolor=0xA0A0A0:"+
			"x=(w-text_w)/2:y=100:alpha='if(lt(t,6), (t-5)/1, if(gte(t,14), (15-t)/1, 1))'",
		f)
}

func TestGenerateFilterGreyFadeAndMotion(t *testing.T) {
	e := TextEffect{
		Lines:    []string{"SHADOW"},
		FontSize: 200,
		X:        "(w-text_w)/2",
		Y:        "350",
		Start:    7,
		End:      15,
		GreyFade: &GreyFade{From: 0, To: 16},
		Position: &PositionDelta{X: 100, Y: 25, FontSize: 50},
	}
	f, err := e.GenerateFilter()
	require.NoError(t, err)
	assert.Contains(t, f, `fontcolor_expr='0x%{eif\:floor(0+(t-7)/8*16)*65793\:x\:6}'`)
	assert.Contains(t, f, "fontsize='200 + (t-7)/8*50'")
	assert.Contains(t, f, "x='(w-text_w)/2 + (t-7)/8*100'")
	assert.Contains(t, f, "y='350 + (t-7)/8*25'")
}

func TestGenerateFilterStacksLines(t *testing.T) {
	e := TextEffect{Lines: []string{"one", "two", "three"}, FontSize: 40, Y: "10", RandomColor: true}
	f, err := e.GenerateFilter()
	require.NoError(t, err)
	parts := strings.Split(f, ",drawtext=")
	require.Len(t, parts, 3)
	assert.Contains(t, parts[0], "y=10")
	assert.Contains(t, parts[1], "y='10 + 40'")
	assert.Contains(t, parts[2], "y='10 + 80'")
	assert.Contains(t, parts[0], "rand(0,16777215)")
}

func TestExampleCreditsRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "credits.yaml")
	require.NoError(t, WriteCredits(ExampleCredits(), path))
	c, err := ReadCredits(path)
	require.NoError(t, err)
	assert.Equal(t, ExampleCredits(), c)

	chain, err := c.Chain()
	require.NoError(t, err)
	assert.Contains(t, chain, "drawtext")
}

func TestCreditsArgsAndQR(t *testing.T) {
	dir := t.TempDir()
	c := &Credits{
		Titles: []TextEffect{{Lines: []string{"fin"}, Start: 1, End: 2}},
		QR:     &QR{Content: "https://example.com/source", Size: 128, Start: 1, End: 3},
	}
	path := filepath.Join(dir, "credits.yaml")
	require.NoError(t, WriteCredits(c, path))
	read, err := ReadCredits(path)
	require.NoError(t, err)
	assert.Equal(t, c, read)

	qrPath := filepath.Join(dir, "qr.png")
	require.NoError(t, c.QR.Write(qrPath))
	assert.FileExists(t, qrPath)

	img, err := CreditsQR(c.QR.Content, 128)
	require.NoError(t, err)
	assert.Equal(t, 128, img.Bounds().Dx())

	args, err := c.Args("in.mp4", "out.mp4", qrPath)
	require.NoError(t, err)
	assert.Equal(t, "out.mp4", args[len(args)-1])
	assert.Contains(t, args, qrPath)
	var graph string
	for i, a := range args {
		if a == "-filter_complex" {
			graph = args[i+1]
		}
	}
	assert.True(t, strings.HasPrefix(graph, "[0:v]drawtext="))
	assert.Contains(t, graph, "[titled][1:v]overlay=x=W-w-40:y=H-h-40:enable='between(t,1,3)'[v]")
}

func TestCreditsChainReportsBadTitle(t *testing.T) {
	c := &Credits{Titles: []TextEffect{{Lines: []string{"ok"}}, {}}}
	_, err := c.Chain()
	assert.ErrorIs(t, err, ErrEffect)
}
