// Package effects builds ffmpeg drawtext filters for the title and credit
// cards, plus the QR code image shown in the credits.
package effects

import (
	"errors"
	"fmt"
	"strings"
)

var ErrEffect = errors.New("invalid text effect")

// GreyFade ramps the font colour between two grey levels over the effect's
// lifetime. Grey levels are 0..255 and map to 0xGGGGGG.
type GreyFade struct {
	From int `yaml:"from"`
	To   int `yaml:"to"`
}

// PositionDelta moves and grows the text linearly over its lifetime.
type PositionDelta struct {
	X        float64 `yaml:"x"`
	Y        float64 `yaml:"y"`
	FontSize float64 `yaml:"font_size"`
}

// TextEffect is one drawtext overlay. Times are in seconds.
type TextEffect struct {
	// Lines are stacked downwards, one font size apart.
	Lines    []string `yaml:"lines"`
	Font     string   `yaml:"font"`
	FontFile string   `yaml:"font_file"`
	Style    string   `yaml:"style"`
	FontSize int      `yaml:"font_size"`
	Color    string   `yaml:"color"`
	X        string   `yaml:"x"`
	Y        string   `yaml:"y"`

	Start   float64 `yaml:"start"`
	End     float64 `yaml:"end"`
	FadeIn  float64 `yaml:"fade_in"`
	FadeOut float64 `yaml:"fade_out"`

	GreyFade    *GreyFade      `yaml:"grey_fade"`
	Position    *PositionDelta `yaml:"position"`
	RandomColor bool           `yaml:"random_color"`

	// Enable replaces the generated timeline condition.
	Enable string `yaml:"enable"`
}

func (e *TextEffect) Validate() error {
	if len(e.Lines) == 0 {
		return fmt.Errorf("%w: no text", ErrEffect)
	}
	if e.Start < 0 || e.End < 0 || e.FadeIn < 0 || e.FadeOut < 0 {
		return fmt.Errorf("%w: negative time", ErrEffect)
	}
	if e.End > 0 && e.End <= e.Start {
		return fmt.Errorf("%w: end %.2f not after start %.2f", ErrEffect, e.End, e.Start)
	}
	if e.FadeOut > 0 && e.End == 0 {
		return fmt.Errorf("%w: fade out needs an end time", ErrEffect)
	}
	if g := e.GreyFade; g != nil {
		for _, v := range []int{g.From, g.To} {
			if v < 0 || v > 255 {
				return fmt.Errorf("%w: grey value %d outside 0..255", ErrEffect, v)
			}
		}
	}
	if (e.GreyFade != nil || e.Position != nil) && e.End == 0 {
		return fmt.Errorf("%w: animated text needs an end time", ErrEffect)
	}
	if e.GreyFade != nil && e.RandomColor {
		return fmt.Errorf("%w: grey fade and random colour both set the font colour", ErrEffect)
	}
	return nil
}

type option struct{ key, value string }

// GenerateFilter returns the drawtext filter(s), comma separated, one per
// line of text.
func (e *TextEffect) GenerateFilter() (string, error) {
	if err := e.Validate(); err != nil {
		return "", err
	}
	filters := make([]string, len(e.Lines))
	for i, line := range e.Lines {
		filters[i] = e.drawtext(line, i)
	}
	return strings.Join(filters, ","), nil
}

func (e *TextEffect) drawtext(text string, line int) string {
	var opts []option
	add := func(k, v string) {
		if v != "" {
			opts = append(opts, option{k, v})
		}
	}

	add("enable", e.enable())
	add("text", text)
	if e.FontFile != "" {
		file := e.FontFile
		if e.Style != "" {
			file += `\:style=` + e.Style
		}
		add("fontfile", file)
	} else if e.Font != "" {
		font := e.Font
		if e.Style != "" {
			font += `\:style=` + e.Style
		}
		add("font", font)
	}

	size := num(float64(e.FontSize))
	x, y := e.X, e.Y
	if y != "" && line > 0 {
		y = fmt.Sprintf("%s + %d", y, e.FontSize*line)
	}
	if p := e.Position; p != nil {
		size = e.change(size, p.FontSize)
		x = e.change(x, p.X)
		y = e.change(y, p.Y)
	}
	if e.FontSize > 0 {
		add("fontsize", size)
	}
	add("fontcolor", e.Color)
	add("x", x)
	add("y", y)
	add("alpha", e.alpha())

	switch {
	case e.RandomColor:
		add("fontcolor_expr", `0x%{eif\:rand(0,16777215)\:x\:6}`)
	case e.GreyFade != nil:
		g := e.GreyFade
		eq := fmt.Sprintf("floor(%d+(t-%s)/%s*%d)*65793", g.From, num(e.Start), num(e.End-e.Start), g.To-g.From)
		add("fontcolor_expr", fmt.Sprintf(`0x%%{eif\:%s\:x\:6}`, eq))
	}

	parts := make([]string, len(opts))
	for i, o := range opts {
		parts[i] = o.key + "=" + quote(o.value)
	}
	return "drawtext=" + strings.Join(parts, ":")
}

func (e *TextEffect) enable() string {
	switch {
	case e.Enable != "":
		return e.Enable
	case e.Start > 0 && e.End > 0:
		return fmt.Sprintf("between(t,%s,%s)", num(e.Start), num(e.End))
	case e.Start > 0:
		return fmt.Sprintf("gte(t,%s)", num(e.Start))
	case e.End > 0:
		return fmt.Sprintf("lt(t,%s)", num(e.End))
	}
	return ""
}

func (e *TextEffect) alpha() string {
	in := fmt.Sprintf("lt(t,%s), (t-%s)/%s", num(e.Start+e.FadeIn), num(e.Start), num(e.FadeIn))
	out := fmt.Sprintf("gte(t,%s), (%s-t)/%s", num(e.End-e.FadeOut), num(e.End), num(e.FadeOut))
	switch {
	case e.FadeIn > 0 && e.FadeOut > 0:
		return fmt.Sprintf("if(%s, if(%s, 1))", in, out)
	case e.FadeIn > 0:
		return fmt.Sprintf("if(%s, 1)", in)
	case e.FadeOut > 0:
		return fmt.Sprintf("if(%s, 1)", out)
	}
	return ""
}

// change animates base linearly by delta between Start and End.
func (e *TextEffect) change(base string, delta float64) string {
	if delta == 0 || base == "" {
		return base
	}
	return fmt.Sprintf("%s + (t-%s)/%s*%s", base, num(e.Start), num(e.End-e.Start), num(delta))
}

func num(v float64) string {
	return strings.TrimSuffix(strings.TrimRight(fmt.Sprintf("%.3f", v), "0"), ".")
}

// quote wraps values that would otherwise break the filter syntax.
func quote(v string) string {
	if strings.ContainsAny(v, ":, ") {
		return "'" + v + "'"
	}
	return v
}
