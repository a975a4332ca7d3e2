package effects

import (
	"fmt"
	"image"
	"os"
	"strings"

	"github.com/disintegration/imaging"
	"github.com/skip2/go-qrcode"
	"gopkg.in/yaml.v3"
)

// QR places a scannable code on the credits.
type QR struct {
	Content string  `yaml:"content"`
	Size    int     `yaml:"size"`
	X       string  `yaml:"x"`
	Y       string  `yaml:"y"`
	Start   float64 `yaml:"start"`
	End     float64 `yaml:"end"`
}

// Credits is the title and credit card script burned onto the final cut.
type Credits struct {
	Titles []TextEffect `yaml:"titles"`
	QR     *QR          `yaml:"qr"`
}

func ReadCredits(path string) (*Credits, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var c Credits
	if err := yaml.Unmarshal(data, &c); err != nil {
		return nil, err
	}
	return &c, nil
}

func WriteCredits(c *Credits, path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}

// Chain joins every title's filters into one filter chain.
func (c *Credits) Chain() (string, error) {
	var parts []string
	for i := range c.Titles {
		f, err := c.Titles[i].GenerateFilter()
		if err != nil {
			return "", fmt.Errorf("title %d: %w", i, err)
		}
		parts = append(parts, f)
	}
	return strings.Join(parts, ","), nil
}

// CreditsQR renders content as a square QR code image of size pixels.
func CreditsQR(content string, size int) (image.Image, error) {
	q, err := qrcode.New(content, qrcode.Medium)
	if err != nil {
		return nil, fmt.Errorf("qr code: %w", err)
	}
	return q.Image(size), nil
}

// Write renders the code and saves it; the format follows path's extension.
func (q *QR) Write(path string) error {
	size := q.Size
	if size <= 0 {
		size = 256
	}
	img, err := CreditsQR(q.Content, size)
	if err != nil {
		return err
	}
	return imaging.Save(img, path)
}

// ExampleCredits is the starting point written by the CLI's credits template.
func ExampleCredits() *Credits {
	return &Credits{
		Titles: []TextEffect{
			{
				Lines:    []string{"ARTIST", "Song Title"},
				FontSize: 64,
				Color:    "white",
				X:        "(w-text_w)/2",
				Y:        "h/3",
				Start:    1,
				End:      6,
				FadeIn:   1,
				FadeOut:  1,
				GreyFade: &GreyFade{From: 255, To: 128},
			},
		},
		QR: &QR{Content: "https://example.com", Size: 256, Start: 2, End: 6},
	}
}

// Args builds the ffmpeg arguments that burn the credits onto in. qrPath is
// only used when the credits carry a QR code.
func (c *Credits) Args(in, out, qrPath string) ([]string, error) {
	chain, err := c.Chain()
	if err != nil {
		return nil, err
	}
	args := []string{"-y", "-i", in}

	graph := "[0:v]"
	if chain != "" {
		graph += chain
	} else {
		graph += "null"
	}
	if q := c.QR; q != nil {
		args = append(args, "-i", qrPath)
		x, y := q.X, q.Y
		if x == "" {
			x = "W-w-40"
		}
		if y == "" {
			y = "H-h-40"
		}
		overlay := fmt.Sprintf("overlay=x=%s:y=%s", x, y)
		if q.End > q.Start {
			overlay += fmt.Sprintf(":enable='between(t,%s,%s)'", num(q.Start), num(q.End))
		}
		graph += "[titled];[titled][1:v]" + overlay
	}
	graph += "[v]"

	args = append(args,
		"-filter_complex", graph,
		"-map", "[v]",
		"-map", "0:a?",
		"-c:a", "copy",
		out,
	)
	return args, nil
}
