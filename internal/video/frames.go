package video

import (
	"context"
	"fmt"
	"image"
	"os"
	"path/filepath"
	"strconv"

	vidio "github.com/AlexEidt/Vidio"
	"github.com/sirupsen/logrus"

	"github.com/ivlev/shadowmosh/internal/frame"
	"github.com/ivlev/shadowmosh/internal/system"
)

// GlitchArgs encodes a frame sequence as an xvid AVI with a long GOP and
// a fixed quantizer, the layout stream surgery expects.
func GlitchArgs(pattern string, fps int, out string) []string {
	return []string{
		"-y",
		"-framerate", strconv.Itoa(fps),
		"-i", pattern,
		"-an",
		"-c:v", "libxvid",
		"-q:v", "1",
		"-g", "1000",
		"-qmin", "1",
		"-qmax", "1",
		"-flags", "qpel+mv4",
		out,
	}
}

// EncodeGlitchInput encodes seq into out.
func EncodeGlitchInput(ctx context.Context, seq *frame.Sequence, fps int, out string) error {
	pattern := filepath.Join(seq.Dir, "%06d"+seq.Ext)
	return FFmpeg.Run(ctx, GlitchArgs(pattern, fps, out)...)
}

// Expand decodes path and writes frames from skip onwards into dst,
// numbered from 1. It returns the number of frames written. Frames go to a
// sibling ".part" directory that replaces dst.Dir only after the last
// frame, so dst.Dir never holds a partial sequence.
func Expand(ctx context.Context, path string, skip int, dst *frame.Sequence) (int, error) {
	v, err := vidio.NewVideo(path)
	if err != nil {
		return 0, fmt.Errorf("open %s: %w", path, err)
	}
	defer v.Close()

	staging := &frame.Sequence{Dir: dst.Dir + ".part", Ext: dst.Ext}
	if err := os.RemoveAll(staging.Dir); err != nil {
		return 0, err
	}
	if err := staging.MkdirAll(); err != nil {
		return 0, err
	}
	written, err := expandInto(ctx, v, skip, staging)
	if err != nil {
		return written, err
	}
	if err := os.RemoveAll(dst.Dir); err != nil {
		return written, err
	}
	if err := os.Rename(staging.Dir, dst.Dir); err != nil {
		return written, err
	}
	logrus.WithField("stage", "expand").Infof("[+] %s: %d frames into %s", path, written, dst.Dir)
	return written, nil
}

func expandInto(ctx context.Context, v *vidio.Video, skip int, dst *frame.Sequence) (int, error) {
	w, h := v.Width(), v.Height()
	img := &image.RGBA{Stride: 4 * w, Rect: image.Rect(0, 0, w, h)}
	read, written := 0, 0
	for v.Read() {
		if err := ctx.Err(); err != nil {
			return written, err
		}
		read++
		if read <= skip {
			continue
		}
		img.Pix = v.FrameBuffer()
		written++
		if err := dst.Write(written, img); err != nil {
			return written, err
		}
	}
	return written, nil
}

// Render encodes frames 1..n of seq into an ordinary video file.
func Render(ctx context.Context, seq *frame.Sequence, n int, fps int, out string) error {
	if n <= 0 {
		return fmt.Errorf("render %s: no frames", seq.Dir)
	}
	first, err := seq.Read(1)
	if err != nil {
		return err
	}
	w, h := first.Rect.Dx(), first.Rect.Dy()
	writer, err := vidio.NewVideoWriter(out, w, h, &vidio.Options{FPS: float64(fps), Codec: system.BestH264Encoder()})
	if err != nil {
		return fmt.Errorf("open writer %s: %w", out, err)
	}
	defer writer.Close()

	for i := 1; i <= n; i++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		img := first
		if i > 1 {
			if img, err = seq.Read(i); err != nil {
				return err
			}
		}
		if img.Rect.Dx() != w || img.Rect.Dy() != h {
			return fmt.Errorf("frame %d is %v, want %dx%d", i, img.Rect.Size(), w, h)
		}
		werr := writer.Write(img.Pix)
		system.PutImage(img)
		if werr != nil {
			return fmt.Errorf("write frame %d: %w", i, werr)
		}
	}
	return nil
}
