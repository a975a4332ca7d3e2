package video

import (
	"context"
	"strconv"
)

// FFglitch implements motion.Codec with ffgac and ffedit.
type FFglitch struct {
	Encoder Tool
	Editor  Tool
}

func NewFFglitch() *FFglitch {
	return &FFglitch{Encoder: FFgac, Editor: FFedit}
}

func encodeArgs(in, out string, gop int) []string {
	return []string{
		"-i", in,
		"-an",
		"-mpv_flags", "+nopimb+forcemv",
		"-qscale:v", "0",
		"-g", strconv.Itoa(gop),
		"-vcodec", "mpeg2video",
		"-f", "rawvideo",
		"-y", out,
	}
}

// Encode writes a raw mpeg2 stream with forced motion vectors and no
// B-frames.
func (f *FFglitch) Encode(ctx context.Context, in, out string, gop int) error {
	return f.Encoder.Run(ctx, encodeArgs(in, out, gop)...)
}

func (f *FFglitch) Export(ctx context.Context, in, doc string) error {
	return f.Editor.Run(ctx, "-i", in, "-f", "mv:0", "-e", doc)
}

func (f *FFglitch) Apply(ctx context.Context, in, doc, out string) error {
	return f.Editor.Run(ctx, "-i", in, "-f", "mv", "-a", doc, "-o", out)
}
