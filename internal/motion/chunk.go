package motion

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/ivlev/shadowmosh/internal/pool"
)

// ErrChunkMismatch is returned when donor and target chunks disagree on
// frame count.
var ErrChunkMismatch = errors.New("donor and target chunk frame counts differ")

// Codec is the external encoder/editor pair used to move vectors in and out
// of a bitstream.
type Codec interface {
	// Encode re-encodes in so every frame after the first is predicted,
	// with at most gop frames between intra frames.
	Encode(ctx context.Context, in, out string, gop int) error
	// Export writes the stream's vectors as a JSON document.
	Export(ctx context.Context, in, doc string) error
	// Apply writes in with its vectors replaced by those in doc.
	Apply(ctx context.Context, in, doc, out string) error
}

type Chunk struct {
	Index  int
	Donor  string
	Target string
	Output string
}

type ChunkResult struct {
	Chunk   Chunk
	Stats   Stats
	Skipped bool
	Elapsed time.Duration
}

// Pipeline transplants motion from donor clips onto target clips, one
// independent task per chunk.
type Pipeline struct {
	Codec Codec
	Mode  Mode
	// GOP for the re-encoded target; DonorGOP for the donor.
	GOP      int
	DonorGOP int
	// WorkDir holds per-chunk scratch directories; empty uses the system
	// temp dir.
	WorkDir string
	Workers int
	// Strict rejects chunks whose donor and target frame counts differ.
	Strict bool
}

// RunChunk encodes both clips, transplants the donor's vectors into the
// target and writes c.Output. An existing output is kept as is.
func (p *Pipeline) RunChunk(ctx context.Context, c Chunk, r pool.Reporter) (ChunkResult, error) {
	start := time.Now()
	res := ChunkResult{Chunk: c}
	if _, err := os.Stat(c.Output); err == nil {
		r.Report("skip", c.Output+" exists")
		res.Skipped = true
		return res, nil
	}

	tmp, err := os.MkdirTemp(p.WorkDir, fmt.Sprintf("chunk%d_", c.Index))
	if err != nil {
		return res, err
	}
	defer os.RemoveAll(tmp)

	donorGOP := p.DonorGOP
	if donorGOP <= 0 {
		donorGOP = 1000
	}

	r.Report("donor", "encoding "+c.Donor)
	donor, err := p.export(ctx, c.Donor, filepath.Join(tmp, "donor"), donorGOP)
	if err != nil {
		return res, fmt.Errorf("chunk %d donor: %w", c.Index, err)
	}
	donors := Extract(donor)

	r.Report("target", "encoding "+c.Target)
	targetEnc := filepath.Join(tmp, "target.mpg")
	target, err := p.exportEncoded(ctx, c.Target, targetEnc, filepath.Join(tmp, "target.json"), p.GOP)
	if err != nil {
		return res, fmt.Errorf("chunk %d target: %w", c.Index, err)
	}
	if p.Strict && len(target.Frames) != len(donors) {
		return res, fmt.Errorf("%w: chunk %d has %d target and %d donor frames",
			ErrChunkMismatch, c.Index, len(target.Frames), len(donors))
	}

	res.Stats = TransplantDocument(target, donors, p.Mode)
	edited := filepath.Join(tmp, "edited.json")
	if err := target.WriteFile(edited); err != nil {
		return res, err
	}

	r.Report("apply", fmt.Sprintf("%d blocks in %d frames", res.Stats.Blocks, res.Stats.Frames))
	part := filepath.Join(tmp, "out"+filepath.Ext(c.Output))
	if err := p.Codec.Apply(ctx, targetEnc, edited, part); err != nil {
		return res, fmt.Errorf("chunk %d apply: %w", c.Index, err)
	}
	if err := moveFile(part, c.Output); err != nil {
		return res, err
	}
	res.Elapsed = time.Since(start)
	return res, nil
}

func (p *Pipeline) export(ctx context.Context, in, base string, gop int) (*Document, error) {
	return p.exportEncoded(ctx, in, base+".mpg", base+".json", gop)
}

func (p *Pipeline) exportEncoded(ctx context.Context, in, enc, doc string, gop int) (*Document, error) {
	if err := p.Codec.Encode(ctx, in, enc, gop); err != nil {
		return nil, err
	}
	if err := p.Codec.Export(ctx, enc, doc); err != nil {
		return nil, err
	}
	return ReadFile(doc)
}

// Run processes every chunk on the worker pool. Results are in chunk order.
func (p *Pipeline) Run(ctx context.Context, chunks []Chunk) ([]ChunkResult, error) {
	tasks := make([]pool.Task[ChunkResult], len(chunks))
	for i, c := range chunks {
		tasks[i] = func(ctx context.Context, r pool.Reporter) (ChunkResult, error) {
			return p.RunChunk(ctx, c, r)
		}
	}
	return pool.Run(ctx, tasks, pool.Options{Workers: p.Workers, Name: "motion"})
}

// Concat joins raw elementary stream chunks byte-wise in order. dst only
// appears once every chunk has been written.
func Concat(outputs []string, dst string) error {
	tmp := dst + ".part"
	out, err := os.Create(tmp)
	if err != nil {
		return err
	}
	if err := concatInto(out, outputs); err != nil {
		out.Close()
		os.Remove(tmp)
		return err
	}
	if err := out.Close(); err != nil {
		os.Remove(tmp)
		return err
	}
	if err := os.Rename(tmp, dst); err != nil {
		return err
	}
	logrus.WithField("stage", "motion").Infof("[+] Joined %d chunks into %s", len(outputs), dst)
	return nil
}

func concatInto(w io.Writer, outputs []string) error {
	for _, path := range outputs {
		in, err := os.Open(path)
		if err != nil {
			return err
		}
		_, err = io.Copy(w, in)
		in.Close()
		if err != nil {
			return fmt.Errorf("concat %s: %w", path, err)
		}
	}
	return nil
}

// moveFile renames, falling back to a copy across filesystems.
func moveFile(src, dst string) error {
	if err := os.Rename(src, dst); err == nil {
		return nil
	}
	data, err := os.ReadFile(src)
	if err != nil {
		return err
	}
	if len(data) == 0 {
		return fmt.Errorf("empty chunk output %s", src)
	}
	tmp := dst + ".part"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		os.Remove(tmp)
		return err
	}
	return os.Rename(tmp, dst)
}
