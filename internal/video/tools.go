// Package video wraps the external encoders the pipeline shells out to:
// ffmpeg for ordinary encodes and the FFglitch pair (ffgac, ffedit) for
// motion vector surgery.
package video

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strings"

	"github.com/sirupsen/logrus"
)

// Tool runs one external binary.
type Tool struct {
	Binary string
	// Quiet adds "-v warning"; Stats additionally asks for progress stats,
	// which ffedit does not understand.
	Quiet bool
	Stats bool
}

var (
	FFmpeg = Tool{Binary: "ffmpeg", Quiet: true, Stats: true}
	FFgac  = Tool{Binary: "ffgac", Quiet: true, Stats: true}
	FFedit = Tool{Binary: "ffedit", Quiet: true}
)

func (t Tool) args(args []string) []string {
	var out []string
	if t.Quiet {
		out = append(out, "-v", "warning")
		if t.Stats {
			out = append(out, "-stats")
		}
	}
	return append(out, args...)
}

// Run executes the tool and returns its combined output in the error on
// failure.
func (t Tool) Run(ctx context.Context, args ...string) error {
	full := t.args(args)
	logrus.WithField("tool", t.Binary).Debugf("[*] %s %s", t.Binary, strings.Join(full, " "))
	cmd := exec.CommandContext(ctx, t.Binary, full...)
	var out bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &out
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("%s error: %w, output: %s", t.Binary, err, out.String())
	}
	return nil
}
