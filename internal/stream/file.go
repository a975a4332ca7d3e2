package stream

import (
	"encoding/hex"
	"fmt"
	"os"

	"github.com/sirupsen/logrus"
)

type Options struct {
	Marker     []byte
	Classifier Classifier
	// Start is the first frame index whose intra frames are removed.
	Start int
	// CheckAVI rejects inputs without a RIFF/AVI signature.
	CheckAVI bool
}

// DefaultOptions removes intra frames after start from an xvid AVI.
func DefaultOptions(start int) Options {
	return Options{Marker: DefaultMarker, Classifier: DefaultClassifier(), Start: start, CheckAVI: true}
}

// ParseMarker decodes a hex chunk marker.
func ParseMarker(s string) ([]byte, error) {
	m, err := hex.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("marker %q: %w", s, err)
	}
	if len(m) == 0 {
		return nil, fmt.Errorf("marker is empty")
	}
	return m, nil
}

// Report summarizes one RemoveIntraFrames run.
type Report struct {
	Frames   int
	Replaced []int
	Skipped  bool
}

// RemoveIntraFrames writes in to out with intra frames past opts.Start
// replaced by their predecessor. If out already exists nothing is done.
func RemoveIntraFrames(in, out string, opts Options) (Report, error) {
	if _, err := os.Stat(out); err == nil {
		logrus.WithField("stage", "iframes").Infof("[*] %s exists, skipping", out)
		return Report{Skipped: true}, nil
	}

	data, err := os.ReadFile(in)
	if err != nil {
		return Report{}, fmt.Errorf("read stream: %w", err)
	}
	if opts.CheckAVI {
		if err := CheckAVI(data); err != nil {
			return Report{}, fmt.Errorf("%s: %w", in, err)
		}
	}

	s := Split(data, opts.Marker)
	counts := s.Count(opts.Classifier)
	logrus.WithFields(logrus.Fields{
		"stage":   "iframes",
		"intra":   counts[Intra],
		"inter":   counts[Inter],
		"unknown": counts[Unknown],
	}).Debugf("[*] %s: %d frames", in, len(s.Frames))
	replaced, err := s.SubstituteIntra(opts.Classifier, opts.Start)
	if err != nil {
		return Report{}, err
	}

	tmp := out + ".part"
	if err := os.WriteFile(tmp, s.Bytes(), 0644); err != nil {
		return Report{}, fmt.Errorf("write stream: %w", err)
	}
	if err := os.Rename(tmp, out); err != nil {
		return Report{}, err
	}

	logrus.WithFields(logrus.Fields{"stage": "iframes", "frames": len(s.Frames)}).
		Infof("[+] Removed %d intra frames after frame %d", len(replaced), opts.Start+1)
	return Report{Frames: len(s.Frames), Replaced: replaced}, nil
}
