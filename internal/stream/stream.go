// Package stream edits an encoded AVI bitstream at the frame level without
// decoding it: frames are found by their chunk marker and classified by a
// tag at a fixed offset into each frame.
package stream

import (
	"bytes"
	"encoding/hex"
	"errors"
	"fmt"
)

var (
	ErrNoPrecedingFrame = errors.New("intra frame has no preceding frame to substitute")
	ErrNotAVI           = errors.New("not a RIFF/AVI file")
)

// DefaultMarker ends every frame chunk ("00dc").
var DefaultMarker = []byte{0x30, 0x30, 0x64, 0x63}

type FrameType int

const (
	Unknown FrameType = iota
	Intra
	Inter
)

func (t FrameType) String() string {
	switch t {
	case Intra:
		return "intra"
	case Inter:
		return "inter"
	}
	return "unknown"
}

// Stream is a container split into its header and frame payloads. Payloads
// exclude the marker.
type Stream struct {
	Marker []byte
	Header []byte
	Frames [][]byte
}

// Split cuts data on every occurrence of marker. The first piece is the
// header; every following piece is one frame.
func Split(data, marker []byte) *Stream {
	parts := bytes.Split(data, marker)
	return &Stream{Marker: marker, Header: parts[0], Frames: parts[1:]}
}

// Bytes remuxes the stream. Bytes(Split(d, m)) == d.
func (s *Stream) Bytes() []byte {
	size := len(s.Header)
	for _, f := range s.Frames {
		size += len(s.Marker) + len(f)
	}
	var buf bytes.Buffer
	buf.Grow(size)
	buf.Write(s.Header)
	for _, f := range s.Frames {
		buf.Write(s.Marker)
		buf.Write(f)
	}
	return buf.Bytes()
}

// Classifier reads the frame type tag at Offset.
type Classifier struct {
	Offset int
	Intra  []byte
	Inter  []byte
}

// DefaultClassifier matches MPEG-4 part 2 VOP start codes the way the xvid
// encoder lays them out.
func DefaultClassifier() Classifier {
	return Classifier{Offset: 5, Intra: []byte{0x00, 0x01, 0xB0}, Inter: []byte{0x00, 0x01, 0xB6}}
}

// NewClassifier builds a classifier from hex-encoded tags.
func NewClassifier(offset int, intraHex, interHex string) (Classifier, error) {
	intra, err := hex.DecodeString(intraHex)
	if err != nil {
		return Classifier{}, fmt.Errorf("intra tag: %w", err)
	}
	inter, err := hex.DecodeString(interHex)
	if err != nil {
		return Classifier{}, fmt.Errorf("inter tag: %w", err)
	}
	if offset < 0 || len(intra) == 0 || len(intra) != len(inter) {
		return Classifier{}, fmt.Errorf("classifier tags must be non-empty and of equal length")
	}
	return Classifier{Offset: offset, Intra: intra, Inter: inter}, nil
}

// Classify returns Unknown for frames too short to carry the tag.
func (c Classifier) Classify(frame []byte) FrameType {
	end := c.Offset + len(c.Intra)
	if c.Offset < 0 || end > len(frame) {
		return Unknown
	}
	tag := frame[c.Offset:end]
	switch {
	case bytes.Equal(tag, c.Intra):
		return Intra
	case bytes.Equal(tag, c.Inter):
		return Inter
	}
	return Unknown
}

// SubstituteIntra replaces every intra frame at index >= start with the
// frame written just before it, which may itself be a substitute. The frame
// count never changes. It returns the indices that were replaced.
func (s *Stream) SubstituteIntra(c Classifier, start int) ([]int, error) {
	var replaced []int
	var last []byte
	for i, f := range s.Frames {
		if i >= start && c.Classify(f) == Intra {
			if last == nil {
				return replaced, fmt.Errorf("%w: frame %d", ErrNoPrecedingFrame, i)
			}
			s.Frames[i] = last
			replaced = append(replaced, i)
		}
		last = s.Frames[i]
	}
	return replaced, nil
}

// Count tallies frames by type.
func (s *Stream) Count(c Classifier) map[FrameType]int {
	counts := make(map[FrameType]int, 3)
	for _, f := range s.Frames {
		counts[c.Classify(f)]++
	}
	return counts
}

// CheckAVI verifies the RIFF container signature.
func CheckAVI(data []byte) error {
	if len(data) < 12 {
		return fmt.Errorf("%w: %d bytes", ErrNotAVI, len(data))
	}
	if string(data[0:4]) != "RIFF" {
		return fmt.Errorf("%w: first 4 bytes %q", ErrNotAVI, data[0:4])
	}
	if string(data[8:12]) != "AVI " {
		return fmt.Errorf("%w: bytes 8-12 %q", ErrNotAVI, data[8:12])
	}
	return nil
}
