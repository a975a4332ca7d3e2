package motion

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
)

var ErrFormat = errors.New("unrecognized motion vector document")

// Format tells the two document layouts apart.
type Format int

const (
	// FormatFFEdit is ffedit's export: streams[0].frames[i].mv.forward.
	FormatFFEdit Format = iota
	// FormatDonor is the compact frames[i].motionVectors.forward layout.
	FormatDonor
)

// Frame is one decode-order frame. Fields the package does not know about
// are kept verbatim.
type Frame struct {
	// Forward is nil when the frame has no forward vectors.
	Forward Grid
	// Overflow, when set, is written as the mv overflow policy.
	Overflow string

	fields  map[string]json.RawMessage
	vectors map[string]json.RawMessage
}

// HasVectors reports whether the frame carries a vector object at all.
func (f *Frame) HasVectors() bool { return f.vectors != nil }

type Document struct {
	Format Format
	Frames []*Frame

	root    map[string]json.RawMessage
	streams []map[string]json.RawMessage
}

func (d *Document) vectorKey() string {
	if d.Format == FormatDonor {
		return "motionVectors"
	}
	return "mv"
}

// Parse decodes either document layout.
func Parse(data []byte) (*Document, error) {
	d := &Document{}
	if err := json.Unmarshal(data, &d.root); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrFormat, err)
	}

	var rawFrames json.RawMessage
	if s, ok := d.root["streams"]; ok {
		d.Format = FormatFFEdit
		if err := json.Unmarshal(s, &d.streams); err != nil {
			return nil, fmt.Errorf("%w: streams: %w", ErrFormat, err)
		}
		if len(d.streams) == 0 {
			return nil, fmt.Errorf("%w: no streams", ErrFormat)
		}
		rawFrames = d.streams[0]["frames"]
	} else if f, ok := d.root["frames"]; ok {
		d.Format = FormatDonor
		rawFrames = f
	} else {
		return nil, ErrFormat
	}

	var frames []map[string]json.RawMessage
	if len(rawFrames) > 0 {
		if err := json.Unmarshal(rawFrames, &frames); err != nil {
			return nil, fmt.Errorf("%w: frames: %w", ErrFormat, err)
		}
	}

	key := d.vectorKey()
	d.Frames = make([]*Frame, len(frames))
	for i, fields := range frames {
		fr := &Frame{fields: fields}
		if raw, ok := fields[key]; ok && string(raw) != "null" {
			if err := json.Unmarshal(raw, &fr.vectors); err != nil {
				return nil, fmt.Errorf("frame %d %s: %w", i, key, err)
			}
			if fwd, ok := fr.vectors["forward"]; ok && string(fwd) != "null" {
				if err := json.Unmarshal(fwd, &fr.Forward); err != nil {
					return nil, fmt.Errorf("frame %d forward: %w", i, err)
				}
				if fr.Forward == nil {
					fr.Forward = Grid{}
				}
			}
			if ov, ok := fr.vectors["overflow"]; ok {
				_ = json.Unmarshal(ov, &fr.Overflow)
			}
		}
		d.Frames[i] = fr
	}
	return d, nil
}

func ReadFile(path string) (*Document, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	doc, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return doc, nil
}

// NewDonor builds a compact document from grids; empty grids get no
// forward entry.
func NewDonor(grids []Grid) *Document {
	d := &Document{Format: FormatDonor, root: map[string]json.RawMessage{}}
	for _, g := range grids {
		fr := &Frame{fields: map[string]json.RawMessage{}}
		if !g.Empty() {
			fr.Forward = g
		}
		d.Frames = append(d.Frames, fr)
	}
	return d
}

func (d *Document) Marshal() ([]byte, error) {
	key := d.vectorKey()
	frames := make([]map[string]json.RawMessage, len(d.Frames))
	for i, fr := range d.Frames {
		fields := make(map[string]json.RawMessage, len(fr.fields)+1)
		for k, v := range fr.fields {
			fields[k] = v
		}
		if fr.vectors != nil || fr.Forward != nil || fr.Overflow != "" {
			vec := make(map[string]json.RawMessage, len(fr.vectors)+2)
			for k, v := range fr.vectors {
				vec[k] = v
			}
			if fr.Forward != nil {
				raw, err := json.Marshal(fr.Forward)
				if err != nil {
					return nil, fmt.Errorf("frame %d: %w", i, err)
				}
				vec["forward"] = raw
			}
			if fr.Overflow != "" {
				raw, _ := json.Marshal(fr.Overflow)
				vec["overflow"] = raw
			}
			raw, err := json.Marshal(vec)
			if err != nil {
				return nil, err
			}
			fields[key] = raw
		}
		frames[i] = fields
	}

	rawFrames, err := json.Marshal(frames)
	if err != nil {
		return nil, err
	}
	root := make(map[string]json.RawMessage, len(d.root)+1)
	for k, v := range d.root {
		root[k] = v
	}
	if d.Format == FormatFFEdit {
		streams := make([]map[string]json.RawMessage, len(d.streams))
		copy(streams, d.streams)
		if len(streams) == 0 {
			streams = append(streams, nil)
		}
		first := make(map[string]json.RawMessage, len(streams[0]))
		for k, v := range streams[0] {
			first[k] = v
		}
		first["frames"] = rawFrames
		streams[0] = first
		raw, err := json.Marshal(streams)
		if err != nil {
			return nil, err
		}
		root["streams"] = raw
	} else {
		root["frames"] = rawFrames
	}
	return json.Marshal(root)
}

func (d *Document) WriteFile(path string) error {
	data, err := d.Marshal()
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}

// Extract returns one grid per frame, empty where a frame has no forward
// vectors. No frame is dropped.
func Extract(d *Document) []Grid {
	grids := make([]Grid, len(d.Frames))
	for i, fr := range d.Frames {
		if fr.Forward != nil {
			grids[i] = fr.Forward
		} else {
			grids[i] = Grid{}
		}
	}
	return grids
}

// Stats counts what TransplantDocument touched.
type Stats struct {
	Frames int
	Blocks int
}

// TransplantDocument applies donors to d frame by frame. Every frame with a
// vector object gets the truncate overflow policy. Frames past the donor sequence, and
// frames whose donor grid is empty, keep their vectors.
func TransplantDocument(d *Document, donors []Grid, mode Mode) Stats {
	var st Stats
	for i, fr := range d.Frames {
		if fr.vectors != nil {
			fr.Overflow = "truncate"
		}
		if fr.Forward == nil || i >= len(donors) || donors[i].Empty() {
			continue
		}
		var n int
		fr.Forward, n = Transplant(fr.Forward, donors[i], mode)
		if n > 0 {
			st.Frames++
			st.Blocks += n
		}
	}
	return st
}
