// Package motion reads, transplants and re-applies per-block motion vectors
// exported as JSON by ffedit.
package motion

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// Vector is one block's forward motion vector. Blocks without prediction
// are exported as null and decode to an invalid Vector.
type Vector struct {
	DX, DY int
	Valid  bool
}

func V(dx, dy int) Vector { return Vector{DX: dx, DY: dy, Valid: true} }

var null = []byte("null")

func (v Vector) MarshalJSON() ([]byte, error) {
	if !v.Valid {
		return null, nil
	}
	return []byte(fmt.Sprintf("[%d,%d]", v.DX, v.DY)), nil
}

func (v *Vector) UnmarshalJSON(data []byte) error {
	if bytes.Equal(bytes.TrimSpace(data), null) {
		*v = Vector{}
		return nil
	}
	var pair []int
	if err := json.Unmarshal(data, &pair); err != nil {
		return fmt.Errorf("motion vector: %w", err)
	}
	if len(pair) < 2 {
		return fmt.Errorf("motion vector: want 2 components, got %d", len(pair))
	}
	*v = V(pair[0], pair[1])
	return nil
}

// Grid is a frame's vectors indexed [block row][block column]. An empty
// grid means the frame carries no forward prediction.
type Grid [][]Vector

func (g Grid) Empty() bool { return len(g) == 0 }

// Clone deep-copies g.
func (g Grid) Clone() Grid {
	if g == nil {
		return nil
	}
	out := make(Grid, len(g))
	for i, row := range g {
		out[i] = append([]Vector(nil), row...)
	}
	return out
}

type Mode string

const (
	ModeAdd     Mode = "add"
	ModeReplace Mode = "replace"
)

func ParseMode(s string) (Mode, error) {
	switch Mode(s) {
	case ModeAdd, ModeReplace:
		return Mode(s), nil
	}
	return "", fmt.Errorf("unknown transplant mode %q", s)
}

// Transplant returns a copy of target with donor's vectors added to or
// replacing its own. Blocks outside the donor grid and null blocks on
// either side are left untouched. It also returns how many blocks changed.
func Transplant(target, donor Grid, mode Mode) (Grid, int) {
	out := target.Clone()
	changed := 0
	for i, row := range out {
		if i >= len(donor) {
			break
		}
		for j := range row {
			if j >= len(donor[i]) {
				break
			}
			d := donor[i][j]
			if !d.Valid || !row[j].Valid {
				continue
			}
			if mode == ModeReplace {
				row[j].DX, row[j].DY = d.DX, d.DY
			} else {
				row[j].DX += d.DX
				row[j].DY += d.DY
			}
			changed++
		}
	}
	return out, changed
}
