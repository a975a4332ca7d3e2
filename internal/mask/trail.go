package mask

// Trail is a bounded most-recent-first history of mattes.
type Trail struct {
	capacity int
	items    []*Matte
}

func NewTrail(capacity int) *Trail {
	if capacity < 1 {
		capacity = 1
	}
	return &Trail{capacity: capacity, items: make([]*Matte, 0, capacity)}
}

func (t *Trail) Capacity() int { return t.capacity }
func (t *Trail) Len() int      { return len(t.items) }

// At returns the k-th most recent matte.
func (t *Trail) At(k int) *Matte { return t.items[k] }

// Push adds m as the most recent entry, evicting the oldest beyond capacity.
// The trail keeps the pointer; m must not be mutated afterwards.
func (t *Trail) Push(m *Matte) {
	if len(t.items) < t.capacity {
		t.items = append(t.items, nil)
	}
	copy(t.items[1:], t.items[:len(t.items)-1])
	t.items[0] = m
}

// Decay is the weight of the k-th most recent entry: (capacity-k)/capacity.
func (t *Trail) Decay(k int) float32 {
	return float32(t.capacity-k) / float32(t.capacity)
}

// Project returns the elementwise maximum over the n most recent entries,
// each scaled by its decay weight. n is clamped to the trail length; an
// empty projection returns nil.
func (t *Trail) Project(n int) *Matte {
	if n > len(t.items) {
		n = len(t.items)
	}
	if n < 1 {
		return nil
	}
	first := t.items[0]
	out := New(first.Width, first.Height)
	for k := 0; k < n; k++ {
		w := t.Decay(k)
		src := t.items[k]
		for i, v := range src.Pix {
			if d := v * w; d > out.Pix[i] {
				out.Pix[i] = d
			}
		}
	}
	return out
}
