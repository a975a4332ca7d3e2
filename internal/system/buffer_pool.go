package system

import (
	"image"
	"sync"
)

// FramePool recycles RGBA frame buffers by size. The compositor touches
// several full frames per output index, so reusing them keeps GC pauses out
// of long sequential runs.
type FramePool struct {
	mu    sync.RWMutex
	pools map[image.Point]*sync.Pool
}

var frames = NewFramePool()

func NewFramePool() *FramePool {
	return &FramePool{pools: make(map[image.Point]*sync.Pool)}
}

// GetImage returns an RGBA buffer with bounds rect from the shared pool.
// Contents are undefined.
func GetImage(rect image.Rectangle) *image.RGBA {
	return frames.Get(rect)
}

// PutImage hands a buffer back to the shared pool.
func PutImage(img *image.RGBA) {
	frames.Put(img)
}

func (p *FramePool) pool(size image.Point) *sync.Pool {
	p.mu.RLock()
	pool, ok := p.pools[size]
	p.mu.RUnlock()
	if ok {
		return pool
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if pool, ok = p.pools[size]; !ok {
		pool = &sync.Pool{
			New: func() interface{} {
				return image.NewRGBA(image.Rectangle{Max: size})
			},
		}
		p.pools[size] = pool
	}
	return pool
}

func (p *FramePool) Get(rect image.Rectangle) *image.RGBA {
	img := p.pool(rect.Size()).Get().(*image.RGBA)
	if img.Rect != rect {
		// Same size, different origin: rebase the header, keep the pixels.
		img = &image.RGBA{Pix: img.Pix, Stride: img.Stride, Rect: rect}
	}
	return img
}

func (p *FramePool) Put(img *image.RGBA) {
	if img == nil {
		return
	}
	p.pool(img.Rect.Size()).Put(img)
}
