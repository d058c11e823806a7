// Package freespace tracks pages that can be handed out again instead of
// growing the file. It only holds hints: a page taken from the pool must be
// checked by the caller before it is reused.
package freespace

import (
	"math"
	"sync"

	"github.com/RoaringBitmap/roaring/v2"
)

func NewPool() *Pool {
	return &Pool{
		free: roaring.New(),
	}
}

// RecordFree registers blk as reusable. Registering a page twice is harmless.
func (p *Pool) RecordFree(blk uint32) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.free.Add(blk)
}

// GetFree hands out the lowest free page and forgets it, so that two callers
// never receive the same page. Low pages go first to keep the tail of the file
// empty for truncation.
func (p *Pool) GetFree() (uint32, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.free.IsEmpty() {
		return 0, false
	}

	blk := p.free.Minimum()
	p.free.Remove(blk)

	return blk, true
}

// Forget drops every page at or beyond from. Called before the file is
// truncated to from pages.
func (p *Pool) Forget(from uint32) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.free.RemoveRange(uint64(from), math.MaxUint32+1)
}

func (p *Pool) Contains(blk uint32) bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	return p.free.Contains(blk)
}

func (p *Pool) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()

	return int(p.free.GetCardinality())
}

// Pages returns the free pages in ascending order.
func (p *Pool) Pages() []uint32 {
	p.mu.Lock()
	defer p.mu.Unlock()

	return p.free.ToArray()
}

type Pool struct {
	mu   sync.Mutex
	free *roaring.Bitmap
}
