package buffer

import (
	"sync"
	"sync/atomic"

	"github.com/jobala/bloomidx/storage/disk"
)

func (f *frame) pin() {
	f.pins.Add(1)
}

func (f *frame) unpin() int32 {
	return f.pins.Add(-1)
}

func (f *frame) reset() {
	f.dirty = false
	f.pins.Store(0)
	f.pageId = disk.INVALID_PAGE_ID
	clear(f.data)
}

// frame holds one cached page. mu is the page latch: readers hold it shared,
// writers exclusive. pins keep the frame resident while any guard is out.
type frame struct {
	mu     sync.RWMutex
	id     int
	data   []byte
	pins   atomic.Int32
	dirty  bool
	pageId int64
}
