package buffer

import (
	"fmt"
	"sync"

	"github.com/jobala/bloomidx/storage/disk"
	"github.com/jobala/bloomidx/storage/wal"
	"github.com/jobala/bloomidx/util"
)

type Option func(*BufferpoolManager)

// WithWAL makes LogUnit durable and Checkpoint reset the log.
func WithWAL(log *wal.Log) Option {
	return func(b *BufferpoolManager) {
		b.wal = log
	}
}

func WithLogger(logger *util.Logger) Option {
	return func(b *BufferpoolManager) {
		if logger != nil {
			b.logger = logger
		}
	}
}

func NewBufferpoolManager(size int, replacer *lrukReplacer, diskScheduler *disk.DiskScheduler, opts ...Option) *BufferpoolManager {
	frames := make([]*frame, size)
	freeFrames := make([]int, size)

	for i := range size {
		frames[i] = &frame{
			id:     i,
			data:   make([]byte, disk.PAGE_SIZE),
			pageId: disk.INVALID_PAGE_ID,
		}
		freeFrames[i] = i
	}

	bpm := &BufferpoolManager{
		frames:        frames,
		pageTable:     make(map[int64]int),
		replacer:      replacer,
		diskScheduler: diskScheduler,
		freeFrames:    freeFrames,
		logger:        util.NoopLogger(),
	}
	bpm.cond = sync.NewCond(&bpm.mu)

	for _, opt := range opts {
		opt(bpm)
	}
	bpm.logger = bpm.logger.With("component", "bufferpool")

	return bpm
}

// ReadPage returns pageId under a shared latch.
func (b *BufferpoolManager) ReadPage(pageId int64) (*ReadPageGuard, error) {
	frame, err := b.fetch(pageId)
	if err != nil {
		return nil, err
	}

	frame.mu.RLock()
	return NewReadPageGuard(frame, b), nil
}

// WritePage returns pageId under an exclusive latch. The page is considered
// dirty from here on.
func (b *BufferpoolManager) WritePage(pageId int64) (*WritePageGuard, error) {
	frame, err := b.fetch(pageId)
	if err != nil {
		return nil, err
	}

	frame.mu.Lock()
	frame.dirty = true
	return NewWritePageGuard(frame, b), nil
}

// TryWritePage is the conditional form of WritePage: when another holder has
// the latch it gives up and reports false instead of waiting.
func (b *BufferpoolManager) TryWritePage(pageId int64) (*WritePageGuard, bool, error) {
	frame, err := b.fetch(pageId)
	if err != nil {
		return nil, false, err
	}

	if !frame.mu.TryLock() {
		b.release(frame)
		return nil, false, nil
	}

	frame.dirty = true
	return NewWritePageGuard(frame, b), true, nil
}

// NewPage extends the file by one page and returns it zeroed and exclusively
// latched.
func (b *BufferpoolManager) NewPage() (*WritePageGuard, error) {
	b.extendMu.Lock()
	pageId, err := b.diskScheduler.Manager().Extend()
	if err != nil {
		b.extendMu.Unlock()
		return nil, err
	}

	guard, err := b.WritePage(pageId)
	b.extendMu.Unlock()

	return guard, err
}

// WALSize is the length of the write-ahead log, 0 when there is none.
func (b *BufferpoolManager) WALSize() int64 {
	if b.wal == nil {
		return 0
	}
	return b.wal.Size()
}

func (b *BufferpoolManager) NumPages() int64 {
	return b.diskScheduler.Manager().NumPages()
}

// LockExtension blocks NewPage until UnlockExtension. Truncate must be called
// with the extension lock held.
func (b *BufferpoolManager) LockExtension() {
	b.extendMu.Lock()
}

func (b *BufferpoolManager) UnlockExtension() {
	b.extendMu.Unlock()
}

// Truncate drops every page at or beyond numPages, from the cache and from
// disk. It waits for guards on those pages to be dropped first.
func (b *BufferpoolManager) Truncate(numPages int64) error {
	if b.wal != nil {
		if _, err := b.wal.LogTruncate(numPages); err != nil {
			return err
		}
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	for {
		busy := false
		for pageId, id := range b.pageTable {
			if pageId < numPages {
				continue
			}
			if b.frames[id].pins.Load() > 0 {
				busy = true
				continue
			}

			frame := b.frames[id]
			_ = b.replacer.remove(frame.id)
			delete(b.pageTable, pageId)
			frame.reset()
			b.freeFrames = append(b.freeFrames, frame.id)
		}

		if !busy {
			break
		}
		b.cond.Wait()
	}

	return b.diskScheduler.Manager().Truncate(numPages)
}

// LogUnit records the current images of the latched pages as one atomic
// unit. It must be called before the guards are dropped.
func (b *BufferpoolManager) LogUnit(guards ...*WritePageGuard) error {
	if b.wal == nil {
		return nil
	}

	images := make(map[int64][]byte, len(guards))
	for _, guard := range guards {
		data := make([]byte, disk.PAGE_SIZE)
		copy(data, guard.frame.data)
		images[guard.frame.pageId] = data
	}

	if _, err := b.wal.LogPages(images); err != nil {
		return fmt.Errorf("error logging %d pages: %w", len(images), err)
	}

	return nil
}

// FlushAll writes every dirty page back to disk.
func (b *BufferpoolManager) FlushAll() error {
	b.mu.Lock()
	frames := make([]*frame, 0, len(b.pageTable))
	for _, id := range b.pageTable {
		frame := b.frames[id]
		frame.pin()
		b.replacer.setEvictable(frame.id, false)
		frames = append(frames, frame)
	}
	b.mu.Unlock()

	var firstErr error
	for _, frame := range frames {
		frame.mu.RLock()
		if frame.dirty && firstErr == nil {
			if err := b.write(frame); err != nil {
				firstErr = err
			}
		}
		frame.mu.RUnlock()
		b.release(frame)
	}

	return firstErr
}

// Checkpoint makes the data file durable and empties the write-ahead log.
// Callers must keep other writers out while it runs.
func (b *BufferpoolManager) Checkpoint() error {
	if err := b.FlushAll(); err != nil {
		return err
	}
	if err := b.diskScheduler.Manager().Sync(); err != nil {
		return err
	}
	if b.wal != nil {
		return b.wal.Reset()
	}
	return nil
}

// fetch pins the frame holding pageId, loading it from disk if needed.
func (b *BufferpoolManager) fetch(pageId int64) (*frame, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if len(b.frames) == 0 {
		return nil, util.NewBufferpoolExhaustedError("bufferpool has no frames")
	}

	for {
		if id, ok := b.pageTable[pageId]; ok {
			frame := b.frames[id]
			frame.pin()
			b.replacer.recordAccess(frame.id)
			b.replacer.setEvictable(frame.id, false)

			return frame, nil
		}

		frame, err := b.victim()
		if err != nil {
			return nil, err
		}

		if frame != nil {
			resp := b.diskScheduler.Do(disk.NewRequest(pageId, nil, false))
			if resp.Err != nil {
				b.freeFrames = append(b.freeFrames, frame.id)
				b.cond.Broadcast()
				return nil, resp.Err
			}

			copy(frame.data, resp.Data)
			frame.pageId = pageId
			frame.pin()
			b.pageTable[pageId] = frame.id
			b.replacer.recordAccess(frame.id)
			b.replacer.setEvictable(frame.id, false)

			return frame, nil
		}

		// every frame is pinned, Drop will wake us up
		b.logger.Debug("waiting for a frame to become available", "page", pageId)
		b.cond.Wait()
	}
}

// victim returns an empty frame, evicting and flushing one if necessary. It
// returns nil when every frame is pinned. b.mu must be held.
func (b *BufferpoolManager) victim() (*frame, error) {
	if len(b.freeFrames) > 0 {
		id := b.freeFrames[0]
		b.freeFrames = b.freeFrames[1:]

		frame := b.frames[id]
		frame.reset()
		return frame, nil
	}

	id, _ := b.replacer.evict()
	if id == INVALID_FRAME_ID {
		return nil, nil
	}

	frame := b.frames[id]
	if frame.dirty {
		if err := b.write(frame); err != nil {
			b.replacer.recordAccess(frame.id)
			b.replacer.setEvictable(frame.id, true)
			return nil, err
		}
	}

	delete(b.pageTable, frame.pageId)
	frame.reset()

	return frame, nil
}

func (b *BufferpoolManager) write(frame *frame) error {
	resp := b.diskScheduler.Do(disk.NewRequest(frame.pageId, frame.data, true))
	if resp.Err != nil {
		return fmt.Errorf("error flushing page %d: %w", frame.pageId, resp.Err)
	}
	frame.dirty = false

	return nil
}

// release unpins frame and wakes up anyone waiting for a frame.
func (b *BufferpoolManager) release(frame *frame) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if frame.unpin() == 0 {
		b.replacer.setEvictable(frame.id, true)
	}
	b.cond.Broadcast()
}

type BufferpoolManager struct {
	mu            sync.Mutex
	frames        []*frame
	pageTable     map[int64]int
	diskScheduler *disk.DiskScheduler
	replacer      *lrukReplacer
	freeFrames    []int
	cond          *sync.Cond

	// extendMu serialises file extension against truncation
	extendMu sync.Mutex

	wal    *wal.Log
	logger *util.Logger
}
