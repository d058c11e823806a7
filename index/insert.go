package index

import (
	"context"
	"errors"
	"fmt"
	"slices"

	"github.com/jobala/bloomidx/buffer"
	"github.com/jobala/bloomidx/storage/disk"
	"github.com/jobala/bloomidx/util"
	"golang.org/x/sync/errgroup"
)

const (
	pathFast     = "fast"
	pathFreeList = "freelist"
	pathOverflow = "overflow"
)

// Insert adds one row to the index. The signature is computed before any
// latch is taken.
func (idx *Index) Insert(ctx context.Context, loc RowLocator, values []any) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	sig, err := idx.rowSignature(values)
	if err != nil {
		return err
	}
	tuple := newTuple(loc, sig)

	idx.gate.RLock()
	blk, path, err := idx.insert(tuple)
	idx.gate.RUnlock()
	idx.logger.LogInsert(ctx, blk, path, err)

	if err != nil {
		return err
	}
	idx.maybeCheckpoint(ctx)

	return nil
}

// InsertBatch inserts rows using up to parallelism concurrent inserters. The
// first error stops the remaining rows.
func (idx *Index) InsertBatch(ctx context.Context, rows []Row, parallelism int) error {
	if parallelism < 1 {
		parallelism = 1
	}

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(parallelism)

	for _, row := range rows {
		g.Go(func() error {
			return idx.Insert(ctx, row.Locator, row.Values)
		})
	}

	return g.Wait()
}

// insert places tuple in three steps. First it tries the head of the
// free-list holding only a shared metapage latch. Then, under an exclusive
// metapage latch, it walks the rest of the list. When the list runs dry it
// allocates a page and makes that page the whole free-list.
func (idx *Index) insert(tuple indexTuple) (uint32, string, error) {
	meta, err := idx.bpm.ReadPage(META_BLOCK)
	if err != nil {
		return INVALID_BLOCK, pathFast, err
	}
	tried, listed := newMetaPage(meta.GetData()).head()
	meta.Drop()

	if listed {
		guard, ok, err := idx.addToPage(tried, tuple)
		if err != nil {
			return tried, pathFast, err
		}
		if ok {
			defer guard.Drop()
			// the head stays where it is, a later pass moves it
			if err := idx.bpm.LogUnit(guard); err != nil {
				idx.undoAppend(guard)
				return tried, pathFast, err
			}
			return tried, pathFast, nil
		}
	}

	metaGuard, err := idx.bpm.WritePage(META_BLOCK)
	if err != nil {
		return INVALID_BLOCK, pathFreeList, err
	}
	defer metaGuard.Drop()
	m := newMetaPage(metaGuard.GetDataMut())
	// restored when logging fails so that nothing unlogged stays cached
	saved := slices.Clone(m.data)

	start, end := m.start(), m.end()
	if listed && start < end && m.entry(start) == tried {
		start++
	}

	for start < end {
		blk := m.entry(start)
		guard, ok, err := idx.addToPage(blk, tuple)
		if err != nil {
			return blk, pathFreeList, err
		}
		if ok {
			m.setStart(start)
			err := idx.bpm.LogUnit(metaGuard, guard)
			if err != nil {
				idx.undoAppend(guard)
				copy(m.data, saved)
			}
			guard.Drop()
			return blk, pathFreeList, err
		}
		start++
	}

	guard, blk, err := idx.allocatePage()
	if err != nil {
		return INVALID_BLOCK, pathOverflow, err
	}
	defer guard.Drop()

	p := idx.page(guard.GetDataMut())
	p.init(0)
	if !p.addTuple(tuple) {
		return blk, pathOverflow, util.NewCapacityError(
			fmt.Sprintf("tuple of %d bytes does not fit into empty block %d", len(tuple), blk))
	}

	m.setFreeList([]uint32{blk})

	if err := idx.bpm.LogUnit(metaGuard, guard); err != nil {
		// the page stays behind empty and is reclaimed like any new page
		idx.undoAppend(guard)
		copy(m.data, saved)
		return blk, pathOverflow, err
	}

	return blk, pathOverflow, nil
}

// undoAppend removes the last tuple of the latched page.
func (idx *Index) undoAppend(guard *buffer.WritePageGuard) {
	p := idx.page(guard.GetDataMut())
	n := p.liveCount()
	if n == 0 {
		return
	}
	clear(p.slot(n - 1))
	p.setLiveCount(n - 1)
}

// addToPage appends tuple to blk and returns the page still latched so that
// the caller can log it together with the metapage. Deleted, uninitialised
// and truncated pages count as full.
func (idx *Index) addToPage(blk uint32, tuple indexTuple) (*buffer.WritePageGuard, bool, error) {
	if blk < FIRST_DATA_BLOCK {
		return nil, false, nil
	}

	guard, err := idx.bpm.WritePage(int64(blk))
	if errors.Is(err, disk.ErrPageOutOfRange) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}

	p := idx.page(guard.GetDataMut())
	if p.isNew() || p.isDeleted() {
		guard.Drop()
		return nil, false, nil
	}
	if err := p.verify(blk); err != nil {
		guard.Drop()
		return nil, false, err
	}

	if !p.addTuple(tuple) {
		guard.Drop()
		return nil, false, nil
	}

	return guard, true, nil
}

// allocatePage returns an exclusively latched page, recycled from the reuse
// pool when possible and appended to the file otherwise. A recycled page is
// only taken when its latch is free and it is still unused.
func (idx *Index) allocatePage() (*buffer.WritePageGuard, uint32, error) {
	idx.bpm.LockExtension()
	guard, blk, err := idx.recycle()
	idx.bpm.UnlockExtension()

	if err != nil || guard != nil {
		return guard, blk, err
	}

	guard, err = idx.bpm.NewPage()
	if err != nil {
		return nil, INVALID_BLOCK, fmt.Errorf("error extending index: %w", err)
	}

	return guard, uint32(guard.PageId()), nil
}

// recycle must be called with the extension lock held so that cleanup cannot
// truncate the page it hands out.
func (idx *Index) recycle() (*buffer.WritePageGuard, uint32, error) {
	numPages := idx.bpm.NumPages()

	for {
		blk, ok := idx.pool.GetFree()
		if !ok {
			return nil, INVALID_BLOCK, nil
		}
		if blk < FIRST_DATA_BLOCK || int64(blk) >= numPages {
			continue
		}

		guard, ok, err := idx.bpm.TryWritePage(int64(blk))
		if errors.Is(err, disk.ErrPageOutOfRange) {
			continue
		}
		if err != nil {
			return nil, INVALID_BLOCK, err
		}
		if !ok {
			continue
		}

		p := idx.page(guard.GetData())
		if p.isNew() || p.isDeleted() {
			idx.logger.Debug("recycling page", "block", blk)
			return guard, blk, nil
		}
		guard.Drop()
	}
}
