package index

import (
	"context"
	"errors"

	"github.com/jobala/bloomidx/storage/disk"
)

// VacuumStats accumulates over a BulkDelete and the VacuumCleanup that
// follows it.
type VacuumStats struct {
	TuplesRemoved  int64
	NumIndexTuples int64
	NumPages       uint32
	PagesRemoved   uint32
	PagesFree      uint32
}

// DeadRow reports whether the row at loc is gone from the table.
type DeadRow func(loc RowLocator) bool

// BulkDelete removes every tuple whose row is dead and compacts each page in
// place. Pages left with no tuples are marked deleted. Afterwards the
// free-list is replaced by the pages that still have room.
//
// An interrupted pass keeps the old free-list minus the pages it emptied.
func (idx *Index) BulkDelete(ctx context.Context, dead DeadRow, stats *VacuumStats) (*VacuumStats, error) {
	if stats == nil {
		stats = &VacuumStats{}
	}

	if err := idx.bulkDelete(ctx, dead, stats); err != nil {
		return stats, err
	}
	idx.maybeCheckpoint(ctx)

	return stats, nil
}

func (idx *Index) bulkDelete(ctx context.Context, dead DeadRow, stats *VacuumStats) error {
	idx.vacuumMu.Lock()
	defer idx.vacuumMu.Unlock()
	idx.gate.RLock()
	defer idx.gate.RUnlock()

	// NumIndexTuples counts what this pass leaves behind
	removed := stats.TuplesRemoved
	stats.NumIndexTuples = 0

	notFull, err := idx.compactPages(ctx, dead, stats)
	if err == nil {
		err = idx.replaceFreeList(notFull)
	} else {
		err = errors.Join(err, idx.pruneFreeList())
	}
	idx.logger.LogVacuum(ctx, "bulkdelete", stats.TuplesRemoved-removed, stats.NumIndexTuples, err)

	return err
}

func (idx *Index) compactPages(ctx context.Context, dead DeadRow, stats *VacuumStats) ([]uint32, error) {
	numPages := idx.NumPages()
	notFull := make([]uint32, 0, min(int(numPages), FREE_LIST_SIZE))

	for blk := uint32(FIRST_DATA_BLOCK); blk < numPages; blk++ {
		if err := idx.wait(ctx); err != nil {
			return notFull, err
		}

		keep, err := idx.compactPage(blk, dead, stats)
		if errors.Is(err, disk.ErrPageOutOfRange) {
			break
		}
		if err != nil {
			return notFull, err
		}

		// pages past the list capacity are not remembered
		if keep && len(notFull) < FREE_LIST_SIZE {
			notFull = append(notFull, blk)
		}
	}

	return notFull, nil
}

// compactPage removes dead tuples from blk as one logged unit. It reports
// whether the page should go on the free-list.
func (idx *Index) compactPage(blk uint32, dead DeadRow, stats *VacuumStats) (bool, error) {
	guard, err := idx.bpm.WritePage(int64(blk))
	if err != nil {
		return false, err
	}
	defer guard.Drop()

	p := idx.page(guard.GetDataMut())
	if p.isNew() || p.isDeleted() {
		return false, nil
	}
	if err := p.verify(blk); err != nil {
		return false, err
	}

	count := p.liveCount()
	write := 0
	for read := range count {
		if dead(p.tupleAt(read).locator()) {
			stats.TuplesRemoved++
			continue
		}
		if write != read {
			p.moveTuple(write, read)
		}
		write++
	}
	stats.NumIndexTuples += int64(write)

	if write != count {
		// clear the tail so that the page image stays deterministic
		clear(p.data[PAGE_HEADER_SIZE+write*idx.stride : PAGE_HEADER_SIZE+count*idx.stride])
		p.setLiveCount(write)
		if write == 0 {
			p.markDeleted()
		}
		if err := idx.bpm.LogUnit(guard); err != nil {
			return false, err
		}
	}

	return !p.isDeleted() && p.freeSpace() >= idx.stride, nil
}

// replaceFreeList swaps in blocks as the whole free-list, even when blocks
// is empty, so no deleted page stays listed.
func (idx *Index) replaceFreeList(blocks []uint32) error {
	guard, err := idx.bpm.WritePage(META_BLOCK)
	if err != nil {
		return err
	}
	defer guard.Drop()

	newMetaPage(guard.GetDataMut()).setFreeList(blocks)
	return idx.bpm.LogUnit(guard)
}

// pruneFreeList drops listed pages that are deleted, uninitialised or gone
// and keeps the order of the others.
func (idx *Index) pruneFreeList() error {
	guard, err := idx.bpm.WritePage(META_BLOCK)
	if err != nil {
		return err
	}
	defer guard.Drop()

	m := newMetaPage(guard.GetDataMut())
	listed := m.freeList()
	kept := make([]uint32, 0, len(listed))
	for _, blk := range listed {
		ok, err := idx.inUse(blk)
		if err != nil {
			return err
		}
		if ok {
			kept = append(kept, blk)
		}
	}

	if len(kept) == len(listed) {
		return nil
	}
	m.setFreeList(kept)
	return idx.bpm.LogUnit(guard)
}

// inUse reports whether blk is an initialised, live data page.
func (idx *Index) inUse(blk uint32) (bool, error) {
	if blk < FIRST_DATA_BLOCK {
		return false, nil
	}

	guard, err := idx.bpm.ReadPage(int64(blk))
	if errors.Is(err, disk.ErrPageOutOfRange) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	defer guard.Drop()

	p := idx.page(guard.GetData())
	return !p.isNew() && !p.isDeleted(), nil
}

// VacuumCleanup hands deleted and never used pages to the reuse pool, cuts
// the trailing run of such pages off the file and recounts the index. With
// analyzeOnly set it returns stats untouched.
func (idx *Index) VacuumCleanup(ctx context.Context, stats *VacuumStats, analyzeOnly bool) (*VacuumStats, error) {
	if analyzeOnly {
		return stats, nil
	}
	if stats == nil {
		stats = &VacuumStats{}
	}

	if err := idx.vacuumCleanup(ctx, stats); err != nil {
		return stats, err
	}
	idx.maybeCheckpoint(ctx)

	return stats, nil
}

func (idx *Index) vacuumCleanup(ctx context.Context, stats *VacuumStats) error {
	idx.vacuumMu.Lock()
	defer idx.vacuumMu.Unlock()
	idx.gate.RLock()
	defer idx.gate.RUnlock()

	stats.NumIndexTuples = 0
	stats.PagesFree = 0

	numPages := idx.NumPages()
	for blk := uint32(FIRST_DATA_BLOCK); blk < numPages; blk++ {
		if err := idx.wait(ctx); err != nil {
			idx.logger.LogVacuum(ctx, "cleanup", 0, stats.NumIndexTuples, err)
			return err
		}

		guard, err := idx.bpm.ReadPage(int64(blk))
		if errors.Is(err, disk.ErrPageOutOfRange) {
			break
		}
		if err != nil {
			return err
		}

		p := idx.page(guard.GetData())
		if p.isNew() || p.isDeleted() {
			idx.pool.RecordFree(blk)
			stats.PagesFree++
		} else {
			stats.NumIndexTuples += int64(p.liveCount())
		}
		guard.Drop()
	}

	removed, err := idx.truncateTail()
	stats.PagesRemoved += removed
	stats.PagesFree -= min(stats.PagesFree, removed)
	stats.NumPages = idx.NumPages()

	idx.logger.LogVacuum(ctx, "cleanup", int64(removed), stats.NumIndexTuples, err)

	return err
}

// truncateTail removes the trailing run of deleted or unused pages. The
// extension lock keeps allocators from reviving those pages meanwhile.
func (idx *Index) truncateTail() (uint32, error) {
	idx.bpm.LockExtension()
	defer idx.bpm.UnlockExtension()

	numPages := idx.NumPages()
	cut := numPages
	for cut > FIRST_DATA_BLOCK {
		guard, err := idx.bpm.ReadPage(int64(cut - 1))
		if err != nil {
			return 0, err
		}
		p := idx.page(guard.GetData())
		empty := p.isNew() || p.isDeleted()
		guard.Drop()

		if !empty {
			break
		}
		cut--
	}

	if cut == numPages {
		return 0, nil
	}

	idx.pool.Forget(cut)
	if err := idx.bpm.Truncate(int64(cut)); err != nil {
		return 0, err
	}
	idx.logger.Info("truncated index", "from_pages", numPages, "to_pages", cut)

	return numPages - cut, nil
}
