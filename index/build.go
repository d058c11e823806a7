package index

import (
	"context"
	"fmt"

	"github.com/jobala/bloomidx/buffer"
	"github.com/jobala/bloomidx/storage/disk"
	"github.com/jobala/bloomidx/util"
)

type BuildResult struct {
	HeapTuples  int64
	IndexTuples int64
}

// Build creates the index in an empty file and loads every row produced by
// scan. Rows are packed into pages in memory and each full page is written
// out as one logged unit. A nil scan builds an empty index.
func Build(ctx context.Context, bpm *buffer.BufferpoolManager, cfg Config, scan HeapScan, opts ...Option) (*Index, BuildResult, error) {
	cfg, err := cfg.Validate()
	if err != nil {
		return nil, BuildResult{}, err
	}

	if n := bpm.NumPages(); n != 0 {
		return nil, BuildResult{}, fmt.Errorf("%w: file holds %d pages", ErrNotEmpty, n)
	}

	idx := newIndex(bpm, cfg, opts)
	idx.gate.RLock()
	defer idx.gate.RUnlock()

	if err := idx.writeMetaPage(); err != nil {
		return nil, BuildResult{}, err
	}

	state := &buildState{
		idx:  idx,
		page: idx.page(make([]byte, disk.PAGE_SIZE)),
	}
	state.page.init(0)

	if scan != nil {
		if err := scan(ctx, state.add); err != nil {
			return nil, state.result, fmt.Errorf("error building index: %w", err)
		}
		if state.page.liveCount() > 0 {
			if err := state.flush(); err != nil {
				return nil, state.result, err
			}
		}
	}

	idx.logger.InfoContext(ctx, "index built",
		"heap_tuples", state.result.HeapTuples,
		"index_tuples", state.result.IndexTuples,
		"pages", bpm.NumPages(),
	)

	return idx, state.result, nil
}

func (idx *Index) writeMetaPage() error {
	guard, err := idx.bpm.NewPage()
	if err != nil {
		return fmt.Errorf("error allocating metapage: %w", err)
	}
	defer guard.Drop()

	if guard.PageId() != META_BLOCK {
		return fmt.Errorf("metapage allocated at block %d: %w", guard.PageId(), ErrNotEmpty)
	}

	newMetaPage(guard.GetDataMut()).init(idx.cfg)
	return idx.bpm.LogUnit(guard)
}

type buildState struct {
	idx    *Index
	page   dataPage
	result BuildResult
}

func (s *buildState) add(row Row) error {
	s.result.HeapTuples++

	sig, err := s.idx.rowSignature(row.Values)
	if err != nil {
		return err
	}
	tuple := newTuple(row.Locator, sig)

	if !s.page.addTuple(tuple) {
		if err := s.flush(); err != nil {
			return err
		}
		if !s.page.addTuple(tuple) {
			return util.NewCapacityError(fmt.Sprintf("tuple of %d bytes does not fit into an empty page", len(tuple)))
		}
	}
	s.result.IndexTuples++

	return nil
}

// flush copies the working page into a freshly allocated block and starts a
// new working page.
func (s *buildState) flush() error {
	guard, err := s.idx.bpm.NewPage()
	if err != nil {
		return fmt.Errorf("error allocating page: %w", err)
	}
	defer guard.Drop()

	copy(guard.GetDataMut(), s.page.data)
	if err := s.idx.bpm.LogUnit(guard); err != nil {
		return err
	}

	s.page.init(0)
	return nil
}
