package index

import (
	"context"
	"errors"
	"fmt"
	"slices"

	"github.com/jobala/bloomidx/storage/disk"
)

type PageInfo struct {
	Block     uint32 `yaml:"block"`
	LiveCount int    `yaml:"live"`
	FreeSpace int    `yaml:"free_space"`
	Deleted   bool   `yaml:"deleted,omitempty"`
	New       bool   `yaml:"new,omitempty"`
}

// Report is a snapshot of the index layout. Pages are read one at a time, so
// under concurrent writes the snapshot is not consistent.
type Report struct {
	Config        Config     `yaml:"config"`
	TupleSize     int        `yaml:"tuple_size"`
	NumPages      uint32     `yaml:"num_pages"`
	FreeListStart int        `yaml:"free_list_start"`
	FreeListEnd   int        `yaml:"free_list_end"`
	FreeList      []uint32   `yaml:"free_list"`
	Pages         []PageInfo `yaml:"pages"`
}

func (idx *Index) Inspect(ctx context.Context) (*Report, error) {
	idx.gate.RLock()
	defer idx.gate.RUnlock()

	meta, err := idx.bpm.ReadPage(META_BLOCK)
	if err != nil {
		return nil, fmt.Errorf("error reading metapage: %w", err)
	}
	m := newMetaPage(meta.GetData())
	report := &Report{
		Config:        idx.cfg,
		TupleSize:     idx.stride,
		FreeListStart: int(m.start()),
		FreeListEnd:   int(m.end()),
		FreeList:      m.freeList(),
	}
	meta.Drop()

	numPages := idx.NumPages()
	for blk := uint32(FIRST_DATA_BLOCK); blk < numPages; blk++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		guard, err := idx.bpm.ReadPage(int64(blk))
		if errors.Is(err, disk.ErrPageOutOfRange) {
			break
		}
		if err != nil {
			return nil, err
		}

		p := idx.page(guard.GetData())
		report.Pages = append(report.Pages, PageInfo{
			Block:     blk,
			LiveCount: p.liveCount(),
			FreeSpace: p.freeSpace(),
			Deleted:   p.isDeleted(),
			New:       p.isNew(),
		})
		guard.Drop()
	}
	report.NumPages = uint32(len(report.Pages)) + 1

	return report, nil
}

// LiveTuples sums the tuples on all pages.
func (r *Report) LiveTuples() int64 {
	var n int64
	for _, p := range r.Pages {
		if !p.Deleted {
			n += int64(p.LiveCount)
		}
	}
	return n
}

// Check lists broken free-list rules: listed pages must exist and be in use.
// A page that filled up after being listed is not an error, the list is only
// a hint.
func (r *Report) Check() []string {
	var problems []string

	byBlock := make(map[uint32]PageInfo, len(r.Pages))
	for _, p := range r.Pages {
		byBlock[p.Block] = p
	}

	seen := map[uint32]bool{}
	for _, blk := range r.FreeList {
		if seen[blk] {
			problems = append(problems, fmt.Sprintf("block %d is listed twice", blk))
		}
		seen[blk] = true

		p, ok := byBlock[blk]
		switch {
		case !ok:
			problems = append(problems, fmt.Sprintf("listed block %d is not a data page", blk))
		case p.Deleted:
			problems = append(problems, fmt.Sprintf("listed block %d is deleted", blk))
		case p.New:
			problems = append(problems, fmt.Sprintf("listed block %d is not initialised", blk))
		}
	}

	slices.Sort(problems)
	return problems
}

// TrailingEmpty counts the pages without tuples at the end of the file, the
// ones VacuumCleanup would truncate.
func (r *Report) TrailingEmpty() int {
	n := 0
	for i := len(r.Pages) - 1; i >= 0 && r.Pages[i].LiveCount == 0; i-- {
		n++
	}
	return n
}
