package index

import (
	"context"
	"errors"
	"fmt"

	"github.com/RoaringBitmap/roaring/v2/roaring64"
	"github.com/jobala/bloomidx/storage/disk"
	"github.com/jobala/bloomidx/util"
)

// Candidates is the lossy result of a scan: every matching row is in it, and
// so may be some rows that do not match.
type Candidates struct {
	rows *roaring64.Bitmap
}

func newCandidates() *Candidates {
	return &Candidates{rows: roaring64.New()}
}

func (c *Candidates) Count() uint64 {
	return c.rows.GetCardinality()
}

func (c *Candidates) Contains(loc RowLocator) bool {
	return c.rows.Contains(loc.Pack())
}

// Locators returns the candidates in locator order.
func (c *Candidates) Locators() []RowLocator {
	res := make([]RowLocator, 0, c.rows.GetCardinality())
	it := c.rows.Iterator()
	for it.HasNext() {
		res = append(res, UnpackLocator(it.Next()))
	}
	return res
}

// Bitmap exposes the packed locators, see RowLocator.Pack.
func (c *Candidates) Bitmap() *roaring64.Bitmap {
	return c.rows
}

// BeginScan prepares a scan for rows equal to every key. No keys match all
// rows.
func (idx *Index) BeginScan(keys ...ScanKey) (*Scan, error) {
	s := &Scan{idx: idx}
	if err := s.Rescan(keys...); err != nil {
		return nil, err
	}
	return s, nil
}

// Rescan replaces the keys of the scan.
func (s *Scan) Rescan(keys ...ScanKey) error {
	for _, key := range keys {
		if key.Column < 0 || key.Column >= len(s.idx.cfg.Columns) {
			return fmt.Errorf("%w: column %d, index has %d", ErrBadColumn, key.Column, len(s.idx.cfg.Columns))
		}
	}

	s.keys = append(s.keys[:0], keys...)
	s.query = nil
	return nil
}

// GetBitmap runs the scan. A null key value matches nothing, so such a scan
// returns no candidates without reading the index.
func (s *Scan) GetBitmap(ctx context.Context) (*Candidates, error) {
	res := newCandidates()

	if s.query == nil {
		query := NewSignature(s.idx.cfg.Length)
		for _, key := range s.keys {
			if key.Value == nil {
				return res, nil
			}
			if err := s.idx.signColumn(query, key.Column, key.Value); err != nil {
				return nil, err
			}
		}
		s.query = query
	}

	s.idx.gate.RLock()
	defer s.idx.gate.RUnlock()

	pages, err := s.idx.scan(ctx, s.query, res)
	s.idx.logger.LogScan(ctx, pages, res.Count(), err)
	if err != nil {
		return nil, err
	}

	return res, nil
}

func (s *Scan) EndScan() {
	s.keys = nil
	s.query = nil
}

func (s *Scan) MarkPos() error {
	return util.NewUnsupportedError("bloom index does not support mark and restore")
}

func (s *Scan) RestorePos() error {
	return util.NewUnsupportedError("bloom index does not support mark and restore")
}

// GetTuple always fails: rows come back unordered, as a whole, from GetBitmap.
func (s *Scan) GetTuple(ctx context.Context) (RowLocator, error) {
	return RowLocator{}, util.NewUnsupportedError("bloom index does not support ordered fetch")
}

// scan visits every data page under a shared latch, one page at a time, and
// adds matching rows to res.
func (idx *Index) scan(ctx context.Context, query Signature, res *Candidates) (uint32, error) {
	numPages := idx.NumPages()
	// a query without keys has no bits and matches every tuple
	all := query.isEmpty()

	var visited uint32
	for blk := uint32(FIRST_DATA_BLOCK); blk < numPages; blk++ {
		if err := ctx.Err(); err != nil {
			return visited, err
		}

		guard, err := idx.bpm.ReadPage(int64(blk))
		if errors.Is(err, disk.ErrPageOutOfRange) {
			// truncated under us
			break
		}
		if err != nil {
			return visited, err
		}
		visited++

		p := idx.page(guard.GetData())
		if p.isNew() || p.isDeleted() {
			guard.Drop()
			continue
		}
		if err := p.verify(blk); err != nil {
			guard.Drop()
			return visited, err
		}

		for i := range p.liveCount() {
			tuple := p.tupleAt(i)
			if all || tuple.matches(query) {
				res.rows.Add(tuple.locator().Pack())
			}
		}
		guard.Drop()
	}

	return visited, nil
}

type Scan struct {
	idx   *Index
	keys  []ScanKey
	query Signature
}
