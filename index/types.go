package index

import (
	"context"
	"encoding/binary"
	"fmt"
)

type PAGE_FLAG = uint16

const (
	META_PAGE    PAGE_FLAG = 1 << 0
	DELETED_PAGE PAGE_FLAG = 1 << 1
)

const (
	META_BLOCK       = 0
	FIRST_DATA_BLOCK = 1
	INVALID_BLOCK    = ^uint32(0)

	BLOOM_MAGIC = 0xDBAC0DED

	// signature words are 16 bits wide
	BITS_PER_WORD = 16
	LOCATOR_SIZE  = 6
)

// RowLocator points at a row in the table the index covers.
type RowLocator struct {
	Block  uint32
	Offset uint16
}

// Pack folds the locator into a single integer that sorts like the locator.
func (l RowLocator) Pack() uint64 {
	return uint64(l.Block)<<16 | uint64(l.Offset)
}

func UnpackLocator(v uint64) RowLocator {
	return RowLocator{
		Block:  uint32(v >> 16),
		Offset: uint16(v),
	}
}

func (l RowLocator) String() string {
	return fmt.Sprintf("(%d,%d)", l.Block, l.Offset)
}

func (l RowLocator) put(b []byte) {
	binary.LittleEndian.PutUint32(b[0:4], l.Block)
	binary.LittleEndian.PutUint16(b[4:6], l.Offset)
}

func readLocator(b []byte) RowLocator {
	return RowLocator{
		Block:  binary.LittleEndian.Uint32(b[0:4]),
		Offset: binary.LittleEndian.Uint16(b[4:6]),
	}
}

// Row is one table row as seen by the index. A nil value is a SQL null.
type Row struct {
	Locator RowLocator
	Values  []any
}

// ScanKey is an equality predicate on one indexed column.
type ScanKey struct {
	Column int
	Value  any
}

// HeapScan feeds every row of the underlying table to emit. It is how Build
// reaches the table without knowing how it is stored.
type HeapScan func(ctx context.Context, emit func(Row) error) error

// Hasher produces the 32-bit digest of a column value. It must return the
// same digest for equal values across processes.
type Hasher func(value any) (uint32, error)

// ReusePool remembers pages that may be recycled instead of extending the
// file.
type ReusePool interface {
	RecordFree(blk uint32)
	GetFree() (uint32, bool)
	Forget(from uint32)
}
