package index

import (
	"encoding/binary"
	"fmt"
	"slices"

	"github.com/jobala/bloomidx/storage/disk"
	"github.com/jobala/bloomidx/util"
)

// Metapage layout after the common page header:
//
//	magic u32 | start u16 | end u16 | length u16 | ncolumns u16 | bits [32]u16 | entries []u32
//
// entries[start:end] is the free-list.
const (
	magicOffset    = PAGE_HEADER_SIZE
	startOffset    = magicOffset + 4
	endOffset      = startOffset + 2
	lengthOffset   = endOffset + 2
	columnsOffset  = lengthOffset + 2
	bitsOffset     = columnsOffset + 2
	entriesOffset  = bitsOffset + MAX_COLUMNS*2
	FREE_LIST_SIZE = (disk.PAGE_SIZE - entriesOffset) / 4
)

type metaPage struct {
	data []byte
}

func newMetaPage(data []byte) metaPage {
	return metaPage{data: data}
}

// init formats the page as an empty metapage holding cfg.
func (m metaPage) init(cfg Config) {
	p := dataPage{data: m.data}
	p.init(META_PAGE)

	binary.LittleEndian.PutUint32(m.data[magicOffset:], BLOOM_MAGIC)
	binary.LittleEndian.PutUint16(m.data[lengthOffset:], uint16(cfg.Length))
	binary.LittleEndian.PutUint16(m.data[columnsOffset:], uint16(len(cfg.Columns)))
	for i, bits := range cfg.Columns {
		binary.LittleEndian.PutUint16(m.data[bitsOffset+i*2:], uint16(bits))
	}
	m.setFreeList(nil)
}

// verify checks that the page describes a bloom index and returns the stored
// configuration.
func (m metaPage) verify() (Config, error) {
	p := dataPage{data: m.data}
	if !p.isMeta() {
		return Config{}, util.NewFormatError("block 0 is not a bloom metapage")
	}
	if magic := m.magic(); magic != BLOOM_MAGIC {
		return Config{}, util.NewFormatError(fmt.Sprintf("wrong magic number %#x, want %#x", magic, uint32(BLOOM_MAGIC)))
	}
	if m.start() > m.end() || int(m.end()) > FREE_LIST_SIZE {
		return Config{}, util.NewFormatError(fmt.Sprintf("free-list bounds [%d,%d) are invalid", m.start(), m.end()))
	}

	ncols := int(binary.LittleEndian.Uint16(m.data[columnsOffset:]))
	if ncols > MAX_COLUMNS {
		return Config{}, util.NewFormatError(fmt.Sprintf("metapage lists %d columns", ncols))
	}

	cfg := Config{
		Length:  int(binary.LittleEndian.Uint16(m.data[lengthOffset:])),
		Columns: make([]int, ncols),
	}
	for i := range cfg.Columns {
		cfg.Columns[i] = int(binary.LittleEndian.Uint16(m.data[bitsOffset+i*2:]))
	}

	// a stored configuration is always complete, so validation must not
	// change it
	valid, err := cfg.Validate()
	if err != nil || valid.Length != cfg.Length || !slices.Equal(valid.Columns, cfg.Columns) {
		return Config{}, util.NewFormatError(fmt.Sprintf("stored configuration is invalid: %v", err))
	}

	return cfg, nil
}

func (m metaPage) magic() uint32 {
	return binary.LittleEndian.Uint32(m.data[magicOffset:])
}

func (m metaPage) start() uint16 {
	return binary.LittleEndian.Uint16(m.data[startOffset:])
}

func (m metaPage) setStart(v uint16) {
	binary.LittleEndian.PutUint16(m.data[startOffset:], v)
}

func (m metaPage) end() uint16 {
	return binary.LittleEndian.Uint16(m.data[endOffset:])
}

func (m metaPage) setEnd(v uint16) {
	binary.LittleEndian.PutUint16(m.data[endOffset:], v)
}

func (m metaPage) entry(i uint16) uint32 {
	return binary.LittleEndian.Uint32(m.data[entriesOffset+int(i)*4:])
}

func (m metaPage) setEntry(i uint16, blk uint32) {
	binary.LittleEndian.PutUint32(m.data[entriesOffset+int(i)*4:], blk)
}

// head returns the first free-list entry without removing it.
func (m metaPage) head() (uint32, bool) {
	if m.start() >= m.end() {
		return INVALID_BLOCK, false
	}
	return m.entry(m.start()), true
}

// freeList returns a copy of the listed pages in list order.
func (m metaPage) freeList() []uint32 {
	res := make([]uint32, 0, m.end()-m.start())
	for i := m.start(); i < m.end(); i++ {
		res = append(res, m.entry(i))
	}
	return res
}

// setFreeList replaces the list wholesale. Entries past FREE_LIST_SIZE are
// dropped.
func (m metaPage) setFreeList(blocks []uint32) {
	if len(blocks) > FREE_LIST_SIZE {
		blocks = blocks[:FREE_LIST_SIZE]
	}
	for i, blk := range blocks {
		m.setEntry(uint16(i), blk)
	}
	m.setStart(0)
	m.setEnd(uint16(len(blocks)))
}
