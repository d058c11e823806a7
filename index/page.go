package index

import (
	"encoding/binary"
	"fmt"

	"github.com/jobala/bloomidx/storage/disk"
	"github.com/jobala/bloomidx/util"
)

// Every page starts with
//
//	checksum u32 | liveCount u16 | flags u16
//
// The checksum belongs to the disk manager. Data pages follow the header with
// a packed array of tuples, each LOCATOR_SIZE bytes of row locator and then
// the signature words.
const (
	PAGE_HEADER_SIZE = 8

	liveCountOffset = disk.CHECKSUM_SIZE
	flagsOffset     = disk.CHECKSUM_SIZE + 2
)

// dataPage is a view over the bytes of a buffered page.
type dataPage struct {
	data   []byte
	stride int
}

func newDataPage(data []byte, stride int) dataPage {
	return dataPage{data: data, stride: stride}
}

func (p dataPage) liveCount() int {
	return int(binary.LittleEndian.Uint16(p.data[liveCountOffset:]))
}

func (p dataPage) setLiveCount(n int) {
	binary.LittleEndian.PutUint16(p.data[liveCountOffset:], uint16(n))
}

func (p dataPage) flags() PAGE_FLAG {
	return binary.LittleEndian.Uint16(p.data[flagsOffset:])
}

func (p dataPage) setFlags(flags PAGE_FLAG) {
	binary.LittleEndian.PutUint16(p.data[flagsOffset:], flags)
}

func (p dataPage) isDeleted() bool {
	return p.flags()&DELETED_PAGE != 0
}

func (p dataPage) isMeta() bool {
	return p.flags()&META_PAGE != 0
}

// isNew reports a page that was allocated but never initialised.
func (p dataPage) isNew() bool {
	return p.liveCount() == 0 && p.flags() == 0
}

func (p dataPage) markDeleted() {
	p.setFlags(p.flags() | DELETED_PAGE)
}

// capacity is the number of tuples that fit on an empty page.
func (p dataPage) capacity() int {
	return (disk.PAGE_SIZE - PAGE_HEADER_SIZE) / p.stride
}

func (p dataPage) freeSpace() int {
	return disk.PAGE_SIZE - PAGE_HEADER_SIZE - p.liveCount()*p.stride
}

// init resets the page to hold no tuples.
func (p dataPage) init(flags PAGE_FLAG) {
	clear(p.data[disk.CHECKSUM_SIZE:])
	p.setLiveCount(0)
	p.setFlags(flags)
}

// addTuple appends tuple when there is room for it.
func (p dataPage) addTuple(tuple indexTuple) bool {
	if p.freeSpace() < p.stride {
		return false
	}

	n := p.liveCount()
	copy(p.slot(n), tuple)
	p.setLiveCount(n + 1)

	return true
}

// tupleAt returns the i-th live tuple. It panics when i is not below
// liveCount.
func (p dataPage) tupleAt(i int) indexTuple {
	if i < 0 || i >= p.liveCount() {
		panic(fmt.Sprintf("tuple %d out of range [0,%d)", i, p.liveCount()))
	}
	return indexTuple(p.slot(i))
}

// moveTuple copies tuple from into slot to, to < from.
func (p dataPage) moveTuple(to, from int) {
	copy(p.slot(to), p.slot(from))
}

func (p dataPage) slot(i int) []byte {
	off := PAGE_HEADER_SIZE + i*p.stride
	return p.data[off : off+p.stride : off+p.stride]
}

// verify rejects pages whose header cannot be trusted.
func (p dataPage) verify(blk uint32) error {
	if p.isMeta() {
		return util.NewFormatError(fmt.Sprintf("block %d is a metapage inside the data area", blk))
	}
	if p.liveCount() > p.capacity() {
		return util.NewFormatError(fmt.Sprintf("block %d claims %d tuples, at most %d fit", blk, p.liveCount(), p.capacity()))
	}
	return nil
}

// indexTuple is one stored (locator, signature) pair in its on-page form.
type indexTuple []byte

func newTuple(loc RowLocator, sig Signature) indexTuple {
	t := make(indexTuple, LOCATOR_SIZE+len(sig)*2)
	loc.put(t)
	for i, w := range sig {
		binary.LittleEndian.PutUint16(t[LOCATOR_SIZE+i*2:], w)
	}
	return t
}

func (t indexTuple) locator() RowLocator {
	return readLocator(t)
}

func (t indexTuple) word(i int) uint16 {
	return binary.LittleEndian.Uint16(t[LOCATOR_SIZE+i*2:])
}

// matches reports whether every bit of query is set in the stored signature.
func (t indexTuple) matches(query Signature) bool {
	for i, w := range query {
		if t.word(i)&w != w {
			return false
		}
	}
	return true
}

func (t indexTuple) signature() Signature {
	sig := NewSignature((len(t) - LOCATOR_SIZE) / 2)
	for i := range sig {
		sig[i] = t.word(i)
	}
	return sig
}
