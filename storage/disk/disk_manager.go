package disk

import (
	"encoding/binary"
	"errors"
	"fmt"
	"os"
	"sync"

	"github.com/klauspost/crc32"
)

const (
	PAGE_SIZE       = 4096
	INVALID_PAGE_ID = -1

	// CHECKSUM_SIZE bytes at the start of every page hold a crc32 of the rest.
	CHECKSUM_SIZE = 4
)

var (
	ErrPageOutOfRange = errors.New("page is beyond the end of the file")
	ErrChecksum       = errors.New("page checksum mismatch")
)

// NewManager wraps an open database file. A partially written trailing page
// left behind by an interrupted extension is cut off.
func NewManager(file *os.File) (*DiskManager, error) {
	info, err := file.Stat()
	if err != nil {
		return nil, fmt.Errorf("error reading db file size: %w", err)
	}

	numPages := info.Size() / PAGE_SIZE
	if info.Size()%PAGE_SIZE != 0 {
		if err := file.Truncate(numPages * PAGE_SIZE); err != nil {
			return nil, fmt.Errorf("error trimming partial page: %w", err)
		}
	}

	return &DiskManager{
		dbFile:   file,
		numPages: numPages,
	}, nil
}

func (dm *DiskManager) writePage(pageId int64, data []byte) error {
	dm.mu.RLock()
	defer dm.mu.RUnlock()

	if pageId < 0 || pageId >= dm.numPages {
		return fmt.Errorf("error writing page %d: %w", pageId, ErrPageOutOfRange)
	}

	return dm.writeAt(pageId, data)
}

func (dm *DiskManager) readPage(pageId int64) ([]byte, error) {
	dm.mu.RLock()
	defer dm.mu.RUnlock()

	if pageId < 0 || pageId >= dm.numPages {
		return nil, fmt.Errorf("error reading page %d: %w", pageId, ErrPageOutOfRange)
	}

	buf := make([]byte, PAGE_SIZE)
	offset := pageId * PAGE_SIZE
	if _, err := dm.dbFile.ReadAt(buf, offset); err != nil {
		return nil, fmt.Errorf("error reading from offset %d: %w", offset, err)
	}

	if !VerifyChecksum(buf) {
		return nil, fmt.Errorf("error reading page %d: %w", pageId, ErrChecksum)
	}

	return buf, nil
}

// RestorePage writes a page image at pageId, extending the file with zeroed
// pages when pageId lies past the end. Used by crash recovery.
func (dm *DiskManager) RestorePage(pageId int64, data []byte) error {
	dm.mu.Lock()
	defer dm.mu.Unlock()

	if pageId < 0 {
		return fmt.Errorf("error restoring page %d: %w", pageId, ErrPageOutOfRange)
	}

	if pageId >= dm.numPages {
		if err := dm.dbFile.Truncate((pageId + 1) * PAGE_SIZE); err != nil {
			return fmt.Errorf("error extending db file: %w", err)
		}
		dm.numPages = pageId + 1
	}

	return dm.writeAt(pageId, data)
}

// Extend appends one zeroed page and returns its id.
func (dm *DiskManager) Extend() (int64, error) {
	dm.mu.Lock()
	defer dm.mu.Unlock()

	pageId := dm.numPages
	if err := dm.dbFile.Truncate((pageId + 1) * PAGE_SIZE); err != nil {
		return INVALID_PAGE_ID, fmt.Errorf("error resizing db file: %w", err)
	}
	dm.numPages++

	return pageId, nil
}

// Truncate shrinks the file to numPages pages.
func (dm *DiskManager) Truncate(numPages int64) error {
	dm.mu.Lock()
	defer dm.mu.Unlock()

	if numPages < 0 || numPages > dm.numPages {
		return fmt.Errorf("error truncating to %d pages: %w", numPages, ErrPageOutOfRange)
	}

	if err := dm.dbFile.Truncate(numPages * PAGE_SIZE); err != nil {
		return fmt.Errorf("error truncating db file: %w", err)
	}
	dm.numPages = numPages

	return nil
}

func (dm *DiskManager) NumPages() int64 {
	dm.mu.RLock()
	defer dm.mu.RUnlock()

	return dm.numPages
}

func (dm *DiskManager) Sync() error {
	return syncFile(dm.dbFile)
}

func (dm *DiskManager) Close() error {
	if err := dm.Sync(); err != nil {
		return err
	}
	return dm.dbFile.Close()
}

func (dm *DiskManager) writeAt(pageId int64, data []byte) error {
	if len(data) != PAGE_SIZE {
		return fmt.Errorf("error writing page %d: got %d bytes, want %d", pageId, len(data), PAGE_SIZE)
	}

	buf := make([]byte, PAGE_SIZE)
	copy(buf, data)
	StampChecksum(buf)

	offset := pageId * PAGE_SIZE
	if _, err := dm.dbFile.WriteAt(buf, offset); err != nil {
		return fmt.Errorf("error writing at offset %d: %w", offset, err)
	}

	return nil
}

// StampChecksum stores the crc32 of page[CHECKSUM_SIZE:] in the first bytes
// of page. An all-zero page is left untouched so that it still reads as new.
func StampChecksum(page []byte) {
	if isZero(page[CHECKSUM_SIZE:]) {
		binary.LittleEndian.PutUint32(page[:CHECKSUM_SIZE], 0)
		return
	}
	binary.LittleEndian.PutUint32(page[:CHECKSUM_SIZE], crc32.ChecksumIEEE(page[CHECKSUM_SIZE:]))
}

func VerifyChecksum(page []byte) bool {
	stored := binary.LittleEndian.Uint32(page[:CHECKSUM_SIZE])
	if isZero(page[CHECKSUM_SIZE:]) {
		return stored == 0
	}
	return stored == crc32.ChecksumIEEE(page[CHECKSUM_SIZE:])
}

func isZero(b []byte) bool {
	for _, c := range b {
		if c != 0 {
			return false
		}
	}
	return true
}

type DiskManager struct {
	mu       sync.RWMutex
	dbFile   *os.File
	numPages int64
}
