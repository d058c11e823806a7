// Package wal is a redo-only write-ahead log. Every record is one atomic unit
// of change: a set of full page images, or a truncation of the data file.
// Recovery replays complete records in order; a torn record at the tail is
// discarded together with everything after it.
package wal

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/jobala/bloomidx/storage/disk"
	"github.com/jobala/bloomidx/util"
	"github.com/klauspost/crc32"
)

// frame layout: length u32 | crc32(body) u32 | body
const frameHeaderSize = 8

// maxRecordSize bounds a single record; anything larger at recovery time is
// treated as garbage.
const maxRecordSize = 64 << 20

var ErrClosed = errors.New("wal is closed")

type Kind uint8

const (
	KindPages Kind = iota + 1
	KindTruncate
)

type PageImage struct {
	PageId      int64       `msgpack:"p"`
	Compression Compression `msgpack:"c"`
	RawLen      int         `msgpack:"n"`
	Data        []byte      `msgpack:"d"`
}

type Record struct {
	LSN      uint64      `msgpack:"l"`
	Kind     Kind        `msgpack:"k"`
	Pages    []PageImage `msgpack:"i,omitempty"`
	NumPages int64       `msgpack:"t,omitempty"`
}

type Options struct {
	Compression Compression
	Logger      *util.Logger
}

// Open opens or creates the log at path and positions it after the last
// complete record.
func Open(path string, opts Options) (*Log, error) {
	file, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0644)
	if err != nil {
		return nil, fmt.Errorf("error opening wal: %w", err)
	}

	if opts.Logger == nil {
		opts.Logger = util.NoopLogger()
	}

	l := &Log{
		file:   file,
		path:   path,
		opts:   opts,
		logger: opts.Logger.With("component", "wal"),
	}

	records, end, err := l.scan()
	if err != nil {
		_ = file.Close()
		return nil, err
	}
	if err := file.Truncate(end); err != nil {
		_ = file.Close()
		return nil, fmt.Errorf("error trimming wal tail: %w", err)
	}

	l.size = end
	l.records = records
	if n := len(records); n > 0 {
		l.nextLSN = records[n-1].LSN + 1
	} else {
		l.nextLSN = 1
	}

	return l, nil
}

// LogPages appends one atomic unit made of the given page images.
func (l *Log) LogPages(pages map[int64][]byte) (uint64, error) {
	rec := Record{Kind: KindPages}
	for pageId, data := range pages {
		encoded, c, err := compress(data, l.opts.Compression)
		if err != nil {
			return 0, fmt.Errorf("error compressing page %d: %w", pageId, err)
		}
		rec.Pages = append(rec.Pages, PageImage{
			PageId:      pageId,
			Compression: c,
			RawLen:      len(data),
			Data:        encoded,
		})
	}

	return l.append(rec)
}

func (l *Log) LogTruncate(numPages int64) (uint64, error) {
	return l.append(Record{Kind: KindTruncate, NumPages: numPages})
}

func (l *Log) append(rec Record) (uint64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.closed {
		return 0, ErrClosed
	}

	rec.LSN = l.nextLSN
	body, err := util.Encode(rec)
	if err != nil {
		return 0, err
	}

	buf := make([]byte, frameHeaderSize+len(body))
	binary.LittleEndian.PutUint32(buf[0:4], uint32(len(body)))
	binary.LittleEndian.PutUint32(buf[4:8], crc32.ChecksumIEEE(body))
	copy(buf[frameHeaderSize:], body)

	if _, err := l.file.WriteAt(buf, l.size); err != nil {
		return 0, fmt.Errorf("error appending wal record: %w", err)
	}
	if err := disk.SyncFile(l.file); err != nil {
		return 0, fmt.Errorf("error syncing wal: %w", err)
	}

	l.size += int64(len(buf))
	l.nextLSN++
	l.pending++

	return rec.LSN, nil
}

// Replay applies the records found at open time to dm and syncs it. It
// returns the number of records applied.
func (l *Log) Replay(dm *disk.DiskManager) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	for _, rec := range l.records {
		switch rec.Kind {
		case KindPages:
			for _, img := range rec.Pages {
				data, err := decompress(img.Data, img.Compression, img.RawLen)
				if err != nil {
					return 0, fmt.Errorf("error decoding page %d at lsn %d: %w", img.PageId, rec.LSN, err)
				}
				if err := dm.RestorePage(img.PageId, data); err != nil {
					return 0, err
				}
			}
		case KindTruncate:
			if rec.NumPages < dm.NumPages() {
				if err := dm.Truncate(rec.NumPages); err != nil {
					return 0, err
				}
			}
		default:
			return 0, fmt.Errorf("unknown wal record kind %d at lsn %d", rec.Kind, rec.LSN)
		}
	}

	if err := dm.Sync(); err != nil {
		return 0, err
	}

	n := len(l.records)
	if n > 0 {
		l.logger.Info("wal replayed", "records", n, "last_lsn", l.records[n-1].LSN)
	}
	l.records = nil

	return n, nil
}

// Reset discards all records. Callers must have made the data file durable
// first.
func (l *Log) Reset() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.closed {
		return ErrClosed
	}

	if err := l.file.Truncate(0); err != nil {
		return fmt.Errorf("error resetting wal: %w", err)
	}
	if err := disk.SyncFile(l.file); err != nil {
		return err
	}
	l.size = 0
	l.pending = 0
	l.records = nil

	return nil
}

// Size is the current log length in bytes.
func (l *Log) Size() int64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.size
}

// Pending is the number of records appended since the last reset.
func (l *Log) Pending() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.pending
}

func (l *Log) Path() string {
	return l.path
}

func (l *Log) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.closed {
		return nil
	}
	l.closed = true

	return l.file.Close()
}

func (l *Log) scan() ([]Record, int64, error) {
	info, err := l.file.Stat()
	if err != nil {
		return nil, 0, fmt.Errorf("error reading wal size: %w", err)
	}

	var (
		records []Record
		offset  int64
		header  = make([]byte, frameHeaderSize)
	)

	for offset+frameHeaderSize <= info.Size() {
		if _, err := l.file.ReadAt(header, offset); err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			return nil, 0, fmt.Errorf("error reading wal: %w", err)
		}

		length := int64(binary.LittleEndian.Uint32(header[0:4]))
		sum := binary.LittleEndian.Uint32(header[4:8])
		if length == 0 || length > maxRecordSize || offset+frameHeaderSize+length > info.Size() {
			break
		}

		body := make([]byte, length)
		if _, err := l.file.ReadAt(body, offset+frameHeaderSize); err != nil {
			break
		}
		if crc32.ChecksumIEEE(body) != sum {
			break
		}

		rec, err := util.Decode[Record](body)
		if err != nil {
			break
		}

		records = append(records, rec)
		offset += frameHeaderSize + length
	}

	if offset < info.Size() {
		l.logger.Warn("discarding torn wal tail", "offset", offset, "size", info.Size())
	}

	return records, offset, nil
}

type Log struct {
	mu      sync.Mutex
	file    *os.File
	path    string
	opts    Options
	logger  *util.Logger
	size    int64
	nextLSN uint64
	pending int
	records []Record
	closed  bool
}
