// Package index implements a bloom filter index over the buffer pool. Each
// row is stored as a fixed-size signature; equality lookups on any subset of
// the indexed columns scan all signatures and return candidate rows that the
// caller must recheck.
package index

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/jobala/bloomidx/buffer"
	"github.com/jobala/bloomidx/util"
	"golang.org/x/time/rate"
)

var (
	ErrNotEmpty    = errors.New("index already contains data")
	ErrColumnCount = errors.New("value count does not match indexed columns")
	ErrBadColumn   = errors.New("scan key column is not indexed")
)

// Open attaches to an existing index. The metapage must carry the bloom magic
// number, otherwise a FormatError is returned.
func Open(bpm *buffer.BufferpoolManager, opts ...Option) (*Index, error) {
	if bpm.NumPages() == 0 {
		return nil, util.NewFormatError("file holds no metapage")
	}

	guard, err := bpm.ReadPage(META_BLOCK)
	if err != nil {
		return nil, fmt.Errorf("error reading metapage: %w", err)
	}
	cfg, err := newMetaPage(guard.GetData()).verify()
	guard.Drop()
	if err != nil {
		return nil, err
	}

	return newIndex(bpm, cfg, opts), nil
}

// Create formats an empty file as an index with no rows.
func Create(ctx context.Context, bpm *buffer.BufferpoolManager, cfg Config, opts ...Option) (*Index, error) {
	idx, _, err := Build(ctx, bpm, cfg, nil, opts...)
	return idx, err
}

func newIndex(bpm *buffer.BufferpoolManager, cfg Config, opts []Option) *Index {
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}

	return &Index{
		bpm:         bpm,
		cfg:         cfg,
		stride:      cfg.tupleSize(),
		hashers:     o.resolveHashers(len(cfg.Columns)),
		pool:        o.pool,
		limiter:     o.limiter,
		seqPageCost: o.seqPageCost,
		logger:      o.logger.With("component", "bloom"),

		checkpointBytes: o.checkpointBytes,
	}
}

func (idx *Index) Config() Config {
	return idx.cfg
}

// TupleSize is the number of bytes one row takes on a page.
func (idx *Index) TupleSize() int {
	return idx.stride
}

// NumPages counts the metapage and every data page.
func (idx *Index) NumPages() uint32 {
	return uint32(idx.bpm.NumPages())
}

// Checkpoint writes every buffered page to the data file and empties the
// write-ahead log. It waits for running operations to finish.
func (idx *Index) Checkpoint() error {
	idx.gate.Lock()
	defer idx.gate.Unlock()

	if err := idx.bpm.Checkpoint(); err != nil {
		return fmt.Errorf("error checkpointing index: %w", err)
	}
	idx.logger.Debug("checkpoint completed", "pages", idx.bpm.NumPages())

	return nil
}

// maybeCheckpoint checkpoints once the write-ahead log has outgrown the
// configured size. It must be called without the gate held. A failed
// checkpoint leaves the log in place and is only logged, the operation that
// triggered it is already durable.
func (idx *Index) maybeCheckpoint(ctx context.Context) {
	if idx.checkpointBytes <= 0 || idx.bpm.WALSize() < idx.checkpointBytes {
		return
	}

	idx.gate.Lock()
	defer idx.gate.Unlock()

	// another caller may have checkpointed while we waited
	size := idx.bpm.WALSize()
	if size < idx.checkpointBytes {
		return
	}
	if err := idx.bpm.Checkpoint(); err != nil {
		idx.logger.WarnContext(ctx, "automatic checkpoint failed", "wal_bytes", size, "error", err)
		return
	}
	idx.logger.DebugContext(ctx, "automatic checkpoint completed", "wal_bytes", size)
}

func (idx *Index) Close() error {
	return idx.Checkpoint()
}

// dataPage wraps a page of this index.
func (idx *Index) page(data []byte) dataPage {
	return newDataPage(data, idx.stride)
}

func (idx *Index) wait(ctx context.Context) error {
	if idx.limiter != nil {
		return idx.limiter.Wait(ctx)
	}
	return ctx.Err()
}

type Index struct {
	// gate is held shared by every operation and exclusively by Checkpoint
	gate sync.RWMutex
	// vacuumMu serialises BulkDelete and VacuumCleanup
	vacuumMu sync.Mutex

	bpm     *buffer.BufferpoolManager
	cfg     Config
	stride  int
	hashers []Hasher
	pool    ReusePool

	limiter     *rate.Limiter
	seqPageCost float64
	logger      *util.Logger

	checkpointBytes int64
}
