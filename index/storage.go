package index

import (
	"errors"
	"fmt"
	"os"

	"github.com/jobala/bloomidx/buffer"
	"github.com/jobala/bloomidx/storage/disk"
	"github.com/jobala/bloomidx/storage/wal"
	"github.com/jobala/bloomidx/util"
)

const (
	DEFAULT_POOL_SIZE  = 64
	DEFAULT_REPLACER_K = 2
)

// StorageConfig sizes the page store under one index file.
type StorageConfig struct {
	PoolSize    int    `yaml:"pool_size"`
	ReplacerK   int    `yaml:"replacer_k"`
	Compression string `yaml:"wal_compression"`

	// CheckpointBytes is handed to WithCheckpointBytes by callers that open
	// an index on this storage.
	CheckpointBytes int64 `yaml:"checkpoint_bytes"`
}

// Storage is the page store stack for one index file: the data file, its
// write-ahead log next to it, the disk scheduler and the buffer pool.
type Storage struct {
	BPM *buffer.BufferpoolManager

	file      *os.File
	dm        *disk.DiskManager
	scheduler *disk.DiskScheduler
	log       *wal.Log
	logger    *util.Logger
}

// OpenStorage opens or creates the index file at path. Records left in the
// write-ahead log by a crash are replayed into the file before the buffer
// pool starts.
func OpenStorage(path string, cfg StorageConfig, logger *util.Logger) (*Storage, error) {
	if logger == nil {
		logger = util.NoopLogger()
	}
	if cfg.PoolSize <= 0 {
		cfg.PoolSize = DEFAULT_POOL_SIZE
	}
	if cfg.ReplacerK <= 0 {
		cfg.ReplacerK = DEFAULT_REPLACER_K
	}
	compression, err := wal.ParseCompression(cfg.Compression)
	if err != nil {
		return nil, util.NewConfigError("wal_compression", err.Error())
	}

	file, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0644)
	if err != nil {
		return nil, fmt.Errorf("error opening index file: %w", err)
	}

	dm, err := disk.NewManager(file)
	if err != nil {
		_ = file.Close()
		return nil, err
	}

	log, err := wal.Open(path+".wal", wal.Options{Compression: compression, Logger: logger})
	if err != nil {
		_ = file.Close()
		return nil, err
	}

	if _, err := log.Replay(dm); err != nil {
		_ = log.Close()
		_ = file.Close()
		return nil, fmt.Errorf("error recovering index: %w", err)
	}

	scheduler := disk.NewScheduler(dm)
	bpm := buffer.NewBufferpoolManager(cfg.PoolSize, buffer.NewLrukReplacer(cfg.PoolSize, cfg.ReplacerK), scheduler,
		buffer.WithWAL(log),
		buffer.WithLogger(logger),
	)

	return &Storage{
		BPM:       bpm,
		file:      file,
		dm:        dm,
		scheduler: scheduler,
		log:       log,
		logger:    logger,
	}, nil
}

// Path is the data file location.
func (s *Storage) Path() string {
	return s.file.Name()
}

// WALSize is the current length of the write-ahead log in bytes.
func (s *Storage) WALSize() int64 {
	return s.log.Size()
}

// Close checkpoints and releases the file. Storage must not be used after.
func (s *Storage) Close() error {
	err := s.BPM.Checkpoint()
	err = errors.Join(err, s.scheduler.Close())
	err = errors.Join(err, s.log.Close())
	err = errors.Join(err, s.dm.Close())
	if err != nil {
		s.logger.Error("error closing storage", "path", s.file.Name(), "error", err)
	}
	return err
}
