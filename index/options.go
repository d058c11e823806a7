package index

import (
	"fmt"
	"hash/fnv"

	"github.com/jobala/bloomidx/freespace"
	"github.com/jobala/bloomidx/util"
	"golang.org/x/time/rate"
)

const (
	DEFAULT_LENGTH = 5
	DEFAULT_BITS   = 2

	MAX_LENGTH  = 256
	MAX_BITS    = 2047
	MAX_COLUMNS = 32

	DEFAULT_SEQ_PAGE_COST = 1.0

	DEFAULT_CHECKPOINT_BYTES = 16 << 20
)

// Config is fixed when the index is created and stored in the metapage.
// Columns holds the number of bits set per column; its length is the number
// of indexed columns. Zero values take the defaults.
type Config struct {
	Length  int   `yaml:"length"`
	Columns []int `yaml:"columns"`
}

func DefaultConfig(numColumns int) Config {
	cols := make([]int, numColumns)
	for i := range cols {
		cols[i] = DEFAULT_BITS
	}
	return Config{Length: DEFAULT_LENGTH, Columns: cols}
}

// Validate fills in defaults and checks every value against its allowed
// range.
func (c Config) Validate() (Config, error) {
	res := Config{Length: c.Length, Columns: make([]int, len(c.Columns))}

	if res.Length == 0 {
		res.Length = DEFAULT_LENGTH
	}
	if res.Length < 1 || res.Length > MAX_LENGTH {
		return Config{}, util.NewConfigError("length",
			fmt.Sprintf("length must be between 1 and %d, got %d", MAX_LENGTH, c.Length))
	}

	if len(c.Columns) == 0 {
		return Config{}, util.NewConfigError("columns", "at least one column must be indexed")
	}
	if len(c.Columns) > MAX_COLUMNS {
		return Config{}, util.NewConfigError("columns",
			fmt.Sprintf("at most %d columns can be indexed, got %d", MAX_COLUMNS, len(c.Columns)))
	}

	maxBits := res.Length * BITS_PER_WORD
	for i, bits := range c.Columns {
		option := fmt.Sprintf("col%d", i+1)
		if bits == 0 {
			bits = DEFAULT_BITS
		}
		if bits < 1 || bits > MAX_BITS {
			return Config{}, util.NewConfigError(option,
				fmt.Sprintf("bits for column %d must be between 1 and %d, got %d", i+1, MAX_BITS, bits))
		}
		if bits >= maxBits {
			return Config{}, util.NewConfigError(option,
				fmt.Sprintf("bits for column %d must be less than the signature length of %d bits", i+1, maxBits))
		}
		res.Columns[i] = bits
	}

	return res, nil
}

// tupleSize is the stride of one index tuple.
func (c Config) tupleSize() int {
	return LOCATOR_SIZE + c.Length*2
}

// DefaultHasher is FNV-1a over the canonical encoding of the value.
func DefaultHasher(value any) (uint32, error) {
	data, err := util.Canonical(value)
	if err != nil {
		return 0, err
	}

	h := fnv.New32a()
	_, _ = h.Write(data)
	return h.Sum32(), nil
}

type Option func(*options)

type options struct {
	logger      *util.Logger
	pool        ReusePool
	hashers     []Hasher
	limiter     *rate.Limiter
	seqPageCost float64

	// checkpointBytes of write-ahead log trigger a checkpoint, <= 0 never
	checkpointBytes int64
}

func defaultOptions() options {
	return options{
		logger:      util.NoopLogger(),
		pool:        freespace.NewPool(),
		seqPageCost: DEFAULT_SEQ_PAGE_COST,

		checkpointBytes: DEFAULT_CHECKPOINT_BYTES,
	}
}

func WithLogger(logger *util.Logger) Option {
	return func(o *options) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// WithReusePool replaces the private in-memory pool, e.g. to share one pool
// between index handles on the same file.
func WithReusePool(pool ReusePool) Option {
	return func(o *options) {
		if pool != nil {
			o.pool = pool
		}
	}
}

// WithHashers sets the hash function per column. Missing or nil entries use
// DefaultHasher.
func WithHashers(hashers ...Hasher) Option {
	return func(o *options) {
		o.hashers = hashers
	}
}

// WithVacuumRate limits vacuum to pagesPerSecond page visits.
func WithVacuumRate(pagesPerSecond float64, burst int) Option {
	return func(o *options) {
		if pagesPerSecond <= 0 {
			o.limiter = nil
			return
		}
		if burst < 1 {
			burst = 1
		}
		o.limiter = rate.NewLimiter(rate.Limit(pagesPerSecond), burst)
	}
}

func WithSeqPageCost(cost float64) Option {
	return func(o *options) {
		if cost > 0 {
			o.seqPageCost = cost
		}
	}
}

// WithCheckpointBytes checkpoints the index once an insert or vacuum leaves
// the write-ahead log at least n bytes long. Zero keeps the default, a
// negative n turns automatic checkpoints off.
func WithCheckpointBytes(n int64) Option {
	return func(o *options) {
		if n != 0 {
			o.checkpointBytes = n
		}
	}
}

func (o *options) resolveHashers(numColumns int) []Hasher {
	res := make([]Hasher, numColumns)
	for i := range res {
		if i < len(o.hashers) && o.hashers[i] != nil {
			res[i] = o.hashers[i]
		} else {
			res[i] = DefaultHasher
		}
	}
	return res
}
