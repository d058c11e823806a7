package index

import "fmt"

// Signature is a fixed-length bit vector split into 16-bit words.
type Signature []uint16

func NewSignature(length int) Signature {
	return make(Signature, length)
}

func (s Signature) numBits() int {
	return len(s) * BITS_PER_WORD
}

func (s Signature) setBit(pos int) {
	s[pos/BITS_PER_WORD] |= 1 << (pos % BITS_PER_WORD)
}

func (s Signature) isSet(pos int) bool {
	return s[pos/BITS_PER_WORD]&(1<<(pos%BITS_PER_WORD)) != 0
}

func (s Signature) isEmpty() bool {
	for _, w := range s {
		if w != 0 {
			return false
		}
	}
	return true
}

// signValue sets bits positions derived from (column, hash) into sig. The
// generator state lives on the stack, so equal inputs always give equal
// positions regardless of what other callers do.
func signValue(sig Signature, column int, hash uint32, bits int) {
	state := uint64(column)
	state = uint64(hash) ^ splitmix(&state)

	n := uint64(sig.numBits())
	for range bits {
		sig.setBit(int(splitmix(&state) % n))
	}
}

// splitmix advances state and returns the next splitmix64 output.
func splitmix(state *uint64) uint64 {
	*state += 0x9E3779B97F4A7C15
	z := *state
	z = (z ^ (z >> 30)) * 0xBF58476D1CE4E5B9
	z = (z ^ (z >> 27)) * 0x94D049BB133111EB
	return z ^ (z >> 31)
}

// rowSignature builds the signature of one row. Null columns add no bits.
func (idx *Index) rowSignature(values []any) (Signature, error) {
	if len(values) != len(idx.cfg.Columns) {
		return nil, fmt.Errorf("%w: got %d values, index has %d columns", ErrColumnCount, len(values), len(idx.cfg.Columns))
	}

	sig := NewSignature(idx.cfg.Length)
	for col, value := range values {
		if value == nil {
			continue
		}
		if err := idx.signColumn(sig, col, value); err != nil {
			return nil, err
		}
	}

	return sig, nil
}

func (idx *Index) signColumn(sig Signature, col int, value any) error {
	hash, err := idx.hashers[col](value)
	if err != nil {
		return fmt.Errorf("error hashing column %d: %w", col, err)
	}

	signValue(sig, col, hash, idx.cfg.Columns[col])
	return nil
}
