package util

import (
	"fmt"

	"github.com/vmihailenco/msgpack"
)

// Encode serializes obj with msgpack.
func Encode[T any](obj T) ([]byte, error) {
	data, err := msgpack.Marshal(obj)
	if err != nil {
		return nil, fmt.Errorf("error encoding %T: %w", obj, err)
	}

	return data, nil
}

func Decode[T any](data []byte) (T, error) {
	var res T

	if err := msgpack.Unmarshal(data, &res); err != nil {
		return res, fmt.Errorf("error decoding %T: %w", res, err)
	}

	return res, nil
}

// Canonical returns a stable byte encoding of a column value. Integers
// holding the same number encode identically whatever their width or
// signedness: non-negative values as uint64, negative ones as int64.
func Canonical(value any) ([]byte, error) {
	switch v := value.(type) {
	case []byte:
		return v, nil
	case string:
		return []byte(v), nil
	case int:
		return canonicalInt(int64(v))
	case int8:
		return canonicalInt(int64(v))
	case int16:
		return canonicalInt(int64(v))
	case int32:
		return canonicalInt(int64(v))
	case int64:
		return canonicalInt(v)
	case uint:
		return Encode(uint64(v))
	case uint8:
		return Encode(uint64(v))
	case uint16:
		return Encode(uint64(v))
	case uint32:
		return Encode(uint64(v))
	case uint64:
		return Encode(v)
	case float32:
		return Encode(float64(v))
	}

	return Encode(value)
}

func canonicalInt(v int64) ([]byte, error) {
	if v >= 0 {
		return Encode(uint64(v))
	}
	return Encode(v)
}
