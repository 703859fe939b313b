package cache

import (
	"fmt"

	"github.com/vmihailenco/msgpack/v5"
)

// encode serializes a cache value. Parsed entries decode back into
// map[string]any and []any.
func encode(v any) ([]byte, error) {
	data, err := msgpack.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encode cache value: %w", err)
	}
	return data, nil
}

func decode(data []byte, out any) error {
	if err := msgpack.Unmarshal(data, out); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidEntry, err)
	}
	return nil
}
