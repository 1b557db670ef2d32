package chunk

import (
	"context"
	"encoding/json"
	"fmt"
)

// maxMapLevels bounds map indirection. A map that has not shrunk to a
// single chunk after this many packing rounds is not converging.
const maxMapLevels = 16

// PackMap shrinks a map until its serialized form fits in a single chunk.
// Each round encrypts the serialized map, yielding extra chunks and a map
// one level deeper that references them. Callers hold the returned map
// and store the returned chunks alongside the payload chunks.
func PackMap(m DataMap, opts Options) (DataMap, []Chunk, error) {
	opts = opts.withDefaults()
	var packed []Chunk
	for {
		buf, err := json.Marshal(m)
		if err != nil {
			return DataMap{}, nil, fmt.Errorf("failed to marshal data map: %w", err)
		}
		if len(buf) <= opts.MaxSize {
			return m, packed, nil
		} else if m.Level >= maxMapLevels {
			return DataMap{}, nil, fmt.Errorf("data map still %d bytes after %d levels", len(buf), m.Level)
		}
		child, chunks, err := Encrypt(buf, opts)
		if err != nil {
			return DataMap{}, nil, fmt.Errorf("failed to encrypt data map: %w", err)
		}
		child.Level = m.Level + 1
		packed = append(packed, chunks...)
		m = child
	}
}

// UnpackMap resolves indirection until it reaches the level-zero map
// whose refs address payload chunks. fetch returns the ciphertext of one
// chunk. Iteration is bounded by the level counter, so a corrupt map
// cannot loop.
func UnpackMap(ctx context.Context, m DataMap, fetch func(context.Context, Address) ([]byte, error)) (DataMap, error) {
	for m.Level > 0 {
		chunks := make([]Chunk, 0, len(m.Refs))
		for _, ref := range m.Refs {
			data, err := fetch(ctx, ref.Address)
			if err != nil {
				return DataMap{}, fmt.Errorf("failed to fetch data map chunk %v: %w", ref.Address, err)
			}
			chunks = append(chunks, Chunk{Address: ref.Address, Data: data})
		}
		buf, err := Decrypt(m, chunks)
		if err != nil {
			return DataMap{}, fmt.Errorf("failed to decode data map: %w", err)
		}
		var inner DataMap
		if err := json.Unmarshal(buf, &inner); err != nil {
			return DataMap{}, fmt.Errorf("failed to unmarshal data map: %w", err)
		} else if inner.Level != m.Level-1 {
			return DataMap{}, fmt.Errorf("expected data map level %d, got %d", m.Level-1, inner.Level)
		}
		m = inner
	}
	return m, nil
}
