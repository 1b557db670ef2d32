// Package chunk implements a self-encrypting chunk codec: payloads are
// split into content-addressed pieces whose encryption keys derive from
// the plaintext hashes of their neighboring pieces. Anyone holding the
// resulting DataMap can decrypt; anyone holding only chunks cannot.
package chunk

import (
	"errors"
	"fmt"
)

const (
	// MinChunks is the smallest number of pieces a payload is split into.
	// Key derivation consumes two neighbor hashes per piece, so fewer than
	// three pieces cannot form the neighbor cycle.
	MinChunks = 3

	// DefaultMinSize and DefaultMaxSize bound piece sizes when no explicit
	// range is configured.
	DefaultMinSize = 1
	DefaultMaxSize = 512 << 10 // 512 KiB
)

var (
	// ErrEmptyInput is returned when a payload holds no bytes.
	ErrEmptyInput = errors.New("empty input")

	// ErrInsufficientChunks is returned when a payload is too small to
	// split into the minimum number of non-empty pieces.
	ErrInsufficientChunks = errors.New("insufficient chunks")
)

type (
	// Options bound the sizes of the pieces a payload is split into. The
	// zero value applies DefaultMinSize and DefaultMaxSize.
	Options struct {
		MinSize int
		MaxSize int
	}

	// A Chunk is an encrypted, content-addressed piece of a payload. Its
	// address is the hash of its own ciphertext.
	Chunk struct {
		Address Address `json:"address"`
		Data    []byte  `json:"data"`
	}

	// A Ref records how one piece of a payload was encrypted: the hash
	// and size of its plaintext and the content address of its
	// ciphertext.
	Ref struct {
		Index     int     `json:"index"`
		PlainHash Address `json:"plainHash"`
		PlainSize uint64  `json:"plainSize"`
		Address   Address `json:"address"`
	}

	// A DataMap is the ordered manifest required to fetch, decrypt, and
	// reassemble a payload; chunk keys derive from the plain hashes it
	// records, so it is the sole capability for the payload. At level 0
	// the refs address payload chunks directly; at level n > 0 they
	// address chunks of the serialized level n-1 map.
	DataMap struct {
		Level int   `json:"level"`
		Refs  []Ref `json:"refs"`
	}
)

// NewChunk wraps data in a content-addressed chunk.
func NewChunk(data []byte) Chunk {
	return Chunk{Address: AddressOf(data), Data: data}
}

func (o Options) withDefaults() Options {
	if o.MinSize <= 0 {
		o.MinSize = DefaultMinSize
	}
	if o.MaxSize <= 0 {
		o.MaxSize = DefaultMaxSize
	}
	return o
}

func (o Options) validate() error {
	if o.MinSize > o.MaxSize {
		return fmt.Errorf("invalid chunk size range [%d, %d]", o.MinSize, o.MaxSize)
	}
	return nil
}

// Size returns the total plaintext size the map reassembles to.
func (m DataMap) Size() (n uint64) {
	for _, r := range m.Refs {
		n += r.PlainSize
	}
	return
}

// Addresses returns the chunk addresses referenced by the map, in order.
func (m DataMap) Addresses() []Address {
	addrs := make([]Address, len(m.Refs))
	for i, r := range m.Refs {
		addrs[i] = r.Address
	}
	return addrs
}

// split divides data into at least MinChunks contiguous pieces of
// near-equal size, larger pieces first. Boundaries depend only on the
// payload length and the configured maximum, so identical inputs always
// split identically.
func split(data []byte, opts Options) ([][]byte, error) {
	opts = opts.withDefaults()
	if err := opts.validate(); err != nil {
		return nil, err
	}
	switch {
	case len(data) == 0:
		return nil, ErrEmptyInput
	case len(data) < MinChunks:
		return nil, fmt.Errorf("%d byte payload: %w", len(data), ErrInsufficientChunks)
	}

	count := (len(data) + opts.MaxSize - 1) / opts.MaxSize
	if count < MinChunks {
		count = MinChunks
	}
	base, rem := len(data)/count, len(data)%count

	pieces := make([][]byte, 0, count)
	for off := 0; off < len(data); {
		size := base
		if len(pieces) < rem {
			size++
		}
		pieces = append(pieces, data[off:off+size])
		off += size
	}
	return pieces, nil
}
