package chunk

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"math/bits"
)

// AddressSize is the length of an Address in bytes.
const AddressSize = 32

type (
	// An Address is a 256-bit content address: the SHA-256 hash of an
	// encrypted chunk's own ciphertext. Node ids share the same keyspace,
	// so an Address doubles as a routing key.
	Address [AddressSize]byte

	// A Distance is the XOR distance between two addresses.
	Distance [AddressSize]byte
)

// AddressOf returns the content address of data.
func AddressOf(data []byte) Address {
	return sha256.Sum256(data)
}

// ParseAddress parses a hex-encoded address.
func ParseAddress(s string) (Address, error) {
	var a Address
	if err := a.UnmarshalText([]byte(s)); err != nil {
		return Address{}, err
	}
	return a, nil
}

// String implements fmt.Stringer.
func (a Address) String() string {
	return hex.EncodeToString(a[:])
}

// MarshalText implements encoding.TextMarshaler.
func (a Address) MarshalText() ([]byte, error) {
	return []byte(a.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (a *Address) UnmarshalText(b []byte) error {
	if len(b) != AddressSize*2 {
		return fmt.Errorf("expected %d hex characters, got %d", AddressSize*2, len(b))
	}
	if _, err := hex.Decode(a[:], b); err != nil {
		return fmt.Errorf("failed to decode address: %w", err)
	}
	return nil
}

// Distance returns the XOR distance between a and b.
func (a Address) Distance(b Address) (d Distance) {
	for i := range a {
		d[i] = a[i] ^ b[i]
	}
	return
}

// Cmp compares two distances, returning -1 if d < o, 0 if d == o, and 1
// if d > o.
func (d Distance) Cmp(o Distance) int {
	return bytes.Compare(d[:], o[:])
}

// BucketIndex returns the position of the highest set bit of d, between 0
// and 255, or -1 for the zero distance. A peer at distance d from a node
// belongs in bucket BucketIndex(d) of its routing table.
func (d Distance) BucketIndex() int {
	for i := 0; i < len(d); i++ {
		if d[i] != 0 {
			return (len(d)-i)*8 - bits.LeadingZeros8(d[i]) - 1
		}
	}
	return -1
}
