package chunk

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/require"
	"lukechampine.com/frand"
)

func TestEncryptDecryptRoundTrip(t *testing.T) {
	for _, n := range []int{3, 5, 1000, 3000, 1 << 18} {
		data := frand.Bytes(n)
		m, chunks, err := Encrypt(data, Options{MaxSize: 16 << 10})
		require.NoError(t, err)
		require.GreaterOrEqual(t, len(chunks), MinChunks)
		require.Len(t, m.Refs, len(chunks))
		require.Equal(t, uint64(n), m.Size())

		// chunk order must not matter; decryption matches by address
		frand.Shuffle(len(chunks), func(i, j int) { chunks[i], chunks[j] = chunks[j], chunks[i] })

		recovered, err := Decrypt(m, chunks)
		require.NoError(t, err)
		require.Equal(t, data, recovered)
	}
}

func TestEncryptDeterministic(t *testing.T) {
	data := frand.Bytes(3000)
	opts := Options{MinSize: 900, MaxSize: 1100}

	m1, c1, err := Encrypt(data, opts)
	require.NoError(t, err)
	m2, c2, err := Encrypt(data, opts)
	require.NoError(t, err)
	require.Equal(t, m1, m2)
	require.Equal(t, c1, c2)

	// distinct payloads land on distinct addresses
	m3, _, err := Encrypt(frand.Bytes(3000), opts)
	require.NoError(t, err)
	require.NotEqual(t, m1.Addresses(), m3.Addresses())
}

func TestSealKeyNeighborsOnly(t *testing.T) {
	hashes := make([]Address, 5)
	for i := range hashes {
		hashes[i] = AddressOf(frand.Bytes(32))
	}

	key, nonce, err := sealKey(2, hashes)
	require.NoError(t, err)

	// mutating a piece's own hash leaves its key unchanged
	mutated := append([]Address(nil), hashes...)
	mutated[2] = AddressOf(frand.Bytes(32))
	key2, nonce2, err := sealKey(2, mutated)
	require.NoError(t, err)
	require.Equal(t, key, key2)
	require.Equal(t, nonce, nonce2)

	// mutating either neighbor changes it
	mutated = append([]Address(nil), hashes...)
	mutated[1] = AddressOf(frand.Bytes(32))
	key3, _, err := sealKey(2, mutated)
	require.NoError(t, err)
	require.NotEqual(t, key, key3)

	mutated = append([]Address(nil), hashes...)
	mutated[3] = AddressOf(frand.Bytes(32))
	key4, _, err := sealKey(2, mutated)
	require.NoError(t, err)
	require.NotEqual(t, key, key4)
}

func TestNeighborCycle(t *testing.T) {
	prev, next := neighbors(0, 3)
	require.Equal(t, 2, prev)
	require.Equal(t, 1, next)

	prev, next = neighbors(2, 3)
	require.Equal(t, 1, prev)
	require.Equal(t, 0, next)

	prev, next = neighbors(3, 7)
	require.Equal(t, 2, prev)
	require.Equal(t, 4, next)
}

func TestSealKeyIndexSalt(t *testing.T) {
	// pieces at different positions with identical neighbor content must
	// not share a key and nonce pair
	a := AddressOf([]byte("a"))
	hashes := []Address{a, AddressOf([]byte("x")), a, AddressOf([]byte("y")), a}

	k1, n1, err := sealKey(1, hashes)
	require.NoError(t, err)
	k3, n3, err := sealKey(3, hashes)
	require.NoError(t, err)
	require.False(t, bytes.Equal(k1, k3) && bytes.Equal(n1, n3))
}

func TestDecryptRejectsTampering(t *testing.T) {
	data := frand.Bytes(4096)
	m, chunks, err := Encrypt(data, Options{MaxSize: 1024})
	require.NoError(t, err)

	// flip a ciphertext byte without fixing the address
	tampered := make([]Chunk, len(chunks))
	copy(tampered, chunks)
	tampered[0].Data = append([]byte(nil), tampered[0].Data...)
	tampered[0].Data[0] ^= 0xff
	_, err = Decrypt(m, tampered)
	require.Error(t, err)

	// drop a chunk
	_, err = Decrypt(m, chunks[1:])
	require.Error(t, err)

	// swap two refs without fixing their indices
	swapped := DataMap{Refs: append([]Ref(nil), m.Refs...)}
	swapped.Refs[0], swapped.Refs[1] = swapped.Refs[1], swapped.Refs[0]
	_, err = Decrypt(swapped, chunks)
	require.Error(t, err)
}
