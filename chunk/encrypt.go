package chunk

import (
	"bytes"
	"crypto/sha256"
	"encoding/binary"
	"fmt"
	"io"
	"runtime"
	"sync"

	"github.com/ulikunitz/xz/lzma"
	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/hkdf"
)

// sealInfo is the HKDF domain-separation label for chunk keys.
const sealInfo = "shoal/chunk/seal/v1"

// neighbors returns the indices whose plaintext hashes key piece i. The
// piece sequence is cyclic: the first and last pieces are neighbors.
func neighbors(i, n int) (prev, next int) {
	prev = (i + n - 1) % n
	next = (i + 1) % n
	return
}

// sealKey derives the key and nonce for piece i from the plaintext hashes
// of its neighbors. A piece's own hash never contributes to its own key.
// The index salts the derivation so pieces with identical neighbor
// content still seal under distinct keys.
func sealKey(i int, hashes []Address) (key, nonce []byte, err error) {
	prev, next := neighbors(i, len(hashes))
	secret := make([]byte, 0, 2*AddressSize)
	secret = append(secret, hashes[prev][:]...)
	secret = append(secret, hashes[next][:]...)
	salt := make([]byte, 8)
	binary.BigEndian.PutUint64(salt, uint64(i))

	key = make([]byte, chacha20poly1305.KeySize)
	nonce = make([]byte, chacha20poly1305.NonceSizeX)
	kdf := hkdf.New(sha256.New, secret, salt, []byte(sealInfo))
	if _, err := io.ReadFull(kdf, key); err != nil {
		return nil, nil, fmt.Errorf("failed to derive key: %w", err)
	} else if _, err := io.ReadFull(kdf, nonce); err != nil {
		return nil, nil, fmt.Errorf("failed to derive nonce: %w", err)
	}
	return key, nonce, nil
}

func compress(data []byte) ([]byte, error) {
	var buf bytes.Buffer
	w, err := lzma.NewWriter(&buf)
	if err != nil {
		return nil, fmt.Errorf("failed to create lzma writer: %w", err)
	}
	if _, err := w.Write(data); err != nil {
		return nil, fmt.Errorf("failed to compress: %w", err)
	} else if err := w.Close(); err != nil {
		return nil, fmt.Errorf("failed to flush lzma writer: %w", err)
	}
	return buf.Bytes(), nil
}

func decompress(data []byte) ([]byte, error) {
	r, err := lzma.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("failed to create lzma reader: %w", err)
	}
	buf, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("failed to decompress: %w", err)
	}
	return buf, nil
}

// sealChunk compresses and encrypts piece i, returning the stored chunk
// and its ref.
func sealChunk(i int, piece []byte, hashes []Address) (Chunk, Ref, error) {
	key, nonce, err := sealKey(i, hashes)
	if err != nil {
		return Chunk{}, Ref{}, err
	}
	compressed, err := compress(piece)
	if err != nil {
		return Chunk{}, Ref{}, err
	}
	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return Chunk{}, Ref{}, fmt.Errorf("failed to create cipher: %w", err)
	}
	c := NewChunk(aead.Seal(nil, nonce, compressed, nil))
	return c, Ref{
		Index:     i,
		PlainHash: hashes[i],
		PlainSize: uint64(len(piece)),
		Address:   c.Address,
	}, nil
}

// openChunk decrypts ciphertext for ref using the neighbor hashes
// recorded in the map and verifies the plaintext against the ref.
func openChunk(ref Ref, ciphertext []byte, hashes []Address) ([]byte, error) {
	key, nonce, err := sealKey(ref.Index, hashes)
	if err != nil {
		return nil, err
	}
	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return nil, fmt.Errorf("failed to create cipher: %w", err)
	}
	compressed, err := aead.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to decrypt chunk %v: %w", ref.Address, err)
	}
	plain, err := decompress(compressed)
	if err != nil {
		return nil, fmt.Errorf("failed to decompress chunk %v: %w", ref.Address, err)
	}
	if uint64(len(plain)) != ref.PlainSize {
		return nil, fmt.Errorf("chunk %v: expected %d plaintext bytes, got %d", ref.Address, ref.PlainSize, len(plain))
	} else if AddressOf(plain) != ref.PlainHash {
		return nil, fmt.Errorf("chunk %v: plaintext hash mismatch", ref.Address)
	}
	return plain, nil
}

// Encrypt splits data into pieces and encrypts each with a key derived
// from the plaintext hashes of its neighboring pieces, so only holders of
// the returned DataMap can decrypt. Identical payloads produce identical
// maps and chunks. The zero Options value applies the default size range.
func Encrypt(data []byte, opts Options) (DataMap, []Chunk, error) {
	pieces, err := split(data, opts)
	if err != nil {
		return DataMap{}, nil, err
	}

	hashes := make([]Address, len(pieces))
	for i, p := range pieces {
		hashes[i] = AddressOf(p)
	}

	var wg sync.WaitGroup
	sem := make(chan struct{}, runtime.GOMAXPROCS(0))
	chunks := make([]Chunk, len(pieces))
	refs := make([]Ref, len(pieces))
	errs := make([]error, len(pieces))
	for i := range pieces {
		wg.Add(1)
		sem <- struct{}{}
		go func(i int) {
			defer wg.Done()
			defer func() { <-sem }()
			chunks[i], refs[i], errs[i] = sealChunk(i, pieces[i], hashes)
		}(i)
	}
	wg.Wait()
	for _, err := range errs {
		if err != nil {
			return DataMap{}, nil, err
		}
	}
	return DataMap{Refs: refs}, chunks, nil
}

// Decrypt reverses Encrypt, reassembling the payload described by m from
// its encrypted chunks. Chunks may be supplied in any order, but every
// ref in the map must be satisfied. Each chunk's ciphertext is verified
// against its address and each plaintext against its recorded hash; on
// any failure no payload bytes are returned.
func Decrypt(m DataMap, chunks []Chunk) ([]byte, error) {
	if len(m.Refs) < MinChunks {
		return nil, fmt.Errorf("map with %d refs: %w", len(m.Refs), ErrInsufficientChunks)
	}
	byAddr := make(map[Address][]byte, len(chunks))
	for _, c := range chunks {
		byAddr[c.Address] = c.Data
	}

	hashes := make([]Address, len(m.Refs))
	for i, ref := range m.Refs {
		if ref.Index != i {
			return nil, fmt.Errorf("map refs out of order: ref %d has index %d", i, ref.Index)
		}
		hashes[i] = ref.PlainHash
	}

	var wg sync.WaitGroup
	sem := make(chan struct{}, runtime.GOMAXPROCS(0))
	pieces := make([][]byte, len(m.Refs))
	errs := make([]error, len(m.Refs))
	for i, ref := range m.Refs {
		ciphertext, ok := byAddr[ref.Address]
		if !ok {
			return nil, fmt.Errorf("chunk %v not supplied", ref.Address)
		}
		wg.Add(1)
		sem <- struct{}{}
		go func(i int, ref Ref, ciphertext []byte) {
			defer wg.Done()
			defer func() { <-sem }()
			if AddressOf(ciphertext) != ref.Address {
				errs[i] = fmt.Errorf("chunk %v: ciphertext does not match address", ref.Address)
				return
			}
			pieces[i], errs[i] = openChunk(ref, ciphertext, hashes)
		}(i, ref, ciphertext)
	}
	wg.Wait()
	for _, err := range errs {
		if err != nil {
			return nil, err
		}
	}

	payload := make([]byte, 0, m.Size())
	for _, p := range pieces {
		payload = append(payload, p...)
	}
	return payload, nil
}
