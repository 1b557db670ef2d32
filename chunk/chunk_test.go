package chunk

import (
	"testing"

	"github.com/stretchr/testify/require"
	"lukechampine.com/frand"
)

func TestSplitEvenDivision(t *testing.T) {
	data := frand.Bytes(3000)
	pieces, err := split(data, Options{MinSize: 900, MaxSize: 1100})
	require.NoError(t, err)
	require.Len(t, pieces, 3)
	for _, p := range pieces {
		require.Len(t, p, 1000)
	}

	// pieces must cover the payload exactly once, in order
	var joined []byte
	for _, p := range pieces {
		joined = append(joined, p...)
	}
	require.Equal(t, data, joined)
}

func TestSplitBounds(t *testing.T) {
	_, err := split(nil, Options{})
	require.ErrorIs(t, err, ErrEmptyInput)

	_, err = split([]byte{1}, Options{})
	require.ErrorIs(t, err, ErrInsufficientChunks)

	_, err = split([]byte{1, 2}, Options{})
	require.ErrorIs(t, err, ErrInsufficientChunks)

	pieces, err := split([]byte{1, 2, 3}, Options{})
	require.NoError(t, err)
	require.Len(t, pieces, 3)

	_, err = split(frand.Bytes(16), Options{MinSize: 8, MaxSize: 4})
	require.Error(t, err)
}

func TestSplitSizes(t *testing.T) {
	opts := Options{MinSize: 1, MaxSize: 4096}
	for _, n := range []int{3, 4, 100, 4096, 12289, 1<<20 + 37} {
		data := frand.Bytes(n)
		pieces, err := split(data, opts)
		require.NoError(t, err)
		require.GreaterOrEqual(t, len(pieces), MinChunks)

		var total int
		lo, hi := len(data), 0
		for _, p := range pieces {
			require.NotEmpty(t, p)
			require.LessOrEqual(t, len(p), opts.MaxSize)
			if len(p) < lo {
				lo = len(p)
			}
			if len(p) > hi {
				hi = len(p)
			}
			total += len(p)
		}
		require.Equal(t, n, total)
		// piece sizes differ by at most one byte
		require.LessOrEqual(t, hi-lo, 1)
	}
}

func TestAddressText(t *testing.T) {
	a := AddressOf(frand.Bytes(64))
	s := a.String()
	require.Len(t, s, 64)

	parsed, err := ParseAddress(s)
	require.NoError(t, err)
	require.Equal(t, a, parsed)

	_, err = ParseAddress("zz")
	require.Error(t, err)
	_, err = ParseAddress(s[:32])
	require.Error(t, err)
}

func TestDistance(t *testing.T) {
	var a, b Address
	require.Equal(t, -1, a.Distance(b).BucketIndex())

	b[31] = 0x01
	require.Equal(t, 0, a.Distance(b).BucketIndex())

	b = Address{}
	b[0] = 0x80
	require.Equal(t, 255, a.Distance(b).BucketIndex())

	c := AddressOf([]byte("c"))
	d := AddressOf([]byte("d"))
	require.Equal(t, 0, c.Distance(c).Cmp(Distance{}))
	require.Equal(t, c.Distance(d), d.Distance(c))
}
