package store

import (
	"bytes"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPrefixUpperBound(t *testing.T) {
	tests := []struct {
		in   []byte
		want []byte
	}{
		{[]byte("/m/"), []byte("/m0")},
		{[]byte{0x01, 0xFF}, []byte{0x02}},
		{[]byte{0xFF, 0xFF}, nil},
	}
	for _, tc := range tests {
		assert.Equal(t, tc.want, prefixUpperBound(tc.in), "prefix %x", tc.in)
	}
}

func TestFilePrefixesAreDisjointAndOrdered(t *testing.T) {
	ids := []uint64{1, 2, 255, 256, 1 << 40}
	for i := 1; i < len(ids); i++ {
		a, b := fileKeyPrefix(ids[i-1]), fileKeyPrefix(ids[i])
		assert.Negative(t, bytes.Compare(a, b))
		assert.LessOrEqual(t, bytes.Compare(prefixUpperBound(a), b), 0, fmt.Sprintf("%d overlaps %d", ids[i-1], ids[i]))
	}
}

func TestMetaKeyRoundTrip(t *testing.T) {
	id, ok := metaID(metaKey(42))
	require.True(t, ok)
	assert.Equal(t, uint64(42), id)

	_, ok = metaID([]byte("/m/short"))
	assert.False(t, ok)
}

func TestRowFilter(t *testing.T) {
	f := NewRowFilter(1024)
	for i := 0; i < 100; i++ {
		f.Add([]byte(fmt.Sprintf("row-%03d", i)))
	}
	for i := 0; i < 100; i++ {
		assert.True(t, f.MayContain([]byte(fmt.Sprintf("row-%03d", i))))
	}
	assert.False(t, f.MayContain([]byte("absent-row")))
	assert.False(t, f.Saturated())
}
