package encoding

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type record struct {
	ID        uint64    `msgpack:"id"`
	Row       []byte    `msgpack:"row"`
	Tags      []string  `msgpack:"tags"`
	CreatedAt time.Time `msgpack:"created_at"`
}

func TestMarshal_Basic(t *testing.T) {
	tests := []struct {
		name  string
		input interface{}
	}{
		{"string", "hello world"},
		{"int", 12345},
		{"uint64", uint64(1) << 63},
		{"bool", true},
		{"bytes", []byte{0x00, 0xFF}},
		{"slice", []int{1, 2, 3, 4, 5}},
		{"map", map[string]interface{}{"name": "alice", "age": 30}},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			data, err := Marshal(tc.input)
			require.NoError(t, err)
			assert.NotEmpty(t, data)
		})
	}
}

func TestUnmarshal_StructKeepsBinary(t *testing.T) {
	in := record{
		ID:        42,
		Row:       []byte{0x00, 0x01, 0xFE, 0xFF},
		Tags:      []string{"a", "b"},
		CreatedAt: time.Unix(1700000000, 0).UTC(),
	}
	data, err := Marshal(in)
	require.NoError(t, err)

	var out record
	require.NoError(t, Unmarshal(data, &out))
	assert.Equal(t, in.ID, out.ID)
	assert.Equal(t, in.Row, out.Row)
	assert.Equal(t, in.Tags, out.Tags)
	assert.True(t, in.CreatedAt.Equal(out.CreatedAt))
}

func TestUnmarshal_Truncated(t *testing.T) {
	data, err := Marshal(record{ID: 7, Row: []byte("row")})
	require.NoError(t, err)

	var out record
	assert.Error(t, Unmarshal(data[:len(data)/2], &out))
}

func TestMarshal_Concurrent(t *testing.T) {
	var wg sync.WaitGroup
	numGoroutines := 50
	iterations := 200

	for i := 0; i < numGoroutines; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			for j := 0; j < iterations; j++ {
				result, err := Marshal(record{ID: uint64(id*iterations + j)})
				if err != nil {
					t.Errorf("Marshal failed: %v", err)
					return
				}
				var out record
				if err := Unmarshal(result, &out); err != nil {
					t.Errorf("Unmarshal failed: %v", err)
					return
				}
			}
		}(i)
	}

	wg.Wait()
}

func BenchmarkMarshal(b *testing.B) {
	data := record{ID: 12345, Row: []byte("benchmark"), Tags: []string{"x", "y"}}

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_, _ = Marshal(data)
	}
}
