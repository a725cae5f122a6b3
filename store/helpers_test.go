package store

import (
	"context"
	"fmt"
	"testing"

	"github.com/maxpert/ripple/iterator"
	"github.com/maxpert/ripple/notification"
	"github.com/stretchr/testify/require"
)

func testOptions() Options {
	return Options{
		CacheSizeMB:            1,
		MemTableSizeMB:         1,
		MemTableCount:          2,
		DisableWAL:             true,
		CompressThresholdBytes: 64,
		CompressionLevel:       1,
		RowFilterCapacity:      1024,
	}
}

func openTestStore(t *testing.T) (*Store, string) {
	t.Helper()
	dir := t.TempDir()
	s, err := Open(dir, testOptions())
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s, dir
}

func live(row, qual string, logical uint64) iterator.Entry {
	k := notification.NewNotification([]byte(row), []byte(qual), nil, logical)
	return iterator.Entry{Key: k, Value: []byte(fmt.Sprintf("v%d", logical))}
}

func del(row, qual string, logical uint64) iterator.Entry {
	k := notification.NewDelete([]byte(row), []byte(qual), nil, logical)
	return iterator.Entry{Key: k, Value: []byte(fmt.Sprintf("d%d", logical))}
}

func flush(t *testing.T, s *Store, entries ...iterator.Entry) FileMeta {
	t.Helper()
	meta, err := s.Flush(context.Background(), entries)
	require.NoError(t, err)
	return meta
}

func describe(e iterator.Entry) string {
	kind := "live"
	if notification.IsDelete(e.Key) {
		kind = "del"
	}
	return fmt.Sprintf("%s/%s %s@%d", e.Key.Row, e.Key.Qualifier, kind, e.Key.Logical())
}

func scanAll(t *testing.T, s *Store, r notification.Range) []string {
	t.Helper()
	var out []string
	err := s.Scan(context.Background(), r, func(e iterator.Entry) error {
		out = append(out, describe(e))
		return nil
	})
	require.NoError(t, err)
	return out
}

// fileContents reads one file without reduction.
func fileContents(t *testing.T, s *Store, id uint64) []string {
	t.Helper()
	it := newFileIterator(s.db, s.codec, id)
	defer it.Close()
	entries, err := iterator.Collect(it, notification.InfiniteRange())
	require.NoError(t, err)
	out := make([]string, len(entries))
	for i, e := range entries {
		out[i] = describe(e)
	}
	return out
}

func fileIDs(s *Store) []uint64 {
	var ids []uint64
	for _, f := range s.Files() {
		ids = append(ids, f.ID)
	}
	return ids
}
