package store

import (
	"bytes"
	"context"
	"errors"
	"testing"
	"time"

	"github.com/maxpert/ripple/iterator"
	"github.com/maxpert/ripple/notification"
	"github.com/maxpert/ripple/notify"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFlushWritesSortedFile(t *testing.T) {
	s, _ := openTestStore(t)

	meta := flush(t, s, live("b", "q", 1), del("a", "q", 10), live("a", "q", 8))
	assert.Equal(t, uint64(1), meta.ID)
	assert.Equal(t, LevelFlush, meta.Level)
	assert.Equal(t, int64(3), meta.Entries)
	assert.Equal(t, int64(2), meta.Notifications)
	assert.Equal(t, int64(1), meta.Deletes)

	smallest, err := meta.SmallestKey()
	require.NoError(t, err)
	assert.Equal(t, "a", string(smallest.Row))
	assert.True(t, notification.IsDelete(smallest))
	largest, err := meta.LargestKey()
	require.NoError(t, err)
	assert.Equal(t, "b", string(largest.Row))

	assert.Equal(t, []string{"a/q del@10", "a/q live@8", "b/q live@1"}, fileContents(t, s, meta.ID))
}

func TestFlushEmptyIsRejected(t *testing.T) {
	s, _ := openTestStore(t)
	_, err := s.Flush(context.Background(), nil)
	assert.ErrorIs(t, err, ErrEmptyFlush)
	assert.Empty(t, s.Files())
}

func TestFlushRejectsForeignFamily(t *testing.T) {
	s, _ := openTestStore(t)
	foreign := iterator.Entry{Key: notification.Key{Row: []byte("a"), Family: []byte("data"), Qualifier: []byte("q"), Timestamp: 4}}

	_, err := s.Flush(context.Background(), []iterator.Entry{live("a", "q", 3), foreign})
	assert.ErrorIs(t, err, ErrForeignFamily)
	assert.Empty(t, s.Files())
}

func TestScanSkipsForeignFamily(t *testing.T) {
	s, _ := openTestStore(t)
	flush(t, s, live("b", "q", 1))

	// Write a file holding a data-family key directly, as an older store
	// version could have done.
	src := iterator.NewSliceIterator([]iterator.Entry{
		{Key: notification.Key{Row: []byte("a"), Family: []byte("data"), Qualifier: []byte("q"), Timestamp: 4}, Value: []byte("x")},
		live("a", "q", 2),
	})
	require.NoError(t, src.Seek(notification.InfiniteRange()))
	batch := s.db.NewBatch()
	meta, rows, err := s.writeFile(context.Background(), batch, s.nextID.Add(1)-1, LevelFlush, src)
	require.NoError(t, err)
	require.NoError(t, s.commit(batch, nil, &fileHandle{meta: meta, rows: rows}))
	require.NoError(t, batch.Close())

	assert.Equal(t, []string{"a/q live@2", "b/q live@1"}, scanAll(t, s, notification.InfiniteRange()))
}

func TestFlushDuplicateKeysFirstWins(t *testing.T) {
	s, _ := openTestStore(t)

	first := live("a", "q", 3)
	second := live("a", "q", 3)
	second.Value = []byte("second")
	meta := flush(t, s, first, second)
	assert.Equal(t, int64(1), meta.Entries)

	var values [][]byte
	require.NoError(t, s.Scan(context.Background(), notification.InfiniteRange(), func(e iterator.Entry) error {
		values = append(values, append([]byte(nil), e.Value...))
		return nil
	}))
	assert.Equal(t, [][]byte{[]byte("v3")}, values)
}

func TestScanIsFullVisibility(t *testing.T) {
	s, _ := openTestStore(t)

	// older file
	flush(t, s, live("a", "q", 5), live("b", "q", 2), live("c", "q", 1))
	// newer file deletes a and re-notifies c
	flush(t, s, del("a", "q", 7), live("c", "q", 4))

	assert.Equal(t, []string{"b/q live@2", "c/q live@4"}, scanAll(t, s, notification.InfiniteRange()))
}

func TestScanRange(t *testing.T) {
	s, _ := openTestStore(t)
	flush(t, s, live("a", "q", 1), live("b", "q", 1), live("c", "q", 1), live("d", "q", 1))

	got := scanAll(t, s, notification.RowRange([]byte("b"), []byte("d")))
	assert.Equal(t, []string{"b/q live@1", "c/q live@1"}, got)
}

func TestScanSeekMidGroupSeesDeletesAbove(t *testing.T) {
	s, _ := openTestStore(t)
	flush(t, s, del("r", "q", 10), live("r", "q", 8), live("r", "q", 6), live("s", "q", 1))

	start := live("r", "q", 8).Key
	r := notification.NewRange(&start, true, nil, true)
	assert.Equal(t, []string{"s/q live@1"}, scanAll(t, s, r))
}

func TestScanStopAndCancel(t *testing.T) {
	s, _ := openTestStore(t)
	flush(t, s, live("a", "q", 1), live("b", "q", 1), live("c", "q", 1))

	calls := 0
	err := s.Scan(context.Background(), notification.InfiniteRange(), func(e iterator.Entry) error {
		calls++
		return ErrStopScan
	})
	require.NoError(t, err)
	assert.Equal(t, 1, calls)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err = s.Scan(ctx, notification.InfiniteRange(), func(e iterator.Entry) error { return nil })
	assert.ErrorIs(t, err, context.Canceled)

	boom := errors.New("boom")
	err = s.Scan(context.Background(), notification.InfiniteRange(), func(e iterator.Entry) error { return boom })
	assert.ErrorIs(t, err, boom)
}

func TestScanRow(t *testing.T) {
	s, _ := openTestStore(t)
	flush(t, s, live("a", "q1", 1), live("a", "q2", 1), live("b", "q", 1))
	flush(t, s, live("c", "q", 1))
	flush(t, s, del("a", "q2", 3))

	var got []string
	require.NoError(t, s.ScanRow(context.Background(), []byte("a"), func(e iterator.Entry) error {
		got = append(got, describe(e))
		return nil
	}))
	assert.Equal(t, []string{"a/q1 live@1"}, got)
}

func TestLargeValuesRoundTrip(t *testing.T) {
	s, _ := openTestStore(t)

	big := bytes.Repeat([]byte("notification payload "), 64)
	e := live("a", "q", 1)
	e.Value = big
	meta := flush(t, s, e)
	assert.Less(t, meta.Bytes, int64(len(big)), "large compressible values are stored compressed")

	var got []byte
	require.NoError(t, s.Scan(context.Background(), notification.InfiniteRange(), func(e iterator.Entry) error {
		got = append([]byte(nil), e.Value...)
		return nil
	}))
	assert.Equal(t, big, got)
}

func TestReopenRestoresFiles(t *testing.T) {
	dir := t.TempDir()
	s, err := Open(dir, testOptions())
	require.NoError(t, err)

	flush(t, s, live("a", "q", 1), del("b", "q", 4))
	flush(t, s, live("b", "q", 3), live("c", "q", 2))
	before := s.Files()
	require.NoError(t, s.Close())

	s, err = Open(dir, testOptions())
	require.NoError(t, err)
	defer s.Close()

	after := s.Files()
	require.Len(t, after, len(before))
	for i := range before {
		assert.Equal(t, before[i].ID, after[i].ID)
		assert.Equal(t, before[i].Entries, after[i].Entries)
		assert.Equal(t, before[i].Smallest, after[i].Smallest)
	}
	assert.Equal(t, []string{"a/q live@1", "c/q live@2"}, scanAll(t, s, notification.InfiniteRange()))

	var rows []string
	require.NoError(t, s.ScanRow(context.Background(), []byte("c"), func(e iterator.Entry) error {
		rows = append(rows, describe(e))
		return nil
	}))
	assert.Equal(t, []string{"c/q live@2"}, rows)

	meta := flush(t, s, live("d", "q", 1))
	assert.Greater(t, meta.ID, before[len(before)-1].ID)
}

func TestFlushSignalsHub(t *testing.T) {
	hub := notify.NewHub()
	opts := testOptions()
	opts.Hub = hub
	s, err := Open(t.TempDir(), opts)
	require.NoError(t, err)
	defer s.Close()

	signals, cancel := hub.Subscribe(notify.Filter{})
	defer cancel()

	meta := flush(t, s, live("a", "q", 1))
	select {
	case sig := <-signals:
		assert.Equal(t, notify.KindFlush, sig.Kind)
		assert.Equal(t, meta.ID, sig.FileID)
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for flush signal")
	}
}

func TestStats(t *testing.T) {
	s, _ := openTestStore(t)
	flush(t, s, live("a", "q", 1), del("b", "q", 2))
	flush(t, s, live("c", "q", 1))

	st := s.Stats()
	assert.Equal(t, 2, st.Files)
	assert.Equal(t, int64(3), st.Entries)
	assert.Equal(t, int64(2), st.Notifications)
	assert.Equal(t, int64(1), st.Deletes)
	assert.Equal(t, 2, st.Levels["flush"])
	assert.False(t, st.Compacting)

	ms := s.MetricsProvider().Stats()
	assert.Equal(t, 2, ms.Files)
	assert.Equal(t, int64(3), ms.Entries)
}

func TestCloseIsIdempotent(t *testing.T) {
	s, err := Open(t.TempDir(), testOptions())
	require.NoError(t, err)
	flush(t, s, live("a", "q", 1))

	require.NoError(t, s.Close())
	require.NoError(t, s.Close())

	_, err = s.Flush(context.Background(), []iterator.Entry{live("b", "q", 1)})
	assert.ErrorIs(t, err, ErrClosed)
	err = s.Scan(context.Background(), notification.InfiniteRange(), func(iterator.Entry) error { return nil })
	assert.ErrorIs(t, err, ErrClosed)
	_, err = s.CompactAll(context.Background())
	assert.ErrorIs(t, err, ErrClosed)
}
