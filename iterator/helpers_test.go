package iterator

import (
	"errors"
	"fmt"

	"github.com/maxpert/ripple/notification"
)

var errDisk = errors.New("disk on fire")

func live(row, qual string, logical uint64) Entry {
	k := notification.NewNotification([]byte(row), []byte(qual), nil, logical)
	return Entry{Key: k, Value: []byte(fmt.Sprintf("v%d", logical))}
}

func del(row, qual string, logical uint64) Entry {
	k := notification.NewDelete([]byte(row), []byte(qual), nil, logical)
	return Entry{Key: k, Value: []byte(fmt.Sprintf("d%d", logical))}
}

func data(row, qual string, ts uint64) Entry {
	k := notification.Key{Row: []byte(row), Family: []byte("data"), Qualifier: []byte(qual), Timestamp: ts}
	return Entry{Key: k, Value: []byte(fmt.Sprintf("x%d", ts))}
}

func reduce(scope Scope, entries ...Entry) ([]Entry, error) {
	return reduceRange(scope, notification.InfiniteRange(), entries...)
}

func reduceRange(scope Scope, r notification.Range, entries ...Entry) ([]Entry, error) {
	red, err := NewNotificationReducer(NewSliceIterator(entries), scope)
	if err != nil {
		return nil, err
	}
	return Collect(red, r)
}

// describe renders entries compactly for assertions, e.g. "r/q del@10".
func describe(entries []Entry) []string {
	out := make([]string, 0, len(entries))
	for _, e := range entries {
		kind := "live"
		if notification.IsDelete(e.Key) {
			kind = "del"
		}
		if !notification.IsNotification(e.Key) {
			kind = "data"
		}
		out = append(out, fmt.Sprintf("%s/%s %s@%d", e.Key.Row, e.Key.Qualifier, kind, e.Key.Logical()))
	}
	return out
}

// failingIterator fails after serving a fixed number of entries.
type failingIterator struct {
	inner     *SliceIterator
	failAfter int
	served    int
	failSeek  bool
}

func (f *failingIterator) Seek(r notification.Range) error {
	if f.failSeek {
		return errDisk
	}
	f.served = 0
	return f.inner.Seek(r)
}

func (f *failingIterator) HasTop() bool             { return f.inner.HasTop() }
func (f *failingIterator) TopKey() notification.Key { return f.inner.TopKey() }
func (f *failingIterator) TopValue() []byte         { return f.inner.TopValue() }

func (f *failingIterator) Next() error {
	f.served++
	if f.served > f.failAfter {
		return errDisk
	}
	return f.inner.Next()
}
