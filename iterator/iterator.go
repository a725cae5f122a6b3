// Package iterator implements the pull-driven iterator stack that sits
// between the store's files and its readers: sorted sources, a k-way merge,
// a single-slot pushback adapter and the notification reducer.
//
// All types in this package are single-goroutine objects. They hold no
// resources besides their source, so abandoning an iterator is always safe.
package iterator

import "github.com/maxpert/ripple/notification"

// SortedIterator is the narrow pull interface every layer implements.
//
// Seek positions the iterator at the first entry inside r. HasTop reports
// whether an entry is available; TopKey and TopValue return it and are only
// valid while HasTop is true and until the next call to Next or Seek. Next
// advances to the following entry.
type SortedIterator interface {
	Seek(r notification.Range) error
	HasTop() bool
	TopKey() notification.Key
	TopValue() []byte
	Next() error
}

// Entry is a key/value pair flowing through the stack.
type Entry struct {
	Key   notification.Key
	Value []byte
}

// Clone returns a deep copy of e.
func (e Entry) Clone() Entry {
	var v []byte
	if e.Value != nil {
		v = append([]byte(nil), e.Value...)
	}
	return Entry{Key: e.Key.Clone(), Value: v}
}

// Drain reads every remaining entry from it.
func Drain(it SortedIterator) ([]Entry, error) {
	var out []Entry
	for it.HasTop() {
		out = append(out, Entry{Key: it.TopKey(), Value: it.TopValue()}.Clone())
		if err := it.Next(); err != nil {
			return out, err
		}
	}
	return out, nil
}

// Collect seeks it to r and drains it.
func Collect(it SortedIterator, r notification.Range) ([]Entry, error) {
	if err := it.Seek(r); err != nil {
		return nil, err
	}
	return Drain(it)
}
