package iterator

import (
	"sort"

	"github.com/maxpert/ripple/notification"
)

// SliceIterator serves entries from memory in storage order.
type SliceIterator struct {
	entries []Entry
	pos     int
	end     int
}

// NewSliceIterator copies and sorts entries. It starts unpositioned; call
// Seek before reading.
func NewSliceIterator(entries []Entry) *SliceIterator {
	sorted := make([]Entry, len(entries))
	copy(sorted, entries)
	sort.SliceStable(sorted, func(i, j int) bool {
		return notification.Compare(sorted[i].Key, sorted[j].Key) < 0
	})
	return &SliceIterator{entries: sorted, pos: len(sorted), end: len(sorted)}
}

// Len returns the number of entries held.
func (s *SliceIterator) Len() int {
	return len(s.entries)
}

func (s *SliceIterator) Seek(r notification.Range) error {
	s.pos = sort.Search(len(s.entries), func(i int) bool {
		return !r.BeforeStartKey(s.entries[i].Key)
	})
	s.end = s.pos + sort.Search(len(s.entries)-s.pos, func(i int) bool {
		return r.AfterEndKey(s.entries[s.pos+i].Key)
	})
	return nil
}

func (s *SliceIterator) HasTop() bool {
	return s.pos < s.end
}

func (s *SliceIterator) TopKey() notification.Key {
	return s.entries[s.pos].Key
}

func (s *SliceIterator) TopValue() []byte {
	return s.entries[s.pos].Value
}

func (s *SliceIterator) Next() error {
	if s.pos >= s.end {
		return invalidState("next past end of slice")
	}
	s.pos++
	return nil
}
