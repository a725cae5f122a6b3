package iterator

import (
	"container/heap"

	"github.com/maxpert/ripple/notification"
)

// MergeIterator yields the union of several sorted sources in storage
// order. Equal keys from different sources come out in source order.
type MergeIterator struct {
	sources []SortedIterator
	h       mergeHeap
}

// NewMergeIterator merges sources. It starts unpositioned; call Seek before
// reading.
func NewMergeIterator(sources ...SortedIterator) *MergeIterator {
	return &MergeIterator{sources: sources}
}

func (m *MergeIterator) Seek(r notification.Range) error {
	m.h = m.h[:0]
	for i, src := range m.sources {
		if err := src.Seek(r); err != nil {
			m.h = m.h[:0]
			return wrapSource("seek", err)
		}
		if src.HasTop() {
			m.h = append(m.h, mergeItem{it: src, idx: i})
		}
	}
	heap.Init(&m.h)
	return nil
}

func (m *MergeIterator) HasTop() bool {
	return len(m.h) > 0
}

func (m *MergeIterator) TopKey() notification.Key {
	return m.h[0].it.TopKey()
}

func (m *MergeIterator) TopValue() []byte {
	return m.h[0].it.TopValue()
}

func (m *MergeIterator) Next() error {
	if len(m.h) == 0 {
		return invalidState("next on exhausted merge")
	}
	top := m.h[0].it
	if err := top.Next(); err != nil {
		return wrapSource("next", err)
	}
	if top.HasTop() {
		heap.Fix(&m.h, 0)
	} else {
		heap.Pop(&m.h)
	}
	return nil
}

type mergeItem struct {
	it  SortedIterator
	idx int
}

type mergeHeap []mergeItem

func (h mergeHeap) Len() int { return len(h) }

func (h mergeHeap) Less(i, j int) bool {
	if c := notification.Compare(h[i].it.TopKey(), h[j].it.TopKey()); c != 0 {
		return c < 0
	}
	return h[i].idx < h[j].idx
}

func (h mergeHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }

func (h *mergeHeap) Push(x any) { *h = append(*h, x.(mergeItem)) }

func (h *mergeHeap) Pop() any {
	old := *h
	n := len(old)
	item := old[n-1]
	*h = old[:n-1]
	return item
}
