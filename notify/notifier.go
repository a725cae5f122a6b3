// Package notify fans out store change signals to in-process subscribers.
package notify

import (
	"sync"
	"sync/atomic"
)

// defaultSignalBufferSize is the buffer size for signal channels.
// Subscribers that can't keep up will have signals dropped (non-blocking send).
const defaultSignalBufferSize = 16

// Kind identifies what changed the store's file set.
type Kind uint8

const (
	KindFlush Kind = iota + 1
	KindCompaction
)

func (k Kind) String() string {
	switch k {
	case KindFlush:
		return "flush"
	case KindCompaction:
		return "compaction"
	default:
		return "unknown"
	}
}

// Signal tells subscribers that the set of live files changed.
// FileID is the file that became visible, or 0 when a compaction
// produced no output.
type Signal struct {
	Kind   Kind
	FileID uint64
}

// Filter restricts the kinds of signal a subscriber receives.
// An empty filter receives everything.
type Filter struct {
	Kinds []Kind
}

// subscription represents a single subscriber.
type subscription struct {
	id     uint64
	filter Filter
	ch     chan Signal
	closed atomic.Bool
}

func (s *subscription) matches(kind Kind) bool {
	if len(s.filter.Kinds) == 0 {
		return true
	}

	for _, k := range s.filter.Kinds {
		if k == kind {
			return true
		}
	}
	return false
}

// close closes the subscription channel if not already closed.
func (s *subscription) close() {
	if s.closed.CompareAndSwap(false, true) {
		close(s.ch)
	}
}

// Hub is a thread-safe signal fan-out.
type Hub struct {
	mu            sync.RWMutex
	subscriptions map[uint64]*subscription
	nextID        atomic.Uint64
}

// NewHub creates a new notification hub.
func NewHub() *Hub {
	return &Hub{
		subscriptions: make(map[uint64]*subscription),
	}
}

// Signal sends a signal to all matching subscribers (non-blocking).
// A nil hub ignores signals.
func (h *Hub) Signal(kind Kind, fileID uint64) {
	if h == nil {
		return
	}
	signal := Signal{Kind: kind, FileID: fileID}

	h.mu.RLock()
	defer h.mu.RUnlock()

	for _, sub := range h.subscriptions {
		if !sub.matches(kind) {
			continue
		}

		// Non-blocking send - drop if buffer full
		select {
		case sub.ch <- signal:
		default:
		}
	}
}

// Subscribe creates a new subscription and returns the signal channel and cancel function.
// The returned channel is buffered. If the subscriber cannot keep up with the signal rate,
// signals will be dropped silently by Signal(). The cancel function is idempotent.
func (h *Hub) Subscribe(filter Filter) (<-chan Signal, func()) {
	sub := &subscription{
		id:     h.nextID.Add(1),
		filter: filter,
		ch:     make(chan Signal, defaultSignalBufferSize),
	}

	h.mu.Lock()
	h.subscriptions[sub.id] = sub
	h.mu.Unlock()

	cancel := func() {
		h.unsubscribe(sub.id)
	}

	return sub.ch, cancel
}

// Subscribers returns the number of active subscriptions.
func (h *Hub) Subscribers() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subscriptions)
}

// unsubscribe removes a subscription and closes its channel.
func (h *Hub) unsubscribe(id uint64) {
	h.mu.Lock()
	sub, ok := h.subscriptions[id]
	if ok {
		delete(h.subscriptions, id)
	}
	h.mu.Unlock()

	if ok {
		sub.close()
	}
}
