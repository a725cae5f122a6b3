// Package hlc hands out notification logical times from a hybrid logical
// clock, so times assigned on one node are unique and roughly wall-ordered.
package hlc

import (
	"sync"
	"time"
)

// Bit layout of a logical time:
//   - 41 bits for wall time in milliseconds (until 2039)
//   - 6 bits for node ID (64 nodes max)
//   - 16 bits for the counter (~65k times per ms per node)
//
// The top bit stays clear so the value survives the delete-flag shift of a
// notification timestamp.
const (
	CounterBits = 16
	CounterMask = (1 << CounterBits) - 1
	NodeIDBits  = 6
	NodeIDMask  = (1 << NodeIDBits) - 1

	totalShiftBits = NodeIDBits + CounterBits
	wallMask       = (1 << (63 - totalShiftBits)) - 1
)

// Clock implements a Hybrid Logical Clock
type Clock struct {
	nodeID  uint64
	lastMS  int64
	counter uint32
	mu      sync.Mutex
}

// Timestamp is one decoded logical time
type Timestamp struct {
	WallMS  int64
	Counter uint16
	NodeID  uint64
}

// NewClock creates a new HLC instance
func NewClock(nodeID uint64) *Clock {
	return &Clock{
		nodeID: nodeID & NodeIDMask,
		lastMS: time.Now().UnixMilli(),
	}
}

// Now generates a new timestamp for a local event
func (c *Clock) Now() Timestamp {
	c.mu.Lock()
	defer c.mu.Unlock()

	if nowMS := time.Now().UnixMilli(); nowMS > c.lastMS {
		c.lastMS = nowMS
		c.counter = 0
	}

	// Counter exhausted for this millisecond: borrow the next one
	if c.counter >= CounterMask {
		c.lastMS++
		c.counter = 0
	}
	c.counter++

	return Timestamp{
		WallMS:  c.lastMS,
		Counter: uint16(c.counter),
		NodeID:  c.nodeID,
	}
}

// Observe moves the clock past a logical time produced elsewhere, so the
// next Now sorts after it.
func (c *Clock) Observe(logical uint64) {
	remote := FromLogical(logical)

	c.mu.Lock()
	defer c.mu.Unlock()

	switch {
	case remote.WallMS > c.lastMS:
		c.lastMS = remote.WallMS
		c.counter = uint32(remote.Counter)
	case remote.WallMS == c.lastMS && uint32(remote.Counter) > c.counter:
		c.counter = uint32(remote.Counter)
	}
}

// Compare compares two timestamps
// Returns: -1 if a < b, 0 if a == b, 1 if a > b
func Compare(a, b Timestamp) int {
	switch {
	case a.WallMS < b.WallMS:
		return -1
	case a.WallMS > b.WallMS:
		return 1
	case a.Counter < b.Counter:
		return -1
	case a.Counter > b.Counter:
		return 1
	case a.NodeID < b.NodeID:
		return -1
	case a.NodeID > b.NodeID:
		return 1
	}
	return 0
}

// PhysicalTime returns the physical time component as time.Time
func (t Timestamp) PhysicalTime() time.Time {
	return time.UnixMilli(t.WallMS)
}

// String returns a human-readable representation
func (t Timestamp) String() string {
	return t.PhysicalTime().UTC().Format(time.RFC3339Nano)
}

// ToLogical packs the timestamp as a notification logical time.
// Format: (wall_ms << 22) | (node_id << 16) | counter
func (t Timestamp) ToLogical() uint64 {
	wall := uint64(t.WallMS) & wallMask
	return (wall << totalShiftBits) | ((t.NodeID & NodeIDMask) << CounterBits) | (uint64(t.Counter) & CounterMask)
}

// FromLogical unpacks a logical time produced by ToLogical
func FromLogical(v uint64) Timestamp {
	return Timestamp{
		WallMS:  int64(v >> totalShiftBits),
		Counter: uint16(v & CounterMask),
		NodeID:  (v >> CounterBits) & NodeIDMask,
	}
}
