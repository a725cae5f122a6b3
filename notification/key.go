// Package notification defines the identity of notification entries stored
// alongside application data: the reserved column family, the timestamp
// encoding with its embedded delete flag, and the ordering every source must
// honour when it hands versions to the reduction iterators.
package notification

import (
	"bytes"
	"fmt"
	"math"
)

// NotifyFamily is the column family reserved for notification cells.
// Families handed out to applications never collide with it.
var NotifyFamily = []byte("ntfy")

const (
	// DelMask is the low bit of a persisted timestamp. When set the version
	// is a delete marker.
	DelMask uint64 = 0x1

	// MaxTimestamp sorts first within a cell group.
	MaxTimestamp uint64 = math.MaxUint64

	// MaxLogical is the largest logical time that survives the shift.
	MaxLogical uint64 = math.MaxUint64 >> 1
)

// Key is one persisted version of a cell.
type Key struct {
	Row        []byte
	Family     []byte
	Qualifier  []byte
	Visibility []byte
	Timestamp  uint64
}

// EncodeTimestamp packs a logical time and the delete flag.
func EncodeTimestamp(logical uint64, del bool) uint64 {
	ts := logical << 1
	if del {
		ts |= DelMask
	}
	return ts
}

// LogicalTime strips the delete flag from a persisted timestamp.
func LogicalTime(ts uint64) uint64 {
	return ts >> 1
}

// NewNotification builds a live notification key.
func NewNotification(row, qualifier, visibility []byte, logical uint64) Key {
	return Key{
		Row:        row,
		Family:     NotifyFamily,
		Qualifier:  qualifier,
		Visibility: visibility,
		Timestamp:  EncodeTimestamp(logical, false),
	}
}

// NewDelete builds a delete marker for the notification at logical.
func NewDelete(row, qualifier, visibility []byte, logical uint64) Key {
	k := NewNotification(row, qualifier, visibility, logical)
	k.Timestamp |= DelMask
	return k
}

// IsDelete reports whether the delete flag is set.
func IsDelete(k Key) bool {
	return k.Timestamp&DelMask == DelMask
}

// IsNotification reports whether k lives in the reserved family.
func IsNotification(k Key) bool {
	return bytes.Equal(k.Family, NotifyFamily)
}

// Logical returns the logical time of k.
func (k Key) Logical() uint64 {
	return LogicalTime(k.Timestamp)
}

// SameGroup reports whether k and o share row, family, qualifier and visibility.
func (k Key) SameGroup(o Key) bool {
	return bytes.Equal(k.Row, o.Row) &&
		bytes.Equal(k.Family, o.Family) &&
		bytes.Equal(k.Qualifier, o.Qualifier) &&
		bytes.Equal(k.Visibility, o.Visibility)
}

// Clone returns a deep copy. Sources may reuse their buffers between calls,
// so anything held across Next must be cloned.
func (k Key) Clone() Key {
	return Key{
		Row:        cloneBytes(k.Row),
		Family:     cloneBytes(k.Family),
		Qualifier:  cloneBytes(k.Qualifier),
		Visibility: cloneBytes(k.Visibility),
		Timestamp:  k.Timestamp,
	}
}

// WithTimestamp returns a copy of k carrying ts.
func (k Key) WithTimestamp(ts uint64) Key {
	k.Timestamp = ts
	return k
}

func (k Key) String() string {
	kind := "live"
	if IsDelete(k) {
		kind = "del"
	}
	return fmt.Sprintf("%q %q:%q [%q] %d(%s)", k.Row, k.Family, k.Qualifier, k.Visibility, k.Logical(), kind)
}

// CompareGroup orders cell groups, ignoring timestamps.
func CompareGroup(a, b Key) int {
	if c := bytes.Compare(a.Row, b.Row); c != 0 {
		return c
	}
	if c := bytes.Compare(a.Family, b.Family); c != 0 {
		return c
	}
	if c := bytes.Compare(a.Qualifier, b.Qualifier); c != 0 {
		return c
	}
	return bytes.Compare(a.Visibility, b.Visibility)
}

// Compare is the storage ordering: groups ascending, then timestamps
// descending. With the delete flag in the low bit, a delete at logical time
// T sorts immediately before a live version at T.
func Compare(a, b Key) int {
	if c := CompareGroup(a, b); c != 0 {
		return c
	}
	switch {
	case a.Timestamp > b.Timestamp:
		return -1
	case a.Timestamp < b.Timestamp:
		return 1
	}
	return 0
}

func cloneBytes(b []byte) []byte {
	if b == nil {
		return nil
	}
	return append([]byte(nil), b...)
}
