package store

import (
	"time"

	"github.com/maxpert/ripple/encoding"
	"github.com/maxpert/ripple/iterator"
	"github.com/maxpert/ripple/notification"
)

// Level records how a file came to exist.
type Level uint8

const (
	LevelFlush   Level = 0 // written by a producer flush
	LevelPartial Level = 1 // output of a partial-visibility compaction
	LevelFull    Level = 2 // output of a full-visibility compaction
)

func (l Level) String() string {
	switch l {
	case LevelFlush:
		return "flush"
	case LevelPartial:
		return "partial"
	case LevelFull:
		return "full"
	default:
		return "unknown"
	}
}

// levelFor returns the level of a compaction output for scope.
func levelFor(scope iterator.Scope) Level {
	if scope.Aggressive() {
		return LevelFull
	}
	return LevelPartial
}

// FileMeta describes one immutable sorted run.
type FileMeta struct {
	ID            uint64 `msgpack:"id" json:"id"`
	Level         Level  `msgpack:"level" json:"level"`
	Entries       int64  `msgpack:"entries" json:"entries"`
	Notifications int64  `msgpack:"notifications" json:"notifications"`
	Deletes       int64  `msgpack:"deletes" json:"deletes"`
	Bytes         int64  `msgpack:"bytes" json:"bytes"`

	// Encoded first and last keys
	Smallest []byte `msgpack:"smallest" json:"-"`
	Largest  []byte `msgpack:"largest" json:"-"`

	CreatedAt time.Time `msgpack:"created_at" json:"created_at"`
}

// SmallestKey decodes the first key of the file.
func (m FileMeta) SmallestKey() (notification.Key, error) {
	return notification.DecodeKey(m.Smallest)
}

// LargestKey decodes the last key of the file.
func (m FileMeta) LargestKey() (notification.Key, error) {
	return notification.DecodeKey(m.Largest)
}

// observe accounts for one written entry.
func (m *FileMeta) observe(encKey []byte, k notification.Key, framedLen int) {
	if m.Entries == 0 {
		m.Smallest = append([]byte(nil), encKey...)
	}
	m.Largest = append(m.Largest[:0], encKey...)
	m.Entries++
	m.Bytes += int64(len(encKey) + framedLen)
	if notification.IsNotification(k) {
		if notification.IsDelete(k) {
			m.Deletes++
		} else {
			m.Notifications++
		}
	}
}

func encodeMeta(m FileMeta) ([]byte, error) {
	return encoding.Marshal(m)
}

func decodeMeta(b []byte) (FileMeta, error) {
	var m FileMeta
	err := encoding.Unmarshal(b, &m)
	return m, err
}

// fileHandle is a registered live file.
type fileHandle struct {
	meta FileMeta
	rows *RowFilter
}
