package store

import (
	"encoding/binary"

	"github.com/maxpert/ripple/notification"
)

// Key prefixes, sorted for efficient iteration
const (
	prefixFile = "/f/"       // /f/{fileID:be8}/{notification.EncodeKey}
	prefixMeta = "/m/"       // /m/{fileID:be8}
	keyFileSeq = "/seq/file" // next file id
)

// fileKeyPrefix returns the prefix every entry of file id lives under.
func fileKeyPrefix(id uint64) []byte {
	b := make([]byte, 0, len(prefixFile)+9)
	b = append(b, prefixFile...)
	b = binary.BigEndian.AppendUint64(b, id)
	return append(b, '/')
}

// fileEntryKey returns the pebble key for k inside file id.
func fileEntryKey(id uint64, k notification.Key) []byte {
	return notification.AppendKey(fileKeyPrefix(id), k)
}

// fileBoundKey returns the pebble key for a range bound inside file id.
func fileBoundKey(prefix []byte, k notification.Key) []byte {
	b := make([]byte, 0, len(prefix)+32)
	b = append(b, prefix...)
	return notification.AppendKey(b, k)
}

func metaKey(id uint64) []byte {
	b := make([]byte, 0, len(prefixMeta)+8)
	b = append(b, prefixMeta...)
	return binary.BigEndian.AppendUint64(b, id)
}

func metaID(key []byte) (uint64, bool) {
	if len(key) != len(prefixMeta)+8 {
		return 0, false
	}
	return binary.BigEndian.Uint64(key[len(prefixMeta):]), true
}

// prefixUpperBound returns the smallest key greater than every key with the
// given prefix, or nil when no such key exists.
func prefixUpperBound(prefix []byte) []byte {
	upper := append([]byte(nil), prefix...)
	for i := len(upper) - 1; i >= 0; i-- {
		upper[i]++
		if upper[i] != 0 {
			return upper[:i+1]
		}
	}
	return nil
}
