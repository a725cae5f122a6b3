package store

import (
	"encoding/binary"
	"sync"

	"github.com/cespare/xxhash/v2"
	cuckoo "github.com/linvon/cuckoo-filter"
)

const (
	rowFilterBucketSize      = 4
	rowFilterFingerprintSize = 32
)

// RowFilter answers "might this file hold row r?" for single-row scans.
//
//   - Hash = XXH64(row)
//   - MISS = the file definitely has no entry for the row, skip it
//   - HIT = the file may have the row, read it
//
// A filter that ran out of room stays conservative and reports every row.
type RowFilter struct {
	mu        sync.RWMutex
	filter    *cuckoo.Filter
	saturated bool
	lastRow   []byte
}

// NewRowFilter creates a filter sized for capacity distinct rows.
func NewRowFilter(capacity uint) *RowFilter {
	if capacity < 1024 {
		capacity = 1024
	}
	return &RowFilter{
		filter: cuckoo.NewFilter(rowFilterBucketSize, rowFilterFingerprintSize,
			capacity, cuckoo.TableTypePacked),
	}
}

func rowHashBytes(row []byte) []byte {
	buf := make([]byte, 8)
	binary.LittleEndian.PutUint64(buf, xxhash.Sum64(row))
	return buf
}

// Add records row. Consecutive duplicates are skipped since files are
// written in key order.
func (f *RowFilter) Add(row []byte) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.saturated || (f.lastRow != nil && string(f.lastRow) == string(row)) {
		return
	}
	f.lastRow = append(f.lastRow[:0], row...)
	if !f.filter.Add(rowHashBytes(row)) {
		f.saturated = true
	}
}

// MayContain reports whether the file might hold row.
func (f *RowFilter) MayContain(row []byte) bool {
	f.mu.RLock()
	defer f.mu.RUnlock()

	if f.saturated {
		return true
	}
	return f.filter.Contain(rowHashBytes(row))
}

// Saturated reports whether the filter gave up tracking rows.
func (f *RowFilter) Saturated() bool {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.saturated
}
