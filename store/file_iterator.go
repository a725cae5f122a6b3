package store

import (
	"bytes"
	"fmt"

	"github.com/cockroachdb/pebble"
	"github.com/maxpert/ripple/iterator"
	"github.com/maxpert/ripple/notification"
)

// iterReader is the part of pebble.DB and pebble.Snapshot file iterators need.
type iterReader interface {
	NewIter(o *pebble.IterOptions) (*pebble.Iterator, error)
}

// fileIterator reads one file's entries in key order.
type fileIterator struct {
	reader iterReader
	codec  *valueCodec
	id     uint64
	prefix []byte

	iter  *pebble.Iterator
	key   notification.Key
	value []byte
	top   bool
}

var _ iterator.SortedIterator = (*fileIterator)(nil)

func newFileIterator(reader iterReader, codec *valueCodec, id uint64) *fileIterator {
	return &fileIterator{
		reader: reader,
		codec:  codec,
		id:     id,
		prefix: fileKeyPrefix(id),
	}
}

func (f *fileIterator) Seek(r notification.Range) error {
	if err := f.Close(); err != nil {
		return err
	}

	lower := f.prefix
	if r.Start != nil {
		lower = fileBoundKey(f.prefix, *r.Start)
	}
	upper := prefixUpperBound(f.prefix)
	if r.End != nil {
		upper = fileBoundKey(f.prefix, *r.End)
		if r.EndInclusive {
			// Encoded keys are prefix-free, so nothing sorts between a key
			// and the key with a zero byte appended.
			upper = append(upper, 0x00)
		}
	}
	if bytes.Compare(lower, upper) >= 0 {
		return nil
	}

	iter, err := f.reader.NewIter(&pebble.IterOptions{
		LowerBound: lower,
		UpperBound: upper,
	})
	if err != nil {
		return fmt.Errorf("file %d: failed to open iterator: %w", f.id, err)
	}
	f.iter = iter

	iter.SeekGE(lower)
	if err := f.load(); err != nil {
		return err
	}
	if f.top && r.Start != nil && !r.StartInclusive && notification.Compare(f.key, *r.Start) == 0 {
		return f.Next()
	}
	return nil
}

func (f *fileIterator) HasTop() bool {
	return f.top
}

func (f *fileIterator) TopKey() notification.Key {
	return f.key
}

func (f *fileIterator) TopValue() []byte {
	return f.value
}

func (f *fileIterator) Next() error {
	if !f.top {
		return fmt.Errorf("%w: next on exhausted file %d", iterator.ErrInvalidState, f.id)
	}
	f.iter.Next()
	return f.load()
}

// load decodes the entry under the pebble cursor.
func (f *fileIterator) load() error {
	f.top = false
	f.value = nil
	if !f.iter.Valid() {
		if err := f.iter.Error(); err != nil {
			return fmt.Errorf("file %d: %w", f.id, err)
		}
		return nil
	}

	k, err := notification.DecodeKey(f.iter.Key()[len(f.prefix):])
	if err != nil {
		return fmt.Errorf("file %d: %w", f.id, err)
	}
	raw, err := f.iter.ValueAndErr()
	if err != nil {
		return fmt.Errorf("file %d: %w", f.id, err)
	}
	v, err := f.codec.unframe(raw)
	if err != nil {
		return fmt.Errorf("file %d key %s: %w", f.id, k, err)
	}

	f.key = k
	f.value = v
	f.top = true
	return nil
}

// Close releases the pebble iterator. The file iterator can be sought again.
func (f *fileIterator) Close() error {
	f.top = false
	if f.iter == nil {
		return nil
	}
	err := f.iter.Close()
	f.iter = nil
	return err
}
