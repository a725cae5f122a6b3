package notification

import (
	"encoding/binary"
	"errors"
)

// Byte layout (lexicographically sortable):
//
//	esc(row) 00 01 | esc(family) 00 01 | esc(qualifier) 00 01 | esc(visibility) 00 01 | ^ts (be8)
//
// esc replaces every 0x00 with 0x00 0xFF so the 0x00 0x01 terminator sorts
// below any continuation. Inverting the timestamp makes newer versions sort
// first under bytes.Compare, matching Compare.

const (
	escapeByte     = 0x00
	escapedZero    = 0xFF
	terminatorByte = 0x01
)

// ErrMalformedKey is returned when an encoded key cannot be decoded.
var ErrMalformedKey = errors.New("notification: malformed encoded key")

// EncodeKey returns the order-preserving byte form of k.
func EncodeKey(k Key) []byte {
	n := len(k.Row) + len(k.Family) + len(k.Qualifier) + len(k.Visibility) + 8 + 8
	return AppendKey(make([]byte, 0, n), k)
}

// AppendKey appends the encoded form of k to dst.
func AppendKey(dst []byte, k Key) []byte {
	dst = appendComponent(dst, k.Row)
	dst = appendComponent(dst, k.Family)
	dst = appendComponent(dst, k.Qualifier)
	dst = appendComponent(dst, k.Visibility)
	var ts [8]byte
	binary.BigEndian.PutUint64(ts[:], ^k.Timestamp)
	return append(dst, ts[:]...)
}

// EncodeGroupPrefix encodes only the group components of k. Every version of
// the group starts with the returned bytes.
func EncodeGroupPrefix(k Key) []byte {
	var dst []byte
	dst = appendComponent(dst, k.Row)
	dst = appendComponent(dst, k.Family)
	dst = appendComponent(dst, k.Qualifier)
	return appendComponent(dst, k.Visibility)
}

// DecodeKey parses an encoded key. The returned slices do not alias b.
func DecodeKey(b []byte) (Key, error) {
	var (
		k   Key
		err error
	)
	if k.Row, b, err = readComponent(b); err != nil {
		return Key{}, err
	}
	if k.Family, b, err = readComponent(b); err != nil {
		return Key{}, err
	}
	if k.Qualifier, b, err = readComponent(b); err != nil {
		return Key{}, err
	}
	if k.Visibility, b, err = readComponent(b); err != nil {
		return Key{}, err
	}
	if len(b) != 8 {
		return Key{}, ErrMalformedKey
	}
	k.Timestamp = ^binary.BigEndian.Uint64(b)
	return k, nil
}

func appendComponent(dst, c []byte) []byte {
	for _, b := range c {
		if b == escapeByte {
			dst = append(dst, escapeByte, escapedZero)
			continue
		}
		dst = append(dst, b)
	}
	return append(dst, escapeByte, terminatorByte)
}

func readComponent(b []byte) ([]byte, []byte, error) {
	out := make([]byte, 0, len(b))
	for i := 0; i < len(b); i++ {
		if b[i] != escapeByte {
			out = append(out, b[i])
			continue
		}
		if i+1 >= len(b) {
			return nil, nil, ErrMalformedKey
		}
		switch b[i+1] {
		case terminatorByte:
			return out, b[i+2:], nil
		case escapedZero:
			out = append(out, escapeByte)
			i++
		default:
			return nil, nil, ErrMalformedKey
		}
	}
	return nil, nil, ErrMalformedKey
}
