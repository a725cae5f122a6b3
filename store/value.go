package store

import (
	"errors"
	"fmt"

	"github.com/klauspost/compress/zstd"
)

// Value frame tags
const (
	valueRaw  byte = 0x00
	valueZstd byte = 0x01
)

// ErrCorruptValue is returned when a stored value frame cannot be decoded.
var ErrCorruptValue = errors.New("store: corrupt value frame")

// valueCodec frames values with a one-byte tag, compressing large ones.
// EncodeAll and DecodeAll are safe for concurrent use, so one codec serves
// the whole store.
type valueCodec struct {
	threshold int
	enc       *zstd.Encoder
	dec       *zstd.Decoder
}

func newValueCodec(threshold, level int) (*valueCodec, error) {
	c := &valueCodec{threshold: threshold}

	dec, err := zstd.NewReader(nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create zstd decoder: %w", err)
	}
	c.dec = dec

	if threshold > 0 && level > 0 {
		enc, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(configLevelToZstd(level)))
		if err != nil {
			dec.Close()
			return nil, fmt.Errorf("failed to create zstd encoder: %w", err)
		}
		c.enc = enc
	}
	return c, nil
}

// configLevelToZstd maps config levels (1-4) to zstd.EncoderLevel
func configLevelToZstd(level int) zstd.EncoderLevel {
	switch level {
	case 1:
		return zstd.SpeedFastest
	case 2:
		return zstd.SpeedDefault
	case 3:
		return zstd.SpeedBetterCompression
	case 4:
		return zstd.SpeedBestCompression
	default:
		return zstd.SpeedFastest
	}
}

// frame returns the stored form of v.
func (c *valueCodec) frame(v []byte) []byte {
	if c.enc != nil && len(v) >= c.threshold {
		out := c.enc.EncodeAll(v, []byte{valueZstd})
		if len(out) < len(v)+1 {
			return out
		}
	}
	out := make([]byte, 0, len(v)+1)
	out = append(out, valueRaw)
	return append(out, v...)
}

// unframe decodes a stored value. Raw payloads alias b.
func (c *valueCodec) unframe(b []byte) ([]byte, error) {
	if len(b) == 0 {
		return nil, ErrCorruptValue
	}
	switch b[0] {
	case valueRaw:
		return b[1:], nil
	case valueZstd:
		out, err := c.dec.DecodeAll(b[1:], nil)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrCorruptValue, err)
		}
		return out, nil
	default:
		return nil, fmt.Errorf("%w: unknown tag 0x%02x", ErrCorruptValue, b[0])
	}
}

func (c *valueCodec) close() {
	if c.enc != nil {
		c.enc.Close()
	}
	c.dec.Close()
}
