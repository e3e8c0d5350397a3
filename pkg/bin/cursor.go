// Package bin provides low-level readers for the little-endian binary
// layouts used by Guardian asset containers.
package bin

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"math"
)

// Cursor errors.
var (
	ErrOutOfBounds = errors.New("read past end of buffer")
	ErrInvalidSeek = errors.New("seek outside buffer")
)

// Cursor reads typed little-endian values from a fixed byte buffer,
// advancing an internal position. It never mutates the buffer.
type Cursor struct {
	data []byte
	pos  int
}

// NewCursor returns a cursor positioned at the start of data.
func NewCursor(data []byte) *Cursor {
	return &Cursor{data: data}
}

// Pos returns the current read position.
func (c *Cursor) Pos() int {
	return c.pos
}

// Len returns the total buffer length.
func (c *Cursor) Len() int {
	return len(c.data)
}

// Remaining returns the number of unread bytes.
func (c *Cursor) Remaining() int {
	return len(c.data) - c.pos
}

// Seek moves the position to an absolute offset.
func (c *Cursor) Seek(pos int) error {
	if pos < 0 || pos > len(c.data) {
		return fmt.Errorf("%w: offset %d of %d", ErrInvalidSeek, pos, len(c.data))
	}
	c.pos = pos
	return nil
}

// Skip advances the position by n bytes (n may be negative).
func (c *Cursor) Skip(n int) error {
	return c.Seek(c.pos + n)
}

// Sub returns a new cursor over data[off:off+length]. The sub-cursor has
// its own position and cannot read outside its window.
func (c *Cursor) Sub(off, length int) (*Cursor, error) {
	if off < 0 || length < 0 || off+length > len(c.data) {
		return nil, fmt.Errorf("%w: sub-view [%d:%d] of %d", ErrOutOfBounds, off, off+length, len(c.data))
	}
	return NewCursor(c.data[off : off+length]), nil
}

func (c *Cursor) need(n int) error {
	if c.pos+n > len(c.data) {
		return fmt.Errorf("%w: need %d bytes at offset %d of %d", ErrOutOfBounds, n, c.pos, len(c.data))
	}
	return nil
}

// Bytes reads n raw bytes.
func (c *Cursor) Bytes(n int) ([]byte, error) {
	if err := c.need(n); err != nil {
		return nil, err
	}
	b := c.data[c.pos : c.pos+n]
	c.pos += n
	return b, nil
}

// Uint8 reads one unsigned byte.
func (c *Cursor) Uint8() (uint8, error) {
	if err := c.need(1); err != nil {
		return 0, err
	}
	v := c.data[c.pos]
	c.pos++
	return v, nil
}

// Int8 reads one signed byte.
func (c *Cursor) Int8() (int8, error) {
	v, err := c.Uint8()
	return int8(v), err
}

// Uint16 reads a little-endian uint16.
func (c *Cursor) Uint16() (uint16, error) {
	if err := c.need(2); err != nil {
		return 0, err
	}
	v := binary.LittleEndian.Uint16(c.data[c.pos:])
	c.pos += 2
	return v, nil
}

// Int16 reads a little-endian int16.
func (c *Cursor) Int16() (int16, error) {
	v, err := c.Uint16()
	return int16(v), err
}

// Uint32 reads a little-endian uint32.
func (c *Cursor) Uint32() (uint32, error) {
	if err := c.need(4); err != nil {
		return 0, err
	}
	v := binary.LittleEndian.Uint32(c.data[c.pos:])
	c.pos += 4
	return v, nil
}

// Int32 reads a little-endian int32.
func (c *Cursor) Int32() (int32, error) {
	v, err := c.Uint32()
	return int32(v), err
}

// Uint64 reads a little-endian uint64.
func (c *Cursor) Uint64() (uint64, error) {
	if err := c.need(8); err != nil {
		return 0, err
	}
	v := binary.LittleEndian.Uint64(c.data[c.pos:])
	c.pos += 8
	return v, nil
}

// Int64 reads a little-endian int64.
func (c *Cursor) Int64() (int64, error) {
	v, err := c.Uint64()
	return int64(v), err
}

// Float32 reads a little-endian IEEE 754 float32.
func (c *Cursor) Float32() (float32, error) {
	v, err := c.Uint32()
	return math.Float32frombits(v), err
}

// Float64 reads a little-endian IEEE 754 float64.
func (c *Cursor) Float64() (float64, error) {
	v, err := c.Uint64()
	return math.Float64frombits(v), err
}

// Vec3 reads three consecutive float32s.
func (c *Cursor) Vec3() ([3]float32, error) {
	var v [3]float32
	for i := range v {
		f, err := c.Float32()
		if err != nil {
			return v, err
		}
		v[i] = f
	}
	return v, nil
}

// Vec4 reads four consecutive float32s.
func (c *Cursor) Vec4() ([4]float32, error) {
	var v [4]float32
	for i := range v {
		f, err := c.Float32()
		if err != nil {
			return v, err
		}
		v[i] = f
	}
	return v, nil
}

// FixedString reads n bytes and returns them as a string truncated at the
// first null byte.
func (c *Cursor) FixedString(n int) (string, error) {
	b, err := c.Bytes(n)
	if err != nil {
		return "", err
	}
	if i := bytes.IndexByte(b, 0); i >= 0 {
		b = b[:i]
	}
	return string(b), nil
}

// CString reads bytes up to (and consuming) the next null terminator.
func (c *Cursor) CString() (string, error) {
	i := bytes.IndexByte(c.data[c.pos:], 0)
	if i < 0 {
		return "", fmt.Errorf("%w: unterminated string at offset %d", ErrOutOfBounds, c.pos)
	}
	s := string(c.data[c.pos : c.pos+i])
	c.pos += i + 1
	return s, nil
}

// PrefixedString reads an int32 length followed by that many bytes,
// truncated at the first null.
func (c *Cursor) PrefixedString() (string, error) {
	n, err := c.Int32()
	if err != nil {
		return "", err
	}
	if n < 0 {
		return "", fmt.Errorf("%w: negative string length %d at offset %d", ErrOutOfBounds, n, c.pos)
	}
	if n == 0 {
		return "", nil
	}
	return c.FixedString(int(n))
}
