package bin

import (
	"errors"
	"fmt"
)

// Chunk walker errors.
var (
	ErrTruncatedChunk     = errors.New("chunk length exceeds buffer")
	ErrChunkDepthExceeded = errors.New("chunk nesting too deep")
)

// MaxChunkDepth bounds container nesting. Real files nest two levels
// (object block > property); anything near the limit is malformed input.
const MaxChunkDepth = 16

// EndTag terminates a chunk sequence in Guardian containers.
const EndTag int32 = -1

// Chunk is one typed, length-prefixed section of a container. Tag is a
// container-defined type code (for .BOD streams, a string-table index).
// Offset is the absolute position of the payload within the walked buffer.
type Chunk struct {
	Tag    int32
	Length int
	Offset int
}

// Walker enumerates chunks in a buffer. It advances by each chunk's
// declared length, so a payload decoder reading its own sub-view can never
// desynchronize the sequence. A chunk whose declared length runs past the
// buffer ends the walk: trailing garbage and padding are common in shipped
// files and are not an error here.
type Walker struct {
	data      []byte
	pos       int
	depth     int
	truncated bool
	done      bool
}

// NewWalker returns a walker over data starting at offset.
func NewWalker(data []byte, offset int) (*Walker, error) {
	if offset < 0 || offset > len(data) {
		return nil, fmt.Errorf("%w: walk offset %d of %d", ErrInvalidSeek, offset, len(data))
	}
	return &Walker{data: data, pos: offset}, nil
}

// Next returns the next chunk header. ok is false once the sequence ends,
// whether by terminator tag, buffer exhaustion, or a truncated chunk.
func (w *Walker) Next() (ch Chunk, ok bool) {
	if w.done {
		return Chunk{}, false
	}
	// A header needs a tag and a length.
	if w.pos+8 > len(w.data) {
		w.done = true
		return Chunk{}, false
	}
	c := NewCursor(w.data)
	_ = c.Seek(w.pos)
	tag, _ := c.Int32()
	if tag == EndTag {
		w.pos = c.Pos()
		w.done = true
		return Chunk{}, false
	}
	length, _ := c.Int32()
	if length < 0 || c.Pos()+int(length) > len(w.data) {
		w.truncated = true
		w.done = true
		return Chunk{}, false
	}
	ch = Chunk{Tag: tag, Length: int(length), Offset: c.Pos()}
	w.pos = ch.Offset + ch.Length
	return ch, true
}

// Pos returns the walker's current absolute position.
func (w *Walker) Pos() int {
	return w.pos
}

// Truncated reports whether the walk stopped on a chunk whose declared
// length ran past the buffer.
func (w *Walker) Truncated() bool {
	return w.truncated
}

// Sub returns a walker over the payload of ch, one nesting level deeper.
func (w *Walker) Sub(ch Chunk) (*Walker, error) {
	if w.depth+1 >= MaxChunkDepth {
		return nil, fmt.Errorf("%w: depth %d", ErrChunkDepthExceeded, w.depth+1)
	}
	if ch.Offset < 0 || ch.Offset+ch.Length > len(w.data) {
		return nil, fmt.Errorf("%w: payload [%d:%d] of %d", ErrTruncatedChunk, ch.Offset, ch.Offset+ch.Length, len(w.data))
	}
	sub := &Walker{data: w.data[:ch.Offset+ch.Length], pos: ch.Offset, depth: w.depth + 1}
	return sub, nil
}

// Payload returns the raw bytes of ch as a sub-cursor.
func (w *Walker) Payload(ch Chunk) (*Cursor, error) {
	return NewCursor(w.data).Sub(ch.Offset, ch.Length)
}
