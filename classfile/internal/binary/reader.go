package binary

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// ErrTruncated is returned when a read runs past the end of the buffer.
var ErrTruncated = errors.New("unexpected end of data")

// Reader is a positional big-endian reader over an immutable byte slice.
// Class-file structures are addressed by offset, so the reader also supports
// absolute reads that leave the cursor untouched.
type Reader struct {
	buf []byte
	pos int
}

// NewReader creates a Reader positioned at offset 0.
func NewReader(buf []byte) *Reader {
	return &Reader{buf: buf}
}

// NewReaderAt creates a Reader positioned at off.
func NewReaderAt(buf []byte, off int) *Reader {
	return &Reader{buf: buf, pos: off}
}

// Position returns the current byte position.
func (r *Reader) Position() int {
	return r.pos
}

// Len returns the total buffer length.
func (r *Reader) Len() int {
	return len(r.buf)
}

// Remaining returns the number of unread bytes.
func (r *Reader) Remaining() int {
	return len(r.buf) - r.pos
}

// Seek moves the cursor to an absolute position.
func (r *Reader) Seek(pos int) error {
	if pos < 0 || pos > len(r.buf) {
		return r.wrapError(ErrTruncated)
	}
	r.pos = pos
	return nil
}

// Skip advances the cursor by n bytes.
func (r *Reader) Skip(n int) error {
	if n < 0 || r.pos+n > len(r.buf) {
		return r.wrapError(ErrTruncated)
	}
	r.pos += n
	return nil
}

// ReadU1 reads one unsigned byte.
func (r *Reader) ReadU1() (uint8, error) {
	if r.pos+1 > len(r.buf) {
		return 0, r.wrapError(ErrTruncated)
	}
	b := r.buf[r.pos]
	r.pos++
	return b, nil
}

// ReadU2 reads a big-endian uint16.
func (r *Reader) ReadU2() (uint16, error) {
	if r.pos+2 > len(r.buf) {
		return 0, r.wrapError(ErrTruncated)
	}
	v := binary.BigEndian.Uint16(r.buf[r.pos:])
	r.pos += 2
	return v, nil
}

// ReadS2 reads a big-endian int16.
func (r *Reader) ReadS2() (int16, error) {
	v, err := r.ReadU2()
	return int16(v), err
}

// ReadU4 reads a big-endian uint32.
func (r *Reader) ReadU4() (uint32, error) {
	if r.pos+4 > len(r.buf) {
		return 0, r.wrapError(ErrTruncated)
	}
	v := binary.BigEndian.Uint32(r.buf[r.pos:])
	r.pos += 4
	return v, nil
}

// ReadS4 reads a big-endian int32.
func (r *Reader) ReadS4() (int32, error) {
	v, err := r.ReadU4()
	return int32(v), err
}

// ReadU8 reads a big-endian uint64.
func (r *Reader) ReadU8() (uint64, error) {
	if r.pos+8 > len(r.buf) {
		return 0, r.wrapError(ErrTruncated)
	}
	v := binary.BigEndian.Uint64(r.buf[r.pos:])
	r.pos += 8
	return v, nil
}

// ReadBytes returns the next n bytes without copying.
func (r *Reader) ReadBytes(n int) ([]byte, error) {
	if n < 0 || r.pos+n > len(r.buf) {
		return nil, r.wrapError(ErrTruncated)
	}
	b := r.buf[r.pos : r.pos+n : r.pos+n]
	r.pos += n
	return b, nil
}

// Slice returns buf[from:to] without copying, clipped to the buffer and with
// capacity capped so appends cannot clobber the source.
func (r *Reader) Slice(from, to int) []byte {
	if from < 0 {
		from = 0
	}
	if to > len(r.buf) {
		to = len(r.buf)
	}
	if from > to {
		return nil
	}
	return r.buf[from:to:to]
}

// U1At reads a byte at an absolute offset. The caller guarantees bounds.
func (r *Reader) U1At(off int) uint8 {
	return r.buf[off]
}

// U2At reads a uint16 at an absolute offset. The caller guarantees bounds.
func (r *Reader) U2At(off int) uint16 {
	return binary.BigEndian.Uint16(r.buf[off:])
}

// S2At reads an int16 at an absolute offset. The caller guarantees bounds.
func (r *Reader) S2At(off int) int16 {
	return int16(binary.BigEndian.Uint16(r.buf[off:]))
}

// S4At reads an int32 at an absolute offset. The caller guarantees bounds.
func (r *Reader) S4At(off int) int32 {
	return int32(binary.BigEndian.Uint32(r.buf[off:]))
}

// InBounds reports whether [off, off+n) lies within the buffer.
func (r *Reader) InBounds(off, n int) bool {
	return off >= 0 && n >= 0 && off+n <= len(r.buf)
}

func (r *Reader) wrapError(err error) error {
	return &ParseError{Position: r.pos, Err: err}
}

// ParseError represents an error during binary parsing with position information.
type ParseError struct {
	Err      error
	Section  string
	Position int
}

func (e *ParseError) Error() string {
	if e.Section != "" {
		return fmt.Sprintf("classfile: %s at position %d: %v", e.Section, e.Position, e.Err)
	}
	return fmt.Sprintf("classfile: at position %d: %v", e.Position, e.Err)
}

func (e *ParseError) Unwrap() error {
	return e.Err
}

// WrapError creates a ParseError with the current position.
func (r *Reader) WrapError(section string, err error) error {
	var pe *ParseError
	if errors.As(err, &pe) {
		return &ParseError{Position: pe.Position, Section: section, Err: pe.Err}
	}
	return &ParseError{
		Position: r.pos,
		Section:  section,
		Err:      err,
	}
}
