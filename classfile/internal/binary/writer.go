package binary

import (
	"bytes"
	"encoding/binary"
)

// Writer provides buffered big-endian writing for class-file encoding.
type Writer struct {
	buf *bytes.Buffer
}

// NewWriter creates a new Writer.
func NewWriter() *Writer {
	return &Writer{buf: &bytes.Buffer{}}
}

// Bytes returns the written bytes.
func (w *Writer) Bytes() []byte {
	return w.buf.Bytes()
}

// Len returns the number of bytes written.
func (w *Writer) Len() int {
	return w.buf.Len()
}

// U1 writes a single byte.
func (w *Writer) U1(b uint8) {
	w.buf.WriteByte(b)
}

// U2 writes a big-endian uint16.
func (w *Writer) U2(v uint16) {
	var b [2]byte
	binary.BigEndian.PutUint16(b[:], v)
	w.buf.Write(b[:])
}

// S2 writes a big-endian int16.
func (w *Writer) S2(v int16) {
	w.U2(uint16(v))
}

// U4 writes a big-endian uint32.
func (w *Writer) U4(v uint32) {
	var b [4]byte
	binary.BigEndian.PutUint32(b[:], v)
	w.buf.Write(b[:])
}

// S4 writes a big-endian int32.
func (w *Writer) S4(v int32) {
	w.U4(uint32(v))
}

// U8 writes a big-endian uint64.
func (w *Writer) U8(v uint64) {
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], v)
	w.buf.Write(b[:])
}

// WriteBytes writes a byte slice.
func (w *Writer) WriteBytes(data []byte) {
	w.buf.Write(data)
}

// Pad writes zero bytes until Len is a multiple of align.
func (w *Writer) Pad(align int) {
	for w.buf.Len()%align != 0 {
		w.buf.WriteByte(0)
	}
}

// PatchU2 overwrites two bytes at off.
func (w *Writer) PatchU2(off int, v uint16) {
	binary.BigEndian.PutUint16(w.buf.Bytes()[off:], v)
}

// PatchU4 overwrites four bytes at off.
func (w *Writer) PatchU4(off int, v uint32) {
	binary.BigEndian.PutUint32(w.buf.Bytes()[off:], v)
}

// Truncate discards all but the first n bytes.
func (w *Writer) Truncate(n int) {
	w.buf.Truncate(n)
}
