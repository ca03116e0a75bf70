// Package buf contains fixed-width encoding helpers with a selectable byte order.
package buf

import (
	"encoding/binary"
	"errors"
	"io"
	"math/bits"
)

// ErrShort is returned when a read runs past the end of the buffer.
var ErrShort = errors.New("buf: short buffer")

// Swap32 reverses the byte order of v.
func Swap32(v uint32) uint32 {
	return bits.ReverseBytes32(v)
}

// U32LE reads a little-endian uint32 from b. Returns 0 when b is too short.
func U32LE(b []byte) uint32 {
	if len(b) < 4 {
		return 0
	}
	return binary.LittleEndian.Uint32(b)
}

// Writer encodes fixed-width little-endian values to an io.Writer.
// The first error sticks; later calls are no-ops and Err reports it.
type Writer struct {
	w       io.Writer
	scratch [8]byte
	n       int64
	err     error
}

// NewWriter returns a Writer that emits little-endian values to w.
func NewWriter(w io.Writer) *Writer {
	return &Writer{w: w}
}

func (w *Writer) write(b []byte) {
	if w.err != nil {
		return
	}
	n, err := w.w.Write(b)
	w.n += int64(n)
	w.err = err
}

// U8 writes a single byte.
func (w *Writer) U8(v uint8) {
	w.scratch[0] = v
	w.write(w.scratch[:1])
}

// Bool writes 1 for true and 0 for false.
func (w *Writer) Bool(v bool) {
	if v {
		w.U8(1)
		return
	}
	w.U8(0)
}

// U16 writes a little-endian uint16.
func (w *Writer) U16(v uint16) {
	binary.LittleEndian.PutUint16(w.scratch[:2], v)
	w.write(w.scratch[:2])
}

// U32 writes a little-endian uint32.
func (w *Writer) U32(v uint32) {
	binary.LittleEndian.PutUint32(w.scratch[:4], v)
	w.write(w.scratch[:4])
}

// U64 writes a little-endian uint64.
func (w *Writer) U64(v uint64) {
	binary.LittleEndian.PutUint64(w.scratch[:8], v)
	w.write(w.scratch[:8])
}

// Pad writes n zero bytes.
func (w *Writer) Pad(n int) {
	for range n {
		w.U8(0)
	}
}

// Bytes writes b verbatim.
func (w *Writer) Bytes(b []byte) {
	w.write(b)
}

// Len returns the number of bytes written so far.
func (w *Writer) Len() int64 { return w.n }

// Err returns the first write error, if any.
func (w *Writer) Err() error { return w.err }

// Reader decodes fixed-width values from a byte slice in a fixed byte order.
type Reader struct {
	b     []byte
	off   int
	order binary.ByteOrder
	err   error
}

// NewReader returns a Reader over b. A nil order selects little-endian.
func NewReader(b []byte, order binary.ByteOrder) *Reader {
	if order == nil {
		order = binary.LittleEndian
	}
	return &Reader{b: b, order: order}
}

func (r *Reader) take(n int) []byte {
	if r.err != nil {
		return nil
	}
	s, ok := Slice(r.b, r.off, n)
	if !ok {
		r.err = ErrShort
		return nil
	}
	r.off += n
	return s
}

// U8 reads a single byte.
func (r *Reader) U8() uint8 {
	s := r.take(1)
	if s == nil {
		return 0
	}
	return s[0]
}

// Bool reads a byte and reports whether it is non-zero.
func (r *Reader) Bool() bool {
	return r.U8() != 0
}

// U16 reads a uint16 in the reader's byte order.
func (r *Reader) U16() uint16 {
	s := r.take(2)
	if s == nil {
		return 0
	}
	return r.order.Uint16(s)
}

// U32 reads a uint32 in the reader's byte order.
func (r *Reader) U32() uint32 {
	s := r.take(4)
	if s == nil {
		return 0
	}
	return r.order.Uint32(s)
}

// U64 reads a uint64 in the reader's byte order.
func (r *Reader) U64() uint64 {
	s := r.take(8)
	if s == nil {
		return 0
	}
	return r.order.Uint64(s)
}

// Bytes returns the next n bytes. The result aliases the underlying buffer.
func (r *Reader) Bytes(n int) []byte {
	return r.take(n)
}

// Skip advances past n bytes.
func (r *Reader) Skip(n int) {
	r.take(n)
}

// Offset returns the current read position.
func (r *Reader) Offset() int { return r.off }

// Remaining returns the number of unread bytes.
func (r *Reader) Remaining() int { return len(r.b) - r.off }

// Err returns the first decode error, if any.
func (r *Reader) Err() error { return r.err }
