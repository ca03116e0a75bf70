package buf

import (
	"bytes"
	"encoding/binary"
	"errors"
	"testing"
)

func TestWriterReaderRoundTrip(t *testing.T) {
	var out bytes.Buffer
	w := NewWriter(&out)
	w.U32(0xdef7a6e7)
	w.U16(0x1234)
	w.U8(7)
	w.Bool(true)
	w.Pad(2)
	w.Bytes([]byte("ab"))
	w.U64(1<<40 | 5)
	if err := w.Err(); err != nil {
		t.Fatalf("writer: %v", err)
	}
	if w.Len() != 20 {
		t.Fatalf("Len = %d, want 20", w.Len())
	}

	r := NewReader(out.Bytes(), nil)
	if got := r.U32(); got != 0xdef7a6e7 {
		t.Fatalf("U32 = 0x%x", got)
	}
	if got := r.U16(); got != 0x1234 {
		t.Fatalf("U16 = 0x%x", got)
	}
	if got := r.U8(); got != 7 {
		t.Fatalf("U8 = %d", got)
	}
	if !r.Bool() {
		t.Fatalf("Bool = false")
	}
	r.Skip(2)
	if got := string(r.Bytes(2)); got != "ab" {
		t.Fatalf("Bytes = %q", got)
	}
	if got := r.U64(); got != 1<<40|5 {
		t.Fatalf("U64 = 0x%x", got)
	}
	if r.Remaining() != 0 || r.Err() != nil {
		t.Fatalf("Remaining = %d, Err = %v", r.Remaining(), r.Err())
	}
}

func TestReaderSwappedOrder(t *testing.T) {
	data := []byte{0x01, 0x23, 0x45, 0x67}
	le := NewReader(data, binary.LittleEndian).U32()
	be := NewReader(data, binary.BigEndian).U32()
	if le != 0x67452301 || be != 0x01234567 {
		t.Fatalf("le = 0x%x be = 0x%x", le, be)
	}
	if Swap32(le) != be {
		t.Fatalf("Swap32(0x%x) = 0x%x, want 0x%x", le, Swap32(le), be)
	}
	if U32LE(data) != le || U32LE(data[:2]) != 0 {
		t.Fatalf("U32LE mismatch")
	}
}

func TestReaderShortIsSticky(t *testing.T) {
	r := NewReader([]byte{0xAA, 0xBB}, nil)
	if r.U32() != 0 {
		t.Fatalf("short U32 should be 0")
	}
	if !errors.Is(r.Err(), ErrShort) {
		t.Fatalf("Err = %v, want ErrShort", r.Err())
	}
	if r.U8() != 0 {
		t.Fatalf("reads after an error should return zero")
	}
}
