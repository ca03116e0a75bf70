package buf

import (
	"errors"
	"fmt"
	"math"
)

// Table bound errors. CheckListBounds wraps one of them with the offending
// values.
var (
	ErrOverflow    = errors.New("buf: size overflows int")
	ErrOutOfBounds = errors.New("buf: table runs past the end")
)

// addNonNeg returns a+b for non-negative operands, or false on overflow.
func addNonNeg(a, b int) (int, bool) {
	if a > math.MaxInt-b {
		return 0, false
	}
	return a + b, true
}

// mulNonNeg returns a*b for non-negative operands, or false on overflow.
func mulNonNeg(a, b int) (int, bool) {
	if a != 0 && b > math.MaxInt/a {
		return 0, false
	}
	return a * b, true
}

// CheckListBounds reports whether a table of count records, each at least
// minRecord bytes long, can start at offset in a buffer of bufLen bytes. It
// returns the smallest possible end offset of the table.
//
// Decoders call it on every untrusted count before allocating:
//
//	if _, err := buf.CheckListBounds(len(data), r.Offset(), n, recordSize); err != nil {
//	    return fmt.Errorf("chunks: %w", err)
//	}
func CheckListBounds(bufLen, offset, count, minRecord int) (int, error) {
	if offset < 0 || count < 0 || minRecord < 0 {
		return 0, fmt.Errorf("%w: offset=%d count=%d record=%d", ErrOutOfBounds, offset, count, minRecord)
	}
	size, ok := mulNonNeg(count, minRecord)
	if !ok {
		return 0, fmt.Errorf("%w: %d records of %d bytes", ErrOverflow, count, minRecord)
	}
	end, ok := addNonNeg(offset, size)
	if !ok {
		return 0, fmt.Errorf("%w: %d + %d", ErrOverflow, offset, size)
	}
	if end > bufLen {
		return 0, fmt.Errorf("%w: needs %d bytes, have %d", ErrOutOfBounds, end, bufLen)
	}
	return end, nil
}

// Slice returns b[off:off+n], or false when that range is not inside b.
func Slice(b []byte, off, n int) ([]byte, bool) {
	if off < 0 || n < 0 {
		return nil, false
	}
	end, ok := addNonNeg(off, n)
	if !ok || end > len(b) {
		return nil, false
	}
	return b[off:end], true
}
