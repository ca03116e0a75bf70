package buf

import (
	"errors"
	"math"
	"testing"
)

func TestCheckListBounds(t *testing.T) {
	tests := []struct {
		name                       string
		bufLen, off, count, record int
		wantEnd                    int
		wantErr                    error
	}{
		{"exact fit", 100, 4, 8, 12, 100, nil},
		{"empty table", 10, 10, 0, 30, 10, nil},
		{"one record too many", 100, 4, 9, 12, 0, ErrOutOfBounds},
		{"count overflow", 100, 0, math.MaxInt, 2, 0, ErrOverflow},
		{"offset overflow", math.MaxInt, math.MaxInt, 1, 1, 0, ErrOverflow},
		{"negative offset", 100, -1, 1, 1, 0, ErrOutOfBounds},
		{"negative count", 100, 0, -1, 1, 0, ErrOutOfBounds},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			end, err := CheckListBounds(tt.bufLen, tt.off, tt.count, tt.record)
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("err = %v, want %v", err, tt.wantErr)
				}
				return
			}
			if err != nil || end != tt.wantEnd {
				t.Fatalf("CheckListBounds = %d, %v want %d, nil", end, err, tt.wantEnd)
			}
		})
	}
}

func TestSlice(t *testing.T) {
	data := []byte{0, 1, 2, 3, 4}
	if got, ok := Slice(data, 1, 3); !ok || len(got) != 3 || got[0] != 1 || got[2] != 3 {
		t.Fatalf("Slice returned unexpected result: %v, %v", got, ok)
	}
	if got, ok := Slice(data, 5, 0); !ok || len(got) != 0 {
		t.Fatalf("empty slice at the end should be allowed")
	}
	if _, ok := Slice(data, 4, 2); ok {
		t.Fatalf("Slice should fail when extending beyond len")
	}
	if _, ok := Slice(data, -1, 1); ok {
		t.Fatalf("Slice should reject negative offset")
	}
	if _, ok := Slice(data, 1, math.MaxInt); ok {
		t.Fatalf("Slice should reject overflowing length")
	}
}
