package defrag

import (
	"fmt"
	"log/slog"
	"os"
)

// SearchKind selects how Allocate picks a free block.
type SearchKind uint8

const (
	// BestFit picks the free block with the least wastage in the lowest
	// bucket that has any fit.
	BestFit SearchKind = iota
	// FirstFit picks the first address-ordered free block the request fits in.
	FirstFit
)

func (k SearchKind) String() string {
	switch k {
	case BestFit:
		return "best-fit"
	case FirstFit:
		return "first-fit"
	default:
		return fmt.Sprintf("SearchKind(%d)", uint8(k))
	}
}

// Options configures an Allocator.
type Options struct {
	// Policy performs the byte copies for defragmentation and segment removal.
	// A nil Policy disables defragmentation and internal locking.
	Policy Policy

	// MaxAllocs is the number of chunk records the arena is sized to. It is
	// required with a Policy, in which case the arena never grows. Without a
	// Policy it only pre-sizes the arena.
	MaxAllocs int

	// MaxSegments caps AppendSegment, counting the initial segment (0 = no limit).
	MaxSegments int

	// Search selects the allocation strategy (default BestFit).
	Search SearchKind

	// Validate runs the address chain and free list consistency walks after
	// every structural mutation and panics on the first violation.
	Validate bool

	// Logger receives debug records. Nil means the process logger.
	Logger *slog.Logger
}

// Debug flag - set to true to validate after every split and merge (compile-time toggle).
const debugDefrag = false

// Runtime debug flag for per-move logging - controlled by DEFRAG_LOG_MOVES env var.
var logMoves = os.Getenv("DEFRAG_LOG_MOVES") != ""

func (o Options) check() error {
	if o.Policy != nil && o.MaxAllocs <= 0 {
		return ErrNeedMaxAllocs
	}
	if o.MaxAllocs < 0 {
		return fmt.Errorf("defrag: negative MaxAllocs %d", o.MaxAllocs)
	}
	if o.MaxSegments < 0 {
		return fmt.Errorf("defrag: negative MaxSegments %d", o.MaxSegments)
	}
	switch o.Search {
	case BestFit, FirstFit:
	default:
		return fmt.Errorf("defrag: unknown search kind %v", o.Search)
	}
	return nil
}
