// Package report renders allocator statistics and address layouts as text.
package report

import (
	"fmt"
	"io"
	"strings"

	"github.com/dustin/go-humanize"
	"golang.org/x/text/language"
	"golang.org/x/text/message"

	"github.com/joshuapare/defragheap/defrag"
)

var printer = message.NewPrinter(language.English)

// Fragmentation returns the share of free space outside the largest free
// block, in percent. An allocator with no free space is not fragmented.
func Fragmentation(st defrag.Stats) float64 {
	avail := st.Available()
	if avail == 0 {
		return 0
	}
	return float64(avail-st.LargestFree) * 100 / float64(avail)
}

// WriteStats writes a labelled summary of st.
func WriteStats(w io.Writer, st defrag.Stats) error {
	used := 0.0
	if st.Capacity > 0 {
		used = float64(st.InUseSize) * 100 / float64(st.Capacity)
	}

	lines := []struct {
		label string
		value string
	}{
		{"Capacity", fmt.Sprintf("%s (%s bytes)", humanize.IBytes(st.Capacity), printer.Sprintf("%d", st.Capacity))},
		{"In use", printer.Sprintf("%s in %d blocks (%.1f%%)", humanize.IBytes(st.InUseSize), st.InUseBlocks, used)},
		{"Free", printer.Sprintf("%s in %d blocks", humanize.IBytes(st.Available()), st.FreeBlocks)},
		{"Largest free", humanize.IBytes(st.LargestFree)},
		{"Smallest free", humanize.IBytes(st.SmallestFree)},
		{"Mean free", humanize.IBytes(st.MeanFree)},
		{"Pinned blocks", printer.Sprintf("%d", st.PinnedBlocks)},
		{"Moving blocks", printer.Sprintf("%d", st.MovingBlocks)},
		{"Cancelled moves", printer.Sprintf("%d", st.CancelledMoves)},
		{"Fragmentation", fmt.Sprintf("%.1f%%", Fragmentation(st))},
	}
	for _, l := range lines {
		if _, err := fmt.Fprintf(w, "  %-16s %s\n", l.label+":", l.value); err != nil {
			return err
		}
	}
	return nil
}

// Map cell glyphs.
const (
	glyphFree    = '.'
	glyphPartial = '+'
	glyphFull    = '#'
	glyphPinned  = 'P'
	glyphMoving  = 'm'
)

// MapOptions sizes the memory map.
type MapOptions struct {
	Width int // cells per row (default 64)
	Rows  int // default 8
}

// WriteMap draws the address range [0, capacity) as a grid of cells, each
// covering an equal share of the range. A cell shows '#' when fully in
// use, '+' when partly in use, '.' when free, 'P' when it touches a pinned
// block and 'm' when it touches a block being moved.
func WriteMap(w io.Writer, blocks []defrag.Block, capacity uint64, opts MapOptions) error {
	if opts.Width <= 0 {
		opts.Width = 64
	}
	if opts.Rows <= 0 {
		opts.Rows = 8
	}
	if capacity == 0 {
		_, err := fmt.Fprintln(w, "  (empty)")
		return err
	}

	cells := uint64(opts.Width * opts.Rows)
	cell := (capacity + cells - 1) / cells
	cells = (capacity + cell - 1) / cell

	busy := make([]uint64, cells)
	glyph := make([]byte, cells)
	for _, b := range blocks {
		if !b.Busy || b.Size == 0 {
			continue
		}
		end := b.Offset + b.Size
		for c := b.Offset / cell; c < cells && c*cell < end; c++ {
			lo, hi := max(b.Offset, c*cell), min(end, (c+1)*cell)
			busy[c] += hi - lo
			switch {
			case b.Moving:
				glyph[c] = glyphMoving
			case b.Pinned() && glyph[c] != glyphMoving:
				glyph[c] = glyphPinned
			}
		}
	}

	var sb strings.Builder
	for c := range cells {
		if c%uint64(opts.Width) == 0 {
			if c > 0 {
				sb.WriteByte('\n')
			}
			fmt.Fprintf(&sb, "  %10s |", humanize.IBytes(c*cell))
		}
		cellLen := min(cell, capacity-c*cell)
		switch {
		case glyph[c] != 0:
			sb.WriteByte(glyph[c])
		case busy[c] == 0:
			sb.WriteByte(glyphFree)
		case busy[c] >= cellLen:
			sb.WriteByte(glyphFull)
		default:
			sb.WriteByte(glyphPartial)
		}
	}
	sb.WriteByte('\n')
	fmt.Fprintf(&sb, "  one cell = %s; # used  + partly used  . free  P pinned  m moving\n", humanize.IBytes(cell))

	_, err := io.WriteString(w, sb.String())
	return err
}
