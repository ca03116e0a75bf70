package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/joshuapare/defragheap/defrag"
)

var (
	inspectMap    bool
	inspectBlocks bool
	inspectWidth  int
)

func init() {
	cmd := newInspectCmd()
	cmd.Flags().BoolVar(&inspectMap, "map", true, "Print the memory map")
	cmd.Flags().BoolVar(&inspectBlocks, "blocks", false, "List every block")
	cmd.Flags().IntVar(&inspectWidth, "width", 64, "Memory map cells per row")
	rootCmd.AddCommand(cmd)
}

func newInspectCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "inspect <snapshot>",
		Short: "Show the state saved in an allocator snapshot",
		Long: `The inspect command loads a snapshot written by DumpState (or
defragctl simulate --dump) and reports its statistics, segments and pending
moves, with an optional memory map and block listing.

Example:
  defragctl inspect heap.snap
  defragctl inspect heap.snap --blocks --map=false
  defragctl inspect heap.snap --json`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runInspect(args)
		},
	}
	return cmd
}

// InspectResult is the JSON form of a snapshot.
type InspectResult struct {
	File         string         `json:"file"`
	MinAlignment uint64         `json:"min_alignment"`
	Segments     int            `json:"segments"`
	PendingMoves int            `json:"pending_moves"`
	Stats        defrag.Stats   `json:"stats"`
	Blocks       []defrag.Block `json:"blocks,omitempty"`
}

func runInspect(args []string) error {
	path := args[0]

	printVerbose("Loading snapshot: %s\n", path)

	a, err := defrag.LoadState(path, defrag.Options{})
	if err != nil {
		if defrag.IsBadSnapshot(err) {
			return fmt.Errorf("%s is not a valid snapshot: %w", path, err)
		}
		return fmt.Errorf("failed to load snapshot: %w", err)
	}

	res := InspectResult{
		File:         path,
		MinAlignment: a.MinAlignment(),
		Segments:     a.NumSegments(),
		PendingMoves: a.PendingMoves(),
		Stats:        a.Stats(),
	}
	layout := a.Layout()
	if inspectBlocks {
		res.Blocks = layout
	}

	if jsonOut {
		return printJSON(res)
	}

	printInfo("\nSnapshot: %s\n", path)
	printInfo("  Alignment: %d bytes\n", res.MinAlignment)
	printInfo("  Segments: %d\n", res.Segments)
	printInfo("  Pending moves: %d\n\n", res.PendingMoves)
	if err := writeStats(res.Stats); err != nil {
		return err
	}

	if inspectMap && !quiet {
		printInfo("\n")
		if err := writeMap(layout, res.Stats.Capacity, inspectWidth); err != nil {
			return err
		}
	}

	if inspectBlocks {
		printInfo("\nBlocks:\n")
		for _, b := range layout {
			state := "free"
			switch {
			case b.Moving:
				state = "moving"
			case b.Pinned():
				state = fmt.Sprintf("pinned x%d", b.PinCount)
			case b.Busy:
				state = "used"
			}
			printInfo("  %10d  %10d  %-10s %s\n", b.Offset, b.Size, state, b.Source)
		}
	}
	return nil
}
