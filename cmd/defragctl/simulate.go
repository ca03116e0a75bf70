package main

import (
	"errors"
	"fmt"
	"math/rand"
	"os"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/joshuapare/defragheap/defrag"
	"github.com/joshuapare/defragheap/memcopy"
	"github.com/joshuapare/defragheap/report"
)

var (
	simSize     string
	simAlign    uint64
	simBlocks   int
	simMaxBlock string
	simFree     float64
	simSeed     int64
	simTicks    int
	simMoves    int
	simAmount   string
	simWorkers  int
	simSearch   string
	simMap      bool
	simDump     string
	simSettle   time.Duration
)

func init() {
	cmd := newSimulateCmd()
	cmd.Flags().StringVar(&simSize, "size", "1MiB", "Heap size")
	cmd.Flags().Uint64Var(&simAlign, "align", 16, "Minimum alignment in bytes")
	cmd.Flags().IntVar(&simBlocks, "blocks", 512, "Number of blocks to allocate")
	cmd.Flags().StringVar(&simMaxBlock, "max-block", "4KiB", "Largest block size")
	cmd.Flags().Float64Var(&simFree, "free", 0.4, "Fraction of blocks freed to fragment the heap")
	cmd.Flags().Int64Var(&simSeed, "seed", 1, "Workload seed")
	cmd.Flags().IntVar(&simTicks, "ticks", 1000, "Maximum number of defragmentation ticks")
	cmd.Flags().IntVar(&simMoves, "moves", 16, "Maximum moves scheduled per tick")
	cmd.Flags().StringVar(&simAmount, "amount", "64KiB", "Maximum bytes scheduled per tick")
	cmd.Flags().IntVar(&simWorkers, "workers", 2, "Copy worker goroutines")
	cmd.Flags().StringVar(&simSearch, "search", "best", "Allocation strategy (best, first)")
	cmd.Flags().BoolVar(&simMap, "map", false, "Print memory maps before and after")
	cmd.Flags().StringVar(&simDump, "dump", "", "Write an allocator snapshot to this file when done")
	cmd.Flags().DurationVar(&simSettle, "settle-timeout", 10*time.Second, "How long to wait for in-flight copies")
	rootCmd.AddCommand(cmd)
}

func newSimulateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "simulate",
		Short: "Fragment a heap, defragment it and verify every block",
		Long: `The simulate command builds an allocator over an anonymous memory
mapping, runs a seeded allocate/free workload that fragments it, then runs
defragmentation ticks until nothing more moves. Every live block is filled
with a byte pattern beforehand and checked afterwards.

Example:
  defragctl simulate
  defragctl simulate --size 16MiB --blocks 4096 --map
  defragctl simulate --seed 7 --dump heap.snap --json`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSimulate()
		},
	}
	return cmd
}

// SimulateResult is the JSON form of a simulate run.
type SimulateResult struct {
	Seed       int64            `json:"seed"`
	Before     defrag.Stats     `json:"before"`
	After      defrag.Stats     `json:"after"`
	Ticks      int              `json:"ticks"`
	MovedBytes uint64           `json:"moved_bytes"`
	Copies     memcopy.Counters `json:"copies"`
	Verified   int              `json:"verified_blocks"`
	Snapshot   string           `json:"snapshot,omitempty"`
}

type simBlock struct {
	h    defrag.Handle
	size uint64
	tag  byte
}

func parseSearch(s string) (defrag.SearchKind, error) {
	switch strings.ToLower(s) {
	case "best", "best-fit":
		return defrag.BestFit, nil
	case "first", "first-fit":
		return defrag.FirstFit, nil
	default:
		return 0, fmt.Errorf("unknown search strategy %q", s)
	}
}

func runSimulate() error {
	size, err := humanize.ParseBytes(simSize)
	if err != nil {
		return fmt.Errorf("invalid --size: %w", err)
	}
	maxBlock, err := humanize.ParseBytes(simMaxBlock)
	if err != nil || maxBlock == 0 {
		return fmt.Errorf("invalid --max-block %q", simMaxBlock)
	}
	amount, err := humanize.ParseBytes(simAmount)
	if err != nil {
		return fmt.Errorf("invalid --amount: %w", err)
	}
	search, err := parseSearch(simSearch)
	if err != nil {
		return err
	}
	if simBlocks <= 0 {
		return fmt.Errorf("--blocks must be positive")
	}

	heap, err := memcopy.New(int(size), memcopy.Options{Workers: simWorkers})
	if err != nil {
		return err
	}
	defer heap.Close()

	a, err := defrag.New(size, simAlign, defrag.Options{
		Policy:    heap,
		MaxAllocs: 2*simBlocks + 64,
		Search:    search,
	})
	if err != nil {
		return fmt.Errorf("failed to create allocator: %w", err)
	}

	printVerbose("Heap: %s, alignment %d, seed %d\n", humanize.IBytes(size), simAlign, simSeed)

	blocks := fragmentHeap(a, heap, maxBlock)
	before := a.Stats()
	if simMap && !jsonOut {
		printInfo("\nBefore:\n")
		if err := printMap(a.Layout(), before.Capacity); err != nil {
			return err
		}
	}

	res := SimulateResult{Seed: simSeed, Before: before}
	for res.Ticks < simTicks {
		n := a.DefragmentTick(simMoves, amount, true)
		res.Ticks++
		res.MovedBytes += n
		if err := settle(a, simSettle); err != nil {
			return err
		}
		printVerbose("  tick %d: %s scheduled, %d free blocks\n", res.Ticks, humanize.IBytes(n), a.Stats().FreeBlocks)
		if n == 0 {
			break
		}
	}

	corrupt := 0
	for _, b := range blocks {
		off := a.Pin(b.h)
		if !patternIntact(heap.Bytes(off, b.size), b.tag) {
			corrupt++
		}
		a.Unpin(b.h)
	}
	if corrupt > 0 {
		return fmt.Errorf("%d of %d blocks lost their contents", corrupt, len(blocks))
	}
	res.Verified = len(blocks)
	res.After = a.Stats()
	res.Copies = heap.Counters()

	layout := a.Layout()

	if simDump != "" {
		if err := a.DumpState(simDump); err != nil {
			return err
		}
		res.Snapshot = simDump
	}
	if err := a.Release(false); err != nil {
		return fmt.Errorf("failed to release allocator: %w", err)
	}

	if jsonOut {
		return printJSON(res)
	}

	printInfo("\nBefore defragmentation:\n")
	if err := writeStats(res.Before); err != nil {
		return err
	}
	printInfo("\nAfter %d ticks (%s moved):\n", res.Ticks, humanize.IBytes(res.MovedBytes))
	if err := writeStats(res.After); err != nil {
		return err
	}
	if simMap {
		printInfo("\nAfter:\n")
		if err := printMap(layout, res.After.Capacity); err != nil {
			return err
		}
	}
	printInfo("\n%d blocks verified, %d copies, %d cancelled\n", res.Verified, res.Copies.Completed, res.Copies.Cancelled)
	if res.Snapshot != "" {
		printInfo("Snapshot written to %s\n", res.Snapshot)
	}
	return nil
}

// fragmentHeap allocates up to simBlocks tagged blocks and frees a share of
// them at random.
func fragmentHeap(a *defrag.Allocator, heap *memcopy.Heap, maxBlock uint64) []simBlock {
	rng := rand.New(rand.NewSource(simSeed))
	var all []simBlock
	for i := range simBlocks {
		sz := 1 + uint64(rng.Int63n(int64(maxBlock)))
		h := a.Allocate(sz, "simulate", i)
		if h == defrag.InvalidHandle {
			printVerbose("Heap full after %d blocks\n", i)
			break
		}
		off := a.Pin(h)
		fillPattern(heap.Bytes(off, sz), byte(i))
		a.Unpin(h)
		all = append(all, simBlock{h: h, size: sz, tag: byte(i)})
	}

	kept := all[:0]
	for _, b := range all {
		if rng.Float64() < simFree {
			a.Free(b.h)
			continue
		}
		kept = append(kept, b)
	}
	return kept
}

// settle finalizes moves until none are pending.
func settle(a *defrag.Allocator, timeout time.Duration) error {
	deadline := time.Now().Add(timeout)
	for {
		a.DefragmentTick(0, 0, true)
		if a.PendingMoves() == 0 {
			return nil
		}
		if time.Now().After(deadline) {
			return errors.New("timed out waiting for copies to finish")
		}
		time.Sleep(100 * time.Microsecond)
	}
}

func fillPattern(b []byte, tag byte) {
	for i := range b {
		b[i] = tag ^ byte(i)
	}
}

func patternIntact(b []byte, tag byte) bool {
	for i := range b {
		if b[i] != tag^byte(i) {
			return false
		}
	}
	return true
}

func writeStats(st defrag.Stats) error {
	if quiet {
		return nil
	}
	return report.WriteStats(os.Stdout, st)
}

func printMap(blocks []defrag.Block, capacity uint64) error {
	if quiet {
		return nil
	}
	return writeMap(blocks, capacity, 0)
}

func writeMap(blocks []defrag.Block, capacity uint64, width int) error {
	return report.WriteMap(os.Stdout, blocks, capacity, report.MapOptions{Width: width})
}
