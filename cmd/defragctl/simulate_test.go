package main

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestSimulateCommand(t *testing.T) {
	tests := []struct {
		name        string
		setup       func()
		wantErr     bool
		wantContain []string
	}{
		{
			name:        "defaults",
			setup:       func() {},
			wantContain: []string{"Before defragmentation:", "After ", "blocks verified", "Fragmentation:"},
		},
		{
			name: "first fit with maps",
			setup: func() {
				simSearch = "first"
				simMap = true
			},
			wantContain: []string{"Before:", "After:", "one cell = 128 B"},
		},
		{
			name:    "unknown search",
			setup:   func() { simSearch = "worst" },
			wantErr: true,
		},
		{
			name:    "bad size",
			setup:   func() { simSize = "lots" },
			wantErr: true,
		},
		{
			name:    "unaligned size",
			setup:   func() { simSize = "1000B" },
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resetFlags()
			tt.setup()

			output, err := captureOutput(t, runSimulate)
			if (err != nil) != tt.wantErr {
				t.Fatalf("runSimulate() error = %v, wantErr %v", err, tt.wantErr)
			}
			assertContains(t, output, tt.wantContain)
		})
	}
}

func TestSimulateJSON(t *testing.T) {
	resetFlags()
	jsonOut = true

	output, err := captureOutput(t, runSimulate)
	if err != nil {
		t.Fatalf("runSimulate() error = %v", err)
	}

	var res SimulateResult
	assertJSON(t, output, &res)
	if res.Verified == 0 {
		t.Errorf("no blocks verified: %s", output)
	}
	if res.After.InUseSize != res.Before.InUseSize {
		t.Errorf("in-use size changed from %d to %d", res.Before.InUseSize, res.After.InUseSize)
	}
	if res.After.FreeBlocks > res.Before.FreeBlocks {
		t.Errorf("free blocks grew from %d to %d", res.Before.FreeBlocks, res.After.FreeBlocks)
	}
	if res.MovedBytes > 0 && res.Copies.Completed == 0 {
		t.Errorf("moved %d bytes without completed copies", res.MovedBytes)
	}
}

func TestSimulateQuiet(t *testing.T) {
	resetFlags()
	quiet = true

	output, err := captureOutput(t, runSimulate)
	if err != nil {
		t.Fatalf("runSimulate() error = %v", err)
	}
	if strings.TrimSpace(output) != "" {
		t.Errorf("quiet run printed output: %s", output)
	}
}

func TestSimulateDumpThenInspect(t *testing.T) {
	resetFlags()
	simDump = filepath.Join(t.TempDir(), "heap.snap")

	output, err := captureOutput(t, runSimulate)
	if err != nil {
		t.Fatalf("runSimulate() error = %v", err)
	}
	assertContains(t, output, []string{"Snapshot written to"})
	if _, err := os.Stat(simDump); err != nil {
		t.Fatalf("snapshot missing: %v", err)
	}

	inspectBlocks = true
	output, err = captureOutput(t, func() error { return runInspect([]string{simDump}) })
	if err != nil {
		t.Fatalf("runInspect() error = %v", err)
	}
	assertContains(t, output, []string{
		"Snapshot: " + simDump,
		"Alignment: 16 bytes",
		"Segments: 1",
		"Pending moves: 0",
		"Capacity:",
		"Blocks:",
		"simulate",
	})
}
