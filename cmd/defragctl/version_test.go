package main

import (
	"runtime"
	"testing"
)

func runVersion() error { return versionCmd.RunE(versionCmd, nil) }

func TestVersionText(t *testing.T) {
	resetFlags()

	output, err := captureOutput(t, runVersion)
	if err != nil {
		t.Fatalf("version error = %v", err)
	}
	assertContains(t, output, []string{"defragctl dev", "commit: none", runtime.Version()})
}

func TestVersionJSON(t *testing.T) {
	resetFlags()
	jsonOut = true

	output, err := captureOutput(t, runVersion)
	if err != nil {
		t.Fatalf("version error = %v", err)
	}
	var info VersionInfo
	assertJSON(t, output, &info)
	if info.Version != version || info.Go != runtime.Version() {
		t.Errorf("unexpected version info: %+v", info)
	}
}

func TestInitLoggingToDir(t *testing.T) {
	resetFlags()
	logLevel = "debug"
	logDir = t.TempDir()
	t.Cleanup(resetFlags)

	if err := initLogging(); err != nil {
		t.Fatalf("initLogging() error = %v", err)
	}
	logLevel = ""
	if err := initLogging(); err != nil {
		t.Fatalf("initLogging() reset error = %v", err)
	}
}
