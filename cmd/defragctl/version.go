package main

import (
	"runtime"

	"github.com/spf13/cobra"
)

// Set at build time with -ldflags "-X main.version=...".
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

// VersionInfo is the --json form of the version command.
type VersionInfo struct {
	Version string `json:"version"`
	Commit  string `json:"commit"`
	Built   string `json:"built"`
	Go      string `json:"go"`
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		info := VersionInfo{Version: version, Commit: commit, Built: date, Go: runtime.Version()}
		if jsonOut {
			return printJSON(info)
		}
		printInfo("defragctl %s\n", info.Version)
		printInfo("  commit: %s\n  built:  %s\n  go:     %s\n", info.Commit, info.Built, info.Go)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(versionCmd)
}
