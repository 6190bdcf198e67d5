package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// Version information set at build time.
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "easel",
		Short: "Real-time shared canvas server",
		Long: `Easel keeps multi-page drawing rooms in sync.

Clients connect over a websocket, join a room and exchange strokes,
page snapshots, clears, undo/redo and page changes. The server holds
the authoritative state of every room.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.AddCommand(
		serveCmd(),
		versionCmd(),
	)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %s\n", err)
		os.Exit(1)
	}
}
