// Command zincsync is the reference CLI for a local-first, peer-synced
// notebook: create workspaces and pages, render or dump their content,
// manage paired devices, and run the background sync coordinator.
package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/zincnote/zincsync/internal/config"
)

var dataDir string

var rootCmd = &cobra.Command{
	Use:   "zincsync",
	Short: "Local-first, peer-synced notebook",
	Long: `zincsync stores workspaces of hierarchical pages locally and syncs
changes directly between paired devices over an encrypted peer-to-peer
connection — no server in the middle.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	cfg := config.FromEnv()
	rootCmd.PersistentFlags().StringVar(&dataDir, "data-dir", filepath.Dir(cfg.DBPath),
		"directory holding the zincsync database")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}
