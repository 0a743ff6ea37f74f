package main

import (
	"log"

	"github.com/spf13/cobra"
)

var configPath string

var rootCmd = &cobra.Command{
	Use:   "labsync",
	Short: "Relay lab orders from the operational database to the Bemsoft platform",
	Long: `labsync watches the operational database for new lab-order items,
groups them into per-order batches, and delivers each batch to the
Bemsoft support-lab API exactly once. Rejected batches are written to a
local failure directory for inspection and replay.`,
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "./config/labsync.yaml", "path to the YAML config file")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		log.Fatalf("labsync: %v", err)
	}
}
