package main

import (
	"github.com/spf13/cobra"
)

const version = "0.1.0"

var configPath string

var rootCmd = &cobra.Command{
	Use:   "inkvoice",
	Short: "Self-hosted audiobook generation server",
	Long: `inkvoice turns plain text and markdown books into audiobooks with
word-level alignment, using pluggable TTS providers. Assets are served over a
small HTTP API for streaming playback with synchronized highlighting.`,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "config/dev.yaml", "path to configuration file")
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(versionCmd)
}
