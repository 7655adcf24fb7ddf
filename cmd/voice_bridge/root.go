package main

import (
	"github.com/spf13/cobra"
)

var configFile string

var rootCmd = &cobra.Command{
	Use:   "voice_bridge",
	Short: "SIP to AI voice assistant bridge",
	Long: `voice_bridge answers inbound SIP calls, segments caller speech with an
adaptive voice activity detector and answers through a speech-to-text,
language model and text-to-speech pipeline. Conversations are stored in
SQLite and exposed through an HTTP API with WebSocket events.`,
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", "", "config file path (YAML)")

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(simulateCmd)
	rootCmd.AddCommand(configCmd)
}
