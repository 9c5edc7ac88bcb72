package cmd

import (
	"github.com/spf13/cobra"
)

var configPath string

var rootCmd = &cobra.Command{
	Use:   "beacon",
	Short: "Beacon - retrieval-grounded conversational assistant backend",
	Long: `Beacon serves a conversational assistant over a JSON HTTP API.
Replies are grounded in a knowledge base through vector retrieval, and
conversations are kept as threads in memory or PostgreSQL.`,
	SilenceUsage: true,
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to config file (default beacon.yaml)")
}
