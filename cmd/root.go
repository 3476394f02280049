package cmd

import (
	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "provenance-service",
	Short: "Pharmaceutical provenance and anti-counterfeit token service",
	Long:  `A service that mints per-bottle verification tokens for drug batches, judges consumer scans, and tracks bottle ownership through claim and reset`,
}

// Execute runs the root command
func Execute() error {
	return rootCmd.Execute()
}
