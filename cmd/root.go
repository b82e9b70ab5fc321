package cmd

import (
	"os"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "crmhub",
	Short: "Business record management backend",
	Long: `crmhub is a business-record management backend with a REST API and an
asynchronous bulk-ingestion engine for large spreadsheet imports.`,
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() {
	err := rootCmd.Execute()
	if err != nil {
		os.Exit(1)
	}
}
