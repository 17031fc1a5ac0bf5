package cmd

import (
	"fmt"

	"github.com/Azure/sap-automation-qa/internal/controller/handlers"

	"github.com/spf13/cobra"
)

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintf(cmd.OutOrStdout(), "sap-qa-scheduler %s\n", handlers.Version)
	},
}

func init() {
	rootCmd.AddCommand(versionCmd)
}
