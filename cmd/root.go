package cmd

import (
	"log"

	"github.com/spf13/cobra"
)

// Execute runs the command using program args and exits on failure.
func Execute() {
	if err := rootCmd().Execute(); err != nil {
		log.Fatal(err)
	}
}

func rootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "glootie-exec",
		Short: "Isolated code-execution worker service",
	}
	cmd.AddCommand(runCmd())
	return cmd
}
