// Package cli implements the seqctl command tree.
package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

// NewRootCmd creates the seqctl root command with every subcommand attached.
func NewRootCmd(version string) *cobra.Command {
	root := &cobra.Command{
		Use:   "seqctl",
		Short: "Allocate and inspect block-cached id sequences",
		Long: "seqctl hands out unique ids from a shared counter store " +
			"(memory, sqlite, bolt, dynamodb, s3, minio) using block reservations.",
		// SilenceUsage prevents printing usage on every error
		SilenceUsage: true,
		// main prints the error once, with the exit code it carries
		SilenceErrors: true,
	}

	root.PersistentFlags().StringP("config", "c", "", "Path to the YAML config file (default: in-memory backend)")
	root.PersistentFlags().String("log-level", "", "Override log.level (debug, info, warn, error)")

	root.Version = version
	root.SetVersionTemplate(fmt.Sprintf("seqctl version %s\n", version))

	root.AddCommand(NewNextCmd())
	root.AddCommand(NewCreateCmd())
	root.AddCommand(NewListCmd())
	root.AddCommand(NewBenchCmd())

	return root
}
