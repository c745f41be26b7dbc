package cmd

import (
	"github.com/spf13/cobra"
)

func NewCacheCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cache",
		Short: "Inspect and prune cached completions",
		Long: `Inspect and prune cached completions.

Every completion is stored under <cache_dir>/<task>/<digest>.blob, where the
digest is the SHA-256 of the exact request body. Failed requests are stored as
well so they can be listed and pruned.`,
		GroupID: "cache",
	}

	cmd.AddCommand(NewCacheListCmd())
	cmd.AddCommand(NewCachePruneCmd())

	return cmd
}
