package cmd

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/spf13/cobra"

	"github.com/furisto/batchinfer/backend/cache"
	"github.com/furisto/batchinfer/frontend/cli/pkg/fail"
	"github.com/furisto/batchinfer/frontend/cli/pkg/terminal"
)

type cachePruneOptions struct {
	Task         string
	FailuresOnly bool
	OlderThan    string
	Force        bool
}

func NewCachePruneCmd() *cobra.Command {
	var options cachePruneOptions

	cmd := &cobra.Command{
		Use:   "prune [flags]",
		Short: "Delete cached completions",
		Long: `Delete cached completions so the next run fetches them again.

Without flags every entry of every task is removed. Corrupt entries count as
failures, so --failures also clears blobs that would otherwise abort a run.`,
		Example: `  # Retry every failed request of a task on the next run
  batchinfer cache prune --task summaries --failures

  # Drop entries older than two weeks without asking
  batchinfer cache prune --older-than 14d --force`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			before, err := cutoffFor(options.OlderThan, time.Now())
			if err != nil {
				return err
			}

			if !options.Force && !confirm(cmd.InOrStdin(), cmd.OutOrStdout(), pruneQuestion(&options)) {
				return nil
			}

			cfg := getConfig(cmd.Context())
			c, err := cache.New(getFileSystem(cmd.Context()), cfg.CacheDir, cache.WithLogger(slog.Default()))
			if err != nil {
				return err
			}
			defer c.Close()

			removed, err := c.Prune(options.Task, cache.PruneFilter{
				FailuresOnly: options.FailuresOnly,
				Before:       before,
			})
			if err != nil {
				return fail.EnhanceError(err, options.Task)
			}

			fmt.Fprintf(cmd.OutOrStdout(), "%s Pruned %d cache %s\n", terminal.SuccessSymbol, removed, pluralize("entry", "entries", removed))
			return nil
		},
	}

	cmd.Flags().StringVar(&options.Task, "task", "", "only prune this task")
	cmd.Flags().BoolVar(&options.FailuresOnly, "failures", false, "only prune failed and corrupt entries")
	cmd.Flags().StringVar(&options.OlderThan, "older-than", "", `only prune entries older than this, e.g. "36h" or "7d"`)
	cmd.Flags().BoolVarP(&options.Force, "force", "f", false, "skip the confirmation prompt")

	return cmd
}

func pruneQuestion(options *cachePruneOptions) string {
	what := "all cached completions"
	if options.FailuresOnly {
		what = "all cached failures"
	}

	scope := "of every task"
	if options.Task != "" {
		scope = fmt.Sprintf("of task %s", options.Task)
	}

	question := fmt.Sprintf("Are you sure you want to delete %s %s", what, scope)
	if options.OlderThan != "" {
		question += fmt.Sprintf(" older than %s", options.OlderThan)
	}
	return question + "?"
}

func pluralize(singular, plural string, n int) string {
	if n == 1 {
		return singular
	}
	return plural
}
