package cmd

import (
	"log/slog"
	"sort"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/furisto/batchinfer/backend/cache"
	"github.com/furisto/batchinfer/frontend/cli/pkg/fail"
)

const shortDigestLength = 12

type cacheListOptions struct {
	Task          string
	FailuresOnly  bool
	RenderOptions RenderOptions
}

type CacheEntryDisplay struct {
	Task     string `json:"task" yaml:"task"`
	Digest   string `json:"digest" yaml:"digest"`
	Status   string `json:"status" yaml:"status"`
	Provider string `json:"provider" yaml:"provider"`
	Model    string `json:"model" yaml:"model"`
	Size     string `json:"size" yaml:"size"`
	Updated  string `json:"updated" yaml:"updated"`
}

func NewCacheListCmd() *cobra.Command {
	var options cacheListOptions

	cmd := &cobra.Command{
		Use:     "list [flags]",
		Short:   "List cached completions",
		Aliases: []string{"ls"},
		Example: `  # List every cached completion
  batchinfer cache list

  # List the failures of one task as JSON
  batchinfer cache ls --task summaries --failures -o json`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := getConfig(cmd.Context())

			c, err := cache.New(getFileSystem(cmd.Context()), cfg.CacheDir, cache.WithLogger(slog.Default()))
			if err != nil {
				return err
			}
			defer c.Close()

			entries, err := c.List(options.Task)
			if err != nil {
				return fail.EnhanceError(err, options.Task)
			}

			displays := make([]*CacheEntryDisplay, 0, len(entries))
			for _, entry := range entries {
				if options.FailuresOnly && !entry.Corrupt && entry.Status != cache.StatusFailure {
					continue
				}
				displays = append(displays, ConvertCacheEntryToDisplay(entry))
			}

			sort.Slice(displays, func(i, j int) bool {
				if displays[i].Task != displays[j].Task {
					return displays[i].Task < displays[j].Task
				}
				return displays[i].Digest < displays[j].Digest
			})

			return getRenderer(cmd.Context()).Render(displays, &options.RenderOptions)
		},
	}

	cmd.Flags().StringVar(&options.Task, "task", "", "only list this task")
	cmd.Flags().BoolVar(&options.FailuresOnly, "failures", false, "only list failed and corrupt entries")
	addRenderOptions(cmd, &options.RenderOptions)

	return cmd
}

func ConvertCacheEntryToDisplay(entry cache.ListEntry) *CacheEntryDisplay {
	status := string(entry.Status)
	if entry.Corrupt {
		status = "corrupt"
	}

	digest := entry.Digest
	if len(digest) > shortDigestLength {
		digest = digest[:shortDigestLength]
	}

	return &CacheEntryDisplay{
		Task:     entry.Task,
		Digest:   digest,
		Status:   status,
		Provider: entry.Provider,
		Model:    entry.Model,
		Size:     humanize.Bytes(uint64(entry.Size)),
		Updated:  humanize.Time(entry.UpdatedAt),
	}
}
