package cmd

import (
	"errors"
	"fmt"
	"log/slog"
	"sort"

	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"

	"github.com/furisto/batchinfer/backend/cache"
	"github.com/furisto/batchinfer/backend/model"
	"github.com/furisto/batchinfer/backend/provider"
	"github.com/furisto/batchinfer/frontend/cli/pkg/fail"
)

type costOptions struct {
	Task          string
	RenderOptions RenderOptions
}

type CostDisplay struct {
	Task         string `json:"task" yaml:"task"`
	Provider     string `json:"provider" yaml:"provider"`
	Model        string `json:"model" yaml:"model"`
	Completions  int    `json:"completions" yaml:"completions"`
	Failures     int    `json:"failures" yaml:"failures"`
	InputTokens  int64  `json:"input_tokens" yaml:"input_tokens"`
	OutputTokens int64  `json:"output_tokens" yaml:"output_tokens"`
	Cost         string `json:"cost" yaml:"cost"`
}

func NewCostCmd() *cobra.Command {
	var options costOptions

	cmd := &cobra.Command{
		Use:   "cost [flags]",
		Short: "Price the completions stored in the cache",
		Long: `Price the completions stored in the cache without sending any request.

Entries are grouped by task, provider and model; each group is priced with the
model's per-million-token rates. Models without a known price show "n/a".`,
		Example: `  # Cost of every cached task
  batchinfer cost

  # Cost of a single task as JSON
  batchinfer cost --task summaries --output json`,
		GroupID: "core",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := getConfig(cmd.Context())

			c, err := cache.New(getFileSystem(cmd.Context()), cfg.CacheDir, cache.WithLogger(slog.Default()))
			if err != nil {
				return err
			}
			defer c.Close()

			displays, err := costByModel(c, options.Task)
			if err != nil {
				return fail.EnhanceError(err, options.Task)
			}

			return getRenderer(cmd.Context()).Render(displays, &options.RenderOptions)
		},
	}

	cmd.Flags().StringVar(&options.Task, "task", "", "only price this task")
	addRenderOptions(cmd, &options.RenderOptions)

	return cmd
}

type costGroup struct {
	task        string
	provider    model.ProviderKind
	model       string
	completions []*model.Completion
	failures    int
}

func costByModel(c *cache.Cache, task string) ([]*CostDisplay, error) {
	entries, err := c.List(task)
	if err != nil {
		return nil, err
	}

	groups := make(map[string]*costGroup)
	for _, item := range entries {
		if item.Corrupt {
			slog.Warn("skipping corrupt cache entry", "task", item.Task, "digest", item.Digest)
			continue
		}

		key := item.Task + "\x00" + item.Provider + "\x00" + item.Model
		group, ok := groups[key]
		if !ok {
			group = &costGroup{task: item.Task, provider: model.ProviderKind(item.Provider), model: item.Model}
			groups[key] = group
		}

		if item.Status == cache.StatusFailure {
			group.failures++
			continue
		}

		group.completions = append(group.completions, item.Entry.Completion())
	}

	displays := make([]*CostDisplay, 0, len(groups))
	for _, group := range groups {
		display := &CostDisplay{
			Task:        group.task,
			Provider:    string(group.provider),
			Model:       group.model,
			Completions: len(group.completions),
			Failures:    group.failures,
			Cost:        "n/a",
		}

		usage, err := provider.ExtractUsage(group.provider, group.completions)
		if err != nil {
			return nil, fmt.Errorf("task %s: %w", group.task, err)
		}
		display.InputTokens = usage.InputTokens
		display.OutputTokens = usage.OutputTokens

		cost, err := provider.ComputeCost(group.provider, group.model, usage)
		switch {
		case errors.Is(err, model.ErrUnsupportedModel):
		case err != nil:
			return nil, err
		default:
			display.Cost = formatCost(cost.TotalCost())
		}

		displays = append(displays, display)
	}

	sort.Slice(displays, func(i, j int) bool {
		if displays[i].Task != displays[j].Task {
			return displays[i].Task < displays[j].Task
		}
		if displays[i].Provider != displays[j].Provider {
			return displays[i].Provider < displays[j].Provider
		}
		return displays[i].Model < displays[j].Model
	})

	return displays, nil
}

func formatCost(cost decimal.Decimal) string {
	return "$" + cost.StringFixed(4)
}
