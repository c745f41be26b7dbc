package cmd

import (
	"testing"

	"github.com/furisto/batchinfer/backend/cache"
	"github.com/furisto/batchinfer/backend/model"
	"github.com/spf13/afero"
)

func seedCostCache(t *testing.T) func(fs *afero.Afero) {
	return func(fs *afero.Afero) {
		seedCache(t, fs, "t1", "a", cache.NewSuccessEntry(model.ProviderKindOpenAI, "gpt-4o-mini", model.NewCompletion(chatReply("", "a"))))
		seedCache(t, fs, "t1", "b", cache.NewSuccessEntry(model.ProviderKindOpenAI, "gpt-4o-mini", model.NewCompletion(chatReply("", "b"))))
		seedCache(t, fs, "t1", "c", cache.NewFailureEntry(model.ProviderKindOpenAI, "gpt-4o-mini", "unexpected status 500"))
		seedCache(t, fs, "t2", "d", cache.NewSuccessEntry(model.ProviderKindAnthropic, "claude-experimental", model.NewCompletion(
			[]byte(`{"id":"msg_1","type":"message","role":"assistant","content":[],"stop_reason":"end_turn","usage":{"input_tokens":10,"output_tokens":5}}`),
		)))
		fs.WriteFile("cache/t2/broken.blob", []byte("not json"), 0o644)
	}
}

func TestCost(t *testing.T) {
	setup := &TestSetup{}
	setup.RunTests(t, []TestScenario{
		{
			Name:            "all tasks",
			Command:         []string{"cost"},
			SetupFileSystem: seedCostCache(t),
			Expected: TestExpectation{
				DisplayedObjects: []*CostDisplay{
					{
						Task:         "t1",
						Provider:     "openai",
						Model:        "gpt-4o-mini",
						Completions:  2,
						Failures:     1,
						InputTokens:  2_000_000,
						OutputTokens: 2_000_000,
						Cost:         "$1.5000",
					},
					{
						Task:         "t2",
						Provider:     "anthropic",
						Model:        "claude-experimental",
						Completions:  1,
						InputTokens:  10,
						OutputTokens: 5,
						Cost:         "n/a",
					},
				},
			},
		},
		{
			Name:            "single task as yaml",
			Command:         []string{"cost", "--task", "t2", "-o", "yaml"},
			SetupFileSystem: seedCostCache(t),
			Expected: TestExpectation{
				DisplayedObjects: []*CostDisplay{
					{
						Task:         "t2",
						Provider:     "anthropic",
						Model:        "claude-experimental",
						Completions:  1,
						InputTokens:  10,
						OutputTokens: 5,
						Cost:         "n/a",
					},
				},
				DisplayFormat: OutputFormatYAML,
			},
		},
		{
			Name:    "empty cache",
			Command: []string{"cost"},
			Expected: TestExpectation{
				DisplayedObjects: []*CostDisplay{},
			},
		},
		{
			Name:    "invalid task",
			Command: []string{"cost", "--task", ".."},
			Expected: TestExpectation{
				Error: `invalid task name: ".."`,
			},
		},
	})
}
