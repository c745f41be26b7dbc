package cmd

import (
	"errors"
	"fmt"
	"io/fs"
	"testing"
	"time"

	"github.com/furisto/batchinfer/backend/cache"
	"github.com/furisto/batchinfer/backend/model"
	"github.com/furisto/batchinfer/frontend/cli/pkg/terminal"
	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/spf13/afero"
)

var longDigest = cache.Digest([]byte("request body"))

func seedListCache(t *testing.T) func(fs *afero.Afero) {
	return func(fs *afero.Afero) {
		seedCache(t, fs, "t1", longDigest, cache.NewSuccessEntry(model.ProviderKindOpenAI, "gpt-4o-mini", model.NewCompletion(chatReply("", "a"))))
		seedCache(t, fs, "t1", "failed", cache.NewFailureEntry(model.ProviderKindOpenAI, "gpt-4o-mini", "unexpected status 500"))
		seedCache(t, fs, "t2", "ok", cache.NewSuccessEntry(model.ProviderKindBedrock, "anthropic.claude-3-haiku-20240307-v1:0", model.NewCompletion([]byte(`{}`))))
		fs.WriteFile("cache/t2/broken.blob", []byte("not json"), 0o644)
	}
}

func TestCacheList(t *testing.T) {
	setup := &TestSetup{
		CmpOptions: []cmp.Option{cmpopts.IgnoreFields(CacheEntryDisplay{}, "Size", "Updated")},
	}

	setup.RunTests(t, []TestScenario{
		{
			Name:            "all entries",
			Command:         []string{"cache", "list"},
			SetupFileSystem: seedListCache(t),
			Expected: TestExpectation{
				DisplayedObjects: []*CacheEntryDisplay{
					{Task: "t1", Digest: longDigest[:12], Status: "success", Provider: "openai", Model: "gpt-4o-mini"},
					{Task: "t1", Digest: "failed", Status: "failure", Provider: "openai", Model: "gpt-4o-mini"},
					{Task: "t2", Digest: "broken", Status: "corrupt"},
					{Task: "t2", Digest: "ok", Status: "success", Provider: "bedrock", Model: "anthropic.claude-3-haiku-20240307-v1:0"},
				},
			},
		},
		{
			Name:            "failures of one task",
			Command:         []string{"cache", "ls", "--task", "t2", "--failures", "-o", "json"},
			SetupFileSystem: seedListCache(t),
			Expected: TestExpectation{
				DisplayedObjects: []*CacheEntryDisplay{
					{Task: "t2", Digest: "broken", Status: "corrupt"},
				},
				DisplayFormat: OutputFormatJSON,
			},
		},
		{
			Name:    "empty cache",
			Command: []string{"cache", "list"},
			Expected: TestExpectation{
				DisplayedObjects: []*CacheEntryDisplay{},
			},
		},
	})
}

func TestCachePrune(t *testing.T) {
	exists := func(t *testing.T, afs *afero.Afero, path string, want bool) {
		t.Helper()
		_, err := afs.Stat(path)
		if got := !errors.Is(err, fs.ErrNotExist); got != want {
			t.Errorf("%s exists = %v, want %v", path, got, want)
		}
	}

	setup := &TestSetup{}
	setup.RunTests(t, []TestScenario{
		{
			Name:            "failures with force",
			Command:         []string{"cache", "prune", "--failures", "--force"},
			SetupFileSystem: seedListCache(t),
			Expected: TestExpectation{
				Stdout: fmt.Sprintf("%s Pruned 2 cache entries\n", terminal.SuccessSymbol),
			},
			Verify: func(t *testing.T, fs *afero.Afero) {
				exists(t, fs, "cache/t1/failed.blob", false)
				exists(t, fs, "cache/t2/broken.blob", false)
				exists(t, fs, "cache/t2/ok.blob", true)
			},
		},
		{
			Name:            "one task after confirmation",
			Command:         []string{"cache", "prune", "--task", "t1"},
			Stdin:           "y\n",
			SetupFileSystem: seedListCache(t),
			Expected: TestExpectation{
				Stdout: fmt.Sprintf("Are you sure you want to delete all cached completions of task t1? (y/n): %s Pruned 2 cache entries\n", terminal.SuccessSymbol),
			},
			Verify: func(t *testing.T, fs *afero.Afero) {
				exists(t, fs, "cache/t1/failed.blob", false)
				exists(t, fs, "cache/t2/ok.blob", true)
			},
		},
		{
			Name:            "declined",
			Command:         []string{"cache", "prune"},
			Stdin:           "n\n",
			SetupFileSystem: seedListCache(t),
			Expected: TestExpectation{
				Stdout: "Are you sure you want to delete all cached completions of every task? (y/n): ",
			},
			Verify: func(t *testing.T, fs *afero.Afero) {
				exists(t, fs, "cache/t1/failed.blob", true)
			},
		},
		{
			Name:    "older than",
			Command: []string{"cache", "prune", "--older-than", "7d", "-f"},
			SetupFileSystem: func(fs *afero.Afero) {
				seedListCache(t)(fs)
				old := time.Now().Add(-8 * 24 * time.Hour)
				fs.Chtimes("cache/t2/ok.blob", old, old)
			},
			Expected: TestExpectation{
				Stdout: fmt.Sprintf("%s Pruned 1 cache entry\n", terminal.SuccessSymbol),
			},
			Verify: func(t *testing.T, fs *afero.Afero) {
				exists(t, fs, "cache/t2/ok.blob", false)
				exists(t, fs, "cache/t1/failed.blob", true)
			},
		},
		{
			Name:    "invalid age",
			Command: []string{"cache", "prune", "--older-than", "soon", "-f"},
			Expected: TestExpectation{
				Error: `time: invalid duration "soon"`,
			},
		},
	})
}

func TestCutoffFor(t *testing.T) {
	t.Parallel()

	now := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)

	tests := []struct {
		input   string
		want    time.Time
		wantErr bool
	}{
		{input: "", want: time.Time{}},
		{input: "36h", want: now.Add(-36 * time.Hour)},
		{input: "1.5d", want: now.Add(-36 * time.Hour)},
		{input: "0d", wantErr: true},
		{input: "-2h", wantErr: true},
		{input: "xd", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			t.Parallel()

			got, err := cutoffFor(tt.input, now)
			if (err != nil) != tt.wantErr {
				t.Fatalf("cutoffFor(%q) error = %v, wantErr %v", tt.input, err, tt.wantErr)
			}
			if !got.Equal(tt.want) {
				t.Errorf("cutoffFor(%q) = %v, want %v", tt.input, got, tt.want)
			}
		})
	}
}
