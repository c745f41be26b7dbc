package cmd

import (
	"bytes"
	"context"
	"testing"

	"github.com/furisto/batchinfer/shared/config"
	"github.com/furisto/batchinfer/shared/mocks"
	"github.com/google/go-cmp/cmp"
	"github.com/spf13/afero"
	"go.uber.org/mock/gomock"
)

type MockRenderer struct {
	DisplayedObjects any
	DisplayFormat    OutputFormat
}

func (m *MockRenderer) Render(resources any, options *RenderOptions) error {
	m.DisplayedObjects = resources
	m.DisplayFormat = options.Format
	return nil
}

type TestSetup struct {
	CmpOptions []cmp.Option
}

type TestScenario struct {
	Name            string
	Command         []string
	Stdin           string
	SetupFileSystem func(fs *afero.Afero)
	SetupEnv        map[string]string
	SetupUserInfo   func(userInfo *mocks.MockUserInfo)
	Expected        TestExpectation
	// Verify runs after the command against the same file system.
	Verify func(t *testing.T, fs *afero.Afero)
}

type TestExpectation struct {
	Stdout           string
	Error            string
	DisplayedObjects any
	DisplayFormat    OutputFormat
}

func (s *TestSetup) RunTests(t *testing.T, scenarios []TestScenario) {
	if len(scenarios) == 0 {
		t.Fatalf("no scenarios provided")
	}

	for _, scenario := range scenarios {
		t.Run(scenario.Name, func(t *testing.T) {
			ctrl := gomock.NewController(t)
			defer ctrl.Finish()

			userInfo := mocks.NewMockUserInfo(ctrl)
			if scenario.SetupUserInfo != nil {
				scenario.SetupUserInfo(userInfo)
			}

			fs := &afero.Afero{Fs: afero.NewMemMapFs()}
			if scenario.SetupFileSystem != nil {
				scenario.SetupFileSystem(fs)
			}

			env := scenario.SetupEnv
			lookupEnv := config.LookupEnv(func(key string) (string, bool) {
				value, ok := env[key]
				return value, ok
			})

			testCmd := NewRootCmd()

			var stdin bytes.Buffer
			if scenario.Stdin != "" {
				stdin.WriteString(scenario.Stdin)
			}
			testCmd.SetIn(&stdin)

			var stdout, stderr bytes.Buffer
			testCmd.SetOut(&stdout)
			testCmd.SetErr(&stderr)

			mockRenderer := &MockRenderer{}
			ctx := context.Background()
			ctx = context.WithValue(ctx, ContextKeyFileSystem, fs)
			ctx = context.WithValue(ctx, ContextKeyOutputRenderer, mockRenderer)
			ctx = context.WithValue(ctx, ContextKeyUserInfo, userInfo)
			ctx = context.WithValue(ctx, ContextKeyDisableFileLogs, true)
			ctx = context.WithValue(ctx, ContextKeyLookupEnv, lookupEnv)

			testCmd.SetArgs(scenario.Command)

			var actual TestExpectation
			err := testCmd.ExecuteContext(ctx)
			if err != nil {
				actual.Error = err.Error()
			}

			actual.DisplayedObjects = mockRenderer.DisplayedObjects
			actual.DisplayFormat = mockRenderer.DisplayFormat
			actual.Stdout = stdout.String()

			if diff := cmp.Diff(scenario.Expected, actual, s.CmpOptions...); diff != "" {
				t.Errorf("%s() mismatch (-want +got):\n%s\nstderr:\n%s", scenario.Name, diff, stderr.String())
			}

			if scenario.Verify != nil {
				scenario.Verify(t, fs)
			}
		})
	}
}
