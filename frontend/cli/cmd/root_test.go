package cmd

import (
	"log/slog"
	"testing"
)

func TestRoot(t *testing.T) {
	setup := &TestSetup{}
	setup.RunTests(t, []TestScenario{
		{
			Name:    "explicit config must exist",
			Command: []string{"cost", "--config", "/missing.yaml"},
			Expected: TestExpectation{
				Error: "config file /missing.yaml does not exist",
			},
		},
		{
			Name:     "invalid env override",
			Command:  []string{"cache", "list"},
			SetupEnv: map[string]string{"BATCHINFER_MAX_IN_FLIGHT": "many"},
			Expected: TestExpectation{
				Error: `invalid configuration: BATCHINFER_MAX_IN_FLIGHT: strconv.Atoi: parsing "many": invalid syntax`,
			},
		},
	})
}

func TestLogLevel(t *testing.T) {
	t.Parallel()

	tests := []struct {
		input   string
		want    slog.Level
		wantErr bool
	}{
		{input: "debug", want: slog.LevelDebug},
		{input: "info", want: slog.LevelInfo},
		{input: "warn", want: slog.LevelWarn},
		{input: "error", want: slog.LevelError},
		{input: "trace", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			t.Parallel()

			var level LogLevel
			err := level.Set(tt.input)
			if (err != nil) != tt.wantErr {
				t.Fatalf("Set(%q) error = %v, wantErr %v", tt.input, err, tt.wantErr)
			}
			if tt.wantErr {
				return
			}
			if got := level.SlogLevel(); got != tt.want {
				t.Errorf("SlogLevel() = %v, want %v", got, tt.want)
			}
		})
	}
}
