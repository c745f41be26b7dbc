package cmd

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestRenderTable(t *testing.T) {
	tests := []struct {
		name     string
		input    any
		expected []string
		absent   []string
	}{
		{
			name: "slice of structs",
			input: []*CacheEntryDisplay{
				{Task: "t1", Digest: "abc", Status: "success", Model: "gpt-4o"},
				{Task: "t2", Digest: "def", Status: "corrupt"},
			},
			expected: []string{"TASK", "DIGEST", "STATUS", "t1", "abc", "gpt-4o", "t2", "corrupt"},
		},
		{
			name:     "single struct",
			input:    &RunSummaryDisplay{Task: "t1", Total: 3, Cost: "$0.0100"},
			expected: []string{"TASK", "INPUT TOKENS", "t1", "3", "$0.0100"},
		},
		{
			name:     "empty slice keeps header",
			input:    []*CacheEntryDisplay{},
			expected: []string{"TASK"},
			absent:   []string{"t1"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			renderer := &DefaultRenderer{}
			if err := renderer.Render(tt.input, &RenderOptions{Format: OutputFormatTable, Writer: &buf}); err != nil {
				t.Fatalf("Render() error = %v", err)
			}

			output := buf.String()
			for _, exp := range tt.expected {
				if !strings.Contains(output, exp) {
					t.Errorf("expected output to contain %q, got:\n%s", exp, output)
				}
			}
			for _, abs := range tt.absent {
				if strings.Contains(output, abs) {
					t.Errorf("expected output not to contain %q, got:\n%s", abs, output)
				}
			}
		})
	}
}

func TestRenderTable_Unsupported(t *testing.T) {
	var buf bytes.Buffer
	err := (&DefaultRenderer{}).Render([]string{"a"}, &RenderOptions{Writer: &buf})
	if err == nil {
		t.Fatal("Render() expected error for a slice of strings")
	}
}

func TestRenderStructured(t *testing.T) {
	input := []*CostDisplay{{Task: "t1", Provider: "openai", Model: "gpt-4o-mini", Completions: 2, Cost: "$1.5000"}}

	var jsonBuf bytes.Buffer
	if err := (&DefaultRenderer{}).Render(input, &RenderOptions{Format: OutputFormatJSON, Writer: &jsonBuf}); err != nil {
		t.Fatalf("Render(json) error = %v", err)
	}
	var fromJSON []*CostDisplay
	if err := json.Unmarshal(jsonBuf.Bytes(), &fromJSON); err != nil {
		t.Fatalf("json output does not parse: %v\n%s", err, jsonBuf.String())
	}
	if diff := cmp.Diff(input, fromJSON); diff != "" {
		t.Errorf("json output mismatch (-want +got):\n%s", diff)
	}

	var yamlBuf bytes.Buffer
	if err := (&DefaultRenderer{}).Render(input, &RenderOptions{Format: OutputFormatYAML, Writer: &yamlBuf}); err != nil {
		t.Fatalf("Render(yaml) error = %v", err)
	}
	if !strings.Contains(yamlBuf.String(), "input_tokens: 0") {
		t.Errorf("yaml output missing snake_case keys:\n%s", yamlBuf.String())
	}
}

func TestOutputFormatSet(t *testing.T) {
	tests := []struct {
		input    string
		expected OutputFormat
		wantErr  bool
	}{
		{"json", OutputFormatJSON, false},
		{"yaml", OutputFormatYAML, false},
		{"table", OutputFormatTable, false},
		{"markdown", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			var f OutputFormat
			err := f.Set(tt.input)
			if (err != nil) != tt.wantErr {
				t.Errorf("OutputFormat.Set(%q) error = %v, wantErr %v", tt.input, err, tt.wantErr)
			}
			if f != tt.expected {
				t.Errorf("OutputFormat.Set(%q) = %v, want %v", tt.input, f, tt.expected)
			}
		})
	}
}
