package cmd

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"reflect"
	"strings"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

type OutputFormat string

const (
	OutputFormatTable OutputFormat = "table"
	OutputFormatJSON  OutputFormat = "json"
	OutputFormatYAML  OutputFormat = "yaml"
)

func (f *OutputFormat) String() string {
	if f == nil || *f == "" {
		return string(OutputFormatTable)
	}
	return string(*f)
}

func (f *OutputFormat) Set(v string) error {
	switch OutputFormat(v) {
	case OutputFormatTable, OutputFormatJSON, OutputFormatYAML:
		*f = OutputFormat(v)
		return nil
	}
	return errors.New(`must be one of "table", "json", or "yaml"`)
}

func (f *OutputFormat) Type() string {
	return "format"
}

type RenderOptions struct {
	Format OutputFormat
	// Writer defaults to stdout.
	Writer io.Writer
}

func addRenderOptions(cmd *cobra.Command, options *RenderOptions) {
	cmd.Flags().VarP(&options.Format, "output", "o", `output format: "table", "json", or "yaml"`)
}

type OutputRenderer interface {
	Render(resources any, options *RenderOptions) error
}

type DefaultRenderer struct{}

var _ OutputRenderer = (*DefaultRenderer)(nil)

func (r *DefaultRenderer) Render(resources any, options *RenderOptions) error {
	w := options.Writer
	if w == nil {
		w = os.Stdout
	}

	switch options.Format {
	case OutputFormatJSON:
		encoder := json.NewEncoder(w)
		encoder.SetIndent("", "  ")
		return encoder.Encode(resources)
	case OutputFormatYAML:
		encoder := yaml.NewEncoder(w)
		defer encoder.Close()
		return encoder.Encode(resources)
	default:
		return renderTable(w, resources)
	}
}

// renderTable prints a struct or a slice of structs, one column per exported
// field, headed by the field's json name.
func renderTable(w io.Writer, resources any) error {
	value := reflect.ValueOf(resources)
	for value.Kind() == reflect.Pointer {
		if value.IsNil() {
			return nil
		}
		value = value.Elem()
	}

	var rows []reflect.Value
	switch value.Kind() {
	case reflect.Slice, reflect.Array:
		for i := range value.Len() {
			rows = append(rows, reflect.Indirect(value.Index(i)))
		}
	case reflect.Struct:
		rows = append(rows, value)
	default:
		return fmt.Errorf("cannot render %s as table", value.Kind())
	}

	elemType := value.Type()
	if value.Kind() == reflect.Slice || value.Kind() == reflect.Array {
		elemType = elemType.Elem()
		if elemType.Kind() == reflect.Pointer {
			elemType = elemType.Elem()
		}
	}
	if elemType.Kind() != reflect.Struct {
		return fmt.Errorf("cannot render %s as table", elemType.Kind())
	}

	var headers []string
	var fields []int
	for i := range elemType.NumField() {
		field := elemType.Field(i)
		if !field.IsExported() {
			continue
		}
		name, _, _ := strings.Cut(field.Tag.Get("json"), ",")
		if name == "-" {
			continue
		}
		if name == "" {
			name = field.Name
		}
		headers = append(headers, strings.ToUpper(strings.ReplaceAll(name, "_", " ")))
		fields = append(fields, i)
	}

	table := tablewriter.NewWriter(w)
	table.SetHeader(headers)
	table.SetBorder(false)
	table.SetAutoWrapText(false)
	table.SetHeaderAlignment(tablewriter.ALIGN_LEFT)
	table.SetAlignment(tablewriter.ALIGN_LEFT)
	table.SetColumnSeparator("")
	table.SetCenterSeparator("")
	table.SetRowSeparator("")
	table.SetHeaderLine(false)
	table.SetTablePadding("  ")
	table.SetNoWhiteSpace(true)

	for _, row := range rows {
		if !row.IsValid() {
			continue
		}
		cells := make([]string, len(fields))
		for i, idx := range fields {
			cells[i] = fmt.Sprint(row.Field(idx).Interface())
		}
		table.Append(cells)
	}

	table.Render()
	return nil
}
