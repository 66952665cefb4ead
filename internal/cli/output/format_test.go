package output

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseFormat(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    Format
		wantErr bool
	}{
		{name: "detail", input: "detail", want: FormatDetail},
		{name: "empty defaults to detail", input: "", want: FormatDetail},
		{name: "table", input: "table", want: FormatTable},
		{name: "json", input: "json", want: FormatJSON},
		{name: "JSON uppercase", input: "JSON", want: FormatJSON},
		{name: "yaml", input: "yaml", want: FormatYAML},
		{name: "yml alias", input: "yml", want: FormatYAML},
		{name: "whitespace trimmed", input: "  table  ", want: FormatTable},
		{name: "invalid format", input: "xml", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseFormat(tt.input)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestFormatString(t *testing.T) {
	assert.Equal(t, "detail", FormatDetail.String())
	assert.Equal(t, "table", FormatTable.String())
	assert.Equal(t, "json", FormatJSON.String())
	assert.Equal(t, "yaml", FormatYAML.String())
}

func TestPrinter(t *testing.T) {
	var buf bytes.Buffer
	printer := NewPrinter(&buf, FormatTable, true)

	assert.Equal(t, FormatTable, printer.Format())

	printer.Println("3 files backed up")
	assert.Contains(t, buf.String(), "3 files backed up")
}

func TestPrinterColors(t *testing.T) {
	var buf bytes.Buffer
	printer := NewPrinter(&buf, FormatDetail, true)

	printer.Error("file deletion cannot be reverted")
	assert.Contains(t, buf.String(), "\033[31m")
	assert.Contains(t, buf.String(), "file deletion cannot be reverted")

	buf.Reset()
	plain := NewPrinter(&buf, FormatDetail, false)
	plain.Warning("dry mode, nothing deleted")
	assert.NotContains(t, buf.String(), "\033[")
	assert.Contains(t, buf.String(), "dry mode, nothing deleted")
}

func TestPrinterJSONFallback(t *testing.T) {
	var buf bytes.Buffer
	printer := NewPrinter(&buf, FormatDetail, false)

	// plain structs have no detail renderer, fall back to JSON
	err := printer.Print(testStruct{Wiki: "testwiki", Size: 10})
	require.NoError(t, err)
	assert.Contains(t, buf.String(), `"wiki": "testwiki"`)
}

func TestDefaultPrinter(t *testing.T) {
	printer := DefaultPrinter()
	assert.NotNil(t, printer)
	assert.Equal(t, FormatDetail, printer.Format())
}
