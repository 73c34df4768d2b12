package output

import (
	"bytes"
	"testing"
	"time"

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
		{name: "table", input: "table", want: FormatTable},
		{name: "empty defaults to table", input: "", want: FormatTable},
		{name: "json", input: "json", want: FormatJSON},
		{name: "JSON uppercase", input: "JSON", want: FormatJSON},
		{name: "yml alias", input: "yml", want: FormatYAML},
		{name: "whitespace trimmed", input: "  yaml  ", want: FormatYAML},
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

func TestPrinter_NoColorForBuffers(t *testing.T) {
	var buf bytes.Buffer
	p := NewPrinter(&buf, FormatTable)
	assert.False(t, p.ColorEnabled())

	p.Success("done")
	p.Warning("careful")
	assert.Equal(t, "done\ncareful\n", buf.String())
}

func TestPrinter_ForcedColor(t *testing.T) {
	var buf bytes.Buffer
	NewPrinter(&buf, FormatTable).WithColor(true).Error("boom")
	assert.Equal(t, "\033[31mboom\033[0m\n", buf.String())
}

func TestPrinter_Print(t *testing.T) {
	table := NewTableData("Name", "State")
	table.AddRow("ui", "loaded")

	var buf bytes.Buffer
	require.NoError(t, NewPrinter(&buf, FormatTable).Print(table))
	assert.Contains(t, buf.String(), "NAME")
	assert.Contains(t, buf.String(), "loaded")

	buf.Reset()
	require.NoError(t, NewPrinter(&buf, FormatJSON).Print(map[string]int{"units": 2}))
	assert.Contains(t, buf.String(), `"units": 2`)

	buf.Reset()
	require.NoError(t, NewPrinter(&buf, FormatYAML).Print(map[string]int{"units": 2}))
	assert.Equal(t, "units: 2\n", buf.String())

	buf.Reset()
	require.NoError(t, NewPrinter(&buf, FormatTable).Print([]string{"a"}), "non-renderers fall back to JSON")
	assert.Contains(t, buf.String(), `"a"`)
}

func TestKeyValues(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, KeyValues(&buf, [][2]string{{"Instance", "abc"}, {"Ready", "true"}}))
	assert.Contains(t, buf.String(), "Instance")
	assert.Contains(t, buf.String(), "abc")
	assert.NotContains(t, buf.String(), "INSTANCE")
}

func TestBytesAndAgo(t *testing.T) {
	assert.Equal(t, "1.0 KiB", Bytes(1024))
	assert.Equal(t, "-", Bytes(-1))
	assert.Equal(t, "never", Ago(time.Time{}))
	assert.Contains(t, Ago(time.Now().Add(-3*time.Minute)), "ago")
}
