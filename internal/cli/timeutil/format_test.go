package timeutil

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseSearchDate(t *testing.T) {
	want := time.Date(2023, 1, 15, 10, 30, 0, 0, time.UTC)

	tests := []struct {
		name    string
		input   string
		wantErr bool
	}{
		{name: "dashed form", input: "2023-01-15 10:30:00"},
		{name: "compact form", input: "20230115103000"},
		{name: "surrounding whitespace", input: "  20230115103000  "},
		{name: "date only", input: "2023-01-15", wantErr: true},
		{name: "garbage", input: "not-a-date", wantErr: true},
		{name: "empty", input: "", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseSearchDate(tt.input)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, want, got)
		})
	}
}

func TestValidateSearchDate(t *testing.T) {
	assert.NoError(t, ValidateSearchDate("2023-01-15 10:30:00"))
	assert.Error(t, ValidateSearchDate("2023/01/15"))
}

func TestFormatTimestamp(t *testing.T) {
	ts := time.Date(2023, 1, 15, 10, 30, 0, 0, time.UTC)
	assert.Equal(t, "2023-01-15 10:30:00", FormatTimestamp(ts))
	assert.Equal(t, "", FormatTimestamp(time.Time{}))
}
