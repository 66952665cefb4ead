package output

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPrintDetails(t *testing.T) {
	blocks := [][]Field{
		{
			{Name: "_id", Value: "17"},
			{Name: "wiki", Value: "commonswiki"},
			{Name: "title", Value: "Test.jpg"},
			{Name: "upload_date", Value: "2023-01-15 10:00:00"},
		},
		{
			{Name: "_id", Value: "18"},
			{Name: "wiki", Value: "commonswiki"},
			{Name: "title", Value: "Other.png"},
		},
	}

	var buf bytes.Buffer
	err := PrintDetails(&buf, blocks)
	require.NoError(t, err)

	output := buf.String()
	assert.Contains(t, output, "2 file(s) found")
	assert.Contains(t, output, "0)")
	assert.Contains(t, output, "1)")

	// names are left justified to a fixed width
	assert.Contains(t, output, "wiki                 | commonswiki")
	assert.Contains(t, output, "title                | Test.jpg")
	assert.Contains(t, output, "upload_date          | 2023-01-15 10:00:00")

	// internal identifiers stay hidden
	assert.NotContains(t, output, "_id")
	assert.NotContains(t, output, "17")
}

func TestPrintDetailsEmpty(t *testing.T) {
	var buf bytes.Buffer
	err := PrintDetails(&buf, nil)
	require.NoError(t, err)
	assert.Contains(t, buf.String(), "0 file(s) found")
}
