package media

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseMWDate(t *testing.T) {
	got := ParseMWDate("20230115100000")
	require.NotNil(t, got)
	assert.Equal(t, time.Date(2023, 1, 15, 10, 0, 0, 0, time.UTC), *got)
}

func TestParseMWDateEmpty(t *testing.T) {
	assert.Nil(t, ParseMWDate(""))
}

func TestParseMWDateMalformed(t *testing.T) {
	// discovery keeps going over corrupt timestamps
	fallback := time.Date(1970, 1, 1, 0, 0, 1, 0, time.UTC)

	for _, in := range []string{"garbage", "20231501000000", "-1", "2023-01-15"} {
		got := ParseMWDate(in)
		require.NotNil(t, got, "input %q", in)
		assert.Equal(t, fallback, *got, "input %q", in)
	}
}

func TestFormatMWDate(t *testing.T) {
	ts := time.Date(2023, 1, 15, 10, 0, 0, 0, time.UTC)
	assert.Equal(t, "20230115100000", FormatMWDate(&ts))
	assert.Equal(t, "", FormatMWDate(nil))
}

func TestMWDateRoundTrip(t *testing.T) {
	parsed := ParseMWDate("20010915013255")
	assert.Equal(t, "20010915013255", FormatMWDate(parsed))
}
