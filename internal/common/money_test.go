package common

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseMinorUnits(t *testing.T) {
	tests := []struct {
		in   string
		want int64
	}{
		{"40.00", 4_000},
		{"40", 4_000},
		{"0.5", 50},
		{".99", 99},
		{"409.00", 40_900},
		{" 12.34 ", 1_234},
	}
	for _, tt := range tests {
		got, err := ParseMinorUnits(tt.in)
		require.NoError(t, err, tt.in)
		assert.Equal(t, tt.want, got, tt.in)
	}
}

func TestParseMinorUnitsRejects(t *testing.T) {
	for _, in := range []string{"", "abc", "1.234", "-5.00", "1,00"} {
		_, err := ParseMinorUnits(in)
		assert.ErrorIs(t, err, ErrInvalidAmount, in)
	}
}

func TestFormatMinorUnits(t *testing.T) {
	assert.Equal(t, "40.00", FormatMinorUnits(4_000))
	assert.Equal(t, "0.05", FormatMinorUnits(5))
	assert.Equal(t, "-1.50", FormatMinorUnits(-150))
}

func TestFormatParseRoundTrip(t *testing.T) {
	for _, amount := range []int64{0, 1, 99, 100, 4_000, 40_900, 123_456_789} {
		parsed, err := ParseMinorUnits(FormatMinorUnits(amount))
		require.NoError(t, err)
		assert.Equal(t, amount, parsed)
	}
}
