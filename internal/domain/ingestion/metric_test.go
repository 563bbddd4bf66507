package ingestion

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseValue(t *testing.T) {
	t.Run("numbers", func(t *testing.T) {
		for raw, want := range map[string]string{
			"0.153":       "0.153",
			" 42 ":        "42",
			"-1.25":       "-1.25",
			"2.5E9":       "2500000000",
			"1,234,567.5": "1234567.5",
		} {
			v, err := ParseValue(raw)
			require.NoError(t, err, raw)
			assert.True(t, decimal.RequireFromString(want).Equal(v), "%s -> %s", raw, v)
		}
	})

	t.Run("missing", func(t *testing.T) {
		_, err := ParseValue("  ")
		assert.ErrorIs(t, err, ErrMissingValue)
	})

	t.Run("null-like strings are data quality errors", func(t *testing.T) {
		for _, raw := range []string{"None", "null", "N/A", "-", "NaN", "undefined"} {
			_, err := ParseValue(raw)
			assert.ErrorIs(t, err, ErrDataQuality, raw)
		}
	})

	t.Run("other garbage is a conversion error", func(t *testing.T) {
		for _, raw := range []string{"12abc", "1.2.3", "$5"} {
			_, err := ParseValue(raw)
			assert.ErrorIs(t, err, ErrConversion, raw)
			assert.NotErrorIs(t, err, ErrDataQuality, raw)
		}
	})
}

func TestNormalizeValue(t *testing.T) {
	pct := FieldMapping{Unit: UnitPercent, Fractional: true}
	v := NormalizeValue(decimal.RequireFromString("0.153"), pct)
	assert.Equal(t, "15.3", v.String())

	already := FieldMapping{Unit: UnitPercent}
	assert.Equal(t, "15.3", NormalizeValue(decimal.RequireFromString("15.3"), already).String())

	usd := FieldMapping{Unit: UnitUSD, Fractional: true}
	assert.Equal(t, "0.153", NormalizeValue(decimal.RequireFromString("0.153"), usd).String())
}

func TestParseMetricDate(t *testing.T) {
	fallback := time.Date(2024, 7, 15, 18, 30, 0, 0, time.UTC)

	d, err := ParseMetricDate("2024-06-30", fallback)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2024, 6, 30, 0, 0, 0, 0, time.UTC), d)

	d, err = ParseMetricDate("", fallback)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2024, 7, 15, 0, 0, 0, 0, time.UTC), d)

	d, err = ParseMetricDate("None", fallback)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2024, 7, 15, 0, 0, 0, 0, time.UTC), d)

	_, err = ParseMetricDate("06/30/2024", fallback)
	assert.ErrorIs(t, err, ErrConversion)
}

func TestEnums(t *testing.T) {
	assert.True(t, UnitPercent.IsValid())
	assert.False(t, MetricUnit("eur").IsValid())
	assert.True(t, PeriodPointInTime.IsValid())
	assert.False(t, PeriodType("weekly").IsValid())
	assert.True(t, StateFailed.IsTerminal())
	assert.False(t, StateStoring.IsTerminal())
}
