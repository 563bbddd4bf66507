package ingestion

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// MetricUnit is the unit a metric value is expressed in
type MetricUnit string

const (
	UnitPercent MetricUnit = "percent"
	UnitUSD     MetricUnit = "usd"
	UnitRatio   MetricUnit = "ratio"
	UnitCount   MetricUnit = "count"
	UnitShares  MetricUnit = "shares"
)

// IsValid returns true if the unit is valid
func (u MetricUnit) IsValid() bool {
	switch u {
	case UnitPercent, UnitUSD, UnitRatio, UnitCount, UnitShares:
		return true
	default:
		return false
	}
}

// PeriodType is the reporting period a metric value covers
type PeriodType string

const (
	PeriodTTM         PeriodType = "ttm"
	PeriodQuarterly   PeriodType = "quarterly"
	PeriodAnnual      PeriodType = "annual"
	PeriodPointInTime PeriodType = "point_in_time"
)

// IsValid returns true if the period type is valid
func (p PeriodType) IsValid() bool {
	switch p {
	case PeriodTTM, PeriodQuarterly, PeriodAnnual, PeriodPointInTime:
		return true
	default:
		return false
	}
}

// MetricFact is one persisted value, unique on
// (EntityID, MetricType, MetricDate, PeriodType).
type MetricFact struct {
	EntityID   uuid.UUID
	MetricType string
	MetricDate time.Time
	PeriodType PeriodType
	Value      decimal.Decimal
	Unit       MetricUnit
	Category   string
	Source     string
	Confidence decimal.Decimal
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// nullLike are the strings providers send in place of JSON null.
var nullLike = map[string]struct{}{
	"none":      {},
	"null":      {},
	"nil":       {},
	"n/a":       {},
	"na":        {},
	"nan":       {},
	"-":         {},
	"--":        {},
	"undefined": {},
}

var hundred = decimal.NewFromInt(100)

// ParseValue converts a raw provider value. Empty input yields ErrMissingValue,
// null-as-string payloads yield ErrDataQuality and anything else that is not a
// number yields ErrConversion.
func ParseValue(raw string) (decimal.Decimal, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return decimal.Zero, ErrMissingValue
	}
	if _, ok := nullLike[strings.ToLower(s)]; ok {
		return decimal.Zero, fmt.Errorf("%w: %q", ErrDataQuality, raw)
	}
	v, err := decimal.NewFromString(strings.ReplaceAll(s, ",", ""))
	if err != nil {
		return decimal.Zero, fmt.Errorf("%w: %q: %v", ErrConversion, raw, err)
	}
	return v, nil
}

// NormalizeValue scales provider fractions onto the 0-100 percent scale
// (0.153 becomes 15.3). Other units are returned unchanged.
func NormalizeValue(v decimal.Decimal, m FieldMapping) decimal.Decimal {
	if m.Unit == UnitPercent && m.Fractional {
		return v.Mul(hundred)
	}
	return v
}

// ParseMetricDate parses a provider date (YYYY-MM-DD). Missing or null-like
// dates fall back to the given default.
func ParseMetricDate(raw string, fallback time.Time) (time.Time, error) {
	s := strings.TrimSpace(raw)
	if _, ok := nullLike[strings.ToLower(s)]; s == "" || ok {
		return TruncateToDate(fallback), nil
	}
	d, err := time.Parse(time.DateOnly, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: metric date %q: %v", ErrConversion, raw, err)
	}
	return d, nil
}

// TruncateToDate returns midnight UTC of the given instant's UTC day.
func TruncateToDate(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}
