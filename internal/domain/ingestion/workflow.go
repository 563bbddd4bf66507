package ingestion

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// FieldMapping maps one provider field onto a metric.
type FieldMapping struct {
	Field      string
	MetricType string
	Unit       MetricUnit
	Category   string
	PeriodType PeriodType
	// Fractional marks percent fields the provider reports as fractions (0.153).
	Fractional bool
	Confidence decimal.Decimal
}

// Workflow binds a provider function to the fields it yields.
type Workflow struct {
	Name          string
	Function      string
	IdentityField string
	DateField     string
	Source        string
	EntityTags    []string
	Entities      []string
	Fields        []FieldMapping
}

// Validate checks the workflow definition.
func (w *Workflow) Validate() error {
	if strings.TrimSpace(w.Name) == "" {
		return fmt.Errorf("workflow name is required")
	}
	if strings.TrimSpace(w.Function) == "" {
		return fmt.Errorf("workflow %s: provider function is required", w.Name)
	}
	if strings.TrimSpace(w.IdentityField) == "" {
		return fmt.Errorf("workflow %s: identity field is required", w.Name)
	}
	if len(w.Fields) == 0 {
		return fmt.Errorf("workflow %s: at least one field mapping is required", w.Name)
	}
	seen := make(map[string]struct{}, len(w.Fields))
	for _, f := range w.Fields {
		if f.Field == "" || f.MetricType == "" {
			return fmt.Errorf("workflow %s: field mapping needs field and metric type", w.Name)
		}
		if !f.Unit.IsValid() {
			return fmt.Errorf("workflow %s: field %s has invalid unit %q", w.Name, f.Field, f.Unit)
		}
		if !f.PeriodType.IsValid() {
			return fmt.Errorf("workflow %s: field %s has invalid period type %q", w.Name, f.Field, f.PeriodType)
		}
		key := f.MetricType + "/" + string(f.PeriodType)
		if _, dup := seen[key]; dup {
			return fmt.Errorf("workflow %s: metric %s mapped twice", w.Name, key)
		}
		seen[key] = struct{}{}
	}
	return nil
}

// CacheKey is the response cache key for one entity of this workflow.
func (w *Workflow) CacheKey(externalKey string) string {
	return w.Name + ":" + NormalizeKey(externalKey)
}

// BuildFact converts one provider field into a metric fact. It returns
// ErrMissingValue for absent, empty or zero values, which callers skip.
func (w *Workflow) BuildFact(entityID uuid.UUID, m FieldMapping, raw string, present bool, metricDate time.Time) (*MetricFact, error) {
	if !present {
		return nil, ErrMissingValue
	}
	v, err := ParseValue(raw)
	if err != nil {
		return nil, fmt.Errorf("field %s: %w", m.Field, err)
	}
	if v.IsZero() {
		return nil, ErrMissingValue
	}

	confidence := m.Confidence
	if confidence.IsZero() {
		confidence = decimal.NewFromInt(1)
	}

	return &MetricFact{
		EntityID:   entityID,
		MetricType: m.MetricType,
		MetricDate: metricDate,
		PeriodType: m.PeriodType,
		Value:      NormalizeValue(v, m),
		Unit:       m.Unit,
		Category:   m.Category,
		Source:     w.Source,
		Confidence: confidence,
	}, nil
}

// Registry holds the configured workflows by name.
type Registry struct {
	workflows map[string]*Workflow
}

// NewRegistry validates and indexes workflows.
func NewRegistry(workflows ...*Workflow) (*Registry, error) {
	r := &Registry{workflows: make(map[string]*Workflow, len(workflows))}
	for _, w := range workflows {
		if err := w.Validate(); err != nil {
			return nil, err
		}
		r.workflows[w.Name] = w
	}
	return r, nil
}

// Get returns the named workflow.
func (r *Registry) Get(name string) (*Workflow, error) {
	w, ok := r.workflows[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownWorkflow, name)
	}
	return w, nil
}

// Names returns the workflow names in sorted order.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.workflows))
	for name := range r.workflows {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func fractionalPercent(field, metric, category string) FieldMapping {
	return FieldMapping{Field: field, MetricType: metric, Unit: UnitPercent, Category: category, PeriodType: PeriodTTM, Fractional: true}
}

// DefaultWorkflows returns the built-in workflow definitions.
func DefaultWorkflows() []*Workflow {
	return []*Workflow{
		{
			Name:          "company_overview",
			Function:      "OVERVIEW",
			IdentityField: "Symbol",
			DateField:     "LatestQuarter",
			Source:        "alpha_vantage",
			EntityTags:    []string{"equity"},
			Fields: []FieldMapping{
				{Field: "MarketCapitalization", MetricType: "market_cap", Unit: UnitUSD, Category: "size", PeriodType: PeriodPointInTime},
				{Field: "RevenueTTM", MetricType: "revenue", Unit: UnitUSD, Category: "size", PeriodType: PeriodTTM},
				{Field: "EBITDA", MetricType: "ebitda", Unit: UnitUSD, Category: "profitability", PeriodType: PeriodTTM},
				{Field: "PERatio", MetricType: "pe_ratio", Unit: UnitRatio, Category: "valuation", PeriodType: PeriodTTM},
				{Field: "PEGRatio", MetricType: "peg_ratio", Unit: UnitRatio, Category: "valuation", PeriodType: PeriodTTM},
				{Field: "PriceToBookRatio", MetricType: "price_to_book", Unit: UnitRatio, Category: "valuation", PeriodType: PeriodPointInTime},
				{Field: "EPS", MetricType: "eps", Unit: UnitUSD, Category: "profitability", PeriodType: PeriodTTM},
				fractionalPercent("ProfitMargin", "profit_margin", "profitability"),
				fractionalPercent("OperatingMarginTTM", "operating_margin", "profitability"),
				fractionalPercent("ReturnOnAssetsTTM", "return_on_assets", "profitability"),
				fractionalPercent("ReturnOnEquityTTM", "return_on_equity", "profitability"),
				fractionalPercent("DividendYield", "dividend_yield", "dividend"),
				fractionalPercent("QuarterlyEarningsGrowthYOY", "earnings_growth_yoy", "growth"),
				fractionalPercent("QuarterlyRevenueGrowthYOY", "revenue_growth_yoy", "growth"),
				{Field: "SharesOutstanding", MetricType: "shares_outstanding", Unit: UnitShares, Category: "size", PeriodType: PeriodPointInTime},
			},
		},
	}
}
