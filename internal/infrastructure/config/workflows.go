package config

import (
	"fmt"

	"github.com/erp/ingestor/internal/domain/ingestion"
	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"
)

// WorkflowConfig declares a workflow in config.toml:
//
//	[[workflows]]
//	name = "company_overview"
//	function = "OVERVIEW"
//	identity_field = "Symbol"
//	date_field = "LatestQuarter"
//	entities = ["IBM", "AAPL"]
//
//	[[workflows.fields]]
//	field = "ProfitMargin"
//	metric = "profit_margin"
//	unit = "percent"
//	period = "ttm"
//	fractional = true
type WorkflowConfig struct {
	Name          string               `mapstructure:"name" validate:"required"`
	Function      string               `mapstructure:"function" validate:"required"`
	IdentityField string               `mapstructure:"identity_field"`
	DateField     string               `mapstructure:"date_field"`
	Source        string               `mapstructure:"source"`
	EntityTags    []string             `mapstructure:"entity_tags"`
	Entities      []string             `mapstructure:"entities"`
	Fields        []FieldMappingConfig `mapstructure:"fields" validate:"required,min=1,dive"`
}

// FieldMappingConfig maps one provider field onto a metric
type FieldMappingConfig struct {
	Field      string  `mapstructure:"field" validate:"required"`
	Metric     string  `mapstructure:"metric" validate:"required"`
	Unit       string  `mapstructure:"unit" validate:"required,oneof=percent usd ratio count shares"`
	Category   string  `mapstructure:"category"`
	Period     string  `mapstructure:"period" validate:"required,oneof=ttm quarterly annual point_in_time"`
	Fractional bool    `mapstructure:"fractional"`
	Confidence float64 `mapstructure:"confidence" validate:"gte=0,lte=1"`
}

var validate = validator.New()

func validateWorkflows(workflows []WorkflowConfig) error {
	seen := make(map[string]struct{}, len(workflows))
	for i := range workflows {
		if err := validate.Struct(&workflows[i]); err != nil {
			return fmt.Errorf("workflows[%d]: %w", i, err)
		}
		if _, dup := seen[workflows[i].Name]; dup {
			return fmt.Errorf("workflows[%d]: duplicate workflow %q", i, workflows[i].Name)
		}
		seen[workflows[i].Name] = struct{}{}
	}
	return nil
}

// BuildWorkflows returns the built-in workflows overlaid with the configured
// ones. A configured workflow replaces a built-in one of the same name.
func (c *Config) BuildWorkflows() []*ingestion.Workflow {
	byName := make(map[string]int)
	workflows := ingestion.DefaultWorkflows()
	for i, w := range workflows {
		w.Source = c.Provider.Name
		byName[w.Name] = i
	}

	for _, wc := range c.Workflows {
		w := wc.toDomain(c.Provider.Name)
		if i, ok := byName[w.Name]; ok {
			workflows[i] = w
			continue
		}
		byName[w.Name] = len(workflows)
		workflows = append(workflows, w)
	}
	return workflows
}

func (wc WorkflowConfig) toDomain(defaultSource string) *ingestion.Workflow {
	w := &ingestion.Workflow{
		Name:          wc.Name,
		Function:      wc.Function,
		IdentityField: wc.IdentityField,
		DateField:     wc.DateField,
		Source:        wc.Source,
		EntityTags:    wc.EntityTags,
		Entities:      wc.Entities,
		Fields:        make([]ingestion.FieldMapping, 0, len(wc.Fields)),
	}
	if w.IdentityField == "" {
		w.IdentityField = "Symbol"
	}
	if w.Source == "" {
		w.Source = defaultSource
	}
	for _, f := range wc.Fields {
		w.Fields = append(w.Fields, ingestion.FieldMapping{
			Field:      f.Field,
			MetricType: f.Metric,
			Unit:       ingestion.MetricUnit(f.Unit),
			Category:   f.Category,
			PeriodType: ingestion.PeriodType(f.Period),
			Fractional: f.Fractional,
			Confidence: decimal.NewFromFloat(f.Confidence),
		})
	}
	return w
}
