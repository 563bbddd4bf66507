package ingestion

import (
	"errors"

	"github.com/erp/ingestor/internal/domain/shared"
)

// Ingestion errors. Adapters wrap these with %w so CategoryOf can classify them.
var (
	ErrNetwork          = errors.New("ingestion: provider network failure")
	ErrTimeout          = errors.New("ingestion: provider request timed out")
	ErrAPIFormat        = errors.New("ingestion: malformed provider response")
	ErrIdentityMismatch = errors.New("ingestion: provider response identity mismatch")
	ErrNoData           = errors.New("ingestion: no usable data")
	ErrDataQuality      = errors.New("ingestion: provider returned a null-like value")
	ErrConversion       = errors.New("ingestion: value conversion failed")
	ErrStorage          = errors.New("ingestion: storage failure")
	ErrMissingValue     = errors.New("ingestion: value missing")

	ErrEntityNotFound      = shared.NewDomainError("ENTITY_NOT_FOUND", "ingestion: entity not found")
	ErrEntityAlreadyExists = shared.NewDomainError("ENTITY_ALREADY_EXISTS", "ingestion: entity already exists")
	ErrInvalidExternalKey  = shared.NewDomainError("INVALID_EXTERNAL_KEY", "ingestion: external key is empty")
	ErrUnknownWorkflow     = shared.NewDomainError("UNKNOWN_WORKFLOW", "ingestion: unknown workflow")
)

// ErrorCategory is the failure taxonomy of a single entity ingestion.
// Categories are mutually exclusive per entity.
type ErrorCategory string

const (
	CategoryNetwork        ErrorCategory = "network_error"
	CategoryTimeout        ErrorCategory = "timeout_error"
	CategoryAPIFormat      ErrorCategory = "api_format_error"
	CategoryDataValidation ErrorCategory = "data_validation_error"
	CategoryNoData         ErrorCategory = "no_data"
	CategoryDataQuality    ErrorCategory = "data_quality_error"
	CategoryConversion     ErrorCategory = "conversion_error"
	CategoryDatabase       ErrorCategory = "database_error"
	CategoryUnexpected     ErrorCategory = "unexpected_error"
)

// AllCategories lists every category in a stable order.
func AllCategories() []ErrorCategory {
	return []ErrorCategory{
		CategoryNetwork,
		CategoryTimeout,
		CategoryAPIFormat,
		CategoryDataValidation,
		CategoryNoData,
		CategoryDataQuality,
		CategoryConversion,
		CategoryDatabase,
		CategoryUnexpected,
	}
}

// String returns the string representation of ErrorCategory
func (c ErrorCategory) String() string {
	return string(c)
}

// IsTransient reports whether failures of this category are worth retrying.
func (c ErrorCategory) IsTransient() bool {
	return c == CategoryNetwork || c == CategoryTimeout
}

// CategoryOf maps an error onto the taxonomy. Errors that match no sentinel
// are unexpected.
func CategoryOf(err error) ErrorCategory {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrTimeout):
		return CategoryTimeout
	case errors.Is(err, ErrNetwork):
		return CategoryNetwork
	case errors.Is(err, ErrAPIFormat):
		return CategoryAPIFormat
	case errors.Is(err, ErrIdentityMismatch):
		return CategoryDataValidation
	case errors.Is(err, ErrNoData):
		return CategoryNoData
	case errors.Is(err, ErrDataQuality):
		return CategoryDataQuality
	case errors.Is(err, ErrConversion):
		return CategoryConversion
	case errors.Is(err, ErrStorage):
		return CategoryDatabase
	default:
		return CategoryUnexpected
	}
}
