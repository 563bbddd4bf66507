package ingestion

import (
	"fmt"
	"strings"

	"github.com/erp/ingestor/internal/domain/shared"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

// NormalizeKey returns the canonical form of an external key: trimmed and
// upper-cased, so "aapl", " AAPL " and "Aapl" resolve to the same entity.
// A Caser is stateful, so one is built per call.
func NormalizeKey(key string) string {
	return cases.Upper(language.Und).String(strings.TrimSpace(key))
}

// PlaceholderName is the display name given to entities created without one.
func PlaceholderName(key string) string {
	return fmt.Sprintf("%s (auto-created)", NormalizeKey(key))
}

// Entity is a tracked subject such as a company.
type Entity struct {
	shared.BaseEntity
	ExternalKey string
	DisplayName string
	Tags        []string
}

// EntityDefaults carries the attributes used when an entity is created on first sight.
type EntityDefaults struct {
	DisplayName string
	Tags        []string
}

// NewEntity creates an entity for the given external key. A placeholder display
// name is synthesized when defaults do not supply one.
func NewEntity(externalKey string, defaults EntityDefaults) (*Entity, error) {
	key := NormalizeKey(externalKey)
	if key == "" {
		return nil, ErrInvalidExternalKey
	}

	name := strings.TrimSpace(defaults.DisplayName)
	if name == "" {
		name = PlaceholderName(key)
	}

	tags := make([]string, 0, len(defaults.Tags))
	for _, tag := range defaults.Tags {
		if tag = strings.TrimSpace(tag); tag != "" {
			tags = append(tags, tag)
		}
	}

	return &Entity{
		BaseEntity:  shared.NewBaseEntity(),
		ExternalKey: key,
		DisplayName: name,
		Tags:        tags,
	}, nil
}
