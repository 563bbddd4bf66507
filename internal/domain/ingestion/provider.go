package ingestion

import (
	"context"
	"time"
)

// ProviderResponse is the typed result of one provider call, produced by the
// provider adapter's parsing step.
type ProviderResponse struct {
	Identity  string            `json:"identity"`
	Function  string            `json:"function" validate:"required"`
	Fields    map[string]string `json:"fields" validate:"required"`
	FetchedAt time.Time         `json:"fetched_at"`
}

// Field returns a raw field value and whether it was present.
func (r *ProviderResponse) Field(name string) (string, bool) {
	v, ok := r.Fields[name]
	return v, ok
}

// Empty reports whether the provider returned no fields at all.
func (r *ProviderResponse) Empty() bool {
	return len(r.Fields) == 0
}

// ProviderClient fetches one entity's raw facts. Implementations wrap
// transport failures with ErrNetwork or ErrTimeout and unusable payloads with
// ErrAPIFormat.
type ProviderClient interface {
	Fetch(ctx context.Context, workflow *Workflow, externalKey string) (*ProviderResponse, error)
}

// ResponseCache stores provider responses between runs.
type ResponseCache interface {
	Get(ctx context.Context, key string) (*ProviderResponse, bool, error)
	Set(ctx context.Context, key string, resp *ProviderResponse) error
}
