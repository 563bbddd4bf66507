package provider

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/erp/ingestor/internal/domain/ingestion"
	"github.com/go-playground/validator/v10"
)

// Keys the provider uses in place of data.
const (
	keyErrorMessage = "Error Message"
	keyNote         = "Note"
	keyInformation  = "Information"
)

var validate = validator.New()

// Parse converts a raw provider body into a typed response. Scalars become
// strings (numbers keep their textual form), JSON nulls are omitted, nested
// values are ignored. An empty object yields a response without fields.
//
// Provider error payloads map to ErrAPIFormat; throttling notices map to
// ErrNetwork so they are retried.
func Parse(body []byte, workflow *ingestion.Workflow, fetchedAt time.Time) (*ingestion.ProviderResponse, error) {
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()

	var raw map[string]any
	if err := dec.Decode(&raw); err != nil {
		return nil, fmt.Errorf("%w: %v", ingestion.ErrAPIFormat, err)
	}
	if raw == nil {
		return nil, fmt.Errorf("%w: body is not a JSON object", ingestion.ErrAPIFormat)
	}

	if msg, ok := raw[keyErrorMessage]; ok {
		return nil, fmt.Errorf("%w: %v", ingestion.ErrAPIFormat, msg)
	}
	if len(raw) == 1 {
		for _, key := range []string{keyNote, keyInformation} {
			if msg, ok := raw[key]; ok {
				return nil, fmt.Errorf("%w: provider throttled: %v", ingestion.ErrNetwork, msg)
			}
		}
	}

	fields := make(map[string]string, len(raw))
	for k, v := range raw {
		switch val := v.(type) {
		case string:
			fields[k] = val
		case json.Number:
			fields[k] = val.String()
		case bool:
			fields[k] = strconv.FormatBool(val)
		}
	}

	resp := &ingestion.ProviderResponse{
		Identity:  strings.TrimSpace(fields[workflow.IdentityField]),
		Function:  workflow.Function,
		Fields:    fields,
		FetchedAt: fetchedAt,
	}
	if err := validate.Struct(resp); err != nil {
		return nil, fmt.Errorf("%w: %v", ingestion.ErrAPIFormat, err)
	}
	return resp, nil
}
