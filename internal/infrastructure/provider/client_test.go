package provider

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/erp/ingestor/internal/domain/ingestion"
	"github.com/erp/ingestor/internal/infrastructure/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

var fixedNow = time.Date(2024, 5, 1, 9, 30, 0, 0, time.UTC)

func testWorkflow() *ingestion.Workflow {
	return &ingestion.Workflow{
		Name:          "company_overview",
		Function:      "OVERVIEW",
		IdentityField: "Symbol",
		DateField:     "LatestQuarter",
	}
}

func newTestClient(t *testing.T, handler http.HandlerFunc, mutate ...func(*config.ProviderConfig)) *Client {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	cfg := &config.ProviderConfig{
		BaseURL: server.URL + "/query",
		APIKey:  "demo",
		Timeout: 2 * time.Second,
	}
	for _, m := range mutate {
		m(cfg)
	}

	client, err := NewClient(cfg, zap.NewNop(), WithClock(func() time.Time { return fixedNow }))
	require.NoError(t, err)
	return client
}

func TestNewClient_InvalidBaseURL(t *testing.T) {
	_, err := NewClient(&config.ProviderConfig{BaseURL: "not a url"}, zap.NewNop())
	assert.Error(t, err)
}

func TestClient_Fetch_Success(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/query", r.URL.Path)
		assert.Equal(t, "OVERVIEW", r.URL.Query().Get("function"))
		assert.Equal(t, "AAA", r.URL.Query().Get("symbol"))
		assert.Equal(t, "demo", r.URL.Query().Get("apikey"))
		assert.Equal(t, defaultUserAgent, r.Header.Get("User-Agent"))

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"Symbol":"AAA","ProfitMargin":"0.153","PERatio":12.5,"Dividend":null}`))
	})

	resp, err := client.Fetch(context.Background(), testWorkflow(), "AAA")
	require.NoError(t, err)

	assert.Equal(t, "AAA", resp.Identity)
	assert.Equal(t, "OVERVIEW", resp.Function)
	assert.Equal(t, fixedNow, resp.FetchedAt)
	assert.Equal(t, "0.153", resp.Fields["ProfitMargin"])
	assert.Equal(t, "12.5", resp.Fields["PERatio"])
	_, present := resp.Field("Dividend")
	assert.False(t, present)
}

func TestClient_Fetch_HTTPErrors(t *testing.T) {
	tests := []struct {
		name     string
		status   int
		category ingestion.ErrorCategory
	}{
		{"server error is transient", http.StatusInternalServerError, ingestion.CategoryNetwork},
		{"bad gateway is transient", http.StatusBadGateway, ingestion.CategoryNetwork},
		{"throttled is transient", http.StatusTooManyRequests, ingestion.CategoryNetwork},
		{"not found is a format error", http.StatusNotFound, ingestion.CategoryAPIFormat},
		{"forbidden is a format error", http.StatusForbidden, ingestion.CategoryAPIFormat},
		{"unauthorized is a format error", http.StatusUnauthorized, ingestion.CategoryAPIFormat},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
			})

			_, err := client.Fetch(context.Background(), testWorkflow(), "AAA")
			require.Error(t, err)
			assert.Equal(t, tt.category, ingestion.CategoryOf(err))
		})
	}
}

func TestClient_Fetch_RejectedKeepsDetail(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "invalid apikey", http.StatusUnauthorized)
	})

	_, err := client.Fetch(context.Background(), testWorkflow(), "AAA")
	require.Error(t, err)
	assert.ErrorIs(t, err, ingestion.ErrAPIFormat)
	assert.False(t, ingestion.CategoryOf(err).IsTransient())
	assert.Contains(t, err.Error(), "HTTP 401")
	assert.Contains(t, err.Error(), "invalid apikey")
}

func TestClient_Fetch_Timeout(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	}, func(cfg *config.ProviderConfig) {
		cfg.Timeout = 50 * time.Millisecond
	})

	_, err := client.Fetch(context.Background(), testWorkflow(), "AAA")
	require.Error(t, err)
	assert.ErrorIs(t, err, ingestion.ErrTimeout)
	assert.True(t, ingestion.CategoryOf(err).IsTransient())
}

func TestClient_Fetch_ConnectionRefused(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	baseURL := server.URL
	server.Close()

	client, err := NewClient(&config.ProviderConfig{BaseURL: baseURL, Timeout: time.Second}, zap.NewNop())
	require.NoError(t, err)

	_, err = client.Fetch(context.Background(), testWorkflow(), "AAA")
	require.Error(t, err)
	assert.Equal(t, ingestion.CategoryNetwork, ingestion.CategoryOf(err))
}

func TestClient_Fetch_ResponseTooLarge(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"Symbol":"` + strings.Repeat("A", 200) + `"}`))
	}, func(cfg *config.ProviderConfig) {
		cfg.MaxResponseBytes = 64
	})

	_, err := client.Fetch(context.Background(), testWorkflow(), "AAA")
	assert.ErrorIs(t, err, ingestion.ErrAPIFormat)
}

func TestClient_Fetch_ProviderPayloadErrors(t *testing.T) {
	tests := []struct {
		name     string
		body     string
		category ingestion.ErrorCategory
	}{
		{"malformed json", `{"Symbol":`, ingestion.CategoryAPIFormat},
		{"error message", `{"Error Message":"Invalid API call"}`, ingestion.CategoryAPIFormat},
		{"throttle note", `{"Note":"Thank you for using our API"}`, ingestion.CategoryNetwork},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
				_, _ = w.Write([]byte(tt.body))
			})

			_, err := client.Fetch(context.Background(), testWorkflow(), "AAA")
			require.Error(t, err)
			assert.Equal(t, tt.category, ingestion.CategoryOf(err))
		})
	}
}
