package websearch

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lectura-app/ai-service/pkg/config"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *TavilyClient {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	client, err := NewTavilyClientFromConfig(&config.WebSearchConfig{
		APIKey: "test-key",
		Host:   server.URL,
	})
	require.NoError(t, err)
	return client
}

func TestSearchReturnsResults(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/search", r.URL.Path)
		assert.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))

		var req tavilySearchRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "go generics", req.Query)
		assert.Equal(t, 5, req.MaxResults)

		fmt.Fprint(w, `{"results": [
			{"title": "Go Generics", "url": "https://go.dev/blog/intro-generics", "content": "intro", "score": 0.97},
			{"title": "Type Parameters", "url": "https://go.dev/ref/spec", "content": "spec", "score": 0.85}
		]}`)
	})

	results, err := client.Search(context.Background(), "go generics", 0)
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, "Go Generics", results[0].Title)
	assert.Equal(t, 0.97, results[0].Score)
}

func TestSearchRejectsEmptyQuery(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {})
	_, err := client.Search(context.Background(), "", 5)
	assert.Error(t, err)
}

func TestSearchSurfacesAPIError(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		fmt.Fprint(w, `{"detail": {"error": "invalid API key"}}`)
	})

	_, err := client.Search(context.Background(), "anything", 3)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid API key")
}

func TestClientRequiresAPIKey(t *testing.T) {
	_, err := NewTavilyClientFromConfig(&config.WebSearchConfig{})
	assert.Error(t, err)
}
