package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lectura-app/ai-service/pkg/chunker"
	"github.com/lectura-app/ai-service/pkg/config"
	"github.com/lectura-app/ai-service/pkg/databases"
	"github.com/lectura-app/ai-service/pkg/embedders"
	"github.com/lectura-app/ai-service/pkg/llms"
	"github.com/lectura-app/ai-service/pkg/retrieval"
	"github.com/lectura-app/ai-service/pkg/state"
	"github.com/lectura-app/ai-service/pkg/websearch"
)

type stubEmbedder struct{}

func (stubEmbedder) EmbedWithContext(ctx context.Context, text string, it embedders.InputType) ([]float32, error) {
	return []float32{1, 0}, nil
}

func (stubEmbedder) EmbedBatchWithContext(ctx context.Context, texts []string, it embedders.InputType) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i := range out {
		out[i] = []float32{1, 0}
	}
	return out, nil
}

func (stubEmbedder) PlanBatches(texts []string) [][]string { return [][]string{texts} }
func (stubEmbedder) GetDimension() int                     { return 2 }
func (stubEmbedder) GetModelName() string                  { return "stub" }
func (stubEmbedder) Close() error                          { return nil }

type stubSearcher struct {
	results []databases.ScoredChunk
	err     error
}

func (s *stubSearcher) VectorSearch(ctx context.Context, v []float32, f databases.SearchFilter, limit int) ([]databases.ScoredChunk, error) {
	return s.results, s.err
}

func decodePayload(t *testing.T, result ToolResult) payload {
	t.Helper()
	var p payload
	require.NoError(t, json.Unmarshal([]byte(result.Content), &p))
	return p
}

func TestRagSearchReturnsTempNumberedSources(t *testing.T) {
	searcher := &stubSearcher{results: []databases.ScoredChunk{
		{Chunk: chunker.Chunk{SlideID: "s1", S3FileName: "deck.pdf", PageStart: 2, PageEnd: 3, Text: "alpha"}, Score: 0.9},
		{Chunk: chunker.Chunk{SlideID: "s2", S3FileName: "deck2.pdf", PageStart: 1, PageEnd: 1, Text: "beta"}, Score: 0.7},
	}}
	tool := NewRagSearchTool(retrieval.NewRetriever(stubEmbedder{}, searcher, nil), "cs101", nil)

	result, err := tool.Execute(context.Background(), map[string]interface{}{"query": "sorting"})
	require.NoError(t, err)
	assert.True(t, result.Success)

	p := decodePayload(t, result)
	assert.True(t, p.Success)
	require.Len(t, p.Results, 2)

	first := p.Results[0].(map[string]interface{})
	assert.Equal(t, "1", first["id"])
	assert.Equal(t, "s1", first["slide"])
	assert.Equal(t, "deck.pdf", first["s3file"])
	assert.Equal(t, float64(2), first["start"])
	assert.Equal(t, "alpha", first["text"])

	second := p.Results[1].(map[string]interface{})
	assert.Equal(t, "2", second["id"])
}

func TestRagSearchFailureEncodedNotRaised(t *testing.T) {
	searcher := &stubSearcher{err: fmt.Errorf("index offline")}
	tool := NewRagSearchTool(retrieval.NewRetriever(stubEmbedder{}, searcher, nil), "cs101", nil)

	result, err := tool.Execute(context.Background(), map[string]interface{}{"query": "q"})
	require.NoError(t, err)
	assert.False(t, result.Success)

	p := decodePayload(t, result)
	assert.False(t, p.Success)
	assert.Contains(t, p.Error, "index offline")
	assert.Empty(t, p.Results)
}

func TestRagSearchRequiresQuery(t *testing.T) {
	tool := NewRagSearchTool(retrieval.NewRetriever(stubEmbedder{}, &stubSearcher{}, nil), "cs101", nil)

	result, err := tool.Execute(context.Background(), map[string]interface{}{})
	require.NoError(t, err)
	assert.False(t, result.Success)
	assert.Contains(t, result.Error, "query")
}

func TestWebSearchReturnsNumberedSources(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"results": [
			{"title": "A", "url": "https://a.example", "content": "text a", "score": 0.8},
			{"title": "B", "url": "https://b.example", "content": "text b", "score": 0.6}
		]}`)
	}))
	defer server.Close()

	client, err := websearch.NewTavilyClientFromConfig(&config.WebSearchConfig{APIKey: "k", Host: server.URL})
	require.NoError(t, err)
	tool := NewWebSearchTool(client, 5)

	result, execErr := tool.Execute(context.Background(), map[string]interface{}{"query": "news"})
	require.NoError(t, execErr)

	p := decodePayload(t, result)
	require.Len(t, p.Results, 2)
	first := p.Results[0].(map[string]interface{})
	assert.Equal(t, "1", first["id"])
	assert.Equal(t, "A", first["title"])
	assert.Equal(t, "https://a.example", first["url"])
	assert.Equal(t, "text a", first["text"])
}

type memStore struct {
	messages map[string][]state.Message
}

func (m *memStore) GetMessages(ctx context.Context, threadID string) ([]state.Message, error) {
	return m.messages[threadID], nil
}

func (m *memStore) GetRecentMessages(ctx context.Context, threadID string, limit int) ([]state.Message, error) {
	return m.messages[threadID], nil
}

func (m *memStore) UpsertMessages(ctx context.Context, threadID string, messages []state.Message) error {
	m.messages[threadID] = messages
	return nil
}

func (m *memStore) Delete(ctx context.Context, threadID string) error {
	delete(m.messages, threadID)
	return nil
}

func TestPreviousSourcesAnnotatesOrigin(t *testing.T) {
	store := &memStore{messages: map[string][]state.Message{
		"u:c": {
			{
				ID: "tm1", Role: llms.RoleTool, ToolName: RagSearchToolName,
				Content: `{"success": true, "results": [{"id": "3", "slide": "s1", "text": "alpha"}]}`,
			},
			{
				ID: "tm2", Role: llms.RoleTool, ToolName: WebSearchToolName,
				Content: `{"success": true, "results": [{"id": "1", "title": "A", "url": "https://a.example"}]}`,
			},
		},
	}}
	manager := state.NewManager(store, nil, time.Hour, nil)
	tool := NewPreviousSourcesTool(manager, "u:c")

	result, err := tool.Execute(context.Background(), map[string]interface{}{
		"tool_message_ids": []interface{}{"tm1", "tm2", "missing"},
	})
	require.NoError(t, err)
	assert.True(t, result.Success)

	p := decodePayload(t, result)
	require.Len(t, p.Results, 2)

	first := p.Results[0].(map[string]interface{})
	assert.Equal(t, "tm1", first["from_tool_message"])
	assert.Equal(t, "3", first["id"])

	second := p.Results[1].(map[string]interface{})
	assert.Equal(t, "tm2", second["from_tool_message"])
}

func TestPreviousSourcesRequiresIDs(t *testing.T) {
	manager := state.NewManager(&memStore{messages: map[string][]state.Message{}}, nil, time.Hour, nil)
	tool := NewPreviousSourcesTool(manager, "u:c")

	result, err := tool.Execute(context.Background(), map[string]interface{}{})
	require.NoError(t, err)
	assert.False(t, result.Success)
}

func TestToDefinitionSchema(t *testing.T) {
	tool := NewRagSearchTool(retrieval.NewRetriever(stubEmbedder{}, &stubSearcher{}, nil), "cs101", nil)

	def := ToDefinition(tool.GetInfo())
	assert.Equal(t, "function", def.Type)
	assert.Equal(t, RagSearchToolName, def.Function.Name)

	props := def.Function.Parameters["properties"].(map[string]interface{})
	require.Contains(t, props, "query")
	require.Contains(t, props, "limit")
	assert.Equal(t, []string{"query"}, def.Function.Parameters["required"])
}
