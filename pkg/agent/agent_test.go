package agent

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
	"github.com/lectura-app/ai-service/pkg/tools"
	"github.com/lectura-app/ai-service/pkg/websearch"
)

type scriptedLLM struct {
	replies []llms.Message
	err     error

	calls [][]llms.Message
	defs  [][]llms.ToolDefinition
}

func (s *scriptedLLM) Generate(ctx context.Context, messages []llms.Message, defs []llms.ToolDefinition) (*llms.Message, error) {
	s.calls = append(s.calls, messages)
	s.defs = append(s.defs, defs)
	if s.err != nil {
		return nil, s.err
	}
	idx := len(s.calls) - 1
	if idx >= len(s.replies) {
		idx = len(s.replies) - 1
	}
	reply := s.replies[idx]
	return &reply, nil
}

func (s *scriptedLLM) GetModelName() string { return "scripted" }
func (s *scriptedLLM) Close() error         { return nil }

func toolCall(id, name, args string) llms.ToolCall {
	return llms.ToolCall{
		ID:       id,
		Type:     "function",
		Function: llms.FunctionCall{Name: name, Arguments: args},
	}
}

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
}

func (s *stubSearcher) VectorSearch(ctx context.Context, v []float32, f databases.SearchFilter, limit int) ([]databases.ScoredChunk, error) {
	return s.results, nil
}

type memStore struct {
	messages map[string][]state.Message
}

func newMemStore() *memStore {
	return &memStore{messages: map[string][]state.Message{}}
}

func (m *memStore) GetMessages(ctx context.Context, threadID string) ([]state.Message, error) {
	return m.messages[threadID], nil
}

func (m *memStore) GetRecentMessages(ctx context.Context, threadID string, limit int) ([]state.Message, error) {
	msgs := m.messages[threadID]
	if len(msgs) > limit {
		msgs = msgs[len(msgs)-limit:]
	}
	return msgs, nil
}

func (m *memStore) UpsertMessages(ctx context.Context, threadID string, messages []state.Message) error {
	m.messages[threadID] = messages
	return nil
}

func (m *memStore) Delete(ctx context.Context, threadID string) error {
	delete(m.messages, threadID)
	return nil
}

type stubObjects struct {
	url string
	err error
}

func (s *stubObjects) Download(ctx context.Context, key string) ([]byte, error) {
	return nil, fmt.Errorf("not implemented")
}

func (s *stubObjects) PresignGetURL(ctx context.Context, key string, expiry time.Duration) (string, error) {
	if s.err != nil {
		return "", s.err
	}
	return s.url + "/" + key, nil
}

func newTestAgent(llm llms.LLMProvider, searcher *stubSearcher, store *memStore, objects *stubObjects) *Agent {
	if searcher == nil {
		searcher = &stubSearcher{}
	}
	deps := Dependencies{
		LLM:       llm,
		Retriever: retrieval.NewRetriever(stubEmbedder{}, searcher, nil),
		State:     state.NewManager(store, nil, time.Hour, nil),
	}
	if objects != nil {
		deps.Objects = objects
	}
	return New(deps, nil)
}

func toolNames(defs []llms.ToolDefinition) []string {
	names := make([]string, len(defs))
	for i, d := range defs {
		names[i] = d.Function.Name
	}
	return names
}

func TestDefaultSearchTypeRestrictsTools(t *testing.T) {
	llm := &scriptedLLM{replies: []llms.Message{
		{Role: llms.RoleAssistant, Content: "Photosynthesis converts light to chemical energy."},
	}}
	store := newMemStore()
	a := newTestAgent(llm, nil, store, nil)

	resp := a.ProcessQuery(context.Background(), Request{
		CourseID: "bio101", UserID: "u1", Prompt: "What is photosynthesis?",
		SearchType: SearchTypeDefault,
	})

	assert.Equal(t, "Photosynthesis converts light to chemical energy.", resp.Response)
	assert.Empty(t, resp.RagSources)
	assert.Empty(t, resp.WebSources)

	require.Len(t, llm.defs, 1)
	assert.Equal(t, []string{tools.PreviousSourcesToolName}, toolNames(llm.defs[0]))

	stored := store.messages["u1:bio101"]
	require.Len(t, stored, 2)
	assert.Equal(t, llms.RoleUser, stored[0].Role)
	assert.Equal(t, llms.RoleAssistant, stored[1].Role)
	assert.Empty(t, stored[1].RagSourceIDs)
}

func TestRagFlowRenumbersSourcesAcrossCalls(t *testing.T) {
	llm := &scriptedLLM{replies: []llms.Message{
		{Role: llms.RoleAssistant, ToolCalls: []llms.ToolCall{
			toolCall("c1", tools.RagSearchToolName, `{"query": "mitosis phases"}`),
		}},
		{Role: llms.RoleAssistant, ToolCalls: []llms.ToolCall{
			toolCall("c2", tools.RagSearchToolName, `{"query": "mitosis checkpoints"}`),
		}},
		{Role: llms.RoleAssistant, Content: "Mitosis has four phases [^1][^3]."},
	}}
	searcher := &stubSearcher{results: []databases.ScoredChunk{
		{Chunk: chunker.Chunk{SlideID: "s1", S3FileName: "cells.pdf", PageStart: 1, PageEnd: 2, Text: "phases"}, Score: 0.9},
		{Chunk: chunker.Chunk{SlideID: "s2", S3FileName: "cells.pdf", PageStart: 4, PageEnd: 4, Text: "checkpoints"}, Score: 0.8},
	}}
	store := newMemStore()
	a := newTestAgent(llm, searcher, store, nil)

	resp := a.ProcessQuery(context.Background(), Request{
		CourseID: "bio101", UserID: "u1", Prompt: "Explain mitosis",
		SearchType: SearchTypeRag,
	})

	assert.Equal(t, "Mitosis has four phases [^1][^3].", resp.Response)

	require.Len(t, resp.RagSources, 4)
	for i, source := range resp.RagSources {
		assert.Equal(t, fmt.Sprintf("%d", i+1), source.ID)
	}
	assert.Equal(t, "s1", resp.RagSources[0].Slide)
	assert.Equal(t, "s2", resp.RagSources[3].Slide)

	require.Len(t, llm.defs, 3)
	assert.Equal(t, []string{tools.RagSearchToolName, tools.PreviousSourcesToolName}, toolNames(llm.defs[0]))

	stored := store.messages["u1:bio101"]
	require.Len(t, stored, 6)
	final := stored[5]
	assert.Equal(t, llms.RoleAssistant, final.Role)
	assert.Len(t, final.RagSourceIDs, 2)
	assert.Equal(t, stored[2].ID, final.RagSourceIDs[0])
	assert.Equal(t, stored[4].ID, final.RagSourceIDs[1])

	var payload struct {
		Results []map[string]interface{} `json:"results"`
	}
	require.NoError(t, json.Unmarshal([]byte(stored[4].Content), &payload))
	require.Len(t, payload.Results, 2)
	assert.Equal(t, "3", payload.Results[0]["id"])
	assert.Equal(t, "4", payload.Results[1]["id"])
}

func TestWebFlowCollectsWebSources(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"results": [
			{"title": "CRISPR news", "url": "https://news.example/crispr", "content": "recent trial", "score": 0.9}
		]}`)
	}))
	defer server.Close()

	webClient, err := websearch.NewTavilyClientFromConfig(&config.WebSearchConfig{APIKey: "k", Host: server.URL})
	require.NoError(t, err)

	llm := &scriptedLLM{replies: []llms.Message{
		{Role: llms.RoleAssistant, ToolCalls: []llms.ToolCall{
			toolCall("c1", tools.WebSearchToolName, `{"query": "CRISPR trials 2026"}`),
		}},
		{Role: llms.RoleAssistant, Content: "A recent trial {^1} showed progress."},
	}}
	store := newMemStore()
	a := New(Dependencies{
		LLM:       llm,
		Retriever: retrieval.NewRetriever(stubEmbedder{}, &stubSearcher{}, nil),
		WebSearch: webClient,
		State:     state.NewManager(store, nil, time.Hour, nil),
	}, nil)

	resp := a.ProcessQuery(context.Background(), Request{
		CourseID: "bio101", UserID: "u1", Prompt: "Latest CRISPR news?",
		SearchType: SearchTypeWeb,
	})

	require.Len(t, resp.WebSources, 1)
	assert.Equal(t, "1", resp.WebSources[0].ID)
	assert.Equal(t, "https://news.example/crispr", resp.WebSources[0].URL)
	assert.Empty(t, resp.RagSources)

	assert.Equal(t, []string{tools.WebSearchToolName, tools.PreviousSourcesToolName}, toolNames(llm.defs[0]))

	final := store.messages["u1:bio101"][3]
	assert.Len(t, final.WebSourceIDs, 1)
	assert.Empty(t, final.RagSourceIDs)
}

func TestLoopStopsAtVisitCap(t *testing.T) {
	llm := &scriptedLLM{replies: []llms.Message{
		{Role: llms.RoleAssistant, ToolCalls: []llms.ToolCall{
			toolCall("c", tools.RagSearchToolName, `{"query": "again"}`),
		}},
	}}
	store := newMemStore()
	a := newTestAgent(llm, &stubSearcher{}, store, nil)

	resp := a.ProcessQuery(context.Background(), Request{
		CourseID: "bio101", UserID: "u1", Prompt: "loop",
		SearchType: SearchTypeRag,
	})

	assert.Len(t, llm.calls, 5)
	assert.NotContains(t, resp.Response, "I encountered an error")
	assert.NotEmpty(t, store.messages["u1:bio101"])
}

func TestLLMFailureProducesFallbackMessage(t *testing.T) {
	llm := &scriptedLLM{err: fmt.Errorf("model unavailable")}
	store := newMemStore()
	a := newTestAgent(llm, nil, store, nil)

	resp := a.ProcessQuery(context.Background(), Request{
		CourseID: "bio101", UserID: "u1", Prompt: "hello",
		SearchType: SearchTypeDefault,
	})

	assert.Contains(t, resp.Response, "I encountered an error processing your request")
	assert.Contains(t, resp.Response, "model unavailable")
	assert.Empty(t, resp.RagSources)
	assert.Empty(t, resp.ImageSources)
	assert.Empty(t, store.messages["u1:bio101"])
}

func TestSnapshotAttachesImageAndRecordsSource(t *testing.T) {
	llm := &scriptedLLM{replies: []llms.Message{
		{Role: llms.RoleAssistant, Content: "The slide shows a cell diagram [^Page]."},
	}}
	store := newMemStore()
	objects := &stubObjects{url: "https://bucket.example"}
	a := newTestAgent(llm, nil, store, objects)

	resp := a.ProcessQuery(context.Background(), Request{
		CourseID: "bio101", UserID: "u1", Prompt: "What does this slide show?",
		SearchType: SearchTypeDefault,
		Snapshot:   &Snapshot{SlideID: "s7", PageNumber: 12, S3Key: "snaps/s7-12.png"},
	})

	require.Len(t, resp.ImageSources, 1)
	img := resp.ImageSources[0]
	assert.Equal(t, "page", img.ID)
	assert.Equal(t, "current", img.Type)
	assert.Equal(t, "s7", img.SlideID)
	assert.Equal(t, 12, img.PageNumber)
	_, err := time.Parse(time.RFC3339, img.Timestamp)
	assert.NoError(t, err)

	require.Len(t, llm.calls, 1)
	sent := llm.calls[0]
	userWire := sent[len(sent)-1]
	require.Len(t, userWire.Parts, 2)
	assert.Equal(t, "text", userWire.Parts[0].Type)
	assert.Equal(t, "image_url", userWire.Parts[1].Type)
	assert.Equal(t, "https://bucket.example/snaps/s7-12.png", userWire.Parts[1].ImageURL.URL)

	sysWire := sent[0]
	assert.Contains(t, sysWire.Content, "[^Page]")

	stored := store.messages["u1:bio101"]
	require.Len(t, stored, 2)
	assert.Equal(t, "What does this slide show?", stored[0].Content)

	require.NotNil(t, stored[1].ImageSource)
	assert.Equal(t, "snaps/s7-12.png", stored[1].ImageSource.S3Key)
	assert.Equal(t, "s7", stored[1].ImageSource.SlideID)
}

func TestSnapshotPresignFailureDropsImage(t *testing.T) {
	llm := &scriptedLLM{replies: []llms.Message{
		{Role: llms.RoleAssistant, Content: "Answer without image."},
	}}
	store := newMemStore()
	objects := &stubObjects{err: fmt.Errorf("access denied")}
	a := newTestAgent(llm, nil, store, objects)

	resp := a.ProcessQuery(context.Background(), Request{
		CourseID: "bio101", UserID: "u1", Prompt: "What does this slide show?",
		SearchType: SearchTypeDefault,
		Snapshot:   &Snapshot{SlideID: "s7", PageNumber: 12, S3Key: "snaps/s7-12.png"},
	})

	assert.Empty(t, resp.ImageSources)

	sent := llm.calls[0]
	userWire := sent[len(sent)-1]
	assert.Empty(t, userWire.Parts)
	assert.NotContains(t, sent[0].Content, "[^Page]")

	stored := store.messages["u1:bio101"]
	require.Len(t, stored, 2)
	assert.Nil(t, stored[1].ImageSource)
}

func TestParseSearchTypeDefaultsUnknown(t *testing.T) {
	assert.Equal(t, SearchTypeRag, ParseSearchType("RAG"))
	assert.Equal(t, SearchTypeRagWeb, ParseSearchType("rag_web"))
	assert.Equal(t, SearchTypeDefault, ParseSearchType("HYBRID"))
	assert.Equal(t, SearchTypeDefault, ParseSearchType(""))

	assert.True(t, ValidSearchType("WEB"))
	assert.False(t, ValidSearchType("web"))
	assert.False(t, ValidSearchType("HYBRID"))
}
