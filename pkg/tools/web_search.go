package tools

import (
	"context"
	"strconv"
	"time"

	"github.com/lectura-app/ai-service/pkg/websearch"
)

const WebSearchToolName = "web_search"

// WebSource is one web hit as the model sees it. IDs are renumbered by
// the agent loop like RAG sources, on an independent counter.
type WebSource struct {
	ID    string  `json:"id"`
	Title string  `json:"title"`
	URL   string  `json:"url"`
	Text  string  `json:"text"`
	Score float64 `json:"score"`
}

type WebSearchTool struct {
	client     *websearch.TavilyClient
	maxResults int
}

func NewWebSearchTool(client *websearch.TavilyClient, maxResults int) *WebSearchTool {
	if maxResults <= 0 {
		maxResults = websearch.DefaultMaxResults
	}
	return &WebSearchTool{
		client:     client,
		maxResults: maxResults,
	}
}

func (t *WebSearchTool) GetName() string {
	return WebSearchToolName
}

func (t *WebSearchTool) GetDescription() string {
	return "Search the web for current information. Returns titles, URLs, and text snippets."
}

func (t *WebSearchTool) GetInfo() ToolInfo {
	return ToolInfo{
		Name:        t.GetName(),
		Description: t.GetDescription(),
		Parameters: []ToolParameter{
			{
				Name:        "query",
				Type:        "string",
				Description: "Web search query",
				Required:    true,
			},
			{
				Name:        "max_results",
				Type:        "integer",
				Description: "Maximum number of results to return",
				Default:     websearch.DefaultMaxResults,
			},
		},
	}
}

func (t *WebSearchTool) Execute(ctx context.Context, args map[string]interface{}) (ToolResult, error) {
	started := time.Now()

	query := stringArg(args, "query")
	if query == "" {
		return errorResult(t.GetName(), "query parameter is required", started), nil
	}
	maxResults := intArg(args, "max_results", t.maxResults)

	hits, err := t.client.Search(ctx, query, maxResults)
	if err != nil {
		return errorResult(t.GetName(), err.Error(), started), nil
	}

	results := make([]interface{}, len(hits))
	for i, hit := range hits {
		results[i] = WebSource{
			ID:    strconv.Itoa(i + 1),
			Title: hit.Title,
			URL:   hit.URL,
			Text:  hit.Content,
			Score: hit.Score,
		}
	}

	return successResult(t.GetName(), results, started), nil
}
