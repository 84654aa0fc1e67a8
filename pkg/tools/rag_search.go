package tools

import (
	"context"
	"strconv"
	"time"

	"github.com/lectura-app/ai-service/pkg/retrieval"
)

const RagSearchToolName = "rag_search"

// RagSource is one course-material hit as the model sees it. IDs start
// as temporary "1".."n" and are renumbered by the agent loop so they
// stay unique across calls within a turn.
type RagSource struct {
	ID     string  `json:"id"`
	Slide  string  `json:"slide"`
	S3File string  `json:"s3file"`
	Start  int     `json:"start"`
	End    int     `json:"end"`
	Text   string  `json:"text"`
	Score  float64 `json:"score"`
}

// RagSearchTool searches the ingested course materials. Course scoping
// and slide priority are bound per request, not chosen by the model.
type RagSearchTool struct {
	retriever      *retrieval.Retriever
	courseID       string
	slidesPriority []string
}

func NewRagSearchTool(retriever *retrieval.Retriever, courseID string, slidesPriority []string) *RagSearchTool {
	return &RagSearchTool{
		retriever:      retriever,
		courseID:       courseID,
		slidesPriority: slidesPriority,
	}
}

func (t *RagSearchTool) GetName() string {
	return RagSearchToolName
}

func (t *RagSearchTool) GetDescription() string {
	return "Search the course materials for passages relevant to a query. Returns scored text chunks with slide and page references."
}

func (t *RagSearchTool) GetInfo() ToolInfo {
	return ToolInfo{
		Name:        t.GetName(),
		Description: t.GetDescription(),
		Parameters: []ToolParameter{
			{
				Name:        "query",
				Type:        "string",
				Description: "Search query optimized for semantic similarity over course materials",
				Required:    true,
			},
			{
				Name:        "limit",
				Type:        "integer",
				Description: "Maximum number of passages to return",
				Default:     retrieval.DefaultLimit,
			},
		},
	}
}

func (t *RagSearchTool) Execute(ctx context.Context, args map[string]interface{}) (ToolResult, error) {
	started := time.Now()

	query := stringArg(args, "query")
	if query == "" {
		return errorResult(t.GetName(), "query parameter is required", started), nil
	}
	limit := intArg(args, "limit", retrieval.DefaultLimit)

	chunks, err := t.retriever.Retrieve(ctx, retrieval.Query{
		Text:     query,
		CourseID: t.courseID,
		SlideIDs: t.slidesPriority,
		Limit:    limit,
	})
	if err != nil {
		return errorResult(t.GetName(), err.Error(), started), nil
	}

	results := make([]interface{}, len(chunks))
	for i, c := range chunks {
		results[i] = RagSource{
			ID:     strconv.Itoa(i + 1),
			Slide:  c.SlideID,
			S3File: c.S3FileName,
			Start:  c.PageStart,
			End:    c.PageEnd,
			Text:   c.Text,
			Score:  c.Score,
		}
	}

	return successResult(t.GetName(), results, started), nil
}
