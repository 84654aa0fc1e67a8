package retrieval

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/lectura-app/ai-service/pkg/databases"
	"github.com/lectura-app/ai-service/pkg/embedders"
)

// DefaultLimit is how many chunks a query returns unless asked
// otherwise.
const DefaultLimit = 10

// VectorSearcher is the slice of the chunk store retrieval needs.
type VectorSearcher interface {
	VectorSearch(ctx context.Context, queryVector []float32, filter databases.SearchFilter, limit int) ([]databases.ScoredChunk, error)
}

// Query narrows a retrieval to a course and, optionally, to specific
// slides or chunk positions within it.
type Query struct {
	Text         string
	CourseID     string
	SlideIDs     []string
	ChunkIndices []int
	Limit        int
}

// Retriever embeds a query and runs pre-filtered ANN search over the
// chunk store.
type Retriever struct {
	embedder embedders.EmbedderProvider
	searcher VectorSearcher
	logger   *slog.Logger
}

func NewRetriever(embedder embedders.EmbedderProvider, searcher VectorSearcher, logger *slog.Logger) *Retriever {
	if logger == nil {
		logger = slog.Default()
	}
	return &Retriever{
		embedder: embedder,
		searcher: searcher,
		logger:   logger,
	}
}

func (r *Retriever) Retrieve(ctx context.Context, q Query) ([]databases.ScoredChunk, error) {
	if q.CourseID == "" {
		return nil, fmt.Errorf("course_id is required")
	}
	if q.Text == "" {
		return nil, fmt.Errorf("query text is required")
	}
	limit := q.Limit
	if limit <= 0 {
		limit = DefaultLimit
	}

	queryVector, err := r.embedder.EmbedWithContext(ctx, q.Text, embedders.InputTypeQuery)
	if err != nil {
		return nil, fmt.Errorf("failed to embed query: %w", err)
	}

	filter := databases.SearchFilter{
		CourseID:     q.CourseID,
		SlideIDs:     q.SlideIDs,
		ChunkIndices: q.ChunkIndices,
	}

	results, err := r.searcher.VectorSearch(ctx, queryVector, filter, limit)
	if err != nil {
		return nil, err
	}

	r.logger.Debug("retrieval completed",
		"course_id", q.CourseID, "limit", limit, "results", len(results))

	return results, nil
}
