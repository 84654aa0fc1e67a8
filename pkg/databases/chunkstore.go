package databases

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/lectura-app/ai-service/pkg/chunker"
	"github.com/lectura-app/ai-service/pkg/config"
)

// Mongo duplicate key error code. Re-ingesting a document makes its
// chunk IDs collide; those are conflicts to count, not failures.
const duplicateKeyCode = 11000

// InsertBatchSize bounds one bulk insert request.
const InsertBatchSize = 100

// ChunkStore persists embedded chunks and serves ANN retrieval over
// them via Atlas vector search.
type ChunkStore struct {
	coll          *mongo.Collection
	indexName     string
	numCandidates int
	logger        *slog.Logger
}

func NewChunkStore(client *mongo.Client, cfg *config.MongoConfig, logger *slog.Logger) *ChunkStore {
	if logger == nil {
		logger = slog.Default()
	}
	return &ChunkStore{
		coll:          client.Database(cfg.Database).Collection(cfg.ChunksCollection),
		indexName:     cfg.VectorIndexName,
		numCandidates: cfg.NumCandidates,
		logger:        logger,
	}
}

// InsertResult summarizes one bulk insert batch.
type InsertResult struct {
	Inserted   int
	Duplicates int
	Errors     []string
}

// InsertBatch writes one batch of chunks unordered, so one failing
// document does not stop the rest of the batch.
func (s *ChunkStore) InsertBatch(ctx context.Context, chunks []chunker.Chunk) (InsertResult, error) {
	if len(chunks) == 0 {
		return InsertResult{}, nil
	}

	docs := make([]interface{}, len(chunks))
	for i := range chunks {
		docs[i] = chunks[i]
	}

	_, err := s.coll.InsertMany(ctx, docs, options.InsertMany().SetOrdered(false))
	result := classifyInsertError(err, len(chunks))

	if result.Duplicates > 0 {
		s.logger.Debug("skipped duplicate chunks", "count", result.Duplicates)
	}
	for _, msg := range result.Errors {
		s.logger.Warn("chunk insert failed", "error", msg)
	}

	return result, nil
}

// classifyInsertError turns a bulk write outcome into counters.
// Duplicate keys count as conflicts; anything else is a per-document
// error. A non-bulk error fails the whole batch.
func classifyInsertError(err error, batchSize int) InsertResult {
	if err == nil {
		return InsertResult{Inserted: batchSize}
	}

	var bulkErr mongo.BulkWriteException
	if !errors.As(err, &bulkErr) {
		return InsertResult{Errors: []string{err.Error()}}
	}

	result := InsertResult{}
	for _, writeErr := range bulkErr.WriteErrors {
		if writeErr.Code == duplicateKeyCode {
			result.Duplicates++
		} else {
			result.Errors = append(result.Errors, writeErr.Message)
		}
	}
	result.Inserted = batchSize - result.Duplicates - len(result.Errors)
	if result.Inserted < 0 {
		result.Inserted = 0
	}
	return result
}

// SearchFilter narrows ANN candidates before scoring.
type SearchFilter struct {
	CourseID     string
	SlideIDs     []string
	ChunkIndices []int
}

func buildPreFilter(f SearchFilter) bson.M {
	filter := bson.M{"course_id": f.CourseID}
	if len(f.SlideIDs) > 0 {
		filter["slide_id"] = bson.M{"$in": f.SlideIDs}
	}
	if len(f.ChunkIndices) > 0 {
		filter["chunk_index"] = bson.M{"$in": f.ChunkIndices}
	}
	return filter
}

func buildVectorSearchPipeline(indexName string, queryVector []float32, numCandidates, limit int, filter bson.M) mongo.Pipeline {
	return mongo.Pipeline{
		{{Key: "$vectorSearch", Value: bson.M{
			"index":         indexName,
			"path":          "embedding",
			"queryVector":   queryVector,
			"numCandidates": numCandidates,
			"limit":         limit,
			"filter":        filter,
		}}},
		{{Key: "$addFields", Value: bson.M{
			"score": bson.M{"$meta": "vectorSearchScore"},
		}}},
		{{Key: "$project", Value: bson.M{"embedding": 0}}},
	}
}

// ScoredChunk is a retrieved chunk with its similarity score. The
// embedding itself is projected away.
type ScoredChunk struct {
	chunker.Chunk `bson:",inline"`
	Score         float64 `bson:"score" json:"score"`
}

// VectorSearch runs an ANN query over the chunk embeddings, restricted
// by the pre-filter. Results come back in descending score order.
func (s *ChunkStore) VectorSearch(ctx context.Context, queryVector []float32, filter SearchFilter, limit int) ([]ScoredChunk, error) {
	if filter.CourseID == "" {
		return nil, fmt.Errorf("course_id is required for vector search")
	}
	if limit <= 0 {
		return nil, fmt.Errorf("limit must be positive, got %d", limit)
	}

	pipeline := buildVectorSearchPipeline(s.indexName, queryVector, s.numCandidates, limit, buildPreFilter(filter))

	cursor, err := s.coll.Aggregate(ctx, pipeline)
	if err != nil {
		return nil, fmt.Errorf("vector search failed: %w", err)
	}
	defer cursor.Close(ctx)

	var results []ScoredChunk
	if err := cursor.All(ctx, &results); err != nil {
		return nil, fmt.Errorf("failed to decode search results: %w", err)
	}

	return results, nil
}

// DeleteByDocument removes every chunk matching all three identifiers
// exactly. Zero matches is a successful no-op.
func (s *ChunkStore) DeleteByDocument(ctx context.Context, courseID, slideID, s3FileName string) (int64, error) {
	filter := bson.M{
		"course_id":    courseID,
		"slide_id":     slideID,
		"s3_file_name": s3FileName,
	}

	count, err := s.coll.CountDocuments(ctx, filter)
	if err != nil {
		return 0, fmt.Errorf("failed to count matching chunks: %w", err)
	}
	if count == 0 {
		s.logger.Info("no chunks matched deletion filter",
			"course_id", courseID, "slide_id", slideID, "s3_file_name", s3FileName)
		return 0, nil
	}

	res, err := s.coll.DeleteMany(ctx, filter)
	if err != nil {
		return 0, fmt.Errorf("failed to delete chunks: %w", err)
	}

	s.logger.Info("deleted chunks",
		"course_id", courseID, "slide_id", slideID, "count", res.DeletedCount)
	return res.DeletedCount, nil
}
