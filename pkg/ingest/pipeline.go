package ingest

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/lectura-app/ai-service/pkg/chunker"
	"github.com/lectura-app/ai-service/pkg/databases"
	"github.com/lectura-app/ai-service/pkg/embedders"
	"github.com/lectura-app/ai-service/pkg/storage"
)

// Concurrency caps for the embed and save stages. Embedding is bounded
// by provider rate limits, saving by connection pool pressure.
const (
	embedConcurrency  = 6
	insertConcurrency = 6
)

// ChunkInserter is the slice of the chunk store ingestion needs.
type ChunkInserter interface {
	InsertBatch(ctx context.Context, chunks []chunker.Chunk) (databases.InsertResult, error)
}

// Statistics summarizes what one ingestion produced.
type Statistics struct {
	FileSizeMB        float64 `json:"file_size_mb"`
	TotalPages        int     `json:"total_pages"`
	ChunksCreated     int     `json:"chunks_created"`
	ChunksEmbedded    int     `json:"chunks_embedded"`
	ChunksSaved       int     `json:"chunks_saved"`
	DuplicatesSkipped int     `json:"duplicates_skipped"`
	Errors            int     `json:"errors"`
}

// Timing reports per-stage wall clock seconds.
type Timing struct {
	DownloadSeconds  float64 `json:"download_time"`
	ChunkingSeconds  float64 `json:"chunking_time"`
	EmbeddingSeconds float64 `json:"embedding_time"`
	SaveSeconds      float64 `json:"mongodb_save_time"`
	TotalSeconds     float64 `json:"total_time"`
}

// Result is the outcome of one successful ingestion.
type Result struct {
	Statistics       Statistics `json:"statistics"`
	Timing           Timing     `json:"timing"`
	ProcessingTimeMS int64      `json:"processing_time_ms"`
}

// Pipeline ingests one PDF end to end: download, chunk, embed, save.
type Pipeline struct {
	objects  storage.ObjectStore
	embedder embedders.EmbedderProvider
	store    ChunkInserter
	maxWords int
	logger   *slog.Logger

	// chunkFn exists so tests can bypass PDF parsing.
	chunkFn func(data []byte, courseID, slideID, s3FileName string) ([]chunker.Chunk, error)
}

func NewPipeline(objects storage.ObjectStore, embedder embedders.EmbedderProvider, store ChunkInserter, logger *slog.Logger) *Pipeline {
	if logger == nil {
		logger = slog.Default()
	}
	p := &Pipeline{
		objects:  objects,
		embedder: embedder,
		store:    store,
		maxWords: chunker.DefaultMaxWords,
		logger:   logger,
	}
	p.chunkFn = func(data []byte, courseID, slideID, s3FileName string) ([]chunker.Chunk, error) {
		return chunker.ChunkPDF(data, courseID, slideID, s3FileName,
			chunker.WithMaxWords(p.maxWords), chunker.WithLogger(p.logger))
	}
	return p
}

// Process runs the full ingestion for one document.
func (p *Pipeline) Process(ctx context.Context, courseID, slideID, s3FileName string) (Result, error) {
	pipelineStart := time.Now()
	p.logger.Info("starting ingestion", "course_id", courseID, "slide_id", slideID, "s3_file_name", s3FileName)

	stepStart := time.Now()
	data, err := p.objects.Download(ctx, s3FileName)
	if err != nil {
		return Result{}, fmt.Errorf("failed to download PDF: %w", err)
	}
	downloadTime := time.Since(stepStart)
	fileSizeMB := float64(len(data)) / (1024 * 1024)
	p.logger.Info("downloaded PDF", "size_mb", fileSizeMB, "duration", downloadTime)

	stepStart = time.Now()
	chunks, err := p.chunkFn(data, courseID, slideID, s3FileName)
	if err != nil {
		return Result{}, fmt.Errorf("failed to chunk PDF: %w", err)
	}
	chunkingTime := time.Since(stepStart)
	p.logger.Info("chunked PDF", "chunks", len(chunks), "duration", chunkingTime)

	stepStart = time.Now()
	if err := p.embedChunks(ctx, chunks); err != nil {
		return Result{}, fmt.Errorf("failed to embed chunks: %w", err)
	}
	embeddingTime := time.Since(stepStart)

	stepStart = time.Now()
	saved, err := p.saveChunks(ctx, chunks)
	if err != nil {
		return Result{}, fmt.Errorf("failed to save chunks: %w", err)
	}
	saveTime := time.Since(stepStart)

	p.logger.Info("ingestion complete",
		"inserted", saved.Inserted, "duplicates", saved.Duplicates, "errors", len(saved.Errors))

	totalPages := 0
	if len(chunks) > 0 {
		totalPages = chunks[0].TotalPages
	}
	total := time.Since(pipelineStart)

	return Result{
		Statistics: Statistics{
			FileSizeMB:        fileSizeMB,
			TotalPages:        totalPages,
			ChunksCreated:     len(chunks),
			ChunksEmbedded:    len(chunks),
			ChunksSaved:       saved.Inserted,
			DuplicatesSkipped: saved.Duplicates,
			Errors:            len(saved.Errors),
		},
		Timing: Timing{
			DownloadSeconds:  downloadTime.Seconds(),
			ChunkingSeconds:  chunkingTime.Seconds(),
			EmbeddingSeconds: embeddingTime.Seconds(),
			SaveSeconds:      saveTime.Seconds(),
			TotalSeconds:     total.Seconds(),
		},
		ProcessingTimeMS: total.Milliseconds(),
	}, nil
}

// embedChunks fills in chunk embeddings, running planned batches
// concurrently. Batch order inside the vector slice is preserved via
// per-batch offsets.
func (p *Pipeline) embedChunks(ctx context.Context, chunks []chunker.Chunk) error {
	if len(chunks) == 0 {
		return nil
	}

	texts := make([]string, len(chunks))
	for i := range chunks {
		texts[i] = chunks[i].Text
	}

	batches := p.embedder.PlanBatches(texts)
	offsets := make([]int, len(batches))
	offset := 0
	for i, batch := range batches {
		offsets[i] = offset
		offset += len(batch)
	}
	if offset != len(texts) {
		return fmt.Errorf("batch plan covers %d texts, expected %d", offset, len(texts))
	}

	vectors := make([][]float32, len(texts))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(embedConcurrency)

	for i, batch := range batches {
		start := offsets[i]
		batch := batch
		g.Go(func() error {
			embedded, err := p.embedder.EmbedBatchWithContext(gctx, batch, embedders.InputTypeDocument)
			if err != nil {
				return err
			}
			if len(embedded) != len(batch) {
				return fmt.Errorf("embedder returned %d vectors for %d texts", len(embedded), len(batch))
			}
			copy(vectors[start:], embedded)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	for i := range chunks {
		chunks[i].Embedding = vectors[i]
	}
	return nil
}

// saveChunks writes chunks in bounded batches and aggregates per-batch
// outcomes.
func (p *Pipeline) saveChunks(ctx context.Context, chunks []chunker.Chunk) (databases.InsertResult, error) {
	var (
		mu    sync.Mutex
		total databases.InsertResult
	)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(insertConcurrency)

	for start := 0; start < len(chunks); start += databases.InsertBatchSize {
		end := start + databases.InsertBatchSize
		if end > len(chunks) {
			end = len(chunks)
		}
		batch := chunks[start:end]

		g.Go(func() error {
			result, err := p.store.InsertBatch(gctx, batch)
			if err != nil {
				return err
			}
			mu.Lock()
			total.Inserted += result.Inserted
			total.Duplicates += result.Duplicates
			total.Errors = append(total.Errors, result.Errors...)
			mu.Unlock()
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return databases.InsertResult{}, err
	}
	return total, nil
}
