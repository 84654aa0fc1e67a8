package embedders

import "context"

// InputType tells the embedding provider which side of the retrieval
// asymmetry a text belongs to.
type InputType string

const (
	InputTypeDocument InputType = "document"
	InputTypeQuery    InputType = "query"
)

// EmbedderProvider is the interface all embedding providers implement.
type EmbedderProvider interface {
	// EmbedWithContext embeds a single text.
	EmbedWithContext(ctx context.Context, text string, inputType InputType) ([]float32, error)

	// EmbedBatchWithContext embeds a batch of texts, preserving order.
	// Inputs over the provider's batch cap are split internally.
	EmbedBatchWithContext(ctx context.Context, texts []string, inputType InputType) ([][]float32, error)

	// PlanBatches partitions texts into request-sized batches honoring
	// the provider's count and token limits, preserving order.
	PlanBatches(texts []string) [][]string

	GetDimension() int

	GetModelName() string

	Close() error
}
