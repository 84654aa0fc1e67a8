package embedders

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/pkoukk/tiktoken-go"

	"github.com/lectura-app/ai-service/pkg/config"
	"github.com/lectura-app/ai-service/pkg/httpclient"
)

// Per-request limits of the Voyage embeddings API.
const (
	voyageMaxBatchSize   = 1000
	voyageTokenBudget    = 1_000_000
	voyageDefaultModel   = "voyage-3.5-lite"
	voyageDefaultBaseURL = "https://api.voyageai.com/v1"
)

// VoyageEmbedder implements EmbedderProvider for the Voyage AI
// embeddings API.
type VoyageEmbedder struct {
	client    *httpclient.Client
	apiKey    string
	baseURL   string
	model     string
	dimension int
	batchSize int

	countTokens func(string) int
	encoderOnce sync.Once
	encoder     *tiktoken.Tiktoken
}

type voyageEmbedRequest struct {
	Input           []string `json:"input"`
	Model           string   `json:"model"`
	InputType       string   `json:"input_type,omitempty"`
	OutputDimension int      `json:"output_dimension,omitempty"`
}

type voyageEmbedResponse struct {
	Data []struct {
		Embedding []float32 `json:"embedding"`
		Index     int       `json:"index"`
	} `json:"data"`
	Model string `json:"model"`
	Usage struct {
		TotalTokens int `json:"total_tokens"`
	} `json:"usage"`
}

type voyageErrorResponse struct {
	Detail string `json:"detail"`
}

func NewVoyageEmbedderFromConfig(cfg *config.EmbeddingConfig) (*VoyageEmbedder, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("API key is required for Voyage embedder")
	}

	model := cfg.Model
	if model == "" {
		model = voyageDefaultModel
	}

	dimension := cfg.Dimension
	if dimension == 0 {
		dimension = 512
	}

	baseURL := cfg.Host
	if baseURL == "" {
		baseURL = voyageDefaultBaseURL
	}

	timeout := 60 * time.Second
	if cfg.Timeout > 0 {
		timeout = time.Duration(cfg.Timeout) * time.Second
	}

	batchSize := voyageMaxBatchSize
	if cfg.BatchSize > 0 && cfg.BatchSize < voyageMaxBatchSize {
		batchSize = cfg.BatchSize
	}

	e := &VoyageEmbedder{
		client: httpclient.New(
			httpclient.WithHTTPClient(&http.Client{Timeout: timeout}),
			httpclient.WithHeaderParser(httpclient.VoyageHeaderParser),
		),
		apiKey:    cfg.APIKey,
		baseURL:   baseURL,
		model:     model,
		dimension: dimension,
		batchSize: batchSize,
	}
	e.countTokens = e.approximateTokens

	return e, nil
}

// approximateTokens counts tokens with the cl100k_base encoding when
// available, falling back to a bytes/4 estimate. The count only gates
// batch sizing, so an estimate is acceptable.
func (e *VoyageEmbedder) approximateTokens(text string) int {
	e.encoderOnce.Do(func() {
		if enc, err := tiktoken.GetEncoding("cl100k_base"); err == nil {
			e.encoder = enc
		}
	})
	if e.encoder != nil {
		return len(e.encoder.Encode(text, nil, nil))
	}
	return len(text)/4 + 1
}

// PlanBatches partitions texts into batches that respect both the
// per-request item cap and the per-request token budget.
func (e *VoyageEmbedder) PlanBatches(texts []string) [][]string {
	var batches [][]string
	var current []string
	currentTokens := 0

	for _, text := range texts {
		tokens := e.countTokens(text)
		overCount := len(current) >= e.batchSize
		overBudget := len(current) > 0 && currentTokens+tokens > voyageTokenBudget
		if overCount || overBudget {
			batches = append(batches, current)
			current = nil
			currentTokens = 0
		}
		current = append(current, text)
		currentTokens += tokens
	}
	if len(current) > 0 {
		batches = append(batches, current)
	}

	return batches
}

func (e *VoyageEmbedder) EmbedWithContext(ctx context.Context, text string, inputType InputType) ([]float32, error) {
	embeddings, err := e.embedRequest(ctx, []string{text}, inputType)
	if err != nil {
		return nil, err
	}
	if len(embeddings) == 0 {
		return nil, fmt.Errorf("received empty embedding from Voyage")
	}
	return embeddings[0], nil
}

func (e *VoyageEmbedder) EmbedBatchWithContext(ctx context.Context, texts []string, inputType InputType) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	results := make([][]float32, 0, len(texts))
	for _, batch := range e.PlanBatches(texts) {
		embeddings, err := e.embedRequest(ctx, batch, inputType)
		if err != nil {
			return nil, err
		}
		results = append(results, embeddings...)
	}

	return results, nil
}

func (e *VoyageEmbedder) embedRequest(ctx context.Context, texts []string, inputType InputType) ([][]float32, error) {
	req := voyageEmbedRequest{
		Input:           texts,
		Model:           e.model,
		InputType:       string(inputType),
		OutputDimension: e.dimension,
	}

	reqBody, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, "POST", e.baseURL+"/embeddings", bytes.NewReader(reqBody))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+e.apiKey)
	httpReq.Header.Set("Accept", "application/json")

	// A non-2xx final attempt yields both a response and an error;
	// keep the response so the provider's error detail survives.
	resp, err := e.client.Do(httpReq)
	if resp == nil {
		return nil, fmt.Errorf("failed to send request to Voyage: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		var errorResp voyageErrorResponse
		if err := json.Unmarshal(body, &errorResp); err == nil && errorResp.Detail != "" {
			return nil, fmt.Errorf("Voyage API error: %s", errorResp.Detail)
		}
		return nil, fmt.Errorf("Voyage API returned status %d: %s", resp.StatusCode, string(body))
	}

	var response voyageEmbedResponse
	if err := json.Unmarshal(body, &response); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}

	if len(response.Data) != len(texts) {
		return nil, fmt.Errorf("Voyage returned %d embeddings for %d inputs", len(response.Data), len(texts))
	}

	embeddings := make([][]float32, len(texts))
	for _, item := range response.Data {
		if item.Index < 0 || item.Index >= len(texts) {
			return nil, fmt.Errorf("Voyage returned out-of-range embedding index %d", item.Index)
		}
		if len(item.Embedding) != e.dimension {
			return nil, fmt.Errorf("Voyage returned %d-dimensional embedding, want %d", len(item.Embedding), e.dimension)
		}
		embeddings[item.Index] = item.Embedding
	}

	return embeddings, nil
}

func (e *VoyageEmbedder) GetDimension() int {
	return e.dimension
}

func (e *VoyageEmbedder) GetModelName() string {
	return e.model
}

func (e *VoyageEmbedder) Close() error {
	return nil
}
