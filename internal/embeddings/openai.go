package embeddings

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"
)

// OpenAIDriver implements EmbeddingDriver for OpenAI's embedding API.
// Supports text-embedding-3-small (1536d), text-embedding-3-large (3072d),
// and text-embedding-ada-002 (1536d).
type OpenAIDriver struct {
	client     openai.Client
	model      string
	dimensions int
	batchSize  int
}

// OpenAIOption configures the OpenAI driver.
type OpenAIOption func(*openAISettings)

type openAISettings struct {
	baseURL   string
	batchSize int
	timeout   time.Duration
}

// WithOpenAIBaseURL sets a custom API base URL (e.g. for proxies).
func WithOpenAIBaseURL(baseURL string) OpenAIOption {
	return func(s *openAISettings) { s.baseURL = baseURL }
}

// WithOpenAIBatchSize sets the max texts per Embed call.
func WithOpenAIBatchSize(size int) OpenAIOption {
	return func(s *openAISettings) { s.batchSize = size }
}

// WithOpenAITimeout bounds each embedding request.
func WithOpenAITimeout(d time.Duration) OpenAIOption {
	return func(s *openAISettings) { s.timeout = d }
}

// NewOpenAIDriver creates an OpenAI embedding driver.
func NewOpenAIDriver(apiKey, model string, opts ...OpenAIOption) *OpenAIDriver {
	if model == "" {
		model = string(openai.EmbeddingModelTextEmbedding3Small)
	}
	dims := 1536
	if model == string(openai.EmbeddingModelTextEmbedding3Large) {
		dims = 3072
	}

	s := openAISettings{batchSize: 2048, timeout: 60 * time.Second}
	for _, opt := range opts {
		opt(&s)
	}

	reqOpts := []option.RequestOption{
		option.WithAPIKey(apiKey),
		option.WithHTTPClient(&http.Client{Timeout: s.timeout}),
	}
	if s.baseURL != "" {
		reqOpts = append(reqOpts, option.WithBaseURL(s.baseURL))
	}
	return &OpenAIDriver{
		client:     openai.NewClient(reqOpts...),
		model:      model,
		dimensions: dims,
		batchSize:  s.batchSize,
	}
}

func (d *OpenAIDriver) Kind() string      { return "openai" }
func (d *OpenAIDriver) Dimensions() int   { return d.dimensions }
func (d *OpenAIDriver) MaxBatchSize() int { return d.batchSize }

// Embed generates vector embeddings for a batch of texts.
func (d *OpenAIDriver) Embed(ctx context.Context, texts []string) ([][]float64, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	if len(texts) > d.batchSize {
		return nil, fmt.Errorf("batch size %d exceeds max %d", len(texts), d.batchSize)
	}

	resp, err := d.client.Embeddings.New(ctx, openai.EmbeddingNewParams{
		Input: openai.EmbeddingNewParamsInputUnion{OfArrayOfStrings: texts},
		Model: openai.EmbeddingModel(d.model),
	})
	if err != nil {
		return nil, fmt.Errorf("openai embeddings: %w", err)
	}

	// Reorder by index
	vectors := make([][]float64, len(texts))
	for _, e := range resp.Data {
		if int(e.Index) < len(vectors) {
			vectors[e.Index] = e.Embedding
		}
	}
	for i, v := range vectors {
		if v == nil {
			return nil, fmt.Errorf("openai embeddings: missing vector for input %d", i)
		}
	}
	return vectors, nil
}

// HealthCheck verifies the API key by embedding a test string.
func (d *OpenAIDriver) HealthCheck(ctx context.Context) error {
	_, err := d.Embed(ctx, []string{"health check"})
	return err
}
