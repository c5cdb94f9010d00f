// Package memory implements the retrieval-augmented conversation memory.
package memory

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"
	"google.golang.org/genai"

	"github.com/easeaico/petpal/internal/config"
	"github.com/easeaico/petpal/internal/metrics"
)

// ErrEmbedding marks failures of the embedding service. It is the only error
// class the memory core surfaces to its callers.
var ErrEmbedding = errors.New("embedding failed")

// Embedder converts text into fixed-dimension vectors.
type Embedder interface {
	EmbedQuery(ctx context.Context, text string) ([]float32, error)
	EmbedDocument(ctx context.Context, text string) ([]float32, error)
	EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error)
	// ModelID identifies the model; index files are stamped with it.
	ModelID() string
	Dimensions() int
}

// EmbedderConfig selects and configures an Embedder.
type EmbedderConfig struct {
	Provider   string
	APIKey     string
	BaseURL    string
	Model      string
	Dimensions int
}

// EmbedderConfigFrom picks embedding settings out of the runtime config.
func EmbedderConfigFrom(cfg config.Config) EmbedderConfig {
	ec := EmbedderConfig{
		Provider:   cfg.EmbeddingProvider,
		Model:      cfg.EmbeddingModel,
		Dimensions: cfg.EmbeddingDimensions,
	}
	if ec.Provider == config.ProviderOpenAI {
		ec.APIKey = cfg.OpenAIAPIKey
		ec.BaseURL = cfg.OpenAIBaseURL
	} else {
		ec.APIKey = cfg.GoogleAPIKey
	}
	return ec
}

// NewEmbedder returns the Embedder for cfg.Provider.
func NewEmbedder(ctx context.Context, cfg EmbedderConfig) (Embedder, error) {
	if cfg.Dimensions <= 0 {
		cfg.Dimensions = 768
	}
	switch cfg.Provider {
	case config.ProviderOpenAI:
		return newOpenAIEmbedder(cfg)
	case config.ProviderGenAI, "":
		return newGenAIEmbedder(ctx, cfg)
	default:
		return nil, fmt.Errorf("unknown embedding provider %q", cfg.Provider)
	}
}

// GenAIEmbedder embeds text with the Gemini API.
type GenAIEmbedder struct {
	client     *genai.Client
	model      string
	dimensions int
}

func newGenAIEmbedder(ctx context.Context, cfg EmbedderConfig) (*GenAIEmbedder, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("google api key is required for embeddings")
	}
	if cfg.Model == "" {
		cfg.Model = "text-embedding-004"
	}

	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  cfg.APIKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create genai client: %w", err)
	}

	return &GenAIEmbedder{
		client:     client,
		model:      cfg.Model,
		dimensions: cfg.Dimensions,
	}, nil
}

func (e *GenAIEmbedder) ModelID() string { return "genai/" + e.model }
func (e *GenAIEmbedder) Dimensions() int { return e.dimensions }

func (e *GenAIEmbedder) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	return e.embed(ctx, text, "RETRIEVAL_QUERY")
}

func (e *GenAIEmbedder) EmbedDocument(ctx context.Context, text string) ([]float32, error) {
	return e.embed(ctx, text, "RETRIEVAL_DOCUMENT")
}

func (e *GenAIEmbedder) EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error) {
	results := make([][]float32, 0, len(texts))
	for _, text := range texts {
		vec, err := e.EmbedDocument(ctx, text)
		if err != nil {
			return nil, err
		}
		results = append(results, vec)
	}
	return results, nil
}

func (e *GenAIEmbedder) embed(ctx context.Context, text, taskType string) ([]float32, error) {
	if text == "" {
		return nil, fmt.Errorf("%w: empty text", ErrEmbedding)
	}

	dims := int32(e.dimensions)
	resp, err := e.client.Models.EmbedContent(ctx, e.model, genai.Text(text), &genai.EmbedContentConfig{
		TaskType:             taskType,
		OutputDimensionality: &dims,
	})
	if err != nil {
		metrics.EmbeddingErrors.WithLabelValues("genai").Inc()
		return nil, fmt.Errorf("%w: failed to embed content: %v", ErrEmbedding, err)
	}
	if resp == nil || len(resp.Embeddings) == 0 || resp.Embeddings[0] == nil {
		metrics.EmbeddingErrors.WithLabelValues("genai").Inc()
		return nil, fmt.Errorf("%w: empty embedding response", ErrEmbedding)
	}
	return fitDimensions(resp.Embeddings[0].Values, e.dimensions, e.model)
}

// OpenAIEmbedder embeds text with an OpenAI-compatible embeddings endpoint.
type OpenAIEmbedder struct {
	client     openai.Client
	model      string
	dimensions int
}

func newOpenAIEmbedder(cfg EmbedderConfig) (*OpenAIEmbedder, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("openai api key is required for embeddings")
	}
	if cfg.Model == "" {
		cfg.Model = "text-embedding-3-small"
	}
	opts := []option.RequestOption{option.WithAPIKey(cfg.APIKey)}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}
	return &OpenAIEmbedder{
		client:     openai.NewClient(opts...),
		model:      cfg.Model,
		dimensions: cfg.Dimensions,
	}, nil
}

func (e *OpenAIEmbedder) ModelID() string { return "openai/" + e.model }
func (e *OpenAIEmbedder) Dimensions() int { return e.dimensions }

func (e *OpenAIEmbedder) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	return e.EmbedDocument(ctx, text)
}

func (e *OpenAIEmbedder) EmbedDocument(ctx context.Context, text string) ([]float32, error) {
	vecs, err := e.EmbedDocuments(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vecs[0], nil
}

func (e *OpenAIEmbedder) EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	for _, text := range texts {
		if text == "" {
			return nil, fmt.Errorf("%w: empty text", ErrEmbedding)
		}
	}

	resp, err := e.client.Embeddings.New(ctx, openai.EmbeddingNewParams{
		Input:      openai.EmbeddingNewParamsInputUnion{OfArrayOfStrings: texts},
		Model:      openai.EmbeddingModel(e.model),
		Dimensions: openai.Int(int64(e.dimensions)),
	})
	if err != nil {
		metrics.EmbeddingErrors.WithLabelValues("openai").Inc()
		return nil, fmt.Errorf("%w: failed to create embeddings: %v", ErrEmbedding, err)
	}
	if resp == nil || len(resp.Data) != len(texts) {
		metrics.EmbeddingErrors.WithLabelValues("openai").Inc()
		return nil, fmt.Errorf("%w: unexpected embedding response size", ErrEmbedding)
	}

	results := make([][]float32, len(texts))
	for _, item := range resp.Data {
		if item.Index < 0 || int(item.Index) >= len(texts) {
			return nil, fmt.Errorf("%w: embedding index %d out of range", ErrEmbedding, item.Index)
		}
		values := make([]float32, len(item.Embedding))
		for i, v := range item.Embedding {
			values[i] = float32(v)
		}
		vec, err := fitDimensions(values, e.dimensions, e.model)
		if err != nil {
			return nil, err
		}
		results[item.Index] = vec
	}
	return results, nil
}

func fitDimensions(values []float32, dimensions int, model string) ([]float32, error) {
	if len(values) == dimensions {
		return values, nil
	}
	if len(values) > dimensions {
		slog.Warn("embedding dimensions exceed target, truncating", "actual", len(values), "target", dimensions, "model", model)
		return values[:dimensions], nil
	}
	return nil, fmt.Errorf("%w: dimensions mismatch: got %d want %d", ErrEmbedding, len(values), dimensions)
}
