// Package ai provides the embedding service consumed by the semantic layers.
package ai

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"github.com/sashabaranov/go-openai"
	"golang.org/x/sync/singleflight"

	"github.com/hrygo/mnemora/internal/profile"
)

// ErrEmbeddingUnavailable indicates the embedding provider could not be
// reached. Callers degrade to lexical-only scoring; storage operations never
// fail on it.
var ErrEmbeddingUnavailable = errors.New("embedding service unavailable")

// EmbeddingService is the vector embedding service interface.
type EmbeddingService interface {
	// Embed generates a vector for a single text.
	Embed(ctx context.Context, text string) ([]float32, error)

	// EmbedBatch generates vectors for multiple texts in one provider call.
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)

	// Dimensions returns the vector dimension.
	Dimensions() int

	// ModelID returns the identifier of the model producing the vectors.
	// Stored alongside each embedding so a model switch can be detected.
	ModelID() string
}

type embeddingService struct {
	client     *openai.Client
	model      string
	dimensions int
	timeout    time.Duration
	group      singleflight.Group
}

// NewEmbeddingService creates an EmbeddingService backed by any
// OpenAI-compatible provider (openai, siliconflow, ollama, dashscope, ...).
func NewEmbeddingService(p *profile.Profile) (EmbeddingService, error) {
	if p.EmbeddingAPIKey == "" {
		return nil, errors.Wrap(ErrEmbeddingUnavailable, "no embedding api key configured")
	}

	clientConfig := openai.DefaultConfig(p.EmbeddingAPIKey)
	if p.EmbeddingBaseURL != "" {
		clientConfig.BaseURL = p.EmbeddingBaseURL
	}

	timeout := time.Duration(p.EmbeddingTimeout) * time.Second
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	return &embeddingService{
		client:     openai.NewClientWithConfig(clientConfig),
		model:      p.EmbeddingModel,
		dimensions: p.EmbeddingDimensions,
		timeout:    timeout,
	}, nil
}

// Embed generates a vector for a single text. Duplicate in-flight requests
// for the same text are collapsed into one provider call.
func (s *embeddingService) Embed(ctx context.Context, text string) ([]float32, error) {
	result, err, _ := s.group.Do(text, func() (any, error) {
		vectors, err := s.EmbedBatch(ctx, []string{text})
		if err != nil {
			return nil, err
		}
		if len(vectors) == 0 {
			return nil, errors.Wrap(ErrEmbeddingUnavailable, "empty embedding result")
		}
		return vectors[0], nil
	})
	if err != nil {
		return nil, err
	}
	return result.([]float32), nil
}

func (s *embeddingService) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, errors.Wrap(ErrEmbeddingUnavailable, "no texts provided for embedding")
	}

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	req := openai.EmbeddingRequest{
		Input:      texts,
		Model:      openai.EmbeddingModel(s.model),
		Dimensions: s.dimensions,
	}

	resp, err := s.client.CreateEmbeddings(ctx, req)
	if err != nil {
		return nil, errors.Wrapf(ErrEmbeddingUnavailable, "create embeddings failed: %v", err)
	}

	if len(resp.Data) == 0 {
		return nil, errors.Wrap(ErrEmbeddingUnavailable, "empty embedding response")
	}

	vectors := make([][]float32, len(resp.Data))
	for i, data := range resp.Data {
		vectors[i] = data.Embedding
	}

	return vectors, nil
}

func (s *embeddingService) Dimensions() int {
	return s.dimensions
}

func (s *embeddingService) ModelID() string {
	return s.model
}
