// Package embed generates embeddings through the OpenAI API, with bounded
// retry on transient failures and a batcher that coalesces concurrent
// requests into one API call.
package embed

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"time"

	openai "github.com/sashabaranov/go-openai"
	"go.uber.org/zap"
)

const (
	defaultModel      = "text-embedding-3-small"
	defaultDimensions = 1536

	maxRetries     = 4
	initialBackoff = time.Second
)

// Client wraps the embeddings endpoint.
type Client struct {
	api        *openai.Client
	model      string
	dimensions int
	logger     *zap.Logger
}

// NewClient builds a Client. Empty model or zero dimensions take the
// defaults; a nil logger is replaced with a no-op one.
func NewClient(apiKey, model string, dimensions int, logger *zap.Logger) *Client {
	if model == "" {
		model = defaultModel
	}
	if dimensions <= 0 {
		dimensions = defaultDimensions
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{
		api:        openai.NewClient(apiKey),
		model:      model,
		dimensions: dimensions,
		logger:     logger,
	}
}

// Dimensions reports the configured vector width.
func (c *Client) Dimensions() int { return c.dimensions }

// EmbedBatch embeds up to one API call's worth of texts in order. Transient
// failures (rate limit, 5xx) are retried with exponential backoff and
// jitter; anything else fails fast.
func (c *Client) EmbedBatch(ctx context.Context, texts []string) ([][]float64, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	var resp openai.EmbeddingResponse
	var err error
	backoff := initialBackoff
	for attempt := 0; attempt <= maxRetries; attempt++ {
		if attempt > 0 {
			sleep := backoff + time.Duration(rand.Int63n(int64(backoff/2)))
			c.logger.Warn("retrying embeddings request",
				zap.Int("attempt", attempt),
				zap.Duration("backoff", sleep),
				zap.Error(err))
			select {
			case <-time.After(sleep):
			case <-ctx.Done():
				return nil, ctx.Err()
			}
			backoff *= 2
		}

		resp, err = c.api.CreateEmbeddings(ctx, openai.EmbeddingRequest{
			Input:      texts,
			Model:      openai.EmbeddingModel(c.model),
			Dimensions: c.dimensions,
		})
		if err == nil {
			break
		}
		if !isTransient(err) {
			return nil, fmt.Errorf("embeddings request failed: %w", err)
		}
	}
	if err != nil {
		return nil, fmt.Errorf("embeddings request failed after %d retries: %w", maxRetries, err)
	}

	if len(resp.Data) != len(texts) {
		return nil, fmt.Errorf("embeddings response holds %d vectors for %d inputs", len(resp.Data), len(texts))
	}
	vectors := make([][]float64, len(texts))
	for _, item := range resp.Data {
		if item.Index < 0 || item.Index >= len(texts) {
			return nil, fmt.Errorf("embeddings response index %d out of range", item.Index)
		}
		vec := make([]float64, len(item.Embedding))
		for i, v := range item.Embedding {
			vec[i] = float64(v)
		}
		vectors[item.Index] = vec
	}
	return vectors, nil
}

// EmbedText is the best-effort single-text capability: nil on any failure so
// callers fall back to keyword-only search.
func (c *Client) EmbedText(ctx context.Context, text string) []float64 {
	if text == "" {
		return nil
	}
	vectors, err := c.EmbedBatch(ctx, []string{text})
	if err != nil {
		c.logger.Warn("embedding failed", zap.Error(err))
		return nil
	}
	return vectors[0]
}

// EmbedImage is the image half of the embedding capability. The configured
// text-embedding backend has no image endpoint, so this resolves to nil and
// image chunks stay keyword-searchable.
func (c *Client) EmbedImage(ctx context.Context, path string) []float64 {
	c.logger.Debug("image embedding not supported by backend", zap.String("path", path))
	return nil
}

// isTransient reports whether an API error is worth retrying: rate limits
// and server-side failures, never bad input.
func isTransient(err error) bool {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return apiErr.HTTPStatusCode == 429 || apiErr.HTTPStatusCode >= 500
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		return reqErr.HTTPStatusCode == 429 || reqErr.HTTPStatusCode >= 500 || reqErr.HTTPStatusCode == 0
	}
	return false
}
