package ai

import (
	"context"
	"math"
	"sync"
)

// ModelMetrics contains performance metrics from AI model operations.
type ModelMetrics struct {
	InputTokens    int     `json:"input_tokens"`
	TotalTokens    int     `json:"total_tokens"`
	Requests       int     `json:"requests"`
	DurationMs     int64   `json:"duration_ms"`
	TokenPerSecond float32 `json:"tokens_per_second"`
}

// EmbeddingClient is an Embedding Provider: given text it returns a vector of
// the model's dimensionality. Vectors are returned as produced by the model;
// callers normalize them.
type EmbeddingClient interface {
	GenerateEmbedding(ctx context.Context, input []byte) ([]float32, error)

	// Model is the provider-side name of the embedding model.
	Model() string
	// Provider names the backend, e.g. "ollama" or "openai".
	Provider() string

	ResetMetrics()
	GetMetrics() ModelMetrics
}

// BatchEmbeddingClient is implemented by providers that can embed several
// inputs in one request.
type BatchEmbeddingClient interface {
	EmbeddingClient
	GenerateEmbeddings(ctx context.Context, inputs [][]byte) ([][]float32, error)
}

// MetricsRecorder accumulates ModelMetrics. Providers embed it.
type MetricsRecorder struct {
	lock    sync.Mutex
	metrics ModelMetrics
}

func (r *MetricsRecorder) ResetMetrics() {
	r.lock.Lock()
	r.metrics = ModelMetrics{}
	r.lock.Unlock()
}

// GetMetrics returns the accumulated token usage and timing metrics since the last reset.
func (r *MetricsRecorder) GetMetrics() ModelMetrics {
	r.lock.Lock()
	defer r.lock.Unlock()
	return r.metrics
}

// Add folds one request's metrics into the totals.
func (r *MetricsRecorder) Add(m ModelMetrics) {
	r.lock.Lock()
	defer r.lock.Unlock()

	r.metrics.InputTokens += m.InputTokens
	r.metrics.TotalTokens += m.TotalTokens
	r.metrics.Requests += max(m.Requests, 1)
	r.metrics.DurationMs += m.DurationMs

	if r.metrics.DurationMs > 0 {
		tokensPerSecond := (float64(r.metrics.TotalTokens) * 1000.0) / float64(r.metrics.DurationMs)
		r.metrics.TokenPerSecond = float32(math.Round(tokensPerSecond*100) / 100)
	}
}
