package ollama

import (
	"context"
	"fmt"
	"strings"

	"github.com/OFFIS-RIT/reqtrace/pkg/ai"
	"github.com/OFFIS-RIT/reqtrace/pkg/logger"

	"github.com/ollama/ollama/api"
)

// GenerateEmbedding creates a vector embedding for the given input text
// using the configured embedding model on Ollama.
func (c *EmbeddingClient) GenerateEmbedding(ctx context.Context, input []byte) ([]float32, error) {
	res, err := c.GenerateEmbeddings(ctx, [][]byte{input})
	if err != nil {
		return nil, err
	}
	return res[0], nil
}

// GenerateEmbeddings embeds all inputs in one request. Empty inputs are
// rejected because they carry no meaning to compare.
func (c *EmbeddingClient) GenerateEmbeddings(ctx context.Context, inputs [][]byte) ([][]float32, error) {
	if len(inputs) == 0 {
		return nil, nil
	}
	texts := make([]string, len(inputs))
	for i, in := range inputs {
		if strings.TrimSpace(string(in)) == "" {
			return nil, fmt.Errorf("embedding input %d is empty", i)
		}
		texts[i] = string(in)
	}

	rCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req := &api.EmbedRequest{
		Model: c.embeddingModel,
		Input: texts,
	}
	if len(texts) == 1 {
		req.Input = texts[0]
	}

	if err := c.reqLock.Acquire(rCtx, 1); err != nil {
		return nil, err
	}
	defer c.reqLock.Release(1)

	res, err := c.Client.Embed(rCtx, req)
	if err != nil {
		return nil, err
	}

	c.Add(ai.ModelMetrics{
		InputTokens: res.PromptEvalCount,
		TotalTokens: res.PromptEvalCount,
		DurationMs:  res.TotalDuration.Milliseconds(),
	})

	if len(res.Embeddings) != len(texts) {
		return nil, fmt.Errorf("embedding response size mismatch: got %d want %d", len(res.Embeddings), len(texts))
	}
	out := make([][]float32, len(res.Embeddings))
	for i, e := range res.Embeddings {
		vec := make([]float32, len(e))
		for j, v := range e {
			vec[j] = float32(v)
		}
		out[i] = vec
	}
	return out, nil
}

// EnsureModel pulls the embedding model if the server does not have it yet.
func (c *EmbeddingClient) EnsureModel(ctx context.Context) error {
	if _, err := c.Client.Show(ctx, &api.ShowRequest{Model: c.embeddingModel}); err == nil {
		return nil
	}

	logger.Info("[Ollama] Pulling embedding model", "model", c.embeddingModel)
	lastStatus := ""
	err := c.Client.Pull(ctx, &api.PullRequest{Model: c.embeddingModel}, func(p api.ProgressResponse) error {
		if p.Status != lastStatus {
			logger.Debug("[Ollama] Pull progress", "model", c.embeddingModel, "status", p.Status)
			lastStatus = p.Status
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("pull model %s: %w", c.embeddingModel, err)
	}
	return nil
}
