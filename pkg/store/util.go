package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/OFFIS-RIT/reqtrace/pkg/ai"

	"golang.org/x/sync/errgroup"
)

// ChunkRange calls fn with consecutive [start, end) windows of at most
// chunkSize elements. A non-positive chunkSize yields a single window.
func ChunkRange(total, chunkSize int, fn func(start, end int) error) error {
	if total <= 0 {
		return nil
	}
	if chunkSize <= 0 {
		chunkSize = total
	}
	for start := 0; start < total; start += chunkSize {
		if err := fn(start, min(start+chunkSize, total)); err != nil {
			return err
		}
	}
	return nil
}

// DedupeStrings returns ids without blanks and repeats, keeping first-seen order.
func DedupeStrings(ids []string) []string {
	out := make([]string, 0, len(ids))
	seen := make(map[string]bool, len(ids))
	for _, id := range ids {
		if id == "" || seen[id] {
			continue
		}
		seen[id] = true
		out = append(out, id)
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

var errNilClient = errors.New("embedding client is nil")

// GenerateEmbeddings returns one vector per input, in input order. Providers
// with a batch endpoint get a single request; others get one request per
// input with at most limit in flight (limit <= 0 means unbounded).
func GenerateEmbeddings(ctx context.Context, client ai.EmbeddingClient, inputs [][]byte, limit int) ([][]float32, error) {
	if client == nil {
		return nil, errNilClient
	}
	if len(inputs) == 0 {
		return nil, nil
	}
	if b, ok := client.(ai.BatchEmbeddingClient); ok {
		return b.GenerateEmbeddings(ctx, inputs)
	}

	out := make([][]float32, len(inputs))
	eg, ectx := errgroup.WithContext(ctx)
	if limit > 0 {
		eg.SetLimit(limit)
	}
	for i, in := range inputs {
		eg.Go(func() error {
			vec, err := client.GenerateEmbedding(ectx, in)
			if err != nil {
				return fmt.Errorf("input %d: %w", i, err)
			}
			out[i] = vec
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}
