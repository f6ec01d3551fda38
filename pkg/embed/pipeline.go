// Package embed computes and stores the embeddings of traceability nodes.
package embed

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/OFFIS-RIT/reqtrace/pkg/ai"
	"github.com/OFFIS-RIT/reqtrace/pkg/common"
	"github.com/OFFIS-RIT/reqtrace/pkg/logger"
	"github.com/OFFIS-RIT/reqtrace/pkg/store"

	"golang.org/x/sync/errgroup"
)

var ErrDimensionMismatch = errors.New("embedding dimension mismatch")

const (
	DefaultBatchSize   = 50
	DefaultConcurrency = 4
)

// Store is the persistence the pipeline needs.
type Store interface {
	ListEmbeddingCandidates(ctx context.Context, modelID int64, filter store.CandidateFilter) ([]common.EmbeddingCandidate, error)
	UpsertEmbedding(ctx context.Context, e common.Embedding) error
}

type Options struct {
	Scope       common.Scope
	Limit       int
	OnlyMissing bool
	DryRun      bool

	MaxChars    int
	BatchSize   int
	Concurrency int
}

type Stats struct {
	Embedded int           `json:"embedded"`
	Skipped  int           `json:"skipped"`
	Errors   int           `json:"errors"`
	Duration time.Duration `json:"duration"`
}

type Pipeline struct {
	client ai.EmbeddingClient
	store  Store
	dims   int
}

// NewPipeline creates a pipeline producing vectors of dims dimensions.
func NewPipeline(client ai.EmbeddingClient, s Store, dims int) *Pipeline {
	return &Pipeline{client: client, store: s, dims: dims}
}

type pending struct {
	node common.Node
	text string
	hash string
}

// Run embeds the selected nodes of the model. Empty content and unchanged
// content are skipped. Failures of single nodes are counted and the run goes
// on; only failing to load candidates aborts it.
func (p *Pipeline) Run(ctx context.Context, modelID int64, opts Options) (Stats, error) {
	start := time.Now()
	var stats Stats

	batchSize := opts.BatchSize
	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}
	concurrency := opts.Concurrency
	if concurrency <= 0 {
		concurrency = DefaultConcurrency
	}

	candidates, err := p.store.ListEmbeddingCandidates(ctx, modelID, store.CandidateFilter{
		Scope:       opts.Scope,
		OnlyMissing: opts.OnlyMissing,
		Limit:       opts.Limit,
	})
	if err != nil {
		return stats, fmt.Errorf("load embedding candidates: %w", err)
	}
	logger.Info("[Embed] Processing nodes", "model_id", modelID, "scope", opts.Scope, "nodes", len(candidates))

	work := make([]pending, 0, len(candidates))
	for _, c := range candidates {
		text := NormalizeText(c.Node.Content, opts.MaxChars)
		if text == "" {
			stats.Skipped++
			continue
		}
		hash := ContentHash(text)
		if hash == c.ExistingHash {
			stats.Skipped++
			continue
		}
		work = append(work, pending{node: c.Node, text: text, hash: hash})
	}

	if opts.DryRun {
		for _, w := range work {
			logger.Debug("[Embed][DryRun] Would embed", "node", w.node.ID, "hash", w.hash[:8])
		}
		stats.Duration = time.Since(start)
		return stats, nil
	}

	var mu sync.Mutex
	count := func(embedded, errs int) {
		mu.Lock()
		stats.Embedded += embedded
		stats.Errors += errs
		mu.Unlock()
	}

	eg, ectx := errgroup.WithContext(ctx)
	eg.SetLimit(concurrency)
	_ = store.ChunkRange(len(work), batchSize, func(from, to int) error {
		batch := work[from:to]
		eg.Go(func() error {
			embedded, errs := p.embedBatch(ectx, modelID, batch)
			count(embedded, errs)
			return nil
		})
		return nil
	})
	_ = eg.Wait()

	if err := ctx.Err(); err != nil {
		return stats, err
	}

	stats.Duration = time.Since(start)
	logger.Info(
		"[Embed] Run finished",
		"model_id", modelID,
		"embedded", stats.Embedded,
		"skipped", stats.Skipped,
		"errors", stats.Errors,
		"duration", stats.Duration,
	)
	return stats, nil
}

// embedBatch embeds one batch. When the batch request fails, every node is
// retried on its own so that one bad input does not cost the whole batch.
func (p *Pipeline) embedBatch(ctx context.Context, modelID int64, batch []pending) (embedded, errs int) {
	inputs := make([][]byte, len(batch))
	for i, w := range batch {
		inputs[i] = []byte(w.text)
	}

	vectors, err := store.GenerateEmbeddings(ctx, p.client, inputs, DefaultConcurrency)
	if err == nil && len(vectors) != len(batch) {
		err = fmt.Errorf("embedding result size mismatch: got %d want %d", len(vectors), len(batch))
	}
	if err != nil {
		if ctx.Err() != nil {
			return 0, len(batch)
		}
		logger.Warn("[Embed] Batch request failed, retrying nodes one by one", "size", len(batch), "err", err)
		vectors = make([][]float32, len(batch))
		for i, in := range inputs {
			v, err := p.client.GenerateEmbedding(ctx, in)
			if err != nil {
				logger.Error("[Embed] Failed to get embedding", "node", batch[i].node.ID, "err", err)
				continue
			}
			vectors[i] = v
		}
	}

	for i, w := range batch {
		if err := p.save(ctx, modelID, w, vectors[i]); err != nil {
			logger.Error("[Embed] Failed to store embedding", "node", w.node.ID, "err", err)
			errs++
			continue
		}
		embedded++
	}
	return embedded, errs
}

func (p *Pipeline) save(ctx context.Context, modelID int64, w pending, vec []float32) error {
	if vec == nil {
		return errors.New("no embedding returned")
	}
	if p.dims > 0 && len(vec) != p.dims {
		return fmt.Errorf("%w: expected %d, got %d", ErrDimensionMismatch, p.dims, len(vec))
	}
	return p.store.UpsertEmbedding(ctx, common.Embedding{
		NodeID:      w.node.ID,
		ReqID:       w.node.ReqID,
		ModelID:     modelID,
		ContentHash: w.hash,
		Vector:      L2Normalize(vec),
	})
}
