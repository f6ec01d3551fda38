// Package match ranks platform requirements against customer requirements by
// embedding similarity and persists the ranked, classified result set.
package match

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/OFFIS-RIT/reqtrace/pkg/common"
	"github.com/OFFIS-RIT/reqtrace/pkg/coverage"
	"github.com/OFFIS-RIT/reqtrace/pkg/leaselock"
	"github.com/OFFIS-RIT/reqtrace/pkg/logger"

	gonanoid "github.com/matoous/go-nanoid/v2"
)

var ErrInvalidParams = errors.New("invalid match parameters")

const DefaultTopK = 5

// Repository is the persistence the matcher needs.
//
// ReplaceMatches removes every match of the model and inserts results as one
// unit. InsertMatches only appends. Both report rows that failed individually
// as failed and keep going; a returned error means the whole write failed.
type Repository interface {
	ListEmbeddingsByScope(ctx context.Context, modelID int64, scope common.Scope) ([]common.Embedding, error)
	ReplaceMatches(ctx context.Context, modelID int64, results []Result) (inserted int, failed int, err error)
	InsertMatches(ctx context.Context, modelID int64, results []Result) (inserted int, failed int, err error)
}

// Locker serializes runs that write the same model's matches.
type Locker interface {
	WithLease(ctx context.Context, key string, opts leaselock.Options, fn func(ctx context.Context) error) error
}

// RunRecorder persists a summary of every finished run.
type RunRecorder interface {
	RecordRun(ctx context.Context, summary RunSummary) error
}

// Params configures one run. Thresholds are per call; nothing is global.
type Params struct {
	TopK         int                 `json:"top_k"`
	Thresholds   coverage.Thresholds `json:"thresholds"`
	KeepExisting bool                `json:"keep_existing"`
	DryRun       bool                `json:"dry_run"`
}

func DefaultParams() Params {
	return Params{
		TopK:       DefaultTopK,
		Thresholds: coverage.DefaultThresholds(),
	}
}

func (p Params) Validate() error {
	if p.TopK <= 0 {
		return fmt.Errorf("%w: top_k must be positive, got %d", ErrInvalidParams, p.TopK)
	}
	if err := p.Thresholds.Validate(); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidParams, err)
	}
	return nil
}

// RunSummary reports one matcher run. Errors counts rows that could not be
// written; a run with Errors > 0 still succeeded for all other rows.
type RunSummary struct {
	RunID     string        `json:"run_id"`
	ModelID   int64         `json:"model_id"`
	Customers int           `json:"customers"`
	Platforms int           `json:"platforms"`
	Matched   int           `json:"matched"`
	Errors    int           `json:"errors"`
	DryRun    bool          `json:"dry_run"`
	Message   string        `json:"message,omitempty"`
	Duration  time.Duration `json:"duration"`
	Results   []Result      `json:"results,omitempty"`
}

type Matcher struct {
	repo      Repository
	locker    Locker
	leaseOpts leaselock.Options
	recorder  RunRecorder
}

type MatcherOption func(*Matcher)

// WithLocker serializes writing runs per model id.
func WithLocker(l Locker, opts leaselock.Options) MatcherOption {
	return func(m *Matcher) {
		m.locker = l
		m.leaseOpts = opts
	}
}

func WithRecorder(r RunRecorder) MatcherOption {
	return func(m *Matcher) {
		m.recorder = r
	}
}

func NewMatcher(repo Repository, opts ...MatcherOption) *Matcher {
	m := &Matcher{repo: repo}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		opt(m)
	}
	return m
}

// Run loads the customer and platform embeddings of the model, ranks them and
// writes the result set. Missing embeddings on either side are not an error;
// the summary then carries zero counts and a message.
func (m *Matcher) Run(ctx context.Context, modelID int64, params Params) (RunSummary, error) {
	if err := params.Validate(); err != nil {
		return RunSummary{}, err
	}

	runID, err := gonanoid.New()
	if err != nil {
		return RunSummary{}, err
	}

	start := time.Now()
	summary := RunSummary{RunID: runID, ModelID: modelID, DryRun: params.DryRun}

	run := func(ctx context.Context) error {
		return m.run(ctx, modelID, params, &summary)
	}
	if m.locker != nil && !params.DryRun {
		err = m.locker.WithLease(ctx, leaselock.MatchRunKey(modelID), m.leaseOpts, run)
	} else {
		err = run(ctx)
	}
	summary.Duration = time.Since(start)
	if err != nil {
		return summary, err
	}

	logger.Info(
		"[Match] Run finished",
		"run_id", summary.RunID,
		"model_id", modelID,
		"matched", summary.Matched,
		"errors", summary.Errors,
		"duration", summary.Duration,
	)

	if m.recorder != nil && !params.DryRun {
		if err := m.recorder.RecordRun(ctx, summary); err != nil {
			logger.Warn("[Match] Failed to record run", "run_id", summary.RunID, "err", err)
		}
	}
	return summary, nil
}

func (m *Matcher) run(ctx context.Context, modelID int64, params Params, summary *RunSummary) error {
	logger.Debug("[Match] Loading embeddings", "model_id", modelID)
	customers, err := m.repo.ListEmbeddingsByScope(ctx, modelID, common.ScopeCustomer)
	if err != nil {
		return fmt.Errorf("load customer embeddings: %w", err)
	}
	platforms, err := m.repo.ListEmbeddingsByScope(ctx, modelID, common.ScopePlatform)
	if err != nil {
		return fmt.Errorf("load platform embeddings: %w", err)
	}
	summary.Customers = len(customers)
	summary.Platforms = len(platforms)
	logger.Info("[Match] Embeddings loaded", "customer", len(customers), "platform", len(platforms))

	results := Rank(customers, platforms, params.TopK, params.Thresholds)
	if len(results) == 0 {
		summary.Message = "no embeddings found"
	}

	if params.DryRun {
		summary.Results = results
		for _, r := range results {
			logger.Debug(
				"[Match][DryRun]",
				"customer", r.CustomerReqID,
				"rank", r.Rank,
				"platform", r.PlatformReqID,
				"similarity", fmt.Sprintf("%.3f", r.Similarity),
				"classification", r.Classification,
			)
		}
		return nil
	}

	var inserted, failed int
	if params.KeepExisting {
		if len(results) == 0 {
			return nil
		}
		inserted, failed, err = m.repo.InsertMatches(ctx, modelID, results)
	} else {
		inserted, failed, err = m.repo.ReplaceMatches(ctx, modelID, results)
	}
	if err != nil {
		return fmt.Errorf("write matches: %w", err)
	}
	summary.Matched = inserted
	summary.Errors = failed
	return nil
}
