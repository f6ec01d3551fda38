package store

import (
	"context"

	"github.com/OFFIS-RIT/reqtrace/pkg/common"
	"github.com/OFFIS-RIT/reqtrace/pkg/coverage"
	"github.com/OFFIS-RIT/reqtrace/pkg/match"
)

// CandidateFilter selects nodes for the embedding pipeline. An empty Scope
// selects every scope; OnlyMissing skips nodes that already have an embedding
// under the model; Limit <= 0 means no limit.
type CandidateFilter struct {
	Scope       common.Scope
	OnlyMissing bool
	Limit       int
}

// RunRecord is one row of the agent_runs table.
type RunRecord struct {
	RunID      string
	Agent      string
	ModelID    int64
	Processed  int
	Errors     int
	DurationMs int64
	Message    string
}

// Repository is everything the traceability backend persists. It is the
// union of the narrow interfaces the matcher, trace builder and embedding
// pipeline depend on.
type Repository interface {
	EnsureModel(ctx context.Context, name string, dims int, provider string) (int64, error)
	ListModels(ctx context.Context) ([]common.EmbeddingModel, error)
	GetModel(ctx context.Context, id int64) (*common.EmbeddingModel, error)

	ListEmbeddingCandidates(ctx context.Context, modelID int64, filter CandidateFilter) ([]common.EmbeddingCandidate, error)
	UpsertEmbedding(ctx context.Context, e common.Embedding) error
	ListEmbeddingsByScope(ctx context.Context, modelID int64, scope common.Scope) ([]common.Embedding, error)

	ReplaceMatches(ctx context.Context, modelID int64, results []match.Result) (int, int, error)
	InsertMatches(ctx context.Context, modelID int64, results []match.Result) (int, int, error)
	ListCoverageRows(ctx context.Context, modelID int64) ([]coverage.Row, error)
	ListMatches(ctx context.Context, modelID int64, customerReqID string) ([]match.Result, error)
	BestMatch(ctx context.Context, modelID int64, customerReqID, platformReqID string) (*match.Result, error)

	FindNodeByReqID(ctx context.Context, scope common.Scope, reqID string) (*common.Node, error)
	ListOutboundTargets(ctx context.Context, sourceID string) ([]string, error)
	GetNodesByIDs(ctx context.Context, ids []string) ([]common.Node, error)

	RecordRun(ctx context.Context, r RunRecord) error
}
