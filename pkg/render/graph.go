package render

import (
	"context"
	"fmt"

	"github.com/OFFIS-RIT/reqtrace/pkg/coverage"
	"github.com/OFFIS-RIT/reqtrace/pkg/match"
	"github.com/OFFIS-RIT/reqtrace/pkg/trace"
)

type TraceBuilder interface {
	Build(ctx context.Context, customerReqID, platformReqID string) (*trace.Trace, error)
}

// MatchLookup returns the stored match of a pair, or nil.
type MatchLookup interface {
	BestMatch(ctx context.Context, modelID int64, customerReqID, platformReqID string) (*match.Result, error)
}

type Layouter interface {
	Render(ctx context.Context, dot []byte, format Format) ([]byte, error)
}

// GraphRequest selects the trace to draw. ModelID <= 0 draws the customer and
// platform nodes without coverage information.
type GraphRequest struct {
	ModelID       int64
	CustomerReqID string
	PlatformReqID string
	Format        Format
}

// Graph builds a trace, colors it with the stored classification of the pair
// and lays it out.
type Graph struct {
	Traces  TraceBuilder
	Matches MatchLookup
	Layout  Layouter
}

func (g *Graph) Render(ctx context.Context, req GraphRequest) ([]byte, error) {
	t, err := g.Traces.Build(ctx, req.CustomerReqID, req.PlatformReqID)
	if err != nil {
		return nil, err
	}

	classification := coverage.Gray
	if req.ModelID > 0 && g.Matches != nil {
		best, err := g.Matches.BestMatch(ctx, req.ModelID, req.CustomerReqID, req.PlatformReqID)
		if err != nil {
			return nil, fmt.Errorf("failed to load match: %w", err)
		}
		if best != nil {
			classification = best.Classification
		}
	}

	dot := DOT(t, classification)
	if req.Format == FormatDOT || g.Layout == nil {
		return []byte(dot), nil
	}
	return g.Layout.Render(ctx, []byte(dot), req.Format)
}
