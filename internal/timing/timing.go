// Package timing persists statistics of finished embedding and matching runs
// in the agent_runs table.
package timing

import (
	"context"
	"fmt"
	"time"

	"github.com/OFFIS-RIT/reqtrace/pkg/embed"
	"github.com/OFFIS-RIT/reqtrace/pkg/match"
	"github.com/OFFIS-RIT/reqtrace/pkg/store"

	gonanoid "github.com/matoous/go-nanoid/v2"
)

const (
	AgentMatching  = "matching_agent"
	AgentEmbedding = "embedding_agent"
)

type RunStore interface {
	RecordRun(ctx context.Context, r store.RunRecord) error
}

// MatchRecorder stores matcher run summaries. It satisfies match.RunRecorder.
type MatchRecorder struct {
	store RunStore
}

func NewMatchRecorder(s RunStore) *MatchRecorder {
	return &MatchRecorder{store: s}
}

func (r *MatchRecorder) RecordRun(ctx context.Context, summary match.RunSummary) error {
	return r.store.RecordRun(ctx, MatchRecord(summary))
}

func MatchRecord(summary match.RunSummary) store.RunRecord {
	msg := summary.Message
	if msg == "" {
		msg = fmt.Sprintf("customers=%d platforms=%d", summary.Customers, summary.Platforms)
	}
	return store.RunRecord{
		RunID:      summary.RunID,
		Agent:      AgentMatching,
		ModelID:    summary.ModelID,
		Processed:  summary.Matched,
		Errors:     summary.Errors,
		DurationMs: summary.Duration.Milliseconds(),
		Message:    msg,
	}
}

// RecordEmbedRun stores the outcome of one embedding pipeline run.
func RecordEmbedRun(ctx context.Context, s RunStore, modelID int64, stats embed.Stats) error {
	runID, err := gonanoid.New()
	if err != nil {
		return err
	}
	return s.RecordRun(ctx, store.RunRecord{
		RunID:      runID,
		Agent:      AgentEmbedding,
		ModelID:    modelID,
		Processed:  stats.Embedded,
		Errors:     stats.Errors,
		DurationMs: stats.Duration.Milliseconds(),
		Message:    fmt.Sprintf("skipped=%d", stats.Skipped),
	})
}

// FormatDuration renders d as hh:mm:ss.
func FormatDuration(d time.Duration) string {
	hours := int(d.Hours())
	minutes := int(d.Minutes()) % 60
	seconds := int(d.Seconds()) % 60
	return fmt.Sprintf("%02d:%02d:%02d", hours, minutes, seconds)
}
