package pgx

import (
	"context"

	"github.com/OFFIS-RIT/reqtrace/internal/util"
	"github.com/OFFIS-RIT/reqtrace/pkg/store"
)

const recordRunSQL = `
INSERT INTO agent_runs (run_id, agent, model_id, processed, errors, duration_ms, message)
VALUES ($1, $2, NULLIF($3::bigint, 0), $4, $5, $6, $7)
`

// RecordRun appends one row to agent_runs. A zero model id is stored as NULL.
func (s *GraphDBStorage) RecordRun(ctx context.Context, r store.RunRecord) error {
	_, err := s.conn.Exec(
		ctx, recordRunSQL,
		r.RunID, r.Agent, r.ModelID, r.Processed, r.Errors, r.DurationMs,
		util.TruncateRunes(util.SanitizePostgresText(r.Message), util.MaxRunMessageLen),
	)
	return err
}
