package pgx

import (
	"context"
	"errors"
	"fmt"

	"github.com/OFFIS-RIT/reqtrace/pkg/coverage"
	"github.com/OFFIS-RIT/reqtrace/pkg/logger"
	"github.com/OFFIS-RIT/reqtrace/pkg/match"
	"github.com/OFFIS-RIT/reqtrace/pkg/store"

	pgxv5 "github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
)

const deleteMatchesSQL = `DELETE FROM matches WHERE model_id = $1`

const insertMatchSQL = `
INSERT INTO matches (model_id, customer_id, platform_id, similarity, rank, classification)
VALUES ($1, $2::uuid, $3::uuid, $4, $5, $6)
`

// ReplaceMatches deletes every match of the model and inserts results in one
// transaction. Readers see either the old or the new match set.
func (s *GraphDBStorage) ReplaceMatches(ctx context.Context, modelID int64, results []match.Result) (int, int, error) {
	return s.writeMatches(ctx, modelID, results, true)
}

// InsertMatches appends results to the stored matches of the model.
func (s *GraphDBStorage) InsertMatches(ctx context.Context, modelID int64, results []match.Result) (int, int, error) {
	return s.writeMatches(ctx, modelID, results, false)
}

func (s *GraphDBStorage) writeMatches(ctx context.Context, modelID int64, results []match.Result, replace bool) (int, int, error) {
	tx, err := s.conn.Begin(ctx)
	if err != nil {
		return 0, 0, err
	}
	defer tx.Rollback(ctx)

	if replace {
		tag, err := tx.Exec(ctx, deleteMatchesSQL, modelID)
		if err != nil {
			return 0, 0, fmt.Errorf("delete matches: %w", err)
		}
		logger.Debug("[Store][Matches] Cleared", "model_id", modelID, "rows", tag.RowsAffected())
	}

	inserted, failed := 0, 0
	err = store.ChunkRange(len(results), s.insertBatch, func(start, end int) error {
		ok, bad, err := insertMatchChunk(ctx, tx, modelID, results[start:end])
		inserted += ok
		failed += bad
		return err
	})
	if err != nil {
		return 0, 0, err
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, 0, err
	}
	return inserted, failed, nil
}

// insertMatchChunk writes a chunk in one batch inside a savepoint. If the
// batch fails, the savepoint is rolled back and every row is retried inside
// its own savepoint so that only the bad rows are lost.
func insertMatchChunk(ctx context.Context, tx pgxv5.Tx, modelID int64, chunk []match.Result) (int, int, error) {
	sp, err := tx.Begin(ctx)
	if err != nil {
		return 0, 0, err
	}
	b := &pgxv5.Batch{}
	for _, r := range chunk {
		b.Queue(insertMatchSQL, matchArgs(modelID, r)...)
	}
	batchErr := sp.SendBatch(ctx, b).Close()
	if batchErr == nil {
		if err := sp.Commit(ctx); err != nil {
			return 0, 0, err
		}
		return len(chunk), 0, nil
	}
	if err := sp.Rollback(ctx); err != nil {
		return 0, 0, err
	}
	if ctx.Err() != nil {
		return 0, 0, ctx.Err()
	}

	inserted, failed := 0, 0
	for _, r := range chunk {
		rowSp, err := tx.Begin(ctx)
		if err != nil {
			return inserted, failed, err
		}
		if _, err := rowSp.Exec(ctx, insertMatchSQL, matchArgs(modelID, r)...); err != nil {
			logger.Error(
				"[Store][Matches] Failed to insert match",
				"customer", r.CustomerReqID,
				"platform", r.PlatformReqID,
				"rank", r.Rank,
				"err", err,
			)
			if rbErr := rowSp.Rollback(ctx); rbErr != nil {
				return inserted, failed, errors.Join(err, rbErr)
			}
			failed++
			continue
		}
		if err := rowSp.Commit(ctx); err != nil {
			return inserted, failed, err
		}
		inserted++
	}
	return inserted, failed, nil
}

func matchArgs(modelID int64, r match.Result) []any {
	return []any{modelID, r.CustomerID, r.PlatformID, r.Similarity, r.Rank, string(r.Classification)}
}

const listCoverageRowsSQL = `
SELECT m.customer_id::text, c.req_id, m.platform_id::text, p.req_id, m.similarity, m.rank, m.classification
FROM matches m
JOIN nodes c ON c.id = m.customer_id
JOIN nodes p ON p.id = m.platform_id
WHERE m.model_id = $1 AND m.rank = 1
ORDER BY c.req_id, m.customer_id
`

// ListCoverageRows returns the rank-1 match of every customer requirement.
func (s *GraphDBStorage) ListCoverageRows(ctx context.Context, modelID int64) ([]coverage.Row, error) {
	rows, err := s.conn.Query(ctx, listCoverageRowsSQL, modelID)
	if err != nil {
		return nil, err
	}
	return pgxv5.CollectRows(rows, func(row pgxv5.CollectableRow) (coverage.Row, error) {
		var (
			r     coverage.Row
			sim   pgtype.Float8
			class string
		)
		if err := row.Scan(&r.CustomerID, &r.CustomerReqID, &r.PlatformID, &r.PlatformReqID, &sim, &r.Rank, &class); err != nil {
			return r, err
		}
		if sim.Valid {
			v := sim.Float64
			r.Similarity = &v
		}
		r.Classification = coverage.ParseClassification(class)
		return r, nil
	})
}

const listMatchesSQL = `
SELECT m.customer_id::text, c.req_id, m.platform_id::text, p.req_id, COALESCE(m.similarity, 0), m.rank, m.classification
FROM matches m
JOIN nodes c ON c.id = m.customer_id
JOIN nodes p ON p.id = m.platform_id
WHERE m.model_id = $1 AND ($2 = '' OR c.req_id = $2)
ORDER BY c.req_id, m.customer_id, m.rank
`

// ListMatches returns all ranked matches of the model, optionally only those
// of one customer requirement.
func (s *GraphDBStorage) ListMatches(ctx context.Context, modelID int64, customerReqID string) ([]match.Result, error) {
	rows, err := s.conn.Query(ctx, listMatchesSQL, modelID, customerReqID)
	if err != nil {
		return nil, err
	}
	return pgxv5.CollectRows(rows, scanMatch)
}

const bestMatchSQL = `
SELECT m.customer_id::text, c.req_id, m.platform_id::text, p.req_id, COALESCE(m.similarity, 0), m.rank, m.classification
FROM matches m
JOIN nodes c ON c.id = m.customer_id
JOIN nodes p ON p.id = m.platform_id
WHERE m.model_id = $1 AND c.req_id = $2 AND p.req_id = $3
ORDER BY m.rank
LIMIT 1
`

// BestMatch returns the best-ranked stored match between two requirements, or
// nil when they were never matched.
func (s *GraphDBStorage) BestMatch(ctx context.Context, modelID int64, customerReqID, platformReqID string) (*match.Result, error) {
	rows, err := s.conn.Query(ctx, bestMatchSQL, modelID, customerReqID, platformReqID)
	if err != nil {
		return nil, err
	}
	r, err := pgxv5.CollectOneRow(rows, scanMatch)
	if err != nil {
		if errors.Is(err, pgxv5.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &r, nil
}

func scanMatch(row pgxv5.CollectableRow) (match.Result, error) {
	var (
		r     match.Result
		class string
	)
	err := row.Scan(&r.CustomerID, &r.CustomerReqID, &r.PlatformID, &r.PlatformReqID, &r.Similarity, &r.Rank, &class)
	r.Classification = coverage.ParseClassification(class)
	return r, err
}
