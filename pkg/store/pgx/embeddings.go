package pgx

import (
	"context"
	"fmt"
	"strings"

	"github.com/OFFIS-RIT/reqtrace/pkg/common"
	"github.com/OFFIS-RIT/reqtrace/pkg/store"

	pgxv5 "github.com/jackc/pgx/v5"
	"github.com/pgvector/pgvector-go"
)

// ListEmbeddingCandidates returns the nodes the embedding pipeline should look
// at, together with the hash of their current embedding, if any.
func (s *GraphDBStorage) ListEmbeddingCandidates(
	ctx context.Context,
	modelID int64,
	filter store.CandidateFilter,
) ([]common.EmbeddingCandidate, error) {
	var (
		sb   strings.Builder
		args = []any{modelID}
	)
	sb.WriteString(`
SELECT n.id::text, n.scope, n.type, n.req_id, n.content, COALESCE(e.content_hash, '')
FROM nodes n
LEFT JOIN embeddings e ON e.node_id = n.id AND e.model_id = $1
WHERE 1 = 1`)
	if filter.Scope != "" {
		args = append(args, scopeNames(filter.Scope))
		fmt.Fprintf(&sb, "\n  AND lower(n.scope) = ANY($%d::text[])", len(args))
	}
	if filter.OnlyMissing {
		sb.WriteString("\n  AND e.node_id IS NULL")
	}
	sb.WriteString("\nORDER BY n.created_at, n.id")
	if filter.Limit > 0 {
		args = append(args, filter.Limit)
		fmt.Fprintf(&sb, "\nLIMIT $%d", len(args))
	}

	rows, err := s.conn.Query(ctx, sb.String(), args...)
	if err != nil {
		return nil, err
	}
	return pgxv5.CollectRows(rows, func(row pgxv5.CollectableRow) (common.EmbeddingCandidate, error) {
		var (
			c        common.EmbeddingCandidate
			rawScope string
		)
		err := row.Scan(&c.Node.ID, &rawScope, &c.Node.Type, &c.Node.ReqID, &c.Node.Content, &c.ExistingHash)
		c.Node.Scope = normalizeScope(rawScope)
		return c, err
	})
}

const upsertEmbeddingSQL = `
INSERT INTO embeddings (node_id, model_id, content_hash, embedding)
VALUES ($1::uuid, $2, $3, $4)
ON CONFLICT (node_id, model_id) DO UPDATE
SET content_hash = EXCLUDED.content_hash,
    embedding    = EXCLUDED.embedding,
    updated_at   = now()
`

func (s *GraphDBStorage) UpsertEmbedding(ctx context.Context, e common.Embedding) error {
	if len(e.Vector) == 0 {
		return fmt.Errorf("embedding of node %s is empty", e.NodeID)
	}
	_, err := s.conn.Exec(ctx, upsertEmbeddingSQL, e.NodeID, e.ModelID, e.ContentHash, pgvector.NewVector(e.Vector))
	return err
}

const listEmbeddingsByScopeSQL = `
SELECT n.id::text, n.req_id, e.model_id, e.content_hash, e.embedding
FROM embeddings e
JOIN nodes n ON n.id = e.node_id
WHERE e.model_id = $1 AND lower(n.scope) = ANY($2::text[])
ORDER BY n.id
`

// ListEmbeddingsByScope returns the embeddings of all nodes of one scope,
// ordered by node id so that ranking ties resolve the same way every run.
func (s *GraphDBStorage) ListEmbeddingsByScope(ctx context.Context, modelID int64, scope common.Scope) ([]common.Embedding, error) {
	rows, err := s.conn.Query(ctx, listEmbeddingsByScopeSQL, modelID, scopeNames(scope))
	if err != nil {
		return nil, err
	}
	return pgxv5.CollectRows(rows, func(row pgxv5.CollectableRow) (common.Embedding, error) {
		var (
			e   common.Embedding
			vec pgvector.Vector
		)
		if err := row.Scan(&e.NodeID, &e.ReqID, &e.ModelID, &e.ContentHash, &vec); err != nil {
			return e, err
		}
		e.Vector = vec.Slice()
		return e, nil
	})
}
