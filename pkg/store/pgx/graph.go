package pgx

import (
	"context"
	"errors"

	"github.com/OFFIS-RIT/reqtrace/pkg/common"
	"github.com/OFFIS-RIT/reqtrace/pkg/store"

	pgxv5 "github.com/jackc/pgx/v5"
)

const findNodeByReqIDSQL = `
SELECT id::text, scope, type, req_id, content
FROM nodes
WHERE lower(scope) = ANY($1::text[]) AND req_id = $2
ORDER BY created_at, id
LIMIT 1
`

// FindNodeByReqID returns the node with the given external id, or nil when
// there is none. Duplicates resolve to the oldest row.
func (s *GraphDBStorage) FindNodeByReqID(ctx context.Context, scope common.Scope, reqID string) (*common.Node, error) {
	var n common.Node
	var rawScope string
	err := s.conn.QueryRow(ctx, findNodeByReqIDSQL, scopeNames(scope), reqID).
		Scan(&n.ID, &rawScope, &n.Type, &n.ReqID, &n.Content)
	if err != nil {
		if errors.Is(err, pgxv5.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	n.Scope = normalizeScope(rawScope)
	return &n, nil
}

const listOutboundTargetsSQL = `
SELECT target_id::text
FROM links
WHERE source_id = $1::uuid
ORDER BY id
`

func (s *GraphDBStorage) ListOutboundTargets(ctx context.Context, sourceID string) ([]string, error) {
	rows, err := s.conn.Query(ctx, listOutboundTargetsSQL, sourceID)
	if err != nil {
		return nil, err
	}
	return pgxv5.CollectRows(rows, pgxv5.RowTo[string])
}

const getNodesByIDsSQL = `
SELECT id::text, scope, type, req_id, content
FROM nodes
WHERE id = ANY($1::uuid[])
`

func (s *GraphDBStorage) GetNodesByIDs(ctx context.Context, ids []string) ([]common.Node, error) {
	ids = store.DedupeStrings(ids)
	if len(ids) == 0 {
		return nil, nil
	}

	out := make([]common.Node, 0, len(ids))
	err := store.ChunkRange(len(ids), 1000, func(start, end int) error {
		rows, err := s.conn.Query(ctx, getNodesByIDsSQL, ids[start:end])
		if err != nil {
			return err
		}
		defer rows.Close()
		for rows.Next() {
			var n common.Node
			var rawScope string
			if err := rows.Scan(&n.ID, &rawScope, &n.Type, &n.ReqID, &n.Content); err != nil {
				return err
			}
			n.Scope = normalizeScope(rawScope)
			out = append(out, n)
		}
		return rows.Err()
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// normalizeScope maps stored spellings onto the known scopes and keeps
// anything else as stored.
func normalizeScope(raw string) common.Scope {
	scope, _ := common.ParseScope(raw)
	return scope
}
