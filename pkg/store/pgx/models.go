package pgx

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/OFFIS-RIT/reqtrace/pkg/common"

	pgxv5 "github.com/jackc/pgx/v5"
)

const ensureModelSQL = `
INSERT INTO embedding_models (name, dims, provider)
VALUES ($1, $2, $3)
ON CONFLICT (name, dims, provider) DO UPDATE SET name = EXCLUDED.name
RETURNING id
`

// EnsureModel returns the id of the (name, dims, provider) model and creates
// it on first use.
func (s *GraphDBStorage) EnsureModel(ctx context.Context, name string, dims int, provider string) (int64, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return 0, fmt.Errorf("model name is empty")
	}
	if dims <= 0 {
		return 0, fmt.Errorf("model dimensions must be positive, got %d", dims)
	}

	var id int64
	if err := s.conn.QueryRow(ctx, ensureModelSQL, name, dims, provider).Scan(&id); err != nil {
		return 0, err
	}
	return id, nil
}

const listModelsSQL = `
SELECT id, name, dims, provider
FROM embedding_models
ORDER BY id
`

func (s *GraphDBStorage) ListModels(ctx context.Context) ([]common.EmbeddingModel, error) {
	rows, err := s.conn.Query(ctx, listModelsSQL)
	if err != nil {
		return nil, err
	}
	return pgxv5.CollectRows(rows, func(row pgxv5.CollectableRow) (common.EmbeddingModel, error) {
		var m common.EmbeddingModel
		err := row.Scan(&m.ID, &m.Name, &m.Dims, &m.Provider)
		return m, err
	})
}

const getModelSQL = `
SELECT id, name, dims, provider
FROM embedding_models
WHERE id = $1
`

// GetModel returns nil when no model has the id.
func (s *GraphDBStorage) GetModel(ctx context.Context, id int64) (*common.EmbeddingModel, error) {
	var m common.EmbeddingModel
	err := s.conn.QueryRow(ctx, getModelSQL, id).Scan(&m.ID, &m.Name, &m.Dims, &m.Provider)
	if err != nil {
		if errors.Is(err, pgxv5.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &m, nil
}
