package pgx

import (
	"context"

	"github.com/OFFIS-RIT/reqtrace/pkg/common"
	"github.com/OFFIS-RIT/reqtrace/pkg/store"

	pgxv5 "github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

type pgxIConn interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, optionsAndArgs ...any) (pgxv5.Rows, error)
	QueryRow(ctx context.Context, sql string, optionsAndArgs ...any) pgxv5.Row
	Begin(ctx context.Context) (pgxv5.Tx, error)
}

// GraphDBStorage implements store.Repository on PostgreSQL with pgvector.
// The pool must have the pgvector types registered.
type GraphDBStorage struct {
	conn        pgxIConn
	insertBatch int
}

var _ store.Repository = (*GraphDBStorage)(nil)

type GraphDBStorageOption func(*GraphDBStorage)

// WithInsertBatch sets how many match rows are written per round trip
// before falling back to row-by-row savepoints.
func WithInsertBatch(n int) GraphDBStorageOption {
	return func(s *GraphDBStorage) {
		if n > 0 {
			s.insertBatch = n
		}
	}
}

// NewGraphDBStorageWithConnection creates a new GraphDBStorage using an existing
// database connection or pool.
func NewGraphDBStorageWithConnection(conn pgxIConn, opts ...GraphDBStorageOption) *GraphDBStorage {
	s := &GraphDBStorage{
		conn:        conn,
		insertBatch: 500,
	}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		opt(s)
	}
	return s
}

// scopeNames lists the stored spellings of a scope.
func scopeNames(scope common.Scope) []string {
	if scope == common.ScopeArchitecture {
		return []string{string(common.ScopeArchitecture), "arch"}
	}
	return []string{string(scope)}
}
