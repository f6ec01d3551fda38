package pgx

import (
	"context"
	"errors"
	"reflect"
	"testing"

	"github.com/OFFIS-RIT/reqtrace/pkg/common"
	"github.com/OFFIS-RIT/reqtrace/pkg/coverage"
	"github.com/OFFIS-RIT/reqtrace/pkg/match"

	pgxv5 "github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

type fakeMatchDB struct {
	rows        [][]any
	badPlatform string
	begins      int
}

func (db *fakeMatchDB) Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error) {
	return pgconn.CommandTag{}, errors.New("unexpected exec outside transaction")
}

func (db *fakeMatchDB) Query(ctx context.Context, sql string, optionsAndArgs ...any) (pgxv5.Rows, error) {
	return nil, errors.New("unexpected query")
}

func (db *fakeMatchDB) QueryRow(ctx context.Context, sql string, optionsAndArgs ...any) pgxv5.Row {
	return nil
}

func (db *fakeMatchDB) Begin(ctx context.Context) (pgxv5.Tx, error) {
	db.begins++
	return &fakeTx{db: db}, nil
}

// fakeTx models a transaction or savepoint: rows become visible to the parent
// on Commit and are dropped on Rollback.
type fakeTx struct {
	pgxv5.Tx
	db      *fakeMatchDB
	parent  *fakeTx
	rows    [][]any
	deleted bool
	done    bool
}

func (t *fakeTx) Begin(ctx context.Context) (pgxv5.Tx, error) {
	return &fakeTx{db: t.db, parent: t}, nil
}

func (t *fakeTx) Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	switch sql {
	case deleteMatchesSQL:
		t.deleted = true
		return pgconn.NewCommandTag("DELETE 1"), nil
	case insertMatchSQL:
		if args[2] == t.db.badPlatform {
			return pgconn.CommandTag{}, errors.New("insert or update on table \"matches\" violates foreign key constraint")
		}
		t.rows = append(t.rows, args)
		return pgconn.NewCommandTag("INSERT 0 1"), nil
	}
	return pgconn.CommandTag{}, errors.New("unexpected sql")
}

func (t *fakeTx) SendBatch(ctx context.Context, b *pgxv5.Batch) pgxv5.BatchResults {
	var err error
	for _, q := range b.QueuedQueries {
		if _, e := t.Exec(ctx, q.SQL, q.Arguments...); e != nil && err == nil {
			err = e
		}
	}
	return fakeBatchResults{err: err}
}

func (t *fakeTx) Commit(ctx context.Context) error {
	if t.done {
		return pgxv5.ErrTxClosed
	}
	t.done = true
	if t.parent != nil {
		t.parent.rows = append(t.parent.rows, t.rows...)
		t.parent.deleted = t.parent.deleted || t.deleted
		return nil
	}
	if t.deleted {
		t.db.rows = nil
	}
	t.db.rows = append(t.db.rows, t.rows...)
	return nil
}

func (t *fakeTx) Rollback(ctx context.Context) error {
	if t.done {
		return pgxv5.ErrTxClosed
	}
	t.done = true
	return nil
}

type fakeBatchResults struct {
	pgxv5.BatchResults
	err error
}

func (r fakeBatchResults) Close() error {
	return r.err
}

func results(platforms ...string) []match.Result {
	out := make([]match.Result, len(platforms))
	for i, p := range platforms {
		out[i] = match.Result{
			CustomerID:     "c1",
			CustomerReqID:  "CR-1",
			PlatformID:     p,
			PlatformReqID:  "PR-" + p,
			Similarity:     0.9,
			Rank:           i + 1,
			Classification: coverage.Green,
		}
	}
	return out
}

func platformsOf(rows [][]any) []string {
	out := make([]string, len(rows))
	for i, r := range rows {
		out[i] = r[2].(string)
	}
	return out
}

func TestReplaceMatches_IsolatesBadRows(t *testing.T) {
	db := &fakeMatchDB{
		rows:        [][]any{{int64(1), "old", "stale", 0.1, 1, "RED"}},
		badPlatform: "p2",
	}
	s := NewGraphDBStorageWithConnection(db, WithInsertBatch(2))

	inserted, failed, err := s.ReplaceMatches(context.Background(), 1, results("p1", "p2", "p3"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if inserted != 2 || failed != 1 {
		t.Fatalf("expected inserted=2 failed=1, got %d/%d", inserted, failed)
	}
	if got := platformsOf(db.rows); !reflect.DeepEqual(got, []string{"p1", "p3"}) {
		t.Fatalf("expected [p1 p3] after replace, got %v", got)
	}
	if db.begins != 1 {
		t.Fatalf("expected a single transaction, got %d", db.begins)
	}
}

func TestReplaceMatches_EmptyClears(t *testing.T) {
	db := &fakeMatchDB{rows: [][]any{{int64(1), "old", "stale", 0.1, 1, "RED"}}}
	s := NewGraphDBStorageWithConnection(db)

	inserted, failed, err := s.ReplaceMatches(context.Background(), 1, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if inserted != 0 || failed != 0 || len(db.rows) != 0 {
		t.Fatalf("expected cleared matches, got %d/%d rows=%v", inserted, failed, db.rows)
	}
}

func TestInsertMatches_KeepsExisting(t *testing.T) {
	db := &fakeMatchDB{rows: [][]any{{int64(1), "old", "stale", 0.1, 1, "RED"}}}
	s := NewGraphDBStorageWithConnection(db)

	inserted, _, err := s.InsertMatches(context.Background(), 1, results("p1"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if inserted != 1 || len(db.rows) != 2 {
		t.Fatalf("expected appended row, got inserted=%d rows=%d", inserted, len(db.rows))
	}
}

func TestScopeNames(t *testing.T) {
	if got := scopeNames(common.ScopeArchitecture); !reflect.DeepEqual(got, []string{"architecture", "arch"}) {
		t.Fatalf("unexpected architecture names %v", got)
	}
	if got := scopeNames(common.ScopeCustomer); !reflect.DeepEqual(got, []string{"customer"}) {
		t.Fatalf("unexpected customer names %v", got)
	}
	if got := normalizeScope("ARCH"); got != common.ScopeArchitecture {
		t.Fatalf("expected architecture, got %q", got)
	}
}
