package leaselock

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

type fakeRow struct {
	key string
	err error
}

func (r fakeRow) Scan(dest ...any) error {
	if r.err != nil {
		return r.err
	}
	*(dest[0].(*string)) = r.key
	return nil
}

type fakeLocks struct {
	mu      sync.Mutex
	holders map[string]string
}

func newFakeLocks() *fakeLocks {
	return &fakeLocks{holders: map[string]string{}}
}

func (f *fakeLocks) QueryRow(ctx context.Context, sql string, args ...any) pgx.Row {
	f.mu.Lock()
	defer f.mu.Unlock()

	key := args[0].(string)
	token := args[1].(string)
	switch sql {
	case acquireSQL:
		if holder, ok := f.holders[key]; ok && holder != token {
			return fakeRow{err: pgx.ErrNoRows}
		}
		f.holders[key] = token
		return fakeRow{key: key}
	case extendSQL:
		if f.holders[key] != token {
			return fakeRow{err: pgx.ErrNoRows}
		}
		return fakeRow{key: key}
	}
	return fakeRow{err: errors.New("unexpected query")}
}

func (f *fakeLocks) Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if sql == releaseSQL {
		key := args[0].(string)
		if f.holders[key] == args[1].(string) {
			delete(f.holders, key)
			return pgconn.NewCommandTag("DELETE 1"), nil
		}
		return pgconn.NewCommandTag("DELETE 0"), nil
	}
	return pgconn.NewCommandTag(""), errors.New("unexpected exec")
}

func TestAcquire_BusyWithoutWait(t *testing.T) {
	c := New(newFakeLocks())
	ctx := context.Background()

	lease, err := c.Acquire(ctx, MatchRunKey(1), Options{TTL: time.Minute})
	if err != nil {
		t.Fatalf("expected first acquire to succeed, got %v", err)
	}

	_, err = c.Acquire(ctx, MatchRunKey(1), Options{TTL: time.Minute})
	if !errors.Is(err, ErrBusy) {
		t.Fatalf("expected ErrBusy, got %v", err)
	}

	if err := lease.Release(ctx); err != nil {
		t.Fatalf("release failed: %v", err)
	}

	again, err := c.Acquire(ctx, MatchRunKey(1), Options{TTL: time.Minute})
	if err != nil {
		t.Fatalf("expected acquire after release to succeed, got %v", err)
	}
	_ = again.Release(ctx)
}

func TestAcquire_DifferentKeysDoNotConflict(t *testing.T) {
	c := New(newFakeLocks())
	ctx := context.Background()

	a, err := c.Acquire(ctx, MatchRunKey(1), Options{})
	if err != nil {
		t.Fatalf("acquire model 1: %v", err)
	}
	defer a.Release(ctx)

	b, err := c.Acquire(ctx, MatchRunKey(2), Options{})
	if err != nil {
		t.Fatalf("acquire model 2: %v", err)
	}
	defer b.Release(ctx)
}

func TestWithLease_RunsFnAndReleases(t *testing.T) {
	locks := newFakeLocks()
	c := New(locks)

	called := false
	err := c.WithLease(context.Background(), "k", Options{}, func(ctx context.Context) error {
		called = true
		if ctx.Err() != nil {
			t.Fatalf("lease context should be live inside fn")
		}
		return nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !called {
		t.Fatal("fn was not called")
	}
	if len(locks.holders) != 0 {
		t.Fatalf("expected lock to be released, still held: %v", locks.holders)
	}
}

func TestAcquire_EmptyKey(t *testing.T) {
	if _, err := New(newFakeLocks()).Acquire(context.Background(), "", Options{}); err == nil {
		t.Fatal("expected error for empty key")
	}
}

func TestMatchRunKey(t *testing.T) {
	if got := MatchRunKey(42); got != "match_run:42" {
		t.Fatalf("unexpected key %q", got)
	}
}

func TestAcquire_WaitGivesUpAfterMaxWait(t *testing.T) {
	c := New(newFakeLocks())
	ctx := context.Background()

	held, err := c.Acquire(ctx, MatchRunKey(7), Options{})
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}
	defer held.Release(ctx)

	start := time.Now()
	_, err = c.Acquire(ctx, MatchRunKey(7), Options{Wait: true, MaxWait: 30 * time.Millisecond, PollInterval: 10 * time.Millisecond})
	if !errors.Is(err, ErrBusy) {
		t.Fatalf("expected ErrBusy after waiting, got %v", err)
	}
	if time.Since(start) < 30*time.Millisecond {
		t.Fatalf("gave up before MaxWait")
	}
}

func TestAcquire_WaitHonoursContext(t *testing.T) {
	c := New(newFakeLocks())
	held, err := c.Acquire(context.Background(), "k", Options{})
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}
	defer held.Release(context.Background())

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = c.Acquire(ctx, "k", Options{Wait: true, PollInterval: 5 * time.Millisecond})
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline exceeded, got %v", err)
	}
}

func TestAcquire_OwnerPrefixesToken(t *testing.T) {
	lease, err := New(newFakeLocks()).Acquire(context.Background(), "k", Options{Owner: "worker-1"})
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}
	defer lease.Release(context.Background())
	if !strings.HasPrefix(lease.Token, "worker-1:") {
		t.Fatalf("expected owner prefix, got %q", lease.Token)
	}
}

func TestLease_LostWhenRowTakenOver(t *testing.T) {
	locks := newFakeLocks()
	c := New(locks)

	err := c.WithLease(context.Background(), "k", Options{TTL: 2 * time.Second, RenewEvery: time.Second}, func(ctx context.Context) error {
		locks.mu.Lock()
		locks.holders["k"] = "someone-else"
		locks.mu.Unlock()
		<-ctx.Done()
		return ctx.Err()
	})
	if !errors.Is(err, ErrLost) {
		t.Fatalf("expected ErrLost, got %v", err)
	}
}
