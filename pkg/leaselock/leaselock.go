// Package leaselock implements expiring, renewable locks stored in the
// app_locks table. Workers and API-triggered runs use it so that at most one
// matcher run replaces the matches of a model id at a time.
package leaselock

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/OFFIS-RIT/reqtrace/internal/util"
	"github.com/OFFIS-RIT/reqtrace/pkg/logger"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	gonanoid "github.com/matoous/go-nanoid/v2"
)

var (
	ErrBusy = errors.New("lease lock busy")
	ErrLost = errors.New("lease lock lost")
)

const (
	defaultTTL       = 5 * time.Minute
	defaultPoll      = time.Second
	renewAttempts    = 3
	renewBackoff     = 200 * time.Millisecond
	renewCallTimeout = 15 * time.Second
)

type dbConn interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

type Client struct {
	db dbConn
}

// Options controls how a lease is taken and kept.
//
// Without Wait a held key fails fast with ErrBusy. With Wait the key is
// polled every PollInterval (plus up to half of it as jitter) until it frees
// up, ctx ends, or MaxWait passes (0 waits forever).
type Options struct {
	TTL        time.Duration
	RenewEvery time.Duration

	Wait         bool
	MaxWait      time.Duration
	PollInterval time.Duration

	// Owner is prepended to the lease token so app_locks shows who holds a key.
	Owner string
}

func DefaultOptions() Options {
	return Options{
		TTL:          defaultTTL,
		Wait:         true,
		PollInterval: defaultPoll,
	}
}

func (o Options) withDefaults() Options {
	if o.TTL < time.Millisecond {
		o.TTL = defaultTTL
	}
	if o.RenewEvery <= 0 || o.RenewEvery >= o.TTL {
		o.RenewEvery = max(o.TTL/2, time.Second)
	}
	if o.PollInterval <= 0 {
		o.PollInterval = 250 * time.Millisecond
	}
	return o
}

type Lease struct {
	Key   string
	Token string

	// Context is canceled with ErrLost as cause when renewal fails.
	Context context.Context

	db     dbConn
	cancel context.CancelCauseFunc
	once   sync.Once
	done   chan struct{}
}

// New accepts a *pgxpool.Pool or any connection with the same Exec/QueryRow methods.
func New(db dbConn) *Client {
	return &Client{db: db}
}

// MatchRunKey is the lock key guarding the match set of one model.
func MatchRunKey(modelID int64) string {
	return fmt.Sprintf("match_run:%d", modelID)
}

// WithLease runs fn while holding key. The context passed to fn is canceled
// when the lease is lost, and the returned error then wraps ErrLost.
func (c *Client) WithLease(ctx context.Context, key string, opts Options, fn func(ctx context.Context) error) error {
	lease, err := c.Acquire(ctx, key, opts)
	if err != nil {
		return err
	}
	defer lease.Release(context.WithoutCancel(ctx))

	err = fn(lease.Context)
	if err != nil && errors.Is(context.Cause(lease.Context), ErrLost) {
		return fmt.Errorf("%w: %w", ErrLost, err)
	}
	return err
}

func (c *Client) Acquire(ctx context.Context, key string, opts Options) (*Lease, error) {
	if key == "" {
		return nil, errors.New("lease lock key is empty")
	}
	opts = opts.withDefaults()

	id, err := gonanoid.New()
	if err != nil {
		return nil, err
	}
	token := id
	if opts.Owner != "" {
		token = opts.Owner + ":" + id
	}
	ttlMs := opts.TTL.Milliseconds()

	var deadline time.Time
	if opts.MaxWait > 0 {
		deadline = time.Now().Add(opts.MaxWait)
	}
	for {
		ok, err := c.tryAcquire(ctx, key, token, ttlMs)
		if err != nil {
			return nil, fmt.Errorf("acquire %s: %w", key, err)
		}
		if ok {
			break
		}
		if !opts.Wait || (!deadline.IsZero() && time.Now().After(deadline)) {
			return nil, ErrBusy
		}
		if err := pause(ctx, opts.PollInterval); err != nil {
			return nil, err
		}
	}

	leaseCtx, cancel := context.WithCancelCause(ctx)
	l := &Lease{
		Key:     key,
		Token:   token,
		Context: leaseCtx,
		db:      c.db,
		cancel:  cancel,
		done:    make(chan struct{}),
	}
	go l.keepAlive(opts.RenewEvery, ttlMs)
	return l, nil
}

func (c *Client) tryAcquire(ctx context.Context, key, token string, ttlMs int64) (bool, error) {
	var got string
	err := c.db.QueryRow(ctx, acquireSQL, key, token, ttlMs).Scan(&got)
	if errors.Is(err, pgx.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return got == key, nil
}

// Release stops renewal and deletes the row if this lease still owns it.
// It is safe to call more than once.
func (l *Lease) Release(ctx context.Context) error {
	l.once.Do(func() {
		close(l.done)
		l.cancel(context.Canceled)
	})
	_, err := l.db.Exec(ctx, releaseSQL, l.Key, l.Token)
	return err
}

func (l *Lease) keepAlive(every time.Duration, ttlMs int64) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()

	for {
		select {
		case <-l.done:
			return
		case <-l.Context.Done():
			return
		case <-ticker.C:
		}

		err := util.RetryErrWithContext(l.Context, renewAttempts, renewBackoff, func(ctx context.Context) error {
			callCtx, cancel := context.WithTimeout(ctx, renewCallTimeout)
			defer cancel()
			var got string
			return l.db.QueryRow(callCtx, extendSQL, l.Key, l.Token, ttlMs).Scan(&got)
		})
		if err == nil {
			continue
		}
		if l.Context.Err() != nil {
			return
		}
		logger.Warn("[Lease] Lost lease", "key", l.Key, "err", err)
		l.cancel(ErrLost)
		return
	}
}

func pause(ctx context.Context, base time.Duration) error {
	d := base + time.Duration(rand.Int64N(int64(base/2)+1))
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// acquireSQL takes the key when it is free, expired, or already ours.
const acquireSQL = `
INSERT INTO app_locks (lock_key, locked_by, expires_at)
VALUES ($1, $2, now() + ($3::bigint * interval '1 millisecond'))
ON CONFLICT (lock_key) DO UPDATE
SET locked_by = EXCLUDED.locked_by, expires_at = EXCLUDED.expires_at
WHERE app_locks.expires_at < now() OR app_locks.locked_by = EXCLUDED.locked_by
RETURNING lock_key`

const extendSQL = `
UPDATE app_locks
SET expires_at = now() + ($3::bigint * interval '1 millisecond')
WHERE lock_key = $1 AND locked_by = $2
RETURNING lock_key`

const releaseSQL = `DELETE FROM app_locks WHERE lock_key = $1 AND locked_by = $2`
