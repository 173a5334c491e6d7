// Package distlock provides the cross-host mutual exclusion used by the
// day advancer and score sweep: Redis when configured, otherwise
// Postgres advisory locks on the shared database.
package distlock

import (
	"context"
	"database/sql"
	"hash/fnv"
	"time"

	"github.com/redis/go-redis/v9"
)

// Lock is a non-blocking distributed lock. A Lock instance belongs to
// one goroutine; concurrent holders need separate instances.
type Lock interface {
	// TryAcquire attempts the lock without blocking and reports success.
	TryAcquire(ctx context.Context) (bool, error)
	// Release frees the lock if this instance still owns it.
	Release(ctx context.Context) error
}

// New picks the best available backend: Redis when a client is
// configured, otherwise a Postgres advisory lock. Both are crash-safe;
// Redis via TTL expiry, Postgres via session scoping.
func New(rdb *redis.Client, db *sql.DB, key string, ttl time.Duration) Lock {
	if rdb != nil {
		return NewRedisLock(rdb, key, ttl)
	}
	return NewAdvisoryLock(db, key)
}

// AdvisoryLock implements Lock on pg_try_advisory_lock. The key string
// is hashed to the bigint lock id Postgres expects. Advisory locks are
// session-scoped, so the lock pins one pooled connection from acquire
// to release; letting acquire and release land on different connections
// would leave the lock held by an idle session.
type AdvisoryLock struct {
	db     *sql.DB
	conn   *sql.Conn
	lockID int64
}

// NewAdvisoryLock builds an advisory lock for key.
func NewAdvisoryLock(db *sql.DB, key string) *AdvisoryLock {
	h := fnv.New64a()
	h.Write([]byte(key))
	return &AdvisoryLock{db: db, lockID: int64(h.Sum64())}
}

// TryAcquire takes a dedicated connection and attempts the advisory lock
// on it without blocking. The connection is held until Release.
func (l *AdvisoryLock) TryAcquire(ctx context.Context) (bool, error) {
	conn, err := l.db.Conn(ctx)
	if err != nil {
		return false, err
	}
	var ok bool
	if err := conn.QueryRowContext(ctx, "SELECT pg_try_advisory_lock($1)", l.lockID).Scan(&ok); err != nil {
		conn.Close()
		return false, err
	}
	if !ok {
		conn.Close()
		return false, nil
	}
	l.conn = conn
	return true, nil
}

// Release frees the advisory lock on its session and returns the
// connection to the pool.
func (l *AdvisoryLock) Release(ctx context.Context) error {
	if l.conn == nil {
		return nil
	}
	_, err := l.conn.ExecContext(ctx, "SELECT pg_advisory_unlock($1)", l.lockID)
	l.conn.Close()
	l.conn = nil
	return err
}
