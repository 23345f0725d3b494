// Package runlock keeps two processes from running the same (pass, zone,
// country, source environment, process) at once.
//
// The Postgres locker holds a session-scoped advisory lock on a dedicated
// connection for the whole run. If the connection dies, Postgres releases
// the lock server-side; the heartbeat ping only exists to notice that
// locally and cancel the lease's context.
package runlock

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"hash/fnv"
	"log/slog"
	"sync"
	"time"
)

var ErrLocked = errors.New("run lock held by another process")

// Lease is a held lock. Context is cancelled when the lock may have been
// lost. Release is idempotent.
type Lease interface {
	Context() context.Context
	Release()
}

// Key maps a lock name onto the advisory lock key space.
func Key(name string) int64 {
	h := fnv.New64a()
	h.Write([]byte(name))
	return int64(h.Sum64())
}

// PostgresLocker takes pg_try_advisory_lock on a dedicated connection.
type PostgresLocker struct {
	db                *sql.DB
	heartbeatInterval time.Duration
	logger            *slog.Logger
}

func NewPostgresLocker(db *sql.DB, heartbeatInterval time.Duration, logger *slog.Logger) *PostgresLocker {
	if heartbeatInterval <= 0 {
		heartbeatInterval = 10 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &PostgresLocker{db: db, heartbeatInterval: heartbeatInterval, logger: logger.With("component", "runlock")}
}

// Acquire does not wait. A held lock returns ErrLocked.
func (l *PostgresLocker) Acquire(ctx context.Context, name string) (Lease, error) {
	key := Key(name)

	// Advisory lock is session-scoped: must use a dedicated connection.
	conn, err := l.db.Conn(ctx)
	if err != nil {
		return nil, fmt.Errorf("runlock: dedicated connection: %w", err)
	}

	var acquired bool
	err = conn.QueryRowContext(ctx, "SELECT pg_try_advisory_lock($1)", key).Scan(&acquired)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("runlock: advisory lock query: %w", err)
	}
	if !acquired {
		conn.Close()
		return nil, fmt.Errorf("%w: %s", ErrLocked, name)
	}

	l.logger.Info("acquired run lock", "name", name, "key", key)

	leaseCtx, cancel := context.WithCancel(ctx)
	lease := &pgLease{
		ctx:    leaseCtx,
		cancel: cancel,
		conn:   conn,
		key:    key,
		name:   name,
		logger: l.logger,
		done:   make(chan struct{}),
	}
	go lease.heartbeat(l.heartbeatInterval)
	return lease, nil
}

type pgLease struct {
	ctx    context.Context
	cancel context.CancelFunc
	conn   *sql.Conn
	key    int64
	name   string
	logger *slog.Logger
	once   sync.Once
	done   chan struct{}
}

func (p *pgLease) Context() context.Context { return p.ctx }

// heartbeat pings the dedicated connection; it does NOT renew anything.
func (p *pgLease) heartbeat(interval time.Duration) {
	defer close(p.done)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-p.ctx.Done():
			return
		case <-ticker.C:
			if err := p.conn.PingContext(p.ctx); err != nil {
				if p.ctx.Err() != nil {
					return
				}
				p.logger.Error("run lock connection lost", "name", p.name, "err", err)
				p.cancel()
				return
			}
		}
	}
}

func (p *pgLease) Release() {
	p.once.Do(func() {
		p.cancel()
		<-p.done

		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if _, err := p.conn.ExecContext(ctx, "SELECT pg_advisory_unlock($1)", p.key); err != nil {
			p.logger.Warn("failed to release run lock", "name", p.name, "err", err)
		}
		p.conn.Close()
		p.logger.Info("released run lock", "name", p.name)
	})
}

// LocalLocker holds locks in process memory. It serves single-process
// deployments without a metadata database and tests.
type LocalLocker struct {
	mu   sync.Mutex
	held map[string]bool
}

func NewLocalLocker() *LocalLocker {
	return &LocalLocker{held: make(map[string]bool)}
}

func (l *LocalLocker) Acquire(ctx context.Context, name string) (Lease, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.held[name] {
		return nil, fmt.Errorf("%w: %s", ErrLocked, name)
	}
	l.held[name] = true
	leaseCtx, cancel := context.WithCancel(ctx)
	return &localLease{ctx: leaseCtx, cancel: cancel, release: func() {
		l.mu.Lock()
		defer l.mu.Unlock()
		delete(l.held, name)
	}}, nil
}

type localLease struct {
	ctx     context.Context
	cancel  context.CancelFunc
	release func()
	once    sync.Once
}

func (l *localLease) Context() context.Context { return l.ctx }

func (l *localLease) Release() {
	l.once.Do(func() {
		l.cancel()
		l.release()
	})
}
