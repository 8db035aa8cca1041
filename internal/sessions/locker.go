package sessions

import (
	"context"
	"database/sql"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
)

// LocalLocker serializes per-session execution within a single process.
type LocalLocker struct {
	mu    sync.Mutex
	locks map[string]chan struct{}
}

// NewLocalLocker creates an in-process session locker.
func NewLocalLocker() *LocalLocker {
	return &LocalLocker{locks: map[string]chan struct{}{}}
}

// Lock acquires the session lock, waiting until it is free or the context
// is done.
func (l *LocalLocker) Lock(ctx context.Context, sessionID string) error {
	for {
		l.mu.Lock()
		ch, held := l.locks[sessionID]
		if !held {
			l.locks[sessionID] = make(chan struct{})
			l.mu.Unlock()
			return nil
		}
		l.mu.Unlock()

		select {
		case <-ch:
		case <-ctx.Done():
			return ErrLockTimeout
		}
	}
}

// Unlock releases the session lock. Unlocking a lock that is not held is a
// no-op.
func (l *LocalLocker) Unlock(sessionID string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if ch, held := l.locks[sessionID]; held {
		delete(l.locks, sessionID)
		close(ch)
	}
}

// DBLocker acquires session leases in the database so that multiple harness
// processes never run the same session concurrently. Leases carry a TTL and
// are renewed in the background while held; a crashed holder's lease simply
// expires.
type DBLocker struct {
	db       *sql.DB
	holderID string
	ttl      time.Duration
	retry    time.Duration
	logger   *slog.Logger

	mu       sync.Mutex
	renewals map[string]chan struct{}
}

// DBLockerConfig configures a DBLocker.
type DBLockerConfig struct {
	// TTL is how long a lease lives without renewal.
	TTL time.Duration

	// RetryInterval is how often Lock re-attempts a contended lease.
	RetryInterval time.Duration

	Logger *slog.Logger
}

// DefaultDBLockerConfig returns production lease settings.
func DefaultDBLockerConfig() DBLockerConfig {
	return DBLockerConfig{
		TTL:           30 * time.Second,
		RetryInterval: 250 * time.Millisecond,
		Logger:        slog.Default(),
	}
}

// NewDBLocker creates a database-backed session locker.
func NewDBLocker(db *sql.DB, cfg DBLockerConfig) *DBLocker {
	if cfg.TTL <= 0 {
		cfg.TTL = 30 * time.Second
	}
	if cfg.RetryInterval <= 0 {
		cfg.RetryInterval = 250 * time.Millisecond
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &DBLocker{
		db:       db,
		holderID: uuid.NewString(),
		ttl:      cfg.TTL,
		retry:    cfg.RetryInterval,
		logger:   cfg.Logger,
		renewals: map[string]chan struct{}{},
	}
}

// Migrate creates the session lease table.
func (l *DBLocker) Migrate(ctx context.Context) error {
	_, err := l.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS session_leases (
			session_id TEXT PRIMARY KEY,
			holder_id TEXT NOT NULL,
			expires_at TIMESTAMPTZ NOT NULL
		)`)
	return err
}

// Lock acquires a lease for the session, retrying until the context is done.
func (l *DBLocker) Lock(ctx context.Context, sessionID string) error {
	ticker := time.NewTicker(l.retry)
	defer ticker.Stop()

	for {
		acquired, err := l.tryAcquire(ctx, sessionID)
		if err != nil {
			return err
		}
		if acquired {
			l.startRenewal(sessionID)
			return nil
		}

		select {
		case <-ticker.C:
		case <-ctx.Done():
			return ErrLockTimeout
		}
	}
}

func (l *DBLocker) tryAcquire(ctx context.Context, sessionID string) (bool, error) {
	res, err := l.db.ExecContext(ctx, `
		INSERT INTO session_leases (session_id, holder_id, expires_at)
		VALUES ($1, $2, NOW() + $3::INTERVAL)
		ON CONFLICT (session_id) DO UPDATE
		SET holder_id = $2, expires_at = NOW() + $3::INTERVAL
		WHERE session_leases.expires_at < NOW() OR session_leases.holder_id = $2`,
		sessionID, l.holderID, l.ttl.String())
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (l *DBLocker) startRenewal(sessionID string) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if _, exists := l.renewals[sessionID]; exists {
		return
	}
	stop := make(chan struct{})
	l.renewals[sessionID] = stop

	go func() {
		ticker := time.NewTicker(l.ttl / 3)
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
				ctx, cancel := context.WithTimeout(context.Background(), l.ttl/3)
				if _, err := l.db.ExecContext(ctx, `
					UPDATE session_leases SET expires_at = NOW() + $1::INTERVAL
					WHERE session_id = $2 AND holder_id = $3`,
					l.ttl.String(), sessionID, l.holderID); err != nil {
					l.logger.Warn("session lease renewal failed",
						"session_id", sessionID, "error", err)
				}
				cancel()
			}
		}
	}()
}

// Unlock releases the lease and stops its renewal.
func (l *DBLocker) Unlock(sessionID string) {
	l.mu.Lock()
	if stop, exists := l.renewals[sessionID]; exists {
		close(stop)
		delete(l.renewals, sessionID)
	}
	l.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if _, err := l.db.ExecContext(ctx, `
		DELETE FROM session_leases WHERE session_id = $1 AND holder_id = $2`,
		sessionID, l.holderID); err != nil {
		l.logger.Warn("session lease release failed",
			"session_id", sessionID, "error", err)
	}
}
