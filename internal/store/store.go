// Package store provides the durable on-device mutation queue.
//
// The queue is a SQLite-backed ordered log of pending writes, local to one
// user session. Entries survive process restarts; an entry is removed only
// after the backend acknowledged it or the user explicitly discarded it.
package store

import (
	"database/sql"
	_ "embed"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "modernc.org/sqlite"

	apperrors "github.com/fieldsync/fieldsync/internal/errors"
	"github.com/fieldsync/fieldsync/internal/logging"
)

//go:embed schema.sql
var schemaSQL string

// dbFileName is the SQLite file created inside the data directory.
const dbFileName = "fieldsync.db"

// Store is a durable mutation queue bound to one session key.
//
// All writes go through the store's own mutex; it is the sole
// synchronization point for the durable log.
type Store struct {
	mu         sync.Mutex
	db         *sql.DB
	sessionKey string
	policy     RetryPolicy
	closed     bool
	now        func() time.Time
}

// Open opens (creating if needed) the mutation queue for the given session.
// The database is opened in WAL mode with synchronous=FULL so an enqueue is
// durable before the call returns. Stale in_flight rows left behind by a
// crash mid-drain are reset to pending.
func Open(dataDir, sessionKey string, policy RetryPolicy) (*Store, error) {
	if sessionKey == "" {
		return nil, apperrors.New(apperrors.ErrInvalid, "session key is required")
	}
	policy = policy.withDefaults()

	if err := os.MkdirAll(dataDir, 0755); err != nil {
		return nil, apperrors.Wrap(apperrors.ErrStorage, "failed to create data directory", err)
	}

	dbPath := filepath.Join(dataDir, dbFileName)
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.ErrStorage, "failed to open database", err)
	}

	// SQLite supports a single writer; serialize at the pool level too.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if _, err := db.Exec("PRAGMA journal_mode=WAL;"); err != nil {
		db.Close()
		return nil, apperrors.Wrap(apperrors.ErrStorage, "failed to enable WAL mode", err)
	}
	// Enqueue must be durable before it returns; NORMAL can lose the last
	// transaction on power failure.
	if _, err := db.Exec("PRAGMA synchronous=FULL;"); err != nil {
		db.Close()
		return nil, apperrors.Wrap(apperrors.ErrStorage, "failed to set synchronous mode", err)
	}

	if _, err := db.Exec(schemaSQL); err != nil {
		db.Close()
		return nil, apperrors.Wrap(apperrors.ErrStorage, "failed to initialize schema", err)
	}

	s := &Store{
		db:         db,
		sessionKey: sessionKey,
		policy:     policy,
		now:        time.Now,
	}

	if err := s.recoverInFlight(); err != nil {
		db.Close()
		return nil, err
	}

	return s, nil
}

// Close closes the underlying database. The store is unusable afterwards.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true
	return s.db.Close()
}

// SessionKey returns the session this store is bound to.
func (s *Store) SessionKey() string {
	return s.sessionKey
}

// Policy returns the retry policy the store applies on failures.
func (s *Store) Policy() RetryPolicy {
	return s.policy
}

// recoverInFlight resets rows stuck in in_flight back to pending. An
// in_flight marker can only survive a crash between markInFlight and the
// backend acknowledgment, so the replay must be retried.
func (s *Store) recoverInFlight() error {
	res, err := s.db.Exec(
		`UPDATE mutation_queue SET status = 'pending', updated_at = ? WHERE session_key = ? AND status = 'in_flight'`,
		s.now().Unix(), s.sessionKey,
	)
	if err != nil {
		return apperrors.Wrap(apperrors.ErrStorage, "failed to recover in-flight operations", err)
	}
	if n, _ := res.RowsAffected(); n > 0 {
		logging.Warn("Recovered in-flight operations from previous run",
			logging.Fields{"count": n, "session": s.sessionKey})
	}
	return nil
}

// guard returns an error if the store has been closed.
func (s *Store) guard() error {
	if s.closed {
		return apperrors.New(apperrors.ErrStoreClosed, "mutation queue store is closed")
	}
	return nil
}

func storageErr(op string, err error) error {
	return apperrors.Wrap(apperrors.ErrStorage, fmt.Sprintf("failed to %s", op), err)
}
