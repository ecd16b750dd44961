package audit

import (
	"context"
	"strings"
	"time"

	"github.com/avast/retry-go/v4"
	"github.com/jingkaihe/skillgate/pkg/db"
	"github.com/jingkaihe/skillgate/pkg/db/migrations"
	"github.com/jingkaihe/skillgate/pkg/logger"
	"github.com/jmoiron/sqlx"
	"github.com/pkg/errors"
)

// SQLiteStore persists transitions in the audit database.
type SQLiteStore struct {
	db       *sqlx.DB
	attempts uint
	delay    time.Duration
}

// StoreOption configures a SQLiteStore.
type StoreOption func(*SQLiteStore)

// WithRetry sets how often a write is retried while the database is busy.
func WithRetry(attempts uint, delay time.Duration) StoreOption {
	return func(s *SQLiteStore) {
		s.attempts = attempts
		s.delay = delay
	}
}

// NewSQLiteStore opens the database at path and applies pending migrations.
// An empty path resolves to db.DefaultDBPath.
func NewSQLiteStore(ctx context.Context, path string, opts ...StoreOption) (*SQLiteStore, error) {
	if path == "" {
		p, err := db.DefaultDBPath()
		if err != nil {
			return nil, err
		}
		path = p
	}

	conn, err := db.Open(ctx, path)
	if err != nil {
		return nil, err
	}

	if err := db.NewMigrationRunner(conn).Run(ctx, migrations.All()); err != nil {
		conn.Close()
		return nil, errors.Wrap(err, "failed to migrate audit database")
	}

	s := &SQLiteStore{db: conn, attempts: 5, delay: 50 * time.Millisecond}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Record implements Sink.
func (s *SQLiteStore) Record(ctx context.Context, entry Entry) error {
	return retry.Do(
		func() error {
			_, err := s.db.NamedExecContext(ctx, `
				INSERT INTO mode_transitions (session_id, from_mode, to_mode, reason, occurred_at)
				VALUES (:session_id, :from_mode, :to_mode, :reason, :occurred_at)
			`, entry)
			return err
		},
		retry.RetryIf(isBusy),
		retry.Attempts(s.attempts),
		retry.Delay(s.delay),
		retry.DelayType(retry.BackOffDelay),
		retry.LastErrorOnly(true),
		retry.Context(ctx),
		retry.OnRetry(func(n uint, err error) {
			logger.G(ctx).WithError(err).WithField("attempt", n+1).Debug("retrying audit write")
		}),
	)
}

// List implements Lister. An empty sessionID lists everything.
func (s *SQLiteStore) List(ctx context.Context, sessionID string) ([]Entry, error) {
	query := `SELECT session_id, from_mode, to_mode, reason, occurred_at FROM mode_transitions`
	var args []any
	if sessionID != "" {
		query += ` WHERE session_id = ?`
		args = append(args, sessionID)
	}
	query += ` ORDER BY occurred_at, id`

	entries := []Entry{}
	if err := s.db.SelectContext(ctx, &entries, query, args...); err != nil {
		return nil, errors.Wrap(err, "failed to list transitions")
	}
	return entries, nil
}

// Close closes the database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func isBusy(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "database is locked") || strings.Contains(msg, "sqlite_busy")
}
