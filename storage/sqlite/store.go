// Package sqlite provides the durable SQLite-backed implementation of the
// record store, outbox and checkpoint store. All three share one database
// file so a device's pending changes survive restarts together with the
// records they describe.
package sqlite

import (
	"context"
	"database/sql"
	stderrors "errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/offlinekit/offlinekit"
	"github.com/offlinekit/offlinekit/errors"
	"github.com/offlinekit/offlinekit/logging"

	_ "github.com/mattn/go-sqlite3"
)

// ErrStoreClosed is returned by every operation after Close.
var ErrStoreClosed = stderrors.New("store is closed")

// Config holds configuration options for the Store.
//
// Production-ready defaults are applied by DefaultConfig() including WAL
// mode for better concurrency and a bounded connection pool.
type Config struct {
	// DataSourceName is the connection string for the SQLite database.
	// Example: "file:sync.db?_journal_mode=WAL"
	DataSourceName string

	// EnableWAL enables Write-Ahead Logging mode. Recommended and on by
	// default; appends "?_journal_mode=WAL" to DataSourceName when absent.
	EnableWAL bool

	// BusyTimeout bounds how long a write waits on a locked database.
	BusyTimeout time.Duration

	// Logger receives internal diagnostics. Defaults to the package logger.
	Logger *logging.Logger

	// Connection pool settings.
	// Defaults: MaxOpen=25, MaxIdle=5, Lifetime=1h, IdleTime=5m
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	ConnMaxIdleTime time.Duration
}

func (c *Config) setDefaults() {
	if c.Logger == nil {
		c.Logger = logging.Default().WithComponent("storage/sqlite")
	}
	if c.BusyTimeout == 0 {
		c.BusyTimeout = 5 * time.Second
	}
	if c.MaxOpenConns == 0 {
		c.MaxOpenConns = 25
	}
	if c.MaxIdleConns == 0 {
		c.MaxIdleConns = 5
	}
	if c.ConnMaxLifetime == 0 {
		c.ConnMaxLifetime = time.Hour
	}
	if c.ConnMaxIdleTime == 0 {
		c.ConnMaxIdleTime = 5 * time.Minute
	}
	if c.EnableWAL && !strings.Contains(c.DataSourceName, "_journal_mode=") {
		sep := "?"
		if strings.Contains(c.DataSourceName, "?") {
			sep = "&"
		}
		c.DataSourceName += sep + "_journal_mode=WAL"
	}
}

// DefaultConfig returns a Config with production-ready defaults for the
// given database file.
func DefaultConfig(dataSourceName string) *Config {
	return &Config{
		DataSourceName: dataSourceName,
		EnableWAL:      true,
	}
}

// Store implements offlinekit.RecordStore, offlinekit.Outbox and
// offlinekit.CheckpointStore over one SQLite database.
type Store struct {
	db     *sql.DB
	logger *logging.Logger

	mu     sync.RWMutex
	closed bool
}

var (
	_ offlinekit.RecordStore     = (*Store)(nil)
	_ offlinekit.Outbox          = (*Store)(nil)
	_ offlinekit.CheckpointStore = (*Store)(nil)
)

// NewWithDataSource is a convenience constructor with default configuration.
func NewWithDataSource(dataSourceName string) (*Store, error) {
	return New(DefaultConfig(dataSourceName))
}

// New creates a Store from the given configuration and prepares the schema.
func New(config *Config) (*Store, error) {
	if config == nil {
		return nil, stderrors.New("config must not be nil")
	}
	config.setDefaults()

	db, err := sql.Open("sqlite3", config.DataSourceName)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	db.SetMaxOpenConns(config.MaxOpenConns)
	db.SetMaxIdleConns(config.MaxIdleConns)
	db.SetConnMaxLifetime(config.ConnMaxLifetime)
	db.SetConnMaxIdleTime(config.ConnMaxIdleTime)

	s := &Store{db: db, logger: config.Logger}

	if _, err := db.Exec(fmt.Sprintf("PRAGMA busy_timeout = %d", config.BusyTimeout.Milliseconds())); err != nil {
		db.Close()
		return nil, fmt.Errorf("setting busy_timeout: %w", err)
	}
	if err := s.setupSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("setting up schema: %w", err)
	}
	return s, nil
}

func (s *Store) setupSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS records (
		id              TEXT PRIMARY KEY,
		kind            TEXT NOT NULL,
		payload         BLOB,
		created_at      INTEGER NOT NULL,
		updated_at      INTEGER NOT NULL,
		deleted         INTEGER NOT NULL DEFAULT 0,
		deleted_at      INTEGER,
		remote_version  TEXT NOT NULL DEFAULT '',
		last_synced_at  INTEGER
	);
	CREATE INDEX IF NOT EXISTS idx_records_kind ON records(kind);
	CREATE INDEX IF NOT EXISTS idx_records_updated_at ON records(updated_at);

	CREATE TABLE IF NOT EXISTS outbox (
		record_id     TEXT PRIMARY KEY,
		seq           INTEGER NOT NULL,
		kind          TEXT NOT NULL,
		op            TEXT NOT NULL,
		payload       BLOB,
		updated_at    INTEGER NOT NULL,
		origin_id     TEXT NOT NULL,
		attempts      INTEGER NOT NULL DEFAULT 0,
		enqueued_at   INTEGER NOT NULL,
		next_retry_at INTEGER NOT NULL DEFAULT 0,
		last_error    TEXT NOT NULL DEFAULT ''
	);
	CREATE INDEX IF NOT EXISTS idx_outbox_seq ON outbox(seq);

	CREATE TABLE IF NOT EXISTS outbox_seq (
		id  INTEGER PRIMARY KEY CHECK (id = 1),
		seq INTEGER NOT NULL
	);
	INSERT OR IGNORE INTO outbox_seq (id, seq) VALUES (1, 0);

	CREATE TABLE IF NOT EXISTS checkpoints (
		source TEXT PRIMARY KEY,
		kind   TEXT NOT NULL,
		data   BLOB NOT NULL
	);`
	_, err := s.db.Exec(schema)
	return err
}

// Get returns the record with the given id, tombstone or not.
func (s *Store) Get(ctx context.Context, id string) (offlinekit.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return offlinekit.Record{}, errors.NewStorage(errors.OpGet, ErrStoreClosed)
	}

	row := s.db.QueryRowContext(ctx, `
		SELECT id, kind, payload, created_at, updated_at, deleted, deleted_at, remote_version, last_synced_at
		FROM records WHERE id = ?`, id)

	rec, err := scanRecord(row)
	if err == sql.ErrNoRows {
		return offlinekit.Record{}, errors.NewNotFound(errors.OpGet, id)
	}
	if err != nil {
		return offlinekit.Record{}, errors.NewStorage(errors.OpGet, err)
	}
	return rec, nil
}

// Put creates or replaces the record.
func (s *Store) Put(ctx context.Context, rec offlinekit.Record) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return errors.NewStorage(errors.OpStore, ErrStoreClosed)
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO records (id, kind, payload, created_at, updated_at, deleted, deleted_at, remote_version, last_synced_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			kind = excluded.kind,
			payload = excluded.payload,
			created_at = excluded.created_at,
			updated_at = excluded.updated_at,
			deleted = excluded.deleted,
			deleted_at = excluded.deleted_at,
			remote_version = excluded.remote_version,
			last_synced_at = excluded.last_synced_at`,
		rec.ID, rec.Kind, rec.Payload,
		rec.CreatedAt.UnixNano(), rec.UpdatedAt.UnixNano(),
		boolToInt(rec.Deleted), timePtrToNano(rec.DeletedAt),
		rec.RemoteVersion, timePtrToNano(rec.LastSyncedAt))
	if err != nil {
		return errors.NewStorage(errors.OpStore, err)
	}
	return nil
}

// Delete removes the record outright.
func (s *Store) Delete(ctx context.Context, id string) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return errors.NewStorage(errors.OpDelete, ErrStoreClosed)
	}
	if _, err := s.db.ExecContext(ctx, `DELETE FROM records WHERE id = ?`, id); err != nil {
		return errors.NewStorage(errors.OpDelete, err)
	}
	return nil
}

// List returns records of the given kind, every kind when kind is empty.
func (s *Store) List(ctx context.Context, kind string, includeDeleted bool) ([]offlinekit.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, errors.NewStorage(errors.OpList, ErrStoreClosed)
	}

	query := `
		SELECT id, kind, payload, created_at, updated_at, deleted, deleted_at, remote_version, last_synced_at
		FROM records`
	var conds []string
	var args []any
	if kind != "" {
		conds = append(conds, "kind = ?")
		args = append(args, kind)
	}
	if !includeDeleted {
		conds = append(conds, "deleted = 0")
	}
	if len(conds) > 0 {
		query += " WHERE " + strings.Join(conds, " AND ")
	}
	query += " ORDER BY id"

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, errors.NewStorage(errors.OpList, err)
	}
	defer rows.Close()

	var out []offlinekit.Record
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, errors.NewStorage(errors.OpList, err)
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.NewStorage(errors.OpList, err)
	}
	return out, nil
}

// Stats reports database-level statistics for monitoring.
func (s *Store) Stats() sql.DBStats { return s.db.Stats() }

// Close closes the database. Safe to call more than once.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	return s.db.Close()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRecord(row rowScanner) (offlinekit.Record, error) {
	var (
		rec                    offlinekit.Record
		createdNS, updatedNS   int64
		deleted                int
		deletedNS, lastSyncNS  sql.NullInt64
	)
	err := row.Scan(&rec.ID, &rec.Kind, &rec.Payload, &createdNS, &updatedNS,
		&deleted, &deletedNS, &rec.RemoteVersion, &lastSyncNS)
	if err != nil {
		return offlinekit.Record{}, err
	}
	rec.CreatedAt = time.Unix(0, createdNS).UTC()
	rec.UpdatedAt = time.Unix(0, updatedNS).UTC()
	rec.Deleted = deleted != 0
	rec.DeletedAt = nanoToTimePtr(deletedNS)
	rec.LastSyncedAt = nanoToTimePtr(lastSyncNS)
	return rec, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func timePtrToNano(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.UnixNano()
}

func nanoToTimePtr(ns sql.NullInt64) *time.Time {
	if !ns.Valid {
		return nil
	}
	t := time.Unix(0, ns.Int64).UTC()
	return &t
}
