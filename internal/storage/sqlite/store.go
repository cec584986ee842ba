// Package sqlite provides the SQLite implementation of the storage
// interfaces: conversation history, user profiles and a brute-force cosine
// vector index.
package sqlite

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"io/fs"
	"time"

	"github.com/rs/zerolog"
	_ "modernc.org/sqlite" // SQLite driver

	"github.com/scrypster/farmmemory/internal/storage"
)

//go:embed migrations/*.sql
var migrationFiles embed.FS

// timeLayout is fixed-width so that lexical order equals chronological order.
const timeLayout = "2006-01-02 15:04:05.000000000"

// Default vector index settings.
const (
	DefaultDimension      = 384
	DefaultCandidateLimit = 2000
)

// Options configures a Store.
type Options struct {
	// Dimension is the vector length accepted by Upsert (default 384).
	Dimension int

	// CandidateLimit caps how many of the newest matching vectors Query
	// loads and ranks (default 2000).
	CandidateLimit int

	Logger zerolog.Logger
}

// Store implements storage.MessageStore and storage.VectorIndex on SQLite.
type Store struct {
	db             *sql.DB
	dimension      int
	candidateLimit int
	logger         zerolog.Logger
}

// Compile-time interface checks.
var (
	_ storage.MessageStore = (*Store)(nil)
	_ storage.VectorIndex  = (*Store)(nil)
)

// Open creates a SQLite store with WAL self-healing. If the initial open
// fails due to stale WAL files left behind by a crashed process, it verifies
// no other process holds them and retries once after removing them.
func Open(ctx context.Context, dsn string, opts Options) (*Store, error) {
	if opts.Dimension <= 0 {
		opts.Dimension = DefaultDimension
	}
	if opts.CandidateLimit <= 0 {
		opts.CandidateLimit = DefaultCandidateLimit
	}

	store, err := open(ctx, dsn, opts)
	if err == nil {
		return store, nil
	}
	if !isRecoverableWALError(err) {
		return nil, err
	}

	dbPath := dbPathFromDSN(dsn)
	if dbPath == "" || !isWALStale(dbPath) {
		return nil, err
	}
	removeStaleWAL(dbPath, opts.Logger)

	store, retryErr := open(ctx, dsn, opts)
	if retryErr != nil {
		return nil, fmt.Errorf("sqlite: failed after WAL recovery: %w (original: %v)", retryErr, err)
	}
	opts.Logger.Warn().Str("path", dbPath).Msg("sqlite: recovered from stale WAL files")
	return store, nil
}

// open opens the database, configures WAL mode and applies migrations.
func open(ctx context.Context, dsn string, opts Options) (*Store, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("sqlite: failed to open database: %w", err)
	}

	// SQLite only supports one concurrent writer. A single connection
	// serialises writes and avoids SQLITE_BUSY under concurrent load.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA foreign_keys=ON",
	}
	for _, p := range pragmas {
		if _, err := db.ExecContext(ctx, p); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("sqlite: %s failed: %w", p, err)
		}
	}

	if err := migrate(ctx, db); err != nil {
		_ = db.Close()
		return nil, err
	}

	return &Store{
		db:             db,
		dimension:      opts.Dimension,
		candidateLimit: opts.CandidateLimit,
		logger:         opts.Logger.With().Str("component", "sqlite").Logger(),
	}, nil
}

func migrate(ctx context.Context, db *sql.DB) error {
	files, err := fs.Sub(migrationFiles, "migrations")
	if err != nil {
		return fmt.Errorf("sqlite: failed to load migrations: %w", err)
	}
	mgr, err := storage.NewMigrationManager(ctx, db, files, storage.DialectSQLite)
	if err != nil {
		return fmt.Errorf("sqlite: failed to create migration manager: %w", err)
	}
	if _, err := mgr.Up(ctx); err != nil {
		return fmt.Errorf("sqlite: failed to run migrations: %w", err)
	}
	return nil
}

// DB returns the underlying database handle.
func (s *Store) DB() *sql.DB {
	return s.db
}

// Close flushes the WAL into the main database file and releases resources.
// The TRUNCATE checkpoint removes the -shm and -wal files so that other
// processes can open the database without encountering stale WAL state.
func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	if _, err := s.db.Exec("PRAGMA wal_checkpoint(TRUNCATE)"); err != nil {
		s.logger.Warn().Err(err).Msg("WAL checkpoint on close failed")
	}
	return s.db.Close()
}

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) (time.Time, error) {
	t, err := time.ParseInLocation(timeLayout, s, time.UTC)
	if err != nil {
		return time.Time{}, fmt.Errorf("sqlite: invalid timestamp %q: %w", s, err)
	}
	return t, nil
}
