package contentstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"
)

// Common repository errors.
var (
	ErrNotFound = errors.New("record not found")
	ErrConflict = errors.New("record conflict")
)

// DB is the subset of *sql.DB (or *sql.Tx) every repository needs. Queries
// use "$N" placeholders, which both the sqlite3 and lib/pq drivers accept.
type DB interface {
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
}

// Open opens the relational store for the given driver ("sqlite" or
// "postgres") and applies sqlite pragmas from the config when applicable.
func Open(cfg DatabaseConfig) (*sql.DB, error) {
	switch cfg.Driver {
	case "sqlite", "":
		dsn := fmt.Sprintf("%s?_busy_timeout=%d&_journal_mode=%s&_cache_size=-%d&_foreign_keys=1",
			cfg.Path, cfg.BusyTimeoutMS, cfg.Journal, cfg.CacheMB*1024)
		db, err := sql.Open("sqlite3", dsn)
		if err != nil {
			return nil, fmt.Errorf("open sqlite: %w", err)
		}
		db.SetMaxOpenConns(1) // sqlite3 driver is not safe for concurrent writers
		return db, nil
	case "postgres":
		db, err := sql.Open("postgres", cfg.DSN)
		if err != nil {
			return nil, fmt.Errorf("open postgres: %w", err)
		}
		return db, nil
	default:
		return nil, fmt.Errorf("unknown database driver %q", cfg.Driver)
	}
}

// Repositories bundles every C1 repository behind one handle.
type Repositories struct {
	Content     *ContentRepository
	Messages    *MessageRepository
	Occurrences *OccurrenceRepository
	Embeddings  *EmbeddingRepository
	Entities    *EntityRepository
	Quarantine  *QuarantineRepository
}

// NewRepositories wires all repositories to a single DB handle.
func NewRepositories(db DB) *Repositories {
	return &Repositories{
		Content:     NewContentRepository(db),
		Messages:    NewMessageRepository(db),
		Occurrences: NewOccurrenceRepository(db),
		Embeddings:  NewEmbeddingRepository(db),
		Entities:    NewEntityRepository(db),
		Quarantine:  NewQuarantineRepository(db),
	}
}

// Ping reports whether the underlying connection answers within ctx, for
// use by the health aggregator's DB budget (§4.7).
func Ping(ctx context.Context, db *sql.DB) error {
	return db.PingContext(ctx)
}
