// Package postgres provides a PostgreSQL-backed [transcript.Store].
//
// The schema is managed with goose; migrations are embedded in the binary and
// applied by [NewStore].
//
// Usage:
//
//	store, err := postgres.NewStore(ctx, dsn)
//	if err != nil { … }
//	defer store.Close()
//
//	_ = store.Save(ctx, entry)
//	entries, _ := store.Session(ctx, sessionID)
package postgres

import (
	"context"
	"embed"
	"fmt"
	"io/fs"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"

	"github.com/MrWong99/voxagent/internal/transcript"
	"github.com/MrWong99/voxagent/pkg/agentapi"
)

//go:embed migrations/*.sql
var migrations embed.FS

var _ transcript.Store = (*Store)(nil)

// Store persists transcript entries in the transcript_entries table.
// All operations are safe for concurrent use.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore connects to the database at dsn, verifies the connection and
// applies all pending migrations.
func NewStore(ctx context.Context, dsn string) (*Store, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("transcript postgres: create pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("transcript postgres: ping: %w", err)
	}
	if err := Migrate(ctx, pool); err != nil {
		pool.Close()
		return nil, err
	}
	return &Store{pool: pool}, nil
}

// Migrate applies the embedded migrations to the database behind pool.
func Migrate(ctx context.Context, pool *pgxpool.Pool) error {
	sub, err := fs.Sub(migrations, "migrations")
	if err != nil {
		return fmt.Errorf("transcript postgres: migrations: %w", err)
	}
	db := stdlib.OpenDBFromPool(pool)
	defer db.Close()

	p, err := goose.NewProvider(goose.DialectPostgres, db, sub)
	if err != nil {
		return fmt.Errorf("transcript postgres: migration provider: %w", err)
	}
	if _, err := p.Up(ctx); err != nil {
		return fmt.Errorf("transcript postgres: migrate: %w", err)
	}
	return nil
}

// Save implements [transcript.Store]. Saving an entry whose ID already exists
// is a no-op.
func (s *Store) Save(ctx context.Context, e transcript.Entry) error {
	const q = `
		INSERT INTO transcript_entries (id, session_id, speaker, message, timestamp)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (id) DO NOTHING`

	if _, err := s.pool.Exec(ctx, q, e.ID, e.SessionID, string(e.Speaker), e.Message, e.Timestamp); err != nil {
		return fmt.Errorf("transcript postgres: save entry: %w", err)
	}
	return nil
}

// Session returns every entry of sessionID, oldest first.
func (s *Store) Session(ctx context.Context, sessionID string) ([]transcript.Entry, error) {
	const q = `
		SELECT id, session_id, speaker, message, timestamp
		FROM   transcript_entries
		WHERE  session_id = $1
		ORDER  BY timestamp, id`

	rows, err := s.pool.Query(ctx, q, sessionID)
	if err != nil {
		return nil, fmt.Errorf("transcript postgres: query session: %w", err)
	}
	entries, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (transcript.Entry, error) {
		var (
			e       transcript.Entry
			speaker string
		)
		if err := row.Scan(&e.ID, &e.SessionID, &speaker, &e.Message, &e.Timestamp); err != nil {
			return e, err
		}
		e.Speaker = agentapi.Speaker(speaker)
		return e, nil
	})
	if err != nil {
		return nil, fmt.Errorf("transcript postgres: scan session: %w", err)
	}
	return entries, nil
}

// Ping verifies the database is reachable. It matches the readiness check
// signature of the health package.
func (s *Store) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// Close implements [transcript.Store].
func (s *Store) Close() error {
	s.pool.Close()
	return nil
}
