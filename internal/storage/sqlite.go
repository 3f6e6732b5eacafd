package storage

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"time"

	"github.com/golang-migrate/migrate/v4"
	migratesqlite "github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	_ "modernc.org/sqlite"

	logx "newsrelay/pkg/logx"
)

//go:embed migrations/*.sql
var migrationFS embed.FS

type sqliteStore struct {
	db   *sql.DB
	mode Mode
	log  logx.Logger
}

func openSQLite(cfg Config, log logx.Logger) (Store, error) {
	db, err := sql.Open("sqlite", cfg.Path)
	if err != nil {
		return nil, err
	}
	// SQLite prefers a single writer.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	busy := cfg.BusyTimeout
	if busy <= 0 {
		busy = 5 * time.Second
	}
	pragmas := []string{
		fmt.Sprintf("PRAGMA busy_timeout = %d", busy.Milliseconds()),
		"PRAGMA journal_mode = WAL",
		// A recorded identity must survive power loss.
		"PRAGMA synchronous = FULL",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("sqlite %q: %w", p, err)
		}
	}

	version, err := runMigrations(db)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	log.Debug("sqlite schema ready", logx.Int("version", int(version)), logx.String("path", cfg.Path))
	return &sqliteStore{db: db, mode: cfg.Mode, log: log}, nil
}

func runMigrations(db *sql.DB) (uint, error) {
	driver, err := migratesqlite.WithInstance(db, &migratesqlite.Config{})
	if err != nil {
		return 0, fmt.Errorf("failed to create sqlite migrate driver: %w", err)
	}
	source, err := iofs.New(migrationFS, "migrations")
	if err != nil {
		return 0, fmt.Errorf("failed to create iofs source: %w", err)
	}
	m, err := migrate.NewWithInstance("iofs", source, "sqlite", driver)
	if err != nil {
		return 0, fmt.Errorf("failed to create migrate instance: %w", err)
	}
	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return 0, fmt.Errorf("failed to run migrations: %w", err)
	}
	version, _, err := m.Version()
	if err != nil {
		return 0, fmt.Errorf("failed to get migration version: %w", err)
	}
	return version, nil
}

func (s *sqliteStore) Mode() Mode { return s.mode }

func (s *sqliteStore) Load(ctx context.Context) ([]string, error) {
	if s.db == nil {
		return nil, ErrClosed
	}
	if s.mode == ModePointer {
		var id string
		err := s.db.QueryRowContext(ctx, `SELECT identity FROM pointer WHERE slot = 1`).Scan(&id)
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		if err != nil {
			return nil, err
		}
		return []string{id}, nil
	}

	rows, err := s.db.QueryContext(ctx, `SELECT identity FROM delivered ORDER BY seq`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func (s *sqliteStore) Record(ctx context.Context, id string) error {
	if s.db == nil {
		return ErrClosed
	}
	if id == "" {
		return nil
	}
	now := time.Now().UTC().Format(time.RFC3339Nano)
	var err error
	if s.mode == ModePointer {
		_, err = s.db.ExecContext(ctx,
			`INSERT INTO pointer(slot, identity, updated_at) VALUES(1, ?, ?)
			 ON CONFLICT(slot) DO UPDATE SET identity = excluded.identity, updated_at = excluded.updated_at`,
			id, now,
		)
	} else {
		_, err = s.db.ExecContext(ctx,
			`INSERT INTO delivered(identity, delivered_at) VALUES(?, ?) ON CONFLICT(identity) DO NOTHING`,
			id, now,
		)
	}
	return err
}

func (s *sqliteStore) Close() error {
	if s.db == nil {
		return nil
	}
	err := s.db.Close()
	s.db = nil
	return err
}
