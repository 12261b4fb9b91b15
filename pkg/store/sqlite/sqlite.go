// Package sqlite persists entity batches to a local SQLite database, for
// runs without a Postgres server. The schema matches the Postgres store.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/rs/zerolog"
	_ "modernc.org/sqlite" // SQLite driver

	"github.com/Sternrassler/contrib-harvester/pkg/orchestrator"
	"github.com/Sternrassler/contrib-harvester/pkg/store"
	"github.com/Sternrassler/contrib-harvester/pkg/store/sqlite/migrations"
)

// timeLayout is how timestamps are stored; it sorts lexically.
const timeLayout = time.RFC3339Nano

// Store is the SQLite persistence sink.
type Store struct {
	db     *sql.DB
	path   string
	logger zerolog.Logger
	now    func() time.Time
}

var _ store.Store = (*Store)(nil)

// Open opens (or creates) the database file at path and applies pending
// migrations.
func Open(path string, logger zerolog.Logger) (*Store, error) {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return nil, fmt.Errorf("creating data directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	// One writer at a time; concurrent entity workers queue on the pool.
	db.SetMaxOpenConns(1)

	s := &Store{
		db:     db,
		path:   path,
		logger: logger.With().Str("component", "sqlite-store").Logger(),
		now:    time.Now,
	}
	if err := s.migrate(migrations.FS); err != nil {
		db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}
	return s, nil
}

// Path returns the database file path.
func (s *Store) Path() string {
	return s.path
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// migrate applies every NNN_name.up.sql newer than the recorded version.
func (s *Store) migrate(fsys fs.FS) error {
	if _, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version INTEGER PRIMARY KEY,
			applied_at TEXT NOT NULL
		)
	`); err != nil {
		return fmt.Errorf("creating schema_migrations table: %w", err)
	}

	var current int
	if err := s.db.QueryRow("SELECT COALESCE(MAX(version), 0) FROM schema_migrations").Scan(&current); err != nil {
		return fmt.Errorf("getting current version: %w", err)
	}

	entries, err := fs.ReadDir(fsys, ".")
	if err != nil {
		return fmt.Errorf("reading migrations directory: %w", err)
	}
	var upFiles []string
	for _, entry := range entries {
		if strings.HasSuffix(entry.Name(), ".up.sql") {
			upFiles = append(upFiles, entry.Name())
		}
	}
	sort.Strings(upFiles)

	for _, name := range upFiles {
		var version int
		if _, err := fmt.Sscanf(name, "%d_", &version); err != nil {
			continue
		}
		if version <= current {
			continue
		}

		raw, err := fs.ReadFile(fsys, name)
		if err != nil {
			return fmt.Errorf("reading migration %s: %w", name, err)
		}

		tx, err := s.db.Begin()
		if err != nil {
			return fmt.Errorf("starting transaction: %w", err)
		}
		if _, err := tx.Exec(string(raw)); err != nil {
			tx.Rollback()
			return fmt.Errorf("executing migration %s: %w", name, err)
		}
		if _, err := tx.Exec("INSERT INTO schema_migrations (version, applied_at) VALUES (?, ?)",
			version, time.Now().UTC().Format(timeLayout)); err != nil {
			tx.Rollback()
			return fmt.Errorf("recording migration %s: %w", name, err)
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("committing migration %s: %w", name, err)
		}
		s.logger.Debug().Str("migration", name).Msg("Migration applied")
	}
	return nil
}

// Persist upserts every result of the batch in one transaction.
func (s *Store) Persist(ctx context.Context, batch orchestrator.EntityBatch) error {
	now := s.now()
	rows, err := store.Rows(batch, now)
	if err != nil {
		return err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("persist %s: begin: %w", batch.EntityID, err)
	}
	defer tx.Rollback()

	if len(rows) > 0 {
		stmt, err := tx.PrepareContext(ctx, `
			INSERT INTO entity_windows (entity_id, kind, window_start, window_end, items, status, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(entity_id, kind) DO UPDATE SET
				window_start = excluded.window_start,
				window_end = excluded.window_end,
				items = excluded.items,
				status = excluded.status,
				updated_at = excluded.updated_at
		`)
		if err != nil {
			return fmt.Errorf("persist %s: preparing statement: %w", batch.EntityID, err)
		}
		defer stmt.Close()

		for _, r := range rows {
			if _, err := stmt.ExecContext(ctx, r.EntityID, r.Kind,
				r.WindowStart.Format(timeLayout), r.WindowEnd.Format(timeLayout),
				r.Items, r.Status, r.UpdatedAt.Format(timeLayout)); err != nil {
				return fmt.Errorf("persist %s: upsert %s: %w", batch.EntityID, r.Kind, err)
			}
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("persist %s: commit: %w", batch.EntityID, err)
	}

	s.logger.Debug().
		Str("entity", batch.EntityID).
		Int("rows", len(rows)).
		Bool("complete", batch.Complete).
		Msg("Entity persisted")
	return nil
}

// MarkProcessed records entityID as complete.
func (s *Store) MarkProcessed(ctx context.Context, entityID string) error {
	if _, err := s.db.ExecContext(ctx, `
		INSERT INTO processed_entities (entity_id, processed_at)
		VALUES (?, ?)
		ON CONFLICT(entity_id) DO UPDATE SET processed_at = excluded.processed_at
	`, entityID, s.now().UTC().Format(timeLayout)); err != nil {
		return fmt.Errorf("mark %s processed: %w", entityID, err)
	}
	return nil
}

// Processed returns the IDs of entities recorded as complete.
func (s *Store) Processed(ctx context.Context) (map[string]bool, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT entity_id FROM processed_entities")
	if err != nil {
		return nil, fmt.Errorf("list processed: %w", err)
	}
	defer rows.Close()

	out := make(map[string]bool)
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan processed: %w", err)
		}
		out[id] = true
	}
	return out, rows.Err()
}

// Windows returns the stored rows of an entity, ordered by kind.
func (s *Store) Windows(ctx context.Context, entityID string) ([]store.Row, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT entity_id, kind, window_start, window_end, items, status, updated_at
		FROM entity_windows
		WHERE entity_id = ?
		ORDER BY kind
	`, entityID)
	if err != nil {
		return nil, fmt.Errorf("list windows: %w", err)
	}
	defer rows.Close()

	var out []store.Row
	for rows.Next() {
		var (
			r                 store.Row
			start, end, updAt string
		)
		if err := rows.Scan(&r.EntityID, &r.Kind, &start, &end, &r.Items, &r.Status, &updAt); err != nil {
			return nil, fmt.Errorf("scan window: %w", err)
		}
		if r.WindowStart, err = time.Parse(timeLayout, start); err != nil {
			return nil, fmt.Errorf("parse window_start: %w", err)
		}
		if r.WindowEnd, err = time.Parse(timeLayout, end); err != nil {
			return nil, fmt.Errorf("parse window_end: %w", err)
		}
		if r.UpdatedAt, err = time.Parse(timeLayout, updAt); err != nil {
			return nil, fmt.Errorf("parse updated_at: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}
