// Package postgres persists entity batches to PostgreSQL through GORM.
package postgres

import (
	"context"
	"embed"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	gormlogger "gorm.io/gorm/logger"

	"github.com/Sternrassler/contrib-harvester/pkg/orchestrator"
	"github.com/Sternrassler/contrib-harvester/pkg/store"
)

//go:embed migrations/*.sql
var migrationFS embed.FS

type windowModel struct {
	EntityID    string    `gorm:"column:entity_id;primaryKey"`
	Kind        string    `gorm:"column:kind;primaryKey"`
	WindowStart time.Time `gorm:"column:window_start"`
	WindowEnd   time.Time `gorm:"column:window_end"`
	Items       string    `gorm:"column:items;type:jsonb"`
	Status      string    `gorm:"column:status"`
	UpdatedAt   time.Time `gorm:"column:updated_at"`
}

func (windowModel) TableName() string { return "entity_windows" }

type processedModel struct {
	EntityID    string    `gorm:"column:entity_id;primaryKey"`
	ProcessedAt time.Time `gorm:"column:processed_at"`
}

func (processedModel) TableName() string { return "processed_entities" }

// Connect opens and validates a Postgres-backed GORM connection pool.
func Connect(ctx context.Context, dsn string, maxConns int) (*gorm.DB, error) {
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		TranslateError: true,
		Logger:         gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("gorm sql db: %w", err)
	}
	if maxConns > 0 {
		sqlDB.SetMaxOpenConns(maxConns)
		sqlDB.SetMaxIdleConns(maxConns / 2)
	}
	sqlDB.SetConnMaxIdleTime(15 * time.Minute)
	sqlDB.SetConnMaxLifetime(time.Hour)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := sqlDB.PingContext(pingCtx); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return db, nil
}

// RunMigrations applies the embedded SQL migrations in lexical order.
// Every migration is idempotent.
func RunMigrations(ctx context.Context, db *gorm.DB, logger zerolog.Logger) error {
	entries, err := migrationFS.ReadDir("migrations")
	if err != nil {
		return fmt.Errorf("read migrations dir: %w", err)
	}

	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".sql") {
			continue
		}
		names = append(names, e.Name())
	}
	sort.Strings(names)

	for _, name := range names {
		raw, err := migrationFS.ReadFile("migrations/" + name)
		if err != nil {
			return fmt.Errorf("read migration %s: %w", name, err)
		}
		if err := db.WithContext(ctx).Exec(string(raw)).Error; err != nil {
			return fmt.Errorf("exec migration %s: %w", name, err)
		}
		logger.Debug().Str("migration", name).Msg("Migration applied")
	}

	logger.Info().Int("migrations", len(names)).Msg("Postgres schema ready")
	return nil
}

// Store is the Postgres persistence sink.
type Store struct {
	db     *gorm.DB
	logger zerolog.Logger
	now    func() time.Time
}

var _ store.Store = (*Store)(nil)

// New wraps an open, migrated connection.
func New(db *gorm.DB, logger zerolog.Logger) *Store {
	return &Store{
		db:     db,
		logger: logger.With().Str("component", "postgres-store").Logger(),
		now:    time.Now,
	}
}

// Open connects, migrates and returns a store.
func Open(ctx context.Context, dsn string, maxConns int, logger zerolog.Logger) (*Store, error) {
	db, err := Connect(ctx, dsn, maxConns)
	if err != nil {
		return nil, err
	}
	if err := RunMigrations(ctx, db, logger); err != nil {
		if sqlDB, dbErr := db.DB(); dbErr == nil {
			_ = sqlDB.Close()
		}
		return nil, err
	}
	return New(db, logger), nil
}

// Persist upserts every result of the batch in one transaction.
func (s *Store) Persist(ctx context.Context, batch orchestrator.EntityBatch) error {
	now := s.now()
	rows, err := store.Rows(batch, now)
	if err != nil {
		return err
	}

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if len(rows) > 0 {
			models := make([]windowModel, 0, len(rows))
			for _, r := range rows {
				models = append(models, windowModel(r))
			}
			if err := tx.Clauses(clause.OnConflict{
				Columns:   []clause.Column{{Name: "entity_id"}, {Name: "kind"}},
				DoUpdates: clause.AssignmentColumns([]string{"window_start", "window_end", "items", "status", "updated_at"}),
			}).Create(&models).Error; err != nil {
				return fmt.Errorf("upsert windows: %w", err)
			}
		}

		return nil
	})
	if err != nil {
		return fmt.Errorf("persist %s: %w", batch.EntityID, err)
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
	rec := processedModel{EntityID: entityID, ProcessedAt: s.now().UTC()}
	if err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "entity_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"processed_at"}),
	}).Create(&rec).Error; err != nil {
		return fmt.Errorf("mark %s processed: %w", entityID, err)
	}
	return nil
}

// Processed returns the IDs of entities recorded as complete.
func (s *Store) Processed(ctx context.Context) (map[string]bool, error) {
	var ids []string
	if err := s.db.WithContext(ctx).Model(&processedModel{}).Pluck("entity_id", &ids).Error; err != nil {
		return nil, fmt.Errorf("list processed: %w", err)
	}
	out := make(map[string]bool, len(ids))
	for _, id := range ids {
		out[id] = true
	}
	return out, nil
}

// Windows returns the stored rows of an entity, ordered by kind.
func (s *Store) Windows(ctx context.Context, entityID string) ([]store.Row, error) {
	var models []windowModel
	if err := s.db.WithContext(ctx).
		Where("entity_id = ?", entityID).
		Order("kind").
		Find(&models).Error; err != nil {
		return nil, fmt.Errorf("list windows: %w", err)
	}
	rows := make([]store.Row, 0, len(models))
	for _, m := range models {
		rows = append(rows, store.Row(m))
	}
	return rows, nil
}

// Close closes the underlying connection pool.
func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
