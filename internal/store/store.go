// Package store persists builds and artifacts and exposes the six
// refreshable aggregate views the status projections read. It runs on
// gorm over sqlite (the default, single-binary deployment) or
// postgres, selected by Config.Driver.
package store

import (
	"context"
	"fmt"

	"basin/internal/dispatcher"
	"basin/internal/run"

	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// Config selects and configures the backing database.
type Config struct {
	// Driver is "sqlite" (default, file-based) or "postgres".
	Driver string
	// DSN is the sqlite file path or the postgres connection string.
	DSN string
}

// Store wraps a *gorm.DB with the typed operations the Dispatcher
// needs, implementing dispatcher.Store.
type Store struct {
	db *gorm.DB
}

// Open connects to the configured backend and runs auto-migration for
// the builds/artifacts tables and their view cache tables.
func Open(cfg Config) (*Store, error) {
	var dialector gorm.Dialector
	switch cfg.Driver {
	case "", "sqlite":
		dsn := cfg.DSN
		if dsn == "" {
			dsn = "basin.db"
		}
		dialector = sqlite.Open(dsn)
	case "postgres":
		dialector = postgres.Open(cfg.DSN)
	default:
		return nil, fmt.Errorf("store: unsupported driver %q", cfg.Driver)
	}

	db, err := gorm.Open(dialector, &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	if err != nil {
		return nil, fmt.Errorf("store: open: %w", err)
	}

	if err := db.AutoMigrate(
		&Build{}, &Artifact{},
		&buildTimeChangeRow{}, &buildsPerDayRow{}, &lowPassRateRow{},
		&timePerJobRow{}, &resultChangedRow{}, &buildsPerJobRow{},
	); err != nil {
		return nil, fmt.Errorf("store: migrate: %w", err)
	}

	return &Store{db: db}, nil
}

// Close releases the underlying connection pool.
func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// QueueBuild inserts a new `builds` row with only queued_at set.
func (s *Store) QueueBuild(ctx context.Context, r *run.Run) error {
	b := Build{
		GUID:     newGUID(),
		Name:     r.JobName,
		Number:   r.BuildNumber,
		QueuedAt: r.QueuedAt,
		Reason:   nullableString(r.Reason),
	}
	if r.Parent.Valid {
		b.ParentJob = nullableString(r.Parent.JobName)
		pb := r.Parent.BuildNumber
		b.ParentBuild = &pb
	}
	return s.db.WithContext(ctx).Create(&b).Error
}

// StartBuild records the started_at/node transition.
func (s *Store) StartBuild(ctx context.Context, id run.Identity, contextName string, startedAt int64) error {
	return s.db.WithContext(ctx).Model(&Build{}).
		Where("name = ? AND number = ?", id.JobName, id.BuildNumber).
		Updates(map[string]any{"node": contextName, "started_at": startedAt}).Error
}

// CompleteBuild commits the final build row, the artifact batch and
// the refreshed aggregate views, all in one transaction.
func (s *Store) CompleteBuild(ctx context.Context, r *run.Run, artifacts []dispatcher.Artifact) error {
	log := r.Log()
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		result := int(r.Result)
		outputLen := int64(len(log))
		if err := tx.Model(&Build{}).
			Where("name = ? AND number = ?", r.JobName, r.BuildNumber).
			Updates(map[string]any{
				"completed_at": r.CompletedAt,
				"result":       result,
				"output":       log,
				"output_len":   outputLen,
			}).Error; err != nil {
			return err
		}

		if len(artifacts) > 0 {
			rows := make([]Artifact, len(artifacts))
			for i, a := range artifacts {
				rows[i] = Artifact{
					GUID:     newGUID(),
					Name:     r.JobName,
					Number:   r.BuildNumber,
					Filename: a.Filename,
					Filesize: a.Size,
				}
			}
			if err := tx.CreateInBatches(rows, 200).Error; err != nil {
				return err
			}
		}

		return refreshViews(tx)
	})
}

// SeedBuildNumbers returns each job's highest persisted build number,
// loaded once at startup to seed the in-memory counter.
func (s *Store) SeedBuildNumbers(ctx context.Context) (map[string]int64, error) {
	var rows []struct {
		Name string
		Max  int64
	}
	if err := s.db.WithContext(ctx).Model(&Build{}).
		Select("name, MAX(number) as max").
		Group("name").
		Scan(&rows).Error; err != nil {
		return nil, err
	}
	out := make(map[string]int64, len(rows))
	for _, r := range rows {
		out[r.Name] = r.Max
	}
	return out, nil
}

// LastResult returns the most recent terminal result for a job, used
// as the LAST_RESULT environment variable for the next recipe.
func (s *Store) LastResult(ctx context.Context, jobName string) (run.Result, bool) {
	var b Build
	err := s.db.WithContext(ctx).
		Where("name = ? AND result IS NOT NULL", jobName).
		Order("number DESC").
		First(&b).Error
	if err != nil || b.Result == nil {
		return run.ResultUnknown, false
	}
	return run.Result(*b.Result), true
}

// LastDuration returns the most recent completed build's duration,
// used to compute the `etc` (estimated completion time) field.
func (s *Store) LastDuration(ctx context.Context, jobName string) (int64, bool) {
	var b Build
	err := s.db.WithContext(ctx).
		Where("name = ? AND completed_at IS NOT NULL AND started_at IS NOT NULL", jobName).
		Order("number DESC").
		First(&b).Error
	if err != nil || b.StartedAt == nil || b.CompletedAt == nil {
		return 0, false
	}
	return *b.CompletedAt - *b.StartedAt, true
}

func nullableString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
