package storage

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"keeper-oracle/src/logger"
	"keeper-oracle/src/models"

	_ "github.com/lib/pq"
)

// -----------------------------------------------------------------------------

type PostgresDB struct {
	Config *models.MStorageConfig
	DB     *sql.DB
	Schema string
	Logger *logger.Logger

	store *cycleStore
}

// -----------------------------------------------------------------------------

// NewPostgresDB stores everything in a schema named after the executable.
func NewPostgresDB(cfg *models.MStorageConfig, log *logger.Logger) (*PostgresDB, error) {
	if cfg == nil || cfg.DBConnectionString == "" {
		return nil, fmt.Errorf("postgres storage requires db_connection_string")
	}
	if log == nil {
		log = logger.NewLogger(nil, "Postgres")
	}

	exe, err := os.Executable()
	if err != nil {
		return nil, fmt.Errorf("failed to get executable name: %w", err)
	}
	name := filepath.Base(exe)
	name = strings.TrimSuffix(name, filepath.Ext(name))

	return &PostgresDB{
		Config: cfg,
		Schema: name,
		Logger: log,
	}, nil
}

// -----------------------------------------------------------------------------

func (d *PostgresDB) Initialize() error {
	db, err := sql.Open("postgres", d.Config.DBConnectionString)
	if err != nil {
		return err
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return err
	}

	d.DB = db

	if _, err := d.DB.Exec(fmt.Sprintf(`CREATE SCHEMA IF NOT EXISTS "%s"`, d.Schema)); err != nil {
		return fmt.Errorf("failed to create schema %s: %w", d.Schema, err)
	}

	if err := d.createTables(); err != nil {
		return err
	}

	d.store = &cycleStore{
		db:            db,
		table:         d.table,
		placeholder:   func(n int) string { return fmt.Sprintf("$%d", n) },
		retentionDays: d.Config.RetentionDays,
		logger:        d.Logger,
		now:           time.Now,
	}

	d.Logger.Info("PostgresDB initialized successfully (Schema: %s)", d.Schema)
	return nil
}

func (d *PostgresDB) table(name string) string {
	return fmt.Sprintf(`"%s"."%s"`, d.Schema, name)
}

// -----------------------------------------------------------------------------

func (d *PostgresDB) createTables() error {
	statements := []string{
		fmt.Sprintf(`
			CREATE TABLE IF NOT EXISTS %s (
				id UUID PRIMARY KEY,
				ts BIGINT NOT NULL,
				price DOUBLE PRECISION,
				method TEXT NOT NULL,
				valid_feeds INTEGER NOT NULL,
				total_feeds INTEGER NOT NULL
			);`, d.table("cycles")),
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS cycles_ts_idx ON %s (ts);`, d.table("cycles")),
		fmt.Sprintf(`
			CREATE TABLE IF NOT EXISTS %s (
				cycle_id UUID NOT NULL,
				feed TEXT NOT NULL,
				price DOUBLE PRECISION,
				trades INTEGER,
				effective_trades DOUBLE PRECISION,
				weight DOUBLE PRECISION,
				stale BOOLEAN,
				startup BOOLEAN,
				degraded BOOLEAN,
				volume_capped BOOLEAN,
				weight_capped BOOLEAN,
				deviation_flagged BOOLEAN,
				window_sec DOUBLE PRECISION,
				meta_ts BIGINT,
				PRIMARY KEY (cycle_id, feed)
			);`, d.table("feed_snapshots")),
		fmt.Sprintf(`
			CREATE TABLE IF NOT EXISTS %s (
				name TEXT PRIMARY KEY,
				exchange TEXT,
				pairs TEXT,
				window_sec DOUBLE PRECISION,
				startup_window_sec DOUBLE PRECISION,
				min_notional DOUBLE PRECISION,
				updated_at BIGINT
			);`, d.table("feeds")),
	}
	for _, q := range statements {
		if _, err := d.DB.Exec(q); err != nil {
			return fmt.Errorf("failed to create postgres schema: %w", err)
		}
	}
	return nil
}

// -----------------------------------------------------------------------------

func (d *PostgresDB) RegisterFeeds(ctx context.Context, feeds []models.MFeedStatus) error {
	return d.store.registerFeeds(ctx, feeds)
}

func (d *PostgresDB) SaveCycle(ctx context.Context, cycle models.MAggregationCycle) error {
	return d.store.saveCycle(ctx, cycle)
}

func (d *PostgresDB) LatestCycles(ctx context.Context, limit int) ([]models.MAggregationCycle, error) {
	return d.store.latestCycles(ctx, limit)
}

func (d *PostgresDB) CleanupOldData() error {
	return d.store.cleanup()
}

// -----------------------------------------------------------------------------

func (d *PostgresDB) Close() error {
	if d.DB != nil {
		return d.DB.Close()
	}
	return nil
}
