package storage

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"keeper-oracle/src/logger"
	"keeper-oracle/src/models"

	_ "modernc.org/sqlite"
)

// -----------------------------------------------------------------------------

type AsyncSQLiteDB struct {
	Config *models.MStorageConfig
	DB     *sql.DB
	Logger *logger.Logger

	store *cycleStore
}

// -----------------------------------------------------------------------------

func NewAsyncSQLiteDB(cfg *models.MStorageConfig, log *logger.Logger) (*AsyncSQLiteDB, error) {
	if cfg == nil || cfg.DBPath == "" {
		return nil, fmt.Errorf("sqlite storage requires db_path")
	}
	if log == nil {
		log = logger.NewLogger(nil, "SQLite")
	}
	return &AsyncSQLiteDB{
		Config: cfg,
		Logger: log,
	}, nil
}

// -----------------------------------------------------------------------------

func (d *AsyncSQLiteDB) Initialize() error {
	db, err := sql.Open("sqlite", d.Config.DBPath)
	if err != nil {
		return err
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return err
	}

	d.DB = db

	// PRAGMA optimizations
	if _, err := db.Exec("PRAGMA journal_mode = WAL;"); err != nil {
		d.Logger.Warning("Failed to set WAL mode: %v", err)
	}
	if _, err := db.Exec("PRAGMA synchronous = NORMAL;"); err != nil {
		d.Logger.Warning("Failed to set synchronous mode: %v", err)
	}
	if _, err := db.Exec("PRAGMA busy_timeout = 5000;"); err != nil {
		d.Logger.Warning("Failed to set busy timeout: %v", err)
	}

	if err := d.createTables(); err != nil {
		return err
	}

	d.store = &cycleStore{
		db:            db,
		table:         func(name string) string { return name },
		placeholder:   func(int) string { return "?" },
		retentionDays: d.Config.RetentionDays,
		logger:        d.Logger,
		now:           time.Now,
	}

	d.Logger.Info("SQLite initialized at %s", d.Config.DBPath)
	return nil
}

// -----------------------------------------------------------------------------

func (d *AsyncSQLiteDB) createTables() error {
	// SQLite types: INTEGER for int64 and bool, REAL for float64, TEXT for string
	statements := []string{
		`CREATE TABLE IF NOT EXISTS cycles (
			id TEXT PRIMARY KEY,
			ts INTEGER NOT NULL,
			price REAL,
			method TEXT NOT NULL,
			valid_feeds INTEGER NOT NULL,
			total_feeds INTEGER NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_cycles_ts ON cycles (ts);`,
		`CREATE TABLE IF NOT EXISTS feed_snapshots (
			cycle_id TEXT NOT NULL,
			feed TEXT NOT NULL,
			price REAL,
			trades INTEGER,
			effective_trades REAL,
			weight REAL,
			stale INTEGER,
			startup INTEGER,
			degraded INTEGER,
			volume_capped INTEGER,
			weight_capped INTEGER,
			deviation_flagged INTEGER,
			window_sec REAL,
			meta_ts INTEGER,
			PRIMARY KEY (cycle_id, feed)
		);`,
		`CREATE TABLE IF NOT EXISTS feeds (
			name TEXT PRIMARY KEY,
			exchange TEXT,
			pairs TEXT,
			window_sec REAL,
			startup_window_sec REAL,
			min_notional REAL,
			updated_at INTEGER
		);`,
	}
	for _, q := range statements {
		if _, err := d.DB.Exec(q); err != nil {
			return fmt.Errorf("failed to create sqlite schema: %w", err)
		}
	}
	return nil
}

// -----------------------------------------------------------------------------

func (d *AsyncSQLiteDB) RegisterFeeds(ctx context.Context, feeds []models.MFeedStatus) error {
	return d.store.registerFeeds(ctx, feeds)
}

func (d *AsyncSQLiteDB) SaveCycle(ctx context.Context, cycle models.MAggregationCycle) error {
	return d.store.saveCycle(ctx, cycle)
}

func (d *AsyncSQLiteDB) LatestCycles(ctx context.Context, limit int) ([]models.MAggregationCycle, error) {
	return d.store.latestCycles(ctx, limit)
}

func (d *AsyncSQLiteDB) CleanupOldData() error {
	return d.store.cleanup()
}

// -----------------------------------------------------------------------------

func (d *AsyncSQLiteDB) Close() error {
	if d.DB != nil {
		return d.DB.Close()
	}
	return nil
}
