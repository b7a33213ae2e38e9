package storage

import (
	"context"
	"database/sql"
	"fmt"
	"math"
	"strings"
	"time"

	"keeper-oracle/src/logger"
	"keeper-oracle/src/models"
	"keeper-oracle/src/utils"
)

// -----------------------------------------------------------------------------
// cycleStore holds the SQL shared by the SQLite and Postgres backends. The
// dialects differ only in table qualification and placeholders.
// -----------------------------------------------------------------------------

type cycleStore struct {
	db            *sql.DB
	table         func(name string) string
	placeholder   func(n int) string
	retentionDays int
	logger        *logger.Logger
	now           func() time.Time
}

func (s *cycleStore) args(from, count int) string {
	out := make([]string, count)
	for i := range out {
		out[i] = s.placeholder(from + i)
	}
	return strings.Join(out, ", ")
}

func nullable(v float64) sql.NullFloat64 {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: v, Valid: true}
}

func orNaN(v sql.NullFloat64) float64 {
	if !v.Valid {
		return math.NaN()
	}
	return v.Float64
}

// -----------------------------------------------------------------------------

func (s *cycleStore) registerFeeds(ctx context.Context, feeds []models.MFeedStatus) error {
	if len(feeds) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	query := fmt.Sprintf(`
		INSERT INTO %s (name, exchange, pairs, window_sec, startup_window_sec, min_notional, updated_at)
		VALUES (%s)
		ON CONFLICT (name) DO UPDATE SET
			exchange = EXCLUDED.exchange,
			pairs = EXCLUDED.pairs,
			window_sec = EXCLUDED.window_sec,
			startup_window_sec = EXCLUDED.startup_window_sec,
			min_notional = EXCLUDED.min_notional,
			updated_at = EXCLUDED.updated_at
	`, s.table("feeds"), s.args(1, 7))

	stmt, err := tx.PrepareContext(ctx, query)
	if err != nil {
		return err
	}
	defer stmt.Close()

	updatedAt := utils.NowMs(s.now())
	for _, f := range feeds {
		_, err := stmt.ExecContext(ctx, f.Name, f.Exchange, strings.Join(f.Pairs, ","),
			f.WindowSec, f.StartupWindowSec, f.MinNotional, updatedAt)
		if err != nil {
			return err
		}
	}

	return tx.Commit()
}

// -----------------------------------------------------------------------------

func (s *cycleStore) saveCycle(ctx context.Context, c models.MAggregationCycle) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	query := fmt.Sprintf(`
		INSERT INTO %s (id, ts, price, method, valid_feeds, total_feeds)
		VALUES (%s)
	`, s.table("cycles"), s.args(1, 6))
	if _, err := tx.ExecContext(ctx, query, c.ID, c.Timestamp, nullable(c.Price), c.Method, c.ValidFeeds, c.TotalFeeds); err != nil {
		return fmt.Errorf("insert cycle %s: %w", c.ID, err)
	}

	if len(c.Feeds) > 0 {
		query = fmt.Sprintf(`
			INSERT INTO %s (cycle_id, feed, price, trades, effective_trades, weight,
				stale, startup, degraded, volume_capped, weight_capped, deviation_flagged, window_sec, meta_ts)
			VALUES (%s)
		`, s.table("feed_snapshots"), s.args(1, 14))

		stmt, err := tx.PrepareContext(ctx, query)
		if err != nil {
			return err
		}
		defer stmt.Close()

		for _, f := range c.Feeds {
			_, err := stmt.ExecContext(ctx, c.ID, f.Feed, nullable(f.Price), f.Trades, f.EffectiveTrades, f.Weight,
				f.Metadata.Stale, f.Metadata.Startup, f.Metadata.Degraded,
				f.VolumeCapped, f.WeightCapped, f.DeviationFlagged, f.Metadata.Window, f.Metadata.Ts)
			if err != nil {
				return fmt.Errorf("insert snapshot %s/%s: %w", c.ID, f.Feed, err)
			}
		}
	}

	return tx.Commit()
}

// -----------------------------------------------------------------------------

func (s *cycleStore) latestCycles(ctx context.Context, limit int) ([]models.MAggregationCycle, error) {
	if limit <= 0 {
		return nil, nil
	}

	query := fmt.Sprintf(`
		SELECT id, ts, price, method, valid_feeds, total_feeds
		FROM %s ORDER BY ts DESC LIMIT %s
	`, s.table("cycles"), s.placeholder(1))
	rows, err := s.db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, err
	}

	var cycles []models.MAggregationCycle
	for rows.Next() {
		var c models.MAggregationCycle
		var price sql.NullFloat64
		if err := rows.Scan(&c.ID, &c.Timestamp, &price, &c.Method, &c.ValidFeeds, &c.TotalFeeds); err != nil {
			rows.Close()
			return nil, err
		}
		c.Price = orNaN(price)
		c.CreatedAt = time.UnixMilli(c.Timestamp).UTC()
		cycles = append(cycles, c)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, err
	}
	rows.Close()

	for i := range cycles {
		feeds, err := s.snapshots(ctx, cycles[i].ID)
		if err != nil {
			return nil, err
		}
		cycles[i].Feeds = feeds
	}
	return cycles, nil
}

func (s *cycleStore) snapshots(ctx context.Context, cycleID string) ([]models.MFeedSnapshot, error) {
	query := fmt.Sprintf(`
		SELECT feed, price, trades, effective_trades, weight,
			stale, startup, degraded, volume_capped, weight_capped, deviation_flagged, window_sec, meta_ts
		FROM %s WHERE cycle_id = %s ORDER BY feed
	`, s.table("feed_snapshots"), s.placeholder(1))
	rows, err := s.db.QueryContext(ctx, query, cycleID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.MFeedSnapshot
	for rows.Next() {
		var f models.MFeedSnapshot
		var price sql.NullFloat64
		err := rows.Scan(&f.Feed, &price, &f.Trades, &f.EffectiveTrades, &f.Weight,
			&f.Metadata.Stale, &f.Metadata.Startup, &f.Metadata.Degraded,
			&f.VolumeCapped, &f.WeightCapped, &f.DeviationFlagged, &f.Metadata.Window, &f.Metadata.Ts)
		if err != nil {
			return nil, err
		}
		f.Price = orNaN(price)
		f.Metadata.Trades = f.Trades
		out = append(out, f)
	}
	return out, rows.Err()
}

// -----------------------------------------------------------------------------

func (s *cycleStore) cleanup() error {
	retentionDays := s.retentionDays
	if retentionDays <= 0 {
		retentionDays = utils.DefaultRetentionDays
	}
	cutoff := utils.NowMs(s.now().UTC().AddDate(0, 0, -retentionDays))

	s.logger.Info("Cleaning up cycles older than %d days (ts < %d)...", retentionDays, cutoff)

	query := fmt.Sprintf(`DELETE FROM %s WHERE cycle_id IN (SELECT id FROM %s WHERE ts < %s)`,
		s.table("feed_snapshots"), s.table("cycles"), s.placeholder(1))
	if _, err := s.db.Exec(query, cutoff); err != nil {
		return fmt.Errorf("cleanup feed_snapshots: %w", err)
	}

	res, err := s.db.Exec(fmt.Sprintf(`DELETE FROM %s WHERE ts < %s`, s.table("cycles"), s.placeholder(1)), cutoff)
	if err != nil {
		return fmt.Errorf("cleanup cycles: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil {
		s.logger.Info("Cleanup completed, %d cycles removed", n)
	}
	return nil
}
