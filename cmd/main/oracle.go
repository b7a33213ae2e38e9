package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"sync"
	"time"

	"keeper-oracle/src/aggregator"
	"keeper-oracle/src/config"
	"keeper-oracle/src/helpers"
	"keeper-oracle/src/interfaces"
	"keeper-oracle/src/logger"
	"keeper-oracle/src/metrics"
	"keeper-oracle/src/models"
	"keeper-oracle/src/rates"
	"keeper-oracle/src/server"
	"keeper-oracle/src/storage"
)

const shutdownTimeout = 10 * time.Second

// -----------------------------------------------------------------------------

// runOracle runs the feeds, the aggregation loop, storage and the servers
// until ctx is cancelled.
func runOracle(ctx context.Context, conf *config.Config, configPath string, appLogger *logger.Logger) error {
	m := metrics.New()
	networkManager := setupNetwork(conf)

	feeds, err := setupFeeds(conf, networkManager, m, appLogger)
	if err != nil {
		return err
	}
	agg, err := setupAggregator(conf, feeds)
	if err != nil {
		return err
	}
	updater := setupRates(conf, networkManager, feeds, m)

	// Storage is optional
	var db interfaces.IDatabase
	var retention *storage.RetentionScheduler
	if conf.Storage.Enabled {
		if db, err = setupDatabase(conf, appLogger); err != nil {
			return err
		}
		defer db.Close()

		if err := db.RegisterFeeds(ctx, feeds.Statuses()); err != nil {
			appLogger.Warning("Failed to register feeds: %v", err)
		}
		retention, err = storage.NewRetentionScheduler(db, conf.Storage.CleanupSchedule, logger.NewLogger(conf, "Retention"))
		if err != nil {
			return err
		}
		retention.Start()
	}

	opts := []server.Option{
		server.WithMetrics(m.Handler()),
		server.WithParametersHook(persistParameters(conf, configPath)),
	}
	if db != nil {
		opts = append(opts, server.WithDatabase(db))
	}
	srv := server.NewAPIServer(conf.MConfig, feeds, logger.NewLogger(conf, "Server"), opts...)

	running, err := startServers(srv, feeds, conf, configPath, appLogger)
	if err != nil {
		return err
	}

	// Lifecycle Management
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var wg sync.WaitGroup
	if err := feeds.Start(ctx, &wg); err != nil {
		appLogger.Error("Failed to start feeds: %v", err)
		cancel()
		wg.Wait()
		running.stop(shutdownTimeout, appLogger)
		return err
	}

	wg.Add(1)
	go func() {
		defer wg.Done()
		updater.Run(ctx)
	}()

	appLogger.Info("Starting aggregation loop every %ds...", conf.Aggregator.IntervalSeconds)
	runDataLoop(ctx, agg, updater, db, srv, m, conf, appLogger)

	// Shutdown
	appLogger.Info("Waiting for feeds to stop...")
	feeds.Stop()
	wg.Wait()
	if retention != nil {
		stopCtx, stopCancel := context.WithTimeout(context.Background(), shutdownTimeout)
		retention.Stop(stopCtx)
		stopCancel()
	}
	running.stop(shutdownTimeout, appLogger)
	appLogger.Info("Shutdown complete.")
	return nil
}

// -----------------------------------------------------------------------------

// runDataLoop aggregates once per interval and fans each cycle out to the
// metrics, the database and the websocket subscribers.
func runDataLoop(
	ctx context.Context,
	agg *aggregator.PriceAggregator,
	updater *rates.UsdtUsdRateUpdater,
	db interfaces.IDatabase,
	srv interfaces.IDataExchanger,
	m *metrics.Metrics,
	conf *config.Config,
	appLogger *logger.Logger,
) {
	errorHandler := helpers.NewErrorHandler(appLogger)
	ticker := time.NewTicker(time.Duration(conf.Aggregator.IntervalSeconds) * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		start := time.Now()
		cycle, err := agg.Aggregate(ctx)
		took := time.Since(start)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			m.CycleFailed()
			errorHandler.Handle(err, "aggregation")
			continue
		}
		m.ObserveCycle(cycle, took)

		if db != nil {
			if err := errorHandler.ExecuteWithRetry(ctx, "save cycle", func() error {
				return db.SaveCycle(ctx, cycle)
			}, 3); err != nil && ctx.Err() == nil {
				appLogger.Error("Dropping cycle %s: %v", cycle.ID, err)
			}
		}

		srv.Broadcast(latestData(cycle, updater, took))

		if errorHandler.TooManyErrors() {
			appLogger.Warning("%d consecutive storage errors", errorHandler.ErrorCount)
		}
	}
}

// latestData builds the websocket/REST payload for one cycle.
func latestData(cycle models.MAggregationCycle, updater *rates.UsdtUsdRateUpdater, took time.Duration) *models.MLatestData {
	data := &models.MLatestData{
		Type:      "UPDATE",
		Cycle:     &cycle,
		Timestamp: cycle.Timestamp,
		ProcessingMetrics: models.MProcessingMetrics{
			AggregationTimeSeconds: took.Seconds(),
			ValidFeeds:             cycle.ValidFeeds,
			FeedsPolled:            cycle.TotalFeeds,
		},
	}
	if !math.IsNaN(cycle.Price) {
		price := cycle.Price
		data.Price = &price
	}
	if rate, ok := updater.Rate(); ok {
		data.UsdtUsdRate = &rate
	}
	return data
}

// -----------------------------------------------------------------------------

// runPrice starts the feeds, waits for the first valid aggregate and prints
// the cycle as JSON.
func runPrice(ctx context.Context, conf *config.Config, out io.Writer, appLogger *logger.Logger) error {
	// A one-shot price has no startup window to wait out.
	noStartup := 0.0
	for i := range conf.Feeds {
		conf.Feeds[i].StartupWindowSec = &noStartup
	}
	networkManager := setupNetwork(conf)
	m := metrics.New()

	feeds, err := setupFeeds(conf, networkManager, m, appLogger)
	if err != nil {
		return err
	}
	agg, err := setupAggregator(conf, feeds)
	if err != nil {
		return err
	}
	updater := setupRates(conf, networkManager, feeds, m)

	ctx, cancel := context.WithTimeout(ctx, priceWaitTimeout)
	defer cancel()

	var wg sync.WaitGroup
	defer func() {
		cancel()
		feeds.Stop()
		wg.Wait()
	}()
	if err := feeds.Start(ctx, &wg); err != nil {
		return err
	}
	wg.Add(1)
	go func() {
		defer wg.Done()
		updater.Run(ctx)
	}()

	for {
		if err := helpers.SleepContext(ctx, time.Second); err != nil {
			return fmt.Errorf("no valid price within %s: %w", priceWaitTimeout, err)
		}
		cycle, err := agg.Aggregate(ctx)
		if err != nil || math.IsNaN(cycle.Price) {
			continue
		}
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(cycle)
	}
}

const priceWaitTimeout = 60 * time.Second
