package main

import (
	"fmt"

	"keeper-oracle/src/aggregator"
	"keeper-oracle/src/config"
	datasource "keeper-oracle/src/data_source"
	"keeper-oracle/src/data_source/gate"
	"keeper-oracle/src/data_source/kucoin"
	"keeper-oracle/src/data_source/okx"
	"keeper-oracle/src/interfaces"
	"keeper-oracle/src/logger"
	"keeper-oracle/src/metrics"
	"keeper-oracle/src/network"
	"keeper-oracle/src/oracle"
	"keeper-oracle/src/rates"
	"keeper-oracle/src/storage"
)

// -----------------------------------------------------------------------------

// setupDatabase initializes the database connection based on config
func setupDatabase(conf *config.Config, appLogger *logger.Logger) (interfaces.IDatabase, error) {
	var db interfaces.IDatabase
	var err error

	switch conf.Storage.DBType {
	case "postgres":
		db, err = storage.NewPostgresDB(&conf.Storage, logger.NewLogger(conf, "PostgresDB"))
	default:
		db, err = storage.NewAsyncSQLiteDB(&conf.Storage, logger.NewLogger(conf, "SQLiteDB"))
	}

	if err != nil {
		appLogger.Error("Failed to init db: %v", err)
		return nil, err
	}
	if err := db.Initialize(); err != nil {
		appLogger.Error("Failed to migrate db: %v", err)
		db.Close()
		return nil, err
	}
	return db, nil
}

// -----------------------------------------------------------------------------

// setupNetwork initializes the network manager
func setupNetwork(conf *config.Config) interfaces.INetworkManager {
	return network.NewAsyncNetworkManager(&conf.Network, logger.NewLogger(conf, "NetworkManager"))
}

// -----------------------------------------------------------------------------

// setupFeeds builds every enabled exchange feed and wraps them in a manager
func setupFeeds(conf *config.Config, nm interfaces.INetworkManager, m *metrics.Metrics, appLogger *logger.Logger) (*datasource.MultiSourceManager, error) {
	var feeds []interfaces.IExchangeFeed
	appLogger.Info("Initializing exchange feeds...")

	for _, feedCfg := range conf.EnabledFeeds() {
		feedLogger := logger.NewLogger(conf, feedCfg.Name)
		opts := []datasource.FeedOption{
			datasource.WithOracleOptions(oracle.WithLogger(feedLogger), oracle.WithDropHook(m.DropHook(feedCfg.Name))),
			datasource.WithReconnectHook(m.ReconnectHook(feedCfg.Name)),
		}

		var feed *datasource.BaseFeed
		var err error
		switch feedCfg.Exchange {
		case "okx":
			feed, err = okx.NewFeed(feedCfg, feedLogger, opts...)
		case "gate":
			feed, err = gate.NewFeed(feedCfg, feedLogger, opts...)
		case "kucoin":
			feed, err = kucoin.NewFeed(feedCfg, nm, feedLogger, opts...)
		default:
			err = fmt.Errorf("unknown exchange %q", feedCfg.Exchange)
		}
		if err != nil {
			appLogger.Error("Failed to build feed %s: %v", feedCfg.Name, err)
			return nil, err
		}

		feeds = append(feeds, feed)
		appLogger.Info("Added feed: %s (%s) pairs=%v", feedCfg.Name, feedCfg.Exchange, feedCfg.Pairs)
	}

	if len(feeds) == 0 {
		appLogger.Error("No exchange feeds enabled. Exiting.")
		return nil, fmt.Errorf("no enabled feeds")
	}

	appLogger.Info("Initializing MultiSourceManager for %d feeds.", len(feeds))
	return datasource.NewMultiSourceManager(feeds, logger.NewLogger(conf, "MultiSourceManager")), nil
}

// -----------------------------------------------------------------------------

// setupAggregator builds the price aggregator over the manager's feeds
func setupAggregator(conf *config.Config, feeds *datasource.MultiSourceManager) (*aggregator.PriceAggregator, error) {
	return aggregator.NewPriceAggregator(feeds.PriceSources(), conf.Aggregator, logger.NewLogger(conf, "PriceAggregator"))
}

// -----------------------------------------------------------------------------

// setupRates wires the USDT/USD updater into the feeds and the metrics
func setupRates(conf *config.Config, nm interfaces.INetworkManager, feeds *datasource.MultiSourceManager, m *metrics.Metrics) *rates.UsdtUsdRateUpdater {
	updater := rates.NewUsdtUsdRateUpdater(conf.Rates, nm, logger.NewLogger(conf, "UsdtUsdRate"))
	updater.Subscribe(func(rate float64) {
		feeds.SetUsdtUsdRate(rate)
		m.SetUsdtUsdRate(rate)
	})
	updater.OnFailure(m.RateFailure)
	return updater
}
