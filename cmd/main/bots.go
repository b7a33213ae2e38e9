package main

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"keeper-oracle/src/config"
	"keeper-oracle/src/helpers"
	"keeper-oracle/src/keeper"
	"keeper-oracle/src/logger"
	"keeper-oracle/src/metrics"
	"keeper-oracle/src/rpc"
)

// -----------------------------------------------------------------------------

// runBots runs the named keeper bots side by side until ctx is cancelled.
// Feeds and the aggregator are started only when a bot needs a market price.
func runBots(ctx context.Context, conf *config.Config, names []string, appLogger *logger.Logger) error {
	if conf.Keeper.PrivateKey == "" {
		return helpers.NewConfigurationError("PRIVATE_KEY must be set in the environment or .env", nil)
	}

	m := metrics.New()
	networkManager := setupNetwork(conf)

	client, err := rpc.NewCircuitRPCClient(conf.Keeper, networkManager, logger.NewLogger(conf, "CircuitRPC"))
	if err != nil {
		return err
	}
	client.OnCall(m.RPCCall)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	var wg sync.WaitGroup

	deps := keeper.Deps{
		RPC:              client,
		ThresholdBps:     conf.Keeper.PriceUpdateThresholdBps,
		VetoPolicy:       keeper.VetoPolicy(conf.Keeper.VetoBounds),
		TargetPuzzleHash: conf.Keeper.RewardsTargetPuzzleHash,
		Logger:           appLogger,
	}

	needsPrice := false
	for _, name := range names {
		needsPrice = needsPrice || keeper.NeedsPrice(name)
	}
	if needsPrice {
		feeds, err := setupFeeds(conf, networkManager, m, appLogger)
		if err != nil {
			return err
		}
		agg, err := setupAggregator(conf, feeds)
		if err != nil {
			return err
		}
		updater := setupRates(conf, networkManager, feeds, m)

		if err := feeds.Start(ctx, &wg); err != nil {
			return err
		}
		defer feeds.Stop()

		wg.Add(1)
		go func() {
			defer wg.Done()
			updater.Run(ctx)
		}()
		deps.Prices = agg
	}

	if conf.Keeper.MetricsAddr != "" {
		metricsServer := &http.Server{Addr: conf.Keeper.MetricsAddr, Handler: m.Handler(), ReadHeaderTimeout: 10 * time.Second}
		go func() {
			appLogger.Info("Serving bot metrics on %s", conf.Keeper.MetricsAddr)
			if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				appLogger.Error("Metrics server failed: %v", err)
			}
		}()
		defer metricsServer.Close()
	}

	for _, name := range names {
		bot, err := keeper.NewBot(name, deps)
		if err != nil {
			cancel()
			wg.Wait()
			return err
		}
		runner, err := keeper.NewRunner(bot, conf.Keeper.Bots[name], logger.NewLogger(conf, name))
		if err != nil {
			cancel()
			wg.Wait()
			return err
		}
		runner.OnRun(m.BotRun)

		wg.Add(1)
		go func() {
			defer wg.Done()
			runner.Run(ctx)
		}()
	}

	appLogger.Info("Running %d keeper bots against %s", len(names), conf.Keeper.RPCURL)
	<-ctx.Done()
	wg.Wait()
	appLogger.Info("Keeper bots stopped.")
	return nil
}
