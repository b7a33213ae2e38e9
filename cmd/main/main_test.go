package main

import (
	"math"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"keeper-oracle/src/config"
	"keeper-oracle/src/logger"
	"keeper-oracle/src/metrics"
	"keeper-oracle/src/models"
	"keeper-oracle/src/rates"
)

func TestRootCommands(t *testing.T) {
	root := newRootCmd()
	for _, use := range []string{"oracle", "bot", "price", "status"} {
		cmd, _, err := root.Find([]string{use})
		require.NoError(t, err, use)
		assert.Equal(t, use, cmd.Name())
	}

	flag := root.PersistentFlags().Lookup("config")
	require.NotNil(t, flag)
	assert.Equal(t, "config/default.yaml", flag.DefValue)
}

func TestBotCommandRejectsUnknownBot(t *testing.T) {
	root := newRootCmd()
	root.SetArgs([]string{"bot", "moon_landing"})
	assert.Error(t, root.Execute())
}

func TestLatestData(t *testing.T) {
	updater := rates.NewUsdtUsdRateUpdater(models.MRatesConfig{}, nil, logger.Nop())

	cycle := models.MAggregationCycle{Timestamp: 1700000000000, Price: math.NaN(), ValidFeeds: 1, TotalFeeds: 3}
	data := latestData(cycle, updater, 20*time.Millisecond)
	assert.Equal(t, "UPDATE", data.Type)
	assert.Nil(t, data.Price)
	assert.Nil(t, data.UsdtUsdRate)
	assert.Equal(t, 3, data.ProcessingMetrics.FeedsPolled)
	assert.InDelta(t, 0.02, data.ProcessingMetrics.AggregationTimeSeconds, 1e-9)

	cycle.Price = 31.25
	data = latestData(cycle, updater, time.Millisecond)
	require.NotNil(t, data.Price)
	assert.Equal(t, 31.25, *data.Price)
}

func TestPersistParametersWritesConfig(t *testing.T) {
	conf, err := config.Parse([]byte("name: test\n"), nil)
	require.NoError(t, err)
	path := filepath.Join(t.TempDir(), "live.yaml")

	persist := persistParameters(conf, path)
	notional := 42.0
	require.NoError(t, persist("OKX", models.MFeedParameters{MinNotional: &notional}))

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	reloaded, err := config.Parse(raw, nil)
	require.NoError(t, err)
	require.NotNil(t, reloaded.Feeds[0].MinNotional)
	assert.Equal(t, 42.0, *reloaded.Feeds[0].MinNotional)

	assert.Error(t, persist("Binance", models.MFeedParameters{MinNotional: &notional}))
}

func TestSetupErrorsReturnToCaller(t *testing.T) {
	conf, err := config.Parse([]byte("name: test\n"), nil)
	require.NoError(t, err)

	for i := range conf.Feeds {
		conf.Feeds[i].Enabled = false
	}
	_, err = setupFeeds(conf, setupNetwork(conf), metrics.New(), logger.Nop())
	assert.Error(t, err)

	conf.Feeds[0].Enabled = true
	conf.Feeds[0].Exchange = "binance"
	_, err = setupFeeds(conf, setupNetwork(conf), metrics.New(), logger.Nop())
	assert.Error(t, err)

	conf.Storage.DBType = "sqlite"
	conf.Storage.DBPath = ""
	_, err = setupDatabase(conf, logger.Nop())
	assert.Error(t, err)
}
